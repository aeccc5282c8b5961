// Package hpke implements RFC 5869 HKDF key derivation and RFC 9180
// Hybrid Public Key Encryption, shared by mdoc session-key derivation
// (pkg/mdoc) and the W3C DC API response envelope (internal/dcapi).
package hpke

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"mdoccore/pkg/crypto"
	"mdoccore/pkg/model"

	"golang.org/x/crypto/hkdf"
)

func hashNew(alg crypto.DigestAlg) (func() hash.Hash, error) {
	switch alg {
	case crypto.SHA256:
		return sha256.New, nil
	case crypto.SHA384:
		return sha512.New384, nil
	case crypto.SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: hkdf hash %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

// Extract performs the HKDF-Extract step (RFC 5869 §2.2): it computes
// the pseudorandom key from salt and ikm.
func Extract(alg crypto.DigestAlg, salt, ikm []byte) ([]byte, error) {
	newFn, err := hashNew(alg)
	if err != nil {
		return nil, err
	}
	return hkdf.Extract(newFn, ikm, salt), nil
}

// Expand performs the HKDF-Expand step (RFC 5869 §2.3): it stretches
// prk into length bytes of output keying material bound to info.
func Expand(alg crypto.DigestAlg, prk, info []byte, length int) ([]byte, error) {
	newFn, err := hashNew(alg)
	if err != nil {
		return nil, err
	}
	reader := hkdf.Expand(newFn, prk, info)
	okm := make([]byte, length)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, err
	}
	return okm, nil
}

// DeriveKey runs the full HKDF-Extract-then-Expand pipeline in one
// call, the shape pkg/mdoc's session-key derivation and HPKE's key
// schedule both need.
func DeriveKey(alg crypto.DigestAlg, secret, salt, info []byte, length int) ([]byte, error) {
	prk, err := Extract(alg, salt, secret)
	if err != nil {
		return nil, err
	}
	return Expand(alg, prk, info, length)
}
