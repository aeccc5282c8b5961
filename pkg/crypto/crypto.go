// Package crypto implements the core cryptographic primitives: digest,
// MAC, AEAD, signing and key agreement. It is the shared foundation used
// by pkg/hpke and the mdoc wire codec in pkg/mdoc.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"
	"math/big"

	"mdoccore/pkg/model"

	"github.com/cloudflare/circl/sign/ed448"
)

// DigestAlg identifies a supported hash algorithm.
type DigestAlg string

const (
	SHA256 DigestAlg = "SHA-256"
	SHA384 DigestAlg = "SHA-384"
	SHA512 DigestAlg = "SHA-512"
)

func newHash(alg DigestAlg) (func() hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New, nil
	case SHA384:
		return sha512.New384, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: digest %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

// Digest computes the hash of msg under alg.
func Digest(alg DigestAlg, msg []byte) ([]byte, error) {
	newFn, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h := newFn()
	h.Write(msg)
	return h.Sum(nil), nil
}

// MACAlg identifies a supported HMAC algorithm.
type MACAlg string

const (
	HMAC256 MACAlg = "HMAC-SHA256"
	HMAC384 MACAlg = "HMAC-SHA384"
	HMAC512 MACAlg = "HMAC-SHA512"
)

func macHash(alg MACAlg) (func() hash.Hash, error) {
	switch alg {
	case HMAC256:
		return sha256.New, nil
	case HMAC384:
		return sha512.New384, nil
	case HMAC512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: mac %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

// MAC computes an HMAC over msg with key under alg.
func MAC(alg MACAlg, key, msg []byte) ([]byte, error) {
	newFn, err := macHash(alg)
	if err != nil {
		return nil, err
	}
	m := hmac.New(newFn, key)
	m.Write(msg)
	return m.Sum(nil), nil
}

// AEADAlg identifies a supported AEAD cipher.
type AEADAlg string

const (
	A128GCM AEADAlg = "A128GCM"
	A192GCM AEADAlg = "A192GCM"
	A256GCM AEADAlg = "A256GCM"
)

const gcmNonceLen = 12

func keyLenFor(alg AEADAlg) (int, error) {
	switch alg {
	case A128GCM:
		return 16, nil
	case A192GCM:
		return 24, nil
	case A256GCM:
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: aead %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

func newGCM(alg AEADAlg, key []byte) (cipher.AEAD, error) {
	wantLen, err := keyLenFor(alg)
	if err != nil {
		return nil, err
	}
	if len(key) != wantLen {
		return nil, fmt.Errorf("%w: %s requires a %d byte key, got %d", model.ErrUnsupportedAlgorithm, alg, wantLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with the given AEAD alg, key and 12 byte nonce,
// authenticating aad (which may be nil/empty).
func Encrypt(alg AEADAlg, key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != gcmNonceLen {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", model.ErrInvalidEncoding, gcmNonceLen, len(nonce))
	}
	aead, err := newGCM(alg, key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext sealed by Encrypt. A tag mismatch or malformed
// input is reported as model.ErrDecrypt.
func Decrypt(alg AEADAlg, key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != gcmNonceLen {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", model.ErrInvalidEncoding, gcmNonceLen, len(nonce))
	}
	aead, err := newGCM(alg, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrDecrypt, err)
	}
	return plaintext, nil
}

// SignAlg identifies a supported signature algorithm.
type SignAlg string

const (
	ES256      SignAlg = "ES256"
	ES384      SignAlg = "ES384"
	ES512      SignAlg = "ES512"
	Ed25519Alg SignAlg = "Ed25519"
	Ed448Alg   SignAlg = "Ed448"
)

type ecdsaSig struct {
	R, S *big.Int
}

// Sign signs msg with privateKey under alg. ECDSA signatures are
// DER-encoded; EdDSA signatures are the raw R‖S concatenation.
func Sign(privateKey any, alg SignAlg, msg []byte) ([]byte, error) {
	switch alg {
	case ES256, ES384, ES512:
		key, ok := privateKey.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires an ECDSA key", model.ErrUnsupportedAlgorithm, alg)
		}
		if err := checkCurveMatchesAlg(key.Curve, alg); err != nil {
			return nil, err
		}
		digest, err := digestFor(alg, msg)
		if err != nil {
			return nil, err
		}
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		return asn1.Marshal(ecdsaSig{R: r, S: s})
	case Ed25519Alg:
		key, ok := privateKey.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: Ed25519 requires an ed25519.PrivateKey", model.ErrUnsupportedAlgorithm)
		}
		return ed25519.Sign(key, msg), nil
	case Ed448Alg:
		key, ok := privateKey.(ed448.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: Ed448 requires an ed448.PrivateKey", model.ErrUnsupportedAlgorithm)
		}
		return ed448.Sign(key, msg, nil), nil
	default:
		return nil, fmt.Errorf("%w: sign %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

// CheckSignature verifies signature over msg under publicKey/alg.
func CheckSignature(publicKey any, msg []byte, alg SignAlg, signature []byte) error {
	switch alg {
	case ES256, ES384, ES512:
		key, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an ECDSA public key", model.ErrUnsupportedAlgorithm, alg)
		}
		if err := checkCurveMatchesAlg(key.Curve, alg); err != nil {
			return err
		}
		var sig ecdsaSig
		if _, err := asn1.Unmarshal(signature, &sig); err != nil {
			return fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
		}
		digest, err := digestFor(alg, msg)
		if err != nil {
			return err
		}
		if !ecdsa.Verify(key, digest, sig.R, sig.S) {
			return model.ErrSignatureVerification
		}
		return nil
	case Ed25519Alg:
		key, ok := publicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: Ed25519 requires an ed25519.PublicKey", model.ErrUnsupportedAlgorithm)
		}
		if !ed25519.Verify(key, msg, signature) {
			return model.ErrSignatureVerification
		}
		return nil
	case Ed448Alg:
		key, ok := publicKey.(ed448.PublicKey)
		if !ok {
			return fmt.Errorf("%w: Ed448 requires an ed448.PublicKey", model.ErrUnsupportedAlgorithm)
		}
		if !ed448.Verify(key, msg, signature, nil) {
			return model.ErrSignatureVerification
		}
		return nil
	default:
		return fmt.Errorf("%w: sign %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

func digestFor(alg SignAlg, msg []byte) ([]byte, error) {
	switch alg {
	case ES256:
		return Digest(SHA256, msg)
	case ES384:
		return Digest(SHA384, msg)
	case ES512:
		return Digest(SHA512, msg)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedAlgorithm, alg)
	}
}

func checkCurveMatchesAlg(curve elliptic.Curve, alg SignAlg) error {
	bits := curve.Params().BitSize
	switch alg {
	case ES256:
		if bits != 256 {
			return fmt.Errorf("%w: ES256 requires P-256", model.ErrUnsupportedAlgorithm)
		}
	case ES384:
		if bits != 384 {
			return fmt.Errorf("%w: ES384 requires P-384", model.ErrUnsupportedAlgorithm)
		}
	case ES512:
		if bits != 521 {
			return fmt.Errorf("%w: ES512 requires P-521", model.ErrUnsupportedAlgorithm)
		}
	}
	return nil
}

// CreateECPrivateKey generates a fresh EC private key on curve using
// crypto/rand.
func CreateECPrivateKey(curve elliptic.Curve) (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(curve, rand.Reader)
}

// KeyAgreement performs ECDH between privateKey and otherPublicKey. Both
// keys must be on the same curve.
func KeyAgreement(privateKey *ecdsa.PrivateKey, otherPublicKey *ecdsa.PublicKey) ([]byte, error) {
	if privateKey.Curve != otherPublicKey.Curve {
		return nil, fmt.Errorf("%w: key agreement requires matching curves", model.ErrUnsupportedAlgorithm)
	}
	priv, err := privateKey.ECDH()
	if err != nil {
		return nil, err
	}
	pub, err := otherPublicKey.ECDH()
	if err != nil {
		return nil, err
	}
	return priv.ECDH(pub)
}
