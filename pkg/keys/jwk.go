package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"

	"mdoccore/pkg/model"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

func hashFuncFor(alg string) (crypto.Hash, error) {
	switch alg {
	case "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: thumbprint hash %q", model.ErrUnsupportedAlgorithm, alg)
	}
}

// ToJWK converts a DoubleCoordinate or Okp key (public or private) to
// a JWK (RFC 7517), going by way of the raw key material jwx already
// knows how to import, the same bridge the teacher's pki.PEM2jwk uses
// for PEM.
func ToJWK(key any) (jwk.Key, error) {
	switch k := key.(type) {
	case *DoubleCoordinate:
		if k.IsPrivate() {
			priv, err := k.ToECDSAPrivateKey()
			if err != nil {
				return nil, err
			}
			return jwk.Import(priv)
		}
		pub, err := k.ToECDSAPublicKey()
		if err != nil {
			return nil, err
		}
		return jwk.Import(pub)
	case *Okp:
		if k.IsPrivate() {
			priv, err := k.ToEd25519PrivateKey()
			if err != nil {
				return nil, err
			}
			return jwk.Import(priv)
		}
		pub, err := k.ToEd25519PublicKey()
		if err != nil {
			return nil, err
		}
		return jwk.Import(pub)
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", model.ErrUnsupportedAlgorithm, key)
	}
}

// FromJWK converts a parsed JWK back into a DoubleCoordinate or Okp.
func FromJWK(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	switch k := raw.(type) {
	case *ecdsa.PrivateKey:
		return FromECDSAPrivateKey(k)
	case *ecdsa.PublicKey:
		return FromECDSAPublicKey(k)
	case ed25519.PrivateKey:
		return FromEd25519PrivateKey(k), nil
	case ed25519.PublicKey:
		return FromEd25519PublicKey(k), nil
	default:
		return nil, fmt.Errorf("%w: unsupported JWK key type %T", model.ErrUnsupportedAlgorithm, raw)
	}
}

// Thumbprint computes the RFC 7638 JWK thumbprint of key using the
// given hash algorithm name ("sha256", "sha384", "sha512").
func Thumbprint(key any, hashAlg string) ([]byte, error) {
	j, err := ToJWK(key)
	if err != nil {
		return nil, err
	}
	h, err := hashFuncFor(hashAlg)
	if err != nil {
		return nil, err
	}
	return j.Thumbprint(h)
}
