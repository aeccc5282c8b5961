package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	"mdoccore/pkg/model"

	"github.com/fxamacker/cbor/v2"
)

// DoubleCoordinate is the public/private key representation for the
// NIST and brainpool curves: an (x, y) point and an optional private
// scalar d.
type DoubleCoordinate struct {
	Curve Curve
	X     []byte
	Y     []byte
	D     []byte // nil for a public key
}

// Okp is the public/private key representation for the edwards and
// montgomery curves: a single coordinate x and an optional private
// scalar d.
type Okp struct {
	Curve Curve
	X     []byte
	D     []byte // nil for a public key
}

// IsPrivate reports whether k carries private key material.
func (k *DoubleCoordinate) IsPrivate() bool { return len(k.D) > 0 }

// IsPrivate reports whether k carries private key material.
func (k *Okp) IsPrivate() bool { return len(k.D) > 0 }

func padTo(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// FromECDSAPublicKey builds a DoubleCoordinate from a stdlib ECDSA
// public key.
func FromECDSAPublicKey(pub *ecdsa.PublicKey) (*DoubleCoordinate, error) {
	curve, err := curveFromStd(pub.Curve)
	if err != nil {
		return nil, err
	}
	size, err := curve.Size()
	if err != nil {
		return nil, err
	}
	return &DoubleCoordinate{
		Curve: curve,
		X:     padTo(pub.X.Bytes(), size),
		Y:     padTo(pub.Y.Bytes(), size),
	}, nil
}

// FromECDSAPrivateKey builds a DoubleCoordinate from a stdlib ECDSA
// private key, including the private scalar.
func FromECDSAPrivateKey(priv *ecdsa.PrivateKey) (*DoubleCoordinate, error) {
	k, err := FromECDSAPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	size, err := k.Curve.Size()
	if err != nil {
		return nil, err
	}
	k.D = padTo(priv.D.Bytes(), size)
	return k, nil
}

// ToECDSAPublicKey reconstructs a stdlib ECDSA public key from k.
func (k *DoubleCoordinate) ToECDSAPublicKey() (*ecdsa.PublicKey, error) {
	curve, err := StdCurve(k.Curve)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

// ToECDSAPrivateKey reconstructs a stdlib ECDSA private key from k. k
// must carry private key material.
func (k *DoubleCoordinate) ToECDSAPrivateKey() (*ecdsa.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, fmt.Errorf("%w: key has no private scalar", model.ErrInvalidEncoding)
	}
	pub, err := k.ToECDSAPublicKey()
	if err != nil {
		return nil, err
	}
	return &ecdsa.PrivateKey{
		PublicKey: *pub,
		D:         new(big.Int).SetBytes(k.D),
	}, nil
}

func curveFromStd(c elliptic.Curve) (Curve, error) {
	switch c {
	case elliptic.P256():
		return P256, nil
	case elliptic.P384():
		return P384, nil
	case elliptic.P521():
		return P521, nil
	default:
		return "", fmt.Errorf("%w: unrecognized crypto/elliptic curve", model.ErrUnsupportedAlgorithm)
	}
}

// FromEd25519PublicKey builds an Okp from a stdlib Ed25519 public key.
func FromEd25519PublicKey(pub ed25519.PublicKey) *Okp {
	return &Okp{Curve: Ed25519, X: append([]byte(nil), pub...)}
}

// FromEd25519PrivateKey builds an Okp from a stdlib Ed25519 private
// key, including the private seed.
func FromEd25519PrivateKey(priv ed25519.PrivateKey) *Okp {
	return &Okp{
		Curve: Ed25519,
		X:     append([]byte(nil), priv.Public().(ed25519.PublicKey)...),
		D:     append([]byte(nil), priv.Seed()...),
	}
}

// ToEd25519PublicKey reconstructs a stdlib Ed25519 public key from k.
func (k *Okp) ToEd25519PublicKey() (ed25519.PublicKey, error) {
	if k.Curve != Ed25519 {
		return nil, fmt.Errorf("%w: curve %q is not Ed25519", model.ErrUnsupportedAlgorithm, k.Curve)
	}
	if len(k.X) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: Ed25519 public key must be %d bytes", model.ErrInvalidEncoding, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(k.X), nil
}

// ToEd25519PrivateKey reconstructs a stdlib Ed25519 private key from k.
func (k *Okp) ToEd25519PrivateKey() (ed25519.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, fmt.Errorf("%w: key has no private scalar", model.ErrInvalidEncoding)
	}
	if k.Curve != Ed25519 {
		return nil, fmt.Errorf("%w: curve %q is not Ed25519", model.ErrUnsupportedAlgorithm, k.Curve)
	}
	return ed25519.NewKeyFromSeed(k.D), nil
}

// ToPKIXPublicKey converts a DoubleCoordinate or Okp public key to its
// crypto/x509 SubjectPublicKeyInfo DER encoding.
func ToPKIXPublicKey(pub any) ([]byte, error) {
	var spkiKey any
	switch k := pub.(type) {
	case *DoubleCoordinate:
		ecdsaPub, err := k.ToECDSAPublicKey()
		if err != nil {
			return nil, err
		}
		spkiKey = ecdsaPub
	case *Okp:
		ed25519Pub, err := k.ToEd25519PublicKey()
		if err != nil {
			return nil, err
		}
		spkiKey = ed25519Pub
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", model.ErrUnsupportedAlgorithm, pub)
	}
	return x509.MarshalPKIXPublicKey(spkiKey)
}

// ToPublicKeyPEM PEM-encodes a DoubleCoordinate or Okp public key as a
// PKIX "PUBLIC KEY" block.
func ToPublicKeyPEM(pub any) ([]byte, error) {
	der, err := ToPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ToPrivateKeyPEM PEM-encodes a DoubleCoordinate or Okp private key as
// a PKCS#8 "PRIVATE KEY" block.
func ToPrivateKeyPEM(priv any) ([]byte, error) {
	var pkcs8Key any
	switch k := priv.(type) {
	case *DoubleCoordinate:
		ecdsaPriv, err := k.ToECDSAPrivateKey()
		if err != nil {
			return nil, err
		}
		pkcs8Key = ecdsaPriv
	case *Okp:
		ed25519Priv, err := k.ToEd25519PrivateKey()
		if err != nil {
			return nil, err
		}
		pkcs8Key = ed25519Priv
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", model.ErrUnsupportedAlgorithm, priv)
	}
	der, err := x509.MarshalPKCS8PrivateKey(pkcs8Key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// FromPublicKeyPEM parses a PKIX "PUBLIC KEY" PEM block into a
// DoubleCoordinate or Okp, depending on the key algorithm found.
func FromPublicKeyPEM(pemBytes []byte) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", model.ErrInvalidEncoding)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	return wrapPublicKey(pub)
}

// FromPrivateKeyPEM parses a PKCS#8 "PRIVATE KEY" PEM block into a
// DoubleCoordinate or Okp, depending on the key algorithm found.
func FromPrivateKeyPEM(pemBytes []byte) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", model.ErrInvalidEncoding)
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	switch p := priv.(type) {
	case *ecdsa.PrivateKey:
		return FromECDSAPrivateKey(p)
	case ed25519.PrivateKey:
		return FromEd25519PrivateKey(p), nil
	default:
		return nil, fmt.Errorf("%w: unsupported private key type %T", model.ErrUnsupportedAlgorithm, priv)
	}
}

func wrapPublicKey(pub any) (any, error) {
	switch p := pub.(type) {
	case *ecdsa.PublicKey:
		return FromECDSAPublicKey(p)
	case ed25519.PublicKey:
		return FromEd25519PublicKey(p), nil
	default:
		return nil, fmt.Errorf("%w: unsupported public key type %T", model.ErrUnsupportedAlgorithm, pub)
	}
}

// coseKeyCBOR mirrors the RFC 8152 COSE_Key integer label map. The
// CBOR codec here is intentionally independent of pkg/mdoc's COSEKey so
// this package has no dependency on the ISO wire layer.
type coseKeyCBOR struct {
	Kty int64  `cbor:"1,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint,omitempty"`
	D   []byte `cbor:"-4,keyasint,omitempty"`
}

const (
	coseKtyEC2 int64 = 2
	coseKtyOKP int64 = 1

	coseCrvP256    int64 = 1
	coseCrvP384    int64 = 2
	coseCrvP521    int64 = 3
	coseCrvX25519  int64 = 4
	coseCrvX448    int64 = 5
	coseCrvEd25519 int64 = 6
	coseCrvEd448   int64 = 7
)

func curveToCOSE(c Curve) (int64, error) {
	switch c {
	case P256:
		return coseCrvP256, nil
	case P384:
		return coseCrvP384, nil
	case P521:
		return coseCrvP521, nil
	case X25519:
		return coseCrvX25519, nil
	case X448:
		return coseCrvX448, nil
	case Ed25519:
		return coseCrvEd25519, nil
	case Ed448:
		return coseCrvEd448, nil
	default:
		return 0, fmt.Errorf("%w: curve %q has no COSE identifier", model.ErrUnsupportedAlgorithm, c)
	}
}

func curveFromCOSE(kty, crv int64) (Curve, error) {
	switch kty {
	case coseKtyEC2:
		switch crv {
		case coseCrvP256:
			return P256, nil
		case coseCrvP384:
			return P384, nil
		case coseCrvP521:
			return P521, nil
		}
	case coseKtyOKP:
		switch crv {
		case coseCrvX25519:
			return X25519, nil
		case coseCrvX448:
			return X448, nil
		case coseCrvEd25519:
			return Ed25519, nil
		case coseCrvEd448:
			return Ed448, nil
		}
	}
	return "", fmt.Errorf("%w: COSE kty %d/crv %d", model.ErrUnsupportedAlgorithm, kty, crv)
}

// ToCOSEKey encodes a DoubleCoordinate or Okp key as a COSE_Key CBOR
// byte string (RFC 8152 §7).
func ToCOSEKey(key any) ([]byte, error) {
	switch k := key.(type) {
	case *DoubleCoordinate:
		crv, err := curveToCOSE(k.Curve)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(coseKeyCBOR{Kty: coseKtyEC2, Crv: crv, X: k.X, Y: k.Y, D: k.D})
	case *Okp:
		crv, err := curveToCOSE(k.Curve)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(coseKeyCBOR{Kty: coseKtyOKP, Crv: crv, X: k.X, D: k.D})
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", model.ErrUnsupportedAlgorithm, key)
	}
}

// FromCOSEKey decodes a COSE_Key CBOR byte string into a
// DoubleCoordinate or Okp, depending on its key type.
func FromCOSEKey(data []byte) (any, error) {
	var raw coseKeyCBOR
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	curve, err := curveFromCOSE(raw.Kty, raw.Crv)
	if err != nil {
		return nil, err
	}
	if raw.Kty == coseKtyOKP {
		return &Okp{Curve: curve, X: raw.X, D: raw.D}, nil
	}
	return &DoubleCoordinate{Curve: curve, X: raw.X, Y: raw.Y, D: raw.D}, nil
}
