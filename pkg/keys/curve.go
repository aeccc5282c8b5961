// Package keys implements the double-coordinate (EC2) and octet (OKP)
// public/private key types used throughout the platform, along with
// their PEM, JWK and COSE_Key codecs.
package keys

import (
	"crypto/elliptic"
	"fmt"

	"mdoccore/pkg/model"
)

// Curve identifies an elliptic curve or edwards/montgomery curve.
type Curve string

const (
	P256 Curve = "P-256"
	P384 Curve = "P-384"
	P521 Curve = "P-521"

	BrainpoolP256R1 Curve = "brainpoolP256r1"
	BrainpoolP320R1 Curve = "brainpoolP320r1"
	BrainpoolP384R1 Curve = "brainpoolP384r1"
	BrainpoolP512R1 Curve = "brainpoolP512r1"

	Ed25519 Curve = "Ed25519"
	Ed448   Curve = "Ed448"
	X25519  Curve = "X25519"
	X448    Curve = "X448"
)

// IsOkp reports whether c is an octet key pair curve (as opposed to a
// double-coordinate EC curve).
func (c Curve) IsOkp() bool {
	switch c {
	case Ed25519, Ed448, X25519, X448:
		return true
	default:
		return false
	}
}

// Size returns the coordinate size in bytes for c, i.e. ceil(bitSize/8).
func (c Curve) Size() (int, error) {
	switch c {
	case P256, BrainpoolP256R1:
		return 32, nil
	case BrainpoolP320R1:
		return 40, nil
	case P384, BrainpoolP384R1:
		return 48, nil
	case P521:
		return 66, nil
	case BrainpoolP512R1:
		return 64, nil
	case Ed25519, X25519:
		return 32, nil
	case Ed448:
		return 57, nil
	case X448:
		return 56, nil
	default:
		return 0, fmt.Errorf("%w: curve %q", model.ErrUnsupportedAlgorithm, c)
	}
}

// StdCurve returns the crypto/elliptic curve backing c, for the curves
// the standard library natively supports (NIST P-256/384/521).
func StdCurve(c Curve) (elliptic.Curve, error) {
	switch c {
	case P256:
		return elliptic.P256(), nil
	case P384:
		return elliptic.P384(), nil
	case P521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: curve %q has no crypto/elliptic implementation", model.ErrUnsupportedAlgorithm, c)
	}
}
