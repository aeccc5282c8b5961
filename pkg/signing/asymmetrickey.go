package signing

import (
	"context"
	"crypto"
	"errors"
	"io"

	"mdoccore/pkg/model"
)

// KeyVariant distinguishes how an AsymmetricKey identifies itself in a
// protocol exchange: unlabeled, by key ID, or by a certified X.509
// chain.
type KeyVariant int

const (
	// VariantAnonymous carries no identifying metadata.
	VariantAnonymous KeyVariant = iota
	// VariantNamed identifies the key by a key ID (COSE kid / JWK kid).
	VariantNamed
	// VariantX509Certified identifies the key by its certificate chain.
	VariantX509Certified
)

// AsymmetricKey is the public-key half of a signing identity: either
// an explicit public key value, or a handle into a secure area that
// only discloses the public key and metadata, never the private
// scalar.
type AsymmetricKey struct {
	Variant KeyVariant
	KeyID   string   // set when Variant == VariantNamed
	X5c     []string // set when Variant == VariantX509Certified, leaf first

	// PublicKey holds a *keys.DoubleCoordinate or *keys.Okp for an
	// explicit key, or nil when the key is secure-area-backed and only
	// reachable through SigningKey.Sign.
	PublicKey any

	secureArea SecureArea // nil for an explicit (non-secure-area) key
}

// SigningKey pairs an AsymmetricKey with the capability to produce
// signatures under it, whether the private material is held in process
// memory or inside a secure area (HSM, platform keystore).
type SigningKey struct {
	Public AsymmetricKey
	signer Signer
}

// NewExplicitSigningKey wraps a Signer backed by in-process key
// material as a SigningKey with no secure-area indirection. Sign hands
// data to that Signer unchanged; a SoftwareSigner hashes it first, so
// one reached through CryptoSigner signs a hash of the digest.
func NewExplicitSigningKey(signer Signer, variant KeyVariant, keyID string, x5c []string, publicKey any) *SigningKey {
	return &SigningKey{
		Public: AsymmetricKey{Variant: variant, KeyID: keyID, X5c: x5c, PublicKey: publicKey},
		signer: signer,
	}
}

// NewSecureAreaSigningKey wraps a secure-area-backed signer. Sign calls
// on the returned SigningKey surface model.ErrKeyLocked/
// model.ErrKeyInvalidated when the secure area reports the key is
// unavailable, per spec §3's AsymmetricKey/SigningKey invariants.
func NewSecureAreaSigningKey(area SecureArea, keyAlias string, variant KeyVariant, keyID string, x5c []string, publicKey any) (*SigningKey, error) {
	info, err := area.GetKeyInfo(keyAlias)
	if err != nil {
		return nil, err
	}
	return &SigningKey{
		Public: AsymmetricKey{Variant: variant, KeyID: keyID, X5c: x5c, PublicKey: publicKey},
		signer: &secureAreaSigner{area: area, alias: keyAlias, algorithm: info.Algorithm, publicKey: publicKey},
	}, nil
}

// Sign signs data under this key. For a secure-area-backed key this
// surfaces model.ErrKeyLocked/model.ErrKeyInvalidated when the secure
// area reports the key unavailable, rather than a bare secure-area
// error type.
func (s *SigningKey) Sign(ctx context.Context, data []byte) ([]byte, error) {
	return s.signer.Sign(ctx, data)
}

// Algorithm returns the underlying signer's algorithm name.
func (s *SigningKey) Algorithm() string { return s.signer.Algorithm() }

// DeleteFromSecureArea removes this key's material from its backing
// secure area. It is a no-op for an explicit (in-process) key, which
// holds no secure-area-resident material to clear.
func (s *SigningKey) DeleteFromSecureArea() error {
	sa, ok := s.signer.(*secureAreaSigner)
	if !ok {
		return nil
	}
	return sa.area.DeleteKey(sa.alias)
}

// CryptoSigner adapts this SigningKey to the stdlib crypto.Signer
// interface, for callers (the mdoc COSE_Sign1 builder) that hash the
// payload themselves and hand Sign the final digest. Unlike
// SoftwareSigner's JOSE-style contract (raw payload in, internal
// hashing), a SigningKey's Sign is specified to sign exactly the bytes
// it is given, so no double hash occurs through this adapter.
func (s *SigningKey) CryptoSigner() crypto.Signer {
	return &cryptoSignerAdapter{key: s}
}

type cryptoSignerAdapter struct {
	key *SigningKey
}

func (a *cryptoSignerAdapter) Public() crypto.PublicKey {
	return a.key.Public.PublicKey
}

func (a *cryptoSignerAdapter) Sign(_ io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	return a.key.Sign(context.Background(), digest)
}

// SecureArea is the capability set spec §9 lists for a secure area:
// get key info, sign, key agreement, create key, delete key.
type SecureArea interface {
	GetKeyInfo(alias string) (KeyInfo, error)
	Sign(ctx context.Context, alias string, data []byte) ([]byte, error)
	KeyAgreement(ctx context.Context, alias string, otherPublicKey []byte) ([]byte, error)
	CreateKey(alias string, algorithm string) (KeyInfo, error)
	DeleteKey(alias string) error
}

// KeyInfo describes a secure-area key without revealing private
// material.
type KeyInfo struct {
	Algorithm   string
	Invalidated bool
	Locked      bool
}

// ErrKeyNotInSecureArea is returned by a SecureArea implementation when
// the requested alias has no corresponding key.
var ErrKeyNotInSecureArea = errors.New("key not present in secure area")

type secureAreaSigner struct {
	area      SecureArea
	alias     string
	algorithm string
	publicKey any
}

func (s *secureAreaSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	info, err := s.area.GetKeyInfo(s.alias)
	if err != nil {
		return nil, err
	}
	if info.Invalidated {
		return nil, model.ErrKeyInvalidated
	}
	if info.Locked {
		return nil, model.ErrKeyLocked
	}
	return s.area.Sign(ctx, s.alias, data)
}

func (s *secureAreaSigner) Algorithm() string { return s.algorithm }
func (s *secureAreaSigner) KeyID() string     { return s.alias }
func (s *secureAreaSigner) PublicKey() any    { return s.publicKey }
