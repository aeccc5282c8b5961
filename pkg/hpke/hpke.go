package hpke

import (
	"crypto/rand"
	"fmt"

	"mdoccore/pkg/model"

	circlhpke "github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// KEM, KDF and AEAD re-export the circl HPKE algorithm identifiers so
// callers of this package never need to import circl directly.
type (
	KEM  = circlhpke.KEM
	KDF  = circlhpke.KDF
	AEAD = circlhpke.AEAD
)

const (
	DHKEM_P256_HKDF_SHA256   = circlhpke.KEM_P256_HKDF_SHA256
	DHKEM_P384_HKDF_SHA384   = circlhpke.KEM_P384_HKDF_SHA384
	DHKEM_P521_HKDF_SHA512   = circlhpke.KEM_P521_HKDF_SHA512
	DHKEM_X25519_HKDF_SHA256 = circlhpke.KEM_X25519_HKDF_SHA256

	HKDF_SHA256 = circlhpke.KDF_HKDF_SHA256
	HKDF_SHA384 = circlhpke.KDF_HKDF_SHA384
	HKDF_SHA512 = circlhpke.KDF_HKDF_SHA512

	AES128GCM   = circlhpke.AEAD_AES128GCM
	AES256GCM   = circlhpke.AEAD_AES256GCM
	ExportOnly  = circlhpke.AEAD_EXPORTONLY
)

// Suite bundles the KEM/KDF/AEAD triple that defines one HPKE cipher
// suite (RFC 9180 §5).
type Suite struct {
	kemID  KEM
	suite  circlhpke.Suite
}

// NewSuite builds the HPKE cipher suite for the given KEM/KDF/AEAD
// combination.
func NewSuite(kemID KEM, kdfID KDF, aeadID AEAD) *Suite {
	return &Suite{kemID: kemID, suite: circlhpke.NewSuite(kemID, kdfID, aeadID)}
}

// GenerateKeyPair creates a fresh KEM key pair for this suite's KEM.
func (s *Suite) GenerateKeyPair() (kem.PublicKey, kem.PrivateKey, error) {
	pub, priv, err := s.kemID.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// UnmarshalPublicKey decodes the fixed-size encoded form of a public
// key for this suite's KEM.
func (s *Suite) UnmarshalPublicKey(data []byte) (kem.PublicKey, error) {
	pub, err := s.kemID.Scheme().UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	return pub, nil
}

// UnmarshalPrivateKey decodes the fixed-size encoded form of a private
// key for this suite's KEM.
func (s *Suite) UnmarshalPrivateKey(data []byte) (kem.PrivateKey, error) {
	priv, err := s.kemID.Scheme().UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	return priv, nil
}

// Seal performs a single-shot HPKE base-mode encryption: it
// encapsulates a shared secret to recipientPub, derives the AEAD key
// schedule bound to info, and seals plaintext under aad. It returns
// the encapsulated key enc and the ciphertext.
func (s *Suite) Seal(recipientPub kem.PublicKey, info, aad, plaintext []byte) (enc, ciphertext []byte, err error) {
	sender, err := s.suite.NewSender(recipientPub, info)
	if err != nil {
		return nil, nil, err
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err = sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	return enc, ciphertext, nil
}

// Open performs the receiver side of Seal.
func (s *Suite) Open(recipientPriv kem.PrivateKey, enc, info, aad, ciphertext []byte) ([]byte, error) {
	receiver, err := s.suite.NewReceiver(recipientPriv, info)
	if err != nil {
		return nil, err
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, err
	}
	plaintext, err := opener.Open(ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrDecrypt, err)
	}
	return plaintext, nil
}

// ExportSecret runs the HPKE key schedule in EXPORT_ONLY AEAD mode
// (the suite must have been built with ExportOnly) and returns the
// encapsulated key alongside the exported secret, the shape the
// sender side of an ISO Annex B.3.3-style key-derivation test needs.
func (s *Suite) ExportSecret(recipientPub kem.PublicKey, info, exporterContext []byte, length int) (enc, secret []byte, err error) {
	sender, err := s.suite.NewSender(recipientPub, info)
	if err != nil {
		return nil, nil, err
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	secret, err = sealer.Export(exporterContext, uint(length))
	if err != nil {
		return nil, nil, err
	}
	return enc, secret, nil
}

// ExportSecretReceiver is the receiver-side counterpart of
// ExportSecret: given the encapsulated key from the sender, it
// derives the same exported secret.
func (s *Suite) ExportSecretReceiver(recipientPriv kem.PrivateKey, enc, info, exporterContext []byte, length int) ([]byte, error) {
	receiver, err := s.suite.NewReceiver(recipientPriv, info)
	if err != nil {
		return nil, err
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, err
	}
	return opener.Export(exporterContext, uint(length))
}
