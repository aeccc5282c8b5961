package pki

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"math/big"
	"time"
)

// ParseRevocationList parses a DER-encoded CRL, the wire form an IACA
// or document signer publishes its revocation list in.
func ParseRevocationList(der []byte) (*x509.RevocationList, error) {
	return x509.ParseRevocationList(der)
}

// CRLTemplate is the subset of x509.RevocationList fields a CRL issuer
// fills in; Number and ThisUpdate/NextUpdate follow RFC 5280 §5.1.2.
type CRLTemplate struct {
	Number                    *big.Int
	ThisUpdate, NextUpdate    time.Time
	RevokedCertificateEntries []x509.RevocationListEntry
}

// CreateRevocationList builds and signs a DER-encoded CRL issued by
// issuer, using signer as the issuing key.
func CreateRevocationList(tmpl CRLTemplate, issuer *x509.Certificate, signer crypto.Signer) ([]byte, error) {
	if tmpl.Number == nil {
		return nil, errors.New("crl template requires a Number")
	}
	rl := &x509.RevocationList{
		Number:                    tmpl.Number,
		ThisUpdate:                tmpl.ThisUpdate,
		NextUpdate:                tmpl.NextUpdate,
		RevokedCertificateEntries: tmpl.RevokedCertificateEntries,
	}
	return x509.CreateRevocationList(nil, rl, issuer, signer)
}

// ToX5c encodes a certificate chain as an x5c array (RFC 7515 §4.1.6):
// base64-standard-encoded DER certificates, leaf first. When
// excludeSelfSignedRoot is set and the final certificate in chain is
// self-signed, it is omitted, matching the reader/device certificate
// chain contract in spec §3 (round-trip preserves the chain except the
// excluded self-signed root).
func ToX5c(chain []*x509.Certificate, excludeSelfSignedRoot bool) []string {
	if len(chain) == 0 {
		return nil
	}
	end := len(chain)
	if excludeSelfSignedRoot && end > 0 && isSelfSigned(chain[end-1]) {
		end--
	}
	x5c := make([]string, 0, end)
	for _, cert := range chain[:end] {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	return x5c
}

// FromX5c decodes an x5c array back into a certificate chain, leaf
// first.
func FromX5c(x5c []string) ([]*x509.Certificate, error) {
	chain := make([]*x509.Certificate, 0, len(x5c))
	for _, entry := range x5c {
		der, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			return nil, err
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func isSelfSigned(cert *x509.Certificate) bool {
	if cert.Subject.String() != cert.Issuer.String() {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}
