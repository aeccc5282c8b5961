package store

import (
	"time"

	"mdoccore/pkg/signing"
)

// CredentialState is the lifecycle state of a Credential: newly
// created key material awaiting issuer certification, a usable signed
// credential, or removed.
type CredentialState int

const (
	// StatePendingCertify is a freshly generated key whose issuer has
	// not yet certified a credential over it.
	StatePendingCertify CredentialState = iota
	// StateCertified is a usable, issuer-certified credential.
	StateCertified
	// StateGone is a deleted or invalidated credential no longer
	// reachable from its Document.
	StateGone
)

// Credential is one issuer-certified (or pending) instance of a
// document's credential material. For mdoc credentials, Key is the
// secure-area-backed device key the credential's docType binds to.
type Credential struct {
	Identifier               string
	Domain                   string
	DocType                  string
	State                    CredentialState
	ValidFrom                time.Time
	ValidUntil               time.Time
	UsageCount               int
	IssuerProvidedData       []byte // the MSO-signed IssuerSigned structure
	ReplacementForIdentifier string // empty if this credential replaces nothing

	// KeyAlias names the secure-area key this credential is bound to.
	// It is the persisted reference; Key is the live handle resolved
	// from it after load (key material itself is never persisted).
	KeyAlias string
	Key      *signing.SigningKey
}

// IsCertified reports whether the credential has been issuer-certified.
func (c *Credential) IsCertified() bool { return c.State == StateCertified }

func (c *Credential) isUsable(domain string, t time.Time) bool {
	if c.State != StateCertified {
		return false
	}
	if c.Domain != domain {
		return false
	}
	// Selection window is half-open [validFrom, validUntil): a credential
	// is no longer usable at the instant it expires.
	if t.Before(c.ValidFrom) || !t.Before(c.ValidUntil) {
		return false
	}
	return true
}

// Certify transitions a pending credential to certified once the
// issuer has signed a credential over its key.
func (c *Credential) Certify(issuerProvidedData []byte, validFrom, validUntil time.Time) {
	c.IssuerProvidedData = issuerProvidedData
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	c.State = StateCertified
}

// Invalidate marks the credential Gone following a secure-area
// KeyInvalidatedError, the side transition Certified -> Gone spec §3
// names separately from an explicit delete.
func (c *Credential) Invalidate() {
	c.State = StateGone
}

// ReplacementForDeleted clears ReplacementForIdentifier, the signal a
// credential observes when the credential it names as its replacement
// target has been deleted: its replacement chain is broken.
func (c *Credential) ReplacementForDeleted() {
	c.ReplacementForIdentifier = ""
}

// IncrementUsage bumps UsageCount; callers must hold the owning
// document's lock. presentment.Answer calls it once a document's
// response entry is built, before the response is encrypted and sent.
func (c *Credential) IncrementUsage() {
	c.UsageCount++
}
