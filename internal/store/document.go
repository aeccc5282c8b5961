// Package store implements the holder-side document and credential
// storage model: a Document groups an ordered collection of
// Credentials, each representing one usable instance of a credential
// (an mdoc, in the scope this module covers) bound to a secure-area
// key.
package store

import (
	"sort"
	"time"
)

// Document is a named, persistent slot a wallet holds credentials in —
// e.g. "my driving licence" — independent of how many individual
// Credential instances currently back it.
type Document struct {
	Identifier        string
	Created           time.Time
	OrderingKey       string // empty if unset
	DisplayName       string
	TypeDisplayName   string
	CardArt           []byte
	IssuerLogo        []byte
	AuthorizationData []byte
	Metadata          []byte // opaque application metadata

	credentials []*Credential
}

// Credentials returns the document's credentials in storage order.
func (d *Document) Credentials() []*Credential {
	out := make([]*Credential, len(d.credentials))
	copy(out, d.credentials)
	return out
}

// AddCredential appends cred to the document's credential collection.
func (d *Document) AddCredential(cred *Credential) {
	d.credentials = append(d.credentials, cred)
}

// DeleteCredential removes the credential identified by identifier
// from the document — the deleteCredential transition, Certified ->
// Gone — and breaks the replacement chain of any sibling credential
// that names it via ReplacementForIdentifier. It returns the removed
// credential, or nil if identifier was not found.
func (d *Document) DeleteCredential(identifier string) *Credential {
	var removed *Credential
	for i, c := range d.credentials {
		if c.Identifier == identifier {
			removed = c
			d.credentials = append(d.credentials[:i], d.credentials[i+1:]...)
			break
		}
	}
	if removed == nil {
		return nil
	}
	removed.Invalidate()
	for _, c := range d.credentials {
		if c.ReplacementForIdentifier == identifier {
			c.ReplacementForDeleted()
		}
	}
	return removed
}

// CountUsableCredentials returns the number of certified, currently
// valid credentials in domain at time t (total), and how many of those
// have never yet been presented (availableAtNowWithZeroUsage).
func (d *Document) CountUsableCredentials(domain string, t time.Time) (total int, availableAtNowWithZeroUsage int) {
	for _, c := range d.credentials {
		if !c.isUsable(domain, t) {
			continue
		}
		total++
		if c.UsageCount == 0 {
			availableAtNowWithZeroUsage++
		}
	}
	return total, availableAtNowWithZeroUsage
}

// FindCredential selects the credential to present in domain at time
// t: the smallest UsageCount among certified, valid credentials, with
// ties broken by ascending Identifier (spec Open Question (c)).
func (d *Document) FindCredential(domain string, t time.Time) *Credential {
	var best *Credential
	for _, c := range d.credentials {
		if !c.isUsable(domain, t) {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if c.UsageCount < best.UsageCount ||
			(c.UsageCount == best.UsageCount && c.Identifier < best.Identifier) {
			best = c
		}
	}
	return best
}

// Compare orders documents by (OrderingKey, Created, Identifier)
// ascending, treating an empty OrderingKey as sorting first.
func (d *Document) Compare(other *Document) int {
	if d.OrderingKey != other.OrderingKey {
		if d.OrderingKey < other.OrderingKey {
			return -1
		}
		return 1
	}
	if !d.Created.Equal(other.Created) {
		if d.Created.Before(other.Created) {
			return -1
		}
		return 1
	}
	switch {
	case d.Identifier < other.Identifier:
		return -1
	case d.Identifier > other.Identifier:
		return 1
	default:
		return 0
	}
}

// SortDocuments sorts docs in place per Document.Compare.
func SortDocuments(docs []*Document) {
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Compare(docs[j]) < 0
	})
}
