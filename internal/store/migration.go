package store

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SchemaVersion is the current persisted row schema. Rows loaded at an
// older version are migrated in place the first time the store reads
// them.
const SchemaVersion = 1

// persistedDocument is the v1 on-disk row shape. A Credential's key
// material is never persisted here: Key is a live handle into a
// secure area or in-process signer, resolved by the application after
// load (see Credential.KeyAlias).
type persistedDocument struct {
	SchemaVersion     int                  `cbor:"0,keyasint"`
	Identifier        string               `cbor:"1,keyasint"`
	Created           int64                `cbor:"2,keyasint"` // unix seconds
	OrderingKey       string               `cbor:"3,keyasint,omitempty"`
	DisplayName       string               `cbor:"4,keyasint,omitempty"`
	TypeDisplayName   string               `cbor:"5,keyasint,omitempty"`
	CardArt           []byte               `cbor:"6,keyasint,omitempty"`
	IssuerLogo        []byte               `cbor:"7,keyasint,omitempty"`
	AuthorizationData []byte               `cbor:"8,keyasint,omitempty"`
	Metadata          []byte               `cbor:"9,keyasint,omitempty"`
	Credentials       []persistedCredential `cbor:"10,keyasint,omitempty"`
}

type persistedCredential struct {
	Identifier               string `cbor:"0,keyasint"`
	Domain                   string `cbor:"1,keyasint"`
	DocType                  string `cbor:"2,keyasint"`
	State                    int    `cbor:"3,keyasint"`
	ValidFrom                int64  `cbor:"4,keyasint"`
	ValidUntil               int64  `cbor:"5,keyasint"`
	UsageCount               int    `cbor:"6,keyasint"`
	IssuerProvidedData       []byte `cbor:"7,keyasint,omitempty"`
	ReplacementForIdentifier string `cbor:"8,keyasint,omitempty"`
	KeyAlias                 string `cbor:"9,keyasint,omitempty"`
}

// legacy v0 row field names. v0 rows are a flat CBOR map keyed by
// string, with no schema version marker of its own.
const (
	legacyFieldProvisioned       = "provisioned"
	legacyFieldDisplayName       = "display_name"
	legacyFieldTypeDisplayName   = "type_display_name"
	legacyFieldCardArt           = "card_art"
	legacyFieldIssuerLogo        = "issuer_logo"
	legacyFieldAuthorizationData = "authorization_data"
)

var legacyKnownFields = map[string]bool{
	legacyFieldProvisioned:       true,
	legacyFieldDisplayName:       true,
	legacyFieldTypeDisplayName:   true,
	legacyFieldCardArt:           true,
	legacyFieldIssuerLogo:        true,
	legacyFieldAuthorizationData: true,
}

// MigrationFunc decodes a legacy, pre-v1 persisted row into a
// Document. The built-in decoder below handles the flat v0 map shape
// and is the one New uses when it loads the backend's rows; see
// Store.SetMigrationFunc for when a replacement takes effect.
type MigrationFunc func(identifier string, raw []byte) (*Document, error)

// defaultMigrateV0 is the built-in v0 -> v1 migration. Fields it
// doesn't recognize are not discarded: they are re-encoded into the
// migrated Document's Metadata. Per spec §8's migration scenario, a
// row that fails to decode even as a generic map is not dropped
// either: it is retained as a not-provisioned Document whose Metadata
// holds the original bytes, and migration proceeds for the rest of
// the store.
func defaultMigrateV0(identifier string, raw []byte) (*Document, error) {
	var fields map[string]cbor.RawMessage
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return &Document{
			Identifier: identifier,
			Created:    migrationTimeFunc(),
			Metadata:   raw,
		}, nil
	}

	doc := &Document{Identifier: identifier, Created: migrationTimeFunc()}
	residual := map[string]cbor.RawMessage{}
	for key, value := range fields {
		if !legacyKnownFields[key] {
			residual[key] = value
			continue
		}
		switch key {
		case legacyFieldDisplayName:
			_ = cbor.Unmarshal(value, &doc.DisplayName)
		case legacyFieldTypeDisplayName:
			_ = cbor.Unmarshal(value, &doc.TypeDisplayName)
		case legacyFieldCardArt:
			_ = cbor.Unmarshal(value, &doc.CardArt)
		case legacyFieldIssuerLogo:
			_ = cbor.Unmarshal(value, &doc.IssuerLogo)
		case legacyFieldAuthorizationData:
			_ = cbor.Unmarshal(value, &doc.AuthorizationData)
		}
	}
	if len(residual) > 0 {
		if encoded, err := cbor.Marshal(residual); err == nil {
			doc.Metadata = encoded
		}
	}
	return doc, nil
}

// migrationTimeFunc returns the instant migration runs at. It is a
// variable, not a direct time.Now() call, purely so tests can pin a
// deterministic migration timestamp; production code never overrides
// it.
var migrationTimeFunc = time.Now

func encodeDocument(d *Document) ([]byte, error) {
	creds := make([]persistedCredential, 0, len(d.credentials))
	for _, c := range d.credentials {
		creds = append(creds, persistedCredential{
			Identifier:               c.Identifier,
			Domain:                   c.Domain,
			DocType:                  c.DocType,
			State:                    int(c.State),
			ValidFrom:                c.ValidFrom.Unix(),
			ValidUntil:               c.ValidUntil.Unix(),
			UsageCount:               c.UsageCount,
			IssuerProvidedData:       c.IssuerProvidedData,
			ReplacementForIdentifier: c.ReplacementForIdentifier,
			KeyAlias:                 c.KeyAlias,
		})
	}
	return cbor.Marshal(persistedDocument{
		SchemaVersion:     SchemaVersion,
		Identifier:        d.Identifier,
		Created:           d.Created.Unix(),
		OrderingKey:       d.OrderingKey,
		DisplayName:       d.DisplayName,
		TypeDisplayName:   d.TypeDisplayName,
		CardArt:           d.CardArt,
		IssuerLogo:        d.IssuerLogo,
		AuthorizationData: d.AuthorizationData,
		Metadata:          d.Metadata,
		Credentials:       creds,
	})
}

func decodeDocumentV1(raw []byte) (*Document, bool) {
	var row persistedDocument
	if err := cbor.Unmarshal(raw, &row); err != nil || row.SchemaVersion != SchemaVersion {
		return nil, false
	}
	doc := &Document{
		Identifier:        row.Identifier,
		Created:           time.Unix(row.Created, 0).UTC(),
		OrderingKey:       row.OrderingKey,
		DisplayName:       row.DisplayName,
		TypeDisplayName:   row.TypeDisplayName,
		CardArt:           row.CardArt,
		IssuerLogo:        row.IssuerLogo,
		AuthorizationData: row.AuthorizationData,
		Metadata:          row.Metadata,
	}
	for _, c := range row.Credentials {
		doc.credentials = append(doc.credentials, &Credential{
			Identifier:               c.Identifier,
			Domain:                   c.Domain,
			DocType:                  c.DocType,
			State:                    CredentialState(c.State),
			ValidFrom:                time.Unix(c.ValidFrom, 0).UTC(),
			ValidUntil:               time.Unix(c.ValidUntil, 0).UTC(),
			UsageCount:               c.UsageCount,
			IssuerProvidedData:       c.IssuerProvidedData,
			ReplacementForIdentifier: c.ReplacementForIdentifier,
			KeyAlias:                 c.KeyAlias,
		})
	}
	return doc, true
}
