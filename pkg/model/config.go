// Package model holds the configuration and error types shared across the
// mdoc core packages. It intentionally owns no business logic: Cfg is the
// contract between the wiring in cmd/ and the services constructed in
// pkg/ and internal/.
package model

// Cfg is the top level configuration object, assembled from YAML and
// environment variables by pkg/configuration.
type Cfg struct {
	Common Common `yaml:"common" validate:"required"`
	Log    Log    `yaml:"log"`
	Store  Store  `yaml:"store"`
	Reader Reader `yaml:"reader"`
	Issuer Issuer `yaml:"issuer"`
	DCAPI  DCAPI  `yaml:"dc_api"`
}

// Common holds settings shared by every service binary.
type Common struct {
	Production bool    `yaml:"production" default:"false"`
	Tracing    Tracing `yaml:"tracing"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Addr    string `yaml:"addr" default:"localhost:4318"`
	Timeout int    `yaml:"timeout" default:"5"`
}

// Log configures the structured logger.
type Log struct {
	FolderPath string `yaml:"folder_path"`
}

// Store configures the document/credential store (C7).
type Store struct {
	// SchemaVersion is read from configuration but not consulted by the
	// store: rows are migrated against the store package's own
	// SchemaVersion constant when the store loads them (§4.6).
	SchemaVersion int `yaml:"schema_version" default:"1"`
}

// Reader configures reader-authentication trust anchors (C5/C9).
type Reader struct {
	TrustedCAPaths []string `yaml:"trusted_ca_paths"`
}

// Issuer configures issuer (IACA) trust anchors used to validate a
// credential's certificate chain at certification time.
type Issuer struct {
	TrustedCAPaths []string `yaml:"trusted_ca_paths"`
}

// DCAPI configures the W3C Digital Credentials dispatcher (C11).
type DCAPI struct {
	// RecipientKeyPath is the PEM-encoded EC private key used to establish
	// the HPKE recipient context for org.iso.mdoc responses.
	RecipientKeyPath string `yaml:"recipient_key_path"`
}
