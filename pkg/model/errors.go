package model

import "errors"

// Error taxonomy, per the external error channel contract: every operation
// that crosses a package boundary returns one of these, wrapped with
// context via fmt.Errorf("...: %w", ...) where useful.
var (
	// ErrInvalidEncoding signals malformed CBOR/ASN.1/JSON/base64.
	ErrInvalidEncoding = errors.New("invalid encoding")

	// ErrInvalidEngagement signals an engagement that violates the
	// version/origin-info constraints.
	ErrInvalidEngagement = errors.New("invalid device engagement")

	// ErrSignatureVerification signals a failed digital-signature check.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrDecrypt signals an AEAD tag mismatch or malformed session data.
	ErrDecrypt = errors.New("decryption failed")

	// ErrUnsupportedAlgorithm signals a curve or cipher-suite not supported.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrReaderAuthNotVerified signals access to a verified-only field
	// before reader authentication was verified. No function in this
	// module returns it.
	ErrReaderAuthNotVerified = errors.New("reader authentication not yet verified")

	// ErrKeyLocked signals a secure-area key that needs unlocking.
	ErrKeyLocked = errors.New("key is locked")

	// ErrKeyInvalidated signals a secure-area key that has been destroyed.
	ErrKeyInvalidated = errors.New("key has been invalidated")

	// ErrPresentmentCanceled signals the user dismissed the consent prompt.
	ErrPresentmentCanceled = errors.New("presentment canceled by user")

	// ErrPresentmentTimeout signals the reader did not send a message in time.
	ErrPresentmentTimeout = errors.New("timed out waiting for reader message")

	// ErrTransportClosed signals the underlying transport closed mid-operation.
	ErrTransportClosed = errors.New("transport closed")

	// ErrStorage signals a persistence-layer failure.
	ErrStorage = errors.New("storage error")

	// ErrNotFound signals a lookup that found nothing.
	ErrNotFound = errors.New("not found")

	// ErrUntrustedIssuer signals a credential whose issuer certificate
	// chain does not validate against a configured IACA trust anchor.
	ErrUntrustedIssuer = errors.New("untrusted issuer")
)

// Error wraps one of the taxonomy sentinels with structured detail, the
// same shape callers in cmd/ use to render API or CLI diagnostics.
type Error struct {
	Kind  error
	Title string
	Err   any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Title + ": " + errString(e.Kind) + ": " + errDetail(e.Err)
	}
	return e.Title + ": " + errString(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewError builds a taxonomy error with a human title and no extra detail.
func NewError(kind error, title string) *Error {
	return &Error{Kind: kind, Title: title}
}

// NewErrorDetails builds a taxonomy error carrying structured detail
// (e.g. a failing doc-request index, as required by the signature
// verification scenario).
func NewErrorDetails(kind error, title string, detail any) *Error {
	return &Error{Kind: kind, Title: title, Err: detail}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errDetail(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "detail"
}
