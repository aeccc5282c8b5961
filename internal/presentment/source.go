package presentment

import (
	"context"
	"crypto/x509"
	"time"

	"mdoccore/internal/store"
	"mdoccore/pkg/mdoc"
	"mdoccore/pkg/trust"
)

// Domain names for the two mdoc credential pools the default source
// distinguishes, per spec §4.12's "one domain each for signature-mode
// mdoc, MAC-mode mdoc" guidance. A deployment with its own domain
// scheme supplies a custom PresentmentSource instead of DefaultSource.
const (
	DomainMdocSignature = "mdoc-signature"
	DomainMdocMAC       = "mdoc-mac"
)

// Requester identifies the party asking for a presentment: the reader
// certificate chain extracted from the DeviceRequest's per-doc-request
// or all-doc-request COSE_Sign1, leaf first.
type Requester struct {
	CertificateChain []*x509.Certificate
}

// ConsentItem is one docType's worth of requested data, shown to the
// user for a single document's consent decision.
type ConsentItem struct {
	DocType    string
	NameSpaces map[string]map[string]bool
}

// Selection is the user's consent-prompt response: the documents they
// agreed to present, in the order chosen.
type Selection struct {
	Documents []*store.Document
}

// PresentmentSource is the abstract hook of spec §4.12: it resolves
// trust metadata for the requester, drives the consent prompt, and
// picks the credential to present from a chosen document. A host
// supplies its own implementation to wire in its UI and trust-manager;
// DefaultSource is the doc-type/domain-matching reference behavior.
type PresentmentSource interface {
	// MatchDocuments returns every stored document able to answer a
	// request for docType.
	MatchDocuments(ctx context.Context, docType string) []*store.Document

	// ResolveTrust looks up what is known about requester, or returns
	// a nil decision if nothing is known.
	ResolveTrust(ctx context.Context, requester Requester) (*trust.TrustDecision, error)

	// ShowConsentPrompt surfaces data to the user and returns their
	// selection, or model.ErrPresentmentCanceled if they decline.
	// onDocumentsInFocus is invoked as the prompt's preselection
	// changes, letting a UI layer update live without blocking.
	ShowConsentPrompt(
		ctx context.Context,
		requester Requester,
		trustMetadata *trust.TrustDecision,
		data []ConsentItem,
		preselectedDocuments []*store.Document,
		onDocumentsInFocus func([]*store.Document),
	) (*Selection, error)

	// SelectCredential picks the credential to present from doc for
	// request, optionally preferring a key-agreement-capable credential
	// when keyAgreementPossible names its curve.
	SelectCredential(ctx context.Context, doc *store.Document, request *mdoc.ItemsRequest, keyAgreementPossible []string) (*store.Credential, error)
}

// DefaultSource is the reference PresentmentSource: it matches
// documents by docType against the store, shows a caller-supplied
// consent callback, and picks credentials by domain per
// preferSignatureToKeyAgreement.
type DefaultSource struct {
	Store                         *store.Store
	TrustEvaluator                trust.TrustEvaluator
	PreferSignatureToKeyAgreement bool

	// Consent is invoked by ShowConsentPrompt; a CLI or UI host installs
	// the actual prompting logic here. Returning (nil, err) with a
	// non-nil err other than model.ErrPresentmentCanceled surfaces as a
	// hard failure of the presentment loop.
	Consent func(ctx context.Context, requester Requester, trustMetadata *trust.TrustDecision, data []ConsentItem, preselected []*store.Document) (*Selection, error)
}

// MatchDocuments returns every stored document that has at least one
// usable credential in the signature or MAC domain and at least one
// certified credential whose DocType equals docType.
func (s *DefaultSource) MatchDocuments(ctx context.Context, docType string) []*store.Document {
	now := time.Now()
	var matches []*store.Document
	for _, id := range s.Store.ListDocumentIds(ctx) {
		doc, err := s.Store.LookupDocument(ctx, id)
		if err != nil {
			continue
		}
		signatureTotal, _ := doc.CountUsableCredentials(DomainMdocSignature, now)
		macTotal, _ := doc.CountUsableCredentials(DomainMdocMAC, now)
		if signatureTotal > 0 || macTotal > 0 {
			for _, cred := range doc.Credentials() {
				if cred.DocType == docType && cred.IsCertified() {
					matches = append(matches, doc)
					break
				}
			}
		}
	}
	return matches
}

// ResolveTrust delegates to the configured trust.TrustEvaluator, using
// the requester's leaf certificate chain as the x5c evidence.
func (s *DefaultSource) ResolveTrust(ctx context.Context, requester Requester) (*trust.TrustDecision, error) {
	if s.TrustEvaluator == nil || len(requester.CertificateChain) == 0 {
		return nil, nil
	}
	subject := requester.CertificateChain[0].Subject.CommonName
	return s.TrustEvaluator.Evaluate(ctx, &trust.EvaluationRequest{
		SubjectID: subject,
		KeyType:   trust.KeyTypeX5C,
		Key:       requester.CertificateChain,
		Role:      trust.RoleVerifier,
	})
}

// ShowConsentPrompt forwards to the Consent callback.
func (s *DefaultSource) ShowConsentPrompt(
	ctx context.Context,
	requester Requester,
	trustMetadata *trust.TrustDecision,
	data []ConsentItem,
	preselectedDocuments []*store.Document,
	onDocumentsInFocus func([]*store.Document),
) (*Selection, error) {
	if onDocumentsInFocus != nil {
		onDocumentsInFocus(preselectedDocuments)
	}
	return s.Consent(ctx, requester, trustMetadata, data, preselectedDocuments)
}

// SelectCredential picks the domain to draw from (preferring MAC mode
// when preferSignatureToKeyAgreement is false and the request permits
// key agreement on a matching curve) and defers to
// Document.FindCredential for the least-used-credential rule.
func (s *DefaultSource) SelectCredential(ctx context.Context, doc *store.Document, request *mdoc.ItemsRequest, keyAgreementPossible []string) (*store.Credential, error) {
	now := time.Now()
	if !s.PreferSignatureToKeyAgreement && len(keyAgreementPossible) > 0 {
		if cred := doc.FindCredential(DomainMdocMAC, now); cred != nil {
			return cred, nil
		}
	}
	return doc.FindCredential(DomainMdocSignature, now), nil
}
