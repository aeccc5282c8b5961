package presentment

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"mdoccore/internal/store"
	"mdoccore/pkg/logger"
	"mdoccore/pkg/mdoc"
	"mdoccore/pkg/model"
	"mdoccore/pkg/trace"
)

const (
	firstMessageTimeout      = 10 * time.Second
	subsequentMessageTimeout = 30 * time.Second
)

// Iso18013Presentment drives one ISO/IEC 18013-5 presentment session
// over an already-engaged Transport: the request loop of spec §4.11.
type Iso18013Presentment struct {
	Model     *Model
	Transport Transport
	Source    PresentmentSource
	Store     *store.Store

	TrustedReaders *mdoc.ReaderTrustList

	// StatusCheck, if set, is consulted during credential selection: a
	// credential whose status-list reference reports it revoked or
	// suspended is treated the same as a secure-area invalidation —
	// deleted and failed over, per spec §7.
	StatusCheck *mdoc.VerifierStatusCheck

	// EDevicePrivateKey is the device's ephemeral key generated during
	// engagement; it pairs with the reader's ephemeral public key
	// carried in the first SessionEstablishment message.
	EDevicePrivateKey *ecdsa.PrivateKey

	// BuildSessionTranscript computes the CBOR SessionTranscript once
	// the reader's ephemeral public key (still COSE_Key-encoded) is
	// known, per §4.8/§4.9; the device/reader engagement and handover
	// bytes it closes over are out of this module's scope.
	BuildSessionTranscript func(eReaderKeyBytes []byte) ([]byte, error)

	log    *logger.Log
	tracer *trace.Tracer

	session             *mdoc.SessionEncryption
	sessionTranscript   []byte
	receivedFirst       bool
	receivedTermination bool
}

// New constructs an Iso18013Presentment ready to Run.
func New(transport Transport, source PresentmentSource, st *store.Store, trustedReaders *mdoc.ReaderTrustList, eDeviceKey *ecdsa.PrivateKey, buildTranscript func([]byte) ([]byte, error), log *logger.Log, tracer *trace.Tracer) *Iso18013Presentment {
	return &Iso18013Presentment{
		Model:                  NewModel(),
		Transport:              transport,
		Source:                 source,
		Store:                  st,
		TrustedReaders:         trustedReaders,
		EDevicePrivateKey:      eDeviceKey,
		BuildSessionTranscript: buildTranscript,
		log:                    log.New("presentment"),
		tracer:                 tracer,
	}
}

// Run executes the request loop until the session completes,
// cancels, or errors. It always leaves the transport closed.
func (p *Iso18013Presentment) Run(ctx context.Context) error {
	err := p.run(ctx)
	p.cleanup(ctx)
	p.Model.setCompleted(err)
	return err
}

func (p *Iso18013Presentment) run(ctx context.Context) error {
	p.Model.setConnecting()
	state, err := p.Transport.WaitConnected(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrTransportClosed, err)
	}
	if state != TransportConnected {
		return fmt.Errorf("%w: transport reached state %d while connecting", model.ErrTransportClosed, state)
	}

	for {
		p.Model.setWaitingForReader()

		frame, err := p.receiveNext(ctx)
		if err != nil {
			return err
		}
		if p.Model.isCanceled() {
			return model.ErrPresentmentCanceled
		}

		done, err := p.handleFrame(ctx, frame)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		p.Model.incrementRequestCount()
	}
}

func (p *Iso18013Presentment) receiveNext(ctx context.Context) ([]byte, error) {
	timeout := subsequentMessageTimeout
	if !p.receivedFirst {
		timeout = firstMessageTimeout
	}

	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := p.Transport.Receive(recvCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w", model.ErrPresentmentTimeout)
		}
		return nil, fmt.Errorf("%w: %s", model.ErrTransportClosed, err)
	}
	return frame, nil
}

// handleFrame processes one reader message. It returns done=true when
// the session should end cleanly (a termination message, or an empty
// payload).
func (p *Iso18013Presentment) handleFrame(ctx context.Context, frame []byte) (bool, error) {
	_, span := p.tracer.Start(ctx, "presentment:handleFrame")
	defer span.End()

	encryptedData, status, err := p.establishOrExtract(frame)
	if err != nil {
		return false, err
	}
	p.receivedFirst = true

	if status != nil && *status == mdoc.SessionStatusSessionTerminated {
		p.receivedTermination = true
		return true, nil
	}
	if len(encryptedData) == 0 {
		// SessionEstablishment carried no request data (engagement-only
		// handshake) or an empty payload; per §4.11 step 4 this ends the
		// session cleanly.
		return true, nil
	}

	plaintext, err := p.session.Decrypt(encryptedData)
	if err != nil {
		return false, fmt.Errorf("%w: %s", model.ErrDecrypt, err)
	}

	encoder, err := mdoc.NewCBOREncoder()
	if err != nil {
		return false, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}

	var deviceRequest mdoc.DeviceRequest
	if err := encoder.Unmarshal(plaintext, &deviceRequest); err != nil {
		return false, fmt.Errorf("%w: device request: %s", model.ErrInvalidEncoding, err)
	}

	responseBytes, err := p.answer(ctx, &deviceRequest)
	if err != nil {
		return false, err
	}

	p.Model.setSending()
	ciphertext, err := p.session.Encrypt(responseBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %s", model.ErrDecrypt, err)
	}
	outFrame, err := encoder.Marshal(mdoc.SessionData{Data: ciphertext})
	if err != nil {
		return false, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	if err := p.Transport.Send(ctx, outFrame); err != nil {
		return false, fmt.Errorf("%w: %s", model.ErrTransportClosed, err)
	}

	return false, nil
}

// establishOrExtract handles the first message (a SessionEstablishment
// carrying the reader's ephemeral key and deriving session keys) and
// every subsequent message (plain SessionData). It returns the
// encrypted payload to decrypt (nil if there is none) and the session
// status code, if the message carried one.
func (p *Iso18013Presentment) establishOrExtract(frame []byte) ([]byte, *uint, error) {
	encoder, err := mdoc.NewCBOREncoder()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}

	if !p.receivedFirst {
		var establishment mdoc.SessionEstablishment
		if err := encoder.Unmarshal(frame, &establishment); err != nil {
			return nil, nil, fmt.Errorf("%w: session establishment: %s", model.ErrInvalidEncoding, err)
		}

		var eReaderKey mdoc.COSEKey
		if err := encoder.Unmarshal(establishment.EReaderKeyBytes, &eReaderKey); err != nil {
			return nil, nil, fmt.Errorf("%w: reader key: %s", model.ErrInvalidEncoding, err)
		}
		pub, err := eReaderKey.ToPublicKey()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reader key: %s", model.ErrUnsupportedAlgorithm, err)
		}
		eReaderPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, nil, fmt.Errorf("%w: reader key is not an EC2 key", model.ErrUnsupportedAlgorithm)
		}

		transcript, err := p.BuildSessionTranscript(establishment.EReaderKeyBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", model.ErrInvalidEngagement, err)
		}
		p.sessionTranscript = transcript

		session, err := mdoc.NewSessionEncryptionDevice(p.EDevicePrivateKey, eReaderPub, transcript)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", model.ErrUnsupportedAlgorithm, err)
		}
		p.session = session

		return establishment.Data, nil, nil
	}

	var sessionData mdoc.SessionData
	if err := encoder.Unmarshal(frame, &sessionData); err != nil {
		return nil, nil, fmt.Errorf("%w: session data: %s", model.ErrInvalidEncoding, err)
	}
	return sessionData.Data, sessionData.Status, nil
}

// answer runs steps 5-7 of §4.11 for one DeviceRequest over this
// session's transport-derived transcript and collaborators.
func (p *Iso18013Presentment) answer(ctx context.Context, request *mdoc.DeviceRequest) ([]byte, error) {
	return Answer(ctx, p.Source, p.Store, p.TrustedReaders, p.StatusCheck, p.sessionTranscript, p.session, request, p.Model.setWaitingForUserInput, p.log)
}

// Answer runs steps 5-7 of §4.11 for one DeviceRequest against an
// already-known sessionTranscript: verify reader auth per doc-request,
// match and select documents/credentials via the source-of-truth, and
// build and return the encoded DeviceResponse. Iso18013Presentment
// calls this over a live Transport's session transcript and ECDH
// session keys, reporting matched documents to its Model; internal/dcapi
// calls it directly over its synthetic §4.13 transcript with no
// transport, no ECDH session (pass session = nil; a MAC-domain
// credential then fails rather than presenting unauthenticated data),
// and no model to report to (pass onMatched = nil), per spec's "run
// the request pipeline once, in-process" dispatch.
func Answer(ctx context.Context, source PresentmentSource, st *store.Store, trustedReaders *mdoc.ReaderTrustList, statusCheck *mdoc.VerifierStatusCheck, sessionTranscript []byte, session *mdoc.SessionEncryption, request *mdoc.DeviceRequest, onMatched func([]string), log *logger.Log) ([]byte, error) {
	verifier := mdoc.NewReaderAuthVerifier(sessionTranscript, trustedReaders)

	var consentItems []ConsentItem
	var matchedDocs []*store.Document
	docForItems := map[string]*store.Document{}
	requester := Requester{}

	type verifiedRequest struct {
		items *mdoc.ItemsRequest
	}
	var verified []verifiedRequest

	for i, docRequest := range request.DocRequests {
		var itemsRequest *mdoc.ItemsRequest

		if mdoc.HasReaderAuth(&docRequest) {
			items, cert, err := verifier.VerifyAndFilterRequest(docRequest.ReaderAuth, docRequest.ItemsRequest)
			if err != nil {
				return nil, model.NewErrorDetails(model.ErrSignatureVerification, "reader authentication failed", i)
			}
			itemsRequest = items
			if cert != nil && len(requester.CertificateChain) == 0 {
				requester.CertificateChain = []*x509.Certificate{cert}
			}
		} else {
			encoder, err := mdoc.NewCBOREncoder()
			if err != nil {
				return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
			}
			var items mdoc.ItemsRequest
			if err := encoder.Unmarshal(docRequest.ItemsRequest, &items); err != nil {
				return nil, fmt.Errorf("%w: items request: %s", model.ErrInvalidEncoding, err)
			}
			itemsRequest = &items
		}

		verified = append(verified, verifiedRequest{items: itemsRequest})
		consentItems = append(consentItems, ConsentItem{DocType: itemsRequest.DocType, NameSpaces: itemsRequest.NameSpaces})

		for _, doc := range source.MatchDocuments(ctx, itemsRequest.DocType) {
			if _, seen := docForItems[doc.Identifier]; !seen {
				matchedDocs = append(matchedDocs, doc)
				docForItems[doc.Identifier] = doc
			}
		}
	}

	trustMetadata, _ := source.ResolveTrust(ctx, requester)

	if onMatched != nil {
		onMatched(identifiers(matchedDocs))
	}
	selection, err := source.ShowConsentPrompt(ctx, requester, trustMetadata, consentItems, matchedDocs, nil)
	if err != nil {
		return nil, err
	}
	if selection == nil || len(selection.Documents) == 0 {
		return nil, model.ErrPresentmentCanceled
	}

	response := &mdoc.DeviceResponse{Version: "1.0", Status: 0}

	for _, vr := range verified {
		doc := findDocumentForType(selection.Documents, vr.items.DocType)
		if doc == nil {
			response.DocumentErrors = append(response.DocumentErrors, map[string]int{vr.items.DocType: mdoc.ErrorDataNotReturned})
			continue
		}

		builtDoc, cred, err := selectAndBuildWithFailover(ctx, source, st, statusCheck, session, sessionTranscript, doc, vr.items, log)
		if err != nil {
			return nil, err
		}
		if builtDoc == nil {
			response.DocumentErrors = append(response.DocumentErrors, map[string]int{vr.items.DocType: mdoc.ErrorDataNotReturned})
			continue
		}
		response.Documents = append(response.Documents, *builtDoc)

		if err := st.WithDocumentLock(ctx, doc.Identifier, func(d *store.Document) error {
			for _, c := range d.Credentials() {
				if c.Identifier == cred.Identifier {
					c.IncrementUsage()
				}
			}
			return nil
		}); err != nil && log != nil {
			log.Info("failed to persist credential usage count", "document", doc.Identifier, "error", err.Error())
		}
	}

	return mdoc.EncodeDeviceResponse(response)
}

// selectAndBuildWithFailover asks source for a credential and builds
// its response document, per spec §7: a secure-area credential that
// reports itself invalidated while signing, or whose status-list
// reference reports it revoked or suspended, is deleted (logged) and
// the selection retried against the next matching credential, since
// the deletion removes it from doc and source.SelectCredential draws
// from doc's live credential set. It returns a nil document with a nil
// error once no matching credential remains, so the caller records a
// per-document error instead of aborting the whole response; any other
// build error aborts the request immediately.
func selectAndBuildWithFailover(ctx context.Context, source PresentmentSource, st *store.Store, statusCheck *mdoc.VerifierStatusCheck, session *mdoc.SessionEncryption, sessionTranscript []byte, doc *store.Document, items *mdoc.ItemsRequest, log *logger.Log) (*mdoc.Document, *store.Credential, error) {
	for {
		cred, err := source.SelectCredential(ctx, doc, items, nil)
		if err != nil || cred == nil {
			return nil, nil, nil
		}

		built, err := buildDocument(session, sessionTranscript, doc, cred, items)
		if err == nil {
			if revoked := statusRevoked(ctx, statusCheck, built); revoked {
				if log != nil {
					log.Info("credential status list reports revocation, deleting credential and failing over", "document", doc.Identifier, "credential", cred.Identifier)
				}
				if delErr := st.DeleteCredential(ctx, doc.Identifier, cred.Identifier); delErr != nil && log != nil {
					log.Info("failed to delete revoked credential", "document", doc.Identifier, "credential", cred.Identifier, "error", delErr.Error())
				}
				continue
			}
			return built, cred, nil
		}
		if !errors.Is(err, model.ErrKeyInvalidated) {
			return nil, nil, err
		}

		if log != nil {
			log.Info("secure-area key invalidated, deleting credential and failing over", "document", doc.Identifier, "credential", cred.Identifier)
		}
		if delErr := st.DeleteCredential(ctx, doc.Identifier, cred.Identifier); delErr != nil && log != nil {
			log.Info("failed to delete invalidated credential", "document", doc.Identifier, "credential", cred.Identifier, "error", delErr.Error())
		}
	}
}

// statusRevoked reports whether built's status-list reference (if any)
// marks it invalid or suspended. A nil statusCheck, a credential with
// no status reference, or a check failure (network error, malformed
// list) are all treated as not-revoked: status checking is a best
// effort signal layered on top of, not a replacement for, issuer
// validity windows.
func statusRevoked(ctx context.Context, statusCheck *mdoc.VerifierStatusCheck, built *mdoc.Document) bool {
	if statusCheck == nil || built == nil {
		return false
	}
	result, err := statusCheck.CheckDocumentStatus(ctx, built)
	if err != nil || result == nil {
		return false
	}
	return result.Status == mdoc.CredentialStatusInvalid || result.Status == mdoc.CredentialStatusSuspended
}

// buildDocument assembles one signed or MAC'd response document for a
// selected credential. session is the transport's ECDH-derived
// SessionEncryption (nil when the caller has no session-key material
// to derive a MAC key from, e.g. internal/dcapi's HPKE-wrapped
// dispatch); a MAC-domain credential then fails with
// ErrUnsupportedAlgorithm rather than presenting unauthenticated data.
func buildDocument(session *mdoc.SessionEncryption, sessionTranscript []byte, doc *store.Document, cred *store.Credential, itemsRequest *mdoc.ItemsRequest) (*mdoc.Document, error) {
	var issuerSigned mdoc.IssuerSigned
	encoder, err := mdoc.NewCBOREncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	if err := encoder.Unmarshal(cred.IssuerProvidedData, &issuerSigned); err != nil {
		return nil, fmt.Errorf("%w: issuer signed: %s", model.ErrInvalidEncoding, err)
	}

	builder := mdoc.NewDeviceResponseBuilder(cred.DocType).
		WithIssuerSigned(&issuerSigned).
		WithSessionTranscript(sessionTranscript).
		WithRequest(itemsRequest)

	if cred.Domain == DomainMdocMAC {
		if session == nil {
			return nil, fmt.Errorf("%w: credential %q requires a session key but none is available", model.ErrUnsupportedAlgorithm, cred.Identifier)
		}
		sessionKey, err := mdoc.DeriveDeviceAuthenticationKey(session)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedAlgorithm, err)
		}
		builder = builder.WithMACKey(sessionKey)
	} else if cred.Key != nil {
		builder = builder.WithDeviceKey(cred.Key.CryptoSigner())
	} else {
		return nil, fmt.Errorf("%w: credential %q has no usable signing key", model.ErrUnsupportedAlgorithm, cred.Identifier)
	}

	response, err := builder.Build()
	if err != nil {
		if errors.Is(err, model.ErrKeyInvalidated) || errors.Is(err, model.ErrKeyLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", model.ErrSignatureVerification, err)
	}
	if len(response.Documents) == 0 {
		return nil, fmt.Errorf("%w: empty device response document", model.ErrSignatureVerification)
	}
	return &response.Documents[0], nil
}

// cleanup runs the session-termination-exactly-once discipline of
// spec §4.11/§5: send a termination unless one was already received,
// then close the transport unconditionally.
func (p *Iso18013Presentment) cleanup(ctx context.Context) {
	if !p.receivedTermination && p.session != nil {
		encoder, err := mdoc.NewCBOREncoder()
		if err == nil {
			status := mdoc.SessionStatusSessionTerminated
			if frame, err := encoder.Marshal(mdoc.SessionData{Status: &status}); err == nil {
				_ = p.Transport.Send(ctx, frame)
			}
		}
	}
	_ = p.Transport.Close()
}

func identifiers(docs []*store.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.Identifier
	}
	return ids
}

func findDocumentForType(docs []*store.Document, docType string) *store.Document {
	for _, d := range docs {
		for _, c := range d.Credentials() {
			if c.DocType == docType && c.IsCertified() {
				return d
			}
		}
	}
	return nil
}
