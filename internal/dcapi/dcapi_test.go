package dcapi

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"mdoccore/internal/presentment"
	"mdoccore/internal/store"
	"mdoccore/pkg/logger"
	"mdoccore/pkg/mdoc"
	"mdoccore/pkg/model"
	"mdoccore/pkg/signing"
	"mdoccore/pkg/trace"
	"mdoccore/pkg/trust"

	"github.com/stretchr/testify/require"
)

// rawSigner signs exactly the bytes it is handed, matching the raw
// digest contract SigningKey.CryptoSigner relies on.
type rawSigner struct {
	priv *ecdsa.PrivateKey
}

func (s *rawSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, s.priv, digest)
}
func (s *rawSigner) Algorithm() string { return "ES256" }
func (s *rawSigner) KeyID() string     { return "device-key" }
func (s *rawSigner) PublicKey() any    { return &s.priv.PublicKey }

func testTracer(t *testing.T) *trace.Tracer {
	t.Helper()
	cfg := &model.Cfg{Common: model.Common{Tracing: model.Tracing{Addr: "localhost:4318", Timeout: 1}}}
	tracer, err := trace.New(context.Background(), cfg, logger.NewSimple("test"), "test", "dcapi-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer
}

func selfSignedCert(t *testing.T, priv *ecdsa.PrivateKey, cn string) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func issueTestCredential(t *testing.T) *store.Credential {
	t.Helper()

	dsKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	dsCert := selfSignedCert(t, dsKey, "Test DS")

	issuer, err := mdoc.NewIssuer(mdoc.IssuerConfig{
		SignerKey:        dsKey,
		CertificateChain: []*x509.Certificate{dsCert},
		DefaultValidity:  365 * 24 * time.Hour,
		DigestAlgorithm:  mdoc.DigestAlgorithmSHA256,
	})
	require.NoError(t, err)

	devicePriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	issued, err := issuer.Issue(&mdoc.IssuanceRequest{
		DevicePublicKey: &devicePriv.PublicKey,
		MDoc: &mdoc.MDoc{
			FamilyName:           "Andersson",
			GivenName:            "Erik",
			BirthDate:            "1990-03-15",
			IssueDate:            "2024-01-01",
			ExpiryDate:           "2034-01-01",
			IssuingCountry:       "SE",
			IssuingAuthority:     "Transportstyrelsen",
			DocumentNumber:       "SE1234567",
			Portrait:             []byte{0xFF, 0xD8, 0xFF},
			DrivingPrivileges:    []mdoc.DrivingPrivilege{{VehicleCategoryCode: "B"}},
			UNDistinguishingSign: "S",
		},
	})
	require.NoError(t, err)

	encoder, err := mdoc.NewCBOREncoder()
	require.NoError(t, err)
	issuerProvidedData, err := encoder.Marshal(issued.Document.IssuerSigned)
	require.NoError(t, err)

	signingKey := signing.NewExplicitSigningKey(&rawSigner{priv: devicePriv}, signing.VariantAnonymous, "", nil, &devicePriv.PublicKey)

	return &store.Credential{
		Identifier:         "cred-1",
		Domain:             presentment.DomainMdocSignature,
		DocType:            mdoc.DocType,
		State:              store.StateCertified,
		ValidFrom:          issued.ValidFrom,
		ValidUntil:         issued.ValidUntil,
		IssuerProvidedData: issuerProvidedData,
		Key:                signingKey,
	}
}

// fakeSource always matches its one document, accepts every consent
// prompt, and presents the document's only credential.
type fakeSource struct {
	doc *store.Document
}

func (s *fakeSource) MatchDocuments(ctx context.Context, docType string) []*store.Document {
	for _, c := range s.doc.Credentials() {
		if c.DocType == docType && c.IsCertified() {
			return []*store.Document{s.doc}
		}
	}
	return nil
}

func (s *fakeSource) ResolveTrust(ctx context.Context, requester presentment.Requester) (*trust.TrustDecision, error) {
	return nil, nil
}

func (s *fakeSource) ShowConsentPrompt(
	ctx context.Context,
	requester presentment.Requester,
	trustMetadata *trust.TrustDecision,
	data []presentment.ConsentItem,
	preselected []*store.Document,
	onDocumentsInFocus func([]*store.Document),
) (*presentment.Selection, error) {
	if onDocumentsInFocus != nil {
		onDocumentsInFocus(preselected)
	}
	return &presentment.Selection{Documents: preselected}, nil
}

func (s *fakeSource) SelectCredential(ctx context.Context, doc *store.Document, request *mdoc.ItemsRequest, keyAgreementPossible []string) (*store.Credential, error) {
	return doc.FindCredential(presentment.DomainMdocSignature, time.Now())
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(context.Background(), &model.Cfg{}, logger.NewSimple("test"), testTracer(t), store.NewMemoryBackend())
	require.NoError(t, err)
	return st
}

func buildRequest(t *testing.T, recipientPub []byte, origin string) *Request {
	t.Helper()

	encoder, err := mdoc.NewCBOREncoder()
	require.NoError(t, err)

	itemsRequestBytes, err := encoder.Marshal(mdoc.ItemsRequest{
		DocType: mdoc.DocType,
		NameSpaces: map[string]map[string]bool{
			mdoc.Namespace: {"given_name": false, "family_name": false},
		},
	})
	require.NoError(t, err)
	deviceRequestBytes, err := encoder.Marshal(mdoc.DeviceRequest{
		Version:     "1.0",
		DocRequests: []mdoc.DocRequest{{ItemsRequest: itemsRequestBytes}},
	})
	require.NoError(t, err)

	var encryptionInfo EncryptionInfo
	encryptionInfo.Type = "dcapi"
	encryptionInfo.Params.RecipientPublicKey = recipientPub
	encryptionInfoBytes, err := encoder.Marshal(encryptionInfo)
	require.NoError(t, err)

	return &Request{
		Protocol: "org.iso.mdoc",
		Origin:   origin,
		Data: map[string]string{
			"deviceRequest":  base64.RawURLEncoding.EncodeToString(deviceRequestBytes),
			"encryptionInfo": base64.RawURLEncoding.EncodeToString(encryptionInfoBytes),
		},
	}
}

func TestDispatchCompletesISOMdocRoundTrip(t *testing.T) {
	ctx := context.Background()

	st := newTestStore(t)
	cred := issueTestCredential(t)
	doc, err := st.CreateDocument(ctx, &store.Document{DisplayName: "Driving licence", Created: time.Now()})
	require.NoError(t, err)
	doc.AddCredential(cred)

	recipientPub, recipientPriv, err := responseSuite.GenerateKeyPair()
	require.NoError(t, err)
	recipientPubBytes, err := recipientPub.MarshalBinary()
	require.NoError(t, err)

	origin := "https://verifier.example"
	req := buildRequest(t, recipientPubBytes, origin)

	dispatcher := New(&fakeSource{doc: doc}, st, mdoc.NewReaderTrustList(), logger.NewSimple("test"))
	resp, err := dispatcher.Dispatch(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "org.iso.mdoc", resp.Protocol)

	wrappedBytes, err := base64.RawURLEncoding.DecodeString(resp.Data["response"])
	require.NoError(t, err)

	encoder, err := mdoc.NewCBOREncoder()
	require.NoError(t, err)
	var wrapped dcapiPayload
	require.NoError(t, encoder.Unmarshal(wrappedBytes, &wrapped))
	require.Equal(t, "dcapi", wrapped.Type)

	var encryptionInfo EncryptionInfo
	encryptionInfo.Type = "dcapi"
	encryptionInfo.Params.RecipientPublicKey = recipientPubBytes
	encryptionInfoBytes, err := encoder.Marshal(encryptionInfo)
	require.NoError(t, err)
	transcript, err := BuildSessionTranscript(encryptionInfoBytes, origin)
	require.NoError(t, err)

	plaintext, err := responseSuite.Open(recipientPriv, wrapped.Payload.Enc, nil, transcript, wrapped.Payload.CipherText)
	require.NoError(t, err)

	response, err := mdoc.DecodeDeviceResponse(plaintext)
	require.NoError(t, err)
	require.Equal(t, uint(0), response.Status)
	require.Len(t, response.Documents, 1)
	require.Equal(t, mdoc.DocType, response.Documents[0].DocType)

	updatedDoc, err := st.LookupDocument(ctx, doc.Identifier)
	require.NoError(t, err)
	require.Equal(t, 1, updatedDoc.Credentials()[0].UsageCount)
}

func TestDispatchRejectsUnsupportedProtocol(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	dispatcher := New(&fakeSource{}, st, mdoc.NewReaderTrustList(), logger.NewSimple("test"))
	_, err := dispatcher.Dispatch(ctx, &Request{Protocol: "openid4vp", Data: map[string]string{}})
	require.ErrorIs(t, err, ErrUnsupportedProtocol)
}
