// Package dcapi implements the W3C Digital Credentials API dispatcher
// of spec §4.13: a single in-process entry point a browser binding
// calls with one already-received request and hands one response back
// to, with no transport of its own.
package dcapi

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"mdoccore/internal/presentment"
	"mdoccore/internal/store"
	mdoccrypto "mdoccore/pkg/crypto"
	"mdoccore/pkg/hpke"
	"mdoccore/pkg/logger"
	"mdoccore/pkg/mdoc"
	"mdoccore/pkg/model"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsupportedProtocol signals a protocol value this dispatcher does
// not handle (the openid4vp* family is out of scope here beyond the
// request/response artifacts already reused from §4.4-§4.5).
var ErrUnsupportedProtocol = errors.New("unsupported W3C DC API protocol")

// responseSuite is the HPKE cipher suite spec §4.13 names for wrapping
// the ISO mdoc protocol response: DHKEM(P-256)+HKDF-SHA256+AES-128-GCM.
var responseSuite = hpke.NewSuite(hpke.DHKEM_P256_HKDF_SHA256, hpke.HKDF_SHA256, hpke.AES128GCM)

// isoMdocProtocols are the protocol values §4.13 routes to the
// synthetic-transcript mdoc path; anything else is either the
// openid4vp* family or unsupported.
var isoMdocProtocols = map[string]bool{
	"org.iso.mdoc": true,
	"org-iso-mdoc": true,
}

// Request is one decoded W3C DC API credential request, as a browser
// binding hands it to this dispatcher: the chosen protocol, its data
// payload, and the origin the browser observed for the calling page.
type Request struct {
	Protocol string
	Data     map[string]string
	Origin   string
}

// Response is the JSON object §4.13/"W3C DC API" returns to the
// browser: {protocol, data: {response: base64url(...)}}.
type Response struct {
	Protocol string            `json:"protocol"`
	Data     map[string]string `json:"data"`
}

// Dispatcher routes one W3C DC API request to the §4.11 request
// pipeline, run once, in-process, with no Transport and no
// per-session Model: spec §4.13's "parse the wrapped DeviceRequest,
// run the request pipeline once (no transport)".
type Dispatcher struct {
	Source         presentment.PresentmentSource
	Store          *store.Store
	TrustedReaders *mdoc.ReaderTrustList

	// StatusCheck, if set, is consulted during credential selection per
	// spec §7's revocation failover (see presentment.Answer).
	StatusCheck *mdoc.VerifierStatusCheck

	log *logger.Log
}

// New constructs a Dispatcher.
func New(source presentment.PresentmentSource, st *store.Store, trustedReaders *mdoc.ReaderTrustList, log *logger.Log) *Dispatcher {
	return &Dispatcher{
		Source:         source,
		Store:          st,
		TrustedReaders: trustedReaders,
		log:            log.New("dcapi"),
	}
}

// Dispatch answers req and returns the JSON response body.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	switch {
	case isoMdocProtocols[req.Protocol]:
		return d.dispatchISOMdoc(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, req.Protocol)
	}
}

// DispatchSignedRequest verifies a JWS-wrapped request's x5c header
// against TrustedReaders before dispatching, per §4.13's signed
// request variant.
func (d *Dispatcher) DispatchSignedRequest(ctx context.Context, jws string) (*Response, error) {
	var leaf *x509.Certificate

	keyFunc := func(token *jwt.Token) (any, error) {
		cert, err := leafFromX5C(token, d.TrustedReaders)
		if err != nil {
			return nil, err
		}
		leaf = cert
		return cert.PublicKey, nil
	}

	token, err := jwt.Parse(jws, keyFunc)
	if err != nil {
		return nil, model.NewErrorDetails(model.ErrSignatureVerification, "signed DC API request", err.Error())
	}
	if !token.Valid || leaf == nil {
		return nil, model.NewError(model.ErrSignatureVerification, "signed DC API request is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, model.NewError(model.ErrInvalidEncoding, "signed DC API request claims")
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: signed request payload: %s", model.ErrInvalidEncoding, err)
	}

	return d.Dispatch(ctx, &req)
}

// leafFromX5C extracts and trust-checks the leaf certificate from a
// JWS's x5c header, the way §4.13's signed request variant requires.
func leafFromX5C(token *jwt.Token, trustedReaders *mdoc.ReaderTrustList) (*x509.Certificate, error) {
	raw, ok := token.Header["x5c"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New("missing x5c header")
	}

	chain := make([]*x509.Certificate, 0, len(raw))
	for _, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, errors.New("malformed x5c entry")
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("x5c entry: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c entry: %w", err)
		}
		chain = append(chain, cert)
	}

	if trustedReaders != nil {
		if err := trustedReaders.IsTrusted(chain); err != nil {
			return nil, fmt.Errorf("reader certificate not trusted: %w", err)
		}
	}
	return chain[0], nil
}

// dispatchISOMdoc implements §4.13's ISO mdoc protocol path: build the
// synthetic session transcript, run the request pipeline once, and
// HPKE-wrap the response toward the browser-supplied recipient key.
func (d *Dispatcher) dispatchISOMdoc(ctx context.Context, req *Request) (*Response, error) {
	deviceRequestB64, ok := req.Data["deviceRequest"]
	if !ok {
		return nil, fmt.Errorf("%w: missing deviceRequest", model.ErrInvalidEncoding)
	}
	encryptionInfoB64, ok := req.Data["encryptionInfo"]
	if !ok {
		return nil, fmt.Errorf("%w: missing encryptionInfo", model.ErrInvalidEncoding)
	}

	deviceRequestBytes, err := base64.RawURLEncoding.DecodeString(deviceRequestB64)
	if err != nil {
		return nil, fmt.Errorf("%w: deviceRequest: %s", model.ErrInvalidEncoding, err)
	}
	encryptionInfoBytes, err := base64.RawURLEncoding.DecodeString(encryptionInfoB64)
	if err != nil {
		return nil, fmt.Errorf("%w: encryptionInfo: %s", model.ErrInvalidEncoding, err)
	}

	encoder, err := mdoc.NewCBOREncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}

	var encryptionInfo EncryptionInfo
	if err := encoder.Unmarshal(encryptionInfoBytes, &encryptionInfo); err != nil {
		return nil, fmt.Errorf("%w: encryptionInfo: %s", model.ErrInvalidEncoding, err)
	}

	transcript, err := BuildSessionTranscript(encryptionInfoBytes, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEngagement, err)
	}

	var deviceRequest mdoc.DeviceRequest
	if err := encoder.Unmarshal(deviceRequestBytes, &deviceRequest); err != nil {
		return nil, fmt.Errorf("%w: device request: %s", model.ErrInvalidEncoding, err)
	}

	responseBytes, err := presentment.Answer(ctx, d.Source, d.Store, d.TrustedReaders, d.StatusCheck, transcript, nil, &deviceRequest, nil, d.log)
	if err != nil {
		return nil, err
	}

	recipientPub, err := responseSuite.UnmarshalPublicKey(encryptionInfo.Params.RecipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient key: %s", model.ErrUnsupportedAlgorithm, err)
	}

	enc, ciphertext, err := responseSuite.Seal(recipientPub, nil, transcript, responseBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedAlgorithm, err)
	}

	wrapped := dcapiPayload{Type: "dcapi"}
	wrapped.Payload.Enc = enc
	wrapped.Payload.CipherText = ciphertext
	wrappedBytes, err := encoder.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
	}

	return &Response{
		Protocol: req.Protocol,
		Data:     map[string]string{"response": base64.RawURLEncoding.EncodeToString(wrappedBytes)},
	}, nil
}

// EncryptionInfo is the CBOR ["dcapi", {recipientPublicKey}] blob a DC
// API ISO mdoc request carries, naming the HPKE recipient key the
// response must be wrapped toward.
type EncryptionInfo struct {
	_      struct{} `cbor:",toarray"`
	Type   string
	Params struct {
		RecipientPublicKey []byte `cbor:"recipientPublicKey"`
	}
}

// dcapiPayload is the CBOR ["dcapi", {enc, cipherText}] response
// wrapper §4.13 specifies.
type dcapiPayload struct {
	_       struct{} `cbor:",toarray"`
	Type    string
	Payload struct {
		Enc        []byte `cbor:"enc"`
		CipherText []byte `cbor:"cipherText"`
	}
}

// BuildSessionTranscript computes the synthetic §4.13 SessionTranscript
// for the DC API's ISO mdoc protocol path:
// [null, null, ["dcapi", SHA-256(CBOR([encryptionInfo, origin]))]].
func BuildSessionTranscript(encryptionInfoBytes []byte, origin string) ([]byte, error) {
	encoder, err := mdoc.NewCBOREncoder()
	if err != nil {
		return nil, err
	}

	handoverInput, err := encoder.Marshal([]any{encryptionInfoBytes, origin})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover input: %w", err)
	}
	digest, err := mdoccrypto.Digest(mdoccrypto.SHA256, handoverInput)
	if err != nil {
		return nil, fmt.Errorf("failed to digest handover input: %w", err)
	}

	transcript, err := encoder.Marshal([]any{nil, nil, []any{"dcapi", digest}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return transcript, nil
}
