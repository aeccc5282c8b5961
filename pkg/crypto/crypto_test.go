package crypto

import (
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"mdoccore/pkg/model"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/stretchr/testify/require"
)

func TestSignCheckSignatureES256RoundTrip(t *testing.T) {
	priv, err := CreateECPrivateKey(elliptic.P256())
	require.NoError(t, err)

	msg := []byte("hello mdoc")
	sig, err := Sign(priv, ES256, msg)
	require.NoError(t, err)

	require.NoError(t, CheckSignature(&priv.PublicKey, msg, ES256, sig))
}

func TestSignCheckSignatureES256WrongCurveRejected(t *testing.T) {
	priv, err := CreateECPrivateKey(elliptic.P384())
	require.NoError(t, err)

	_, err = Sign(priv, ES256, []byte("hello"))
	require.ErrorIs(t, err, model.ErrUnsupportedAlgorithm)
}

func TestSignCheckSignatureEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("hello mdoc")
	sig, err := Sign(priv, Ed25519Alg, msg)
	require.NoError(t, err)

	require.NoError(t, CheckSignature(pub, msg, Ed25519Alg, sig))
}

func TestSignCheckSignatureEd448RoundTrip(t *testing.T) {
	pub, priv, err := ed448.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("hello mdoc")
	sig, err := Sign(priv, Ed448Alg, msg)
	require.NoError(t, err)

	require.NoError(t, CheckSignature(pub, msg, Ed448Alg, sig))
}

func TestSignCheckSignatureEd448TamperedRejected(t *testing.T) {
	pub, priv, err := ed448.GenerateKey(rand.Reader)
	require.NoError(t, err)

	sig, err := Sign(priv, Ed448Alg, []byte("hello mdoc"))
	require.NoError(t, err)

	err = CheckSignature(pub, []byte("goodbye mdoc"), Ed448Alg, sig)
	require.ErrorIs(t, err, model.ErrSignatureVerification)
}

func TestSignUnsupportedAlgorithm(t *testing.T) {
	priv, err := CreateECPrivateKey(elliptic.P256())
	require.NoError(t, err)

	_, err = Sign(priv, SignAlg("ES999"), []byte("hello"))
	require.ErrorIs(t, err, model.ErrUnsupportedAlgorithm)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	nonce := make([]byte, gcmNonceLen)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	ciphertext, err := Encrypt(A128GCM, key, nonce, []byte("plaintext"), []byte("aad"))
	require.NoError(t, err)

	plaintext, err := Decrypt(A128GCM, key, nonce, ciphertext, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, "plaintext", string(plaintext))
}

func TestKeyAgreementMismatchedCurves(t *testing.T) {
	a, err := CreateECPrivateKey(elliptic.P256())
	require.NoError(t, err)
	b, err := CreateECPrivateKey(elliptic.P384())
	require.NoError(t, err)

	_, err = KeyAgreement(a, &b.PublicKey)
	require.ErrorIs(t, err, model.ErrUnsupportedAlgorithm)
}
