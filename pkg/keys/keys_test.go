package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestECDSARoundTripPEM(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	k, err := FromECDSAPrivateKey(priv)
	require.NoError(t, err)
	require.Equal(t, P256, k.Curve)
	require.True(t, k.IsPrivate())

	pemBytes, err := ToPrivateKeyPEM(k)
	require.NoError(t, err)

	parsed, err := FromPrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	k2, ok := parsed.(*DoubleCoordinate)
	require.True(t, ok)
	require.Equal(t, k.X, k2.X)
	require.Equal(t, k.Y, k2.Y)
	require.Equal(t, k.D, k2.D)
}

func TestECDSARoundTripCOSEKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	k, err := FromECDSAPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	encoded, err := ToCOSEKey(k)
	require.NoError(t, err)

	decoded, err := FromCOSEKey(encoded)
	require.NoError(t, err)
	k2, ok := decoded.(*DoubleCoordinate)
	require.True(t, ok)
	require.Equal(t, k, k2)
}

func TestEd25519RoundTripJWK(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	k := FromEd25519PrivateKey(priv)

	j, err := ToJWK(k)
	require.NoError(t, err)

	back, err := FromJWK(j)
	require.NoError(t, err)
	okp, ok := back.(*Okp)
	require.True(t, ok)
	require.Equal(t, []byte(pub), okp.X)
}

func TestCurveSize(t *testing.T) {
	size, err := P521.Size()
	require.NoError(t, err)
	require.Equal(t, 66, size)

	size, err = BrainpoolP320R1.Size()
	require.NoError(t, err)
	require.Equal(t, 40, size)
}
