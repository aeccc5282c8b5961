package signing

import (
	"context"
	"testing"

	"mdoccore/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecureArea struct {
	info         KeyInfo
	sig          []byte
	deletedAlias string
}

func (f *fakeSecureArea) GetKeyInfo(alias string) (KeyInfo, error) { return f.info, nil }
func (f *fakeSecureArea) Sign(ctx context.Context, alias string, data []byte) ([]byte, error) {
	return f.sig, nil
}
func (f *fakeSecureArea) KeyAgreement(ctx context.Context, alias string, otherPublicKey []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeSecureArea) CreateKey(alias string, algorithm string) (KeyInfo, error) {
	return KeyInfo{}, nil
}
func (f *fakeSecureArea) DeleteKey(alias string) error {
	f.deletedAlias = alias
	return nil
}

func TestSecureAreaSignSucceeds(t *testing.T) {
	area := &fakeSecureArea{info: KeyInfo{Algorithm: "ES256"}, sig: []byte("sig")}
	key, err := NewSecureAreaSigningKey(area, "alias-1", VariantNamed, "kid-1", nil, nil)
	require.NoError(t, err)

	sig, err := key.Sign(context.Background(), []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []byte("sig"), sig)
}

func TestSecureAreaSignLocked(t *testing.T) {
	area := &fakeSecureArea{info: KeyInfo{Algorithm: "ES256", Locked: true}}
	key, err := NewSecureAreaSigningKey(area, "alias-1", VariantAnonymous, "", nil, nil)
	require.NoError(t, err)

	_, err = key.Sign(context.Background(), []byte("data"))
	assert.ErrorIs(t, err, model.ErrKeyLocked)
}

func TestSecureAreaSignInvalidated(t *testing.T) {
	area := &fakeSecureArea{info: KeyInfo{Algorithm: "ES256", Invalidated: true}}
	key, err := NewSecureAreaSigningKey(area, "alias-1", VariantAnonymous, "", nil, nil)
	require.NoError(t, err)

	_, err = key.Sign(context.Background(), []byte("data"))
	assert.ErrorIs(t, err, model.ErrKeyInvalidated)
}

func TestDeleteFromSecureAreaDelegatesToArea(t *testing.T) {
	area := &fakeSecureArea{info: KeyInfo{Algorithm: "ES256"}}
	key, err := NewSecureAreaSigningKey(area, "alias-1", VariantAnonymous, "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, key.DeleteFromSecureArea())
	assert.Equal(t, "alias-1", area.deletedAlias)
}

func TestDeleteFromSecureAreaNoopForExplicitKey(t *testing.T) {
	key := NewExplicitSigningKey(nil, VariantAnonymous, "", nil, nil)
	require.NoError(t, key.DeleteFromSecureArea())
}
