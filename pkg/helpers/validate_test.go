package helpers

import (
	"testing"

	"mdoccore/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentialSelectionQuery struct {
	Domain string `json:"domain" validate:"required"`
	DocType string `json:"doc_type" validate:"required"`
}

func TestCheckSimpleOK(t *testing.T) {
	err := CheckSimple(&credentialSelectionQuery{Domain: "mdoc_signature", DocType: "org.iso.18013.5.1.mDL"})
	assert.NoError(t, err)
}

func TestCheckSimpleMissingRequiredField(t *testing.T) {
	err := CheckSimple(&credentialSelectionQuery{DocType: "org.iso.18013.5.1.mDL"})
	require.Error(t, err)

	modelErr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, "validation_error", modelErr.Title)

	details, ok := modelErr.Err.([]map[string]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	assert.Equal(t, "domain", details[0]["field"])
	assert.Equal(t, "required", details[0]["validation"])
}

func TestCheckSimpleCfgMissingCommon(t *testing.T) {
	err := CheckSimple(&model.Cfg{})
	require.Error(t, err)
}
