package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	require.Len(t, buf, n)
}

func TestGenerateRandByteArray_EntropyHint(t *testing.T) {
	const n = 32
	a := GenerateRandByteArray(n)
	b := GenerateRandByteArray(n)
	if string(a) == string(b) {
		t.Logf("warning: two GenerateRandByteArray(%d) results are identical; extremely unlikely", n)
	}
}

func TestNewAssetID_Format(t *testing.T) {
	id := NewAssetID()
	require.Len(t, id, 32)
	_, err := hex.DecodeString(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewAssetID())
}

func TestTransportError_Unwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("upload: %w", &TransportError{Endpoint: EndpointCreateAssetOriginal, Err: cause})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, EndpointCreateAssetOriginal, te.Endpoint)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport error on createAssetOriginal")
}

func TestMetadataParseError_Unwraps(t *testing.T) {
	cause := errors.New("no exif")
	err := &MetadataParseError{Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "metadata parse error: no exif", err.Error())
}

func TestMakeRandHexString(t *testing.T) {
	s, err := MakeRandHexString(16)
	assert.NoError(t, err)
	assert.Len(t, s, 32)
	assert.Regexp(t, `^[0-9a-f]{32}$`, s)
}

func TestWipeByteArray(t *testing.T) {
	b := []byte("secret")
	WipeByteArray(b)
	assert.Equal(t, make([]byte, 6), b)
	WipeByteArray(nil)
}
