package serializer

import (
	"testing"

	"corekit.dev/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	s := NewJSON()
	data, err := s.Encode(map[string]any{"hello": "world"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, s.Decode(data, &out))
	assert.Equal(t, "world", out["hello"])
}

func TestJSONDecodeFailureIsSerializationFailed(t *testing.T) {
	s := NewJSON()
	var out map[string]any
	err := s.Decode([]byte("{not json"), &out)
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.SerializationFailed, code)
}
