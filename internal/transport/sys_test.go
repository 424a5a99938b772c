package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraverseKeyPath_WalksNestedMaps(t *testing.T) {
	v := map[string]interface{}{
		"hostname": "gateway-01",
		"nested":   map[string]interface{}{"inner": 42},
	}

	got, err := traverseKeyPath(v, []string{"nested", "inner"})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestTraverseKeyPath_MissingKeyReturnsNilNotError(t *testing.T) {
	v := map[string]interface{}{"a": 1}
	got, err := traverseKeyPath(v, []string{"b"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTraverseKeyPath_IndexingNonMapErrors(t *testing.T) {
	_, err := traverseKeyPath(42, []string{"x"})
	assert.Error(t, err)
}

func TestInvokeSysMethod_UnknownModuleErrors(t *testing.T) {
	_, err := invokeSysMethod("nope", "nope", nil)
	assert.Error(t, err)
}

func TestInvokeSysMethod_TimeNow(t *testing.T) {
	v, err := invokeSysMethod("time", "now", nil)
	require.NoError(t, err)
	m, ok := v.(map[string]interface{})
	require.True(t, ok)
	_, ok = m["unix"]
	assert.True(t, ok)
}
