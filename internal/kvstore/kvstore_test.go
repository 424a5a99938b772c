package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammpio/ammp-edge/internal/kvstore"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set("foo", map[string]string{"a": "b"}))

	var dst map[string]string
	ok, err := s.Get("foo", &dst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", dst["a"])
}

func TestStore_GetMissingKeyReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	var dst string
	ok, err := s.Get("missing", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetOverwritesExistingKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set("k", "v1"))
	require.NoError(t, s.Set("k", "v2"))

	var dst string
	ok, err := s.Get("k", &dst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", dst)
}

func TestStore_GetNetMAC(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set("env:net:mac:aa:bb:cc:dd:ee:ff", map[string]string{"ipv4": "192.168.1.10"}))

	ip, ok := s.GetNetMAC("aa:bb:cc:dd:ee:ff")
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.10", ip)
}

func TestStore_NodeIdentityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetNodeIdentity()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetNodeIdentity(kvstore.NodeIdentity{NodeID: "n1", AccessKey: "k1"}))

	id, ok, err := s.GetNodeIdentity()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "n1", id.NodeID)
	assert.Equal(t, "k1", id.AccessKey)
}
