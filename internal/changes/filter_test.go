package changes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_NoPrivateIsIdentity(t *testing.T) {
	t.Parallel()
	payload := []byte(`[{"@id":"x","@type":"Post"},{"@id":"y","@type":"Idea","private":null}]`)

	for _, rs := range []RoleSet{
		NewRoleSet(),
		NewRoleSet(RoleEveryone),
		NewRoleSet(RoleEveryone, RoleAuthenticated, "r:moderator"),
	} {
		out, ok, err := Filter(payload, rs)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload, out, "payload without private descriptors must pass byte-for-byte")
	}
}

func TestFilter_PrivateAudience(t *testing.T) {
	t.Parallel()
	payload := []byte(`[{"@id":"x","private":["r:moderator"]}]`)

	_, ok, err := Filter(payload, NewRoleSet(RoleEveryone))
	require.NoError(t, err)
	assert.False(t, ok, "everyone must not see a moderator-only descriptor")

	out, ok, err := Filter(payload, NewRoleSet(RoleEveryone, "r:moderator"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(payload), string(out))
}

func TestFilter_SysadminBypass(t *testing.T) {
	t.Parallel()
	payload := []byte(`[{"@id":"x","private":["r:moderator"]}]`)

	out, ok, err := Filter(payload, NewRoleSet(RoleSysadmin))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, out)
}

func TestFilter_PartialKeep(t *testing.T) {
	t.Parallel()
	payload := []byte(`[{"@id":"a"},{"@id":"b","private":["r:moderator"]},{"@id":"c","private":["everyone"]}]`)

	out, ok, err := Filter(payload, NewRoleSet(RoleEveryone))
	require.NoError(t, err)
	require.True(t, ok)

	var kept []map[string]any
	require.NoError(t, json.Unmarshal(out, &kept))
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0]["@id"])
	assert.Equal(t, "c", kept[1]["@id"])
}

func TestFilter_DropsEmptyEnvelope(t *testing.T) {
	t.Parallel()
	payload := []byte(`[{"@id":"a","private":["r:admin"]},{"@id":"b","private":[]}]`)

	out, ok, err := Filter(payload, NewRoleSet(RoleEveryone, RoleAuthenticated))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestFilter_BadPayload(t *testing.T) {
	t.Parallel()
	for _, payload := range [][]byte{
		[]byte(`{"not":"an array"}`),
		[]byte(`[42]`),
		[]byte(`not json`),
	} {
		_, ok, err := Filter(payload, NewRoleSet(RoleEveryone))
		assert.Error(t, err)
		assert.False(t, ok)
	}
}

func TestRoleSet(t *testing.T) {
	t.Parallel()
	rs := NewRoleSet(RoleEveryone)
	rs.Add("r:participant")

	assert.True(t, rs.Has(RoleEveryone))
	assert.False(t, rs.Has(RoleSysadmin))
	assert.True(t, rs.Intersects([]string{"r:other", "r:participant"}))
	assert.False(t, rs.Intersects([]string{"r:other"}))
	assert.False(t, rs.Intersects(nil))
}
