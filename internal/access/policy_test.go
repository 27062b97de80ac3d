package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/pkg/types"
)

func TestDefaultPolicy_VisibleForValidRoles(t *testing.T) {
	policy := &DefaultPolicy{}
	m, err := types.NewMemoryNote(types.NewMemoryNoteParams{Content: "x", Now: time.Now()})
	require.NoError(t, err)

	assert.True(t, policy.Visible(Caller{Role: RoleReadOnly}, m))
	assert.True(t, policy.Visible(Caller{Role: RoleReadWrite}, m))
	assert.True(t, policy.Visible(Caller{Role: RolePrivileged}, m))
	assert.False(t, policy.Visible(Caller{Role: "bogus"}, m))
}

func TestDefaultPolicy_OnlyPrivilegedExpandsAcrossProjects(t *testing.T) {
	policy := &DefaultPolicy{PrivilegedCredential: "secret-token"}

	assert.False(t, policy.CanExpandAcrossProjects(Caller{Role: RoleReadOnly}))
	assert.False(t, policy.CanExpandAcrossProjects(Caller{Role: RoleReadWrite}))
	assert.False(t, policy.CanExpandAcrossProjects(Caller{Role: RolePrivileged, Credential: "wrong"}))
	assert.True(t, policy.CanExpandAcrossProjects(Caller{Role: RolePrivileged, Credential: "secret-token"}))
}

func TestDefaultPolicy_NoCredentialConfiguredFailsClosed(t *testing.T) {
	policy := &DefaultPolicy{}
	assert.False(t, policy.CanExpandAcrossProjects(Caller{Role: RolePrivileged, Credential: ""}))
}

func TestFilter_PreservesOrder(t *testing.T) {
	policy := &DefaultPolicy{}
	now := time.Now()
	a, _ := types.NewMemoryNote(types.NewMemoryNoteParams{Content: "a", Now: now})
	b, _ := types.NewMemoryNote(types.NewMemoryNoteParams{Content: "b", Now: now})

	out := Filter(policy, Caller{Role: RoleReadOnly}, []*types.MemoryNote{a, b})
	require.Len(t, out, 2)
	assert.Equal(t, a.ID, out[0].ID)
	assert.Equal(t, b.ID, out[1].ID)
}
