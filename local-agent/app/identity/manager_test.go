package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

func TestManager_LoadMissing(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "identity.json"))

	ident, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, ident)
}

func TestManager_SaveLoadAndUpdate(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nested", "identity.json"))

	require.NoError(t, m.Save(&Identity{
		AgentID:       "tis-agent-001",
		TenantID:      "tenant-1",
		IntegrationID: "integration-1",
		Status:        syncproto.StatusRegistered,
	}))

	require.NoError(t, m.UpdateSyncConfig(syncproto.SyncConfig{IntervalSeconds: 60, SyncSales: true}))

	ident, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal(t, "tis-agent-001", ident.AgentID)
	assert.Equal(t, syncproto.StatusRegistered, ident.Status)
	require.NotNil(t, ident.SyncConfig)
	assert.Equal(t, 60, ident.SyncConfig.IntervalSeconds)
	assert.True(t, ident.SyncConfig.SyncSales)
}

func TestManager_UpdateWithoutIdentity(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "identity.json"))
	assert.ErrorIs(t, m.UpdateSyncConfig(syncproto.SyncConfig{}), ErrNotRegistered)
}
