package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/dto"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/testutil"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

func newAdmin(t *testing.T) (*AdminService, *AuthValidator, *testutil.MemoryStore, *testclock.Clock) {
	t.Helper()
	store := testutil.NewMemoryStore()
	clk := testclock.NewClock(t0)
	admin := NewAdminService(store, 24*time.Hour, clk, zap.NewNop())
	return admin, NewAuthValidator(store, clk, zap.NewNop()), store, clk
}

func TestAdmin_CreateAgentDefaults(t *testing.T) {
	admin, validator, _, _ := newAdmin(t)
	ctx := context.Background()

	inst, secret, err := admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(inst.AgentID, "tis-agent-"))
	assert.True(t, strings.HasPrefix(secret, "tis_"))
	assert.Len(t, secret, len("tis_")+64)
	assert.Equal(t, syncproto.StatusPending, inst.Status)
	assert.Equal(t, syncproto.SyncConfig{
		IntervalSeconds: 30, SyncMenu: true, SyncInventory: true, SyncSales: true, SyncTables: true,
	}, inst.SyncConfig())
	assert.Equal(t, t0.Add(24*time.Hour), inst.TokenExpiresAt)
	assert.NotEqual(t, secret, inst.AuthTokenHash)

	_, err = validator.Validate(ctx, inst.AgentID, secret)
	assert.NoError(t, err)
}

func TestAdmin_OneLiveAgentPerIntegration(t *testing.T) {
	admin, _, _, _ := newAdmin(t)
	ctx := context.Background()

	first, _, err := admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	require.NoError(t, err)

	_, _, err = admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, admin.DeleteAgent(ctx, testTenant, first.AgentID))
	_, err = admin.GetAgent(ctx, testTenant, first.AgentID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	assert.NoError(t, err)
}

func TestAdmin_RotateCredential(t *testing.T) {
	admin, validator, _, clk := newAdmin(t)
	ctx := context.Background()

	inst, oldSecret, err := admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	rotated, newSecret, err := admin.RotateCredential(ctx, testTenant, inst.AgentID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)
	assert.Equal(t, t0.Add(25*time.Hour), rotated.TokenExpiresAt)

	_, err = validator.Validate(ctx, inst.AgentID, oldSecret)
	assert.ErrorIs(t, err, ErrInvalidSecret)
	_, err = validator.Validate(ctx, inst.AgentID, newSecret)
	assert.NoError(t, err)
}

func TestAdmin_TenantScoping(t *testing.T) {
	admin, _, _, _ := newAdmin(t)
	ctx := context.Background()

	inst, _, err := admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	require.NoError(t, err)

	_, err = admin.GetAgent(ctx, "other-tenant", inst.AgentID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, admin.DeleteAgent(ctx, "other-tenant", inst.AgentID), ErrNotFound)

	agents, err := admin.ListAgents(ctx, "other-tenant")
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestAdmin_UpdateSyncConfigIsPartial(t *testing.T) {
	admin, _, store, _ := newAdmin(t)
	ctx := context.Background()

	inst, _, err := admin.CreateAgent(ctx, testTenant, testIntegration, dto.CreateAgentRequest{})
	require.NoError(t, err)

	off := false
	interval := 120
	_, err = admin.UpdateSyncConfig(ctx, testTenant, inst.AgentID, dto.UpdateSyncConfigRequest{
		SyncInventory:       &off,
		SyncIntervalSeconds: &interval,
	})
	require.NoError(t, err)

	got := store.Agent(inst.AgentID).SyncConfig()
	assert.Equal(t, syncproto.SyncConfig{
		IntervalSeconds: 120, SyncMenu: true, SyncInventory: false, SyncSales: true, SyncTables: true,
	}, got)
}
