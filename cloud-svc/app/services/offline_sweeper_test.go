package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

func TestOfflineSweeper_Sweep(t *testing.T) {
	tests := []struct {
		name        string
		status      syncproto.AgentStatus
		age         time.Duration
		wantChanged int64
		wantStatus  syncproto.AgentStatus
	}{
		{"heartbeat inside timeout", syncproto.StatusConnected, 299 * time.Second, 0, syncproto.StatusConnected},
		{"heartbeat past timeout", syncproto.StatusConnected, 301 * time.Second, 1, syncproto.StatusOffline},
		{"syncing past timeout", syncproto.StatusSyncing, time.Hour, 1, syncproto.StatusOffline},
		{"error status is left alone", syncproto.StatusError, time.Hour, 0, syncproto.StatusError},
		{"registered is left alone", syncproto.StatusRegistered, time.Hour, 0, syncproto.StatusRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.status)
			f.store.SetLastHeartbeat(testAgentID, t0.Add(-tt.age))
			sweeper := NewOfflineSweeper(f.store, 300*time.Second, time.Minute, f.clock, zap.NewNop())

			n, err := sweeper.Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, n)
			assert.Equal(t, tt.wantStatus, f.store.Agent(testAgentID).Status)
		})
	}
}

func TestOfflineSweeper_RunSweepsOnInterval(t *testing.T) {
	f := newFixture(t, syncproto.StatusConnected)
	f.store.SetLastHeartbeat(testAgentID, t0)
	sweeper := NewOfflineSweeper(f.store, 300*time.Second, time.Minute, f.clock, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// Six sweeps of one minute each move the clock past the timeout
	for i := 0; i < 6; i++ {
		require.NoError(t, f.clock.WaitAdvance(time.Minute, time.Second, 1))
	}
	assert.Eventually(t, func() bool {
		return f.store.Agent(testAgentID).Status == syncproto.StatusOffline
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
