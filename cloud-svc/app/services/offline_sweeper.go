package services

import (
	"context"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/metrics"
)

// OfflineSweeper marks connected or syncing agents offline once their last
// heartbeat is older than the timeout
type OfflineSweeper struct {
	storage  clients.StorageAdapter
	timeout  time.Duration
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewOfflineSweeper creates a new offline sweeper
func NewOfflineSweeper(storage clients.StorageAdapter, timeout, interval time.Duration, clk clock.Clock, logger *zap.Logger) *OfflineSweeper {
	return &OfflineSweeper{
		storage:  storage,
		timeout:  timeout,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Sweep runs one pass and returns how many instances were marked offline
func (s *OfflineSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.timeout)
	n, err := s.storage.MarkOfflineBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AgentsMarkedOffline.Add(float64(n))
		s.logger.Info("agents marked offline", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run sweeps every interval until ctx is done
func (s *OfflineSweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("offline sweep failed", zap.Error(err))
			}
		}
	}
}
