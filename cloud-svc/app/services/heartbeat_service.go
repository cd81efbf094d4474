package services

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/metrics"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// HeartbeatService records agent liveness and reported status
type HeartbeatService struct {
	storage   clients.StorageAdapter
	validator *AuthValidator
	clock     clock.Clock
	logger    *zap.Logger
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(storage clients.StorageAdapter, validator *AuthValidator, clk clock.Clock, logger *zap.Logger) *HeartbeatService {
	return &HeartbeatService{
		storage:   storage,
		validator: validator,
		clock:     clk,
		logger:    logger,
	}
}

// Heartbeat authenticates the agent and stores the reported status. The
// current sync configuration is returned on every call.
func (s *HeartbeatService) Heartbeat(ctx context.Context, req syncproto.HeartbeatRequest) (*syncproto.HeartbeatResponse, error) {
	ident, err := s.validator.Validate(ctx, req.AgentID, req.AuthSecret)
	if err != nil {
		return nil, err
	}
	agent := ident.Agent
	now := s.clock.Now()

	if err := domains.CheckTransition(agent.Status, req.Status); err != nil {
		msg := fmt.Sprintf("heartbeat rejected: %v", err)
		if rerr := s.storage.RecordAgentError(ctx, agent.ID, msg, now); rerr != nil {
			s.logger.Error("failed to record agent error", zap.String("agent_id", req.AgentID), zap.Error(rerr))
		}
		return nil, err
	}

	hb := domains.Heartbeat{
		Status:          req.Status,
		LastSyncAt:      req.LastSyncAt,
		LastSyncRecords: req.LastSyncRecords,
		ErrorMessage:    req.ErrorMessage,
		At:              now,
	}
	if err := s.storage.RecordHeartbeat(ctx, agent.ID, hb); err != nil {
		return nil, fmt.Errorf("failed to record heartbeat for %s: %w", req.AgentID, err)
	}
	metrics.HeartbeatsTotal.WithLabelValues(string(req.Status)).Inc()

	if req.Status == syncproto.StatusError {
		s.logger.Warn("agent reported error",
			zap.String("agent_id", req.AgentID),
			zap.String("error_message", req.ErrorMessage),
		)
	}

	cfg := agent.SyncConfig()
	return &syncproto.HeartbeatResponse{
		Success:    true,
		Timestamp:  now.UTC(),
		SyncConfig: &cfg,
	}, nil
}
