package services

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// RegistrationService handles agent registration
type RegistrationService struct {
	storage   clients.StorageAdapter
	validator *AuthValidator
	clock     clock.Clock
	logger    *zap.Logger
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(storage clients.StorageAdapter, validator *AuthValidator, clk clock.Clock, logger *zap.Logger) *RegistrationService {
	return &RegistrationService{
		storage:   storage,
		validator: validator,
		clock:     clk,
		logger:    logger,
	}
}

// Register authenticates the agent, checks it belongs to the tenant
// integration it claims and moves it to registered
func (s *RegistrationService) Register(ctx context.Context, req syncproto.RegisterRequest) (*syncproto.RegisterResponse, error) {
	ident, err := s.validator.Validate(ctx, req.AgentID, req.AuthSecret)
	if err != nil {
		return nil, err
	}
	agent := ident.Agent
	now := s.clock.Now()

	if agent.TenantID != req.TenantID || agent.IntegrationID != req.IntegrationID {
		msg := fmt.Sprintf("register rejected: %v", ErrForbidden)
		if err := s.storage.RecordAgentError(ctx, agent.ID, msg, now); err != nil {
			s.logger.Error("failed to record agent error", zap.String("agent_id", req.AgentID), zap.Error(err))
		}
		return nil, ErrForbidden
	}
	if err := domains.CheckTransition(agent.Status, syncproto.StatusRegistered); err != nil {
		return nil, err
	}

	reg := domains.Registration{
		AgentVersion:   req.AgentVersion,
		MachineName:    req.MachineName,
		SRVersion:      req.SRVersion,
		SRDatabaseName: req.SRDatabaseName,
		SRSQLInstance:  req.SRSQLInstance,
		SREmpresaID:    req.SREmpresaID,
		At:             now,
	}
	if err := s.storage.MarkRegistered(ctx, agent.ID, reg); err != nil {
		return nil, fmt.Errorf("failed to register agent %s: %w", req.AgentID, err)
	}

	s.logger.Info("agent registered",
		zap.String("agent_id", req.AgentID),
		zap.String("tenant_id", agent.TenantID),
		zap.String("agent_version", req.AgentVersion),
		zap.String("detection_method", req.DetectionMethod),
		zap.String("sr_database", req.SRDatabaseName),
	)

	return &syncproto.RegisterResponse{
		Success:         true,
		Status:          syncproto.StatusRegistered,
		AgentInstanceID: agent.ID.String(),
		SyncConfig:      agent.SyncConfig(),
	}, nil
}
