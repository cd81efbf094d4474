package services

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/detector"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/identity"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// CloudClient is the cloud API used by the engine services. AgentClient
// implements it.
type CloudClient interface {
	Register(ctx context.Context, req syncproto.RegisterRequest) (*syncproto.RegisterResponse, error)
	Heartbeat(ctx context.Context, req syncproto.HeartbeatRequest) (*syncproto.HeartbeatResponse, error)
	Sync(ctx context.Context, req syncproto.SyncRequest) (*syncproto.SyncResponse, error)
}

// AgentInfo identifies this agent to the cloud
type AgentInfo struct {
	AgentID       string
	TenantID      string
	IntegrationID string
	Version       string
}

// RegistrationService handles agent registration and re-registration
type RegistrationService struct {
	client      CloudClient
	identityMgr *identity.Manager
	info        AgentInfo
	clock       clock.Clock
	logger      *zap.Logger
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(client CloudClient, identityMgr *identity.Manager, info AgentInfo, clk clock.Clock, logger *zap.Logger) *RegistrationService {
	return &RegistrationService{
		client:      client,
		identityMgr: identityMgr,
		info:        info,
		clock:       clk,
		logger:      logger,
	}
}

// Register reports the detected database to the cloud, stores the returned
// sync config in the identity file and returns the identity.
func (r *RegistrationService) Register(ctx context.Context, secret string, det detector.Result) (*identity.Identity, error) {
	metadata := identity.NewCollector().Collect()

	req := syncproto.RegisterRequest{
		TenantID:        r.info.TenantID,
		IntegrationID:   r.info.IntegrationID,
		AgentID:         r.info.AgentID,
		AgentVersion:    r.info.Version,
		MachineName:     metadata.MachineName(),
		SRVersion:       det.Version,
		SRDatabaseName:  det.Database,
		SRSQLInstance:   det.SQLInstance(),
		SREmpresaID:     det.EmpresaID,
		DetectionMethod: string(det.Method),
		AuthSecret:      secret,
	}

	r.logger.Info("registering agent",
		zap.String("agent_id", r.info.AgentID),
		zap.String("detection_method", string(det.Method)),
		zap.String("sr_database", det.Database),
		zap.String("secret_fp", syncproto.Fingerprint(secret)),
	)

	resp, err := r.client.Register(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	now := r.clock.Now().UTC()
	syncCfg := resp.SyncConfig
	ident := &identity.Identity{
		AgentID:         r.info.AgentID,
		TenantID:        r.info.TenantID,
		IntegrationID:   r.info.IntegrationID,
		AgentInstanceID: resp.AgentInstanceID,
		Status:          syncproto.StatusRegistered,
		SyncConfig:      &syncCfg,
		RegisteredAt:    &now,
	}
	if err := r.identityMgr.Save(ident); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}

	r.logger.Info("registered agent",
		zap.String("agent_id", r.info.AgentID),
		zap.String("agent_instance_id", resp.AgentInstanceID),
		zap.Int("interval_seconds", syncCfg.IntervalSeconds),
	)
	return ident, nil
}
