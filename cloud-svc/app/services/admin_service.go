package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/dto"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

const (
	defaultSyncInterval = 30
	defaultSyncLogLimit = 50
)

// AdminService backs the tenant dashboard and installer endpoints
type AdminService struct {
	storage  clients.StorageAdapter
	tokenTTL time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	newID    func() string
}

// NewAdminService creates a new admin service
func NewAdminService(storage clients.StorageAdapter, tokenTTL time.Duration, clk clock.Clock, logger *zap.Logger) *AdminService {
	return &AdminService{
		storage:  storage,
		tokenTTL: tokenTTL,
		clock:    clk,
		logger:   logger,
		newID:    newAgentID,
	}
}

func newAgentID() string {
	return "tis-agent-" + uuid.NewString()[:8]
}

// GenerateSecret returns a random agent secret
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return "tis_" + hex.EncodeToString(buf), nil
}

// CreateAgent creates a pending instance for a tenant integration and
// returns it together with its one-time secret
func (s *AdminService) CreateAgent(ctx context.Context, tenantID, integrationID string, req dto.CreateAgentRequest) (*domains.AgentInstance, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	now := s.clock.Now()

	inst := &domains.AgentInstance{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		IntegrationID:       integrationID,
		AgentID:             s.newID(),
		Status:              syncproto.StatusPending,
		SyncSales:           boolOr(req.SyncSales, true),
		SyncMenu:            boolOr(req.SyncMenu, true),
		SyncInventory:       boolOr(req.SyncInventory, true),
		SyncTables:          boolOr(req.SyncTables, true),
		SyncIntervalSeconds: intOr(req.SyncIntervalSeconds, defaultSyncInterval),
		AuthTokenHash:       syncproto.HashSecret(secret),
		TokenExpiresAt:      now.Add(s.tokenTTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.storage.CreateAgentInstance(ctx, inst); err != nil {
		if errors.Is(err, domains.ErrDuplicate) {
			return nil, "", fmt.Errorf("%w: integration %s already has an agent", ErrConflict, integrationID)
		}
		return nil, "", fmt.Errorf("failed to create agent: %w", err)
	}

	s.logger.Info("agent created",
		zap.String("tenant_id", tenantID),
		zap.String("integration_id", integrationID),
		zap.String("agent_id", inst.AgentID),
		zap.String("secret_fp", syncproto.Fingerprint(secret)),
	)
	return inst, secret, nil
}

// RotateCredential replaces the secret of an agent and resets its expiry
func (s *AdminService) RotateCredential(ctx context.Context, tenantID, agentID string) (*domains.AgentInstance, string, error) {
	agent, err := s.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, "", err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	expires := s.clock.Now().Add(s.tokenTTL)
	if err := s.storage.RotateCredential(ctx, agent.ID, syncproto.HashSecret(secret), expires); err != nil {
		return nil, "", fmt.Errorf("failed to rotate credential: %w", err)
	}
	agent.TokenExpiresAt = expires

	s.logger.Info("agent credential rotated",
		zap.String("agent_id", agentID),
		zap.String("secret_fp", syncproto.Fingerprint(secret)),
	)
	return agent, secret, nil
}

// GetAgent returns an agent owned by tenantID
func (s *AdminService) GetAgent(ctx context.Context, tenantID, agentID string) (*domains.AgentInstance, error) {
	agent, err := s.storage.GetAgentByAgentID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", agentID, err)
	}
	if agent == nil || agent.TenantID != tenantID {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	return agent, nil
}

// ListAgents lists the live agents of a tenant
func (s *AdminService) ListAgents(ctx context.Context, tenantID string) ([]domains.AgentInstance, error) {
	return s.storage.ListAgents(ctx, tenantID)
}

// UpdateSyncConfig applies a partial sync configuration change. The agent
// picks it up on its next heartbeat.
func (s *AdminService) UpdateSyncConfig(ctx context.Context, tenantID, agentID string, req dto.UpdateSyncConfigRequest) (*domains.AgentInstance, error) {
	agent, err := s.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	agent.SyncSales = boolOr(req.SyncSales, agent.SyncSales)
	agent.SyncMenu = boolOr(req.SyncMenu, agent.SyncMenu)
	agent.SyncInventory = boolOr(req.SyncInventory, agent.SyncInventory)
	agent.SyncTables = boolOr(req.SyncTables, agent.SyncTables)
	agent.SyncIntervalSeconds = intOr(req.SyncIntervalSeconds, agent.SyncIntervalSeconds)

	if err := s.storage.UpdateSyncConfig(ctx, agent.ID, agent.SyncConfig()); err != nil {
		return nil, fmt.Errorf("failed to update sync config: %w", err)
	}
	return agent, nil
}

// ListSyncLogs returns the most recent sync log entries of an agent
func (s *AdminService) ListSyncLogs(ctx context.Context, tenantID, agentID string, limit int) ([]domains.SyncLogEntry, error) {
	agent, err := s.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSyncLogLimit
	}
	return s.storage.ListSyncLogs(ctx, agent.ID, limit)
}

// DeleteAgent soft deletes an agent, freeing its integration slot
func (s *AdminService) DeleteAgent(ctx context.Context, tenantID, agentID string) error {
	agent, err := s.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return err
	}
	if err := s.storage.SoftDeleteAgent(ctx, agent.ID, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	s.logger.Info("agent deleted", zap.String("tenant_id", tenantID), zap.String("agent_id", agentID))
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
