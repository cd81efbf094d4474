package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/metrics"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// Identity is the resolved owner of an authenticated agent request
type Identity struct {
	TenantID        string
	IntegrationID   string
	AgentInstanceID uuid.UUID
	AgentID         string

	// Agent is the instance row as read during validation
	Agent *domains.AgentInstance
}

// AuthValidator checks agent credentials against the stored hash and expiry
type AuthValidator struct {
	storage clients.StorageAdapter
	clock   clock.Clock
	logger  *zap.Logger
}

// NewAuthValidator creates a new auth validator
func NewAuthValidator(storage clients.StorageAdapter, clk clock.Clock, logger *zap.Logger) *AuthValidator {
	return &AuthValidator{storage: storage, clock: clk, logger: logger}
}

// Validate resolves the identity of agentID if secret matches its stored
// hash and the credential has not expired. Rejections on a known agent are
// recorded on the instance.
func (v *AuthValidator) Validate(ctx context.Context, agentID, secret string) (*Identity, error) {
	agent, err := v.storage.GetAgentByAgentID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", agentID, err)
	}
	if agent == nil {
		return nil, v.reject(ctx, nil, agentID, ReasonUnknownAgent)
	}

	presented := syncproto.HashSecret(secret)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(agent.AuthTokenHash)) != 1 {
		return nil, v.reject(ctx, agent, agentID, ReasonInvalidSecret)
	}
	if !v.clock.Now().Before(agent.TokenExpiresAt) {
		return nil, v.reject(ctx, agent, agentID, ReasonTokenExpired)
	}

	return &Identity{
		TenantID:        agent.TenantID,
		IntegrationID:   agent.IntegrationID,
		AgentInstanceID: agent.ID,
		AgentID:         agent.AgentID,
		Agent:           agent,
	}, nil
}

func (v *AuthValidator) reject(ctx context.Context, agent *domains.AgentInstance, agentID string, reason AuthReason) error {
	authErr := &AuthError{Reason: reason, AgentID: agentID}
	metrics.AuthFailuresTotal.WithLabelValues(string(reason)).Inc()

	v.logger.Warn("agent authentication failed",
		zap.String("agent_id", agentID),
		zap.String("reason", string(reason)),
	)
	if agent != nil {
		if err := v.storage.RecordAgentError(ctx, agent.ID, authErr.Error(), v.clock.Now()); err != nil {
			v.logger.Error("failed to record auth failure", zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return authErr
}
