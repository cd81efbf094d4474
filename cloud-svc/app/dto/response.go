package dto

import (
	"time"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
)

// CreateAgentResponse carries the one-time secret for a new agent
type CreateAgentResponse struct {
	Agent          *domains.AgentInstance `json:"agent"`
	AgentID        string                 `json:"agent_id"`
	AuthSecret     string                 `json:"auth_secret"`
	TokenExpiresAt time.Time              `json:"token_expires_at"`
}

// CredentialResponse carries a regenerated secret
type CredentialResponse struct {
	AgentID        string    `json:"agent_id"`
	AuthSecret     string    `json:"auth_secret"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// ListAgentsResponse represents the agent listing
type ListAgentsResponse struct {
	Agents []domains.AgentInstance `json:"agents"`
}

// ListSyncLogsResponse represents the sync log listing for one agent
type ListSyncLogsResponse struct {
	AgentID string                 `json:"agent_id"`
	Logs    []domains.SyncLogEntry `json:"logs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
