package domains

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicate is returned by storage when a uniqueness rule is violated
	ErrDuplicate = errors.New("duplicate agent instance")
)

// AgentInstance represents one installed agent for a tenant integration
type AgentInstance struct {
	ID            uuid.UUID             `db:"id" json:"id"`
	TenantID      string                `db:"tenant_id" json:"tenant_id"`
	IntegrationID string                `db:"integration_id" json:"integration_id"`
	AgentID       string                `db:"agent_id" json:"agent_id"`
	Status        syncproto.AgentStatus `db:"status" json:"status"`
	AgentVersion  *string               `db:"agent_version" json:"agent_version,omitempty"`
	MachineName   *string               `db:"machine_name" json:"machine_name,omitempty"`

	SRVersion      *string `db:"sr_version" json:"sr_version,omitempty"`
	SRDatabaseName *string `db:"sr_database_name" json:"sr_database_name,omitempty"`
	SRSQLInstance  *string `db:"sr_sql_instance" json:"sr_sql_instance,omitempty"`
	SREmpresaID    *string `db:"sr_empresa_id" json:"sr_empresa_id,omitempty"`

	SyncSales           bool `db:"sync_sales" json:"sync_sales"`
	SyncMenu            bool `db:"sync_menu" json:"sync_menu"`
	SyncInventory       bool `db:"sync_inventory" json:"sync_inventory"`
	SyncTables          bool `db:"sync_tables" json:"sync_tables"`
	SyncIntervalSeconds int  `db:"sync_interval_seconds" json:"sync_interval_seconds"`

	TotalRecordsSynced int64      `db:"total_records_synced" json:"total_records_synced"`
	LastSyncAt         *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncRecords    *int       `db:"last_sync_records" json:"last_sync_records,omitempty"`
	LastHeartbeatAt    *time.Time `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`

	ConsecutiveErrors int        `db:"consecutive_errors" json:"consecutive_errors"`
	LastErrorMessage  *string    `db:"last_error_message" json:"last_error_message,omitempty"`
	LastErrorAt       *time.Time `db:"last_error_at" json:"last_error_at,omitempty"`

	AuthTokenHash  string    `db:"auth_token_hash" json:"-"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"token_expires_at"`

	RegisteredAt *time.Time `db:"registered_at" json:"registered_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"-"`
}

// SyncConfig returns the tenant controlled sync configuration for the agent
func (a *AgentInstance) SyncConfig() syncproto.SyncConfig {
	return syncproto.SyncConfig{
		IntervalSeconds: a.SyncIntervalSeconds,
		SyncMenu:        a.SyncMenu,
		SyncInventory:   a.SyncInventory,
		SyncSales:       a.SyncSales,
		SyncTables:      a.SyncTables,
	}
}

// Registration holds what the agent reports about itself on /register
type Registration struct {
	AgentVersion   string
	MachineName    string
	SRVersion      string
	SRDatabaseName string
	SRSQLInstance  string
	SREmpresaID    string
	At             time.Time
}

// Heartbeat holds the fields written by a heartbeat
type Heartbeat struct {
	Status          syncproto.AgentStatus
	LastSyncAt      *time.Time
	LastSyncRecords *int
	ErrorMessage    string
	At              time.Time
}

var transitions = map[syncproto.AgentStatus][]syncproto.AgentStatus{
	syncproto.StatusPending: {syncproto.StatusRegistered},
	syncproto.StatusRegistered: {
		syncproto.StatusRegistered, syncproto.StatusConnected, syncproto.StatusSyncing,
		syncproto.StatusError, syncproto.StatusOffline,
	},
	syncproto.StatusConnected: {
		syncproto.StatusRegistered, syncproto.StatusConnected, syncproto.StatusSyncing,
		syncproto.StatusError, syncproto.StatusOffline,
	},
	syncproto.StatusSyncing: {
		syncproto.StatusRegistered, syncproto.StatusConnected, syncproto.StatusSyncing,
		syncproto.StatusError, syncproto.StatusOffline,
	},
	syncproto.StatusError: {
		syncproto.StatusRegistered, syncproto.StatusConnected, syncproto.StatusSyncing,
		syncproto.StatusError, syncproto.StatusOffline,
	},
	syncproto.StatusOffline: {
		syncproto.StatusRegistered, syncproto.StatusConnected, syncproto.StatusSyncing,
		syncproto.StatusError, syncproto.StatusOffline,
	},
}

// CanTransition reports whether an instance in status from may move to status to.
// Nothing returns to pending, and a pending instance must register first.
func CanTransition(from, to syncproto.AgentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when CanTransition is false
func CheckTransition(from, to syncproto.AgentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
