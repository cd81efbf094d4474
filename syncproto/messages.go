// Package syncproto defines the JSON wire protocol spoken between the local
// agent and the cloud sync API: register, heartbeat and sync.
package syncproto

import (
	"encoding/json"
	"time"
)

// SyncType identifies a record category carried by a sync batch
type SyncType string

const (
	SyncTypeSales     SyncType = "sales"
	SyncTypeMenu      SyncType = "menu"
	SyncTypeInventory SyncType = "inventory"
	SyncTypeTables    SyncType = "tables"
)

// Valid reports whether t is one of the known sync types
func (t SyncType) Valid() bool {
	switch t {
	case SyncTypeSales, SyncTypeMenu, SyncTypeInventory, SyncTypeTables:
		return true
	}
	return false
}

// AgentStatus is the lifecycle status of an agent instance
type AgentStatus string

const (
	StatusPending    AgentStatus = "pending"
	StatusRegistered AgentStatus = "registered"
	StatusConnected  AgentStatus = "connected"
	StatusSyncing    AgentStatus = "syncing"
	StatusError      AgentStatus = "error"
	StatusOffline    AgentStatus = "offline"
)

// SyncConfig is the tenant controlled sync configuration handed to the agent
type SyncConfig struct {
	IntervalSeconds int  `json:"interval_seconds"`
	SyncMenu        bool `json:"sync_menu"`
	SyncInventory   bool `json:"sync_inventory"`
	SyncSales       bool `json:"sync_sales"`
	SyncTables      bool `json:"sync_tables"`
}

// Interval returns the sync interval, falling back to def when unset
func (c SyncConfig) Interval(def time.Duration) time.Duration {
	if c.IntervalSeconds <= 0 {
		return def
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RegisterRequest is the body of POST /register
type RegisterRequest struct {
	TenantID        string `json:"tenant_id" validate:"required"`
	IntegrationID   string `json:"integration_id" validate:"required"`
	AgentID         string `json:"agent_id" validate:"required,max=128"`
	AgentVersion    string `json:"agent_version" validate:"required,max=32"`
	MachineName     string `json:"machine_name" validate:"max=255"`
	SRVersion       string `json:"sr_version" validate:"max=64"`
	SRDatabaseName  string `json:"sr_database_name" validate:"max=128"`
	SRSQLInstance   string `json:"sr_sql_instance" validate:"max=255"`
	SREmpresaID     string `json:"sr_empresa_id" validate:"max=64"`
	DetectionMethod string `json:"detection_method,omitempty" validate:"max=32"`
	AuthSecret      string `json:"auth_secret" validate:"required"`
}

// RegisterResponse is the body returned by POST /register
type RegisterResponse struct {
	Success         bool        `json:"success"`
	Status          AgentStatus `json:"status"`
	AgentInstanceID string      `json:"agent_instance_id,omitempty"`
	SyncConfig      SyncConfig  `json:"sync_config"`
}

// HeartbeatRequest is the body of POST /heartbeat
type HeartbeatRequest struct {
	AgentID         string      `json:"agent_id" validate:"required"`
	AuthSecret      string      `json:"auth_secret" validate:"required"`
	Status          AgentStatus `json:"status" validate:"required,oneof=connected syncing error offline"`
	LastSyncAt      *time.Time  `json:"last_sync_at,omitempty"`
	LastSyncRecords *int        `json:"last_sync_records,omitempty" validate:"omitempty,min=0"`
	ErrorMessage    string      `json:"error_message,omitempty" validate:"max=2000"`
}

// HeartbeatResponse is the body returned by POST /heartbeat
type HeartbeatResponse struct {
	Success    bool        `json:"success"`
	Timestamp  time.Time   `json:"timestamp"`
	SyncConfig *SyncConfig `json:"sync_config,omitempty"`
}

// MaxBatchRecords caps the number of records accepted in a single batch
const MaxBatchRecords = 1000

// SyncRequest is the body of POST /sync. (AgentID, BatchID, BatchIndex) is the
// idempotency key of the batch.
type SyncRequest struct {
	AgentID    string            `json:"agent_id" validate:"required"`
	AuthSecret string            `json:"auth_secret" validate:"required"`
	SyncType   SyncType          `json:"sync_type" validate:"required,oneof=sales menu inventory tables"`
	BatchID    string            `json:"batch_id" validate:"required,max=64"`
	BatchIndex int               `json:"batch_index" validate:"min=0"`
	BatchTotal int               `json:"batch_total" validate:"min=1,gtfield=BatchIndex"`
	Data       []json.RawMessage `json:"data" validate:"required,max=1000"`
}

// IsLast reports whether this is the final batch of its cycle
func (r *SyncRequest) IsLast() bool {
	return r.BatchIndex == r.BatchTotal-1
}

// SyncResult holds per-outcome counters for one applied batch
type SyncResult struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SyncResponse is the body returned by a successful POST /sync
type SyncResponse struct {
	Success    bool       `json:"success"`
	SyncType   SyncType   `json:"sync_type"`
	BatchID    string     `json:"batch_id"`
	BatchIndex int        `json:"batch_index"`
	Result     SyncResult `json:"result"`
	DurationMS int64      `json:"duration_ms"`
}

// SyncFailure is the body returned when a batch could not be processed
type SyncFailure struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	BatchID    string `json:"batch_id"`
	BatchIndex int    `json:"batch_index"`
}
