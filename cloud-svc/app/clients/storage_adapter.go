package clients

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// StorageAdapter defines the interface for storage operations.
//
// Lookups return (nil, nil) when the row does not exist or is soft deleted.
// Counter columns are always incremented in place.
type StorageAdapter interface {
	Ping(ctx context.Context) error

	// CreateAgentInstance inserts a pending instance. It returns
	// domains.ErrDuplicate when a live instance already exists for the
	// tenant integration or the agent id is taken.
	CreateAgentInstance(ctx context.Context, inst *domains.AgentInstance) error
	GetAgentByAgentID(ctx context.Context, agentID string) (*domains.AgentInstance, error)
	ListAgents(ctx context.Context, tenantID string) ([]domains.AgentInstance, error)
	MarkRegistered(ctx context.Context, id uuid.UUID, reg domains.Registration) error
	RecordHeartbeat(ctx context.Context, id uuid.UUID, hb domains.Heartbeat) error
	UpdateSyncConfig(ctx context.Context, id uuid.UUID, cfg syncproto.SyncConfig) error
	RotateCredential(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error
	SoftDeleteAgent(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordAgentError(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	ApplySyncAggregates(ctx context.Context, id uuid.UUID, records int, status syncproto.AgentStatus, at time.Time) error
	MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// BeginSyncLog claims the idempotency key of entry. When the key is
	// already finalized the stored row is returned with
	// claimed=false. Otherwise the row is inserted or re-opened as
	// processing and returned with claimed=true.
	BeginSyncLog(ctx context.Context, entry *domains.SyncLogEntry) (stored *domains.SyncLogEntry, claimed bool, err error)
	FinalizeSyncLog(ctx context.Context, entry *domains.SyncLogEntry) error
	ListSyncLogs(ctx context.Context, agentInstanceID uuid.UUID, limit int) ([]domains.SyncLogEntry, error)

	// ApplyRecords upserts records in a single transaction and returns one
	// outcome per record, in order.
	ApplyRecords(ctx context.Context, scope domains.RecordScope, records []domains.RecordUpsert) ([]domains.UpsertOutcome, error)
}
