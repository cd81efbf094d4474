package domains

import (
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// SyncLogStatus is the processing status of one batch
type SyncLogStatus string

const (
	SyncLogStarted    SyncLogStatus = "started"
	SyncLogProcessing SyncLogStatus = "processing"
	SyncLogCompleted  SyncLogStatus = "completed"
	SyncLogPartial    SyncLogStatus = "partial"
	SyncLogFailed     SyncLogStatus = "failed"
)

// SyncLogEntry is the audit record of one batch, keyed by
// (agent_instance_id, batch_id, batch_index)
type SyncLogEntry struct {
	ID              int64              `db:"id" json:"id"`
	AgentInstanceID uuid.UUID          `db:"agent_instance_id" json:"agent_instance_id"`
	TenantID        string             `db:"tenant_id" json:"tenant_id"`
	SyncType        syncproto.SyncType `db:"sync_type" json:"sync_type"`
	BatchID         string             `db:"batch_id" json:"batch_id"`
	BatchIndex      int                `db:"batch_index" json:"batch_index"`
	BatchTotal      int                `db:"batch_total" json:"batch_total"`
	Status          SyncLogStatus      `db:"status" json:"status"`

	RecordsReceived  int `db:"records_received" json:"records_received"`
	RecordsProcessed int `db:"records_processed" json:"records_processed"`
	RecordsCreated   int `db:"records_created" json:"records_created"`
	RecordsUpdated   int `db:"records_updated" json:"records_updated"`
	RecordsSkipped   int `db:"records_skipped" json:"records_skipped"`
	RecordsFailed    int `db:"records_failed" json:"records_failed"`

	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS   *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	ErrorDetails []string   `db:"error_details" json:"error_details,omitempty"`
	Finalized    bool       `db:"finalized" json:"finalized"`
}

// Result returns the batch counters in wire form
func (e *SyncLogEntry) Result() syncproto.SyncResult {
	return syncproto.SyncResult{
		Processed: e.RecordsProcessed,
		Created:   e.RecordsCreated,
		Updated:   e.RecordsUpdated,
		Skipped:   e.RecordsSkipped,
		Failed:    e.RecordsFailed,
	}
}

// Apply copies counters from a result onto the entry
func (e *SyncLogEntry) Apply(r syncproto.SyncResult) {
	e.RecordsProcessed = r.Processed
	e.RecordsCreated = r.Created
	e.RecordsUpdated = r.Updated
	e.RecordsSkipped = r.Skipped
	e.RecordsFailed = r.Failed
}

// Done reports whether a re-delivery of this batch must return the stored
// result. Every record of a finalized batch was either applied or rejected
// by validation, so re-applying the same payload cannot change the outcome.
func (e *SyncLogEntry) Done() bool {
	return e.Finalized
}

// FinalStatus derives the closing status of a batch from its counters
func FinalStatus(r syncproto.SyncResult) SyncLogStatus {
	switch {
	case r.Failed == 0:
		return SyncLogCompleted
	case r.Processed > 0:
		return SyncLogPartial
	default:
		return SyncLogFailed
	}
}
