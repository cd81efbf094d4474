package domains

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// UpsertOutcome is the effect of applying one record
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeSkipped UpsertOutcome = "skipped"
)

// RecordScope identifies the owner of a set of persisted POS records
type RecordScope struct {
	TenantID        string
	IntegrationID   string
	AgentInstanceID uuid.UUID
	SyncType        syncproto.SyncType
}

// RecordUpsert is one validated record ready to persist
type RecordUpsert struct {
	NaturalKey  string
	Payload     json.RawMessage
	PayloadHash string
}
