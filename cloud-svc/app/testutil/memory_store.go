// Package testutil provides an in-memory StorageAdapter for service and
// handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

type recordKey struct {
	tenantID      string
	integrationID string
	syncType      syncproto.SyncType
	naturalKey    string
}

type storedRecord struct {
	agentInstanceID uuid.UUID
	payload         []byte
	hash            string
}

type logKey struct {
	agentInstanceID uuid.UUID
	batchID         string
	batchIndex      int
}

// MemoryStore implements clients.StorageAdapter with the same uniqueness,
// idempotency and atomicity rules as the Postgres store
type MemoryStore struct {
	mu      sync.Mutex
	agents  map[uuid.UUID]*domains.AgentInstance
	logs    map[logKey]*domains.SyncLogEntry
	records map[recordKey]storedRecord
	nextLog int64

	// ApplyErr, when set, is returned by ApplyRecords
	ApplyErr error
	// PingErr, when set, is returned by Ping
	PingErr error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[uuid.UUID]*domains.AgentInstance),
		logs:    make(map[logKey]*domains.SyncLogEntry),
		records: make(map[recordKey]storedRecord),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MemoryStore) CreateAgentInstance(ctx context.Context, inst *domains.AgentInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.AgentID == inst.AgentID {
			return domains.ErrDuplicate
		}
		if a.DeletedAt == nil && a.TenantID == inst.TenantID && a.IntegrationID == inst.IntegrationID {
			return domains.ErrDuplicate
		}
	}
	cp := *inst
	m.agents[inst.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAgentByAgentID(ctx context.Context, agentID string) (*domains.AgentInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.AgentID == agentID && a.DeletedAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListAgents(ctx context.Context, tenantID string) ([]domains.AgentInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domains.AgentInstance{}
	for _, a := range m.agents {
		if a.TenantID == tenantID && a.DeletedAt == nil {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// update applies fn to a live agent under the lock
func (m *MemoryStore) update(id uuid.UUID, at time.Time, fn func(a *domains.AgentInstance)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.agents[id]; ok && a.DeletedAt == nil {
		fn(a)
		a.UpdatedAt = at
	}
}

func (m *MemoryStore) MarkRegistered(ctx context.Context, id uuid.UUID, reg domains.Registration) error {
	m.update(id, reg.At, func(a *domains.AgentInstance) {
		a.Status = syncproto.StatusRegistered
		a.AgentVersion = strPtr(reg.AgentVersion)
		a.MachineName = strPtr(reg.MachineName)
		a.SRVersion = strPtr(reg.SRVersion)
		a.SRDatabaseName = strPtr(reg.SRDatabaseName)
		a.SRSQLInstance = strPtr(reg.SRSQLInstance)
		a.SREmpresaID = strPtr(reg.SREmpresaID)
		if a.RegisteredAt == nil {
			at := reg.At
			a.RegisteredAt = &at
		}
		at := reg.At
		a.LastHeartbeatAt = &at
		a.ConsecutiveErrors = 0
	})
	return nil
}

func (m *MemoryStore) RecordHeartbeat(ctx context.Context, id uuid.UUID, hb domains.Heartbeat) error {
	m.update(id, hb.At, func(a *domains.AgentInstance) {
		at := hb.At
		a.Status = hb.Status
		a.LastHeartbeatAt = &at
		if hb.LastSyncAt != nil {
			a.LastSyncAt = hb.LastSyncAt
		}
		if hb.LastSyncRecords != nil {
			a.LastSyncRecords = hb.LastSyncRecords
		}
		switch hb.Status {
		case syncproto.StatusError:
			a.ConsecutiveErrors++
			a.LastErrorMessage = strPtr(hb.ErrorMessage)
			a.LastErrorAt = &at
		case syncproto.StatusConnected, syncproto.StatusSyncing:
			a.ConsecutiveErrors = 0
		}
	})
	return nil
}

func (m *MemoryStore) UpdateSyncConfig(ctx context.Context, id uuid.UUID, cfg syncproto.SyncConfig) error {
	m.update(id, time.Now(), func(a *domains.AgentInstance) {
		a.SyncSales = cfg.SyncSales
		a.SyncMenu = cfg.SyncMenu
		a.SyncInventory = cfg.SyncInventory
		a.SyncTables = cfg.SyncTables
		a.SyncIntervalSeconds = cfg.IntervalSeconds
	})
	return nil
}

func (m *MemoryStore) RotateCredential(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	m.update(id, time.Now(), func(a *domains.AgentInstance) {
		a.AuthTokenHash = hash
		a.TokenExpiresAt = expiresAt
		a.ConsecutiveErrors = 0
	})
	return nil
}

func (m *MemoryStore) SoftDeleteAgent(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.update(id, at, func(a *domains.AgentInstance) {
		a.DeletedAt = &at
	})
	return nil
}

func (m *MemoryStore) RecordAgentError(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	m.update(id, at, func(a *domains.AgentInstance) {
		a.ConsecutiveErrors++
		a.LastErrorMessage = strPtr(message)
		a.LastErrorAt = &at
	})
	return nil
}

func (m *MemoryStore) ApplySyncAggregates(ctx context.Context, id uuid.UUID, records int, status syncproto.AgentStatus, at time.Time) error {
	m.update(id, at, func(a *domains.AgentInstance) {
		a.TotalRecordsSynced += int64(records)
		a.LastSyncAt = &at
		n := records
		a.LastSyncRecords = &n
		a.Status = status
		a.ConsecutiveErrors = 0
	})
	return nil
}

func (m *MemoryStore) MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range m.agents {
		if a.DeletedAt != nil || a.LastHeartbeatAt == nil {
			continue
		}
		if a.Status != syncproto.StatusConnected && a.Status != syncproto.StatusSyncing {
			continue
		}
		if a.LastHeartbeatAt.Before(cutoff) {
			a.Status = syncproto.StatusOffline
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) BeginSyncLog(ctx context.Context, entry *domains.SyncLogEntry) (*domains.SyncLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := logKey{entry.AgentInstanceID, entry.BatchID, entry.BatchIndex}
	if existing, ok := m.logs[key]; ok {
		if existing.Done() {
			cp := *existing
			return &cp, false, nil
		}
		existing.Status = domains.SyncLogProcessing
		existing.Finalized = false
		existing.StartedAt = entry.StartedAt
		existing.RecordsReceived = entry.RecordsReceived
		existing.BatchTotal = entry.BatchTotal
		existing.CompletedAt = nil
		existing.DurationMS = nil
		existing.ErrorMessage = nil
		existing.ErrorDetails = nil
		existing.Apply(syncproto.SyncResult{})
		cp := *existing
		return &cp, true, nil
	}

	m.nextLog++
	cp := *entry
	cp.ID = m.nextLog
	m.logs[key] = &cp
	out := cp
	return &out, true, nil
}

func (m *MemoryStore) FinalizeSyncLog(ctx context.Context, entry *domains.SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := logKey{entry.AgentInstanceID, entry.BatchID, entry.BatchIndex}
	existing, ok := m.logs[key]
	if !ok || existing.Done() {
		return nil
	}
	cp := *entry
	m.logs[key] = &cp
	return nil
}

func (m *MemoryStore) ListSyncLogs(ctx context.Context, agentInstanceID uuid.UUID, limit int) ([]domains.SyncLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domains.SyncLogEntry{}
	for _, e := range m.logs {
		if e.AgentInstanceID == agentInstanceID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ApplyRecords(ctx context.Context, scope domains.RecordScope, records []domains.RecordUpsert) ([]domains.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ApplyErr != nil {
		return nil, m.ApplyErr
	}

	outcomes := make([]domains.UpsertOutcome, len(records))
	for i, r := range records {
		key := recordKey{scope.TenantID, scope.IntegrationID, scope.SyncType, r.NaturalKey}
		existing, ok := m.records[key]
		switch {
		case !ok:
			outcomes[i] = domains.OutcomeCreated
		case existing.hash == r.PayloadHash:
			outcomes[i] = domains.OutcomeSkipped
			continue
		default:
			outcomes[i] = domains.OutcomeUpdated
		}
		m.records[key] = storedRecord{
			agentInstanceID: scope.AgentInstanceID,
			payload:         append([]byte(nil), r.Payload...),
			hash:            r.PayloadHash,
		}
	}
	return outcomes, nil
}

// RecordCount returns how many records of a type are persisted for a tenant
func (m *MemoryStore) RecordCount(tenantID string, t syncproto.SyncType) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.records {
		if k.tenantID == tenantID && k.syncType == t {
			n++
		}
	}
	return n
}

// SyncLog returns a copy of the log entry for a batch, or nil
func (m *MemoryStore) SyncLog(agentInstanceID uuid.UUID, batchID string, batchIndex int) *domains.SyncLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.logs[logKey{agentInstanceID, batchID, batchIndex}]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Agent returns a copy of an agent row including soft deleted ones, or nil
func (m *MemoryStore) Agent(agentID string) *domains.AgentInstance {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.AgentID == agentID {
			cp := *a
			return &cp
		}
	}
	return nil
}

// SetLastHeartbeat overwrites the heartbeat time of an agent
func (m *MemoryStore) SetLastHeartbeat(agentID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.AgentID == agentID {
			t := at
			a.LastHeartbeatAt = &t
		}
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
