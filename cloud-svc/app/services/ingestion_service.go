package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/metrics"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/utils"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// maxErrorDetails caps how many per-record errors are kept on a sync log
const maxErrorDetails = 20

type naturalKeyer interface {
	NaturalKey() string
}

// IngestionService applies sync batches idempotently
type IngestionService struct {
	storage clients.StorageAdapter
	clock   clock.Clock
	logger  *zap.Logger
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(storage clients.StorageAdapter, clk clock.Clock, logger *zap.Logger) *IngestionService {
	return &IngestionService{storage: storage, clock: clk, logger: logger}
}

// Process applies one sync batch for an authenticated agent. Re-delivery of
// a finalized batch (completed, partial or rejected outright) returns the
// stored result without touching any record or aggregate. A batch that hit
// a processing error stays open and is applied again on retry.
func (s *IngestionService) Process(ctx context.Context, ident *Identity, req syncproto.SyncRequest) (*syncproto.SyncResponse, error) {
	agent := ident.Agent
	if agent.Status == syncproto.StatusPending {
		return nil, fmt.Errorf("%w: agent %s has not registered", ErrInvalidTransition, ident.AgentID)
	}

	started := s.clock.Now()
	log := s.logger.With(
		zap.String("agent_id", ident.AgentID),
		zap.String("sync_type", string(req.SyncType)),
		zap.String("batch_id", req.BatchID),
		zap.Int("batch_index", req.BatchIndex),
	)

	entry := &domains.SyncLogEntry{
		AgentInstanceID: ident.AgentInstanceID,
		TenantID:        ident.TenantID,
		SyncType:        req.SyncType,
		BatchID:         req.BatchID,
		BatchIndex:      req.BatchIndex,
		BatchTotal:      req.BatchTotal,
		Status:          domains.SyncLogProcessing,
		RecordsReceived: len(req.Data),
		StartedAt:       started,
	}
	stored, claimed, err := s.storage.BeginSyncLog(ctx, entry)
	if err != nil {
		return nil, s.fail(ctx, ident, req, nil, fmt.Errorf("failed to begin sync log: %w", err))
	}
	if !claimed {
		log.Info("batch already finalized, returning stored result", zap.String("status", string(stored.Status)))
		return s.response(req, stored.Result(), started), nil
	}
	entry = stored

	upserts, result, details := s.decode(req)

	outcomes, err := s.storage.ApplyRecords(ctx, domains.RecordScope{
		TenantID:        ident.TenantID,
		IntegrationID:   ident.IntegrationID,
		AgentInstanceID: ident.AgentInstanceID,
		SyncType:        req.SyncType,
	}, upserts)
	if err != nil {
		return nil, s.fail(ctx, ident, req, entry, fmt.Errorf("failed to apply records: %w", err))
	}
	for _, o := range outcomes {
		switch o {
		case domains.OutcomeCreated:
			result.Created++
		case domains.OutcomeUpdated:
			result.Updated++
		case domains.OutcomeSkipped:
			result.Skipped++
		}
	}
	result.Processed = result.Created + result.Updated + result.Skipped

	now := s.clock.Now()
	entry.Apply(result)
	entry.Status = domains.FinalStatus(result)
	s.close(entry, now, details)
	if entry.Status == domains.SyncLogFailed {
		msg := "all records failed validation"
		entry.ErrorMessage = &msg
	}
	if err := s.storage.FinalizeSyncLog(ctx, entry); err != nil {
		return nil, s.fail(ctx, ident, req, entry, fmt.Errorf("failed to finalize sync log: %w", err))
	}

	status := syncproto.StatusSyncing
	if req.IsLast() {
		status = syncproto.StatusConnected
	}
	if err := s.storage.ApplySyncAggregates(ctx, ident.AgentInstanceID, result.Processed, status, now); err != nil {
		return nil, s.fail(ctx, ident, req, nil, fmt.Errorf("failed to update aggregates: %w", err))
	}
	if result.Failed > 0 {
		msg := fmt.Sprintf("batch %s/%d: %d of %d records rejected", req.BatchID, req.BatchIndex, result.Failed, len(req.Data))
		if err := s.storage.RecordAgentError(ctx, ident.AgentInstanceID, msg, now); err != nil {
			log.Error("failed to record agent error", zap.Error(err))
		}
	}

	s.observe(req.SyncType, entry.Status, result, now.Sub(started))
	log.Info("batch processed",
		zap.String("status", string(entry.Status)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return s.response(req, result, started), nil
}

// decode validates each raw record and computes its natural key and hash
func (s *IngestionService) decode(req syncproto.SyncRequest) ([]domains.RecordUpsert, syncproto.SyncResult, []string) {
	var (
		result  syncproto.SyncResult
		details []string
	)
	upserts := make([]domains.RecordUpsert, 0, len(req.Data))

	for i, raw := range req.Data {
		up, err := decodeRecord(req.SyncType, raw)
		if err != nil {
			result.Failed++
			if len(details) < maxErrorDetails {
				details = append(details, fmt.Sprintf("record %d: %v", i, err))
			}
			continue
		}
		upserts = append(upserts, up)
	}
	return upserts, result, details
}

func decodeRecord(t syncproto.SyncType, raw json.RawMessage) (domains.RecordUpsert, error) {
	var rec naturalKeyer
	switch t {
	case syncproto.SyncTypeSales:
		rec = &syncproto.SaleRecord{}
	case syncproto.SyncTypeMenu:
		rec = &syncproto.MenuItemRecord{}
	case syncproto.SyncTypeInventory:
		rec = &syncproto.InventoryRecord{}
	case syncproto.SyncTypeTables:
		rec = &syncproto.TableRecord{}
	default:
		return domains.RecordUpsert{}, fmt.Errorf("unknown sync type %q", t)
	}

	if err := json.Unmarshal(raw, rec); err != nil {
		return domains.RecordUpsert{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := utils.ValidateStruct(rec); err != nil {
		return domains.RecordUpsert{}, err
	}

	// Re-encode so field order and whitespace do not change the hash
	canonical, err := json.Marshal(rec)
	if err != nil {
		return domains.RecordUpsert{}, fmt.Errorf("failed to encode record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return domains.RecordUpsert{
		NaturalKey:  rec.NaturalKey(),
		Payload:     canonical,
		PayloadHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (s *IngestionService) close(entry *domains.SyncLogEntry, now time.Time, details []string) {
	duration := now.Sub(entry.StartedAt).Milliseconds()
	entry.CompletedAt = &now
	entry.DurationMS = &duration
	entry.ErrorDetails = details
	entry.Finalized = true
}

// fail finalizes the log as failed when one was claimed and records the
// error on the instance
func (s *IngestionService) fail(ctx context.Context, ident *Identity, req syncproto.SyncRequest, entry *domains.SyncLogEntry, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	msg := cause.Error()

	if entry != nil {
		entry.Status = domains.SyncLogFailed
		entry.ErrorMessage = &msg
		s.close(entry, now, entry.ErrorDetails)
		entry.Finalized = false
		if err := s.storage.FinalizeSyncLog(ctx, entry); err != nil {
			s.logger.Error("failed to finalize sync log", zap.String("batch_id", req.BatchID), zap.Error(err))
		}
	}
	if err := s.storage.RecordAgentError(ctx, ident.AgentInstanceID, msg, now); err != nil {
		s.logger.Error("failed to record agent error", zap.String("agent_id", ident.AgentID), zap.Error(err))
	}

	metrics.BatchesTotal.WithLabelValues(string(req.SyncType), string(domains.SyncLogFailed)).Inc()
	s.logger.Error("batch processing failed",
		zap.String("agent_id", ident.AgentID),
		zap.String("batch_id", req.BatchID),
		zap.Int("batch_index", req.BatchIndex),
		zap.Error(cause),
	)
	return &ProcessingError{BatchID: req.BatchID, BatchIndex: req.BatchIndex, Err: cause}
}

func (s *IngestionService) observe(t syncproto.SyncType, status domains.SyncLogStatus, r syncproto.SyncResult, d time.Duration) {
	st := string(t)
	metrics.BatchesTotal.WithLabelValues(st, string(status)).Inc()
	metrics.RecordsTotal.WithLabelValues(st, string(domains.OutcomeCreated)).Add(float64(r.Created))
	metrics.RecordsTotal.WithLabelValues(st, string(domains.OutcomeUpdated)).Add(float64(r.Updated))
	metrics.RecordsTotal.WithLabelValues(st, string(domains.OutcomeSkipped)).Add(float64(r.Skipped))
	metrics.RecordsTotal.WithLabelValues(st, "failed").Add(float64(r.Failed))
	metrics.BatchDuration.WithLabelValues(st).Observe(d.Seconds())
}

func (s *IngestionService) response(req syncproto.SyncRequest, r syncproto.SyncResult, started time.Time) *syncproto.SyncResponse {
	return &syncproto.SyncResponse{
		Success:    true,
		SyncType:   req.SyncType,
		BatchID:    req.BatchID,
		BatchIndex: req.BatchIndex,
		Result:     r,
		DurationMS: s.clock.Now().Sub(started).Milliseconds(),
	}
}
