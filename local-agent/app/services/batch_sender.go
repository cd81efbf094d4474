package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/storage"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// Item is one encoded record. Records with a position advance the cursor of
// their sync type once their batch is acknowledged.
type Item struct {
	Data        json.RawMessage
	Position    int64
	HasPosition bool
}

// EncodeItems marshals records, taking each record's cursor position from
// position when it is non nil.
func EncodeItems[T any](records []T, position func(i int) int64) ([]Item, error) {
	items := make([]Item, len(records))
	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		items[i] = Item{Data: data}
		if position != nil {
			items[i].Position = position(i)
			items[i].HasPosition = true
		}
	}
	return items, nil
}

// SendOutcome summarises the batches of one cycle
type SendOutcome struct {
	BatchID    string
	BatchTotal int
	Acked      int
	Records    int
	Result     syncproto.SyncResult
}

// BatchSender splits records into sequential batches sharing one batch id
type BatchSender struct {
	client  CloudClient
	store   *storage.Store
	agentID string
	logger  *zap.Logger
	newID   func() string
}

// NewBatchSender creates a new batch sender
func NewBatchSender(client CloudClient, store *storage.Store, agentID string, logger *zap.Logger) *BatchSender {
	return &BatchSender{
		client:  client,
		store:   store,
		agentID: agentID,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Send delivers items in batches of batchSize, in order. The first failed
// batch aborts the rest; the cursor only moves past acknowledged batches.
// The outcome is returned together with any error.
func (s *BatchSender) Send(ctx context.Context, secret string, syncType syncproto.SyncType, items []Item, batchSize int) (*SendOutcome, error) {
	if batchSize <= 0 || batchSize > syncproto.MaxBatchRecords {
		batchSize = syncproto.MaxBatchRecords
	}

	outcome := &SendOutcome{BatchID: s.newID()}
	if len(items) == 0 {
		return outcome, nil
	}
	outcome.BatchTotal = (len(items) + batchSize - 1) / batchSize

	for index := 0; index < outcome.BatchTotal; index++ {
		start := index * batchSize
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		if err := s.sendOne(ctx, secret, syncType, outcome, index, chunk); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func (s *BatchSender) sendOne(ctx context.Context, secret string, syncType syncproto.SyncType, outcome *SendOutcome, index int, chunk []Item) error {
	log := s.logger.With(
		zap.String("agent_id", s.agentID),
		zap.String("sync_type", string(syncType)),
		zap.String("batch_id", outcome.BatchID),
		zap.Int("batch_index", index),
		zap.Int("batch_total", outcome.BatchTotal),
	)

	data := make([]json.RawMessage, len(chunk))
	var lastPosition *int64
	for i, it := range chunk {
		data[i] = it.Data
		if it.HasPosition && (lastPosition == nil || it.Position > *lastPosition) {
			p := it.Position
			lastPosition = &p
		}
	}

	if err := s.store.RecordBatch(ctx, storage.BatchRecord{
		BatchID:      outcome.BatchID,
		SyncType:     string(syncType),
		BatchIndex:   index,
		BatchTotal:   outcome.BatchTotal,
		RecordCount:  len(chunk),
		LastPosition: lastPosition,
	}); err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}

	resp, err := s.client.Sync(ctx, syncproto.SyncRequest{
		AgentID:    s.agentID,
		AuthSecret: secret,
		SyncType:   syncType,
		BatchID:    outcome.BatchID,
		BatchIndex: index,
		BatchTotal: outcome.BatchTotal,
		Data:       data,
	})
	if err != nil {
		log.Warn("batch failed", zap.Error(err))
		if merr := s.store.MarkBatchFailed(context.WithoutCancel(ctx), outcome.BatchID, index, err.Error()); merr != nil {
			log.Error("failed to mark batch failed", zap.Error(merr))
		}
		var batchErr *BatchError
		if errors.As(err, &batchErr) || IsAuthError(err) || errors.Is(err, ErrAgentUnknown) {
			return err
		}
		return fmt.Errorf("batch %d: %w", index, err)
	}

	if err := s.store.MarkBatchAcked(ctx, outcome.BatchID, index); err != nil {
		return fmt.Errorf("failed to mark batch acked: %w", err)
	}
	if lastPosition != nil {
		if _, err := s.store.AdvanceCursor(ctx, string(syncType), *lastPosition); err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
	}

	outcome.Acked++
	outcome.Records += len(chunk)
	outcome.Result.Processed += resp.Result.Processed
	outcome.Result.Created += resp.Result.Created
	outcome.Result.Updated += resp.Result.Updated
	outcome.Result.Skipped += resp.Result.Skipped
	outcome.Result.Failed += resp.Result.Failed

	log.Info("batch acknowledged",
		zap.Int("records", len(chunk)),
		zap.Int("created", resp.Result.Created),
		zap.Int("updated", resp.Result.Updated),
		zap.Int("skipped", resp.Result.Skipped),
		zap.Int("failed", resp.Result.Failed),
	)
	return nil
}
