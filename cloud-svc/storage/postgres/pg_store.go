package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

const uniqueViolation = "23505"

const agentColumns = `
	id, tenant_id, integration_id, agent_id, status, agent_version, machine_name,
	sr_version, sr_database_name, sr_sql_instance, sr_empresa_id,
	sync_sales, sync_menu, sync_inventory, sync_tables, sync_interval_seconds,
	total_records_synced, last_sync_at, last_sync_records, last_heartbeat_at,
	consecutive_errors, last_error_message, last_error_at,
	auth_token_hash, token_expires_at,
	registered_at, created_at, updated_at, deleted_at`

const syncLogColumns = `
	id, agent_instance_id, tenant_id, sync_type, batch_id, batch_index, batch_total, status,
	records_received, records_processed, records_created, records_updated, records_skipped, records_failed,
	started_at, completed_at, duration_ms, error_message, error_details, finalized`

type recordTable struct {
	name string
	key  string
}

var recordTables = map[syncproto.SyncType]recordTable{
	syncproto.SyncTypeSales:     {name: "pos_sales", key: "source_order_number"},
	syncproto.SyncTypeMenu:      {name: "pos_menu_items", key: "source_product_id"},
	syncproto.SyncTypeInventory: {name: "pos_inventory_items", key: "source_item_id"},
	syncproto.SyncTypeTables:    {name: "pos_tables", key: "source_table_id"},
}

// Store represents the Postgres storage implementation
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Postgres store
// The database must already exist - creation should be handled at the infrastructure/deployment level
func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAgentInstance inserts a new pending agent instance
func (s *Store) CreateAgentInstance(ctx context.Context, inst *domains.AgentInstance) error {
	query := `
		INSERT INTO agent_instances (
			id, tenant_id, integration_id, agent_id, status,
			sync_sales, sync_menu, sync_inventory, sync_tables, sync_interval_seconds,
			auth_token_hash, token_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`
	_, err := s.pool.Exec(ctx, query,
		inst.ID, inst.TenantID, inst.IntegrationID, inst.AgentID, string(inst.Status),
		inst.SyncSales, inst.SyncMenu, inst.SyncInventory, inst.SyncTables, inst.SyncIntervalSeconds,
		inst.AuthTokenHash, inst.TokenExpiresAt, inst.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domains.ErrDuplicate
	}
	return err
}

// GetAgentByAgentID retrieves a live agent instance by its agent id
func (s *Store) GetAgentByAgentID(ctx context.Context, agentID string) (*domains.AgentInstance, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_instances WHERE agent_id = $1 AND deleted_at IS NULL`

	rows, _ := s.pool.Query(ctx, query, agentID)
	agent, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domains.AgentInstance])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents retrieves the live agent instances of a tenant
func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]domains.AgentInstance, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_instances
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`

	rows, _ := s.pool.Query(ctx, query, tenantID)
	return pgx.CollectRows(rows, pgx.RowToStructByName[domains.AgentInstance])
}

// MarkRegistered stores the reported detection details and moves the agent to registered
func (s *Store) MarkRegistered(ctx context.Context, id uuid.UUID, reg domains.Registration) error {
	query := `
		UPDATE agent_instances SET
			status = 'registered',
			agent_version = NULLIF($2, ''),
			machine_name = NULLIF($3, ''),
			sr_version = NULLIF($4, ''),
			sr_database_name = NULLIF($5, ''),
			sr_sql_instance = NULLIF($6, ''),
			sr_empresa_id = NULLIF($7, ''),
			registered_at = COALESCE(registered_at, $8),
			last_heartbeat_at = $8,
			consecutive_errors = 0,
			updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := s.pool.Exec(ctx, query, id,
		reg.AgentVersion, reg.MachineName, reg.SRVersion, reg.SRDatabaseName, reg.SRSQLInstance, reg.SREmpresaID,
		reg.At,
	)
	return err
}

// RecordHeartbeat stores a heartbeat. An error heartbeat increments
// consecutive_errors; connected and syncing reset it.
func (s *Store) RecordHeartbeat(ctx context.Context, id uuid.UUID, hb domains.Heartbeat) error {
	query := `
		UPDATE agent_instances SET
			status = $2::text,
			last_heartbeat_at = $3,
			last_sync_at = COALESCE($4, last_sync_at),
			last_sync_records = COALESCE($5, last_sync_records),
			consecutive_errors = CASE
				WHEN $2::text = 'error' THEN consecutive_errors + 1
				WHEN $2::text IN ('connected', 'syncing') THEN 0
				ELSE consecutive_errors END,
			last_error_message = CASE WHEN $2::text = 'error' THEN NULLIF($6, '') ELSE last_error_message END,
			last_error_at = CASE WHEN $2::text = 'error' THEN $3 ELSE last_error_at END,
			updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := s.pool.Exec(ctx, query, id, string(hb.Status), hb.At, hb.LastSyncAt, hb.LastSyncRecords, hb.ErrorMessage)
	return err
}

// UpdateSyncConfig stores the tenant controlled sync configuration
func (s *Store) UpdateSyncConfig(ctx context.Context, id uuid.UUID, cfg syncproto.SyncConfig) error {
	query := `
		UPDATE agent_instances SET
			sync_sales = $2, sync_menu = $3, sync_inventory = $4, sync_tables = $5,
			sync_interval_seconds = $6, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := s.pool.Exec(ctx, query, id, cfg.SyncSales, cfg.SyncMenu, cfg.SyncInventory, cfg.SyncTables, cfg.IntervalSeconds)
	return err
}

// RotateCredential replaces the credential hash and expiry
func (s *Store) RotateCredential(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	query := `
		UPDATE agent_instances SET
			auth_token_hash = $2, token_expires_at = $3, consecutive_errors = 0, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := s.pool.Exec(ctx, query, id, hash, expiresAt)
	return err
}

// SoftDeleteAgent marks an agent deleted, freeing its tenant integration slot
func (s *Store) SoftDeleteAgent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE agent_instances SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	_, err := s.pool.Exec(ctx, query, id, at)
	return err
}

// RecordAgentError increments consecutive_errors in place and stores the message
func (s *Store) RecordAgentError(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	query := `
		UPDATE agent_instances SET
			consecutive_errors = consecutive_errors + 1,
			last_error_message = $2,
			last_error_at = $3,
			updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := s.pool.Exec(ctx, query, id, message, at)
	return err
}

// ApplySyncAggregates adds records to the running total and sets the status
func (s *Store) ApplySyncAggregates(ctx context.Context, id uuid.UUID, records int, status syncproto.AgentStatus, at time.Time) error {
	query := `
		UPDATE agent_instances SET
			total_records_synced = total_records_synced + $2::bigint,
			last_sync_records = $3,
			last_sync_at = $4,
			status = $5,
			consecutive_errors = 0,
			updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := s.pool.Exec(ctx, query, id, int64(records), records, at, string(status))
	return err
}

// MarkOfflineBefore marks connected or syncing agents whose last heartbeat
// is older than cutoff as offline
func (s *Store) MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE agent_instances SET status = 'offline', updated_at = NOW()
		WHERE status IN ('connected', 'syncing')
		  AND last_heartbeat_at < $1
		  AND deleted_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BeginSyncLog claims a batch idempotency key. A finalized batch is returned
// as stored; anything else is inserted or re-opened as processing.
func (s *Store) BeginSyncLog(ctx context.Context, entry *domains.SyncLogEntry) (*domains.SyncLogEntry, bool, error) {
	query := `
		INSERT INTO sync_logs (
			agent_instance_id, tenant_id, sync_type, batch_id, batch_index, batch_total,
			status, records_received, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_instance_id, batch_id, batch_index) DO UPDATE SET
			status = EXCLUDED.status,
			batch_total = EXCLUDED.batch_total,
			records_received = EXCLUDED.records_received,
			records_processed = 0,
			records_created = 0,
			records_updated = 0,
			records_skipped = 0,
			records_failed = 0,
			started_at = EXCLUDED.started_at,
			completed_at = NULL,
			duration_ms = NULL,
			error_message = NULL,
			error_details = NULL,
			finalized = FALSE
		WHERE NOT sync_logs.finalized
		RETURNING ` + syncLogColumns

	rows, _ := s.pool.Query(ctx, query,
		entry.AgentInstanceID, entry.TenantID, string(entry.SyncType), entry.BatchID, entry.BatchIndex, entry.BatchTotal,
		string(entry.Status), entry.RecordsReceived, entry.StartedAt,
	)
	claimed, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domains.SyncLogEntry])
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// The conflict update was skipped, so the batch is already finalized
	existing := `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE agent_instance_id = $1 AND batch_id = $2 AND batch_index = $3`
	rows, _ = s.pool.Query(ctx, existing, entry.AgentInstanceID, entry.BatchID, entry.BatchIndex)
	stored, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domains.SyncLogEntry])
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// FinalizeSyncLog writes the closing status and counters of a batch. A
// finalized row is never overwritten.
func (s *Store) FinalizeSyncLog(ctx context.Context, entry *domains.SyncLogEntry) error {
	query := `
		UPDATE sync_logs SET
			status = $2,
			records_processed = $3,
			records_created = $4,
			records_updated = $5,
			records_skipped = $6,
			records_failed = $7,
			completed_at = $8,
			duration_ms = $9,
			error_message = $10,
			error_details = $11,
			finalized = $12
		WHERE id = $1 AND NOT finalized
	`
	_, err := s.pool.Exec(ctx, query, entry.ID, string(entry.Status),
		entry.RecordsProcessed, entry.RecordsCreated, entry.RecordsUpdated, entry.RecordsSkipped, entry.RecordsFailed,
		entry.CompletedAt, entry.DurationMS, entry.ErrorMessage, entry.ErrorDetails, entry.Finalized,
	)
	return err
}

// ListSyncLogs retrieves the most recent sync log entries of an agent
func (s *Store) ListSyncLogs(ctx context.Context, agentInstanceID uuid.UUID, limit int) ([]domains.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE agent_instance_id = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, _ := s.pool.Query(ctx, query, agentInstanceID, limit)
	return pgx.CollectRows(rows, pgx.RowToStructByName[domains.SyncLogEntry])
}

// ApplyRecords upserts records keyed on their natural key inside one
// transaction. A row whose payload_hash is unchanged is left untouched.
func (s *Store) ApplyRecords(ctx context.Context, scope domains.RecordScope, records []domains.RecordUpsert) ([]domains.UpsertOutcome, error) {
	table, ok := recordTables[scope.SyncType]
	if !ok {
		return nil, fmt.Errorf("unknown sync type %q", scope.SyncType)
	}
	if len(records) == 0 {
		return []domains.UpsertOutcome{}, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (tenant_id, integration_id, agent_instance_id, %[2]s, payload, payload_hash)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (tenant_id, integration_id, %[2]s) DO UPDATE SET
			payload = EXCLUDED.payload,
			payload_hash = EXCLUDED.payload_hash,
			agent_instance_id = EXCLUDED.agent_instance_id,
			updated_at = NOW()
		WHERE %[1]s.payload_hash IS DISTINCT FROM EXCLUDED.payload_hash
		RETURNING (xmax = 0) AS inserted
	`, table.name, table.key)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	outcomes := make([]domains.UpsertOutcome, len(records))
	for i, r := range records {
		var inserted bool
		err := tx.QueryRow(ctx, query,
			scope.TenantID, scope.IntegrationID, scope.AgentInstanceID, r.NaturalKey, string(r.Payload), r.PayloadHash,
		).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Conflict with an identical payload, nothing was written
			outcomes[i] = domains.OutcomeSkipped
		case err != nil:
			return nil, fmt.Errorf("failed to upsert %s %s: %w", scope.SyncType, r.NaturalKey, err)
		case inserted:
			outcomes[i] = domains.OutcomeCreated
		default:
			outcomes[i] = domains.OutcomeUpdated
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcomes, nil
}
