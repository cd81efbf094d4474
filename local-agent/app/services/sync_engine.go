package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/detector"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/identity"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/pos"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/storage"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/transform"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// Repository is the POS read side used by the engine
type Repository interface {
	Ping(ctx context.Context) error
	GetNewRecords(ctx context.Context, after int64, limit int) ([]pos.Ticket, error)
	GetRecentSales(ctx context.Context, limit int) ([]pos.Ticket, error)
	GetAllProducts(ctx context.Context) ([]pos.Product, error)
	GetAllInventory(ctx context.Context) ([]pos.InventoryItem, error)
	GetAllTables(ctx context.Context) ([]pos.Table, error)
}

// Detector locates the POS database
type Detector interface {
	Detect(ctx context.Context) (detector.Result, error)
}

// RepositoryOpener connects a repository to a detected database
type RepositoryOpener func(ctx context.Context, det detector.Result) (Repository, error)

// CredentialSource yields the agent secret
type CredentialSource interface {
	Load() (string, error)
}

// EngineConfig holds the engine tunables
type EngineConfig struct {
	AgentID            string
	BatchSize          int
	MaxBatchesPerCycle int
	InitialSalesLimit  int
	DefaultInterval    time.Duration
	DetectRetry        time.Duration
	ErrorPause         time.Duration
	Transform          transform.Options
}

// SyncEngine drives detection, registration, the initial full sync and the
// incremental sync loop. It runs on a single goroutine.
type SyncEngine struct {
	cfg          EngineConfig
	detector     Detector
	openRepo     RepositoryOpener
	registration *RegistrationService
	heartbeat    *HeartbeatService
	sender       *BatchSender
	store        *storage.Store
	identityMgr  *identity.Manager
	creds        CredentialSource
	clock        clock.Clock
	logger       *zap.Logger

	repo            Repository
	detection       detector.Result
	secret          string
	syncConfig      syncproto.SyncConfig
	status          syncproto.AgentStatus
	authFailed      bool
	fullSyncPending bool
	lastSyncAt      *time.Time
	lastSyncRecords int
}

// EngineDeps groups the collaborators of a SyncEngine
type EngineDeps struct {
	Detector     Detector
	OpenRepo     RepositoryOpener
	Registration *RegistrationService
	Heartbeat    *HeartbeatService
	Sender       *BatchSender
	Store        *storage.Store
	Identity     *identity.Manager
	Credentials  CredentialSource
	Clock        clock.Clock
	Logger       *zap.Logger
}

// NewSyncEngine creates a new sync engine
func NewSyncEngine(cfg EngineConfig, deps EngineDeps) *SyncEngine {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &SyncEngine{
		cfg:             cfg,
		detector:        deps.Detector,
		openRepo:        deps.OpenRepo,
		registration:    deps.Registration,
		heartbeat:       deps.Heartbeat,
		sender:          deps.Sender,
		store:           deps.Store,
		identityMgr:     deps.Identity,
		creds:           deps.Credentials,
		clock:           deps.Clock,
		logger:          deps.Logger.With(zap.String("agent_id", cfg.AgentID)),
		status:          syncproto.StatusPending,
		fullSyncPending: true,
	}
}

// Status returns the engine's current state
func (e *SyncEngine) Status() syncproto.AgentStatus {
	return e.status
}

// Interval returns the current sync interval
func (e *SyncEngine) Interval() time.Duration {
	return e.syncConfig.Interval(e.cfg.DefaultInterval)
}

// Run executes the engine until ctx is cancelled. On shutdown a best effort
// offline heartbeat is sent.
func (e *SyncEngine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.sendOffline()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.clock.After(e.Interval()):
		}

		if err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			if !e.pause(ctx, e.cfg.ErrorPause) {
				return nil
			}
		}
	}
}

// Start detects the database, registers and performs the first full sync.
// It only fails when ctx is cancelled.
func (e *SyncEngine) Start(ctx context.Context) error {
	if err := e.connectRepository(ctx); err != nil {
		return err
	}

	for {
		err := e.Register(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsAuthError(err) {
			e.recordFailure(ctx, err)
		}
		if !e.pause(ctx, e.Interval()) {
			return ctx.Err()
		}
	}

	if err := e.FullSync(ctx); err != nil {
		if ctx.Err() == nil {
			_ = e.handleCycleError(ctx, err)
		}
	} else {
		_ = e.sendHeartbeat(ctx)
	}
	return ctx.Err()
}

// connectRepository runs detection until it succeeds and opens the repository
func (e *SyncEngine) connectRepository(ctx context.Context) error {
	for {
		det, err := e.detector.Detect(ctx)
		if err == nil {
			repo, openErr := e.openRepo(ctx, det)
			if openErr == nil {
				e.repo = repo
				e.detection = det
				e.logger.Info("using pos database",
					zap.String("method", string(det.Method)),
					zap.String("sql_instance", det.SQLInstance()),
					zap.String("database", det.Database),
					zap.String("conn", det.RedactedConnString()),
				)
				return nil
			}
			err = fmt.Errorf("failed to open pos database: %w", openErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.logger.Warn("pos database not available, retrying",
			zap.Duration("retry_in", e.cfg.DetectRetry),
			zap.Error(err),
		)
		e.recordFailure(ctx, err)
		if !e.pause(ctx, e.cfg.DetectRetry) {
			return ctx.Err()
		}
	}
}

// Register loads the credential and registers with the cloud
func (e *SyncEngine) Register(ctx context.Context) error {
	secret, err := e.creds.Load()
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}

	ident, err := e.registration.Register(ctx, secret, e.detection)
	if err != nil {
		if IsAuthError(err) {
			e.enterAuthFailure(ctx, err)
		}
		return err
	}

	e.secret = secret
	if ident.SyncConfig != nil {
		e.syncConfig = *ident.SyncConfig
	}
	if e.authFailed {
		e.logger.Info("credential accepted, resuming sync")
		e.authFailed = false
		e.setState(ctx, storage.StateAuthFailed, "false")
	}
	e.setStatus(ctx, syncproto.StatusRegistered)
	return nil
}

// FullSync snapshots every enabled category and sends the initial sales batch
func (e *SyncEngine) FullSync(ctx context.Context) error {
	e.setStatus(ctx, syncproto.StatusSyncing)
	total := 0

	if e.syncConfig.SyncMenu {
		n, err := e.syncMenu(ctx)
		total += n
		if err != nil {
			return err
		}
	}
	if e.syncConfig.SyncInventory {
		n, err := e.syncInventory(ctx)
		total += n
		if err != nil {
			return err
		}
	}
	if e.syncConfig.SyncTables {
		n, err := e.syncTables(ctx)
		total += n
		if err != nil {
			return err
		}
	}
	if e.syncConfig.SyncSales {
		n, err := e.syncSales(ctx, true)
		total += n
		if err != nil {
			return err
		}
	}

	e.fullSyncPending = false
	e.setState(ctx, storage.StateFullSyncDone, "true")
	e.completeCycle(ctx, total)
	e.logger.Info("full sync completed", zap.Int("records", total))
	return nil
}

// RunCycle performs one pass of the interval loop. While authentication is
// failing it only retries registration.
func (e *SyncEngine) RunCycle(ctx context.Context) error {
	if e.authFailed {
		if err := e.Register(ctx); err != nil {
			if !IsAuthError(err) {
				e.recordFailure(ctx, err)
			}
			return nil
		}
	}

	if e.fullSyncPending {
		if err := e.FullSync(ctx); err != nil {
			return e.handleCycleError(ctx, err)
		}
		return e.sendHeartbeat(ctx)
	}

	total := 0
	if e.syncConfig.SyncSales {
		e.setStatus(ctx, syncproto.StatusSyncing)
		n, err := e.syncSales(ctx, false)
		total = n
		if err != nil {
			return e.handleCycleError(ctx, err)
		}
	}

	e.completeCycle(ctx, total)
	return e.sendHeartbeat(ctx)
}

func (e *SyncEngine) sendHeartbeat(ctx context.Context) error {
	records := e.lastSyncRecords
	cfg, err := e.heartbeat.Send(ctx, e.secret, HeartbeatStatus{
		Status:          syncproto.StatusConnected,
		LastSyncAt:      e.lastSyncAt,
		LastSyncRecords: &records,
	})
	if err != nil {
		return e.handleCycleError(ctx, err)
	}
	if cfg != nil {
		e.applySyncConfig(*cfg)
	}
	return nil
}

func (e *SyncEngine) completeCycle(ctx context.Context, records int) {
	now := e.clock.Now().UTC()
	e.lastSyncAt = &now
	e.lastSyncRecords = records
	e.setStatus(ctx, syncproto.StatusConnected)
	e.setState(ctx, storage.StateLastSyncAt, now.Format(time.RFC3339))
	e.setState(ctx, storage.StateLastSyncRecords, strconv.Itoa(records))
	if err := e.store.ResetFailures(ctx); err != nil {
		e.logger.Warn("failed to reset failure counter", zap.Error(err))
	}
}

// handleCycleError classifies a cycle failure. The returned error is nil
// when the failure was fully handled and no pause is needed.
func (e *SyncEngine) handleCycleError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case IsAuthError(err):
		e.enterAuthFailure(ctx, err)
		return nil
	case errors.Is(err, ErrAgentUnknown):
		e.logger.Warn("cloud does not know this agent, registering again")
		if rerr := e.Register(ctx); rerr != nil {
			e.recordFailure(ctx, rerr)
			return rerr
		}
		return nil
	}

	e.recordFailure(ctx, err)
	e.setStatus(ctx, syncproto.StatusError)
	if _, hbErr := e.heartbeat.Send(ctx, e.secret, HeartbeatStatus{
		Status:       syncproto.StatusError,
		ErrorMessage: err.Error(),
	}); hbErr != nil && IsAuthError(hbErr) {
		e.enterAuthFailure(ctx, hbErr)
	}
	return err
}

func (e *SyncEngine) enterAuthFailure(ctx context.Context, err error) {
	if !e.authFailed {
		e.logger.Error("authentication rejected by cloud, sync stopped until the credential is accepted",
			zap.Error(err),
		)
	}
	e.authFailed = true
	e.setStatus(ctx, syncproto.StatusError)
	e.setState(ctx, storage.StateAuthFailed, "true")
	if _, serr := e.store.RecordFailure(ctx, err.Error(), e.clock.Now()); serr != nil {
		e.logger.Warn("failed to record failure", zap.Error(serr))
	}
}

func (e *SyncEngine) recordFailure(ctx context.Context, err error) {
	n, serr := e.store.RecordFailure(ctx, err.Error(), e.clock.Now())
	if serr != nil {
		e.logger.Warn("failed to record failure", zap.Error(serr))
		return
	}
	e.logger.Warn("sync cycle failed", zap.Int("consecutive_failures", n), zap.Error(err))
}

func (e *SyncEngine) applySyncConfig(cfg syncproto.SyncConfig) {
	if cfg == e.syncConfig {
		return
	}
	e.logger.Info("sync config changed",
		zap.Int("interval_seconds", cfg.IntervalSeconds),
		zap.Bool("sales", cfg.SyncSales),
		zap.Bool("menu", cfg.SyncMenu),
		zap.Bool("inventory", cfg.SyncInventory),
		zap.Bool("tables", cfg.SyncTables),
	)
	e.syncConfig = cfg
	if e.identityMgr != nil {
		if err := e.identityMgr.UpdateSyncConfig(cfg); err != nil {
			e.logger.Warn("failed to persist sync config", zap.Error(err))
		}
	}
}

func (e *SyncEngine) sendOffline() {
	if e.secret == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.heartbeat.Send(ctx, e.secret, HeartbeatStatus{Status: syncproto.StatusOffline}); err != nil {
		e.logger.Warn("final offline heartbeat failed", zap.Error(err))
		return
	}
	e.logger.Info("sent offline heartbeat")
}

// pause waits d or until ctx is done; it reports whether the wait completed
func (e *SyncEngine) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
		return true
	}
}

func (e *SyncEngine) setStatus(ctx context.Context, status syncproto.AgentStatus) {
	e.status = status
	e.setState(ctx, storage.StateStatus, string(status))
}

func (e *SyncEngine) setState(ctx context.Context, key, value string) {
	if err := e.store.SetState(context.WithoutCancel(ctx), key, value); err != nil {
		e.logger.Warn("failed to persist agent state", zap.String("key", key), zap.Error(err))
	}
}

func (e *SyncEngine) syncSales(ctx context.Context, initial bool) (int, error) {
	cursor, err := e.store.GetCursor(ctx, string(syncproto.SyncTypeSales))
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}

	var tickets []pos.Ticket
	if initial && cursor == 0 {
		tickets, err = e.repo.GetRecentSales(ctx, e.cfg.InitialSalesLimit)
	} else {
		tickets, err = e.repo.GetNewRecords(ctx, cursor, e.cfg.BatchSize*e.cfg.MaxBatchesPerCycle)
	}
	if err != nil {
		return 0, err
	}

	items, err := EncodeItems(transform.Sales(tickets, e.cfg.Transform), func(i int) int64 { return tickets[i].Folio })
	if err != nil {
		return 0, err
	}
	return e.send(ctx, syncproto.SyncTypeSales, items)
}

func (e *SyncEngine) syncMenu(ctx context.Context) (int, error) {
	products, err := e.repo.GetAllProducts(ctx)
	if err != nil {
		return 0, err
	}
	items, err := EncodeItems(transform.MenuItems(products, e.cfg.Transform), nil)
	if err != nil {
		return 0, err
	}
	return e.send(ctx, syncproto.SyncTypeMenu, items)
}

func (e *SyncEngine) syncInventory(ctx context.Context) (int, error) {
	stock, err := e.repo.GetAllInventory(ctx)
	if err != nil {
		return 0, err
	}
	items, err := EncodeItems(transform.InventoryItems(stock, e.cfg.Transform), nil)
	if err != nil {
		return 0, err
	}
	return e.send(ctx, syncproto.SyncTypeInventory, items)
}

func (e *SyncEngine) syncTables(ctx context.Context) (int, error) {
	tables, err := e.repo.GetAllTables(ctx)
	if err != nil {
		return 0, err
	}
	items, err := EncodeItems(transform.Tables(tables, e.cfg.Transform), nil)
	if err != nil {
		return 0, err
	}
	return e.send(ctx, syncproto.SyncTypeTables, items)
}

func (e *SyncEngine) send(ctx context.Context, syncType syncproto.SyncType, items []Item) (int, error) {
	outcome, err := e.sender.Send(ctx, e.secret, syncType, items, e.cfg.BatchSize)
	return outcome.Records, err
}
