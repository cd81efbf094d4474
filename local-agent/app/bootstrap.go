package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/detector"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/identity"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/logging"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/pos"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/security"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/services"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/storage"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/transform"
)

// historyRetentionDays is how long finished batch history is kept locally
const historyRetentionDays = 7

// Bootstrap initializes and runs the agent until SIGINT or SIGTERM
func Bootstrap(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, sink, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	sinkCtx, stopSink := context.WithCancel(context.Background())
	go sink.Run(sinkCtx)
	defer func() {
		stopSink()
		_ = logger.Sync()
		_ = sink.Close()
	}()

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	creds, err := security.NewCredentialStore(cfg.CredentialPath, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}
	if !creds.Exists() {
		return fmt.Errorf("no credential found at %s, run 'tis-agent set-secret' first", cfg.CredentialPath)
	}

	httpClient, err := clients.NewHTTPClient(cfg.APIURL, cfg.AllowInsecure, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize http client: %w", err)
	}
	agentClient := services.NewAgentClient(httpClient, logger)
	identityMgr := identity.NewManager(cfg.IdentityPath)

	info := services.AgentInfo{
		AgentID:       cfg.AgentID,
		TenantID:      cfg.TenantID,
		IntegrationID: cfg.IntegrationID,
		Version:       Version,
	}

	var repo *pos.Repository
	defer func() {
		if repo != nil {
			repo.Close()
		}
	}()
	openRepo := func(ctx context.Context, det detector.Result) (services.Repository, error) {
		r, err := pos.Open(ctx, det.ConnString, logger)
		if err != nil {
			return nil, err
		}
		repo = r
		return r, nil
	}

	engine := services.NewSyncEngine(cfg.engineConfig(), services.EngineDeps{
		Detector:     newDetector(cfg, logger),
		OpenRepo:     openRepo,
		Registration: services.NewRegistrationService(agentClient, identityMgr, info, clock.WallClock, logger),
		Heartbeat:    services.NewHeartbeatService(agentClient, cfg.AgentID, logger),
		Sender:       services.NewBatchSender(agentClient, store, cfg.AgentID, logger),
		Store:        store,
		Identity:     identityMgr,
		Credentials:  creds,
		Clock:        clock.WallClock,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go startCleanupJob(ctx, store, logger)

	logger.Info("agent started",
		zap.String("agent_id", cfg.AgentID),
		zap.String("version", Version),
		zap.String("api_url", cfg.APIURL),
	)
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func (c *Config) engineConfig() services.EngineConfig {
	return services.EngineConfig{
		AgentID:            c.AgentID,
		BatchSize:          c.BatchSize,
		MaxBatchesPerCycle: c.MaxBatchesPerCycle,
		InitialSalesLimit:  c.InitialSalesLimit,
		DefaultInterval:    c.SyncInterval(),
		DetectRetry:        c.DetectRetry,
		ErrorPause:         c.ErrorPause,
		Transform: transform.Options{
			Currency: c.Currency,
			Location: c.Location(),
		},
	}
}

func newDetector(cfg *Config, logger *zap.Logger) services.Detector {
	if cfg.POS.ConnectionString != "" {
		return detector.StaticDetector{ConnString: cfg.POS.ConnectionString}
	}
	return detector.NewDefault(cfg.hints(), logger)
}

func (c *Config) hints() detector.Hints {
	return detector.Hints{
		Host:           c.POS.Host,
		User:           c.POS.User,
		Password:       c.POS.Password,
		ExtraInstances: c.POS.ExtraInstances,
		ExtraDatabases: c.POS.ExtraDatabases,
	}
}

// startCleanupJob prunes local batch history every hour
func startCleanupJob(ctx context.Context, store *storage.Store, logger *zap.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.CleanupHistory(ctx, historyRetentionDays); err != nil {
				logger.Warn("history cleanup failed", zap.Error(err))
			}
		}
	}
}

// Detect runs detection once with the configured hints
func Detect(ctx context.Context, configPath string) (detector.Result, error) {
	cfg, err := LoadLocalConfig(configPath)
	if err != nil {
		return detector.Result{}, fmt.Errorf("failed to load config: %w", err)
	}
	logger := zap.NewNop()
	return newDetector(cfg, logger).Detect(ctx)
}

// SetSecret encrypts and stores the agent secret
func SetSecret(configPath, secret string) error {
	cfg, err := LoadLocalConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	creds, err := security.NewCredentialStore(cfg.CredentialPath, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}
	return creds.Save(secret)
}

// StatusReport is the local view printed by the status command
type StatusReport struct {
	AgentID       string                `yaml:"agent_id"`
	Version       string                `yaml:"version"`
	HasCredential bool                  `yaml:"has_credential"`
	Identity      *identity.Identity    `yaml:"identity,omitempty"`
	State         *storage.LocalState   `yaml:"state"`
	RecentBatches []storage.BatchRecord `yaml:"recent_batches"`
}

// Status collects local state without contacting the cloud
func Status(ctx context.Context, configPath string) (*StatusReport, error) {
	cfg, err := LoadLocalConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	state, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	batches, err := store.RecentBatches(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	ident, err := identity.NewManager(cfg.IdentityPath).Load()
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		AgentID:       cfg.AgentID,
		Version:       Version,
		Identity:      ident,
		State:         state,
		RecentBatches: batches,
	}
	if creds, err := security.NewCredentialStore(cfg.CredentialPath, nil); err == nil {
		report.HasCredential = creds.Exists()
	}
	return report, nil
}
