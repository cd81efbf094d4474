package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/handlers"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/middleware"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/services"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/storage/postgres"
)

// App represents the application
type App struct {
	Config  *Config
	Storage clients.StorageAdapter
	Sweeper *services.OfflineSweeper
	Router  *gin.Engine
	Logger  *zap.Logger

	closeStorage func()
}

// Bootstrap initializes the application
func Bootstrap(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	connString := cfg.ConnString()

	// Run migrations using golang-migrate
	if err := postgres.RunMigrations(connString); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := postgres.NewStore(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	deps := Dependencies{
		Storage:     store,
		Clock:       clock.WallClock,
		Logger:      logger,
		JWTService:  services.NewJWTService(cfg.AdminJWTSecret, cfg.AdminJWTExpirySec, clock.WallClock),
		SyncLimiter: middleware.NewKeyedLimiter(cfg.SyncRateLimitRPS, cfg.SyncRateLimitBurst, clock.WallClock),
	}
	router := NewRouter(cfg, deps)

	app := &App{
		Config:       cfg,
		Storage:      store,
		Sweeper:      services.NewOfflineSweeper(store, cfg.HeartbeatTimeout, cfg.SweepInterval, clock.WallClock, logger),
		Router:       router,
		Logger:       logger,
		closeStorage: store.Close,
	}
	return app, nil
}

// Close releases the storage pool and flushes the logger
func (a *App) Close() {
	if a.closeStorage != nil {
		a.closeStorage()
	}
	_ = a.Logger.Sync()
}

// NewLogger builds a production JSON zap logger at the given level
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

// Dependencies are the collaborators the router is built from
type Dependencies struct {
	Storage     clients.StorageAdapter
	Clock       clock.Clock
	Logger      *zap.Logger
	JWTService  *services.JWTService
	SyncLimiter *middleware.KeyedLimiter
	TokenTTL    time.Duration
}

// NewRouter wires services and handlers onto a gin engine
func NewRouter(cfg *Config, deps Dependencies) *gin.Engine {
	tokenTTL := deps.TokenTTL
	if tokenTTL == 0 {
		tokenTTL = cfg.AgentTokenTTL
	}

	validator := services.NewAuthValidator(deps.Storage, deps.Clock, deps.Logger)
	registration := services.NewRegistrationService(deps.Storage, validator, deps.Clock, deps.Logger)
	heartbeat := services.NewHeartbeatService(deps.Storage, validator, deps.Clock, deps.Logger)
	ingestion := services.NewIngestionService(deps.Storage, deps.Clock, deps.Logger)
	admin := services.NewAdminService(deps.Storage, tokenTTL, deps.Clock, deps.Logger)

	agentHandler := handlers.NewAgentHandler(validator, registration, heartbeat, ingestion, deps.SyncLimiter, deps.Logger)
	adminHandler := handlers.NewAdminHandler(admin)
	healthHandler := handlers.NewHealthHandler(deps.Storage)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	setupRoutes(router, agentHandler, adminHandler, healthHandler, deps.JWTService)
	return router
}

// setupRoutes configures HTTP routes
func setupRoutes(router *gin.Engine, agentHandler *handlers.AgentHandler, adminHandler *handlers.AdminHandler, healthHandler *handlers.HealthHandler, jwtService *services.JWTService) {
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")

	// Agent protocol, authenticated by the secret in each body
	agent := v1.Group("/agent")
	{
		agent.POST("/register", agentHandler.Register)
		agent.POST("/heartbeat", agentHandler.Heartbeat)
		agent.POST("/sync", agentHandler.Sync)
	}

	// Tenant dashboard and installer
	admin := v1.Group("/admin", middleware.AdminAuth(jwtService))
	{
		admin.POST("/integrations/:integration_id/agents", adminHandler.CreateAgent)
		admin.GET("/agents", adminHandler.ListAgents)
		admin.GET("/agents/:agent_id", adminHandler.GetAgent)
		admin.GET("/agents/:agent_id/sync-logs", adminHandler.ListSyncLogs)
		admin.POST("/agents/:agent_id/credential", adminHandler.RotateCredential)
		admin.PATCH("/agents/:agent_id/config", adminHandler.UpdateSyncConfig)
		admin.DELETE("/agents/:agent_id", adminHandler.DeleteAgent)
	}
}
