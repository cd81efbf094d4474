package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/detector"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/identity"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/pos"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/storage"
	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/transform"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

type fakeCloud struct {
	mu sync.Mutex

	registerErr  error
	heartbeatErr []error
	syncFn       func(req syncproto.SyncRequest) (*syncproto.SyncResponse, error)
	syncConfig   syncproto.SyncConfig
	hbConfig     *syncproto.SyncConfig

	registers  []syncproto.RegisterRequest
	heartbeats []syncproto.HeartbeatRequest
	syncs      []syncproto.SyncRequest
}

func (f *fakeCloud) Register(ctx context.Context, req syncproto.RegisterRequest) (*syncproto.RegisterResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = append(f.registers, req)
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &syncproto.RegisterResponse{
		Success:         true,
		Status:          syncproto.StatusRegistered,
		AgentInstanceID: "instance-1",
		SyncConfig:      f.syncConfig,
	}, nil
}

func (f *fakeCloud) Heartbeat(ctx context.Context, req syncproto.HeartbeatRequest) (*syncproto.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, req)
	if len(f.heartbeatErr) > 0 {
		err := f.heartbeatErr[0]
		f.heartbeatErr = f.heartbeatErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return &syncproto.HeartbeatResponse{Success: true, Timestamp: time.Now(), SyncConfig: f.hbConfig}, nil
}

func (f *fakeCloud) Sync(ctx context.Context, req syncproto.SyncRequest) (*syncproto.SyncResponse, error) {
	f.mu.Lock()
	f.syncs = append(f.syncs, req)
	fn := f.syncFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return acceptAll(req)
}

func (f *fakeCloud) snapshot() ([]syncproto.RegisterRequest, []syncproto.HeartbeatRequest, []syncproto.SyncRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncproto.RegisterRequest(nil), f.registers...),
		append([]syncproto.HeartbeatRequest(nil), f.heartbeats...),
		append([]syncproto.SyncRequest(nil), f.syncs...)
}

func acceptAll(req syncproto.SyncRequest) (*syncproto.SyncResponse, error) {
	return &syncproto.SyncResponse{
		Success:    true,
		SyncType:   req.SyncType,
		BatchID:    req.BatchID,
		BatchIndex: req.BatchIndex,
		Result:     syncproto.SyncResult{Processed: len(req.Data), Created: len(req.Data)},
	}, nil
}

type fakeRepo struct {
	tickets  []pos.Ticket
	products []pos.Product
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }

func (r *fakeRepo) GetNewRecords(ctx context.Context, after int64, limit int) ([]pos.Ticket, error) {
	var out []pos.Ticket
	for _, t := range r.tickets {
		if t.Folio > after && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetRecentSales(ctx context.Context, limit int) ([]pos.Ticket, error) {
	if len(r.tickets) <= limit {
		return r.tickets, nil
	}
	return r.tickets[len(r.tickets)-limit:], nil
}

func (r *fakeRepo) GetAllProducts(ctx context.Context) ([]pos.Product, error) { return r.products, nil }

func (r *fakeRepo) GetAllInventory(ctx context.Context) ([]pos.InventoryItem, error) { return nil, nil }

func (r *fakeRepo) GetAllTables(ctx context.Context) ([]pos.Table, error) { return nil, nil }

func ticketsUpTo(n int) []pos.Ticket {
	out := make([]pos.Ticket, n)
	for i := range out {
		out[i] = pos.Ticket{
			Folio: int64(i + 1),
			Fecha: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Total: sql.NullFloat64{Float64: 100, Valid: true},
		}
	}
	return out
}

type fakeDetector struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (d *fakeDetector) Detect(ctx context.Context) (detector.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) > 0 {
		err := d.results[0]
		d.results = d.results[1:]
		if err != nil {
			return detector.Result{Attempts: []detector.Attempt{{Method: detector.MethodProbe}}}, err
		}
	}
	return detector.Result{
		Success:  true,
		Method:   detector.MethodServices,
		Server:   "localhost",
		Instance: "NATIONALSOFT",
		Database: "softrestaurant10",
	}, nil
}

type fakeCreds struct {
	mu     sync.Mutex
	secret string
}

func (c *fakeCreds) Load() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secret, nil
}

func (c *fakeCreds) set(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret = s
}

type engineFixture struct {
	engine   *SyncEngine
	cloud    *fakeCloud
	repo     *fakeRepo
	store    *storage.Store
	creds    *fakeCreds
	detector *fakeDetector
	identity *identity.Manager
}

func newEngineFixture(t *testing.T, clk clock.Clock, cloud *fakeCloud, repo *fakeRepo) *engineFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewStore(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	identMgr := identity.NewManager(filepath.Join(dir, "identity.json"))
	info := AgentInfo{AgentID: "tis-agent-001", TenantID: "tenant-1", IntegrationID: "integration-1", Version: "1.0.0"}
	creds := &fakeCreds{secret: "secret-1"}
	det := &fakeDetector{}

	engine := NewSyncEngine(EngineConfig{
		AgentID:            info.AgentID,
		BatchSize:          10,
		MaxBatchesPerCycle: 10,
		InitialSalesLimit:  500,
		DefaultInterval:    30 * time.Second,
		DetectRetry:        5 * time.Minute,
		ErrorPause:         5 * time.Second,
		Transform:          transform.Options{Currency: "MXN"},
	}, EngineDeps{
		Detector:     det,
		OpenRepo:     func(ctx context.Context, _ detector.Result) (Repository, error) { return repo, nil },
		Registration: NewRegistrationService(cloud, identMgr, info, clk, logger),
		Heartbeat:    NewHeartbeatService(cloud, info.AgentID, logger),
		Sender:       NewBatchSender(cloud, store, info.AgentID, logger),
		Store:        store,
		Identity:     identMgr,
		Credentials:  creds,
		Clock:        clk,
		Logger:       logger,
	})

	return &engineFixture{engine: engine, cloud: cloud, repo: repo, store: store, creds: creds, detector: det, identity: identMgr}
}
