package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/dto"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/middleware"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/services"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/testutil"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

const (
	testTenant      = "tenant-1"
	testIntegration = "integration-1"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	store  *testutil.MemoryStore
	clock  *testclock.Clock
	token  string
}

func newTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := testutil.NewMemoryStore()
	clk := testclock.NewClock(t0)
	jwtService := services.NewJWTService("test-jwt-secret", 3600, clk)
	token, err := jwtService.GenerateToken(testTenant, "owner@example.com")
	require.NoError(t, err)

	cfg := &Config{CORSAllowOrigins: []string{"http://localhost:3000"}}
	router := NewRouter(cfg, Dependencies{
		Storage:     store,
		Clock:       clk,
		Logger:      zap.NewNop(),
		JWTService:  jwtService,
		SyncLimiter: middleware.NewKeyedLimiter(rps, burst, clk),
		TokenTTL:    24 * time.Hour,
	})
	return &testServer{router: router, store: store, clock: clk, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createAgent provisions an agent through the admin API and returns its id and secret
func (s *testServer) createAgent(t *testing.T) (string, string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/admin/integrations/"+testIntegration+"/agents", nil, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[dto.CreateAgentResponse](t, w)
	return resp.AgentID, resp.AuthSecret
}

func (s *testServer) register(t *testing.T, agentID, secret string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/agent/register", syncproto.RegisterRequest{
		TenantID:       testTenant,
		IntegrationID:  testIntegration,
		AgentID:        agentID,
		AgentVersion:   "1.0.0",
		MachineName:    "CAJA-01",
		SRDatabaseName: "softrestaurant11",
		AuthSecret:     secret,
	}, false)
}

func salesBatch(t *testing.T, agentID, secret, batchID string, index, total int, folios ...string) syncproto.SyncRequest {
	t.Helper()
	data := make([]json.RawMessage, len(folios))
	for i, folio := range folios {
		raw, err := json.Marshal(syncproto.SaleRecord{
			SourceOrderNumber: folio,
			OpenedAt:          t0,
			Total:             100,
			Currency:          "MXN",
		})
		require.NoError(t, err)
		data[i] = raw
	}
	return syncproto.SyncRequest{
		AgentID:    agentID,
		AuthSecret: secret,
		SyncType:   syncproto.SyncTypeSales,
		BatchID:    batchID,
		BatchIndex: index,
		BatchTotal: total,
		Data:       data,
	}
}

func TestAgentLifecycle(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)

	w := s.register(t, agentID, secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reg := decode[syncproto.RegisterResponse](t, w)
	assert.Equal(t, syncproto.StatusRegistered, reg.Status)
	assert.True(t, reg.SyncConfig.SyncSales)

	w = s.do(t, http.MethodPost, "/v1/agent/heartbeat", syncproto.HeartbeatRequest{
		AgentID: agentID, AuthSecret: secret, Status: syncproto.StatusConnected,
	}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, syncproto.StatusConnected, s.store.Agent(agentID).Status)

	batch := salesBatch(t, agentID, secret, "b1", 0, 1, "1001", "1002", "1003")
	for i := 0; i < 2; i++ {
		w = s.do(t, http.MethodPost, "/v1/agent/sync", batch, false)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[syncproto.SyncResponse](t, w)
		assert.True(t, resp.Success)
		assert.Equal(t, 3, resp.Result.Processed, "delivery %d", i+1)
		assert.Equal(t, 3, resp.Result.Created, "delivery %d", i+1)
	}
	assert.Equal(t, 3, s.store.RecordCount(testTenant, syncproto.SyncTypeSales))
	assert.Equal(t, int64(3), s.store.Agent(agentID).TotalRecordsSynced)

	w = s.do(t, http.MethodGet, "/v1/admin/agents/"+agentID+"/sync-logs?limit=10", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	logs := decode[dto.ListSyncLogsResponse](t, w)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, 3, logs.Logs[0].RecordsCreated)
}

func TestSync_MalformedBody(t *testing.T) {
	s := newTestServer(t, 100, 100)

	w := s.do(t, http.MethodPost, "/v1/agent/sync", "{not json", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decode[dto.ErrorResponse](t, w).Error)
}

func TestSync_MissingFields(t *testing.T) {
	s := newTestServer(t, 100, 100)

	w := s.do(t, http.MethodPost, "/v1/agent/sync", map[string]interface{}{
		"agent_id": "tis-agent-001", "auth_secret": "x", "sync_type": "payroll",
		"batch_id": "b1", "batch_index": 0, "batch_total": 1, "data": []interface{}{},
	}, false)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[dto.ErrorResponse](t, w)
	assert.Equal(t, "oneof", resp.Details["sync_type"])
}

func TestSync_UnknownAgent(t *testing.T) {
	s := newTestServer(t, 100, 100)

	w := s.do(t, http.MethodPost, "/v1/agent/sync", salesBatch(t, "tis-agent-missing", "x", "b1", 0, 1, "1"), false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSync_ExpiredCredential(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)
	require.Equal(t, http.StatusOK, s.register(t, agentID, secret).Code)

	s.clock.Advance(25 * time.Hour)
	w := s.do(t, http.MethodPost, "/v1/agent/sync", salesBatch(t, agentID, secret, "b1", 0, 1, "1"), false)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_expired", decode[dto.ErrorResponse](t, w).Details["reason"])
}

func TestSync_PendingAgentConflict(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)

	w := s.do(t, http.MethodPost, "/v1/agent/sync", salesBatch(t, agentID, secret, "b1", 0, 1, "1"), false)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSync_ProcessingFailureCarriesBatch(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)
	require.Equal(t, http.StatusOK, s.register(t, agentID, secret).Code)

	s.store.ApplyErr = errors.New("disk full")
	w := s.do(t, http.MethodPost, "/v1/agent/sync", salesBatch(t, agentID, secret, "b7", 2, 4, "1"), false)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[syncproto.SyncFailure](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "b7", resp.BatchID)
	assert.Equal(t, 2, resp.BatchIndex)
}

func TestSync_PartialBatchRedelivery(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)
	require.Equal(t, http.StatusOK, s.register(t, agentID, secret).Code)

	batch := salesBatch(t, agentID, secret, "b1", 0, 1, "2001", "2002")
	batch.Data = append(batch.Data, json.RawMessage(`{"currency":"MXN"}`))

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/v1/agent/sync", batch, false)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[syncproto.SyncResponse](t, w)
		assert.Equal(t, syncproto.SyncResult{Processed: 2, Created: 2, Failed: 1}, resp.Result, "delivery %d", i+1)
	}
	assert.Equal(t, 2, s.store.RecordCount(testTenant, syncproto.SyncTypeSales))
	assert.Equal(t, int64(2), s.store.Agent(agentID).TotalRecordsSynced)
	assert.Equal(t, 1, s.store.Agent(agentID).ConsecutiveErrors)
}

func TestSync_RateLimited(t *testing.T) {
	s := newTestServer(t, 1, 2)
	agentID, secret := s.createAgent(t)
	require.Equal(t, http.StatusOK, s.register(t, agentID, secret).Code)

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/v1/agent/sync", salesBatch(t, agentID, secret, fmt.Sprintf("b%d", i), 0, 1, "1"), false)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := s.do(t, http.MethodPost, "/v1/agent/sync", salesBatch(t, agentID, secret, "b9", 0, 1, "1"), false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRegister_WrongIntegrationForbidden(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)

	w := s.do(t, http.MethodPost, "/v1/agent/register", syncproto.RegisterRequest{
		TenantID: testTenant, IntegrationID: "other", AgentID: agentID, AgentVersion: "1.0.0", AuthSecret: secret,
	}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	s := newTestServer(t, 100, 100)

	w := s.do(t, http.MethodGet, "/v1/admin/agents", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_SecondAgentConflicts(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, _ := s.createAgent(t)

	w := s.do(t, http.MethodPost, "/v1/admin/integrations/"+testIntegration+"/agents", nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/admin/agents/"+agentID, nil, true)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/v1/admin/agents/"+agentID, nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_UpdateConfigReachesHeartbeat(t *testing.T) {
	s := newTestServer(t, 100, 100)
	agentID, secret := s.createAgent(t)
	require.Equal(t, http.StatusOK, s.register(t, agentID, secret).Code)

	w := s.do(t, http.MethodPatch, "/v1/admin/agents/"+agentID+"/config", map[string]interface{}{
		"sync_interval_seconds": 5,
	}, true)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPatch, "/v1/admin/agents/"+agentID+"/config", map[string]interface{}{
		"sync_interval_seconds": 120, "sync_tables": false,
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/v1/agent/heartbeat", syncproto.HeartbeatRequest{
		AgentID: agentID, AuthSecret: secret, Status: syncproto.StatusConnected,
	}, false)
	require.Equal(t, http.StatusOK, w.Code)
	hb := decode[syncproto.HeartbeatResponse](t, w)
	require.NotNil(t, hb.SyncConfig)
	assert.Equal(t, 120, hb.SyncConfig.IntervalSeconds)
	assert.False(t, hb.SyncConfig.SyncTables)
}

func TestReady(t *testing.T) {
	s := newTestServer(t, 100, 100)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil, false).Code)
	s.store.PingErr = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/ready", nil, false).Code)
}
