package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/testutil"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

const (
	testTenant      = "tenant-1"
	testIntegration = "integration-1"
	testAgentID     = "tis-agent-001"
	testSecret      = "tis_test_secret"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *testutil.MemoryStore
	clock     *testclock.Clock
	validator *AuthValidator
	ingestion *IngestionService
	agent     *domains.AgentInstance
}

func newFixture(t *testing.T, status syncproto.AgentStatus) *fixture {
	t.Helper()
	store := testutil.NewMemoryStore()
	clk := testclock.NewClock(t0)
	logger := zap.NewNop()

	agent := &domains.AgentInstance{
		ID:                  uuid.New(),
		TenantID:            testTenant,
		IntegrationID:       testIntegration,
		AgentID:             testAgentID,
		Status:              status,
		SyncSales:           true,
		SyncMenu:            true,
		SyncIntervalSeconds: 30,
		AuthTokenHash:       syncproto.HashSecret(testSecret),
		TokenExpiresAt:      t0.Add(24 * time.Hour),
		CreatedAt:           t0,
		UpdatedAt:           t0,
	}
	require.NoError(t, store.CreateAgentInstance(context.Background(), agent))

	return &fixture{
		store:     store,
		clock:     clk,
		validator: NewAuthValidator(store, clk, logger),
		ingestion: NewIngestionService(store, clk, logger),
		agent:     agent,
	}
}

func (f *fixture) identity(t *testing.T) *Identity {
	t.Helper()
	ident, err := f.validator.Validate(context.Background(), testAgentID, testSecret)
	require.NoError(t, err)
	return ident
}

func saleJSON(t *testing.T, folio string, total float64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(syncproto.SaleRecord{
		SourceOrderNumber: folio,
		OpenedAt:          t0,
		Total:             total,
		Currency:          "MXN",
	})
	require.NoError(t, err)
	return raw
}

func salesRequest(t *testing.T, batchID string, index, total int, folios ...int) syncproto.SyncRequest {
	t.Helper()
	data := make([]json.RawMessage, len(folios))
	for i, f := range folios {
		data[i] = saleJSON(t, fmt.Sprint(f), float64(f)*10)
	}
	return syncproto.SyncRequest{
		AgentID:    testAgentID,
		AuthSecret: testSecret,
		SyncType:   syncproto.SyncTypeSales,
		BatchID:    batchID,
		BatchIndex: index,
		BatchTotal: total,
		Data:       data,
	}
}
