package services

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// maxHeartbeatError is the longest error message, in bytes, sent on a heartbeat
const maxHeartbeatError = 2000

// HeartbeatStatus is what one heartbeat reports
type HeartbeatStatus struct {
	Status          syncproto.AgentStatus
	LastSyncAt      *time.Time
	LastSyncRecords *int
	ErrorMessage    string
}

// HeartbeatService sends liveness and status reports
type HeartbeatService struct {
	client  CloudClient
	agentID string
	logger  *zap.Logger
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(client CloudClient, agentID string, logger *zap.Logger) *HeartbeatService {
	return &HeartbeatService{
		client:  client,
		agentID: agentID,
		logger:  logger,
	}
}

// Send sends one heartbeat. The returned sync config is nil when the cloud
// did not include one.
func (h *HeartbeatService) Send(ctx context.Context, secret string, st HeartbeatStatus) (*syncproto.SyncConfig, error) {
	msg := truncateUTF8(st.ErrorMessage, maxHeartbeatError)

	resp, err := h.client.Heartbeat(ctx, syncproto.HeartbeatRequest{
		AgentID:         h.agentID,
		AuthSecret:      secret,
		Status:          st.Status,
		LastSyncAt:      st.LastSyncAt,
		LastSyncRecords: st.LastSyncRecords,
		ErrorMessage:    msg,
	})
	if err != nil {
		h.logger.Warn("heartbeat failed",
			zap.String("agent_id", h.agentID),
			zap.String("status", string(st.Status)),
			zap.Error(err),
		)
		return nil, err
	}

	h.logger.Debug("heartbeat sent", zap.String("agent_id", h.agentID), zap.String("status", string(st.Status)))
	return resp.SyncConfig, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
