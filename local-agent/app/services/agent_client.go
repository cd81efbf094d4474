package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/clients"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// Requester is the transport used by AgentClient
type Requester interface {
	DoRequest(ctx context.Context, method, path string, payload, out interface{}) error
}

// AgentClient provides the register, heartbeat and sync calls of the cloud API
type AgentClient struct {
	httpClient Requester
	logger     *zap.Logger
}

// NewAgentClient creates a new agent client
func NewAgentClient(httpClient Requester, logger *zap.Logger) *AgentClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentClient{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register registers the agent and returns the cloud assigned sync config
func (c *AgentClient) Register(ctx context.Context, req syncproto.RegisterRequest) (*syncproto.RegisterResponse, error) {
	c.logger.Debug("sending register",
		zap.String("agent_id", req.AgentID),
		zap.String("secret_fp", syncproto.Fingerprint(req.AuthSecret)),
	)

	var resp syncproto.RegisterResponse
	if err := c.httpClient.DoRequest(ctx, http.MethodPost, "/register", req, &resp); err != nil {
		return nil, mapError("register", err, -1)
	}
	if !resp.Success {
		return nil, fmt.Errorf("register: cloud reported failure")
	}
	return &resp, nil
}

// Heartbeat reports liveness and status
func (c *AgentClient) Heartbeat(ctx context.Context, req syncproto.HeartbeatRequest) (*syncproto.HeartbeatResponse, error) {
	var resp syncproto.HeartbeatResponse
	if err := c.httpClient.DoRequest(ctx, http.MethodPost, "/heartbeat", req, &resp); err != nil {
		return nil, mapError("heartbeat", err, -1)
	}
	return &resp, nil
}

// Sync delivers one batch
func (c *AgentClient) Sync(ctx context.Context, req syncproto.SyncRequest) (*syncproto.SyncResponse, error) {
	var resp syncproto.SyncResponse
	if err := c.httpClient.DoRequest(ctx, http.MethodPost, "/sync", req, &resp); err != nil {
		return nil, mapError("sync", err, req.BatchIndex)
	}
	if !resp.Success {
		return nil, &BatchError{BatchIndex: req.BatchIndex, StatusCode: http.StatusOK, Message: "cloud reported failure"}
	}
	return &resp, nil
}

// mapError converts transport errors into the agent error taxonomy.
// batchIndex is negative for calls that do not carry a batch.
func mapError(op string, err error, batchIndex int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var httpErr *clients.HTTPError
	if !errors.As(err, &httpErr) {
		return &NetworkError{Op: op, Err: err}
	}

	msg := errorMessage(httpErr.Body)
	switch httpErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{StatusCode: httpErr.StatusCode, Message: msg}
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrAgentUnknown)
	}

	if batchIndex >= 0 {
		return &BatchError{BatchIndex: batchIndex, StatusCode: httpErr.StatusCode, Message: msg}
	}
	if httpErr.Retryable() {
		return &NetworkError{Op: op, Err: httpErr}
	}
	return fmt.Errorf("%s failed: %w", op, httpErr)
}

// errorMessage extracts the "error" field from a JSON error body
func errorMessage(body string) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(body)
}
