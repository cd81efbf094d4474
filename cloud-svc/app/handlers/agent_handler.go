package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/dto"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/metrics"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/middleware"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/services"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/utils"
	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// respondJSON sends a JSON response
func respondJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// respondError sends an error response
func respondError(c *gin.Context, status int, message string, details map[string]string) {
	c.JSON(status, dto.ErrorResponse{
		Error:   message,
		Details: details,
	})
}

// respondServiceError maps a service error onto its HTTP status
func respondServiceError(c *gin.Context, err error) {
	_ = c.Error(err)

	var fields utils.FieldErrors
	if errors.As(err, &fields) {
		respondError(c, http.StatusBadRequest, "validation failed", fields)
		return
	}
	if authErr, ok := services.AsAuthError(err); ok {
		if authErr.Reason == services.ReasonUnknownAgent {
			respondError(c, http.StatusNotFound, "agent not found", nil)
			return
		}
		respondError(c, http.StatusUnauthorized, "unauthorized", map[string]string{"reason": string(authErr.Reason)})
		return
	}

	var validationErr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrForbidden):
		respondError(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, services.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrInvalidTransition):
		respondError(c, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, validationErr.Message, nil)
	default:
		respondError(c, http.StatusInternalServerError, "internal error", nil)
	}
}

// AgentHandler handles the agent protocol endpoints
type AgentHandler struct {
	validator    *services.AuthValidator
	registration *services.RegistrationService
	heartbeat    *services.HeartbeatService
	ingestion    *services.IngestionService
	limiter      *middleware.KeyedLimiter
	logger       *zap.Logger
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(
	validator *services.AuthValidator,
	registration *services.RegistrationService,
	heartbeat *services.HeartbeatService,
	ingestion *services.IngestionService,
	limiter *middleware.KeyedLimiter,
	logger *zap.Logger,
) *AgentHandler {
	return &AgentHandler{
		validator:    validator,
		registration: registration,
		heartbeat:    heartbeat,
		ingestion:    ingestion,
		limiter:      limiter,
		logger:       logger,
	}
}

// bind decodes and validates a request body
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", map[string]string{"error": err.Error()})
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondServiceError(c, err)
		return false
	}
	return true
}

// Register handles agent registration
func (h *AgentHandler) Register(c *gin.Context) {
	var req syncproto.RegisterRequest
	if !bind(c, &req) {
		return
	}
	c.Set(middleware.AgentIDKey, req.AgentID)

	resp, err := h.registration.Register(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, resp)
}

// Heartbeat handles agent heartbeat
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	var req syncproto.HeartbeatRequest
	if !bind(c, &req) {
		return
	}
	c.Set(middleware.AgentIDKey, req.AgentID)

	resp, err := h.heartbeat.Heartbeat(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, resp)
}

// Sync handles one batch of records
func (h *AgentHandler) Sync(c *gin.Context) {
	var req syncproto.SyncRequest
	if !bind(c, &req) {
		return
	}
	c.Set(middleware.AgentIDKey, req.AgentID)

	if h.limiter != nil && !h.limiter.Allow(req.AgentID) {
		metrics.RateLimitedTotal.Inc()
		c.Header("Retry-After", "1")
		respondError(c, http.StatusTooManyRequests, "rate limit exceeded", nil)
		return
	}

	ctx := c.Request.Context()
	ident, err := h.validator.Validate(ctx, req.AgentID, req.AuthSecret)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp, err := h.ingestion.Process(ctx, ident, req)
	if err != nil {
		var procErr *services.ProcessingError
		if errors.As(err, &procErr) {
			_ = c.Error(err)
			respondJSON(c, http.StatusInternalServerError, syncproto.SyncFailure{
				Success:    false,
				Error:      "batch processing failed",
				BatchID:    procErr.BatchID,
				BatchIndex: procErr.BatchIndex,
			})
			return
		}
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, resp)
}
