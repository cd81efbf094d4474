package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/dto"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/middleware"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/services"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/utils"
)

// AdminHandler handles the tenant dashboard and installer endpoints
type AdminHandler struct {
	admin *services.AdminService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *services.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// CreateAgent creates a pending agent for an integration
func (h *AdminHandler) CreateAgent(c *gin.Context) {
	var req dto.CreateAgentRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	agent, secret, err := h.admin.CreateAgent(c.Request.Context(), middleware.TenantID(c), c.Param("integration_id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, dto.CreateAgentResponse{
		Agent:          agent,
		AgentID:        agent.AgentID,
		AuthSecret:     secret,
		TokenExpiresAt: agent.TokenExpiresAt,
	})
}

// RotateCredential regenerates an agent secret
func (h *AdminHandler) RotateCredential(c *gin.Context) {
	agent, secret, err := h.admin.RotateCredential(c.Request.Context(), middleware.TenantID(c), c.Param("agent_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, dto.CredentialResponse{
		AgentID:        agent.AgentID,
		AuthSecret:     secret,
		TokenExpiresAt: agent.TokenExpiresAt,
	})
}

// UpdateSyncConfig changes the sync toggles or interval of an agent
func (h *AdminHandler) UpdateSyncConfig(c *gin.Context) {
	var req dto.UpdateSyncConfigRequest
	if !bind(c, &req) {
		return
	}
	agent, err := h.admin.UpdateSyncConfig(c.Request.Context(), middleware.TenantID(c), c.Param("agent_id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, agent)
}

// ListAgents lists the tenant's agents
func (h *AdminHandler) ListAgents(c *gin.Context) {
	agents, err := h.admin.ListAgents(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, dto.ListAgentsResponse{Agents: agents})
}

// GetAgent returns one agent
func (h *AdminHandler) GetAgent(c *gin.Context) {
	agent, err := h.admin.GetAgent(c.Request.Context(), middleware.TenantID(c), c.Param("agent_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, agent)
}

// ListSyncLogs returns recent sync log entries for an agent
func (h *AdminHandler) ListSyncLogs(c *gin.Context) {
	var q dto.ListSyncLogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid query", map[string]string{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(&q); err != nil {
		respondServiceError(c, err)
		return
	}

	agentID := c.Param("agent_id")
	logs, err := h.admin.ListSyncLogs(c.Request.Context(), middleware.TenantID(c), agentID, q.Limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, dto.ListSyncLogsResponse{AgentID: agentID, Logs: logs})
}

// DeleteAgent soft deletes an agent
func (h *AdminHandler) DeleteAgent(c *gin.Context) {
	if err := h.admin.DeleteAgent(c.Request.Context(), middleware.TenantID(c), c.Param("agent_id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
