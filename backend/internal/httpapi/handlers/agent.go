package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabboard/backend/internal/agent"
	"collabboard/backend/internal/httpapi/middleware"
)

const notConfiguredMessage = "AI not configured. Set ANTHROPIC_API_KEY in .env"

type AgentHandler struct {
	agent  *agent.Agent
	logger *zap.Logger
}

func NewAgentHandler(a *agent.Agent, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{agent: a, logger: logger}
}

type agentReq struct {
	Message string `json:"message" binding:"required"`
	BoardID string `json:"boardId" binding:"required"`
	UserID  string `json:"userId"`
}

// Handle serves POST /api/ai.
func (h *AgentHandler) Handle(c *gin.Context) {
	var req agentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message and boardId are required"})
		return
	}
	if id, ok := middleware.UserID(c); ok {
		req.UserID = id
	}

	res, err := h.agent.Handle(c.Request.Context(), strings.TrimSpace(req.BoardID), req.UserID, req.Message)
	if errors.Is(err, agent.ErrNotConfigured) {
		c.JSON(http.StatusOK, agent.Result{Message: notConfiguredMessage})
		return
	}
	if err != nil {
		h.logger.Error("ai request failed", zap.String("board", req.BoardID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
