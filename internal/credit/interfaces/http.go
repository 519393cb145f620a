// Package interfaces exposes the credit HTTP endpoints.
package interfaces

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/response"

	"github.com/novastate/novacore/internal/credit/application"
	"github.com/novastate/novacore/internal/credit/domain"
	"github.com/novastate/novacore/internal/identity"
	"github.com/novastate/novacore/internal/rules"
)

type HTTPHandler struct {
	engine *application.Engine
	query  *application.QueryService
}

func NewHTTPHandler(engine *application.Engine, query *application.QueryService) *HTTPHandler {
	return &HTTPHandler{engine: engine, query: query}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	credit := r.Group("/credit")
	{
		credit.GET("/me", h.GetMe)
		credit.GET("/history", h.GetHistory)
		credit.GET("/leaderboard", h.GetLeaderboard)
		credit.GET("/stats", admin, h.GetStats)
		credit.POST("/risk-flag", admin, h.CreateRiskFlag)
		credit.POST("/events", h.PostEvent)
	}
}

func (h *HTTPHandler) GetMe(c *gin.Context) {
	userID, ok := identity.CurrentUserID(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}

	profile, err := h.query.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, profile)
}

func (h *HTTPHandler) GetHistory(c *gin.Context) {
	userID, ok := identity.CurrentUserID(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	changes, total, err := h.query.GetHistory(c.Request.Context(), userID, page, perPage)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"history": changes, "total": total, "page": page, "per_page": perPage})
}

func (h *HTTPHandler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var tier *rules.Tier
	if t := c.Query("tier"); t != "" {
		parsed := rules.Tier(t)
		tier = &parsed
	}

	entries, err := h.query.GetLeaderboard(c.Request.Context(), tier, limit)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"leaderboard": entries})
}

func (h *HTTPHandler) GetStats(c *gin.Context) {
	stats, err := h.query.GetStats(c.Request.Context())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, stats)
}

type CreateRiskFlagRequest struct {
	UserID      uint64 `json:"user_id" binding:"required"`
	FlagType    string `json:"flag_type" binding:"required"`
	Severity    string `json:"severity" binding:"required,oneof=LOW MED HIGH CRITICAL"`
	Description string `json:"description"`
}

func (h *HTTPHandler) CreateRiskFlag(c *gin.Context) {
	var req CreateRiskFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	flag, err := h.query.CreateRiskFlag(c.Request.Context(), req.UserID, req.FlagType,
		domain.RiskFlagSeverity(req.Severity), req.Description)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, flag)
}

type PostEventRequest struct {
	UserID    uint64         `json:"user_id" binding:"required"`
	EventType string         `json:"event_type" binding:"required"`
	SourceApp string         `json:"source_app" binding:"required"`
	EventID   *string        `json:"event_id"`
	Context   map[string]any `json:"context"`
}

// PostEvent is the synchronous intake for behavior events; the Kafka topic
// carries the same payload asynchronously.
func (h *HTTPHandler) PostEvent(c *gin.Context) {
	var req PostEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	result, err := h.engine.NormalizeAndProcess(c.Request.Context(), req.UserID, req.EventType,
		req.SourceApp, req.EventID, req.Context)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, result)
}
