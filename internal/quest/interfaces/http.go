// Package interfaces exposes the quest HTTP endpoints.
package interfaces

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/response"

	"github.com/novastate/novacore/internal/identity"
	"github.com/novastate/novacore/internal/quest/application"
	"github.com/novastate/novacore/internal/quest/domain"
	"github.com/novastate/novacore/internal/rules"
)

type HTTPHandler struct {
	service *application.Service
}

func NewHTTPHandler(service *application.Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	quests := r.Group("/quests")
	{
		quests.GET("/today", h.GetToday)
		quests.GET("/active", h.GetActive)
		quests.POST("/submit", h.Submit)
	}
	adminQuests := r.Group("/admin/quests", admin)
	{
		adminQuests.GET("/review", h.ReviewQueue)
		adminQuests.POST("/:id/decide", h.Decide)
	}
}

func (h *HTTPHandler) GetToday(c *gin.Context) {
	userID, ok := identity.CurrentUserID(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}

	quests, err := h.service.EnsureDailyQuests(c.Request.Context(), userID)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"quests": quests})
}

func (h *HTTPHandler) GetActive(c *gin.Context) {
	userID, ok := identity.CurrentUserID(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}

	quests, err := h.service.ListActive(c.Request.Context(), userID)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"quests": quests})
}

type SubmitRequest struct {
	QuestUUID string          `json:"quest_uuid" binding:"required"`
	ProofType rules.ProofType `json:"proof_type" binding:"required,oneof=TEXT LINK SCREENSHOT"`
	ProofRef  string          `json:"proof_ref" binding:"required"`
	AIScore   *int            `json:"ai_score"`
	Source    string          `json:"source"`
	Meta      map[string]any  `json:"meta"`
}

func (h *HTTPHandler) Submit(c *gin.Context) {
	userID, ok := identity.CurrentUserID(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	quest, err := h.service.SubmitProof(c.Request.Context(), application.SubmitProofCommand{
		UserID:    userID,
		QuestUUID: req.QuestUUID,
		ProofType: req.ProofType,
		ProofRef:  req.ProofRef,
		AIScore:   req.AIScore,
		Source:    req.Source,
		Meta:      req.Meta,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, quest)
}

func (h *HTTPHandler) ReviewQueue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	quests, err := h.service.ListReviewQueue(c.Request.Context(), limit)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"quests": quests})
}

type DecideRequest struct {
	Decision domain.Status `json:"decision" binding:"required,oneof=APPROVED REJECTED"`
	Reason   *string       `json:"reason"`
}

func (h *HTTPHandler) Decide(c *gin.Context) {
	adminID, ok := identity.CurrentUserID(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}

	questID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "quest id must be numeric", "VALIDATION_ERROR")
		return
	}

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	quest, err := h.service.Decide(c.Request.Context(), uint(questID), adminID, req.Decision, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, quest)
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, domain.ErrInvalidState):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, domain.ErrExpired):
		response.ErrorWithStatus(c, http.StatusGone, err.Error(), "EXPIRED")
	case errors.Is(err, domain.ErrValidation):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
	}
}
