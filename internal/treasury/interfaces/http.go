// Package interfaces exposes the treasury HTTP endpoints.
package interfaces

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/response"

	ledgerdomain "github.com/novastate/novacore/internal/ledger/domain"
	"github.com/novastate/novacore/internal/treasury/application"
	"github.com/novastate/novacore/internal/treasury/domain"
)

type HTTPHandler struct {
	router *application.RouterService
	query  *application.QueryService
}

func NewHTTPHandler(router *application.RouterService, query *application.QueryService) *HTTPHandler {
	return &HTTPHandler{router: router, query: query}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup) {
	treasury := r.Group("/treasury")
	{
		treasury.POST("/route", h.RouteRevenue)
		treasury.GET("/summary", h.GetSummary)
		treasury.GET("/flows", h.ListFlows)
		treasury.GET("/pools", h.GetPools)
		treasury.GET("/charts/revenue-by-app", h.RevenueByApp)
		treasury.GET("/charts/revenue-by-kind", h.RevenueByKind)
	}
}

type RouteRevenueRequest struct {
	App           string          `json:"app" binding:"required"`
	Kind          string          `json:"kind" binding:"required"`
	UserID        uint64          `json:"user_id" binding:"required"`
	PerformerID   *uint64         `json:"performer_id"`
	AgencyID      *uint64         `json:"agency_id"`
	Gross         decimal.Decimal `json:"gross" binding:"required"`
	ReferenceID   string          `json:"reference_id"`
	ReferenceType string          `json:"reference_type"`
	Metadata      map[string]any  `json:"metadata"`
}

func (h *HTTPHandler) RouteRevenue(c *gin.Context) {
	var req RouteRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	flow, err := h.router.RouteRevenue(c.Request.Context(), application.RouteRevenueCommand{
		App:           req.App,
		Kind:          req.Kind,
		UserID:        req.UserID,
		PerformerID:   req.PerformerID,
		AgencyID:      req.AgencyID,
		Gross:         req.Gross,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			response.ErrorWithStatus(c, http.StatusUnprocessableEntity, err.Error(), "INSUFFICIENT_FUNDS")
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, flow)
}

func (h *HTTPHandler) GetSummary(c *gin.Context) {
	summary, err := h.query.GetSummary(c.Request.Context())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, summary)
}

func (h *HTTPHandler) ListFlows(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}

	filter := domain.FlowFilter{
		Since:  application.RangeSince(c.DefaultQuery("range", "all")),
		App:    c.Query("app"),
		Kind:   c.Query("kind"),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}

	flows, total, err := h.query.ListFlows(c.Request.Context(), filter)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"flows": flows, "total": total, "page": page, "per_page": perPage})
}

func (h *HTTPHandler) GetPools(c *gin.Context) {
	pools, err := h.query.GetPools(c.Request.Context())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{
		"pools": gin.H{
			string(ledgerdomain.SystemPoolGrowth):    pools[ledgerdomain.SystemPoolGrowth],
			string(ledgerdomain.SystemPoolPerformer): pools[ledgerdomain.SystemPoolPerformer],
			string(ledgerdomain.SystemPoolDev):       pools[ledgerdomain.SystemPoolDev],
			string(ledgerdomain.SystemPoolBurn):      pools[ledgerdomain.SystemPoolBurn],
		},
	})
}

func (h *HTTPHandler) RevenueByApp(c *gin.Context) {
	h.revenueChart(c, h.query.RevenueChartByApp)
}

func (h *HTTPHandler) RevenueByKind(c *gin.Context) {
	h.revenueChart(c, h.query.RevenueChartByKind)
}

func (h *HTTPHandler) revenueChart(c *gin.Context, fetch func(ctx context.Context, since time.Time) ([]domain.DayRevenue, error)) {
	rangeToken := c.DefaultQuery("range", "7d")
	since := application.RangeSince(rangeToken)
	if since == nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "range must be 7d or 30d", "VALIDATION_ERROR")
		return
	}

	series, err := fetch(c.Request.Context(), *since)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	response.Success(c, gin.H{"range": rangeToken, "series": series})
}
