package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sales-analytics/internal/analytics"
	"sales-analytics/internal/models"
	"sales-analytics/internal/service"
	"sales-analytics/internal/store"
	"sales-analytics/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reports is the report service as seen by the HTTP layer.
type Reports interface {
	RFMReport(ctx context.Context, f models.ReportFilter) (*service.RFMReport, error)
	RFMHeatmap(ctx context.Context, f models.ReportFilter) (*service.HeatmapReport, error)
	SegmentCustomers(ctx context.Context, f models.ReportFilter, segments ...string) (*service.CustomerList, error)
	RecencyCustomers(ctx context.Context, f models.ReportFilter, months ...int) (*service.CustomerList, error)
	ProductABCReport(ctx context.Context, f models.ReportFilter) (*service.ABCReport, error)
	CustomerABCReport(ctx context.Context, f models.ReportFilter) (*service.ABCReport, error)
	StockReport(ctx context.Context, f models.ReportFilter, periodDays int) (*service.StockReport, error)
	FilterOptions(ctx context.Context, f models.ReportFilter) (*models.FilterOptions, error)
	RequestRefresh(ctx context.Context, kind string, f models.ReportFilter, periodDays int) (*models.ReportRequestedEvent, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	reports Reports
	checks  map[string]Check
}

// NewHandler creates a new HTTP handler. checks are run by /ready.
func NewHandler(reports Reports, checks map[string]Check) *Handler {
	return &Handler{
		reports: reports,
		checks:  checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	reports := router.Group("/api/v1/reports")
	{
		reports.GET("/rfm", h.rfmReport)
		reports.GET("/rfm/heatmap", h.rfmHeatmap)
		reports.GET("/rfm/customers", h.rfmCustomers)
		reports.POST("/rfm/score", h.scoreRFM)

		reports.GET("/abc/products", h.productABC)
		reports.GET("/abc/customers", h.customerABC)
		reports.POST("/abc/classify", h.classifyABC)

		reports.GET("/stock", h.stockReport)
		reports.GET("/filters", h.filterOptions)
		reports.POST("/refresh", h.requestRefresh)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency check fails
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) rfmReport(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	resp, err := h.reports.RFMReport(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Failed to compute RFM report", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) rfmHeatmap(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	resp, err := h.reports.RFMHeatmap(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Failed to compute RFM heatmap", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// rfmCustomers lists scored customers filtered by ?segment= and ?recency=.
// recency takes whole months 0-6 or 7+.
func (h *Handler) rfmCustomers(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	months, err := parseRecency(c.QueryArray("recency"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid recency",
			"details": err.Error(),
		})
		return
	}
	segments := c.QueryArray("segment")

	var resp *service.CustomerList
	if len(segments) > 0 || len(months) == 0 {
		resp, err = h.reports.SegmentCustomers(c.Request.Context(), f, segments...)
		if err == nil && len(months) > 0 {
			resp.Customers = analytics.FilterByRecency(resp.Customers, months...)
			resp.Rows = len(resp.Customers)
		}
	} else {
		resp, err = h.reports.RecencyCustomers(c.Request.Context(), f, months...)
	}
	if err != nil {
		respondError(c, "Failed to list customers", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) productABC(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	resp, err := h.reports.ProductABCReport(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Failed to compute product ABC report", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) customerABC(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	resp, err := h.reports.CustomerABCReport(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Failed to compute customer ABC report", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) stockReport(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	periodDays := 0
	if v := c.Query("period_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid period_days",
				"details": err.Error(),
			})
			return
		}
		if n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid period_days",
				"details": analytics.ErrInvalidPeriod.Error(),
			})
			return
		}
		periodDays = n
	}

	resp, err := h.reports.StockReport(c.Request.Context(), f, periodDays)
	if err != nil {
		respondError(c, "Failed to compute stock report", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) filterOptions(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	resp, err := h.reports.FilterOptions(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Failed to load filter options", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ScoreRequest is a batch of customer aggregates to score directly.
type ScoreRequest struct {
	Customers []models.CustomerRFMRecord `json:"customers" binding:"required"`
}

// ScoreResponse is the scored batch.
type ScoreResponse struct {
	Customers []models.ScoredCustomer      `json:"customers"`
	Segments  []analytics.SegmentSummary   `json:"segments"`
	Heatmap   analytics.Heatmap            `json:"heatmap"`
	Skipped   analytics.SkipReport         `json:"skipped"`
	Errors    []*analytics.ValidationError `json:"errors,omitempty"`
	Warning   string                       `json:"warning,omitempty"`
}

func (h *Handler) scoreRFM(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res := analytics.ScoreRFM(req.Customers)
	resp := ScoreResponse{
		Customers: res.Customers,
		Segments:  analytics.SummarizeSegments(res.Customers),
		Heatmap:   analytics.BuildHeatmap(res.Customers),
		Skipped:   res.SkipReport(),
		Errors:    res.Skipped,
	}
	if resp.Skipped.Count > 0 {
		resp.Warning = resp.Skipped.String()
	}
	c.JSON(http.StatusOK, resp)
}

// ClassifyRequest is a batch of entities to classify directly.
type ClassifyRequest struct {
	Entities []models.ABCInput `json:"entities" binding:"required"`
}

// ClassifyResponse is the classified batch.
type ClassifyResponse struct {
	Items           []models.ABCItem             `json:"items"`
	Curves          []analytics.CurveSummary     `json:"curves"`
	GroupShares     []analytics.GroupShare       `json:"group_shares,omitempty"`
	Total           float64                      `json:"total"`
	DegenerateTotal bool                         `json:"degenerate_total"`
	Skipped         analytics.SkipReport         `json:"skipped"`
	Errors          []*analytics.ValidationError `json:"errors,omitempty"`
	Warning         string                       `json:"warning,omitempty"`
}

func (h *Handler) classifyABC(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res := analytics.ClassifyABC(req.Entities)
	resp := ClassifyResponse{
		Items:           res.Items,
		Curves:          analytics.SummarizeCurves(res.Items),
		Total:           res.Total,
		DegenerateTotal: res.DegenerateTotal,
		Skipped:         res.SkipReport(),
		Errors:          res.Skipped,
	}
	for _, it := range res.Items {
		if it.Group != "" {
			resp.GroupShares = analytics.GroupShareByCurve(res.Items)
			break
		}
	}
	if resp.Skipped.Count > 0 {
		resp.Warning = resp.Skipped.String()
	}
	c.JSON(http.StatusOK, resp)
}

// RefreshRequest asks for a report to be recomputed in the background.
type RefreshRequest struct {
	Kind         string   `json:"kind" binding:"required"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Channels     []string `json:"channels"`
	Regions      []string `json:"regions"`
	Brands       []string `json:"brands"`
	SalesReps    []string `json:"sales_reps"`
	Teams        []string `json:"teams"`
	SalesRepCode string   `json:"sales_rep_code"`
	PeriodDays   int      `json:"period_days"`
}

func (h *Handler) requestRefresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	start, err := parseDate(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid start date",
			"details": err.Error(),
		})
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid end date",
			"details": err.Error(),
		})
		return
	}

	f := models.ReportFilter{
		StartDate:    start,
		EndDate:      end,
		Channels:     req.Channels,
		Regions:      req.Regions,
		Brands:       req.Brands,
		SalesReps:    req.SalesReps,
		Teams:        req.Teams,
		SalesRepCode: req.SalesRepCode,
	}
	event, err := h.reports.RequestRefresh(c.Request.Context(), req.Kind, f, req.PeriodDays)
	if err != nil {
		respondError(c, "Failed to request refresh", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"event_id": event.EventID,
		"kind":     event.Kind,
		"status":   "queued",
	})
}

// respondError maps caller mistakes to 400 and everything else to 500.
func respondError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, analytics.ErrInvalidPeriod),
		errors.Is(err, service.ErrUnknownKind),
		errors.Is(err, service.ErrUnknownSegment):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
