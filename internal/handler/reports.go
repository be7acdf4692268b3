package handler

import (
	"errors"
	"net/http"
	"strconv"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/ml/outlier"
	"chain-anomaly-watch/internal/service"

	"github.com/gin-gonic/gin"
)

const maxListLimit = 100

// GetLatestReport returns the most recent report in the same shape as the
// report file.
func (h *Handler) GetLatestReport(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-report")
	defer span.End()

	rep, err := h.scans.Latest(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report available yet"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListReports(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-reports")
	defer span.End()

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	reports, err := h.scans.History(ctx, limit)
	if errors.Is(err, service.ErrHistoryDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []*domain.StoredReport{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(reports), "reports": reports})
}

// TriggerScan runs a scan now. Optional window and contamination query
// parameters override the configured defaults.
func (h *Handler) TriggerScan(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-scan")
	defer span.End()

	var opts service.ScanOptions
	if v := c.Query("window"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a non-negative integer"})
			return
		}
		opts.Window = n
		opts.WindowSet = true
	}
	if v := c.Query("contamination"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f >= 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": outlier.ErrInvalidContamination.Error()})
			return
		}
		opts.Contamination = f
	}

	rep, err := h.scans.RunScan(ctx, opts)
	if err != nil {
		c.JSON(scanErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"range_start":  rep.Range.Start,
		"range_end":    rep.Range.End,
		"transactions": rep.Scanned,
		"model":        rep.ModelKey,
		"report":       rep,
	})
}

func scanErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConnectivity), errors.Is(err, domain.ErrRetrieval):
		return http.StatusBadGateway
	case errors.Is(err, outlier.ErrInvalidContamination):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
