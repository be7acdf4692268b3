package handler

import (
	"context"
	"time"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type ScanAPI interface {
	RunScan(ctx context.Context, opts service.ScanOptions) (*domain.AnomalyReport, error)
	Latest(ctx context.Context) (*domain.AnomalyReport, error)
	History(ctx context.Context, limit int) ([]*domain.StoredReport, error)
}

type Handler struct {
	tracer  trace.Tracer
	scans   ScanAPI
	apiKey  string
	started time.Time
	now     func() time.Time
}

func New(tracer trace.Tracer, scans ScanAPI, apiKey string) *Handler {
	return &Handler{
		tracer:  tracer,
		scans:   scans,
		apiKey:  apiKey,
		started: time.Now(),
		now:     time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", APIKeyAuth(h.apiKey))
	api.GET("/reports/latest", h.GetLatestReport)
	api.GET("/reports", h.ListReports)
	api.POST("/scan", h.TriggerScan)
}
