package job

import (
	"context"
	"time"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/service"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ScanRunner interface {
	RunScan(ctx context.Context, opts service.ScanOptions) (*domain.AnomalyReport, error)
}

// ScanJob re-runs the configured scan on a fixed interval.
type ScanJob struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	runner   ScanRunner
	interval time.Duration
}

func NewScanJob(tracer trace.Tracer, logger *zap.Logger, runner ScanRunner, intervalSecs int) *ScanJob {
	if intervalSecs <= 0 {
		intervalSecs = 3600
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanJob{
		tracer:   tracer,
		logger:   logger,
		runner:   runner,
		interval: time.Duration(intervalSecs) * time.Second,
	}
}

// Start runs a scan immediately, then once per interval. Blocks until ctx is cancelled.
func (j *ScanJob) Start(ctx context.Context) {
	j.logger.Info("Scan job starting", zap.Duration("interval", j.interval))

	j.tick(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Scan job stopped")
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *ScanJob) tick(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "scan-job.tick")
	defer span.End()

	rep, err := j.runner.RunScan(ctx, service.ScanOptions{})
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("scheduled scan failed", zap.Error(err))
		return
	}
	j.logger.Info("scheduled scan complete",
		zap.Int("anomalies", len(rep.Anomalies)),
		zap.Int("transactions", rep.Scanned))
}
