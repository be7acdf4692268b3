package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/metrics"
	"chain-anomaly-watch/internal/report"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrHistoryDisabled = errors.New("report history is not configured")

type Scanner interface {
	Run(ctx context.Context, window uint64, contamination float64) (*domain.AnomalyReport, error)
}

// ReportWriter is the mandatory sink; a failed write fails the run.
type ReportWriter interface {
	Write(ctx context.Context, report *domain.AnomalyReport) error
	Path() string
}

// ReportSink is an optional destination. Failures are logged, never returned.
type ReportSink interface {
	Name() string
	Publish(ctx context.Context, report *domain.AnomalyReport) error
}

type ReportHistory interface {
	SaveReport(ctx context.Context, report *domain.AnomalyReport) (*domain.StoredReport, error)
	LatestReport(ctx context.Context) (*domain.StoredReport, error)
	ListReports(ctx context.Context, limit int) ([]*domain.StoredReport, error)
}

// ScanOptions overrides the configured defaults for one run. Window is
// honoured only when WindowSet is true, since zero scans the head alone.
type ScanOptions struct {
	Window        uint64
	WindowSet     bool
	Contamination float64
}

// ScanService runs scans one at a time and fans each report out to the sinks.
type ScanService struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	scanner  Scanner
	writer   ReportWriter
	history  ReportHistory
	sinks    []ReportSink
	defaults ScanOptions

	runMu  sync.Mutex
	lastMu sync.RWMutex
	last   *domain.AnomalyReport
}

func NewScanService(
	tracer trace.Tracer,
	logger *zap.Logger,
	scanner Scanner,
	writer ReportWriter,
	history ReportHistory,
	defaults ScanOptions,
	sinks ...ReportSink,
) *ScanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanService{
		tracer:   tracer,
		logger:   logger,
		scanner:  scanner,
		writer:   writer,
		history:  history,
		sinks:    sinks,
		defaults: defaults,
	}
}

func (s *ScanService) Defaults() ScanOptions {
	return s.defaults
}

// RunScan executes one scan. An unset window or a zero contamination falls
// back to the defaults.
func (s *ScanService) RunScan(ctx context.Context, opts ScanOptions) (*domain.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "scan-service.run-scan")
	defer span.End()

	if !opts.WindowSet {
		opts.Window = s.defaults.Window
	}
	if opts.Contamination == 0 {
		opts.Contamination = s.defaults.Contamination
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	rep, err := s.scanner.Run(ctx, opts.Window, opts.Contamination)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.writer.Write(ctx, rep); err != nil {
		metrics.ScanRuns.WithLabelValues(metrics.OutcomeSink).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("write report: %w", err)
	}
	s.logger.Info("Report written",
		zap.String("path", s.writer.Path()),
		zap.Int("anomalies", len(rep.Anomalies)))

	if s.history != nil {
		if stored, err := s.history.SaveReport(ctx, rep); err != nil {
			s.logger.Warn("failed to store report history", zap.Error(err))
		} else {
			span.SetAttributes(attribute.Int64("report.id", stored.ID))
		}
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, rep); err != nil {
			s.logger.Warn("report sink failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}

	metrics.ScanRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.lastMu.Lock()
	s.last = rep
	s.lastMu.Unlock()
	return rep, nil
}

// Latest returns the most recent report: from this process, then the history
// store, then the report file. It returns nil when none exists.
func (s *ScanService) Latest(ctx context.Context) (*domain.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "scan-service.latest")
	defer span.End()

	s.lastMu.RLock()
	last := s.last
	s.lastMu.RUnlock()
	if last != nil {
		return last, nil
	}

	if s.history != nil {
		stored, err := s.history.LatestReport(ctx)
		if err != nil {
			s.logger.Warn("history lookup failed, falling back to report file", zap.Error(err))
		} else if stored != nil {
			return &stored.Report, nil
		}
	}

	rep, err := report.ReadFile(s.writer.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rep, err
}

func (s *ScanService) History(ctx context.Context, limit int) ([]*domain.StoredReport, error) {
	_, span := s.tracer.Start(ctx, "scan-service.history")
	defer span.End()

	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.ListReports(ctx, limit)
}
