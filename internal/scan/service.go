package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/metrics"
	"chain-anomaly-watch/internal/ml/features"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BlockSource is the chain collaborator a scan reads from.
type BlockSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error)
}

type FeatureExtractor interface {
	Extract(ctx context.Context, rng domain.BlockRange, src features.BlockReader) (domain.FeatureTable, error)
}

type OutlierScorer interface {
	ModelKey() string
	Score(table domain.FeatureTable, contamination float64) (domain.FeatureTable, error)
}

// Service runs one windowed scan: resolve the range, extract features, then
// keep the rows the scorer labels anomalous.
type Service struct {
	tracer    trace.Tracer
	logger    *zap.Logger
	source    BlockSource
	extractor FeatureExtractor
	scorer    OutlierScorer
	now       func() time.Time
}

func NewService(
	tracer trace.Tracer,
	logger *zap.Logger,
	source BlockSource,
	extractor FeatureExtractor,
	scorer OutlierScorer,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tracer:    tracer,
		logger:    logger,
		source:    source,
		extractor: extractor,
		scorer:    scorer,
		now:       time.Now,
	}
}

// Run scans the last window blocks below the current head. A failed head
// lookup is reported as domain.ErrConnectivity and a failed block as
// domain.ErrRetrieval; in both cases no report is produced.
func (s *Service) Run(ctx context.Context, window uint64, contamination float64) (*domain.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "scan-service.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("window", int64(window)),
		attribute.Float64("contamination", contamination),
	)

	started := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(started).Seconds()) }()

	head, err := s.source.HeadBlock(ctx)
	if err != nil {
		s.fail(span, metrics.OutcomeConnectivity, err)
		if errors.Is(err, domain.ErrConnectivity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
	}
	metrics.LastHeadBlock.Set(float64(head))

	rng := ResolveRange(head, window)
	s.logger.Info("scanning block range",
		zap.Uint64("head", head),
		zap.Uint64("start", rng.Start),
		zap.Uint64("end", rng.End))

	table, err := s.extractor.Extract(ctx, rng, s.source)
	if err != nil {
		s.fail(span, metrics.OutcomeRetrieval, err)
		return nil, err
	}
	metrics.BlocksFetched.Add(float64(rng.Len()))
	metrics.TransactionsScanned.Add(float64(len(table)))

	anomalies, err := s.scorer.Score(table, contamination)
	if err != nil {
		s.fail(span, metrics.OutcomeScoring, err)
		return nil, fmt.Errorf("score feature table: %w", err)
	}

	report := &domain.AnomalyReport{
		Timestamp: s.now().UTC(),
		Anomalies: anomalies,
		Range:     rng,
		Scanned:   len(table),
		ModelKey:  s.scorer.ModelKey(),
	}

	metrics.LastAnomalyCount.Set(float64(len(anomalies)))
	span.SetAttributes(
		attribute.Int("transactions", len(table)),
		attribute.Int("anomalies", len(anomalies)),
	)
	s.logger.Info("scan complete",
		zap.Int("transactions", len(table)),
		zap.Int("anomalies", len(anomalies)),
		zap.String("model", report.ModelKey))
	return report, nil
}

func (s *Service) fail(span trace.Span, outcome string, err error) {
	metrics.ScanRuns.WithLabelValues(outcome).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("scan failed", zap.String("outcome", outcome), zap.Error(err))
}
