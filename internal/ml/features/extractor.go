package features

import (
	"context"
	"fmt"

	"chain-anomaly-watch/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultDecimals int32 = 18

// BlockReader returns the full transaction list of one block.
type BlockReader interface {
	BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error)
}

type Extractor struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	decimals int32
}

func NewExtractor(tracer trace.Tracer, logger *zap.Logger, decimals int32) *Extractor {
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{tracer: tracer, logger: logger, decimals: decimals}
}

// Extract walks rng block by block and emits one record per transaction.
// A failed block aborts the whole extraction.
func (e *Extractor) Extract(ctx context.Context, rng domain.BlockRange, src BlockReader) (domain.FeatureTable, error) {
	ctx, span := e.tracer.Start(ctx, "feature-extractor.extract")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("range.start", int64(rng.Start)),
		attribute.Int64("range.end", int64(rng.End)),
	)

	table := domain.FeatureTable{}
	for n := rng.Start; n <= rng.End; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block, err := src.BlockTransactions(ctx, n)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: block %d: %w", domain.ErrRetrieval, n, err)
		}
		if block == nil {
			return nil, fmt.Errorf("%w: block %d: empty response", domain.ErrRetrieval, n)
		}

		for _, tx := range block.Transactions {
			table = append(table, domain.TransactionRecord{
				Block: n,
				Value: e.toDisplayUnit(tx),
			})
		}
		e.logger.Debug("block extracted",
			zap.Uint64("block", n),
			zap.Int("tx_count", len(block.Transactions)))

		if n == rng.End {
			break
		}
	}

	span.SetAttributes(attribute.Int("rows", len(table)))
	return table, nil
}

func (e *Extractor) toDisplayUnit(tx domain.ChainTransaction) decimal.Decimal {
	if tx.Value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(tx.Value, -e.decimals)
}
