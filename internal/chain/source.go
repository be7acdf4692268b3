package chain

import (
	"context"

	"chain-anomaly-watch/internal/domain"
)

// BlockSource exposes the chain head and per-block transaction lists.
type BlockSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error)
}
