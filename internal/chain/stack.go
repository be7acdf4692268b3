package chain

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type StackOptions struct {
	RPCURL        string
	RetryAttempts int
	RatePerSecond int
	// Cache is optional; leave it nil to read every block from the node.
	Cache    RedisClient
	CacheTTL time.Duration
	// CacheConfirmations defaults to DefaultConfirmations.
	CacheConfirmations int
}

// NewStack dials the node and layers the read policies over it, outermost
// first: cache, retry, rate limit. The returned func closes the node client.
func NewStack(ctx context.Context, opts StackOptions, tracer trace.Tracer, logger *zap.Logger) (BlockSource, func(), error) {
	eth, err := DialEthereum(ctx, opts.RPCURL, tracer, logger)
	if err != nil {
		return nil, nil, err
	}

	var src BlockSource = eth
	if opts.RatePerSecond > 0 {
		src = NewRateLimitedSource(src, opts.RatePerSecond)
	}
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = opts.RetryAttempts
	src = NewRetryingSource(src, policy, logger)
	if opts.Cache != nil {
		src = NewCachedSource(src, opts.Cache, opts.CacheTTL, opts.CacheConfirmations, logger)
	}
	return src, eth.Close, nil
}
