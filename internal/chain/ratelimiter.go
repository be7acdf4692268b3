package chain

import (
	"context"
	"sync"
	"time"

	"chain-anomaly-watch/internal/domain"
)

// RateLimiter implements a token bucket for node calls.
type RateLimiter struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	lastRefill     time.Time
}

// NewRateLimiter allows maxTokens calls, refilling one token per refillInterval.
func NewRateLimiter(maxTokens int, refillInterval time.Duration) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillInterval <= 0 {
		refillInterval = time.Millisecond
	}
	return &RateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: refillInterval,
		lastRefill:     time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.refillInterval):
		}
	}
}

func (r *RateLimiter) refill() {
	elapsed := time.Since(r.lastRefill)
	newTokens := int(elapsed / r.refillInterval)
	if newTokens > 0 {
		r.tokens += newTokens
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.lastRefill = r.lastRefill.Add(time.Duration(newTokens) * r.refillInterval)
	}
}

// RateLimitedSource waits on a limiter before every call to the wrapped source.
type RateLimitedSource struct {
	next    BlockSource
	limiter *RateLimiter
}

// NewRateLimitedSource allows perSecond calls per second with a matching burst.
func NewRateLimitedSource(next BlockSource, perSecond int) *RateLimitedSource {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimitedSource{
		next:    next,
		limiter: NewRateLimiter(perSecond, time.Second/time.Duration(perSecond)),
	}
}

func (s *RateLimitedSource) HeadBlock(ctx context.Context) (uint64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return s.next.HeadBlock(ctx)
}

func (s *RateLimitedSource) BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.next.BlockTransactions(ctx, number)
}
