package chain

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"chain-anomaly-watch/internal/domain"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often a failed block-source call is repeated.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      100 * time.Millisecond,
	}
}

// RetryingSource retries failed calls on the wrapped source with capped
// exponential backoff. Context errors are never retried.
type RetryingSource struct {
	next   BlockSource
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryingSource(next BlockSource, policy RetryPolicy, logger *zap.Logger) *RetryingSource {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingSource{next: next, policy: policy, logger: logger, sleep: sleepCtx}
}

func (r *RetryingSource) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := r.do(ctx, "head", func(ctx context.Context) error {
		n, err := r.next.HeadBlock(ctx)
		head = n
		return err
	})
	return head, err
}

func (r *RetryingSource) BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	var block *domain.ChainBlock
	err := r.do(ctx, "block", func(ctx context.Context) error {
		b, err := r.next.BlockTransactions(ctx, number)
		block = b
		return err
	}, zap.Uint64("block", number))
	return block, err
}

func (r *RetryingSource) do(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		wait := r.policy.BaseDelay << (attempt - 1)
		if wait > r.policy.MaxDelay {
			wait = r.policy.MaxDelay
		}
		if r.policy.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(r.policy.Jitter)))
		}
		r.logger.Warn("block source call failed, retrying",
			append(fields,
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))...)

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
