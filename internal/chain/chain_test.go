package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"chain-anomaly-watch/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestEthereumSourceHeadAndErrors(t *testing.T) {
	backend := &stubBackend{responses: map[string]string{"eth_blockNumber": `"0x4d2"`}}
	src := &EthereumSource{client: backend, tracer: testTracer, logger: zap.NewNop()}

	head, err := src.HeadBlock(context.Background())
	if err != nil || head != 1234 {
		t.Fatalf("unexpected head: %d err=%v", head, err)
	}

	backend.err = errors.New("connection refused")
	if _, err := src.HeadBlock(context.Background()); err == nil {
		t.Fatal("expected head error")
	}
	if _, err := src.BlockTransactions(context.Background(), 7); err == nil {
		t.Fatal("expected block error")
	}
	if backend.lastMethod != "eth_getBlockByNumber" || len(backend.lastArgs) != 2 {
		t.Fatalf("unexpected call: %s %v", backend.lastMethod, backend.lastArgs)
	}
	if backend.lastArgs[0] != "0x7" || backend.lastArgs[1] != true {
		t.Fatalf("expected block 0x7 with full transactions, got %v", backend.lastArgs)
	}
}

// Legacy, dynamic fee, set-code (0x4) and an unknown future type in one block.
const mixedTypeBlock = `{
	"number": "0x15f9e3a",
	"hash": "0x9b3c1d0e5f6a7b8c9d0e1f2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e",
	"transactions": [
		{"type": "0x0", "hash": "0x1111111111111111111111111111111111111111111111111111111111111111",
		 "value": "0xde0b6b3a7640000", "gasPrice": "0x3b9aca00", "nonce": "0x1"},
		{"type": "0x2", "hash": "0x2222222222222222222222222222222222222222222222222222222222222222",
		 "value": "0x0", "maxFeePerGas": "0x3b9aca00", "maxPriorityFeePerGas": "0x1", "accessList": []},
		{"type": "0x4", "hash": "0x3333333333333333333333333333333333333333333333333333333333333333",
		 "value": "0x2386f26fc10000", "chainId": "0x1", "nonce": "0x7",
		 "authorizationList": [{"chainId": "0x1", "address": "0x00000000000000000000000000000000000000aa",
		   "nonce": "0x0", "yParity": "0x1", "r": "0x1", "s": "0x2"}]},
		{"type": "0x7f", "hash": "0x4444444444444444444444444444444444444444444444444444444444444444",
		 "value": "0x5", "somethingNew": {"a": 1}}
	]
}`

func TestBlockTransactionsDecodesEveryTxType(t *testing.T) {
	backend := &stubBackend{responses: map[string]string{"eth_getBlockByNumber": mixedTypeBlock}}
	src := &EthereumSource{client: backend, tracer: testTracer, logger: zap.NewNop()}

	block, err := src.BlockTransactions(context.Background(), 0x15f9e3a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 0x15f9e3a || len(block.Transactions) != 4 {
		t.Fatalf("unexpected block: %+v", block)
	}
	want := []string{"1000000000000000000", "0", "10000000000000000", "5"}
	for i, tx := range block.Transactions {
		if tx.Value.String() != want[i] {
			t.Fatalf("tx %d: expected value %s, got %s", i, want[i], tx.Value)
		}
	}
	setCode := block.Transactions[2]
	if !strings.HasPrefix(setCode.Hash, "0x3333") {
		t.Fatalf("unexpected set-code tx hash: %s", setCode.Hash)
	}
}

func TestBlockTransactionsRejectsMissingOrMalformedBlocks(t *testing.T) {
	cases := map[string]string{
		"null":          "null",
		"wrong number":  `{"number": "0x8", "transactions": []}`,
		"missing value": `{"number": "0x7", "transactions": [{"hash": "0x1111111111111111111111111111111111111111111111111111111111111111"}]}`,
	}
	for name, body := range cases {
		backend := &stubBackend{responses: map[string]string{"eth_getBlockByNumber": body}}
		src := &EthereumSource{client: backend, tracer: testTracer, logger: zap.NewNop()}
		_, err := src.BlockTransactions(context.Background(), 7)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if name == "null" && !errors.Is(err, ethereum.NotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
}

func TestDialEthereumRequiresURL(t *testing.T) {
	if _, err := DialEthereum(context.Background(), "", testTracer, zap.NewNop()); !errors.Is(err, domain.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}

	orig := dialEthereum
	t.Cleanup(func() { dialEthereum = orig })
	dialEthereum = func(ctx context.Context, url string) (ethBackend, error) {
		return nil, errors.New("dial tcp: refused")
	}
	if _, err := DialEthereum(context.Background(), "http://node:8545", testTracer, zap.NewNop()); !errors.Is(err, domain.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity on dial failure, got %v", err)
	}
}

func TestBlockTransactionsEmptyBlock(t *testing.T) {
	backend := &stubBackend{responses: map[string]string{"eth_getBlockByNumber": `{"number": "0x9", "transactions": []}`}}
	src := &EthereumSource{client: backend, tracer: testTracer, logger: zap.NewNop()}

	block, err := src.BlockTransactions(context.Background(), 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 9 || block.Transactions == nil || len(block.Transactions) != 0 {
		t.Fatalf("expected empty non-nil transactions, got %+v", block)
	}
}

func TestRetryingSourceRecovers(t *testing.T) {
	flaky := &flakySource{failures: 2}
	src := NewRetryingSource(flaky, RetryPolicy{MaxAttempts: 3}, nil)
	src.sleep = func(context.Context, time.Duration) error { return nil }

	block, err := src.BlockTransactions(context.Background(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 4 || flaky.calls != 3 {
		t.Fatalf("expected success on third call, got block=%+v calls=%d", block, flaky.calls)
	}
}

func TestRetryingSourceGivesUp(t *testing.T) {
	flaky := &flakySource{failures: 10}
	src := NewRetryingSource(flaky, RetryPolicy{MaxAttempts: 2}, nil)
	src.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := src.HeadBlock(context.Background()); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if flaky.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", flaky.calls)
	}
}

func TestRetryingSourceDoesNotRetryCancellation(t *testing.T) {
	flaky := &flakySource{failures: 10, err: context.Canceled}
	src := NewRetryingSource(flaky, RetryPolicy{MaxAttempts: 5}, nil)
	src.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := src.HeadBlock(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("cancellation must not be retried, got %d calls", flaky.calls)
	}
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("burst waits should return immediately")
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	limiter := NewRateLimiter(1, time.Second)
	_ = limiter.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestRateLimitedSourceDelegates(t *testing.T) {
	inner := &flakySource{}
	src := NewRateLimitedSource(inner, 100)
	if _, err := src.BlockTransactions(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := src.HeadBlock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 delegated calls, got %d", inner.calls)
	}
}

func TestCachedSourceServesSecondReadFromCache(t *testing.T) {
	inner := &flakySource{}
	fake := newFakeRedis()
	src := NewCachedSource(inner, fake, time.Hour, 12, nil)

	if _, err := src.HeadBlock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := src.BlockTransactions(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := src.BlockTransactions(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected one head and one block upstream call, got %d", inner.calls)
	}
	if len(second.Transactions) != 1 || second.Transactions[0].Value.Cmp(first.Transactions[0].Value) != 0 {
		t.Fatalf("cached block differs: %+v vs %+v", second, first)
	}
	if _, ok := fake.data["block:12"]; !ok {
		t.Fatal("expected block to be cached under block:12")
	}
}

func TestCachedSourceFallsBackOnRedisError(t *testing.T) {
	inner := &flakySource{}
	fake := newFakeRedis()
	fake.getErr = errors.New("redis down")
	fake.setErr = errors.New("redis down")
	src := NewCachedSource(inner, fake, time.Hour, 12, nil)

	if _, err := src.HeadBlock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := src.BlockTransactions(context.Background(), 3); err != nil {
		t.Fatalf("cache errors must not fail the read: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected upstream reads, got %d calls", inner.calls)
	}
}

func TestCachedSourceNeverCachesHead(t *testing.T) {
	inner := &flakySource{}
	fake := newFakeRedis()
	src := NewCachedSource(inner, fake, time.Hour, 12, nil)

	for i := 0; i < 2; i++ {
		head, err := src.HeadBlock(context.Background())
		if err != nil || head != 100 {
			t.Fatalf("unexpected head: %d err=%v", head, err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected live head reads, got %d", inner.calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := src.BlockTransactions(context.Background(), 100); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, ok := fake.data["block:100"]; ok {
		t.Fatal("head block must not be cached")
	}
	if inner.calls != 4 {
		t.Fatalf("expected head block to be read live each time, got %d calls", inner.calls)
	}
}

func TestCachedSourceSkipsUnconfirmedBlocks(t *testing.T) {
	inner := &flakySource{}
	fake := newFakeRedis()
	src := NewCachedSource(inner, fake, time.Hour, 12, nil)

	// Nothing is cached before a head has been observed.
	if _, err := src.BlockTransactions(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.data) != 0 {
		t.Fatalf("expected empty cache before head, got %v", fake.data)
	}

	if _, err := src.HeadBlock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range []uint64{87, 88, 89, 99, 101} {
		if _, err := src.BlockTransactions(context.Background(), n); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, ok := fake.data["block:88"]; !ok {
		t.Fatal("block 12 below the head should be cached")
	}
	if _, ok := fake.data["block:87"]; !ok {
		t.Fatal("block 13 below the head should be cached")
	}
	for _, key := range []string{"block:89", "block:99", "block:101"} {
		if _, ok := fake.data[key]; ok {
			t.Fatalf("%s is within the confirmation depth and must not be cached", key)
		}
	}
}

type stubBackend struct {
	responses  map[string]string
	err        error
	lastMethod string
	lastArgs   []interface{}
}

func (s *stubBackend) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	s.lastMethod = method
	s.lastArgs = args
	if s.err != nil {
		return s.err
	}
	body, ok := s.responses[method]
	if !ok {
		return errors.New("method not stubbed: " + method)
	}
	return json.Unmarshal([]byte(body), result)
}

func (s *stubBackend) Close() {}

type flakySource struct {
	failures int
	err      error
	calls    int
}

func (f *flakySource) fail() error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("temporary node error")
	}
	return nil
}

func (f *flakySource) HeadBlock(ctx context.Context) (uint64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return 100, nil
}

func (f *flakySource) BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return &domain.ChainBlock{
		Number:       number,
		Transactions: []domain.ChainTransaction{{Hash: "0x1", Value: big.NewInt(int64(number) * 10)}},
	}, nil
}

type fakeRedis struct {
	data   map[string][]byte
	setErr error
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	default:
		b, _ := json.Marshal(v)
		f.data[key] = b
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func TestNewStackLayersPolicies(t *testing.T) {
	orig := dialEthereum
	t.Cleanup(func() { dialEthereum = orig })
	backend := &stubBackend{responses: map[string]string{"eth_blockNumber": `"0x32"`}}
	dialEthereum = func(ctx context.Context, url string) (ethBackend, error) {
		return backend, nil
	}

	src, closeFn, err := NewStack(context.Background(), StackOptions{
		RPCURL:        "http://node:8545",
		RetryAttempts: 2,
		RatePerSecond: 100,
		Cache:         newFakeRedis(),
	}, testTracer, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()

	if _, ok := src.(*CachedSource); !ok {
		t.Fatalf("expected cache as outermost layer, got %T", src)
	}
	head, err := src.HeadBlock(context.Background())
	if err != nil || head != 50 {
		t.Fatalf("unexpected head: %d err=%v", head, err)
	}
}

func TestNewStackWithoutCache(t *testing.T) {
	orig := dialEthereum
	t.Cleanup(func() { dialEthereum = orig })
	dialEthereum = func(ctx context.Context, url string) (ethBackend, error) {
		return &stubBackend{}, nil
	}

	src, _, err := NewStack(context.Background(), StackOptions{RPCURL: "http://node:8545"}, testTracer, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*RetryingSource); !ok {
		t.Fatalf("expected retrying source without cache, got %T", src)
	}
}
