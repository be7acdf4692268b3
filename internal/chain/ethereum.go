package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"chain-anomaly-watch/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ethBackend interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

var dialEthereum = func(ctx context.Context, url string) (ethBackend, error) {
	return rpc.DialContext(ctx, url)
}

// rpcBlock holds the only fields a scan needs from eth_getBlockByNumber.
// Transactions are not decoded into typed envelopes, so blocks carrying
// transaction types this client has never seen still load.
type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash  common.Hash  `json:"hash"`
	Value *hexutil.Big `json:"value"`
}

// EthereumSource reads blocks from an EVM JSON-RPC node.
type EthereumSource struct {
	client ethBackend
	tracer trace.Tracer
	logger *zap.Logger
}

// DialEthereum connects to the node at url.
func DialEthereum(ctx context.Context, url string, tracer trace.Tracer, logger *zap.Logger) (*EthereumSource, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty RPC url", domain.ErrConnectivity)
	}
	client, err := dialEthereum(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial ethereum node: %w", domain.ErrConnectivity, err)
	}
	logger.Info("Connected to Ethereum node", zap.String("node_url", url))
	return &EthereumSource{client: client, tracer: tracer, logger: logger}, nil
}

func (e *EthereumSource) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

func (e *EthereumSource) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, span := e.tracer.Start(ctx, "ethereum-source.head-block")
	defer span.End()

	var n hexutil.Uint64
	if err := e.client.CallContext(ctx, &n, "eth_blockNumber"); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to fetch latest block number: %w", err)
	}
	return uint64(n), nil
}

func (e *EthereumSource) BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	ctx, span := e.tracer.Start(ctx, "ethereum-source.block-transactions")
	defer span.End()
	span.SetAttributes(attribute.Int64("block", int64(number)))

	var raw json.RawMessage
	if err := e.client.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch block %d: %w", number, err)
	}
	block, err := decodeBlock(number, raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return block, nil
}

func decodeBlock(number uint64, raw json.RawMessage) (*domain.ChainBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
	}
	var body rpcBlock
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", number, err)
	}
	if uint64(body.Number) != number {
		return nil, fmt.Errorf("node returned block %d for request %d", uint64(body.Number), number)
	}

	out := &domain.ChainBlock{
		Number:       number,
		Transactions: make([]domain.ChainTransaction, len(body.Transactions)),
	}
	for i, tx := range body.Transactions {
		if tx.Value == nil {
			return nil, fmt.Errorf("block %d: transaction %s has no value", number, tx.Hash.Hex())
		}
		out.Transactions[i] = domain.ChainTransaction{
			Hash:  tx.Hash.Hex(),
			Value: tx.Value.ToInt(),
		}
	}
	return out, nil
}
