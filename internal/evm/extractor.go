package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/extraction"
	"stablecoin-transfers/internal/observability"
)

// ErrInvalidAddress is returned for token addresses that are not hex addresses.
var ErrInvalidAddress = errors.New("invalid token address")

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// decimalsSelector is the 4-byte selector of decimals().
var decimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67}

// Extraction defaults.
const (
	DefaultBlocksPerHour = 300
	DefaultDecimals      = 18
	minChunkBlocks       = 100
	maxChunkBlocks       = 1000
)

// Options configures an Extractor.
type Options struct {
	BlocksPerHour int
	Logger        *zap.Logger
}

// Extractor implements extraction.Extractor for ERC-20 tokens.
type Extractor struct {
	client        Client
	chain         domain.Chain
	blocksPerHour int
	blockTimes    *cache.Cache
	decimals      *cache.Cache
	logger        *zap.Logger
}

// Compile-time interface check.
var _ extraction.Extractor = (*Extractor)(nil)

// NewExtractor creates an Extractor for chain.
func NewExtractor(client Client, chain domain.Chain, opts Options) *Extractor {
	if opts.BlocksPerHour <= 0 {
		opts.BlocksPerHour = DefaultBlocksPerHour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Extractor{
		client:        client,
		chain:         chain,
		blocksPerHour: opts.BlocksPerHour,
		blockTimes:    cache.New(time.Hour, 10*time.Minute),
		decimals:      cache.New(cache.NoExpiration, 0),
		logger:        opts.Logger,
	}
}

// blockRange is an inclusive block interval.
type blockRange struct {
	from, to uint64
}

// Extract scans Transfer logs of token over the block range covering
// window and returns the transfers whose block time lies in the window.
// An unreachable node yields an empty result.
func (e *Extractor) Extract(ctx context.Context, token domain.Token, window domain.ExtractionWindow) (*extraction.Result, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(token.Address) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, token.Address)
	}
	contract := common.HexToAddress(token.Address)
	result := extraction.NewResult()

	span, err := e.blockSpan(ctx, window)
	if err != nil {
		e.logger.Warn("evm head unavailable", zap.String("chain", string(e.chain)), zap.Error(err))
		return result, nil
	}

	decimals := e.tokenDecimals(ctx, token, contract)
	chunk := chunkSize(span.to - span.from + 1)

	var (
		set  extraction.RecordSet
		seen = make(map[string]struct{})
	)
	for start := span.from; start <= span.to; start += chunk {
		end := start + chunk - 1
		if end > span.to {
			end = span.to
		}

		began := time.Now()
		logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{contract},
			Topics:    [][]common.Hash{{TransferTopic}},
		})
		observability.RecordRPCCall(string(e.chain), "eth_getLogs", time.Since(began).Seconds(), err)
		if err != nil {
			result.Failed++
			e.logger.Debug("log chunk failed",
				zap.String("token", token.Symbol), zap.Uint64("from", start), zap.Uint64("to", end), zap.Error(err))
			continue
		}
		observability.RecordPage(string(e.chain))

		for _, lg := range logs {
			if lg.Removed || len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
				continue
			}
			id := referenceID(lg)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			ts := e.blockTime(ctx, lg.BlockNumber, window.End)
			if !window.Contains(ts) {
				continue
			}
			result.References++
			result.Fetched++

			rec, reason := e.toRecord(lg, token, contract, decimals, ts)
			if reason != extraction.DiscardNone {
				result.Discard(reason)
				continue
			}
			set.Add(rec)
		}
		if ctx.Err() != nil {
			break
		}
	}

	result.Records = set.Records()
	observability.RecordReferences(string(e.chain), token.Symbol, result.References)
	observability.RecordDecoded(string(e.chain), token.Symbol, len(result.Records))
	e.logger.Info("extracted token window",
		zap.String("chain", string(e.chain)),
		zap.String("token", token.Symbol),
		zap.Uint64("from_block", span.from),
		zap.Uint64("to_block", span.to),
		zap.Int("records", len(result.Records)),
		zap.Int("failed_chunks", result.Failed))
	return result, nil
}

// referenceID identifies a log as txHash:logIndex.
func referenceID(lg types.Log) string {
	return lg.TxHash.Hex() + ":" + strconv.FormatUint(uint64(lg.Index), 10)
}

func (e *Extractor) toRecord(lg types.Log, token domain.Token, contract common.Address, decimals int, ts time.Time) (domain.TransferRecord, extraction.DiscardReason) {
	if len(lg.Data) < 32 {
		return domain.TransferRecord{}, extraction.DiscardInvalidAmount
	}
	amount, err := domain.ScaleAmount(new(big.Int).SetBytes(lg.Data[:32]), decimals)
	if err != nil {
		return domain.TransferRecord{}, extraction.DiscardInvalidAmount
	}

	return domain.TransferRecord{
		TxHash:       lg.TxHash.Hex(),
		Chain:        e.chain,
		TokenSymbol:  token.Symbol,
		TokenAddress: contract.Hex(),
		FromAddress:  common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		ToAddress:    common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Amount:       amount,
		Timestamp:    ts,
		BlockNumber:  int64(lg.BlockNumber),
	}, extraction.DiscardNone
}

// blockSpan estimates the blocks covering window from the head block and
// the chain's block rate, padded on both sides. Exact window membership is
// enforced later from block timestamps.
func (e *Extractor) blockSpan(ctx context.Context, window domain.ExtractionWindow) (blockRange, error) {
	began := time.Now()
	head, err := e.client.BlockNumber(ctx)
	observability.RecordRPCCall(string(e.chain), "eth_blockNumber", time.Since(began).Seconds(), err)
	if err != nil {
		return blockRange{}, err
	}

	headTime, err := e.headerTime(ctx, head)
	if err != nil {
		return blockRange{}, err
	}

	secondsPerBlock := 3600 / float64(e.blocksPerHour)
	blocksFor := func(d time.Duration) uint64 {
		if d <= 0 {
			return 0
		}
		return uint64(d.Seconds()/secondsPerBlock + 0.5)
	}
	pad := uint64(e.blocksPerHour / 12)

	to := head
	if lag := blocksFor(headTime.Sub(window.End)); lag > pad {
		to = head - min(head, lag-pad)
	}
	width := blocksFor(window.End.Sub(window.Start)) + 2*pad
	from := to - min(to, width)
	return blockRange{from: from, to: to}, nil
}

// chunkSize returns the eth_getLogs range size for a span of n blocks.
func chunkSize(n uint64) uint64 {
	return max(minChunkBlocks, min(maxChunkBlocks, n))
}

func (e *Extractor) headerTime(ctx context.Context, number uint64) (time.Time, error) {
	key := strconv.FormatUint(number, 10)
	if v, ok := e.blockTimes.Get(key); ok {
		return v.(time.Time), nil
	}

	began := time.Now()
	header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	observability.RecordRPCCall(string(e.chain), "eth_getBlockByNumber", time.Since(began).Seconds(), err)
	if err != nil {
		return time.Time{}, err
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	e.blockTimes.SetDefault(key, ts)
	return ts, nil
}

// blockTime returns the timestamp of a block, or fallback when the header
// cannot be read.
func (e *Extractor) blockTime(ctx context.Context, number uint64, fallback time.Time) time.Time {
	ts, err := e.headerTime(ctx, number)
	if err != nil {
		e.logger.Debug("block header unavailable", zap.Uint64("block", number), zap.Error(err))
		return fallback
	}
	return ts
}

// tokenDecimals returns the configured decimals, else decimals() from the
// contract, else DefaultDecimals.
func (e *Extractor) tokenDecimals(ctx context.Context, token domain.Token, contract common.Address) int {
	if token.Decimals != nil {
		return *token.Decimals
	}
	key := contract.Hex()
	if v, ok := e.decimals.Get(key); ok {
		return v.(int)
	}

	decimals := DefaultDecimals
	began := time.Now()
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: decimalsSelector}, nil)
	observability.RecordRPCCall(string(e.chain), "eth_call", time.Since(began).Seconds(), err)
	switch {
	case err != nil:
		e.logger.Warn("decimals() failed, using default",
			zap.String("token", token.Symbol), zap.Int("default", DefaultDecimals), zap.Error(err))
	case len(out) >= 32:
		if d := new(big.Int).SetBytes(out[:32]); d.IsInt64() && d.Int64() <= 255 {
			decimals = int(d.Int64())
		}
	}
	e.decimals.Set(key, decimals, cache.NoExpiration)
	return decimals
}
