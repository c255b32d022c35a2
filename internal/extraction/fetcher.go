package extraction

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/solana"
)

// Fetcher defaults.
const (
	DefaultChunkSize         = 50
	DefaultMaxFallbackBlocks = 200
	DefaultFetchConcurrency  = 4
	DefaultCallTimeout       = 45 * time.Second
)

// FetchTier identifies the strategy that produced a transaction.
type FetchTier int

const (
	TierBatch FetchTier = iota + 1
	TierSingle
	TierBlock
)

// String returns the metric label for the tier.
func (t FetchTier) String() string {
	switch t {
	case TierBatch:
		return "batch"
	case TierSingle:
		return "single"
	case TierBlock:
		return "block"
	default:
		return "unknown"
	}
}

// FetchedTransaction is a transaction together with the reference that
// requested it and the tier that produced it.
type FetchedTransaction struct {
	Tx   *solana.Transaction
	Ref  domain.CandidateReference
	Tier FetchTier
}

// FetchReport is the outcome of fetching a reference set. A partial
// report is a success.
type FetchReport struct {
	Transactions []FetchedTransaction
	NotFound     int
	Failed       int
	Tiers        map[FetchTier]int
}

func (r *FetchReport) add(tx *solana.Transaction, ref domain.CandidateReference, tier FetchTier) {
	r.Transactions = append(r.Transactions, FetchedTransaction{Tx: tx, Ref: ref, Tier: tier})
	r.Tiers[tier]++
	observability.RecordFetch(tier.String())
}

func (r *FetchReport) miss(tier FetchTier, outcome solana.Outcome) {
	if outcome == solana.OutcomeNotFound {
		r.NotFound++
	} else {
		r.Failed++
	}
	observability.RecordFetchOutcome(tier.String(), outcome.String())
}

func (r *FetchReport) merge(other *FetchReport) {
	r.Transactions = append(r.Transactions, other.Transactions...)
	r.NotFound += other.NotFound
	r.Failed += other.Failed
	for tier, n := range other.Tiers {
		r.Tiers[tier] += n
	}
}

func newFetchReport() *FetchReport {
	return &FetchReport{Tiers: make(map[FetchTier]int)}
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	ChunkSize         int
	MaxFallbackBlocks int
	Concurrency       int
	CallTimeout       time.Duration
	Logger            *zap.Logger
}

// Fetcher retrieves full transactions for references with a three-tier
// fallback: batch, then single lookups per chunk, then whole blocks when
// nothing else produced a result.
type Fetcher struct {
	rpc  solana.RPCClient
	opts FetcherOptions
}

// NewFetcher creates a Fetcher.
func NewFetcher(rpc solana.RPCClient, opts FetcherOptions) *Fetcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxFallbackBlocks <= 0 {
		opts.MaxFallbackBlocks = DefaultMaxFallbackBlocks
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultFetchConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Fetcher{rpc: rpc, opts: opts}
}

// Fetch resolves refs into transactions. Chunks run concurrently; results
// keep chunk order. Unreachable endpoints yield an empty report.
func (f *Fetcher) Fetch(ctx context.Context, refs []domain.CandidateReference) *FetchReport {
	report := newFetchReport()
	if len(refs) == 0 {
		return report
	}

	var chunks [][]domain.CandidateReference
	for start := 0; start < len(refs); start += f.opts.ChunkSize {
		end := start + f.opts.ChunkSize
		if end > len(refs) {
			end = len(refs)
		}
		chunks = append(chunks, refs[start:end])
	}

	partial := make([]*FetchReport, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			partial[i] = f.fetchChunk(gctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range partial {
		report.merge(p)
	}

	if len(report.Transactions) == 0 {
		f.opts.Logger.Debug("no transactions from batch or single lookups, falling back to blocks",
			zap.Int("refs", len(refs)), zap.Int("failed", report.Failed))
		report.merge(f.fetchBlocks(ctx, refs))
	}
	return report
}

// fetchChunk tries one batch request and falls back to single lookups.
func (f *Fetcher) fetchChunk(ctx context.Context, chunk []domain.CandidateReference) *FetchReport {
	report := newFetchReport()

	sigs := make([]string, len(chunk))
	for i, ref := range chunk {
		sigs[i] = ref.ID
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	results, err := f.rpc.GetTransactions(callCtx, sigs)
	cancel()

	if err == nil && len(results) == len(chunk) {
		for i, res := range results {
			if res.OK() && res.Value != nil {
				report.add(res.Value, chunk[i], TierBatch)
				continue
			}
			report.miss(TierBatch, res.Outcome)
		}
		return report
	}

	if errors.Is(err, solana.ErrBatchUnsupported) {
		f.opts.Logger.Debug("batch requests unsupported, using single lookups", zap.Int("chunk", len(chunk)))
	} else {
		f.opts.Logger.Debug("batch request failed, using single lookups", zap.Int("chunk", len(chunk)), zap.Error(err))
	}

	for _, ref := range chunk {
		if ctx.Err() != nil {
			report.miss(TierSingle, solana.OutcomeTransientError)
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
		res := solana.ResultOf(f.rpc.GetTransaction(callCtx, ref.ID))
		cancel()

		if res.OK() && res.Value != nil {
			report.add(res.Value, ref, TierSingle)
			continue
		}
		report.miss(TierSingle, res.Outcome)
	}
	return report
}

// fetchBlocks scans whole blocks for the requested signatures. Slots are
// visited in ascending order, capped at MaxFallbackBlocks.
func (f *Fetcher) fetchBlocks(ctx context.Context, refs []domain.CandidateReference) *FetchReport {
	report := newFetchReport()

	wanted := make(map[string]domain.CandidateReference, len(refs))
	slotSet := make(map[int64]struct{})
	for _, ref := range refs {
		wanted[ref.ID] = ref
		if ref.Slot > 0 {
			slotSet[ref.Slot] = struct{}{}
		}
	}
	slots := make([]int64, 0, len(slotSet))
	for slot := range slotSet {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	if len(slots) > f.opts.MaxFallbackBlocks {
		f.opts.Logger.Debug("block fallback capped",
			zap.Int("slots", len(slots)), zap.Int("max", f.opts.MaxFallbackBlocks))
		slots = slots[:f.opts.MaxFallbackBlocks]
	}

	blocks := make([]*solana.Block, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, slot := range slots {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, f.opts.CallTimeout)
			defer cancel()
			res := solana.ResultOf(f.rpc.GetBlock(callCtx, slot))
			if res.OK() {
				blocks[i] = res.Value
			} else {
				f.opts.Logger.Debug("block unavailable", zap.Int64("slot", slot), zap.Stringer("outcome", res.Outcome))
			}
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	for _, block := range blocks {
		if block == nil {
			continue
		}
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			ref, ok := wanted[tx.Signature]
			if !ok {
				continue
			}
			if seen[tx.Signature] {
				continue
			}
			seen[tx.Signature] = true
			if tx.BlockTime == nil {
				tx.BlockTime = block.BlockTime
			}
			report.add(tx, ref, TierBlock)
		}
	}
	return report
}
