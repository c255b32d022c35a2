// Package runner drives one extraction run: every configured token on
// every chain is extracted over the lookback window, categorized and
// written to the transfer store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stablecoin-transfers/internal/categorize"
	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/evm"
	"stablecoin-transfers/internal/extraction"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/solana"
	"stablecoin-transfers/internal/storage"
)

// DefaultTokenConcurrency bounds tokens extracted at once per chain.
const DefaultTokenConcurrency = 2

// ErrAllUnitsFailed is returned when no token of the run succeeded.
var ErrAllUnitsFailed = errors.New("every extraction unit failed")

// Unit statuses reported to metrics.
const (
	unitSucceeded = "success"
	unitFailed    = "failure"
)

// SolanaSource configures Solana extraction for a run.
type SolanaSource struct {
	RPC        solana.RPCClient
	OwnerCache extraction.OwnerCache // nil keeps owners in process
	Options    extraction.SolanaOptions
}

// EVMSource configures extraction for one EVM chain.
type EVMSource struct {
	Client        evm.Client
	BlocksPerHour int
}

// Options configures a Runner.
type Options struct {
	Transfers storage.TransferStore  // required
	Tags      storage.TagReader      // required
	Mirror    storage.TransferMirror // optional analytics copy

	Solana *SolanaSource
	EVM    map[domain.Chain]EVMSource

	TokenConcurrency int
	Logger           *zap.Logger
	Now              func() time.Time
}

// Runner executes extraction runs. Caches live for a single run.
type Runner struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.TokenConcurrency <= 0 {
		opts.TokenConcurrency = DefaultTokenConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{opts: opts, logger: logger, now: now}
}

// ChainSummary reports the outcome of one chain.
type ChainSummary struct {
	Tokens     int
	Failed     int
	Records    int
	Inserted   int
	TagsFilled int
	Unchanged  int
	Discarded  int
}

// RunResult reports the outcome of a run.
type RunResult struct {
	RunID           string
	Window          time.Duration
	Units           int
	PartialFailures int // failed token units and tag loads
	MirrorFailures  int
	Chains          map[domain.Chain]*ChainSummary
}

// Inserted returns the number of new rows across chains.
func (r *RunResult) Inserted() int {
	n := 0
	for _, c := range r.Chains {
		n += c.Inserted
	}
	return n
}

// Run extracts every token over [now-lookback, now]. Chains run
// concurrently; tokens of a chain share TokenConcurrency workers. A failed
// token never stops the run. ErrAllUnitsFailed is returned together with
// the result when nothing succeeded.
func (r *Runner) Run(ctx context.Context, tokens map[domain.Chain][]domain.Token, lookback time.Duration) (*RunResult, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("%w: lookback %s", domain.ErrInvalidWindow, lookback)
	}

	start := time.Now()
	end := r.now()
	result := &RunResult{
		RunID:  uuid.NewString(),
		Window: lookback,
		Chains: make(map[domain.Chain]*ChainSummary, len(tokens)),
	}
	logger := r.logger.With(zap.String("run_id", result.RunID))
	logger.Info("starting run", zap.Time("end", end), zap.Duration("lookback", lookback))

	var mu sync.Mutex
	var g errgroup.Group
	for chain, chainTokens := range tokens {
		if len(chainTokens) == 0 {
			continue
		}
		summary := &ChainSummary{Tokens: len(chainTokens)}
		result.Chains[chain] = summary
		result.Units += len(chainTokens)

		g.Go(func() error {
			failures, mirrorFailures := r.runChain(ctx, logger, chain, chainTokens, end, lookback, summary)
			mu.Lock()
			result.PartialFailures += failures
			result.MirrorFailures += mirrorFailures
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failedUnits := 0
	for chain, s := range result.Chains {
		failedUnits += s.Failed
		logger.Info("chain summary",
			zap.String("chain", string(chain)),
			zap.Int("tokens", s.Tokens),
			zap.Int("failed", s.Failed),
			zap.Int("records", s.Records),
			zap.Int("inserted", s.Inserted),
			zap.Int("tags_filled", s.TagsFilled),
			zap.Int("discarded", s.Discarded))
	}

	success := result.Units == 0 || failedUnits < result.Units
	observability.RecordRun("batch", time.Since(start).Seconds(), success)
	logger.Info("run finished",
		zap.Int("units", result.Units),
		zap.Int("partial_failures", result.PartialFailures),
		zap.Int("inserted", result.Inserted()),
		zap.Duration("elapsed", time.Since(start)))

	if !success {
		return result, ErrAllUnitsFailed
	}
	return result, nil
}

// runChain extracts the tokens of one chain. It returns the number of
// partial failures and mirror failures.
func (r *Runner) runChain(ctx context.Context, logger *zap.Logger, chain domain.Chain, tokens []domain.Token, end time.Time, lookback time.Duration, summary *ChainSummary) (int, int) {
	logger = logger.With(zap.String("chain", string(chain)))

	failures := 0
	dir, err := categorize.Load(ctx, r.opts.Tags, chain)
	if err != nil {
		// Rows stay untagged until the enrichment backfill runs.
		logger.Error("tag directory unavailable, continuing untagged", zap.Error(err))
		dir = categorize.NewDirectory(chain, nil)
		failures++
	}

	extractor, prime, err := r.extractorFor(chain)
	if err != nil {
		logger.Error("chain not configured", zap.Error(err))
		summary.Failed = len(tokens)
		for range tokens {
			observability.RecordUnit(string(chain), unitFailed)
		}
		return failures + len(tokens), 0
	}

	joiner := categorize.NewJoiner(dir)
	var (
		mu             sync.Mutex
		mirrorFailures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.TokenConcurrency)
	for _, token := range tokens {
		g.Go(func() error {
			if prime != nil {
				prime(gctx, dir, token)
			}

			window := domain.NewLookbackWindow(chain, token.Address, end, lookback)
			res, err := extractor.Extract(gctx, token, window)
			var upsert storage.UpsertResult
			mirrored := true
			if err == nil {
				upsert, mirrored, err = r.persist(gctx, joiner, res.Records)
			}

			mu.Lock()
			defer mu.Unlock()
			if !mirrored {
				mirrorFailures++
			}
			if err != nil {
				logger.Error("token unit failed", zap.String("token", token.Symbol), zap.Error(err))
				summary.Failed++
				observability.RecordUnit(string(chain), unitFailed)
				return nil
			}
			summary.Records += len(res.Records)
			summary.Discarded += res.DiscardedTotal()
			summary.Inserted += upsert.Inserted
			summary.TagsFilled += upsert.TagsFilled
			summary.Unchanged += upsert.Unchanged
			observability.RecordUnit(string(chain), unitSucceeded)
			return nil
		})
	}
	_ = g.Wait()

	return failures + summary.Failed, mirrorFailures
}

// primeFunc seeds run caches before a token is extracted.
type primeFunc func(ctx context.Context, dir *categorize.Directory, token domain.Token)

// extractorFor builds the run-scoped extractor of chain.
func (r *Runner) extractorFor(chain domain.Chain) (extraction.Extractor, primeFunc, error) {
	if chain == domain.ChainSolana {
		src := r.opts.Solana
		if src == nil || src.RPC == nil {
			return nil, nil, fmt.Errorf("no solana rpc configured")
		}
		owners, ex := r.newSolanaExtractor(src)
		prime := func(ctx context.Context, dir *categorize.Directory, token domain.Token) {
			owners.PrimeAssociated(ctx, dir.Wallets(), token.Address)
		}
		return ex, prime, nil
	}

	src, ok := r.opts.EVM[chain]
	if !ok || src.Client == nil {
		return nil, nil, fmt.Errorf("no rpc configured for chain %s", chain)
	}
	return evm.NewExtractor(src.Client, chain, evm.Options{
		BlocksPerHour: src.BlocksPerHour,
		Logger:        r.logger,
	}), nil, nil
}

func (r *Runner) newSolanaExtractor(src *SolanaSource) (*extraction.OwnerResolver, *extraction.SolanaExtractor) {
	var cache extraction.OwnerCache = extraction.NewMemoryOwnerCache()
	if src.OwnerCache != nil {
		cache = extraction.NewTieredOwnerCache(src.OwnerCache)
	}
	opts := src.Options
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	owners := extraction.NewOwnerResolver(src.RPC, cache, r.logger)
	mints := extraction.NewMintDecimals(src.RPC, r.logger)
	return owners, extraction.NewSolanaExtractor(src.RPC, owners, mints, extraction.NewProgramSignatureCache(), opts)
}

// persist categorizes records and writes them as one unit of work. The
// mirror is best effort; its failure is reported but does not fail the
// unit.
func (r *Runner) persist(ctx context.Context, joiner *categorize.Joiner, records []domain.TransferRecord) (storage.UpsertResult, bool, error) {
	if len(records) == 0 {
		return storage.UpsertResult{}, true, nil
	}
	joiner.AttachAll(records)

	res, err := r.opts.Transfers.Upsert(ctx, records)
	if err != nil {
		return storage.UpsertResult{}, true, fmt.Errorf("upsert transfers: %w", err)
	}

	// The mirror gets the stored rows, whose tags may be richer than the
	// extracted ones.
	if r.opts.Mirror != nil {
		if err := r.opts.Mirror.Mirror(ctx, res.Records); err != nil {
			r.logger.Warn("mirror failed", zap.Int("records", len(res.Records)), zap.Error(err))
			return res, false, nil
		}
	}
	return res, true, nil
}

// Follow streams new Solana transfers of tokens until ctx is done. Each
// micro-batch is categorized and written like a run unit.
func (r *Runner) Follow(ctx context.Context, subscriber solana.LogSubscriber, tokens []domain.Token, opts extraction.FollowerOptions) error {
	src := r.opts.Solana
	if src == nil || src.RPC == nil {
		return fmt.Errorf("follow: no solana rpc configured")
	}

	dir, err := categorize.Load(ctx, r.opts.Tags, domain.ChainSolana)
	if err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	joiner := categorize.NewJoiner(dir)

	owners, extractor := r.newSolanaExtractor(src)
	for _, token := range tokens {
		owners.PrimeAssociated(ctx, dir.Wallets(), token.Address)
	}

	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	follower := extraction.NewFollower(subscriber, extractor, opts)

	r.logger.Info("following tokens", zap.Int("tokens", len(tokens)), zap.Int("tags", dir.Len()))
	return follower.Run(ctx, tokens, func(ctx context.Context, token domain.Token, res *extraction.Result) error {
		upsert, _, err := r.persist(ctx, joiner, res.Records)
		if err != nil {
			observability.RecordUnit(string(domain.ChainSolana), unitFailed)
			return err
		}
		observability.RecordUnit(string(domain.ChainSolana), unitSucceeded)
		r.logger.Debug("follow batch stored",
			zap.String("token", token.Symbol),
			zap.Int("records", len(res.Records)),
			zap.Int("inserted", upsert.Inserted))
		return nil
	})
}
