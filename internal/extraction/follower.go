package extraction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/solana"
)

// Follow defaults.
const (
	DefaultFollowBatchSize     = 20
	DefaultFollowFlushInterval = 2 * time.Second
)

// Sink receives the records of one micro-batch for a token.
type Sink func(ctx context.Context, token domain.Token, result *Result) error

// FollowerOptions configures a Follower.
type FollowerOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// Follower streams new transfers of Solana mints from a logs subscription.
// Notifications are grouped into micro-batches and pushed through the same
// fetch, decode and normalize path as a window extraction.
type Follower struct {
	subscriber solana.LogSubscriber
	extractor  *SolanaExtractor
	opts       FollowerOptions
}

// NewFollower creates a Follower.
func NewFollower(subscriber solana.LogSubscriber, extractor *SolanaExtractor, opts FollowerOptions) *Follower {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultFollowBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFollowFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Follower{subscriber: subscriber, extractor: extractor, opts: opts}
}

// Run subscribes to every token (one subscription per mint, since nodes
// accept a single address per subscription) and blocks until ctx is done
// or all subscriptions end. Sink failures are logged and do not stop the
// stream.
func (f *Follower) Run(ctx context.Context, tokens []domain.Token, sink Sink) error {
	// Subscriptions live as long as subCtx.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	channels := make([]<-chan solana.LogNotification, len(tokens))
	for i, token := range tokens {
		ch, err := f.subscriber.SubscribeLogs(subCtx, solana.LogsFilter{Mentions: []string{token.Address}})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", token.Symbol, err)
		}
		channels[i] = ch
		f.opts.Logger.Info("following token", zap.String("token", token.Symbol), zap.String("mint", token.Address))
	}

	g, gctx := errgroup.WithContext(subCtx)
	for i, token := range tokens {
		g.Go(func() error {
			f.follow(gctx, token, channels[i], sink)
			return nil
		})
	}
	return g.Wait()
}

func (f *Follower) follow(ctx context.Context, token domain.Token, ch <-chan solana.LogNotification, sink Sink) {
	ticker := time.NewTicker(f.opts.FlushInterval)
	defer ticker.Stop()

	var (
		pending    []domain.CandidateReference
		batchStart = time.Now().UTC()
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		refs := pending
		pending = nil
		window := domain.ExtractionWindow{
			Start:        batchStart,
			End:          time.Now().UTC(),
			Chain:        token.Chain,
			TokenAddress: token.Address,
		}
		batchStart = window.End

		// Flushes run to completion even while shutting down.
		result := f.extractor.ProcessReferences(context.WithoutCancel(ctx), token, window, refs)
		if len(result.Records) == 0 {
			return
		}
		if err := sink(context.WithoutCancel(ctx), token, result); err != nil {
			f.opts.Logger.Error("follow batch not persisted",
				zap.String("token", token.Symbol), zap.Int("records", len(result.Records)), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case notif, ok := <-ch:
			if !ok {
				flush()
				f.opts.Logger.Warn("subscription closed", zap.String("token", token.Symbol))
				return
			}
			if notif.Err != nil || notif.Signature == "" {
				continue
			}
			observability.RecordFollowNotification()
			pending = append(pending, domain.CandidateReference{ID: notif.Signature, Slot: notif.Slot})
			if len(pending) >= f.opts.BatchSize {
				flush()
			}
		}
	}
}
