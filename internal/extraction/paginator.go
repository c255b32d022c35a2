package extraction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/solana"
)

// Pagination defaults.
const (
	DefaultPageSize = 1000
	DefaultMaxPages = 20
)

// PaginatorOptions configures a Paginator.
type PaginatorOptions struct {
	PageSize int
	MaxPages int
	Logger   *zap.Logger
}

// Paginator walks an address's signature history backwards through a window.
type Paginator struct {
	rpc      solana.RPCClient
	pageSize int
	maxPages int
	logger   *zap.Logger
}

// NewPaginator creates a Paginator.
func NewPaginator(rpc solana.RPCClient, opts PaginatorOptions) *Paginator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		rpc:      rpc,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		logger:   logger,
	}
}

// Collect returns references for address whose block time lies in window.
// Paging stops on an empty page, an oldest entry without signature or
// block time, an oldest entry before the window start, or after MaxPages.
// Failed transactions are skipped. On an RPC error the references gathered
// so far are returned together with the error.
func (p *Paginator) Collect(ctx context.Context, address string, window domain.ExtractionWindow) ([]domain.CandidateReference, error) {
	var (
		refs   []domain.CandidateReference
		before string
	)
	startUnix := window.Start.Unix()

	for page := 0; page < p.maxPages; page++ {
		sigs, err := p.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{
			Before: before,
			Limit:  p.pageSize,
		})
		if err != nil {
			return refs, fmt.Errorf("page %d of %s: %w", page, address, err)
		}
		observability.RecordPage(string(domain.ChainSolana))

		if len(sigs) == 0 {
			break
		}

		for _, s := range sigs {
			if s.BlockTime == nil || s.Err != nil || !window.ContainsUnix(*s.BlockTime) {
				continue
			}
			ts := time.Unix(*s.BlockTime, 0).UTC()
			refs = append(refs, domain.CandidateReference{
				ID:        s.Signature,
				Slot:      s.Slot,
				Timestamp: &ts,
			})
		}

		oldest := sigs[len(sigs)-1]
		if oldest.Signature == "" || oldest.BlockTime == nil || *oldest.BlockTime < startUnix {
			break
		}
		before = oldest.Signature

		if page == p.maxPages-1 {
			p.logger.Debug("page limit reached before window start",
				zap.String("address", address),
				zap.Int("max_pages", p.maxPages),
				zap.Int64("oldest_block_time", *oldest.BlockTime))
		}
	}

	return refs, nil
}

// CollectPrograms walks every token program over the window and merges the
// results by signature. Per-program failures are logged and skipped; an
// error is returned only when every program failed.
func (p *Paginator) CollectPrograms(ctx context.Context, window domain.ExtractionWindow) ([]domain.CandidateReference, error) {
	var (
		sets    [][]domain.CandidateReference
		lastErr error
		failed  int
	)
	for _, program := range solana.TokenProgramIDs {
		refs, err := p.Collect(ctx, program, window)
		if err != nil {
			failed++
			lastErr = err
			p.logger.Warn("program signature walk failed",
				zap.String("program", program), zap.Int("partial", len(refs)), zap.Error(err))
		}
		sets = append(sets, refs)
	}
	if failed == len(solana.TokenProgramIDs) && lastErr != nil {
		return domain.MergeReferences(sets...), lastErr
	}
	return domain.MergeReferences(sets...), nil
}
