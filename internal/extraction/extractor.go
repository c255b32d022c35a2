package extraction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/solana"
)

// Extractor produces canonical transfer records for one token over one window.
type Extractor interface {
	Extract(ctx context.Context, token domain.Token, window domain.ExtractionWindow) (*Result, error)
}

// Result summarizes one extraction unit.
type Result struct {
	Records    []domain.TransferRecord
	References int
	Fetched    int
	NotFound   int
	Failed     int // transient lookup failures
	Reverted   int // transactions that executed with an error
	Tiers      map[FetchTier]int
	Discarded  map[DiscardReason]int
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{
		Tiers:     make(map[FetchTier]int),
		Discarded: make(map[DiscardReason]int),
	}
}

// Discard counts a dropped transfer.
func (r *Result) Discard(reason DiscardReason) {
	r.Discarded[reason]++
	observability.RecordDiscard(string(reason))
}

// DiscardedTotal returns the number of dropped transfers.
func (r *Result) DiscardedTotal() int {
	var n int
	for _, c := range r.Discarded {
		n += c
	}
	return n
}

// RecordSet collects records in arrival order, dropping natural key
// duplicates. The zero value is ready to use.
type RecordSet struct {
	seen    map[domain.TransferKey]struct{}
	records []domain.TransferRecord
}

// Add appends rec unless a record with the same natural key was added.
func (s *RecordSet) Add(rec domain.TransferRecord) bool {
	if s.seen == nil {
		s.seen = make(map[domain.TransferKey]struct{})
	}
	key := rec.Key()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.records = append(s.records, rec)
	return true
}

// Records returns the collected records.
func (s *RecordSet) Records() []domain.TransferRecord {
	return s.records
}

// SolanaOptions configures a SolanaExtractor.
type SolanaOptions struct {
	Paginator PaginatorOptions
	Fetcher   FetcherOptions
	// ScanPrograms adds the token-program signature walk to the mint walk.
	ScanPrograms bool
	Logger       *zap.Logger
}

// SolanaExtractor implements Extractor over the Solana JSON-RPC API.
type SolanaExtractor struct {
	paginator    *Paginator
	fetcher      *Fetcher
	normalizer   *Normalizer
	programs     *ProgramSignatureCache
	scanPrograms bool
	logger       *zap.Logger
}

// Compile-time interface check.
var _ Extractor = (*SolanaExtractor)(nil)

// NewSolanaExtractor wires the extraction stages around rpc. owners, mints
// and programs are run-scoped and may be shared between extractors.
func NewSolanaExtractor(rpc solana.RPCClient, owners *OwnerResolver, mints *MintDecimals, programs *ProgramSignatureCache, opts SolanaOptions) *SolanaExtractor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Paginator.Logger == nil {
		opts.Paginator.Logger = logger
	}
	if opts.Fetcher.Logger == nil {
		opts.Fetcher.Logger = logger
	}
	if programs == nil {
		programs = NewProgramSignatureCache()
	}
	return &SolanaExtractor{
		paginator:    NewPaginator(rpc, opts.Paginator),
		fetcher:      NewFetcher(rpc, opts.Fetcher),
		normalizer:   NewNormalizer(owners, mints, logger),
		programs:     programs,
		scanPrograms: opts.ScanPrograms,
		logger:       logger,
	}
}

// Extract collects references for token in window, fetches and decodes
// them and returns the normalized records. RPC failures reduce the result;
// only an invalid window is an error.
func (e *SolanaExtractor) Extract(ctx context.Context, token domain.Token, window domain.ExtractionWindow) (*Result, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	refs := e.collect(ctx, token, window)
	observability.RecordReferences(string(token.Chain), token.Symbol, len(refs))

	result := e.ProcessReferences(ctx, token, window, refs)
	e.logger.Info("extracted token window",
		zap.String("token", token.Symbol),
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
		zap.Int("references", result.References),
		zap.Int("fetched", result.Fetched),
		zap.Int("records", len(result.Records)),
		zap.Int("discarded", result.DiscardedTotal()))
	return result, nil
}

func (e *SolanaExtractor) collect(ctx context.Context, token domain.Token, window domain.ExtractionWindow) []domain.CandidateReference {
	refs, err := e.paginator.Collect(ctx, token.Address, window)
	if err != nil {
		e.logger.Warn("signature walk incomplete",
			zap.String("token", token.Symbol), zap.Int("partial", len(refs)), zap.Error(err))
	}
	if !e.scanPrograms {
		return refs
	}

	programRefs, err := e.programs.Get(ctx, window.Key(), func(ctx context.Context) ([]domain.CandidateReference, error) {
		return e.paginator.CollectPrograms(ctx, window)
	})
	if err != nil {
		e.logger.Warn("program signature walk failed", zap.Error(err))
	}
	return domain.MergeReferences(refs, programRefs)
}

// ProcessReferences fetches refs and turns their token transfers into
// records for token. window supplies the fallback timestamp for
// transactions without a block time.
func (e *SolanaExtractor) ProcessReferences(ctx context.Context, token domain.Token, window domain.ExtractionWindow, refs []domain.CandidateReference) *Result {
	result := NewResult()
	result.References = len(refs)
	if len(refs) == 0 {
		return result
	}

	report := e.fetcher.Fetch(ctx, refs)
	result.Fetched = len(report.Transactions)
	result.NotFound = report.NotFound
	result.Failed = report.Failed
	for tier, n := range report.Tiers {
		result.Tiers[tier] = n
	}

	var set RecordSet
	for _, ft := range report.Transactions {
		if ft.Tx.Failed() {
			result.Reverted++
			continue
		}

		intents, malformed := ExtractIntents(ft.Tx)
		for i := 0; i < malformed; i++ {
			result.Discard(DiscardInvalidAmount)
		}
		if len(intents) == 0 {
			continue
		}

		meta := txMeta(ft, window)
		for _, intent := range intents {
			rec, reason := e.normalizer.Normalize(ctx, intent, token, meta)
			if reason != DiscardNone {
				result.Discard(reason)
				continue
			}
			set.Add(rec)
		}
	}

	result.Records = set.Records()
	observability.RecordDecoded(string(token.Chain), token.Symbol, len(result.Records))
	return result
}

// txMeta picks the transaction's own block time, else the reference's,
// else the window end.
func txMeta(ft FetchedTransaction, window domain.ExtractionWindow) TxMeta {
	meta := TxMeta{Hash: ft.Tx.Signature, Slot: ft.Tx.Slot, Timestamp: window.End}
	if meta.Hash == "" {
		meta.Hash = ft.Ref.ID
	}
	if meta.Slot == 0 {
		meta.Slot = ft.Ref.Slot
	}
	switch {
	case ft.Tx.BlockTime != nil:
		meta.Timestamp = time.Unix(*ft.Tx.BlockTime, 0).UTC()
	case ft.Ref.Timestamp != nil:
		meta.Timestamp = ft.Ref.Timestamp.UTC()
	}
	return meta
}
