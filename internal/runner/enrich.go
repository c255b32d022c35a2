package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stablecoin-transfers/internal/categorize"
	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/storage"
)

// DefaultEnrichBatchSize is the page size of the enrichment scan.
const DefaultEnrichBatchSize = 500

// Enricher fills null tags of persisted transfers from the current tag
// directory. Populated tags are never changed. Filled rows are mirrored
// when a mirror is set.
type Enricher struct {
	transfers storage.TransferStore
	tags      storage.TagReader
	mirror    storage.TransferMirror
	batchSize int
	logger    *zap.Logger
}

// NewEnricher creates an Enricher. mirror may be nil. A non-positive
// batchSize uses DefaultEnrichBatchSize.
func NewEnricher(transfers storage.TransferStore, tags storage.TagReader, mirror storage.TransferMirror, batchSize int, logger *zap.Logger) *Enricher {
	if batchSize <= 0 {
		batchSize = DefaultEnrichBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{transfers: transfers, tags: tags, mirror: mirror, batchSize: batchSize, logger: logger}
}

// EnrichResult reports one chain's backfill.
type EnrichResult struct {
	Scanned int
	Updated int
	// MirrorFailures counts pages whose filled rows were not mirrored.
	MirrorFailures int
}

// Enrich scans chain's untagged rows in id order and writes back the rows
// the directory can tag.
func (e *Enricher) Enrich(ctx context.Context, chain domain.Chain) (EnrichResult, error) {
	dir, err := categorize.Load(ctx, e.tags, chain)
	if err != nil {
		return EnrichResult{}, err
	}
	joiner := categorize.NewJoiner(dir)

	var (
		result  EnrichResult
		afterID int64
	)
	for {
		page, err := e.transfers.ListUntagged(ctx, chain, afterID, e.batchSize)
		if err != nil {
			return result, fmt.Errorf("list untagged %s transfers: %w", chain, err)
		}
		if len(page) == 0 {
			break
		}

		var changed []domain.TransferRecord
		for _, row := range page {
			rec := row.TransferRecord
			if joiner.Attach(&rec) {
				changed = append(changed, rec)
			}
		}
		result.Scanned += len(page)
		afterID = page[len(page)-1].ID

		if len(changed) > 0 {
			res, err := e.transfers.Upsert(ctx, changed)
			if err != nil {
				return result, fmt.Errorf("write enriched %s transfers: %w", chain, err)
			}
			result.Updated += res.TagsFilled

			if e.mirror != nil {
				if err := e.mirror.Mirror(ctx, res.Records); err != nil {
					e.logger.Warn("mirror failed", zap.Int("records", len(res.Records)), zap.Error(err))
					result.MirrorFailures++
				}
			}
		}

		if len(page) < e.batchSize {
			break
		}
	}

	e.logger.Info("enriched chain",
		zap.String("chain", string(chain)),
		zap.Int("tags", dir.Len()),
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("mirror_failures", result.MirrorFailures))
	return result, nil
}
