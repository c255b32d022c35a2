package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/storage"
)

// TagStore implements storage.TagStore using PostgreSQL.
type TagStore struct {
	pool *Pool
}

// NewTagStore creates a new TagStore.
func NewTagStore(pool *Pool) *TagStore {
	return &TagStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TagStore = (*TagStore)(nil)

// LoadTags retrieves every tag of chain. An empty label reads as null.
func (s *TagStore) LoadTags(ctx context.Context, chain domain.Chain) ([]domain.AddressTag, error) {
	query := `
		SELECT address, chain, category, NULLIF(label, ''), source
		FROM tagged_addresses
		WHERE chain = $1
		ORDER BY id
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, string(chain))
	observe("load_tags", start, err)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.AddressTag
	for rows.Next() {
		var (
			tag       domain.AddressTag
			chainName string
			label     *string
		)
		if err := rows.Scan(&tag.Address, &chainName, &tag.Category, &label, &tag.Source); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tag.Chain = domain.Chain(chainName)
		tag.Label = label
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// Upsert adds tags, replacing category, label and source of an address
// already tagged on the same chain. All tags are written in one transaction.
func (s *TagStore) Upsert(ctx context.Context, tags []domain.AddressTag) (err error) {
	if len(tags) == 0 {
		return nil
	}
	for i := range tags {
		if err := storage.ValidateTag(&tags[i]); err != nil {
			return err
		}
	}

	start := time.Now()
	defer func() { observe("upsert_tags", start, err) }()

	query := `
		INSERT INTO tagged_addresses (address, chain, category, label, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (LOWER(address), chain) DO UPDATE SET
			category = EXCLUDED.category,
			label = EXCLUDED.label,
			source = EXCLUDED.source
	`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tag := range tags {
		batch.Queue(query, tag.Address, string(tag.Chain), tag.Category, tag.Label, tag.Source)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert tags: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
