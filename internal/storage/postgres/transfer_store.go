package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/storage"
)

// TransferStore implements storage.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *Pool
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

// upsertTransferQuery inserts a record or fills the null tags of the
// existing row, following storage.FillTags: a null category takes the
// incoming one, and a null label takes the incoming label when the incoming
// category matches the kept one. The WHERE clause skips the update when
// nothing would be filled, so RETURNING yields no row for an unchanged
// record.
const upsertTransferQuery = `
	INSERT INTO categorized_transfers AS ct (
		timestamp, chain, token_symbol, token_address, tx_hash,
		from_address, to_address, amount, block_number,
		category_sender, label_sender, category_receiver, label_receiver
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13)
	ON CONFLICT (tx_hash, token_address, from_address, to_address, amount) DO UPDATE SET
		category_sender = COALESCE(ct.category_sender, EXCLUDED.category_sender),
		label_sender = CASE
			WHEN ct.label_sender IS NULL
			 AND EXCLUDED.category_sender = COALESCE(ct.category_sender, EXCLUDED.category_sender)
			THEN EXCLUDED.label_sender ELSE ct.label_sender END,
		category_receiver = COALESCE(ct.category_receiver, EXCLUDED.category_receiver),
		label_receiver = CASE
			WHEN ct.label_receiver IS NULL
			 AND EXCLUDED.category_receiver = COALESCE(ct.category_receiver, EXCLUDED.category_receiver)
			THEN EXCLUDED.label_receiver ELSE ct.label_receiver END
	WHERE (ct.category_sender IS NULL AND EXCLUDED.category_sender IS NOT NULL)
	   OR (ct.label_sender IS NULL AND EXCLUDED.label_sender IS NOT NULL
	       AND EXCLUDED.category_sender = COALESCE(ct.category_sender, EXCLUDED.category_sender))
	   OR (ct.category_receiver IS NULL AND EXCLUDED.category_receiver IS NOT NULL)
	   OR (ct.label_receiver IS NULL AND EXCLUDED.label_receiver IS NOT NULL
	       AND EXCLUDED.category_receiver = COALESCE(ct.category_receiver, EXCLUDED.category_receiver))
	RETURNING (xmax = 0) AS inserted
`

// storedTagsQuery reads the tags of one key after its upsert in the same
// transaction.
const storedTagsQuery = `
	SELECT category_sender, label_sender, category_receiver, label_receiver
	FROM categorized_transfers
	WHERE tx_hash = $1 AND token_address = $2 AND from_address = $3
	  AND to_address = $4 AND amount = $5::numeric
`

const selectTransferColumns = `
	SELECT id, timestamp, chain, token_symbol, token_address, tx_hash,
		from_address, to_address, amount::text, block_number,
		category_sender, label_sender, category_receiver, label_receiver
	FROM categorized_transfers
`

// Upsert writes all records in one transaction. Any invalid record or
// server error rolls back the whole call.
func (s *TransferStore) Upsert(ctx context.Context, records []domain.TransferRecord) (result storage.UpsertResult, err error) {
	if len(records) == 0 {
		return storage.UpsertResult{}, nil
	}
	for i := range records {
		if err := storage.ValidateTransfer(&records[i]); err != nil {
			return storage.UpsertResult{}, err
		}
	}

	start := time.Now()
	defer func() { observe("upsert_transfers", start, err) }()

	records = storage.DedupeTransfers(records)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range records {
		r := &records[i]
		batch.Queue(upsertTransferQuery,
			r.Timestamp.UTC(),
			string(r.Chain),
			r.TokenSymbol,
			r.TokenAddress,
			r.TxHash,
			r.FromAddress,
			r.ToAddress,
			r.Amount.String(),
			r.BlockNumber,
			r.SenderCategory,
			r.SenderLabel,
			r.ReceiverCategory,
			r.ReceiverLabel,
		)
		batch.Queue(storedTagsQuery, r.TxHash, r.TokenAddress, r.FromAddress, r.ToAddress, r.Amount.String())
	}

	br := tx.SendBatch(ctx, batch)
	result.Records = make([]domain.TransferRecord, 0, len(records))
	for i := range records {
		var inserted bool
		err := br.QueryRow().Scan(&inserted)
		switch {
		case isNotFoundError(err):
			result.Unchanged++
		case err != nil:
			br.Close()
			if isInvalidInputError(err) {
				return storage.UpsertResult{}, fmt.Errorf("%w: transfer %q: %v", storage.ErrInvalidInput, records[i].TxHash, err)
			}
			return storage.UpsertResult{}, fmt.Errorf("upsert transfer %q: %w", records[i].TxHash, err)
		case inserted:
			result.Inserted++
		default:
			result.TagsFilled++
		}

		stored := records[i]
		err = br.QueryRow().Scan(&stored.SenderCategory, &stored.SenderLabel, &stored.ReceiverCategory, &stored.ReceiverLabel)
		if err != nil {
			br.Close()
			return storage.UpsertResult{}, fmt.Errorf("read stored tags of %q: %w", records[i].TxHash, err)
		}
		result.Records = append(result.Records, stored)
	}
	if err := br.Close(); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("commit tx: %w", err)
	}

	observability.RecordUpsert("postgres", result.Inserted, result.TagsFilled, result.Unchanged)
	return result, nil
}

// GetByTxHash retrieves all rows of a transaction, ordered by id.
func (s *TransferStore) GetByTxHash(ctx context.Context, txHash string) ([]storage.StoredTransfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, selectTransferColumns+`WHERE tx_hash = $1 ORDER BY id`, txHash)
	observe("get_by_tx_hash", start, err)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// ListUntagged retrieves rows of chain after afterID with a missing
// category or label.
func (s *TransferStore) ListUntagged(ctx context.Context, chain domain.Chain, afterID int64, limit int) ([]storage.StoredTransfer, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d", storage.ErrInvalidInput, limit)
	}

	query := selectTransferColumns + `
		WHERE chain = $1 AND id > $2
		  AND (category_sender IS NULL OR label_sender IS NULL
		       OR category_receiver IS NULL OR label_receiver IS NULL)
		ORDER BY id
		LIMIT $3
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, string(chain), afterID, limit)
	observe("list_untagged", start, err)
	if err != nil {
		return nil, fmt.Errorf("query untagged transfers: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// Count returns the number of rows for chain.
func (s *TransferStore) Count(ctx context.Context, chain domain.Chain) (int, error) {
	start := time.Now()
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM categorized_transfers WHERE chain = $1`, string(chain)).Scan(&n)
	observe("count_transfers", start, err)
	if err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

func scanTransfers(rows pgx.Rows) ([]storage.StoredTransfer, error) {
	var out []storage.StoredTransfer
	for rows.Next() {
		var (
			st     storage.StoredTransfer
			chain  string
			amount string
		)
		err := rows.Scan(
			&st.ID,
			&st.Timestamp,
			&chain,
			&st.TokenSymbol,
			&st.TokenAddress,
			&st.TxHash,
			&st.FromAddress,
			&st.ToAddress,
			&amount,
			&st.BlockNumber,
			&st.SenderCategory,
			&st.SenderLabel,
			&st.ReceiverCategory,
			&st.ReceiverLabel,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}

		st.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		st.Chain = domain.Chain(chain)
		st.Timestamp = st.Timestamp.UTC()
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}
