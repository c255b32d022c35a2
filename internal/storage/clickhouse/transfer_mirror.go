package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/storage"
)

// TransferMirror implements storage.TransferMirror using ClickHouse.
// ReplacingMergeTree keeps the highest version per natural key and reads
// use FINAL. The version ranks rows by how many tag fields they carry,
// then by insert time, so a later less-tagged mirror never replaces a
// more-tagged one.
type TransferMirror struct {
	conn *Conn
	now  func() time.Time
}

// NewTransferMirror creates a new TransferMirror.
func NewTransferMirror(conn *Conn) *TransferMirror {
	return &TransferMirror{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.TransferMirror = (*TransferMirror)(nil)

// Mirror inserts records as one batch.
func (m *TransferMirror) Mirror(ctx context.Context, records []domain.TransferRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := storage.ValidateTransfer(&records[i]); err != nil {
			return err
		}
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "mirror_transfers", time.Since(start).Seconds(), err)
	}()

	records = storage.DedupeTransfers(records)

	batch, err := m.conn.PrepareBatch(ctx, `
		INSERT INTO categorized_transfers (
			timestamp, chain, token_symbol, token_address, tx_hash,
			from_address, to_address, amount, block_number,
			category_sender, label_sender, category_receiver, label_receiver, version
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := m.now()
	for i := range records {
		r := &records[i]
		err = batch.Append(
			r.Timestamp.UTC(), string(r.Chain), r.TokenSymbol, r.TokenAddress, r.TxHash,
			r.FromAddress, r.ToAddress, r.Amount, r.BlockNumber,
			r.SenderCategory, r.SenderLabel, r.ReceiverCategory, r.ReceiverLabel, rowVersion(r, now),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// versionTimeBits is the width of the insert-time part of a row version.
const versionTimeBits = 56

// rowVersion puts the number of set tag fields in the high bits and the
// insert time in microseconds below them.
func rowVersion(r *domain.TransferRecord, now time.Time) uint64 {
	rank := 0
	for _, f := range []*string{r.SenderCategory, r.SenderLabel, r.ReceiverCategory, r.ReceiverLabel} {
		if f != nil {
			rank++
		}
	}
	micros := uint64(now.UnixMicro()) & (1<<versionTimeBits - 1)
	return uint64(rank)<<versionTimeBits | micros
}

// Count returns the number of logical rows for chain.
func (m *TransferMirror) Count(ctx context.Context, chain domain.Chain) (int, error) {
	var n uint64
	row := m.conn.QueryRow(ctx, `SELECT count() FROM categorized_transfers FINAL WHERE chain = ?`, string(chain))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count mirrored transfers: %w", err)
	}
	return int(n), nil
}

// GetByTxHash retrieves the latest version of each row of a transaction.
func (m *TransferMirror) GetByTxHash(ctx context.Context, txHash string) ([]domain.TransferRecord, error) {
	rows, err := m.conn.Query(ctx, `
		SELECT timestamp, chain, token_symbol, token_address, tx_hash,
			from_address, to_address, amount, block_number,
			category_sender, label_sender, category_receiver, label_receiver
		FROM categorized_transfers FINAL
		WHERE tx_hash = ?
		ORDER BY from_address, to_address, amount
	`, txHash)
	if err != nil {
		return nil, fmt.Errorf("query mirrored transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.TransferRecord
	for rows.Next() {
		var (
			r      domain.TransferRecord
			chain  string
			amount decimal.Decimal
		)
		err := rows.Scan(
			&r.Timestamp, &chain, &r.TokenSymbol, &r.TokenAddress, &r.TxHash,
			&r.FromAddress, &r.ToAddress, &amount, &r.BlockNumber,
			&r.SenderCategory, &r.SenderLabel, &r.ReceiverCategory, &r.ReceiverLabel,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mirrored transfer: %w", err)
		}
		r.Chain = domain.Chain(chain)
		r.Amount = amount
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mirrored transfers: %w", err)
	}
	return out, nil
}
