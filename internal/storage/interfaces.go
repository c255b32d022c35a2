package storage

import (
	"context"
	"fmt"

	"stablecoin-transfers/internal/domain"
)

// UpsertResult counts what one Upsert call did per record.
type UpsertResult struct {
	Inserted   int // new rows
	TagsFilled int // existing rows whose null tags were filled
	Unchanged  int // existing rows left as they were

	// Records holds the stored state of each written key after the call,
	// with the merged tags, one per deduplicated input record.
	Records []domain.TransferRecord
}

// Add accumulates other into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.TagsFilled += other.TagsFilled
	r.Unchanged += other.Unchanged
	r.Records = append(r.Records, other.Records...)
}

// Total returns the number of records processed.
func (r UpsertResult) Total() int {
	return r.Inserted + r.TagsFilled + r.Unchanged
}

// StoredTransfer is a persisted transfer with its row id.
type StoredTransfer struct {
	ID int64
	domain.TransferRecord
}

// TransferStore provides access to categorized_transfers storage.
type TransferStore interface {
	// Upsert writes records as one unit of work, keyed on
	// (tx_hash, token_address, from_address, to_address, amount).
	// Existing rows never lose a populated tag; tags that are null on the
	// existing row are filled from the incoming record.
	// Returns ErrInvalidInput, writing nothing, if any record is invalid.
	Upsert(ctx context.Context, records []domain.TransferRecord) (UpsertResult, error)

	// GetByTxHash retrieves all rows of a transaction, ordered by id.
	GetByTxHash(ctx context.Context, txHash string) ([]StoredTransfer, error)

	// ListUntagged retrieves up to limit rows of chain with id > afterID
	// that have a null category or label on either side, ordered by id.
	ListUntagged(ctx context.Context, chain domain.Chain, afterID int64, limit int) ([]StoredTransfer, error)

	// Count returns the number of rows for chain.
	Count(ctx context.Context, chain domain.Chain) (int, error)
}

// TagReader reads the address tag directory.
type TagReader interface {
	// LoadTags retrieves every tag of chain.
	LoadTags(ctx context.Context, chain domain.Chain) ([]domain.AddressTag, error)
}

// TagStore provides access to tagged_addresses storage.
type TagStore interface {
	TagReader

	// Upsert adds or replaces tags, unique per (lower(address), chain).
	Upsert(ctx context.Context, tags []domain.AddressTag) error
}

// TransferMirror copies transfers into an analytics store. Mirroring the
// same record twice must not produce a second logical row.
type TransferMirror interface {
	Mirror(ctx context.Context, records []domain.TransferRecord) error
}

// ValidateTransfer checks the fields every persisted transfer must carry.
func ValidateTransfer(r *domain.TransferRecord) error {
	switch {
	case !r.Chain.IsValid():
		return fmt.Errorf("%w: chain %q", ErrInvalidInput, r.Chain)
	case r.TxHash == "", r.TokenAddress == "", r.FromAddress == "", r.ToAddress == "":
		return fmt.Errorf("%w: transfer %q missing key fields", ErrInvalidInput, r.TxHash)
	case domain.CheckAmount(r.Amount) != nil:
		return fmt.Errorf("%w: amount %s in %q", ErrInvalidInput, r.Amount, r.TxHash)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: transfer %q missing timestamp", ErrInvalidInput, r.TxHash)
	}
	return nil
}

// ValidateTag checks the fields every tag must carry.
func ValidateTag(t *domain.AddressTag) error {
	if t.Address == "" || t.Category == "" || !t.Chain.IsValid() {
		return fmt.Errorf("%w: tag %q", ErrInvalidInput, t.Address)
	}
	return nil
}

// DedupeTransfers drops records whose natural key repeats an earlier one.
// For a repeated key the first record wins, with null tags filled from
// later duplicates.
func DedupeTransfers(records []domain.TransferRecord) []domain.TransferRecord {
	index := make(map[domain.TransferKey]int, len(records))
	out := make([]domain.TransferRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		FillTags(&out[i], &r)
	}
	return out
}

// FillTags copies sender and receiver tags from src into dst where dst has
// none. A null label is also filled when src carries the category dst
// keeps. Set values are never overwritten. It reports whether anything
// changed.
func FillTags(dst, src *domain.TransferRecord) bool {
	s := fillSide(&dst.SenderCategory, &dst.SenderLabel, src.SenderCategory, src.SenderLabel)
	r := fillSide(&dst.ReceiverCategory, &dst.ReceiverLabel, src.ReceiverCategory, src.ReceiverLabel)
	return s || r
}

func fillSide(category, label **string, srcCategory, srcLabel *string) bool {
	if srcCategory == nil {
		return false
	}
	changed := false
	if *category == nil {
		*category = srcCategory
		changed = true
	}
	if *label == nil && srcLabel != nil && **category == *srcCategory {
		*label = srcLabel
		changed = true
	}
	return changed
}
