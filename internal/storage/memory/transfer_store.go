// Package memory provides in-memory stores for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/storage"
)

// TransferStore is an in-memory implementation of storage.TransferStore.
type TransferStore struct {
	mu     sync.RWMutex
	rows   []storage.StoredTransfer
	byKey  map[domain.TransferKey]int // index into rows
	nextID int64
}

// NewTransferStore creates a new in-memory transfer store.
func NewTransferStore() *TransferStore {
	return &TransferStore{
		byKey:  make(map[domain.TransferKey]int),
		nextID: 1,
	}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

// Upsert inserts new records and fills null tags of existing ones.
// Validation runs before any write, so a failed call changes nothing.
func (s *TransferStore) Upsert(_ context.Context, records []domain.TransferRecord) (storage.UpsertResult, error) {
	for i := range records {
		if err := storage.ValidateTransfer(&records[i]); err != nil {
			return storage.UpsertResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result storage.UpsertResult
	for _, r := range storage.DedupeTransfers(records) {
		key := r.Key()
		if i, exists := s.byKey[key]; exists {
			if storage.FillTags(&s.rows[i].TransferRecord, &r) {
				result.TagsFilled++
			} else {
				result.Unchanged++
			}
			result.Records = append(result.Records, s.rows[i].TransferRecord)
			continue
		}

		r.Timestamp = r.Timestamp.UTC()
		s.byKey[key] = len(s.rows)
		s.rows = append(s.rows, storage.StoredTransfer{ID: s.nextID, TransferRecord: r})
		s.nextID++
		result.Inserted++
		result.Records = append(result.Records, r)
	}

	observability.RecordUpsert("memory", result.Inserted, result.TagsFilled, result.Unchanged)
	return result, nil
}

// GetByTxHash retrieves all rows of a transaction, ordered by id.
func (s *TransferStore) GetByTxHash(_ context.Context, txHash string) ([]storage.StoredTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.StoredTransfer
	for _, row := range s.rows {
		if row.TxHash == txHash {
			out = append(out, row)
		}
	}
	return out, nil
}

// ListUntagged retrieves rows of chain after afterID with a missing tag.
func (s *TransferStore) ListUntagged(_ context.Context, chain domain.Chain, afterID int64, limit int) ([]storage.StoredTransfer, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d", storage.ErrInvalidInput, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// rows are appended in id order
	start := sort.Search(len(s.rows), func(i int) bool { return s.rows[i].ID > afterID })

	var out []storage.StoredTransfer
	for _, row := range s.rows[start:] {
		if len(out) == limit {
			break
		}
		if row.Chain == chain && row.NeedsTags() {
			out = append(out, row)
		}
	}
	return out, nil
}

// Count returns the number of rows for chain.
func (s *TransferStore) Count(_ context.Context, chain domain.Chain) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, row := range s.rows {
		if row.Chain == chain {
			n++
		}
	}
	return n, nil
}

// Records returns a copy of every stored record in insertion order.
func (s *TransferStore) Records() []domain.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TransferRecord, len(s.rows))
	for i, row := range s.rows {
		out[i] = row.TransferRecord
	}
	return out
}
