package memory

import (
	"context"
	"strings"
	"sync"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/storage"
)

type tagKey struct {
	address string // lowercased
	chain   domain.Chain
}

// TagStore is an in-memory implementation of storage.TagStore.
type TagStore struct {
	mu    sync.RWMutex
	order []tagKey
	data  map[tagKey]domain.AddressTag
}

// NewTagStore creates a new in-memory tag store.
func NewTagStore() *TagStore {
	return &TagStore{data: make(map[tagKey]domain.AddressTag)}
}

// Compile-time interface check.
var _ storage.TagStore = (*TagStore)(nil)

// LoadTags retrieves every tag of chain in insertion order.
// An empty label reads as null.
func (s *TagStore) LoadTags(_ context.Context, chain domain.Chain) ([]domain.AddressTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AddressTag
	for _, k := range s.order {
		if k.chain != chain {
			continue
		}
		tag := s.data[k]
		if tag.Label != nil {
			if *tag.Label == "" {
				tag.Label = nil
			} else {
				label := *tag.Label
				tag.Label = &label
			}
		}
		out = append(out, tag)
	}
	return out, nil
}

// Upsert adds tags, replacing category, label and source of an address
// already tagged on the same chain. The stored address keeps its first casing.
func (s *TagStore) Upsert(_ context.Context, tags []domain.AddressTag) error {
	for i := range tags {
		if err := storage.ValidateTag(&tags[i]); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tag := range tags {
		k := tagKey{address: strings.ToLower(tag.Address), chain: tag.Chain}
		if existing, ok := s.data[k]; ok {
			tag.Address = existing.Address
		} else {
			s.order = append(s.order, k)
		}
		s.data[k] = tag
	}
	return nil
}
