// Package categorize attaches address tags to transfer records.
package categorize

import (
	"context"
	"fmt"
	"strings"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/storage"
)

// Directory is a read-only snapshot of one chain's tagged addresses.
// Lookups are case-insensitive on every chain. Safe for concurrent use
// once built.
type Directory struct {
	chain domain.Chain
	tags  map[string]domain.AddressTag
	order []string // original-case addresses in load order
}

// NewDirectory builds a directory from tags of chain. Tags of other chains
// are ignored; for a repeated address the last tag wins.
func NewDirectory(chain domain.Chain, tags []domain.AddressTag) *Directory {
	d := &Directory{chain: chain, tags: make(map[string]domain.AddressTag, len(tags))}
	for _, tag := range tags {
		if tag.Chain != chain || tag.Address == "" {
			continue
		}
		key := strings.ToLower(tag.Address)
		if _, seen := d.tags[key]; !seen {
			d.order = append(d.order, tag.Address)
		}
		d.tags[key] = tag
	}
	return d
}

// Load reads chain's tags from reader into a new Directory.
func Load(ctx context.Context, reader storage.TagReader, chain domain.Chain) (*Directory, error) {
	tags, err := reader.LoadTags(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("load %s tags: %w", chain, err)
	}
	return NewDirectory(chain, tags), nil
}

// Chain returns the chain the directory covers.
func (d *Directory) Chain() domain.Chain {
	return d.chain
}

// Lookup returns the tag of address, if any.
func (d *Directory) Lookup(address string) (domain.AddressTag, bool) {
	if address == "" {
		return domain.AddressTag{}, false
	}
	tag, ok := d.tags[strings.ToLower(address)]
	return tag, ok
}

// Len returns the number of tagged addresses.
func (d *Directory) Len() int {
	return len(d.tags)
}

// Wallets returns the tagged addresses in their stored casing.
// Used to prime owner lookups for the associated token accounts of known
// wallets.
func (d *Directory) Wallets() []string {
	return append([]string(nil), d.order...)
}
