package domain

// AddressTag classifies a known address on a chain.
// Corresponds to tagged_addresses table in PostgreSQL.
type AddressTag struct {
	Address  string // stored as-is, matched case-insensitively
	Chain    Chain
	Category string  // e.g. cex, defi, bridge
	Label    *string // nullable
	Source   string  // provenance of the tag
}

// DisplayLabel returns the label, or the category when no label is set.
// It is for display only; stored records keep a missing label null.
func (t *AddressTag) DisplayLabel() string {
	if t.Label != nil && *t.Label != "" {
		return *t.Label
	}
	return t.Category
}
