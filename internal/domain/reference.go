package domain

import "time"

// CandidateReference points at a transaction (or log) that may contain transfers.
// Produced by pagination and deduplicated by ID.
type CandidateReference struct {
	ID        string     // signature, or txHash:logIndex for EVM logs
	Slot      int64      // slot or block number
	Timestamp *time.Time // nil when the node did not report a block time
}

// MergeReferences merges reference sets by ID. Later sets win on duplicates.
func MergeReferences(sets ...[]CandidateReference) []CandidateReference {
	index := make(map[string]int)
	var merged []CandidateReference
	for _, set := range sets {
		for _, ref := range set {
			if i, ok := index[ref.ID]; ok {
				merged[i] = ref
				continue
			}
			index[ref.ID] = len(merged)
			merged = append(merged, ref)
		}
	}
	return merged
}
