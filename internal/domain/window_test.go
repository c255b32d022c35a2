package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractionWindow_ContainsIsClosed(t *testing.T) {
	start := time.Unix(1_700_000_000, 0).UTC()
	w := ExtractionWindow{Start: start, End: start.Add(time.Hour), Chain: ChainSolana, TokenAddress: "mint"}

	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Second)))
	assert.False(t, w.Contains(w.End.Add(time.Second)))

	assert.True(t, w.ContainsUnix(start.Unix()))
	assert.True(t, w.ContainsUnix(start.Unix()+3600))
	assert.False(t, w.ContainsUnix(start.Unix()+3601))
}

func TestExtractionWindow_Validate(t *testing.T) {
	now := time.Now()
	assert.NoError(t, NewLookbackWindow(ChainSolana, "mint", now, time.Hour).Validate())
	assert.ErrorIs(t, ExtractionWindow{Start: now, End: now.Add(-time.Second), Chain: ChainSolana, TokenAddress: "m"}.Validate(), ErrInvalidWindow)
	assert.ErrorIs(t, NewLookbackWindow("bitcoin", "mint", now, time.Hour).Validate(), ErrInvalidWindow)
	assert.ErrorIs(t, NewLookbackWindow(ChainSolana, "", now, time.Hour).Validate(), ErrInvalidWindow)
}

func TestMergeReferences_LastWriterWins(t *testing.T) {
	ts := time.Unix(100, 0)
	a := []CandidateReference{{ID: "s1", Slot: 1}, {ID: "s2", Slot: 2}}
	b := []CandidateReference{{ID: "s2", Slot: 2, Timestamp: &ts}, {ID: "s3", Slot: 3}}

	merged := MergeReferences(a, b)

	assert.Len(t, merged, 3)
	assert.Equal(t, "s1", merged[0].ID)
	assert.Equal(t, &ts, merged[1].Timestamp)
	assert.Equal(t, "s3", merged[2].ID)
}

func TestTransferRecord_KeyCanonicalAmount(t *testing.T) {
	a := TransferRecord{TxHash: "h", TokenAddress: "m", FromAddress: "f", ToAddress: "t"}
	b := a
	a.Amount = mustDecimal(t, "1.500000")
	b.Amount = mustDecimal(t, "1.5")

	assert.Equal(t, a.Key(), b.Key())
}
