package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/solana"
	"stablecoin-transfers/internal/solana/stub"
)

func refsFor(slot int64, ids ...string) []domain.CandidateReference {
	refs := make([]domain.CandidateReference, len(ids))
	for i, id := range ids {
		refs[i] = domain.CandidateReference{ID: id, Slot: slot}
	}
	return refs
}

func TestFetcher_BatchTier(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.AddTransaction(&solana.Transaction{Signature: "a", Slot: 1})
	rpc.AddTransaction(&solana.Transaction{Signature: "b", Slot: 1})
	rpc.AddTransaction(&solana.Transaction{Signature: "c", Slot: 2})

	f := NewFetcher(rpc, FetcherOptions{ChunkSize: 2})
	report := f.Fetch(context.Background(), refsFor(1, "a", "b", "c", "missing"))

	require.Len(t, report.Transactions, 3)
	assert.Equal(t, 3, report.Tiers[TierBatch])
	assert.Equal(t, 1, report.NotFound)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, rpc.Calls("getTransactions"))
	assert.Zero(t, rpc.Calls("getTransaction"))

	ids := make([]string, len(report.Transactions))
	for i, ft := range report.Transactions {
		ids[i] = ft.Ref.ID
		assert.Equal(t, TierBatch, ft.Tier)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids, "chunk order is preserved")
}

func TestFetcher_SingleTierWhenBatchUnsupported(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.BatchUnsupported = true
	rpc.AddTransaction(&solana.Transaction{Signature: "a"})
	rpc.AddTransaction(&solana.Transaction{Signature: "b"})
	rpc.FailSignatures["b"] = true

	report := NewFetcher(rpc, FetcherOptions{}).Fetch(context.Background(), refsFor(1, "a", "b", "c"))

	require.Len(t, report.Transactions, 1)
	assert.Equal(t, TierSingle, report.Transactions[0].Tier)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.NotFound)
	assert.Equal(t, 3, rpc.Calls("getTransaction"))
	assert.Zero(t, rpc.Calls("getBlock"), "blocks are only scanned when nothing was fetched")
}

func TestFetcher_BlockFallback(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Unavailable = true
	rpc.AddBlock(&solana.Block{
		Slot:      7,
		BlockTime: ptr(windowFrom + 10),
		Transactions: []solana.Transaction{
			{Signature: "unrelated", Slot: 7},
			{Signature: "want-1", Slot: 7},
		},
	})
	rpc.AddBlock(&solana.Block{
		Slot:         9,
		Transactions: []solana.Transaction{{Signature: "want-2", Slot: 9}},
	})

	refs := append(refsFor(9, "want-2"), refsFor(7, "want-1", "gone")...)
	report := NewFetcher(rpc, FetcherOptions{}).Fetch(context.Background(), refs)

	require.Len(t, report.Transactions, 2)
	assert.Equal(t, "want-1", report.Transactions[0].Tx.Signature, "blocks are visited in slot order")
	assert.Equal(t, "want-2", report.Transactions[1].Tx.Signature)
	assert.Equal(t, 2, report.Tiers[TierBlock])
	require.NotNil(t, report.Transactions[0].Tx.BlockTime)
	assert.Equal(t, windowFrom+10, *report.Transactions[0].Tx.BlockTime)
	assert.Equal(t, int64(9), report.Transactions[1].Ref.Slot)
	assert.Equal(t, 2, rpc.Calls("getBlock"))
}

func TestFetcher_BlockFallbackCap(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Unavailable = true

	var refs []domain.CandidateReference
	for slot := int64(1); slot <= 5; slot++ {
		refs = append(refs, refsFor(slot, "s"+string(rune('0'+slot)))...)
	}
	refs = append(refs, refsFor(3, "dup-slot")...)

	report := NewFetcher(rpc, FetcherOptions{MaxFallbackBlocks: 2}).Fetch(context.Background(), refs)

	assert.Empty(t, report.Transactions)
	assert.Equal(t, 2, rpc.Calls("getBlock"))
}

func TestFetcher_TotalUnreachabilityIsEmpty(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Unavailable = true

	report := NewFetcher(rpc, FetcherOptions{}).Fetch(context.Background(), refsFor(1, "a", "b"))

	assert.Empty(t, report.Transactions)
	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, NewFetcher(rpc, FetcherOptions{}).Fetch(context.Background(), nil).Transactions)
}

// TestFetcher_HTTPBatchAnsweredWithObject drives the real client against an
// endpoint that answers batch requests with a single error object.
func TestFetcher_HTTPBatchAnsweredWithObject(t *testing.T) {
	var batches, singles atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
			batches.Add(1)
			io.WriteString(w, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"batch requests are disabled"}}`)
			return
		}

		singles.Add(1)
		var req struct {
			ID     uint64        `json:"id"`
			Params []interface{} `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil || len(req.Params) == 0 {
			t.Errorf("bad request: %s", body)
			return
		}
		sig, _ := req.Params[0].(string)
		result := map[string]interface{}{
			"slot":      100,
			"blockTime": windowFrom + 5,
			"meta":      map[string]interface{}{"err": nil},
			"transaction": map[string]interface{}{
				"signatures": []string{sig},
				"message":    map[string]interface{}{"accountKeys": []string{}, "instructions": []interface{}{}},
			},
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	client := solana.NewHTTPClient(server.URL,
		solana.WithRetryDelay(time.Millisecond),
		solana.WithRateLimit(0, 0),
	)
	report := NewFetcher(client, FetcherOptions{}).Fetch(context.Background(), refsFor(100, "x", "y"))

	require.Len(t, report.Transactions, 2)
	assert.Equal(t, 2, report.Tiers[TierSingle])
	assert.Equal(t, int32(1), batches.Load())
	assert.Equal(t, int32(2), singles.Load())
}
