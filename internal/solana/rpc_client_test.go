package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers single JSON-RPC requests with the result produced by fn.
func rpcServer(t *testing.T, fn func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  fn(req),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(url,
		WithRetryDelay(5*time.Millisecond),
		WithRateLimit(0, 0),
	)
}

const parsedTransferTx = `{
	"slot": 123456,
	"blockTime": 1700000000,
	"meta": {
		"err": null,
		"logMessages": ["Program log: Instruction: Transfer"],
		"innerInstructions": [{
			"index": 0,
			"instructions": [{
				"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
				"accounts": ["srcAta", "dstAta", "wallet"],
				"data": "3DdGGhkhJbjm"
			}]
		}]
	},
	"transaction": {
		"signatures": ["sig1"],
		"message": {
			"accountKeys": [
				{"pubkey": "wallet", "signer": true, "writable": true},
				{"pubkey": "srcAta", "signer": false, "writable": true}
			],
			"instructions": [{
				"program": "spl-token",
				"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
				"parsed": {
					"type": "transferChecked",
					"info": {
						"source": "srcAta",
						"mint": "mintA",
						"destination": "dstAta",
						"authority": "wallet",
						"tokenAmount": {"amount": "1500000", "decimals": 6}
					}
				}
			}, {
				"program": "spl-memo",
				"programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr",
				"parsed": "hello"
			}]
		}
	}
}`

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "jsonParsed" {
			t.Errorf("expected jsonParsed encoding, got %v", cfg["encoding"])
		}
		return json.RawMessage(parsedTransferTx)
	})
	defer server.Close()

	tx, err := newTestClient(server.URL).GetTransaction(context.Background(), "sig1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx.Slot != 123456 || tx.BlockTime == nil || *tx.BlockTime != 1700000000 {
		t.Errorf("unexpected slot/blockTime: %d %v", tx.Slot, tx.BlockTime)
	}
	if tx.Failed() {
		t.Error("expected successful transaction")
	}
	if got := tx.Message.AccountKeys; len(got) != 2 || got[0] != "wallet" {
		t.Errorf("unexpected account keys: %v", got)
	}

	ixs := tx.Message.Instructions
	if len(ixs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(ixs))
	}
	if ixs[0].Parsed == nil || ixs[0].Parsed.Type != "transferChecked" {
		t.Errorf("expected parsed transferChecked, got %+v", ixs[0].Parsed)
	}
	if ixs[1].Parsed != nil {
		t.Errorf("string parse should decode as absent, got %+v", ixs[1].Parsed)
	}

	inner := tx.Meta.InnerInstructions
	if len(inner) != 1 || len(inner[0].Instructions) != 1 {
		t.Fatalf("unexpected inner instructions: %+v", inner)
	}
	acct, ok := inner[0].Instructions[0].Accounts[1].Resolve(nil)
	if !ok || acct != "dstAta" {
		t.Errorf("expected inline pubkey dstAta, got %q", acct)
	}
}

func TestHTTPClient_GetTransaction_RawEncodingWithLookupTables(t *testing.T) {
	raw := `{
		"slot": 7,
		"blockTime": null,
		"meta": {"err": null, "loadedAddresses": {"writable": ["lutW"], "readonly": ["TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"]}},
		"transaction": {
			"signatures": ["sig2"],
			"message": {
				"accountKeys": ["payer", "srcAta"],
				"instructions": [{"programIdIndex": 3, "accounts": [1, 2, 0], "data": "3DdGGhkhJbjm"}]
			}
		}
	}`
	server := rpcServer(t, func(req rpcRequest) interface{} { return json.RawMessage(raw) })
	defer server.Close()

	tx, err := newTestClient(server.URL).GetTransaction(context.Background(), "sig2")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	keys := tx.Message.AccountKeys
	if len(keys) != 4 || keys[2] != "lutW" {
		t.Fatalf("expected loaded addresses appended, got %v", keys)
	}
	ix := tx.Message.Instructions[0]
	if ix.ProgramID != TokenProgramID {
		t.Errorf("expected program resolved from index, got %q", ix.ProgramID)
	}
	if dst, _ := ix.Accounts[1].Resolve(keys); dst != "lutW" {
		t.Errorf("expected destination lutW, got %q", dst)
	}
	if tx.BlockTime != nil {
		t.Errorf("expected nil blockTime, got %v", *tx.BlockTime)
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} { return nil })
	defer server.Close()

	_, err := newTestClient(server.URL).GetTransaction(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if Classify(err) != OutcomeNotFound {
		t.Errorf("expected not found outcome")
	}
}

func TestHTTPClient_GetTransactions_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Fatalf("expected batch request: %v", err)
		}
		if len(reqs) != 3 {
			t.Errorf("expected 3 requests, got %d", len(reqs))
		}

		// Answer out of order; the second signature is unknown, the third errors.
		resps := []map[string]interface{}{
			{"jsonrpc": "2.0", "id": reqs[2].ID, "error": map[string]interface{}{"code": -32603, "message": "internal"}},
			{"jsonrpc": "2.0", "id": reqs[1].ID, "result": nil},
			{"jsonrpc": "2.0", "id": reqs[0].ID, "result": json.RawMessage(parsedTransferTx)},
		}
		json.NewEncoder(w).Encode(resps)
	}))
	defer server.Close()

	results, err := newTestClient(server.URL).GetTransactions(context.Background(), []string{"sig1", "sig2", "sig3"})
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK() || results[0].Value.Signature != "sig1" {
		t.Errorf("expected sig1 found, got %+v", results[0])
	}
	if results[1].Outcome != OutcomeNotFound {
		t.Errorf("expected sig2 not found, got %v", results[1].Outcome)
	}
	if results[2].Outcome != OutcomeTransientError {
		t.Errorf("expected sig3 transient error, got %v", results[2].Outcome)
	}
}

func TestHTTPClient_GetTransactions_BatchUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"batch not allowed"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetTransactions(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrBatchUnsupported) {
		t.Fatalf("expected ErrBatchUnsupported, got %v", err)
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getSignaturesForAddress" {
			t.Errorf("expected getSignaturesForAddress, got %s", req.Method)
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["before"] != "cursor" {
			t.Errorf("expected before=cursor, got %v", cfg["before"])
		}
		if cfg["limit"] != float64(1000) {
			t.Errorf("expected limit=1000, got %v", cfg["limit"])
		}
		return []map[string]interface{}{
			{"signature": "s1", "slot": 10, "blockTime": 1700000100, "err": nil},
			{"signature": "s2", "slot": 9, "blockTime": nil, "err": nil},
		}
	})
	defer server.Close()

	sigs, err := newTestClient(server.URL).GetSignaturesForAddress(context.Background(), "addr",
		&SignaturesOpts{Before: "cursor", Limit: 1000})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].BlockTime == nil || *sigs[0].BlockTime != 1700000100 {
		t.Errorf("unexpected blockTime %v", sigs[0].BlockTime)
	}
	if sigs[1].BlockTime != nil {
		t.Errorf("expected nil blockTime for s2")
	}
}

func TestHTTPClient_GetBlock(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["transactionDetails"] != "full" {
			t.Errorf("expected full transaction details, got %v", cfg["transactionDetails"])
		}
		var tx map[string]interface{}
		json.Unmarshal([]byte(parsedTransferTx), &tx)
		delete(tx, "slot")
		delete(tx, "blockTime")
		return map[string]interface{}{
			"blockTime":    int64(1700000500),
			"transactions": []interface{}{tx},
		}
	})
	defer server.Close()

	block, err := newTestClient(server.URL).GetBlock(context.Background(), 555)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(block.Transactions))
	}
	tx := block.Transactions[0]
	if tx.Signature != "sig1" || tx.Slot != 555 || *tx.BlockTime != 1700000500 {
		t.Errorf("block transaction not normalized: %+v", tx)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
		WithRateLimit(0, 0),
	)

	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32009, "message": "Slot 5 was skipped"},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetBlock(context.Background(), 5)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if Classify(err) != OutcomeNotFound {
		t.Errorf("skipped slot should classify as not found")
	}
	if attempts.Load() != 1 {
		t.Errorf("RPC errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value": map[string]interface{}{
				"lamports": 2039280,
				"owner":    TokenProgramID,
				"data": map[string]interface{}{
					"program": "spl-token",
					"parsed": map[string]interface{}{
						"type": "account",
						"info": map[string]interface{}{
							"mint":        "mintA",
							"owner":       "wallet",
							"tokenAmount": map[string]interface{}{"amount": "5", "decimals": 6},
						},
					},
				},
			},
		}
	})
	defer server.Close()

	info, err := newTestClient(server.URL).GetAccountInfo(context.Background(), "ata")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info.Parsed == nil {
		t.Fatal("expected parsed account")
	}
	if info.Parsed.Owner != "wallet" || info.Parsed.Mint != "mintA" {
		t.Errorf("unexpected parsed account %+v", info.Parsed)
	}
	if info.Parsed.Decimals == nil || *info.Parsed.Decimals != 6 {
		t.Errorf("expected decimals 6, got %v", info.Parsed.Decimals)
	}
}

func TestHTTPClient_GetAccountInfo_Base64(t *testing.T) {
	data := make([]byte, 165)
	data[0] = 1
	server := rpcServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"value": map[string]interface{}{
				"owner": TokenProgramID,
				"data":  []string{base64.StdEncoding.EncodeToString(data), "base64"},
			},
		}
	})
	defer server.Close()

	info, err := newTestClient(server.URL).GetAccountInfo(context.Background(), "ata")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info.Parsed != nil {
		t.Error("expected no parsed view for binary data")
	}
	if len(info.Data) != 165 || info.Data[0] != 1 {
		t.Errorf("unexpected raw data length %d", len(info.Data))
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": nil}
	})
	defer server.Close()

	_, err := newTestClient(server.URL).GetAccountInfo(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_GetTokenSupply(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getTokenSupply" {
			t.Errorf("expected getTokenSupply, got %s", req.Method)
		}
		return map[string]interface{}{
			"value": map[string]interface{}{"amount": "1000000000", "decimals": 6, "uiAmountString": "1000"},
		}
	})
	defer server.Close()

	supply, err := newTestClient(server.URL).GetTokenSupply(context.Background(), "mintA")
	if err != nil {
		t.Fatalf("GetTokenSupply: %v", err)
	}
	if supply.Decimals != 6 {
		t.Errorf("expected decimals 6, got %d", supply.Decimals)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if Classify(err) != OutcomeTransientError {
		t.Errorf("expected transient outcome, got %v", Classify(err))
	}
}
