package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every single JSON-RPC request with result(req).
func rpcServer(t *testing.T, result func(req rpcRequest) interface{}) *httptest.Server {
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
			"result":  result(req),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func parsedTransferTx() map[string]interface{} {
	return map[string]interface{}{
		"slot":      int64(123456),
		"blockTime": int64(1700000000),
		"meta": map[string]interface{}{
			"err": nil,
			"preTokenBalances": []map[string]interface{}{
				{
					"accountIndex": 1,
					"mint":         "mint1",
					"owner":        "ownerA",
					"uiTokenAmount": map[string]interface{}{
						"amount": "1000000", "decimals": 6, "uiAmountString": "1",
					},
				},
			},
			"postTokenBalances": []map[string]interface{}{
				{
					"accountIndex": 1,
					"mint":         "mint1",
					"owner":        "ownerA",
					"uiTokenAmount": map[string]interface{}{
						"amount": "500000", "decimals": 6, "uiAmountString": "0.5",
					},
				},
			},
			"innerInstructions": []map[string]interface{}{
				{
					"index": 0,
					"instructions": []map[string]interface{}{
						{"program": "spl-memo", "programId": "memo", "parsed": "hello"},
					},
				},
			},
		},
		"transaction": map[string]interface{}{
			"signatures": []string{"testsig123"},
			"message": map[string]interface{}{
				"accountKeys": []map[string]interface{}{
					{"pubkey": "ownerA", "signer": true, "writable": true},
					{"pubkey": "tokenA", "signer": false, "writable": true},
					{"pubkey": "tokenB", "signer": false, "writable": true},
				},
				"instructions": []map[string]interface{}{
					{
						"program":   "spl-token",
						"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
						"parsed": map[string]interface{}{
							"type": "transfer",
							"info": map[string]interface{}{
								"source":      "tokenA",
								"destination": "tokenB",
								"authority":   "ownerA",
								"amount":      "500000",
							},
						},
					},
				},
			},
		},
	}
}

func TestHTTPClient_GetParsedTransaction(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		if len(req.Params) != 2 {
			t.Errorf("expected 2 params, got %d", len(req.Params))
			return nil
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "jsonParsed" {
			t.Errorf("expected jsonParsed encoding, got %v", cfg["encoding"])
		}
		return parsedTransferTx()
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	tx, err := client.GetParsedTransaction(context.Background(), "testsig123")
	if err != nil {
		t.Fatalf("GetParsedTransaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}
	if tx.BlockTime == nil || *tx.BlockTime != 1700000000 {
		t.Errorf("expected blockTime 1700000000, got %v", tx.BlockTime)
	}
	if tx.Meta == nil {
		t.Fatal("expected meta, got nil")
	}
	if len(tx.Meta.PreTokenBalances) != 1 || tx.Meta.PreTokenBalances[0].UITokenAmount.UIAmountString != "1" {
		t.Errorf("unexpected pre balances: %+v", tx.Meta.PreTokenBalances)
	}
	if got := tx.Message.AccountKeys; len(got) != 3 || got[2] != "tokenB" {
		t.Errorf("unexpected account keys: %v", got)
	}

	if len(tx.Message.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(tx.Message.Instructions))
	}
	ix := tx.Message.Instructions[0]
	if ix.Program != "spl-token" || ix.Type != "transfer" {
		t.Errorf("unexpected instruction: %+v", ix)
	}
	if ix.Info.Destination != "tokenB" || ix.Info.Authority != "ownerA" {
		t.Errorf("unexpected instruction info: %+v", ix.Info)
	}

	if len(tx.Meta.InnerInstructions) != 1 || tx.Meta.InnerInstructions[0].Instructions[0].Type != "" {
		t.Errorf("string-parsed inner instruction should decode without type: %+v", tx.Meta.InnerInstructions)
	}
}

func TestHTTPClient_GetParsedTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest) interface{} { return nil })
	defer server.Close()

	client := NewHTTPClient(server.URL)
	tx, err := client.GetParsedTransaction(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetParsedTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_GetParsedTransactions_Batch(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		var reqs []rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Errorf("decode batch: %v", err)
			return
		}
		if len(reqs) != 3 {
			t.Errorf("expected 3 batched requests, got %d", len(reqs))
		}

		// Reply out of order; the second signature errors, the third is unknown.
		resp := []map[string]interface{}{
			{"jsonrpc": "2.0", "id": reqs[2].ID, "result": nil},
			{"jsonrpc": "2.0", "id": reqs[1].ID, "error": map[string]interface{}{"code": -32004, "message": "Block not available"}},
			{"jsonrpc": "2.0", "id": reqs[0].ID, "result": parsedTransferTx()},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	results, err := client.GetParsedTransactions(context.Background(), []string{"sigA", "sigB", "sigC"})
	if err != nil {
		t.Fatalf("GetParsedTransactions: %v", err)
	}

	if requests.Load() != 1 {
		t.Errorf("expected one HTTP request, got %d", requests.Load())
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Signature != "sigA" || results[0].Transaction == nil || results[0].Err != nil {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[0].Transaction.Signature != "sigA" {
		t.Errorf("expected signature sigA, got %s", results[0].Transaction.Signature)
	}

	var rpcErr *RPCError
	if !errors.As(results[1].Err, &rpcErr) || rpcErr.Code != -32004 {
		t.Errorf("expected RPCError -32004, got %v", results[1].Err)
	}

	if results[2].Transaction != nil || results[2].Err != nil {
		t.Errorf("expected not-found result, got %+v", results[2])
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getSignaturesForAddress" {
			t.Errorf("expected method getSignaturesForAddress, got %s", req.Method)
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["before"] != "cursor" || cfg["limit"] != float64(10) {
			t.Errorf("unexpected pagination config: %v", cfg)
		}

		blockTime := int64(1700000000)
		return []map[string]interface{}{
			{"signature": "sig1", "slot": int64(100), "blockTime": blockTime, "err": nil},
			{"signature": "sig2", "slot": int64(101), "blockTime": blockTime, "err": nil},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	sigs, err := client.GetSignaturesForAddress(context.Background(), "testaddr", &SignaturesOpts{Limit: 10, Before: "cursor"})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}

	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Signature != "sig1" {
		t.Errorf("expected sig1, got %s", sigs[0].Signature)
	}
	if sigs[1].Slot != 101 {
		t.Errorf("expected slot 101, got %d", sigs[1].Slot)
	}
}

func TestHTTPClient_GetTokenAccountsByOwner(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getTokenAccountsByOwner" {
			t.Errorf("expected method getTokenAccountsByOwner, got %s", req.Method)
		}
		filter, _ := req.Params[1].(map[string]interface{})
		if filter["mint"] != "mint1" {
			t.Errorf("expected mint filter, got %v", filter)
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value": []map[string]interface{}{
				{
					"pubkey": "tokenAccount1",
					"account": map[string]interface{}{
						"data": map[string]interface{}{
							"program": "spl-token",
							"parsed": map[string]interface{}{
								"type": "account",
								"info": map[string]interface{}{
									"mint":        "mint1",
									"owner":       "owner1",
									"tokenAmount": map[string]interface{}{"amount": "42", "decimals": 6},
								},
							},
						},
					},
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "owner1", "mint1")
	if err != nil {
		t.Fatalf("GetTokenAccountsByOwner: %v", err)
	}

	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].Pubkey != "tokenAccount1" || accounts[0].Owner != "owner1" || accounts[0].Amount != "42" {
		t.Errorf("unexpected account: %+v", accounts[0])
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
			"result":  []interface{}{},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	sigs, err := client.GetSignaturesForAddress(context.Background(), "addr", nil)
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 0 {
		t.Errorf("expected no signatures, got %d", len(sigs))
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

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.GetParsedTransaction(context.Background(), "sig")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T", err)
	}
	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("RPC errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getAccountInfo" {
			t.Errorf("expected method getAccountInfo, got %s", req.Method)
		}
		return map[string]interface{}{
			"value": map[string]interface{}{
				"lamports":   uint64(1000000),
				"owner":      "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
				"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
				"executable": false,
				"rentEpoch":  uint64(100),
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	info, err := client.GetAccountInfo(context.Background(), "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil {
		t.Fatal("expected account info, got nil")
	}
	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}
	if info.Data != "SGVsbG8gV29ybGQ=" {
		t.Errorf("unexpected data: %s", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest) interface{} {
		return map[string]interface{}{"value": nil}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	info, err := client.GetAccountInfo(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetSignaturesForAddress(ctx, "addr", nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
