package nodeclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// rpcHandler answers JSON-RPC requests with canned results per method.
func rpcHandler(t *testing.T, results map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int    `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		result, ok := results[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":%d}`, req.ID)
			return
		}
		raw, err := json.Marshal(result)
		if err != nil {
			t.Errorf("marshal result: %v", err)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"id":%d}`, raw, req.ID)
	}
}

func TestClient_AccountNonce(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"get_account_nonce": map[string]any{"nonce": 41},
	}))
	defer srv.Close()

	client := New(srv.URL)
	nonce, err := client.AccountNonce(types.Address{Version: types.AddressVersionTestnetSinglesig})
	if err != nil {
		t.Fatalf("AccountNonce: %v", err)
	}
	if nonce != 41 {
		t.Errorf("nonce = %d, want 41", nonce)
	}
}

func TestClient_LastDkgRound(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"get_last_dkg_round": map[string]any{"round": 6},
	}))
	defer srv.Close()

	round, ok, err := New(srv.URL).LastDkgRound(10)
	if err != nil {
		t.Fatalf("LastDkgRound: %v", err)
	}
	if !ok || round != 6 {
		t.Errorf("round = %d, ok = %v, want 6, true", round, ok)
	}
}

func TestClient_LastDkgRound_NoneYet(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"get_last_dkg_round": map[string]any{"round": nil},
	}))
	defer srv.Close()

	_, ok, err := New(srv.URL).LastDkgRound(10)
	if err != nil {
		t.Fatalf("LastDkgRound: %v", err)
	}
	if ok {
		t.Error("no recorded round should report ok = false")
	}
}

func TestClient_ApprovedAggregateKey(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"get_approved_aggregate_key": map[string]any{"key": "aabbcc"},
	}))
	defer srv.Close()

	key, err := New(srv.URL).ApprovedAggregateKey(10)
	if err != nil {
		t.Fatalf("ApprovedAggregateKey: %v", err)
	}
	if len(key) != 3 || key[0] != 0xaa {
		t.Errorf("key = %x, want aabbcc", key)
	}
}

func TestClient_ApprovedAggregateKey_None(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"get_approved_aggregate_key": map[string]any{"key": ""},
	}))
	defer srv.Close()

	key, err := New(srv.URL).ApprovedAggregateKey(10)
	if err != nil {
		t.Fatalf("ApprovedAggregateKey: %v", err)
	}
	if key != nil {
		t.Errorf("key = %x, want nil", key)
	}
}

func TestClient_RPCErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, nil))
	defer srv.Close()

	err := New(srv.URL).Call("no_such_method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("code = %d, want -32601", rpcErr.Code)
	}
}

func TestRetryWithBackoff_PermanentStopsEarly(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(func() error {
		calls++
		return &RPCError{Code: 1, Message: "bad request"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried %d times, want 1", calls)
	}
}

func TestRetryWithBackoff_TransientRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff: %v", err)
	}
	if calls != 3 {
		t.Errorf("succeeded after %d calls, want 3", calls)
	}
}

func TestRetryValue(t *testing.T) {
	calls := 0
	got, err := RetryValue(func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("RetryValue: %v", err)
	}
	if got != 7 {
		t.Errorf("value = %d, want 7", got)
	}
}
