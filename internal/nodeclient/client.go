// Package nodeclient provides the JSON-RPC 2.0 client the signer uses
// to talk to its local chain node: block validation submission, vote
// round queries, account nonces, and mempool submission.
package nodeclient

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Client is a JSON-RPC 2.0 HTTP client for the local node.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the node responds with an error. It is a
// permanent failure: retrying the same request cannot succeed.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the
// provided pointer. Transport failures are transient; an *RPCError from
// the node is permanent.
func (c *Client) Call(method string, params, result any) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// CurrentRewardCycle returns the reward cycle the chain is in.
func (c *Client) CurrentRewardCycle() (uint64, error) {
	var result struct {
		RewardCycle uint64 `json:"reward_cycle"`
	}
	if err := c.Call("get_reward_cycle", nil, &result); err != nil {
		return 0, err
	}
	return result.RewardCycle, nil
}

// SubmitBlockForValidation asks the node to validate a proposed block.
// The verdict arrives asynchronously through the event observer.
func (c *Client) SubmitBlockForValidation(blk *block.Block) error {
	return c.Call("submit_block_proposal", map[string]any{"block": blk}, nil)
}

// LastDkgRound returns the last aggregate-key vote round recorded on
// the node for the reward cycle, and whether any round exists.
func (c *Client) LastDkgRound(rewardCycle uint64) (uint64, bool, error) {
	var result struct {
		Round *uint64 `json:"round"`
	}
	if err := c.Call("get_last_dkg_round", map[string]any{"reward_cycle": rewardCycle}, &result); err != nil {
		return 0, false, err
	}
	if result.Round == nil {
		return 0, false, nil
	}
	return *result.Round, true, nil
}

// AccountNonce returns the next nonce for an account address.
func (c *Client) AccountNonce(addr types.Address) (uint64, error) {
	var result struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.Call("get_account_nonce", map[string]any{"address": addr.String()}, &result); err != nil {
		return 0, err
	}
	return result.Nonce, nil
}

// NodeEpoch returns the node's current protocol epoch.
func (c *Client) NodeEpoch() (types.EpochID, error) {
	var result struct {
		Epoch uint32 `json:"epoch"`
	}
	if err := c.Call("get_node_epoch", nil, &result); err != nil {
		return 0, err
	}
	return types.EpochID(result.Epoch), nil
}

// ApprovedAggregateKey returns the serialized aggregate public key
// ratified for the reward cycle, or nil if none is approved yet.
func (c *Client) ApprovedAggregateKey(rewardCycle uint64) ([]byte, error) {
	var result struct {
		Key string `json:"key"`
	}
	if err := c.Call("get_approved_aggregate_key", map[string]any{"reward_cycle": rewardCycle}, &result); err != nil {
		return nil, err
	}
	if result.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(result.Key)
	if err != nil {
		return nil, fmt.Errorf("decode aggregate key: %w", err)
	}
	return key, nil
}

// VoteForAggregateKey returns the aggregate key the address voted for
// in the given round and cycle, or nil if it has not voted.
func (c *Client) VoteForAggregateKey(round, rewardCycle uint64, addr types.Address) ([]byte, error) {
	var result struct {
		Key string `json:"key"`
	}
	params := map[string]any{
		"round":        round,
		"reward_cycle": rewardCycle,
		"address":      addr.String(),
	}
	if err := c.Call("get_aggregate_key_vote", params, &result); err != nil {
		return nil, err
	}
	if result.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(result.Key)
	if err != nil {
		return nil, fmt.Errorf("decode vote key: %w", err)
	}
	return key, nil
}

// SubmitTransaction submits a signed transaction to the node's mempool.
func (c *Client) SubmitTransaction(txn *tx.Transaction) error {
	raw := hex.EncodeToString(txn.Serialize())
	return c.Call("submit_transaction", map[string]any{"tx": raw}, nil)
}
