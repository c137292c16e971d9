package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/barreleye/barreleye/internal/chain"
)

// RPCClient is a minimal Ethereum JSON-RPC client, grounded on
// common/src/chain/evm/mod.rs's use of ethers::Provider<RetryClient<Http>>.
// The pack carries no ethers-go equivalent, so this talks plain eth_*
// JSON-RPC over net/http the same way internal/chain/utxo's client does;
// the retry policy is shared via internal/chain.WithRetry.
type RPCClient struct {
	url  string
	id   atomic.Uint64
	http *http.Client

	// Network labels metrics recorded by chain.WithRetry; set by the
	// owning Adapter right after construction.
	Network string
}

func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{url: endpoint, http: &http.Client{}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      string `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID string `json:"id"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := fmt.Sprintf("%d", c.id.Add(1))
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &chain.ConnError{Err: err}
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, &chain.RPCError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	return parsed.Result, nil
}

func (c *RPCClient) Request(ctx context.Context, method string, params []any, out any) error {
	result, err := chain.WithRetry(ctx, c.Network, func(int) (any, error) {
		return c.call(ctx, method, params)
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(result.(json.RawMessage), out)
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.Request(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	return parseHexUint(hex)
}

func (c *RPCClient) GetBlockByNumber(ctx context.Context, height uint64) (*RawBlock, error) {
	var block RawBlock
	err := c.Request(ctx, "eth_getBlockByNumber", []any{toHex(height), true}, &block)
	return &block, err
}

func (c *RPCClient) GetTransactionReceipt(ctx context.Context, txHash string) (*RawReceipt, error) {
	var receipt RawReceipt
	err := c.Request(ctx, "eth_getTransactionReceipt", []any{txHash}, &receipt)
	return &receipt, err
}

func toHex(v uint64) string { return fmt.Sprintf("0x%x", v) }

func parseHexUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "0x%x", &v)
	return v, err
}
