package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"stark-claimer/internal/retry"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	maxRetryDelay    = 10 * time.Second
	maxResponseBytes = 8 << 20
)

// HTTPClient is a Provider speaking JSON-RPC 2.0 over HTTP to one endpoint.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	retries   int
	delay     time.Duration
	requestID atomic.Uint64
	observe   func(method string, d time.Duration, err error)
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithMaxRetries sets how many times a failed round trip is repeated.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.retries = n }
}

// WithRetryDelay sets the first backoff delay; later ones double.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.delay = d }
}

// WithObserver registers a callback invoked after every RPC round trip.
func WithObserver(fn func(method string, d time.Duration, err error)) ClientOption {
	return func(c *HTTPClient) { c.observe = fn }
}

// NewHTTPClient creates a client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		retries:  DefaultMaxRetries,
		delay:    DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Provider = (*HTTPClient)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// StatusError is a non-200 HTTP answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// post sends body and returns the raw response. Transport failures, 429 and
// 5xx answers are retried with exponential backoff; other statuses are not.
func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	policy := retry.Policy{
		Attempts:    c.retries + 1,
		Delay:       c.delay,
		Multiplier:  2,
		MaxDelay:    maxRetryDelay,
		ShouldRetry: retryable,
	}
	var out []byte
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		data, err := c.roundTrip(ctx, body)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

func (c *HTTPClient) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(data, 256)}
	}
	return data, nil
}

// retryable rejects client errors other than rate limiting. They still fail
// over to the next endpoint.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// call performs a single JSON-RPC call. RPC-level errors are not retried.
func (c *HTTPClient) call(ctx context.Context, method string, params any, result any) (err error) {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(method, time.Since(start), err) }()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
			return fmt.Errorf("%w: %s returned no result", ErrUnexpectedResponse, method)
		}
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, method, err)
		}
	}
	return nil
}

// ChainID returns the network chain id felt.
func (c *HTTPClient) ChainID(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, "starknet_chainId", []any{}, &id); err != nil {
		return "", err
	}
	return id, nil
}

// Nonce returns the account nonce at block.
func (c *HTTPClient) Nonce(ctx context.Context, address string, block BlockID) (uint64, error) {
	var raw string
	params := map[string]any{"block_id": block, "contract_address": address}
	if err := c.call(ctx, "starknet_getNonce", params, &raw); err != nil {
		return 0, err
	}
	n, err := ParseFelt(raw)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: nonce %s overflows", ErrUnexpectedResponse, raw)
	}
	return n.Uint64(), nil
}

// Call evaluates a view function.
func (c *HTTPClient) Call(ctx context.Context, fc FunctionCall, block BlockID) ([]string, error) {
	if fc.Calldata == nil {
		fc.Calldata = []string{}
	}
	var out []string
	params := map[string]any{"request": fc, "block_id": block}
	if err := c.call(ctx, "starknet_call", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClassHashesAt sends one JSON-RPC batch of starknet_getClassHashAt requests.
func (c *HTTPClient) ClassHashesAt(ctx context.Context, addresses []string, block BlockID) (result []string, err error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe("starknet_getClassHashAt", time.Since(start), err) }()
	}

	reqs := make([]rpcRequest, len(addresses))
	index := make(map[uint64]int, len(addresses))
	for i, addr := range addresses {
		id := c.requestID.Add(1)
		index[id] = i
		reqs[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "starknet_getClassHashAt",
			Params:  map[string]any{"block_id": block, "contract_address": addr},
		}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var resps []rpcResponse
	if err := json.Unmarshal(respBody, &resps); err != nil {
		return nil, fmt.Errorf("%w: class hash batch: %v", ErrUnexpectedResponse, err)
	}
	if len(resps) != len(addresses) {
		return nil, fmt.Errorf("%w: class hash batch returned %d of %d results",
			ErrUnexpectedResponse, len(resps), len(addresses))
	}

	result = make([]string, len(addresses))
	for _, r := range resps {
		i, ok := index[r.ID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown batch id %d", ErrUnexpectedResponse, r.ID)
		}
		if r.Error != nil {
			if errors.Is(r.Error, ErrContractNotFound) {
				continue
			}
			return nil, r.Error
		}
		if len(r.Result) == 0 || string(r.Result) == "null" {
			continue
		}
		var hash string
		if err := json.Unmarshal(r.Result, &hash); err != nil {
			return nil, fmt.Errorf("%w: class hash: %v", ErrUnexpectedResponse, err)
		}
		result[i] = hash
	}
	return result, nil
}

type feeEstimate struct {
	OverallFee string `json:"overall_fee"`
}

// EstimateFee returns the overall fee of tx, simulated without signature
// validation.
func (c *HTTPClient) EstimateFee(ctx context.Context, tx InvokeTx) (*big.Int, error) {
	if tx.Signature == nil {
		tx.Signature = []string{}
	}
	params := map[string]any{
		"request":          []InvokeTx{tx},
		"simulation_flags": []string{"SKIP_VALIDATE"},
		"block_id":         BlockPending,
	}
	var out []feeEstimate
	if err := c.call(ctx, "starknet_estimateFee", params, &out); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: expected 1 fee estimate, got %d", ErrUnexpectedResponse, len(out))
	}
	return ParseFelt(out[0].OverallFee)
}

// AddInvokeTransaction submits a signed transaction and returns its hash.
func (c *HTTPClient) AddInvokeTransaction(ctx context.Context, tx InvokeTx) (string, error) {
	var out struct {
		TransactionHash string `json:"transaction_hash"`
	}
	params := map[string]any{"invoke_transaction": tx}
	if err := c.call(ctx, "starknet_addInvokeTransaction", params, &out); err != nil {
		return "", err
	}
	if out.TransactionHash == "" {
		return "", fmt.Errorf("%w: empty transaction hash", ErrUnexpectedResponse)
	}
	return out.TransactionHash, nil
}

// TransactionReceipt fetches the receipt for hash.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var r Receipt
	params := map[string]any{"transaction_hash": hash}
	if err := c.call(ctx, "starknet_getTransactionReceipt", params, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
