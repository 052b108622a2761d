// Package chain provides Vara.eth RPC access for the membership program:
// read-only program queries, injected transaction submission and
// program-scoped event subscriptions.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// ZeroAddress is the sender used for read-only queries.
var ZeroAddress = common.Address{}

// Client provides Vara.eth JSON-RPC client functionality.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	logger     zerolog.Logger
	nextID     atomic.Int64
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewClient creates a new Vara.eth client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: cfg.Logger,
	}, nil
}

// =============================================================================
// JSON-RPC types
// =============================================================================

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError reports a non-2xx response from the RPC endpoint.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.StatusCode)
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Do posts a JSON-RPC request and returns the raw response body. Only
// transport failures and non-2xx statuses are reported as errors.
func (c *Client) Do(ctx context.Context, method string, params any) ([]byte, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

// Call makes an RPC call and returns the result field.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	respBody, err := c.Do(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// =============================================================================
// Program queries
// =============================================================================

// MethodCalculateReply executes a program message without committing state.
const MethodCalculateReply = "program_calculateReplyForHandle"

// ReplyInfo is the result of a calculated reply.
type ReplyInfo struct {
	Payload string `json:"payload"`
	Value   uint64 `json:"value"`
	Code    any    `json:"code"`
}

// CalculateReplyParams are the params of MethodCalculateReply.
type CalculateReplyParams struct {
	Source    string `json:"source"`
	ProgramID string `json:"program_id"`
	Payload   string `json:"payload"`
	Value     uint64 `json:"value"`
}

// QueryParams builds read-only query params sent from ZeroAddress.
func QueryParams(program common.Address, payload []byte) CalculateReplyParams {
	return CalculateReplyParams{
		Source:    ZeroAddress.Hex(),
		ProgramID: program.Hex(),
		Payload:   hexutil.Encode(payload),
		Value:     0,
	}
}

// CalculateReply runs a read-only query against program and returns the
// decoded reply payload.
func (c *Client) CalculateReply(ctx context.Context, program common.Address, payload []byte) ([]byte, error) {
	result, err := c.Call(ctx, MethodCalculateReply, QueryParams(program, payload))
	if err != nil {
		return nil, err
	}

	var reply ReplyInfo
	if err := json.Unmarshal(result, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	if reply.Payload == "" {
		return nil, ErrNoPayload
	}
	raw, err := hexutil.Decode(reply.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode reply payload: %w", err)
	}
	return raw, nil
}
