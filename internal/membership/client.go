package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Membership API client
// =============================================================================

// HealthTimeout bounds the availability check.
const HealthTimeout = 2 * time.Second

// StatusError is a non-2xx answer from the membership API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the membership HTTP API. Every endpoint it calls is
// idempotent, so gateway errors are retried.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
}

// ClientConfig configures the client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a membership API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: maxRetries,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			if attempt < c.maxRetries {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				resp.Body.Close()
				continue
			}
		}
		return resp, nil
	}
}

func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20))
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Check returns the membership of address.
func (c *Client) Check(ctx context.Context, address string) (Info, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/members/"+url.PathEscape(address), nil)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := decodeResponse(resp, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Register adds address to the store. Registering an existing member is
// not an error; the result reports Success=false.
func (c *Client) Register(ctx context.Context, address, txHash string) (RegisterResult, error) {
	body := map[string]string{"address": address}
	if txHash != "" {
		body["txHash"] = txHash
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/members", body)
	if err != nil {
		return RegisterResult{}, err
	}
	var res RegisterResult
	if err := decodeResponse(resp, &res); err != nil {
		return RegisterResult{}, err
	}
	return res, nil
}

// UpdateTxHash attaches the finalization hash. It returns ErrNotFound when
// the address is not registered.
func (c *Client) UpdateTxHash(ctx context.Context, address, txHash string) error {
	resp, err := c.do(ctx, http.MethodPut, "/api/members/"+url.PathEscape(address)+"/txHash", map[string]string{"txHash": txHash})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return ErrNotFound
	}
	return decodeResponse(resp, nil)
}

// Count returns the number of registered members.
func (c *Client) Count(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/members/count", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		Count int `json:"count"`
	}
	if err := decodeResponse(resp, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// List returns one page of members.
func (c *Client) List(ctx context.Context, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	resp, err := c.do(ctx, http.MethodGet, "/api/members?"+q.Encode(), nil)
	if err != nil {
		return Page{}, err
	}
	var p Page
	if err := decodeResponse(resp, &p); err != nil {
		return Page{}, err
	}
	return p, nil
}

// ChainCount returns the on-chain member count as served by the backend.
func (c *Client) ChainCount(ctx context.Context) (uint32, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/chain/count", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		Count uint32 `json:"count"`
	}
	if err := decodeResponse(resp, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Available checks /health with a short timeout.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode == http.StatusOK
}
