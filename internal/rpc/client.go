// Package rpc provides Solana JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Client is the interface for JSON-RPC communication.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// SendTransaction submits a signed, serialized transaction and returns
	// the signature echoed by the node.
	SendTransaction(ctx context.Context, wire []byte, opts SendOptions) (string, error)

	// GetRecentPrioritizationFees returns recent per-slot priority fee samples.
	GetRecentPrioritizationFees(ctx context.Context, percentile uint16) ([]PrioritizationFee, error)

	// GetSlot returns the node's current slot at the given commitment.
	GetSlot(ctx context.Context, commitment string) (uint64, error)

	// GetHealth returns nil if the node reports itself healthy.
	GetHealth(ctx context.Context) error
}

// SendOptions is the config object passed to sendTransaction.
type SendOptions struct {
	Encoding      string `json:"encoding"`
	SkipPreflight bool   `json:"skipPreflight"`
	MaxRetries    *uint  `json:"maxRetries,omitempty"`
}

// ProbeSendOptions returns the options used for probes: base64 payload, no
// preflight simulation and no node-side rebroadcast.
func ProbeSendOptions() SendOptions {
	zero := uint(0)
	return SendOptions{Encoding: "base64", SkipPreflight: true, MaxRetries: &zero}
}

// PrioritizationFee is one sample of getRecentPrioritizationFees.
type PrioritizationFee struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

// MaxPrioritizationFee returns the highest fee in samples and false if
// samples is empty.
func MaxPrioritizationFee(samples []PrioritizationFee) (uint64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var fee uint64
	for _, s := range samples {
		fee = max(fee, s.PrioritizationFee)
	}
	return fee, true
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// NewRequest builds a JSON-RPC 2.0 request with id 1.
func NewRequest(method string, params ...interface{}) JSONRPCRequest {
	return JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Headers        map[string]string
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// SendClientConfig is DefaultClientConfig without retries. Every
// sendTransaction attempt is a dispatch the caller must account for.
func SendClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig(url)
	cfg.MaxRetries = 0
	return cfg
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	headers    map[string]string
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		headers:    cfg.Headers,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(NewRequest(method, params...))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Retryable HTTP error (429, 502, 503, 504)
		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Don't retry on RPC errors (application-level errors)
		if isRPCError(err) {
			return nil, err
		}

		// Other HTTP statuses won't improve on retry
		var httpErr *HTTPStatusError
		if asHTTPStatusError(err, &httpErr) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code BEFORE reading/parsing body
	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPStatusError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// SendTransaction submits wire as a base64 payload.
func (c *HTTPClient) SendTransaction(ctx context.Context, wire []byte, opts SendOptions) (string, error) {
	if opts.Encoding == "" {
		opts.Encoding = "base64"
	}
	payload := base64.StdEncoding.EncodeToString(wire)

	result, err := c.Call(ctx, "sendTransaction", []interface{}{payload, opts})
	if err != nil {
		return "", err
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("failed to unmarshal signature: %w", err)
	}
	return sig, nil
}

// GetRecentPrioritizationFees calls getRecentPrioritizationFees with no
// account filter and the given percentile (basis points). Providers that do
// not support the percentile extension ignore it.
func (c *HTTPClient) GetRecentPrioritizationFees(ctx context.Context, percentile uint16) ([]PrioritizationFee, error) {
	params := []interface{}{
		[]string{},
		map[string]uint16{"percentile": percentile},
	}
	result, err := c.Call(ctx, "getRecentPrioritizationFees", params)
	if err != nil {
		return nil, err
	}

	var fees []PrioritizationFee
	if err := json.Unmarshal(result, &fees); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prioritization fees: %w", err)
	}
	return fees, nil
}

// GetSlot returns the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	var params []interface{}
	if commitment != "" {
		params = append(params, map[string]string{"commitment": commitment})
	}
	result, err := c.Call(ctx, "getSlot", params)
	if err != nil {
		return 0, err
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("failed to unmarshal slot: %w", err)
	}
	return slot, nil
}

// GetHealth calls getHealth. A healthy node answers "ok".
func (c *HTTPClient) GetHealth(ctx context.Context) error {
	result, err := c.Call(ctx, "getHealth", nil)
	if err != nil {
		return err
	}

	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("failed to unmarshal health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}

// NewHTTPStatusError builds an HTTPStatusError from a non-success response,
// reading at most 1KiB of body and honouring Retry-After given in seconds.
func NewHTTPStatusError(resp *http.Response) *HTTPStatusError {
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var retryAfter time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		// Try parsing as seconds (e.g., "2" or "0.5")
		if secs, err := strconv.ParseFloat(ra, 64); err == nil {
			retryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return &HTTPStatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter,
		Body:       string(errBody),
	}
}
