// Package sender dispatches signed probes through the node's RPC or a
// dedicated send endpoint.
package sender

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gateway-fm/pingthing/internal/rpc"
	"github.com/gateway-fm/pingthing/internal/txbuilder"
)

// DefaultSendTimeout bounds a single dispatch.
const DefaultSendTimeout = 5 * time.Second

// Send endpoint errors.
var (
	ErrMalformedResponse = errors.New("malformed send response")
	ErrMissingResult     = errors.New("send response has no result")
)

// SignatureMismatchError means the endpoint accepted a transaction but echoed
// a different signature than the one we signed.
type SignatureMismatchError struct {
	Expected string
	Got      string
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("signature mismatch: expected %s, got %s", e.Expected, e.Got)
}

// Transport dispatches a signed probe.
type Transport interface {
	Send(ctx context.Context, probe *txbuilder.Probe) error
	Name() string
}

// Config for creating a Transport.
type Config struct {
	Client   rpc.Client // used when Endpoint is empty
	Endpoint string     // custom sendTransaction endpoint
	Headers  map[string]string
	Timeout  time.Duration // per dispatch (default: 5s)
	Logger   *slog.Logger
}

// New returns an EndpointTransport when cfg.Endpoint is set and an
// RPCTransport otherwise.
func New(cfg Config) Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Endpoint != "" {
		return &EndpointTransport{
			url:        cfg.Endpoint,
			headers:    cfg.Headers,
			httpClient: &http.Client{Timeout: timeout},
			logger:     logger,
		}
	}
	return &RPCTransport{client: cfg.Client, timeout: timeout, logger: logger}
}

// RPCTransport sends through the node's sendTransaction.
type RPCTransport struct {
	client  rpc.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Name implements Transport.
func (t *RPCTransport) Name() string { return "rpc" }

// Send submits the probe with preflight and node retries disabled.
func (t *RPCTransport) Send(ctx context.Context, probe *txbuilder.Probe) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	sig, err := t.client.SendTransaction(ctx, probe.Wire, rpc.ProbeSendOptions())
	if err != nil {
		return fmt.Errorf("sendTransaction: %w", err)
	}
	if sig != probe.ID {
		t.logger.Debug("RPC echoed unexpected signature",
			slog.String("expected", probe.ID),
			slog.String("got", sig),
		)
	}
	return nil
}

// EndpointTransport posts sendTransaction to a dedicated endpoint and
// requires it to echo the probe's signature.
type EndpointTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// Name implements Transport.
func (t *EndpointTransport) Name() string { return "endpoint" }

// Send posts the probe. Success needs a 2xx status, no error object and a
// result equal to the probe id.
func (t *EndpointTransport) Send(ctx context.Context, probe *txbuilder.Probe) error {
	req := rpc.NewRequest("sendTransaction",
		base64.StdEncoding.EncodeToString(probe.Wire),
		rpc.ProbeSendOptions(),
	)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rpc.NewHTTPStatusError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	return verifyResponse(respBody, probe.ID)
}

func verifyResponse(body []byte, expected string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw, ok := fields["error"]; ok {
		var rpcErr rpc.JSONRPCError
		if err := json.Unmarshal(raw, &rpcErr); err != nil {
			return fmt.Errorf("%w: error field: %v", ErrMalformedResponse, err)
		}
		return &rpc.RPCError{Code: rpcErr.Code, Message: rpcErr.Message}
	}

	raw, ok := fields["result"]
	if !ok {
		return ErrMissingResult
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return fmt.Errorf("%w: result is not a string: %v", ErrMalformedResponse, err)
	}
	if sig != expected {
		return &SignatureMismatchError{Expected: expected, Got: sig}
	}
	return nil
}
