package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gateway-fm/pingthing/internal/rpc"
	"github.com/gateway-fm/pingthing/pkg/types"
)

// DefaultValidatorsAppEndpoint is the mainnet ping-thing collector.
const DefaultValidatorsAppEndpoint = "https://www.validators.app/api/v1/ping-thing/mainnet"

const defaultValidatorsAppTimeout = 10 * time.Second

// ValidatorsAppConfig configures the validators.app sink.
type ValidatorsAppConfig struct {
	Endpoint   string // default DefaultValidatorsAppEndpoint
	APIKey     string
	Commitment types.Commitment
	Region     string
	// FeePercentile is the getRecentPrioritizationFees percentile in basis
	// points; the collector expects it divided by 100.
	FeePercentile uint16
	Timeout       time.Duration
	Logger        *slog.Logger
}

// ValidatorsAppPayload is the body posted for each confirmed probe.
type ValidatorsAppPayload struct {
	Time                     int64  `json:"time"`
	Signature                string `json:"signature"`
	TransactionType          string `json:"transaction_type"`
	Success                  bool   `json:"success"`
	Application              string `json:"application"`
	CommitmentLevel          string `json:"commitment_level"`
	SlotSent                 string `json:"slot_sent"`
	SlotLanded               string `json:"slot_landed"`
	PriorityFeeMicroLamports string `json:"priority_fee_micro_lamports"`
	PriorityFeePercentile    uint16 `json:"priority_fee_percentile"`
	PingerRegion             string `json:"pinger_region"`
}

// ValidatorsApp posts results to the validators.app ping-thing API.
type ValidatorsApp struct {
	endpoint   string
	apiKey     string
	commitment types.Commitment
	region     string
	percentile uint16
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Sink = (*ValidatorsApp)(nil)

// NewValidatorsApp creates the sink.
func NewValidatorsApp(cfg ValidatorsAppConfig) *ValidatorsApp {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultValidatorsAppEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultValidatorsAppTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ValidatorsApp{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		commitment: cfg.Commitment,
		region:     cfg.Region,
		percentile: cfg.FeePercentile,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

// Name implements Sink.
func (v *ValidatorsApp) Name() string { return "validators.app" }

// Payload builds the collector body for r.
func (v *ValidatorsApp) Payload(r types.ProbeResult) ValidatorsAppPayload {
	return ValidatorsAppPayload{
		Time:                     r.TimeMs,
		Signature:                r.Signature,
		TransactionType:          "transfer",
		Success:                  true,
		Application:              "web3",
		CommitmentLevel:          string(v.commitment),
		SlotSent:                 strconv.FormatUint(r.SlotSent, 10),
		SlotLanded:               strconv.FormatUint(r.SlotLanded, 10),
		PriorityFeeMicroLamports: strconv.FormatUint(r.PriorityFee, 10),
		PriorityFeePercentile:    v.percentile / 100,
		PingerRegion:             v.region,
	}
}

// Report posts one result. Non-2xx responses return *rpc.HTTPStatusError.
func (v *ValidatorsApp) Report(ctx context.Context, r types.ProbeResult) error {
	body, err := json.Marshal(v.Payload(r))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to validators.app: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rpc.NewHTTPStatusError(resp)
	}
	io.Copy(io.Discard, resp.Body)

	v.logger.Debug("reported to validators.app",
		slog.String("signature", r.Signature),
		slog.Int("status", resp.StatusCode),
	)
	return nil
}
