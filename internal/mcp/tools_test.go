package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/pingthing/pkg/types"
)

func callTool(t *testing.T, h server.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	var req gomcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(gomcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text, res.IsError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func TestStatusTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		writeJSON(w, http.StatusOK, types.PingerStatus{
			Name:       "fra-1",
			Region:     "fra",
			Commitment: types.CommitmentConfirmed,
			Cells: []types.CellStatus{
				{Name: "blockhash", Set: true, Value: "Hash1", AgeMs: 120},
				{Name: "fee", Set: false},
			},
			WindowUsed:    3,
			WindowCap:     10,
			Tracked:       1,
			DroppedEvents: 2,
			Counters:      types.CycleCounters{Cycles: 4, Confirmed: 3, TimedOut: 1, Sends: 9},
			Latency:       &types.LatencySummary{Count: 3, MinMs: 900, P50Ms: 1100, MaxMs: 1400},
			LastOutcome: &types.CycleOutcome{
				Status: types.CycleConfirmed, Signature: "sigA", TimeMs: 1400, SlotSent: 1000, SlotLanded: 1003, Sends: 1,
			},
		})
	}))
	defer srv.Close()

	text, isErr := callTool(t, statusHandler(NewClient(srv.URL)), nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "## Pinger Status")
	assert.Contains(t, text, kv("Rate Window", "3 / 10"))
	assert.Contains(t, text, kv("Tracked Signatures", 1))
	assert.Contains(t, text, kv("Dropped Events", "2"))
	assert.Contains(t, text, kv("blockhash", "Hash1 (age 120.0ms)"))
	assert.Contains(t, text, kv("fee", "not set"))
	assert.Contains(t, text, kv("Success Rate", "75.0%"))
	assert.Contains(t, text, kv("P50", "1100.0ms"))
	assert.Contains(t, text, kv("Slots", "1000 -> 1003"))
}

func TestStatusToolUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	text, isErr := callTool(t, statusHandler(NewClient(url)), nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "Pinger unreachable")
}

func TestHealthToolNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"checks": []map[string]any{
				{"name": "freshness", "status": "failed", "error": "slot is stale"},
				{"name": "rpc", "status": "ok", "latency_ms": 12, "slot": 250000123},
			},
		})
	}))
	defer srv.Close()

	text, isErr := callTool(t, healthHandler(NewClient(srv.URL)), nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "NOT READY")
	assert.Contains(t, text, "slot is stale")
	assert.Contains(t, text, "(12ms)")
	assert.Contains(t, text, "slot 250,000,123")
}

func TestHistoryToolQuery(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"limit": q.Get("limit"), "offset": q.Get("offset"), "status": q.Get("status")}
		writeJSON(w, http.StatusOK, map[string]any{
			"cycles": []map[string]any{
				{"id": 2, "status": "timeout", "signature": "sigB", "sends": 10, "startedAt": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
			},
			"total": 1, "limit": 5, "offset": 0,
		})
	}))
	defer srv.Close()

	text, isErr := callTool(t, historyHandler(NewClient(srv.URL)), map[string]any{
		"limit":  float64(5),
		"status": "timeout",
	})
	assert.False(t, isErr)
	assert.Equal(t, map[string]string{"limit": "5", "offset": "0", "status": "timeout"}, gotQuery)
	assert.Contains(t, text, "### sigB")
	assert.Contains(t, text, kv("Sends", 10))
	assert.Contains(t, text, kv("Started", "2024-01-02 03:04:05"))
}

func TestHistoryToolClampsLimit(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		writeJSON(w, http.StatusOK, map[string]any{"cycles": []any{}, "total": 0})
	}))
	defer srv.Close()

	text, _ := callTool(t, historyHandler(NewClient(srv.URL)), map[string]any{"limit": float64(5000)})
	assert.Equal(t, "10", gotLimit)
	assert.Contains(t, text, "No cycles found.")
}

func TestProbeTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/history/sigA" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Cycle not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 1, "status": "confirmed", "signature": "sigA", "timeMs": 1400,
			"slotSent": 1000, "slotLanded": 1003, "priorityFee": 12345, "sends": 1,
		})
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	text, isErr := callTool(t, probeHandler(client), map[string]any{"signature": "sigA"})
	assert.False(t, isErr)
	assert.Contains(t, text, "## Probe sigA")
	assert.Contains(t, text, kv("Latency", "1400.0ms"))
	assert.Contains(t, text, kv("Priority Fee", "12,345 µlamports/CU"))

	text, isErr = callTool(t, probeHandler(client), map[string]any{"signature": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, text, "No cycle recorded for signature missing")

	_, isErr = callTool(t, probeHandler(client), map[string]any{})
	assert.True(t, isErr)
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{int64(1234567), "1,234,567"},
		{uint64(12345), "12,345"},
		{float64(2.5), "2.5"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
