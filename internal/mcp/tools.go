package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolStatus  = "pinger_status"
	ToolHealth  = "pinger_health"
	ToolHistory = "pinger_history"
	ToolProbe   = "pinger_probe"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// RegisterTools registers all pinger tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(gomcp.NewTool(ToolStatus,
		gomcp.WithDescription("Get live pinger status: freshness of blockhash/slot/fee state, pending probes, rate window, cycle counters, last outcome and confirmation latency."),
	), statusHandler(client))

	s.AddTool(gomcp.NewTool(ToolHealth,
		gomcp.WithDescription("Readiness check for the pinger. Reports whether the freshness gate would release a probe and whether the RPC node is healthy."),
	), healthHandler(client))

	s.AddTool(gomcp.NewTool(ToolHistory,
		gomcp.WithDescription("List journaled probe cycles, newest first (paginated). Requires the pinger to run with a database."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max cycles to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Offset for pagination (default: 0)"),
		),
		gomcp.WithString("status",
			gomcp.Description("Only cycles with this status: confirmed, failed, timeout, anomaly, skipped"),
		),
	), historyHandler(client))

	s.AddTool(gomcp.NewTool(ToolProbe,
		gomcp.WithDescription("Look up a single probe cycle by transaction signature."),
		gomcp.WithString("signature",
			gomcp.Required(),
			gomcp.Description("Base58 transaction signature"),
		),
	), probeHandler(client))
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Pinger unreachable: %v\n\nIs the pinger running? Check PINGER_URL.", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	}
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable:
			// Not ready still carries the per-check breakdown.
		case err != nil:
			return gomcp.NewToolResultError(fmt.Sprintf("Pinger unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	}
}

func historyHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultHistoryLimit)
		if limit <= 0 || limit > maxHistoryLimit {
			limit = defaultHistoryLimit
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		if st := req.GetString("status", ""); st != "" {
			q.Set("status", st)
		}

		raw, err := client.Get(ctx, "/v1/history?"+q.Encode())
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	}
}

func probeHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sig, err := req.RequireString("signature")
		if err != nil || sig == "" {
			return gomcp.NewToolResultError("signature is required"), nil
		}

		raw, err := client.Get(ctx, "/v1/history/"+url.PathEscape(sig))
		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
			return gomcp.NewToolResultError("No cycle recorded for signature " + sig), nil
		case err != nil:
			return gomcp.NewToolResultError(fmt.Sprintf("Probe lookup failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatCycle(raw)), nil
	}
}

// unmarshal is used by the formatters; parse failures are reported inline.
func unmarshal(raw json.RawMessage, v any, what string) string {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Sprintf("Error parsing %s: %v", what, err)
	}
	return ""
}
