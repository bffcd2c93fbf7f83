package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// historyPage mirrors the /v1/history response.
type historyPage struct {
	Cycles []cycleRecord `json:"cycles"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type cycleRecord struct {
	ID int64 `json:"id"`
	types.CycleOutcome
}

type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Slot      uint64 `json:"slot"`
		Error     string `json:"error"`
	} `json:"checks"`
}

func formatStatus(raw json.RawMessage) string {
	var st types.PingerStatus
	if msg := unmarshal(raw, &st, "status"); msg != "" {
		return msg
	}

	c := st.Counters
	var successRate float64
	if c.Cycles > 0 {
		successRate = float64(c.Confirmed) / float64(c.Cycles) * 100
	}

	lines := joinLines(
		section("Pinger Status"),
		kv("Name", st.Name),
		kv("Region", st.Region),
		kv("Commitment", st.Commitment),
		kv("Uptime", (time.Duration(st.UptimeSeconds)*time.Second).String()),
		kv("Pending Probes", st.Pending),
		kv("Tracked Signatures", st.Tracked),
		kv("Filters", st.Filters),
		kv("Dropped Events", formatNumber(st.DroppedEvents)),
		kv("Rate Window", fmt.Sprintf("%d / %d", st.WindowUsed, st.WindowCap)),
	)

	lines += "\n\n" + section("Freshness")
	for _, cell := range st.Cells {
		value := "not set"
		if cell.Set {
			value = fmt.Sprintf("%s (age %s)", cell.Value, formatMs(float64(cell.AgeMs)))
		}
		lines += "\n" + kv(cell.Name, value)
	}

	lines += "\n\n" + joinLines(
		section("Cycles"),
		kv("Total", formatNumber(c.Cycles)),
		kv("Confirmed", formatNumber(c.Confirmed)),
		kv("Failed", formatNumber(c.Failed)),
		kv("Timed Out", formatNumber(c.TimedOut)),
		kv("Anomalies", formatNumber(c.Anomalies)),
		kv("Skipped", formatNumber(c.Skipped)),
		kv("Sends", formatNumber(c.Sends)),
		kv("Success Rate", formatPct(successRate)),
	)

	if lat := st.Latency; lat != nil && lat.Count > 0 {
		lines += "\n\n" + joinLines(
			section("Confirmation Latency"),
			kv("Samples", formatNumber(lat.Count)),
			kv("Min", formatMs(lat.MinMs)),
			kv("P50", formatMs(lat.P50Ms)),
			kv("P90", formatMs(lat.P90Ms)),
			kv("P99", formatMs(lat.P99Ms)),
			kv("Max", formatMs(lat.MaxMs)),
			kv("Avg Slots", fmt.Sprintf("%.2f", lat.AvgSlots)),
		)
	}

	if last := st.LastOutcome; last != nil {
		lines += "\n\n" + section("Last Cycle") + "\n" + cycleLines(*last)
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var r readiness
	if msg := unmarshal(raw, &r, "health"); msg != "" {
		return msg
	}

	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}

	lines := section("Pinger Health: " + state)
	for _, check := range r.Checks {
		line := fmt.Sprintf("  %-15s %s", check.Name, check.Status)
		if check.LatencyMs > 0 {
			line += fmt.Sprintf(" (%dms)", check.LatencyMs)
		}
		if check.Slot > 0 {
			line += " slot " + formatNumber(check.Slot)
		}
		if check.Error != "" {
			line += " - " + check.Error
		}
		lines += "\n" + line
	}
	return lines
}

func formatHistory(raw json.RawMessage) string {
	var page historyPage
	if msg := unmarshal(raw, &page, "history"); msg != "" {
		return msg
	}

	lines := joinLines(
		section("Probe History"),
		kv("Total Cycles", formatNumber(page.Total)),
		"",
	)
	if len(page.Cycles) == 0 {
		return lines + "\nNo cycles found."
	}

	for _, rec := range page.Cycles {
		title := rec.Signature
		if title == "" {
			title = fmt.Sprintf("cycle %d", rec.ID)
		}
		lines += fmt.Sprintf("\n### %s\n", title)
		lines += cycleLines(rec.CycleOutcome) + "\n"
	}
	return lines
}

func formatCycle(raw json.RawMessage) string {
	var rec cycleRecord
	if msg := unmarshal(raw, &rec, "cycle"); msg != "" {
		return msg
	}
	return section("Probe "+rec.Signature) + "\n" + cycleLines(rec.CycleOutcome)
}

func cycleLines(o types.CycleOutcome) string {
	var latency, slots, fee string
	if o.TimeMs > 0 {
		latency = kv("Latency", formatMs(float64(o.TimeMs)))
	}
	if o.SlotLanded > 0 {
		slots = kv("Slots", fmt.Sprintf("%d -> %d", o.SlotSent, o.SlotLanded))
	} else if o.SlotSent > 0 {
		slots = kv("Slot Sent", o.SlotSent)
	}
	if o.PriorityFee > 0 {
		fee = kv("Priority Fee", formatNumber(o.PriorityFee)+" µlamports/CU")
	}

	started := ""
	if !o.StartedAt.IsZero() {
		started = kv("Started", o.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	reason := ""
	if o.Reason != "" {
		reason = kv("Reason", o.Reason)
	}

	return joinLines(
		kv("Status", o.Status),
		latency,
		slots,
		kv("Sends", o.Sends),
		fee,
		started,
		reason,
	)
}

// formatNumber adds comma separators to integers.
func formatNumber(n any) string {
	var s string
	switch v := n.(type) {
	case float64:
		if v == float64(int64(v)) {
			s = fmt.Sprintf("%d", int64(v))
		} else {
			return fmt.Sprintf("%.1f", v)
		}
	case int64:
		s = fmt.Sprintf("%d", v)
	case uint64:
		s = fmt.Sprintf("%d", v)
	case int:
		s = fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", n)
	}

	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// formatPct formats a float as a percentage string.
func formatPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}
