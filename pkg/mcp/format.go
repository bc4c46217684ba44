package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/models"
)

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// formatGatewaySummary formats live analytics as text.
func formatGatewaySummary(s analytics.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gateway since %s\n", s.Since.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  Requests:     %d (%d hits, %d misses, %d failed)\n", s.TotalRequests, s.Hits, s.Misses, s.Failures)
	fmt.Fprintf(&b, "  Hit Rate:     %.1f%%\n", s.HitRate*100)
	fmt.Fprintf(&b, "  Cost:         $%.4f\n", s.TotalCost.USD())
	fmt.Fprintf(&b, "  Would-be:     $%.4f\n", s.TotalWouldBeCost.USD())
	fmt.Fprintf(&b, "  Savings:      $%.4f\n", s.TotalSavings.USD())
	fmt.Fprintf(&b, "  Prompt cache: $%.4f\n", s.PromptCacheSavings.USD())
	fmt.Fprintf(&b, "  Tokens:       %d in / %d out / %d cache write / %d cache read\n",
		s.Tokens.InputTokens, s.Tokens.OutputTokens, s.Tokens.CacheWriteTokens, s.Tokens.CacheReadTokens)

	writeBreakdown(&b, "Tier", s.ByTier)
	writeBreakdown(&b, "Model", s.ByModel)
	writeBreakdown(&b, "Provider", s.ByProvider)
	return b.String()
}

func writeBreakdown(b *strings.Builder, title string, m map[string]analytics.Aggregate) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "\n%-25s %8s %8s %12s %12s\n", title, "Requests", "Hit%", "Cost", "Savings")
	b.WriteString(strings.Repeat("-", 69) + "\n")
	for _, k := range keys {
		a := m[k]
		fmt.Fprintf(b, "%-25s %8d %7.1f%% $%11.4f $%11.4f\n", k, a.Requests, a.HitRate*100, a.Cost.USD(), a.Savings.USD())
	}
}

// formatSummary formats usage summaries as a text table.
func formatSummary(groupBy string, rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %6s %6s %12s %12s %12s %12s\n",
		strings.ToUpper(groupBy), "Requests", "Hits", "Failed", "Input", "Output", "Cost", "Savings")
	b.WriteString(strings.Repeat("-", 101) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-25s %8d %6d %6d %12d %12d $%11.4f $%11.4f\n",
			orNone(r.Key), r.RequestCount, r.Hits, r.Failures,
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Cost.USD(), r.Savings.USD())
	}
	return b.String()
}

// formatRecords formats request records as a text table.
func formatRecords(recs []models.RequestRecord) string {
	if len(recs) == 0 {
		return "No requests found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-7s %-10s %-25s %-8s %10s %10s %8s\n",
		"Time", "Outcome", "Provider", "Model", "Tier", "Cost", "Savings", "Latency")
	b.WriteString(strings.Repeat("-", 107) + "\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%-20s %-7s %-10s %-25s %-8s $%9.4f $%9.4f %6dms\n",
			r.Time.Format("2006-01-02 15:04:05"), r.Outcome, orNone(r.Provider), r.Model, r.Tier,
			r.Cost.USD(), r.Savings.USD(), r.LatencyMs)
	}
	return b.String()
}

// formatCostReport formats cost rows with a total line.
func formatCostReport(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %-15s %-25s %8s %6s %12s %10s %10s\n",
		"Project", "Agent", "Model", "Requests", "Hits", "Tokens", "Cost", "Savings")
	b.WriteString(strings.Repeat("-", 108) + "\n")
	var cost, savings models.Nanos
	for _, r := range reports {
		fmt.Fprintf(&b, "%-15s %-15s %-25s %8d %6d %12d $%9.4f $%9.4f\n",
			orNone(r.Project), orNone(r.Agent), r.Model, r.RequestCount, r.Hits, r.TotalTokens, r.Cost.USD(), r.Savings.USD())
		cost += r.Cost
		savings += r.Savings
	}
	b.WriteString(strings.Repeat("-", 108) + "\n")
	fmt.Fprintf(&b, "%86s $%9.4f $%9.4f\n", "TOTAL:", cost.USD(), savings.USD())
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %-8s %12s %12s %12s %6s\n",
		"Project", "Model", "Period", "Max", "Spent", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 98) + "\n")
	for _, s := range statuses {
		pct := float64(0)
		if s.Policy.MaxUSD > 0 {
			pct = s.Spent.USD() / s.Policy.MaxUSD * 100
		}
		model := s.Policy.Model
		if model == "" {
			model = "(all)"
		}
		fmt.Fprintf(&b, "%-20s %-20s %-8s $%11.2f $%11.4f $%11.4f %5.1f%%\n",
			s.Policy.Project, model, s.Policy.Period, s.Policy.MaxUSD, s.Spent.USD(), s.Remaining.USD(), pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	tier := stats.Tier
	if tier == "" {
		tier = "memory"
	}
	return fmt.Sprintf("Cache Statistics (%s)\n"+
		"  Entries:   %d / %d\n"+
		"  Bytes:     %d / %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Hit Rate:  %.1f%%\n"+
		"  Evictions: %d\n",
		tier, stats.Entries, stats.MaxEntries, stats.Bytes, stats.CapacityBytes,
		stats.Hits, stats.Misses, stats.HitRate*100, stats.Evictions)
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-25s %-10s %-7s %6s %8s %10s %-20s\n",
		"Request ID", "Model", "Provider", "Outcome", "Status", "Latency", "Cost", "Time")
	b.WriteString(strings.Repeat("-", 130) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-25s %-10s %-7s %6d %6dms $%9.4f %-20s\n",
			e.RequestID, e.Model, orNone(e.Provider), e.Outcome, e.StatusCode,
			e.LatencyMs, e.Cost.USD(), e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
