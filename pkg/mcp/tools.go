package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pario-ai/gatecache/pkg/models"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"gatecache_gateway_summary": handleGatewaySummary,
	"gatecache_cache_stats":     handleCacheStats,
	"gatecache_usage":           handleUsage,
	"gatecache_recent_requests": handleRecent,
	"gatecache_cost_report":     handleCostReport,
	"gatecache_budget":          handleBudget,
	"gatecache_audit_search":    handleAuditSearch,
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "gatecache_gateway_summary",
		Description: "Show live gateway totals: requests, hit rate, cost, savings and breakdowns by tier, model and provider.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "gatecache_cache_stats",
		Description: "Show response cache statistics (entries, bytes, hits, misses, hit rate, evictions).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "gatecache_usage",
		Description: "Show persisted usage grouped by model, provider, project, tier or agent.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"group_by": stringProp("One of model, provider, project, tier, agent (default model)"),
				"since":    stringProp("Start date in YYYY-MM-DD format (optional, defaults to start of month)"),
			},
		},
	},
	{
		Name:        "gatecache_recent_requests",
		Description: "List the most recent persisted requests, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Max requests to return (default 20)"},
			},
		},
	},
	{
		Name:        "gatecache_cost_report",
		Description: "Show cost and savings grouped by project, agent and model.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": stringProp("Start date in YYYY-MM-DD format (optional, defaults to start of month)"),
			},
		},
	},
	{
		Name:        "gatecache_budget",
		Description: "Show spend against configured budget policies, optionally for one project.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project": stringProp("Project ID (optional, omit for all projects)"),
			},
		},
	},
	{
		Name:        "gatecache_audit_search",
		Description: "Search the request audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model":    stringProp("Filter by model (optional)"),
				"provider": stringProp("Filter by provider (optional)"),
				"project":  stringProp("Filter by project (optional)"),
				"outcome":  stringProp("Filter by outcome: hit, miss or failed (optional)"),
				"since":    stringProp("Start date in YYYY-MM-DD format (optional)"),
			},
		},
	},
}

func decodeArgs(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}

// parseSince reads a YYYY-MM-DD date, defaulting to fallback.
func parseSince(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", v)
}

func (s *Server) beginningOfMonth() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func handleGatewaySummary(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.gateway == nil {
		return textResult("Gateway is not reachable.")
	}
	sum, err := s.gateway.Summary(ctx)
	if err != nil {
		return errorResult("Error fetching gateway summary: " + err.Error())
	}
	return textResult(formatGatewaySummary(sum))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.gateway == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.gateway.CacheStats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type usageArgs struct {
	GroupBy string `json:"group_by"`
	Since   string `json:"since"`
}

func handleUsage(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Request history is not configured.")
	}
	var args usageArgs
	decodeArgs(raw, &args)
	if args.GroupBy == "" {
		args.GroupBy = "model"
	}
	since, err := parseSince(args.Since, s.beginningOfMonth())
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	rows, err := s.history.Summary(ctx, strings.ToLower(args.GroupBy), since)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(args.GroupBy, rows))
}

type recentArgs struct {
	Limit int `json:"limit"`
}

func handleRecent(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Request history is not configured.")
	}
	args := recentArgs{Limit: 20}
	decodeArgs(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 20
	}
	recs, err := s.history.Recent(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching recent requests: " + err.Error())
	}
	return textResult(formatRecords(recs))
}

type costReportArgs struct {
	Since string `json:"since"`
}

func handleCostReport(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Request history is not configured.")
	}
	var args costReportArgs
	decodeArgs(raw, &args)
	since, err := parseSince(args.Since, s.beginningOfMonth())
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	reports, err := s.history.CostReport(ctx, since)
	if err != nil {
		return errorResult("Error fetching cost report: " + err.Error())
	}
	return textResult(formatCostReport(reports))
}

type budgetArgs struct {
	Project string `json:"project"`
}

func handleBudget(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.budget == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args budgetArgs
	decodeArgs(raw, &args)
	if args.Project == "" {
		args.Project = "*"
	}
	statuses, err := s.budget.Status(ctx, args.Project)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

type auditSearchArgs struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Project  string `json:"project"`
	Outcome  string `json:"outcome"`
	Since    string `json:"since"`
}

func handleAuditSearch(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.audit == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	decodeArgs(raw, &args)

	opts := models.AuditQueryOpts{
		Model:    args.Model,
		Provider: args.Provider,
		Project:  args.Project,
		Outcome:  models.Outcome(args.Outcome),
		Limit:    50,
	}
	since, err := parseSince(args.Since, time.Time{})
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	opts.Since = since

	entries, err := s.audit.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
