package router

import (
	"strings"

	"github.com/pario-ai/gatecache/pkg/config"
)

// Model tiers.
const (
	TierOpus     = "opus"
	TierSonnet   = "sonnet"
	TierHaiku    = "haiku"
	TierGPT4     = "gpt4"
	TierGPT35    = "gpt35"
	TierDeepSeek = "deepseek"
	TierLocal    = "local"
	TierUnknown  = "unknown"
)

// ExtractTier classifies a model name into a coarse tier.
func ExtractTier(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "opus"):
		return TierOpus
	case strings.Contains(m, "sonnet"):
		return TierSonnet
	case strings.Contains(m, "haiku"):
		return TierHaiku
	case strings.Contains(m, "gpt-4"):
		return TierGPT4
	case strings.Contains(m, "gpt-3.5"):
		return TierGPT35
	case strings.Contains(m, "deepseek"):
		return TierDeepSeek
	default:
		return TierUnknown
	}
}

// DefaultRoleKeywords is used when the config lists no role keywords.
// Order matters: the first role with a match wins.
var DefaultRoleKeywords = []config.RoleKeywords{
	{Role: "chief-architect", Patterns: []string{"chief architect", "system architect", "architecture design"}},
	{Role: "code-reviewer", Patterns: []string{"code review", "review the code", "reviewing code"}},
	{Role: "test-engineer", Patterns: []string{"test engineer", "write tests", "testing"}},
	{Role: "security-auditor", Patterns: []string{"security audit", "security review", "vulnerability"}},
	{Role: "python-specialist", Patterns: []string{"python", "fastapi", "django", "flask"}},
	{Role: "rust-specialist", Patterns: []string{"rust", "cargo", "tokio", "axum"}},
	{Role: "go-specialist", Patterns: []string{"golang", "go ", "goroutine"}},
	{Role: "technical-researcher", Patterns: []string{"research", "investigate", "analyze"}},
}
