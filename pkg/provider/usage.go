package provider

import (
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/tidwall/gjson"
)

// AnthropicUsage reads an Anthropic usage object.
func AnthropicUsage(u gjson.Result) models.Usage {
	return models.Usage{
		InputTokens:      u.Get("input_tokens").Int(),
		OutputTokens:     u.Get("output_tokens").Int(),
		CacheWriteTokens: u.Get("cache_creation_input_tokens").Int(),
		CacheReadTokens:  u.Get("cache_read_input_tokens").Int(),
	}
}

// OpenAIUsage reads an OpenAI-style usage object. Cached prompt tokens
// (OpenAI prompt_tokens_details.cached_tokens or DeepSeek
// prompt_cache_hit_tokens) are moved from input to cache reads.
func OpenAIUsage(u gjson.Result) models.Usage {
	prompt := u.Get("prompt_tokens").Int()
	cached := u.Get("prompt_tokens_details.cached_tokens").Int()
	if cached == 0 {
		cached = u.Get("prompt_cache_hit_tokens").Int()
	}
	if cached > prompt {
		cached = prompt
	}
	return models.Usage{
		InputTokens:     prompt - cached,
		OutputTokens:    u.Get("completion_tokens").Int(),
		CacheReadTokens: cached,
	}
}
