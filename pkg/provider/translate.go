package provider

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// defaultMaxTokens is sent to Anthropic when an OpenAI request sets no
// limit, since the field is required there.
const defaultMaxTokens = 4096

// blockText concatenates the text blocks of a content value, which is
// either a string or an array of typed blocks. Non-text blocks are
// dropped.
func blockText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	var parts []string
	for _, b := range v.Array() {
		if t := b.Get("type").String(); t == "text" || t == "input_text" || t == "" {
			if txt := b.Get("text"); txt.Exists() {
				parts = append(parts, txt.String())
			}
		}
	}
	return strings.Join(parts, "\n")
}

// AnthropicToOpenAIRequest converts an Anthropic messages request into an
// OpenAI chat completions request for model.
func AnthropicToOpenAIRequest(body []byte, model string) ([]byte, error) {
	src := gjson.ParseBytes(body)
	out := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}

	set("model", model)
	set("messages", []any{})
	if sys := blockText(src.Get("system")); sys != "" {
		set("messages.-1", message{Role: "system", Content: sys})
	}
	src.Get("messages").ForEach(func(_, m gjson.Result) bool {
		set("messages.-1", message{Role: m.Get("role").String(), Content: blockText(m.Get("content"))})
		return err == nil
	})
	if v := src.Get("max_tokens"); v.Exists() {
		set("max_tokens", v.Int())
	}
	for _, f := range []string{"temperature", "top_p"} {
		if v := src.Get(f); v.Exists() {
			set(f, v.Float())
		}
	}
	if v := src.Get("stop_sequences"); v.Exists() {
		set("stop", v.Value())
	}
	if v := src.Get("stream"); v.Exists() {
		set("stream", v.Bool())
	}
	return out, err
}

// OpenAIToAnthropicRequest converts an OpenAI chat completions request
// into an Anthropic messages request for model. System messages are
// folded into the top-level system prompt.
func OpenAIToAnthropicRequest(body []byte, model string) ([]byte, error) {
	src := gjson.ParseBytes(body)
	out := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}

	set("model", model)
	set("messages", []any{})
	var system []string
	src.Get("messages").ForEach(func(_, m gjson.Result) bool {
		text := blockText(m.Get("content"))
		switch role := m.Get("role").String(); role {
		case "system", "developer":
			system = append(system, text)
		case "user", "assistant":
			set("messages.-1", message{Role: role, Content: text})
		}
		return err == nil
	})
	if len(system) > 0 {
		set("system", strings.Join(system, "\n\n"))
	}

	maxTokens := int64(defaultMaxTokens)
	if v := src.Get("max_completion_tokens"); v.Exists() {
		maxTokens = v.Int()
	} else if v := src.Get("max_tokens"); v.Exists() {
		maxTokens = v.Int()
	}
	set("max_tokens", maxTokens)
	for _, f := range []string{"temperature", "top_p"} {
		if v := src.Get(f); v.Exists() {
			set(f, v.Float())
		}
	}
	if v := src.Get("stop"); v.Exists() {
		if v.Type == gjson.String {
			set("stop_sequences", []string{v.Str})
		} else {
			set("stop_sequences", v.Value())
		}
	}
	if v := src.Get("stream"); v.Exists() {
		set("stream", v.Bool())
	}
	return out, err
}

var finishToStop = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"content_filter": "end_turn",
}

var stopToFinish = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
}

// OpenAIToAnthropicResponse converts a chat completion into an Anthropic
// message.
func OpenAIToAnthropicResponse(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	src := gjson.ParseBytes(body)
	usage := OpenAIUsage(src.Get("usage"))

	stop := finishToStop[src.Get("choices.0.finish_reason").String()]
	if stop == "" {
		stop = "end_turn"
	}

	out := []byte(`{"type":"message","role":"assistant"}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}
	set("id", src.Get("id").String())
	set("model", src.Get("model").String())
	set("content", []textBlock{{Type: "text", Text: src.Get("choices.0.message.content").String()}})
	set("stop_reason", stop)
	set("usage.input_tokens", usage.InputTokens)
	set("usage.output_tokens", usage.OutputTokens)
	set("usage.cache_read_input_tokens", usage.CacheReadTokens)
	return out, err
}

// AnthropicToOpenAIResponse converts an Anthropic message into a chat
// completion.
func AnthropicToOpenAIResponse(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	src := gjson.ParseBytes(body)
	usage := AnthropicUsage(src.Get("usage"))

	finish := stopToFinish[src.Get("stop_reason").String()]
	if finish == "" {
		finish = "stop"
	}

	out := []byte(`{"object":"chat.completion"}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, v)
		}
	}
	prompt := usage.InputTokens + usage.CacheReadTokens + usage.CacheWriteTokens
	set("id", src.Get("id").String())
	set("created", time.Now().Unix())
	set("model", src.Get("model").String())
	set("choices", []choice{{
		Message:      message{Role: "assistant", Content: blockText(src.Get("content"))},
		FinishReason: finish,
	}})
	set("usage.prompt_tokens", prompt)
	set("usage.completion_tokens", usage.OutputTokens)
	set("usage.total_tokens", prompt+usage.OutputTokens)
	if usage.CacheReadTokens > 0 {
		set("usage.prompt_tokens_details.cached_tokens", usage.CacheReadTokens)
	}
	return out, err
}
