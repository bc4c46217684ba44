package provider

import (
	"bytes"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/tidwall/gjson"
)

// StreamParser incrementally parses a server-sent event stream in either
// wire format. It tracks usage, text deltas and whether the stream
// reached its terminal event. It only reads "data:" lines.
type StreamParser struct {
	format Format
	buffer []byte
	usage  models.Usage
	model  string
	done   bool
	errMsg string
	// OnText, when set, receives each text delta.
	OnText func(string)
}

// NewStreamParser creates a parser for format.
func NewStreamParser(format Format) *StreamParser {
	return &StreamParser{format: format}
}

// Feed consumes the next chunk of raw stream bytes.
func (p *StreamParser) Feed(chunk []byte) {
	p.buffer = append(p.buffer, chunk...)
	p.parse(false)
}

// Flush parses any trailing event without a terminating blank line.
func (p *StreamParser) Flush() { p.parse(true) }

// Done reports whether the terminal event was seen: message_stop for
// Anthropic, [DONE] for OpenAI.
func (p *StreamParser) Done() bool { return p.done }

// Usage returns the token usage reported so far.
func (p *StreamParser) Usage() models.Usage { return p.usage }

// Model returns the upstream model reported by the stream.
func (p *StreamParser) Model() string { return p.model }

// Err returns the message of an in-stream error event, if any.
func (p *StreamParser) Err() string { return p.errMsg }

func (p *StreamParser) parse(flush bool) {
	for {
		event, rest, ok := nextSSEEvent(p.buffer, flush)
		if !ok {
			return
		}
		p.buffer = rest
		p.parseEvent(event)
	}
}

func nextSSEEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	case lf >= 0:
		return buf[:lf], buf[lf+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

func (p *StreamParser) parseEvent(event []byte) {
	var dataLines [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(payload, []byte("[DONE]")) {
			if p.format == FormatOpenAI {
				p.done = true
			}
			continue
		}
		if len(payload) > 0 {
			dataLines = append(dataLines, payload)
		}
	}
	if len(dataLines) == 0 {
		return
	}
	data := gjson.ParseBytes(bytes.Join(dataLines, []byte("\n")))
	if p.format == FormatAnthropic {
		p.anthropicEvent(data)
	} else {
		p.openAIEvent(data)
	}
}

func (p *StreamParser) anthropicEvent(data gjson.Result) {
	switch data.Get("type").String() {
	case "message_start":
		msg := data.Get("message")
		if m := msg.Get("model").String(); m != "" {
			p.model = m
		}
		p.applyAnthropic(msg.Get("usage"))
	case "content_block_delta":
		if t := data.Get("delta.text"); t.Exists() && p.OnText != nil {
			p.OnText(t.String())
		}
	case "message_delta":
		p.applyAnthropic(data.Get("usage"))
	case "message_stop":
		p.done = true
	case "error":
		p.errMsg = data.Get("error.message").String()
	}
}

func (p *StreamParser) applyAnthropic(u gjson.Result) {
	if !u.Exists() {
		return
	}
	got := AnthropicUsage(u)
	if got.InputTokens > 0 {
		p.usage.InputTokens = got.InputTokens
	}
	if got.OutputTokens > p.usage.OutputTokens {
		p.usage.OutputTokens = got.OutputTokens
	}
	if got.CacheWriteTokens > 0 {
		p.usage.CacheWriteTokens = got.CacheWriteTokens
	}
	if got.CacheReadTokens > 0 {
		p.usage.CacheReadTokens = got.CacheReadTokens
	}
}

func (p *StreamParser) openAIEvent(data gjson.Result) {
	if e := data.Get("error"); e.Exists() && e.Type != gjson.Null {
		p.errMsg = e.Get("message").String()
		return
	}
	if m := data.Get("model").String(); m != "" {
		p.model = m
	}
	if t := data.Get("choices.0.delta.content"); t.Type == gjson.String && t.Str != "" && p.OnText != nil {
		p.OnText(t.Str)
	}
	if u := data.Get("usage"); u.Exists() && u.Type != gjson.Null {
		p.usage = OpenAIUsage(u)
	}
}
