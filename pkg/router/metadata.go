package router

import (
	"github.com/tidwall/gjson"
)

// MetadataFromBody extracts routing metadata from an Anthropic or OpenAI
// request body. The system prompt is the top-level "system" field or the
// first system-role message; either may be a string or a list of text
// blocks.
func MetadataFromBody(body []byte, agent string) Metadata {
	md := Metadata{
		Model:     gjson.GetBytes(body, "model").String(),
		AgentType: agent,
	}
	if agent == "" {
		md.AgentType = gjson.GetBytes(body, "agent_type").String()
	}

	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		md.System = textOf(sys)
	}
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "system", "developer":
			if md.System == "" {
				md.System = textOf(msg.Get("content"))
			}
		case "user":
			if md.FirstUserText == "" {
				md.FirstUserText = textOf(msg.Get("content"))
			}
		}
		return md.FirstUserText == "" || md.System == ""
	})
	return md
}

// textOf returns a string value, or the text of the first text block.
func textOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	if v.IsArray() {
		for _, block := range v.Array() {
			if t := block.Get("text"); t.Exists() {
				return t.String()
			}
		}
	}
	return ""
}
