package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ignoredFields are top-level request fields that never change upstream
// output. Every other field is part of the key.
var ignoredFields = map[string]bool{
	"model":      true, // hashed separately, normalized
	"metadata":   true,
	"user":       true,
	"agent_type": true,
	"project_id": true,
	"request_id": true,
	"trace_id":   true,
	"span_id":    true,
}

// Key derives the cache key for a request body. The agent role is part of
// the key because it selects the upstream provider. Logically identical
// requests produce the same key regardless of object key order,
// whitespace or number spelling.
func Key(body []byte, agent string) string {
	return ScopedKey("", body, agent)
}

// ScopedKey is Key within a namespace, such as the inbound wire format,
// so that bodies served in different response shapes never collide.
func ScopedKey(scope string, body []byte, agent string) string {
	var sb strings.Builder
	if scope != "" {
		sb.WriteString("scope=")
		sb.WriteString(strconv.Quote(scope))
		sb.WriteString("|")
	}
	sb.WriteString("model=")
	sb.WriteString(strconv.Quote(NormalizeModel(gjson.GetBytes(body, "model").String())))
	type field struct {
		name string
		v    gjson.Result
	}
	var fields []field
	gjson.ParseBytes(body).ForEach(func(k, v gjson.Result) bool {
		if !ignoredFields[k.String()] {
			fields = append(fields, field{k.String(), v})
		}
		return true
	})
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	for _, f := range fields {
		sb.WriteString("|")
		sb.WriteString(strconv.Quote(f.name))
		sb.WriteString("=")
		canonical(&sb, f.v)
	}
	if agent = strings.ToLower(strings.TrimSpace(agent)); agent != "" {
		sb.WriteString("|agent=")
		sb.WriteString(strconv.Quote(agent))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizeModel trims and lowercases a model name.
func NormalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// canonical writes v as JSON with sorted object keys, no insignificant
// whitespace and numbers in shortest form.
func canonical(sb *strings.Builder, v gjson.Result) {
	switch {
	case v.IsObject():
		type kv struct {
			k string
			v gjson.Result
		}
		var fields []kv
		v.ForEach(func(k, val gjson.Result) bool {
			fields = append(fields, kv{k.String(), val})
			return true
		})
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].k < fields[j].k })
		sb.WriteByte('{')
		for i, f := range fields {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(f.k))
			sb.WriteByte(':')
			canonical(sb, f.v)
		}
		sb.WriteByte('}')
	case v.IsArray():
		sb.WriteByte('[')
		for i, el := range v.Array() {
			if i > 0 {
				sb.WriteByte(',')
			}
			canonical(sb, el)
		}
		sb.WriteByte(']')
	default:
		switch v.Type {
		case gjson.String:
			sb.WriteString(strconv.Quote(v.Str))
		case gjson.Number:
			sb.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
		case gjson.True:
			sb.WriteString("true")
		case gjson.False:
			sb.WriteString("false")
		default:
			sb.WriteString("null")
		}
	}
}
