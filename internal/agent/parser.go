package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

var errNoJSON = errors.New("no JSON object in model output")

// extractToolCallsFromContent attempts to parse tool calls from model content text.
// Some models (especially smaller ones) return tool calls as JSON in the content
// instead of using the structured tool_calls field. Handles several patterns:
//   - Pure JSON: `{"name":"search","arguments":{...}}`
//   - Code-fenced: ```json\n{...}\n```
//   - Prefixed text: `assistant\n{"name":"search",...}` (common with llama models)
//   - Mixed text:   `Sure.\n{"name":"search",...}\nLet me do that.`
func extractToolCallsFromContent(content string) []schema.ToolCall {
	content = stripCodeFence(strings.TrimSpace(content))

	if calls := tryParseToolJSON(content); len(calls) > 0 {
		return calls
	}

	if start, end := findJSONBounds(content); start >= 0 && end > start {
		if calls := tryParseToolJSON(content[start:end]); len(calls) > 0 {
			return calls
		}
	}

	return nil
}

func stripCodeFence(content string) string {
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}
	return content
}

// findJSONBounds locates the first top-level JSON object ({}) or array ([]) in s.
// Returns the start index and end+1 index, or (-1, -1) if not found.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}

	openChar := s[start]
	var closeChar byte
	if openChar == '{' {
		closeChar = '}'
	} else {
		closeChar = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++ // skip escaped character
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

type rawToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

func (r rawToolCall) toolCall(id string) schema.ToolCall {
	args, _ := json.Marshal(coalesce(r.Parameters, r.Arguments))
	return schema.ToolCall{
		ID:   id,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      normalizeToolName(r.Name),
			Arguments: string(args),
		},
	}
}

// tryParseToolJSON attempts to parse raw as a single tool call object or an array.
func tryParseToolJSON(raw string) []schema.ToolCall {
	var single rawToolCall
	text := raw
	if err := json.Unmarshal([]byte(text), &single); err != nil {
		text = sanitizeJSONEscapes(text)
		_ = json.Unmarshal([]byte(text), &single)
	}
	if single.Name != "" {
		return []schema.ToolCall{single.toolCall(fmt.Sprintf("extracted_%d", time.Now().UnixNano()))}
	}

	var multi []rawToolCall
	if err := json.Unmarshal([]byte(text), &multi); err != nil {
		_ = json.Unmarshal([]byte(sanitizeJSONEscapes(raw)), &multi)
	}
	var calls []schema.ToolCall
	for i, tc := range multi {
		if tc.Name == "" {
			continue
		}
		calls = append(calls, tc.toolCall(fmt.Sprintf("extracted_%d_%d", time.Now().UnixNano(), i)))
	}
	return calls
}

// normalizeToolName maps common model-generated tool name variations to the
// registered names.
func normalizeToolName(name string) string {
	aliases := map[string]string{
		"web_search":   "search",
		"websearch":    "search",
		"web-search":   "search",
		"search_web":   "search",
		"fetch":        "retrieve",
		"web_fetch":    "retrieve",
		"read_url":     "retrieve",
		"videosearch":  "video_search",
		"video-search": "video_search",
		"videos":       "video_search",
	}
	if mapped, ok := aliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

// stripRolePrefix removes role-name prefixes that some models leak into
// their content: "assistant\nHello" → "Hello".
func stripRolePrefix(content string) string {
	prefixes := []string{
		"assistant\n",
		"Assistant\n",
		"assistant:\n",
		"Assistant:\n",
		"assistant: ",
		"Assistant: ",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(content, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}

// coalesce returns the first non-nil map, or an empty map if both are nil.
func coalesce(a, b map[string]any) map[string]any {
	if a != nil {
		return a
	}
	if b != nil {
		return b
	}
	return make(map[string]any)
}

// sanitizeJSONEscapes fixes invalid JSON escape sequences produced by some models.
// Valid JSON escapes: \", \\, \/, \b, \f, \n, \r, \t, \uXXXX.
// Invalid ones (e.g. \% or \Y) are corrected by dropping the backslash.
// Escapes are consumed in pairs, so an escaped backslash never escapes the
// quote after it.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case !inString:
			if ch == '"' {
				inString = true
			}
			buf.WriteByte(ch)
		case ch == '"':
			inString = false
			buf.WriteByte(ch)
		case ch == '\\' && i+1 < len(s):
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(s[i+1])
				i++
			}
		default:
			buf.WriteByte(ch)
		}
	}
	return buf.String()
}

// decodeJSONObject decodes the first JSON object found in model output into v.
// Fences, role prefixes and surrounding prose are tolerated.
func decodeJSONObject(content string, v any) error {
	content = stripCodeFence(stripRolePrefix(strings.TrimSpace(content)))
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}
	start, end := findJSONBounds(content)
	if start < 0 || content[start] != '{' {
		return errNoJSON
	}
	candidate := content[start:end]
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		if err2 := json.Unmarshal([]byte(sanitizeJSONEscapes(candidate)), v); err2 != nil {
			return fmt.Errorf("decode model output: %w", err)
		}
	}
	return nil
}

// partialString returns the (possibly unterminated) string value of the first
// "key" in a JSON document that is still being streamed, and whether the value
// has been closed.
func partialString(s, key string) (string, bool) {
	idx := strings.Index(s, `"`+key+`"`)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(s[idx+len(key)+2:], " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}
	return scanString(rest[1:])
}

// completedStrings returns every fully streamed string value of key, in order.
func completedStrings(s, key string) []string {
	var out []string
	for {
		v, closed := partialString(s, key)
		if !closed {
			return out
		}
		out = append(out, v)
		idx := strings.Index(s, `"`+key+`"`)
		s = s[idx+len(key)+2:]
	}
}

func scanString(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '"':
			return b.String(), true
		case '\\':
			if i+1 >= len(s) {
				return b.String(), false
			}
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'u':
				if i+4 < len(s) {
					var r rune
					if _, err := fmt.Sscanf(s[i+1:i+5], "%04x", &r); err == nil {
						b.WriteRune(r)
					}
					i += 4
				} else {
					return b.String(), false
				}
			default:
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), false
}
