package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const fence = "```"

// ErrNoJSON is returned by DecodeJSON when the text holds no JSON value.
var ErrNoJSON = errors.New("no JSON value in text")

// StripFence removes a surrounding fenced code block and its language tag.
// The second result reports whether a fence was found.
func StripFence(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, fence) {
		return s, false
	}
	inner := s[len(fence):]
	if end := strings.Index(inner, fence); end >= 0 {
		inner = inner[:end]
	} else {
		inner = strings.Trim(inner, "`")
	}
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && isLanguageTag(inner[:nl]) {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner), true
}

// isLanguageTag reports whether the first line inside a fence is an info string
// such as "json" or "go" rather than content.
func isLanguageTag(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if strings.ContainsAny(line, " \t{}[]\"") {
		return false
	}
	return true
}

// textToTurn interprets raw reasoner text. JSON bodies (optionally fenced) are
// unwrapped or re-serialized; anything unparsable is kept verbatim.
func textToTurn(raw string) Turn {
	body, _ := StripFence(raw)
	if body == "" || !json.Valid([]byte(body)) {
		return Assistant(raw)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return Assistant(raw)
	}

	switch v := parsed.(type) {
	case map[string]any:
		for _, key := range []string{"response", "output"} {
			if inner, ok := v[key]; ok {
				return Assistant(stringify(inner))
			}
		}
		return Assistant(compact(body))
	case []any:
		return Assistant(compact(body))
	case string:
		return Assistant(v)
	default:
		return Assistant(body)
	}
}

func compact(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return body
	}
	return buf.String()
}

// DecodeJSON decodes the first JSON object or array found in text into v.
// Fences are stripped and surrounding prose is ignored.
func DecodeJSON(text string, v any) error {
	body, _ := StripFence(text)
	if json.Valid([]byte(body)) {
		return json.Unmarshal([]byte(body), v)
	}
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(body, pair[0])
		end := strings.LastIndexByte(body, pair[1])
		if start >= 0 && end > start {
			candidate := body[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.Unmarshal([]byte(candidate), v)
			}
		}
	}
	return ErrNoJSON
}
