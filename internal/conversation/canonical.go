package conversation

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vinayprograms/agentkit/llm"
)

// Kind is the closed set of shapes the normalizers recognize.
type Kind int

const (
	KindNone       Kind = iota // nil or a typed nil pointer
	KindTurn                   // a single role-tagged record
	KindTurns                  // a flat list of role-tagged records
	KindText                   // raw text or an object exposing a textual payload
	KindStructured             // key/value record without a nested turn list
	KindNested                 // envelope or list carrying nested items
	KindOpaque                 // anything else; stringified
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTurn:
		return "turn"
	case KindTurns:
		return "turns"
	case KindText:
		return "text"
	case KindStructured:
		return "structured"
	case KindNested:
		return "nested"
	default:
		return "opaque"
	}
}

// Texter is implemented by results that expose a textual payload.
type Texter interface {
	Text() string
}

// Envelope is a result container with a nested turn list and/or a single free-text
// output. Workers that produce more than one turn return one of these.
type Envelope struct {
	Messages []any `json:"messages,omitempty"`
	Output   any   `json:"output,omitempty"`
}

// Classify reports which variant v belongs to. It is total.
func Classify(v any) Kind {
	if isNil(v) {
		return KindNone
	}
	switch x := v.(type) {
	case Turn, *Turn, llm.Message, *llm.Message:
		return KindTurn
	case []Turn, []llm.Message:
		return KindTurns
	case string, []byte, json.RawMessage, *llm.ChatResponse, llm.ChatResponse, Texter:
		return KindText
	case Envelope, *Envelope, []any:
		return KindNested
	case map[string]any:
		if _, ok := x["messages"].([]any); ok {
			return KindNested
		}
		return KindStructured
	case map[string]string:
		return KindStructured
	default:
		return KindOpaque
	}
}

// NormalizeHistory flattens any mix of turn representations into canonical turns,
// preserving order. Items that cannot be classified become user turns holding their
// stringified form; nil items carry nothing and produce no turn.
func NormalizeHistory(items []any) []Turn {
	out := make([]Turn, 0, len(items))
	for _, item := range items {
		out = appendItem(out, item, RoleUser)
	}
	return out
}

// FromTurns adapts a turn slice for NormalizeHistory.
func FromTurns(turns []Turn) []any {
	items := make([]any, len(turns))
	for i, t := range turns {
		items[i] = t
	}
	return items
}

// NormalizeOutput converts a worker or reasoner result into one or more canonical
// turns. It never panics and never returns an empty slice.
func NormalizeOutput(result any) []Turn {
	var out []Turn
	switch Classify(result) {
	case KindNone:
	case KindTurn:
		out = append(out, toTurn(result))
	case KindTurns:
		out = appendItem(out, result, RoleAssistant)
	case KindText:
		out = append(out, textToTurn(textPayload(result)))
	case KindNested:
		out = appendItem(out, result, RoleAssistant)
	case KindStructured:
		out = append(out, structuredOutput(asMap(result)))
	case KindOpaque:
		out = append(out, Assistant(stringify(result)))
	}
	if len(out) == 0 {
		out = append(out, Assistant(""))
	}
	return out
}

// appendItem folds one item into out. defaultRole is used for bare text and for
// values that carry no role of their own.
func appendItem(out []Turn, item any, defaultRole Role) []Turn {
	switch Classify(item) {
	case KindNone:
		return out
	case KindTurn:
		return append(out, toTurn(item))
	case KindTurns:
		switch list := item.(type) {
		case []Turn:
			for _, t := range list {
				out = append(out, Turn{Role: ParseRole(string(t.Role)), Content: t.Content})
			}
		case []llm.Message:
			for _, m := range list {
				out = append(out, toTurn(m))
			}
		}
		return out
	case KindText:
		switch item.(type) {
		case string, []byte, json.RawMessage:
			return append(out, Turn{Role: defaultRole, Content: textPayload(item)})
		default:
			return append(out, Assistant(textPayload(item)))
		}
	case KindNested:
		return appendNested(out, item)
	case KindStructured:
		m := asMap(item)
		if t, ok := contentRecord(m, defaultRole); ok {
			return append(out, t)
		}
		if v, ok := m["output"]; ok {
			return append(out, Assistant(stringify(v)))
		}
		return append(out, Turn{Role: defaultRole, Content: stringify(m)})
	default:
		return append(out, Turn{Role: defaultRole, Content: stringify(item)})
	}
}

// appendNested flattens envelopes and lists. Nested items without a role are
// attributed to the assistant, matching how result containers are produced.
func appendNested(out []Turn, item any) []Turn {
	switch x := item.(type) {
	case Envelope:
		return appendEnvelope(out, x.Messages, x.Output)
	case *Envelope:
		return appendEnvelope(out, x.Messages, x.Output)
	case []any:
		for _, v := range x {
			out = appendItem(out, v, RoleAssistant)
		}
		return out
	case map[string]any:
		msgs, _ := x["messages"].([]any)
		return appendEnvelope(out, msgs, x["output"])
	}
	return append(out, Assistant(stringify(item)))
}

func appendEnvelope(out []Turn, messages []any, output any) []Turn {
	for _, m := range messages {
		out = appendItem(out, m, RoleAssistant)
	}
	if !isNil(output) {
		if s, ok := output.(string); !ok || s != "" {
			out = append(out, Assistant(stringify(output)))
		}
	}
	return out
}

func toTurn(v any) Turn {
	switch x := v.(type) {
	case Turn:
		return Turn{Role: ParseRole(string(x.Role)), Content: x.Content}
	case *Turn:
		return Turn{Role: ParseRole(string(x.Role)), Content: x.Content}
	case llm.Message:
		return Turn{Role: ParseRole(string(x.Role)), Content: x.Content}
	case *llm.Message:
		return Turn{Role: ParseRole(string(x.Role)), Content: x.Content}
	}
	return User(stringify(v))
}

// roleContent extracts a turn from a {role, content} record.
func roleContent(m map[string]any) (Turn, bool) {
	r, hasRole := m["role"]
	c, hasContent := m["content"]
	if !hasRole || !hasContent {
		return Turn{}, false
	}
	return Turn{Role: ParseRole(stringify(r)), Content: stringify(c)}, true
}

// contentRecord is roleContent with a role fallback for records that carry
// only content.
func contentRecord(m map[string]any, defaultRole Role) (Turn, bool) {
	if t, ok := roleContent(m); ok {
		return t, true
	}
	if c, ok := m["content"]; ok {
		if _, hasRole := m["role"]; !hasRole {
			return Turn{Role: defaultRole, Content: stringify(c)}, true
		}
	}
	return Turn{}, false
}

// structuredOutput unwraps known payload keys from a decoded result record.
func structuredOutput(m map[string]any) Turn {
	if t, ok := contentRecord(m, RoleAssistant); ok {
		return t
	}
	for _, key := range []string{"response", "output"} {
		if v, ok := m[key]; ok {
			return Assistant(stringify(v))
		}
	}
	return Assistant(stringify(m))
}

func textPayload(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case json.RawMessage:
		return string(x)
	case *llm.ChatResponse:
		return x.Content
	case llm.ChatResponse:
		return x.Content
	case Texter:
		return safeText(x)
	}
	return stringify(v)
}

func safeText(t Texter) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<%T: unprintable>", t)
		}
	}()
	return t.Text()
}

func asMap(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return m
	}
	return map[string]any{}
}

// stringify renders a value as plain text: strings as-is, JSON-able values as
// compact JSON, everything else through fmt. Nil values, typed or not, are empty.
func stringify(v any) (s string) {
	if isNil(v) {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<%T: unprintable>", v)
		}
	}()
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
