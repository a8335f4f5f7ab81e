// Package conversation provides the canonical turn log and the normalizers that fold
// model, tool and envelope outputs into it.
package conversation

import "strings"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContinuePrompt is the synthetic user turn appended by EnsureUserTail.
const ContinuePrompt = "Please continue with your task."

// Turn is one role-tagged entry in the conversation log.
// Content is always plain text; structured payloads are serialized into it.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User returns a user turn.
func User(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// Assistant returns an assistant turn.
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// System returns a system turn.
func System(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// ParseRole maps a free-form role tag onto the three canonical roles.
// Unknown tags become RoleUser so no turn is ever dropped.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assistant", "ai", "model", "tool", "function":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	default:
		return RoleUser
	}
}

// EnsureUserTail returns turns with a synthetic user turn appended when the last
// turn is assistant-authored. Some reasoners reject histories that do not end on a
// user turn. The input slice is never modified, and the result is meant for the
// history sent to a reasoner only; it must not be written back into a run's log.
func EnsureUserTail(turns []Turn) []Turn {
	out := make([]Turn, len(turns), len(turns)+1)
	copy(out, turns)
	if len(out) > 0 && out[len(out)-1].Role == RoleAssistant {
		out = append(out, User(ContinuePrompt))
	}
	return out
}

// LastContent returns the content of the last turn with the given role.
func LastContent(turns []Turn, role Role) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == role {
			return turns[i].Content, true
		}
	}
	return "", false
}

// FirstContent returns the content of the first turn with the given role.
func FirstContent(turns []Turn, role Role) (string, bool) {
	for _, t := range turns {
		if t.Role == role {
			return t.Content, true
		}
	}
	return "", false
}

// Equal reports whether two turn sequences are identical.
func Equal(a, b []Turn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether log starts with prefix.
func HasPrefix(log, prefix []Turn) bool {
	if len(prefix) > len(log) {
		return false
	}
	return Equal(log[:len(prefix)], prefix)
}
