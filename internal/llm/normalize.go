package llm

import "strings"

// Normalize prepares history for providers that require strictly alternating
// turns starting with the user: consecutive messages of the same role are
// merged and leading assistant messages are dropped.
func Normalize(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if len(out) == 0 && m.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
