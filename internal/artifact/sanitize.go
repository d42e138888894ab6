package artifact

import (
	"regexp"
	"strings"
)

var cleanupRules = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile("(?i)```json\\s*"), ""},
	{regexp.MustCompile("```\\s*"), ""},
	{regexp.MustCompile(`(?i)Here['’]s a JSON survey template[^:]*:`), "Here's a survey template:"},
	{regexp.MustCompile(`(?i)Here['’]s a JSON template[^:]*:`), "Here's a template:"},
	{regexp.MustCompile(`(?i)JSON survey template`), "survey template"},
	{regexp.MustCompile(`(?i)JSON template`), "template"},
}

// Sanitize strips code fences and mentions of the serialization format from
// prose shown to the user. Every rule shortens its match, so repeating the
// pass until nothing changes terminates and Sanitize(Sanitize(s)) equals
// Sanitize(s).
func Sanitize(s string) string {
	for {
		next := s
		for _, r := range cleanupRules {
			next = r.re.ReplaceAllLiteralString(next, r.with)
		}
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}
