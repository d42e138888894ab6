package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTitle  = "New Conversation"
	maxTitleLen   = 50
	maxTitleWords = 6
)

// Words that read as cut off when they end a shortened title.
var danglingWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"for": true, "of": true, "to": true, "in": true, "on": true, "at": true,
	"with": true, "from": true, "by": true, "as": true, "into": true,
}

// FallbackTitle derives a session title from the first user message: its
// first six words, capitalized and capped at 50 characters. When the message
// was cut, trailing connectives such as "for" are dropped.
func FallbackTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
		for len(words) > 1 && danglingWords[strings.ToLower(words[len(words)-1])] {
			words = words[:len(words)-1]
		}
	}

	title := strings.Join(words, " ")
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen-3]) + "..."
	}
	first, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(first)) + title[size:]
}

// cleanModelTitle trims what models like to wrap titles in and reports
// whether the result is usable.
func cleanModelTitle(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`*")
	s = strings.TrimPrefix(s, "Title:")
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "\r\n") || utf8.RuneCountInString(s) > maxTitleLen {
		return "", false
	}
	return s, true
}
