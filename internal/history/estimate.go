// Package history decides which past chat messages are sent to the model.
package history

import (
	"unicode/utf8"

	"github.com/pandapoll/chatbot/internal/store"
)

// MessageOverhead is the fixed per-message cost added on top of content.
const MessageOverhead = 10

// EstimateTokens approximates the token count of s as ceil(runes/3.5).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	// ceil(n / 3.5) == ceil(2n / 7)
	return (2*n + 6) / 7
}

// EstimateMessageTokens is EstimateTokens of the content plus MessageOverhead.
func EstimateMessageTokens(m store.Message) int {
	return EstimateTokens(m.Text()) + MessageOverhead
}
