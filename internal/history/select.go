package history

import "github.com/pandapoll/chatbot/internal/store"

const (
	DefaultTokenLimit  = 12000
	DefaultMaxMessages = 50
)

// Budget bounds the history sent to the model. Tokens and MaxMessages are
// independent limits; MaxMessages <= 0 means no message cap.
type Budget struct {
	Tokens      int
	MaxMessages int
}

// Select returns the longest suffix of msgs (oldest first) whose estimated
// size fits the budget. Messages that carry no text, such as artifact
// carriers, are skipped. The newest message is kept even when it alone is
// over budget, so the current user turn always reaches the model.
func Select(msgs []store.Message, b Budget) []store.Message {
	if b.Tokens <= 0 || len(msgs) == 0 {
		return nil
	}

	var picked []store.Message
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsArtifact || m.Text() == "" {
			continue
		}
		if b.MaxMessages > 0 && len(picked) >= b.MaxMessages {
			break
		}
		cost := EstimateMessageTokens(m)
		if used+cost > b.Tokens && len(picked) > 0 {
			break
		}
		used += cost
		picked = append(picked, m)
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}
