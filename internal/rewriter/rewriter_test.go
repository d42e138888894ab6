package rewriter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pandapoll/chatbot/internal/apperr"
	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/history"
	"github.com/pandapoll/chatbot/internal/llm"
	"github.com/pandapoll/chatbot/internal/store"
)

const survey = `{
	"group_id": "g1",
	"title": "Pricing Survey",
	"pages": [{
		"content_blocks": [
			{"type": "MEDIA_SET", "items": [{"media_type": "DESCRIPTION", "media_data": {"text": "Welcome"}}]},
			{"type": "QUESTION_SET", "items": [
				{"text": "How much would you pay?", "response_type": "SLIDER"},
				{"text": "Would you recommend it?", "response_type": "NUMBER_SELECT"}
			]}
		]
	}]
}`

func TestBuildPrompt(t *testing.T) {
	doc, err := artifact.ParseDocument([]byte(survey))
	require.NoError(t, err)

	long := strings.Repeat("y", 250)
	msgs := []store.Message{
		{Role: store.RoleUser, Content: &long},
		{Role: store.RoleAssistant},
	}
	p := BuildPrompt("How much would you pay?", doc, msgs)

	assert.Contains(t, p, "ORIGINAL QUESTION: How much would you pay?")
	assert.Contains(t, p, "Survey Title: Pricing Survey\nSurvey Description: No description\nTotal Questions: 2")
	assert.Contains(t, p, "\n2. Would you recommend it?")
	assert.NotContains(t, p, "1. How much would you pay?")
	assert.Contains(t, p, "user: "+strings.Repeat("y", 200)+"...\n")
	assert.NotContains(t, p, "{SURVEY_CONTEXT}")

	empty := BuildPrompt("Q?", nil, nil)
	assert.Contains(t, empty, "No survey context available.")
	assert.Contains(t, empty, "No conversation history available.")
}

func TestBuildPromptKeepsLastTenMessages(t *testing.T) {
	var msgs []store.Message
	for i := range 12 {
		text := fmt.Sprintf("message-%02d", i)
		msgs = append(msgs, store.Message{Role: store.RoleUser, Content: &text})
	}
	p := BuildPrompt("Q?", nil, msgs)
	assert.NotContains(t, p, "message-01")
	assert.Contains(t, p, "message-02")
	assert.Contains(t, p, "message-11")
}

func TestParseSuggestions(t *testing.T) {
	var items []string
	for i := range 7 {
		items = append(items, fmt.Sprintf(`{"reworded":" Option %d ","reasoning":"why","improvement_type":"clarity","confidence":0.9}`, i))
	}
	text := `Here you go: {"suggestions":[` +
		`{"reworded":"missing reason","improvement_type":"clarity"},` +
		`{"reworded":"no confidence","reasoning":"r","improvement_type":"bias_reduction"},` +
		strings.Join(items, ",") + `]} hope this helps`

	got, err := ParseSuggestions(text)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, Suggestion{Reworded: "no confidence", Reasoning: "r", ImprovementType: "bias_reduction", Confidence: 0.8}, got[0])
	assert.Equal(t, "Option 0", got[1].Reworded)
	assert.Equal(t, 0.9, got[1].Confidence)

	for _, bad := range []string{"no json at all", `{"other": 1}`, `{"suggestions": [}`, `} {`} {
		_, err := ParseSuggestions(bad)
		assert.ErrorIs(t, err, ErrUnparseable, bad)
	}
}

type fakeLLM struct {
	answer string
	got    llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.got = req
	return f.answer, nil
}

func TestReword(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "rw.db"))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	require.NoError(t, db.CreateSession(ctx, &store.Session{ID: "s1", UserID: "alice", CreatedAt: now, UpdatedAt: now}))
	text := "Let's build a pricing survey"
	require.NoError(t, db.AddMessage(ctx, &store.Message{ID: "m1", SessionID: "s1", Role: store.RoleUser, Content: &text, Kind: store.KindText, CreatedAt: now}))
	require.NoError(t, db.InsertArtifact(ctx, &store.Artifact{ID: "r1", GroupID: "g1", SessionID: "s1", Title: "Pricing Survey", Version: 1, Document: []byte(survey), CreatedAt: now}))

	model := &fakeLLM{answer: `{"suggestions":[{"reworded":"What price feels fair?","reasoning":"neutral","improvement_type":"bias_reduction","confidence":0.7}]}`}
	svc := NewService(db, artifact.NewService(db, zaptest.NewLogger(t)), model, history.Budget{Tokens: 12000, MaxMessages: 50}, zaptest.NewLogger(t))

	resp, err := svc.Reword(ctx, "alice", Request{SessionID: "s1", ArtifactID: "g1", QuestionText: "How much would you pay?"})
	require.NoError(t, err)
	assert.Equal(t, "How much would you pay?", resp.OriginalQuestion)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "What price feels fair?", resp.Suggestions[0].Reworded)
	assert.Equal(t, 2000, model.got.MaxTokens)
	require.Len(t, model.got.Messages, 1)
	assert.Contains(t, model.got.Messages[0].Content, "user: Let's build a pricing survey")

	_, err = svc.Reword(ctx, "bob", Request{SessionID: "s1", ArtifactID: "g1", QuestionText: "Q"})
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)

	// An artifact from another of the user's chats is not mixed with this history.
	require.NoError(t, db.CreateSession(ctx, &store.Session{ID: "s2", UserID: "alice", CreatedAt: now, UpdatedAt: now}))
	_, err = svc.Reword(ctx, "alice", Request{SessionID: "s2", ArtifactID: "g1", QuestionText: "Q"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
	assert.Equal(t, "Artifact not found or access denied", apperr.As(err).Message)

	_, err = svc.Reword(ctx, "alice", Request{SessionID: "s1", QuestionText: "Q"})
	assert.Equal(t, apperr.KindValidation, apperr.As(err).Kind)

	model.answer = "I cannot help with that."
	_, err = svc.Reword(ctx, "alice", Request{SessionID: "s1", ArtifactID: "g1", QuestionText: "Q"})
	assert.Equal(t, apperr.KindUpstream, apperr.As(err).Kind)
}
