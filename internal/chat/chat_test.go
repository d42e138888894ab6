package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/pandapoll/chatbot/internal/apperr"
	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/history"
	"github.com/pandapoll/chatbot/internal/llm"
	"github.com/pandapoll/chatbot/internal/session"
	"github.com/pandapoll/chatbot/internal/store"
)

// genai pulls in opencensus, whose view worker starts at package init.
var ignoreInit = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

// fakeLLM answers title requests with title and everything else with reply.
type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	replyErr error
	title    string
	titleErr error
	calls    []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if strings.HasPrefix(req.System, "You name chat conversations") {
		return f.title, f.titleErr
	}
	return f.reply, f.replyErr
}

func (f *fakeLLM) chatCalls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, c := range f.calls {
		if !strings.HasPrefix(c.System, "You name chat conversations") {
			out = append(out, c)
		}
	}
	return out
}

func newBolt(t *testing.T) *store.BoltStore {
	t.Helper()
	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T, st store.Store, model llm.Client) *Service {
	t.Helper()
	return NewService(st, model, session.NewManager(), Options{
		Budget:    history.Budget{Tokens: history.DefaultTokenLimit, MaxMessages: history.DefaultMaxMessages},
		MaxTokens: 4000,
	}, zaptest.NewLogger(t))
}

func TestFirstMessageCreatesSessionAndTitle(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)
	model := &fakeLLM{reply: "Happy to help. What stage is your product at?", title: "SaaS Pricing Research"}
	svc := newTestService(t, db, model)

	reply, err := svc.HandleMessage(ctx, "alice", Request{Message: "Help me research pricing"})
	require.NoError(t, err)
	svc.Wait()

	sessions, err := db.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessions[0].ID, reply.SessionID)
	assert.Equal(t, "SaaS Pricing Research", sessions[0].Title)

	msgs, err := db.ListMessages(ctx, reply.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "Help me research pricing", msgs[0].Text())
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))

	calls := model.chatCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "No existing artifacts in this conversation yet.")
	assert.Equal(t, []llm.Message{{Role: store.RoleUser, Content: "Help me research pricing"}}, calls[0].Messages)
	assert.Equal(t, 4000, calls[0].MaxTokens)

	require.Len(t, reply.Messages, 1)
	assert.Equal(t, 1, reply.TotalMessages)
	assert.Equal(t, TypeText, reply.Messages[0].Type)

	// The second exchange does not rename the session.
	model.title = "Something Else"
	_, err = svc.HandleMessage(ctx, "alice", Request{Message: "It is in beta", SessionID: reply.SessionID})
	require.NoError(t, err)
	svc.Wait()
	sess, err := db.GetSession(ctx, reply.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "SaaS Pricing Research", sess.Title)

	calls = model.chatCalls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 3)
}

func TestTitleFallsBackWhenModelFails(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)

	for name, model := range map[string]*fakeLLM{
		"error":     {reply: "ok", titleErr: errors.New("timeout")},
		"multiline": {reply: "ok", title: "Line one\nLine two"},
		"too long":  {reply: "ok", title: strings.Repeat("word ", 20)},
		"empty":     {reply: "ok", title: "  \"\"  "},
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, db, model)
			reply, err := svc.HandleMessage(ctx, "alice", Request{Message: "Tell me about pricing strategies for SaaS products"})
			require.NoError(t, err)
			svc.Wait()

			sess, err := db.GetSession(ctx, reply.SessionID)
			require.NoError(t, err)
			assert.Equal(t, "Tell me about pricing strategies", sess.Title)
		})
	}
}

func TestArtifactReplyIsSplit(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)
	model := &fakeLLM{
		reply: `Sure! {"group_id":"new","title":"Pricing Survey","pages":[]} Let me know if you'd like changes.`,
		title: "Pricing",
	}
	svc := newTestService(t, db, model)

	reply, err := svc.HandleMessage(ctx, "alice", Request{Message: "Make me a pricing survey"})
	require.NoError(t, err)
	svc.Wait()

	require.Len(t, reply.Messages, 3)
	assert.Equal(t, 3, reply.TotalMessages)

	assert.Equal(t, TypeText, reply.Messages[0].Type)
	assert.Equal(t, "Sure!", *reply.Messages[0].Content)

	art := reply.Messages[1]
	assert.Equal(t, TypeArtifact, art.Type)
	assert.Nil(t, art.Content)
	require.NotNil(t, art.ArtifactInfo)
	assert.Equal(t, "Pricing Survey", art.ArtifactInfo.Title)
	assert.Equal(t, artifact.ActionCreated, art.ArtifactInfo.Action)
	assert.Equal(t, 1, art.ArtifactInfo.Version)
	assert.NotEqual(t, "new", art.ArtifactInfo.ID)
	assert.Equal(t, art.ArtifactInfo.ID, art.ArtifactData["group_id"])

	assert.Equal(t, TypeText, reply.Messages[2].Type)
	assert.Equal(t, "Let me know if you'd like changes.", *reply.Messages[2].Content)

	msgs, err := db.ListMessages(ctx, reply.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.True(t, msgs[2].IsArtifact)
	assert.Nil(t, msgs[2].Content)
	require.NotNil(t, msgs[2].ArtifactID)
	assert.Equal(t, art.ArtifactInfo.ArtifactID, *msgs[2].ArtifactID)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
	}

	// The next turn updates the same artifact and sees it in the prompt.
	groupID := art.ArtifactInfo.ID
	model.reply = `Updated: {"group_id":"` + groupID + `","title":"Pricing Survey v2","pages":[]}`
	reply, err = svc.HandleMessage(ctx, "alice", Request{Message: "Add a question", SessionID: reply.SessionID})
	require.NoError(t, err)
	require.Len(t, reply.Messages, 2)
	info := reply.Messages[1].ArtifactInfo
	require.NotNil(t, info)
	assert.Equal(t, artifact.ActionUpdated, info.Action)
	assert.Equal(t, 2, info.Version)
	assert.Equal(t, groupID, info.ID)

	calls := model.chatCalls()
	assert.Contains(t, calls[1].System, `- group_id: `+groupID+`, title: "Pricing Survey", version: 1`)
}

type failingSaver struct{}

func (failingSaver) Save(context.Context, string, artifact.Document) (*artifact.Info, artifact.Document, error) {
	return nil, nil, artifact.ErrSaveFailed
}

func TestAssembleSaveFailure(t *testing.T) {
	ctx := context.Background()
	db := newBolt(t)
	require.NoError(t, db.CreateSession(ctx, &store.Session{ID: "s1", UserID: "alice"}))

	a := NewAssembler(failingSaver{}, db, artifact.SpanLegacy, zaptest.NewLogger(t))
	reply, err := a.Assemble(ctx, "s1", `Before {"group_id":"new","title":"T"} after`)
	require.NoError(t, err)

	require.Len(t, reply.Messages, 3)
	assert.Equal(t, "Before", *reply.Messages[0].Content)
	assert.Equal(t, TypeText, reply.Messages[1].Type)
	assert.Equal(t, saveFailedText, *reply.Messages[1].Content)
	assert.Nil(t, reply.Messages[1].ArtifactInfo)
	assert.Equal(t, "after", *reply.Messages[2].Content)

	msgs, err := db.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, store.KindError, msgs[1].Kind)
	assert.False(t, msgs[1].IsArtifact)
}

func TestAssemblePlainText(t *testing.T) {
	ctx := context.Background()
	db := newBolt(t)
	require.NoError(t, db.CreateSession(ctx, &store.Session{ID: "s1", UserID: "alice"}))
	svc := artifact.NewService(db, zaptest.NewLogger(t))

	a := NewAssembler(svc, db, artifact.SpanLegacy, zaptest.NewLogger(t))
	reply, err := a.Assemble(ctx, "s1", "Here's a JSON template for you: ```json\n{\"title\":\"no group\"}\n```")
	require.NoError(t, err)
	require.Len(t, reply.Messages, 1)
	assert.Equal(t, "Here's a template: {\"title\":\"no group\"}", *reply.Messages[0].Content)
}

type failingWriter struct{ err error }

func (f failingWriter) AddMessage(context.Context, *store.Message) error { return f.err }

func TestAssembleMessageSaveFailureAborts(t *testing.T) {
	boom := errors.New("db down")
	a := NewAssembler(failingSaver{}, failingWriter{boom}, artifact.SpanLegacy, zaptest.NewLogger(t))
	_, err := a.Assemble(context.Background(), "s1", "hello")
	assert.ErrorIs(t, err, boom)
}

func TestHandleMessageErrors(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)

	svc := newTestService(t, db, &fakeLLM{})
	_, err := svc.HandleMessage(ctx, "alice", Request{Message: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.As(err).Kind)

	svc = newTestService(t, db, &fakeLLM{replyErr: &llm.HTTPError{Provider: "anthropic", StatusCode: 529, Body: "overloaded"}})
	_, err = svc.HandleMessage(ctx, "alice", Request{Message: "hi"})
	e := apperr.As(err)
	assert.Equal(t, apperr.KindUpstream, e.Kind)
	assert.Contains(t, e.Details, "529")
	svc.Wait()
}

func TestForeignSessionStartsNewOne(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)
	require.NoError(t, db.CreateSession(ctx, &store.Session{ID: "bobs", UserID: "bob", Title: "Bob"}))

	svc := newTestService(t, db, &fakeLLM{reply: "hi", title: "T"})
	reply, err := svc.HandleMessage(ctx, "alice", Request{Message: "hello", SessionID: "bobs"})
	require.NoError(t, err)
	svc.Wait()
	assert.NotEqual(t, "bobs", reply.SessionID)

	n, err := db.CountMessages(ctx, "bobs")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProjectContextInPrompt(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)
	require.NoError(t, db.PutProject(store.Project{ID: "p1", UserID: "alice", Name: "Dog Flix", ResearchGoals: []string{"pricing"}}))

	model := &fakeLLM{reply: "ok", title: "T"}
	svc := newTestService(t, db, model)
	reply, err := svc.HandleMessage(ctx, "alice", Request{Message: "hello", ProjectID: "p1"})
	require.NoError(t, err)
	_, err = svc.HandleMessage(ctx, "alice", Request{Message: "again", SessionID: reply.SessionID})
	require.NoError(t, err)
	svc.Wait()

	for _, c := range model.chatCalls() {
		assert.Contains(t, c.System, "- Name: Dog Flix")
	}

	list, err := svc.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ProjectName)
	assert.Equal(t, "Dog Flix", *list[0].ProjectName)
	assert.Equal(t, 4, list[0].MessageCount)
}

func TestHistoryAndDelete(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInit)
	ctx := context.Background()
	db := newBolt(t)
	svc := newTestService(t, db, &fakeLLM{reply: `Here {"group_id":"new","title":"S"}`, title: "T"})

	reply, err := svc.HandleMessage(ctx, "alice", Request{Message: "survey please"})
	require.NoError(t, err)
	svc.Wait()

	h, err := svc.History(ctx, "alice", reply.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "T", h.Session.Title)
	require.Len(t, h.Messages, 3)
	require.NotNil(t, h.Messages[2].Artifact)
	assert.Equal(t, "S", h.Messages[2].Artifact.Title)

	_, err = svc.History(ctx, "bob", reply.SessionID)
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
	_, err = svc.History(ctx, "alice", "")
	assert.Equal(t, apperr.KindValidation, apperr.As(err).Kind)

	err = svc.Delete(ctx, "bob", reply.SessionID)
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
	require.NoError(t, svc.Delete(ctx, "alice", reply.SessionID))
	_, err = svc.History(ctx, "alice", reply.SessionID)
	assert.Equal(t, apperr.KindNotFound, apperr.As(err).Kind)
}

func TestFallbackTitle(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("extraordinarily ", 20))
	for _, tc := range []struct{ in, want string }{
		{"Tell me about pricing strategies for SaaS products", "Tell me about pricing strategies"},
		{"", DefaultTitle},
		{"   \n\t ", DefaultTitle},
		{"help   me\twith a survey", "Help me with a survey"},
		{"what do dogs think of the new flavor", "What do dogs think"},
		{long, "Extraordinarily extraordinarily extraordinarily..."},
		{"ästhetik test", "Ästhetik test"},
	} {
		got := FallbackTitle(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.LessOrEqual(t, len([]rune(got)), 50)
	}
}

func TestCleanModelTitle(t *testing.T) {
	got, ok := cleanModelTitle(`  "Pricing Research"  `)
	assert.True(t, ok)
	assert.Equal(t, "Pricing Research", got)

	for _, bad := range []string{"", "  ", "a\nb", strings.Repeat("x", 51)} {
		_, ok := cleanModelTitle(bad)
		assert.False(t, ok, bad)
	}
}

func TestClockStrictlyIncreases(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClock()
	c.now = func() time.Time { return fixed }
	a, b := c.Next(), c.Next()
	assert.True(t, b.After(a))
	assert.Equal(t, time.Microsecond, b.Sub(a))
}
