package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pandapoll/chatbot/internal/apperr"
	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/history"
	"github.com/pandapoll/chatbot/internal/llm"
	"github.com/pandapoll/chatbot/internal/prompt"
	"github.com/pandapoll/chatbot/internal/session"
	"github.com/pandapoll/chatbot/internal/store"
)

const (
	titleTimeout   = 30 * time.Second
	titleMaxTokens = 50
	listFanOut     = 8
)

type Options struct {
	Budget    history.Budget
	MaxTokens int
	SpanMode  artifact.SpanMode
}

// Service runs chat requests end to end.
type Service struct {
	store     store.Store
	artifacts *artifact.Service
	assembler *Assembler
	llm       llm.Client
	locks     *session.Manager
	opts      Options
	clock     *clock
	newID     func() string
	log       *zap.Logger

	titles sync.WaitGroup
}

func NewService(st store.Store, client llm.Client, locks *session.Manager, opts Options, log *zap.Logger) *Service {
	log = log.Named("chat")
	arts := artifact.NewService(st, log)
	s := &Service{
		store:     st,
		artifacts: arts,
		assembler: NewAssembler(arts, st, opts.SpanMode, log),
		llm:       client,
		locks:     locks,
		opts:      opts,
		clock:     newClock(),
		newID:     uuid.NewString,
		log:       log,
	}
	s.assembler.clock = s.clock
	return s
}

// Artifacts exposes the artifact service used for chat requests.
func (s *Service) Artifacts() *artifact.Service { return s.artifacts }

// HandleMessage stores the user's message, asks the model for a reply and
// returns the assembled assistant messages.
func (s *Service) HandleMessage(ctx context.Context, userID string, req Request) (*Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.Validation("Message is required")
	}

	sess, err := s.resolveSession(ctx, userID, req)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var reply *Reply
	err = s.locks.WithLock(sess.ID, func() error {
		var err error
		reply, err = s.handleLocked(ctx, userID, sess, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Service) handleLocked(ctx context.Context, userID string, sess *store.Session, req Request) (*Reply, error) {
	log := s.log.With(zap.String("session_id", sess.ID))

	count, err := s.store.CountMessages(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("counting messages: %w", err))
	}
	firstExchange := count == 0

	existing, err := s.artifacts.ListCurrent(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	project, err := s.project(ctx, userID, req.ProjectID, sess.ProjectID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	text := req.Message
	if err := s.store.AddMessage(ctx, &store.Message{
		ID:        s.newID(),
		SessionID: sess.ID,
		Role:      store.RoleUser,
		Content:   &text,
		Kind:      store.KindText,
		CreatedAt: s.clock.Next(),
	}); err != nil {
		return nil, apperr.Internal(fmt.Errorf("saving user message: %w", err))
	}

	stored, err := s.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("loading history: %w", err))
	}
	selected := history.Select(stored, s.opts.Budget)
	msgs := make([]llm.Message, len(selected))
	for i, m := range selected {
		msgs[i] = llm.Message{Role: m.Role, Content: m.Text()}
	}
	log.Debug("calling model",
		zap.Int("history", len(msgs)),
		zap.Int("stored", len(stored)),
		zap.Int("artifacts", len(existing)))

	completion, err := s.llm.Complete(ctx, llm.Request{
		System:    prompt.Compose(project, existing),
		Messages:  msgs,
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return nil, upstreamError(err)
	}

	reply, err := s.assembler.Assemble(ctx, sess.ID, completion)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if firstExchange {
		s.scheduleTitle(ctx, sess.ID, req.Message)
	}
	return reply, nil
}

// resolveSession reuses the requested session when it belongs to the user
// and starts a new one otherwise.
func (s *Service) resolveSession(ctx context.Context, userID string, req Request) (*store.Session, error) {
	if req.SessionID != "" {
		sess, err := s.store.GetSession(ctx, req.SessionID)
		switch {
		case err == nil && sess.UserID == userID:
			return sess, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("loading session: %w", err)
		}
		s.log.Info("requested session not available, starting a new one",
			zap.String("session_id", req.SessionID), zap.String("user_id", userID))
	}

	now := s.clock.Next()
	sess := &store.Session{
		ID:          s.newID(),
		UserID:      userID,
		Title:       store.DefaultSessionTitle,
		SessionType: store.DefaultSessionType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ProjectID != "" {
		pid := req.ProjectID
		sess.ProjectID = &pid
	}
	if req.Type != "" {
		sess.SessionType = req.Type
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

func (s *Service) project(ctx context.Context, userID, requested string, fromSession *string) (*store.Project, error) {
	id := requested
	if id == "" && fromSession != nil {
		id = *fromSession
	}
	if id == "" {
		return nil, nil
	}
	p, err := s.store.GetProject(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return p, nil
}

// scheduleTitle names the session in the background. The request context
// only contributes its values; the work outlives the request.
func (s *Service) scheduleTitle(ctx context.Context, sessionID, firstMessage string) {
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
		defer cancel()

		title := s.generateTitle(ctx, firstMessage)
		if err := s.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
			s.log.Error("failed to update session title", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		s.log.Info("session titled", zap.String("session_id", sessionID), zap.String("title", title))
	}()
}

func (s *Service) generateTitle(ctx context.Context, firstMessage string) string {
	out, err := s.llm.Complete(ctx, llm.Request{
		System:    prompt.TitleSystem,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt.TitlePrompt(firstMessage)}},
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		s.log.Warn("title generation failed, using fallback", zap.Error(err))
		return FallbackTitle(firstMessage)
	}
	title, ok := cleanModelTitle(out)
	if !ok {
		s.log.Warn("model title out of bounds, using fallback", zap.String("title", out))
		return FallbackTitle(firstMessage)
	}
	return title
}

// Wait blocks until background title updates have finished.
func (s *Service) Wait() {
	s.titles.Wait()
}

// ListSessions returns the user's chats, most recently active first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]Summary, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing sessions: %w", err))
	}

	out := make([]Summary, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFanOut)
	for i, sess := range sessions {
		g.Go(func() error {
			count, err := s.store.CountMessages(gctx, sess.ID)
			if err != nil {
				return fmt.Errorf("counting messages of %s: %w", sess.ID, err)
			}
			name, err := s.projectName(gctx, userID, sess.ProjectID)
			if err != nil {
				return err
			}
			title := sess.Title
			if title == "" {
				title = "Untitled Chat"
			}
			out[i] = Summary{
				ID:           sess.ID,
				Title:        title,
				Type:         sess.SessionType,
				ProjectName:  name,
				MessageCount: count,
				CreatedAt:    sess.CreatedAt,
				UpdatedAt:    sess.UpdatedAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// History returns a session with all of its messages and the artifact
// versions they reference.
func (s *Service) History(ctx context.Context, userID, sessionID string) (*History, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("loading messages: %w", err))
	}
	out := make([]HistoryMessage, len(msgs))
	for i, m := range msgs {
		out[i] = HistoryMessage{Message: m}
		if m.ArtifactID == nil {
			continue
		}
		a, err := s.store.GetArtifact(ctx, *m.ArtifactID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("loading artifact: %w", err))
		}
		out[i].Artifact = a
	}

	name, err := s.projectName(ctx, userID, sess.ProjectID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &History{
		Session: SessionInfo{
			ID:          sess.ID,
			Title:       sess.Title,
			Type:        sess.SessionType,
			ProjectName: name,
			CreatedAt:   sess.CreatedAt,
		},
		Messages: out,
	}, nil
}

// Delete removes one of the user's sessions with everything in it.
func (s *Service) Delete(ctx context.Context, userID, sessionID string) error {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return s.locks.WithLock(sess.ID, func() error {
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return apperr.Internal(fmt.Errorf("deleting session: %w", err))
		}
		return nil
	})
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*store.Session, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session_id required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != userID) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("loading session: %w", err))
	}
	return sess, nil
}

func (s *Service) projectName(ctx context.Context, userID string, projectID *string) (*string, error) {
	if projectID == nil {
		return nil, nil
	}
	p, err := s.store.GetProject(ctx, *projectID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return &p.Name, nil
}

func upstreamError(err error) error {
	var httpErr *llm.HTTPError
	if errors.As(err, &httpErr) {
		return apperr.Upstream(fmt.Sprintf("%s returned %d: %s", httpErr.Provider, httpErr.StatusCode, httpErr.Body), err)
	}
	return apperr.Upstream(err.Error(), err)
}
