package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pandapoll/chatbot/internal/store"
)

var (
	// ErrSaveFailed wraps every persistence failure while creating a version.
	ErrSaveFailed = errors.New("artifact could not be saved")
	// ErrNotAccessible covers missing artifacts and artifacts of other users.
	ErrNotAccessible = errors.New("artifact not found")
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"

	typeLabel = "survey_template"
)

// Info describes a stored artifact version.
type Info struct {
	GroupID string
	RowID   string
	Version int
	Title   string
	Action  string
}

// Service versions artifacts on top of a store. Versions are only ever
// appended; the current one is the highest version in the session.
type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewService(s store.Store, log *zap.Logger) *Service {
	return &Service{
		store: s,
		log:   log.Named("artifact"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Save stores doc as a new artifact or as the next version of the group it
// names. The returned document carries the real group id.
func (s *Service) Save(ctx context.Context, sessionID string, doc Document) (*Info, Document, error) {
	var (
		info *Info
		err  error
	)
	if doc.IsNew() {
		info, err = s.CreateNew(ctx, sessionID, doc)
	} else {
		groupID, _ := doc.GroupID()
		info, err = s.CreateNextVersion(ctx, sessionID, groupID, doc)
	}
	if err != nil {
		return nil, nil, err
	}
	return info, doc.WithGroupID(info.GroupID), nil
}

// CreateNew allocates a fresh group and stores doc as its version 1.
func (s *Service) CreateNew(ctx context.Context, sessionID string, doc Document) (*Info, error) {
	a, err := s.row(sessionID, s.newID(), doc)
	if err != nil {
		return nil, err
	}
	a.Version = 1
	if err := s.store.InsertArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return info(a, ActionCreated), nil
}

// CreateNextVersion appends doc to groupID within the session. A group the
// session does not know gets a brand new artifact under a fresh id instead.
func (s *Service) CreateNextVersion(ctx context.Context, sessionID, groupID string, doc Document) (*Info, error) {
	a, err := s.row(sessionID, groupID, doc)
	if err != nil {
		return nil, err
	}
	err = s.store.AppendArtifactVersion(ctx, a)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("unknown artifact group, creating new artifact",
			zap.String("session_id", sessionID), zap.String("group_id", groupID))
		return s.CreateNew(ctx, sessionID, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return info(a, ActionUpdated), nil
}

// Revise stores a user-edited document as the next version of groupID in the
// session that owns it.
func (s *Service) Revise(ctx context.Context, groupID, userID string, doc Document) (*Info, Document, error) {
	current, err := s.GetByGroupID(ctx, groupID, userID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.row(current.SessionID, groupID, doc)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.AppendArtifactVersion(ctx, a); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return info(a, ActionUpdated), doc.WithGroupID(groupID), nil
}

// ListCurrent returns the current version of every artifact in the session,
// most recently created first.
func (s *Service) ListCurrent(ctx context.Context, sessionID string) ([]store.Artifact, error) {
	rows, err := s.store.ListArtifacts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}

	latest := make(map[string]store.Artifact)
	for _, a := range rows {
		if cur, ok := latest[a.GroupID]; !ok || a.Version > cur.Version {
			latest[a.GroupID] = a
		}
	}
	out := make([]store.Artifact, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetByGroupID returns the current version of a group if its session belongs
// to userID. Absence and foreign ownership are indistinguishable.
func (s *Service) GetByGroupID(ctx context.Context, groupID, userID string) (*store.Artifact, error) {
	a, err := s.store.LatestArtifact(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAccessible
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact: %w", err)
	}

	sess, err := s.store.GetSession(ctx, a.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAccessible
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact session: %w", err)
	}
	if sess.UserID != userID {
		return nil, ErrNotAccessible
	}
	return a, nil
}

func (s *Service) row(sessionID, groupID string, doc Document) (*store.Artifact, error) {
	raw, err := doc.WithGroupID(groupID).Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding document: %w", ErrSaveFailed, err)
	}
	now := s.now().UTC()
	title := doc.Title()
	if title == "" {
		title = fmt.Sprintf("%s_%d", typeLabel, now.UnixMilli())
	}
	return &store.Artifact{
		ID:        s.newID(),
		GroupID:   groupID,
		SessionID: sessionID,
		Title:     title,
		Document:  raw,
		CreatedAt: now,
	}, nil
}

func info(a *store.Artifact, action string) *Info {
	return &Info{
		GroupID: a.GroupID,
		RowID:   a.ID,
		Version: a.Version,
		Title:   a.Title,
		Action:  action,
	}
}
