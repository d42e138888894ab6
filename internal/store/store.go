package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a session, artifact or project does not exist
// (or, for projects, does not belong to the requesting user).
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message kinds.
const (
	KindText     = "text"
	KindArtifact = "artifact"
	KindError    = "error"
)

const (
	DefaultSessionTitle = "New Chat Session"
	DefaultSessionType  = "general"
)

// Session is one conversation thread owned by a user.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ProjectID   *string   `json:"project_id,omitempty"`
	Title       string    `json:"title"`
	SessionType string    `json:"session_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one immutable chat turn. Content is nil for messages that only
// carry an artifact.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    *string   `json:"content"`
	Kind       string    `json:"message_type"`
	IsArtifact bool      `json:"is_artifact"`
	ArtifactID *string   `json:"artifact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Text returns the message content or "" for content-less messages.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Artifact is one version of a survey template. All versions of the same
// logical artifact share GroupID.
type Artifact struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"artifact_group_id"`
	SessionID string          `json:"session_id"`
	Title     string          `json:"title"`
	Version   int             `json:"version"`
	Document  json.RawMessage `json:"template_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Project is read-only research context owned by a user.
type Project struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	TargetAudience string   `json:"target_audience"`
	ResearchGoals  []string `json:"research_goals"`
}

// Store persists sessions, messages, artifacts and projects.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	// DeleteSession removes the session with its messages and artifacts.
	DeleteSession(ctx context.Context, id string) error

	// AddMessage appends a message and bumps the session's UpdatedAt.
	AddMessage(ctx context.Context, m *Message) error
	// ListMessages returns a session's messages in chronological order.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// InsertArtifact stores a new row as given.
	InsertArtifact(ctx context.Context, a *Artifact) error
	// AppendArtifactVersion atomically sets a.Version to the current maximum
	// version of (a.SessionID, a.GroupID) plus one and inserts the row.
	// It returns ErrNotFound when the group has no rows in the session.
	AppendArtifactVersion(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, rowID string) (*Artifact, error)
	// LatestArtifact returns the highest version of a group across sessions.
	LatestArtifact(ctx context.Context, groupID string) (*Artifact, error)
	// ListArtifacts returns every artifact row of a session.
	ListArtifacts(ctx context.Context, sessionID string) ([]Artifact, error)

	// GetProject returns the project if it belongs to userID.
	GetProject(ctx context.Context, id, userID string) (*Project, error)

	Close() error
}
