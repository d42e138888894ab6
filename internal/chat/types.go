package chat

import (
	"time"

	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/store"
)

// Response message types. Failed artifact saves are reported as text.
const (
	TypeText     = "text"
	TypeArtifact = "artifact"
)

type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Type      string `json:"type,omitempty"`
}

type ArtifactInfo struct {
	ID         string `json:"id"`
	ArtifactID string `json:"artifact_id"`
	Action     string `json:"action"`
	Version    int    `json:"version"`
	Title      string `json:"title"`
}

// Message is one entry of a reply, in the order it was stored.
type Message struct {
	MessageID    string            `json:"message_id"`
	Type         string            `json:"type"`
	Content      *string           `json:"content"`
	Role         string            `json:"role"`
	CreatedAt    time.Time         `json:"created_at"`
	SessionID    string            `json:"session_id"`
	ArtifactData artifact.Document `json:"artifact_data,omitempty"`
	ArtifactInfo *ArtifactInfo     `json:"artifact_info,omitempty"`
}

type Reply struct {
	Messages      []Message `json:"messages"`
	SessionID     string    `json:"session_id"`
	TotalMessages int       `json:"total_messages"`
}

// Summary is one row of the chat list.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	ProjectName  *string   `json:"project_name"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SessionInfo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	ProjectName *string   `json:"project_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryMessage is a stored message plus the artifact version it points to.
type HistoryMessage struct {
	store.Message
	Artifact *store.Artifact `json:"artifact,omitempty"`
}

type History struct {
	Session  SessionInfo      `json:"session"`
	Messages []HistoryMessage `json:"messages"`
}
