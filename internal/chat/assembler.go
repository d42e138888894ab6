package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/store"
)

const saveFailedText = "I encountered an error while saving the artifact. The content was generated but could not be stored."

// ArtifactSaver stores a document as a new artifact or a new version.
type ArtifactSaver interface {
	Save(ctx context.Context, sessionID string, doc artifact.Document) (*artifact.Info, artifact.Document, error)
}

// MessageWriter persists chat messages.
type MessageWriter interface {
	AddMessage(ctx context.Context, m *store.Message) error
}

// Assembler turns one model completion into the ordered messages of a reply:
// leading prose, the artifact (or an apology if it could not be saved) and
// trailing prose. Every emitted message is stored before it is returned.
type Assembler struct {
	artifacts ArtifactSaver
	messages  MessageWriter
	mode      artifact.SpanMode
	clock     *clock
	newID     func() string
	log       *zap.Logger
}

func NewAssembler(artifacts ArtifactSaver, messages MessageWriter, mode artifact.SpanMode, log *zap.Logger) *Assembler {
	return &Assembler{
		artifacts: artifacts,
		messages:  messages,
		mode:      mode,
		clock:     newClock(),
		newID:     uuid.NewString,
		log:       log.Named("assembler"),
	}
}

func (a *Assembler) Assemble(ctx context.Context, sessionID, completion string) (*Reply, error) {
	reply := &Reply{SessionID: sessionID, Messages: []Message{}}

	ex, ok := artifact.Extract(completion, a.mode)
	if !ok {
		if err := a.emitText(ctx, reply, artifact.Sanitize(completion), store.KindText); err != nil {
			return nil, err
		}
		reply.TotalMessages = len(reply.Messages)
		return reply, nil
	}

	if before := artifact.Sanitize(ex.Before); before != "" {
		if err := a.emitText(ctx, reply, before, store.KindText); err != nil {
			return nil, err
		}
	}

	if problems := artifact.Inspect(ex.Document); len(problems) > 0 {
		a.log.Warn("artifact does not match template shape",
			zap.String("session_id", sessionID), zap.Strings("problems", problems))
	}

	info, doc, err := a.artifacts.Save(ctx, sessionID, ex.Document)
	if err != nil {
		a.log.Error("failed to save artifact", zap.String("session_id", sessionID), zap.Error(err))
		if err := a.emitText(ctx, reply, saveFailedText, store.KindError); err != nil {
			return nil, err
		}
	} else if err := a.emitArtifact(ctx, reply, info, doc); err != nil {
		return nil, err
	}

	if after := artifact.Sanitize(ex.After); after != "" {
		if err := a.emitText(ctx, reply, after, store.KindText); err != nil {
			return nil, err
		}
	}

	reply.TotalMessages = len(reply.Messages)
	return reply, nil
}

func (a *Assembler) emitText(ctx context.Context, reply *Reply, text, kind string) error {
	m := &store.Message{
		ID:        a.newID(),
		SessionID: reply.SessionID,
		Role:      store.RoleAssistant,
		Content:   &text,
		Kind:      kind,
		CreatedAt: a.clock.Next(),
	}
	if err := a.messages.AddMessage(ctx, m); err != nil {
		return fmt.Errorf("saving assistant message: %w", err)
	}
	reply.Messages = append(reply.Messages, Message{
		MessageID: m.ID,
		Type:      TypeText,
		Content:   m.Content,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
		SessionID: m.SessionID,
	})
	return nil
}

func (a *Assembler) emitArtifact(ctx context.Context, reply *Reply, info *artifact.Info, doc artifact.Document) error {
	rowID := info.RowID
	m := &store.Message{
		ID:         a.newID(),
		SessionID:  reply.SessionID,
		Role:       store.RoleAssistant,
		Kind:       store.KindArtifact,
		IsArtifact: true,
		ArtifactID: &rowID,
		CreatedAt:  a.clock.Next(),
	}
	if err := a.messages.AddMessage(ctx, m); err != nil {
		return fmt.Errorf("saving artifact message: %w", err)
	}
	reply.Messages = append(reply.Messages, Message{
		MessageID:    m.ID,
		Type:         TypeArtifact,
		Role:         m.Role,
		CreatedAt:    m.CreatedAt,
		SessionID:    m.SessionID,
		ArtifactData: doc,
		ArtifactInfo: &ArtifactInfo{
			ID:         info.GroupID,
			ArtifactID: info.RowID,
			Action:     info.Action,
			Version:    info.Version,
			Title:      info.Title,
		},
	})
	return nil
}
