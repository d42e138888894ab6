package rewriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pandapoll/chatbot/internal/apperr"
	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/history"
	"github.com/pandapoll/chatbot/internal/llm"
	"github.com/pandapoll/chatbot/internal/store"
)

const (
	maxSuggestions    = 5
	defaultConfidence = 0.8
	maxTokens         = 2000
)

// ErrUnparseable means the model answer held no usable suggestion list.
var ErrUnparseable = errors.New("Failed to parse AI response")

type Request struct {
	SessionID    string `json:"session_id"`
	ArtifactID   string `json:"artifact_id"`
	QuestionText string `json:"question_text"`
	QuestionID   string `json:"question_id,omitempty"`
}

type Suggestion struct {
	Reworded        string  `json:"reworded"`
	Reasoning       string  `json:"reasoning"`
	ImprovementType string  `json:"improvement_type"`
	Confidence      float64 `json:"confidence"`
}

type Response struct {
	OriginalQuestion string       `json:"original_question"`
	Suggestions      []Suggestion `json:"suggestions"`
}

// ArtifactReader loads the current version of an artifact for its owner.
type ArtifactReader interface {
	GetByGroupID(ctx context.Context, groupID, userID string) (*store.Artifact, error)
}

type Service struct {
	store     store.Store
	artifacts ArtifactReader
	llm       llm.Client
	budget    history.Budget
	log       *zap.Logger
}

func NewService(st store.Store, artifacts ArtifactReader, client llm.Client, budget history.Budget, log *zap.Logger) *Service {
	return &Service{store: st, artifacts: artifacts, llm: client, budget: budget, log: log.Named("rewriter")}
}

func (s *Service) Reword(ctx context.Context, userID string, req Request) (*Response, error) {
	if req.SessionID == "" || req.ArtifactID == "" || strings.TrimSpace(req.QuestionText) == "" {
		return nil, apperr.Validation("Missing required fields: session_id, artifact_id, question_text")
	}

	a, err := s.artifacts.GetByGroupID(ctx, req.ArtifactID, userID)
	if errors.Is(err, artifact.ErrNotAccessible) {
		return nil, apperr.NotFound("Artifact not found or access denied")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != userID) {
		return nil, apperr.NotFound("Resource not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if a.SessionID != sess.ID {
		return nil, apperr.NotFound("Artifact not found or access denied")
	}
	msgs, err := s.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("loading history: %w", err))
	}

	survey, err := artifact.ParseDocument(a.Document)
	if err != nil {
		s.log.Warn("stored artifact is not an object", zap.String("group_id", a.GroupID), zap.Error(err))
	}

	out, err := s.llm.Complete(ctx, llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(req.QuestionText, survey, history.Select(msgs, s.budget))}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, apperr.Upstream(err.Error(), err)
	}

	suggestions, err := ParseSuggestions(out)
	if err != nil {
		s.log.Error("unparseable rewording answer", zap.Error(err))
		return nil, apperr.Upstream(err.Error(), err)
	}
	if len(suggestions) < maxSuggestions {
		s.log.Warn("fewer suggestions than requested", zap.Int("got", len(suggestions)))
	}
	return &Response{OriginalQuestion: req.QuestionText, Suggestions: suggestions}, nil
}

// ParseSuggestions reads the widest {...} region of the answer and keeps the
// suggestions that have a wording, a reason and an improvement type.
func ParseSuggestions(text string) ([]Suggestion, error) {
	start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no object found", ErrUnparseable)
	}

	var parsed struct {
		Suggestions []map[string]any `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if parsed.Suggestions == nil {
		return nil, fmt.Errorf("%w: missing suggestions array", ErrUnparseable)
	}

	out := []Suggestion{}
	for _, raw := range parsed.Suggestions {
		reworded, _ := raw["reworded"].(string)
		reasoning, _ := raw["reasoning"].(string)
		kind, _ := raw["improvement_type"].(string)
		if strings.TrimSpace(reworded) == "" || strings.TrimSpace(reasoning) == "" || kind == "" {
			continue
		}
		confidence, ok := raw["confidence"].(float64)
		if !ok {
			confidence = defaultConfidence
		}
		out = append(out, Suggestion{
			Reworded:        strings.TrimSpace(reworded),
			Reasoning:       strings.TrimSpace(reasoning),
			ImprovementType: kind,
			Confidence:      confidence,
		})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}
