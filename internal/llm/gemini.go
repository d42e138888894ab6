package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient generates completions through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGeminiClient(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &GeminiClient{client: client, model: model, log: log.Named("gemini")}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, toGeminiContents(req.Messages), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &HTTPError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("gemini: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	c.log.Debug("completion", zap.Int("messages", len(req.Messages)))
	return text, nil
}

func toGeminiContents(msgs []Message) []*genai.Content {
	msgs = Normalize(msgs)
	out := make([]*genai.Content, len(msgs))
	for i, m := range msgs {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out[i] = genai.NewContentFromText(m.Content, role)
	}
	return out
}
