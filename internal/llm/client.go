// Package llm talks to hosted language models.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// requestTimeout bounds a single completion call.
const requestTimeout = 120 * time.Second

type Message struct {
	Role    string
	Content string
}

type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Client returns the text of one model completion.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPError is returned when a provider answers with a non-2xx status.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}
