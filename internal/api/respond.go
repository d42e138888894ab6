package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/pandapoll/chatbot/internal/apperr"
	"github.com/pandapoll/chatbot/internal/auth"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	status := e.Kind.Status()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: e.Message, Details: e.Details})
}

func (h *handler) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	msg := auth.ErrInvalidToken.Error()
	if errors.Is(err, auth.ErrMissingToken) {
		msg = auth.ErrMissingToken.Error()
	}
	h.log.Debug("unauthorized request", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: msg})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "Invalid JSON in request body", err)
	}
	return nil
}
