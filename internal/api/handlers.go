package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pandapoll/chatbot/internal/apperr"
	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/auth"
	"github.com/pandapoll/chatbot/internal/chat"
	"github.com/pandapoll/chatbot/internal/rewriter"
)

func userID(r *http.Request) string {
	id, _ := auth.UserID(r.Context())
	return id
}

// chatQuery serves ?action=list and ?action=history&session_id=.
func (h *handler) chatQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch q.Get("action") {
	case "list":
		chats, err := h.chat.ListSessions(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
	case "history":
		hist, err := h.chat.History(r.Context(), userID(r), q.Get("session_id"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, hist)
	default:
		h.writeError(w, r, apperr.Validation("Invalid action. Use ?action=list or ?action=history&session_id=xxx"))
	}
}

func (h *handler) chatMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reply, err := h.chat.HandleMessage(r.Context(), userID(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handler) chatDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, r, apperr.Validation("session_id is required for DELETE requests"))
		return
	}
	if err := h.chat.Delete(r.Context(), userID(r), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Chat deleted successfully",
		"session_id": sessionID,
	})
}

func (h *handler) artifactGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.chat.Artifacts().GetByGroupID(r.Context(), chi.URLParam(r, "groupID"), userID(r))
	if err != nil {
		h.writeError(w, r, artifactError(err))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// artifactSave stores an edited document as the next version of the group.
func (h *handler) artifactSave(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TemplateData json.RawMessage `json:"template_data"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := artifact.ParseDocument(body.TemplateData)
	if err != nil {
		h.writeError(w, r, apperr.Validation("template_data must be a JSON object"))
		return
	}

	groupID := chi.URLParam(r, "groupID")
	info, _, err := h.chat.Artifacts().Revise(r.Context(), groupID, userID(r), doc)
	if err != nil {
		h.writeError(w, r, artifactError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Artifact auto-saved successfully",
		"artifact_id": groupID,
		"version":     info.Version,
	})
}

func artifactError(err error) error {
	if errors.Is(err, artifact.ErrNotAccessible) {
		return apperr.NotFound("Artifact not found")
	}
	return apperr.Internal(err)
}

func (h *handler) reword(w http.ResponseWriter, r *http.Request) {
	var req rewriter.Request
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.rewriter.Reword(r.Context(), userID(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
