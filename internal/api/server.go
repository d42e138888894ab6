// Package api exposes the chat, artifact and question rewriter endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pandapoll/chatbot/internal/auth"
	"github.com/pandapoll/chatbot/internal/chat"
	"github.com/pandapoll/chatbot/internal/ratelimit"
	"github.com/pandapoll/chatbot/internal/rewriter"
)

type Deps struct {
	Chat     *chat.Service
	Rewriter *rewriter.Service
	Verifier auth.Verifier
	Limiter  ratelimit.Limiter
	Origins  []string
	Log      *zap.Logger
}

type handler struct {
	chat     *chat.Service
	rewriter *rewriter.Service
	limiter  ratelimit.Limiter
	log      *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	h := &handler{chat: d.Chat, rewriter: d.Rewriter, limiter: d.Limiter, log: d.Log.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors(d.Origins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier, h.authFailed))

		r.Get("/chatbot", h.chatQuery)
		r.With(h.rateLimit).Post("/chatbot", h.chatMessage)
		r.Delete("/chatbot", h.chatDelete)

		r.Get("/artifacts/{groupID}", h.artifactGet)
		r.Put("/artifacts/{groupID}", h.artifactSave)

		r.With(h.rateLimit).Post("/question-rewriter", h.reword)
	})

	return r
}
