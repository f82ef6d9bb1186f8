package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scottrax/ai-agent-system/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.Count(),
	})
}

// handleHistoryList returns every persisted transcript, newest first. With a
// ?q= parameter it returns only the matching subset.
func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	var err error
	var records any
	if query != "" {
		records, err = s.history.Search(query)
	} else {
		records, err = s.history.List()
	}
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	AddLogField(r.Context(), "history_id", id)

	turns, err := s.history.Get(id)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "turns": turns})
}

// handleHistoryLoad replays a stored transcript into the caller's session. The
// body names the session owner; the interactive channel is assumed.
func (s *Server) handleHistoryLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	AddLogField(r.Context(), "history_id", id)

	owner := r.URL.Query().Get("session")
	if owner == "" {
		owner = "default"
	}

	sess := s.registry.GetOrCreate(session.ChannelInteractive, owner)
	if err := s.history.LoadInto(id, sess); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"session_id": sess.ID,
		"turns":      sess.Len(),
	})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	AddLogField(r.Context(), "history_id", id)

	if err := s.history.Delete(id); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
