package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/allnet-bridge/internal/history"
)

// defaultHistoryLimit is used when the limit query parameter is absent.
const defaultHistoryLimit = 50

// handleListPolls returns the most recent polls, newest first.
func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotSupported, "history is disabled")
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	polls, err := s.history.ListPolls(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing poll history failed", "error", err)
		writeInternalError(w, "failed to list poll history")
		return
	}
	if polls == nil {
		polls = []history.PollEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"polls": polls,
		"count": len(polls),
	})
}

// handleListCommands returns the most recent actor commands, newest first.
// The actor query parameter restricts the result to one actor.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotSupported, "history is disabled")
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	filter := history.CommandFilter{Limit: limit}

	if actor := r.URL.Query().Get("actor"); actor != "" {
		id, err := strconv.Atoi(actor)
		if err != nil || id < 0 {
			writeBadRequest(w, "actor must be a non-negative integer")
			return
		}
		filter.ActorID = id
		filter.HasActor = true
	}

	commands, err := s.history.ListCommands(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command history failed", "error", err)
		writeInternalError(w, "failed to list command history")
		return
	}
	if commands == nil {
		commands = []history.CommandEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
