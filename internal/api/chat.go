package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/autoquery/autoquery/internal/auth"
	"github.com/autoquery/autoquery/internal/chat"
	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/tools"
)

const maxRequestBytes = 1 << 20

type chatRequest struct {
	Message   string      `json:"message"`
	History   []chat.Turn `json:"history"`
	SessionID string      `json:"session_id"`
}

type chatResponse struct {
	Response  string             `json:"response"`
	SessionID string             `json:"session_id"`
	Steps     []tools.Invocation `json:"steps"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireRole(r, auth.RoleChat); err != nil {
		observability.ObserveChatRequest("forbidden")
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&request); err != nil {
		observability.ObserveChatRequest("bad_request")
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	message := strings.TrimSpace(request.Message)
	if message == "" {
		observability.ObserveChatRequest("bad_request")
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}
	if deps.Agent == nil || deps.Accessor == nil {
		observability.ObserveChatRequest("unavailable")
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_INITIALIZED", "assistant is not initialized", true, nil)
		return
	}

	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		sessionID = chat.NewSessionID()
	}
	history := deps.Sessions.History(sessionID)
	if request.History != nil {
		history = chat.Bound(request.History, deps.Sessions.MaxTurns())
	}

	reply, err := deps.Agent.Run(r.Context(), message, history)
	observability.AnnotateRequest(r.Context(),
		slog.String("session_id", sessionID),
		slog.Int("tool_calls", len(reply.Steps)),
		slog.Bool("stopped", reply.Stopped),
	)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "chat request failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("session_id", sessionID),
				slog.Int("steps", len(reply.Steps)),
				slog.String("error", err.Error()),
			)
		}
		observability.ObserveChatRequest("error")
		writeError(r.Context(), w, http.StatusInternalServerError, "AGENT_FAILED", "the assistant could not answer this request", true, map[string]any{"session_id": sessionID})
		return
	}

	deps.Sessions.Record(sessionID, history, chat.Turn{User: message, Assistant: reply.Text})
	if reply.Stopped {
		observability.ObserveChatRequest("stopped")
	} else {
		observability.ObserveChatRequest("ok")
	}
	steps := reply.Steps
	if steps == nil {
		steps = []tools.Invocation{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply.Text, SessionID: sessionID, Steps: steps})
}
