// Package api is the HTTP surface: the chat endpoint, the Google OAuth
// flow, and the MCP server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/dayplan/internal/calendar"
	"github.com/kalambet/dayplan/internal/pipeline"
	"github.com/kalambet/dayplan/internal/task"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	sessionCookie      = "dayplan_session"
	sessionMaxAge      = 24 * 60 * 60
	processingFailed   = "I'm sorry, I encountered an error processing your request. Please try again."
)

// Processor runs one conversational turn.
type Processor interface {
	Process(ctx context.Context, sessionID, input string) (pipeline.TurnResult, error)
}

// ActionRunner executes a pending calendar action.
type ActionRunner interface {
	Execute(ctx context.Context, sessionID, accessToken string, fc task.FunctionCall) pipeline.TurnResult
}

// ChatDeps holds the chat handler's collaborators.
type ChatDeps struct {
	Processor Processor
	Executor  ActionRunner
	OAuth     *calendar.OAuth
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Text        string `json:"text"`
	AccessToken string `json:"accessToken,omitempty"`
}

// NewChatHandler returns the HTTP handler for the chat API.
func NewChatHandler(deps ChatDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/api/chat", handleChat(deps))
	r.Get("/auth/google", handleAuthRedirect(deps))
	r.Get("/auth/google/callback", handleAuthCallback(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		sessionID := ensureSession(w, r)

		result, err := deps.Processor.Process(r.Context(), sessionID, req.Text)
		if err != nil {
			var verr *pipeline.ValidationError
			if errors.As(err, &verr) {
				respondError(w, http.StatusBadRequest, verr.Message)
				return
			}

			// Timeouts and model failures stay behind a generic reply;
			// the detail goes to the log only.
			slog.Error("turn processing failed", "session", sessionID, "error", err)
			respondData(w, task.ChatResponse{Message: processingFailed})
			return
		}

		if result.State == pipeline.StateActionPending && result.Response.FunctionCall != nil {
			result = deps.Executor.Execute(r.Context(), sessionID, req.AccessToken, *result.Response.FunctionCall)
		}

		respondData(w, result.Response)
	}
}

func handleAuthRedirect(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.OAuth == nil || !deps.OAuth.Configured() {
			respondError(w, http.StatusServiceUnavailable, "Google Calendar integration is not configured")
			return
		}
		http.Redirect(w, r, deps.OAuth.AuthURL(uuid.NewString()), http.StatusFound)
	}
}

func handleAuthCallback(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.OAuth == nil || !deps.OAuth.Configured() {
			respondError(w, http.StatusServiceUnavailable, "Google Calendar integration is not configured")
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			respondError(w, http.StatusBadRequest, "missing authorization code")
			return
		}

		tok, err := deps.OAuth.Exchange(r.Context(), code)
		if err != nil {
			slog.Error("token exchange failed", "error", err)
			respondError(w, http.StatusBadGateway, "authorization failed")
			return
		}

		// The token travels in the fragment so it never reaches server
		// logs or Referer headers.
		http.Redirect(w, r, "/#access_token="+tok.AccessToken, http.StatusFound)
	}
}

// ensureSession reads the session cookie, minting a fresh session and
// setting the cookie when absent.
func ensureSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return id
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: msg})
}
