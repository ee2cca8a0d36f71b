package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoquery/autoquery/internal/agent"
	"github.com/autoquery/autoquery/internal/chat"
	"github.com/autoquery/autoquery/internal/config"
	"github.com/autoquery/autoquery/internal/dataset"
	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/query"
)

type ReadinessCheck func(ctx context.Context) error

// ChatAgent answers one message given the prior turns.
type ChatAgent interface {
	Run(ctx context.Context, message string, history []chat.Turn) (agent.Reply, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Agent             ChatAgent
	Accessor          query.Accessor
	Sessions          *chat.Store
	Schema            dataset.Schema
	// InitError explains why Agent or Accessor is missing.
	InitError     error
	QueryRowLimit int
	UI            http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = chat.NewStore(cfg.Chat.MaxTurns)
		deps.Sessions.SetMaxSessions(cfg.Chat.MaxSessions)
	}
	if deps.QueryRowLimit <= 0 {
		deps.QueryRowLimit = defaultQueryRowLimit
	}
	if len(deps.Schema.Tables) == 0 {
		deps.Schema = dataset.Automotive()
	}

	mux := http.NewServeMux()

	health := func(w http.ResponseWriter, r *http.Request) {
		handleHealth(cfg, deps, w, r)
	}
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /healthz", health)
	mux.HandleFunc("GET /_ah/warmup", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "warm"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	protected.HandleFunc("POST /api/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	protected.HandleFunc("GET /api/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /api/chat", protectedHandler)
	mux.Handle("POST /api/query", protectedHandler)
	mux.Handle("GET /api/schema", protectedHandler)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, CORSMiddleware)
	return chain(mux, middlewares...)
}

func handleHealth(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	timeout := deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	check := CombineReadinessChecks(initialized(deps), pingAccessor(deps.Accessor), deps.Readiness)
	if err := check(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
}

func initialized(deps Dependencies) ReadinessCheck {
	return func(_ context.Context) error {
		if deps.Agent != nil && deps.Accessor != nil {
			return nil
		}
		if deps.InitError != nil {
			return deps.InitError
		}
		return errors.New("agent or data accessor not initialized")
	}
}

func pingAccessor(accessor query.Accessor) ReadinessCheck {
	if accessor == nil {
		return nil
	}
	return accessor.Ping
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError always carries the message under "error"; extra keys are merged
// into the top level.
func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	payload := map[string]any{
		"error":      message,
		"error_code": code,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
	for key, value := range extra {
		if _, reserved := payload[key]; !reserved {
			payload[key] = value
		}
	}
	writeJSON(w, status, payload)
}
