package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/autoquery/autoquery/internal/auth"
	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/query"
	"github.com/autoquery/autoquery/internal/tools"
)

const defaultQueryRowLimit = 1000

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	Columns   []string       `json:"columns"`
	Rows      [][]any        `json:"rows"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Accessor == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_INITIALIZED", "data accessor is not initialized", true, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	limit := deps.QueryRowLimit
	if request.RowLimit > 0 && request.RowLimit < limit {
		limit = request.RowLimit
	}
	result, err := deps.Accessor.Query(query.WithRowLimit(r.Context(), limit), request.SQL)
	if err != nil {
		kind := query.KindOf(err)
		writeError(r.Context(), w, statusForKind(kind), errorCodeForKind(kind), tools.ErrorText(err), kind == query.KindUnavailable, map[string]any{"kind": kind})
		return
	}

	observability.AnnotateRequest(r.Context(),
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated || len(result.Rows) > limit),
	)
	truncated := result.Truncated
	rows := result.Rows
	if len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns:   result.Columns,
		Rows:      rows,
		Truncated: truncated,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(result.Rows),
		},
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Schema)
}

func statusForKind(kind query.ErrorKind) int {
	switch kind {
	case query.KindPolicy, query.KindNotFound, query.KindEngine:
		return http.StatusBadRequest
	case query.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCodeForKind(kind query.ErrorKind) string {
	switch kind {
	case query.KindPolicy:
		return "SQL_NOT_ALLOWED"
	case query.KindNotFound:
		return "IDENTIFIER_NOT_FOUND"
	case query.KindEngine:
		return "QUERY_EXECUTION_FAILED"
	case query.KindUnavailable:
		return "DATA_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
