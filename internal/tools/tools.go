package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/query"
)

const (
	MarkerUnavailable = "DATA_UNAVAILABLE"
	MarkerPolicy      = "POLICY_REJECTED"
	MarkerNotFound    = "IDENTIFIER_NOT_FOUND"
	MarkerEngine      = "SQL_EXECUTION_ERROR"
	MarkerInternal    = "UNEXPECTED_ERROR"
)

var markers = map[query.ErrorKind]string{
	query.KindUnavailable: MarkerUnavailable,
	query.KindPolicy:      MarkerPolicy,
	query.KindNotFound:    MarkerNotFound,
	query.KindEngine:      MarkerEngine,
	query.KindInternal:    MarkerInternal,
}

type Output struct {
	Text string
	Kind query.ErrorKind
}

type Handler func(ctx context.Context, args json.RawMessage) Output

type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
	Invoke     Handler
}

type Invocation struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	Output    string          `json:"output"`
	ErrorKind query.ErrorKind `json:"error_kind,omitempty"`
	Duration  time.Duration   `json:"-"`
}

func (i Invocation) MarshalJSON() ([]byte, error) {
	type plain Invocation
	input := i.Input
	if len(input) == 0 || !json.Valid(input) {
		encoded, _ := json.Marshal(string(i.Input))
		input = encoded
	}
	return json.Marshal(struct {
		plain
		Input      json.RawMessage `json:"input"`
		DurationMS int64           `json:"duration_ms"`
	}{plain: plain(i), Input: input, DurationMS: i.Duration.Milliseconds()})
}

type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger, tools ...Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := &Registry{tools: map[string]Tool{}, logger: logger}
	for _, tool := range tools {
		if strings.TrimSpace(tool.Name) == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if tool.Invoke == nil {
			return nil, fmt.Errorf("tool %s has no handler", tool.Name)
		}
		if _, exists := registry.tools[tool.Name]; exists {
			return nil, fmt.Errorf("duplicate tool %s", tool.Name)
		}
		registry.tools[tool.Name] = tool
		registry.order = append(registry.order, tool.Name)
	}
	return registry, nil
}

func (r *Registry) Tools() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Invoke runs the named tool. It never fails: unknown tools, malformed
// arguments and panics all come back as classified text.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (invocation Invocation) {
	start := time.Now()
	invocation = Invocation{Tool: name, Input: args}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.ErrorContext(ctx, "tool panicked",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("tool", name),
				slog.Any("panic", recovered),
			)
			invocation.Output = ErrorText(query.Errorf(query.KindInternal, "", "internal fault in tool %s", name))
			invocation.ErrorKind = query.KindInternal
		}
		invocation.Duration = time.Since(start)
		observability.ObserveToolCall(name, string(invocation.ErrorKind))
		r.logger.InfoContext(ctx, "tool_call",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("tool", name),
			slog.String("kind", string(invocation.ErrorKind)),
			slog.String("duration", invocation.Duration.String()),
		)
	}()

	tool, ok := r.tools[name]
	if !ok {
		err := query.Errorf(query.KindPolicy, "", "unknown tool %q; available tools: %s", name, strings.Join(r.Names(), ", "))
		invocation.Output = ErrorText(err)
		invocation.ErrorKind = query.KindPolicy
		return invocation
	}

	output := tool.Invoke(ctx, args)
	invocation.Output = output.Text
	invocation.ErrorKind = output.Kind
	return invocation
}

// ErrorText renders err as a single line starting with its marker.
func ErrorText(err error) string {
	var queryErr *query.Error
	if !errors.As(err, &queryErr) {
		queryErr = query.Wrap(query.KindOf(err), "", err)
	}
	marker, ok := markers[queryErr.Kind]
	if !ok {
		marker = MarkerInternal
	}
	text := marker + ": " + singleLine(queryErr.Message)
	if queryErr.Query != "" {
		text += " (query: " + singleLine(queryErr.Query) + ")"
	}
	return text
}

func failure(err error) Output {
	return Output{Text: ErrorText(err), Kind: query.KindOf(err)}
}

func singleLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func decodeArgs(args json.RawMessage, dst any) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	decoder := json.NewDecoder(strings.NewReader(string(args)))
	if err := decoder.Decode(dst); err != nil {
		return query.Errorf(query.KindPolicy, "", "invalid arguments: %v", err)
	}
	return nil
}
