package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoquery/autoquery/internal/chat"
	"github.com/autoquery/autoquery/internal/dataset"
	"github.com/autoquery/autoquery/internal/llm"
	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/tools"
)

const DefaultMaxIterations = 6

const emptyAnswer = "No output returned."

const limitAnswer = "Agent stopped due to iteration limit."

type Config struct {
	MaxIterations int
	MakerFilter   dataset.MakerFilter
	// Dialect names the SQL flavour of the configured backend.
	Dialect string
}

type Agent struct {
	model         llm.ChatModel
	registry      *tools.Registry
	system        string
	specs         []llm.ToolSpec
	maxIterations int
	logger        *slog.Logger
}

type Reply struct {
	Text       string             `json:"response"`
	Steps      []tools.Invocation `json:"steps"`
	Iterations int                `json:"iterations"`
	// Stopped is set when the iteration limit ended the run before the model
	// produced a final answer.
	Stopped bool `json:"stopped,omitempty"`
}

func New(model llm.ChatModel, registry *tools.Registry, schema dataset.Schema, cfg Config, logger *slog.Logger) (*Agent, error) {
	if model == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	specs := make([]llm.ToolSpec, 0, len(registry.Tools()))
	for _, tool := range registry.Tools() {
		specs = append(specs, llm.ToolSpec{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters})
	}
	return &Agent{
		model:         model,
		registry:      registry,
		system:        SystemPrompt(schema, cfg.MakerFilter, cfg.Dialect),
		specs:         specs,
		maxIterations: maxIterations,
		logger:        logger,
	}, nil
}

func (a *Agent) System() string {
	return a.system
}

// Run answers message given the prior turns. Tool calls run one at a time in
// the order the model requested them. Reaching the iteration limit is not an
// error: the reply reports the last failed tool output instead.
func (a *Agent) Run(ctx context.Context, message string, history []chat.Turn) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, fmt.Errorf("message is required")
	}

	messages := make([]llm.Message, 0, 2*len(history)+1)
	for _, turn := range history {
		if turn.User != "" {
			messages = append(messages, llm.UserMessage(turn.User))
		}
		if turn.Assistant != "" {
			messages = append(messages, llm.AssistantMessage(turn.Assistant))
		}
	}
	messages = append(messages, llm.UserMessage(message))

	reply := Reply{Steps: []tools.Invocation{}}
	defer func() { observability.ObserveAgentIterations(reply.Iterations) }()

	for reply.Iterations < a.maxIterations {
		if err := ctx.Err(); err != nil {
			return reply, err
		}
		reply.Iterations++

		completion, err := a.model.Complete(ctx, llm.Request{System: a.system, Messages: messages, Tools: a.specs})
		if err != nil {
			return reply, fmt.Errorf("model %s: %w", a.model.Name(), err)
		}
		if len(completion.ToolCalls) == 0 {
			reply.Text = completion.Text
			if reply.Text == "" {
				reply.Text = emptyAnswer
			}
			return reply, nil
		}

		messages = append(messages, llm.AssistantMessage(completion.Text, completion.ToolCalls...))
		for _, call := range completion.ToolCalls {
			invocation := a.registry.Invoke(ctx, call.Name, call.ArgumentsOrEmpty())
			reply.Steps = append(reply.Steps, invocation)
			messages = append(messages, llm.ToolResult(call.ID, invocation.Output, invocation.ErrorKind != ""))
		}
	}

	a.logger.WarnContext(ctx, "agent iteration limit reached",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int("iterations", reply.Iterations),
		slog.Int("steps", len(reply.Steps)),
	)
	reply.Stopped = true
	reply.Text = stoppedAnswer(reply.Steps)
	return reply, nil
}

func stoppedAnswer(steps []tools.Invocation) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].ErrorKind != "" {
			return limitAnswer + " Last error: " + steps[i].Output
		}
	}
	return limitAnswer
}
