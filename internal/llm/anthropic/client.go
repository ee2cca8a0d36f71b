package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/autoquery/autoquery/internal/llm"
)

const defaultModel = "claude-sonnet-4-5"

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client is a chat model backed by the Anthropic Messages API.
type Client struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (c *Client) Name() string {
	return "anthropic:" + c.model
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	messages := convertMessages(req.Messages)
	if len(messages) == 0 {
		return llm.Completion{}, fmt.Errorf("no messages to send")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return llm.Completion{}, err
		}
		params.Tools = tools
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("anthropic messages request: %w", err)
	}

	completion := llm.Completion{StopReason: string(message.StopReason)}
	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			completion.ToolCalls = append(completion.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	completion.Text = strings.TrimSpace(text.String())
	return completion, nil
}

// convertMessages folds consecutive tool results into one user turn, which
// the Messages API requires after an assistant turn with several tool uses.
func convertMessages(messages []llm.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		case llm.RoleAssistant:
			flush()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(call.ID, call.ArgumentsOrEmpty(), call.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		default:
			flush()
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flush()
	return out
}

func convertTools(specs []llm.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := map[string]any{
			"type":       "object",
			"properties": spec.Parameters["properties"],
			"required":   spec.Parameters["required"],
		}
		schemaJSON, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", spec.Name, err)
		}
		var inputSchema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaJSON, &inputSchema); err != nil {
			return nil, fmt.Errorf("decode schema for %s: %w", spec.Name, err)
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: inputSchema,
		}})
	}
	return tools, nil
}
