package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autoquery/autoquery/internal/llm"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to any OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      httpClient,
	}, nil
}

func (c *Client) Name() string {
	return "openai:" + c.model
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []tool        `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type tool struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return llm.Completion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Completion{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return llm.Completion{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return llm.Completion{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if parsed.Error != nil {
		return llm.Completion{}, fmt.Errorf("chat completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return llm.Completion{}, fmt.Errorf("empty chat completion choices")
	}

	choice := parsed.Choices[0]
	completion := llm.Completion{StopReason: choice.FinishReason}
	if choice.Message.Content != nil {
		completion.Text = strings.TrimSpace(*choice.Message.Content)
	}
	for _, call := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return completion, nil
}

func (c *Client) buildRequest(req llm.Request) chatRequest {
	payload := chatRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
	}
	if c.temperature != 0 {
		temperature := c.temperature
		payload.Temperature = &temperature
	}
	if strings.TrimSpace(req.System) != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: text(req.System)})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleAssistant:
			out := chatMessage{Role: "assistant", Content: text(msg.Content)}
			if msg.Content == "" && len(msg.ToolCalls) > 0 {
				out.Content = nil
			}
			for _, call := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, toolCall{
					ID:       call.ID,
					Type:     "function",
					Function: functionCall{Name: call.Name, Arguments: string(call.ArgumentsOrEmpty())},
				})
			}
			payload.Messages = append(payload.Messages, out)
		case llm.RoleTool:
			payload.Messages = append(payload.Messages, chatMessage{Role: "tool", Content: text(msg.Content), ToolCallID: msg.ToolCallID})
		default:
			payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: text(msg.Content)})
		}
	}
	for _, spec := range req.Tools {
		payload.Tools = append(payload.Tools, tool{
			Type:     "function",
			Function: functionDef{Name: spec.Name, Description: spec.Description, Parameters: spec.Parameters},
		})
	}
	return payload
}

func text(value string) *string {
	return &value
}
