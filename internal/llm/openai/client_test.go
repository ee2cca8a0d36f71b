package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/autoquery/autoquery/internal/llm"
)

func TestCompleteSendsToolsAndParsesToolCalls(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"execute_query","arguments":"{\"query\":\"SELECT 1\"}"}}]}}]}`)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/", APIKey: "secret", Model: "test-model", MaxTokens: 256})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	completion, err := client.Complete(context.Background(), llm.Request{
		System: "be brief",
		Messages: []llm.Message{
			llm.UserMessage("how many?"),
			llm.AssistantMessage("", llm.ToolCall{ID: "call_0", Name: "describe_table", Arguments: json.RawMessage(`{"table_name":"ad_table"}`)}),
			llm.ToolResult("call_0", "column_name,data_type", false),
		},
		Tools: []llm.ToolSpec{{Name: "execute_query", Description: "run sql", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(completion.ToolCalls) != 1 || completion.ToolCalls[0].Name != "execute_query" || completion.ToolCalls[0].ID != "call_1" {
		t.Fatalf("tool calls = %#v", completion.ToolCalls)
	}
	if string(completion.ToolCalls[0].Arguments) != `{"query":"SELECT 1"}` {
		t.Fatalf("arguments = %s", completion.ToolCalls[0].Arguments)
	}
	if completion.StopReason != "tool_calls" {
		t.Fatalf("StopReason = %q", completion.StopReason)
	}

	if captured["model"] != "test-model" || captured["max_tokens"] != float64(256) {
		t.Fatalf("payload = %#v", captured)
	}
	if _, ok := captured["temperature"]; ok {
		t.Fatalf("zero temperature should be omitted: %#v", captured)
	}
	messages := captured["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("messages = %#v", messages)
	}
	roles := []string{}
	for _, raw := range messages {
		roles = append(roles, raw.(map[string]any)["role"].(string))
	}
	if strings.Join(roles, ",") != "system,user,assistant,tool" {
		t.Fatalf("roles = %v", roles)
	}
	if messages[3].(map[string]any)["tool_call_id"] != "call_0" {
		t.Fatalf("tool message = %#v", messages[3])
	}
	tools := captured["tools"].([]any)
	if tools[0].(map[string]any)["type"] != "function" {
		t.Fatalf("tools = %#v", tools)
	}
}

func TestCompleteReturnsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"  There are 2 models.  "}}]}`)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "k", Temperature: 0.2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	completion, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Text != "There are 2 models." || len(completion.ToolCalls) != 0 {
		t.Fatalf("completion = %#v", completion)
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http status", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "status=429"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "empty chat completion choices"},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`, "bad model"},
		{"bad json", http.StatusOK, `{`, "decode chat completion response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client, err := New(Config{BaseURL: server.URL, APIKey: "k"})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			_, err = client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Complete() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected base URL error")
	}
	if _, err := New(Config{BaseURL: "http://localhost"}); err == nil {
		t.Fatalf("expected api key error")
	}
	client, err := New(Config{BaseURL: "http://localhost", APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.Name() != "openai:gpt-5" {
		t.Fatalf("Name() = %q", client.Name())
	}
}
