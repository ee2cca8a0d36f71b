package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role    Role
	Content string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
	IsError    bool
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

type Completion struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// ChatModel is one round trip to a chat model with tool calling.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Name() string
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

func ToolResult(callID, output string, isError bool) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: callID, IsError: isError}
}

// ArgumentsOrEmpty returns the raw call arguments, defaulting to an empty object.
func (c ToolCall) ArgumentsOrEmpty() json.RawMessage {
	if len(c.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	return c.Arguments
}
