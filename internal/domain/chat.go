package domain

import "encoding/json"

// ChatMessage is the provider-agnostic chat message shape used by the chat
// loop and LLM integrations. ToolCalls is set on assistant messages that
// request tool execution; ToolCallID and Name are set on tool-result messages.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a structured request from the model to invoke a named tool.
// It lives for a single chat-loop iteration and is never persisted.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition is the schema for one tool, sent to the model verbatim on
// every iteration of a loop invocation.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
