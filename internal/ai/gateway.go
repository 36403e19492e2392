// Package ai provides a provider-agnostic completion gateway with task-based
// routing. Every provider takes a system prompt plus user messages and returns
// plain text, optionally constrained to JSON or a single tool call.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// TaskType defines the kind of completion for routing purposes.
type TaskType int

const (
	TaskGeneration TaskType = iota
	TaskPopulation
	TaskPassage
	TaskReview
)

func (t TaskType) String() string {
	switch t {
	case TaskGeneration:
		return "generation"
	case TaskPopulation:
		return "population"
	case TaskPassage:
		return "passage"
	case TaskReview:
		return "review"
	default:
		return "unknown"
	}
}

// Message represents a chat message. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a function the model may call. Parameters is a
// JSON schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-issued call to a declared tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message        `json:"messages"`
	Model       string           `json:"model,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Task        TaskType         `json:"task,omitempty"`
	JSONMode    bool             `json:"json_mode,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	StopReason   string     `json:"stop_reason,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Payload returns the structured output: the first tool call's arguments when
// the model called a tool, otherwise the text content.
func (r CompletionResponse) Payload() string {
	if len(r.ToolCalls) > 0 && len(r.ToolCalls[0].Arguments) > 0 {
		return string(r.ToolCalls[0].Arguments)
	}
	return r.Content
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}

// Completer is the narrow view used by callers that only need completions.
// Router and every Provider satisfy it.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionError reports that no provider produced a completion.
type CompletionError struct {
	Task     TaskType
	Attempts map[string]error
	Err      error
}

func (e *CompletionError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s completion failed: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("%s completion failed after %d provider(s): %v", e.Task, len(e.Attempts), e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// ErrNoProvider is returned by a router with nothing registered.
var ErrNoProvider = errors.New("no AI provider registered")

func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
