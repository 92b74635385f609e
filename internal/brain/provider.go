// Package brain holds the wire types and provider implementations forgebench
// uses to drive a benchmark task's FM worker turn: claude.go and openai.go
// talk to their respective APIs, universal.go speaks an OpenAI-compatible
// wire format for everything else, and router.go picks which model name to
// put on the request when a run is under a budget ceiling.
package brain

import (
	"context"
	"encoding/json"
)

// Message is one turn in the conversation sent to the provider.
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"`
}

// LLMRequest is microtask.FMWorker's rendered prompt plus the model/tooling
// parameters for a single completion call.
type LLMRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

// Tool describes a callable tool in provider-native tool-use format.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is one tool invocation the provider asked for, native tool-use
// form — distinct from microtask.ParsedToolCall, which is parsed out of a
// plain-text <tool_call> block when the provider doesn't support tool-use.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// LLMResponse is a completed provider call: the generated text, usage, and
// any native tool calls. CostUSD feeds budget.Tracker.Record directly.
type LLMResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostUSD      float64    `json:"cost_usd"`
	LatencyMs    int64      `json:"latency_ms"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	StopReason   string     `json:"stop_reason"`
}

// LLMProvider abstracts a single FM backend. FMWorker holds one and never
// branches on which provider it is — everything provider-specific lives
// behind Complete.
type LLMProvider interface {
	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)
	Name() string
	Models() []string
}
