// Package sessionlog implements the append-only session log: a separate
// JSONL chain of user/assistant/tool messages, independent of the
// Trajectory Collector, used for session replay and search.
package sessionlog

import "time"

// EntryType discriminates the five session entry variants.
type EntryType string

const (
	EntrySessionStart EntryType = "session_start"
	EntryUser         EntryType = "user"
	EntryAssistant    EntryType = "assistant"
	EntryToolResult   EntryType = "tool_result"
	EntrySessionEnd   EntryType = "session_end"
)

// Outcome classifies how a session ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeCancelled Outcome = "cancelled"
)

// Usage is the token/cost accounting carried by assistant messages and the
// session-end aggregate.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens,omitempty"`
	CompletionTokens int64   `json:"completion_tokens,omitempty"`
	CachedTokens     int64   `json:"cached_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

func (u Usage) add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		CachedTokens:     u.CachedTokens + o.CachedTokens,
		CostUSD:          u.CostUSD + o.CostUSD,
	}
}

// Entry is one line of the session log. Only the fields relevant to Type
// are populated; the rest are left zero and omitted on encode.
type Entry struct {
	UUID       string    `json:"uuid"`
	ParentUUID string    `json:"parentUuid,omitempty"`
	Type       EntryType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`

	// session_start
	Cwd       string `json:"cwd,omitempty"`
	Model     string `json:"model,omitempty"`
	Provider  string `json:"provider,omitempty"`
	GitBranch string `json:"gitBranch,omitempty"`
	Version   string `json:"version,omitempty"`
	TaskID    string `json:"taskId,omitempty"`

	// user / assistant
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// assistant only
	MessageID  string `json:"messageId,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	StopReason string `json:"stopReason,omitempty"`

	// tool_result
	ToolUseID string `json:"toolUseId,omitempty"`
	IsError   bool   `json:"isError,omitempty"`

	// session_end
	Outcome       Outcome  `json:"outcome,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	TotalTurns    int      `json:"totalTurns,omitempty"`
	FilesModified []string `json:"filesModified,omitempty"`
	Commits       []string `json:"commits,omitempty"`
}
