package microtask

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/forgebench/forgebench/internal/brain"
	"github.com/forgebench/forgebench/internal/budget"
	"github.com/forgebench/forgebench/internal/security"
)

// ErrBudgetExceeded is returned by Call when a configured Budget tracker
// reports that its recorded spend, across all tasks, is already over its
// daily or monthly limit.
var ErrBudgetExceeded = fmt.Errorf("microtask: budget exceeded")

// ErrNoToolCall is returned when a worker turn produces no parseable
// <tool_call> block. The orchestrator counts these toward parseErrorCount
// rather than retrying the call itself.
var ErrNoToolCall = fmt.Errorf("microtask: no tool call found in response")

var toolCallBlock = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// ParsedToolCall is the decoded contents of a <tool_call> block.
type ParsedToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolCall extracts and decodes the first <tool_call> block in text.
func ParseToolCall(text string) (ParsedToolCall, error) {
	m := toolCallBlock.FindStringSubmatch(text)
	if m == nil {
		return ParsedToolCall{}, ErrNoToolCall
	}
	var call ParsedToolCall
	if err := json.Unmarshal([]byte(m[1]), &call); err != nil {
		return ParsedToolCall{}, fmt.Errorf("microtask: invalid tool_call json: %w", err)
	}
	if strings.TrimSpace(call.Name) == "" {
		return ParsedToolCall{}, ErrNoToolCall
	}
	return call, nil
}

// FMWorker performs a single, stateless call to an LLM provider and parses
// its tool call. It never retries — a failed or malformed call is the
// orchestrator's concern, not the worker's.
type FMWorker struct {
	Provider brain.LLMProvider
	Model    string

	// Sanitizer, when set, screens the task description for prompt
	// injection before it is folded into the FM-facing prompt. Task suites
	// may embed untrusted text (scraped issues, generated specs); this
	// keeps that text from smuggling instructions to the FM.
	Sanitizer *security.Sanitizer

	// Budget, when set, gates each call against daily/monthly spend
	// ceilings and records the response cost against TaskID.
	Budget *budget.Tracker
	TaskID string

	// Router, when set alongside Budget, overrides Model per call:
	// Budget.EffectiveBudget() feeds ModelRouter.Select so a run that's
	// burning through its ceiling downgrades to a cheaper tier instead of
	// failing outright on the next ErrBudgetExceeded.
	Router     *brain.ModelRouter
	Complexity string
}

// NewFMWorker creates a worker bound to a provider and model name.
func NewFMWorker(provider brain.LLMProvider, model string) *FMWorker {
	return &FMWorker{Provider: provider, Model: model}
}

// WithSanitizer enables prompt-injection screening of the task description.
func (w *FMWorker) WithSanitizer(s *security.Sanitizer) *FMWorker {
	w.Sanitizer = s
	return w
}

// WithBudget enables spend-ceiling enforcement, recording cost under taskID.
func (w *FMWorker) WithBudget(tracker *budget.Tracker, taskID string) *FMWorker {
	w.Budget = tracker
	w.TaskID = taskID
	return w
}

// WithRouter enables budget-aware model downgrading. complexity is the
// fixed task complexity this worker's micro-tasks are rated at ("simple",
// "moderate", "complex") — the orchestrator doesn't currently vary this
// per turn, so one rating applies for the worker's lifetime.
func (w *FMWorker) WithRouter(router *brain.ModelRouter, complexity string) *FMWorker {
	w.Router = router
	w.Complexity = complexity
	return w
}

// WorkerTurn is the result of one FM worker call: the raw response plus
// its parsed tool call, if any.
type WorkerTurn struct {
	Response *brain.LLMResponse
	Call     ParsedToolCall
	ParseErr error
}

// Call renders a prompt from in, sends it to the provider, and parses the
// tool call out of the response. ParseErr is non-nil (and Call is zero)
// when the response had no well-formed tool call; Call itself never errors
// the overall request.
func (w *FMWorker) Call(ctx context.Context, in PromptInput) (WorkerTurn, error) {
	if w.Budget != nil && !w.Budget.CanSpend(0) {
		return WorkerTurn{}, ErrBudgetExceeded
	}
	if w.Sanitizer != nil {
		in.TaskDescription = w.Sanitizer.Sanitize(in.TaskDescription).Clean
	}
	model := w.Model
	if w.Router != nil && w.Budget != nil {
		if selected := w.Router.Select(w.Complexity, w.Budget.EffectiveBudget()); selected != "" {
			model = selected
		}
	}

	prompt := BuildPrompt(in)
	req := brain.LLMRequest{
		Messages: []brain.Message{
			{Role: "user", Content: prompt},
		},
		Model: model,
	}

	resp, err := w.Provider.Complete(ctx, req)
	if err != nil {
		return WorkerTurn{}, fmt.Errorf("microtask: fm call: %w", err)
	}
	if w.Budget != nil {
		w.Budget.Record(w.TaskID, resp.CostUSD)
	}

	call, parseErr := ParseToolCall(resp.Content)
	return WorkerTurn{Response: resp, Call: call, ParseErr: parseErr}, nil
}
