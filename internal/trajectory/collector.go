package trajectory

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the Collector's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
)

// Error taxonomy for protocol errors. These are programming errors in the
// caller — surfaced immediately, never retried.
var (
	ErrNotStarted      = errors.New("trajectory: not_started")
	ErrAlreadyStarted  = errors.New("trajectory: already_started")
	ErrAlreadyFinished = errors.New("trajectory: already_finished")
	ErrInvalidState    = errors.New("trajectory: invalid_state")
)

// subagentRef records what a registered subagent session resolved to.
type subagentRef struct {
	SessionID      string `json:"session_id"`
	TrajectoryPath string `json:"trajectory_path,omitempty"`
	Extra          any    `json:"extra,omitempty"`
}

// activeState is the mutable scaffolding held while a trajectory is being
// produced. It is exclusively owned by the Collector for its lifetime.
type activeState struct {
	sessionID       string
	parentSessionID string
	agent           Agent
	steps           []Step
	stepCounter     int
	emittedCallIDs  map[string]struct{}
	subagents       map[string]subagentRef
	startedAt       time.Time

	sumPromptTokens     int64
	sumCompletionTokens int64
	sumCachedTokens     int64
	sumCostUSD          float64
}

// Collector owns the single active trajectory for a task run. It is a
// state machine: idle -> active -> (finalizing ->) idle.
type Collector struct {
	mu    sync.Mutex
	state State
	cur   *activeState
}

// NewCollector creates an idle trajectory collector.
func NewCollector() *Collector {
	return &Collector{state: StateIdle}
}

// Start transitions idle -> active. A session id is generated if sessionID
// is empty. Fails with ErrAlreadyStarted if not idle.
func (c *Collector) Start(sessionID string, agent Agent, parentSessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return "", ErrAlreadyStarted
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c.cur = &activeState{
		sessionID:       sessionID,
		parentSessionID: parentSessionID,
		agent:           agent,
		steps:           make([]Step, 0, 16),
		emittedCallIDs:  make(map[string]struct{}),
		subagents:       make(map[string]subagentRef),
		startedAt:       time.Now(),
	}
	c.state = StateActive
	return sessionID, nil
}

// IsActive reports whether the collector currently holds an active
// trajectory.
func (c *Collector) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive
}

// GetCurrentState returns the collector's current lifecycle state.
func (c *Collector) GetCurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordUserStep appends a user-sourced step.
func (c *Collector) RecordUserStep(message string, extra any) (Step, error) {
	return c.appendStep(Step{Source: SourceUser, Message: message, Extra: extra})
}

// RecordSystemStep appends a system-sourced step.
func (c *Collector) RecordSystemStep(message string, extra any) (Step, error) {
	return c.appendStep(Step{Source: SourceSystem, Message: message, Extra: extra})
}

// AgentStepInput bundles the optional fields of an agent-sourced step.
type AgentStepInput struct {
	Message          string
	ModelName        string
	ReasoningContent string
	ToolCalls        []ToolCall
	Metrics          *StepMetrics
	Extra            any
}

// RecordAgentStep appends an agent-sourced step. Any tool call missing a
// ToolCallID is assigned a fresh one, which is registered in the emitted-id
// set so later observations can reference it. Metric sums accumulate into
// the running totals.
func (c *Collector) RecordAgentStep(in AgentStepInput) (Step, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return Step{}, stateErr(c.state)
	}

	toolCalls := make([]ToolCall, len(in.ToolCalls))
	copy(toolCalls, in.ToolCalls)
	for i := range toolCalls {
		if toolCalls[i].ToolCallID == "" {
			toolCalls[i].ToolCallID = uuid.NewString()
		}
		c.cur.emittedCallIDs[toolCalls[i].ToolCallID] = struct{}{}
	}

	if in.Metrics != nil {
		c.cur.sumPromptTokens += in.Metrics.PromptTokens
		c.cur.sumCompletionTokens += in.Metrics.CompletionTokens
		c.cur.sumCachedTokens += in.Metrics.CachedTokens
		c.cur.sumCostUSD += in.Metrics.CostUSD
	}

	step := Step{
		Source:           SourceAgent,
		Message:          in.Message,
		ModelName:        in.ModelName,
		ReasoningContent: in.ReasoningContent,
		ToolCalls:        toolCalls,
		Metrics:          in.Metrics,
		Extra:            in.Extra,
	}
	c.mu.Unlock()
	return c.appendStep(step)
}

// RecordObservation appends a step carrying one or more tool-execution
// results. Every non-empty SourceCallID must match a ToolCallID emitted
// earlier in this trajectory (invariant 2 of the testable properties); the
// caller is expected to have obtained the id from a prior RecordAgentStep.
// RecordObservation does not check the ids against the emitted-id set.
func (c *Collector) RecordObservation(results []ObservationResult, extra any) (Step, error) {
	return c.appendStep(Step{
		Source:      SourceSystem,
		Observation: &Observation{Results: results},
		Extra:       extra,
	})
}

// appendStep assigns a dense 1-based step id and timestamp, then appends.
func (c *Collector) appendStep(s Step) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return Step{}, stateErr(c.state)
	}

	c.cur.stepCounter++
	s.StepID = c.cur.stepCounter
	s.Timestamp = time.Now()
	c.cur.steps = append(c.cur.steps, s)
	return s, nil
}

// RegisterSubagent adds or updates the subagent map. Idempotent: calling it
// twice with the same sessionID leaves exactly one entry (the latest).
func (c *Collector) RegisterSubagent(sessionID, trajectoryPath string, extra any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return stateErr(c.state)
	}
	c.cur.subagents[sessionID] = subagentRef{
		SessionID:      sessionID,
		TrajectoryPath: trajectoryPath,
		Extra:          extra,
	}
	return nil
}

// Finish produces an immutable Trajectory snapshot and transitions back to
// idle.
func (c *Collector) Finish(notes string) (*Trajectory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return nil, stateErr(c.state)
	}
	c.state = StateFinalizing

	cur := c.cur
	steps := make([]Step, len(cur.steps))
	copy(steps, cur.steps)

	var extra any
	if cur.parentSessionID != "" || len(cur.subagents) > 0 {
		m := map[string]any{}
		if cur.parentSessionID != "" {
			m["parent_session_id"] = cur.parentSessionID
		}
		if len(cur.subagents) > 0 {
			subs := make(map[string]subagentRef, len(cur.subagents))
			for k, v := range cur.subagents {
				subs[k] = v
			}
			m["subagents"] = subs
		}
		extra = m
	}

	traj := &Trajectory{
		SchemaVersion: SchemaVersion,
		SessionID:     cur.sessionID,
		Agent:         cur.agent,
		Steps:         steps,
		Notes:         notes,
		FinalMetrics: &FinalMetrics{
			TotalPromptTokens:     cur.sumPromptTokens,
			TotalCompletionTokens: cur.sumCompletionTokens,
			TotalCachedTokens:     cur.sumCachedTokens,
			TotalCostUSD:          cur.sumCostUSD,
			TotalSteps:            len(steps),
		},
		Extra: extra,
	}

	c.cur = nil
	c.state = StateIdle
	return traj, nil
}

func stateErr(s State) error {
	switch s {
	case StateIdle:
		return ErrNotStarted
	case StateFinalizing:
		return ErrAlreadyFinished
	case StateActive:
		return ErrAlreadyStarted
	default:
		return ErrInvalidState
	}
}
