package microtask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgebench/forgebench/internal/observability"
)

const (
	defaultMaxVerifyRetries = 2
	maxRepeatCount          = 3
	maxConsecutiveFailures  = 3
	safetyValveTurn         = 10
)

// FinishReason names why the orchestrator's main loop stopped driving.
type FinishReason string

const (
	ReasonTimeout          FinishReason = "timeout"
	ReasonMaxTurns         FinishReason = "max_turns"
	ReasonTaskComplete     FinishReason = "task_complete"
	ReasonRepeatSameAction FinishReason = "repeat_same_action"
	ReasonRepeatFailures   FinishReason = "repeat_failures"
	ReasonVerifyExhausted  FinishReason = "verify_exhausted"
	ReasonBudgetExceeded   FinishReason = "budget_exceeded"
)

// TaskInput configures one orchestrator run.
type TaskInput struct {
	TaskDescription  string
	Workspace        string
	Skills           string // reference-only text folded into the prompt
	Timeout          time.Duration
	MaxTurns         int
	SuiteMode        bool
	MaxVerifyRetries int // 0 means defaultMaxVerifyRetries

	// Verify, when non-nil, runs the task's verification command and
	// reports whether it passed. A nil Verify means no verifier is
	// configured: finalization always returns success = hadAnySuccess.
	Verify func(ctx context.Context) VerifyResult

	HintBuilder func(taskDescription string, toolHistory []string, suiteMode bool) string
}

// TaskOutcome is what the orchestrator returns for one task run.
type TaskOutcome struct {
	Success    bool
	Turns      int
	Tokens     int
	DurationMs int64
	Output     string
	Reason     FinishReason
	Error      string
}

// Orchestrator drives a single task to completion, one FM turn at a time.
type Orchestrator struct {
	Worker   *FMWorker
	Executor *Executor

	// Logger and Metrics are optional observability sinks. Nil means no
	// reporting — the loop runs identically either way.
	Logger  *observability.Logger
	Metrics *observability.MetricsCollector
}

// NewOrchestrator wires a worker and executor together.
func NewOrchestrator(worker *FMWorker, executor *Executor) *Orchestrator {
	return &Orchestrator{Worker: worker, Executor: executor}
}

// WithObservability attaches a logger and metrics collector. Either may be
// nil to leave that sink disabled.
func (o *Orchestrator) WithObservability(logger *observability.Logger, metrics *observability.MetricsCollector) *Orchestrator {
	o.Logger = logger
	o.Metrics = metrics
	return o
}

// state is the orchestrator's bounded per-run memory, per spec 4.C.
type state struct {
	turn                     int
	tokens                   int
	toolHistory              []string
	stepHistory              []string
	consecutiveFailures      int
	hadAnySuccess            bool
	lastActionSignature      string
	repeatCount              int
	lastVerificationFeedback string
	verifyRetryCount         int
	parseErrorCount          int
}

// Run drives in.TaskDescription through the main loop until a termination
// case fires.
func (o *Orchestrator) Run(ctx context.Context, in TaskInput) TaskOutcome {
	maxVerifyRetries := in.MaxVerifyRetries
	if maxVerifyRetries == 0 {
		maxVerifyRetries = defaultMaxVerifyRetries
	}

	s := &state{}
	var out strings.Builder
	start := time.Now()
	deadline := start.Add(in.Timeout)

	result := func(success bool, reason FinishReason, errMsg string) TaskOutcome {
		if o.Logger != nil {
			o.Logger.Info("task finished", "success", success, "reason", string(reason), "turns", s.turn, "tokens", s.tokens)
		}
		if o.Metrics != nil {
			o.Metrics.Record(observability.MetricTurns, float64(s.turn), nil)
			o.Metrics.Record(observability.MetricTokens, float64(s.tokens), nil)
			if success {
				o.Metrics.Increment("tasks_succeeded")
			} else {
				o.Metrics.Increment("tasks_failed")
			}
		}
		return TaskOutcome{
			Success:    success,
			Turns:      s.turn,
			Tokens:     s.tokens,
			DurationMs: time.Since(start).Milliseconds(),
			Output:     out.String(),
			Reason:     reason,
			Error:      errMsg,
		}
	}

	// finalize runs the verifier (if configured) for a trigger reason and
	// reports whether the main loop should resume (because a retry budget
	// remains) along with the outcome to return if it should not.
	finalize := func(reason FinishReason) (resume bool, outcome TaskOutcome) {
		if in.Verify == nil {
			return false, result(s.hadAnySuccess, reason, "")
		}
		vr := in.Verify(ctx)
		if o.Metrics != nil {
			o.Metrics.Increment("verify_runs")
		}
		if vr.Passed {
			return false, result(true, reason, "")
		}

		s.verifyRetryCount++
		if s.verifyRetryCount >= maxVerifyRetries {
			return false, result(false, ReasonVerifyExhausted, fmt.Sprintf("Verification failed after %d attempts", s.verifyRetryCount))
		}

		// Give the FM another chance: reset the gates and resume the loop.
		s.stepHistory = append(s.stepHistory, "verification failed: "+vr.ErrorCore)
		s.lastVerificationFeedback = VerificationFeedback(vr)
		s.consecutiveFailures = 0
		s.repeatCount = 0
		s.lastActionSignature = ""
		return true, TaskOutcome{}
	}

	for {
		// 1. timeout
		if in.Timeout > 0 && time.Now().After(deadline) {
			if resume, outcome := finalize(ReasonTimeout); !resume {
				return outcome
			}
			continue
		}
		// max turns reached
		if in.MaxTurns > 0 && s.turn >= in.MaxTurns {
			return result(s.hadAnySuccess, ReasonMaxTurns, "")
		}

		// 2. repeated-failure guard
		if s.hadAnySuccess && s.consecutiveFailures >= maxConsecutiveFailures {
			if resume, outcome := finalize(ReasonRepeatFailures); !resume {
				return outcome
			}
			continue
		}

		s.turn++
		if o.Logger != nil {
			o.Logger.Turn("", s.turn, "driving turn")
		}

		// 3. build previous + hint
		var hint string
		if in.HintBuilder != nil {
			hint = in.HintBuilder(in.TaskDescription, s.toolHistory, in.SuiteMode)
		}
		action := "Choose the next tool call to progress the task."
		if hint != "" {
			action = action + " Hint: " + hint
		}

		promptIn := PromptInput{
			TaskDescription:      in.TaskDescription,
			Action:               action,
			SkillsReference:      in.Skills,
			PreviousSummaries:    s.stepHistory,
			VerificationFeedback: s.lastVerificationFeedback,
		}
		s.lastVerificationFeedback = ""

		// 4. call the FM
		turn, err := o.Worker.Call(ctx, promptIn)
		if err == ErrBudgetExceeded {
			return result(s.hadAnySuccess, ReasonBudgetExceeded, err.Error())
		}
		if err != nil {
			return result(s.hadAnySuccess, ReasonMaxTurns, err.Error())
		}
		if turn.Response != nil {
			s.tokens += turn.Response.InputTokens + turn.Response.OutputTokens
		}
		if turn.ParseErr != nil {
			s.parseErrorCount++
			s.consecutiveFailures++
			s.stepHistory = append(s.stepHistory, "parse_error: no usable tool call")
			if o.Metrics != nil {
				o.Metrics.Increment("parse_errors")
			}
			continue
		}

		// 5. action signature / repeat detection
		sig := actionSignature(turn.Call)
		if sig == s.lastActionSignature {
			s.repeatCount++
			if s.repeatCount >= maxRepeatCount {
				if resume, outcome := finalize(ReasonRepeatSameAction); !resume {
					return outcome
				}
				continue
			}
		} else {
			s.repeatCount = 1
			s.lastActionSignature = sig
		}

		// 6. safety valve
		if s.hadAnySuccess && s.turn > safetyValveTurn {
			return result(true, ReasonTaskComplete, "")
		}

		// 7. task_complete
		if turn.Call.Name == "task_complete" {
			if resume, outcome := finalize(ReasonTaskComplete); !resume {
				return outcome
			}
			continue
		}

		// 8. execute
		s.toolHistory = append(s.toolHistory, turn.Call.Name)
		callResult := o.Executor.Execute(ctx, turn.Call.Name, turn.Call.Arguments)
		summary := SummarizeStep(turn.Call.Name, turn.Call.Arguments, callResult)
		s.stepHistory = append(s.stepHistory, summary)
		out.WriteString(summary)
		out.WriteString("\n")

		// 9. verify_progress
		if turn.Call.Name == "verify_progress" && in.Verify != nil {
			vr := in.Verify(ctx)
			s.lastVerificationFeedback = VerificationFeedback(vr)
		}

		// 10. success/failure bookkeeping
		if callResult.Success {
			s.hadAnySuccess = true
			s.consecutiveFailures = 0
		} else {
			s.consecutiveFailures++
		}
		// 11. continue
	}
}

// actionSignature computes the repeat-detection key for a parsed tool
// call: tool:path for write_file/edit_file (content may legitimately
// differ across retries), tool:canonicalized-args otherwise.
func actionSignature(call ParsedToolCall) string {
	switch call.Name {
	case "write_file", "edit_file":
		path, _ := call.Arguments["path"].(string)
		return call.Name + ":" + path
	default:
		return call.Name + ":" + canonicalizeArgs(call.Arguments)
	}
}

func canonicalizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("&")
		}
		fmt.Fprintf(&b, "%s=%v", k, args[k])
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
