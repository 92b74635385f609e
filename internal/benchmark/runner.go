package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/forgebench/forgebench/internal/budget"
	"github.com/forgebench/forgebench/internal/instruments"
	"github.com/forgebench/forgebench/internal/microtask"
	"github.com/forgebench/forgebench/internal/observability"
	"github.com/forgebench/forgebench/internal/streaming"
)

// RunConfig configures one suite run.
type RunConfig struct {
	OutputDir      string
	CLITimeout     time.Duration
	CLIMaxTurns    int
	Skills         string
	RunID          string
	Model          string
	NewOrchestrator func(workspace string) *microtask.Orchestrator

	// Parallelism caps how many tasks run concurrently. <= 1 runs the
	// suite sequentially (the original, simplest path). > 1 delegates
	// batches of tasks to instruments.WorkerPool, which already
	// implements the fan-out/collect primitives this needs.
	Parallelism int

	// Logger and Metrics are optional observability sinks threaded through
	// every task run. Budget, when set, caps total run cost and is
	// recorded against via the orchestrator's FM worker, which the caller
	// is expected to have wired with WithBudget using the same tracker.
	Logger  *observability.Logger
	Metrics *observability.MetricsCollector
	Budget  *budget.Tracker
}

// Aggregate summarizes a completed suite run.
type Aggregate struct {
	PassRate       float64 `json:"passRate"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	Timeout        int     `json:"timeout"`
	Error          int     `json:"error"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// Results is the persisted {meta, tasks, summary} document.
type Results struct {
	Meta struct {
		RunID       string    `json:"runId"`
		Model       string    `json:"model"`
		StartedAt   time.Time `json:"startedAt"`
		CompletedAt time.Time `json:"completedAt,omitempty"`
	} `json:"meta"`
	Tasks   []TaskMetrics `json:"tasks"`
	Summary Aggregate     `json:"summary"`
}

// Runner drives a suite of tasks, one at a time, or in concurrent batches
// when RunConfig.Parallelism is above 1.
type Runner struct {
	cfg RunConfig
}

// NewRunner creates a runner bound to cfg.
func NewRunner(cfg RunConfig) *Runner {
	return &Runner{cfg: cfg}
}

// Run executes every task in tasks, checkpointing results.json after each
// one, and returns the final Results document.
func (r *Runner) Run(ctx context.Context, suiteName string, tasks []Task) (Results, error) {
	var results Results
	results.Meta.RunID = r.cfg.RunID
	results.Meta.Model = r.cfg.Model
	results.Meta.StartedAt = time.Now()

	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}
	streaming.PublishHUD(streaming.HUDMessage{Kind: "runStart", Payload: map[string]any{
		"suite": suiteName, "selectedTaskIds": taskIDs,
	}})
	if r.cfg.Logger != nil {
		r.cfg.Logger.Info("suite run starting", "suite", suiteName, "tasks", len(tasks))
	}

	if r.cfg.Parallelism > 1 {
		if err := r.runParallel(ctx, tasks, &results); err != nil {
			return results, err
		}
	} else {
		for i, task := range tasks {
			if r.cfg.Budget != nil && !r.cfg.Budget.CanSpend(0) {
				results.Tasks = append(results.Tasks, errorMetrics(task.ID, time.Now(), "Run aborted: budget ceiling reached"))
				applyOutcome(&results.Summary, results.Tasks[len(results.Tasks)-1])
				if err := r.checkpoint(results); err != nil {
					return results, fmt.Errorf("benchmark: checkpoint: %w", err)
				}
				continue
			}

			metrics := r.runTask(ctx, i, len(tasks), task)
			results.Tasks = append(results.Tasks, metrics)
			applyOutcome(&results.Summary, metrics)
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.Record(observability.MetricLatency, float64(metrics.DurationMs), observability.Labels{"task_id": task.ID})
			}

			if err := r.checkpoint(results); err != nil {
				return results, fmt.Errorf("benchmark: checkpoint: %w", err)
			}
		}
	}

	results.Meta.CompletedAt = time.Now()
	results.Summary.TotalDurationMs = results.Meta.CompletedAt.Sub(results.Meta.StartedAt).Milliseconds()
	total := len(results.Tasks)
	if total > 0 {
		results.Summary.PassRate = float64(results.Summary.Passed) / float64(total)
	}
	if err := r.checkpoint(results); err != nil {
		return results, fmt.Errorf("benchmark: final checkpoint: %w", err)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Record(observability.MetricPassRate, results.Summary.PassRate, nil)
	}
	if r.cfg.Logger != nil {
		r.cfg.Logger.Info("suite run complete", "passRate", results.Summary.PassRate, "passed", results.Summary.Passed, "failed", results.Summary.Failed)
	}

	streaming.PublishHUD(streaming.HUDMessage{Kind: "runComplete", Payload: results.Summary})
	return results, nil
}

func applyOutcome(agg *Aggregate, m TaskMetrics) {
	switch m.Outcome {
	case OutcomeSuccess:
		agg.Passed++
	case OutcomeFailure:
		agg.Failed++
	case OutcomeTimeout:
		agg.Timeout++
	case OutcomeError:
		agg.Error++
	}
}

func (r *Runner) runTask(ctx context.Context, index, total int, task Task) TaskMetrics {
	streaming.PublishHUD(streaming.HUDMessage{Kind: "taskStart", Payload: map[string]any{
		"index": index, "total": total, "taskId": task.ID,
	}})
	start := time.Now()

	workspace := filepath.Join(r.cfg.OutputDir, task.ID, "workspace")
	streaming.PublishHUD(streaming.HUDMessage{Kind: "taskProgress", Payload: map[string]any{"phase": "setup"}})

	if err := MaterializeWorkspace(workspace, task); err != nil {
		return errorMetrics(task.ID, start, fmt.Sprintf("Setup failed: %v", err))
	}
	if out, err := runSetupCommands(ctx, workspace, task.Setup.Commands); err != nil {
		return errorMetrics(task.ID, start, fmt.Sprintf("Setup failed: %v\n%s", err, out))
	}

	streaming.PublishHUD(streaming.HUDMessage{Kind: "taskProgress", Payload: map[string]any{"phase": "agent"}})

	timeout := r.cfg.CLITimeout
	if task.TimeoutSec > 0 {
		timeout = time.Duration(task.TimeoutSec) * time.Second
	}
	maxTurns := r.cfg.CLIMaxTurns
	if task.MaxTurns > 0 {
		maxTurns = task.MaxTurns
	}

	orchestrator := r.cfg.NewOrchestrator(workspace)
	outcome := orchestrator.Run(ctx, microtask.TaskInput{
		TaskDescription: task.Description,
		Workspace:       workspace,
		Skills:          r.cfg.Skills,
		Timeout:         timeout,
		MaxTurns:        maxTurns,
		Verify: func(ctx context.Context) microtask.VerifyResult {
			passed, output := r.verify(ctx, workspace, task)
			return microtask.VerifyResult{Passed: passed, Output: output, ErrorCore: truncateForFeedback(output)}
		},
	})

	writeOutputFile(filepath.Join(r.cfg.OutputDir, task.ID, "output.txt"), outcome.Output)
	streaming.PublishHUD(streaming.HUDMessage{Kind: "taskOutput", Payload: map[string]any{"text": outcome.Output, "stream": "agent"}})

	// Silent-failure detection.
	if !outcome.Success && outcome.Turns == 0 {
		return errorMetrics(task.ID, start, "Agent session started but did not process any turns")
	}

	streaming.PublishHUD(streaming.HUDMessage{Kind: "taskProgress", Payload: map[string]any{"phase": "verification"}})
	verifyPassed, verifyOutput := r.verify(ctx, workspace, task)

	classified := classifyOutcome(outcome, verifyPassed)
	metrics := TaskMetrics{
		TaskID:             task.ID,
		Outcome:            classified,
		DurationMs:         time.Since(start).Milliseconds(),
		Turns:              outcome.Turns,
		Tokens:              outcome.Tokens,
		VerificationOutput: verifyOutput,
		Error:              outcome.Error,
	}

	streaming.PublishHUD(streaming.HUDMessage{Kind: "taskComplete", Payload: map[string]any{
		"outcome": metrics.Outcome, "durationMs": metrics.DurationMs, "turns": metrics.Turns,
		"tokens": metrics.Tokens, "verificationOutput": metrics.VerificationOutput,
	}})
	return metrics
}

// runParallel drives tasks in batches of r.cfg.Parallelism using
// instruments.WorkerPool.FanOut, one worker slot per concurrently running
// task. Batches checkpoint in task order once every member completes, so
// results.json never shows a later task finishing before an earlier one it
// was running alongside.
func (r *Runner) runParallel(ctx context.Context, tasks []Task, results *Results) error {
	adapter := &taskRunnerAdapter{r: r, total: len(tasks)}
	pool := instruments.NewWorkerPool(adapter)

	batchSize := r.cfg.Parallelism
	for start := 0; start < len(tasks); start += batchSize {
		end := start + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[start:end]

		workerIDs := make([]string, len(batch))
		adapter.mu.Lock()
		if adapter.byID == nil {
			adapter.byID = make(map[string]Task)
			adapter.index = make(map[string]int)
		}
		for i, t := range batch {
			workerIDs[i] = t.ID
			adapter.byID[t.ID] = t
			adapter.index[t.ID] = start + i
		}
		adapter.mu.Unlock()

		delegated := instruments.DelegatedTask{Goal: fmt.Sprintf("run benchmark tasks %d-%d", start, end-1)}
		for _, res := range pool.FanOut(ctx, "benchmark-runner", workerIDs, delegated) {
			if res == nil {
				continue
			}
		}

		adapter.mu.Lock()
		for i := start; i < end; i++ {
			m, ok := adapter.completed[tasks[i].ID]
			if !ok {
				m = errorMetrics(tasks[i].ID, time.Now(), "parallel task runner produced no result")
			}
			results.Tasks = append(results.Tasks, m)
			applyOutcome(&results.Summary, m)
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.Record(observability.MetricLatency, float64(m.DurationMs), observability.Labels{"task_id": tasks[i].ID})
			}
		}
		adapter.mu.Unlock()

		if err := r.checkpoint(*results); err != nil {
			return fmt.Errorf("benchmark: checkpoint: %w", err)
		}
	}
	return nil
}

// taskRunnerAdapter satisfies instruments.TaskRunner by running benchmark
// tasks through Runner.runTask, letting WorkerPool's fan-out/collect
// machinery drive concurrency instead of a hand-rolled worker pool.
type taskRunnerAdapter struct {
	r     *Runner
	total int

	mu        sync.Mutex
	byID      map[string]Task
	index     map[string]int
	completed map[string]TaskMetrics
}

func (a *taskRunnerAdapter) RunTask(ctx context.Context, workerID string, _ instruments.DelegatedTask) (*instruments.DelegationResult, error) {
	a.mu.Lock()
	task, ok := a.byID[workerID]
	idx := a.index[workerID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("benchmark: unknown task %q", workerID)
	}

	metrics := a.r.runTask(ctx, idx, a.total, task)

	a.mu.Lock()
	if a.completed == nil {
		a.completed = make(map[string]TaskMetrics)
	}
	a.completed[workerID] = metrics
	a.mu.Unlock()

	quality := 0.0
	if metrics.Outcome == OutcomeSuccess {
		quality = 1.0
	}
	return &instruments.DelegationResult{
		Success:   metrics.Outcome == OutcomeSuccess,
		Quality:   quality,
		ElapsedMs: metrics.DurationMs,
		Error:     metrics.Error,
	}, nil
}

func classifyOutcome(outcome microtask.TaskOutcome, verifyPassed bool) Outcome {
	if !outcome.Success {
		if strings.Contains(strings.ToLower(outcome.Error), "timeout") || strings.Contains(strings.ToLower(outcome.Error), "timed out") {
			return OutcomeTimeout
		}
		return OutcomeError
	}
	if verifyPassed {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func (r *Runner) verify(ctx context.Context, workspace string, task Task) (bool, string) {
	v := task.Verification
	switch v.Type {
	case VerificationCustom:
		script := v.Script
		if script == "" {
			script = v.Command
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", script)
		cmd.Dir = workspace
		out, err := cmd.CombinedOutput()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = 1
			}
		}
		return err == nil, fmt.Sprintf("exit code %d\n%s", exitCode, string(out))

	case VerificationOutput:
		cmd := exec.CommandContext(ctx, "sh", "-c", v.Command)
		cmd.Dir = workspace
		out, _ := cmd.CombinedOutput()
		trimmed := strings.TrimSpace(string(out))
		return trimmed == strings.TrimSpace(v.Expected), trimmed

	default:
		testsDir := filepath.Join(workspace, "tests")
		if _, err := os.Stat(testsDir); err != nil {
			return true, ""
		}
		verifier := microtask.NewVerifier(workspace)
		result := verifier.Run(ctx, "sh -c 'cd tests && ./run.sh 2>&1 || pytest 2>&1'")
		return result.Passed, result.Output
	}
}

func runSetupCommands(ctx context.Context, workspace string, commands []string) (string, error) {
	var combined strings.Builder
	for _, c := range commands {
		cmd := exec.CommandContext(ctx, "sh", "-c", c)
		cmd.Dir = workspace
		out, err := cmd.CombinedOutput()
		combined.Write(out)
		if err != nil {
			return combined.String(), err
		}
	}
	return combined.String(), nil
}

func truncateForFeedback(output string) string {
	const limit = 200
	if len(output) <= limit {
		return output
	}
	return output[:limit] + "..."
}

func errorMetrics(taskID string, start time.Time, message string) TaskMetrics {
	return TaskMetrics{
		TaskID:     taskID,
		Outcome:    OutcomeError,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      message,
	}
}

func writeOutputFile(path, content string) {
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte(content), 0o644)
}

// checkpoint atomically rewrites results.json via a temp-file-then-rename,
// so a crash mid-write never leaves a truncated results file behind.
func (r *Runner) checkpoint(results Results) error {
	final := filepath.Join(r.cfg.OutputDir, "results.json")
	tmp := final + ".tmp"

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}
