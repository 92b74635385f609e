// Package benchmark drives a suite of tasks through the micro-task
// orchestrator, materializing per-task workspaces, dispatching verification,
// classifying outcomes, and checkpointing results to disk.
package benchmark

// VerificationType discriminates the three verification directive shapes.
type VerificationType string

const (
	VerificationCustom VerificationType = "custom"
	VerificationOutput VerificationType = "output"
	VerificationTest   VerificationType = "test"
)

// Verification is a discriminated union: Script/Command are used by
// "custom", Command+Expected by "output", and the others ignored for
// "test" (or when Type is empty, meaning "run the suite's test runner").
type Verification struct {
	Type     VerificationType `json:"type,omitempty"`
	Script   string           `json:"script,omitempty"`
	Command  string           `json:"command,omitempty"`
	Expected string           `json:"expected,omitempty"`
}

// Setup describes how to materialize a task's workspace before the
// orchestrator runs: inline file contents plus optional shell commands.
type Setup struct {
	Files    map[string]string `json:"files,omitempty"`
	Commands []string          `json:"commands,omitempty"`
}

// Task is one immutable benchmark unit.
type Task struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Difficulty   string       `json:"difficulty,omitempty"`
	Category     string       `json:"category,omitempty"`
	TimeoutSec   int          `json:"timeout,omitempty"`
	MaxTurns     int          `json:"maxTurns,omitempty"`
	Verification Verification `json:"verification"`
	Setup        Setup        `json:"setup,omitempty"`
	SourcePath   string       `json:"sourcePath,omitempty"`
}

// Suite is a named, versioned collection of tasks.
type Suite struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	SourceRepo  string `json:"sourceRepo,omitempty"`
	Tasks       []Task `json:"tasks"`
}

// Outcome is the terminal classification of one task run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// TaskMetrics is the recorded result of running one task.
type TaskMetrics struct {
	TaskID             string  `json:"taskId"`
	Outcome            Outcome `json:"outcome"`
	DurationMs         int64   `json:"durationMs"`
	Turns              int     `json:"turns"`
	Tokens             int     `json:"tokens"`
	VerificationOutput string  `json:"verificationOutput,omitempty"`
	Error              string  `json:"error,omitempty"`
}
