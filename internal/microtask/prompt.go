package microtask

import (
	"fmt"
	"strings"
)

const (
	maxPromptChars    = 8000
	maxTaskDescChars  = 600
	maxPreviousChars  = 400
	maxPreviousSteps  = 3
)

// systemPreamble is fixed: it names the available tools and the contract
// the FM must follow (single tool call per turn, terse reasoning).
const systemPreamble = `You are driving a sandboxed coding workspace one step at a time.
On every turn, choose exactly one tool call that makes progress on the task.
Available tools: read_file(path), write_file(path, content), edit_file(path, old_text, new_text),
run_command(command), verify_progress(), task_complete(summary).
Respond with a single <tool_call>{"name": "...", "arguments": {...}}</tool_call> block.
Keep reasoning brief; do not repeat an action that already failed the same way.`

// PromptInput bundles everything needed to render one FM worker call.
type PromptInput struct {
	TaskDescription     string
	Action              string // the tool contract / one-line instruction for this turn
	Context             string // relevant file excerpts, truncated by the caller
	PreviousSummaries   []string
	SkillsReference      string // optional, terse skills-aware hints
	VerificationFeedback string // optional, set after a verify_progress call
	DomainHint           string // optional, e.g. "this is a Python/pytest project"
}

// BuildPrompt renders the full FM-facing prompt string, capped at
// maxPromptChars. The task description is cut to maxTaskDescChars and the
// previous-step history to its last maxPreviousSteps entries and
// maxPreviousChars; context, skills and verification feedback are not
// shortened. A prompt still over the cap is cut at maxPromptChars, so an
// oversized context can cut off the verification feedback and the action.
func BuildPrompt(in PromptInput) string {
	taskDesc := truncate(in.TaskDescription, maxTaskDescChars)

	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nTask: ")
	b.WriteString(taskDesc)

	if in.DomainHint != "" {
		b.WriteString("\nDomain: ")
		b.WriteString(in.DomainHint)
	}

	if in.SkillsReference != "" {
		b.WriteString("\nRelevant skills:\n")
		b.WriteString(in.SkillsReference)
	}

	if len(in.PreviousSummaries) > 0 {
		prev := in.PreviousSummaries
		if len(prev) > maxPreviousSteps {
			prev = prev[len(prev)-maxPreviousSteps:]
		}
		joined := strings.Join(prev, "; ")
		b.WriteString("\nPrevious steps: ")
		b.WriteString(truncate(joined, maxPreviousChars))
	}

	if in.Context != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(in.Context)
	}

	if in.VerificationFeedback != "" {
		b.WriteString("\n\nVerification feedback:\n")
		b.WriteString(in.VerificationFeedback)
	}

	b.WriteString("\n\nAction: ")
	b.WriteString(in.Action)

	out := b.String()
	if len(out) > maxPromptChars {
		out = out[:maxPromptChars]
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// SummarizeStep renders the one-line, tool-aware summary of a completed
// step used to populate PromptInput.PreviousSummaries.
func SummarizeStep(toolName string, args map[string]any, result ToolResult) string {
	status := "ok"
	if !result.Success {
		status = "failed"
	}
	switch toolName {
	case "write_file":
		path, _ := args["path"].(string)
		return fmt.Sprintf("wrote %s (%s)", path, status)
	case "edit_file":
		path, _ := args["path"].(string)
		return fmt.Sprintf("edited %s (%s)", path, status)
	case "read_file":
		path, _ := args["path"].(string)
		return fmt.Sprintf("read %s (%s)", path, status)
	case "run_command":
		cmd, _ := args["command"].(string)
		return fmt.Sprintf("ran %q (%s)", truncate(cmd, 80), status)
	case "verify_progress":
		return fmt.Sprintf("requested verification (%s)", status)
	case "task_complete":
		return "declared task complete"
	default:
		return fmt.Sprintf("%s (%s)", toolName, status)
	}
}
