// Package microtask implements the bounded-context micro-task loop: a tool
// executor, a size-capped FM worker call, the turn-by-turn orchestrator,
// and an aggressive test-driven verifier.
package microtask

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forgebench/forgebench/internal/instruments"
	"github.com/forgebench/forgebench/internal/security"
)

// ToolResult is what the Tool Executor returns for every invocation.
type ToolResult struct {
	Success         bool
	FullOutput      string
	CondensedSummary string
}

const previewLimit = 500

// Executor runs a named tool inside a workspace directory. Every tool error
// fails locally — it is returned as a non-success ToolResult, never as a Go
// error, so the orchestrator never needs to distinguish "tool raised" from
// "tool failed".
type Executor struct {
	Workspace string

	// Sandbox, when set and available, runs run_command inside a Docker
	// container bind-mounted to the workspace instead of directly on the
	// host. Nil means host execution.
	Sandbox *instruments.DockerSandbox

	// Audit, when set, records one event per tool invocation.
	Audit *security.AuditLogger

	// Policy, when set, gates every invocation behind a concurrency
	// ceiling and a forbidden-tool list before it reaches dispatch. The
	// workspace path doubles as the policy's task identity — the
	// benchmark runner gives each task its own workspace directory.
	Policy         *security.PolicyEnforcer
	ForbiddenTools []string
	MaxConcurrent  int

	// Secrets, when set, masks any registered value (API keys, tokens)
	// out of tool output before it reaches the FM transcript or the
	// session log — a shell command that echoes an env var should not
	// leak it back into the conversation.
	Secrets *security.SecretRegistry
}

// NewExecutor creates a tool executor rooted at workspace.
func NewExecutor(workspace string) *Executor {
	return &Executor{Workspace: workspace}
}

// WithSandbox enables containerized run_command execution.
func (e *Executor) WithSandbox(sandbox *instruments.DockerSandbox) *Executor {
	e.Sandbox = sandbox
	return e
}

// WithAudit enables per-invocation audit logging.
func (e *Executor) WithAudit(audit *security.AuditLogger) *Executor {
	e.Audit = audit
	return e
}

// WithPolicy enables tool-execution policy enforcement: forbiddenTools is
// matched case-insensitively against the tool name, and maxConcurrent caps
// simultaneous in-flight invocations for this executor's workspace (<= 0
// means unlimited).
func (e *Executor) WithPolicy(enforcer *security.PolicyEnforcer, forbiddenTools []string, maxConcurrent int) *Executor {
	e.Policy = enforcer
	e.ForbiddenTools = forbiddenTools
	e.MaxConcurrent = maxConcurrent
	return e
}

// WithSecrets enables output masking for registered secret values.
func (e *Executor) WithSecrets(registry *security.SecretRegistry) *Executor {
	e.Secrets = registry
	return e
}

// Execute dispatches toolName against args and returns its result. It has
// no error return: tool-level failures come back as a ToolResult whose
// Success is false.
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]any) ToolResult {
	if e.Policy != nil {
		if v := e.Policy.CheckExecution(e.Workspace, e.MaxConcurrent, e.ForbiddenTools, false, toolName); v != nil {
			result := ToolResult{Success: false, FullOutput: v.Details, CondensedSummary: v.Details}
			if e.Audit != nil {
				e.Audit.Log(security.AuditExecDenied, security.SeverityWarn, e.Workspace, "fm-worker",
					toolName, e.Workspace, false, map[string]string{"denied": v.Rule})
			}
			return result
		}
		e.Policy.AcquireRun(e.Workspace)
		defer e.Policy.ReleaseRun(e.Workspace)
	}

	result := e.dispatch(ctx, toolName, args)
	if e.Secrets != nil {
		result.FullOutput = e.Secrets.Sanitize(result.FullOutput)
		result.CondensedSummary = e.Secrets.Sanitize(result.CondensedSummary)
	}
	if e.Audit != nil {
		e.Audit.Log(security.AuditToolExec, security.SeverityInfo, e.Workspace, "fm-worker",
			toolName, e.Workspace, result.Success, map[string]string{"summary": result.CondensedSummary})
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, toolName string, args map[string]any) ToolResult {
	switch toolName {
	case "read_file":
		return e.readFile(args)
	case "write_file":
		return e.writeFile(args)
	case "edit_file":
		return e.editFile(args)
	case "run_command":
		return e.runCommand(ctx, args)
	case "task_complete":
		return ToolResult{Success: true, CondensedSummary: "TASK_COMPLETE"}
	case "verify_progress":
		return ToolResult{Success: true, CondensedSummary: "VERIFY_PROGRESS_REQUESTED"}
	default:
		msg := fmt.Sprintf("Unknown tool: %s", toolName)
		return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
	}
}

// resolvePath reinterprets an absolute /app/...-style path as a
// workspace-relative basename, matching the sandbox's path contract, and
// otherwise joins relative paths onto the workspace root.
func (e *Executor) resolvePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return filepath.Join(e.Workspace, filepath.Base(path))
	}
	return filepath.Join(e.Workspace, filepath.Clean(path))
}

func (e *Executor) readFile(args map[string]any) ToolResult {
	path, _ := args["path"].(string)
	full := e.resolvePath(path)

	data, err := os.ReadFile(full)
	if err != nil {
		msg := fmt.Sprintf("Failed to read %s: %v", path, err)
		return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
	}

	content := string(data)
	preview := content
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "... (truncated)"
	}
	return ToolResult{
		Success:          true,
		FullOutput:       content,
		CondensedSummary: preview,
	}
}

func (e *Executor) writeFile(args map[string]any) ToolResult {
	path, _ := args["path"].(string)
	content := coerceString(args["content"])
	full := e.resolvePath(path)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		msg := fmt.Sprintf("Failed to create directories for %s: %v", path, err)
		return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		msg := fmt.Sprintf("Failed to write %s: %v", path, err)
		return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
	}
	return ToolResult{
		Success:          true,
		FullOutput:       fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		CondensedSummary: fmt.Sprintf("Created %s", filepath.Base(path)),
	}
}

func (e *Executor) editFile(args map[string]any) ToolResult {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	full := e.resolvePath(path)

	data, err := os.ReadFile(full)
	if err != nil {
		msg := fmt.Sprintf("Failed to read %s: %v", path, err)
		return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
	}

	content := string(data)
	if !strings.Contains(content, oldText) {
		return ToolResult{Success: false, FullOutput: "Text not found", CondensedSummary: "Text not found"}
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		msg := fmt.Sprintf("Failed to write %s: %v", path, err)
		return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
	}
	return ToolResult{
		Success:          true,
		FullOutput:       fmt.Sprintf("edited %s", path),
		CondensedSummary: fmt.Sprintf("Edited %s", filepath.Base(path)),
	}
}

func (e *Executor) runCommand(ctx context.Context, args map[string]any) ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ToolResult{Success: false, FullOutput: "empty command", CondensedSummary: "empty command"}
	}

	var output string
	var failed bool

	if e.Sandbox != nil && e.Sandbox.IsAvailable() {
		result, err := e.Sandbox.RunCommand(ctx, e.Workspace, command)
		if err != nil {
			msg := fmt.Sprintf("sandbox error: %v", err)
			return ToolResult{Success: false, FullOutput: msg, CondensedSummary: msg}
		}
		output = result.Stdout + result.Stderr
		failed = result.ExitCode != 0
	} else {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = e.Workspace
		out, err := cmd.CombinedOutput()
		output = string(out)
		failed = err != nil
	}

	if failed {
		core := extractErrorCore(output)
		return ToolResult{
			Success:          false,
			FullOutput:       output,
			CondensedSummary: core,
		}
	}

	preview := output
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "... (truncated)"
	}
	return ToolResult{Success: true, FullOutput: output, CondensedSummary: preview}
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
