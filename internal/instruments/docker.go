// Package instruments implements the FM worker's sandboxed execution
// surface: a Docker-backed run_command isolation layer, plus the
// subagent delegation manager the benchmark runner uses for parallel
// task fan-out.
//
// The Docker sandbox manages container lifecycle for running
// agent-driven shell commands safely:
//   - Resource limits (CPU, memory, timeout)
//   - Network isolation (no outbound by default)
//   - Volume mounting for the task workspace
//   - Automatic cleanup after execution
package instruments

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SandboxConfig controls container resource limits.
type SandboxConfig struct {
	Image        string        // Docker image (default: "forgebench-task-base")
	MemoryMB     int           // Memory limit in MB (default: 256)
	CPUs         float64       // CPU limit (default: 0.5)
	Timeout      time.Duration // Execution timeout (default: 30s)
	NetworkMode  string        // "none" (default), "bridge", "host"
	WorkDir      string        // Working directory inside container
}

// DefaultSandboxConfig returns safe defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Image:       "forgebench-task-base",
		MemoryMB:    256,
		CPUs:        0.5,
		Timeout:     30 * time.Second,
		NetworkMode: "none",
		WorkDir:     "/workspace",
	}
}

// SandboxResult captures the output of a container execution.
type SandboxResult struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ElapsedMs int64  `json:"elapsed_ms"`
	OOMKilled bool   `json:"oom_killed"` // Out of memory
	TimedOut  bool   `json:"timed_out"`
}

// DockerSandbox manages container-based command execution for the tool
// executor's run_command, when host execution is considered too risky.
type DockerSandbox struct {
	mu     sync.RWMutex
	config SandboxConfig

	// Stats.
	totalRuns   int
	totalErrors int
}

// NewDockerSandbox creates a sandbox manager.
func NewDockerSandbox(config SandboxConfig) *DockerSandbox {
	return &DockerSandbox{config: config}
}

// SetConfig updates the sandbox configuration.
func (d *DockerSandbox) SetConfig(config SandboxConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = config
}

// Config returns the current sandbox configuration.
func (d *DockerSandbox) Config() SandboxConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// IsAvailable checks if Docker is installed and accessible.
func (d *DockerSandbox) IsAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// Stats returns execution statistics.
func (d *DockerSandbox) Stats() (runs, errors int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.totalRuns, d.totalErrors
}

// RunCommand runs an arbitrary shell command inside a fresh container with
// workspace bind-mounted at cfg.WorkDir. Used by the tool executor's
// run_command to isolate agent-driven shell commands from the host when a
// sandbox is configured.
func (d *DockerSandbox) RunCommand(ctx context.Context, workspace, command string) (*SandboxResult, error) {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	args := []string{
		"run", "--rm",
		"--memory", fmt.Sprintf("%dm", cfg.MemoryMB),
		"--cpus", fmt.Sprintf("%.1f", cfg.CPUs),
		"--network", cfg.NetworkMode,
		"--workdir", cfg.WorkDir,
		"--volume", fmt.Sprintf("%s:%s", workspace, cfg.WorkDir),
		"--cap-drop=ALL",
		"--tmpfs", "/tmp:size=64m",
		cfg.Image,
		"sh", "-c", command,
	}

	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "docker", args...)

	start := time.Now()
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	d.mu.Lock()
	d.totalRuns++
	if runErr != nil {
		d.totalErrors++
	}
	d.mu.Unlock()

	result := &SandboxResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ElapsedMs: elapsed,
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode == 137 {
			result.OOMKilled = true
		}
		return result, nil
	}
	if runErr != nil {
		return nil, fmt.Errorf("docker run: %w", runErr)
	}
	result.ExitCode = 0
	return result, nil
}
