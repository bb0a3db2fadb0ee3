package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/pithecene-io/workbench/log"
)

// ProcessConfig configures an external executor process.
type ProcessConfig struct {
	// Path is the executor binary.
	Path string
	// Args are passed to the binary.
	Args []string
	// Env entries are appended to the inherited environment and win over it.
	Env []string
	// Workspace is exported to the process as WORKBENCH_WORKSPACE.
	Workspace string
}

// ProcessResult describes how the executor process exited.
type ProcessResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// Stderr is the captured stderr output.
	Stderr string
}

// ProcessExecutor runs units in an external process. Dispatch frames are
// written to its stdin and status frames are read from its stdout.
type ProcessExecutor struct {
	*PipeExecutor

	config ProcessConfig
	logger *log.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stderr bytes.Buffer
}

// NewProcessExecutor creates a ProcessExecutor. Call Start before feeding
// the orchestrator and Close when done.
func NewProcessExecutor(config ProcessConfig, logger *log.Logger) *ProcessExecutor {
	return &ProcessExecutor{
		PipeExecutor: NewPipeExecutor(logger),
		config:       config,
		logger:       logger,
	}
}

// Start launches the process and attaches the frame transport.
func (e *ProcessExecutor) Start(ctx context.Context) error {
	if e.config.Path == "" {
		return errors.New("executor path is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return errors.New("executor already started")
	}

	cmd := exec.CommandContext(ctx, e.config.Path, e.config.Args...)
	env := os.Environ()
	if e.config.Workspace != "" {
		env = append(env, "WORKBENCH_WORKSPACE="+e.config.Workspace)
	}
	cmd.Env = deduplicateEnv(append(env, e.config.Env...))
	cmd.Stderr = &e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}
	e.cmd = cmd

	e.logger.Info("executor started", map[string]any{
		"path": e.config.Path,
		"pid":  cmd.Process.Pid,
	})

	// Stdout must be drained before cmd.Wait closes it, so Wait only runs
	// after the pipe executor has seen EOF (see Close).
	if err := e.Attach(ctx, stdout, stdin); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	return nil
}

// Close flushes pending frames, closes stdin and waits for the process.
func (e *ProcessExecutor) Close() (*ProcessResult, error) {
	pipeErr := e.PipeExecutor.Close()

	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil {
		return nil, pipeErr
	}

	waitErr := cmd.Wait()
	result := &ProcessResult{Stderr: e.stderr.String()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("executor wait failed: %w", waitErr)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
		} else {
			result.ExitCode = -1
		}
	}

	e.logger.Info("executor exited", map[string]any{"exit_code": result.ExitCode})
	return result, pipeErr
}

// Kill terminates the executor process.
func (e *ProcessExecutor) Kill() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil && e.cmd.Process != nil {
		return e.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key so
// configured values win over inherited duplicates from os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
