// Package runner executes external tools (git, cmake) for the recipe stages
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fclpkg/fclrecipe/pkg/logger"
)

// Command describes one external tool invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string
	// LogName selects the log file (<LogDir>/<LogName>.log); empty disables file logging
	LogName string
}

// String renders the command line for logs and diagnostics
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t\"") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

// Result holds the outcome of a command
type Result struct {
	Output   []byte
	ExitCode int
	Duration time.Duration
}

// Lines splits the combined output into lines
func (r *Result) Lines() []string {
	if r == nil || len(r.Output) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(string(r.Output), "\n"), "\n")
}

//go:generate mockgen -destination=../mocks/runner_mock.go -package=mocks github.com/fclpkg/fclrecipe/pkg/runner Runner

// Runner runs external commands. Implementations block until the command exits
// or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec and tees their output into per-stage logs
type ExecRunner struct {
	LogDir string
	Logger logger.Logger
}

// NewExecRunner creates a runner that writes logs under logDir
func NewExecRunner(logDir string, log logger.Logger) *ExecRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &ExecRunner{LogDir: logDir, Logger: log}
}

// Run executes the command and returns its combined output
func (r *ExecRunner) Run(ctx context.Context, command Command) (*Result, error) {
	startTime := time.Now()

	logFile, err := r.prepareLogFile(command.LogName)
	if err != nil {
		r.Logger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(command.Env))
		for k := range command.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, command.Env[k]))
		}
	}

	var outputBuffer bytes.Buffer
	var writer io.Writer = &outputBuffer
	if logFile != nil {
		writer = io.MultiWriter(&outputBuffer, logFile)
		fmt.Fprintf(logFile, "\n=== %s ===\n$ %s\n", startTime.Format("2006-01-02 15:04:05"), command)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	r.Logger.Debug("Executing", logger.WithField("command", command.String()), logger.WithField("dir", command.Dir))

	err = cmd.Run()
	result := &Result{
		Output:   outputBuffer.Bytes(),
		Duration: time.Since(startTime),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if logFile != nil {
			fmt.Fprintf(logFile, "\n=== FAILED after %s: %v ===\n", result.Duration, err)
		}
		return result, fmt.Errorf("%s failed: %w", command.Name, err)
	}

	if logFile != nil {
		fmt.Fprintf(logFile, "\n=== SUCCEEDED after %s ===\n", result.Duration)
	}
	return result, nil
}

func (r *ExecRunner) prepareLogFile(name string) (*os.File, error) {
	if r.LogDir == "" || name == "" {
		return nil, nil
	}
	if err := os.MkdirAll(r.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(r.LogDir, name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logFile, nil
}

// CheckTool reports whether a tool binary is on PATH
func CheckTool(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	return nil
}
