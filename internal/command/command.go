// Package command runs the external tools the pipeline drives (terraform, docker, aws, kubectl).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/codex-k8s/deployctl/internal/logging"
)

// Runner executes external commands.
type Runner interface {
	// Run executes name with args in dir, streaming its output into the log.
	Run(ctx context.Context, dir, name string, args ...string) error
	// Output executes name with args in dir and returns its stdout. Stderr goes to the log.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// Exec is the os/exec backed Runner.
type Exec struct {
	logger *slog.Logger
	env    []string
}

// NewExec constructs an Exec runner. extraEnv entries (KEY=VALUE) are appended to the process env.
func NewExec(logger *slog.Logger, extraEnv ...string) *Exec {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Exec{logger: logger, env: extraEnv}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, dir, name string, args ...string) error {
	e.logger.Debug("running command", "cmd", name, "args", args, "dir", dir)

	stdout := logging.NewWriter(e.logger, name)
	stderr := logging.NewWriter(e.logger, name)
	defer stdout.Flush()
	defer stderr.Flush()

	cmd := e.command(ctx, dir, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return &Error{Name: name, Args: args, Err: err}
	}
	return nil
}

// Output implements Runner.
func (e *Exec) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	e.logger.Debug("running command", "cmd", name, "args", args, "dir", dir)

	stderr := logging.NewWriter(e.logger, name)
	defer stderr.Flush()

	var stdout bytes.Buffer
	cmd := e.command(ctx, dir, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &Error{Name: name, Args: args, Err: err}
	}
	return stdout.Bytes(), nil
}

func (e *Exec) command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	return cmd
}

// Error reports a failed command invocation.
type Error struct {
	Name string
	Args []string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Name, strings.Join(e.Args, " "), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status carried by err, or -1 when err does not carry one.
func ExitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
