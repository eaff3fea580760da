package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"
)

// ErrToolUnavailable means the external tool could not be started at all
// (missing binary or no permission to execute it). Retrying cannot help.
var ErrToolUnavailable = errors.New("network tool unavailable")

// Result is the outcome of one finished external command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner starts external commands and waits for them to exit.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// execRunner runs commands on the host with a per-command timeout.
type execRunner struct {
	timeout time.Duration
}

// Run returns a nil error for any command that started, whatever its exit
// code. A command killed by the timeout reports exit code -1.
func (e execRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	// Keep the tool's output in a stable, parseable language.
	cmd.Env = append(cmd.Environ(), "LC_ALL=C")

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, name, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = fmt.Sprintf("timed out after %s", e.timeout)
		}
		return res, nil
	case ctx.Err() != nil:
		return Result{ExitCode: -1}, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return Result{ExitCode: -1}, fmt.Errorf("run %s: %w", name, err)
	}
}
