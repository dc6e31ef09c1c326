// Package executor runs external system tools without a shell, with a
// sanitized environment and captured output. Provisioning code never calls
// os/exec directly; it goes through an Executor so dry runs and tests can
// substitute the real system.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single external command unless the caller
// provides its own deadline. Package installs override this.
const DefaultTimeout = 30 * time.Second

// Result holds the outcome of one external command.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// ToolError is returned when an external command exits non-zero.
type ToolError struct {
	Cmd    string
	Args   []string
	Code   int
	Stderr string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", shellquote.Join(append([]string{e.Cmd}, e.Args...)...), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Executor abstracts command execution.
type Executor interface {
	// Run executes cmd with args and returns its captured output. A
	// non-zero exit returns both the Result and a *ToolError.
	Run(ctx context.Context, cmd string, args ...string) (Result, error)
	// Input is like Run but feeds stdin to the command.
	Input(ctx context.Context, stdin string, cmd string, args ...string) (Result, error)
}

// System is the real Executor.
type System struct{}

var _ Executor = System{}

func (System) Run(ctx context.Context, cmd string, args ...string) (Result, error) {
	return run(ctx, "", cmd, args...)
}

func (System) Input(ctx context.Context, stdin string, cmd string, args ...string) (Result, error) {
	return run(ctx, stdin, cmd, args...)
}

func run(ctx context.Context, stdin string, cmd string, args ...string) (Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd, args...)
	c.Env = []string{
		"PATH=/usr/sbin:/usr/bin:/sbin:/bin",
		"LANG=C",
		"LC_ALL=C",
		"DEBIAN_FRONTEND=noninteractive",
	}
	if stdin != "" {
		c.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	log.Trace().Str("cmd", shellquote.Join(append([]string{cmd}, args...)...)).Msg("exec")

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: truncate(stderr.String(), 4096)}
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			res.Code = ee.ExitCode()
		} else {
			res.Code = -1
			return res, fmt.Errorf("run %s: %w", cmd, err)
		}
		return res, &ToolError{Cmd: cmd, Args: args, Code: res.Code, Stderr: res.Stderr}
	}
	return res, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
