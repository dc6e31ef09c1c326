package executor

import (
	"context"
	"sync"

	"github.com/kballard/go-shellquote"
)

// Fake is a scripted Executor for tests. Responses are keyed on the joined
// command line; unscripted commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []string
	stdins    map[string]string
}

// Response is what a Fake returns for one command line.
type Response struct {
	Stdout string
	Stderr string
	Code   int
}

func NewFake() *Fake {
	return &Fake{responses: map[string]Response{}, stdins: map[string]string{}}
}

// Script registers the response for an exact command line.
func (f *Fake) Script(cmdline string, r Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[normalize(cmdline)] = r
}

// normalize re-joins a shell-quoted command line so that scripted keys
// match dispatch keys regardless of quoting style.
func normalize(cmdline string) string {
	words, err := shellquote.Split(cmdline)
	if err != nil {
		return cmdline
	}
	return shellquote.Join(words...)
}

func (f *Fake) Run(ctx context.Context, cmd string, args ...string) (Result, error) {
	return f.dispatch("", cmd, args...)
}

func (f *Fake) Input(ctx context.Context, stdin string, cmd string, args ...string) (Result, error) {
	return f.dispatch(stdin, cmd, args...)
}

func (f *Fake) dispatch(stdin, cmd string, args ...string) (Result, error) {
	line := shellquote.Join(append([]string{cmd}, args...)...)
	f.mu.Lock()
	f.calls = append(f.calls, line)
	if stdin != "" {
		f.stdins[line] = stdin
	}
	r, ok := f.responses[line]
	f.mu.Unlock()
	if !ok {
		return Result{}, nil
	}
	res := Result{Code: r.Code, Stdout: r.Stdout, Stderr: r.Stderr}
	if r.Code != 0 {
		return res, &ToolError{Cmd: cmd, Args: args, Code: r.Code, Stderr: r.Stderr}
	}
	return res, nil
}

// Calls returns every command line seen, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Stdin returns the stdin recorded for a command line, if any.
func (f *Fake) Stdin(cmdline string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stdins[normalize(cmdline)]
}

var _ Executor = (*Fake)(nil)
