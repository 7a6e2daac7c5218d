package docker

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Call is a command recorded by FakeRunner.
type Call struct {
	Args  []string
	Stdin []byte
}

// String joins the call's arguments with spaces.
func (c Call) String() string { return strings.Join(c.Args, " ") }

type fakeRule struct {
	match  string
	result Result
	err    error
	times  int
}

// FakeRunner records commands and answers them from registered rules. It
// backs tests of code that drives docker.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Call
	rules []*fakeRule
}

// On answers every command whose joined arguments contain match. Rules
// registered later take precedence.
func (f *FakeRunner) On(match string, stdout string, err error) *FakeRunner {
	return f.OnTimes(match, -1, stdout, err)
}

// OnTimes is On limited to n answers; afterwards older rules apply again.
func (f *FakeRunner) OnTimes(match string, n int, stdout string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := Result{Stdout: []byte(stdout)}
	if exitErr, ok := err.(*ExitError); ok {
		res.ExitCode = exitErr.Code
		res.Stderr = []byte(exitErr.Stderr)
	}
	f.rules = append(f.rules, &fakeRule{match: match, result: res, err: err, times: n})
	return f
}

func (f *FakeRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	call := Call{Args: append([]string(nil), cmd.Args...)}
	if cmd.Stdin != nil {
		data, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return Result{}, err
		}
		call.Stdin = data
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var rule *fakeRule
	joined := call.String()
	for i := len(f.rules) - 1; i >= 0; i-- {
		r := f.rules[i]
		if r.times != 0 && strings.Contains(joined, r.match) {
			rule = r
			if r.times > 0 {
				r.times--
			}
			break
		}
	}
	f.mu.Unlock()

	if rule == nil {
		return Result{}, nil
	}
	res := rule.result
	if cmd.Stdout != nil && len(res.Stdout) > 0 {
		if _, err := cmd.Stdout.Write(res.Stdout); err != nil {
			return Result{}, err
		}
		res.Stdout = nil
	}
	return res, rule.err
}

// Calls returns the recorded commands.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Called reports whether any recorded command contains match.
func (f *FakeRunner) Called(match string) bool {
	return f.Find(match) != nil
}

// Find returns the first recorded command containing match.
func (f *FakeRunner) Find(match string) *Call {
	for _, c := range f.Calls() {
		if strings.Contains(c.String(), match) {
			c := c
			return &c
		}
	}
	return nil
}
