// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call as a command line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is the scripted result of a call.
type Response struct {
	Output []byte
	Err    error
}

// ExitError is an error carrying a process exit status.
type ExitError int

func (e ExitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// ExitCode returns the status.
func (e ExitError) ExitCode() int { return int(e) }

// Fake records calls and answers them from Responses. Keys are matched against the
// rendered command line by longest prefix, e.g. "terraform plan" or "docker push".
// Unmatched calls succeed with no output.
type Fake struct {
	mu        sync.Mutex
	Calls     []Call
	Responses map[string]Response
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{Responses: map[string]Response{}}
}

// On scripts the response for calls whose command line starts with prefix.
func (f *Fake) On(prefix string, out string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[prefix] = Response{Output: []byte(out), Err: err}
	return f
}

// Run implements command.Runner.
func (f *Fake) Run(ctx context.Context, dir, name string, args ...string) error {
	_, err := f.Output(ctx, dir, name, args...)
	return err
}

// Output implements command.Runner.
func (f *Fake) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Dir: dir, Name: name, Args: append([]string(nil), args...)}
	f.Calls = append(f.Calls, call)

	line := call.String()
	best := -1
	var resp Response
	for prefix, r := range f.Responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best = len(prefix)
			resp = r
		}
	}
	return resp.Output, resp.Err
}

// Lines returns the recorded command lines.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many recorded calls start with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
