package execx

import (
	"context"
	"io"
	"strings"
	"sync"
)

// FakeRunner records invocations and replays scripted results. Used by
// service tests instead of shelling out to the host.
type FakeRunner struct {
	mu sync.Mutex

	// Results maps a command prefix ("systemctl is-active ...") to its result.
	// The longest matching prefix wins. Unmatched commands succeed with empty
	// output.
	Results map[string]Result
	// Errors maps a command prefix to a run-level error.
	Errors map[string]error

	Calls []Cmd
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Results: map[string]Result{}, Errors: map[string]error{}}
}

// Stub registers a result for commands starting with prefix.
func (f *FakeRunner) Stub(prefix string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Results[prefix] = res
}

// StubError registers a run-level error for commands starting with prefix.
func (f *FakeRunner) StubError(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[prefix] = err
}

func (f *FakeRunner) Run(_ context.Context, cmd Cmd) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, cmd)

	line := cmd.Name
	if len(cmd.Args) > 0 {
		line += " " + strings.Join(cmd.Args, " ")
	}

	var bestPrefix string
	for prefix := range f.Errors {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix != "" {
		return Result{}, f.Errors[bestPrefix]
	}

	bestPrefix = ""
	for prefix := range f.Results {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	res := f.Results[bestPrefix]
	if cmd.Stdout != nil && res.Stdout != "" {
		io.WriteString(cmd.Stdout, res.Stdout)
		res.Stdout = ""
	}
	return res, nil
}

// CommandLines returns each recorded invocation as a single string.
func (f *FakeRunner) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		line := c.Name
		if len(c.Args) > 0 {
			line += " " + strings.Join(c.Args, " ")
		}
		lines = append(lines, line)
	}
	return lines
}
