// Package execx provides uniform invocation of external binaries: the init
// system client, database tools, git, and permission helpers. Every
// subprocess in HostKit goes through a Runner so services can be tested
// without touching the host.
package execx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// DefaultTimeout bounds subprocesses that do not set their own.
const DefaultTimeout = 2 * time.Minute

// Cmd describes one subprocess invocation.
type Cmd struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // extra KEY=VALUE entries appended to the inherited env
	Stdin   io.Reader
	Stdout  io.Writer // when set, stdout streams here instead of being captured
	Timeout time.Duration
}

// Result holds the captured outcome of a finished subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Ok reports whether the subprocess exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner runs subprocesses. The error return covers failures to run at all
// (missing binary, timeout); a non-zero exit is reported through
// Result.ExitCode so callers can read stderr before deciding.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	log *slog.Logger
}

// NewRunner creates an ExecRunner logging each invocation at debug level.
func NewRunner(log *slog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	if r.log != nil {
		r.log.Debug("exec", "cmd", cmd.Name, "args", strings.Join(cmd.Args, " "), "dir", cmd.Dir)
	}

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, domain.Ef(domain.CodeSystemdError, "%s timed out after %s", cmd.Name, timeout).
			WithSuggestion("check the host for a hung process")
	case errors.Is(err, exec.ErrNotFound):
		return res, domain.Ef(domain.CodeCommandNotFound, "%s not found", cmd.Name).
			WithSuggestion("ensure the required tool is installed on the host")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
