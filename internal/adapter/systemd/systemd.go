// Package systemd implements the supervisor port by shelling out to
// systemctl and journalctl through the subprocess gateway.
package systemd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/execx"
)

const systemctlTimeout = 30 * time.Second

// Systemd drives the host systemd instance.
type Systemd struct {
	unitDir string
	runner  execx.Runner
}

// New creates a Systemd supervisor writing unit files into unitDir.
func New(unitDir string, runner execx.Runner) *Systemd {
	return &Systemd{unitDir: unitDir, runner: runner}
}

func (s *Systemd) unitPath(fileName string) string {
	return filepath.Join(s.unitDir, fileName)
}

func (s *Systemd) InstallUnit(_ context.Context, fileName, content string) error {
	if err := os.MkdirAll(s.unitDir, 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	path := s.unitPath(fileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return domain.WrapErr(domain.CodeSystemdError, "write unit file "+fileName, err)
	}
	return nil
}

func (s *Systemd) RemoveUnit(_ context.Context, fileName string) error {
	err := os.Remove(s.unitPath(fileName))
	if err != nil && !os.IsNotExist(err) {
		return domain.WrapErr(domain.CodeSystemdError, "remove unit file "+fileName, err)
	}
	return nil
}

func (s *Systemd) UnitFileExists(fileName string) bool {
	_, err := os.Stat(s.unitPath(fileName))
	return err == nil
}

func (s *Systemd) ReadUnitFile(fileName string) (string, error) {
	data, err := os.ReadFile(s.unitPath(fileName))
	if err != nil {
		return "", domain.WrapErr(domain.CodeServiceNotFound, "read unit file "+fileName, err)
	}
	return string(data), nil
}

// systemctl runs one systemctl verb and returns the raw result; a non-zero
// exit is not an error here (lifecycle turns it into a typed error).
func (s *Systemd) systemctl(ctx context.Context, args ...string) (execx.Result, error) {
	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "systemctl",
		Args:    args,
		Timeout: systemctlTimeout,
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (s *Systemd) lifecycle(ctx context.Context, verb, unit string) error {
	res, err := s.systemctl(ctx, verb, unit)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeSystemdError, "systemctl %s %s: %s",
			verb, unit, strings.TrimSpace(res.Stderr)).
			WithSuggestion("check 'journalctl -u " + unit + "' for details")
	}
	return nil
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	return s.lifecycle(ctx, "daemon-reload", "")
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	if err := s.lifecycle(ctx, "start", unit); err != nil {
		return domain.WrapErr(domain.CodeServiceStartFailed, "start "+unit, err)
	}
	return nil
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.lifecycle(ctx, "stop", unit)
}

func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.lifecycle(ctx, "restart", unit)
}

func (s *Systemd) Enable(ctx context.Context, unit string) error {
	return s.lifecycle(ctx, "enable", unit)
}

func (s *Systemd) Disable(ctx context.Context, unit string) error {
	return s.lifecycle(ctx, "disable", unit)
}

func (s *Systemd) IsActive(ctx context.Context, unit string) bool {
	res, err := s.systemctl(ctx, "is-active", unit)
	return err == nil && res.Ok()
}

func (s *Systemd) IsEnabled(ctx context.Context, unit string) bool {
	res, err := s.systemctl(ctx, "is-enabled", unit)
	return err == nil && strings.TrimSpace(res.Stdout) == "enabled"
}

func (s *Systemd) MainPID(ctx context.Context, unit string) (int, error) {
	res, err := s.systemctl(ctx, "show", "-p", "MainPID", unit)
	if err != nil {
		return 0, err
	}
	value := strings.TrimPrefix(strings.TrimSpace(res.Stdout), "MainPID=")
	pid, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse MainPID %q: %w", value, err)
	}
	return pid, nil
}

func (s *Systemd) NextElapse(ctx context.Context, unit string) (time.Time, error) {
	res, err := s.systemctl(ctx, "show", unit, "--property=NextElapseUSecRealtime")
	if err != nil {
		return time.Time{}, err
	}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		value, ok := strings.CutPrefix(line, "NextElapseUSecRealtime=")
		if !ok || value == "" || value == "n/a" {
			continue
		}
		// systemd renders e.g. "Tue 2026-08-04 03:00:00 UTC".
		for _, layout := range []string{
			"Mon 2006-01-02 15:04:05 MST",
			"2006-01-02 15:04:05 MST",
		} {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, nil
}

func (s *Systemd) Logs(ctx context.Context, unit string, lines int, errorOnly bool) (string, error) {
	args := []string{"-u", unit, "-n", strconv.Itoa(lines), "--no-pager"}
	if errorOnly {
		args = append(args, "-p", "warning")
	}
	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "journalctl",
		Args:    args,
		Timeout: systemctlTimeout,
	})
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", domain.Ef(domain.CodeSystemdError, "journalctl -u %s: %s",
			unit, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// FollowLogs starts journalctl -f directly (not through the runner) because
// the stream outlives the call; the returned closer kills the child.
func (s *Systemd) FollowLogs(ctx context.Context, unit string, lines int) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, "journalctl",
		"-u", unit, "-n", strconv.Itoa(lines), "-f", "--no-pager")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.WrapErr(domain.CodeSystemdError, "start journalctl -f", err)
	}
	return &followStream{ReadCloser: stdout, cmd: cmd}, nil
}

type followStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (f *followStream) Close() error {
	f.cmd.Process.Kill()
	f.ReadCloser.Close()
	// The child was killed on purpose; its exit status is not an error.
	f.cmd.Wait()
	return nil
}
