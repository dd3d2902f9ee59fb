package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// Pattern severities, ordered for ranking.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// logPattern is one known failure signature searched for in recent logs.
type logPattern struct {
	Type       string
	Severity   string
	Regex      *regexp.Regexp
	Suggestion string
}

var logPatterns = []logPattern{
	{
		Type:       "module-not-found",
		Severity:   SeverityHigh,
		Regex:      regexp.MustCompile(`(?i)ModuleNotFoundError|ImportError: cannot import|Cannot find module`),
		Suggestion: "install dependencies: deploy with --install, or check requirements.txt / package.json",
	},
	{
		Type:       "address-in-use",
		Severity:   SeverityHigh,
		Regex:      regexp.MustCompile(`(?i)address already in use|EADDRINUSE`),
		Suggestion: "another process holds the project's port; check for stray processes or a port clash",
	},
	{
		Type:       "oom-kill",
		Severity:   SeverityCritical,
		Regex:      regexp.MustCompile(`(?i)out of memory|oom-kill|killed process|MemoryError`),
		Suggestion: "raise the memory limit with 'hostkit limits set' or reduce the app's footprint",
	},
	{
		Type:       "permission-denied",
		Severity:   SeverityHigh,
		Regex:      regexp.MustCompile(`(?i)permission denied|EACCES`),
		Suggestion: "check file ownership under the project home; a deploy may have left root-owned files",
	},
	{
		Type:       "syntax-error",
		Severity:   SeverityHigh,
		Regex:      regexp.MustCompile(`(?i)SyntaxError|Unexpected token|invalid syntax`),
		Suggestion: "the deployed code does not parse; fix the source and redeploy",
	},
	{
		Type:       "file-not-found",
		Severity:   SeverityMedium,
		Regex:      regexp.MustCompile(`(?i)No such file or directory|ENOENT|FileNotFoundError`),
		Suggestion: "a path the app expects is missing; check the release contents and shared/ layout",
	},
}

// DetectedPattern is one matched failure signature with evidence.
type DetectedPattern struct {
	Type        string   `json:"pattern_type"`
	Severity    string   `json:"severity"`
	Occurrences int      `json:"occurrences"`
	Evidence    []string `json:"evidence,omitempty"`
	Suggestion  string   `json:"suggestion"`
}

// Diagnosis is the full output of a diagnosis run.
type Diagnosis struct {
	Project  string            `json:"project"`
	Patterns []DetectedPattern `json:"patterns"`
	Healthy  bool              `json:"healthy"`
}

// StartupTestResult captures a foreground run of the project entrypoint.
type StartupTestResult struct {
	Project  string `json:"project"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	TimedOut bool   `json:"timed_out"`
}

// DiagnoseService classifies failures from recent logs and event history.
// It suggests remedies; it never remediates.
type DiagnoseService struct {
	store      database.Store
	supervisor initsys.Supervisor
	runner     execx.Runner
	layout     *fsops.Layout
	log        *slog.Logger
}

// NewDiagnoseService creates a DiagnoseService.
func NewDiagnoseService(store database.Store, supervisor initsys.Supervisor, runner execx.Runner, layout *fsops.Layout, log *slog.Logger) *DiagnoseService {
	return &DiagnoseService{store: store, supervisor: supervisor, runner: runner, layout: layout, log: log}
}

// Diagnose reads recent logs plus the event journal and returns the ranked
// list of detected failure patterns.
func (s *DiagnoseService) Diagnose(ctx context.Context, projectName string, logLines int) (*Diagnosis, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}
	if logLines <= 0 {
		logLines = 200
	}

	unit := systemd.ServiceUnit(projectName, systemd.KindApp, "")
	logs, err := s.supervisor.Logs(ctx, unit, logLines, false)
	if err != nil {
		s.log.Warn("journal read failed", "project", projectName, "error", err)
	}

	diagnosis := &Diagnosis{Project: projectName}
	lines := strings.Split(logs, "\n")
	for _, pattern := range logPatterns {
		var evidence []string
		occurrences := 0
		for _, line := range lines {
			if pattern.Regex.MatchString(line) {
				occurrences++
				if len(evidence) < 3 {
					evidence = append(evidence, strings.TrimSpace(line))
				}
			}
		}
		if occurrences > 0 {
			diagnosis.Patterns = append(diagnosis.Patterns, DetectedPattern{
				Type:        pattern.Type,
				Severity:    pattern.Severity,
				Occurrences: occurrences,
				Evidence:    evidence,
				Suggestion:  pattern.Suggestion,
			})
		}
	}

	if crashLoop, err := s.detectCrashLoop(ctx, projectName); err == nil && crashLoop != nil {
		diagnosis.Patterns = append(diagnosis.Patterns, *crashLoop)
	}

	sort.SliceStable(diagnosis.Patterns, func(i, j int) bool {
		return severityRank[diagnosis.Patterns[i].Severity] < severityRank[diagnosis.Patterns[j].Severity]
	})
	diagnosis.Healthy = len(diagnosis.Patterns) == 0
	return diagnosis, nil
}

// detectCrashLoop flags a high frequency of failed deploys in the journal's
// trailing 30 minutes.
func (s *DiagnoseService) detectCrashLoop(ctx context.Context, projectName string) (*DetectedPattern, error) {
	count, err := s.store.CountEvents(ctx, event.Query{
		Project:  projectName,
		Category: event.CategoryDeploy,
		Level:    event.LevelError,
		Since:    time.Now().UTC().Add(-30 * time.Minute),
	})
	if err != nil {
		return nil, err
	}
	if count < 3 {
		return nil, nil
	}
	return &DetectedPattern{
		Type:        "deploy-crash-loop",
		Severity:    SeverityCritical,
		Occurrences: count,
		Suggestion:  "stop redeploying; run 'hostkit diagnose --run-test' to capture the startup error directly",
	}, nil
}

// StartupTest runs the project's entrypoint in the foreground with a bounded
// timeout and captures its output, because the journal often reduces a
// startup crash to "exit code 1".
func (s *DiagnoseService) StartupTest(ctx context.Context, projectName string, timeout time.Duration) (*StartupTestResult, error) {
	proj, err := s.store.GetProject(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	home := s.layout.HomeDir(projectName)
	exec := systemd.ExecStartForRuntime(string(proj.Runtime), home, proj.Port)
	parts := strings.Fields(exec)

	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    parts[0],
		Args:    parts[1:],
		Dir:     s.layout.AppLink(projectName),
		Timeout: timeout,
	})
	result := &StartupTestResult{
		Project:  projectName,
		ExitCode: res.ExitCode,
		Output:   strings.TrimSpace(res.Stdout + "\n" + res.Stderr),
	}
	if err != nil {
		if domain.CodeOf(err) == domain.CodeCommandNotFound {
			return nil, err
		}
		// A timeout means the process stayed up for the whole window, which
		// for a server is a pass.
		result.TimedOut = true
		result.Output = fmt.Sprintf("%s\n(terminated after %s)", result.Output, timeout)
	}
	return result, nil
}
