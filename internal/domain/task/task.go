// Package task defines the ScheduledTask domain entity: one recurring job
// run through a supervisor timer unit.
package task

import (
	"regexp"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

const maxNameLen = 50

// ValidateName checks a task name: lowercase, digits, hyphens, starts with a
// letter, at most 50 characters.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return domain.Ef(domain.CodeInvalidTaskName, "invalid task name %q", name).
			WithSuggestion("task names start with a letter and contain only lowercase letters, digits, and hyphens")
	}
	if len(name) > maxNameLen {
		return domain.Ef(domain.CodeInvalidTaskName, "task name must be %d characters or less", maxNameLen)
	}
	return nil
}

// ScheduledTask is one recurring command for a project.
type ScheduledTask struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	Name        string `json:"name"`
	// Schedule is the canonical calendar form the timer runs on.
	Schedule string `json:"schedule"`
	// ScheduleCron preserves the original cron expression when the task was
	// declared with one.
	ScheduleCron string `json:"schedule_cron,omitempty"`
	Command      string `json:"command"`
	Description  string `json:"description,omitempty"`
	Enabled      bool   `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	CreatedBy    string     `json:"created_by,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string    `json:"last_run_status,omitempty"`
	LastRunExitCode *int    `json:"last_run_exit_code,omitempty"`

	// Live timer state, populated from the supervisor on read.
	TimerActive  bool `json:"timer_active"`
	TimerEnabled bool `json:"timer_enabled"`
}
