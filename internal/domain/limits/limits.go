// Package limits defines resource limits, deploy rate limiting, and
// auto-pause configuration for projects.
package limits

import (
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// ResourceLimits holds the per-project cgroup limits applied through the
// supervisor unit. Nil fields mean unlimited on that axis.
type ResourceLimits struct {
	Project      string    `json:"project"`
	CPUQuota     *int      `json:"cpu_quota_percent,omitempty"`
	MemoryMaxMB  *int      `json:"memory_max_mb,omitempty"`
	MemoryHighMB *int      `json:"memory_high_mb,omitempty"`
	TasksMax     *int      `json:"tasks_max,omitempty"`
	DiskQuotaMB  *int      `json:"disk_quota_mb,omitempty"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultResourceLimits returns the recommended starting limits for a new
// project.
func DefaultResourceLimits(project string) ResourceLimits {
	cpu, memMax, memHigh, tasks, disk := 100, 512, 384, 100, 2048
	return ResourceLimits{
		Project:      project,
		CPUQuota:     &cpu,
		MemoryMaxMB:  &memMax,
		MemoryHighMB: &memHigh,
		TasksMax:     &tasks,
		DiskQuotaMB:  &disk,
		Enabled:      true,
	}
}

// Validate checks limit values for consistency.
func (r ResourceLimits) Validate() error {
	for _, f := range []struct {
		name string
		val  *int
	}{
		{"cpu quota", r.CPUQuota},
		{"memory max", r.MemoryMaxMB},
		{"memory high", r.MemoryHighMB},
		{"tasks max", r.TasksMax},
		{"disk quota", r.DiskQuotaMB},
	} {
		if f.val != nil && *f.val <= 0 {
			return domain.Ef(domain.CodeInvalidLimits, "%s must be positive", f.name)
		}
	}
	if r.MemoryHighMB != nil && r.MemoryMaxMB != nil && *r.MemoryHighMB > *r.MemoryMaxMB {
		return domain.E(domain.CodeInvalidLimits, "memory high limit cannot exceed memory max").
			WithSuggestion("lower --memory-high or raise --memory-max")
	}
	return nil
}

// Unlimited reports whether every axis is unset.
func (r ResourceLimits) Unlimited() bool {
	return r.CPUQuota == nil && r.MemoryMaxMB == nil && r.MemoryHighMB == nil &&
		r.TasksMax == nil && r.DiskQuotaMB == nil
}

// RateLimitConfig governs per-project deploy admission.
type RateLimitConfig struct {
	Project                 string `json:"project"`
	MaxDeploys              int    `json:"max_deploys"`
	WindowMinutes           int    `json:"window_minutes"`
	FailureCooldownMinutes  int    `json:"failure_cooldown_minutes"`
	ConsecutiveFailureLimit int    `json:"consecutive_failure_limit"`
}

// DefaultRateLimitConfig returns the stock admission policy.
func DefaultRateLimitConfig(project string) RateLimitConfig {
	return RateLimitConfig{
		Project:                 project,
		MaxDeploys:              10,
		WindowMinutes:           60,
		FailureCooldownMinutes:  5,
		ConsecutiveFailureLimit: 3,
	}
}

// Outcome is the recorded result of one deploy attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DeployRecord is one append-only row of deploy history.
type DeployRecord struct {
	Project string    `json:"project"`
	Outcome Outcome   `json:"outcome"`
	At      time.Time `json:"at"`
}

// BlockReason names why a deploy was refused admission.
type BlockReason string

const (
	BlockWindowExceeded BlockReason = "WINDOW_EXCEEDED"
	BlockCooldownActive BlockReason = "COOLDOWN_ACTIVE"
)

// Decision is the result of a rate-limit admission check.
type Decision struct {
	Allowed         bool        `json:"allowed"`
	Reason          BlockReason `json:"reason,omitempty"`
	DeploysInWindow int         `json:"deploys_in_window"`
	Remaining       time.Duration `json:"-"`
}

// AutoPauseConfig governs automatic pausing after bursts of failed deploys.
type AutoPauseConfig struct {
	Project          string     `json:"project"`
	Enabled          bool       `json:"enabled"`
	FailureThreshold int        `json:"failure_threshold"`
	WindowMinutes    int        `json:"window_minutes"`
	Paused           bool       `json:"paused"`
	PausedAt         *time.Time `json:"paused_at,omitempty"`
	PausedReason     string     `json:"paused_reason,omitempty"`
}

// DefaultAutoPauseConfig returns the stock auto-pause policy.
func DefaultAutoPauseConfig(project string) AutoPauseConfig {
	return AutoPauseConfig{
		Project:          project,
		Enabled:          true,
		FailureThreshold: 5,
		WindowMinutes:    10,
	}
}
