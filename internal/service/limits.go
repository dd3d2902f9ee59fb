package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// resourceLinePattern strips previously applied resource directives from a
// unit file before re-insertion.
var resourceLinePattern = regexp.MustCompile(`(?m)^(CPUQuota|MemoryMax|MemoryHigh|TasksMax)=.*\n?`)

// DiskUsage reports a project's advisory disk accounting.
type DiskUsage struct {
	Project     string   `json:"project"`
	HomeDirMB   int      `json:"home_dir_mb"`
	LogDirMB    int      `json:"log_dir_mb"`
	TotalMB     int      `json:"total_mb"`
	QuotaMB     *int     `json:"quota_mb,omitempty"`
	OverQuota   bool     `json:"over_quota"`
	PercentUsed *float64 `json:"percent_used,omitempty"`
}

// LimitsService manages per-project cgroup limits and advisory disk quotas.
type LimitsService struct {
	store      database.Store
	supervisor initsys.Supervisor
	runner     execx.Runner
	layout     *fsops.Layout
	log        *slog.Logger
}

// NewLimitsService creates a LimitsService.
func NewLimitsService(store database.Store, supervisor initsys.Supervisor, runner execx.Runner, layout *fsops.Layout, log *slog.Logger) *LimitsService {
	return &LimitsService{store: store, supervisor: supervisor, runner: runner, layout: layout, log: log}
}

// Get returns the project's limits, or nil when none are configured.
func (s *LimitsService) Get(ctx context.Context, projectName string) (*limits.ResourceLimits, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}
	return s.store.GetResourceLimits(ctx, projectName)
}

// GetOrDefault returns the configured limits or the recommended defaults.
func (s *LimitsService) GetOrDefault(ctx context.Context, projectName string) (limits.ResourceLimits, error) {
	rl, err := s.Get(ctx, projectName)
	if err != nil {
		return limits.ResourceLimits{}, err
	}
	if rl != nil {
		return *rl, nil
	}
	return limits.DefaultResourceLimits(projectName), nil
}

// Set updates limit fields. Nil fields keep their current value; unlimited
// clears every axis.
func (s *LimitsService) Set(ctx context.Context, projectName string,
	cpu, memMax, memHigh, tasks, disk *int, enabled *bool, unlimited bool) (limits.ResourceLimits, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return limits.ResourceLimits{}, err
	}

	current, err := s.GetOrDefault(ctx, projectName)
	if err != nil {
		return limits.ResourceLimits{}, err
	}
	if unlimited {
		current.CPUQuota, current.MemoryMaxMB, current.MemoryHighMB = nil, nil, nil
		current.TasksMax, current.DiskQuotaMB = nil, nil
	}
	if cpu != nil {
		current.CPUQuota = cpu
	}
	if memMax != nil {
		current.MemoryMaxMB = memMax
	}
	if memHigh != nil {
		current.MemoryHighMB = memHigh
	}
	if tasks != nil {
		current.TasksMax = tasks
	}
	if disk != nil {
		current.DiskQuotaMB = disk
	}
	if enabled != nil {
		current.Enabled = *enabled
	}
	current.Project = projectName

	if err := current.Validate(); err != nil {
		return limits.ResourceLimits{}, err
	}
	if err := s.store.SetResourceLimits(ctx, current); err != nil {
		return limits.ResourceLimits{}, err
	}
	return current, nil
}

// Reset restores the recommended defaults.
func (s *LimitsService) Reset(ctx context.Context, projectName string) (limits.ResourceLimits, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return limits.ResourceLimits{}, err
	}
	if _, err := s.store.DeleteResourceLimits(ctx, projectName); err != nil {
		return limits.ResourceLimits{}, err
	}
	defaults := limits.DefaultResourceLimits(projectName)
	if err := s.store.SetResourceLimits(ctx, defaults); err != nil {
		return limits.ResourceLimits{}, err
	}
	return defaults, nil
}

// Apply rewrites the app unit's resource-control block, reloads the
// supervisor, and restarts the unit so the cgroup change takes effect.
func (s *LimitsService) Apply(ctx context.Context, projectName string) error {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return err
	}
	rl, err := s.store.GetResourceLimits(ctx, projectName)
	if err != nil {
		return err
	}

	unit := systemd.ServiceUnit(projectName, systemd.KindApp, "")
	if !s.supervisor.UnitFileExists(unit) {
		return domain.Ef(domain.CodeServiceNotFound, "systemd service for %q not found", projectName).
			WithSuggestion("the project may not be fully provisioned")
	}
	content, err := s.supervisor.ReadUnitFile(unit)
	if err != nil {
		return err
	}

	content = resourceLinePattern.ReplaceAllString(content, "")
	content = strings.ReplaceAll(content, "# Resource limits (managed by HostKit)\n", "")

	if rl != nil && rl.Enabled && !rl.Unlimited() {
		var block strings.Builder
		block.WriteString("# Resource limits (managed by HostKit)\n")
		if rl.CPUQuota != nil {
			fmt.Fprintf(&block, "CPUQuota=%d%%\n", *rl.CPUQuota)
		}
		if rl.MemoryMaxMB != nil {
			fmt.Fprintf(&block, "MemoryMax=%dM\n", *rl.MemoryMaxMB)
		}
		if rl.MemoryHighMB != nil {
			fmt.Fprintf(&block, "MemoryHigh=%dM\n", *rl.MemoryHighMB)
		}
		if rl.TasksMax != nil {
			fmt.Fprintf(&block, "TasksMax=%d\n", *rl.TasksMax)
		}
		idx := strings.Index(content, "[Service]\n")
		if idx >= 0 {
			insert := idx + len("[Service]\n")
			content = content[:insert] + block.String() + content[insert:]
		}
	}

	if err := s.supervisor.InstallUnit(ctx, unit, content); err != nil {
		return err
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		return err
	}
	// Restart unconditionally so the new cgroup settings bind.
	return s.supervisor.Restart(ctx, unit)
}

// CheckDiskUsage measures a project's disk footprint with du; quotas are
// advisory only.
func (s *LimitsService) CheckDiskUsage(ctx context.Context, projectName string) (*DiskUsage, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}

	usage := &DiskUsage{Project: projectName}
	usage.HomeDirMB = s.dirSizeMB(ctx, s.layout.HomeDir(projectName))
	usage.LogDirMB = s.dirSizeMB(ctx, s.layout.LogDir(projectName))
	usage.TotalMB = usage.HomeDirMB + usage.LogDirMB

	rl, err := s.store.GetResourceLimits(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if rl != nil && rl.DiskQuotaMB != nil && *rl.DiskQuotaMB > 0 {
		usage.QuotaMB = rl.DiskQuotaMB
		usage.OverQuota = usage.TotalMB > *rl.DiskQuotaMB
		pct := float64(usage.TotalMB) / float64(*rl.DiskQuotaMB) * 100
		usage.PercentUsed = &pct
	}
	return usage, nil
}

// DeployWarning returns a disk-quota warning for the deploy pipeline, or
// empty when under quota.
func (s *LimitsService) DeployWarning(ctx context.Context, projectName string) string {
	usage, err := s.CheckDiskUsage(ctx, projectName)
	if err != nil || !usage.OverQuota {
		return ""
	}
	return fmt.Sprintf("project exceeds disk quota (%dMB / %dMB)", usage.TotalMB, *usage.QuotaMB)
}

func (s *LimitsService) dirSizeMB(ctx context.Context, path string) int {
	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "du",
		Args:    []string{"-sm", path},
		Timeout: 30 * time.Second,
	})
	if err != nil || !res.Ok() {
		return 0
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return 0
	}
	size, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return size
}
