package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/release"
	"github.com/hostkit-platform/hostkit/internal/envfile"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/lockfile"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// RollbackOptions tune one rollback.
type RollbackOptions struct {
	// To names the target release; empty means the immediately previous one.
	To string
	// Full also restores the database checkpoint and env snapshot recorded
	// on the target release.
	Full bool
	// DryRun replaces every side effect with a report.
	DryRun bool
}

// RollbackResult surfaces each sub-step's outcome individually so a partial
// rollback is visible.
type RollbackResult struct {
	Project          string        `json:"project"`
	PreviousRelease  string        `json:"previous_release"`
	CurrentRelease   string        `json:"current_release"`
	Full             bool          `json:"full_rollback"`
	DryRun           bool          `json:"dry_run,omitempty"`
	DatabaseRestored bool          `json:"database_restored"`
	DatabaseError    string        `json:"database_restore_error,omitempty"`
	EnvRestored      bool          `json:"env_restored"`
	EnvError         string        `json:"env_restore_error,omitempty"`
	EnvChanges       *envfile.Diff `json:"env_changes,omitempty"`
	ServiceRestarted bool          `json:"service_restarted"`
	RestartError     string        `json:"restart_error,omitempty"`
	CheckpointID     *int64        `json:"checkpoint_id,omitempty"`
}

// RollbackService switches a project back to an earlier release, optionally
// restoring its database and environment alongside.
type RollbackService struct {
	releases   *ReleaseService
	checkpoint *CheckpointService
	env        *EnvService
	fs         *fsops.Ops
	supervisor initsys.Supervisor
	log        *slog.Logger
}

// NewRollbackService creates a RollbackService.
func NewRollbackService(releases *ReleaseService, checkpoint *CheckpointService,
	env *EnvService, fs *fsops.Ops, supervisor initsys.Supervisor, log *slog.Logger) *RollbackService {
	return &RollbackService{
		releases: releases, checkpoint: checkpoint, env: env,
		fs: fs, supervisor: supervisor, log: log,
	}
}

// Rollback resolves the target release and performs the switch.
func (s *RollbackService) Rollback(ctx context.Context, projectName string, opts RollbackOptions) (*RollbackResult, error) {
	based, err := s.releases.IsReleaseBased(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if !based {
		return nil, domain.Ef(domain.CodeNotReleaseBased,
			"project %q does not use release-based deployments", projectName).
			WithSuggestion("deploy at least once to enable release-based deployments")
	}

	current, err := s.releases.GetCurrentRelease(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.Ef(domain.CodeReleaseNotFound, "no current release found for project %q", projectName)
	}

	target, err := s.resolveTarget(ctx, projectName, current, opts.To)
	if err != nil {
		return nil, err
	}

	result := &RollbackResult{
		Project:         projectName,
		PreviousRelease: current.ReleaseName,
		CurrentRelease:  target.ReleaseName,
		Full:            opts.Full,
		CheckpointID:    target.CheckpointID,
	}

	if opts.DryRun {
		return s.preview(ctx, projectName, target, opts, result)
	}

	lock, err := lockfile.Acquire(ctx, lockfile.ProjectLockPath(s.fs.Layout().HomeDir(projectName)))
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	defer lock.Release()

	// Full rollback restores state first so the old code starts against the
	// matching database and environment.
	if opts.Full && target.CheckpointID != nil {
		if _, err := s.checkpoint.Restore(ctx, projectName, *target.CheckpointID, true); err != nil {
			result.DatabaseError = err.Error()
			s.log.Warn("rollback database restore failed", "project", projectName, "error", err)
		} else {
			result.DatabaseRestored = true
		}
	}
	if opts.Full && target.EnvSnapshot != "" {
		if _, err := s.env.RestoreSnapshot(ctx, projectName, target.EnvSnapshot); err != nil {
			result.EnvError = err.Error()
			s.log.Warn("rollback env restore failed", "project", projectName, "error", err)
		} else {
			result.EnvRestored = true
		}
	}

	activated, err := s.releases.ActivateRelease(ctx, projectName, target.ReleaseName)
	if err != nil {
		return nil, err
	}
	result.CurrentRelease = activated.ReleaseName

	unit := systemd.ServiceUnit(projectName, systemd.KindApp, "")
	if err := s.supervisor.Restart(ctx, unit); err != nil {
		result.RestartError = err.Error()
	} else {
		result.ServiceRestarted = true
	}
	return result, nil
}

// resolveTarget picks the explicit release or the immediate predecessor.
func (s *RollbackService) resolveTarget(ctx context.Context, projectName string,
	current *release.Release, to string) (*release.Release, error) {
	if to != "" {
		target, err := s.releases.GetRelease(ctx, projectName, to)
		if err != nil {
			return nil, err
		}
		if target.ReleaseName == current.ReleaseName {
			return nil, domain.Ef(domain.CodeAlreadyCurrent,
				"release %q is already the current release", to)
		}
		return target, nil
	}
	target, err := s.releases.GetPreviousRelease(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, domain.Ef(domain.CodeNoPreviousRelease,
			"no previous release available for project %q", projectName).
			WithSuggestion("use 'hostkit release list' to see available releases")
	}
	return target, nil
}

// preview fills the result with comparisons instead of side effects.
func (s *RollbackService) preview(ctx context.Context, projectName string,
	target *release.Release, opts RollbackOptions, result *RollbackResult) (*RollbackResult, error) {
	result.DryRun = true
	if opts.Full && target.EnvSnapshot != "" {
		diff, err := s.env.CompareSnapshot(ctx, projectName, target.EnvSnapshot)
		if err == nil {
			result.EnvChanges = &diff
		}
	}
	return result, nil
}
