package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// AutoPauseService pauses a project after a burst of failed deploys so an
// agent stuck in a deploy-crash loop cannot keep redeploying. Deploys stay
// blocked until an explicit resume.
type AutoPauseService struct {
	store    database.Store
	defaults config.AutoPause
	log      *slog.Logger
	now      func() time.Time
}

// NewAutoPauseService creates an AutoPauseService.
func NewAutoPauseService(store database.Store, defaults config.AutoPause, log *slog.Logger) *AutoPauseService {
	return &AutoPauseService{store: store, defaults: defaults, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// GetConfig returns the project's auto-pause policy, defaulted when no row
// exists.
func (s *AutoPauseService) GetConfig(ctx context.Context, projectName string) (limits.AutoPauseConfig, error) {
	cfg, err := s.store.GetAutoPauseConfig(ctx, projectName)
	if err != nil {
		return limits.AutoPauseConfig{}, err
	}
	if cfg != nil {
		return *cfg, nil
	}
	return limits.AutoPauseConfig{
		Project:          projectName,
		Enabled:          s.defaults.Enabled,
		FailureThreshold: s.defaults.FailureThreshold,
		WindowMinutes:    s.defaults.WindowMinutes,
	}, nil
}

// IsPaused reports whether the project is currently paused.
func (s *AutoPauseService) IsPaused(ctx context.Context, projectName string) (bool, string, error) {
	cfg, err := s.store.GetAutoPauseConfig(ctx, projectName)
	if err != nil {
		return false, "", err
	}
	if cfg == nil {
		return false, "", nil
	}
	return cfg.Paused, cfg.PausedReason, nil
}

// CheckAndMaybePause evaluates the failure window after a failed deploy and
// pauses the project when the threshold is reached. Returns whether the
// project was paused by this call.
func (s *AutoPauseService) CheckAndMaybePause(ctx context.Context, projectName string) (bool, error) {
	cfg, err := s.GetConfig(ctx, projectName)
	if err != nil {
		return false, err
	}
	if !cfg.Enabled || cfg.Paused {
		return false, nil
	}

	now := s.now()
	windowStart := now.Add(-time.Duration(cfg.WindowMinutes) * time.Minute)
	failures, err := s.store.CountFailuresSince(ctx, projectName, windowStart)
	if err != nil {
		return false, err
	}
	if failures < cfg.FailureThreshold {
		return false, nil
	}

	reason := fmt.Sprintf("%d failed deploys within %d minutes", failures, cfg.WindowMinutes)
	cfg.Paused = true
	cfg.PausedAt = &now
	cfg.PausedReason = reason

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.SetAutoPauseConfig(ctx, cfg); err != nil {
			return err
		}
		if err := tx.UpdateProjectStatus(ctx, projectName, project.StatusPaused); err != nil {
			return err
		}
		_, err := Append(ctx, tx, projectName, event.CategoryProject, event.TypePaused,
			event.LevelWarning, fmt.Sprintf("project %s auto-paused: %s", projectName, reason),
			map[string]any{"reason": reason})
		return err
	})
	if err != nil {
		return false, err
	}
	s.log.Warn("project auto-paused", "project", projectName, "reason", reason)
	return true, nil
}

// Resume lifts a pause and returns the project to stopped status (the
// supervisor decides whether it is actually running).
func (s *AutoPauseService) Resume(ctx context.Context, projectName string) error {
	cfg, err := s.GetConfig(ctx, projectName)
	if err != nil {
		return err
	}
	cfg.Paused = false
	cfg.PausedAt = nil
	cfg.PausedReason = ""

	return s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.SetAutoPauseConfig(ctx, cfg); err != nil {
			return err
		}
		if err := tx.UpdateProjectStatus(ctx, projectName, project.StatusStopped); err != nil {
			return err
		}
		_, err := Append(ctx, tx, projectName, event.CategoryProject, event.TypeResumed,
			event.LevelInfo, fmt.Sprintf("project %s resumed", projectName), nil)
		return err
	})
}

// SetConfig updates the auto-pause policy without touching the paused state.
func (s *AutoPauseService) SetConfig(ctx context.Context, projectName string, enabled *bool, threshold, windowMinutes *int) (limits.AutoPauseConfig, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return limits.AutoPauseConfig{}, err
	}
	cfg, err := s.GetConfig(ctx, projectName)
	if err != nil {
		return limits.AutoPauseConfig{}, err
	}
	if enabled != nil {
		cfg.Enabled = *enabled
	}
	if threshold != nil {
		cfg.FailureThreshold = *threshold
	}
	if windowMinutes != nil {
		cfg.WindowMinutes = *windowMinutes
	}
	if err := s.store.SetAutoPauseConfig(ctx, cfg); err != nil {
		return limits.AutoPauseConfig{}, err
	}
	return cfg, nil
}
