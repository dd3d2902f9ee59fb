package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// RateLimitService enforces per-project deploy admission windows. It is
// stateless between calls; the store is authoritative.
type RateLimitService struct {
	store    database.Store
	defaults config.RateLimit
	log      *slog.Logger
	now      func() time.Time
}

// NewRateLimitService creates a RateLimitService.
func NewRateLimitService(store database.Store, defaults config.RateLimit, log *slog.Logger) *RateLimitService {
	return &RateLimitService{store: store, defaults: defaults, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// GetConfig returns the project's admission policy, falling back to the
// configured defaults when no row exists.
func (s *RateLimitService) GetConfig(ctx context.Context, project string) (limits.RateLimitConfig, error) {
	cfg, err := s.store.GetRateLimitConfig(ctx, project)
	if err != nil {
		return limits.RateLimitConfig{}, err
	}
	if cfg != nil {
		return *cfg, nil
	}
	return limits.RateLimitConfig{
		Project:                 project,
		MaxDeploys:              s.defaults.MaxDeploys,
		WindowMinutes:           s.defaults.WindowMinutes,
		FailureCooldownMinutes:  s.defaults.FailureCooldownMinutes,
		ConsecutiveFailureLimit: s.defaults.ConsecutiveFailureLimit,
	}, nil
}

// SetConfig updates the project's admission policy. Nil fields keep their
// current (or default) value.
func (s *RateLimitService) SetConfig(ctx context.Context, project string,
	maxDeploys, windowMinutes, cooldownMinutes, failureLimit *int) (limits.RateLimitConfig, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return limits.RateLimitConfig{}, err
	}
	cfg, err := s.GetConfig(ctx, project)
	if err != nil {
		return limits.RateLimitConfig{}, err
	}
	if maxDeploys != nil {
		cfg.MaxDeploys = *maxDeploys
	}
	if windowMinutes != nil {
		cfg.WindowMinutes = *windowMinutes
	}
	if cooldownMinutes != nil {
		cfg.FailureCooldownMinutes = *cooldownMinutes
	}
	if failureLimit != nil {
		cfg.ConsecutiveFailureLimit = *failureLimit
	}
	cfg.Project = project
	if err := s.store.SetRateLimitConfig(ctx, cfg); err != nil {
		return limits.RateLimitConfig{}, err
	}
	return cfg, nil
}

// ResetConfig removes any custom admission policy. Returns whether a row was
// removed.
func (s *RateLimitService) ResetConfig(ctx context.Context, project string) (bool, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return false, err
	}
	return s.store.DeleteRateLimitConfig(ctx, project)
}

// ClearHistory removes the project's deploy history and returns the count.
func (s *RateLimitService) ClearHistory(ctx context.Context, project string) (int64, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return 0, err
	}
	return s.store.ClearDeployHistory(ctx, project)
}

// CheckAllowed decides whether a deploy may proceed now.
func (s *RateLimitService) CheckAllowed(ctx context.Context, project string) (limits.Decision, error) {
	cfg, err := s.GetConfig(ctx, project)
	if err != nil {
		return limits.Decision{}, err
	}

	// max_deploys == 0 disables rate limiting entirely.
	if cfg.MaxDeploys == 0 {
		return limits.Decision{Allowed: true}, nil
	}

	now := s.now()
	windowStart := now.Add(-time.Duration(cfg.WindowMinutes) * time.Minute)
	inWindow, err := s.store.CountDeploysSince(ctx, project, windowStart)
	if err != nil {
		return limits.Decision{}, err
	}
	if inWindow >= cfg.MaxDeploys {
		return limits.Decision{
			Allowed:         false,
			Reason:          limits.BlockWindowExceeded,
			DeploysInWindow: inWindow,
		}, nil
	}

	// Cooldown: the last N outcomes are all failures and the most recent one
	// is inside the cooldown period.
	recent, err := s.store.ListRecentDeploys(ctx, project, cfg.ConsecutiveFailureLimit)
	if err != nil {
		return limits.Decision{}, err
	}
	if cfg.ConsecutiveFailureLimit > 0 && len(recent) >= cfg.ConsecutiveFailureLimit {
		allFailed := true
		for _, rec := range recent {
			if rec.Outcome != limits.OutcomeFailure {
				allFailed = false
				break
			}
		}
		if allFailed {
			cooldownEnd := recent[0].At.Add(time.Duration(cfg.FailureCooldownMinutes) * time.Minute)
			if now.Before(cooldownEnd) {
				return limits.Decision{
					Allowed:         false,
					Reason:          limits.BlockCooldownActive,
					DeploysInWindow: inWindow,
					Remaining:       cooldownEnd.Sub(now),
				}, nil
			}
		}
	}

	return limits.Decision{Allowed: true, DeploysInWindow: inWindow}, nil
}

// RecordOutcome appends a deploy outcome to the history.
func (s *RateLimitService) RecordOutcome(ctx context.Context, project string, outcome limits.Outcome) error {
	return s.store.AppendDeployRecord(ctx, limits.DeployRecord{
		Project: project,
		Outcome: outcome,
		At:      s.now(),
	})
}

// Status reports the configuration plus current usage for display.
type RateLimitStatus struct {
	Project             string                 `json:"project"`
	Config              limits.RateLimitConfig `json:"config"`
	DeploysInWindow     int                    `json:"deploys_in_window"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	InCooldown          bool                   `json:"in_cooldown"`
	CooldownEndsAt      *time.Time             `json:"cooldown_ends_at,omitempty"`
	Blocked             bool                   `json:"is_blocked"`
	BlockReason         string                 `json:"block_reason,omitempty"`
}

// Status assembles the full admission state for a project.
func (s *RateLimitService) Status(ctx context.Context, project string) (*RateLimitStatus, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	cfg, err := s.GetConfig(ctx, project)
	if err != nil {
		return nil, err
	}

	now := s.now()
	windowStart := now.Add(-time.Duration(cfg.WindowMinutes) * time.Minute)
	inWindow, err := s.store.CountDeploysSince(ctx, project, windowStart)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.ListRecentDeploys(ctx, project, 20)
	if err != nil {
		return nil, err
	}
	consecutive := 0
	for _, rec := range recent {
		if rec.Outcome != limits.OutcomeFailure {
			break
		}
		consecutive++
	}

	status := &RateLimitStatus{
		Project:             project,
		Config:              cfg,
		DeploysInWindow:     inWindow,
		ConsecutiveFailures: consecutive,
	}

	decision, err := s.CheckAllowed(ctx, project)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		status.Blocked = true
		status.BlockReason = string(decision.Reason)
		if decision.Reason == limits.BlockCooldownActive {
			status.InCooldown = true
			end := now.Add(decision.Remaining)
			status.CooldownEndsAt = &end
		}
	}
	return status, nil
}
