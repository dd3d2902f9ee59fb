package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain/limits"
)

// --- Rate limit configuration + deploy history ---

func (s *Store) GetRateLimitConfig(ctx context.Context, projectName string) (*limits.RateLimitConfig, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT project, max_deploys, window_minutes, failure_cooldown_minutes, consecutive_failure_limit
		 FROM rate_limit_config WHERE project = ?`, projectName)

	var cfg limits.RateLimitConfig
	err := row.Scan(&cfg.Project, &cfg.MaxDeploys, &cfg.WindowMinutes,
		&cfg.FailureCooldownMinutes, &cfg.ConsecutiveFailureLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit config %s: %w", projectName, err)
	}
	return &cfg, nil
}

func (s *Store) SetRateLimitConfig(ctx context.Context, cfg limits.RateLimitConfig) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO rate_limit_config
		   (project, max_deploys, window_minutes, failure_cooldown_minutes, consecutive_failure_limit)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   max_deploys = excluded.max_deploys,
		   window_minutes = excluded.window_minutes,
		   failure_cooldown_minutes = excluded.failure_cooldown_minutes,
		   consecutive_failure_limit = excluded.consecutive_failure_limit`,
		cfg.Project, cfg.MaxDeploys, cfg.WindowMinutes,
		cfg.FailureCooldownMinutes, cfg.ConsecutiveFailureLimit)
	if err != nil {
		return fmt.Errorf("set rate limit config %s: %w", cfg.Project, err)
	}
	return nil
}

func (s *Store) DeleteRateLimitConfig(ctx context.Context, projectName string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM rate_limit_config WHERE project = ?`, projectName)
	if err != nil {
		return false, fmt.Errorf("delete rate limit config %s: %w", projectName, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) AppendDeployRecord(ctx context.Context, rec limits.DeployRecord) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO deploy_history (project, outcome, at) VALUES (?, ?, ?)`,
		rec.Project, string(rec.Outcome), rec.At)
	if err != nil {
		return fmt.Errorf("append deploy record %s: %w", rec.Project, err)
	}
	return nil
}

func (s *Store) CountDeploysSince(ctx context.Context, projectName string, since time.Time) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deploy_history WHERE project = ? AND at >= ?`,
		projectName, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deploys %s: %w", projectName, err)
	}
	return count, nil
}

func (s *Store) ListRecentDeploys(ctx context.Context, projectName string, limit int) ([]limits.DeployRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT project, outcome, at FROM deploy_history
		 WHERE project = ? ORDER BY id DESC LIMIT ?`, projectName, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent deploys %s: %w", projectName, err)
	}
	defer rows.Close()

	var recs []limits.DeployRecord
	for rows.Next() {
		var rec limits.DeployRecord
		if err := rows.Scan(&rec.Project, &rec.Outcome, &rec.At); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) CountFailuresSince(ctx context.Context, projectName string, since time.Time) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deploy_history
		 WHERE project = ? AND outcome = 'failure' AND at >= ?`,
		projectName, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failures %s: %w", projectName, err)
	}
	return count, nil
}

func (s *Store) ClearDeployHistory(ctx context.Context, projectName string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM deploy_history WHERE project = ?`, projectName)
	if err != nil {
		return 0, fmt.Errorf("clear deploy history %s: %w", projectName, err)
	}
	return res.RowsAffected()
}

// --- Auto-pause ---

func (s *Store) GetAutoPauseConfig(ctx context.Context, projectName string) (*limits.AutoPauseConfig, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT project, enabled, failure_threshold, window_minutes, paused, paused_at, paused_reason
		 FROM auto_pause_config WHERE project = ?`, projectName)

	var cfg limits.AutoPauseConfig
	var pausedAt sql.NullTime
	var reason sql.NullString
	err := row.Scan(&cfg.Project, &cfg.Enabled, &cfg.FailureThreshold,
		&cfg.WindowMinutes, &cfg.Paused, &pausedAt, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auto-pause config %s: %w", projectName, err)
	}
	cfg.PausedAt = fromNullTime(pausedAt)
	cfg.PausedReason = reason.String
	return &cfg, nil
}

func (s *Store) SetAutoPauseConfig(ctx context.Context, cfg limits.AutoPauseConfig) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO auto_pause_config
		   (project, enabled, failure_threshold, window_minutes, paused, paused_at, paused_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   enabled = excluded.enabled,
		   failure_threshold = excluded.failure_threshold,
		   window_minutes = excluded.window_minutes,
		   paused = excluded.paused,
		   paused_at = excluded.paused_at,
		   paused_reason = excluded.paused_reason`,
		cfg.Project, cfg.Enabled, cfg.FailureThreshold, cfg.WindowMinutes,
		cfg.Paused, toNullTime(cfg.PausedAt), toNullString(cfg.PausedReason))
	if err != nil {
		return fmt.Errorf("set auto-pause config %s: %w", cfg.Project, err)
	}
	return nil
}

// --- Resource limits ---

func (s *Store) GetResourceLimits(ctx context.Context, projectName string) (*limits.ResourceLimits, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT project, cpu_quota_percent, memory_max_mb, memory_high_mb, tasks_max,
		   disk_quota_mb, enabled, created_at, updated_at
		 FROM resource_limits WHERE project = ?`, projectName)

	var rl limits.ResourceLimits
	var cpu, memMax, memHigh, tasks, disk sql.NullInt64
	err := row.Scan(&rl.Project, &cpu, &memMax, &memHigh, &tasks, &disk,
		&rl.Enabled, &rl.CreatedAt, &rl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resource limits %s: %w", projectName, err)
	}
	rl.CPUQuota = fromNullInt(cpu)
	rl.MemoryMaxMB = fromNullInt(memMax)
	rl.MemoryHighMB = fromNullInt(memHigh)
	rl.TasksMax = fromNullInt(tasks)
	rl.DiskQuotaMB = fromNullInt(disk)
	return &rl, nil
}

func (s *Store) SetResourceLimits(ctx context.Context, rl limits.ResourceLimits) error {
	now := Now()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO resource_limits
		   (project, cpu_quota_percent, memory_max_mb, memory_high_mb, tasks_max,
		    disk_quota_mb, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   cpu_quota_percent = excluded.cpu_quota_percent,
		   memory_max_mb = excluded.memory_max_mb,
		   memory_high_mb = excluded.memory_high_mb,
		   tasks_max = excluded.tasks_max,
		   disk_quota_mb = excluded.disk_quota_mb,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`,
		rl.Project, toNullInt(rl.CPUQuota), toNullInt(rl.MemoryMaxMB),
		toNullInt(rl.MemoryHighMB), toNullInt(rl.TasksMax), toNullInt(rl.DiskQuotaMB),
		rl.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("set resource limits %s: %w", rl.Project, err)
	}
	return nil
}

func (s *Store) DeleteResourceLimits(ctx context.Context, projectName string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM resource_limits WHERE project = ?`, projectName)
	if err != nil {
		return false, fmt.Errorf("delete resource limits %s: %w", projectName, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
