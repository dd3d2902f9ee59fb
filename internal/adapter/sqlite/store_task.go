package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/task"
)

const taskColumns = `id, project, name, schedule, schedule_cron, command, description,
	enabled, created_at, created_by, last_run_at, last_run_status, last_run_exit_code`

func (s *Store) CreateScheduledTask(ctx context.Context, t *task.ScheduledTask) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO scheduled_tasks
		   (id, project, name, schedule, schedule_cron, command, description, enabled, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Project, t.Name, t.Schedule, toNullString(t.ScheduleCron),
		t.Command, toNullString(t.Description), t.Enabled, t.CreatedAt, toNullString(t.CreatedBy))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Ef(domain.CodeTaskExists,
				"task %q already exists for project %q", t.Name, t.Project).
				WithSuggestion(fmt.Sprintf("use 'hostkit cron remove %s %s' to delete it first", t.Project, t.Name))
		}
		return fmt.Errorf("create scheduled task %s/%s: %w", t.Project, t.Name, err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*task.ScheduledTask, error) {
	var t task.ScheduledTask
	var scheduleCron, description, createdBy, lastStatus sql.NullString
	var lastRunAt sql.NullTime
	var lastExit sql.NullInt64
	err := row.Scan(&t.ID, &t.Project, &t.Name, &t.Schedule, &scheduleCron, &t.Command,
		&description, &t.Enabled, &t.CreatedAt, &createdBy, &lastRunAt, &lastStatus, &lastExit)
	if err != nil {
		return nil, err
	}
	t.ScheduleCron = scheduleCron.String
	t.Description = description.String
	t.CreatedBy = createdBy.String
	t.LastRunAt = fromNullTime(lastRunAt)
	t.LastRunStatus = lastStatus.String
	t.LastRunExitCode = fromNullInt(lastExit)
	return &t, nil
}

func (s *Store) GetScheduledTask(ctx context.Context, projectName, name string) (*task.ScheduledTask, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE project = ? AND name = ?`,
		projectName, name)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.CodeTaskNotFound,
			"task %q not found for project %q", name, projectName).
			WithSuggestion("run 'hostkit cron list " + projectName + "' to see available tasks")
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled task %s/%s: %w", projectName, name, err)
	}
	return t, nil
}

func (s *Store) ListScheduledTasks(ctx context.Context, projectName string) ([]task.ScheduledTask, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE project = ? ORDER BY name`,
		projectName)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks %s: %w", projectName, err)
	}
	defer rows.Close()

	var tasks []task.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) SetScheduledTaskEnabled(ctx context.Context, projectName, name string, enabled bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE scheduled_tasks SET enabled = ? WHERE project = ? AND name = ?`,
		enabled, projectName, name)
	if err != nil {
		return fmt.Errorf("update scheduled task %s/%s: %w", projectName, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Ef(domain.CodeTaskNotFound, "task %q not found for project %q", name, projectName)
	}
	return nil
}

func (s *Store) UpdateScheduledTaskLastRun(ctx context.Context, projectName, name, status string, exitCode int, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE scheduled_tasks
		 SET last_run_at = ?, last_run_status = ?, last_run_exit_code = ?
		 WHERE project = ? AND name = ?`,
		at, status, exitCode, projectName, name)
	if err != nil {
		return fmt.Errorf("update task last run %s/%s: %w", projectName, name, err)
	}
	return nil
}

func (s *Store) DeleteScheduledTask(ctx context.Context, projectName, name string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM scheduled_tasks WHERE project = ? AND name = ?`, projectName, name)
	if err != nil {
		return fmt.Errorf("delete scheduled task %s/%s: %w", projectName, name, err)
	}
	return nil
}
