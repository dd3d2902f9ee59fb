package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/task"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// CronService manages scheduled tasks as supervisor timer units.
type CronService struct {
	store      database.Store
	supervisor initsys.Supervisor
	layout     *fsops.Layout
	log        *slog.Logger
}

// NewCronService creates a CronService.
func NewCronService(store database.Store, supervisor initsys.Supervisor, layout *fsops.Layout, log *slog.Logger) *CronService {
	return &CronService{store: store, supervisor: supervisor, layout: layout, log: log}
}

// Add declares a scheduled task: validates, translates the schedule, writes
// the unit pair, reloads, and starts the timer.
func (s *CronService) Add(ctx context.Context, projectName, name, schedule, command, description string) (*task.ScheduledTask, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}
	if err := task.ValidateName(name); err != nil {
		return nil, err
	}

	oncalendar, err := systemd.CronToOnCalendar(schedule)
	if err != nil {
		return nil, err
	}

	t := &task.ScheduledTask{
		ID:        uuid.NewString(),
		Project:   projectName,
		Name:      name,
		Schedule:  oncalendar,
		Command:   command,
		Description: description,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
		CreatedBy: config.CurrentActor(),
	}
	if schedule != oncalendar {
		t.ScheduleCron = schedule
	}

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateScheduledTask(ctx, t); err != nil {
			return err
		}
		_, err := Append(ctx, tx, projectName, event.CategoryCron, event.TypeCreated,
			event.LevelInfo, fmt.Sprintf("scheduled task %s added for %s (%s)", name, projectName, oncalendar),
			map[string]any{"task": name, "schedule": oncalendar})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.installUnits(ctx, t); err != nil {
		return nil, err
	}

	timer := systemd.TimerUnit(projectName, name)
	if err := s.supervisor.Enable(ctx, timer); err != nil {
		s.log.Warn("timer enable failed", "project", projectName, "task", name, "error", err)
	}
	if err := s.supervisor.Start(ctx, timer); err != nil {
		s.log.Warn("timer start failed", "project", projectName, "task", name, "error", err)
	}

	s.fillTimerState(ctx, t)
	return t, nil
}

// installUnits writes the service + timer pair and reloads the supervisor.
func (s *CronService) installUnits(ctx context.Context, t *task.ScheduledTask) error {
	params := systemd.CronUnitParams{
		Project:     t.Project,
		TaskName:    t.Name,
		Command:     t.Command,
		Schedule:    t.Schedule,
		Description: t.Description,
		HomeDir:     s.layout.HomeDir(t.Project),
		LogDir:      s.layout.LogDir(t.Project),
	}
	svc := systemd.ServiceUnit(t.Project, systemd.KindCron, t.Name)
	timer := systemd.TimerUnit(t.Project, t.Name)

	if err := s.supervisor.InstallUnit(ctx, svc, systemd.RenderCronServiceUnit(params)); err != nil {
		return err
	}
	if err := s.supervisor.InstallUnit(ctx, timer, systemd.RenderCronTimerUnit(params)); err != nil {
		return err
	}
	return s.supervisor.DaemonReload(ctx)
}

// Remove stops and deletes a task's units and row.
func (s *CronService) Remove(ctx context.Context, projectName, name string) error {
	if _, err := s.store.GetScheduledTask(ctx, projectName, name); err != nil {
		return err
	}

	timer := systemd.TimerUnit(projectName, name)
	svc := systemd.ServiceUnit(projectName, systemd.KindCron, name)
	if err := s.supervisor.Stop(ctx, timer); err != nil {
		s.log.Warn("timer stop failed", "task", name, "error", err)
	}
	if err := s.supervisor.Disable(ctx, timer); err != nil {
		s.log.Warn("timer disable failed", "task", name, "error", err)
	}
	if err := s.supervisor.RemoveUnit(ctx, svc); err != nil {
		return err
	}
	if err := s.supervisor.RemoveUnit(ctx, timer); err != nil {
		return err
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.DeleteScheduledTask(ctx, projectName, name); err != nil {
			return err
		}
		_, err := Append(ctx, tx, projectName, event.CategoryCron, event.TypeDeleted,
			event.LevelInfo, fmt.Sprintf("scheduled task %s removed from %s", name, projectName),
			map[string]any{"task": name})
		return err
	})
}

// List returns a project's tasks with live timer state.
func (s *CronService) List(ctx context.Context, projectName string) ([]task.ScheduledTask, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListScheduledTasks(ctx, projectName)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		s.fillTimerState(ctx, &tasks[i])
	}
	return tasks, nil
}

// Get returns one task with live timer state.
func (s *CronService) Get(ctx context.Context, projectName, name string) (*task.ScheduledTask, error) {
	t, err := s.store.GetScheduledTask(ctx, projectName, name)
	if err != nil {
		return nil, err
	}
	s.fillTimerState(ctx, t)
	return t, nil
}

// Enable starts the timer and marks the task enabled.
func (s *CronService) Enable(ctx context.Context, projectName, name string) (*task.ScheduledTask, error) {
	if _, err := s.store.GetScheduledTask(ctx, projectName, name); err != nil {
		return nil, err
	}
	timer := systemd.TimerUnit(projectName, name)
	if err := s.supervisor.Enable(ctx, timer); err != nil {
		return nil, err
	}
	if err := s.supervisor.Start(ctx, timer); err != nil {
		return nil, err
	}
	if err := s.store.SetScheduledTaskEnabled(ctx, projectName, name, true); err != nil {
		return nil, err
	}
	return s.Get(ctx, projectName, name)
}

// Disable stops the timer and marks the task disabled.
func (s *CronService) Disable(ctx context.Context, projectName, name string) (*task.ScheduledTask, error) {
	if _, err := s.store.GetScheduledTask(ctx, projectName, name); err != nil {
		return nil, err
	}
	timer := systemd.TimerUnit(projectName, name)
	if err := s.supervisor.Stop(ctx, timer); err != nil {
		s.log.Warn("timer stop failed", "task", name, "error", err)
	}
	if err := s.supervisor.Disable(ctx, timer); err != nil {
		return nil, err
	}
	if err := s.store.SetScheduledTaskEnabled(ctx, projectName, name, false); err != nil {
		return nil, err
	}
	return s.Get(ctx, projectName, name)
}

// RunNow fires the task's oneshot service immediately and records the
// outcome on the row.
func (s *CronService) RunNow(ctx context.Context, projectName, name string) (status string, exitCode int, err error) {
	if _, err := s.store.GetScheduledTask(ctx, projectName, name); err != nil {
		return "", 0, err
	}

	svc := systemd.ServiceUnit(projectName, systemd.KindCron, name)
	status = "success"
	if err := s.supervisor.Start(ctx, svc); err != nil {
		status = "failed"
		exitCode = 1
	}

	now := time.Now().UTC()
	if updErr := s.store.UpdateScheduledTaskLastRun(ctx, projectName, name, status, exitCode, now); updErr != nil {
		return status, exitCode, updErr
	}
	return status, exitCode, nil
}

// NextRun asks the supervisor for the timer's next elapse. When the timer is
// not scheduled yet but the task was declared with a cron expression, the
// next fire time is computed from the expression instead.
func (s *CronService) NextRun(ctx context.Context, projectName, name string) (time.Time, error) {
	t, err := s.store.GetScheduledTask(ctx, projectName, name)
	if err != nil {
		return time.Time{}, err
	}
	next, err := s.supervisor.NextElapse(ctx, systemd.TimerUnit(projectName, name))
	if err == nil && !next.IsZero() {
		return next, nil
	}
	if t.ScheduleCron != "" {
		return systemd.NextCronRun(t.ScheduleCron, time.Now())
	}
	return next, err
}

func (s *CronService) fillTimerState(ctx context.Context, t *task.ScheduledTask) {
	timer := systemd.TimerUnit(t.Project, t.Name)
	t.TimerActive = s.supervisor.IsActive(ctx, timer)
	t.TimerEnabled = s.supervisor.IsEnabled(ctx, timer)
}
