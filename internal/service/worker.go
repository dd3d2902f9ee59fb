package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/worker"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// WorkerStatus pairs a worker row with its live unit state.
type WorkerStatus struct {
	worker.Worker
	Active bool `json:"active"`
}

// WorkerService manages long-running queue consumer units and the
// per-project beat scheduler companion.
type WorkerService struct {
	store      database.Store
	supervisor initsys.Supervisor
	layout     *fsops.Layout
	log        *slog.Logger
}

// NewWorkerService creates a WorkerService.
func NewWorkerService(store database.Store, supervisor initsys.Supervisor, layout *fsops.Layout, log *slog.Logger) *WorkerService {
	return &WorkerService{store: store, supervisor: supervisor, layout: layout, log: log}
}

// Add declares a worker and installs its unit; the unit starts when enabled.
func (s *WorkerService) Add(ctx context.Context, projectName, name string, concurrency int, queues, appModule, logLevel string) (*worker.Worker, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		return nil, domain.E(domain.CodeInvalidLimits, "worker concurrency must be at least 1")
	}
	if name == "" {
		name = "default"
	}
	if appModule == "" {
		appModule = projectName
	}
	if logLevel == "" {
		logLevel = "info"
	}

	w := &worker.Worker{
		Project:     projectName,
		Name:        name,
		Concurrency: concurrency,
		Queues:      queues,
		AppModule:   appModule,
		LogLevel:    logLevel,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateWorker(ctx, w); err != nil {
			return err
		}
		_, err := Append(ctx, tx, projectName, event.CategoryWorker, event.TypeCreated,
			event.LevelInfo, fmt.Sprintf("worker %s added for %s (concurrency %d)", name, projectName, concurrency),
			map[string]any{"worker": name, "concurrency": concurrency})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.installUnit(ctx, w); err != nil {
		return nil, err
	}
	unit := systemd.ServiceUnit(projectName, systemd.KindWorker, name)
	if err := s.supervisor.Enable(ctx, unit); err != nil {
		s.log.Warn("worker enable failed", "worker", name, "error", err)
	}
	if err := s.supervisor.Start(ctx, unit); err != nil {
		s.log.Warn("worker start failed", "worker", name, "error", err)
	}
	return w, nil
}

func (s *WorkerService) installUnit(ctx context.Context, w *worker.Worker) error {
	rl, err := s.store.GetResourceLimits(ctx, w.Project)
	if err != nil {
		return err
	}
	content := systemd.RenderWorkerUnit(systemd.WorkerUnitParams{
		Project:     w.Project,
		WorkerName:  w.Name,
		AppModule:   w.AppModule,
		Concurrency: w.Concurrency,
		Queues:      w.Queues,
		LogLevel:    w.LogLevel,
		HomeDir:     s.layout.HomeDir(w.Project),
		Limits:      rl,
	})
	unit := systemd.ServiceUnit(w.Project, systemd.KindWorker, w.Name)
	if err := s.supervisor.InstallUnit(ctx, unit, content); err != nil {
		return err
	}
	return s.supervisor.DaemonReload(ctx)
}

// Remove stops a worker and deletes its unit and row.
func (s *WorkerService) Remove(ctx context.Context, projectName, name string) error {
	if _, err := s.store.GetWorker(ctx, projectName, name); err != nil {
		return err
	}
	unit := systemd.ServiceUnit(projectName, systemd.KindWorker, name)
	if err := s.supervisor.Stop(ctx, unit); err != nil {
		s.log.Warn("worker stop failed", "worker", name, "error", err)
	}
	if err := s.supervisor.Disable(ctx, unit); err != nil {
		s.log.Warn("worker disable failed", "worker", name, "error", err)
	}
	if err := s.supervisor.RemoveUnit(ctx, unit); err != nil {
		return err
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.DeleteWorker(ctx, projectName, name); err != nil {
			return err
		}
		_, err := Append(ctx, tx, projectName, event.CategoryWorker, event.TypeDeleted,
			event.LevelInfo, fmt.Sprintf("worker %s removed from %s", name, projectName),
			map[string]any{"worker": name})
		return err
	})
}

// List returns a project's workers with live unit state.
func (s *WorkerService) List(ctx context.Context, projectName string) ([]WorkerStatus, error) {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return nil, err
	}
	workers, err := s.store.ListWorkers(ctx, projectName)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		unit := systemd.ServiceUnit(projectName, systemd.KindWorker, w.Name)
		out = append(out, WorkerStatus{Worker: w, Active: s.supervisor.IsActive(ctx, unit)})
	}
	return out, nil
}

// Scale updates a worker's concurrency, regenerates its unit, and restarts it.
func (s *WorkerService) Scale(ctx context.Context, projectName, name string, concurrency int) (*worker.Worker, error) {
	if concurrency < 1 {
		return nil, domain.E(domain.CodeInvalidLimits, "worker concurrency must be at least 1")
	}
	w, err := s.store.GetWorker(ctx, projectName, name)
	if err != nil {
		return nil, err
	}
	w.Concurrency = concurrency
	if err := s.store.UpdateWorker(ctx, w); err != nil {
		return nil, err
	}
	if err := s.installUnit(ctx, w); err != nil {
		return nil, err
	}
	unit := systemd.ServiceUnit(projectName, systemd.KindWorker, name)
	if err := s.supervisor.Restart(ctx, unit); err != nil {
		return nil, err
	}
	return w, nil
}

// EnableBeat installs and starts the per-project scheduler companion.
func (s *WorkerService) EnableBeat(ctx context.Context, projectName, appModule string) error {
	if _, err := s.store.GetProject(ctx, projectName); err != nil {
		return err
	}
	if appModule == "" {
		appModule = projectName
	}
	unit := systemd.ServiceUnit(projectName, systemd.KindBeat, "")
	content := systemd.RenderBeatUnit(projectName, appModule, s.layout.HomeDir(projectName))
	if err := s.supervisor.InstallUnit(ctx, unit, content); err != nil {
		return err
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		return err
	}
	if err := s.supervisor.Enable(ctx, unit); err != nil {
		return err
	}
	return s.supervisor.Start(ctx, unit)
}

// DisableBeat stops and removes the scheduler companion.
func (s *WorkerService) DisableBeat(ctx context.Context, projectName string) error {
	unit := systemd.ServiceUnit(projectName, systemd.KindBeat, "")
	if err := s.supervisor.Stop(ctx, unit); err != nil {
		s.log.Warn("beat stop failed", "project", projectName, "error", err)
	}
	if err := s.supervisor.Disable(ctx, unit); err != nil {
		s.log.Warn("beat disable failed", "project", projectName, "error", err)
	}
	if err := s.supervisor.RemoveUnit(ctx, unit); err != nil {
		return err
	}
	return s.supervisor.DaemonReload(ctx)
}

// BeatActive reports whether the scheduler companion is running.
func (s *WorkerService) BeatActive(ctx context.Context, projectName string) bool {
	return s.supervisor.IsActive(ctx, systemd.ServiceUnit(projectName, systemd.KindBeat, ""))
}
