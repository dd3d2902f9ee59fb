package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// ProjectService owns project lifecycle: registration with port allocation,
// service control, and cascading deletion.
type ProjectService struct {
	store      database.Store
	supervisor initsys.Supervisor
	dbadmin    *DBAdminService
	fs         *fsops.Ops
	runner     execx.Runner
	portStart  int
	portEnd    int
	log        *slog.Logger
}

// NewProjectService creates a ProjectService.
func NewProjectService(store database.Store, supervisor initsys.Supervisor, dbadmin *DBAdminService,
	fs *fsops.Ops, runner execx.Runner, portStart, portEnd int, log *slog.Logger) *ProjectService {
	return &ProjectService{
		store: store, supervisor: supervisor, dbadmin: dbadmin,
		fs: fs, runner: runner, portStart: portStart, portEnd: portEnd, log: log,
	}
}

// AllocatePort returns the lowest free port in the configured range.
func (s *ProjectService) AllocatePort(ctx context.Context) (int, error) {
	used, err := s.store.ListUsedPorts(ctx)
	if err != nil {
		return 0, err
	}
	taken := make(map[int]bool, len(used))
	for _, p := range used {
		taken[p] = true
	}
	for port := s.portStart; port <= s.portEnd; port++ {
		if !taken[port] {
			return port, nil
		}
	}
	return 0, domain.Ef(domain.CodePortExhausted,
		"no free ports in range %d-%d", s.portStart, s.portEnd).
		WithSuggestion("delete unused projects or widen the configured port range")
}

// Register validates and creates the project row, allocating a port when none
// is given, and emits the creation event in the same transaction.
func (s *ProjectService) Register(ctx context.Context, name string, runtime project.Runtime, port int) (*project.Project, error) {
	req := project.CreateRequest{Name: name, Runtime: runtime, Port: port, CreatedBy: config.CurrentActor()}
	if err := project.ValidateCreateRequest(req); err != nil {
		return nil, err
	}
	if req.Port == 0 {
		allocated, err := s.AllocatePort(ctx)
		if err != nil {
			return nil, err
		}
		req.Port = allocated
	}

	var created *project.Project
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		p, err := tx.CreateProject(ctx, req)
		if err != nil {
			return err
		}
		created = p
		_, err = Append(ctx, tx, name, event.CategoryProject, event.TypeCreated,
			event.LevelInfo, fmt.Sprintf("project %s created (%s, port %d)", name, runtime, req.Port),
			map[string]any{"runtime": string(runtime), "port": req.Port})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a project.
func (s *ProjectService) Get(ctx context.Context, name string) (*project.Project, error) {
	return s.store.GetProject(ctx, name)
}

// List returns every project.
func (s *ProjectService) List(ctx context.Context) ([]project.Project, error) {
	return s.store.ListProjects(ctx)
}

// Start starts the project's app unit and records the status.
func (s *ProjectService) Start(ctx context.Context, name string) error {
	return s.control(ctx, name, "start")
}

// Stop stops the project's app unit and records the status.
func (s *ProjectService) Stop(ctx context.Context, name string) error {
	return s.control(ctx, name, "stop")
}

// Restart restarts the project's app unit.
func (s *ProjectService) Restart(ctx context.Context, name string) error {
	return s.control(ctx, name, "restart")
}

func (s *ProjectService) control(ctx context.Context, name, verb string) error {
	if _, err := s.store.GetProject(ctx, name); err != nil {
		return err
	}
	unit := systemd.ServiceUnit(name, systemd.KindApp, "")

	var err error
	var typ event.Type
	var status project.Status
	var past string
	switch verb {
	case "start":
		err, typ, status, past = s.supervisor.Start(ctx, unit), event.TypeStarted, project.StatusRunning, "started"
	case "stop":
		err, typ, status, past = s.supervisor.Stop(ctx, unit), event.TypeStopped, project.StatusStopped, "stopped"
	case "restart":
		err, typ, status, past = s.supervisor.Restart(ctx, unit), event.TypeRestarted, project.StatusRunning, "restarted"
	}
	if err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.UpdateProjectStatus(ctx, name, status); err != nil {
			return err
		}
		_, err := Append(ctx, tx, name, event.CategoryService, typ,
			event.LevelInfo, fmt.Sprintf("service %s %s", unit, past), nil)
		return err
	})
}

// FollowLogs streams the project's app unit journal; the caller drives the
// read loop and closes the stream to stop.
func (s *ProjectService) FollowLogs(ctx context.Context, name string, lines int) (io.ReadCloser, error) {
	if _, err := s.store.GetProject(ctx, name); err != nil {
		return nil, err
	}
	return s.supervisor.FollowLogs(ctx, systemd.ServiceUnit(name, systemd.KindApp, ""), lines)
}

// Logs returns the last lines of the project's app unit journal.
func (s *ProjectService) Logs(ctx context.Context, name string, lines int, errorOnly bool) (string, error) {
	if _, err := s.store.GetProject(ctx, name); err != nil {
		return "", err
	}
	return s.supervisor.Logs(ctx, systemd.ServiceUnit(name, systemd.KindApp, ""), lines, errorOnly)
}

// Delete tears a project down in cascade order: units, database, filesystem,
// then rows. Unit and filesystem failures are logged and skipped so a
// partially broken project can still be removed.
func (s *ProjectService) Delete(ctx context.Context, name string, dropDatabase bool) error {
	if _, err := s.store.GetProject(ctx, name); err != nil {
		return err
	}

	// Stop and remove every unit belonging to the project.
	units := s.projectUnits(ctx, name)
	for _, unit := range units {
		if s.supervisor.IsActive(ctx, unit) {
			if err := s.supervisor.Stop(ctx, unit); err != nil {
				s.log.Warn("stop during delete", "unit", unit, "error", err)
			}
		}
		if err := s.supervisor.Disable(ctx, unit); err != nil {
			s.log.Warn("disable during delete", "unit", unit, "error", err)
		}
		if err := s.supervisor.RemoveUnit(ctx, unit); err != nil {
			s.log.Warn("remove unit during delete", "unit", unit, "error", err)
		}
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		s.log.Warn("daemon-reload during delete", "error", err)
	}

	if dropDatabase {
		if err := s.dbadmin.DropDatabase(ctx, name); err != nil {
			s.log.Warn("database drop during delete", "project", name, "error", err)
		}
	}

	// Remove the Linux user and home tree.
	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "userdel",
		Args:    []string{"-r", name},
		Timeout: time.Minute,
	})
	if err != nil || !res.Ok() {
		s.log.Warn("userdel during delete", "project", name, "stderr", res.Stderr)
	}
	if err := s.fs.RemoveTree(name, s.fs.Layout().BackupDir(name)); err != nil {
		s.log.Warn("backup cleanup during delete", "project", name, "error", err)
	}
	if err := s.fs.RemoveTree(name, s.fs.Layout().LogDir(name)); err != nil {
		s.log.Warn("log cleanup during delete", "project", name, "error", err)
	}

	// Rows last: cascade removes releases, checkpoints, limits, tasks,
	// workers, and configs.
	return s.store.DeleteProject(ctx, name)
}

// projectUnits lists the installed unit file names for a project.
func (s *ProjectService) projectUnits(ctx context.Context, name string) []string {
	units := []string{systemd.ServiceUnit(name, systemd.KindApp, "")}
	if workers, err := s.store.ListWorkers(ctx, name); err == nil {
		for _, w := range workers {
			units = append(units, systemd.ServiceUnit(name, systemd.KindWorker, w.Name))
		}
	}
	if tasks, err := s.store.ListScheduledTasks(ctx, name); err == nil {
		for _, t := range tasks {
			units = append(units,
				systemd.TimerUnit(name, t.Name),
				systemd.ServiceUnit(name, systemd.KindCron, t.Name))
		}
	}
	for _, kind := range []systemd.UnitKind{systemd.KindBeat, systemd.KindAuth, systemd.KindChatbot,
		systemd.KindSMS, systemd.KindBooking, systemd.KindPayments, systemd.KindVector} {
		unit := systemd.ServiceUnit(name, kind, "")
		if s.supervisor.UnitFileExists(unit) {
			units = append(units, unit)
		}
	}
	sort.Strings(units[1:])
	return units
}
