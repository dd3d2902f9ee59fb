package service_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/adapter/sqlite"
	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// harness wires real sqlite + temp filesystem + fakes for supervisor and
// subprocesses.
type harness struct {
	store      *sqlite.Store
	fs         *fsops.Ops
	layout     *fsops.Layout
	runner     *execx.FakeRunner
	supervisor *initsys.Fake
	cfg        *config.Config
	log        *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Paths = config.Paths{
		HomeRoot:   filepath.Join(root, "home"),
		LogRoot:    filepath.Join(root, "log"),
		BackupRoot: filepath.Join(root, "backups"),
		SystemdDir: filepath.Join(root, "systemd"),
		StateDir:   filepath.Join(root, "state"),
		SudoersDir: filepath.Join(root, "sudoers"),
	}
	cfg.Store.Path = filepath.Join(root, "hostkit.db")

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlite.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	runner := execx.NewFakeRunner()
	layout := fsops.NewLayout(cfg.Paths)

	return &harness{
		store:      sqlite.NewStore(db),
		fs:         fsops.NewOps(layout, runner, log),
		layout:     layout,
		runner:     runner,
		supervisor: initsys.NewFake(),
		cfg:        cfg,
		log:        log,
	}
}

// addProject registers a project row and creates its home directory.
func (h *harness) addProject(t *testing.T, name string, port int) {
	t.Helper()
	_, err := h.store.CreateProject(context.Background(), project.CreateRequest{
		Name: name, Runtime: project.RuntimePython, Port: port, CreatedBy: "test",
	})
	if err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	if err := os.MkdirAll(h.layout.HomeDir(name), 0o755); err != nil {
		t.Fatal(err)
	}
}
