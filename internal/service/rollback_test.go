package service_test

import (
	"context"
	"os"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newRollbackService(h *harness) (*service.RollbackService, *service.ReleaseService, *service.CheckpointService, *service.EnvService) {
	releases := newReleaseService(h)
	checkpoints := service.NewCheckpointService(h.store, h.fs, h.runner, h.cfg.Postgres, h.log)
	env := service.NewEnvService(h.store, h.fs, h.log)
	rollback := service.NewRollbackService(releases, checkpoints, env, h.fs, h.supervisor, h.log)
	return rollback, releases, checkpoints, env
}

func TestRollbackToPrevious(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	rollback, releases, _, _ := newRollbackService(h)
	ctx := context.Background()

	names := []string{"20260101-000000", "20260102-000000", "20260103-000000"}
	for _, name := range names {
		seedRelease(t, h, "api", name)
	}
	if _, err := releases.ActivateRelease(ctx, "api", names[2]); err != nil {
		t.Fatal(err)
	}

	result, err := rollback.Rollback(ctx, "api", service.RollbackOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.CurrentRelease != names[1] {
		t.Errorf("current = %s, want %s", result.CurrentRelease, names[1])
	}
	if !result.ServiceRestarted {
		t.Error("service not restarted")
	}

	target, _ := os.Readlink(h.layout.AppLink("api"))
	if target != h.layout.ReleaseDir("api", names[1]) {
		t.Errorf("app -> %s", target)
	}

	// No release directory was deleted.
	for _, name := range names {
		if _, err := os.Stat(h.layout.ReleaseDir("api", name)); err != nil {
			t.Errorf("release %s missing", name)
		}
	}
}

func TestRollbackErrors(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	rollback, releases, _, _ := newRollbackService(h)
	ctx := context.Background()

	// Not release-based yet.
	_, err := rollback.Rollback(ctx, "api", service.RollbackOptions{})
	if domain.CodeOf(err) != domain.CodeNotReleaseBased {
		t.Errorf("code = %s, want NOT_RELEASE_BASED", domain.CodeOf(err))
	}

	seedRelease(t, h, "api", "20260101-000000")
	if _, err := releases.ActivateRelease(ctx, "api", "20260101-000000"); err != nil {
		t.Fatal(err)
	}

	// Single release: no predecessor.
	_, err = rollback.Rollback(ctx, "api", service.RollbackOptions{})
	if domain.CodeOf(err) != domain.CodeNoPreviousRelease {
		t.Errorf("code = %s, want NO_PREVIOUS_RELEASE", domain.CodeOf(err))
	}

	// Target already current.
	_, err = rollback.Rollback(ctx, "api", service.RollbackOptions{To: "20260101-000000"})
	if domain.CodeOf(err) != domain.CodeAlreadyCurrent {
		t.Errorf("code = %s, want ALREADY_CURRENT", domain.CodeOf(err))
	}
}

func TestFullRollbackRestoresDatabaseAndEnv(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)

	// The cluster answers every psql probe affirmatively and pg_dump
	// produces a small dump.
	h.runner.Stub("psql", execx.Result{Stdout: "1"})
	h.runner.Stub("pg_dump", execx.Result{Stdout: "-- dump\nCREATE TABLE t (id int);\n"})

	rollback, releases, checkpoints, env := newRollbackService(h)
	ctx := context.Background()

	// R1 carries a checkpoint and an env snapshot; R2 is current.
	seedRelease(t, h, "api", "20260101-000000")
	seedRelease(t, h, "api", "20260102-000000")

	cp, err := checkpoints.Create(ctx, "api", "baseline", checkpoint.TypePreDeploy, "deploy")
	if err != nil {
		t.Fatal(err)
	}
	snapshot := `{"FEATURE_X":"on"}`
	if err := releases.UpdateSnapshot(ctx, "api", "20260101-000000", &cp.ID, &snapshot); err != nil {
		t.Fatal(err)
	}
	if _, err := releases.ActivateRelease(ctx, "api", "20260102-000000"); err != nil {
		t.Fatal(err)
	}
	// Drift the environment after the snapshot.
	if _, err := env.Set(ctx, "api", "FEATURE_X", "off"); err != nil {
		t.Fatal(err)
	}

	result, err := rollback.Rollback(ctx, "api", service.RollbackOptions{
		To: "20260101-000000", Full: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.DatabaseRestored {
		t.Errorf("database not restored: %s", result.DatabaseError)
	}
	if !result.EnvRestored {
		t.Errorf("env not restored: %s", result.EnvError)
	}
	if result.CurrentRelease != "20260101-000000" {
		t.Errorf("current = %s", result.CurrentRelease)
	}

	// A pre-restore checkpoint was created alongside the original.
	pre, err := checkpoints.Latest(ctx, "api", checkpoint.TypePreRestore)
	if err != nil || pre == nil {
		t.Fatalf("pre-restore checkpoint = %+v, %v", pre, err)
	}
	if pre.ID <= cp.ID {
		t.Errorf("pre-restore id %d not after original %d", pre.ID, cp.ID)
	}

	// The env file is back to the snapshot value.
	value, err := env.Get(ctx, "api", "FEATURE_X")
	if err != nil || value != "on" {
		t.Errorf("FEATURE_X = %q, %v", value, err)
	}
}

func TestRollbackDryRunTouchesNothing(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	rollback, releases, _, _ := newRollbackService(h)
	ctx := context.Background()

	seedRelease(t, h, "api", "20260101-000000")
	seedRelease(t, h, "api", "20260102-000000")
	if _, err := releases.ActivateRelease(ctx, "api", "20260102-000000"); err != nil {
		t.Fatal(err)
	}

	result, err := rollback.Rollback(ctx, "api", service.RollbackOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if !result.DryRun {
		t.Error("result not marked dry-run")
	}

	// Still pointing at the newest release, no restart issued.
	cur, _ := releases.GetCurrentRelease(ctx, "api")
	if cur.ReleaseName != "20260102-000000" {
		t.Errorf("current = %s", cur.ReleaseName)
	}
	if h.supervisor.DidOp("restart", "hostkit-api.service") {
		t.Error("dry-run restarted the service")
	}
}
