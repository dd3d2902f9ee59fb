package service_test

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newCheckpointService(h *harness) *service.CheckpointService {
	return service.NewCheckpointService(h.store, h.fs, h.runner, h.cfg.Postgres, h.log)
}

func stubCluster(h *harness) {
	h.runner.Stub("psql", execx.Result{Stdout: "1"})
	h.runner.Stub("pg_dump", execx.Result{Stdout: "-- dump\nCREATE TABLE t (id int);\n"})
}

func TestCheckpointCreateWritesGzipDump(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	stubCluster(h)
	svc := newCheckpointService(h)
	ctx := context.Background()

	cp, err := svc.Create(ctx, "api", "baseline", checkpoint.TypeManual, "user")
	if err != nil {
		t.Fatal(err)
	}
	if cp.ExpiresAt != nil {
		t.Error("manual checkpoint has an expiry")
	}
	if !strings.HasSuffix(cp.BackupPath, ".sql.gz") {
		t.Errorf("backup path = %s", cp.BackupPath)
	}
	if cp.SizeBytes <= 0 {
		t.Errorf("size = %d", cp.SizeBytes)
	}

	// The file is valid gzip holding the dump.
	f, err := os.Open(cp.BackupPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	content, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "CREATE TABLE t") {
		t.Errorf("dump content = %q", content)
	}
}

func TestCheckpointCreateFailureRemovesPartialFile(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	h.runner.Stub("psql", execx.Result{Stdout: "1"})
	h.runner.Stub("pg_dump", execx.Result{ExitCode: 1, Stderr: "connection refused"})
	svc := newCheckpointService(h)

	_, err := svc.Create(context.Background(), "api", "", checkpoint.TypeAuto, "test")
	if domain.CodeOf(err) != domain.CodeCheckpointFailed {
		t.Fatalf("code = %s, want CHECKPOINT_FAILED", domain.CodeOf(err))
	}

	entries, _ := os.ReadDir(h.layout.CheckpointsDir("api"))
	if len(entries) != 0 {
		t.Errorf("partial checkpoint file left behind: %v", entries)
	}
}

func TestCheckpointCreateWithoutDatabase(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	// Default fake runner output: the existence probe returns nothing.
	svc := newCheckpointService(h)

	_, err := svc.Create(context.Background(), "api", "", checkpoint.TypeManual, "user")
	if domain.CodeOf(err) != domain.CodeDatabaseNotFound {
		t.Errorf("code = %s, want DATABASE_NOT_FOUND", domain.CodeOf(err))
	}
}

func TestCheckpointDeleteRequiresForce(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	stubCluster(h)
	svc := newCheckpointService(h)
	ctx := context.Background()

	cp, err := svc.Create(ctx, "api", "", checkpoint.TypeManual, "user")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Delete(ctx, "api", cp.ID, false); domain.CodeOf(err) != domain.CodeForceRequired {
		t.Errorf("code = %s, want FORCE_REQUIRED", domain.CodeOf(err))
	}

	if _, err := svc.Delete(ctx, "api", cp.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cp.BackupPath); !os.IsNotExist(err) {
		t.Error("backup file survived deletion")
	}
	if _, err := svc.Get(ctx, cp.ID); domain.CodeOf(err) != domain.CodeCheckpointNotFound {
		t.Errorf("row survived deletion: %s", domain.CodeOf(err))
	}
}

func TestCheckpointProjectMismatch(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	h.addProject(t, "blog", 8020)
	stubCluster(h)
	svc := newCheckpointService(h)
	ctx := context.Background()

	cp, err := svc.Create(ctx, "api", "", checkpoint.TypeManual, "user")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Restore(ctx, "blog", cp.ID, false); domain.CodeOf(err) != domain.CodeCheckpointMismatch {
		t.Errorf("code = %s, want CHECKPOINT_MISMATCH", domain.CodeOf(err))
	}
}

func TestCheckpointRestoreMissingFile(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	stubCluster(h)
	svc := newCheckpointService(h)
	ctx := context.Background()

	cp, err := svc.Create(ctx, "api", "", checkpoint.TypeManual, "user")
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(cp.BackupPath)

	if _, err := svc.Restore(ctx, "api", cp.ID, false); domain.CodeOf(err) != domain.CodeBackupFileMissing {
		t.Errorf("code = %s, want BACKUP_FILE_MISSING", domain.CodeOf(err))
	}
}

func TestCleanupExpiredSkipsManual(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	stubCluster(h)
	svc := newCheckpointService(h)
	ctx := context.Background()

	manual, err := svc.Create(ctx, "api", "keep", checkpoint.TypeManual, "user")
	if err != nil {
		t.Fatal(err)
	}

	// An auto checkpoint forced past its expiry.
	auto, err := svc.Create(ctx, "api", "", checkpoint.TypeAuto, "test")
	if err != nil {
		t.Fatal(err)
	}
	// Seed a separate auto checkpoint row created 30 days ago, so its expiry
	// has passed, backed by its own file.
	expiredPath := auto.BackupPath + ".old"
	if err := os.WriteFile(expiredPath, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	past := auto.CreatedAt.Add(-30 * 24 * time.Hour)
	expired := &checkpoint.Checkpoint{
		Project: "api", Type: checkpoint.TypeAuto, DatabaseName: "api_db",
		BackupPath: expiredPath, SizeBytes: 1, CreatedAt: past, CreatedBy: "test",
		ExpiresAt: checkpoint.ExpiryFor(checkpoint.TypeAuto, past),
	}
	if _, err := h.store.CreateCheckpoint(ctx, expired); err != nil {
		t.Fatal(err)
	}

	result, err := svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("deleted = %d, want 1", result.DeletedCount)
	}
	if _, err := os.Stat(expiredPath); !os.IsNotExist(err) {
		t.Error("expired file survived")
	}

	// The manual checkpoint and the fresh auto checkpoint survive.
	if _, err := svc.Get(ctx, manual.ID); err != nil {
		t.Errorf("manual checkpoint removed: %v", err)
	}
	if _, err := svc.Get(ctx, auto.ID); err != nil {
		t.Errorf("unexpired auto checkpoint removed: %v", err)
	}
}
