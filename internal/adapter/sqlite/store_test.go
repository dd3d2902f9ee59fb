package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/domain/release"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "hostkit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewStore(db)
}

func createTestProject(t *testing.T, s *Store, name string, port int) {
	t.Helper()
	_, err := s.CreateProject(context.Background(), project.CreateRequest{
		Name: name, Runtime: project.RuntimePython, Port: port, CreatedBy: "test",
	})
	if err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
}

func TestProjectCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	createTestProject(t, s, "blog", 8020)

	p, err := s.GetProject(ctx, "blog")
	if err != nil {
		t.Fatal(err)
	}
	if p.Port != 8020 || p.Runtime != project.RuntimePython || p.Status != project.StatusStopped {
		t.Errorf("unexpected project %+v", p)
	}

	// Duplicate name is a typed conflict.
	_, err = s.CreateProject(ctx, project.CreateRequest{Name: "blog", Runtime: project.RuntimeNode, Port: 8021})
	if domain.CodeOf(err) != domain.CodeProjectExists {
		t.Errorf("duplicate create code = %s", domain.CodeOf(err))
	}

	// Duplicate port is refused by the unique constraint.
	_, err = s.CreateProject(ctx, project.CreateRequest{Name: "api", Runtime: project.RuntimeNode, Port: 8020})
	if err == nil {
		t.Error("duplicate port accepted")
	}

	if err := s.UpdateProjectStatus(ctx, "blog", project.StatusRunning); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetProject(ctx, "blog")
	if p.Status != project.StatusRunning {
		t.Errorf("status = %s", p.Status)
	}

	if _, err := s.GetProject(ctx, "ghost"); domain.CodeOf(err) != domain.CodeProjectNotFound {
		t.Errorf("missing project code = %s", domain.CodeOf(err))
	}

	ports, err := s.ListUsedPorts(ctx)
	if err != nil || len(ports) != 1 || ports[0] != 8020 {
		t.Errorf("used ports = %v, %v", ports, err)
	}
}

func TestReleaseCurrentFlag(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "api", 8030)

	names := []string{"20260101-000000", "20260102-000000", "20260103-000000"}
	for _, name := range names {
		r := &release.Release{
			ID: uuid.NewString(), Project: "api", ReleaseName: name,
			ReleasePath: "/home/api/releases/" + name, DeployedAt: Now(),
		}
		if err := s.CreateRelease(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.SetCurrentRelease(ctx, "api", names[2]); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrentRelease(ctx, "api", names[1]); err != nil {
		t.Fatal(err)
	}

	// Exactly one current release.
	releases, err := s.ListReleases(ctx, "api", 10)
	if err != nil {
		t.Fatal(err)
	}
	currents := 0
	for _, r := range releases {
		if r.IsCurrent {
			currents++
			if r.ReleaseName != names[1] {
				t.Errorf("current release = %s, want %s", r.ReleaseName, names[1])
			}
		}
	}
	if currents != 1 {
		t.Errorf("current count = %d, want 1", currents)
	}

	// Most recent first.
	if releases[0].ReleaseName != names[2] {
		t.Errorf("first listed = %s, want newest", releases[0].ReleaseName)
	}

	cur, err := s.GetCurrentRelease(ctx, "api")
	if err != nil || cur == nil || cur.ReleaseName != names[1] {
		t.Errorf("GetCurrentRelease = %+v, %v", cur, err)
	}
}

func TestReleaseSnapshotFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "api", 8030)

	r := &release.Release{
		ID: uuid.NewString(), Project: "api", ReleaseName: "20260101-000000",
		ReleasePath: "/home/api/releases/20260101-000000", DeployedAt: Now(),
	}
	if err := s.CreateRelease(ctx, r); err != nil {
		t.Fatal(err)
	}

	cpID := int64(17)
	snap := `{"FEATURE_X":"on"}`
	if err := s.UpdateReleaseSnapshot(ctx, r.ID, &cpID, &snap); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReleaseGitInfo(ctx, r.ID, "abc123", "main", "", "https://github.com/u/r.git"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRelease(ctx, "api", "20260101-000000")
	if err != nil {
		t.Fatal(err)
	}
	if got.CheckpointID == nil || *got.CheckpointID != 17 {
		t.Errorf("checkpoint id = %v", got.CheckpointID)
	}
	if got.EnvSnapshot != snap {
		t.Errorf("env snapshot = %q", got.EnvSnapshot)
	}
	if got.GitCommit != "abc123" || got.GitBranch != "main" {
		t.Errorf("git info = %+v", got)
	}
}

func TestCheckpointExpiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "api", 8030)

	now := Now()
	mk := func(typ checkpoint.Type, created time.Time) int64 {
		cp := &checkpoint.Checkpoint{
			Project: "api", Type: typ, DatabaseName: "api_db",
			BackupPath: "/backups/api/checkpoints/x.sql.gz",
			CreatedAt:  created, CreatedBy: "test",
			ExpiresAt: checkpoint.ExpiryFor(typ, created),
		}
		id, err := s.CreateCheckpoint(ctx, cp)
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	manualID := mk(checkpoint.TypeManual, now.Add(-100*24*time.Hour))
	expiredID := mk(checkpoint.TypeAuto, now.Add(-8*24*time.Hour))
	mk(checkpoint.TypeAuto, now)

	expired, err := s.ListExpiredCheckpoints(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != expiredID {
		t.Errorf("expired = %+v", expired)
	}
	for _, cp := range expired {
		if cp.ID == manualID {
			t.Error("manual checkpoint listed as expired")
		}
	}

	latest, err := s.GetLatestCheckpoint(ctx, "api", checkpoint.TypeAuto)
	if err != nil || latest == nil || latest.Type != checkpoint.TypeAuto {
		t.Errorf("latest = %+v, %v", latest, err)
	}
}

func TestEventAppendOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "blog", 8020)

	var ids []int64
	for i := 0; i < 3; i++ {
		ev := &event.Event{
			Project: "blog", Category: event.CategoryDeploy, Type: event.TypeStarted,
			Level: event.LevelInfo, Message: "deploy started for blog", CreatedAt: Now(),
		}
		id, err := s.AppendEvent(ctx, ev)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	// IDs are monotonic and identical emissions produce distinct rows.
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not monotonic: %v", ids)
		}
	}

	events, err := s.ListEvents(ctx, event.Query{Project: "blog"})
	if err != nil || len(events) != 3 {
		t.Fatalf("list events = %d, %v", len(events), err)
	}

	count, err := s.CountEvents(ctx, event.Query{Project: "blog", Category: event.CategoryDeploy})
	if err != nil || count != 3 {
		t.Errorf("count = %d, %v", count, err)
	}

	n, err := s.DeleteEventsBefore(ctx, Now().Add(time.Minute))
	if err != nil || n != 3 {
		t.Errorf("cleanup deleted = %d, %v", n, err)
	}
}

func TestDeployHistoryWindows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "api", 8030)

	now := Now()
	for _, rec := range []limits.DeployRecord{
		{Project: "api", Outcome: limits.OutcomeSuccess, At: now.Add(-90 * time.Minute)},
		{Project: "api", Outcome: limits.OutcomeFailure, At: now.Add(-30 * time.Minute)},
		{Project: "api", Outcome: limits.OutcomeFailure, At: now.Add(-5 * time.Minute)},
	} {
		if err := s.AppendDeployRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	inWindow, err := s.CountDeploysSince(ctx, "api", now.Add(-60*time.Minute))
	if err != nil || inWindow != 2 {
		t.Errorf("deploys in window = %d, %v", inWindow, err)
	}

	failures, err := s.CountFailuresSince(ctx, "api", now.Add(-60*time.Minute))
	if err != nil || failures != 2 {
		t.Errorf("failures = %d, %v", failures, err)
	}

	recent, err := s.ListRecentDeploys(ctx, "api", 2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent = %v, %v", recent, err)
	}
	// Most recent first.
	if recent[0].Outcome != limits.OutcomeFailure || !recent[0].At.After(recent[1].At) {
		t.Errorf("recent order wrong: %+v", recent)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "blog", 8020)

	wantErr := domain.E(domain.CodeDeployFailed, "boom")
	err := s.WithTx(ctx, func(tx database.Store) error {
		if _, err := tx.AppendEvent(ctx, &event.Event{
			Project: "blog", Category: event.CategoryDeploy, Type: event.TypeStarted,
			Level: event.LevelInfo, Message: "will roll back", CreatedAt: Now(),
		}); err != nil {
			return err
		}
		return wantErr
	})
	if domain.CodeOf(err) != domain.CodeDeployFailed {
		t.Fatalf("tx error = %v", err)
	}

	count, _ := s.CountEvents(ctx, event.Query{Project: "blog"})
	if count != 0 {
		t.Errorf("event survived rollback, count = %d", count)
	}
}

func TestProjectDeleteCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createTestProject(t, s, "api", 8030)

	if err := s.CreateRelease(ctx, &release.Release{
		ID: uuid.NewString(), Project: "api", ReleaseName: "20260101-000000",
		ReleasePath: "/home/api/releases/20260101-000000", DeployedAt: Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRateLimitConfig(ctx, limits.DefaultRateLimitConfig("api")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteProject(ctx, "api"); err != nil {
		t.Fatal(err)
	}

	releases, _ := s.ListReleases(ctx, "api", 10)
	if len(releases) != 0 {
		t.Errorf("releases survived project delete: %v", releases)
	}
	cfg, _ := s.GetRateLimitConfig(ctx, "api")
	if cfg != nil {
		t.Error("rate limit config survived project delete")
	}
}
