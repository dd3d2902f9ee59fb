package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func TestEnvSetGetRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	env := service.NewEnvService(h.store, h.fs, h.log)
	ctx := context.Background()

	existed, err := env.Set(ctx, "blog", "GREETING", "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("fresh key reported as existing")
	}

	value, err := env.Get(ctx, "blog", "GREETING")
	if err != nil || value != "hello world" {
		t.Errorf("Get = %q, %v", value, err)
	}

	existed, err = env.Set(ctx, "blog", "GREETING", "hi")
	if err != nil || !existed {
		t.Errorf("overwrite existed = %v, %v", existed, err)
	}

	if _, err := env.Get(ctx, "blog", "MISSING"); domain.CodeOf(err) != domain.CodeVarNotFound {
		t.Errorf("missing key code = %s", domain.CodeOf(err))
	}

	if _, err := env.Set(ctx, "blog", "BAD-KEY", "x"); domain.CodeOf(err) != domain.CodeInvalidKey {
		t.Errorf("bad key code = %s", domain.CodeOf(err))
	}
}

func TestEnvSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	env := service.NewEnvService(h.store, h.fs, h.log)
	ctx := context.Background()

	env.Set(ctx, "blog", "B", "2")
	env.Set(ctx, "blog", "A", "1")

	snapshot, err := env.CaptureSnapshot(ctx, "blog")
	if err != nil {
		t.Fatal(err)
	}

	// Drift, then restore.
	env.Set(ctx, "blog", "A", "changed")
	env.Unset(ctx, "blog", "B")
	env.Set(ctx, "blog", "C", "3")

	count, err := env.RestoreSnapshot(ctx, "blog", snapshot)
	if err != nil || count != 2 {
		t.Fatalf("restore = %d, %v", count, err)
	}
	vars, err := env.Read(ctx, "blog")
	if err != nil {
		t.Fatal(err)
	}
	if vars["A"] != "1" || vars["B"] != "2" || len(vars) != 2 {
		t.Errorf("restored vars = %v", vars)
	}

	if _, err := env.RestoreSnapshot(ctx, "blog", "garbage"); domain.CodeOf(err) != domain.CodeInvalidSnapshot {
		t.Errorf("garbage snapshot code = %s", domain.CodeOf(err))
	}
}

func TestEnvListRedactsSecrets(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	env := service.NewEnvService(h.store, h.fs, h.log)
	ctx := context.Background()

	env.Set(ctx, "blog", "API_KEY", "sk-12345")
	env.Set(ctx, "blog", "COLOR", "blue")

	vars, err := env.List(ctx, "blog", false)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vars {
		switch v.Key {
		case "API_KEY":
			if v.Value != "********" || !v.IsSecret {
				t.Errorf("API_KEY = %+v", v)
			}
		case "COLOR":
			if v.Value != "blue" || v.IsSecret {
				t.Errorf("COLOR = %+v", v)
			}
		}
	}

	shown, _ := env.List(ctx, "blog", true)
	for _, v := range shown {
		if v.Key == "API_KEY" && v.Value != "sk-12345" {
			t.Errorf("show-secrets API_KEY = %+v", v)
		}
	}
}

func TestEnvSyncMergesWithoutOverwrite(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	env := service.NewEnvService(h.store, h.fs, h.log)
	ctx := context.Background()

	env.Set(ctx, "blog", "KEEP", "original")

	src := filepath.Join(t.TempDir(), "incoming.env")
	os.WriteFile(src, []byte("KEEP=overwritten\nNEW=value\n"), 0o644)

	added, skipped, err := env.Sync(ctx, "blog", src)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 1 || added[0] != "NEW" {
		t.Errorf("added = %v", added)
	}
	if len(skipped) != 1 || skipped[0] != "KEEP" {
		t.Errorf("skipped = %v", skipped)
	}
	value, _ := env.Get(ctx, "blog", "KEEP")
	if value != "original" {
		t.Errorf("KEEP = %q", value)
	}
}

func TestEnvFilePermissions(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	env := service.NewEnvService(h.store, h.fs, h.log)

	if _, err := env.Set(context.Background(), "blog", "A", "1"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(h.layout.EnvFile("blog"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("env file mode = %o, want 600", info.Mode().Perm())
	}
}
