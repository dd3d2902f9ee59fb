package fsops

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/execx"
)

func testOps(t *testing.T) (*Ops, *execx.FakeRunner, string) {
	t.Helper()
	root := t.TempDir()
	paths := config.Paths{
		HomeRoot:   filepath.Join(root, "home"),
		LogRoot:    filepath.Join(root, "log"),
		BackupRoot: filepath.Join(root, "backups"),
		SystemdDir: filepath.Join(root, "systemd"),
		StateDir:   filepath.Join(root, "state"),
		SudoersDir: filepath.Join(root, "sudoers"),
	}
	runner := execx.NewFakeRunner()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewOps(NewLayout(paths), runner, log), runner, root
}

func TestGuardRejectsOutsideScope(t *testing.T) {
	ops, _, _ := testOps(t)
	ctx := context.Background()

	err := ops.EnsureDir(ctx, "blog", "/etc/passwd-dir", 0o755)
	if err == nil {
		t.Fatal("expected scope violation")
	}

	// Another project's home is also out of scope.
	other := ops.Layout().HomeDir("other")
	if err := ops.EnsureDir(ctx, "blog", other, 0o755); err == nil {
		t.Fatal("expected scope violation for other project's home")
	}
}

func TestReplaceSymlinkIsAtomicSwap(t *testing.T) {
	ops, _, _ := testOps(t)
	ctx := context.Background()

	home := ops.Layout().HomeDir("blog")
	rel1 := ops.Layout().ReleaseDir("blog", "20260101-000000")
	rel2 := ops.Layout().ReleaseDir("blog", "20260102-000000")
	for _, d := range []string{rel1, rel2} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	link := ops.Layout().AppLink("blog")
	if err := ops.ReplaceSymlink(ctx, "blog", rel1, link); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if err := ops.ReplaceSymlink(ctx, "blog", rel2, link); err != nil {
		t.Fatalf("second switch: %v", err)
	}

	target, err := os.Readlink(link)
	if err != nil {
		t.Fatal(err)
	}
	if target != rel2 {
		t.Errorf("link points at %s, want %s", target, rel2)
	}

	// No leftover temp links.
	entries, _ := os.ReadDir(home)
	for _, e := range entries {
		if e.Name() != "app" && e.Name() != "releases" {
			t.Errorf("unexpected leftover entry %s", e.Name())
		}
	}
}

func TestCopyTreeExcludesMetadataDirs(t *testing.T) {
	ops, _, root := testOps(t)

	src := filepath.Join(root, "src")
	for _, d := range []string{".git", "node_modules", "pkg"} {
		if err := os.MkdirAll(filepath.Join(src, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		"main.py":          "print('hi')",
		"pkg/util.py":      "x = 1",
		".git/config":      "should not copy",
		"node_modules/a.js": "nope",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dst := ops.Layout().ReleaseDir("blog", "20260101-000000")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		t.Fatal(err)
	}

	n, err := ops.CopyTree("blog", src, dst)
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if n != 2 {
		t.Errorf("files copied = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(dst, ".git")); !os.IsNotExist(err) {
		t.Error(".git was copied")
	}
	if _, err := os.Stat(filepath.Join(dst, "pkg", "util.py")); err != nil {
		t.Error("pkg/util.py missing")
	}
}

func TestCopyTreeMissingSource(t *testing.T) {
	ops, _, root := testOps(t)
	dst := ops.Layout().ReleaseDir("blog", "20260101-000000")
	os.MkdirAll(dst, 0o755)

	if _, err := ops.CopyTree("blog", filepath.Join(root, "nope"), dst); err == nil {
		t.Fatal("expected SOURCE_NOT_FOUND")
	}
}

func TestCountFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a"), []byte("1"), 0o644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("2"), 0o644)
	if n := CountFiles(dir); n != 2 {
		t.Errorf("CountFiles = %d, want 2", n)
	}
}
