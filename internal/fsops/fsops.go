package fsops

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/execx"
)

// syncExcludes are top-level entries skipped when copying a source tree into
// a release directory.
var syncExcludes = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"__pycache__":  true,
	"node_modules": true,
	".DS_Store":    true,
}

// Ops performs scoped filesystem mutations for one Layout. Ownership changes
// go through the subprocess gateway because the CLI may run as root on behalf
// of a project user.
type Ops struct {
	layout *Layout
	runner execx.Runner
	log    *slog.Logger
}

// NewOps creates an Ops bound to the given layout and runner.
func NewOps(layout *Layout, runner execx.Runner, log *slog.Logger) *Ops {
	return &Ops{layout: layout, runner: runner, log: log}
}

// Layout returns the underlying layout.
func (o *Ops) Layout() *Layout { return o.layout }

// guard refuses mutations outside the project's subtrees.
func (o *Ops) guard(project, path string) error {
	if !o.layout.InProjectScope(project, path) {
		return domain.Ef(domain.CodePathOutsideScope,
			"refusing to operate on %s: outside project %q subtree", path, project)
	}
	return nil
}

// EnsureDir creates a directory (and parents) with the given mode, then
// chowns it to the project user.
func (o *Ops) EnsureDir(ctx context.Context, project, path string, mode os.FileMode) error {
	if err := o.guard(project, path); err != nil {
		return err
	}
	o.log.Debug("ensure dir", "project", project, "path", path, "mode", mode)
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return o.Chown(ctx, project, path)
}

// Chown sets ownership of a single path to the project user.
func (o *Ops) Chown(ctx context.Context, project, path string) error {
	res, err := o.runner.Run(ctx, execx.Cmd{
		Name: "chown",
		Args: []string{project + ":" + project, path},
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("chown %s: %s", path, res.Stderr)
	}
	return nil
}

// ChownRecursive sets ownership of a subtree to the project user.
// Best effort: callers treat a failure as a warning, matching how release
// directories are handed over.
func (o *Ops) ChownRecursive(ctx context.Context, project, path string) error {
	if err := o.guard(project, path); err != nil {
		return err
	}
	res, err := o.runner.Run(ctx, execx.Cmd{
		Name: "chown",
		Args: []string{"-R", project + ":" + project, path},
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("chown -R %s: %s", path, res.Stderr)
	}
	return nil
}

// ReplaceSymlink atomically points linkPath at target: a uniquely named
// temporary link is created next to linkPath and renamed into place. POSIX
// rename is atomic within a filesystem.
func (o *Ops) ReplaceSymlink(ctx context.Context, project, target, linkPath string) error {
	if err := o.guard(project, linkPath); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(linkPath), ".app_tmp_"+uuid.NewString()[:8])
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create temp symlink: %w", err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename symlink into place: %w", err)
	}
	// Re-chown the link itself; -h so the target is untouched.
	res, err := o.runner.Run(ctx, execx.Cmd{
		Name: "chown",
		Args: []string{"-h", project + ":" + project, linkPath},
	})
	if err == nil && !res.Ok() {
		o.log.Warn("symlink chown failed", "path", linkPath, "stderr", res.Stderr)
	}
	return nil
}

// RemoveTree recursively deletes a subtree inside the project's scope.
func (o *Ops) RemoveTree(project, path string) error {
	if err := o.guard(project, path); err != nil {
		return err
	}
	o.log.Debug("remove tree", "project", project, "path", path)
	return os.RemoveAll(path)
}

// CopyTree copies src into dst, skipping version-control and dependency
// directories at the top level. Returns the number of files copied.
func (o *Ops) CopyTree(project, src, dst string) (int, error) {
	if err := o.guard(project, dst); err != nil {
		return 0, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return 0, domain.Ef(domain.CodeSourceNotFound, "source directory %s does not exist", src).
			WithSuggestion("check the --source path")
	}
	if !info.IsDir() {
		return 0, domain.Ef(domain.CodeSourceNotFound, "source %s is not a directory", src)
	}

	count := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Exclusions apply to the first path element only.
		first := rel
		if i := firstSeparator(rel); i >= 0 {
			first = rel[:i]
		}
		if syncExcludes[first] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("copy tree %s: %w", src, err)
	}
	return count, nil
}

// CountFiles counts regular files under root.
func CountFiles(root string) int {
	count := 0
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}

// WriteFileOwned writes content to path with the given mode and chowns it to
// the project user.
func (o *Ops) WriteFileOwned(ctx context.Context, project, path string, content []byte, mode os.FileMode) error {
	if err := o.guard(project, path); err != nil {
		return err
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return o.Chown(ctx, project, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func firstSeparator(path string) int {
	for i := 0; i < len(path); i++ {
		if os.IsPathSeparator(path[i]) {
			return i
		}
	}
	return -1
}
