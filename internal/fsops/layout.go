// Package fsops owns the on-disk convention for project trees and provides
// the scoped filesystem mutations the deployment core performs.
package fsops

import (
	"path/filepath"

	"github.com/hostkit-platform/hostkit/internal/config"
)

// Layout resolves per-project paths from the configured roots.
type Layout struct {
	paths config.Paths
}

// NewLayout creates a Layout from the configured roots.
func NewLayout(paths config.Paths) *Layout {
	return &Layout{paths: paths}
}

// HomeDir is the project's home directory.
func (l *Layout) HomeDir(project string) string {
	return filepath.Join(l.paths.HomeRoot, project)
}

// ReleasesDir holds the timestamped release directories.
func (l *Layout) ReleasesDir(project string) string {
	return filepath.Join(l.HomeDir(project), "releases")
}

// ReleaseDir is one release directory.
func (l *Layout) ReleaseDir(project, name string) string {
	return filepath.Join(l.ReleasesDir(project), name)
}

// AppLink is the symlink pointing at the current release.
func (l *Layout) AppLink(project string) string {
	return filepath.Join(l.HomeDir(project), "app")
}

// SharedDir holds persistent data deploys never overwrite.
func (l *Layout) SharedDir(project string) string {
	return filepath.Join(l.HomeDir(project), "shared")
}

// EnvFile is the project's environment file, mode 0600.
func (l *Layout) EnvFile(project string) string {
	return filepath.Join(l.HomeDir(project), ".env")
}

// SSHDir is the project's .ssh directory.
func (l *Layout) SSHDir(project string) string {
	return filepath.Join(l.HomeDir(project), ".ssh")
}

// AuthorizedKeys is the project's authorized_keys file, mode 0600.
func (l *Layout) AuthorizedKeys(project string) string {
	return filepath.Join(l.SSHDir(project), "authorized_keys")
}

// LogDir holds the project's log files.
func (l *Layout) LogDir(project string) string {
	return filepath.Join(l.paths.LogRoot, project)
}

// BackupDir is the project's backup root.
func (l *Layout) BackupDir(project string) string {
	return filepath.Join(l.paths.BackupRoot, project)
}

// CheckpointsDir holds the project's database checkpoint files.
func (l *Layout) CheckpointsDir(project string) string {
	return filepath.Join(l.BackupDir(project), "checkpoints")
}

// DBBackupDir holds plain database backups.
func (l *Layout) DBBackupDir(project string) string {
	return filepath.Join(l.BackupDir(project), "db")
}

// GitCacheDir is the bare-clone cache for a project's repository.
func (l *Layout) GitCacheDir(project string) string {
	return filepath.Join(l.paths.StateDir, "git-cache", project)
}

// SudoersFile is the project's sudoers drop-in.
func (l *Layout) SudoersFile(project string) string {
	return filepath.Join(l.paths.SudoersDir, "hostkit-"+project)
}

// SystemdDir is the directory unit files are written to.
func (l *Layout) SystemdDir() string {
	return l.paths.SystemdDir
}

// StateDir is HostKit's own state directory.
func (l *Layout) StateDir() string {
	return l.paths.StateDir
}

// projectRoots returns the subtrees a project's mutations are confined to.
func (l *Layout) projectRoots(project string) []string {
	return []string{
		l.HomeDir(project),
		l.LogDir(project),
		l.BackupDir(project),
		l.GitCacheDir(project),
	}
}

// InProjectScope reports whether path lies inside one of the project's
// subtrees. Mutating operations refuse paths outside scope.
func (l *Layout) InProjectScope(project, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range l.projectRoots(project) {
		if abs == root {
			return true
		}
		if rel, err := filepath.Rel(root, abs); err == nil &&
			rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel) {
			return true
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == "../"
}
