// Package lockfile provides the advisory per-project lock serializing
// filesystem and init-unit mutations across HostKit processes.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory file lock.
type Lock struct {
	f *os.File
}

// retryInterval is how often Acquire re-attempts a contended lock.
const retryInterval = 200 * time.Millisecond

// Acquire takes the advisory lock at path, creating the file if needed.
// It blocks, polling, until the lock is free or ctx is done. Every exit path
// of the caller must Release.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release drops the lock. Safe to call once per Acquire.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

// ProjectLockPath returns the lock file path inside a project's home.
func ProjectLockPath(homeDir string) string {
	return filepath.Join(homeDir, ".hostkit.lock")
}
