package service

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/release"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// ReleaseService manages timestamped release directories and the atomic app
// symlink, enabling O(1) rollback.
type ReleaseService struct {
	store     database.Store
	fs        *fsops.Ops
	retention int
	log       *slog.Logger
}

// NewReleaseService creates a ReleaseService. retention is the number of
// releases kept by cleanup; values below 1 fall back to the default.
func NewReleaseService(store database.Store, fs *fsops.Ops, retention int, log *slog.Logger) *ReleaseService {
	if retention < 1 {
		retention = config.Default().Deploy.ReleaseRetention
	}
	return &ReleaseService{store: store, fs: fs, retention: retention, log: log}
}

// IsReleaseBased reports whether a project has been converted to release
// deployments: the app path is a symlink, or releases already exist.
func (s *ReleaseService) IsReleaseBased(ctx context.Context, project string) (bool, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return false, err
	}
	app := s.fs.Layout().AppLink(project)
	if info, err := os.Lstat(app); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return true, nil
	}
	entries, err := os.ReadDir(s.fs.Layout().ReleasesDir(project))
	if err == nil && len(entries) > 0 {
		return true, nil
	}
	return false, nil
}

// MigrateToReleases converts a legacy in-place app directory into the first
// release: the directory is renamed under releases/ and the app symlink is
// created pointing at it.
func (s *ReleaseService) MigrateToReleases(ctx context.Context, project string) (*release.Release, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}

	layout := s.fs.Layout()
	app := layout.AppLink(project)

	if info, err := os.Lstat(app); err == nil && info.Mode()&os.ModeSymlink != 0 {
		current, err := s.store.GetCurrentRelease(ctx, project)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return current, nil
		}
		return nil, domain.E(domain.CodeInvalidState, "app is a symlink but no current release is recorded").
			WithSuggestion("inspect the releases directory manually")
	}

	if err := s.fs.EnsureDir(ctx, project, layout.ReleasesDir(project), 0o755); err != nil {
		return nil, err
	}
	if err := s.fs.EnsureDir(ctx, project, layout.SharedDir(project), 0o755); err != nil {
		return nil, err
	}

	name := time.Now().UTC().Format(release.NameFormat)
	path := layout.ReleaseDir(project, name)

	if info, err := os.Stat(app); err == nil && info.IsDir() {
		if err := os.Rename(app, path); err != nil {
			return nil, domain.WrapErr(domain.CodeActivateFailed, "move legacy app into release", err)
		}
	} else if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, domain.WrapErr(domain.CodeActivateFailed, "create initial release directory", err)
	}

	if err := s.fs.ReplaceSymlink(ctx, project, path, app); err != nil {
		return nil, domain.WrapErr(domain.CodeActivateFailed, "create app symlink", err)
	}
	if err := s.fs.ChownRecursive(ctx, project, layout.ReleasesDir(project)); err != nil {
		s.log.Warn("release chown failed", "project", project, "error", err)
	}

	r := &release.Release{
		ID:          uuid.NewString(),
		Project:     project,
		ReleaseName: name,
		ReleasePath: path,
		DeployedAt:  time.Now().UTC(),
		IsCurrent:   true,
		FilesSynced: fsops.CountFiles(path),
		DeployedBy:  config.CurrentActor(),
	}
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateRelease(ctx, r); err != nil {
			return err
		}
		return tx.SetCurrentRelease(ctx, project, name)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("migrated project to releases", "project", project, "release", name)
	return r, nil
}

// CreateRelease generates the next release directory and registers it, not
// current. Name uniqueness is 1-second; a collision waits and retries.
func (s *ReleaseService) CreateRelease(ctx context.Context, project, deployedBy string) (*release.Release, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}

	layout := s.fs.Layout()
	if err := s.fs.EnsureDir(ctx, project, layout.ReleasesDir(project), 0o755); err != nil {
		return nil, err
	}
	if err := s.fs.EnsureDir(ctx, project, layout.SharedDir(project), 0o755); err != nil {
		return nil, err
	}

	var name, path string
	for attempt := 0; ; attempt++ {
		name = time.Now().UTC().Format(release.NameFormat)
		path = layout.ReleaseDir(project, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if attempt >= 3 {
			return nil, domain.Ef(domain.CodeDeployFailed,
				"could not generate a unique release name for %q", project)
		}
		time.Sleep(1100 * time.Millisecond)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, domain.WrapErr(domain.CodeDeployFailed, "create release directory", err)
	}
	if err := s.fs.ChownRecursive(ctx, project, path); err != nil {
		s.log.Warn("release chown failed", "project", project, "error", err)
	}

	if deployedBy == "" {
		deployedBy = config.CurrentActor()
	}
	r := &release.Release{
		ID:          uuid.NewString(),
		Project:     project,
		ReleaseName: name,
		ReleasePath: path,
		DeployedAt:  time.Now().UTC(),
		DeployedBy:  deployedBy,
	}
	if err := s.store.CreateRelease(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ActivateRelease atomically points the app symlink at the named release and
// flips is_current. Callers must have finished populating and validating the
// release directory first.
func (s *ReleaseService) ActivateRelease(ctx context.Context, project, name string) (*release.Release, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	r, err := s.store.GetRelease(ctx, project, name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(r.ReleasePath); err != nil {
		return nil, domain.Ef(domain.CodeReleasePathMissing,
			"release directory does not exist: %s", r.ReleasePath).
			WithSuggestion("the release may have been manually deleted")
	}

	app := s.fs.Layout().AppLink(project)
	if err := s.fs.ReplaceSymlink(ctx, project, r.ReleasePath, app); err != nil {
		return nil, domain.WrapErr(domain.CodeActivateFailed, "switch app symlink", err).
			WithSuggestion("check directory permissions")
	}

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		return tx.SetCurrentRelease(ctx, project, name)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("release activated", "project", project, "release", name)
	return s.store.GetRelease(ctx, project, name)
}

// GetCurrentRelease returns the active release, or nil when the project has
// none.
func (s *ReleaseService) GetCurrentRelease(ctx context.Context, project string) (*release.Release, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	return s.store.GetCurrentRelease(ctx, project)
}

// GetRelease returns a specific release.
func (s *ReleaseService) GetRelease(ctx context.Context, project, name string) (*release.Release, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	return s.store.GetRelease(ctx, project, name)
}

// ListReleases lists releases, most recent first.
func (s *ReleaseService) ListReleases(ctx context.Context, project string, limit int) ([]release.Release, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	return s.store.ListReleases(ctx, project, limit)
}

// GetPreviousRelease returns the release immediately before the current one,
// or nil when there is none.
func (s *ReleaseService) GetPreviousRelease(ctx context.Context, project string) (*release.Release, error) {
	releases, err := s.ListReleases(ctx, project, 0)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if releases[i].IsCurrent {
			if i+1 < len(releases) {
				return &releases[i+1], nil
			}
			return nil, nil
		}
	}
	return nil, nil
}

// UpdateSnapshot associates a checkpoint and/or env snapshot with a release
// for full rollback.
func (s *ReleaseService) UpdateSnapshot(ctx context.Context, project, name string, checkpointID *int64, envSnapshot *string) error {
	r, err := s.store.GetRelease(ctx, project, name)
	if err != nil {
		return err
	}
	return s.store.UpdateReleaseSnapshot(ctx, r.ID, checkpointID, envSnapshot)
}

// UpdateGitInfo records git provenance on a release.
func (s *ReleaseService) UpdateGitInfo(ctx context.Context, project, name, commit, branch, tag, repo string) error {
	r, err := s.store.GetRelease(ctx, project, name)
	if err != nil {
		return err
	}
	return s.store.UpdateReleaseGitInfo(ctx, r.ID, commit, branch, tag, repo)
}

// UpdateFiles records the synced file count on a release.
func (s *ReleaseService) UpdateFiles(ctx context.Context, project, name string, filesSynced int) error {
	r, err := s.store.GetRelease(ctx, project, name)
	if err != nil {
		return err
	}
	return s.store.UpdateReleaseFiles(ctx, r.ID, filesSynced)
}

// CleanupOldReleases removes releases beyond the retention limit, never the
// current one. A failure on one release does not abort the others. Returns
// the number removed.
func (s *ReleaseService) CleanupOldReleases(ctx context.Context, project string) (int, error) {
	releases, err := s.ListReleases(ctx, project, 0)
	if err != nil {
		return 0, err
	}
	if len(releases) <= s.retention {
		return 0, nil
	}

	removed := 0
	for _, r := range releases[s.retention:] {
		if r.IsCurrent {
			continue
		}
		if _, err := os.Stat(r.ReleasePath); err == nil {
			if err := s.fs.RemoveTree(project, r.ReleasePath); err != nil {
				s.log.Warn("release cleanup failed", "project", project, "release", r.ReleaseName, "error", err)
				continue
			}
		}
		if err := s.store.DeleteRelease(ctx, r.ID); err != nil {
			s.log.Warn("release row delete failed", "project", project, "release", r.ReleaseName, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("old releases removed", "project", project, "count", removed)
	}
	return removed, nil
}
