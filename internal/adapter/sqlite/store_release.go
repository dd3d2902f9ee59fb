package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/release"
)

const releaseColumns = `id, project, release_name, release_path, deployed_at, is_current,
	files_synced, deployed_by, checkpoint_id, env_snapshot, git_commit, git_branch, git_tag, git_repo`

func (s *Store) CreateRelease(ctx context.Context, r *release.Release) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO releases (`+releaseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.ReleaseName, r.ReleasePath, r.DeployedAt, r.IsCurrent,
		r.FilesSynced, toNullString(r.DeployedBy), toNullInt64(r.CheckpointID),
		toNullString(r.EnvSnapshot), toNullString(r.GitCommit), toNullString(r.GitBranch),
		toNullString(r.GitTag), toNullString(r.GitRepo))
	if err != nil {
		return fmt.Errorf("create release %s/%s: %w", r.Project, r.ReleaseName, err)
	}
	return nil
}

func scanRelease(row interface{ Scan(...any) error }) (*release.Release, error) {
	var r release.Release
	var deployedBy, envSnapshot, gitCommit, gitBranch, gitTag, gitRepo sql.NullString
	var checkpointID sql.NullInt64
	err := row.Scan(&r.ID, &r.Project, &r.ReleaseName, &r.ReleasePath, &r.DeployedAt,
		&r.IsCurrent, &r.FilesSynced, &deployedBy, &checkpointID, &envSnapshot,
		&gitCommit, &gitBranch, &gitTag, &gitRepo)
	if err != nil {
		return nil, err
	}
	r.DeployedBy = deployedBy.String
	r.CheckpointID = fromNullInt64(checkpointID)
	r.EnvSnapshot = envSnapshot.String
	r.GitCommit = gitCommit.String
	r.GitBranch = gitBranch.String
	r.GitTag = gitTag.String
	r.GitRepo = gitRepo.String
	return &r, nil
}

func (s *Store) GetRelease(ctx context.Context, projectName, releaseName string) (*release.Release, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE project = ? AND release_name = ?`,
		projectName, releaseName)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.CodeReleaseNotFound,
			"release %q not found for project %q", releaseName, projectName).
			WithSuggestion("run 'hostkit release list " + projectName + "' to see available releases")
	}
	if err != nil {
		return nil, fmt.Errorf("get release %s/%s: %w", projectName, releaseName, err)
	}
	return r, nil
}

func (s *Store) GetCurrentRelease(ctx context.Context, projectName string) (*release.Release, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE project = ? AND is_current = 1`,
		projectName)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current release %s: %w", projectName, err)
	}
	return r, nil
}

func (s *Store) ListReleases(ctx context.Context, projectName string, limit int) ([]release.Release, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE project = ?
		 ORDER BY release_name DESC LIMIT ?`, projectName, limit)
	if err != nil {
		return nil, fmt.Errorf("list releases %s: %w", projectName, err)
	}
	defer rows.Close()

	var releases []release.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, *r)
	}
	return releases, rows.Err()
}

// SetCurrentRelease flips is_current so that exactly one row per project
// carries it. Both updates run on the same store; callers needing atomicity
// wrap in WithTx.
func (s *Store) SetCurrentRelease(ctx context.Context, projectName, releaseName string) error {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE releases SET is_current = 0 WHERE project = ?`, projectName); err != nil {
		return fmt.Errorf("clear current release %s: %w", projectName, err)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE releases SET is_current = 1 WHERE project = ? AND release_name = ?`,
		projectName, releaseName)
	if err != nil {
		return fmt.Errorf("set current release %s/%s: %w", projectName, releaseName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Ef(domain.CodeReleaseNotFound,
			"release %q not found for project %q", releaseName, projectName)
	}
	return nil
}

func (s *Store) UpdateReleaseFiles(ctx context.Context, id string, filesSynced int) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE releases SET files_synced = ? WHERE id = ?`, filesSynced, id)
	if err != nil {
		return fmt.Errorf("update release files %s: %w", id, err)
	}
	return nil
}

func (s *Store) UpdateReleaseSnapshot(ctx context.Context, id string, checkpointID *int64, envSnapshot *string) error {
	if checkpointID != nil {
		if _, err := s.q.ExecContext(ctx,
			`UPDATE releases SET checkpoint_id = ? WHERE id = ?`, *checkpointID, id); err != nil {
			return fmt.Errorf("update release checkpoint %s: %w", id, err)
		}
	}
	if envSnapshot != nil {
		if _, err := s.q.ExecContext(ctx,
			`UPDATE releases SET env_snapshot = ? WHERE id = ?`, *envSnapshot, id); err != nil {
			return fmt.Errorf("update release env snapshot %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) UpdateReleaseGitInfo(ctx context.Context, id, commit, branch, tag, repo string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE releases SET git_commit = ?, git_branch = ?, git_tag = ?, git_repo = ? WHERE id = ?`,
		toNullString(commit), toNullString(branch), toNullString(tag), toNullString(repo), id)
	if err != nil {
		return fmt.Errorf("update release git info %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteRelease(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM releases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete release %s: %w", id, err)
	}
	return nil
}
