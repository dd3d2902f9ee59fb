package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hostkit-platform/hostkit/internal/domain/operator"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// --- Git configuration ---

func (s *Store) SetGitConfig(ctx context.Context, cfg database.GitConfig) error {
	now := Now()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO git_config (project, repo_url, default_branch, ssh_key_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
		   repo_url = excluded.repo_url,
		   default_branch = excluded.default_branch,
		   ssh_key_path = excluded.ssh_key_path,
		   updated_at = excluded.updated_at`,
		cfg.Project, cfg.RepoURL, cfg.DefaultBranch, toNullString(cfg.SSHKeyPath), now, now)
	if err != nil {
		return fmt.Errorf("set git config %s: %w", cfg.Project, err)
	}
	return nil
}

func (s *Store) GetGitConfig(ctx context.Context, projectName string) (*database.GitConfig, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT project, repo_url, default_branch, ssh_key_path, created_at, updated_at
		 FROM git_config WHERE project = ?`, projectName)

	var cfg database.GitConfig
	var sshKey sql.NullString
	err := row.Scan(&cfg.Project, &cfg.RepoURL, &cfg.DefaultBranch, &sshKey,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get git config %s: %w", projectName, err)
	}
	cfg.SSHKeyPath = sshKey.String
	return &cfg, nil
}

func (s *Store) DeleteGitConfig(ctx context.Context, projectName string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM git_config WHERE project = ?`, projectName)
	if err != nil {
		return false, fmt.Errorf("delete git config %s: %w", projectName, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Domains ---

func (s *Store) CreateDomain(ctx context.Context, d database.Domain) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO domains (domain, project, ssl_provisioned) VALUES (?, ?, ?)`,
		d.Domain, d.Project, d.SSLProvisioned)
	if err != nil {
		return fmt.Errorf("create domain %s: %w", d.Domain, err)
	}
	return nil
}

func (s *Store) ListDomains(ctx context.Context, projectName string) ([]database.Domain, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT domain, project, ssl_provisioned FROM domains WHERE project = ? ORDER BY domain`,
		projectName)
	if err != nil {
		return nil, fmt.Errorf("list domains %s: %w", projectName, err)
	}
	defer rows.Close()

	var domains []database.Domain
	for rows.Next() {
		var d database.Domain
		if err := rows.Scan(&d.Domain, &d.Project, &d.SSLProvisioned); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *Store) DeleteDomain(ctx context.Context, name string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM domains WHERE domain = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete domain %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Operators ---

func (s *Store) UpsertOperator(ctx context.Context, op operator.Operator) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO operators (username, ssh_keys, created_at, last_login)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   ssh_keys = excluded.ssh_keys,
		   last_login = COALESCE(excluded.last_login, operators.last_login)`,
		op.Username, op.SSHKeys, op.CreatedAt, toNullTime(op.LastLogin))
	if err != nil {
		return fmt.Errorf("upsert operator %s: %w", op.Username, err)
	}
	return nil
}

func (s *Store) GetOperator(ctx context.Context, username string) (*operator.Operator, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT username, ssh_keys, created_at, last_login FROM operators WHERE username = ?`,
		username)

	var op operator.Operator
	var lastLogin sql.NullTime
	err := row.Scan(&op.Username, &op.SSHKeys, &op.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get operator %s: %w", username, err)
	}
	op.LastLogin = fromNullTime(lastLogin)
	return &op, nil
}

func (s *Store) ListOperators(ctx context.Context) ([]operator.Operator, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT username, ssh_keys, created_at, last_login FROM operators ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var ops []operator.Operator
	for rows.Next() {
		var op operator.Operator
		var lastLogin sql.NullTime
		if err := rows.Scan(&op.Username, &op.SSHKeys, &op.CreatedAt, &lastLogin); err != nil {
			return nil, err
		}
		op.LastLogin = fromNullTime(lastLogin)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
