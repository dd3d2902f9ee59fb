package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
)

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	now := Now()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projects (name, runtime, port, status, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		req.Name, string(req.Runtime), req.Port, string(project.StatusStopped), now, req.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Ef(domain.CodeProjectExists, "project %q already exists", req.Name).
				WithSuggestion("choose a different name or delete the existing project")
		}
		return nil, fmt.Errorf("create project %s: %w", req.Name, err)
	}
	return &project.Project{
		Name:      req.Name,
		Runtime:   req.Runtime,
		Port:      req.Port,
		Status:    project.StatusStopped,
		CreatedAt: now,
		CreatedBy: req.CreatedBy,
	}, nil
}

func (s *Store) GetProject(ctx context.Context, name string) (*project.Project, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT name, runtime, port, database_index, status, created_at, created_by
		 FROM projects WHERE name = ?`, name)

	var p project.Project
	var dbIndex sql.NullInt64
	var createdBy sql.NullString
	err := row.Scan(&p.Name, &p.Runtime, &p.Port, &dbIndex, &p.Status, &p.CreatedAt, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ProjectNotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", name, err)
	}
	p.DatabaseIndex = fromNullInt(dbIndex)
	p.CreatedBy = createdBy.String
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT name, runtime, port, database_index, status, created_at, created_by
		 FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		var p project.Project
		var dbIndex sql.NullInt64
		var createdBy sql.NullString
		if err := rows.Scan(&p.Name, &p.Runtime, &p.Port, &dbIndex, &p.Status, &p.CreatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.DatabaseIndex = fromNullInt(dbIndex)
		p.CreatedBy = createdBy.String
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) UpdateProjectStatus(ctx context.Context, name string, status project.Status) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE projects SET status = ? WHERE name = ?`, string(status), name)
	if err != nil {
		return fmt.Errorf("update project status %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ProjectNotFound(name)
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, name string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ProjectNotFound(name)
	}
	return nil
}

func (s *Store) ListUsedPorts(ctx context.Context) ([]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT port FROM projects ORDER BY port`)
	if err != nil {
		return nil, fmt.Errorf("list used ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

// isUniqueViolation detects sqlite constraint errors without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
