package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/worker"
)

func (s *Store) CreateWorker(ctx context.Context, w *worker.Worker) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO workers (project, worker_name, concurrency, queues, app_module, loglevel, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Project, w.Name, w.Concurrency, toNullString(w.Queues), w.AppModule,
		w.LogLevel, w.Enabled, w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Ef(domain.CodeWorkerExists,
				"worker %q already exists for project %q", w.Name, w.Project)
		}
		return fmt.Errorf("create worker %s/%s: %w", w.Project, w.Name, err)
	}
	return nil
}

func scanWorker(row interface{ Scan(...any) error }) (*worker.Worker, error) {
	var w worker.Worker
	var queues sql.NullString
	err := row.Scan(&w.Project, &w.Name, &w.Concurrency, &queues, &w.AppModule,
		&w.LogLevel, &w.Enabled, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Queues = queues.String
	return &w, nil
}

func (s *Store) GetWorker(ctx context.Context, projectName, name string) (*worker.Worker, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT project, worker_name, concurrency, queues, app_module, loglevel, enabled, created_at
		 FROM workers WHERE project = ? AND worker_name = ?`, projectName, name)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.CodeWorkerNotFound,
			"worker %q not found for project %q", name, projectName).
			WithSuggestion("run 'hostkit worker list " + projectName + "' to see configured workers")
	}
	if err != nil {
		return nil, fmt.Errorf("get worker %s/%s: %w", projectName, name, err)
	}
	return w, nil
}

func (s *Store) ListWorkers(ctx context.Context, projectName string) ([]worker.Worker, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT project, worker_name, concurrency, queues, app_module, loglevel, enabled, created_at
		 FROM workers WHERE project = ? ORDER BY worker_name`, projectName)
	if err != nil {
		return nil, fmt.Errorf("list workers %s: %w", projectName, err)
	}
	defer rows.Close()

	var workers []worker.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

func (s *Store) UpdateWorker(ctx context.Context, w *worker.Worker) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE workers SET concurrency = ?, queues = ?, app_module = ?, loglevel = ?, enabled = ?
		 WHERE project = ? AND worker_name = ?`,
		w.Concurrency, toNullString(w.Queues), w.AppModule, w.LogLevel, w.Enabled,
		w.Project, w.Name)
	if err != nil {
		return fmt.Errorf("update worker %s/%s: %w", w.Project, w.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Ef(domain.CodeWorkerNotFound,
			"worker %q not found for project %q", w.Name, w.Project)
	}
	return nil
}

func (s *Store) DeleteWorker(ctx context.Context, projectName, name string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM workers WHERE project = ? AND worker_name = ?`, projectName, name)
	if err != nil {
		return fmt.Errorf("delete worker %s/%s: %w", projectName, name, err)
	}
	return nil
}
