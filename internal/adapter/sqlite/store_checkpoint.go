package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
)

const checkpointColumns = `id, project, label, checkpoint_type, trigger_source,
	database_name, backup_path, size_bytes, created_at, created_by, expires_at`

func (s *Store) CreateCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO checkpoints (project, label, checkpoint_type, trigger_source,
		   database_name, backup_path, size_bytes, created_at, created_by, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.Project, toNullString(cp.Label), string(cp.Type), toNullString(cp.TriggerSource),
		cp.DatabaseName, cp.BackupPath, cp.SizeBytes, cp.CreatedAt, cp.CreatedBy,
		toNullTime(cp.ExpiresAt))
	if err != nil {
		return 0, fmt.Errorf("create checkpoint for %s: %w", cp.Project, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("checkpoint id: %w", err)
	}
	cp.ID = id
	return id, nil
}

func scanCheckpoint(row interface{ Scan(...any) error }) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	var label, trigger sql.NullString
	var expires sql.NullTime
	err := row.Scan(&cp.ID, &cp.Project, &label, &cp.Type, &trigger,
		&cp.DatabaseName, &cp.BackupPath, &cp.SizeBytes, &cp.CreatedAt, &cp.CreatedBy, &expires)
	if err != nil {
		return nil, err
	}
	cp.Label = label.String
	cp.TriggerSource = trigger.String
	cp.ExpiresAt = fromNullTime(expires)
	return &cp, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id int64) (*checkpoint.Checkpoint, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.CodeCheckpointNotFound, "checkpoint %d not found", id).
			WithSuggestion("run 'hostkit checkpoint list <project>' to see available checkpoints")
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %d: %w", id, err)
	}
	return cp, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, projectName string, typ checkpoint.Type, limit int) ([]checkpoint.Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE project = ?`
	args := []any{projectName}
	if typ != "" {
		query += ` AND checkpoint_type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints %s: %w", projectName, err)
	}
	defer rows.Close()

	var cps []checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, *cp)
	}
	return cps, rows.Err()
}

func (s *Store) GetLatestCheckpoint(ctx context.Context, projectName string, typ checkpoint.Type) (*checkpoint.Checkpoint, error) {
	cps, err := s.ListCheckpoints(ctx, projectName, typ, 1)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return &cps[0], nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint %d: %w", id, err)
	}
	return nil
}

func (s *Store) ListExpiredCheckpoints(ctx context.Context, now time.Time) ([]checkpoint.Checkpoint, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, *cp)
	}
	return cps, rows.Err()
}
