package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"time"
)

// AppendEvent inserts a new journal row. Events are append-only; there is no
// update path and identical emissions produce distinct rows.
func (s *Store) AppendEvent(ctx context.Context, ev *event.Event) (int64, error) {
	var data any
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO events (project, category, event_type, level, message, data, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Project, string(ev.Category), string(ev.Type), string(ev.Level),
		ev.Message, data, ev.CreatedAt, toNullString(ev.CreatedBy))
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	ev.ID = id
	return id, nil
}

func eventFilter(q event.Query) (string, []any) {
	where := ` WHERE project = ?`
	args := []any{q.Project}
	if q.Category != "" {
		where += ` AND category = ?`
		args = append(args, string(q.Category))
	}
	if q.Level != "" {
		where += ` AND level = ?`
		args = append(args, string(q.Level))
	}
	if !q.Since.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		where += ` AND created_at <= ?`
		args = append(args, q.Until)
	}
	return where, args
}

func (s *Store) ListEvents(ctx context.Context, q event.Query) ([]event.Event, error) {
	where, args := eventFilter(q)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, project, category, event_type, level, message, data, created_at, created_by
		FROM events` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		var data, createdBy sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Project, &ev.Category, &ev.Type, &ev.Level,
			&ev.Message, &data, &ev.CreatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data.Valid {
			ev.Data = []byte(data.String)
		}
		ev.CreatedBy = createdBy.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) CountEvents(ctx context.Context, q event.Query) (int, error) {
	where, args := eventFilter(q)
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return res.RowsAffected()
}
