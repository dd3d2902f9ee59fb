package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// EventService emits and queries the append-only journal. State-changing
// services emit through the transaction-scoped store so an event never
// describes a change that did not commit.
type EventService struct {
	store database.Store
	log   *slog.Logger
}

// NewEventService creates an EventService.
func NewEventService(store database.Store, log *slog.Logger) *EventService {
	return &EventService{store: store, log: log}
}

// NewEvent assembles a journal row, serializing data and resolving the
// audit author.
func NewEvent(project string, category event.Category, typ event.Type,
	level event.Level, message string, data map[string]any) (*event.Event, error) {
	ev := &event.Event{
		Project:   project,
		Category:  category,
		Type:      typ,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		CreatedBy: config.CurrentActor(),
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Append writes an event through the given store. Pass the transaction-scoped
// store when emitting alongside a state change.
func Append(ctx context.Context, s database.Store, project string, category event.Category,
	typ event.Type, level event.Level, message string, data map[string]any) (int64, error) {
	ev, err := NewEvent(project, category, typ, level, message, data)
	if err != nil {
		return 0, err
	}
	return s.AppendEvent(ctx, ev)
}

// Emit writes an event outside any transaction.
func (s *EventService) Emit(ctx context.Context, project string, category event.Category,
	typ event.Type, level event.Level, message string, data map[string]any) (int64, error) {
	id, err := Append(ctx, s.store, project, category, typ, level, message, data)
	if err != nil {
		s.log.Warn("event emit failed", "project", project, "category", category, "error", err)
		return 0, err
	}
	s.log.Debug("event emitted", "project", project, "category", category, "type", typ, "id", id)
	return id, nil
}

// QueryOpts are the user-facing journal filters; times accept ISO and
// relative forms.
type QueryOpts struct {
	Category string
	Level    string
	Since    string
	Until    string
	Limit    int
	Offset   int
}

// Query returns journal rows for a project matching the filters.
func (s *EventService) Query(ctx context.Context, project string, opts QueryOpts) ([]event.Event, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}

	q := event.Query{
		Project:  project,
		Category: event.Category(opts.Category),
		Level:    event.Level(opts.Level),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	now := time.Now().UTC()
	if opts.Since != "" {
		t, err := event.ParseTime(opts.Since, now)
		if err != nil {
			return nil, err
		}
		q.Since = t
	}
	if opts.Until != "" {
		t, err := event.ParseTime(opts.Until, now)
		if err != nil {
			return nil, err
		}
		q.Until = t
	}
	return s.store.ListEvents(ctx, q)
}

// Cleanup deletes events older than the given number of days and returns the
// count removed.
func (s *EventService) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	return s.store.DeleteEventsBefore(ctx, cutoff)
}
