package service_test

import (
	"context"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func TestEventEmitAndQuery(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	events := service.NewEventService(h.store, h.log)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := events.Emit(ctx, "blog", event.CategoryDeploy, event.TypeStarted,
			event.LevelInfo, "deploy started for blog", map[string]any{"attempt": i}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := events.Emit(ctx, "blog", event.CategoryHealth, event.TypeFailed,
		event.LevelError, "health check failed", nil); err != nil {
		t.Fatal(err)
	}

	all, err := events.Query(ctx, "blog", service.QueryOpts{})
	if err != nil || len(all) != 4 {
		t.Fatalf("all = %d, %v", len(all), err)
	}

	deploys, err := events.Query(ctx, "blog", service.QueryOpts{Category: "deploy"})
	if err != nil || len(deploys) != 3 {
		t.Errorf("deploys = %d, %v", len(deploys), err)
	}

	errors, err := events.Query(ctx, "blog", service.QueryOpts{Level: "ERROR"})
	if err != nil || len(errors) != 1 {
		t.Errorf("errors = %d, %v", len(errors), err)
	}

	// Relative time filters parse; everything emitted just now matches.
	recent, err := events.Query(ctx, "blog", service.QueryOpts{Since: "1h"})
	if err != nil || len(recent) != 4 {
		t.Errorf("recent = %d, %v", len(recent), err)
	}

	if _, err := events.Query(ctx, "blog", service.QueryOpts{Since: "whenever"}); domain.CodeOf(err) != domain.CodeInvalidDuration {
		t.Errorf("bad since code = %s", domain.CodeOf(err))
	}

	if _, err := events.Query(ctx, "ghost", service.QueryOpts{}); domain.CodeOf(err) != domain.CodeProjectNotFound {
		t.Errorf("missing project code = %s", domain.CodeOf(err))
	}
}

func TestEventCleanup(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	events := service.NewEventService(h.store, h.log)
	ctx := context.Background()

	events.Emit(ctx, "blog", event.CategoryDeploy, event.TypeStarted, event.LevelInfo, "m", nil)

	// Nothing is older than 30 days.
	n, err := events.Cleanup(ctx, 30)
	if err != nil || n != 0 {
		t.Errorf("cleanup = %d, %v", n, err)
	}

	// A zero-day cutoff removes everything.
	n, err = events.Cleanup(ctx, 0)
	if err != nil || n != 1 {
		t.Errorf("cleanup = %d, %v", n, err)
	}
}
