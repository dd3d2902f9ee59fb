package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func TestAutoPauseAfterFailureBurst(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := service.NewAutoPauseService(h.store, h.cfg.AutoPause, h.log)
	ctx := context.Background()

	now := time.Now().UTC()
	// Four failures inside the 10-minute window: under the threshold of 5.
	for i := 0; i < 4; i++ {
		record(t, h, "api", limits.OutcomeFailure, now.Add(-time.Duration(i)*time.Minute))
	}
	paused, err := svc.CheckAndMaybePause(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if paused {
		t.Fatal("paused below threshold")
	}

	// The fifth failure crosses it.
	record(t, h, "api", limits.OutcomeFailure, now)
	paused, err = svc.CheckAndMaybePause(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if !paused {
		t.Fatal("not paused at threshold")
	}

	// Project status flipped and the event landed in the same transaction.
	p, err := h.store.GetProject(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != project.StatusPaused {
		t.Errorf("status = %s, want paused", p.Status)
	}
	events, err := h.store.ListEvents(ctx, event.Query{
		Project: "api", Category: event.CategoryProject,
	})
	if err != nil || len(events) == 0 {
		t.Fatalf("events = %v, %v", events, err)
	}
	if events[0].Type != event.TypePaused {
		t.Errorf("event type = %s, want paused", events[0].Type)
	}

	isPaused, reason, err := svc.IsPaused(ctx, "api")
	if err != nil || !isPaused || reason == "" {
		t.Errorf("IsPaused = %v, %q, %v", isPaused, reason, err)
	}

	// A second check while paused is a no-op.
	paused, err = svc.CheckAndMaybePause(ctx, "api")
	if err != nil || paused {
		t.Errorf("re-pause = %v, %v", paused, err)
	}
}

func TestResumeLiftsPause(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := service.NewAutoPauseService(h.store, h.cfg.AutoPause, h.log)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		record(t, h, "api", limits.OutcomeFailure, now)
	}
	if _, err := svc.CheckAndMaybePause(ctx, "api"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Resume(ctx, "api"); err != nil {
		t.Fatal(err)
	}
	isPaused, _, err := svc.IsPaused(ctx, "api")
	if err != nil || isPaused {
		t.Errorf("still paused after resume")
	}
	p, _ := h.store.GetProject(ctx, "api")
	if p.Status != project.StatusStopped {
		t.Errorf("status = %s, want stopped", p.Status)
	}
}

func TestAutoPauseDisabled(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := service.NewAutoPauseService(h.store, h.cfg.AutoPause, h.log)
	ctx := context.Background()

	disabled := false
	if _, err := svc.SetConfig(ctx, "api", &disabled, nil, nil); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		record(t, h, "api", limits.OutcomeFailure, now)
	}
	paused, err := svc.CheckAndMaybePause(ctx, "api")
	if err != nil || paused {
		t.Errorf("disabled auto-pause still paused: %v, %v", paused, err)
	}
}
