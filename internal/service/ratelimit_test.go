package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newRateLimitService(h *harness) *service.RateLimitService {
	return service.NewRateLimitService(h.store, h.cfg.RateLimit, h.log)
}

func record(t *testing.T, h *harness, project string, outcome limits.Outcome, at time.Time) {
	t.Helper()
	if err := h.store.AppendDeployRecord(context.Background(),
		limits.DeployRecord{Project: project, Outcome: outcome, At: at}); err != nil {
		t.Fatal(err)
	}
}

func TestCheckAllowedDisabledWhenMaxZero(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newRateLimitService(h)
	ctx := context.Background()

	zero := 0
	if _, err := svc.SetConfig(ctx, "api", &zero, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	// History is irrelevant when disabled.
	now := time.Now().UTC()
	for i := 0; i < 50; i++ {
		record(t, h, "api", limits.OutcomeFailure, now)
	}

	decision, err := svc.CheckAllowed(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Error("disabled rate limiting still blocked")
	}
}

func TestCheckAllowedWindowBoundary(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newRateLimitService(h)
	ctx := context.Background()

	three := 3
	window := 60
	if _, err := svc.SetConfig(ctx, "api", &three, &window, nil, nil); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	// Exactly max_deploys inside the window blocks.
	for i := 0; i < 3; i++ {
		record(t, h, "api", limits.OutcomeSuccess, now.Add(-10*time.Minute))
	}
	decision, err := svc.CheckAllowed(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || decision.Reason != limits.BlockWindowExceeded {
		t.Errorf("decision = %+v, want blocked WINDOW_EXCEEDED", decision)
	}

	// With one record aged out of the window, allowed again.
	if _, err := h.store.ClearDeployHistory(ctx, "api"); err != nil {
		t.Fatal(err)
	}
	record(t, h, "api", limits.OutcomeSuccess, now.Add(-90*time.Minute))
	record(t, h, "api", limits.OutcomeSuccess, now.Add(-10*time.Minute))
	record(t, h, "api", limits.OutcomeSuccess, now.Add(-10*time.Minute))

	decision, err = svc.CheckAllowed(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Errorf("decision = %+v, want allowed", decision)
	}
}

func TestCheckAllowedCooldown(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newRateLimitService(h)
	ctx := context.Background()

	now := time.Now().UTC()
	// Three consecutive failures, most recent one minute ago: default config
	// (limit 3, cooldown 5m) puts the project in cooldown.
	record(t, h, "api", limits.OutcomeFailure, now.Add(-4*time.Minute))
	record(t, h, "api", limits.OutcomeFailure, now.Add(-2*time.Minute))
	record(t, h, "api", limits.OutcomeFailure, now.Add(-1*time.Minute))

	decision, err := svc.CheckAllowed(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || decision.Reason != limits.BlockCooldownActive {
		t.Fatalf("decision = %+v, want COOLDOWN_ACTIVE", decision)
	}
	if decision.Remaining <= 0 || decision.Remaining > 5*time.Minute {
		t.Errorf("remaining = %v", decision.Remaining)
	}

	// A success in the tail breaks the consecutive streak.
	record(t, h, "api", limits.OutcomeSuccess, now)
	decision, err = svc.CheckAllowed(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Errorf("decision after success = %+v, want allowed", decision)
	}
}

func TestStatusReportsConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newRateLimitService(h)
	ctx := context.Background()

	now := time.Now().UTC()
	record(t, h, "api", limits.OutcomeSuccess, now.Add(-10*time.Minute))
	record(t, h, "api", limits.OutcomeFailure, now.Add(-2*time.Minute))
	record(t, h, "api", limits.OutcomeFailure, now.Add(-1*time.Minute))

	status, err := svc.Status(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if status.ConsecutiveFailures != 2 {
		t.Errorf("consecutive failures = %d, want 2", status.ConsecutiveFailures)
	}
	if status.DeploysInWindow != 3 {
		t.Errorf("deploys in window = %d, want 3", status.DeploysInWindow)
	}
}

func TestRecordOutcomeAppends(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newRateLimitService(h)
	ctx := context.Background()

	if err := svc.RecordOutcome(ctx, "api", limits.OutcomeSuccess); err != nil {
		t.Fatal(err)
	}
	recent, err := h.store.ListRecentDeploys(ctx, "api", 5)
	if err != nil || len(recent) != 1 || recent[0].Outcome != limits.OutcomeSuccess {
		t.Errorf("recent = %+v, %v", recent, err)
	}
}
