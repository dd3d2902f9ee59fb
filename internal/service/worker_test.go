package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newWorkerService(h *harness) *service.WorkerService {
	return service.NewWorkerService(h.store, h.supervisor, h.layout, h.log)
}

func TestWorkerAddAndScale(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	workers := newWorkerService(h)
	ctx := context.Background()

	w, err := workers.Add(ctx, "api", "emails", 2, "emails,notifications", "api.celery", "info")
	if err != nil {
		t.Fatal(err)
	}

	unit := "hostkit-api-worker-emails.service"
	content, _ := h.supervisor.ReadUnitFile(unit)
	if !strings.Contains(content, "--concurrency=2") || !strings.Contains(content, "-Q emails,notifications") {
		t.Errorf("unit content:\n%s", content)
	}
	if !h.supervisor.DidOp("start", unit) {
		t.Error("worker not started")
	}

	w, err = workers.Scale(ctx, "api", "emails", 4)
	if err != nil {
		t.Fatal(err)
	}
	if w.Concurrency != 4 {
		t.Errorf("concurrency = %d", w.Concurrency)
	}
	content, _ = h.supervisor.ReadUnitFile(unit)
	if !strings.Contains(content, "--concurrency=4") {
		t.Error("unit not regenerated on scale")
	}
	if !h.supervisor.DidOp("restart", unit) {
		t.Error("worker not restarted on scale")
	}
}

func TestWorkerRemove(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	workers := newWorkerService(h)
	ctx := context.Background()

	if _, err := workers.Add(ctx, "api", "default", 2, "", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := workers.Remove(ctx, "api", "default"); err != nil {
		t.Fatal(err)
	}
	if h.supervisor.UnitFileExists("hostkit-api-worker-default.service") {
		t.Error("unit survived removal")
	}
	if _, err := h.store.GetWorker(ctx, "api", "default"); domain.CodeOf(err) != domain.CodeWorkerNotFound {
		t.Errorf("code = %s", domain.CodeOf(err))
	}
}

func TestWorkerDuplicate(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	workers := newWorkerService(h)
	ctx := context.Background()

	if _, err := workers.Add(ctx, "api", "default", 2, "", "", ""); err != nil {
		t.Fatal(err)
	}
	_, err := workers.Add(ctx, "api", "default", 2, "", "", "")
	if domain.CodeOf(err) != domain.CodeWorkerExists {
		t.Errorf("code = %s, want WORKER_EXISTS", domain.CodeOf(err))
	}
}

func TestBeatLifecycle(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	workers := newWorkerService(h)
	ctx := context.Background()

	if err := workers.EnableBeat(ctx, "api", "api.celery"); err != nil {
		t.Fatal(err)
	}
	if !workers.BeatActive(ctx, "api") {
		t.Error("beat not active after enable")
	}
	if err := workers.DisableBeat(ctx, "api"); err != nil {
		t.Fatal(err)
	}
	if h.supervisor.UnitFileExists("hostkit-api-beat.service") {
		t.Error("beat unit survived disable")
	}
}
