package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newLimitsService(h *harness) *service.LimitsService {
	return service.NewLimitsService(h.store, h.supervisor, h.runner, h.layout, h.log)
}

func TestLimitsSetValidation(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newLimitsService(h)
	ctx := context.Background()

	memMax, memHigh := 512, 768
	_, err := svc.Set(ctx, "api", nil, &memMax, &memHigh, nil, nil, nil, false)
	if domain.CodeOf(err) != domain.CodeInvalidLimits {
		t.Errorf("code = %s, want INVALID_LIMITS for high > max", domain.CodeOf(err))
	}

	negative := -1
	_, err = svc.Set(ctx, "api", &negative, nil, nil, nil, nil, nil, false)
	if domain.CodeOf(err) != domain.CodeInvalidLimits {
		t.Errorf("code = %s, want INVALID_LIMITS for negative", domain.CodeOf(err))
	}

	cpu := 50
	rl, err := svc.Set(ctx, "api", &cpu, nil, nil, nil, nil, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if rl.CPUQuota == nil || *rl.CPUQuota != 50 {
		t.Errorf("cpu = %v", rl.CPUQuota)
	}
}

func TestLimitsApplyRewritesUnitAndRestarts(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newLimitsService(h)
	ctx := context.Background()

	unit := "hostkit-api.service"
	h.supervisor.Units[unit] = `[Unit]
Description=HostKit app api

[Service]
User=api
CPUQuota=100%
MemoryMax=512M
ExecStart=/bin/app

[Install]
WantedBy=multi-user.target
`

	cpu, memMax := 200, 1024
	if _, err := svc.Set(ctx, "api", &cpu, &memMax, nil, nil, nil, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := svc.Apply(ctx, "api"); err != nil {
		t.Fatal(err)
	}

	content, _ := h.supervisor.ReadUnitFile(unit)
	if !strings.Contains(content, "CPUQuota=200%") || !strings.Contains(content, "MemoryMax=1024M") {
		t.Errorf("limits not applied:\n%s", content)
	}
	if strings.Contains(content, "CPUQuota=100%") {
		t.Errorf("stale directives survived:\n%s", content)
	}
	if !h.supervisor.DidOp("daemon-reload", "") || !h.supervisor.DidOp("restart", unit) {
		t.Error("apply did not reload and restart")
	}
}

func TestLimitsApplyMissingUnit(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newLimitsService(h)

	err := svc.Apply(context.Background(), "api")
	if domain.CodeOf(err) != domain.CodeServiceNotFound {
		t.Errorf("code = %s, want SERVICE_NOT_FOUND", domain.CodeOf(err))
	}
}

func TestDiskUsageAdvisoryQuota(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "api", 8030)
	svc := newLimitsService(h)
	ctx := context.Background()

	h.runner.Stub("du -sm", execx.Result{Stdout: "3000\t/home/api\n"})

	disk := 2048
	if _, err := svc.Set(ctx, "api", nil, nil, nil, nil, &disk, nil, false); err != nil {
		t.Fatal(err)
	}

	usage, err := svc.CheckDiskUsage(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	// Home and log dirs both report 3000MB from the stub.
	if usage.TotalMB != 6000 || !usage.OverQuota {
		t.Errorf("usage = %+v", usage)
	}
	if warning := svc.DeployWarning(ctx, "api"); warning == "" {
		t.Error("no deploy warning over quota")
	}
}
