package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newCronService(h *harness) *service.CronService {
	return service.NewCronService(h.store, h.supervisor, h.layout, h.log)
}

func TestCronAddInstallsUnitsAndTimer(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	cron := newCronService(h)
	ctx := context.Background()

	task, err := cron.Add(ctx, "blog", "backup", "0 3 * * *", "pg_dump blog_db > /home/blog/shared/backup.sql", "nightly backup")
	if err != nil {
		t.Fatal(err)
	}
	if task.Schedule != "*-*-* 03:00:00" {
		t.Errorf("schedule = %q", task.Schedule)
	}
	if task.ScheduleCron != "0 3 * * *" {
		t.Errorf("original cron not preserved: %q", task.ScheduleCron)
	}

	// Service + timer units installed; the timer content carries the
	// translated schedule.
	if !h.supervisor.UnitFileExists("hostkit-blog-cron-backup.service") {
		t.Error("service unit missing")
	}
	timerContent, _ := h.supervisor.ReadUnitFile("hostkit-blog-cron-backup.timer")
	if !strings.Contains(timerContent, "OnCalendar=*-*-* 03:00:00") {
		t.Errorf("timer content:\n%s", timerContent)
	}

	if !h.supervisor.DidOp("enable", "hostkit-blog-cron-backup.timer") ||
		!h.supervisor.DidOp("start", "hostkit-blog-cron-backup.timer") {
		t.Error("timer not enabled and started")
	}
	if !task.TimerActive {
		t.Error("timer state not reported active")
	}
}

func TestCronAddValidation(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	cron := newCronService(h)
	ctx := context.Background()

	_, err := cron.Add(ctx, "blog", "Bad_Name", "@daily", "true", "")
	if domain.CodeOf(err) != domain.CodeInvalidTaskName {
		t.Errorf("code = %s, want INVALID_TASK_NAME", domain.CodeOf(err))
	}

	_, err = cron.Add(ctx, "blog", "task", "0 3 * *", "true", "")
	if domain.CodeOf(err) != domain.CodeInvalidCronExpression {
		t.Errorf("code = %s, want INVALID_CRON_EXPRESSION", domain.CodeOf(err))
	}

	if _, err := cron.Add(ctx, "blog", "dup", "@daily", "true", ""); err != nil {
		t.Fatal(err)
	}
	_, err = cron.Add(ctx, "blog", "dup", "@daily", "true", "")
	if domain.CodeOf(err) != domain.CodeTaskExists {
		t.Errorf("code = %s, want TASK_EXISTS", domain.CodeOf(err))
	}
}

func TestCronRemoveCleansUp(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	cron := newCronService(h)
	ctx := context.Background()

	if _, err := cron.Add(ctx, "blog", "backup", "@daily", "true", ""); err != nil {
		t.Fatal(err)
	}
	if err := cron.Remove(ctx, "blog", "backup"); err != nil {
		t.Fatal(err)
	}

	if h.supervisor.UnitFileExists("hostkit-blog-cron-backup.service") ||
		h.supervisor.UnitFileExists("hostkit-blog-cron-backup.timer") {
		t.Error("unit files survived removal")
	}
	if _, err := cron.Get(ctx, "blog", "backup"); domain.CodeOf(err) != domain.CodeTaskNotFound {
		t.Errorf("code = %s, want TASK_NOT_FOUND", domain.CodeOf(err))
	}
}

func TestCronRunNowRecordsLastRun(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	cron := newCronService(h)
	ctx := context.Background()

	if _, err := cron.Add(ctx, "blog", "tick", "@hourly", "true", ""); err != nil {
		t.Fatal(err)
	}

	status, exitCode, err := cron.RunNow(ctx, "blog", "tick")
	if err != nil {
		t.Fatal(err)
	}
	if status != "success" || exitCode != 0 {
		t.Errorf("run = %s/%d", status, exitCode)
	}

	task, err := cron.Get(ctx, "blog", "tick")
	if err != nil {
		t.Fatal(err)
	}
	if task.LastRunAt == nil || task.LastRunStatus != "success" {
		t.Errorf("last run not recorded: %+v", task)
	}
}

func TestCronEnableDisable(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	cron := newCronService(h)
	ctx := context.Background()

	if _, err := cron.Add(ctx, "blog", "tick", "@hourly", "true", ""); err != nil {
		t.Fatal(err)
	}

	task, err := cron.Disable(ctx, "blog", "tick")
	if err != nil {
		t.Fatal(err)
	}
	if task.Enabled || task.TimerActive {
		t.Errorf("disable left task active: %+v", task)
	}

	task, err = cron.Enable(ctx, "blog", "tick")
	if err != nil {
		t.Fatal(err)
	}
	if !task.Enabled || !task.TimerActive {
		t.Errorf("enable did not activate: %+v", task)
	}
}
