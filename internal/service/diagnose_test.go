package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func newDiagnoseService(h *harness) *service.DiagnoseService {
	return service.NewDiagnoseService(h.store, h.supervisor, h.runner, h.layout, h.log)
}

func TestDiagnoseDetectsLogPatterns(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	h.supervisor.Journal["hostkit-blog.service"] = `
Jul 30 10:00:01 vps python[123]: ModuleNotFoundError: No module named 'flask'
Jul 30 10:00:02 vps python[123]: ModuleNotFoundError: No module named 'flask'
Jul 30 10:00:05 vps python[124]: OSError: [Errno 98] address already in use
`
	svc := newDiagnoseService(h)

	diagnosis, err := svc.Diagnose(context.Background(), "blog", 200)
	if err != nil {
		t.Fatal(err)
	}
	if diagnosis.Healthy {
		t.Fatal("patterns present but reported healthy")
	}

	found := map[string]int{}
	for _, p := range diagnosis.Patterns {
		found[p.Type] = p.Occurrences
		if p.Suggestion == "" {
			t.Errorf("pattern %s has no suggestion", p.Type)
		}
	}
	if found["module-not-found"] != 2 {
		t.Errorf("module-not-found occurrences = %d", found["module-not-found"])
	}
	if found["address-in-use"] != 1 {
		t.Errorf("address-in-use occurrences = %d", found["address-in-use"])
	}
}

func TestDiagnoseCrashLoopFromJournal(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	svc := newDiagnoseService(h)
	ctx := context.Background()

	// Three failed deploys in the trailing window flag a crash loop.
	for i := 0; i < 3; i++ {
		ev, _ := service.NewEvent("blog", event.CategoryDeploy, event.TypeFailed,
			event.LevelError, "deploy failed for blog", nil)
		if _, err := h.store.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	diagnosis, err := svc.Diagnose(ctx, "blog", 200)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range diagnosis.Patterns {
		if p.Type == "deploy-crash-loop" {
			if p.Severity != service.SeverityCritical {
				t.Errorf("crash loop severity = %s", p.Severity)
			}
			return
		}
	}
	t.Error("crash loop not detected")
}

func TestDiagnoseRanksBySeverity(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	h.supervisor.Journal["hostkit-blog.service"] = `
line: No such file or directory
line: Killed process 123 (python) out of memory
`
	svc := newDiagnoseService(h)

	diagnosis, err := svc.Diagnose(context.Background(), "blog", 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(diagnosis.Patterns) < 2 {
		t.Fatalf("patterns = %+v", diagnosis.Patterns)
	}
	if diagnosis.Patterns[0].Type != "oom-kill" {
		t.Errorf("first pattern = %s, want oom-kill ranked first", diagnosis.Patterns[0].Type)
	}
}

func TestStartupTestCapturesOutput(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	h.runner.Stub("/", execx.Result{Stderr: "Traceback: SyntaxError: invalid syntax", ExitCode: 1})
	svc := newDiagnoseService(h)

	result, err := svc.StartupTest(context.Background(), "blog", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 1 {
		t.Errorf("exit code = %d", result.ExitCode)
	}
	if result.Output == "" {
		t.Error("no output captured")
	}
}
