package systemd

import (
	"fmt"
	"strings"

	"github.com/hostkit-platform/hostkit/internal/domain/limits"
)

// Marker distinguishes HostKit-generated unit files from hand-edited ones.
const Marker = "# Managed by HostKit. Manual edits will be overwritten."

// UnitKind enumerates every service type HostKit supervises. Dispatch is by
// this tag; there is no runtime lookup.
type UnitKind int

const (
	KindApp UnitKind = iota
	KindWorker
	KindCron
	KindBeat
	KindAuth
	KindChatbot
	KindSMS
	KindBooking
	KindPayments
	KindVector
)

// KindName returns the short name of a sidecar kind ("auth", "chatbot", ...).
func KindName(kind UnitKind) string {
	return strings.TrimPrefix(sidecarSuffix[kind], "-")
}

var sidecarSuffix = map[UnitKind]string{
	KindAuth:     "-auth",
	KindChatbot:  "-chatbot",
	KindSMS:      "-sms",
	KindBooking:  "-booking",
	KindPayments: "-payments",
	KindVector:   "-vector",
}

// UnitBase returns the unit name without the .service/.timer extension.
// name is the worker or cron task name and is ignored for other kinds.
func UnitBase(project string, kind UnitKind, name string) string {
	switch kind {
	case KindApp:
		return "hostkit-" + project
	case KindWorker:
		return "hostkit-" + project + "-worker-" + name
	case KindCron:
		return "hostkit-" + project + "-cron-" + name
	case KindBeat:
		return "hostkit-" + project + "-beat"
	default:
		return "hostkit-" + project + sidecarSuffix[kind]
	}
}

// ServiceUnit returns the .service unit file name.
func ServiceUnit(project string, kind UnitKind, name string) string {
	return UnitBase(project, kind, name) + ".service"
}

// TimerUnit returns the .timer unit file name for a cron task.
func TimerUnit(project, name string) string {
	return UnitBase(project, KindCron, name) + ".timer"
}

// AppUnitParams parameterizes the main application unit.
type AppUnitParams struct {
	Project string
	Port    int
	// ExecStart is the runtime-specific start command.
	ExecStart string
	HomeDir   string
	Limits    *limits.ResourceLimits
}

// RenderAppUnit renders the main application service unit. The working
// directory is the app symlink, so an atomic release switch takes effect on
// the next restart.
func RenderAppUnit(p AppUnitParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, `%s
[Unit]
Description=HostKit app %s
After=network.target

[Service]
Type=simple
User=%s
Group=%s
WorkingDirectory=%s/app
EnvironmentFile=-%s/.env
Environment=PORT=%d
ExecStart=%s
Restart=on-failure
RestartSec=3
`, Marker, p.Project, p.Project, p.Project, p.HomeDir, p.HomeDir, p.Port, p.ExecStart)
	writeLimits(&b, p.Limits)
	b.WriteString(`
[Install]
WantedBy=multi-user.target
`)
	return b.String()
}

// WorkerUnitParams parameterizes a worker unit.
type WorkerUnitParams struct {
	Project     string
	WorkerName  string
	AppModule   string
	Concurrency int
	Queues      string
	LogLevel    string
	HomeDir     string
	Limits      *limits.ResourceLimits
}

// RenderWorkerUnit renders a long-running queue consumer unit.
func RenderWorkerUnit(p WorkerUnitParams) string {
	exec := fmt.Sprintf("%s/venv/bin/celery -A %s worker --concurrency=%d --loglevel=%s -n %s@%%%%h",
		p.HomeDir, p.AppModule, p.Concurrency, p.LogLevel, p.WorkerName)
	if p.Queues != "" {
		exec += " -Q " + p.Queues
	}

	var b strings.Builder
	fmt.Fprintf(&b, `%s
[Unit]
Description=HostKit worker %s for %s
After=network.target

[Service]
Type=simple
User=%s
Group=%s
WorkingDirectory=%s/app
EnvironmentFile=-%s/.env
ExecStart=%s
Restart=on-failure
RestartSec=5
`, Marker, p.WorkerName, p.Project, p.Project, p.Project, p.HomeDir, p.HomeDir, exec)
	writeLimits(&b, p.Limits)
	b.WriteString(`
[Install]
WantedBy=multi-user.target
`)
	return b.String()
}

// RenderBeatUnit renders the per-project scheduler companion unit.
func RenderBeatUnit(project, appModule, homeDir string) string {
	return fmt.Sprintf(`%s
[Unit]
Description=HostKit beat scheduler for %s
After=network.target

[Service]
Type=simple
User=%s
Group=%s
WorkingDirectory=%s/app
EnvironmentFile=-%s/.env
ExecStart=%s/venv/bin/celery -A %s beat --loglevel=info
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`, Marker, project, project, project, homeDir, homeDir, homeDir, appModule)
}

// CronUnitParams parameterizes a scheduled-task service + timer pair.
type CronUnitParams struct {
	Project     string
	TaskName    string
	Command     string
	Schedule    string // systemd OnCalendar form
	Description string
	HomeDir     string
	LogDir      string
}

// RenderCronServiceUnit renders the oneshot service a timer fires.
// The command is run through a shell with single quotes escaped.
func RenderCronServiceUnit(p CronUnitParams) string {
	escaped := strings.ReplaceAll(p.Command, "'", `'\''`)
	return fmt.Sprintf(`%s
[Unit]
Description=HostKit cron task %s for %s

[Service]
Type=oneshot
User=%s
Group=%s
WorkingDirectory=%s/app
EnvironmentFile=-%s/.env
ExecStart=/bin/sh -c '%s'
StandardOutput=append:%s/cron-%s.log
StandardError=append:%s/cron-%s.log
`, Marker, p.TaskName, p.Project, p.Project, p.Project, p.HomeDir, p.HomeDir,
		escaped, p.LogDir, p.TaskName, p.LogDir, p.TaskName)
}

// RenderCronTimerUnit renders the timer driving a scheduled task.
func RenderCronTimerUnit(p CronUnitParams) string {
	desc := p.Description
	if desc == "" {
		desc = fmt.Sprintf("timer for %s/%s", p.Project, p.TaskName)
	}
	return fmt.Sprintf(`%s
[Unit]
Description=%s

[Timer]
OnCalendar=%s
Persistent=true

[Install]
WantedBy=timers.target
`, Marker, desc, p.Schedule)
}

// SidecarUnitParams parameterizes an auxiliary per-project service.
type SidecarUnitParams struct {
	Project   string
	Kind      UnitKind
	Port      int
	ExecStart string
	HomeDir   string
}

// RenderSidecarUnit renders a sidecar service unit (auth proxy, chatbot,
// SMS, booking, payments, vector). The sidecar's internals are external to
// HostKit; only the unit is owned here.
func RenderSidecarUnit(p SidecarUnitParams) string {
	return fmt.Sprintf(`%s
[Unit]
Description=HostKit%s service for %s
After=network.target

[Service]
Type=simple
User=%s
Group=%s
WorkingDirectory=%s
EnvironmentFile=-%s/.env
Environment=PORT=%d
ExecStart=%s
Restart=on-failure
RestartSec=3

[Install]
WantedBy=multi-user.target
`, Marker, sidecarSuffix[p.Kind], p.Project, p.Project, p.Project,
		p.HomeDir, p.HomeDir, p.Port, p.ExecStart)
}

// writeLimits emits the cgroup directives for enabled resource limits.
func writeLimits(b *strings.Builder, rl *limits.ResourceLimits) {
	if rl == nil || !rl.Enabled {
		return
	}
	b.WriteString("# Resource limits (managed by HostKit)\n")
	if rl.CPUQuota != nil {
		fmt.Fprintf(b, "CPUQuota=%d%%\n", *rl.CPUQuota)
	}
	if rl.MemoryMaxMB != nil {
		fmt.Fprintf(b, "MemoryMax=%dM\n", *rl.MemoryMaxMB)
	}
	if rl.MemoryHighMB != nil {
		fmt.Fprintf(b, "MemoryHigh=%dM\n", *rl.MemoryHighMB)
	}
	if rl.TasksMax != nil {
		fmt.Fprintf(b, "TasksMax=%d\n", *rl.TasksMax)
	}
}

// ExecStartForRuntime returns the default start command for a runtime.
func ExecStartForRuntime(runtime, homeDir string, port int) string {
	switch runtime {
	case "python":
		return fmt.Sprintf("%s/venv/bin/python -m uvicorn main:app --host 127.0.0.1 --port %d", homeDir, port)
	case "node":
		return "/usr/bin/node server.js"
	case "nextjs":
		return fmt.Sprintf("/usr/bin/npx next start -p %d", port)
	case "static":
		return fmt.Sprintf("/usr/bin/python3 -m http.server %d --bind 127.0.0.1", port)
	default:
		return "/bin/false"
	}
}
