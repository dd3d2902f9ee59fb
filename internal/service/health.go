package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for the database probe
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/envfile"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
)

// Overall health classifications.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// ProcessProbe is the supervisor/process view of a project.
type ProcessProbe struct {
	Running    bool    `json:"running"`
	PID        int     `json:"pid,omitempty"`
	MemoryMB   float64 `json:"memory_mb,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

// HTTPProbe is the HTTP endpoint view of a project.
type HTTPProbe struct {
	Status            int     `json:"status,omitempty"`
	ResponseMS        float64 `json:"response_ms,omitempty"`
	Body              string  `json:"body,omitempty"`
	EndpointUsed      string  `json:"endpoint_used,omitempty"`
	ServiceResponding bool    `json:"service_responding"`
	ContentMatch      *bool   `json:"content_match,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// HealthCheck is the combined result of all probes.
type HealthCheck struct {
	Project            string       `json:"project"`
	Overall            string       `json:"overall"`
	Process            ProcessProbe `json:"process"`
	HTTP               HTTPProbe    `json:"http"`
	DatabaseConnected  *bool        `json:"database_connected,omitempty"`
	DatabaseLatencyMS  float64      `json:"database_latency_ms,omitempty"`
	AuthServiceRunning *bool        `json:"auth_service_running,omitempty"`
}

// HealthOpts tune one health check.
type HealthOpts struct {
	Endpoint        string
	Timeout         time.Duration
	ExpectedContent string
}

// HealthService probes a project from several angles: supervisor state,
// process metrics, HTTP endpoints, database connectivity, and the auth
// sidecar when enabled.
type HealthService struct {
	store      database.Store
	supervisor initsys.Supervisor
	layout     *fsops.Layout
	log        *slog.Logger
}

// NewHealthService creates a HealthService.
func NewHealthService(store database.Store, supervisor initsys.Supervisor, layout *fsops.Layout, log *slog.Logger) *HealthService {
	return &HealthService{store: store, supervisor: supervisor, layout: layout, log: log}
}

// Check performs a full health check on a project.
func (s *HealthService) Check(ctx context.Context, projectName string, opts HealthOpts) (*HealthCheck, error) {
	proj, err := s.store.GetProject(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "/health"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	hc := &HealthCheck{Project: projectName}
	authUnit := systemd.ServiceUnit(projectName, systemd.KindAuth, "")
	authEnabled := s.supervisor.UnitFileExists(authUnit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hc.Process = s.probeProcess(gctx, systemd.ServiceUnit(projectName, systemd.KindApp, ""))
		return nil
	})
	g.Go(func() error {
		hc.HTTP = s.probeHTTP(gctx, proj.Port, opts)
		return nil
	})
	g.Go(func() error {
		connected, latency := s.probeDatabase(gctx, projectName)
		hc.DatabaseConnected = connected
		hc.DatabaseLatencyMS = latency
		return nil
	})
	if authEnabled {
		g.Go(func() error {
			running := s.supervisor.IsActive(gctx, authUnit)
			hc.AuthServiceRunning = &running
			return nil
		})
	}
	g.Wait()

	hc.Overall = classify(hc, authEnabled, opts.ExpectedContent)
	return hc, nil
}

// CheckWithRetries re-probes until healthy-or-degraded or retries are
// exhausted. Used by the deploy pipeline's post-activation validation.
func (s *HealthService) CheckWithRetries(ctx context.Context, projectName string, opts HealthOpts, retries int) (*HealthCheck, error) {
	var hc *HealthCheck
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return hc, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		hc, err = s.Check(ctx, projectName, opts)
		if err != nil {
			return nil, err
		}
		if hc.Overall != HealthUnhealthy {
			return hc, nil
		}
	}
	return hc, nil
}

func (s *HealthService) probeProcess(ctx context.Context, unit string) ProcessProbe {
	probe := ProcessProbe{Running: s.supervisor.IsActive(ctx, unit)}
	if !probe.Running {
		return probe
	}
	pid, err := s.supervisor.MainPID(ctx, unit)
	if err != nil || pid == 0 {
		return probe
	}
	probe.PID = pid

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return probe
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		probe.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	// CPU percent aggregated over the unit's child processes.
	cpu, _ := proc.CPUPercent()
	if children, err := proc.Children(); err == nil {
		for _, child := range children {
			if c, err := child.CPUPercent(); err == nil {
				cpu += c
			}
			if mem, err := child.MemoryInfo(); err == nil && mem != nil {
				probe.MemoryMB += float64(mem.RSS) / (1024 * 1024)
			}
		}
	}
	probe.CPUPercent = cpu
	return probe
}

// probeHTTP tries the configured endpoint, then /api/health, then / in
// order. Any response at all, including 4xx, means the process is listening.
func (s *HealthService) probeHTTP(ctx context.Context, port int, opts HealthOpts) HTTPProbe {
	probe := HTTPProbe{}

	endpoints := []string{opts.Endpoint}
	if opts.Endpoint != "/api/health" {
		endpoints = append(endpoints, "/api/health")
	}
	if opts.Endpoint != "/" {
		endpoints = append(endpoints, "/")
	}

	client := &http.Client{Timeout: opts.Timeout}
	for _, endpoint := range endpoints {
		url := fmt.Sprintf("http://127.0.0.1:%d%s", port, endpoint)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if probe.Error == "" {
				probe.Error = err.Error()
			}
			continue
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		resp.Body.Close()

		probe.ServiceResponding = true
		probe.Status = resp.StatusCode
		probe.ResponseMS = elapsed
		probe.Body = string(body)
		probe.EndpointUsed = endpoint
		if opts.ExpectedContent != "" {
			match := strings.Contains(string(body), opts.ExpectedContent)
			probe.ContentMatch = &match
		}
		if resp.StatusCode == http.StatusOK {
			break
		}
		// Any response means the service is up; keep trying for a 200.
	}

	if probe.ServiceResponding {
		probe.Error = ""
	}
	return probe
}

// probeDatabase dials the DATABASE_URL from the project's env file and runs
// a trivial query. Returns nil when no database is configured.
func (s *HealthService) probeDatabase(ctx context.Context, projectName string) (*bool, float64) {
	data, err := os.ReadFile(s.layout.EnvFile(projectName))
	if err != nil {
		return nil, 0
	}
	url := envfile.Parse(string(data))["DATABASE_URL"]
	if url == "" {
		return nil, 0
	}

	failed := false
	db, err := sql.Open("pgx", url)
	if err != nil {
		return &failed, 0
	}
	defer db.Close()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	var one int
	if err := db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return &failed, 0
	}
	ok := true
	return &ok, float64(time.Since(start).Microseconds()) / 1000
}

// classify reduces the probes to healthy / degraded / unhealthy.
func classify(hc *HealthCheck, authEnabled bool, expectedContent string) string {
	if !hc.Process.Running {
		return HealthUnhealthy
	}
	if !hc.HTTP.ServiceResponding {
		return HealthUnhealthy
	}
	if hc.HTTP.Status >= 500 {
		return HealthUnhealthy
	}
	if expectedContent != "" && hc.HTTP.ContentMatch != nil && !*hc.HTTP.ContentMatch {
		return HealthUnhealthy
	}

	degraded := false
	// A 404 from a service with no /health route is fine; other 4xx degrade.
	if hc.HTTP.Status >= 400 && hc.HTTP.Status < 500 && hc.HTTP.Status != http.StatusNotFound {
		degraded = true
	}
	if hc.DatabaseConnected != nil && !*hc.DatabaseConnected {
		degraded = true
	}
	if authEnabled && hc.AuthServiceRunning != nil && !*hc.AuthServiceRunning {
		degraded = true
	}
	if degraded {
		return HealthDegraded
	}
	return HealthHealthy
}
