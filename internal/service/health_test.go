package service_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/hostkit-platform/hostkit/internal/service"
)

// startAppServer binds a local HTTP server and returns its port.
func startAppServer(t *testing.T, handler http.Handler) int {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestHealthHealthy(t *testing.T) {
	h := newHarness(t)
	port := startAppServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			fmt.Fprint(w, `{"status":"ok"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	h.addProject(t, "blog", port)
	h.supervisor.Active["hostkit-blog.service"] = true

	svc := service.NewHealthService(h.store, h.supervisor, h.layout, h.log)
	hc, err := svc.Check(context.Background(), "blog", service.HealthOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if hc.Overall != service.HealthHealthy {
		t.Errorf("overall = %s, want healthy", hc.Overall)
	}
	if hc.HTTP.Status != http.StatusOK || hc.HTTP.EndpointUsed != "/health" {
		t.Errorf("http probe = %+v", hc.HTTP)
	}
}

func TestHealthUnhealthyWhenProcessDown(t *testing.T) {
	h := newHarness(t)
	h.addProject(t, "blog", 8020)
	// Supervisor reports the unit inactive; nothing listens on the port.

	svc := service.NewHealthService(h.store, h.supervisor, h.layout, h.log)
	hc, err := svc.Check(context.Background(), "blog", service.HealthOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if hc.Overall != service.HealthUnhealthy {
		t.Errorf("overall = %s, want unhealthy", hc.Overall)
	}
}

func TestHealthAnyResponseMeansListening(t *testing.T) {
	h := newHarness(t)
	// Only the root path answers, with 404: the service is up, a missing
	// /health route does not degrade it.
	port := startAppServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.addProject(t, "blog", port)
	h.supervisor.Active["hostkit-blog.service"] = true

	svc := service.NewHealthService(h.store, h.supervisor, h.layout, h.log)
	hc, err := svc.Check(context.Background(), "blog", service.HealthOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !hc.HTTP.ServiceResponding {
		t.Error("service not reported as responding")
	}
	if hc.Overall != service.HealthHealthy {
		t.Errorf("overall = %s, want healthy", hc.Overall)
	}
}

func TestHealthServerErrorIsUnhealthy(t *testing.T) {
	h := newHarness(t)
	port := startAppServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.addProject(t, "blog", port)
	h.supervisor.Active["hostkit-blog.service"] = true

	svc := service.NewHealthService(h.store, h.supervisor, h.layout, h.log)
	hc, err := svc.Check(context.Background(), "blog", service.HealthOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if hc.Overall != service.HealthUnhealthy {
		t.Errorf("overall = %s, want unhealthy for 5xx", hc.Overall)
	}
}

func TestHealthContentMatch(t *testing.T) {
	h := newHarness(t)
	port := startAppServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"degrading"}`)
	}))
	h.addProject(t, "blog", port)
	h.supervisor.Active["hostkit-blog.service"] = true

	svc := service.NewHealthService(h.store, h.supervisor, h.layout, h.log)
	hc, err := svc.Check(context.Background(), "blog", service.HealthOpts{ExpectedContent: `"status":"ok"`})
	if err != nil {
		t.Fatal(err)
	}
	if hc.Overall != service.HealthUnhealthy {
		t.Errorf("overall = %s, want unhealthy on failed content match", hc.Overall)
	}
}

func TestHealthAuthSidecarDegrades(t *testing.T) {
	h := newHarness(t)
	port := startAppServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	h.addProject(t, "blog", port)
	h.supervisor.Active["hostkit-blog.service"] = true
	// The auth sidecar is installed but not running.
	h.supervisor.Units["hostkit-blog-auth.service"] = "unit"

	svc := service.NewHealthService(h.store, h.supervisor, h.layout, h.log)
	hc, err := svc.Check(context.Background(), "blog", service.HealthOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if hc.Overall != service.HealthDegraded {
		t.Errorf("overall = %s, want degraded with auth down", hc.Overall)
	}
	if hc.AuthServiceRunning == nil || *hc.AuthServiceRunning {
		t.Errorf("auth running = %v", hc.AuthServiceRunning)
	}
}
