package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
	"github.com/hostkit-platform/hostkit/internal/secrets"
)

// ProvisionRequest describes a complete project to build from nothing.
type ProvisionRequest struct {
	Name    string
	Runtime project.Runtime

	CreateDatabase  bool
	VectorExtension bool
	EnableAuth      bool
	Sidecars        []systemd.UnitKind
	InjectSecrets   bool

	// SSHKeys are literal authorized_keys lines.
	SSHKeys []string
	// SSHKeysFromURL fetches public keys from a code-forge endpoint
	// (e.g. https://github.com/<user>.keys).
	SSHKeysFromURL string

	// DeploySource deploys from a local directory after setup.
	DeploySource string
	Start        bool
}

// ProvisionResult lists what succeeded and what failed; optional-step
// failures leave the project in place.
type ProvisionResult struct {
	Project        string       `json:"project"`
	Port           int          `json:"port"`
	StepsCompleted []string     `json:"steps_completed"`
	StepsFailed    []string     `json:"steps_failed,omitempty"`
	StepErrors     map[string]string `json:"step_errors,omitempty"`
	DatabaseURL    string       `json:"database_url,omitempty"`
	Health         *HealthCheck `json:"health,omitempty"`
}

// ProvisionService builds a complete project in one transactional flow: the
// core steps roll back on failure, optional steps record their outcome and
// continue.
type ProvisionService struct {
	projects   *ProjectService
	limits     *LimitsService
	env        *EnvService
	deploy     *DeployService
	health     *HealthService
	workers    *WorkerService
	dbadmin    *DBAdminService
	store      database.Store
	supervisor initsys.Supervisor
	fs         *fsops.Ops
	runner     execx.Runner
	vault      *secrets.Vault
	log        *slog.Logger
}

// NewProvisionService wires the orchestrator.
func NewProvisionService(projects *ProjectService, limitsSvc *LimitsService, env *EnvService,
	deploy *DeployService, health *HealthService, workers *WorkerService, dbadmin *DBAdminService,
	store database.Store, supervisor initsys.Supervisor, fs *fsops.Ops, runner execx.Runner,
	vault *secrets.Vault, log *slog.Logger) *ProvisionService {
	return &ProvisionService{
		projects: projects, limits: limitsSvc, env: env, deploy: deploy,
		health: health, workers: workers, dbadmin: dbadmin, store: store,
		supervisor: supervisor, fs: fs, runner: runner, vault: vault, log: log,
	}
}

// Provision runs the flow. Failures in the core steps (project row, user +
// layout, main unit) destroy partial work and return the error; sidecar and
// extra steps never abort the provision.
func (s *ProvisionService) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	result := &ProvisionResult{Project: req.Name, StepErrors: map[string]string{}}

	// Core step 1: project row + port.
	proj, err := s.projects.Register(ctx, req.Name, req.Runtime, 0)
	if err != nil {
		return nil, err
	}
	result.Port = proj.Port
	result.StepsCompleted = append(result.StepsCompleted, "create project")

	// Core steps 2-3 with best-effort rollback.
	if err := s.coreSetup(ctx, proj); err != nil {
		s.rollbackCore(ctx, req.Name)
		return nil, err
	}
	result.StepsCompleted = append(result.StepsCompleted, "create user and layout", "install main unit")

	// Optional steps: record outcomes, never abort.
	step := func(name string, enabled bool, fn func() error) {
		if !enabled {
			return
		}
		if err := fn(); err != nil {
			result.StepsFailed = append(result.StepsFailed, name)
			result.StepErrors[name] = err.Error()
			s.log.Warn("provision step failed", "project", req.Name, "step", name, "error", err)
			return
		}
		result.StepsCompleted = append(result.StepsCompleted, name)
	}

	step("create database", req.CreateDatabase, func() error {
		url, err := s.dbadmin.CreateDatabase(ctx, req.Name, req.VectorExtension)
		if err != nil {
			return err
		}
		result.DatabaseURL = "postgresql://" + DatabaseRole(req.Name) + ":********@..."
		_, err = s.env.Set(ctx, req.Name, "DATABASE_URL", url)
		return err
	})

	step("enable auth service", req.EnableAuth, func() error {
		return s.enableSidecar(ctx, proj, systemd.KindAuth)
	})
	for _, kind := range req.Sidecars {
		kind := kind
		step("enable "+systemd.KindName(kind)+" service", true, func() error {
			return s.enableSidecar(ctx, proj, kind)
		})
	}

	step("inject secrets", req.InjectSecrets && s.vault != nil, func() error {
		_, err := s.env.MergeSecrets(ctx, req.Name, s.vault.All())
		return err
	})

	step("add ssh keys", len(req.SSHKeys) > 0 || req.SSHKeysFromURL != "", func() error {
		keys := req.SSHKeys
		if req.SSHKeysFromURL != "" {
			fetched, err := fetchSSHKeys(ctx, req.SSHKeysFromURL)
			if err != nil {
				return err
			}
			keys = append(keys, fetched...)
		}
		return s.installSSHKeys(ctx, req.Name, keys)
	})

	step("deploy", req.DeploySource != "", func() error {
		_, err := s.deploy.Deploy(ctx, req.Name, SourceLocalPath, req.DeploySource, DeployOptions{
			InstallDeps: true,
			Restart:     false,
		})
		return err
	})

	step("start service", req.Start, func() error {
		return s.projects.Start(ctx, req.Name)
	})

	if hc, err := s.health.Check(ctx, req.Name, HealthOpts{Timeout: 5 * time.Second}); err == nil {
		result.Health = hc
	}
	return result, nil
}

// coreSetup creates the Linux user, the filesystem layout, and the main unit.
func (s *ProvisionService) coreSetup(ctx context.Context, proj *project.Project) error {
	name := proj.Name
	layout := s.fs.Layout()

	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "useradd",
		Args:    []string{"--create-home", "--shell", "/usr/sbin/nologin", name},
		Timeout: time.Minute,
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeProvisionFailed, "useradd %s: %s", name, strings.TrimSpace(res.Stderr))
	}

	for _, dir := range []string{
		layout.ReleasesDir(name),
		layout.SharedDir(name),
		layout.LogDir(name),
		layout.CheckpointsDir(name),
		layout.DBBackupDir(name),
	} {
		if err := s.fs.EnsureDir(ctx, name, dir, 0o755); err != nil {
			return err
		}
	}
	if err := s.fs.WriteFileOwned(ctx, name, layout.EnvFile(name), []byte{}, 0o600); err != nil {
		return err
	}

	rl, err := s.limits.GetOrDefault(ctx, name)
	if err != nil {
		return err
	}
	if err := s.store.SetResourceLimits(ctx, rl); err != nil {
		return err
	}

	unit := systemd.ServiceUnit(name, systemd.KindApp, "")
	content := systemd.RenderAppUnit(systemd.AppUnitParams{
		Project:   name,
		Port:      proj.Port,
		ExecStart: systemd.ExecStartForRuntime(string(proj.Runtime), layout.HomeDir(name), proj.Port),
		HomeDir:   layout.HomeDir(name),
		Limits:    &rl,
	})
	if err := s.supervisor.InstallUnit(ctx, unit, content); err != nil {
		return err
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		return err
	}
	// Enabled but not started; starting is an explicit optional step.
	return s.supervisor.Enable(ctx, unit)
}

// rollbackCore destroys partially created core resources, best effort.
func (s *ProvisionService) rollbackCore(ctx context.Context, name string) {
	unit := systemd.ServiceUnit(name, systemd.KindApp, "")
	if err := s.supervisor.RemoveUnit(ctx, unit); err != nil {
		s.log.Warn("provision rollback unit", "project", name, "error", err)
	}
	if _, err := s.runner.Run(ctx, execx.Cmd{
		Name: "userdel", Args: []string{"-r", name}, Timeout: time.Minute,
	}); err != nil {
		s.log.Warn("provision rollback userdel", "project", name, "error", err)
	}
	if err := s.store.DeleteProject(ctx, name); err != nil {
		s.log.Warn("provision rollback row", "project", name, "error", err)
	}
}

// enableSidecar allocates a port, renders the sidecar unit, and enables and
// starts it. It creates no database for the sidecar.
func (s *ProvisionService) enableSidecar(ctx context.Context, proj *project.Project, kind systemd.UnitKind) error {
	port, err := s.projects.AllocatePort(ctx)
	if err != nil {
		return err
	}
	layout := s.fs.Layout()
	unit := systemd.ServiceUnit(proj.Name, kind, "")
	content := systemd.RenderSidecarUnit(systemd.SidecarUnitParams{
		Project: proj.Name,
		Kind:    kind,
		Port:    port,
		ExecStart: fmt.Sprintf("%s/venv/bin/python -m hostkit_%s --port %d",
			layout.HomeDir(proj.Name), systemd.KindName(kind), port),
		HomeDir: layout.HomeDir(proj.Name),
	})
	if err := s.supervisor.InstallUnit(ctx, unit, content); err != nil {
		return err
	}
	if err := s.supervisor.DaemonReload(ctx); err != nil {
		return err
	}
	if err := s.supervisor.Enable(ctx, unit); err != nil {
		return err
	}
	if err := s.supervisor.Start(ctx, unit); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx database.Store) error {
		_, err := Append(ctx, tx, proj.Name, event.CategoryService, event.TypeEnabled,
			event.LevelInfo, fmt.Sprintf("sidecar %s enabled on port %d", unit, port),
			map[string]any{"unit": unit, "port": port})
		return err
	})
}

// installSSHKeys validates and writes authorized_keys lines.
func (s *ProvisionService) installSSHKeys(ctx context.Context, name string, keys []string) error {
	var valid []string
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return domain.Ef(domain.CodeInvalidSSHKey, "invalid SSH public key: %.40s...", key).
				WithSuggestion("provide keys in authorized_keys format (ssh-ed25519 AAAA... comment)")
		}
		valid = append(valid, key)
	}
	if len(valid) == 0 {
		return domain.E(domain.CodeInvalidSSHKey, "no valid SSH keys provided")
	}

	layout := s.fs.Layout()
	if err := s.fs.EnsureDir(ctx, name, layout.SSHDir(name), 0o700); err != nil {
		return err
	}
	return s.fs.WriteFileOwned(ctx, name, layout.AuthorizedKeys(name),
		[]byte(strings.Join(valid, "\n")+"\n"), 0o600)
}

// fetchSSHKeys downloads public keys from a forge endpoint.
func fetchSSHKeys(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch SSH keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch SSH keys: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(body)), "\n"), nil
}
