package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/lockfile"
	"github.com/hostkit-platform/hostkit/internal/port/database"
	"github.com/hostkit-platform/hostkit/internal/port/initsys"
	"github.com/hostkit-platform/hostkit/internal/secrets"
)

// SourceKind names where a deploy's files come from.
type SourceKind string

const (
	SourceLocalPath SourceKind = "local_path"
	SourceGit       SourceKind = "git"
)

// DeployOptions tune one deploy.
type DeployOptions struct {
	Build             bool
	InstallDeps       bool
	InjectSecrets     bool
	Restart           bool
	OverrideRateLimit bool

	// Git source fields, used when Kind == SourceGit.
	Branch string
	Tag    string
	Commit string
}

// DeployResult reports what a completed deploy did.
type DeployResult struct {
	Project          string       `json:"project"`
	ReleaseName      string       `json:"release_name"`
	FilesSynced      int          `json:"files_synced"`
	Built            bool         `json:"built"`
	DepsInstalled    bool         `json:"dependencies_installed"`
	SecretsInjected  int          `json:"secrets_injected"`
	ServiceRestarted bool         `json:"service_restarted"`
	RestartError     string       `json:"restart_error,omitempty"`
	CheckpointID     *int64       `json:"checkpoint_id,omitempty"`
	Git              *GitInfo     `json:"git,omitempty"`
	Health           *HealthCheck `json:"health,omitempty"`
	HealthWarning    string       `json:"health_warning,omitempty"`
	Duration         float64      `json:"duration_seconds"`
}

// DeployService is the pipeline orchestrating a deployment: admission gates,
// release creation, checkpointing, source materialization, the atomic
// switch, restart, and validation.
type DeployService struct {
	store      database.Store
	releases   *ReleaseService
	checkpoint *CheckpointService
	ratelimit  *RateLimitService
	autopause  *AutoPauseService
	health     *HealthService
	env        *EnvService
	git        *GitService
	fs         *fsops.Ops
	supervisor initsys.Supervisor
	runner     execx.Runner
	vault      *secrets.Vault
	log        *slog.Logger

	healthRetries int
}

// NewDeployService wires the pipeline.
func NewDeployService(store database.Store, releases *ReleaseService, checkpoint *CheckpointService,
	ratelimit *RateLimitService, autopause *AutoPauseService, health *HealthService,
	env *EnvService, git *GitService, fs *fsops.Ops, supervisor initsys.Supervisor,
	runner execx.Runner, vault *secrets.Vault, healthRetries int, log *slog.Logger) *DeployService {
	return &DeployService{
		store: store, releases: releases, checkpoint: checkpoint,
		ratelimit: ratelimit, autopause: autopause, health: health,
		env: env, git: git, fs: fs, supervisor: supervisor,
		runner: runner, vault: vault, healthRetries: healthRetries, log: log,
	}
}

// Deploy runs the full pipeline. On failure after the gates the created
// release directory is left in place for forensics; retention removes it
// later.
func (s *DeployService) Deploy(ctx context.Context, projectName string, kind SourceKind,
	sourceSpec string, opts DeployOptions) (*DeployResult, error) {
	start := time.Now()

	// Gate: project exists.
	proj, err := s.store.GetProject(ctx, projectName)
	if err != nil {
		return nil, err
	}

	// Gate: rate limit.
	if !opts.OverrideRateLimit {
		decision, err := s.ratelimit.CheckAllowed(ctx, projectName)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			s.emit(ctx, projectName, event.TypeRateLimited, event.LevelWarning,
				fmt.Sprintf("deploy rate limited for %s: %s", projectName, decision.Reason),
				map[string]any{"reason": string(decision.Reason), "deploys_in_window": decision.DeploysInWindow})
			if decision.Reason == limits.BlockCooldownActive {
				return nil, domain.Ef(domain.CodeRateLimited,
					"deploys are cooling down after consecutive failures (%s remaining)",
					decision.Remaining.Round(time.Second)).
					WithSuggestion("wait for the cooldown or pass --override-ratelimit")
			}
			return nil, domain.Ef(domain.CodeRateLimited,
				"deploy window exceeded: %d deploys in the current window", decision.DeploysInWindow).
				WithSuggestion("wait for the window to pass or pass --override-ratelimit")
		}
	}

	// Gate: auto-pause. A paused project never deploys; the pipeline does
	// not resume on its own.
	paused, reason, err := s.autopause.IsPaused(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, domain.Ef(domain.CodeProjectPaused, "project %q is paused: %s", projectName, reason).
			WithSuggestion("run 'hostkit project resume " + projectName + "' to continue")
	}

	// Serialize against concurrent deploys and rollbacks on this project.
	lock, err := lockfile.Acquire(ctx, lockfile.ProjectLockPath(s.fs.Layout().HomeDir(projectName)))
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	defer lock.Release()

	s.emit(ctx, projectName, event.TypeStarted, event.LevelInfo,
		fmt.Sprintf("deploy started for %s", projectName),
		map[string]any{"source_kind": string(kind), "source": sourceSpec})

	result, err := s.run(ctx, proj, kind, sourceSpec, opts)
	duration := time.Since(start).Seconds()

	if err != nil {
		s.emit(ctx, projectName, event.TypeFailed, event.LevelError,
			fmt.Sprintf("deploy failed for %s: %s", projectName, s.redact(err.Error())),
			map[string]any{"error": s.redact(err.Error()), "duration_seconds": duration})
		if recErr := s.ratelimit.RecordOutcome(ctx, projectName, limits.OutcomeFailure); recErr != nil {
			s.log.Warn("record deploy failure", "project", projectName, "error", recErr)
		}
		if !domain.IsCode(err, domain.CodeProjectPaused) {
			if _, apErr := s.autopause.CheckAndMaybePause(ctx, projectName); apErr != nil {
				s.log.Warn("auto-pause check", "project", projectName, "error", apErr)
			}
		}
		return nil, err
	}

	result.Duration = duration
	s.emit(ctx, projectName, event.TypeCompleted, event.LevelInfo,
		fmt.Sprintf("deploy completed for %s (%d files, %.1fs)", projectName, result.FilesSynced, duration),
		map[string]any{
			"files_synced":     result.FilesSynced,
			"duration_seconds": duration,
			"release_name":     result.ReleaseName,
		})
	if err := s.ratelimit.RecordOutcome(ctx, projectName, limits.OutcomeSuccess); err != nil {
		s.log.Warn("record deploy success", "project", projectName, "error", err)
	}

	if _, err := s.releases.CleanupOldReleases(ctx, projectName); err != nil {
		s.log.Warn("release retention", "project", projectName, "error", err)
	}
	return result, nil
}

// run executes pipeline steps 5-14; the caller owns gates, events, and
// outcome recording.
func (s *DeployService) run(ctx context.Context, proj *project.Project, kind SourceKind,
	sourceSpec string, opts DeployOptions) (*DeployResult, error) {
	projectName := proj.Name
	result := &DeployResult{Project: projectName}

	rel, err := s.releases.CreateRelease(ctx, projectName, "")
	if err != nil {
		return nil, err
	}
	result.ReleaseName = rel.ReleaseName

	// Pre-deploy checkpoint when the project has a database.
	if s.checkpoint.DatabaseExists(ctx, projectName) {
		cp, err := s.checkpoint.Create(ctx, projectName, "pre-deploy-"+rel.ReleaseName,
			checkpoint.TypePreDeploy, "deploy")
		if err != nil {
			return nil, err
		}
		result.CheckpointID = &cp.ID
		if err := s.releases.UpdateSnapshot(ctx, projectName, rel.ReleaseName, &cp.ID, nil); err != nil {
			return nil, err
		}
	}

	// Environment snapshot for full rollback.
	snapshot, err := s.env.CaptureSnapshot(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if err := s.releases.UpdateSnapshot(ctx, projectName, rel.ReleaseName, nil, &snapshot); err != nil {
		return nil, err
	}

	// Materialize source into the release directory.
	switch kind {
	case SourceLocalPath:
		files, err := s.fs.CopyTree(projectName, sourceSpec, rel.ReleasePath)
		if err != nil {
			return nil, err
		}
		result.FilesSynced = files
	case SourceGit:
		info, err := s.git.CloneTo(ctx, projectName, CloneSpec{
			RepoURL: sourceSpec,
			Branch:  opts.Branch,
			Tag:     opts.Tag,
			Commit:  opts.Commit,
		}, rel.ReleasePath)
		if err != nil {
			return nil, err
		}
		result.Git = info
		result.FilesSynced = fsops.CountFiles(rel.ReleasePath)
		if err := s.releases.UpdateGitInfo(ctx, projectName, rel.ReleaseName,
			info.Commit, info.Branch, info.Tag, info.RepoURL); err != nil {
			return nil, err
		}
	default:
		return nil, domain.Ef(domain.CodeDeployFailed, "unknown source kind %q", kind)
	}
	if err := s.releases.UpdateFiles(ctx, projectName, rel.ReleaseName, result.FilesSynced); err != nil {
		return nil, err
	}
	if err := s.fs.ChownRecursive(ctx, projectName, rel.ReleasePath); err != nil {
		s.log.Warn("release chown", "project", projectName, "error", err)
	}

	if opts.Build {
		if err := s.buildApp(ctx, proj, rel.ReleasePath); err != nil {
			return nil, err
		}
		result.Built = true
	}
	if opts.InstallDeps {
		if err := s.installDeps(ctx, proj, rel.ReleasePath); err != nil {
			return nil, err
		}
		result.DepsInstalled = true
	}
	if opts.InjectSecrets && s.vault != nil {
		count, err := s.env.MergeSecrets(ctx, projectName, s.vault.All())
		if err != nil {
			return nil, err
		}
		result.SecretsInjected = count
	}

	// The atomic switch. Everything before this point left the previous
	// release running.
	if _, err := s.releases.ActivateRelease(ctx, projectName, rel.ReleaseName); err != nil {
		return nil, err
	}

	if opts.Restart {
		unit := systemd.ServiceUnit(projectName, systemd.KindApp, "")
		if err := s.supervisor.Restart(ctx, unit); err != nil {
			// The switch already succeeded; a restart failure is a warning,
			// not a pipeline failure.
			result.RestartError = err.Error()
			s.log.Warn("service restart failed after deploy", "project", projectName, "error", err)
		} else {
			result.ServiceRestarted = true
		}

		hc, err := s.health.CheckWithRetries(ctx, projectName, HealthOpts{}, s.healthRetries)
		if err == nil {
			result.Health = hc
			if hc.Overall == HealthUnhealthy {
				// Policy: report, never auto-rollback; the operator decides.
				result.HealthWarning = "post-deploy health probe failed; the service may not be running correctly"
			}
		}
	}

	return result, nil
}

// buildApp runs the runtime-appropriate build inside the release directory.
func (s *DeployService) buildApp(ctx context.Context, proj *project.Project, releaseDir string) error {
	var name string
	var args []string
	switch proj.Runtime {
	case project.RuntimeNode, project.RuntimeNextJS:
		name, args = "npm", []string{"run", "build"}
	default:
		// Python and static apps have no build step.
		return nil
	}
	res, err := s.runner.Run(ctx, execx.Cmd{Name: name, Args: args, Dir: releaseDir, Timeout: 15 * time.Minute})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeBuildFailed, "build failed: %s", tail(res.Stderr, 800)).
			WithSuggestion("run the build locally to reproduce, or deploy prebuilt artifacts")
	}
	return nil
}

// installDeps runs the runtime-appropriate dependency install.
func (s *DeployService) installDeps(ctx context.Context, proj *project.Project, releaseDir string) error {
	home := s.fs.Layout().HomeDir(proj.Name)
	var name string
	var args []string
	switch proj.Runtime {
	case project.RuntimePython:
		name = home + "/venv/bin/pip"
		args = []string{"install", "-r", "requirements.txt"}
	case project.RuntimeNode, project.RuntimeNextJS:
		name, args = "npm", []string{"install", "--omit=dev"}
	default:
		return nil
	}
	res, err := s.runner.Run(ctx, execx.Cmd{Name: name, Args: args, Dir: releaseDir, Timeout: 15 * time.Minute})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeInstallFailed, "dependency install failed: %s", tail(res.Stderr, 800)).
			WithSuggestion("check requirements.txt / package.json for broken pins")
	}
	return nil
}

// emit writes a deploy-category event; journal failures never block the
// pipeline.
func (s *DeployService) emit(ctx context.Context, projectName string, typ event.Type,
	level event.Level, message string, data map[string]any) {
	if _, err := Append(ctx, s.store, projectName, event.CategoryDeploy, typ, level, message, data); err != nil {
		s.log.Warn("deploy event emit failed", "project", projectName, "error", err)
	}
}

// redact scrubs vault values out of error text before it reaches the journal.
func (s *DeployService) redact(msg string) string {
	if s.vault == nil {
		return msg
	}
	return s.vault.RedactString(msg)
}

// tail returns the last max bytes of s.
func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
