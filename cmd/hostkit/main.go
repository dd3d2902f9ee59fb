package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/hostkit-platform/hostkit/internal/adapter/sqlite"
	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/cli"
	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/logger"
	"github.com/hostkit-platform/hostkit/internal/secrets"
	"github.com/hostkit-platform/hostkit/internal/service"
)

func main() {
	// Bootstrap logger until config is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	os.Exit(run())
}

func run() int {
	jsonMode := slices.Contains(os.Args[1:], "--json")
	formatter := cli.NewFormatter(jsonMode)

	cfg, err := config.Load()
	if err != nil {
		formatter.Error(fmt.Errorf("load config: %w", err))
		return 1
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		formatter.Error(fmt.Errorf("open metadata store: %w", err))
		return 1
	}
	defer db.Close()

	// A migration failure is fatal before any command runs.
	if err := sqlite.RunMigrations(ctx, db); err != nil {
		formatter.Error(fmt.Errorf("store migrations: %w", err))
		return 1
	}

	store := sqlite.NewStore(db)
	runner := execx.NewRunner(log)
	pool := execx.NewPool(4)
	layout := fsops.NewLayout(cfg.Paths)
	fs := fsops.NewOps(layout, runner, log)
	supervisor := systemd.New(cfg.Paths.SystemdDir, runner)

	vault, err := secrets.NewVault(secrets.FileLoader(filepath.Join(cfg.Paths.StateDir, "vault.env")))
	if err != nil {
		log.Warn("secret vault unavailable", "error", err)
	}

	dbadmin := service.NewDBAdminService(runner, cfg.Postgres, log)
	events := service.NewEventService(store, log)
	releases := service.NewReleaseService(store, fs, cfg.Deploy.ReleaseRetention, log)
	checkpoints := service.NewCheckpointService(store, fs, runner, cfg.Postgres, log)
	ratelimit := service.NewRateLimitService(store, cfg.RateLimit, log)
	autopause := service.NewAutoPauseService(store, cfg.AutoPause, log)
	health := service.NewHealthService(store, supervisor, layout, log)
	diagnose := service.NewDiagnoseService(store, supervisor, runner, layout, log)
	env := service.NewEnvService(store, fs, log)
	git := service.NewGitService(store, layout, runner, pool, cfg.Deploy.GitTimeout, log)
	deploy := service.NewDeployService(store, releases, checkpoints, ratelimit, autopause,
		health, env, git, fs, supervisor, runner, vault, cfg.Deploy.HealthRetries, log)
	rollback := service.NewRollbackService(releases, checkpoints, env, fs, supervisor, log)
	cron := service.NewCronService(store, supervisor, layout, log)
	workers := service.NewWorkerService(store, supervisor, layout, log)
	limitsSvc := service.NewLimitsService(store, supervisor, runner, layout, log)
	projects := service.NewProjectService(store, supervisor, dbadmin, fs, runner,
		cfg.Ports.RangeStart, cfg.Ports.RangeEnd, log)
	provision := service.NewProvisionService(projects, limitsSvc, env, deploy, health,
		workers, dbadmin, store, supervisor, fs, runner, vault, log)

	root := cli.NewRoot(&cli.Deps{
		Projects:   projects,
		Releases:   releases,
		Checkpoint: checkpoints,
		RateLimit:  ratelimit,
		AutoPause:  autopause,
		Health:     health,
		Diagnose:   diagnose,
		Deploy:     deploy,
		Rollback:   rollback,
		Cron:       cron,
		Workers:    workers,
		Limits:     limitsSvc,
		Env:        env,
		Events:     events,
		Provision:  provision,
		Git:        git,
		DBAdmin:    dbadmin,
	})

	if err := root.ExecuteContext(ctx); err != nil {
		formatter.Error(err)
		// Malformed invocations (bad flags, wrong arg counts, unknown
		// commands) exit 2; typed and operational failures exit 1.
		if errors.Is(err, cli.ErrUsage) || strings.HasPrefix(err.Error(), "unknown command") {
			return 2
		}
		return 1
	}
	return 0
}
