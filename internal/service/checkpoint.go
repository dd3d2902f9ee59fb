package service

import (
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

const checkpointTimestampFormat = "20060102_150405"

// CheckpointService creates, restores, and expires point-in-time database
// dumps for project databases.
type CheckpointService struct {
	store  database.Store
	fs     *fsops.Ops
	runner execx.Runner
	pg     config.Postgres
	log    *slog.Logger
}

// NewCheckpointService creates a CheckpointService.
func NewCheckpointService(store database.Store, fs *fsops.Ops, runner execx.Runner, pg config.Postgres, log *slog.Logger) *CheckpointService {
	return &CheckpointService{store: store, fs: fs, runner: runner, pg: pg, log: log}
}

// DatabaseName returns the conventional database name for a project.
func DatabaseName(project string) string { return project + "_db" }

// DatabaseRole returns the conventional owning role for a project database.
func DatabaseRole(project string) string { return project + "_user" }

func (s *CheckpointService) pgArgs(dbName string) []string {
	return []string{
		"-h", s.pg.Host,
		"-p", strconv.Itoa(s.pg.Port),
		"-U", s.pg.AdminUser,
		"-d", dbName,
	}
}

func (s *CheckpointService) pgEnv() []string {
	if s.pg.AdminPassword == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + s.pg.AdminPassword}
}

// DatabaseExists reports whether the project's database exists in the cluster.
func (s *CheckpointService) DatabaseExists(ctx context.Context, project string) bool {
	res, err := s.runner.Run(ctx, execx.Cmd{
		Name: "psql",
		Args: append(s.pgArgs("postgres"), "-tAc",
			fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname = '%s'", DatabaseName(project))),
		Env:     s.pgEnv(),
		Timeout: 15 * time.Second,
	})
	return err == nil && res.Ok() && strings.TrimSpace(res.Stdout) == "1"
}

// Create dumps the project's database through gzip into the checkpoints
// directory and records the row with its retention-driven expiry.
func (s *CheckpointService) Create(ctx context.Context, project, label string,
	typ checkpoint.Type, triggerSource string) (*checkpoint.Checkpoint, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	dbName := DatabaseName(project)
	if !s.DatabaseExists(ctx, project) {
		return nil, domain.Ef(domain.CodeDatabaseNotFound, "database %q does not exist", dbName).
			WithSuggestion("create the database first with 'hostkit db create'")
	}

	dir := s.fs.Layout().CheckpointsDir(project)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(dir, "checkpoint_"+now.Format(checkpointTimestampFormat)+".sql.gz")

	if err := s.dumpTo(ctx, dbName, path); err != nil {
		os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat checkpoint file: %w", err)
	}

	cp := &checkpoint.Checkpoint{
		Project:       project,
		Label:         label,
		Type:          typ,
		TriggerSource: triggerSource,
		DatabaseName:  dbName,
		BackupPath:    path,
		SizeBytes:     info.Size(),
		CreatedAt:     now,
		CreatedBy:     config.CurrentActor(),
		ExpiresAt:     checkpoint.ExpiryFor(typ, now),
	}
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if _, err := tx.CreateCheckpoint(ctx, cp); err != nil {
			return err
		}
		_, err := Append(ctx, tx, project, event.CategoryCheckpoint, event.TypeCreated,
			event.LevelInfo, fmt.Sprintf("checkpoint %d created for %s (%s)", cp.ID, project, typ),
			map[string]any{"checkpoint_id": cp.ID, "type": string(typ), "size_bytes": cp.SizeBytes})
		return err
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	s.log.Info("checkpoint created", "project", project, "id", cp.ID, "type", typ, "bytes", cp.SizeBytes)
	return cp, nil
}

// dumpTo streams pg_dump output through an in-process gzip writer into path.
func (s *CheckpointService) dumpTo(ctx context.Context, dbName, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	gz := gzip.NewWriter(f)

	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "pg_dump",
		Args:    append(s.pgArgs(dbName), "--no-owner", "--no-acl"),
		Env:     s.pgEnv(),
		Stdout:  gz,
		Timeout: 30 * time.Minute,
	})
	closeErr := gz.Close()
	if err2 := f.Close(); closeErr == nil {
		closeErr = err2
	}

	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeCheckpointFailed, "pg_dump failed: %s", strings.TrimSpace(res.Stderr)).
			WithSuggestion("check the database exists and credentials are correct")
	}
	if closeErr != nil {
		return domain.WrapErr(domain.CodeCheckpointFailed, "finalize checkpoint file", closeErr).
			WithSuggestion("check disk space and permissions")
	}
	return nil
}

// Get returns one checkpoint by id.
func (s *CheckpointService) Get(ctx context.Context, id int64) (*checkpoint.Checkpoint, error) {
	return s.store.GetCheckpoint(ctx, id)
}

// List returns a project's checkpoints, optionally filtered by type.
func (s *CheckpointService) List(ctx context.Context, project string, typ checkpoint.Type, limit int) ([]checkpoint.Checkpoint, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	return s.store.ListCheckpoints(ctx, project, typ, limit)
}

// Latest returns the newest checkpoint matching the type, or nil.
func (s *CheckpointService) Latest(ctx context.Context, project string, typ checkpoint.Type) (*checkpoint.Checkpoint, error) {
	return s.store.GetLatestCheckpoint(ctx, project, typ)
}

// RestoreResult reports what a restore did.
type RestoreResult struct {
	Project              string `json:"project"`
	Database             string `json:"database"`
	RestoredFrom         int64  `json:"restored_from_checkpoint"`
	PreRestoreCheckpoint *int64 `json:"pre_restore_checkpoint_id,omitempty"`
}

// Restore replaces the project's database with a checkpoint's contents.
// When createPreRestore is set, the current state is checkpointed first so it
// can be recovered. Each failing stage is identified in the typed error.
func (s *CheckpointService) Restore(ctx context.Context, project string, id int64, createPreRestore bool) (*RestoreResult, error) {
	cp, err := s.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Project != project {
		return nil, domain.Ef(domain.CodeCheckpointMismatch,
			"checkpoint %d belongs to project %q, not %q", id, cp.Project, project).
			WithSuggestion("specify the correct project or checkpoint id")
	}
	if _, err := os.Stat(cp.BackupPath); err != nil {
		return nil, domain.Ef(domain.CodeBackupFileMissing, "checkpoint file not found: %s", cp.BackupPath).
			WithSuggestion("the checkpoint file may have been deleted")
	}

	result := &RestoreResult{Project: project, Database: cp.DatabaseName, RestoredFrom: id}

	if createPreRestore {
		pre, err := s.Create(ctx, project, fmt.Sprintf("pre-restore-%d", id),
			checkpoint.TypePreRestore, "restore")
		if err != nil {
			return nil, err
		}
		result.PreRestoreCheckpoint = &pre.ID
	}

	if err := s.recreateDatabase(ctx, project, cp.DatabaseName); err != nil {
		return nil, err
	}
	if err := s.feedDump(ctx, cp.DatabaseName, cp.BackupPath); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		_, err := Append(ctx, tx, project, event.CategoryCheckpoint, event.TypeRestored,
			event.LevelInfo, fmt.Sprintf("database %s restored from checkpoint %d", cp.DatabaseName, id),
			map[string]any{"checkpoint_id": id, "pre_restore_checkpoint_id": result.PreRestoreCheckpoint})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("checkpoint restored", "project", project, "id", id)
	return result, nil
}

// recreateDatabase terminates open connections, drops, and recreates the
// database owned by the project role.
func (s *CheckpointService) recreateDatabase(ctx context.Context, project, dbName string) error {
	statements := []string{
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, dbName),
		fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, dbName),
		fmt.Sprintf(`CREATE DATABASE "%s" OWNER "%s"`, dbName, DatabaseRole(project)),
	}
	for _, stmt := range statements {
		res, err := s.runner.Run(ctx, execx.Cmd{
			Name:    "psql",
			Args:    append(s.pgArgs("postgres"), "-q", "-c", stmt),
			Env:     s.pgEnv(),
			Timeout: time.Minute,
		})
		if err != nil {
			return err
		}
		if !res.Ok() {
			return domain.Ef(domain.CodeRestoreFailed, "prepare database for restore: %s",
				strings.TrimSpace(res.Stderr)).
				WithSuggestion("check PostgreSQL connection and permissions")
		}
	}
	return nil
}

// feedDump streams the gunzipped dump into psql.
func (s *CheckpointService) feedDump(ctx context.Context, dbName, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.WrapErr(domain.CodeRestoreFailed, "open checkpoint file", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return domain.WrapErr(domain.CodeRestoreFailed, "read checkpoint file", err).
			WithSuggestion("check the checkpoint file is valid gzip")
	}
	defer gz.Close()

	res, err := s.runner.Run(ctx, execx.Cmd{
		Name:    "psql",
		Args:    append(s.pgArgs(dbName), "-q"),
		Env:     s.pgEnv(),
		Stdin:   gz,
		Timeout: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeRestoreFailed, "psql restore failed: %s", strings.TrimSpace(res.Stderr)).
			WithSuggestion("check database credentials and checkpoint file format")
	}
	return nil
}

// Delete removes a checkpoint. force is required; the file is removed before
// the row.
func (s *CheckpointService) Delete(ctx context.Context, project string, id int64, force bool) (*checkpoint.Checkpoint, error) {
	if !force {
		return nil, domain.E(domain.CodeForceRequired, "deleting a checkpoint requires --force").
			WithSuggestion("add --force to confirm deletion")
	}
	cp, err := s.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Project != project {
		return nil, domain.Ef(domain.CodeCheckpointMismatch,
			"checkpoint %d belongs to project %q, not %q", id, cp.Project, project)
	}

	if err := os.Remove(cp.BackupPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("delete checkpoint file: %w", err)
	}
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.DeleteCheckpoint(ctx, id); err != nil {
			return err
		}
		_, err := Append(ctx, tx, project, event.CategoryCheckpoint, event.TypeDeleted,
			event.LevelInfo, fmt.Sprintf("checkpoint %d deleted for %s", id, project),
			map[string]any{"checkpoint_id": id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// CleanupExpired sweeps checkpoints past their expiry, deleting file then
// row. Per-checkpoint failures are collected, not fatal. Manual checkpoints
// never expire and never appear here.
func (s *CheckpointService) CleanupExpired(ctx context.Context) (*checkpoint.CleanupResult, error) {
	expired, err := s.store.ListExpiredCheckpoints(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	result := &checkpoint.CleanupResult{}
	for _, cp := range expired {
		if info, err := os.Stat(cp.BackupPath); err == nil {
			if err := os.Remove(cp.BackupPath); err != nil {
				result.Errors = append(result.Errors, checkpoint.CleanupError{
					CheckpointID: cp.ID, Error: err.Error(),
				})
				continue
			}
			result.FreedBytes += info.Size()
		}
		if err := s.store.DeleteCheckpoint(ctx, cp.ID); err != nil {
			result.Errors = append(result.Errors, checkpoint.CleanupError{
				CheckpointID: cp.ID, Error: err.Error(),
			})
			continue
		}
		result.DeletedCount++
	}
	if result.DeletedCount > 0 {
		s.log.Info("expired checkpoints removed", "count", result.DeletedCount, "freed_bytes", result.FreedBytes)
	}
	return result, nil
}
