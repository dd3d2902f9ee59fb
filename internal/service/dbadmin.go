package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/config"
	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/execx"
)

// DBAdminService performs role and database administration on the shared
// PostgreSQL cluster through the psql client.
type DBAdminService struct {
	runner execx.Runner
	pg     config.Postgres
	log    *slog.Logger
}

// NewDBAdminService creates a DBAdminService.
func NewDBAdminService(runner execx.Runner, pg config.Postgres, log *slog.Logger) *DBAdminService {
	return &DBAdminService{runner: runner, pg: pg, log: log}
}

func (s *DBAdminService) psql(ctx context.Context, statement string) error {
	args := []string{
		"-h", s.pg.Host,
		"-p", strconv.Itoa(s.pg.Port),
		"-U", s.pg.AdminUser,
		"-d", "postgres",
		"-q", "-c", statement,
	}
	var env []string
	if s.pg.AdminPassword != "" {
		env = append(env, "PGPASSWORD="+s.pg.AdminPassword)
	}
	res, err := s.runner.Run(ctx, execx.Cmd{Name: "psql", Args: args, Env: env, Timeout: time.Minute})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return domain.Ef(domain.CodeSystemdError, "psql: %s", strings.TrimSpace(res.Stderr)).
			WithSuggestion("check PostgreSQL is running and admin credentials are set")
	}
	return nil
}

// CreateDatabase creates the project's role and database, returning the
// connection URL (containing the generated password). When vector is set the
// pgvector extension is enabled.
func (s *DBAdminService) CreateDatabase(ctx context.Context, project string, vector bool) (string, error) {
	role := DatabaseRole(project)
	dbName := DatabaseName(project)
	password, err := generatePassword()
	if err != nil {
		return "", err
	}

	statements := []string{
		fmt.Sprintf(`CREATE ROLE "%s" WITH LOGIN PASSWORD '%s'`, role, password),
		fmt.Sprintf(`CREATE DATABASE "%s" OWNER "%s"`, dbName, role),
	}
	for _, stmt := range statements {
		if err := s.psql(ctx, stmt); err != nil {
			return "", err
		}
	}
	if vector {
		if err := s.psqlOn(ctx, dbName, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			s.log.Warn("vector extension", "project", project, "error", err)
		}
	}

	url := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", role, password, s.pg.Host, s.pg.Port, dbName)
	return url, nil
}

func (s *DBAdminService) psqlOn(ctx context.Context, dbName, statement string) error {
	args := []string{
		"-h", s.pg.Host,
		"-p", strconv.Itoa(s.pg.Port),
		"-U", s.pg.AdminUser,
		"-d", dbName,
		"-q", "-c", statement,
	}
	var env []string
	if s.pg.AdminPassword != "" {
		env = append(env, "PGPASSWORD="+s.pg.AdminPassword)
	}
	res, err := s.runner.Run(ctx, execx.Cmd{Name: "psql", Args: args, Env: env, Timeout: time.Minute})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("psql on %s: %s", dbName, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// DropDatabase terminates connections and drops the project's database and
// role. Used by project deletion.
func (s *DBAdminService) DropDatabase(ctx context.Context, project string) error {
	dbName := DatabaseName(project)
	statements := []string{
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, dbName),
		fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, dbName),
		fmt.Sprintf(`DROP ROLE IF EXISTS "%s"`, DatabaseRole(project)),
	}
	for _, stmt := range statements {
		if err := s.psql(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// generatePassword returns a URL-safe random password.
func generatePassword() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
