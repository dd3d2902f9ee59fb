package service

import (
	"context"
	"log/slog"
	"os"
	"sort"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/envfile"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// EnvVar is one listed environment variable, redacted when secret.
type EnvVar struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret"`
}

// EnvService manages a project's environment file.
type EnvService struct {
	store database.Store
	fs    *fsops.Ops
	log   *slog.Logger
}

// NewEnvService creates an EnvService.
func NewEnvService(store database.Store, fs *fsops.Ops, log *slog.Logger) *EnvService {
	return &EnvService{store: store, fs: fs, log: log}
}

// Read parses the project's env file. A missing file is an empty map.
func (s *EnvService) Read(ctx context.Context, project string) (map[string]string, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	return s.readFile(project)
}

func (s *EnvService) readFile(project string) (map[string]string, error) {
	data, err := os.ReadFile(s.fs.Layout().EnvFile(project))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return envfile.Parse(string(data)), nil
}

// write renders and writes the env file, mode 0600, owned by the project.
func (s *EnvService) write(ctx context.Context, project string, vars map[string]string) error {
	return s.fs.WriteFileOwned(ctx, project, s.fs.Layout().EnvFile(project),
		[]byte(envfile.Format(vars)), 0o600)
}

// List returns the variables with secret values redacted unless showSecrets.
func (s *EnvService) List(ctx context.Context, project string, showSecrets bool) ([]EnvVar, error) {
	vars, err := s.Read(ctx, project)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]EnvVar, 0, len(keys))
	for _, key := range keys {
		v := EnvVar{Key: key, Value: vars[key], IsSecret: envfile.IsSecretKey(key)}
		if v.IsSecret && !showSecrets {
			v.Value = "********"
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns one variable's value; VAR_NOT_FOUND when absent.
func (s *EnvService) Get(ctx context.Context, project, key string) (string, error) {
	vars, err := s.Read(ctx, project)
	if err != nil {
		return "", err
	}
	value, ok := vars[key]
	if !ok {
		return "", domain.Ef(domain.CodeVarNotFound, "environment variable %q not found", key).
			WithSuggestion("run 'hostkit env list " + project + "' to see available variables")
	}
	return value, nil
}

// Set writes one variable. Returns whether the key already existed.
func (s *EnvService) Set(ctx context.Context, project, key, value string) (bool, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return false, err
	}
	if err := envfile.ValidateKey(key); err != nil {
		return false, err
	}
	vars, err := s.readFile(project)
	if err != nil {
		return false, err
	}
	_, existed := vars[key]
	vars[key] = value
	return existed, s.write(ctx, project, vars)
}

// Unset removes one variable.
func (s *EnvService) Unset(ctx context.Context, project, key string) error {
	vars, err := s.Read(ctx, project)
	if err != nil {
		return err
	}
	if _, ok := vars[key]; !ok {
		return domain.Ef(domain.CodeVarNotFound, "environment variable %q not found", key)
	}
	delete(vars, key)
	return s.write(ctx, project, vars)
}

// Import replaces the project's environment from a file.
func (s *EnvService) Import(ctx context.Context, project, path string) (int, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, domain.Ef(domain.CodeFileNotFound, "file not found: %s", path).
			WithSuggestion("check the file path and try again")
	}
	vars := envfile.Parse(string(data))
	return len(vars), s.write(ctx, project, vars)
}

// Sync merges variables from a file, never overwriting existing keys.
// Returns the keys added and the keys skipped.
func (s *EnvService) Sync(ctx context.Context, project, path string) (added, skipped []string, err error) {
	existing, err := s.Read(ctx, project)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, domain.Ef(domain.CodeFileNotFound, "file not found: %s", path)
	}
	for key, value := range envfile.Parse(string(data)) {
		if _, ok := existing[key]; ok {
			skipped = append(skipped, key)
			continue
		}
		existing[key] = value
		added = append(added, key)
	}
	sort.Strings(added)
	sort.Strings(skipped)
	return added, skipped, s.write(ctx, project, existing)
}

// CaptureSnapshot serializes the current environment as sorted-key JSON.
func (s *EnvService) CaptureSnapshot(ctx context.Context, project string) (string, error) {
	vars, err := s.Read(ctx, project)
	if err != nil {
		return "", err
	}
	return envfile.Snapshot(vars)
}

// RestoreSnapshot replaces the environment from a snapshot. Returns the
// variable count.
func (s *EnvService) RestoreSnapshot(ctx context.Context, project, snapshot string) (int, error) {
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return 0, err
	}
	vars, err := envfile.ParseSnapshot(snapshot)
	if err != nil {
		return 0, err
	}
	return len(vars), s.write(ctx, project, vars)
}

// CompareSnapshot diffs the current environment against a snapshot.
func (s *EnvService) CompareSnapshot(ctx context.Context, project, snapshot string) (envfile.Diff, error) {
	current, err := s.Read(ctx, project)
	if err != nil {
		return envfile.Diff{}, err
	}
	snap, err := envfile.ParseSnapshot(snapshot)
	if err != nil {
		return envfile.Diff{}, err
	}
	return envfile.Compare(current, snap), nil
}

// MergeSecrets writes vault values into the env file, overwriting existing
// keys. Returns the count injected; values never appear in logs or events.
func (s *EnvService) MergeSecrets(ctx context.Context, project string, secrets map[string]string) (int, error) {
	if len(secrets) == 0 {
		return 0, nil
	}
	vars, err := s.Read(ctx, project)
	if err != nil {
		return 0, err
	}
	for key, value := range secrets {
		vars[key] = value
	}
	if err := s.write(ctx, project, vars); err != nil {
		return 0, err
	}
	return len(secrets), nil
}
