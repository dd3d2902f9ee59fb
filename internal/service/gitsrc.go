package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain"
	"github.com/hostkit-platform/hostkit/internal/execx"
	"github.com/hostkit-platform/hostkit/internal/fsops"
	"github.com/hostkit-platform/hostkit/internal/port/database"
)

// Safe git URL forms: HTTPS, or scp-like SSH.
var (
	httpsURLPattern = regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/.*\.git$|^https://[a-zA-Z0-9.-]+/[^/]+/[^/]+/?$`)
	sshURLPattern   = regexp.MustCompile(`^git@[a-zA-Z0-9.-]+:[a-zA-Z0-9._/-]+\.git$|^git@[a-zA-Z0-9.-]+:[a-zA-Z0-9._/-]+/?$`)
)

// GitInfo captures the provenance of a checked-out tree.
type GitInfo struct {
	Commit  string `json:"commit"`
	Branch  string `json:"branch,omitempty"`
	Tag     string `json:"tag,omitempty"`
	RepoURL string `json:"repo_url"`
}

// CloneSpec names what to materialize from a repository.
type CloneSpec struct {
	RepoURL string
	Branch  string
	Tag     string
	Commit  string
	SSHKey  string
}

// GitService materializes repository trees into release directories, using a
// per-project bare cache to make repeat deploys cheap. All git invocations
// share the subprocess pool.
type GitService struct {
	store   database.Store
	layout  *fsops.Layout
	runner  execx.Runner
	pool    *execx.Pool
	timeout time.Duration
	log     *slog.Logger
}

// NewGitService creates a GitService.
func NewGitService(store database.Store, layout *fsops.Layout, runner execx.Runner, pool *execx.Pool, timeout time.Duration, log *slog.Logger) *GitService {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &GitService{store: store, layout: layout, runner: runner, pool: pool, timeout: timeout, log: log}
}

// ValidateURL checks a repository URL against the safe patterns.
func ValidateURL(url string) error {
	url = strings.TrimSpace(url)
	if httpsURLPattern.MatchString(url) || sshURLPattern.MatchString(url) {
		return nil
	}
	return domain.Ef(domain.CodeInvalidGitURL, "invalid git URL: %s", url).
		WithSuggestion("use https:// or git@host:path form (e.g. https://github.com/user/repo.git)")
}

func (s *GitService) git(ctx context.Context, dir, sshKey string, args ...string) (execx.Result, error) {
	var env []string
	if sshKey != "" {
		env = append(env, "GIT_SSH_COMMAND=ssh -i "+sshKey+" -o StrictHostKeyChecking=accept-new")
	}
	var res execx.Result
	err := s.pool.Run(ctx, func() error {
		var runErr error
		res, runErr = s.runner.Run(ctx, execx.Cmd{
			Name:    "git",
			Args:    args,
			Dir:     dir,
			Env:     env,
			Timeout: s.timeout,
		})
		return runErr
	})
	if err != nil {
		return res, err
	}
	if !res.Ok() {
		return res, domain.Ef(domain.CodeGitCommandFailed, "git %s: %s",
			args[0], strings.TrimSpace(res.Stderr)).
			WithSuggestion("check the repository URL and access permissions")
	}
	return res, nil
}

// CloneTo materializes the requested ref into targetDir. A bare cache at the
// project's git-cache path is created on first use and fetched afterwards.
func (s *GitService) CloneTo(ctx context.Context, project string, spec CloneSpec, targetDir string) (*GitInfo, error) {
	if err := ValidateURL(spec.RepoURL); err != nil {
		return nil, err
	}

	cache := s.layout.GitCacheDir(project)
	source := spec.RepoURL
	if _, err := os.Stat(cache); err == nil {
		if _, err := s.git(ctx, cache, spec.SSHKey, "fetch", "--all", "--prune"); err != nil {
			return nil, err
		}
		source = cache
	} else {
		if err := os.MkdirAll(filepath.Dir(cache), 0o755); err == nil {
			if _, err := s.git(ctx, "", spec.SSHKey, "clone", "--bare", spec.RepoURL, cache); err != nil {
				return nil, err
			}
			source = cache
		}
	}

	cloneArgs := []string{"clone"}
	if spec.Branch != "" && spec.Tag == "" && spec.Commit == "" {
		cloneArgs = append(cloneArgs, "--branch", spec.Branch)
	}
	cloneArgs = append(cloneArgs, source, targetDir)
	cloneKey := ""
	if source == spec.RepoURL {
		cloneKey = spec.SSHKey
	}
	if _, err := s.git(ctx, "", cloneKey, cloneArgs...); err != nil {
		return nil, err
	}

	switch {
	case spec.Commit != "":
		if _, err := s.git(ctx, targetDir, "", "checkout", spec.Commit); err != nil {
			return nil, err
		}
	case spec.Tag != "":
		if _, err := s.git(ctx, targetDir, "", "checkout", "tags/"+spec.Tag); err != nil {
			return nil, err
		}
	}

	// Record provenance before the .git directory is stripped; a release
	// carries no repository metadata inside.
	info := &GitInfo{Branch: spec.Branch, Tag: spec.Tag, Commit: spec.Commit, RepoURL: spec.RepoURL}
	if info.Commit == "" {
		if res, err := s.git(ctx, targetDir, "", "rev-parse", "HEAD"); err == nil {
			info.Commit = strings.TrimSpace(res.Stdout)
		}
	}
	if info.Branch == "" && info.Tag == "" && info.Commit != "" {
		if res, err := s.git(ctx, targetDir, "", "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
			if branch := strings.TrimSpace(res.Stdout); branch != "HEAD" {
				info.Branch = branch
			}
		}
	}
	os.RemoveAll(filepath.Join(targetDir, ".git"))
	return info, nil
}

// Configure stores a project's repository settings after validating the URL.
func (s *GitService) Configure(ctx context.Context, project, repoURL, defaultBranch, sshKeyPath string) (*database.GitConfig, error) {
	if err := ValidateURL(repoURL); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProject(ctx, project); err != nil {
		return nil, err
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	cfg := database.GitConfig{
		Project:       project,
		RepoURL:       repoURL,
		DefaultBranch: defaultBranch,
		SSHKeyPath:    sshKeyPath,
	}
	if err := s.store.SetGitConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Config returns the project's repository settings, or nil.
func (s *GitService) Config(ctx context.Context, project string) (*database.GitConfig, error) {
	return s.store.GetGitConfig(ctx, project)
}

// ClearCache removes a project's bare cache. Returns whether one existed.
func (s *GitService) ClearCache(project string) (bool, error) {
	cache := s.layout.GitCacheDir(project)
	if _, err := os.Stat(cache); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(cache); err != nil {
		return false, fmt.Errorf("clear git cache %s: %w", project, err)
	}
	return true, nil
}
