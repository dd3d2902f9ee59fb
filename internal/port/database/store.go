// Package database defines the metadata store port (interface).
package database

import (
	"context"
	"time"

	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
	"github.com/hostkit-platform/hostkit/internal/domain/event"
	"github.com/hostkit-platform/hostkit/internal/domain/limits"
	"github.com/hostkit-platform/hostkit/internal/domain/operator"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/domain/release"
	"github.com/hostkit-platform/hostkit/internal/domain/task"
	"github.com/hostkit-platform/hostkit/internal/domain/worker"
)

// GitConfig is the per-project repository configuration row.
type GitConfig struct {
	Project       string    `json:"project"`
	RepoURL       string    `json:"repo_url"`
	DefaultBranch string    `json:"default_branch"`
	SSHKeyPath    string    `json:"ssh_key_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Domain is one reverse-proxy domain bound to a project.
type Domain struct {
	Domain         string `json:"domain"`
	Project        string `json:"project"`
	SSLProvisioned bool   `json:"ssl_provisioned"`
}

// Store is the port interface for the metadata store. It is the single source
// of truth shared by all HostKit processes; every mutation that has an
// observable effect emits an Event in the same transaction via WithTx.
type Store interface {
	// WithTx runs fn with exclusive write access; all writes commit
	// atomically or none do. The Store passed to fn is transaction-scoped.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Projects
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	GetProject(ctx context.Context, name string) (*project.Project, error)
	ListProjects(ctx context.Context) ([]project.Project, error)
	UpdateProjectStatus(ctx context.Context, name string, status project.Status) error
	DeleteProject(ctx context.Context, name string) error
	ListUsedPorts(ctx context.Context) ([]int, error)

	// Releases
	CreateRelease(ctx context.Context, r *release.Release) error
	GetRelease(ctx context.Context, projectName, releaseName string) (*release.Release, error)
	GetCurrentRelease(ctx context.Context, projectName string) (*release.Release, error)
	ListReleases(ctx context.Context, projectName string, limit int) ([]release.Release, error)
	SetCurrentRelease(ctx context.Context, projectName, releaseName string) error
	UpdateReleaseFiles(ctx context.Context, id string, filesSynced int) error
	UpdateReleaseSnapshot(ctx context.Context, id string, checkpointID *int64, envSnapshot *string) error
	UpdateReleaseGitInfo(ctx context.Context, id, commit, branch, tag, repo string) error
	DeleteRelease(ctx context.Context, id string) error

	// Checkpoints
	CreateCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) (int64, error)
	GetCheckpoint(ctx context.Context, id int64) (*checkpoint.Checkpoint, error)
	ListCheckpoints(ctx context.Context, projectName string, typ checkpoint.Type, limit int) ([]checkpoint.Checkpoint, error)
	GetLatestCheckpoint(ctx context.Context, projectName string, typ checkpoint.Type) (*checkpoint.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id int64) error
	ListExpiredCheckpoints(ctx context.Context, now time.Time) ([]checkpoint.Checkpoint, error)

	// Events (append-only)
	AppendEvent(ctx context.Context, ev *event.Event) (int64, error)
	ListEvents(ctx context.Context, q event.Query) ([]event.Event, error)
	CountEvents(ctx context.Context, q event.Query) (int, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Rate limiting
	GetRateLimitConfig(ctx context.Context, projectName string) (*limits.RateLimitConfig, error)
	SetRateLimitConfig(ctx context.Context, cfg limits.RateLimitConfig) error
	DeleteRateLimitConfig(ctx context.Context, projectName string) (bool, error)
	AppendDeployRecord(ctx context.Context, rec limits.DeployRecord) error
	CountDeploysSince(ctx context.Context, projectName string, since time.Time) (int, error)
	ListRecentDeploys(ctx context.Context, projectName string, limit int) ([]limits.DeployRecord, error)
	CountFailuresSince(ctx context.Context, projectName string, since time.Time) (int, error)
	ClearDeployHistory(ctx context.Context, projectName string) (int64, error)

	// Auto-pause
	GetAutoPauseConfig(ctx context.Context, projectName string) (*limits.AutoPauseConfig, error)
	SetAutoPauseConfig(ctx context.Context, cfg limits.AutoPauseConfig) error

	// Resource limits
	GetResourceLimits(ctx context.Context, projectName string) (*limits.ResourceLimits, error)
	SetResourceLimits(ctx context.Context, rl limits.ResourceLimits) error
	DeleteResourceLimits(ctx context.Context, projectName string) (bool, error)

	// Scheduled tasks
	CreateScheduledTask(ctx context.Context, t *task.ScheduledTask) error
	GetScheduledTask(ctx context.Context, projectName, name string) (*task.ScheduledTask, error)
	ListScheduledTasks(ctx context.Context, projectName string) ([]task.ScheduledTask, error)
	SetScheduledTaskEnabled(ctx context.Context, projectName, name string, enabled bool) error
	UpdateScheduledTaskLastRun(ctx context.Context, projectName, name, status string, exitCode int, at time.Time) error
	DeleteScheduledTask(ctx context.Context, projectName, name string) error

	// Workers
	CreateWorker(ctx context.Context, w *worker.Worker) error
	GetWorker(ctx context.Context, projectName, name string) (*worker.Worker, error)
	ListWorkers(ctx context.Context, projectName string) ([]worker.Worker, error)
	UpdateWorker(ctx context.Context, w *worker.Worker) error
	DeleteWorker(ctx context.Context, projectName, name string) error

	// Git configuration
	SetGitConfig(ctx context.Context, cfg GitConfig) error
	GetGitConfig(ctx context.Context, projectName string) (*GitConfig, error)
	DeleteGitConfig(ctx context.Context, projectName string) (bool, error)

	// Domains
	CreateDomain(ctx context.Context, d Domain) error
	ListDomains(ctx context.Context, projectName string) ([]Domain, error)
	DeleteDomain(ctx context.Context, name string) (bool, error)

	// Operators
	UpsertOperator(ctx context.Context, op operator.Operator) error
	GetOperator(ctx context.Context, username string) (*operator.Operator, error)
	ListOperators(ctx context.Context) ([]operator.Operator, error)
}
