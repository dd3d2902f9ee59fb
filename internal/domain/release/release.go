// Package release defines the Release domain entity: one immutable deployed
// tree addressed by a timestamped name.
package release

import "time"

// NameFormat is the timestamp layout used for release directory names.
// Uniqueness is enforced to 1-second resolution by the release engine.
const NameFormat = "20060102-150405"

// Release represents a deployment snapshot for a project.
type Release struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	ReleaseName string     `json:"release_name"`
	ReleasePath string     `json:"release_path"`
	DeployedAt  time.Time  `json:"deployed_at"`
	IsCurrent   bool       `json:"is_current"`
	FilesSynced int        `json:"files_synced"`
	DeployedBy  string     `json:"deployed_by"`

	// Snapshot fields for full rollback.
	CheckpointID *int64 `json:"checkpoint_id,omitempty"`
	EnvSnapshot  string `json:"env_snapshot,omitempty"`

	// Git provenance, set when the release was deployed from a repository.
	GitCommit string `json:"git_commit,omitempty"`
	GitBranch string `json:"git_branch,omitempty"`
	GitTag    string `json:"git_tag,omitempty"`
	GitRepo   string `json:"git_repo,omitempty"`
}
