// Package checkpoint defines the Checkpoint domain entity: a compressed
// database dump plus its metadata row.
package checkpoint

import "time"

// Type classifies what triggered a checkpoint and drives retention.
type Type string

const (
	TypeManual       Type = "manual"
	TypePreMigration Type = "pre_migration"
	TypePreDeploy    Type = "pre_deploy"
	TypePreRestore   Type = "pre_restore"
	TypeAuto         Type = "auto"
)

// retentionDays maps checkpoint types to their retention in days.
// Zero means never auto-deleted.
var retentionDays = map[Type]int{
	TypeManual:       0,
	TypePreMigration: 30,
	TypePreDeploy:    14,
	TypePreRestore:   7,
	TypeAuto:         7,
}

// ExpiryFor returns the expiry time for a checkpoint of the given type
// created at t, or nil for types that never expire.
func ExpiryFor(typ Type, t time.Time) *time.Time {
	days, ok := retentionDays[typ]
	if !ok || days == 0 {
		return nil
	}
	exp := t.Add(time.Duration(days) * 24 * time.Hour)
	return &exp
}

// Checkpoint is a point-in-time database snapshot for a project.
type Checkpoint struct {
	ID            int64      `json:"id"`
	Project       string     `json:"project"`
	Label         string     `json:"label,omitempty"`
	Type          Type       `json:"checkpoint_type"`
	TriggerSource string     `json:"trigger_source,omitempty"`
	DatabaseName  string     `json:"database_name"`
	BackupPath    string     `json:"backup_path"`
	SizeBytes     int64      `json:"size_bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// CleanupResult summarizes an expired-checkpoint sweep.
type CleanupResult struct {
	DeletedCount int            `json:"deleted_count"`
	FreedBytes   int64          `json:"freed_bytes"`
	Errors       []CleanupError `json:"errors,omitempty"`
}

// CleanupError records a per-checkpoint failure during cleanup; one failure
// does not abort the sweep.
type CleanupError struct {
	CheckpointID int64  `json:"checkpoint_id"`
	Error        string `json:"error"`
}
