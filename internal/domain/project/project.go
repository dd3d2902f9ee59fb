// Package project defines the Project domain entity: one tenant on the host.
package project

import "time"

// Runtime identifies the application runtime a project is deployed with.
type Runtime string

const (
	RuntimePython Runtime = "python"
	RuntimeNode   Runtime = "node"
	RuntimeNextJS Runtime = "nextjs"
	RuntimeStatic Runtime = "static"
)

// Runtimes is the closed set of supported runtimes.
var Runtimes = []Runtime{RuntimePython, RuntimeNode, RuntimeNextJS, RuntimeStatic}

// Valid reports whether r is one of the supported runtimes.
func (r Runtime) Valid() bool {
	for _, known := range Runtimes {
		if r == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a project.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusPaused  Status = "paused"
	StatusFailed  Status = "failed"
)

// Project represents a deployed tenant: a Linux user, a home tree, a reserved
// port, and a supervised service unit.
type Project struct {
	Name          string    `json:"name"`
	Runtime       Runtime   `json:"runtime"`
	Port          int       `json:"port"`
	DatabaseIndex *int      `json:"database_index,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
}

// CreateRequest holds the fields needed to register a new project.
type CreateRequest struct {
	Name      string  `json:"name"`
	Runtime   Runtime `json:"runtime"`
	Port      int     `json:"port"`
	CreatedBy string  `json:"created_by"`
}
