// Package worker defines the Worker domain entity: one supervised queue
// consumer process pool for a project.
package worker

import "time"

// Worker is one long-running consumer unit.
type Worker struct {
	Project     string    `json:"project"`
	Name        string    `json:"worker_name"`
	Concurrency int       `json:"concurrency"`
	Queues      string    `json:"queues,omitempty"`
	AppModule   string    `json:"app_module"`
	LogLevel    string    `json:"loglevel"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}
