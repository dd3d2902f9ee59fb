// Package operator defines the Operator domain entity: a human (or agent)
// account allowed to invoke HostKit.
package operator

import "time"

// Operator is one account with SSH access to the host.
type Operator struct {
	Username  string     `json:"username"`
	SSHKeys   string     `json:"ssh_keys"` // newline-joined authorized_keys lines
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}
