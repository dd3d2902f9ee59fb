// Package initsys defines the service supervisor port: the narrow interface
// HostKit drives the host init system through.
package initsys

import (
	"context"
	"io"
	"time"
)

// Supervisor wraps the host init system. Unit arguments are full unit names
// ("hostkit-blog.service", "hostkit-blog-cron-backup.timer").
type Supervisor interface {
	// InstallUnit writes a unit file (root-owned, mode 0644) into the unit
	// directory. Callers must DaemonReload before starting it.
	InstallUnit(ctx context.Context, fileName, content string) error
	// RemoveUnit deletes a unit file if present.
	RemoveUnit(ctx context.Context, fileName string) error
	// UnitFileExists reports whether the unit file is installed.
	UnitFileExists(fileName string) bool
	// ReadUnitFile returns the installed unit file content.
	ReadUnitFile(fileName string) (string, error)

	DaemonReload(ctx context.Context) error
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Enable(ctx context.Context, unit string) error
	Disable(ctx context.Context, unit string) error

	IsActive(ctx context.Context, unit string) bool
	IsEnabled(ctx context.Context, unit string) bool
	MainPID(ctx context.Context, unit string) (int, error)
	// NextElapse returns the next elapse time of a timer unit, or zero when
	// the timer has none scheduled.
	NextElapse(ctx context.Context, unit string) (time.Time, error)

	// Logs returns the last n lines of a unit's journal. When errorOnly is
	// set only warning-and-above entries are returned.
	Logs(ctx context.Context, unit string, lines int, errorOnly bool) (string, error)
	// FollowLogs streams a unit's journal. The caller drives the read loop
	// and must Close the stream to terminate the underlying process.
	FollowLogs(ctx context.Context, unit string, lines int) (io.ReadCloser, error)
}
