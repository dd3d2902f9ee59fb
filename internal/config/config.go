// Package config provides hierarchical configuration loading for HostKit.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"os"
	"time"
)

// Config holds all runtime configuration for the HostKit CLI.
type Config struct {
	Logging   Logging   `yaml:"logging"`
	Store     Store     `yaml:"store"`
	Paths     Paths     `yaml:"paths"`
	Postgres  Postgres  `yaml:"postgres"`
	Ports     Ports     `yaml:"ports"`
	Deploy    Deploy    `yaml:"deploy"`
	RateLimit RateLimit `yaml:"ratelimit"`
	AutoPause AutoPause `yaml:"autopause"`
}

// Logging holds structured-logging configuration.
type Logging struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Service string `yaml:"service"` // attached to every record
}

// Store holds metadata-store configuration.
type Store struct {
	Path string `yaml:"path"` // sqlite file path
}

// Paths holds the on-disk layout roots.
type Paths struct {
	HomeRoot   string `yaml:"home_root"`   // /home
	LogRoot    string `yaml:"log_root"`    // /var/log/projects
	BackupRoot string `yaml:"backup_root"` // /backups
	SystemdDir string `yaml:"systemd_dir"` // /etc/systemd/system
	StateDir   string `yaml:"state_dir"`   // /var/lib/hostkit
	SudoersDir string `yaml:"sudoers_dir"` // /etc/sudoers.d
}

// Postgres holds connection settings for the shared database cluster that
// hosts per-project databases. The metadata store itself is sqlite.
type Postgres struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AdminUser string `yaml:"admin_user"`
	// AdminPassword is only ever read from HOSTKIT_PG_PASSWORD.
	AdminPassword string `yaml:"-"`
}

// Ports holds the range project ports are allocated from.
type Ports struct {
	RangeStart int `yaml:"range_start"`
	RangeEnd   int `yaml:"range_end"`
}

// Deploy holds deployment tunables.
type Deploy struct {
	ReleaseRetention int           `yaml:"release_retention"`
	HealthTimeout    time.Duration `yaml:"health_timeout"`
	HealthRetries    int           `yaml:"health_retries"`
	GitTimeout       time.Duration `yaml:"git_timeout"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
}

// RateLimit holds the default deploy-admission policy for projects without
// explicit configuration.
type RateLimit struct {
	MaxDeploys              int `yaml:"max_deploys"`
	WindowMinutes           int `yaml:"window_minutes"`
	FailureCooldownMinutes  int `yaml:"failure_cooldown_minutes"`
	ConsecutiveFailureLimit int `yaml:"consecutive_failure_limit"`
}

// AutoPause holds the default auto-pause policy.
type AutoPause struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	WindowMinutes    int  `yaml:"window_minutes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", Service: "hostkit"},
		Store:   Store{Path: "/var/lib/hostkit/hostkit.db"},
		Paths: Paths{
			HomeRoot:   "/home",
			LogRoot:    "/var/log/projects",
			BackupRoot: "/backups",
			SystemdDir: "/etc/systemd/system",
			StateDir:   "/var/lib/hostkit",
			SudoersDir: "/etc/sudoers.d",
		},
		Postgres: Postgres{Host: "127.0.0.1", Port: 5432, AdminUser: "hostkit"},
		Ports:    Ports{RangeStart: 8001, RangeEnd: 8999},
		Deploy: Deploy{
			ReleaseRetention: 5,
			HealthTimeout:    10 * time.Second,
			HealthRetries:    3,
			GitTimeout:       5 * time.Minute,
			CommandTimeout:   10 * time.Minute,
		},
		RateLimit: RateLimit{
			MaxDeploys:              10,
			WindowMinutes:           60,
			FailureCooldownMinutes:  5,
			ConsecutiveFailureLimit: 3,
		},
		AutoPause: AutoPause{Enabled: true, FailureThreshold: 5, WindowMinutes: 10},
	}
}

// CurrentActor resolves the username recorded in audit fields. SUDO_USER wins
// over USER so events name the human behind a sudo invocation.
func CurrentActor() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "root"
}
