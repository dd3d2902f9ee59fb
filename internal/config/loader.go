package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration when
// HOSTKIT_CONFIG is unset.
const DefaultConfigFile = "/etc/hostkit/hostkit.yaml"

// Load reads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv reads configuration using the provided environment lookup.
// Tests pass an isolated getenv to avoid touching the process environment.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	path := getenv("HOSTKIT_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if getenv("HOSTKIT_CONFIG") != "" {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnv(cfg, getenv)
	return cfg, nil
}

// applyEnv overlays the documented environment variables.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("HOSTKIT_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := getenv("HOSTKIT_PG_ADMIN"); v != "" {
		cfg.Postgres.AdminUser = v
	}
	cfg.Postgres.AdminPassword = getenv("HOSTKIT_PG_PASSWORD")
	if v := getenv("HOSTKIT_PG_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := getenv("HOSTKIT_PG_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = p
		}
	}
	if v := getenv("HOSTKIT_PORT_RANGE_START"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Ports.RangeStart = p
		}
	}
	if v := getenv("HOSTKIT_PORT_RANGE_END"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Ports.RangeEnd = p
		}
	}
	if v := getenv("HOSTKIT_RELEASE_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Deploy.ReleaseRetention = n
		}
	}
}
