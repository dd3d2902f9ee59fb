// Package secrets provides a thread-safe secret vault with reload support
// and redaction utilities to prevent accidental secret leakage in logs.
package secrets

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hostkit-platform/hostkit/internal/envfile"
)

// Loader retrieves secrets from a source (env file, environment, remote vault).
type Loader func() (map[string]string, error)

// FileLoader reads secrets from a KEY=VALUE file. A missing file yields an
// empty vault rather than an error so hosts without a vault still deploy.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read vault file %s: %w", path, err)
		}
		return envfile.Parse(string(data)), nil
	}
}

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// All returns a copy of every stored secret.
func (v *Vault) All() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Keys returns the list of secret key names (not values) currently stored.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	return keys
}

// Redacted returns a masked version of the secret for safe use in logs.
func (v *Vault) Redacted(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	if !ok || val == "" {
		return ""
	}
	return maskValue(val)
}

// RedactString replaces any occurrences of stored secret values in the given
// string with masked versions. Use on error messages and log output that may
// embed command lines.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) < 4 {
			continue
		}
		if strings.Contains(s, val) {
			s = strings.ReplaceAll(s, val, maskValue(val))
		}
	}
	return s
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// maskValue shows the first 2 characters and masks the rest, capped to avoid
// leaking length information.
func maskValue(val string) string {
	if len(val) <= 4 {
		return "****"
	}
	return val[:2] + "****"
}
