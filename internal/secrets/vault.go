// Package secrets holds runtime credentials for the chat backend and
// supports reloading them without a restart, so a rotated API token is
// picked up on SIGHUP instead of requiring a daemon bounce.
package secrets

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// KeyBackendToken names the backend API token inside a Vault.
const KeyBackendToken = "backend_token"

// Loader retrieves secrets from a source, such as a token file.
type Loader func() (map[string]string, error)

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
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
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

// Redacted returns a masked form of the secret for log output: the
// first two characters followed by "****", or "****" alone when the
// secret is too short to safely show a prefix.
func (v *Vault) Redacted(key string) string {
	s := v.Get(key)
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****"
	}
}

// FileLoader returns a Loader that reads a single secret from path and
// stores it under key. Surrounding whitespace and a trailing newline
// are stripped, matching what `echo token > file` produces.
func FileLoader(path, key string) Loader {
	return func() (map[string]string, error) {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		val := strings.TrimSpace(string(data))
		if val == "" {
			return nil, fmt.Errorf("%s is empty", path)
		}
		return map[string]string{key: val}, nil
	}
}
