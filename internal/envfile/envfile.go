// Package envfile reads, validates and initializes the .env file of a stack.
package envfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// FileName is the environment file docker compose reads next to the compose file.
	FileName = ".env"
	// ExampleFileName is the documented template shipped with every stack.
	ExampleFileName = ".env.example"
)

var (
	ErrEnvNotFound      = errors.New("environment file not found")
	ErrEnvExists        = errors.New("environment file already exists")
	ErrMissingVariables = errors.New("required variables are not set")
)

// Env is the parsed content of a stack's .env file.
type Env struct {
	Path   string
	values map[string]string
}

// New wraps an in-memory set of variables.
func New(values map[string]string) *Env {
	if values == nil {
		values = map[string]string{}
	}
	return &Env{values: values}
}

// Load parses the .env file in dir (or the file itself when dir is a file path).
func Load(path string) (*Env, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			example := filepath.Join(filepath.Dir(path), ExampleFileName)
			if _, exErr := os.Stat(example); exErr == nil {
				return nil, fmt.Errorf("%w: %s (run 'stackctl env init' or copy %s)", ErrEnvNotFound, path, ExampleFileName)
			}
			return nil, fmt.Errorf("%w: %s", ErrEnvNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &Env{Path: path, values: values}, nil
}

// Get returns the trimmed value of key, empty when unset.
func (e *Env) Get(key string) string {
	return strings.TrimSpace(e.values[key])
}

// GetDefault returns the value of key or def when the key is unset.
func (e *Env) GetDefault(key, def string) string {
	if v := e.Get(key); v != "" {
		return v
	}
	return def
}

// Lookup returns the raw value and whether the key is present at all.
func (e *Env) Lookup(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// IsSet reports whether key is present with a non-blank value.
func (e *Env) IsSet(key string) bool {
	return e.Get(key) != ""
}

// Keys returns all keys in sorted order.
func (e *Env) Keys() []string {
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the variables.
func (e *Env) Map() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Missing returns the required keys that are absent or blank, sorted and deduplicated.
func (e *Env) Missing(required []string) []string {
	seen := make(map[string]bool, len(required))
	var missing []string
	for _, key := range required {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if !e.IsSet(key) {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// RequireSet returns ErrMissingVariables naming every missing key.
func (e *Env) RequireSet(required []string) error {
	if missing := e.Missing(required); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingVariables, strings.Join(missing, ", "))
	}
	return nil
}
