// Package registry persists the set of tasks historically seen per device.
// The daily report uses it to tell a missing task from a task that never
// existed.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const registryFilePerm = 0o600

// Registry is a file-backed device→task-set map. Load and Save are
// mutex-guarded; Save writes atomically via a temp file rename.
type Registry struct {
	path string
	mu   sync.Mutex
}

// New creates a registry backed by the given file path. The file is created
// on the first Save.
func New(path string) *Registry {
	return &Registry{path: path}
}

// Load reads the persisted map. A missing file is an empty registry, not an
// error.
func (r *Registry) Load() (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string][]string), nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	tasks := make(map[string][]string)
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if tasks == nil {
		tasks = make(map[string][]string)
	}
	return tasks, nil
}

// Save persists the map, replacing the previous contents.
func (r *Registry) Save(tasks map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close registry file: %w", err)
	}
	if err := os.Chmod(tmpName, registryFilePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod registry file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}
