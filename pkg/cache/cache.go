// Package cache implements the cache directory manager (spec.md §4.13 /
// out-of-scope collaborator "cache directory manager (create/delete/
// locate per dataset)"), grounded on perkeep's diskpacked newStorage
// root-directory validation (os.Stat + IsDir before any I/O against the
// directory).
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tonyhutter/scr/pkg/screrr"
)

// Manager scopes cache directories under a configured base directory,
// one subdirectory per dataset id.
type Manager struct {
	base string
}

// NewManager returns a Manager rooted at base, which must already exist
// as a directory.
func NewManager(base string) (*Manager, error) {
	fi, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("cache: stat base %s: %w: %v", base, screrr.ErrConfiguration, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("cache: base %s is not a directory: %w", base, screrr.ErrConfiguration)
	}
	return &Manager{base: base}, nil
}

// Dir returns the per-dataset cache directory path without creating it.
func (m *Manager) Dir(datasetID int64) string {
	return filepath.Join(m.base, strconv.FormatInt(datasetID, 10))
}

// Create makes the per-dataset cache directory, replacing any residual
// contents (spec.md §4.7 prepare_attempt: "delete any residual cache
// contents for dataset_id" precedes use in the same step).
func (m *Manager) Create(datasetID int64) (string, error) {
	dir := m.Dir(datasetID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cache: clear %s: %w: %v", dir, screrr.ErrIO, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cache: create %s: %w: %v", dir, screrr.ErrIO, err)
	}
	return dir, nil
}

// Delete removes the per-dataset cache directory and its contents
// (used on a failed attempt, spec.md §4.7 mark_failed path, and when
// redundancy-apply fails). Clearing before a fresh fetch is done by
// Create itself.
func (m *Manager) Delete(datasetID int64) error {
	dir := m.Dir(datasetID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cache: delete %s: %w: %v", dir, screrr.ErrIO, err)
	}
	return nil
}
