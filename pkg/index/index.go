// Package index implements the checkpoint index catalog (spec.md §3
// "Checkpoint index entry", §6 "Index file"): per-prefix-directory
// metadata about known checkpoints, their completeness/fetched/failed
// flags, and the "current" symbolic pointer.
//
// Storage is a github.com/syndtr/goleveldb/leveldb key/value file,
// grounded on perkeep's pkg/sorted/leveldb wrapper around the same
// upstream package: one small JSON-encoded record per key gives crash-safe
// atomic Put/Get without inventing a bespoke on-disk format.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tonyhutter/scr/pkg/screrr"
)

// Entry is a checkpoint index entry (spec.md §3).
type Entry struct {
	DatasetID     int64  `json:"dataset_id"`
	CheckpointID  int64  `json:"checkpoint_id"`
	Subdirectory  string `json:"subdirectory_name"`
	Name          string `json:"name"`
	Complete      bool   `json:"complete"`
	Fetched       bool   `json:"fetched"`
	Failed        bool   `json:"failed"`
}

const (
	entryKeyPrefix  = "entry/"
	dirKeyPrefix    = "dir/"
	currentLinkName = "current"
)

func entryKey(id int64) string { return fmt.Sprintf("%s%020d", entryKeyPrefix, id) }
func dirKey(dir string) string { return dirKeyPrefix + dir }

// currentLinkPath is where the "current" symbolic link lives: directly
// under the PFS prefix directory, spec.md §6 "<prefix>/current ->
// <subdirectory> (relative)" — a plain filesystem entry, not a leveldb
// key, so it stays resolvable even when the index database itself is
// corrupt or unreadable (spec.md §7 "Catalogue absent ... driver
// proceeds only if the current link resolves").
func currentLinkPath(prefixDir string) string {
	return filepath.Join(prefixDir, currentLinkName)
}

// ResolveCurrent reads the "current" symlink directly off the
// filesystem, independent of any Catalog or its leveldb handle. Callers
// use this to satisfy spec.md §7's "Catalogue absent" rule even when
// index.Open itself has failed.
func ResolveCurrent(prefixDir string) (subdirectory string, ok bool, err error) {
	target, err := os.Readlink(currentLinkPath(prefixDir))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("index: read current link: %w: %v", screrr.ErrCatalog, err)
	}
	return target, true, nil
}

// Catalog is the concrete, leveldb-backed checkpoint index catalog
// (SPEC_FULL.md §4.11). The "current" pointer is deliberately kept
// outside the leveldb file (see currentLinkPath) so it can be resolved
// even when the catalog database cannot be opened or read.
type Catalog struct {
	mu     sync.Mutex
	db     *leveldb.DB
	path   string
	prefix string
}

// Open opens (creating if necessary) the leveldb file at dbPath as a
// checkpoint index catalog. prefixDir is the PFS prefix directory under
// which the independent "current" symlink lives.
func Open(dbPath, prefixDir string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("index: mkdir for %s: %w: %v", dbPath, screrr.ErrCatalog, err)
	}
	db, err := leveldb.OpenFile(dbPath, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w: %v", dbPath, screrr.ErrCatalog, err)
	}
	return &Catalog{db: db, path: dbPath, prefix: prefixDir}, nil
}

// Close closes the underlying database file.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) read(key string) (Entry, bool, error) {
	b, err := c.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("index: get %s: %w: %v", key, screrr.ErrCatalog, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("index: decode %s: %w: %v", key, screrr.ErrCatalog, err)
	}
	return e, true, nil
}

func (c *Catalog) write(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("index: encode entry %d: %w: %v", e.DatasetID, screrr.ErrCatalog, err)
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(entryKey(e.DatasetID)), b)
	batch.Put([]byte(dirKey(e.Subdirectory)), []byte(fmt.Sprintf("%d", e.DatasetID)))
	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("index: write entry %d: %w: %v", e.DatasetID, screrr.ErrCatalog, err)
	}
	return nil
}

// Put inserts or replaces an index entry, as the PFS-side writer of
// checkpoints would. The fetch core itself only reads and flags
// entries, but tests and the cmd/scr-fetch fixture generator need this
// to seed a catalog.
func (c *Catalog) Put(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(e)
}

// GetIDByDir implements spec.md §6 get_id_by_dir.
func (c *Catalog) GetIDByDir(dir string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getIDByDirLocked(dir)
}

func (c *Catalog) getIDByDirLocked(dir string) (int64, bool, error) {
	b, err := c.db.Get([]byte(dirKey(dir)), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("index: get dir %s: %w: %v", dir, screrr.ErrCatalog, err)
	}
	var id int64
	if _, err := fmt.Sscanf(string(b), "%d", &id); err != nil {
		return 0, false, fmt.Errorf("index: decode dir pointer %s: %w: %v", dir, screrr.ErrCatalog, err)
	}
	return id, true, nil
}

// GetMostRecentComplete implements spec.md §6 get_most_recent_complete:
// the entry with the largest CheckpointID that is Complete, not Failed,
// and strictly less than strictlyLessThan (pass <0 for "unbounded").
func (c *Catalog) GetMostRecentComplete(strictlyLessThan int64) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	iter := c.db.NewIterator(util.BytesPrefix([]byte(entryKeyPrefix)), nil)
	defer iter.Release()

	var best Entry
	found := false
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return Entry{}, false, fmt.Errorf("index: decode entry during scan: %w: %v", screrr.ErrCatalog, err)
		}
		if !e.Complete || e.Failed {
			continue
		}
		if strictlyLessThan >= 0 && e.CheckpointID >= strictlyLessThan {
			continue
		}
		if !found || e.CheckpointID > best.CheckpointID {
			best, found = e, true
		}
	}
	if err := iter.Error(); err != nil {
		return Entry{}, false, fmt.Errorf("index: scan entries: %w: %v", screrr.ErrCatalog, err)
	}
	return best, found, nil
}

// MarkFetched implements spec.md §6 mark_fetched.
func (c *Catalog) MarkFetched(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok, err := c.read(entryKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index: mark_fetched: unknown dataset %d: %w", id, screrr.ErrCatalog)
	}
	e.Fetched = true
	return c.write(e)
}

// MarkFailed implements spec.md §6 mark_failed.
func (c *Catalog) MarkFailed(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok, err := c.read(entryKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index: mark_failed: unknown dataset %d: %w", id, screrr.ErrCatalog)
	}
	e.Failed = true
	return c.write(e)
}

// Get returns the entry for a dataset id.
func (c *Catalog) Get(id int64) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(entryKey(id))
}

// Current resolves the "current" symbolic pointer (spec.md §6) off the
// filesystem and, best-effort, enriches it with the matching catalog
// entry. The link resolving is what matters for spec.md §7's "Catalogue
// absent" rule: if the catalog can't corroborate the subdirectory the
// link names, Current still succeeds with a partial Entry rather than
// failing outright.
func (c *Catalog) Current() (Entry, bool, error) {
	subdir, ok, err := ResolveCurrent(c.prefix)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id, found, err := c.getIDByDirLocked(subdir)
	if err != nil || !found {
		return Entry{Subdirectory: subdir}, true, nil
	}
	e, found, err := c.read(entryKey(id))
	if err != nil || !found {
		return Entry{Subdirectory: subdir}, true, nil
	}
	return e, true, nil
}

// SetCurrent points "current" at id's subdirectory (created on
// successful fetch, spec.md §6).
func (c *Catalog) SetCurrent(id int64) error {
	c.mu.Lock()
	e, ok, err := c.read(entryKey(id))
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index: set_current: unknown dataset %d: %w", id, screrr.ErrCatalog)
	}

	path := currentLinkPath(c.prefix)
	tmp := path + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(e.Subdirectory, tmp); err != nil {
		return fmt.Errorf("index: create current link: %w: %v", screrr.ErrCatalog, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("index: rename current link into place: %w: %v", screrr.ErrCatalog, err)
	}
	return nil
}

// ClearCurrent unlinks "current" (on failure, spec.md §4.7 prepare/finalize).
func (c *Catalog) ClearCurrent() error {
	if err := os.Remove(currentLinkPath(c.prefix)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("index: clear current: %w: %v", screrr.ErrCatalog, err)
	}
	return nil
}
