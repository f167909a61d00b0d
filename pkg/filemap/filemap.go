// Package filemap implements the file map store (spec.md §3 "File map",
// SPEC_FULL.md §4.12): a persistent per-(dataset, rank) record of cache
// files and their metadata, with the monotonic "filename recorded before
// bytes written" invariant (spec.md §8 invariant 2) carried by Append,
// which writes the placeholder entry through to the store before it
// returns; the final metadata arrives later through SetMeta.
//
// Storage is the same leveldb key/value file family as pkg/index,
// grounded on perkeep's pkg/sorted/leveldb wrapper.
package filemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/tonyhutter/scr/pkg/screrr"
)

// FileMeta is one file's metadata within a rank's file map record
// (spec.md §4.5 step 4: "name=dst_path, type=FULL, size, complete=true,
// ranks=world_size").
type FileMeta struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Size     uint64 `json:"size"`
	Complete bool   `json:"complete"`
	Ranks    int    `json:"ranks"`
	CRC      uint32 `json:"crc,omitempty"`
	HaveCRC  bool   `json:"have_crc,omitempty"`
}

// TypeFull is the only file-meta type this core produces (spec.md §4.5).
const TypeFull = "FULL"

// Record is the per-(dataset_id, rank) file map entry.
type Record struct {
	Files                 map[string]FileMeta `json:"files"`
	ExpectedFiles         int                 `json:"expected_files"`
	RedundancyDescriptor  string              `json:"redundancy_descriptor,omitempty"`
}

func recordKey(datasetID int64, rank int) string {
	return fmt.Sprintf("rec/%020d/%d", datasetID, rank)
}

// Store is the concrete, leveldb-backed file map.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (creating if necessary) the leveldb file at path as a file map.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filemap: mkdir for %s: %w: %v", path, screrr.ErrCatalog, err)
	}
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("filemap: open %s: %w: %v", path, screrr.ErrCatalog, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) read(datasetID int64, rank int) (Record, error) {
	b, err := s.db.Get([]byte(recordKey(datasetID, rank)), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return Record{Files: make(map[string]FileMeta)}, nil
		}
		return Record{}, fmt.Errorf("filemap: get (%d,%d): %w: %v", datasetID, rank, screrr.ErrCatalog, err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("filemap: decode (%d,%d): %w: %v", datasetID, rank, screrr.ErrCatalog, err)
	}
	if r.Files == nil {
		r.Files = make(map[string]FileMeta)
	}
	return r, nil
}

func (s *Store) write(datasetID int64, rank int, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("filemap: encode (%d,%d): %w: %v", datasetID, rank, screrr.ErrCatalog, err)
	}
	if err := s.db.Put([]byte(recordKey(datasetID, rank)), b, nil); err != nil {
		return fmt.Errorf("filemap: put (%d,%d): %w: %v", datasetID, rank, screrr.ErrCatalog, err)
	}
	return nil
}

// Append records dst_path in the map with an incomplete placeholder
// entry and flushes immediately, satisfying spec.md §4.5 step 3 ("append
// dst_path to the file map... and flush the map to disk before any
// bytes are written"). Calling Append twice for the same path is
// idempotent — the placeholder is only replaced wholesale by a later
// SetMeta.
func (s *Store) Append(datasetID int64, rank int, dstPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.read(datasetID, rank)
	if err != nil {
		return err
	}
	if _, ok := r.Files[dstPath]; !ok {
		r.Files[dstPath] = FileMeta{Name: dstPath, Type: TypeFull}
	}
	return s.write(datasetID, rank, r)
}

// SetMeta attaches the final file-meta for dstPath (spec.md §4.5 step 7)
// and flushes.
func (s *Store) SetMeta(datasetID int64, rank int, dstPath string, meta FileMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.read(datasetID, rank)
	if err != nil {
		return err
	}
	r.Files[dstPath] = meta
	return s.write(datasetID, rank, r)
}

// SetExpectedFiles records the count of non-skipped entries and flushes
// (spec.md §4.5, after the per-rank loop).
func (s *Store) SetExpectedFiles(datasetID int64, rank int, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.read(datasetID, rank)
	if err != nil {
		return err
	}
	r.ExpectedFiles = n
	return s.write(datasetID, rank, r)
}

// SetRedundancyDescriptor stamps the redundancy descriptor snapshot for
// (dataset_id, rank) (spec.md §4.7 prepare_attempt).
func (s *Store) SetRedundancyDescriptor(datasetID int64, rank int, descriptor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.read(datasetID, rank)
	if err != nil {
		return err
	}
	r.RedundancyDescriptor = descriptor
	return s.write(datasetID, rank, r)
}

// Get returns the current record for (dataset_id, rank).
func (s *Store) Get(datasetID int64, rank int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(datasetID, rank)
}

// DeleteDataset removes every rank's record for datasetID, used by the
// Attempt Driver's prepare step when clearing residual state before a
// fresh fetch
// (spec.md §3 "Lifecycles": file map entries for a dataset id are
// deleted en bloc before a fresh fetch begins).
func (s *Store) DeleteDataset(datasetID int64, worldSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	for r := 0; r < worldSize; r++ {
		batch.Delete([]byte(recordKey(datasetID, r)))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("filemap: delete dataset %d: %w: %v", datasetID, screrr.ErrCatalog, err)
	}
	return nil
}
