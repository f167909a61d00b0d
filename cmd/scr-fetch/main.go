// Command scr-fetch exercises the fetch core end to end against a
// fixture PFS/cache directory tree using the in-process collective
// fabric (fabric.InProcess), standing in for a real MPI-launched SPMD
// job. It is a test harness, not part of the core (spec.md §1).
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"hash/crc32"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/tonyhutter/scr/pkg/attempt"
	"github.com/tonyhutter/scr/pkg/cache"
	"github.com/tonyhutter/scr/pkg/config"
	"github.com/tonyhutter/scr/pkg/descriptor"
	"github.com/tonyhutter/scr/pkg/fabric"
	"github.com/tonyhutter/scr/pkg/filemap"
	"github.com/tonyhutter/scr/pkg/index"
	"github.com/tonyhutter/scr/pkg/scrlog"
	"github.com/tonyhutter/scr/pkg/summary"
)

var (
	flagWorldSize  = flag.Int("world", 4, "number of simulated ranks")
	flagFetchWidth = flag.Int("fetch-width", 2, "flow controller window size")
	flagWorkDir    = flag.String("workdir", "", "scratch directory for the fixture job; a temp dir is used if empty")
	flagFileSize   = flag.Int("file-size", 1<<16, "size in bytes of each rank's fixture file")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("scr-fetch: %v", err)
	}
}

func run() error {
	n := *flagWorldSize
	if n < 1 {
		return fmt.Errorf("-world must be >= 1")
	}

	workDir := *flagWorkDir
	if workDir == "" {
		d, err := os.MkdirTemp("", "scr-fetch-")
		if err != nil {
			return fmt.Errorf("create scratch dir: %w", err)
		}
		workDir = d
	}
	prefix := filepath.Join(workDir, "prefix")
	cacheBase := filepath.Join(workDir, "cache")
	for _, d := range []string{prefix, cacheBase} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", d, err)
		}
	}

	idxPath := filepath.Join(workDir, "index.ldb")
	idx, err := index.Open(idxPath, prefix)
	if err != nil {
		return fmt.Errorf("open index catalog: %w", err)
	}
	defer idx.Close()

	fmPath := filepath.Join(workDir, "filemap.ldb")
	fm, err := filemap.Open(fmPath)
	if err != nil {
		return fmt.Errorf("open file map: %w", err)
	}
	defer fm.Close()

	const (
		datasetID    = 1
		checkpointID = 1
	)
	if err := writeFixtureCheckpoint(prefix, "ckpt.1", datasetID, checkpointID, n, *flagFileSize); err != nil {
		return fmt.Errorf("write fixture checkpoint: %w", err)
	}
	if err := idx.Put(index.Entry{
		DatasetID:    datasetID,
		CheckpointID: checkpointID,
		Subdirectory: "ckpt.1",
		Name:         "ckpt.1",
		Complete:     true,
	}); err != nil {
		return fmt.Errorf("seed index: %w", err)
	}

	regs := descriptor.NewRegistry()
	regs.Set(checkpointID, descriptor.Descriptor{Hash: "fixture", Scheme: "none"})
	flushFile := descriptor.NewFlushFile()

	world := fabric.NewWorld(n)
	cfg := config.Config{BufSize: 1 << 20, CRCOnFlush: true, FetchWidth: *flagFetchWidth, Prefix: prefix, CacheBase: cacheBase}

	type rankResult struct {
		datasetID, checkpointID int64
		fetchAttempted          bool
		err                     error
	}
	results := make([]rankResult, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		rankCacheDir := filepath.Join(cacheBase, fmt.Sprintf("%d", r))
		if err := os.MkdirAll(rankCacheDir, 0o755); err != nil {
			return fmt.Errorf("mkdir rank cache dir: %w", err)
		}
		cm, err := cache.NewManager(rankCacheDir)
		if err != nil {
			return fmt.Errorf("rank %d: new cache manager: %w", r, err)
		}

		var role attempt.Role
		if r == 0 {
			role = attempt.NewRole(0, &attempt.CoordinatorHandles{
				Index:  idx,
				Logger: scrlog.Default(),
				Flush:  flushFile,
			})
		} else {
			role = attempt.NewRole(r, nil)
		}

		d := &attempt.Driver{
			Fabric:      world.Rank(r),
			Role:        role,
			Config:      cfg,
			Cache:       cm,
			FileMap:     fm,
			Descriptors: regs,
			Applier:     descriptor.NullApplier{},
		}

		wg.Add(1)
		go func(r int, d *attempt.Driver) {
			defer wg.Done()
			datasetID, checkpointID, attempted, err := d.FetchSync(context.Background())
			results[r] = rankResult{datasetID, checkpointID, attempted, err}
		}(r, d)
	}
	wg.Wait()

	for r, res := range results {
		if res.err != nil {
			return fmt.Errorf("rank %d: fetch_sync: %w", r, res.err)
		}
		fmt.Printf("rank %d: fetched dataset=%d checkpoint=%d fetch_attempted=%v\n", r, res.datasetID, res.checkpointID, res.fetchAttempted)
	}
	fmt.Printf("workdir: %s\n", workDir)
	return nil
}

// writeFixtureCheckpoint writes a native-mode (one-file-per-rank)
// checkpoint summary document plus the per-rank source files it
// describes.
func writeFixtureCheckpoint(prefix, subdir string, datasetID, checkpointID int64, n, fileSize int) error {
	dir := filepath.Join(prefix, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b := summary.NewBuilder(summary.MinVersion)
	b.SetDataset(summary.Dataset{DatasetID: datasetID, CheckpointID: checkpointID, HasCheckpointID: true, Name: subdir, WorldSizeAtWrite: int64(n)})
	for r := 0; r < n; r++ {
		name := fmt.Sprintf("rank_%d.dat", r)
		content := make([]byte, fileSize)
		if _, err := rand.Read(content); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return err
		}
		b.AddFile(r, name, summary.FileRecord{
			Size:     uint64(fileSize),
			CRC:      crc32.ChecksumIEEE(content),
			HaveCRC:  true,
			Complete: true,
		})
	}
	return summary.WriteTo(filepath.Join(dir, summary.DocFileName), b.Build())
}
