// Package fetch implements the Per-Rank Fetcher (spec.md §4.5) and the
// Flow Controller (spec.md §4.6), driving pkg/container and pkg/copier
// against a rank's file list and recording progress in pkg/filemap.
package fetch

import (
	"fmt"
	"path/filepath"

	"github.com/tonyhutter/scr/pkg/container"
	"github.com/tonyhutter/scr/pkg/copier"
	"github.com/tonyhutter/scr/pkg/filemap"
	"github.com/tonyhutter/scr/pkg/screrr"
	"github.com/tonyhutter/scr/pkg/scrlog"
	"github.com/tonyhutter/scr/pkg/summary"
)

// RankResult is the outcome of fetching one rank's file list.
type RankResult struct {
	Success bool
	// FailedFiles names every file record whose individual fetch
	// failed (spec.md invariant 10: a file's failure does not stop
	// other files on the same rank from being attempted).
	FailedFiles []string
}

// RunRank implements the Per-Rank Fetcher (spec.md §4.5) for one rank's
// plan. cacheDir is this rank's already-created cache directory;
// datasetID/rank/worldSize identify the file map record to update.
// logger is nil-safe and may be nil for ranks with no Logger handle
// (spec.md §4.8's lifecycle log, including the per-file transfer
// record, is written only where a Role exposes one).
func RunRank(plan summary.Plan, cacheDir string, datasetID int64, rank, worldSize int, bufSize int, crcOnFlush bool, fm *filemap.Store, logger *scrlog.Logger) (RankResult, error) {
	result := RankResult{Success: true}
	nonSkipped := 0

	for _, fr := range plan.Files {
		if fr.NoFetch {
			continue
		}
		nonSkipped++

		dstPath := filepath.Join(cacheDir, filepath.Base(fr.Filename))

		// spec.md §4.5 step 3: record before any bytes are written,
		// and flush immediately (Append flushes synchronously).
		if err := fm.Append(datasetID, rank, dstPath); err != nil {
			return RankResult{}, fmt.Errorf("fetch: rank %d: record %s in file map: %w", rank, dstPath, err)
		}

		meta := filemap.FileMeta{
			Name:     dstPath,
			Type:     filemap.TypeFull,
			Size:     fr.Size,
			Complete: fr.Complete,
			Ranks:    worldSize,
		}
		if fr.HaveCRC {
			meta.CRC = fr.CRC
			meta.HaveCRC = true
		}

		if err := fetchOne(fr, dstPath, plan.Containers, bufSize, crcOnFlush, &meta); err != nil {
			meta.Complete = false
			result.Success = false
			result.FailedFiles = append(result.FailedFiles, fr.Filename)
		} else {
			logger.Transfer(cacheDir, fr.Filename, dstPath, int64(fr.Size))
		}

		if err := fm.SetMeta(datasetID, rank, dstPath, meta); err != nil {
			return RankResult{}, fmt.Errorf("fetch: rank %d: set file-meta for %s: %w", rank, dstPath, err)
		}
	}

	if err := fm.SetExpectedFiles(datasetID, rank, nonSkipped); err != nil {
		return RankResult{}, fmt.Errorf("fetch: rank %d: set expected_files: %w", rank, err)
	}

	return result, nil
}

// fetchOne dispatches a single file record to the Container Reader or
// the File Copier (spec.md §4.5 step 5) and verifies CRC when
// requested.
func fetchOne(fr summary.FileRecord, dstPath string, containers map[string]container.Container, bufSize int, crcOnFlush bool, meta *filemap.FileMeta) error {
	if fr.HasContainers() {
		crc, err := container.ReconstructFile(dstPath, fr.Segments, containers, bufSize)
		if err != nil {
			return err
		}
		if crcOnFlush && fr.HaveCRC {
			if err := container.VerifyCRC(crc, fr.CRC, true); err != nil {
				return err
			}
		}
		meta.CRC, meta.HaveCRC = crc, true
		return nil
	}

	if !fr.HavePath {
		return fmt.Errorf("fetch: file %q has neither CONTAINER nor PATH: %w", fr.Filename, screrr.ErrParse)
	}
	srcPath := filepath.Join(fr.Path, fr.Filename)
	_, crc, err := copier.CopyTo(srcPath, filepath.Dir(dstPath), bufSize, crcOnFlush)
	if err != nil {
		return err
	}
	if crcOnFlush {
		meta.CRC, meta.HaveCRC = crc, true
		if fr.HaveCRC && crc != fr.CRC {
			return fmt.Errorf("fetch: file %q crc mismatch: got %#x want %#x: %w", fr.Filename, crc, fr.CRC, screrr.ErrCRC)
		}
	}
	return nil
}
