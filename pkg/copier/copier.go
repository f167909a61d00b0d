// Package copier implements the streamed chunked file copy used by the
// Per-Rank Fetcher for native (non-container) files (spec.md §4.2).
package copier

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/tonyhutter/scr/pkg/screrr"
)

// CopyTo copies srcPath into dstDir, naming the destination by
// srcPath's basename. When computeCRC is true, a running IEEE CRC32 is
// maintained over every byte written and returned in crc.
//
// Grounded on rclone's backend/local fadvise-wrapped copy path: both
// descriptors get a sequential/don't-need hint, chunks are capped at
// bufSize, a short write is a hard failure, and a short read strictly
// before EOF is also a hard failure (a short read exactly at EOF is the
// normal, successful termination) — this matches spec.md §4.2 literally.
func CopyTo(srcPath, dstDir string, bufSize int, computeCRC bool) (dstPath string, crc uint32, err error) {
	dstPath = filepath.Join(dstDir, filepath.Base(srcPath))

	src, err := os.OpenFile(srcPath, os.O_RDONLY, 0)
	if err != nil {
		return dstPath, 0, fmt.Errorf("copier: open src %s: %w", srcPath, joinIO(err))
	}
	srcOpen := true
	defer func() {
		if srcOpen {
			src.Close()
		}
	}()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return dstPath, 0, fmt.Errorf("copier: open dst %s: %w", dstPath, joinIO(err))
	}
	dstOpen := true
	defer func() {
		if dstOpen {
			dst.Close()
		}
	}()

	adviseSequential(src)
	adviseSequential(dst)

	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	buf := make([]byte, bufSize)
	var running uint32

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			nw, werr := dst.Write(buf[:n])
			if werr != nil {
				return dstPath, 0, fmt.Errorf("copier: write %s: %w", dstPath, joinIO(werr))
			}
			if nw != n {
				return dstPath, 0, fmt.Errorf("copier: short write to %s (%d of %d): %w", dstPath, nw, n, screrr.ErrIO)
			}
			if computeCRC {
				running = crc32.Update(running, crc32.IEEETable, buf[:n])
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return dstPath, 0, fmt.Errorf("copier: read %s: %w", srcPath, joinIO(rerr))
		}
		if n < len(buf) {
			// A short read is normal only as the last chunk: the next
			// read must report EOF with no further data.
			if m, eerr := src.Read(buf[:1]); m == 0 && eerr == io.EOF {
				break
			}
			return dstPath, 0, fmt.Errorf("copier: short read from %s before EOF: %w", srcPath, screrr.ErrIO)
		}
	}

	dstOpen = false
	adviseDontNeed(dst)
	if err := dst.Close(); err != nil {
		return dstPath, 0, fmt.Errorf("copier: close %s: %w", dstPath, joinIO(err))
	}
	srcOpen = false
	adviseDontNeed(src)
	if err := src.Close(); err != nil {
		return dstPath, 0, fmt.Errorf("copier: close %s: %w", srcPath, joinIO(err))
	}
	return dstPath, running, nil
}

func joinIO(err error) error {
	return fmt.Errorf("%w: %v", screrr.ErrIO, err)
}
