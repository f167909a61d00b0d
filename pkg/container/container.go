// Package container reconstructs a single logical file from a list of
// segments packed across one or more container files (spec.md §4.3).
package container

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/tonyhutter/scr/pkg/screrr"
)

// Container describes a packed file on the PFS.
type Container struct {
	Name string // absolute path
	Size int64
}

// Segment is one contiguous byte range of the reconstructed file,
// sourced from a single container.
type Segment struct {
	Index       int
	Length      int64
	ContainerID string
	Offset      int64
}

// ReconstructFile writes dstPath by copying each segment, in ascending
// index order, from its container at the recorded offset. A single
// running CRC32 is maintained across every segment and returned; it is
// not compared with any stored value here (callers use VerifyCRC).
//
// Grounded on perkeep's blobserver/diskpacked Fetch, which opens a
// packed data file and returns io.NewSectionReader(rac, offset, size)
// over it; this generalizes that to several containers feeding one
// output file. Per spec.md §9, the known short-read bug in the source
// (breaking out of the copy loop on any nread < count, even mid-stream)
// is fixed here by looping via io.ReadFull, which keeps reading until
// either the requested length is obtained or a genuine error/EOF
// occurs — it never returns early on a short read that isn't EOF.
func ReconstructFile(dstPath string, segments []Segment, containers map[string]Container, bufSize int) (crc uint32, err error) {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("container: open dst %s: %w: %v", dstPath, screrr.ErrIO, err)
	}
	dstOpen := true
	defer func() {
		if dstOpen {
			dst.Close()
		}
	}()

	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	buf := make([]byte, bufSize)
	var running uint32

	for _, seg := range sorted {
		c, ok := containers[seg.ContainerID]
		if !ok {
			return 0, fmt.Errorf("container: segment %d references unknown container %q: %w", seg.Index, seg.ContainerID, screrr.ErrIO)
		}
		if seg.Offset < 0 || seg.Length < 0 || seg.Offset+seg.Length > c.Size {
			return 0, fmt.Errorf("container: segment %d offset+length exceeds size of container %q: %w", seg.Index, seg.ContainerID, screrr.ErrIO)
		}
		if err := copySegment(dst, c.Name, seg.Offset, seg.Length, buf, &running); err != nil {
			return 0, fmt.Errorf("container: segment %d from %q: %w", seg.Index, seg.ContainerID, err)
		}
	}

	dstOpen = false
	if err := dst.Close(); err != nil {
		return 0, fmt.Errorf("container: close dst %s: %w: %v", dstPath, screrr.ErrIO, err)
	}
	return running, nil
}

func copySegment(dst io.Writer, containerPath string, offset, length int64, buf []byte, running *uint32) error {
	cf, err := os.OpenFile(containerPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open: %w: %v", screrr.ErrIO, err)
	}
	defer cf.Close()

	if _, err := cf.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w: %v", offset, screrr.ErrIO, err)
	}

	remaining := length
	for remaining > 0 {
		want := int64(len(buf))
		if want > remaining {
			want = remaining
		}
		n, rerr := io.ReadFull(cf, buf[:want])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write: %w: %v", screrr.ErrIO, werr)
			}
			*running = crc32.Update(*running, crc32.IEEETable, buf[:n])
			remaining -= int64(n)
		}
		if rerr != nil {
			return fmt.Errorf("read at offset %d: %w: %v", offset+length-remaining, screrr.ErrIO, rerr)
		}
	}
	return nil
}

// VerifyCRC compares crc against stored when haveCRC is true.
func VerifyCRC(crc, stored uint32, haveCRC bool) error {
	if haveCRC && crc != stored {
		return fmt.Errorf("crc mismatch: got %#x want %#x: %w", crc, stored, screrr.ErrCRC)
	}
	return nil
}
