package summary

import (
	"fmt"
	"strconv"

	"github.com/tonyhutter/scr/pkg/attr"
	"github.com/tonyhutter/scr/pkg/container"
	"github.com/tonyhutter/scr/pkg/screrr"
)

// Dataset is the typed façade over a summary document's DATASET subtree
// (spec.md §3 "Dataset").
type Dataset struct {
	DatasetID        int64
	CheckpointID     int64
	HasCheckpointID  bool
	Name             string
	WorldSizeAtWrite int64
}

// DatasetFromTree builds a Dataset from a DATASET subtree. A dataset
// lacking CheckpointID is not itself an error here — spec.md says the
// core rejects such datasets, which the loader enforces by checking
// HasCheckpointID after this call.
func DatasetFromTree(t *attr.Tree) (Dataset, error) {
	var d Dataset
	id, ok := t.Int("DATASETID")
	if !ok {
		return d, fmt.Errorf("summary: dataset missing DATASETID: %w", screrr.ErrParse)
	}
	d.DatasetID = id
	if ckpt, ok := t.Int("CHECKPOINTID"); ok {
		d.CheckpointID = ckpt
		d.HasCheckpointID = true
	}
	if name, ok := t.String("NAME"); ok {
		d.Name = name
	}
	if ws, ok := t.Int("RANKS"); ok {
		d.WorldSizeAtWrite = ws
	}
	return d, nil
}

// ContainersFromTree builds the id -> Container table from a CONTAINER
// subtree, which may be nil or empty (spec.md §3 "Container").
func ContainersFromTree(t *attr.Tree) (map[string]container.Container, error) {
	out := make(map[string]container.Container)
	if t == nil {
		return out, nil
	}
	for _, id := range t.Keys() {
		c := t.Get(id)
		name, ok := c.String("NAME")
		if !ok {
			return nil, fmt.Errorf("summary: container %q missing NAME: %w", id, screrr.ErrParse)
		}
		size, ok := c.ByteCount("SIZE")
		if !ok {
			return nil, fmt.Errorf("summary: container %q missing SIZE: %w", id, screrr.ErrParse)
		}
		out[id] = container.Container{Name: name, Size: int64(size)}
	}
	return out, nil
}

// FileRecord is the typed façade over one file's subtree under
// RANK2FILE/RANK/<rank>/FILE/<filename> (spec.md §3 "File record").
type FileRecord struct {
	Filename string
	Size     uint64
	CRC      uint32
	HaveCRC  bool
	Complete bool
	Path     string
	HavePath bool
	NoFetch  bool
	Segments []container.Segment
}

// HasContainers reports whether this record should be fetched via the
// Container Reader rather than the native File Copier.
func (fr FileRecord) HasContainers() bool {
	return len(fr.Segments) > 0
}

func fileRecordFromTree(filename string, t *attr.Tree) (FileRecord, error) {
	fr := FileRecord{Filename: filename, Complete: true}

	size, ok := t.ByteCount("SIZE")
	if !ok {
		return fr, fmt.Errorf("summary: file %q missing SIZE: %w", filename, screrr.ErrParse)
	}
	fr.Size = size

	if crc, ok := t.CRC32("CRC"); ok {
		fr.CRC = crc
		fr.HaveCRC = true
	}
	// COMPLETE has no dedicated boolean scalar kind (spec.md §4.1 lists
	// int/unsigned/bytecount/string/crc32); it is carried as an int
	// 0/1, defaulting to true when absent per spec.md §9.
	if c, ok := t.Int("COMPLETE"); ok {
		fr.Complete = c != 0
	}
	if p, ok := t.String("PATH"); ok {
		fr.Path = p
		fr.HavePath = true
	}
	if nf, ok := t.Int("NOFETCH"); ok {
		fr.NoFetch = nf != 0
	}

	if segTree := t.Get("SEGMENT"); segTree != nil {
		for _, key := range segTree.Keys() {
			segNode := segTree.Get(key)
			idx, err := strconv.Atoi(key)
			if err != nil {
				return fr, fmt.Errorf("summary: file %q segment key %q not an integer index: %w", filename, key, screrr.ErrParse)
			}
			length, ok := segNode.ByteCount("LENGTH")
			if !ok {
				return fr, fmt.Errorf("summary: file %q segment %d missing LENGTH: %w", filename, idx, screrr.ErrParse)
			}
			contNode := segNode.Get("CONTAINER")
			if contNode == nil {
				return fr, fmt.Errorf("summary: file %q segment %d missing CONTAINER: %w", filename, idx, screrr.ErrParse)
			}
			id, ok := contNode.String("ID")
			if !ok {
				return fr, fmt.Errorf("summary: file %q segment %d missing CONTAINER/ID: %w", filename, idx, screrr.ErrParse)
			}
			offset, ok := contNode.ByteCount("OFFSET")
			if !ok {
				return fr, fmt.Errorf("summary: file %q segment %d missing CONTAINER/OFFSET: %w", filename, idx, screrr.ErrParse)
			}
			fr.Segments = append(fr.Segments, container.Segment{
				Index:       idx,
				Length:      int64(length),
				ContainerID: id,
				Offset:      int64(offset),
			})
		}
	}
	return fr, nil
}

// FilesFromTree builds the ordered file list from a rank's FILE
// subtree, which may be nil (an empty assignment).
func FilesFromTree(fileTree *attr.Tree) ([]FileRecord, error) {
	var out []FileRecord
	if fileTree == nil {
		return out, nil
	}
	for _, name := range fileTree.Keys() {
		fr, err := fileRecordFromTree(name, fileTree.Get(name))
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, nil
}
