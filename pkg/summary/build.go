package summary

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tonyhutter/scr/pkg/attr"
	"github.com/tonyhutter/scr/pkg/container"
)

// Builder assembles a summary document tree for writing to a checkpoint
// directory. It is the inverse of the typed façades in types.go, used
// by cmd/scr-fetch's fixture generator and by package tests that need a
// real on-disk summary document rather than hand-built trees.
type Builder struct {
	doc       *attr.Tree
	rankFiles map[int]*attr.Tree
}

// NewBuilder starts a summary document at the given version.
func NewBuilder(version int64) *Builder {
	doc := attr.New()
	doc.SetInt("VERSION", version)
	return &Builder{doc: doc, rankFiles: make(map[int]*attr.Tree)}
}

// SetDataset attaches the DATASET subtree.
func (b *Builder) SetDataset(d Dataset) *Builder {
	sub := attr.New()
	sub.SetInt("DATASETID", d.DatasetID)
	if d.HasCheckpointID {
		sub.SetInt("CHECKPOINTID", d.CheckpointID)
	}
	if d.Name != "" {
		sub.SetString("NAME", d.Name)
	}
	if d.WorldSizeAtWrite != 0 {
		sub.SetInt("RANKS", d.WorldSizeAtWrite)
	}
	b.doc.Set("DATASET", sub)
	return b
}

// AddContainer registers a packed container under the given id.
func (b *Builder) AddContainer(id string, c container.Container) *Builder {
	sub := b.doc.Get("CONTAINER")
	if sub == nil {
		sub = attr.New()
		b.doc.Set("CONTAINER", sub)
	}
	entry := attr.New()
	entry.SetString("NAME", c.Name)
	entry.SetByteCount("SIZE", uint64(c.Size))
	sub.Set(id, entry)
	return b
}

// AddFile registers a file record for rank under filename.
func (b *Builder) AddFile(rank int, filename string, fr FileRecord) *Builder {
	rankTree, ok := b.rankFiles[rank]
	if !ok {
		rankTree = attr.New()
		b.rankFiles[rank] = rankTree
	}
	node := attr.New()
	node.SetByteCount("SIZE", fr.Size)
	if fr.HaveCRC {
		node.SetCRC32("CRC", fr.CRC)
	}
	if !fr.Complete {
		node.SetInt("COMPLETE", 0)
	}
	if fr.HavePath {
		node.SetString("PATH", fr.Path)
	}
	if fr.NoFetch {
		node.SetInt("NOFETCH", 1)
	}
	if len(fr.Segments) > 0 {
		segTree := attr.New()
		for _, seg := range fr.Segments {
			segNode := attr.New()
			segNode.SetByteCount("LENGTH", uint64(seg.Length))
			contNode := attr.New()
			contNode.SetString("ID", seg.ContainerID)
			contNode.SetByteCount("OFFSET", uint64(seg.Offset))
			segNode.Set("CONTAINER", contNode)
			segTree.Set(strconv.Itoa(seg.Index), segNode)
		}
		node.Set("SEGMENT", segTree)
	}
	rankTree.Set(filename, node)
	return b
}

// Build finalizes the RANK2FILE subtree and returns the completed
// document tree.
func (b *Builder) Build() *attr.Tree {
	rank2file := attr.New()
	rankNode := attr.New()
	for rank, files := range b.rankFiles {
		entry := attr.New()
		entry.Set("FILE", files)
		rankNode.Set(strconv.Itoa(rank), entry)
	}
	rankNode.SortIntKeys()
	rank2file.Set("RANK", rankNode)
	b.doc.Set("RANK2FILE", rank2file)
	return b.doc
}

// WriteTo marshals the document and writes it to path using
// attr.Marshal's stable encoding.
func WriteTo(path string, doc *attr.Tree) error {
	b, err := attr.Marshal(doc)
	if err != nil {
		return fmt.Errorf("summary: marshal doc for %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("summary: write %s: %w", path, err)
	}
	return nil
}
