package summary

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tonyhutter/scr/pkg/attr"
	"github.com/tonyhutter/scr/pkg/container"
	"github.com/tonyhutter/scr/pkg/fabric"
	"github.com/tonyhutter/scr/pkg/screrr"
)

// Plan is the per-rank result of a successful Load: the dataset header
// (same on every rank), the container table (possibly empty), and this
// rank's own file list with PATH already injected for native-mode
// files (spec.md §4.4 "each rank annotates every file record with
// PATH = checkpoint_directory").
type Plan struct {
	Dataset    Dataset
	Containers map[string]container.Container
	Files      []FileRecord
}

// Load runs the collective Summary Loader (spec.md §4.4). Every rank in
// f must call Load; rank 0 does the actual directory check and parse,
// and the result is distributed via broadcast and exchange so no other
// rank touches the PFS directly during this step.
func Load(ctx context.Context, f fabric.Fabric, checkpointDir string) (Plan, error) {
	var doc *attr.Tree
	var rank0err error
	ok := true

	if f.Rank() == 0 {
		if err := checkReadableDir(checkpointDir); err != nil {
			ok, rank0err = false, err
		} else if d, err := readDoc(docPath(checkpointDir)); err != nil {
			ok, rank0err = false, err
		} else {
			doc = d
		}
	}

	okByte := byte(0)
	if ok {
		okByte = 1
	}
	statusPayload, err := f.Broadcast(ctx, []byte{okByte})
	if err != nil {
		return Plan{}, fmt.Errorf("summary: broadcast status: %w", err)
	}
	if len(statusPayload) == 0 || statusPayload[0] == 0 {
		if f.Rank() == 0 {
			return Plan{}, rank0err
		}
		return Plan{}, fmt.Errorf("summary: rank 0 could not load checkpoint directory: %w", screrr.ErrParse)
	}

	var datasetSub *attr.Tree
	if f.Rank() == 0 {
		datasetSub = doc.Get("DATASET")
	}
	datasetTree, err := fabric.BroadcastTree(ctx, f, datasetSub)
	if err != nil {
		return Plan{}, fmt.Errorf("summary: broadcast dataset: %w", err)
	}
	ds, err := DatasetFromTree(datasetTree)
	if err != nil {
		return Plan{}, err
	}
	if !ds.HasCheckpointID {
		return Plan{}, fmt.Errorf("summary: dataset %d missing checkpoint_id: %w", ds.DatasetID, screrr.ErrParse)
	}

	var containerSub *attr.Tree
	if f.Rank() == 0 {
		containerSub = doc.Get("CONTAINER")
	}
	containerTree, err := fabric.BroadcastTree(ctx, f, containerSub)
	if err != nil {
		return Plan{}, fmt.Errorf("summary: broadcast containers: %w", err)
	}
	containers, err := ContainersFromTree(containerTree)
	if err != nil {
		return Plan{}, err
	}

	var toRank map[int]*attr.Tree
	if f.Rank() == 0 {
		toRank = make(map[int]*attr.Tree, f.WorldSize())
		if rank2file := doc.Get("RANK2FILE"); rank2file != nil {
			if rankNode := rank2file.Get("RANK"); rankNode != nil {
				for _, rankKey := range rankNode.Keys() {
					r, err := strconv.Atoi(rankKey)
					if err != nil {
						return Plan{}, fmt.Errorf("summary: RANK2FILE/RANK key %q not an integer: %w", rankKey, screrr.ErrParse)
					}
					toRank[r] = rankNode.Get(rankKey).Get("FILE")
				}
			}
		}
	}
	myFiles, err := fabric.ExchangeTrees(ctx, f, toRank)
	if err != nil {
		return Plan{}, fmt.Errorf("summary: exchange file lists: %w", err)
	}
	files, err := FilesFromTree(myFiles)
	if err != nil {
		return Plan{}, err
	}

	if len(containers) == 0 {
		for i := range files {
			files[i].Path = checkpointDir
			files[i].HavePath = true
		}
	}

	return Plan{Dataset: ds, Containers: containers, Files: files}, nil
}
