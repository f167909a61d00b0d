package attempt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/tonyhutter/scr/pkg/fabric"
	"github.com/tonyhutter/scr/pkg/screrr"
)

// candidate is the broadcast-friendly description of one attempt's
// checkpoint selection, spanning dataset id, checkpoint id, and the
// absolute checkpoint directory every rank needs to run the Summary
// Loader (spec.md §4.7 prepare_attempt: "broadcast the fetch directory
// to all ranks").
type candidate struct {
	Found        bool
	DatasetID    int64
	CheckpointID int64
	Dir          string
}

// selectCandidate implements spec.md §4.7 select_candidate: rank 0
// consults the "current" pointer first, falling back to the most
// recent complete, non-failed entry strictly older than
// excludeAtOrAfter (pass -1 for "unbounded"); the result, found or not,
// is broadcast so every rank agrees on whether to keep going.
func selectCandidate(ctx context.Context, f fabric.Fabric, role Role, prefix string, excludeAtOrAfter int64) (candidate, error) {
	var cand candidate
	var selectErr error

	if h, ok := role.Coordinator(); ok {
		entry, found, err := h.Index.Current()
		if err != nil {
			selectErr = err
		} else if !found {
			entry, found, err = h.Index.GetMostRecentComplete(excludeAtOrAfter)
			if err != nil {
				selectErr = err
			}
		}
		if selectErr == nil && found {
			cand = candidate{
				Found:        true,
				DatasetID:    entry.DatasetID,
				CheckpointID: entry.CheckpointID,
				Dir:          filepath.Join(prefix, entry.Subdirectory),
			}
		}
	}

	okByte := byte(1)
	if selectErr != nil {
		okByte = 0
	}
	statusPayload, err := f.Broadcast(ctx, []byte{okByte})
	if err != nil {
		return candidate{}, fmt.Errorf("attempt: broadcast candidate status: %w", err)
	}
	if len(statusPayload) == 0 || statusPayload[0] == 0 {
		if _, ok := role.Coordinator(); ok {
			return candidate{}, selectErr
		}
		return candidate{}, fmt.Errorf("attempt: rank 0 failed to select a candidate: %w", screrr.ErrCatalog)
	}

	var payload []byte
	if _, ok := role.Coordinator(); ok {
		b, err := json.Marshal(cand)
		if err != nil {
			return candidate{}, fmt.Errorf("attempt: encode candidate: %w: %v", screrr.ErrConfiguration, err)
		}
		payload = b
	}
	received, err := f.Broadcast(ctx, payload)
	if err != nil {
		return candidate{}, fmt.Errorf("attempt: broadcast candidate: %w", err)
	}
	var out candidate
	if err := json.Unmarshal(received, &out); err != nil {
		return candidate{}, fmt.Errorf("attempt: decode candidate: %w: %v", screrr.ErrConfiguration, err)
	}
	return out, nil
}
