// Package attempt implements the Attempt Driver (spec.md §4.7): the
// retry state machine that selects a checkpoint candidate, prepares
// cache and redundancy state, runs the collective fetch, and reacts to
// success or failure by retrying with progressively older checkpoints.
package attempt

import (
	"context"
	"fmt"
	"time"

	"github.com/tonyhutter/scr/pkg/cache"
	"github.com/tonyhutter/scr/pkg/config"
	"github.com/tonyhutter/scr/pkg/descriptor"
	"github.com/tonyhutter/scr/pkg/fabric"
	"github.com/tonyhutter/scr/pkg/fetch"
	"github.com/tonyhutter/scr/pkg/filemap"
	"github.com/tonyhutter/scr/pkg/screrr"
	"github.com/tonyhutter/scr/pkg/scrlog"
	"github.com/tonyhutter/scr/pkg/summary"
)

// Driver runs the Attempt Driver state machine for one rank. Every rank
// in the job constructs one bound to its own fabric.Fabric handle and
// its own (rank-local) cache.Manager; coordinator-only dependencies
// reach the driver only through Role.
type Driver struct {
	Fabric      fabric.Fabric
	Role        Role
	Config      config.Config
	Cache       *cache.Manager
	FileMap     *filemap.Store
	Descriptors *descriptor.Registry
	Applier     descriptor.Applier
}

// FetchSync runs the full retry loop to completion: select a candidate,
// attempt it, and on failure retry with strictly older checkpoints
// until one succeeds or the index is exhausted. Returns the fetched
// ids on success and fetchAttempted, true from the moment a non-empty
// candidate was first selected (spec.md §6 "the fetch-attempted flag").
func (d *Driver) FetchSync(ctx context.Context) (datasetID, checkpointID int64, fetchAttempted bool, err error) {
	excludeAtOrAfter := int64(-1)

	for {
		cand, err := selectCandidate(ctx, d.Fabric, d.Role, d.Config.Prefix, excludeAtOrAfter)
		if err != nil {
			return 0, 0, fetchAttempted, err
		}

		var outcome AttemptOutcome
		if !cand.Found {
			// The index is exhausted: no complete, non-failed,
			// not-yet-tried candidate remains. Route through the same
			// GiveUp outcome runOneAttempt would produce had it run out
			// of candidates mid-attempt, so the switch below has one
			// terminal path instead of two.
			outcome = AttemptOutcome{Kind: GiveUp}
		} else {
			fetchAttempted = true
			start := time.Now()
			if h, ok := d.Role.Coordinator(); ok {
				h.Logger.Started(cand.Dir)
			}
			outcome, err = d.runOneAttempt(ctx, cand, start)
			if err != nil {
				return 0, 0, fetchAttempted, err
			}
		}

		switch outcome.Kind {
		case Success:
			return outcome.DatasetID, outcome.CheckpointID, fetchAttempted, nil
		case GiveUp:
			if h, ok := d.Role.Coordinator(); ok {
				h.Logger.Failed(d.Config.Prefix, 0)
			}
			return 0, 0, fetchAttempted, fmt.Errorf("attempt: no checkpoint candidate available: %w", screrr.ErrCatalog)
		case RetryWithout:
			excludeAtOrAfter = outcome.CheckpointID
			continue
		}
	}
}

// runOneAttempt runs prepare_attempt/run_fetch/finalize/mark_failed for
// a single selected candidate and classifies the result as an
// AttemptOutcome.
func (d *Driver) runOneAttempt(ctx context.Context, cand candidate, start time.Time) (AttemptOutcome, error) {
	cacheDir, err := d.prepareAttempt(ctx, cand)
	if err != nil {
		return AttemptOutcome{}, fmt.Errorf("attempt: prepare dataset %d: %w", cand.DatasetID, err)
	}

	ok, err := d.runFetch(ctx, cand, cacheDir)
	if err != nil {
		return AttemptOutcome{}, fmt.Errorf("attempt: run fetch for dataset %d: %w", cand.DatasetID, err)
	}

	if !ok {
		if err := d.markFailedAttempt(cand); err != nil {
			return AttemptOutcome{}, err
		}
		if h, ok := d.Role.Coordinator(); ok {
			h.Logger.Failed(cand.Dir, time.Since(start))
		}
		return AttemptOutcome{Kind: RetryWithout, CheckpointID: cand.CheckpointID}, nil
	}

	if err := d.applyRedundancy(cand, cacheDir); err != nil {
		// Redundancy-apply failure: cache purged, overall attempt
		// failure, no retry (spec.md §7).
		if h, ok := d.Role.Coordinator(); ok {
			h.Logger.Failed(cand.Dir, time.Since(start))
		}
		return AttemptOutcome{}, err
	}

	if err := d.finalizeSuccess(cand); err != nil {
		return AttemptOutcome{}, err
	}
	if h, ok := d.Role.Coordinator(); ok {
		h.Logger.Succeeded(cand.Dir, cand.DatasetID, time.Since(start))
	}
	return AttemptOutcome{Kind: Success, DatasetID: cand.DatasetID, CheckpointID: cand.CheckpointID}, nil
}

// prepareAttempt implements spec.md §4.7 prepare_attempt: the
// coordinator marks the candidate fetched in the index and purges any
// file map records left over from a prior attempt at this dataset id
// (spec.md §3 "Lifecycles": entries are deleted en bloc before a fresh
// fetch begins); every rank clears and recreates its own cache
// directory and stamps the redundancy descriptor hash into its own
// file map record. A barrier separates the purge from the stamps so a
// worker's fresh record is never swept away with the old ones.
func (d *Driver) prepareAttempt(ctx context.Context, cand candidate) (string, error) {
	if h, ok := d.Role.Coordinator(); ok {
		if err := h.Index.MarkFetched(cand.DatasetID); err != nil {
			return "", err
		}
		if err := d.FileMap.DeleteDataset(cand.DatasetID, d.Fabric.WorldSize()); err != nil {
			return "", err
		}
	}
	if err := d.Fabric.Barrier(ctx); err != nil {
		return "", fmt.Errorf("attempt: barrier after file map purge: %w", err)
	}

	cacheDir, err := d.Cache.Create(cand.DatasetID)
	if err != nil {
		return "", err
	}

	desc, err := d.Descriptors.Lookup(cand.CheckpointID)
	if err != nil {
		return "", err
	}
	if err := d.FileMap.SetRedundancyDescriptor(cand.DatasetID, d.Fabric.Rank(), desc.Hash); err != nil {
		return "", err
	}
	return cacheDir, nil
}

// runFetch implements spec.md §4.7 run_fetch: the collective Summary
// Loader followed by the Flow Controller. Either stage can fail with a
// Go error; screrr.Retryable classifies it per spec.md §7's recovery
// rule — unreadable directory / parse failure / I/O / CRC kinds fail
// only this attempt (false, nil, triggering RetryWithout upstream),
// while anything else (a messaging/fabric fault, not wrapped in any of
// the retryable kinds) is treated as driver-fatal, since it signals the
// fabric itself is unusable and no further attempt could succeed either.
func (d *Driver) runFetch(ctx context.Context, cand candidate, cacheDir string) (bool, error) {
	plan, err := summary.Load(ctx, d.Fabric, cand.Dir)
	if err != nil {
		if screrr.Retryable(err) {
			return false, nil
		}
		return false, err
	}

	var logger *scrlog.Logger
	if h, ok := d.Role.Coordinator(); ok {
		logger = h.Logger
	}
	ok, err := fetch.RunFlowControlled(ctx, d.Fabric, d.Config.FetchWidth, plan, cacheDir, cand.DatasetID, d.Config.BufSize, d.Config.CRCOnFlush, d.FileMap, logger)
	if err != nil {
		if screrr.Retryable(err) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// applyRedundancy implements spec.md §4.7's post-success step: apply
// the redundancy scheme and, on failure, purge the cache with no retry.
func (d *Driver) applyRedundancy(cand candidate, cacheDir string) error {
	desc, err := d.Descriptors.Lookup(cand.CheckpointID)
	if err != nil {
		return err
	}
	if _, err := d.Applier.Apply(cand.DatasetID, desc, cacheDir); err != nil {
		d.Cache.Delete(cand.DatasetID)
		return fmt.Errorf("attempt: apply redundancy for dataset %d: %w: %v", cand.DatasetID, screrr.ErrRedundancy, err)
	}
	return nil
}

// finalizeSuccess implements spec.md §4.7's success path: update
// flush-file locations (PFS set only after redundancy-apply succeeds,
// per spec.md §9's resolved open question), clear FLUSHING, and point
// "current" at the candidate.
func (d *Driver) finalizeSuccess(cand candidate) error {
	h, ok := d.Role.Coordinator()
	if !ok {
		return nil
	}
	h.Flush.Set(cand.DatasetID, descriptor.LocationCache)
	h.Flush.Set(cand.DatasetID, descriptor.LocationPFS)
	h.Flush.Unset(cand.DatasetID, descriptor.LocationFlushing)
	return h.Index.SetCurrent(cand.DatasetID)
}

// markFailedAttempt implements spec.md §4.7's failure path: every rank
// purges its own cache contents for the dataset; the coordinator
// unlinks "current" and marks the index entry failed.
func (d *Driver) markFailedAttempt(cand candidate) error {
	if err := d.Cache.Delete(cand.DatasetID); err != nil {
		return err
	}
	h, ok := d.Role.Coordinator()
	if !ok {
		return nil
	}
	if err := h.Index.ClearCurrent(); err != nil {
		return err
	}
	return h.Index.MarkFailed(cand.DatasetID)
}
