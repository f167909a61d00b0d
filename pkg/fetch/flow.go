package fetch

import (
	"context"
	"fmt"

	"github.com/tonyhutter/scr/pkg/fabric"
	"github.com/tonyhutter/scr/pkg/filemap"
	"github.com/tonyhutter/scr/pkg/scrlog"
	"github.com/tonyhutter/scr/pkg/summary"
)

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeBool(b []byte) bool {
	return len(b) > 0 && b[0] != 0
}

type activePair struct {
	rank int
	recv fabric.RecvRequest
	send fabric.Request
}

// RunFlowControlled drives the Flow Controller (spec.md §4.6) across the
// whole world: rank 0 fetches its own files first, then opens a sliding
// window of at most w concurrently-active non-zero ranks using matched
// non-blocking send/receive, poisoning later starts the moment any rank
// fails. Non-zero ranks block on their own start signal, fetch if not
// already poisoned, and reply with their own success. Every rank returns
// the same final boolean, produced by a closing all-reduce AND.
func RunFlowControlled(ctx context.Context, f fabric.Fabric, w int, plan summary.Plan, cacheDir string, datasetID int64, bufSize int, crcOnFlush bool, fm *filemap.Store, logger *scrlog.Logger) (bool, error) {
	worldSize := f.WorldSize()
	rank := f.Rank()

	if rank != 0 {
		return runWorkerRank(ctx, f, plan, cacheDir, datasetID, rank, worldSize, bufSize, crcOnFlush, fm)
	}
	return runCoordinatorRank(ctx, f, w, plan, cacheDir, datasetID, worldSize, bufSize, crcOnFlush, fm, logger)
}

func runCoordinatorRank(ctx context.Context, f fabric.Fabric, w int, plan summary.Plan, cacheDir string, datasetID int64, worldSize int, bufSize int, crcOnFlush bool, fm *filemap.Store, logger *scrlog.Logger) (bool, error) {
	if w < 1 {
		w = 1
	}
	if w > worldSize-1 {
		w = worldSize - 1
	}

	// Rank 0 fetches its own files first, serially, since rank 0 owns
	// state mutations on the file map for rank 0 (spec.md §4.6).
	result, err := RunRank(plan, cacheDir, datasetID, 0, worldSize, bufSize, crcOnFlush, fm, logger)
	if err != nil {
		return false, fmt.Errorf("fetch: flow controller: rank 0 own fetch: %w", err)
	}
	aggregate := result.Success

	var actives []activePair
	next := 1

	issue := func() {
		r := next
		next++
		recv := f.IRecv(r)
		send := f.ISend(r, encodeBool(aggregate))
		actives = append(actives, activePair{rank: r, recv: recv, send: send})
	}
	for len(actives) < w && next < worldSize {
		issue()
	}

	for len(actives) > 0 {
		reqs := make([]fabric.Request, len(actives))
		for i, a := range actives {
			reqs[i] = a.recv
		}
		idx, err := f.WaitAny(reqs)
		if err != nil {
			return false, fmt.Errorf("fetch: flow controller: wait on rank %d completion: %w", actives[idx].rank, err)
		}
		done := actives[idx]
		if err := done.send.Wait(); err != nil {
			return false, fmt.Errorf("fetch: flow controller: drain start signal to rank %d: %w", done.rank, err)
		}
		aggregate = aggregate && decodeBool(done.recv.Bytes())

		actives = append(actives[:idx], actives[idx+1:]...)
		if next < worldSize {
			issue()
		}
	}

	final, err := f.AllReduceAnd(ctx, aggregate)
	if err != nil {
		return false, fmt.Errorf("fetch: flow controller: final all-reduce: %w", err)
	}
	return final, nil
}

func runWorkerRank(ctx context.Context, f fabric.Fabric, plan summary.Plan, cacheDir string, datasetID int64, rank, worldSize int, bufSize int, crcOnFlush bool, fm *filemap.Store) (bool, error) {
	signal, err := f.Recv(ctx, 0)
	if err != nil {
		return false, fmt.Errorf("fetch: flow controller: rank %d: receive start signal: %w", rank, err)
	}

	mySuccess := false
	if decodeBool(signal) {
		result, err := RunRank(plan, cacheDir, datasetID, rank, worldSize, bufSize, crcOnFlush, fm, nil)
		if err != nil {
			return false, fmt.Errorf("fetch: flow controller: rank %d: fetch: %w", rank, err)
		}
		mySuccess = result.Success
	}

	if err := f.Send(ctx, 0, encodeBool(mySuccess)); err != nil {
		return false, fmt.Errorf("fetch: flow controller: rank %d: send completion: %w", rank, err)
	}

	final, err := f.AllReduceAnd(ctx, mySuccess)
	if err != nil {
		return false, fmt.Errorf("fetch: flow controller: rank %d: final all-reduce: %w", rank, err)
	}
	return final, nil
}
