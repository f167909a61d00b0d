package attempt

import (
	"github.com/tonyhutter/scr/pkg/descriptor"
	"github.com/tonyhutter/scr/pkg/index"
	"github.com/tonyhutter/scr/pkg/scrlog"
)

// CoordinatorHandles bundles the index, logger, and flush-file handles
// that only the coordinating rank (world rank 0) may touch (spec.md §9
// design note "Rank-0-exclusive state").
type CoordinatorHandles struct {
	Index  *index.Catalog
	Logger *scrlog.Logger
	Flush  *descriptor.FlushFile
}

// Role is the capability spec.md §9 recommends in place of scattering
// `rank == 0` checks through the driver: a rank either is the
// Coordinator, exposing CoordinatorHandles, or is a plain Worker that
// cannot obtain them at all. A driver bug that tries to read the index
// from a worker rank gets `nil, false` back instead of silently
// succeeding on rank 0's data.
type Role interface {
	Coordinator() (*CoordinatorHandles, bool)
}

type coordinatorRole struct{ h *CoordinatorHandles }

func (r coordinatorRole) Coordinator() (*CoordinatorHandles, bool) { return r.h, true }

type workerRole struct{}

func (workerRole) Coordinator() (*CoordinatorHandles, bool) { return nil, false }

// NewRole returns the Coordinator role for rank 0 and a Worker role for
// every other rank.
func NewRole(rank int, h *CoordinatorHandles) Role {
	if rank == 0 {
		return coordinatorRole{h: h}
	}
	return workerRole{}
}
