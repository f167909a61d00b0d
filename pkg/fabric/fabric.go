// Package fabric defines the collective-messaging interface the fetch
// core drives through (spec.md §1 "Out of scope / external collaborators"
// treats this as a fixed interface) and provides an in-process
// implementation for testing and for the cmd/scr-fetch harness.
//
// No MPI or network messaging library appears anywhere in the retrieved
// pack, so per SPEC_FULL.md §4.14 this is the one grounded, dependency-free
// way to give every rank real concurrent Go semantics without inventing an
// external dependency the corpus never showed.
package fabric

import (
	"context"
	"fmt"
)

// Request is a handle to a pending non-blocking send or receive.
type Request interface {
	// Wait blocks until the operation completes and returns any error.
	Wait() error
}

// Fabric is the messaging collaborator the fetch core calls through.
// An implementation is bound to one rank; WorldSize is the same on every
// rank's instance.
type Fabric interface {
	Rank() int
	WorldSize() int

	// Barrier blocks until every rank has called Barrier.
	Barrier(ctx context.Context) error

	// Broadcast sends data from rank 0 to every rank. On rank 0, data
	// is the payload to send; on other ranks its contents are ignored
	// and the returned slice is what rank 0 sent.
	Broadcast(ctx context.Context, data []byte) ([]byte, error)

	// Scatter on rank 0 takes one payload per rank (perRank[i] for
	// rank i) and delivers perRank[r] to rank r, including rank 0
	// itself. Non-zero ranks pass nil for perRank and receive their
	// share in the return value.
	Scatter(ctx context.Context, perRank [][]byte) ([]byte, error)

	// Exchange routes a mapping {rank -> payload} supplied on rank 0
	// (toRank) so each rank receives only the entries addressed to
	// it, keyed by sender rank. Every rank (including rank 0) calls
	// Exchange; only rank 0's toRank argument is consulted.
	Exchange(ctx context.Context, toRank map[int][]byte) (map[int][]byte, error)

	// ISend posts a non-blocking send to dst tagged 0.
	ISend(dst int, data []byte) Request
	// IRecv posts a non-blocking receive from src tagged 0 into a
	// buffer the implementation owns; the received bytes are
	// available via RecvRequest.Bytes after Wait returns nil.
	IRecv(src int) RecvRequest

	// Send is a blocking send tagged 0.
	Send(ctx context.Context, dst int, data []byte) error
	// Recv is a blocking receive tagged 0.
	Recv(ctx context.Context, src int) ([]byte, error)

	// WaitAny blocks until any one of reqs completes and returns its
	// index and error. Used by the Flow Controller to progress
	// whichever rank's completion arrives first.
	WaitAny(reqs []Request) (int, error)

	// AllReduceAnd performs a logical AND all-reduce of v across every
	// rank.
	AllReduceAnd(ctx context.Context, v bool) (bool, error)
}

// RecvRequest is the Request returned by IRecv; Bytes is valid only
// after Wait returns nil.
type RecvRequest interface {
	Request
	Bytes() []byte
}

// ErrClosed is returned when an operation is attempted on a fabric whose
// peer ranks have already torn down.
var ErrClosed = fmt.Errorf("fabric: closed")
