package fabric

import (
	"context"
	"reflect"
	"sync"
)

// World is the shared state backing a set of InProcess ranks: one
// directed, unbuffered channel per ordered (src, dst) pair, carrying
// every message — collective or point-to-point — between that pair in
// strict FIFO order. Because every rank executes the same sequence of
// collective calls (spec.md §5 "All collective operations ... occur in
// the same global sequence on every rank"), a single untagged channel
// per pair is sufficient to keep sends and receives matched, mirroring
// the single message tag (0) spec.md §6 specifies for the real fabric.
type World struct {
	n     int
	chans map[[2]int]chan []byte

	barrierMu    sync.Mutex
	barrierCond  *sync.Cond
	barrierCount int
	barrierGen   int

	reduceMu     sync.Mutex
	reduceCond   *sync.Cond
	reduceCount  int
	reduceGen    int
	reduceAcc    bool
	reduceResult bool
}

// NewWorld allocates a World for n ranks.
func NewWorld(n int) *World {
	w := &World{n: n, chans: make(map[[2]int]chan []byte)}
	w.barrierCond = sync.NewCond(&w.barrierMu)
	w.reduceCond = sync.NewCond(&w.reduceMu)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			w.chans[[2]int{i, j}] = make(chan []byte)
		}
	}
	return w
}

// Rank returns the InProcess fabric handle for rank r in w.
func (w *World) Rank(r int) *InProcess {
	return &InProcess{world: w, rank: r}
}

// InProcess is a goroutine/channel simulation of one rank's view of an
// SPMD job, per SPEC_FULL.md §4.14.
type InProcess struct {
	world *World
	rank  int
}

func (f *InProcess) Rank() int      { return f.rank }
func (f *InProcess) WorldSize() int { return f.world.n }

func (f *InProcess) link(dst int) chan []byte {
	return f.world.chans[[2]int{f.rank, dst}]
}

func (f *InProcess) linkFrom(src int) chan []byte {
	return f.world.chans[[2]int{src, f.rank}]
}

func (f *InProcess) Send(ctx context.Context, dst int, data []byte) error {
	select {
	case f.link(dst) <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *InProcess) Recv(ctx context.Context, src int) ([]byte, error) {
	select {
	case data := <-f.linkFrom(src):
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *InProcess) Barrier(ctx context.Context) error {
	w := f.world
	w.barrierMu.Lock()
	defer w.barrierMu.Unlock()
	gen := w.barrierGen
	w.barrierCount++
	if w.barrierCount == w.n {
		w.barrierCount = 0
		w.barrierGen++
		w.barrierCond.Broadcast()
		return nil
	}
	for w.barrierGen == gen {
		w.barrierCond.Wait()
	}
	return nil
}

func (f *InProcess) AllReduceAnd(ctx context.Context, v bool) (bool, error) {
	w := f.world
	w.reduceMu.Lock()
	defer w.reduceMu.Unlock()
	if w.reduceCount == 0 {
		w.reduceAcc = true
	}
	w.reduceAcc = w.reduceAcc && v
	w.reduceCount++
	gen := w.reduceGen
	if w.reduceCount == w.n {
		w.reduceResult = w.reduceAcc
		w.reduceCount = 0
		w.reduceAcc = false
		w.reduceGen++
		w.reduceCond.Broadcast()
		return w.reduceResult, nil
	}
	for w.reduceGen == gen {
		w.reduceCond.Wait()
	}
	return w.reduceResult, nil
}

func (f *InProcess) Broadcast(ctx context.Context, data []byte) ([]byte, error) {
	if f.rank == 0 {
		for i := 1; i < f.world.n; i++ {
			if err := f.Send(ctx, i, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	return f.Recv(ctx, 0)
}

func (f *InProcess) Scatter(ctx context.Context, perRank [][]byte) ([]byte, error) {
	if f.rank == 0 {
		for i := 1; i < f.world.n; i++ {
			var payload []byte
			if i < len(perRank) {
				payload = perRank[i]
			}
			if err := f.Send(ctx, i, payload); err != nil {
				return nil, err
			}
		}
		if len(perRank) > 0 {
			return perRank[0], nil
		}
		return nil, nil
	}
	return f.Recv(ctx, 0)
}

func (f *InProcess) Exchange(ctx context.Context, toRank map[int][]byte) (map[int][]byte, error) {
	if f.rank == 0 {
		for i := 1; i < f.world.n; i++ {
			if err := f.Send(ctx, i, toRank[i]); err != nil {
				return nil, err
			}
		}
		return map[int][]byte{0: toRank[0]}, nil
	}
	data, err := f.Recv(ctx, 0)
	if err != nil {
		return nil, err
	}
	return map[int][]byte{0: data}, nil
}

// ireq is the Request/RecvRequest implementation behind ISend/IRecv.
type ireq struct {
	done chan error
	buf  []byte
}

func (r *ireq) Wait() error          { return <-r.done }
func (r *ireq) Bytes() []byte        { return r.buf }
func (r *ireq) doneChan() <-chan error { return r.done }

type doneChanner interface {
	doneChan() <-chan error
}

func (f *InProcess) ISend(dst int, data []byte) Request {
	r := &ireq{done: make(chan error, 1)}
	go func() {
		r.done <- f.Send(context.Background(), dst, data)
	}()
	return r
}

func (f *InProcess) IRecv(src int) RecvRequest {
	r := &ireq{done: make(chan error, 1)}
	go func() {
		data, err := f.Recv(context.Background(), src)
		r.buf = data
		r.done <- err
	}()
	return r
}

// WaitAny blocks until any of reqs completes. Each element must be
// waited on at most once across both WaitAny and Wait — a request
// consumed by WaitAny must not also be passed to Wait.
func (f *InProcess) WaitAny(reqs []Request) (int, error) {
	cases := make([]reflect.SelectCase, len(reqs))
	for i, r := range reqs {
		dc := r.(doneChanner)
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(dc.doneChan())}
	}
	chosen, recv, ok := reflect.Select(cases)
	if !ok {
		return chosen, ErrClosed
	}
	if recv.IsNil() {
		return chosen, nil
	}
	return chosen, recv.Interface().(error)
}
