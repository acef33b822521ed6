// Package parallel provides the explicit execution context shared by the
// ranks of a run: rank identity, the coordinator role, and the collective
// broadcast/reduce primitives every rank calls in lock-step.
package parallel

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// CoordinatorRank performs all durable I/O.
const CoordinatorRank = 0

var ErrCollectiveMismatch = errors.New("parallel: collective payload mismatch")

// Comm is one rank's view of the world. Every collective must be entered by
// all ranks in the same order.
type Comm interface {
	Rank() int
	Size() int
	IsCoordinator() bool
	// Bcast returns the coordinator's v on every rank.
	Bcast(ctx context.Context, v any) (any, error)
	// AllReduceSum returns the element-wise sum of v over ranks, added in rank
	// order so every rank sees identical bits.
	AllReduceSum(ctx context.Context, v []complex128) ([]complex128, error)
	Barrier(ctx context.Context) error
}

// Broadcast is Bcast with a typed payload. Non-coordinator ranks receive
// clone(v) so no memory is shared across ranks.
func Broadcast[T any](ctx context.Context, c Comm, v T, clone func(T) T) (T, error) {
	var zero T
	got, err := c.Bcast(ctx, v)
	if err != nil {
		return zero, err
	}
	out, ok := got.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", ErrCollectiveMismatch, got)
	}
	if !c.IsCoordinator() && clone != nil {
		out = clone(out)
	}
	return out, nil
}

// Same is the identity clone for value types.
func Same[T any](v T) T { return v }

// Split returns the half-open range [lo, hi) of n items owned by rank.
func Split(n int, c Comm) (int, int) {
	size, rank := c.Size(), c.Rank()
	base, rem := n/size, n%size
	lo := rank*base + min(rank, rem)
	hi := lo + base
	if rank < rem {
		hi++
	}
	return lo, hi
}

// Run starts size ranks of fn over an in-process world. The first rank to
// fail cancels the shared context, which unblocks ranks waiting in a
// collective.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Comm) error) error {
	if size < 1 {
		return fmt.Errorf("parallel: invalid world size %d", size)
	}
	w := NewWorld(size)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c := w.Comm(rank)
		g.Go(func() error {
			return fn(gctx, c)
		})
	}
	return g.Wait()
}
