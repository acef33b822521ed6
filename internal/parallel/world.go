package parallel

import (
	"context"
	"fmt"
)

const inboxDepth = 16

type contribution struct {
	rank int
	data []complex128
}

// World wires size in-process ranks together with channels.
type World struct {
	size   int
	inbox  []chan any
	gather chan contribution
}

func NewWorld(size int) *World {
	w := &World{size: size, inbox: make([]chan any, size), gather: make(chan contribution, size)}
	for i := range w.inbox {
		w.inbox[i] = make(chan any, inboxDepth)
	}
	return w
}

// Comm returns the handle of rank.
func (w *World) Comm(rank int) Comm {
	return &localComm{w: w, rank: rank}
}

// Solo returns a single-rank context.
func Solo() Comm {
	return NewWorld(1).Comm(CoordinatorRank)
}

type localComm struct {
	w    *World
	rank int
}

func (c *localComm) Rank() int           { return c.rank }
func (c *localComm) Size() int           { return c.w.size }
func (c *localComm) IsCoordinator() bool { return c.rank == CoordinatorRank }

func (c *localComm) Bcast(ctx context.Context, v any) (any, error) {
	if c.IsCoordinator() {
		for r := 0; r < c.w.size; r++ {
			if r == CoordinatorRank {
				continue
			}
			select {
			case c.w.inbox[r] <- v:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return v, nil
	}
	select {
	case got := <-c.w.inbox[c.rank]:
		return got, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *localComm) AllReduceSum(ctx context.Context, v []complex128) ([]complex128, error) {
	if c.w.size == 1 {
		return append([]complex128(nil), v...), nil
	}
	if !c.IsCoordinator() {
		select {
		case c.w.gather <- contribution{rank: c.rank, data: append([]complex128(nil), v...)}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		got, err := Broadcast(ctx, Comm(c), []complex128(nil), nil)
		if err != nil {
			return nil, err
		}
		return append([]complex128(nil), got...), nil
	}

	parts := make([][]complex128, c.w.size)
	parts[CoordinatorRank] = v
	for i := 1; i < c.w.size; i++ {
		select {
		case p := <-c.w.gather:
			parts[p.rank] = p.data
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sum := make([]complex128, len(v))
	for r, p := range parts {
		if len(p) != len(v) {
			return nil, fmt.Errorf("%w: rank %d sent %d values, want %d", ErrCollectiveMismatch, r, len(p), len(v))
		}
		for i, x := range p {
			sum[i] += x
		}
	}
	if _, err := c.Bcast(ctx, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

func (c *localComm) Barrier(ctx context.Context) error {
	_, err := c.AllReduceSum(ctx, nil)
	return err
}
