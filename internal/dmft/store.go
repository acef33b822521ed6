package dmft

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/lattice"
	"github.com/danmuck/dmftctl/internal/observability"
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/google/uuid"
)

// Entry names inside the output group.
const (
	EntryIterations = "iterations"
	EntryMu         = "chemical_potential"
	EntrySigma      = "Sigma_iw"
	EntryLegendre   = "G_l"
	EntryParameters = "parameters"
	EntryResidual   = "sigma_residual"
	EntryRunID      = "run_id"
)

// store is the checkpoint protocol. Only the coordinator holds an archive;
// every exported step is collective and ends with a status broadcast.
type store struct {
	comm    parallel.Comm
	archive *checkpoint.Archive
	group   string
}

func (s *store) path(parts ...string) string {
	return checkpoint.Join(append([]string{s.group}, parts...)...)
}

func itoa(i int) string { return strconv.Itoa(i) }

// coordinate runs fn on the coordinator and broadcasts its outcome. Every
// rank returns the same sentinel; the coordinator's error also carries the
// cause.
func (s *store) coordinate(ctx context.Context, fn func() error) error {
	st := statusOK
	var cause error
	if s.comm.IsCoordinator() {
		if cause = fn(); cause != nil {
			st = statusIO
			var se *statusError
			if errors.As(cause, &se) {
				st = se.status
			}
		}
	}
	got, err := parallel.Broadcast(ctx, s.comm, st, parallel.Same[status])
	if err != nil {
		return err
	}
	if got == statusOK {
		return nil
	}
	if cause != nil {
		return fmt.Errorf("%w: %v", errorFor(got), cause)
	}
	return errorFor(got)
}

// restored is what a resumed run needs on every rank.
type restored struct {
	previous int
	runID    string
	sigma    []*gf.BlockGf
	backend  lattice.State
}

func (r restored) clone() restored {
	out := restored{previous: r.previous, runID: r.runID, backend: r.backend.Clone()}
	for _, g := range r.sigma {
		out.sigma = append(out.sigma, g.Clone())
	}
	return out
}

// begin performs INIT. A fresh run recreates the output group; a restart
// loads the last iteration's self-energies and the backend state.
func (s *store) begin(ctx context.Context, restart bool, nIneq int, snapshot string, backend lattice.Backend) (restored, error) {
	var out restored
	err := s.coordinate(ctx, func() error {
		var err error
		if restart {
			out, err = s.load(ctx, nIneq, backend)
		} else {
			out, err = s.reset(ctx)
		}
		if err != nil {
			return err
		}
		if err := s.archive.PutText(ctx, s.path(EntryParameters), snapshot); err != nil {
			return err
		}
		return s.archive.PutText(ctx, s.path(EntryRunID), out.runID)
	})
	if s.comm.IsCoordinator() {
		observability.RecordCheckpointWrite(EntryParameters, err == nil)
	}
	if err != nil {
		return restored{}, err
	}
	return parallel.Broadcast(ctx, s.comm, out, restored.clone)
}

func (s *store) reset(ctx context.Context) (restored, error) {
	for _, g := range []string{s.group, lattice.StateNamespace} {
		if err := s.archive.Delete(ctx, g); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			return restored{}, err
		}
	}
	if err := s.archive.CreateGroup(ctx, s.group); err != nil {
		return restored{}, err
	}
	return restored{runID: uuid.NewString()}, nil
}

func (s *store) load(ctx context.Context, nIneq int, backend lattice.Backend) (restored, error) {
	ok, err := s.archive.Exists(ctx, s.path(EntryIterations))
	if err != nil {
		return restored{}, err
	}
	if !ok {
		return restored{}, restartFailure(fmt.Errorf("%s has no %s entry", s.group, EntryIterations))
	}
	prev, err := s.archive.Int(ctx, s.path(EntryIterations))
	if err != nil {
		return restored{}, err
	}
	if prev <= 0 {
		return restored{}, restartFailure(fmt.Errorf("%s/%s is %d", s.group, EntryIterations, prev))
	}
	out := restored{previous: prev, sigma: make([]*gf.BlockGf, nIneq)}
	for ish := range out.sigma {
		g, err := s.archive.BlockGf(ctx, s.path(EntrySigma, itoa(prev), itoa(ish)))
		if errors.Is(err, checkpoint.ErrNotFound) {
			return restored{}, restartFailure(fmt.Errorf("no self-energy for subspace %d at iteration %d", ish, prev))
		}
		if err != nil {
			return restored{}, err
		}
		out.sigma[ish] = g
	}
	if out.backend, err = backend.Load(ctx, s.archive); err != nil {
		return restored{}, err
	}
	out.runID, err = s.archive.Text(ctx, s.path(EntryRunID))
	if errors.Is(err, checkpoint.ErrNotFound) {
		out.runID, err = uuid.NewString(), nil
	}
	return out, err
}

// previousSigma reads the persisted self-energies of iteration it.
func (s *store) previousSigma(ctx context.Context, it, nIneq int) ([]*gf.BlockGf, error) {
	prev := make([]*gf.BlockGf, nIneq)
	err := s.coordinate(ctx, func() error {
		for ish := range prev {
			g, err := s.archive.BlockGf(ctx, s.path(EntrySigma, itoa(it), itoa(ish)))
			if err != nil {
				return err
			}
			prev[ish] = g
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parallel.Broadcast(ctx, s.comm, prev, cloneAll)
}

// record is one iteration's persisted output.
type record struct {
	iteration int
	mu        float64
	residual  float64
	sigma     []*gf.BlockGf
	legendre  []*gf.Legendre
}

// persist appends rec. The iteration counter is written last so that an
// interrupted write never advertises an incomplete record.
func (s *store) persist(ctx context.Context, rec record, backend lattice.Backend) error {
	err := s.coordinate(ctx, func() error {
		it := itoa(rec.iteration)
		for ish, g := range rec.sigma {
			if err := s.archive.PutBlockGf(ctx, s.path(EntrySigma, it, itoa(ish)), g); err != nil {
				return err
			}
		}
		for ish, gl := range rec.legendre {
			if gl == nil {
				continue
			}
			if err := s.archive.PutLegendre(ctx, s.path(EntryLegendre, itoa(ish)), gl); err != nil {
				return err
			}
		}
		if err := s.archive.PutFloat(ctx, s.path(EntryMu, it), rec.mu); err != nil {
			return err
		}
		if err := s.archive.PutFloat(ctx, s.path(EntryResidual, it), rec.residual); err != nil {
			return err
		}
		if err := backend.Save(ctx, s.archive); err != nil {
			return err
		}
		return s.archive.PutInt(ctx, s.path(EntryIterations), rec.iteration)
	})
	if s.comm.IsCoordinator() {
		observability.RecordCheckpointWrite(EntrySigma, err == nil)
	}
	return err
}

func cloneAll(in []*gf.BlockGf) []*gf.BlockGf {
	out := make([]*gf.BlockGf, len(in))
	for i, g := range in {
		out[i] = g.Clone()
	}
	return out
}
