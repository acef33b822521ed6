package dmft

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/config"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/lattice"
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/danmuck/dmftctl/internal/solver"
	"github.com/danmuck/dmftctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisySolver returns a static self-energy that depends on its seed, the
// way a Monte Carlo solver's estimate does.
type noisySolver struct{}

func (noisySolver) Name() string { return "noisy" }

func (noisySolver) Solve(ctx context.Context, in solver.Input) (solver.Result, error) {
	v := complex(0.5+float64(in.Seed%1000)*1e-4, 0)
	values := make(map[string]*cmat.Dense)
	for _, s := range in.G0.Specs() {
		d := make([]complex128, s.Dim)
		for i := range d {
			d[i] = v
		}
		values[s.Name] = cmat.Diag(d)
	}
	sigma, err := gf.Constant(in.G0.Mesh, in.G0.Specs(), values)
	if err != nil {
		return solver.Result{}, err
	}
	g, err := gf.Dress(in.G0, sigma)
	if err != nil {
		return solver.Result{}, err
	}
	return solver.Result{Sigma: sigma, G: g, G0: in.G0}, nil
}

func noisyRegistry(t *testing.T) *solver.Registry {
	t.Helper()
	r := solver.NewRegistry()
	require.NoError(t, r.Register(solver.Variant{
		Name: "noisy",
		New: func(solver.Structure, solver.Values) (solver.Solver, error) {
			return noisySolver{}, nil
		},
	}))
	return r
}

type rankOutcome struct {
	o   *Orchestrator
	sum Summary
	err error
}

// runRanks runs the loop on size in-process ranks. Per-rank errors are
// collected rather than cancelling the world.
func runRanks(t *testing.T, size int, p config.Params, m *lattice.Model, a *checkpoint.Archive,
	reg *solver.Registry, wrap func(lattice.Backend, parallel.Comm) lattice.Backend) []rankOutcome {
	t.Helper()
	out := make([]rankOutcome, size)
	err := parallel.Run(context.Background(), size, func(ctx context.Context, c parallel.Comm) error {
		sumk, err := lattice.NewSumK(m.Clone(), gf.Mesh{Beta: p.System.Beta, NIw: p.System.NIw}, c, p.System.WithDC)
		if err != nil {
			return err
		}
		var backend lattice.Backend = sumk
		if wrap != nil {
			backend = wrap(backend, c)
		}
		var archive *checkpoint.Archive
		if c.IsCoordinator() {
			archive = a
		}
		o, err := New(Config{Params: p, Comm: c, Backend: backend, Archive: archive, Registry: reg})
		if err != nil {
			return err
		}
		r := &out[c.Rank()]
		r.o = o
		r.sum, r.err = o.Run(ctx)
		return nil
	})
	require.NoError(t, err)
	return out
}

func requireAllOK(t *testing.T, outcomes []rankOutcome) {
	t.Helper()
	for rank, r := range outcomes {
		require.NoError(t, r.err, "rank %d", rank)
	}
}

func TestRanksEmbedTheCoordinatorsSigma(t *testing.T) {
	testlog.Start(t)
	p := testParams(3)
	p.ImpuritySolver.Name = "noisy"
	p.Control.SigmaMix = 0.5
	reg := noisyRegistry(t)
	m := chainModel(8)

	whole := openArchive(t)
	ranks := runRanks(t, 2, p, m, whole, reg, nil)
	requireAllOK(t, ranks)
	d, err := gf.MaxAbsDiff(ranks[0].o.sigma[0], ranks[1].o.sigma[0])
	require.NoError(t, err)
	assert.Zero(t, d)
	d, err = gf.MaxAbsDiff(ranks[1].o.sigma[0], sigmaAt(t, whole, "3", "0"))
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.Equal(t, ranks[0].sum.Mu, ranks[1].sum.Mu)
	assert.Equal(t, ranks[0].sum.Residual, ranks[1].sum.Residual)

	split := openArchive(t)
	p.Control.MaxStep = 1
	requireAllOK(t, runRanks(t, 2, p, m, split, reg, nil))
	p.Control.MaxStep = 2
	p.Control.Restart = true
	resumed := runRanks(t, 2, p, m, split, reg, nil)
	requireAllOK(t, resumed)

	assert.Equal(t, 3, resumed[0].sum.Last)
	assert.InDelta(t, ranks[0].sum.Mu, resumed[0].sum.Mu, 1e-12)
	d, err = gf.MaxAbsDiff(sigmaAt(t, whole, "3", "0"), sigmaAt(t, split, "3", "0"))
	require.NoError(t, err)
	assert.Less(t, d, 1e-12)
}

// closingBackend closes the coordinator's archive as the second iteration
// starts embedding.
type closingBackend struct {
	lattice.Backend
	archive *checkpoint.Archive
	embeds  int
}

func (b *closingBackend) SetSigma(s []*gf.BlockGf) error {
	b.embeds++
	if b.embeds == 2 && b.archive != nil {
		if err := b.archive.Close(); err != nil {
			return err
		}
	}
	return b.Backend.SetSigma(s)
}

func TestLostArchiveFailsOnAllRanks(t *testing.T) {
	testlog.Start(t)
	a := openArchive(t)
	outcomes := runRanks(t, 3, testParams(3), chainModel(6), a, nil, func(b lattice.Backend, c parallel.Comm) lattice.Backend {
		cb := &closingBackend{Backend: b}
		if c.IsCoordinator() {
			cb.archive = a
		}
		return cb
	})
	for rank, r := range outcomes {
		require.ErrorIs(t, r.err, ErrCheckpointIO, "rank %d", rank)
		assert.Contains(t, r.err.Error(), "iteration 2", "rank %d", rank)
	}
}

func TestUnwritableOutputFailsOnAllRanks(t *testing.T) {
	testlog.Start(t)
	p := testParams(1)
	p.Model.Seedname = filepath.Join(t.TempDir(), "missing", "chain")
	errs := make([]error, 3)
	err := parallel.Run(context.Background(), len(errs), func(ctx context.Context, c parallel.Comm) error {
		_, errs[c.Rank()] = executeRank(ctx, c, p, solver.Builtin())
		return nil
	})
	require.NoError(t, err)
	for rank, e := range errs {
		require.ErrorIs(t, e, ErrCheckpointIO, "rank %d", rank)
		assert.NotErrorIs(t, e, ErrModel, "rank %d", rank)
	}
}
