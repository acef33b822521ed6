// Package dmft runs the self-consistency loop: embed the impurity
// self-energies into the lattice, build each subspace's Weiss field and
// interaction in its eigenbasis, solve, mix and checkpoint.
//
// Every rank executes the same loop. The coordinator alone touches the
// checkpoint archive and broadcasts what it read or decided.
package dmft

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/config"
	"github.com/danmuck/dmftctl/internal/dc"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/lattice"
	"github.com/danmuck/dmftctl/internal/observability"
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/danmuck/dmftctl/internal/solver"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Loop phases, used for spans and metrics.
const (
	PhaseEmbed   = "embed"
	PhaseBuild   = "build"
	PhaseSolve   = "solve"
	PhaseMix     = "mix"
	PhasePersist = "persist"
)

// Config wires an Orchestrator. Archive is only read on the coordinator and
// may be nil elsewhere. Registry defaults to solver.Builtin().
type Config struct {
	Params   config.Params
	Comm     parallel.Comm
	Backend  lattice.Backend
	Archive  *checkpoint.Archive
	Registry *solver.Registry
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	First    int
	Last     int
	Mu       float64
	Residual float64
}

type Orchestrator struct {
	params  config.Params
	comm    parallel.Comm
	backend lattice.Backend
	store   *store
	solvers []solver.Solver
	mesh    gf.Mesh
	log     zerolog.Logger

	sigma    []*gf.BlockGf
	restored bool
	runID    string
}

// New resolves the configured solver for every inequivalent subspace.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Comm == nil || cfg.Backend == nil {
		return nil, fmt.Errorf("dmft: comm and backend are required")
	}
	if cfg.Comm.IsCoordinator() && cfg.Archive == nil {
		return nil, fmt.Errorf("dmft: coordinator needs a checkpoint archive")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = solver.Builtin()
	}
	p := cfg.Params
	is := p.ImpuritySolver
	values, err := reg.Params(is.Name, is.Params, is.Options, cfg.Comm.IsCoordinator())
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		params:  p,
		comm:    cfg.Comm,
		backend: cfg.Backend,
		store:   &store{comm: cfg.Comm, archive: cfg.Archive, group: p.Control.OutputGroup},
		mesh:    gf.Mesh{Beta: p.System.Beta, NIw: p.System.NIw},
		log:     observability.RankLogger(cfg.Comm),
	}
	for ish := 0; ish < cfg.Backend.NIneq(); ish++ {
		st := solver.Structure{
			Beta:     p.System.Beta,
			NIw:      p.System.NIw,
			NTau:     p.System.NTau,
			Blocks:   cfg.Backend.Blocks(ish),
			Subspace: ish,
			Rank:     cfg.Comm.Rank(),
		}
		s, err := reg.New(is.Name, st, values)
		if err != nil {
			return nil, fmt.Errorf("dmft: solver for subspace %d: %w", ish, err)
		}
		o.solvers = append(o.solvers, s)
	}
	return o, nil
}

// Run executes INIT and then exactly max_step iterations.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	ctx, span := observability.StartSpan(ctx, "dmft.run",
		attribute.Int("rank", o.comm.Rank()),
		attribute.Int("max_step", o.params.Control.MaxStep),
		attribute.Bool("restart", o.params.Control.Restart))
	summary, err := o.run(ctx)
	observability.EndSpan(span, err)
	return summary, err
}

func (o *Orchestrator) run(ctx context.Context) (Summary, error) {
	previous, err := o.init(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{RunID: o.runID, First: previous + 1}
	for it := previous + 1; it <= previous+o.params.Control.MaxStep; it++ {
		mu, residual, err := o.iterate(ctx, it)
		if err != nil {
			return Summary{}, fmt.Errorf("dmft: iteration %d: %w", it, err)
		}
		sum.Last, sum.Mu, sum.Residual = it, mu, residual
	}
	if err := o.comm.Barrier(ctx); err != nil {
		return Summary{}, err
	}
	observability.Report(o.comm, &o.log).
		Str("run_id", o.runID).
		Int("first", sum.First).
		Int("last", sum.Last).
		Msg("self-consistency loop done")
	return sum, nil
}

// init decides between a fresh and a restored run and prepares the
// self-energies the first iteration embeds.
func (o *Orchestrator) init(ctx context.Context) (int, error) {
	snapshot, err := o.params.Encode()
	if err != nil {
		return 0, err
	}
	r, err := o.store.begin(ctx, o.params.Control.Restart, o.backend.NIneq(), snapshot, o.backend)
	if err != nil {
		return 0, err
	}
	o.runID = r.runID
	if o.params.Control.Restart {
		for ish, g := range r.sigma {
			if want := gf.New(o.mesh, o.backend.Blocks(ish)); !g.SameStructure(want) {
				return 0, fmt.Errorf("%w: stored self-energy of subspace %d does not match the model", ErrRestart, ish)
			}
		}
		if err := o.backend.Restore(r.backend); err != nil {
			return 0, err
		}
		o.sigma = r.sigma
		o.restored = true
	} else {
		o.sigma = make([]*gf.BlockGf, o.backend.NIneq())
		for ish := range o.sigma {
			o.sigma[ish] = gf.New(o.mesh, o.backend.Blocks(ish))
		}
	}
	observability.Report(o.comm, &o.log).
		Str("run_id", o.runID).
		Bool("restored", o.restored).
		Int("previous_runs", r.previous).
		Int("ranks", o.comm.Size()).
		Msg("run initialised")
	return r.previous, nil
}

// phase runs fn inside a child span and records its duration.
func (o *Orchestrator) phase(ctx context.Context, name string, it int, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "dmft."+name, attribute.Int("iteration", it))
	err := fn(ctx)
	observability.EndSpan(span, err)
	if o.comm.IsCoordinator() {
		observability.RecordPhase(name, time.Since(start))
	}
	return err
}

// subspace is the per-iteration working set of one inequivalent shell.
type subspace struct {
	g0       *gf.BlockGf
	basis    basis
	sigma    *gf.BlockGf
	legendre *gf.Legendre
}

func (o *Orchestrator) iterate(ctx context.Context, it int) (float64, float64, error) {
	ctx, span := observability.StartSpan(ctx, "dmft.iteration", attribute.Int("iteration", it))
	mu, residual, err := o.iterateTraced(ctx, span, it)
	observability.EndSpan(span, err)
	return mu, residual, err
}

func (o *Orchestrator) iterateTraced(ctx context.Context, span trace.Span, it int) (float64, float64, error) {
	start := time.Now()
	report := func() *zerolog.Event { return observability.Report(o.comm, &o.log).Int("iteration", it) }
	report().Msg("iteration started")

	subs := make([]*subspace, o.backend.NIneq())
	var mu float64
	err := o.phase(ctx, PhaseEmbed, it, func(ctx context.Context) error {
		var err error
		mu, err = o.embed(ctx, it, subs)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	span.SetAttributes(attribute.Float64("mu", mu))

	err = o.phase(ctx, PhaseBuild, it, func(ctx context.Context) error {
		for ish, sub := range subs {
			b, err := diagonalBasis(sub.g0, o.backend.Blocks(ish))
			if err != nil {
				return err
			}
			sub.basis = b
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	err = o.phase(ctx, PhaseSolve, it, func(ctx context.Context) error {
		for ish, sub := range subs {
			if err := o.solve(ctx, ish, sub); err != nil {
				return fmt.Errorf("subspace %d: %w", ish, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	var next []*gf.BlockGf
	var residual float64
	err = o.phase(ctx, PhaseMix, it, func(ctx context.Context) error {
		var err error
		next, residual, err = o.mix(ctx, it, subs)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	rec := record{iteration: it, mu: mu, residual: residual, sigma: next}
	if o.params.System.NL > 0 {
		for _, sub := range subs {
			rec.legendre = append(rec.legendre, sub.legendre)
		}
	}
	err = o.phase(ctx, PhasePersist, it, func(ctx context.Context) error {
		return o.store.persist(ctx, rec, o.backend)
	})
	if err != nil {
		return 0, 0, err
	}
	o.sigma = next
	o.restored = false

	if o.comm.IsCoordinator() {
		observability.RecordIteration(o.params.ImpuritySolver.Name, mu)
		observability.RecordResidual(residual)
	}
	ev := report().
		Float64("mu", mu).
		Float64("sigma_residual", residual).
		Dur("elapsed", time.Since(start))
	if tol := o.params.Control.ConvergenceTol; tol > 0 {
		ev = ev.Bool("below_tolerance", residual < tol)
	}
	ev.Msg("iteration finished")
	return mu, residual, nil
}

// embed sets the self-energies, fixes or solves mu, extracts the local
// Green's functions, seeds double counting on the first fresh iteration and
// forms every Weiss field.
func (o *Orchestrator) embed(ctx context.Context, it int, subs []*subspace) (float64, error) {
	sys := o.params.System
	if err := o.backend.SetSigma(o.sigma); err != nil {
		return 0, err
	}
	var mu float64
	if sys.FixMu {
		o.backend.SetMu(sys.Mu)
		mu = sys.Mu
	} else {
		var err error
		if mu, err = o.backend.CalcMu(ctx, sys.PrecMu); err != nil {
			return 0, err
		}
	}

	dm, err := o.backend.DensityMatrix(ctx)
	if err != nil {
		return 0, err
	}
	if o.comm.IsCoordinator() {
		levels := o.backend.LocalLevels()
		for sh, blocks := range dm {
			occ, eps := zerolog.Dict(), zerolog.Dict()
			for name, m := range levels[o.backend.Ineq(sh)] {
				eps = eps.Float64(name, real(cmat.Trace(m)))
			}
			var total float64
			for name, m := range blocks {
				n := real(cmat.Trace(m))
				occ = occ.Float64(name, n)
				total += n
			}
			o.log.Debug().Int("iteration", it).Int("shell", sh).
				Dict("occupation", occ).Dict("level_trace", eps).Float64("density", total).Msg("shell density matrix")
		}
	}

	gloc, err := o.backend.ExtractGLoc(ctx)
	if err != nil {
		return 0, err
	}
	if it == 1 && !o.restored && sys.WithDC {
		if err := o.seedDoubleCounting(gloc); err != nil {
			return 0, err
		}
	}
	for ish := range subs {
		g0, err := gf.WeissField(gloc[ish], o.sigma[ish])
		if err != nil {
			return 0, fmt.Errorf("subspace %d: %w", ish, err)
		}
		subs[ish] = &subspace{g0: g0}
	}
	return mu, nil
}

// seedDoubleCounting computes the double counting of every class from its
// local density, hands it to the backend for all member shells and starts
// each self-energy from it.
func (o *Orchestrator) seedDoubleCounting(gloc []*gf.BlockGf) error {
	nShells := o.backend.NShells()
	dcImp := make([]map[string]*cmat.Dense, nShells)
	dcEnerg := make([]float64, nShells)
	for ish, g := range gloc {
		rep := -1
		for sh := 0; sh < nShells; sh++ {
			if o.backend.Ineq(sh) == ish {
				rep = sh
				break
			}
		}
		density := gf.Density(g)
		dcm, err := dc.Compute(o.backend.Umat(rep), density, o.backend.SpinOrbit())
		if err != nil {
			return fmt.Errorf("subspace %d: %w", ish, err)
		}
		energy := dc.Energy(dcm, density)
		for sh := 0; sh < nShells; sh++ {
			if o.backend.Ineq(sh) != ish {
				continue
			}
			dcImp[sh] = make(map[string]*cmat.Dense, len(dcm))
			for name, m := range dcm {
				dcImp[sh][name] = m.Clone()
			}
			dcEnerg[sh] = energy
		}
		if o.sigma[ish], err = gf.Constant(o.mesh, o.backend.Blocks(ish), dcm); err != nil {
			return err
		}
		observability.Report(o.comm, &o.log).Int("subspace", ish).Float64("dc_energy", energy).Msg("double counting seeded")
	}
	return o.backend.SetDC(dcImp, dcEnerg)
}

// solve rotates one subspace into its eigenbasis, runs the solver and maps
// the result back.
func (o *Orchestrator) solve(ctx context.Context, ish int, sub *subspace) error {
	sys := o.params.System
	rep := -1
	for sh := 0; sh < o.backend.NShells(); sh++ {
		if o.backend.Ineq(sh) == ish {
			rep = sh
			break
		}
	}
	hint, err := sub.basis.hamiltonian(o.backend.Umat(rep), o.backend.SpinOrbit(), o.params.Model.DensityDensity)
	if err != nil {
		return err
	}
	g0, err := sub.basis.toSolver(sub.g0)
	if err != nil {
		return err
	}

	s := o.solvers[ish]
	start := time.Now()
	res, err := s.Solve(ctx, solver.Input{
		G0:   g0,
		Hint: hint,
		Seed: solver.Seed(o.comm.Rank(), ish),
		NL:   sys.NL,
	})
	if err != nil {
		return err
	}
	observability.RecordSolve(s.Name(), ish, time.Since(start))
	if o.comm.IsCoordinator() && res.G != nil {
		o.log.Debug().Int("subspace", ish).Float64("impurity_density", gf.TotalDensity(res.G)).Msg("impurity solved")
	}

	if fitter, ok := s.(solver.TailFitter); ok && sys.PerformTailFit {
		if res, err = fitter.TailFit(res, sys.FitMaxMoment, sys.FitMinW, sys.FitMaxW); err != nil {
			return err
		}
	}
	sigma := res.Sigma
	if sys.NL > 0 && res.Legendre != nil {
		g := gf.ToMatsubara(res.Legendre, o.mesh)
		if sigma, err = gf.SelfEnergy(res.G0, g); err != nil {
			return err
		}
		sub.legendre = sub.basis.legendreFromSolver(res.Legendre)
	}
	sub.sigma, err = sub.basis.fromSolver(sigma)
	return err
}

// mix blends the solved self-energies with those persisted for it-1. The
// first fresh iteration is returned unmixed. The residual is the largest
// change against the self-energies embedded this iteration.
func (o *Orchestrator) mix(ctx context.Context, it int, subs []*subspace) ([]*gf.BlockGf, float64, error) {
	next := make([]*gf.BlockGf, len(subs))
	for ish, sub := range subs {
		next[ish] = sub.sigma
	}
	if it > 1 || o.restored {
		prev, err := o.store.previousSigma(ctx, it-1, len(subs))
		if err != nil {
			return nil, 0, err
		}
		for ish := range next {
			if next[ish], err = gf.Mix(next[ish], prev[ish], o.params.Control.SigmaMix); err != nil {
				return nil, 0, fmt.Errorf("subspace %d: %w", ish, err)
			}
		}
	}
	// Stochastic solvers differ per rank; every rank embeds the
	// coordinator's result next iteration.
	next, err := parallel.Broadcast(ctx, o.comm, next, cloneAll)
	if err != nil {
		return nil, 0, err
	}
	var residual float64
	for ish := range next {
		d, err := gf.MaxAbsDiff(next[ish], o.sigma[ish])
		if err != nil {
			return nil, 0, err
		}
		residual = math.Max(residual, d)
	}
	return next, residual, nil
}
