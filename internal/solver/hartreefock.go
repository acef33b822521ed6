package solver

import (
	"context"
	"fmt"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/rs/zerolog/log"
)

const HartreeFockName = "hartree-fock"

// HartreeFockParams configures the static mean-field solver.
type HartreeFockParams struct {
	MaxIter   int
	Tol       float64
	Mixing    float64
	Verbosity int
}

func hartreeFockVariant() Variant {
	return Variant{
		Name:        HartreeFockName,
		Description: "static mean-field decoupling of the two-body operator",
		Schema: Schema{
			{Name: "max_iter", Kind: KindInt, Default: 50},
			{Name: "tol", Kind: KindFloat, Default: 1e-8},
			{Name: "mixing", Kind: KindFloat, Default: 1.0},
			{Name: "verbosity", Kind: KindInt, Default: 0},
		},
		New: func(st Structure, v Values) (Solver, error) {
			p := HartreeFockParams{
				MaxIter:   v.Int("max_iter"),
				Tol:       v.Float("tol"),
				Mixing:    v.Float("mixing"),
				Verbosity: v.Int("verbosity"),
			}
			return NewHartreeFock(st, p)
		},
	}
}

// HartreeFock iterates Sigma = <H_int>_MF, G = (G0^-1 - Sigma)^-1 until the
// static self-energy changes by less than Tol.
type HartreeFock struct {
	st     Structure
	params HartreeFockParams
}

func NewHartreeFock(st Structure, p HartreeFockParams) (*HartreeFock, error) {
	switch {
	case p.MaxIter < 1:
		return nil, fmt.Errorf("%w: max_iter must be positive", ErrParameterFormat)
	case p.Tol <= 0:
		return nil, fmt.Errorf("%w: tol must be positive", ErrParameterFormat)
	case p.Mixing <= 0 || p.Mixing > 1:
		return nil, fmt.Errorf("%w: mixing must lie in (0, 1]", ErrParameterFormat)
	}
	return &HartreeFock{st: st, params: p}, nil
}

func (s *HartreeFock) Name() string { return HartreeFockName }

func (s *HartreeFock) Solve(ctx context.Context, in Input) (Result, error) {
	if err := checkInput(s.st, in); err != nil {
		return Result{}, err
	}
	mesh := s.st.Mesh()
	sigma := zeroStatic(s.st.Blocks)
	g := in.G0.Clone()
	var sigmaGf *gf.BlockGf
	var err error

	converged := false
	var it int
	var diff float64
	for it = 1; it <= s.params.MaxIter; it++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		next := meanField(in.Hint, gf.Density(g), s.st.Blocks)
		diff = 0
		for name, m := range next {
			mixed := cmat.Add(cmat.Scale(complex(s.params.Mixing, 0), m),
				cmat.Scale(complex(1-s.params.Mixing, 0), sigma[name]))
			diff = max(diff, cmat.MaxAbsDiff(mixed, sigma[name]))
			sigma[name] = mixed
		}
		if sigmaGf, err = gf.Constant(mesh, s.st.Blocks, sigma); err != nil {
			return Result{}, err
		}
		if g, err = gf.Dress(in.G0, sigmaGf); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrSolveFailed, err)
		}
		if diff < s.params.Tol {
			converged = true
			break
		}
	}

	ev := log.Debug()
	if s.params.Verbosity > 0 {
		ev = log.Info()
	}
	ev.Str("solver", HartreeFockName).
		Int("subspace", s.st.Subspace).
		Int("iterations", min(it, s.params.MaxIter)).
		Float64("residual", diff).
		Bool("converged", converged).
		Msg("mean-field solve finished")

	res := Result{Sigma: sigmaGf, G: g, G0: in.G0.Clone()}
	if in.NL > 0 {
		res.Legendre = gf.ToLegendre(g, in.NL)
	}
	return res, nil
}

func (s *HartreeFock) TailFit(r Result, maxMoment int, minW, maxW float64) (Result, error) {
	return fitSigmaTail(r, maxMoment, minW, maxW)
}

func zeroStatic(specs []gf.BlockSpec) map[string]*cmat.Dense {
	out := make(map[string]*cmat.Dense, len(specs))
	for _, b := range specs {
		out[b.Name] = cmat.New(b.Dim, b.Dim)
	}
	return out
}

// meanField returns the one-body matrices of the Wick decoupling of op with
// <c+_p c_q> = n[block][q, p]. Contractions across blocks vanish.
func meanField(op interaction.Operator, n map[string]*cmat.Dense, specs []gf.BlockSpec) map[string]*cmat.Dense {
	out := zeroStatic(specs)
	expect := func(p, q int) complex128 {
		lp, lq := op.Labels[p], op.Labels[q]
		if lp.Block != lq.Block {
			return 0
		}
		return n[lp.Block].At(lq.Index, lp.Index)
	}
	add := func(p, q int, v complex128) {
		lp, lq := op.Labels[p], op.Labels[q]
		if v == 0 || lp.Block != lq.Block {
			return
		}
		out[lp.Block].AddAt(lp.Index, lq.Index, v)
	}
	for _, t := range op.Terms {
		a, b := t.Create[0], t.Create[1]
		x, y := t.Annihilate[0], t.Annihilate[1]
		add(a, y, t.Coeff*expect(b, x))
		add(b, x, t.Coeff*expect(a, y))
		add(a, x, -t.Coeff*expect(b, y))
		add(b, y, -t.Coeff*expect(a, x))
	}
	return out
}

// checkInput verifies that G0 and the operator labels match the structure.
func checkInput(st Structure, in Input) error {
	if in.G0 == nil {
		return fmt.Errorf("%w: missing Weiss field", ErrSolveFailed)
	}
	if in.G0.Mesh != st.Mesh() {
		return fmt.Errorf("%w: mesh %+v, want %+v", gf.ErrBlockMismatch, in.G0.Mesh, st.Mesh())
	}
	specs := in.G0.Specs()
	if len(specs) != len(st.Blocks) {
		return fmt.Errorf("%w: %d blocks, want %d", gf.ErrBlockMismatch, len(specs), len(st.Blocks))
	}
	dims := make(map[string]int, len(specs))
	for i, s := range specs {
		if s != st.Blocks[i] {
			return fmt.Errorf("%w: block %d is %+v, want %+v", gf.ErrBlockMismatch, i, s, st.Blocks[i])
		}
		dims[s.Name] = s.Dim
	}
	for _, l := range in.Hint.Labels {
		if d, ok := dims[l.Block]; !ok || l.Index >= d || l.Index < 0 {
			return fmt.Errorf("%w: operator label %s", gf.ErrUnknownBlock, l)
		}
	}
	return nil
}
