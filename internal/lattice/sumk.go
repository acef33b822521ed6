package lattice

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/rs/zerolog/log"
)

var ErrNoBracket = errors.New("lattice: chemical potential not bracketed")

const (
	muStep       = 0.5
	maxExpansion = 64
	maxBisection = 200
)

// SumK computes local quantities by summing the lattice Green's function
//
//	G(k, iw) = [(iw + mu) - H(k) - Sigma(iw) + DC]^-1
//
// over k-points. K-points are split across ranks and the partial sums are
// all-reduced, so every rank holds the same result.
type SumK struct {
	model  *Model
	mesh   gf.Mesh
	comm   parallel.Comm
	withDC bool

	mu      float64
	sigma   []*gf.BlockGf
	dcImp   []map[string]*cmat.Dense
	dcEnerg []float64
}

var _ Backend = (*SumK)(nil)

// NewSumK builds a backend for m. withDC subtracts the double-counting
// matrices, once set, from the embedded self-energy.
func NewSumK(m *Model, mesh gf.Mesh, c parallel.Comm, withDC bool) (*SumK, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &SumK{model: m, mesh: mesh, comm: c, withDC: withDC}, nil
}

func (s *SumK) Blocks(ineq int) []gf.BlockSpec {
	return s.model.ShellBlocks(s.model.Representative(ineq))
}

func (s *SumK) NIneq() int                         { return s.model.NIneq() }
func (s *SumK) NShells() int                       { return len(s.model.Shells) }
func (s *SumK) Ineq(shell int) int                 { return s.model.Shells[shell].Ineq }
func (s *SumK) SpinOrbit() bool                    { return s.model.SpinOrbit }
func (s *SumK) Umat(shell int) *interaction.Tensor { return s.model.Umat[shell] }
func (s *SumK) SetMu(mu float64)                   { s.mu = mu }
func (s *SumK) Mu() float64                        { return s.mu }

// SetSigma installs one self-energy per inequivalent shell. Equivalent
// shells share their class's self-energy.
func (s *SumK) SetSigma(sigma []*gf.BlockGf) error {
	if len(sigma) != s.NIneq() {
		return fmt.Errorf("%w: %d self-energies for %d inequivalent shells", gf.ErrBlockMismatch, len(sigma), s.NIneq())
	}
	for i, g := range sigma {
		want := gf.New(s.mesh, s.Blocks(i))
		if g == nil || !g.SameStructure(want) {
			return fmt.Errorf("%w: self-energy of shell %d", gf.ErrBlockMismatch, i)
		}
	}
	s.sigma = make([]*gf.BlockGf, len(sigma))
	for i, g := range sigma {
		s.sigma[i] = g.Clone()
	}
	return nil
}

// SetDC installs per-shell double-counting matrices and energies.
func (s *SumK) SetDC(dcImp []map[string]*cmat.Dense, dcEnerg []float64) error {
	if len(dcImp) != s.NShells() || len(dcEnerg) != s.NShells() {
		return fmt.Errorf("%w: double counting for %d/%d shells, want %d", ErrInvalidModel, len(dcImp), len(dcEnerg), s.NShells())
	}
	for i, m := range dcImp {
		for _, b := range s.model.ShellBlocks(i) {
			v := m[b.Name]
			if v == nil {
				return fmt.Errorf("%w: shell %d has no double counting for %q", ErrInvalidModel, i, b.Name)
			}
			if r, c := v.Dims(); r != b.Dim || c != b.Dim {
				return fmt.Errorf("%w: shell %d double counting is %dx%d", ErrInvalidModel, i, r, c)
			}
		}
	}
	s.dcImp = cloneMatrices(dcImp)
	s.dcEnerg = append([]float64(nil), dcEnerg...)
	return nil
}

// latticeSigma embeds the shell self-energies of block at frequency n.
func (s *SumK) latticeSigma(block string, n int) *cmat.Dense {
	dim := s.model.Dim()
	out := cmat.New(dim, dim)
	for i, sh := range s.model.Shells {
		var local *cmat.Dense
		if s.sigma != nil {
			b, _ := s.sigma[sh.Ineq].Block(block)
			local = b.Data[n]
		}
		if s.withDC && s.dcImp != nil {
			if local == nil {
				local = cmat.New(sh.Dim, sh.Dim)
			}
			local = cmat.Sub(local, s.dcImp[i][block])
		}
		if local == nil {
			continue
		}
		for a := 0; a < sh.Dim; a++ {
			for b := 0; b < sh.Dim; b++ {
				out.AddAt(sh.Offset+a, sh.Offset+b, local.At(a, b))
			}
		}
	}
	return out
}

// sum evaluates the k-sum. With shells set it returns the local Green's
// function of every correlated shell; it always returns the total density.
func (s *SumK) sum(ctx context.Context, shells bool) ([]*gf.BlockGf, float64, error) {
	m := s.model
	dim := m.Dim()
	names := m.BlockNames()
	lo, hi := parallel.Split(len(m.Hk), s.comm)

	var local []*gf.BlockGf
	if shells {
		local = make([]*gf.BlockGf, len(m.Shells))
		for i := range m.Shells {
			local[i] = gf.New(s.mesh, m.ShellBlocks(i))
		}
	}
	traces := make([]complex128, len(names)*s.mesh.NIw)
	for bi, name := range names {
		for n := 0; n < s.mesh.NIw; n++ {
			base := cmat.Sub(cmat.Scale(s.mesh.IOmega(n)+complex(s.mu, 0), cmat.Identity(dim)), s.latticeSigma(name, n))
			for k := lo; k < hi; k++ {
				g, err := cmat.Inverse(cmat.Sub(base, m.Hk[k]))
				if err != nil {
					return nil, 0, fmt.Errorf("lattice: G(k=%d, n=%d): %w", k, n, err)
				}
				w := complex(m.Weights[k], 0)
				traces[bi*s.mesh.NIw+n] += w * cmat.Trace(g)
				for i, sh := range m.Shells {
					if !shells {
						break
					}
					dst := local[i].Blocks[bi].Data[n]
					for a := 0; a < sh.Dim; a++ {
						for b := 0; b < sh.Dim; b++ {
							dst.AddAt(a, b, w*g.At(sh.Offset+a, sh.Offset+b))
						}
					}
				}
			}
		}
	}

	flat := append([]complex128(nil), traces...)
	if shells {
		for _, g := range local {
			for _, b := range g.Blocks {
				for _, d := range b.Data {
					flat = append(flat, d.RawData()...)
				}
			}
		}
	}
	reduced, err := s.comm.AllReduceSum(ctx, flat)
	if err != nil {
		return nil, 0, err
	}

	var total float64
	for bi := range names {
		var acc float64
		for n := 0; n < s.mesh.NIw; n++ {
			acc += real(reduced[bi*s.mesh.NIw+n] - complex(float64(dim), 0)/s.mesh.IOmega(n))
		}
		total += 2*acc/s.mesh.Beta + float64(dim)/2
	}
	if !shells {
		return nil, total, nil
	}
	off := len(traces)
	for _, g := range local {
		for _, b := range g.Blocks {
			for n := range b.Data {
				size := b.Dim * b.Dim
				b.Data[n] = cmat.NewFromData(b.Dim, b.Dim, append([]complex128(nil), reduced[off:off+size]...))
				off += size
			}
		}
	}
	return local, total, nil
}

// TotalDensity is the electron count per unit cell at the current mu.
func (s *SumK) TotalDensity(ctx context.Context) (float64, error) {
	_, n, err := s.sum(ctx, false)
	return n, err
}

// CalcMu finds mu with |n(mu) - nelec| < prec by bracketing and bisection,
// starting from the current mu. The coordinator's result is broadcast.
func (s *SumK) CalcMu(ctx context.Context, prec float64) (float64, error) {
	target := s.model.Nelec
	excess := func(mu float64) (float64, error) {
		s.mu = mu
		n, err := s.TotalDensity(ctx)
		return n - target, err
	}
	start := s.mu
	f, err := excess(start)
	if err != nil {
		return 0, err
	}

	// density grows with mu, so only one side of the bracket moves
	lo, hi := start, start
	flo, fhi := f, f
	step := muStep
	for i := 0; flo > 0 || fhi < 0; i++ {
		if i == maxExpansion {
			return 0, fmt.Errorf("%w: nelec=%g from mu=%g", ErrNoBracket, target, start)
		}
		if flo > 0 {
			lo -= step
			flo, err = excess(lo)
		} else {
			hi += step
			fhi, err = excess(hi)
		}
		if err != nil {
			return 0, err
		}
		step *= 2
	}

	var mu, residual float64
	switch {
	case math.Abs(flo) < prec:
		mu, residual = lo, flo
	case math.Abs(fhi) < prec:
		mu, residual = hi, fhi
	default:
		for i := 0; i < maxBisection; i++ {
			mu = (lo + hi) / 2
			if residual, err = excess(mu); err != nil {
				return 0, err
			}
			if math.Abs(residual) < prec {
				break
			}
			if residual > 0 {
				hi = mu
			} else {
				lo = mu
			}
		}
	}
	mu, err = parallel.Broadcast(ctx, s.comm, mu, parallel.Same[float64])
	if err != nil {
		return 0, err
	}
	s.mu = mu
	log.Debug().Float64("mu", mu).Float64("residual", residual).Msg("chemical potential found")
	return mu, nil
}

// ExtractGLoc returns the local Green's function of every inequivalent
// shell, averaged over the shells of its class.
func (s *SumK) ExtractGLoc(ctx context.Context) ([]*gf.BlockGf, error) {
	shells, _, err := s.sum(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]*gf.BlockGf, s.NIneq())
	count := make([]int, s.NIneq())
	for i, g := range shells {
		c := s.model.Shells[i].Ineq
		count[c]++
		if out[c] == nil {
			out[c] = g
			continue
		}
		if out[c], err = gf.Add(out[c], g); err != nil {
			return nil, err
		}
	}
	for c := range out {
		out[c] = gf.Scale(complex(1/float64(count[c]), 0), out[c])
	}
	return out, nil
}

// DensityMatrix returns the density matrix of every correlated shell.
func (s *SumK) DensityMatrix(ctx context.Context) ([]map[string]*cmat.Dense, error) {
	shells, _, err := s.sum(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]*cmat.Dense, len(shells))
	for i, g := range shells {
		out[i] = gf.Density(g)
	}
	return out, nil
}

// LocalLevels returns sum_k w_k H(k) - mu on each inequivalent shell.
func (s *SumK) LocalLevels() []map[string]*cmat.Dense {
	m := s.model
	out := make([]map[string]*cmat.Dense, s.NIneq())
	for c := range out {
		sh := m.Shells[m.Representative(c)]
		eps := cmat.Scale(complex(-s.mu, 0), cmat.Identity(sh.Dim))
		for k, h := range m.Hk {
			w := complex(m.Weights[k], 0)
			for a := 0; a < sh.Dim; a++ {
				for b := 0; b < sh.Dim; b++ {
					eps.AddAt(a, b, w*h.At(sh.Offset+a, sh.Offset+b))
				}
			}
		}
		out[c] = make(map[string]*cmat.Dense)
		for _, name := range m.BlockNames() {
			out[c][name] = eps.Clone()
		}
	}
	return out
}

func cloneMatrices(in []map[string]*cmat.Dense) []map[string]*cmat.Dense {
	if in == nil {
		return nil
	}
	out := make([]map[string]*cmat.Dense, len(in))
	for i, m := range in {
		out[i] = make(map[string]*cmat.Dense, len(m))
		for k, v := range m {
			out[i][k] = v.Clone()
		}
	}
	return out
}
