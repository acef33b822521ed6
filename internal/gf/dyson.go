package gf

import (
	"fmt"

	"github.com/danmuck/dmftctl/internal/cmat"
)

// Inverse returns g^-1 frequency by frequency.
func Inverse(g *BlockGf) (*BlockGf, error) {
	var firstErr error
	out := g.mapBlocks(func(name string, m *cmat.Dense) *cmat.Dense {
		inv, err := cmat.Inverse(m)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("gf: invert block %q: %w", name, err)
			}
			return m.Clone()
		}
		return inv
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// WeissField returns G0 = (G^-1 + Sigma)^-1.
func WeissField(g, sigma *BlockGf) (*BlockGf, error) {
	ginv, err := Inverse(g)
	if err != nil {
		return nil, err
	}
	sum, err := Add(ginv, sigma)
	if err != nil {
		return nil, err
	}
	return Inverse(sum)
}

// SelfEnergy returns Sigma = G0^-1 - G^-1.
func SelfEnergy(g0, g *BlockGf) (*BlockGf, error) {
	g0inv, err := Inverse(g0)
	if err != nil {
		return nil, err
	}
	ginv, err := Inverse(g)
	if err != nil {
		return nil, err
	}
	return Sub(g0inv, ginv)
}

// Dress returns G = (G0^-1 - Sigma)^-1.
func Dress(g0, sigma *BlockGf) (*BlockGf, error) {
	g0inv, err := Inverse(g0)
	if err != nil {
		return nil, err
	}
	diff, err := Sub(g0inv, sigma)
	if err != nil {
		return nil, err
	}
	return Inverse(diff)
}

// Density returns n_ab = G_ab(tau=0^-) per block. The 1/(iw) tail is
// subtracted from the Matsubara sum and added back analytically.
func Density(g *BlockGf) map[string]*cmat.Dense {
	out := make(map[string]*cmat.Dense, len(g.Blocks))
	for _, b := range g.Blocks {
		out[b.Name] = blockDensity(g.Mesh, b)
	}
	return out
}

func blockDensity(mesh Mesh, b Block) *cmat.Dense {
	id := cmat.Identity(b.Dim)
	acc := cmat.New(b.Dim, b.Dim)
	for n, m := range b.Data {
		tail := cmat.Scale(1/mesh.IOmega(n), id)
		acc = cmat.Add(acc, cmat.Sub(m, tail))
	}
	acc = cmat.Add(acc, acc.H())
	return cmat.Add(cmat.Scale(complex(1/mesh.Beta, 0), acc), cmat.Scale(0.5, id))
}

// TotalDensity returns the real part of the summed block traces of Density.
func TotalDensity(g *BlockGf) float64 {
	var total float64
	for _, b := range g.Blocks {
		total += real(cmat.Trace(blockDensity(g.Mesh, b)))
	}
	return total
}

// StaticLevels estimates the local level matrix eps of a Weiss field
// G0^-1(iw) = iw - eps - Delta(iw) from its highest stored frequency. The
// Hermitian part removes the odd 1/(iw) hybridisation tail.
func StaticLevels(g0 *BlockGf) (map[string]*cmat.Dense, error) {
	out := make(map[string]*cmat.Dense, len(g0.Blocks))
	last := g0.Mesh.NIw - 1
	if last < 0 {
		return nil, fmt.Errorf("gf: empty mesh")
	}
	iw := g0.Mesh.IOmega(last)
	for _, b := range g0.Blocks {
		inv, err := cmat.Inverse(b.Data[last])
		if err != nil {
			return nil, fmt.Errorf("gf: static levels of %q: %w", b.Name, err)
		}
		eps := cmat.Sub(cmat.Scale(iw, cmat.Identity(b.Dim)), inv)
		out[b.Name] = cmat.HermitianPart(eps)
	}
	return out, nil
}

// Atomic returns the free propagator (iw + mu - eps)^-1 for per-block level
// matrices eps.
func Atomic(mesh Mesh, specs []BlockSpec, eps map[string]*cmat.Dense, mu float64) (*BlockGf, error) {
	for _, s := range specs {
		if eps[s.Name] == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, s.Name)
		}
	}
	g := New(mesh, specs)
	for bi := range g.Blocks {
		b := &g.Blocks[bi]
		for n := range b.Data {
			m := cmat.Scale(-1, eps[b.Name])
			shift := mesh.IOmega(n) + complex(mu, 0)
			for i := 0; i < b.Dim; i++ {
				m.AddAt(i, i, shift)
			}
			inv, err := cmat.Inverse(m)
			if err != nil {
				return nil, err
			}
			b.Data[n] = inv
		}
	}
	return g, nil
}
