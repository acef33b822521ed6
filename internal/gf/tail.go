package gf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FitTail fits every matrix element of g on the frequency window
// [minW, maxW] to sum_{k<=maxMoment} c_k/(iw)^k by least squares and replaces
// all frequencies above minW with the fitted expansion.
func FitTail(g *BlockGf, maxMoment int, minW, maxW float64) (*BlockGf, error) {
	if maxMoment < 0 || minW >= maxW {
		return nil, fmt.Errorf("gf: invalid tail window [%g, %g] with %d moments", minW, maxW, maxMoment)
	}
	var window []int
	first := g.Mesh.NIw
	for n := 0; n < g.Mesh.NIw; n++ {
		w := g.Mesh.Omega(n)
		if w >= minW && first == g.Mesh.NIw {
			first = n
		}
		if w >= minW && w <= maxW {
			window = append(window, n)
		}
	}
	nc := maxMoment + 1
	if len(window) < nc {
		return nil, fmt.Errorf("gf: tail window holds %d frequencies for %d moments", len(window), nc)
	}

	// real embedding: rows (Re, Im) per frequency, columns (Re c_k, Im c_k)
	a := mat.NewDense(2*len(window), 2*nc, nil)
	for r, n := range window {
		zk := complex(1, 0)
		inv := 1 / g.Mesh.IOmega(n)
		for k := 0; k < nc; k++ {
			a.Set(2*r, 2*k, real(zk))
			a.Set(2*r, 2*k+1, -imag(zk))
			a.Set(2*r+1, 2*k, imag(zk))
			a.Set(2*r+1, 2*k+1, real(zk))
			zk *= inv
		}
	}

	out := g.Clone()
	rhs := mat.NewVecDense(2*len(window), nil)
	var coef mat.VecDense
	for bi := range out.Blocks {
		b := &out.Blocks[bi]
		for i := 0; i < b.Dim; i++ {
			for j := 0; j < b.Dim; j++ {
				for r, n := range window {
					v := b.Data[n].At(i, j)
					rhs.SetVec(2*r, real(v))
					rhs.SetVec(2*r+1, imag(v))
				}
				if err := coef.SolveVec(a, rhs); err != nil {
					return nil, fmt.Errorf("gf: tail fit of %q[%d,%d]: %w", b.Name, i, j, err)
				}
				for n := first; n < g.Mesh.NIw; n++ {
					inv := 1 / g.Mesh.IOmega(n)
					var v complex128
					for k := nc - 1; k >= 0; k-- {
						v = v*inv + complex(coef.AtVec(2*k), coef.AtVec(2*k+1))
					}
					b.Data[n].Set(i, j, v)
				}
			}
		}
	}
	return out, nil
}
