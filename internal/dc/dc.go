// Package dc computes the static double-counting correction of a correlated
// shell from its local density matrix and interaction tensor.
package dc

import (
	"errors"
	"fmt"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/interaction"
)

var ErrDensityShape = errors.New("dc: density matrix does not match interaction tensor")

// Compute returns the double-counting matrix per spin block.
//
// Without spin-orbit coupling the density carries blocks "up" and "down" of
// dimension d and u is the spin-doubled tensor of dimension 2d; only its
// leading d^4 orbital block enters:
//
//	DC_s[i,k] = sum_{s',j,l} U[i,j,k,l] n_s'[j,l] - sum_{j,l} U[i,j,l,k] n_s[j,l]
//
// With spin-orbit coupling the density is the single "ud" block of
// dimension 2d. Hartree keeps the output spin block fixed and sums the
// density over both diagonal spin blocks; exchange couples spin blocks
// s1, s2 through n[s2 j, s1 l].
func Compute(u *interaction.Tensor, density map[string]*cmat.Dense, spinOrbit bool) (map[string]*cmat.Dense, error) {
	if spinOrbit {
		return computeCombined(u, density)
	}
	return computeDecoupled(u, density)
}

func computeDecoupled(u *interaction.Tensor, density map[string]*cmat.Dense) (map[string]*cmat.Dense, error) {
	up, okUp := density["up"]
	down, okDown := density["down"]
	if !okUp || !okDown {
		return nil, fmt.Errorf("%w: want blocks up and down", ErrDensityShape)
	}
	dim, _ := up.Dims()
	if u.N < dim {
		return nil, fmt.Errorf("%w: tensor dimension %d, block dimension %d", ErrDensityShape, u.N, dim)
	}
	spins := []*cmat.Dense{up, down}
	out := make(map[string]*cmat.Dense, 2)
	for s1, name := range []string{"up", "down"} {
		m := cmat.New(dim, dim)
		for i1 := 0; i1 < dim; i1++ {
			for i2 := 0; i2 < dim; i2++ {
				var v complex128
				for _, n := range spins {
					v += hartree(u, n, i1, i2, dim, 0)
				}
				v -= exchange(u, spins[s1], i1, i2, dim, 0, 0)
				m.Set(i1, i2, v)
			}
		}
		out[name] = m
	}
	return out, nil
}

func computeCombined(u *interaction.Tensor, density map[string]*cmat.Dense) (map[string]*cmat.Dense, error) {
	n, ok := density["ud"]
	if !ok {
		return nil, fmt.Errorf("%w: want block ud", ErrDensityShape)
	}
	total, _ := n.Dims()
	if total%2 != 0 || u.N < total/2 {
		return nil, fmt.Errorf("%w: tensor dimension %d, block dimension %d", ErrDensityShape, u.N, total)
	}
	dim := total / 2
	m := cmat.New(total, total)
	for s1 := 0; s1 < 2; s1++ {
		for i1 := 0; i1 < dim; i1++ {
			for s2 := 0; s2 < 2; s2++ {
				for i2 := 0; i2 < dim; i2++ {
					m.AddAt(i1+s1*dim, i2+s1*dim, hartree(u, n, i1, i2, dim, s2*dim))
					m.AddAt(i1+s1*dim, i2+s2*dim, -exchange(u, n, i1, i2, dim, s2*dim, s1*dim))
				}
			}
		}
	}
	return map[string]*cmat.Dense{"ud": m}, nil
}

// hartree is sum_{j,l} U[i1,j,i2,l] n[off+j, off+l].
func hartree(u *interaction.Tensor, n *cmat.Dense, i1, i2, dim, off int) complex128 {
	var v complex128
	for j := 0; j < dim; j++ {
		for l := 0; l < dim; l++ {
			v += u.At(i1, j, i2, l) * n.At(off+j, off+l)
		}
	}
	return v
}

// exchange is sum_{j,l} U[i1,j,l,i2] n[row+j, col+l].
func exchange(u *interaction.Tensor, n *cmat.Dense, i1, i2, dim, row, col int) complex128 {
	var v complex128
	for j := 0; j < dim; j++ {
		for l := 0; l < dim; l++ {
			v += u.At(i1, j, l, i2) * n.At(row+j, col+l)
		}
	}
	return v
}

// Energy is 1/2 sum_blocks Tr(DC n).
func Energy(dcm, density map[string]*cmat.Dense) float64 {
	var e complex128
	for name, m := range dcm {
		n, ok := density[name]
		if !ok {
			continue
		}
		e += cmat.Trace(cmat.Mul(m, n))
	}
	return 0.5 * real(e)
}
