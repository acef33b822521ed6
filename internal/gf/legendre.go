package gf

import (
	"math"
	"math/cmplx"

	"github.com/danmuck/dmftctl/internal/cmat"
)

// Legendre holds G_l = sqrt(2l+1) * int_0^beta dtau P_l(2tau/beta-1) G(tau)
// for l < NL, block by block.
type Legendre struct {
	Beta   float64
	NL     int
	Blocks []LegendreBlock
}

type LegendreBlock struct {
	Name  string
	Dim   int
	Coeff []*cmat.Dense
}

func (g *Legendre) Clone() *Legendre {
	out := &Legendre{Beta: g.Beta, NL: g.NL, Blocks: make([]LegendreBlock, len(g.Blocks))}
	for i, b := range g.Blocks {
		coeff := make([]*cmat.Dense, len(b.Coeff))
		for l, c := range b.Coeff {
			coeff[l] = c.Clone()
		}
		out.Blocks[i] = LegendreBlock{Name: b.Name, Dim: b.Dim, Coeff: coeff}
	}
	return out
}

// RotateLegendre applies L[b] * G_l * R[b] to every coefficient.
func RotateLegendre(g *Legendre, left, right map[string]*cmat.Dense) *Legendre {
	out := g.Clone()
	for bi := range out.Blocks {
		b := &out.Blocks[bi]
		for l, c := range b.Coeff {
			b.Coeff[l] = cmat.Sandwich(left[b.Name], c, right[b.Name])
		}
	}
	return out
}

// transform returns T_nl = (-1)^n i^(l+1) sqrt(2l+1) j_l((2n+1)pi/2).
func transform(n, l int) complex128 {
	x := float64(2*n+1) * math.Pi / 2
	sign := 1.0
	if n%2 == 1 {
		sign = -1
	}
	il := cmplx.Pow(1i, complex(float64(l+1), 0))
	return complex(sign*math.Sqrt(float64(2*l+1))*sphericalBessel(l, x), 0) * il
}

// ToLegendre projects g onto nl Legendre coefficients.
func ToLegendre(g *BlockGf, nl int) *Legendre {
	out := &Legendre{Beta: g.Mesh.Beta, NL: nl, Blocks: make([]LegendreBlock, len(g.Blocks))}
	for bi, b := range g.Blocks {
		id := cmat.Identity(b.Dim)
		coeff := make([]*cmat.Dense, nl)
		for l := 0; l < nl; l++ {
			acc := cmat.New(b.Dim, b.Dim)
			for n, m := range b.Data {
				rest := cmat.Sub(m, cmat.Scale(1/g.Mesh.IOmega(n), id))
				acc = cmat.Add(acc, cmat.Scale(cmplx.Conj(transform(n, l)), rest))
			}
			acc = cmat.Add(acc, acc.H())
			if l == 0 {
				acc = cmat.Add(acc, cmat.Scale(complex(-g.Mesh.Beta/2, 0), id))
			}
			coeff[l] = acc
		}
		out.Blocks[bi] = LegendreBlock{Name: b.Name, Dim: b.Dim, Coeff: coeff}
	}
	return out
}

// ToMatsubara evaluates G(iw_n) = sum_l T_nl G_l on mesh.
func ToMatsubara(gl *Legendre, mesh Mesh) *BlockGf {
	out := &BlockGf{Mesh: mesh, Blocks: make([]Block, len(gl.Blocks))}
	for bi, b := range gl.Blocks {
		data := make([]*cmat.Dense, mesh.NIw)
		for n := range data {
			acc := cmat.New(b.Dim, b.Dim)
			for l, c := range b.Coeff {
				acc = cmat.Add(acc, cmat.Scale(transform(n, l), c))
			}
			data[n] = acc
		}
		out.Blocks[bi] = Block{Name: b.Name, Dim: b.Dim, Data: data}
	}
	return out
}

// sphericalBessel returns j_l(x) for x > 0. Upward recurrence is used when
// x > l, Miller's downward recurrence otherwise.
func sphericalBessel(l int, x float64) float64 {
	j0 := math.Sin(x) / x
	if l == 0 {
		return j0
	}
	if x > float64(l) {
		prev, cur := j0, math.Sin(x)/(x*x)-math.Cos(x)/x
		for k := 1; k < l; k++ {
			prev, cur = cur, float64(2*k+1)/x*cur-prev
		}
		return cur
	}
	start := l + 20 + int(math.Sqrt(40*float64(l)))
	var next, cur float64 = 0, 1e-300
	var want float64
	for k := start; k > 0; k-- {
		prev := float64(2*k+1)/x*cur - next
		next, cur = cur, prev
		if k-1 == l {
			want = cur
		}
		if math.Abs(cur) > 1e250 {
			cur *= 1e-250
			next *= 1e-250
			want *= 1e-250
		}
	}
	// cur now holds the unnormalised j_0
	return want * j0 / cur
}
