// Package interaction owns the four-index Coulomb tensors of the correlated
// shells: construction from model parameters, basis rotation, and the
// second-quantised two-body operator handed to impurity solvers.
package interaction

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/danmuck/dmftctl/internal/cmat"
)

// Tensor is U[i,j,k,l] stored row-major over N^4 entries.
type Tensor struct {
	N    int
	Data []complex128
}

func NewTensor(n int) *Tensor {
	return &Tensor{N: n, Data: make([]complex128, n*n*n*n)}
}

func (t *Tensor) idx(i, j, k, l int) int {
	return ((i*t.N+j)*t.N+k)*t.N + l
}

func (t *Tensor) At(i, j, k, l int) complex128 { return t.Data[t.idx(i, j, k, l)] }

func (t *Tensor) Set(i, j, k, l int, v complex128) { t.Data[t.idx(i, j, k, l)] = v }

func (t *Tensor) Clone() *Tensor {
	out := &Tensor{N: t.N, Data: make([]complex128, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// TruncateImag zeroes every imaginary part in place.
func (t *Tensor) TruncateImag() {
	for i, v := range t.Data {
		t.Data[i] = complex(real(v), 0)
	}
}

// MaxAbsDiff returns max |t - o| over all entries.
func (t *Tensor) MaxAbsDiff(o *Tensor) float64 {
	if t.N != o.N {
		return math.Inf(1)
	}
	var d float64
	for i, v := range t.Data {
		d = math.Max(d, cmplx.Abs(v-o.Data[i]))
	}
	return d
}

// Sub returns the tensor restricted to the orbital indices in keep.
func (t *Tensor) Sub(keep []int) *Tensor {
	out := NewTensor(len(keep))
	for a, i := range keep {
		for b, j := range keep {
			for c, k := range keep {
				for d, l := range keep {
					out.Set(a, b, c, d, t.At(i, j, k, l))
				}
			}
		}
	}
	return out
}

// Rotate applies the congruence transform
//
//	U'[m,n,o,p] = sum U[i,j,k,l] conj(R[i,m]) conj(R[j,n]) R[k,o] R[l,p]
//
// one leg at a time. Rotating with R and then with R^H is the identity for
// unitary R.
func Rotate(u *Tensor, r *cmat.Dense) (*Tensor, error) {
	rows, cols := r.Dims()
	if rows != u.N || cols != u.N {
		return nil, fmt.Errorf("interaction: rotation is %dx%d, tensor dimension %d", rows, cols, u.N)
	}
	rc := r.Conj()
	out := u
	for leg := 0; leg < 4; leg++ {
		m := r
		if leg < 2 {
			m = rc
		}
		out = contractLeg(out, m, leg)
	}
	return out, nil
}

// contractLeg returns V with leg `leg` replaced: V[..a..] = sum_i U[..i..] M[i,a].
func contractLeg(u *Tensor, m *cmat.Dense, leg int) *Tensor {
	n := u.N
	out := NewTensor(n)
	var stride int
	switch leg {
	case 0:
		stride = n * n * n
	case 1:
		stride = n * n
	case 2:
		stride = n
	default:
		stride = 1
	}
	for flat, v := range u.Data {
		if v == 0 {
			continue
		}
		i := (flat / stride) % n
		base := flat - i*stride
		for a := 0; a < n; a++ {
			if w := m.At(i, a); w != 0 {
				out.Data[base+a*stride] += v * w
			}
		}
	}
	return out
}

// SpinDouble expands an orbital tensor of dimension n into the spin-orbital
// tensor of dimension 2n: U2[s1 n+i, s2 n+j, s3 n+k, s4 n+l] = U[i,j,k,l]
// when s1 == s3 and s2 == s4, zero otherwise.
func SpinDouble(u *Tensor) *Tensor {
	n := u.N
	out := NewTensor(2 * n)
	for s1 := 0; s1 < 2; s1++ {
		for s2 := 0; s2 < 2; s2++ {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					for k := 0; k < n; k++ {
						for l := 0; l < n; l++ {
							out.Set(s1*n+i, s2*n+j, s1*n+k, s2*n+l, u.At(i, j, k, l))
						}
					}
				}
			}
		}
	}
	return out
}
