package interaction

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/dmftctl/internal/cmat"
)

// ErrUnsupportedConfiguration is returned for interaction/shell combinations
// that no reduction rule covers.
var ErrUnsupportedConfiguration = errors.New("interaction: unsupported configuration")

// Kanamori builds the orbital tensor of dimension norb for (U, U', J):
// U[i,j,i,j] = U', U[i,j,j,i] = U[i,i,j,j] = J, U[i,i,i,i] = U.
func Kanamori(norb int, u, uprime, j float64) *Tensor {
	t := NewTensor(norb)
	for a := 0; a < norb; a++ {
		for b := 0; b < norb; b++ {
			t.Set(a, b, a, b, complex(uprime, 0))
			t.Set(a, b, b, a, complex(j, 0))
			t.Set(a, a, b, b, complex(j, 0))
		}
	}
	for a := 0; a < norb; a++ {
		t.Set(a, a, a, a, complex(u, 0))
	}
	return t
}

// RadialIntegrals converts (U, J) into Slater integrals F0, F2, ... for
// angular momentum l.
func RadialIntegrals(l int, u, j float64) ([]float64, error) {
	switch l {
	case 0:
		return []float64{u}, nil
	case 1:
		return []float64{u, 5 * j}, nil
	case 2:
		f2 := j * 14.0 / (1.0 + 0.63)
		return []float64{u, f2, 0.63 * f2}, nil
	case 3:
		f2 := 6435.0 * j / (286.0 + 195.0*451.0/675.0 + 250.0*1001.0/2025.0)
		return []float64{u, f2, 451.0 * f2 / 675.0, 1001.0 * f2 / 2025.0}, nil
	default:
		return nil, fmt.Errorf("%w: l=%d", ErrUnsupportedConfiguration, l)
	}
}

// Slater builds the full-shell tensor of dimension 2l+1 in the cubic
// harmonics basis from Slater integrals F[k/2], k = 0, 2, ..., 2l.
func Slater(l int, f []float64) (*Tensor, error) {
	if l < 0 || l > 3 {
		return nil, fmt.Errorf("%w: l=%d", ErrUnsupportedConfiguration, l)
	}
	if len(f) > l+1 {
		f = f[:l+1]
	}
	n := 2*l + 1
	sph := NewTensor(n)
	for idx, fk := range f {
		if fk == 0 {
			continue
		}
		k := 2 * idx
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				for c := 0; c < n; c++ {
					for d := 0; d < n; d++ {
						v := fk * angularElement(l, k, a-l, b-l, c-l, d-l)
						if v != 0 {
							sph.Data[sph.idx(a, b, c, d)] += complex(v, 0)
						}
					}
				}
			}
		}
	}
	cubic, err := Rotate(sph, sphericalToCubic(l).H().Conj())
	if err != nil {
		return nil, err
	}
	return cubic, nil
}

// ReduceShell maps a full-shell tensor onto norb orbitals: the full shell
// when norb = 2l+1, eg or t2g for l=2.
func ReduceShell(full *Tensor, l, norb int) (*Tensor, error) {
	switch {
	case 2*l+1 == norb:
		return full, nil
	case l == 2 && norb == 2:
		return full.Sub([]int{2, 4}), nil
	case l == 2 && norb == 3:
		return full.Sub([]int{0, 1, 3}), nil
	default:
		return nil, fmt.Errorf("%w: l=%d with norb=%d", ErrUnsupportedConfiguration, l, norb)
	}
}

func angularElement(l, k, m1, m2, m3, m4 int) float64 {
	var r float64
	for q := -k; q <= k; q++ {
		sign := 1.0
		if mod2(m1+q+m2) != 0 {
			sign = -1
		}
		r += threeJ(l, -m1, k, q, l, m3) * threeJ(l, -m2, k, -q, l, m4) * sign
	}
	w := threeJ(l, 0, k, 0, l, 0)
	return r * float64((2*l+1)*(2*l+1)) * w * w
}

func mod2(v int) int {
	if v < 0 {
		v = -v
	}
	return v % 2
}

// threeJ is the Wigner 3j symbol (j1 j2 j3; m1 m2 m3) for integer arguments
// (Racah formula).
func threeJ(j1, m1, j2, m2, j3, m3 int) float64 {
	if m1+m2+m3 != 0 || j3 < abs(j1-j2) || j3 > j1+j2 {
		return 0
	}
	if abs(m1) > j1 || abs(m2) > j2 || abs(m3) > j3 {
		return 0
	}
	tri := fact(j1+j2-j3) * fact(j1-j2+j3) * fact(-j1+j2+j3) / fact(j1+j2+j3+1)
	pre := math.Sqrt(tri * fact(j1+m1) * fact(j1-m1) * fact(j2+m2) * fact(j2-m2) * fact(j3+m3) * fact(j3-m3))
	kmin := max(0, j2-j3-m1, j1-j3+m2)
	kmax := min(j1+j2-j3, j1-m1, j2+m2)
	var s float64
	for k := kmin; k <= kmax; k++ {
		term := 1 / (fact(k) * fact(j3-j2+k+m1) * fact(j3-j1+k-m2) * fact(j1+j2-j3-k) * fact(j1-k-m1) * fact(j2-k+m2))
		if k%2 == 1 {
			term = -term
		}
		s += term
	}
	if mod2(j1-j2-m3) != 0 {
		s = -s
	}
	return pre * s
}

func fact(n int) float64 {
	r := 1.0
	for i := 2; i <= n; i++ {
		r *= float64(i)
	}
	return r
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// sphericalToCubic returns T with rows indexed by cubic harmonics and columns
// by m = -l..l. Row order for l=2 is xy, yz, z^2, xz, x^2-y^2.
func sphericalToCubic(l int) *cmat.Dense {
	n := 2*l + 1
	t := cmat.New(n, n)
	s := complex(1/math.Sqrt2, 0)
	is := complex(0, 1/math.Sqrt2)
	switch l {
	case 0:
		t.Set(0, 0, 1)
	case 1:
		t.Set(0, 0, s)
		t.Set(0, 2, -s)
		t.Set(1, 0, is)
		t.Set(1, 2, is)
		t.Set(2, 1, 1)
	case 2:
		t.Set(0, 0, is)
		t.Set(0, 4, -is)
		t.Set(1, 1, is)
		t.Set(1, 3, is)
		t.Set(2, 2, 1)
		t.Set(3, 1, s)
		t.Set(3, 3, -s)
		t.Set(4, 0, s)
		t.Set(4, 4, s)
	case 3:
		t.Set(0, 0, s)
		t.Set(0, 6, -s)
		t.Set(1, 1, s)
		t.Set(1, 5, s)
		t.Set(2, 2, s)
		t.Set(2, 4, -s)
		t.Set(3, 3, 1)
		t.Set(4, 2, is)
		t.Set(4, 4, is)
		t.Set(5, 1, is)
		t.Set(5, 5, -is)
		t.Set(6, 0, is)
		t.Set(6, 6, is)
	}
	return t
}
