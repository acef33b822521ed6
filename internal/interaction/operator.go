package interaction

import (
	"fmt"
	"math/cmplx"
	"sort"
	"strings"
)

// Label addresses one single-particle state: a block name and an index
// inside that block.
type Label struct {
	Block string
	Index int
}

func (l Label) String() string { return fmt.Sprintf("%s:%d", l.Block, l.Index) }

// SpinOrbitalLabels maps tensor indices to solver block labels. Without
// spin-orbit coupling the first dim indices are "up" and the next dim are
// "down"; with it the dim indices live in the single "ud" block.
func SpinOrbitalLabels(dim int, spinOrbit bool) []Label {
	if spinOrbit {
		out := make([]Label, dim)
		for i := range out {
			out[i] = Label{Block: "ud", Index: i}
		}
		return out
	}
	out := make([]Label, 2*dim)
	for i := 0; i < dim; i++ {
		out[i] = Label{Block: "up", Index: i}
		out[i+dim] = Label{Block: "down", Index: i}
	}
	return out
}

// Term is coeff * c^+_{Create[0]} c^+_{Create[1]} c_{Annihilate[0]} c_{Annihilate[1]}.
// Creation indices are ascending and annihilation indices descending.
type Term struct {
	Coeff      complex128
	Create     [2]int
	Annihilate [2]int
}

// IsDensityDensity reports whether the term is a product of number operators.
func (t Term) IsDensityDensity() bool {
	return t.Create[0] == t.Annihilate[1] && t.Create[1] == t.Annihilate[0]
}

// Operator is a normal-ordered two-body operator over labelled states.
type Operator struct {
	Labels []Label
	Terms  []Term
}

const dropTol = 1e-14

// BuildOperator returns
//
//	H = sum_{i1..i4} 0.5 U[i1,i2,i3,i4] c^+_i1 c^+_i2 c_i4 c_i3
//
// with identical monomials merged and vanishing terms dropped.
func BuildOperator(u *Tensor, labels []Label) (Operator, error) {
	if len(labels) != u.N {
		return Operator{}, fmt.Errorf("interaction: %d labels for tensor of dimension %d", len(labels), u.N)
	}
	acc := make(map[[4]int]complex128)
	n := u.N
	for i1 := 0; i1 < n; i1++ {
		for i2 := 0; i2 < n; i2++ {
			if i1 == i2 {
				continue
			}
			for i3 := 0; i3 < n; i3++ {
				for i4 := 0; i4 < n; i4++ {
					if i3 == i4 {
						continue
					}
					v := u.At(i1, i2, i3, i4)
					if v == 0 {
						continue
					}
					key, sign := canonical(i1, i2, i4, i3)
					acc[key] += complex(0.5*sign, 0) * v
				}
			}
		}
	}
	keys := make([][4]int, 0, len(acc))
	for k, v := range acc {
		if cmplx.Abs(v) > dropTol {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(a, b int) bool {
		for i := 0; i < 4; i++ {
			if keys[a][i] != keys[b][i] {
				return keys[a][i] < keys[b][i]
			}
		}
		return false
	})
	terms := make([]Term, len(keys))
	for i, k := range keys {
		terms[i] = Term{Coeff: acc[k], Create: [2]int{k[0], k[1]}, Annihilate: [2]int{k[2], k[3]}}
	}
	return Operator{Labels: append([]Label(nil), labels...), Terms: terms}, nil
}

// canonical orders c^+_a c^+_b c_x c_y as creation ascending, annihilation
// descending and returns the fermionic sign of the permutation.
func canonical(a, b, x, y int) ([4]int, float64) {
	sign := 1.0
	if a > b {
		a, b = b, a
		sign = -sign
	}
	if x < y {
		x, y = y, x
		sign = -sign
	}
	return [4]int{a, b, x, y}, sign
}

// DensityDensity keeps only the n_a n_b terms of op.
func DensityDensity(op Operator) Operator {
	out := Operator{Labels: op.Labels, Terms: make([]Term, 0, len(op.Terms))}
	for _, t := range op.Terms {
		if t.IsDensityDensity() {
			out.Terms = append(out.Terms, t)
		}
	}
	return out
}

func (op Operator) String() string {
	var b strings.Builder
	for i, t := range op.Terms {
		if i > 0 {
			b.WriteString(" + ")
		}
		fmt.Fprintf(&b, "(%g)*c_dag(%s)*c_dag(%s)*c(%s)*c(%s)", t.Coeff,
			op.Labels[t.Create[0]], op.Labels[t.Create[1]],
			op.Labels[t.Annihilate[0]], op.Labels[t.Annihilate[1]])
	}
	return b.String()
}
