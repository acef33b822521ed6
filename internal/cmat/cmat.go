// Package cmat provides the small dense complex matrix algebra the DMFT loop
// needs: products, conjugate transposes, inversion and Hermitian
// eigen-decomposition. Inversion and diagonalisation delegate to gonum via the
// real embedding
//
//	A + iB  ->  [ A  -B ]
//	            [ B   A ]
package cmat

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var (
	ErrShape     = errors.New("cmat: shape mismatch")
	ErrSingular  = errors.New("cmat: singular matrix")
	ErrNotSquare = errors.New("cmat: matrix is not square")
)

// Dense is a row-major complex matrix.
type Dense struct {
	rows, cols int
	data       []complex128
}

// New returns a zero rows x cols matrix.
func New(rows, cols int) *Dense {
	return &Dense{rows: rows, cols: cols, data: make([]complex128, rows*cols)}
}

// NewFromData wraps data (row-major); len(data) must equal rows*cols.
func NewFromData(rows, cols int, data []complex128) *Dense {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("cmat: data length %d does not match %dx%d", len(data), rows, cols))
	}
	return &Dense{rows: rows, cols: cols, data: data}
}

// Identity returns the n x n identity.
func Identity(n int) *Dense {
	m := New(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// Diag returns a square matrix with v on the diagonal.
func Diag(v []complex128) *Dense {
	m := New(len(v), len(v))
	for i, x := range v {
		m.data[i*len(v)+i] = x
	}
	return m
}

func (m *Dense) Dims() (int, int) { return m.rows, m.cols }

func (m *Dense) At(i, j int) complex128 { return m.data[i*m.cols+j] }

func (m *Dense) Set(i, j int, v complex128) { m.data[i*m.cols+j] = v }

func (m *Dense) AddAt(i, j int, v complex128) { m.data[i*m.cols+j] += v }

// RawData exposes the backing slice.
func (m *Dense) RawData() []complex128 { return m.data }

func (m *Dense) Clone() *Dense {
	out := &Dense{rows: m.rows, cols: m.cols, data: make([]complex128, len(m.data))}
	copy(out.data, m.data)
	return out
}

// H returns the conjugate transpose.
func (m *Dense) H() *Dense {
	out := New(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[j*m.rows+i] = cmplx.Conj(m.data[i*m.cols+j])
		}
	}
	return out
}

// Conj returns the element-wise complex conjugate.
func (m *Dense) Conj() *Dense {
	out := m.Clone()
	for i, v := range out.data {
		out.data[i] = cmplx.Conj(v)
	}
	return out
}

// Mul returns a*b.
func Mul(a, b *Dense) *Dense {
	if a.cols != b.rows {
		panic(fmt.Errorf("%w: %dx%d * %dx%d", ErrShape, a.rows, a.cols, b.rows, b.cols))
	}
	out := New(a.rows, b.cols)
	for i := 0; i < a.rows; i++ {
		for k := 0; k < a.cols; k++ {
			aik := a.data[i*a.cols+k]
			if aik == 0 {
				continue
			}
			row := b.data[k*b.cols : (k+1)*b.cols]
			dst := out.data[i*out.cols : (i+1)*out.cols]
			for j, bkj := range row {
				dst[j] += aik * bkj
			}
		}
	}
	return out
}

// Sandwich returns l*m*r.
func Sandwich(l, m, r *Dense) *Dense {
	return Mul(Mul(l, m), r)
}

// Add returns a+b.
func Add(a, b *Dense) *Dense {
	mustSameShape(a, b)
	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}
	return out
}

// Sub returns a-b.
func Sub(a, b *Dense) *Dense {
	mustSameShape(a, b)
	out := a.Clone()
	for i, v := range b.data {
		out.data[i] -= v
	}
	return out
}

// Scale returns s*a.
func Scale(s complex128, a *Dense) *Dense {
	out := a.Clone()
	for i := range out.data {
		out.data[i] *= s
	}
	return out
}

// HermitianPart returns (a + a^H)/2.
func HermitianPart(a *Dense) *Dense {
	return Scale(0.5, Add(a, a.H()))
}

// Trace returns the sum of diagonal elements.
func Trace(a *Dense) complex128 {
	var t complex128
	n := min(a.rows, a.cols)
	for i := 0; i < n; i++ {
		t += a.data[i*a.cols+i]
	}
	return t
}

// MaxAbsDiff returns max_ij |a_ij - b_ij|.
func MaxAbsDiff(a, b *Dense) float64 {
	mustSameShape(a, b)
	var d float64
	for i, v := range a.data {
		d = math.Max(d, cmplx.Abs(v-b.data[i]))
	}
	return d
}

// IsReal reports whether every imaginary part is within tol of zero.
func IsReal(a *Dense, tol float64) bool {
	for _, v := range a.data {
		if math.Abs(imag(v)) > tol {
			return false
		}
	}
	return true
}

func mustSameShape(a, b *Dense) {
	if a.rows != b.rows || a.cols != b.cols {
		panic(fmt.Errorf("%w: %dx%d vs %dx%d", ErrShape, a.rows, a.cols, b.rows, b.cols))
	}
}
