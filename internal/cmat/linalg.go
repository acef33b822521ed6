package cmat

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Inverse returns a^-1.
func Inverse(a *Dense) (*Dense, error) {
	if a.rows != a.cols {
		return nil, ErrNotSquare
	}
	n := a.rows
	if IsReal(a, 0) {
		re := mat.NewDense(n, n, realPart(a))
		var inv mat.Dense
		if err := invert(&inv, re); err != nil {
			return nil, err
		}
		out := New(n, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				out.data[i*n+j] = complex(inv.At(i, j), 0)
			}
		}
		return out, nil
	}

	emb := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := a.data[i*n+j]
			emb.Set(i, j, real(v))
			emb.Set(i, j+n, -imag(v))
			emb.Set(i+n, j, imag(v))
			emb.Set(i+n, j+n, real(v))
		}
	}
	var inv mat.Dense
	if err := invert(&inv, emb); err != nil {
		return nil, err
	}
	out := New(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = complex(inv.At(i, j), inv.At(i+n, j))
		}
	}
	return out, nil
}

func invert(dst *mat.Dense, a mat.Matrix) error {
	err := dst.Inverse(a)
	if err == nil {
		return nil
	}
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		// ill-conditioned but still a usable inverse
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSingular, err)
}

// EigenHermitian diagonalises a Hermitian matrix. Eigenvalues are returned in
// ascending order; column k of the returned matrix is the eigenvector for
// value k, so a = V diag(vals) V^H.
func EigenHermitian(a *Dense) ([]float64, *Dense, error) {
	if a.rows != a.cols {
		return nil, nil, ErrNotSquare
	}
	n := a.rows
	if n == 0 {
		return nil, New(0, 0), nil
	}
	h := HermitianPart(a)
	if IsReal(h, 0) {
		return eigenRealSym(h)
	}

	sym := mat.NewSymDense(2*n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := h.data[i*n+j]
			sym.SetSym(i, j, real(v))
			sym.SetSym(i+n, j+n, real(v))
			sym.SetSym(i, j+n, -imag(v))
			sym.SetSym(j, i+n, imag(v))
		}
	}
	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, nil, errors.New("cmat: eigen-decomposition did not converge")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	candidates := make([][]complex128, 2*n)
	for k := 0; k < 2*n; k++ {
		c := make([]complex128, n)
		for i := 0; i < n; i++ {
			c[i] = complex(vecs.At(i, k), vecs.At(i+n, k))
		}
		candidates[k] = c
	}

	// Every eigenvalue of a appears twice in the embedding; each cluster of
	// 2m real vectors spans an m-dimensional complex eigenspace.
	outVals := make([]float64, 0, n)
	basis := make([][]complex128, 0, n)
	for start := 0; start < 2*n; {
		end := start + 1
		for end < 2*n && math.Abs(vals[end]-vals[start]) <= clusterTol(vals[start]) {
			end++
		}
		want := (end - start + 1) / 2
		picked := pivotedGramSchmidt(candidates[start:end], basis, want)
		for _, v := range picked {
			basis = append(basis, v)
			outVals = append(outVals, vals[start])
		}
		start = end
	}
	if len(basis) > n {
		basis, outVals = basis[:n], outVals[:n]
	}
	if len(basis) < n {
		extra := pivotedGramSchmidt(candidates, basis, n-len(basis))
		for _, v := range extra {
			basis = append(basis, v)
			outVals = append(outVals, rayleigh(h, v))
		}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return outVals[order[i]] < outVals[order[j]] })

	sortedVals := make([]float64, n)
	out := New(n, n)
	for col, k := range order {
		sortedVals[col] = outVals[k]
		for i := 0; i < n; i++ {
			out.data[i*n+col] = basis[k][i]
		}
	}
	return sortedVals, out, nil
}

func eigenRealSym(h *Dense) ([]float64, *Dense, error) {
	n := h.rows
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, real(h.data[i*n+j]))
		}
	}
	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, nil, errors.New("cmat: eigen-decomposition did not converge")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	out := New(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = complex(vecs.At(i, j), 0)
		}
	}
	return vals, out, nil
}

func clusterTol(v float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(v))
}

// pivotedGramSchmidt picks up to want vectors from cands that are orthogonal
// to basis and to each other, always taking the largest residual first.
func pivotedGramSchmidt(cands, basis [][]complex128, want int) [][]complex128 {
	res := make([][]complex128, len(cands))
	for i, c := range cands {
		r := append([]complex128(nil), c...)
		for _, b := range basis {
			project(r, b)
		}
		res[i] = r
	}
	picked := make([][]complex128, 0, want)
	for len(picked) < want {
		best, bestNorm := -1, 1e-8
		for i, r := range res {
			if r == nil {
				continue
			}
			if nrm := norm(r); nrm > bestNorm {
				best, bestNorm = i, nrm
			}
		}
		if best < 0 {
			break
		}
		v := res[best]
		for i := range v {
			v[i] /= complex(bestNorm, 0)
		}
		picked = append(picked, v)
		res[best] = nil
		for i, r := range res {
			if r != nil {
				project(r, v)
				res[i] = r
			}
		}
	}
	return picked
}

// project removes the component of r along the unit vector b.
func project(r, b []complex128) {
	var dot complex128
	for i := range r {
		dot += cmplx.Conj(b[i]) * r[i]
	}
	for i := range r {
		r[i] -= dot * b[i]
	}
}

func norm(v []complex128) float64 {
	var s float64
	for _, x := range v {
		s += real(x)*real(x) + imag(x)*imag(x)
	}
	return math.Sqrt(s)
}

func rayleigh(h *Dense, v []complex128) float64 {
	n := h.rows
	var acc complex128
	for i := 0; i < n; i++ {
		var row complex128
		for j := 0; j < n; j++ {
			row += h.data[i*n+j] * v[j]
		}
		acc += cmplx.Conj(v[i]) * row
	}
	return real(acc)
}

func realPart(a *Dense) []float64 {
	out := make([]float64, len(a.data))
	for i, v := range a.data {
		out[i] = real(v)
	}
	return out
}
