package preproc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/config"
)

// hoppings is a real-space Hamiltonian H(R) in the Wannier90 hr layout.
type hoppings struct {
	nwan int
	rvec [][3]int
	deg  []int
	h    []*cmat.Dense
}

// readHoppings parses a Wannier90 hr file: a comment line, the number of
// Wannier functions, the number of lattice vectors, their degeneracies and
// one "R1 R2 R3 m n re im" line per matrix element with 1-based m and n.
// The same layout carries screened U(R) and J(R) matrices.
func readHoppings(path string) (*hoppings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	defer f.Close()
	h, err := parseHoppings(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, path, err)
	}
	return h, nil
}

func parseHoppings(r io.Reader) (*hoppings, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty file")
	}
	var fields []string
	next := func() (string, error) {
		for len(fields) == 0 {
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return "", err
				}
				return "", io.ErrUnexpectedEOF
			}
			fields = strings.Fields(sc.Text())
		}
		tok := fields[0]
		fields = fields[1:]
		return tok, nil
	}
	nextInt := func() (int, error) {
		tok, err := next()
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(tok)
	}
	nextFloat := func() (float64, error) {
		tok, err := next()
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(tok, 64)
	}

	nwan, err := nextInt()
	if err != nil {
		return nil, fmt.Errorf("number of Wannier functions: %w", err)
	}
	nr, err := nextInt()
	if err != nil {
		return nil, fmt.Errorf("number of lattice vectors: %w", err)
	}
	if nwan < 1 || nr < 1 {
		return nil, fmt.Errorf("%d Wannier functions on %d lattice vectors", nwan, nr)
	}
	h := &hoppings{nwan: nwan, rvec: make([][3]int, nr), deg: make([]int, nr), h: make([]*cmat.Dense, nr)}
	for ir := range h.deg {
		if h.deg[ir], err = nextInt(); err != nil {
			return nil, fmt.Errorf("degeneracy %d: %w", ir, err)
		}
		if h.deg[ir] < 1 {
			return nil, fmt.Errorf("degeneracy %d is %d", ir, h.deg[ir])
		}
	}
	for ir := 0; ir < nr; ir++ {
		h.h[ir] = cmat.New(nwan, nwan)
		for e := 0; e < nwan*nwan; e++ {
			var row [7]float64
			for i := range row {
				if i < 5 {
					v, err := nextInt()
					if err != nil {
						return nil, fmt.Errorf("vector %d element %d: %w", ir, e, err)
					}
					row[i] = float64(v)
					continue
				}
				if row[i], err = nextFloat(); err != nil {
					return nil, fmt.Errorf("vector %d element %d: %w", ir, e, err)
				}
			}
			rv := [3]int{int(row[0]), int(row[1]), int(row[2])}
			if e == 0 {
				h.rvec[ir] = rv
			} else if rv != h.rvec[ir] {
				return nil, fmt.Errorf("vector %d: element %d belongs to R=%v, want %v", ir, e, rv, h.rvec[ir])
			}
			m, n := int(row[3]), int(row[4])
			if m < 1 || m > nwan || n < 1 || n > nwan {
				return nil, fmt.Errorf("vector %d: orbital pair (%d, %d) outside 1..%d", ir, m, n, nwan)
			}
			h.h[ir].Set(m-1, n-1, complex(row[5], row[6]))
		}
	}
	return h, nil
}

// onsite returns H(R=0).
func (h *hoppings) onsite() (*cmat.Dense, error) {
	for ir, rv := range h.rvec {
		if rv == [3]int{} {
			return h.h[ir], nil
		}
	}
	return nil, fmt.Errorf("%w: no R=(0,0,0) entry", ErrInvalidInput)
}

// bands evaluates H(k) = sum_R exp(2 pi i k.R) H(R) / deg(R) on the grid
// k = (i/n0, j/n1, l/n2) in reduced coordinates.
func (h *hoppings) bands(grid [3]int) []*cmat.Dense {
	out := make([]*cmat.Dense, 0, grid[0]*grid[1]*grid[2])
	for i := 0; i < grid[0]; i++ {
		for j := 0; j < grid[1]; j++ {
			for l := 0; l < grid[2]; l++ {
				k := [3]float64{
					float64(i) / float64(grid[0]),
					float64(j) / float64(grid[1]),
					float64(l) / float64(grid[2]),
				}
				hk := cmat.New(h.nwan, h.nwan)
				for ir, rv := range h.rvec {
					phase := 2 * math.Pi * (k[0]*float64(rv[0]) + k[1]*float64(rv[1]) + k[2]*float64(rv[2]))
					hk = cmat.Add(hk, cmat.Scale(cmplx.Exp(complex(0, phase))/complex(float64(h.deg[ir]), 0), h.h[ir]))
				}
				out = append(out, hk)
			}
		}
	}
	return out
}

// spinDoubled expands colinear hoppings to both spins. Each block of
// blockDims, then the remaining orbitals, is laid out as its up orbitals
// followed by its down orbitals. Spins do not mix.
func (h *hoppings) spinDoubled(blockDims []int) (*hoppings, error) {
	dims := append([]int(nil), blockDims...)
	var used int
	for _, d := range dims {
		used += d
	}
	if used > h.nwan {
		return nil, fmt.Errorf("%w: %d correlated orbitals in %d Wannier functions", ErrInvalidInput, used, h.nwan)
	}
	if rest := h.nwan - used; rest > 0 {
		dims = append(dims, rest)
	}
	// index[s][c] is the doubled position of colinear orbital c with spin s.
	index := [2][]int{make([]int, h.nwan), make([]int, h.nwan)}
	start := 0
	for _, d := range dims {
		for s := 0; s < 2; s++ {
			for a := 0; a < d; a++ {
				index[s][start+a] = 2*start + s*d + a
			}
		}
		start += d
	}
	out := &hoppings{
		nwan: 2 * h.nwan,
		rvec: append([][3]int(nil), h.rvec...),
		deg:  append([]int(nil), h.deg...),
		h:    make([]*cmat.Dense, len(h.h)),
	}
	for ir, m := range h.h {
		d := cmat.New(out.nwan, out.nwan)
		for s := 0; s < 2; s++ {
			for i := 0; i < h.nwan; i++ {
				for j := 0; j < h.nwan; j++ {
					d.Set(index[s][i], index[s][j], m.At(i, j))
				}
			}
		}
		out.h[ir] = d
	}
	return out, nil
}

// wannierBands reads the seedname's hr file and evaluates it on the k grid.
// Non-colinear models read the colinear file and double it per shell.
func wannierBands(p config.Params, shellDim int) ([]*cmat.Dense, []float64, error) {
	m := p.Model
	file := m.Seedname + "_hr.dat"
	if m.NonColinear {
		file = m.Seedname + "_col_hr.dat"
	}
	h, err := readHoppings(file)
	if err != nil {
		return nil, nil, err
	}
	if m.NonColinear {
		dims := make([]int, m.Ncor)
		for i := range dims {
			dims[i] = m.Norb
		}
		if h, err = h.spinDoubled(dims); err != nil {
			return nil, nil, err
		}
	}
	if need := shellDim * m.Ncor; h.nwan < need {
		return nil, nil, fmt.Errorf("%w: %s has %d Wannier functions, correlated shells need %d",
			ErrInvalidInput, file, h.nwan, need)
	}
	hk := h.bands(p.System.KGrid())
	weights := make([]float64, len(hk))
	for i := range weights {
		weights[i] = 1 / float64(len(hk))
	}
	return hk, weights, nil
}
