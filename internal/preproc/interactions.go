package preproc

import (
	"fmt"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/config"
	"github.com/danmuck/dmftctl/internal/interaction"
)

// shellInteraction builds the orbital tensor of correlated shell i and the
// angular momentum it was built for. Parameter lists shorter than ncor
// reuse their last entry. sc is only read for respack interactions.
func shellInteraction(m config.Model, i int, sc *screening) (*interaction.Tensor, int, error) {
	pick := func(rows [][]float64, name string, width int) ([]float64, error) {
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: model.%s is empty", ErrInvalidInput, name)
		}
		row := rows[min(i, len(rows)-1)]
		if len(row) < width {
			return nil, fmt.Errorf("%w: model.%s entry %d has %d values, want %d", ErrInvalidInput, name, i, len(row), width)
		}
		return row, nil
	}
	switch m.Interaction {
	case "kanamori":
		row, err := pick(m.Kanamori, "kanamori", 3)
		if err != nil {
			return nil, 0, err
		}
		return interaction.Kanamori(m.Norb, row[0], row[1], row[2]), 0, nil
	case "slater_uj":
		row, err := pick(m.SlaterUJ, "slater_uj", 3)
		if err != nil {
			return nil, 0, err
		}
		l := int(row[0])
		f, err := interaction.RadialIntegrals(l, row[1], row[2])
		if err != nil {
			return nil, 0, err
		}
		u, err := slaterShell(l, f, m.Norb)
		return u, l, err
	case "slater_f":
		row, err := pick(m.SlaterF, "slater_f", 2)
		if err != nil {
			return nil, 0, err
		}
		l := int(row[0])
		u, err := slaterShell(l, row[1:], m.Norb)
		return u, l, err
	case "respack":
		if sc == nil {
			return nil, 0, fmt.Errorf("%w: respack interaction without screened matrices", ErrInvalidInput)
		}
		u, err := sc.shell(i*m.Norb, m.Norb)
		return u, 0, err
	default:
		return nil, 0, fmt.Errorf("%w: interaction %q", ErrInvalidInput, m.Interaction)
	}
}

// screening holds the onsite screened Coulomb and exchange matrices of a
// RESPACK calculation, indexed by spinless Wannier orbital.
type screening struct {
	u, j *cmat.Dense
}

// readScreening loads R=0 of <seedname>_ur.dat and <seedname>_jr.dat.
func readScreening(seedname string) (*screening, error) {
	var sc screening
	for _, f := range []struct {
		suffix string
		dst    **cmat.Dense
	}{{"_ur.dat", &sc.u}, {"_jr.dat", &sc.j}} {
		h, err := readHoppings(seedname + f.suffix)
		if err != nil {
			return nil, err
		}
		if *f.dst, err = h.onsite(); err != nil {
			return nil, fmt.Errorf("%s%s: %w", seedname, f.suffix, err)
		}
	}
	nu, _ := sc.u.Dims()
	nj, _ := sc.j.Dims()
	if nu != nj {
		return nil, fmt.Errorf("%w: U covers %d orbitals, J covers %d", ErrInvalidInput, nu, nj)
	}
	return &sc, nil
}

// shell maps orbitals [start, start+norb) into a density-density plus
// exchange tensor: U[a,b,a,b]=U_ab, U[a,b,b,a]=U[a,a,b,b]=J_ab and
// U[a,a,a,a]=U_aa.
func (sc *screening) shell(start, norb int) (*interaction.Tensor, error) {
	if n, _ := sc.u.Dims(); start+norb > n {
		return nil, fmt.Errorf("%w: orbitals [%d,%d) outside %d screened orbitals", ErrInvalidInput, start, start+norb, n)
	}
	t := interaction.NewTensor(norb)
	for a := 0; a < norb; a++ {
		for b := 0; b < norb; b++ {
			t.Set(a, b, a, b, sc.u.At(start+a, start+b))
			t.Set(a, b, b, a, sc.j.At(start+a, start+b))
			t.Set(a, a, b, b, sc.j.At(start+a, start+b))
		}
	}
	for a := 0; a < norb; a++ {
		t.Set(a, a, a, a, sc.u.At(start+a, start+a))
	}
	return t, nil
}

func slaterShell(l int, f []float64, norb int) (*interaction.Tensor, error) {
	full, err := interaction.Slater(l, f)
	if err != nil {
		return nil, err
	}
	return interaction.ReduceShell(full, l, norb)
}

// equivalence maps shell labels to class indices in order of first
// appearance. Without labels every shell is its own class.
func equivalence(labels []string, ncor int) []int {
	out := make([]int, ncor)
	if len(labels) == 0 {
		for i := range out {
			out[i] = i
		}
		return out
	}
	seen := make(map[string]int)
	for i, l := range labels {
		c, ok := seen[l]
		if !ok {
			c = len(seen)
			seen[l] = c
		}
		out[i] = c
	}
	return out
}
