// Package lattice provides the embedding backend of the self-consistency
// loop: the pre-processed lattice model and a k-summation backend that maps
// impurity self-energies onto local Green's functions.
package lattice

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
)

// Namespace is the archive group holding the model.
const Namespace = "model"

var ErrInvalidModel = errors.New("lattice: invalid model")

// Shell is one correlated shell: a contiguous orbital window of the lattice
// Hamiltonian. Dim counts spin-orbitals for spin-orbit models and orbitals
// otherwise.
type Shell struct {
	Offset int
	Dim    int
	Ineq   int
	L      int
}

// Model is the lattice description consumed by SumK.
type Model struct {
	SpinOrbit bool
	Nelec     float64
	Weights   []float64
	Hk        []*cmat.Dense
	Shells    []Shell
	// Umat holds the spin-doubled interaction tensor of every shell.
	Umat []*interaction.Tensor
}

// Dim is the dimension of H(k).
func (m *Model) Dim() int {
	if len(m.Hk) == 0 {
		return 0
	}
	r, _ := m.Hk[0].Dims()
	return r
}

// NIneq is the number of inequivalent shells.
func (m *Model) NIneq() int {
	n := 0
	for _, s := range m.Shells {
		n = max(n, s.Ineq+1)
	}
	return n
}

// Representative returns the first shell of class ineq.
func (m *Model) Representative(ineq int) int {
	for i, s := range m.Shells {
		if s.Ineq == ineq {
			return i
		}
	}
	return -1
}

// BlockNames lists the spin blocks of the model.
func (m *Model) BlockNames() []string {
	if m.SpinOrbit {
		return []string{"ud"}
	}
	return []string{"up", "down"}
}

// ShellBlocks is the block structure of shell i.
func (m *Model) ShellBlocks(i int) []gf.BlockSpec {
	names := m.BlockNames()
	out := make([]gf.BlockSpec, len(names))
	for b, name := range names {
		out[b] = gf.BlockSpec{Name: name, Dim: m.Shells[i].Dim}
	}
	return out
}

// Validate checks internal consistency.
func (m *Model) Validate() error {
	switch {
	case len(m.Hk) == 0 || len(m.Hk) != len(m.Weights):
		return fmt.Errorf("%w: %d k-points with %d weights", ErrInvalidModel, len(m.Hk), len(m.Weights))
	case len(m.Shells) == 0:
		return fmt.Errorf("%w: no correlated shells", ErrInvalidModel)
	case len(m.Umat) != len(m.Shells):
		return fmt.Errorf("%w: %d interaction tensors for %d shells", ErrInvalidModel, len(m.Umat), len(m.Shells))
	}
	dim := m.Dim()
	states := float64(dim)
	if !m.SpinOrbit {
		states *= 2
	}
	if m.Nelec <= 0 || m.Nelec >= states {
		return fmt.Errorf("%w: nelec %g outside (0, %g)", ErrInvalidModel, m.Nelec, states)
	}
	for k, h := range m.Hk {
		if r, c := h.Dims(); r != dim || c != dim {
			return fmt.Errorf("%w: H(k=%d) is %dx%d", ErrInvalidModel, k, r, c)
		}
	}
	for i, s := range m.Shells {
		if s.Offset < 0 || s.Dim < 1 || s.Offset+s.Dim > dim {
			return fmt.Errorf("%w: shell %d window [%d,%d) outside %d", ErrInvalidModel, i, s.Offset, s.Offset+s.Dim, dim)
		}
		if s.Ineq < 0 || m.Representative(s.Ineq) < 0 {
			return fmt.Errorf("%w: shell %d has class %d", ErrInvalidModel, i, s.Ineq)
		}
		want := 2 * s.Dim
		if m.SpinOrbit {
			want = s.Dim
		}
		if m.Umat[i].N != want {
			return fmt.Errorf("%w: shell %d tensor dimension %d, want %d", ErrInvalidModel, i, m.Umat[i].N, want)
		}
	}
	for c := 0; c < m.NIneq(); c++ {
		if m.Representative(c) < 0 {
			return fmt.Errorf("%w: class %d has no shell", ErrInvalidModel, c)
		}
		rep := m.Shells[m.Representative(c)]
		for _, s := range m.Shells {
			if s.Ineq == c && s.Dim != rep.Dim {
				return fmt.Errorf("%w: class %d mixes dimensions %d and %d", ErrInvalidModel, c, rep.Dim, s.Dim)
			}
		}
	}
	return nil
}

func shellPath(i int, leaf string) string {
	return checkpoint.Join(Namespace, "shells", strconv.Itoa(i), leaf)
}

// Save writes m under Namespace, replacing any previous model.
func (m *Model) Save(ctx context.Context, a *checkpoint.Archive) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := a.Delete(ctx, Namespace); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return err
	}
	so := 0
	if m.SpinOrbit {
		so = 1
	}
	if err := a.PutInt(ctx, checkpoint.Join(Namespace, "spin_orbit"), so); err != nil {
		return err
	}
	if err := a.PutFloat(ctx, checkpoint.Join(Namespace, "nelec"), m.Nelec); err != nil {
		return err
	}
	w := cmat.New(len(m.Weights), 1)
	for k, v := range m.Weights {
		w.Set(k, 0, complex(v, 0))
	}
	if err := a.PutMatrices(ctx, checkpoint.Join(Namespace, "weights"), []string{"w"}, map[string]*cmat.Dense{"w": w}); err != nil {
		return err
	}
	names := make([]string, len(m.Hk))
	hk := make(map[string]*cmat.Dense, len(m.Hk))
	for k, h := range m.Hk {
		names[k] = strconv.Itoa(k)
		hk[names[k]] = h
	}
	if err := a.PutMatrices(ctx, checkpoint.Join(Namespace, "hk"), names, hk); err != nil {
		return err
	}
	for i, s := range m.Shells {
		for _, f := range []struct {
			leaf string
			v    int
		}{{"offset", s.Offset}, {"dim", s.Dim}, {"ineq", s.Ineq}, {"l", s.L}} {
			if err := a.PutInt(ctx, shellPath(i, f.leaf), f.v); err != nil {
				return err
			}
		}
		if err := a.PutTensor(ctx, shellPath(i, "umat"), m.Umat[i]); err != nil {
			return err
		}
	}
	return nil
}

// LoadModel reads the model written by Save.
func LoadModel(ctx context.Context, a *checkpoint.Archive) (*Model, error) {
	m := &Model{}
	so, err := a.Int(ctx, checkpoint.Join(Namespace, "spin_orbit"))
	if err != nil {
		return nil, err
	}
	m.SpinOrbit = so != 0
	if m.Nelec, err = a.Float(ctx, checkpoint.Join(Namespace, "nelec")); err != nil {
		return nil, err
	}
	_, w, err := a.Matrices(ctx, checkpoint.Join(Namespace, "weights"))
	if err != nil {
		return nil, err
	}
	if w["w"] == nil {
		return nil, fmt.Errorf("%w: weights entry has no vector", ErrInvalidModel)
	}
	nk, _ := w["w"].Dims()
	m.Weights = make([]float64, nk)
	for k := range m.Weights {
		m.Weights[k] = real(w["w"].At(k, 0))
	}
	names, hk, err := a.Matrices(ctx, checkpoint.Join(Namespace, "hk"))
	if err != nil {
		return nil, err
	}
	m.Hk = make([]*cmat.Dense, len(names))
	for k, name := range names {
		m.Hk[k] = hk[name]
	}
	shells, err := a.Children(ctx, checkpoint.Join(Namespace, "shells"))
	if err != nil {
		return nil, err
	}
	m.Shells = make([]Shell, len(shells))
	m.Umat = make([]*interaction.Tensor, len(shells))
	for i := range shells {
		s := &m.Shells[i]
		for _, f := range []struct {
			leaf string
			dst  *int
		}{{"offset", &s.Offset}, {"dim", &s.Dim}, {"ineq", &s.Ineq}, {"l", &s.L}} {
			if *f.dst, err = a.Int(ctx, shellPath(i, f.leaf)); err != nil {
				return nil, err
			}
		}
		if m.Umat[i], err = a.Tensor(ctx, shellPath(i, "umat")); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	out := &Model{
		SpinOrbit: m.SpinOrbit,
		Nelec:     m.Nelec,
		Weights:   append([]float64(nil), m.Weights...),
		Hk:        make([]*cmat.Dense, len(m.Hk)),
		Shells:    append([]Shell(nil), m.Shells...),
		Umat:      make([]*interaction.Tensor, len(m.Umat)),
	}
	for k, h := range m.Hk {
		out.Hk[k] = h.Clone()
	}
	for i, u := range m.Umat {
		out.Umat[i] = u.Clone()
	}
	return out
}
