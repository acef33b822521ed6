// Package preproc turns the model section of a parameter set into the
// lattice model archive read by the self-consistency loop.
package preproc

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/config"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/danmuck/dmftctl/internal/lattice"
	"github.com/rs/zerolog/log"
)

var ErrInvalidInput = errors.New("preproc: invalid input")

// Build constructs the lattice model: ncor correlated shells of norb
// orbitals each. Preset lattices share one dispersion across every orbital;
// wannier90 reads the full H(R) of the seedname. Spin-orbit and
// non-colinear models carry both spins of a shell in one window.
func Build(p config.Params) (*lattice.Model, error) {
	m := p.Model
	spinOrbit := m.SpinOrbit || m.NonColinear
	shellDim := m.Norb
	if spinOrbit {
		shellDim *= 2
	}
	hk, weights, err := hamiltonian(p, shellDim)
	if err != nil {
		return nil, err
	}
	var sc *screening
	if m.Interaction == "respack" {
		if sc, err = readScreening(m.Seedname); err != nil {
			return nil, err
		}
	}
	classes := equivalence(m.Equiv, m.Ncor)

	model := &lattice.Model{SpinOrbit: spinOrbit, Nelec: m.Nelec, Weights: weights, Hk: hk}
	for i := 0; i < m.Ncor; i++ {
		u, l, err := shellInteraction(m, i, sc)
		if err != nil {
			return nil, fmt.Errorf("shell %d: %w", i, err)
		}
		u.TruncateImag()
		model.Shells = append(model.Shells, lattice.Shell{Offset: i * shellDim, Dim: shellDim, Ineq: classes[i], L: l})
		model.Umat = append(model.Umat, interaction.SpinDouble(u))
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// hamiltonian returns H(k) and the k weights of the configured lattice.
func hamiltonian(p config.Params, shellDim int) ([]*cmat.Dense, []float64, error) {
	m := p.Model
	if m.Lattice == "wannier90" {
		return wannierBands(p, shellDim)
	}
	if m.NonColinear {
		return nil, nil, fmt.Errorf("%w: non_colinear needs lattice wannier90, got %q", ErrInvalidInput, m.Lattice)
	}
	b, err := dispersion(m.Lattice, p.System.NK, m.T, m.TPrime)
	if err != nil {
		return nil, nil, err
	}
	dim := shellDim * m.Ncor
	hk := make([]*cmat.Dense, len(b.energy))
	for k, e := range b.energy {
		diag := make([]complex128, dim)
		for i := range diag {
			diag[i] = complex(e, 0)
		}
		hk[k] = cmat.Diag(diag)
	}
	return hk, b.weights, nil
}

// Write builds the model for p and stores it with the parameter snapshot in
// p.ModelFile().
func Write(ctx context.Context, p config.Params) (err error) {
	model, err := Build(p)
	if err != nil {
		return err
	}
	a, err := checkpoint.Open(p.ModelFile())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	if err := model.Save(ctx, a); err != nil {
		return err
	}
	snapshot, err := p.Encode()
	if err != nil {
		return err
	}
	if err := a.PutText(ctx, checkpoint.Join(lattice.Namespace, "parameters"), snapshot); err != nil {
		return err
	}
	log.Info().
		Str("file", a.File()).
		Str("lattice", p.Model.Lattice).
		Int("kpoints", len(model.Hk)).
		Int("shells", len(model.Shells)).
		Int("inequivalent", model.NIneq()).
		Msg("model written")
	return nil
}
