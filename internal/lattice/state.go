package lattice

import (
	"context"
	"errors"
	"strconv"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
)

// StateNamespace is the archive group holding the backend's own state.
const StateNamespace = "dmft_backend"

// State is the backend-owned part of a run: the chemical potential and the
// double-counting matrices and energies of every correlated shell. DCImp is
// nil until double counting has been computed.
type State struct {
	Mu      float64
	DCImp   []map[string]*cmat.Dense
	DCEnerg []float64
}

func (s State) Clone() State {
	return State{Mu: s.Mu, DCImp: cloneMatrices(s.DCImp), DCEnerg: append([]float64(nil), s.DCEnerg...)}
}

func (s *SumK) State() State {
	return State{Mu: s.mu, DCImp: cloneMatrices(s.dcImp), DCEnerg: append([]float64(nil), s.dcEnerg...)}
}

// Restore replaces mu and, when present, the double counting.
func (s *SumK) Restore(st State) error {
	if st.DCImp != nil {
		if err := s.SetDC(st.DCImp, st.DCEnerg); err != nil {
			return err
		}
	}
	s.mu = st.Mu
	return nil
}

// Save writes the state under StateNamespace. Only the coordinator calls it.
func (s *SumK) Save(ctx context.Context, a *checkpoint.Archive) error {
	if err := a.PutFloat(ctx, checkpoint.Join(StateNamespace, "chemical_potential"), s.mu); err != nil {
		return err
	}
	if s.dcImp == nil {
		return nil
	}
	for i, m := range s.dcImp {
		key := strconv.Itoa(i)
		if err := a.PutMatrices(ctx, checkpoint.Join(StateNamespace, "dc_imp", key), s.model.BlockNames(), m); err != nil {
			return err
		}
		if err := a.PutFloat(ctx, checkpoint.Join(StateNamespace, "dc_energ", key), s.dcEnerg[i]); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the state written by Save without applying it. Missing entries
// keep the backend's current values.
func (s *SumK) Load(ctx context.Context, a *checkpoint.Archive) (State, error) {
	st := s.State()
	mu, err := a.Float(ctx, checkpoint.Join(StateNamespace, "chemical_potential"))
	switch {
	case err == nil:
		st.Mu = mu
	case !errors.Is(err, checkpoint.ErrNotFound):
		return State{}, err
	}

	dcImp := make([]map[string]*cmat.Dense, s.NShells())
	dcEnerg := make([]float64, s.NShells())
	for i := range dcImp {
		key := strconv.Itoa(i)
		_, m, err := a.Matrices(ctx, checkpoint.Join(StateNamespace, "dc_imp", key))
		if errors.Is(err, checkpoint.ErrNotFound) {
			return st, nil
		}
		if err != nil {
			return State{}, err
		}
		dcImp[i] = m
		if dcEnerg[i], err = a.Float(ctx, checkpoint.Join(StateNamespace, "dc_energ", key)); err != nil {
			return State{}, err
		}
	}
	st.DCImp, st.DCEnerg = dcImp, dcEnerg
	return st, nil
}
