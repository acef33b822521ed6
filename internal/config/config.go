// Package config loads the run parameter set from a TOML input file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

var (
	ErrInvalid    = errors.New("config: invalid parameter")
	ErrUnknownKey = errors.New("config: unknown key")
)

// Params is the complete parameter set of one run.
type Params struct {
	Model          Model          `toml:"model"`
	System         System         `toml:"system"`
	Control        Control        `toml:"control"`
	ImpuritySolver ImpuritySolver `toml:"impurity_solver"`
}

type Model struct {
	Seedname       string      `toml:"seedname"`
	Lattice        string      `toml:"lattice"`
	Norb           int         `toml:"norb"`
	Ncor           int         `toml:"ncor"`
	Nelec          float64     `toml:"nelec"`
	T              float64     `toml:"t"`
	TPrime         float64     `toml:"t_prime"`
	Equiv          []string    `toml:"equiv"`
	Interaction    string      `toml:"interaction"`
	Kanamori       [][]float64 `toml:"kanamori"`
	SlaterUJ       [][]float64 `toml:"slater_uj"`
	SlaterF        [][]float64 `toml:"slater_f"`
	SpinOrbit      bool        `toml:"spin_orbit"`
	NonColinear    bool        `toml:"non_colinear"`
	DensityDensity bool        `toml:"density_density"`
}

type System struct {
	Beta           float64 `toml:"beta"`
	NIw            int     `toml:"n_iw"`
	NTau           int     `toml:"n_tau"`
	NL             int     `toml:"n_l"`
	NK             int     `toml:"nk"`
	NK0            int     `toml:"nk0"`
	NK1            int     `toml:"nk1"`
	NK2            int     `toml:"nk2"`
	Mu             float64 `toml:"mu"`
	FixMu          bool    `toml:"fix_mu"`
	PrecMu         float64 `toml:"prec_mu"`
	WithDC         bool    `toml:"with_dc"`
	PerformTailFit bool    `toml:"perform_tail_fit"`
	FitMaxMoment   int     `toml:"fit_max_moment"`
	FitMinW        float64 `toml:"fit_min_w"`
	FitMaxW        float64 `toml:"fit_max_w"`
	Ranks          int     `toml:"ranks"`
}

type Control struct {
	MaxStep        int     `toml:"max_step"`
	SigmaMix       float64 `toml:"sigma_mix"`
	Restart        bool    `toml:"restart"`
	OutputGroup    string  `toml:"output_group"`
	ConvergenceTol float64 `toml:"convergence_tol"`
}

// ImpuritySolver selects a solver variant. Params carries legacy
// "name{type}=value" strings; Options carries typed values for the same
// variant and wins on conflicts.
type ImpuritySolver struct {
	Name    string         `toml:"name"`
	Params  []string       `toml:"params"`
	Options map[string]any `toml:"options"`
}

// Default returns the parameter set used for every undefined key.
func Default() Params {
	return Params{
		Model: Model{
			Seedname:    "dmft",
			Lattice:     "chain",
			Norb:        1,
			Ncor:        1,
			Nelec:       1.0,
			T:           1.0,
			Interaction: "kanamori",
			Kanamori:    [][]float64{{1.1, 0, 0}},
		},
		System: System{
			Beta:         1.0,
			NIw:          2048,
			NTau:         10000,
			NK:           8,
			PrecMu:       1e-4,
			FitMaxMoment: 2,
			FitMinW:      5.0,
			FitMaxW:      10.0,
			Ranks:        1,
		},
		Control: Control{
			MaxStep:     100,
			SigmaMix:    0.5,
			OutputGroup: "dmft_out",
		},
		ImpuritySolver: ImpuritySolver{Name: "hartree-fock"},
	}
}

// Load decodes path over Default and validates the result.
func Load(path string) (Params, error) {
	p := Default()
	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Params{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return finish(p, meta)
}

// Parse is Load for in-memory input.
func Parse(data string) (Params, error) {
	p := Default()
	meta, err := toml.Decode(data, &p)
	if err != nil {
		return Params{}, fmt.Errorf("config parse failed: %w", err)
	}
	return finish(p, meta)
}

func finish(p Params, meta toml.MetaData) (Params, error) {
	for _, key := range meta.Undecoded() {
		if len(key) > 2 && key[0] == "impurity_solver" && key[1] == "options" {
			continue
		}
		return Params{}, fmt.Errorf("%w: %s", ErrUnknownKey, key.String())
	}
	p.Model.Seedname = strings.TrimSpace(p.Model.Seedname)
	p.ImpuritySolver.Name = strings.TrimSpace(p.ImpuritySolver.Name)
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks ranges and cross-field consistency.
func (p Params) Validate() error {
	s, c, m := p.System, p.Control, p.Model
	switch {
	case m.Seedname == "":
		return fmt.Errorf("%w: model.seedname is required", ErrInvalid)
	case m.Norb < 1:
		return fmt.Errorf("%w: model.norb must be positive", ErrInvalid)
	case m.Ncor < 1:
		return fmt.Errorf("%w: model.ncor must be positive", ErrInvalid)
	case len(m.Equiv) != 0 && len(m.Equiv) != m.Ncor:
		return fmt.Errorf("%w: model.equiv has %d entries for %d shells", ErrInvalid, len(m.Equiv), m.Ncor)
	case s.Beta <= 0:
		return fmt.Errorf("%w: system.beta must be positive", ErrInvalid)
	case s.NIw < 1:
		return fmt.Errorf("%w: system.n_iw must be positive", ErrInvalid)
	case s.NL < 0:
		return fmt.Errorf("%w: system.n_l must not be negative", ErrInvalid)
	case s.NK < 1:
		return fmt.Errorf("%w: system.nk must be positive", ErrInvalid)
	case s.NK0 < 0 || s.NK1 < 0 || s.NK2 < 0:
		return fmt.Errorf("%w: system.nk0, nk1 and nk2 must not be negative", ErrInvalid)
	case m.NonColinear && m.SpinOrbit:
		return fmt.Errorf("%w: model.non_colinear and model.spin_orbit are exclusive", ErrInvalid)
	case m.NonColinear && m.Lattice != "wannier90":
		return fmt.Errorf("%w: model.non_colinear needs lattice wannier90", ErrInvalid)
	case !s.FixMu && s.PrecMu <= 0:
		return fmt.Errorf("%w: system.prec_mu must be positive", ErrInvalid)
	case s.Ranks < 1:
		return fmt.Errorf("%w: system.ranks must be positive", ErrInvalid)
	case c.MaxStep < 1:
		return fmt.Errorf("%w: control.max_step must be positive", ErrInvalid)
	case c.SigmaMix < 0 || c.SigmaMix > 1:
		return fmt.Errorf("%w: control.sigma_mix must lie in [0, 1]", ErrInvalid)
	case strings.TrimSpace(c.OutputGroup) == "" || strings.Contains(c.OutputGroup, "/"):
		return fmt.Errorf("%w: control.output_group must be a plain group name", ErrInvalid)
	case p.ImpuritySolver.Name == "":
		return fmt.Errorf("%w: impurity_solver.name is required", ErrInvalid)
	}
	return nil
}

// KGrid is the Wannier90 k grid; a zero axis falls back to nk.
func (s System) KGrid() [3]int {
	grid := [3]int{s.NK0, s.NK1, s.NK2}
	for i, n := range grid {
		if n == 0 {
			grid[i] = s.NK
		}
	}
	return grid
}

// OutputFile is the archive written by a run.
func (p Params) OutputFile() string { return p.Model.Seedname + ".out.db" }

// ModelFile is the archive written by pre-processing.
func (p Params) ModelFile() string { return p.Model.Seedname + ".db" }

// Encode renders p as TOML; the result is the archived parameter snapshot.
func (p Params) Encode() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return "", fmt.Errorf("config encode: %w", err)
	}
	return buf.String(), nil
}
