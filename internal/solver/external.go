package solver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/tools"
	"github.com/rs/zerolog/log"
)

const ExternalName = "external"

// Bundle entry names shared with external solver executables.
const (
	InputFile     = "input.db"
	OutputFile    = "output.db"
	EntryBeta     = "beta"
	EntryNIw      = "n_iw"
	EntryNTau     = "n_tau"
	EntryNL       = "n_l"
	EntrySeed     = "seed"
	EntrySubspace = "subspace"
	EntryG0       = "G0_iw"
	EntryHint     = "h_int"
	EntrySigma    = "Sigma_iw"
	EntryLegendre = "G_l"
)

// ExternalParams configures a solver executable invoked as
// `command args... <input.db> <output.db>`.
type ExternalParams struct {
	Command   string
	Args      []string
	Workdir   string
	Verbosity int
}

func externalVariant() Variant {
	return Variant{
		Name:        ExternalName,
		Description: "runs a solver executable on an archived input bundle",
		Schema: Schema{
			{Name: "command", Kind: KindString, Required: true},
			{Name: "args", Kind: KindStrings, Default: []string{}},
			{Name: "workdir", Kind: KindString, Default: ""},
			{Name: "verbosity", Kind: KindInt, Default: 0},
		},
		New: func(st Structure, v Values) (Solver, error) {
			p := ExternalParams{
				Command:   v.String("command"),
				Args:      v.Strings("args"),
				Workdir:   v.String("workdir"),
				Verbosity: v.Int("verbosity"),
			}
			return NewExternal(st, p, tools.ExecRunner{})
		},
	}
}

type External struct {
	st     Structure
	params ExternalParams
	runner tools.CommandRunner
}

func NewExternal(st Structure, p ExternalParams, runner tools.CommandRunner) (*External, error) {
	if strings.TrimSpace(p.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrParameterFormat)
	}
	if runner == nil {
		return nil, errors.New("solver: external solver needs a command runner")
	}
	return &External{st: st, params: p, runner: runner}, nil
}

func (s *External) Name() string { return ExternalName }

func (s *External) Solve(ctx context.Context, in Input) (Result, error) {
	if err := checkInput(s.st, in); err != nil {
		return Result{}, err
	}
	dir, cleanup, err := s.workdir()
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	inPath := filepath.Join(dir, InputFile)
	outPath := filepath.Join(dir, OutputFile)
	if err := s.writeInput(ctx, inPath, in); err != nil {
		return Result{}, err
	}

	args := append(append([]string(nil), s.params.Args...), inPath, outPath)
	stdout, stderr, code, err := s.runner.Run(ctx, dir, s.params.Command, args...)
	if s.params.Verbosity > 0 && len(stdout) > 0 {
		log.Info().Str("solver", ExternalName).Int("subspace", s.st.Subspace).Msg(strings.TrimSpace(string(stdout)))
	}
	if err != nil || code != 0 {
		return Result{}, fmt.Errorf("%w: %s exited %d: %v: %s", ErrSolveFailed, s.params.Command, code, err,
			strings.TrimSpace(string(stderr)))
	}
	return s.readOutput(ctx, outPath, in)
}

func (s *External) TailFit(r Result, maxMoment int, minW, maxW float64) (Result, error) {
	return fitSigmaTail(r, maxMoment, minW, maxW)
}

func (s *External) workdir() (string, func(), error) {
	if s.params.Workdir == "" {
		dir, err := os.MkdirTemp("", "dmftctl-solver-")
		if err != nil {
			return "", nil, fmt.Errorf("solver: create workdir: %w", err)
		}
		return dir, func() { _ = os.RemoveAll(dir) }, nil
	}
	dir := filepath.Join(s.params.Workdir, fmt.Sprintf("subspace-%d", s.st.Subspace), fmt.Sprintf("rank-%d", s.st.Rank))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("solver: create workdir: %w", err)
	}
	for _, name := range []string{InputFile, OutputFile} {
		_ = os.Remove(filepath.Join(dir, name))
	}
	return dir, func() {}, nil
}

func (s *External) writeInput(ctx context.Context, path string, in Input) (err error) {
	a, err := checkpoint.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	ints := []struct {
		name string
		v    int
	}{
		{EntryNIw, s.st.NIw}, {EntryNTau, s.st.NTau}, {EntryNL, in.NL},
		{EntrySeed, int(in.Seed)}, {EntrySubspace, s.st.Subspace},
	}
	if err := a.PutFloat(ctx, EntryBeta, s.st.Beta); err != nil {
		return err
	}
	for _, e := range ints {
		if err := a.PutInt(ctx, e.name, e.v); err != nil {
			return err
		}
	}
	if err := a.PutBlockGf(ctx, EntryG0, in.G0); err != nil {
		return err
	}
	return a.PutText(ctx, EntryHint, in.Hint.String())
}

func (s *External) readOutput(ctx context.Context, path string, in Input) (Result, error) {
	a, err := checkpoint.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer a.Close()

	sigma, err := a.BlockGf(ctx, EntrySigma)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read %s: %v", ErrSolveFailed, EntrySigma, err)
	}
	if !sigma.SameStructure(in.G0) {
		return Result{}, fmt.Errorf("%w: returned self-energy does not match the Weiss field", gf.ErrBlockMismatch)
	}
	g, err := gf.Dress(in.G0, sigma)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	res := Result{Sigma: sigma, G: g, G0: in.G0.Clone()}
	if in.NL > 0 {
		gl, err := a.Legendre(ctx, EntryLegendre)
		switch {
		case err == nil:
			res.Legendre = gl
		case errors.Is(err, checkpoint.ErrNotFound):
			res.Legendre = gf.ToLegendre(g, in.NL)
		default:
			return Result{}, err
		}
	}
	return res, nil
}
