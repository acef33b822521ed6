package dmft

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/config"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/lattice"
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/danmuck/dmftctl/internal/solver"
	"github.com/rs/zerolog/log"
)

var ErrModel = errors.New("dmft: model unavailable")

// Execute runs a complete calculation on p.System.Ranks in-process ranks
// and returns the coordinator's summary.
func Execute(ctx context.Context, p config.Params) (Summary, error) {
	return ExecuteWith(ctx, p, solver.Builtin())
}

// ExecuteWith is Execute with a caller-supplied solver registry.
func ExecuteWith(ctx context.Context, p config.Params, reg *solver.Registry) (Summary, error) {
	var summary Summary
	err := parallel.Run(ctx, p.System.Ranks, func(ctx context.Context, c parallel.Comm) error {
		s, err := executeRank(ctx, c, p, reg)
		if err != nil {
			return err
		}
		if c.IsCoordinator() {
			summary = s
		}
		return nil
	})
	return summary, err
}

// executeRank is one rank's share of a calculation. Failures that only the
// coordinator can observe are broadcast so every rank returns the same
// sentinel.
func executeRank(ctx context.Context, c parallel.Comm, p config.Params, reg *solver.Registry) (Summary, error) {
	var out *checkpoint.Archive
	opened := &store{comm: c}
	err := opened.coordinate(ctx, func() error {
		var err error
		out, err = checkpoint.Open(p.OutputFile())
		return err
	})
	if err != nil {
		return Summary{}, err
	}
	if out != nil {
		defer out.Close()
	}
	model, err := shareModel(ctx, c, p.ModelFile())
	if err != nil {
		return Summary{}, err
	}
	backend, err := lattice.NewSumK(model, gf.Mesh{Beta: p.System.Beta, NIw: p.System.NIw}, c, p.System.WithDC)
	if err != nil {
		return Summary{}, err
	}
	o, err := New(Config{Params: p, Comm: c, Backend: backend, Archive: out, Registry: reg})
	if err != nil {
		return Summary{}, err
	}
	return o.Run(ctx)
}

// shareModel loads the model archive on the coordinator and hands a copy to
// every rank. A nil broadcast tells peers the load failed.
func shareModel(ctx context.Context, c parallel.Comm, file string) (*lattice.Model, error) {
	var model *lattice.Model
	var cause error
	if c.IsCoordinator() {
		model, cause = readModel(ctx, file)
	}
	got, err := parallel.Broadcast(ctx, c, model, func(m *lattice.Model) *lattice.Model {
		if m == nil {
			return nil
		}
		return m.Clone()
	})
	if err != nil {
		return nil, err
	}
	if got == nil {
		if cause != nil {
			return nil, fmt.Errorf("%w: %v", ErrModel, cause)
		}
		return nil, ErrModel
	}
	return got, nil
}

func readModel(ctx context.Context, file string) (*lattice.Model, error) {
	a, err := checkpoint.Open(file)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	m, err := lattice.LoadModel(ctx, a)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", file).Int("shells", len(m.Shells)).Int("ineq", m.NIneq()).Msg("model loaded")
	return m, nil
}
