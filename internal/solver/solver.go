// Package solver defines the impurity solver contract, the name registry
// that selects a variant, and the built-in variants.
//
// A solver is constructed once per inequivalent subspace and called once per
// iteration. Every call returns fresh snapshots; nothing handed to Solve is
// mutated.
package solver

import (
	"context"

	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
)

// Structure is the fixed shape of one subspace problem. Rank is the
// solving rank; solvers that touch the filesystem keep ranks apart by it.
type Structure struct {
	Beta     float64
	NIw      int
	NTau     int
	Blocks   []gf.BlockSpec
	Subspace int
	Rank     int
}

// Mesh returns the Matsubara mesh of s.
func (s Structure) Mesh() gf.Mesh { return gf.Mesh{Beta: s.Beta, NIw: s.NIw} }

// Input is one solve request. G0 is expressed in the basis Hint was built in.
type Input struct {
	G0   *gf.BlockGf
	Hint interaction.Operator
	Seed int64
	// NL > 0 requests Legendre coefficients of G.
	NL int
}

// Result is the outcome of one solve. Legendre is nil unless requested and
// supported.
type Result struct {
	Sigma    *gf.BlockGf
	G        *gf.BlockGf
	G0       *gf.BlockGf
	Legendre *gf.Legendre
}

type Solver interface {
	Name() string
	Solve(ctx context.Context, in Input) (Result, error)
}

// TailFitter is implemented by solvers whose self-energy benefits from a
// high-frequency fit after the solve.
type TailFitter interface {
	TailFit(r Result, maxMoment int, minW, maxW float64) (Result, error)
}

// Seed is the per-rank, per-subspace seed handed to stochastic solvers.
func Seed(rank, subspace int) int64 {
	return 34788 + 928374*int64(rank) + 1000*int64(subspace)
}

// fitSigmaTail refits the tail of r.Sigma and re-dresses G from it.
func fitSigmaTail(r Result, maxMoment int, minW, maxW float64) (Result, error) {
	sigma, err := gf.FitTail(r.Sigma, maxMoment, minW, maxW)
	if err != nil {
		return Result{}, err
	}
	g, err := gf.Dress(r.G0, sigma)
	if err != nil {
		return Result{}, err
	}
	r.Sigma = sigma
	r.G = g
	return r, nil
}
