package lattice

import (
	"context"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
)

// Backend is the embedding step seen by the self-consistency loop. Every
// method taking a context is collective: all ranks call it in the same
// order.
type Backend interface {
	// Structure of inequivalent shell i.
	Blocks(ineq int) []gf.BlockSpec
	NIneq() int
	NShells() int
	// Ineq maps a correlated shell to its class.
	Ineq(shell int) int
	SpinOrbit() bool
	// Umat is the spin-doubled interaction tensor of a correlated shell.
	Umat(shell int) *interaction.Tensor

	SetSigma(sigma []*gf.BlockGf) error
	SetMu(mu float64)
	Mu() float64
	CalcMu(ctx context.Context, prec float64) (float64, error)
	ExtractGLoc(ctx context.Context) ([]*gf.BlockGf, error)
	DensityMatrix(ctx context.Context) ([]map[string]*cmat.Dense, error)
	LocalLevels() []map[string]*cmat.Dense
	SetDC(dcImp []map[string]*cmat.Dense, dcEnerg []float64) error

	State() State
	Restore(s State) error
	Save(ctx context.Context, a *checkpoint.Archive) error
	Load(ctx context.Context, a *checkpoint.Archive) (State, error)
}
