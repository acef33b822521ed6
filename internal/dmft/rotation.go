package dmft

import (
	"fmt"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
)

// basis is the eigenbasis of one subspace's static Weiss level matrix: rot
// holds R per block with eigenvectors as columns, full the same rotation on
// the spin-orbital index of the interaction tensor.
type basis struct {
	rot  map[string]*cmat.Dense
	rotH map[string]*cmat.Dense
	full *cmat.Dense
}

// diagonalBasis diagonalises the static part of g0 block by block. blocks
// fixes the order in which spin blocks stack in the full rotation.
func diagonalBasis(g0 *gf.BlockGf, blocks []gf.BlockSpec) (basis, error) {
	levels, err := gf.StaticLevels(g0)
	if err != nil {
		return basis{}, err
	}
	b := basis{rot: make(map[string]*cmat.Dense), rotH: make(map[string]*cmat.Dense)}
	total := 0
	for _, spec := range blocks {
		_, vecs, err := cmat.EigenHermitian(levels[spec.Name])
		if err != nil {
			return basis{}, fmt.Errorf("dmft: diagonalise block %q: %w", spec.Name, err)
		}
		b.rot[spec.Name] = vecs
		b.rotH[spec.Name] = vecs.H()
		total += spec.Dim
	}
	b.full = cmat.New(total, total)
	off := 0
	for _, spec := range blocks {
		r := b.rot[spec.Name]
		for i := 0; i < spec.Dim; i++ {
			for j := 0; j < spec.Dim; j++ {
				b.full.Set(off+i, off+j, r.At(i, j))
			}
		}
		off += spec.Dim
	}
	return b, nil
}

// hamiltonian rotates u into b and builds the two-body operator, keeping
// only density-density terms when densityOnly is set.
func (b basis) hamiltonian(u *interaction.Tensor, spinOrbit, densityOnly bool) (interaction.Operator, error) {
	rotated, err := interaction.Rotate(u, b.full)
	if err != nil {
		return interaction.Operator{}, err
	}
	dim := u.N
	if !spinOrbit {
		dim /= 2
	}
	op, err := interaction.BuildOperator(rotated, interaction.SpinOrbitalLabels(dim, spinOrbit))
	if err != nil {
		return interaction.Operator{}, err
	}
	if densityOnly {
		op = interaction.DensityDensity(op)
	}
	return op, nil
}

// toSolver maps g into the eigenbasis: R^H g R.
func (b basis) toSolver(g *gf.BlockGf) (*gf.BlockGf, error) {
	return gf.Rotate(g, b.rotH, b.rot)
}

// fromSolver maps g back: R g R^H.
func (b basis) fromSolver(g *gf.BlockGf) (*gf.BlockGf, error) {
	return gf.Rotate(g, b.rot, b.rotH)
}

func (b basis) legendreFromSolver(gl *gf.Legendre) *gf.Legendre {
	return gf.RotateLegendre(gl, b.rot, b.rotH)
}
