package dc

import (
	"testing"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagonalInteractionIsPureHartree(t *testing.T) {
	u := interaction.SpinDouble(interaction.Kanamori(2, 3, 0, 0))
	density := map[string]*cmat.Dense{
		"up":   cmat.Diag([]complex128{0.3, 0.6}),
		"down": cmat.Diag([]complex128{0.2, 0.5}),
	}
	got, err := Compute(u, density, false)
	require.NoError(t, err)

	assert.InDelta(t, 3*0.2, real(got["up"].At(0, 0)), 1e-14)
	assert.InDelta(t, 3*0.5, real(got["up"].At(1, 1)), 1e-14)
	assert.InDelta(t, 3*0.3, real(got["down"].At(0, 0)), 1e-14)
	assert.InDelta(t, 3*0.6, real(got["down"].At(1, 1)), 1e-14)
	for _, name := range []string{"up", "down"} {
		assert.Zero(t, got[name].At(0, 1))
		assert.Zero(t, got[name].At(1, 0))
	}
}

func TestCombinedMatchesDecoupledForBlockDiagonalDensity(t *testing.T) {
	u := interaction.SpinDouble(interaction.Kanamori(2, 4, 2.6, 0.7))
	up := cmat.NewFromData(2, 2, []complex128{0.55, 0.05 + 0.02i, 0.05 - 0.02i, 0.4})
	down := cmat.NewFromData(2, 2, []complex128{0.35, -0.03i, 0.03i, 0.45})
	decoupled, err := Compute(u, map[string]*cmat.Dense{"up": up, "down": down}, false)
	require.NoError(t, err)

	ud := cmat.New(4, 4)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			ud.Set(i, j, up.At(i, j))
			ud.Set(i+2, j+2, down.At(i, j))
		}
	}
	combined, err := Compute(u, map[string]*cmat.Dense{"ud": ud}, true)
	require.NoError(t, err)
	got := combined["ud"]

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, 0, sqDiff(got.At(i, j), decoupled["up"].At(i, j)), 1e-14)
			assert.InDelta(t, 0, sqDiff(got.At(i+2, j+2), decoupled["down"].At(i, j)), 1e-14)
			assert.Zero(t, got.At(i, j+2))
			assert.Zero(t, got.At(i+2, j))
		}
	}
}

func TestCombinedExchangeCouplesSpinBlocks(t *testing.T) {
	u := interaction.SpinDouble(interaction.Kanamori(1, 2, 0, 0))
	ud := cmat.NewFromData(2, 2, []complex128{0.5, 0.1, 0.1, 0.5})
	got, err := Compute(u, map[string]*cmat.Dense{"ud": ud}, true)
	require.NoError(t, err)
	// Hartree: U (n_uu + n_dd) on the diagonal; exchange: -U n_ss' everywhere.
	assert.InDelta(t, 2*1.0-2*0.5, real(got["ud"].At(0, 0)), 1e-14)
	assert.InDelta(t, -2*0.1, real(got["ud"].At(0, 1)), 1e-14)
	assert.InDelta(t, -2*0.1, real(got["ud"].At(1, 0)), 1e-14)
}

func TestComputeRejectsMissingBlocks(t *testing.T) {
	u := interaction.SpinDouble(interaction.Kanamori(1, 2, 0, 0))
	_, err := Compute(u, map[string]*cmat.Dense{"up": cmat.Identity(1)}, false)
	require.ErrorIs(t, err, ErrDensityShape)
	_, err = Compute(u, map[string]*cmat.Dense{"up": cmat.Identity(3)}, true)
	require.ErrorIs(t, err, ErrDensityShape)
}

func TestEnergy(t *testing.T) {
	dcm := map[string]*cmat.Dense{"up": cmat.Diag([]complex128{1, 2})}
	n := map[string]*cmat.Dense{"up": cmat.Diag([]complex128{0.5, 0.25})}
	assert.InDelta(t, 0.5, Energy(dcm, n), 1e-14)
}

func sqDiff(a, b complex128) float64 {
	d := a - b
	return real(d)*real(d) + imag(d)*imag(d)
}
