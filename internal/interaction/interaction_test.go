package interaction

import (
	"math"
	"testing"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maxImag(t *Tensor) float64 {
	var m float64
	for _, v := range t.Data {
		m = math.Max(m, math.Abs(imag(v)))
	}
	return m
}

func TestThreeJKnownValues(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2.0/15.0), threeJ(1, 0, 1, 0, 2, 0), 1e-14)
	assert.InDelta(t, 1/math.Sqrt(5), threeJ(2, 0, 2, 0, 0, 0), 1e-14)
	assert.Zero(t, threeJ(1, 1, 1, 1, 2, -1))
}

func TestSlaterDShellCubic(t *testing.T) {
	u, j := 4.0, 0.7
	f, err := RadialIntegrals(2, u, j)
	require.NoError(t, err)
	full, err := Slater(2, f)
	require.NoError(t, err)
	require.Equal(t, 5, full.N)
	assert.Less(t, maxImag(full), 1e-12)

	for m := 0; m < 5; m++ {
		assert.InDelta(t, u+8*j/7, real(full.At(m, m, m, m)), 1e-10, "m=%d", m)
	}
	var avg float64
	for a := 0; a < 5; a++ {
		for b := 0; b < 5; b++ {
			avg += real(full.At(a, b, a, b))
		}
	}
	assert.InDelta(t, u, avg/25, 1e-10)
}

func TestSlaterT2gReduction(t *testing.T) {
	f, err := RadialIntegrals(2, 4, 0.7)
	require.NoError(t, err)
	full, err := Slater(2, f)
	require.NoError(t, err)
	t2g, err := ReduceShell(full, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 3, t2g.N)
	assert.InDelta(t, 3.720245, real(t2g.At(0, 1, 0, 1)), 1e-6)
	assert.InDelta(t, 0.539877, real(t2g.At(0, 1, 1, 0)), 1e-6)

	eg, err := ReduceShell(full, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, eg.N)

	_, err = ReduceShell(full, 2, 4)
	require.ErrorIs(t, err, ErrUnsupportedConfiguration)
}

func TestSlaterPShell(t *testing.T) {
	full, err := Slater(1, []float64{3, 2.5})
	require.NoError(t, err)
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			want := 2.8
			if a == b {
				want = 3.4
			}
			assert.InDelta(t, want, real(full.At(a, b, a, b)), 1e-10)
		}
	}
}

func TestSlaterFShellAverage(t *testing.T) {
	f, err := RadialIntegrals(3, 5, 0.8)
	require.NoError(t, err)
	full, err := Slater(3, f)
	require.NoError(t, err)
	assert.Less(t, maxImag(full), 1e-12)
	var avg float64
	for a := 0; a < 7; a++ {
		for b := 0; b < 7; b++ {
			avg += real(full.At(a, b, a, b))
		}
	}
	assert.InDelta(t, 5.0, avg/49, 1e-10)
}

func TestUnsupportedShell(t *testing.T) {
	_, err := RadialIntegrals(4, 1, 0.1)
	require.ErrorIs(t, err, ErrUnsupportedConfiguration)
	_, err = Slater(5, []float64{1})
	require.ErrorIs(t, err, ErrUnsupportedConfiguration)
}

func TestKanamoriEntries(t *testing.T) {
	k := Kanamori(3, 4, 2.6, 0.7)
	assert.Equal(t, complex(4, 0), k.At(1, 1, 1, 1))
	assert.Equal(t, complex(2.6, 0), k.At(0, 2, 0, 2))
	assert.Equal(t, complex(0.7, 0), k.At(0, 2, 2, 0))
	assert.Equal(t, complex(0.7, 0), k.At(0, 0, 2, 2))
	assert.Zero(t, k.At(0, 1, 2, 0))
}

func TestRotateRoundTrip(t *testing.T) {
	u := SpinDouble(Kanamori(2, 3, 2, 0.5))
	h := cmat.New(4, 4)
	h.Set(0, 0, 0.2)
	h.Set(1, 1, -0.3)
	h.Set(0, 1, 0.1+0.2i)
	h.Set(1, 0, 0.1-0.2i)
	h.Set(2, 2, 0.5)
	h.Set(3, 3, 0.1)
	h.Set(2, 3, 0.05i)
	h.Set(3, 2, -0.05i)
	_, r, err := cmat.EigenHermitian(h)
	require.NoError(t, err)

	rotated, err := Rotate(u, r)
	require.NoError(t, err)
	back, err := Rotate(rotated, r.H())
	require.NoError(t, err)
	assert.Less(t, back.MaxAbsDiff(u), 1e-12)

	_, err = Rotate(u, cmat.Identity(3))
	require.Error(t, err)
}

func TestSpinDoubleBlocks(t *testing.T) {
	u := SpinDouble(Kanamori(1, 2, 0, 0))
	assert.Equal(t, complex(2, 0), u.At(0, 1, 0, 1))
	assert.Equal(t, complex(2, 0), u.At(1, 0, 1, 0))
	assert.Zero(t, u.At(0, 1, 1, 0))
}

func TestBuildOperatorHubbardAtom(t *testing.T) {
	u := SpinDouble(Kanamori(1, 2, 0, 0))
	op, err := BuildOperator(u, SpinOrbitalLabels(1, false))
	require.NoError(t, err)
	require.Len(t, op.Terms, 1)
	term := op.Terms[0]
	// U n_up n_dn = U c+_0 c+_1 c_1 c_0
	assert.Equal(t, [2]int{0, 1}, term.Create)
	assert.Equal(t, [2]int{1, 0}, term.Annihilate)
	assert.InDelta(t, 2.0, real(term.Coeff), 1e-14)
	assert.True(t, term.IsDensityDensity())
	assert.Contains(t, op.String(), "c_dag(up:0)")

	_, err = BuildOperator(u, SpinOrbitalLabels(2, false))
	require.Error(t, err)
}

func TestDensityDensityFilter(t *testing.T) {
	u := SpinDouble(Kanamori(2, 4, 2.6, 0.7))
	op, err := BuildOperator(u, SpinOrbitalLabels(2, false))
	require.NoError(t, err)
	dd := DensityDensity(op)
	require.NotEmpty(t, dd.Terms)
	assert.Less(t, len(dd.Terms), len(op.Terms))
	for _, term := range dd.Terms {
		assert.True(t, term.IsDensityDensity())
	}
}

func TestSpinOrbitLabels(t *testing.T) {
	labels := SpinOrbitalLabels(4, true)
	require.Len(t, labels, 4)
	for i, l := range labels {
		assert.Equal(t, Label{Block: "ud", Index: i}, l)
	}
}
