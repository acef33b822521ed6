package lattice

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/danmuck/dmftctl/internal/parallel"
	"github.com/danmuck/dmftctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain is a one-orbital nearest-neighbour chain on nk points.
func chain(nk int, nelec float64) *Model {
	m := &Model{Nelec: nelec}
	for k := 0; k < nk; k++ {
		e := 2 * math.Cos(2*math.Pi*float64(k)/float64(nk))
		m.Hk = append(m.Hk, cmat.Diag([]complex128{complex(e, 0)}))
		m.Weights = append(m.Weights, 1/float64(nk))
	}
	m.Shells = []Shell{{Offset: 0, Dim: 1}}
	m.Umat = []*interaction.Tensor{interaction.SpinDouble(interaction.Kanamori(1, 2, 0, 0))}
	return m
}

// dimer has two equivalent one-orbital shells with split levels.
func dimer() *Model {
	m := &Model{Nelec: 2, Weights: []float64{1}}
	m.Hk = []*cmat.Dense{cmat.Diag([]complex128{-0.5, 0.5})}
	m.Shells = []Shell{{Offset: 0, Dim: 1}, {Offset: 1, Dim: 1}}
	u := interaction.SpinDouble(interaction.Kanamori(1, 1, 0, 0))
	m.Umat = []*interaction.Tensor{u, u.Clone()}
	return m
}

func openArchive(t *testing.T) *checkpoint.Archive {
	t.Helper()
	a, err := checkpoint.Open(filepath.Join(t.TempDir(), "model.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestModelValidate(t *testing.T) {
	require.NoError(t, chain(4, 1).Validate())

	bad := chain(4, 1)
	bad.Weights = bad.Weights[:2]
	require.ErrorIs(t, bad.Validate(), ErrInvalidModel)

	bad = chain(4, 2)
	require.ErrorIs(t, bad.Validate(), ErrInvalidModel)

	bad = chain(4, 1)
	bad.Shells[0].Dim = 2
	require.ErrorIs(t, bad.Validate(), ErrInvalidModel)

	bad = chain(4, 1)
	bad.Shells[0].Ineq = 1
	require.ErrorIs(t, bad.Validate(), ErrInvalidModel)

	bad = chain(4, 1)
	bad.SpinOrbit = true
	bad.Nelec = 0.5
	require.ErrorIs(t, bad.Validate(), ErrInvalidModel)
}

func TestModelSaveLoad(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	a := openArchive(t)
	m := dimer()
	m.Shells[1].L = 2
	require.NoError(t, m.Save(ctx, a))
	require.NoError(t, m.Save(ctx, a))

	got, err := LoadModel(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, m.Shells, got.Shells)
	assert.Equal(t, m.Weights, got.Weights)
	assert.Equal(t, m.Nelec, got.Nelec)
	assert.False(t, got.SpinOrbit)
	require.Len(t, got.Hk, 1)
	assert.Zero(t, cmat.MaxAbsDiff(m.Hk[0], got.Hk[0]))
	assert.Zero(t, got.Umat[1].MaxAbsDiff(m.Umat[1]))
	assert.Equal(t, 1, got.NIneq())
}

func TestCalcMuHalfFilledChain(t *testing.T) {
	testlog.Start(t)
	s, err := NewSumK(chain(8, 1), gf.Mesh{Beta: 2, NIw: 512}, parallel.Solo(), false)
	require.NoError(t, err)
	s.SetMu(0.8)
	mu, err := s.CalcMu(context.Background(), 1e-6)
	require.NoError(t, err)
	assert.InDelta(t, 0, mu, 1e-4)
	assert.Equal(t, mu, s.Mu())

	n, err := s.TotalDensity(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1, n, 1e-6)
}

func TestCalcMuQuarterFilling(t *testing.T) {
	s, err := NewSumK(chain(16, 0.5), gf.Mesh{Beta: 4, NIw: 512}, parallel.Solo(), false)
	require.NoError(t, err)
	mu, err := s.CalcMu(context.Background(), 1e-6)
	require.NoError(t, err)
	assert.Less(t, mu, 0.0)
	n, err := s.TotalDensity(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, n, 1e-6)
}

func TestExtractGLocAcrossRanksMatchesSolo(t *testing.T) {
	testlog.Start(t)
	mesh := gf.Mesh{Beta: 5, NIw: 16}
	solo, err := NewSumK(chain(7, 1), mesh, parallel.Solo(), false)
	require.NoError(t, err)
	solo.SetMu(0.2)
	want, err := solo.ExtractGLoc(context.Background())
	require.NoError(t, err)

	got := make([]*gf.BlockGf, 3)
	err = parallel.Run(context.Background(), 3, func(ctx context.Context, c parallel.Comm) error {
		s, err := NewSumK(chain(7, 1), mesh, c, false)
		if err != nil {
			return err
		}
		s.SetMu(0.2)
		g, err := s.ExtractGLoc(ctx)
		if err != nil {
			return err
		}
		got[c.Rank()] = g[0]
		return nil
	})
	require.NoError(t, err)
	for rank, g := range got {
		d, err := gf.MaxAbsDiff(g, want[0])
		require.NoError(t, err)
		assert.Less(t, d, 1e-12, "rank %d", rank)
	}
}

func TestExtractGLocAveragesEquivalentShells(t *testing.T) {
	mesh := gf.Mesh{Beta: 10, NIw: 8}
	s, err := NewSumK(dimer(), mesh, parallel.Solo(), false)
	require.NoError(t, err)
	g, err := s.ExtractGLoc(context.Background())
	require.NoError(t, err)
	require.Len(t, g, 1)

	up, _ := g[0].Block("up")
	for n := range up.Data {
		iw := mesh.IOmega(n)
		want := (1/(iw+0.5) + 1/(iw-0.5)) / 2
		assert.InDelta(t, 0, cmplxAbs(up.Data[n].At(0, 0)-want), 1e-12)
	}

	dm, err := s.DensityMatrix(context.Background())
	require.NoError(t, err)
	require.Len(t, dm, 2)
	assert.Greater(t, real(dm[0]["up"].At(0, 0)), real(dm[1]["up"].At(0, 0)))

	levels := s.LocalLevels()
	require.Len(t, levels, 1)
	assert.InDelta(t, -0.5, real(levels[0]["down"].At(0, 0)), 1e-14)
}

func TestDoubleCountingShiftsLatticeSelfEnergy(t *testing.T) {
	ctx := context.Background()
	mesh := gf.Mesh{Beta: 3, NIw: 64}
	shifted, err := NewSumK(chain(6, 1), mesh, parallel.Solo(), false)
	require.NoError(t, err)
	shifted.SetMu(0.3)
	want, err := shifted.TotalDensity(ctx)
	require.NoError(t, err)

	s, err := NewSumK(chain(6, 1), mesh, parallel.Solo(), true)
	require.NoError(t, err)
	dc := map[string]*cmat.Dense{"up": cmat.Diag([]complex128{0.3}), "down": cmat.Diag([]complex128{0.3})}
	require.NoError(t, s.SetDC([]map[string]*cmat.Dense{dc}, []float64{0.15}))
	got, err := s.TotalDensity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	require.Error(t, s.SetDC(nil, nil))
	require.Error(t, s.SetDC([]map[string]*cmat.Dense{{"up": dc["up"]}}, []float64{0}))
}

func TestSetSigmaValidatesStructure(t *testing.T) {
	mesh := gf.Mesh{Beta: 3, NIw: 4}
	s, err := NewSumK(chain(4, 1), mesh, parallel.Solo(), false)
	require.NoError(t, err)
	require.ErrorIs(t, s.SetSigma(nil), gf.ErrBlockMismatch)
	wrong := gf.New(gf.Mesh{Beta: 3, NIw: 5}, s.Blocks(0))
	require.ErrorIs(t, s.SetSigma([]*gf.BlockGf{wrong}), gf.ErrBlockMismatch)
	require.NoError(t, s.SetSigma([]*gf.BlockGf{gf.New(mesh, s.Blocks(0))}))
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)
	mesh := gf.Mesh{Beta: 3, NIw: 4}
	s, err := NewSumK(chain(4, 1), mesh, parallel.Solo(), true)
	require.NoError(t, err)

	s.SetMu(1.25)
	empty, err := s.Load(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1.25, empty.Mu)
	assert.Nil(t, empty.DCImp)

	dc := map[string]*cmat.Dense{"up": cmat.Diag([]complex128{0.4}), "down": cmat.Diag([]complex128{0.6})}
	require.NoError(t, s.SetDC([]map[string]*cmat.Dense{dc}, []float64{0.2}))
	s.SetMu(-0.5)
	require.NoError(t, s.Save(ctx, a))

	other, err := NewSumK(chain(4, 1), mesh, parallel.Solo(), true)
	require.NoError(t, err)
	st, err := other.Load(ctx, a)
	require.NoError(t, err)
	require.NoError(t, other.Restore(st.Clone()))
	assert.Equal(t, -0.5, other.Mu())
	got := other.State()
	require.Len(t, got.DCImp, 1)
	assert.Equal(t, complex(0.6, 0), got.DCImp[0]["down"].At(0, 0))
	assert.Equal(t, []float64{0.2}, got.DCEnerg)
}

func cmplxAbs(z complex128) float64 { return math.Hypot(real(z), imag(z)) }
