package gf

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var spinSpecs = []BlockSpec{{Name: "up", Dim: 2}, {Name: "down", Dim: 2}}

func levels() map[string]*cmat.Dense {
	eps := cmat.NewFromData(2, 2, []complex128{0.3, 0.1 - 0.05i, 0.1 + 0.05i, -0.2})
	return map[string]*cmat.Dense{"up": eps, "down": cmat.Scale(-1, eps)}
}

func TestMixEndpointsAndInterpolation(t *testing.T) {
	mesh := Mesh{Beta: 10, NIw: 16}
	a, err := Atomic(mesh, spinSpecs, levels(), 0)
	require.NoError(t, err)
	b, err := Atomic(mesh, spinSpecs, levels(), 0.7)
	require.NoError(t, err)

	same, err := Mix(a, b, 1)
	require.NoError(t, err)
	d, err := MaxAbsDiff(same, a)
	require.NoError(t, err)
	assert.Zero(t, d)

	for _, alpha := range []float64{0, 0.25, 0.5, 0.9} {
		mixed, err := Mix(a, b, alpha)
		require.NoError(t, err)
		for bi, blk := range mixed.Blocks {
			for n, m := range blk.Data {
				want := cmat.Add(cmat.Scale(complex(alpha, 0), a.Blocks[bi].Data[n]),
					cmat.Scale(complex(1-alpha, 0), b.Blocks[bi].Data[n]))
				assert.Less(t, cmat.MaxAbsDiff(m, want), 1e-14)
			}
		}
	}
}

func TestMixRejectsStructureMismatch(t *testing.T) {
	a := New(Mesh{Beta: 1, NIw: 4}, spinSpecs)
	b := New(Mesh{Beta: 1, NIw: 4}, []BlockSpec{{Name: "ud", Dim: 4}})
	_, err := Mix(a, b, 0.5)
	require.ErrorIs(t, err, ErrBlockMismatch)
}

func TestDysonRoundTrip(t *testing.T) {
	mesh := Mesh{Beta: 5, NIw: 8}
	g0, err := Atomic(mesh, spinSpecs, levels(), 0.1)
	require.NoError(t, err)
	sigma, err := Constant(mesh, spinSpecs, map[string]*cmat.Dense{
		"up":   cmat.NewFromData(2, 2, []complex128{0.5, 0, 0, 0.25}),
		"down": cmat.NewFromData(2, 2, []complex128{0.1, 0.02, 0.02, 0.3}),
	})
	require.NoError(t, err)

	g, err := Dress(g0, sigma)
	require.NoError(t, err)
	back, err := WeissField(g, sigma)
	require.NoError(t, err)
	d, err := MaxAbsDiff(back, g0)
	require.NoError(t, err)
	assert.Less(t, d, 1e-12)

	se, err := SelfEnergy(g0, g)
	require.NoError(t, err)
	d, err = MaxAbsDiff(se, sigma)
	require.NoError(t, err)
	assert.Less(t, d, 1e-12)
}

func TestStaticLevelsOfAtomicPropagator(t *testing.T) {
	mesh := Mesh{Beta: 10, NIw: 32}
	eps := levels()
	g0, err := Atomic(mesh, spinSpecs, eps, 0)
	require.NoError(t, err)
	got, err := StaticLevels(g0)
	require.NoError(t, err)
	for name, want := range eps {
		assert.Less(t, cmat.MaxAbsDiff(got[name], want), 1e-10, name)
	}
}

func TestDensityOfSingleLevel(t *testing.T) {
	mesh := Mesh{Beta: 10, NIw: 4000}
	specs := []BlockSpec{{Name: "up", Dim: 1}}
	eps := 0.4
	g, err := Atomic(mesh, specs, map[string]*cmat.Dense{"up": cmat.Diag([]complex128{complex(eps, 0)})}, 0)
	require.NoError(t, err)

	fermi := 1 / (math.Exp(mesh.Beta*eps) + 1)
	assert.InDelta(t, fermi, real(Density(g)["up"].At(0, 0)), 1e-3)
	assert.InDelta(t, fermi, TotalDensity(g), 1e-3)
}

func TestRotateWithUnitaryRoundTrip(t *testing.T) {
	mesh := Mesh{Beta: 10, NIw: 8}
	g, err := Atomic(mesh, spinSpecs, levels(), 0)
	require.NoError(t, err)
	_, u, err := cmat.EigenHermitian(levels()["up"])
	require.NoError(t, err)
	rot := map[string]*cmat.Dense{"up": u, "down": u}
	rotH := map[string]*cmat.Dense{"up": u.H(), "down": u.H()}

	inBasis, err := Rotate(g, rotH, rot)
	require.NoError(t, err)
	back, err := Rotate(inBasis, rot, rotH)
	require.NoError(t, err)
	d, err := MaxAbsDiff(back, g)
	require.NoError(t, err)
	assert.Less(t, d, 1e-12)

	up, _ := inBasis.Block("up")
	assert.Less(t, math.Abs(real(up.Data[0].At(0, 1)))+math.Abs(imag(up.Data[0].At(0, 1))), 1e-12)
}

func TestSphericalBessel(t *testing.T) {
	assert.InDelta(t, 0.3011686789397568, sphericalBessel(1, 1), 1e-14)
	assert.InDelta(t, 9.256115861125816e-05, sphericalBessel(5, 1), 1e-16)
	assert.InDelta(t, 0.07794219362856245, sphericalBessel(2, 10), 1e-13)
	assert.InDelta(t, 5.427726760793208e-12, sphericalBessel(20, 5), 1e-20)
}

func TestLegendreOfSingleLevel(t *testing.T) {
	mesh := Mesh{Beta: 10, NIw: 2000}
	specs := []BlockSpec{{Name: "up", Dim: 1}}
	eps := 0.5
	g, err := Atomic(mesh, specs, map[string]*cmat.Dense{"up": cmat.Diag([]complex128{complex(eps, 0)})}, 0)
	require.NoError(t, err)

	gl := ToLegendre(g, 40)
	// G_0 = int_0^beta G(tau) dtau = -tanh(beta*eps/2)/eps
	assert.InDelta(t, -math.Tanh(mesh.Beta*eps/2)/eps, real(gl.Blocks[0].Coeff[0].At(0, 0)), 1e-4)

	back := ToMatsubara(gl, Mesh{Beta: mesh.Beta, NIw: 20})
	for n := 0; n < 20; n++ {
		assert.InDelta(t, 0, cmat.MaxAbsDiff(back.Blocks[0].Data[n], g.Blocks[0].Data[n]), 1e-4, "n=%d", n)
	}
}

func TestFitTailRecoversMoments(t *testing.T) {
	mesh := Mesh{Beta: 20, NIw: 200}
	specs := []BlockSpec{{Name: "up", Dim: 1}}
	g := New(mesh, specs)
	c0, c1, c2 := complex(0.3, 0), complex(1.2, 0), complex(0, -0.4)
	exact := func(n int) complex128 {
		z := 1 / mesh.IOmega(n)
		return c0 + c1*z + c2*z*z
	}
	for n := range g.Blocks[0].Data {
		v := exact(n)
		if mesh.Omega(n) > 10 {
			// noisy high-frequency data the fit must replace
			v += complex(0.01*float64(n%3), 0)
		}
		g.Blocks[0].Data[n].Set(0, 0, v)
	}

	fit, err := FitTail(g, 2, 2, 10)
	require.NoError(t, err)
	for n := range fit.Blocks[0].Data {
		got := fit.Blocks[0].Data[n].At(0, 0)
		assert.InDelta(t, 0, cmplx.Abs(got-exact(n)), 1e-9, "n=%d", n)
	}

	_, err = FitTail(g, 2, 10, 2)
	require.Error(t, err)
	_, err = FitTail(g, 50, 9.9, 10)
	require.Error(t, err)
}
