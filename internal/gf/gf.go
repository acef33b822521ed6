// Package gf holds block-structured Matsubara Green's functions and the
// operations the self-consistency loop performs on them.
//
// Only non-negative fermionic frequencies are stored; negative frequencies
// follow from G(-iw) = G(iw)^H.
package gf

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/dmftctl/internal/cmat"
)

var (
	ErrBlockMismatch = errors.New("gf: block structure mismatch")
	ErrUnknownBlock  = errors.New("gf: unknown block")
)

// Mesh is a fermionic Matsubara mesh with NIw non-negative frequencies.
type Mesh struct {
	Beta float64
	NIw  int
}

// Omega returns (2n+1)pi/beta.
func (m Mesh) Omega(n int) float64 {
	return float64(2*n+1) * math.Pi / m.Beta
}

// IOmega returns i*Omega(n).
func (m Mesh) IOmega(n int) complex128 {
	return complex(0, m.Omega(n))
}

// BlockSpec names one block and its matrix dimension.
type BlockSpec struct {
	Name string
	Dim  int
}

// Block is one matrix-valued function of frequency.
type Block struct {
	Name string
	Dim  int
	Data []*cmat.Dense
}

// BlockGf is an ordered set of blocks on a shared mesh. Values are treated
// as immutable snapshots by callers: every operation returns a new BlockGf.
type BlockGf struct {
	Mesh   Mesh
	Blocks []Block
}

// New returns a zero-valued Green's function.
func New(mesh Mesh, specs []BlockSpec) *BlockGf {
	g := &BlockGf{Mesh: mesh, Blocks: make([]Block, len(specs))}
	for i, s := range specs {
		data := make([]*cmat.Dense, mesh.NIw)
		for n := range data {
			data[n] = cmat.New(s.Dim, s.Dim)
		}
		g.Blocks[i] = Block{Name: s.Name, Dim: s.Dim, Data: data}
	}
	return g
}

// Constant returns a frequency-independent Green's function with value
// values[name] in each block.
func Constant(mesh Mesh, specs []BlockSpec, values map[string]*cmat.Dense) (*BlockGf, error) {
	g := New(mesh, specs)
	for bi := range g.Blocks {
		b := &g.Blocks[bi]
		v, ok := values[b.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, b.Name)
		}
		if r, c := v.Dims(); r != b.Dim || c != b.Dim {
			return nil, fmt.Errorf("%w: block %q is %dx%d, value is %dx%d", ErrBlockMismatch, b.Name, b.Dim, b.Dim, r, c)
		}
		for n := range b.Data {
			b.Data[n] = v.Clone()
		}
	}
	return g, nil
}

// Specs returns the block structure.
func (g *BlockGf) Specs() []BlockSpec {
	out := make([]BlockSpec, len(g.Blocks))
	for i, b := range g.Blocks {
		out[i] = BlockSpec{Name: b.Name, Dim: b.Dim}
	}
	return out
}

// Block returns the named block.
func (g *BlockGf) Block(name string) (*Block, bool) {
	for i := range g.Blocks {
		if g.Blocks[i].Name == name {
			return &g.Blocks[i], true
		}
	}
	return nil, false
}

func (g *BlockGf) Clone() *BlockGf {
	return g.mapBlocks(func(_ string, m *cmat.Dense) *cmat.Dense { return m.Clone() })
}

// SameStructure reports whether g and o share mesh and block layout.
func (g *BlockGf) SameStructure(o *BlockGf) bool {
	if g.Mesh != o.Mesh || len(g.Blocks) != len(o.Blocks) {
		return false
	}
	for i := range g.Blocks {
		if g.Blocks[i].Name != o.Blocks[i].Name || g.Blocks[i].Dim != o.Blocks[i].Dim {
			return false
		}
	}
	return true
}

func (g *BlockGf) mapBlocks(fn func(block string, m *cmat.Dense) *cmat.Dense) *BlockGf {
	out := &BlockGf{Mesh: g.Mesh, Blocks: make([]Block, len(g.Blocks))}
	for i, b := range g.Blocks {
		data := make([]*cmat.Dense, len(b.Data))
		for n, m := range b.Data {
			data[n] = fn(b.Name, m)
		}
		out.Blocks[i] = Block{Name: b.Name, Dim: b.Dim, Data: data}
	}
	return out
}

func (g *BlockGf) zip(o *BlockGf, fn func(a, b *cmat.Dense) *cmat.Dense) (*BlockGf, error) {
	if !g.SameStructure(o) {
		return nil, ErrBlockMismatch
	}
	out := &BlockGf{Mesh: g.Mesh, Blocks: make([]Block, len(g.Blocks))}
	for i, b := range g.Blocks {
		data := make([]*cmat.Dense, len(b.Data))
		for n := range b.Data {
			data[n] = fn(b.Data[n], o.Blocks[i].Data[n])
		}
		out.Blocks[i] = Block{Name: b.Name, Dim: b.Dim, Data: data}
	}
	return out, nil
}

// Add returns g+o.
func Add(g, o *BlockGf) (*BlockGf, error) { return g.zip(o, cmat.Add) }

// Sub returns g-o.
func Sub(g, o *BlockGf) (*BlockGf, error) { return g.zip(o, cmat.Sub) }

// Scale returns s*g.
func Scale(s complex128, g *BlockGf) *BlockGf {
	return g.mapBlocks(func(_ string, m *cmat.Dense) *cmat.Dense { return cmat.Scale(s, m) })
}

// Mix returns alpha*next + (1-alpha)*prev.
func Mix(next, prev *BlockGf, alpha float64) (*BlockGf, error) {
	if alpha == 1 {
		if !next.SameStructure(prev) {
			return nil, ErrBlockMismatch
		}
		return next.Clone(), nil
	}
	a := complex(alpha, 0)
	b := complex(1-alpha, 0)
	return next.zip(prev, func(x, y *cmat.Dense) *cmat.Dense {
		return cmat.Add(cmat.Scale(a, x), cmat.Scale(b, y))
	})
}

// Rotate returns L[b] * g[b](iw) * R[b] for every block b.
func Rotate(g *BlockGf, left, right map[string]*cmat.Dense) (*BlockGf, error) {
	for _, b := range g.Blocks {
		if left[b.Name] == nil || right[b.Name] == nil {
			return nil, fmt.Errorf("%w: no rotation for %q", ErrUnknownBlock, b.Name)
		}
	}
	return g.mapBlocks(func(name string, m *cmat.Dense) *cmat.Dense {
		return cmat.Sandwich(left[name], m, right[name])
	}), nil
}

// MaxAbsDiff returns the largest element-wise distance between g and o.
func MaxAbsDiff(g, o *BlockGf) (float64, error) {
	if !g.SameStructure(o) {
		return 0, ErrBlockMismatch
	}
	var d float64
	for i, b := range g.Blocks {
		for n := range b.Data {
			d = math.Max(d, cmat.MaxAbsDiff(b.Data[n], o.Blocks[i].Data[n]))
		}
	}
	return d, nil
}
