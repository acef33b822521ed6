package checkpoint

import (
	"fmt"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/danmuck/dmftctl/internal/protocol/frame"
	"github.com/danmuck/dmftctl/internal/protocol/tlv"
)

// TLV field ids. Block fields repeat once per block, in block order.
const (
	fieldValue     uint16 = 1
	fieldBeta      uint16 = 2
	fieldCount     uint16 = 3
	fieldBlockName uint16 = 10
	fieldBlockDim  uint16 = 11
	fieldBlockData uint16 = 12
)

func encodeFloat(v float64) ([]byte, error) {
	return frame.Marshal(frame.New(frame.KindScalar, tlv.EncodeFields([]tlv.Field{tlv.F64(fieldValue, v)})))
}

func decodeFloat(b []byte) (float64, error) {
	fields, err := payloadFields(b, frame.KindScalar)
	if err != nil {
		return 0, err
	}
	f, err := tlv.Require(fields, fieldValue, tlv.TypeF64)
	if err != nil {
		return 0, err
	}
	return tlv.F64FromBytes(f.Value)
}

func encodeText(s string) ([]byte, error) {
	return frame.Marshal(frame.New(frame.KindText, []byte(s)))
}

func decodeText(b []byte) (string, error) {
	f, err := frame.Unmarshal(b, frame.KindText)
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

func payloadFields(b []byte, kind uint16) ([]tlv.Field, error) {
	f, err := frame.Unmarshal(b, kind)
	if err != nil {
		return nil, err
	}
	return tlv.DecodeFields(f.Payload)
}

// blockFields appends name, dim and the concatenated row-major matrices.
func blockFields(out []tlv.Field, name string, dim int, mats []*cmat.Dense) []tlv.Field {
	data := make([]complex128, 0, len(mats)*dim*dim)
	for _, m := range mats {
		data = append(data, m.RawData()...)
	}
	return append(out,
		tlv.String(fieldBlockName, name),
		tlv.U32(fieldBlockDim, uint32(dim)),
		tlv.C128Vec(fieldBlockData, data))
}

type rawBlock struct {
	name string
	dim  int
	mats []*cmat.Dense
}

// readBlocks walks the repeated block fields, splitting each data vector
// into count matrices.
func readBlocks(fields []tlv.Field, count int) ([]rawBlock, error) {
	var out []rawBlock
	var cur *rawBlock
	for _, f := range fields {
		switch f.ID {
		case fieldBlockName:
			if err := tlv.MustType(f, tlv.TypeString); err != nil {
				return nil, err
			}
			out = append(out, rawBlock{name: string(f.Value)})
			cur = &out[len(out)-1]
		case fieldBlockDim:
			if cur == nil {
				return nil, fmt.Errorf("checkpoint: block dim before name")
			}
			v, err := tlv.U32FromBytes(f.Value)
			if err != nil {
				return nil, err
			}
			cur.dim = int(v)
		case fieldBlockData:
			if cur == nil {
				return nil, fmt.Errorf("checkpoint: block data before name")
			}
			data, err := tlv.C128VecFromBytes(f.Value)
			if err != nil {
				return nil, err
			}
			size := cur.dim * cur.dim
			if len(data) != count*size {
				return nil, fmt.Errorf("checkpoint: block %q has %d values, want %d", cur.name, len(data), count*size)
			}
			cur.mats = make([]*cmat.Dense, count)
			for i := range cur.mats {
				cur.mats[i] = cmat.NewFromData(cur.dim, cur.dim, data[i*size:(i+1)*size])
			}
		}
	}
	for _, rb := range out {
		if rb.mats == nil {
			return nil, fmt.Errorf("checkpoint: block %q has no data", rb.name)
		}
	}
	return out, nil
}

func encodeBlockGf(g *gf.BlockGf) ([]byte, error) {
	fields := []tlv.Field{tlv.F64(fieldBeta, g.Mesh.Beta), tlv.U32(fieldCount, uint32(g.Mesh.NIw))}
	for _, b := range g.Blocks {
		fields = blockFields(fields, b.Name, b.Dim, b.Data)
	}
	return frame.Marshal(frame.New(frame.KindBlockGf, tlv.EncodeFields(fields)))
}

func decodeBlockGf(b []byte) (*gf.BlockGf, error) {
	fields, err := payloadFields(b, frame.KindBlockGf)
	if err != nil {
		return nil, err
	}
	beta, count, err := header(fields)
	if err != nil {
		return nil, err
	}
	blocks, err := readBlocks(fields, count)
	if err != nil {
		return nil, err
	}
	out := &gf.BlockGf{Mesh: gf.Mesh{Beta: beta, NIw: count}, Blocks: make([]gf.Block, len(blocks))}
	for i, rb := range blocks {
		out.Blocks[i] = gf.Block{Name: rb.name, Dim: rb.dim, Data: rb.mats}
	}
	return out, nil
}

func encodeLegendre(g *gf.Legendre) ([]byte, error) {
	fields := []tlv.Field{tlv.F64(fieldBeta, g.Beta), tlv.U32(fieldCount, uint32(g.NL))}
	for _, b := range g.Blocks {
		fields = blockFields(fields, b.Name, b.Dim, b.Coeff)
	}
	return frame.Marshal(frame.New(frame.KindLegendre, tlv.EncodeFields(fields)))
}

func decodeLegendre(b []byte) (*gf.Legendre, error) {
	fields, err := payloadFields(b, frame.KindLegendre)
	if err != nil {
		return nil, err
	}
	beta, count, err := header(fields)
	if err != nil {
		return nil, err
	}
	blocks, err := readBlocks(fields, count)
	if err != nil {
		return nil, err
	}
	out := &gf.Legendre{Beta: beta, NL: count, Blocks: make([]gf.LegendreBlock, len(blocks))}
	for i, rb := range blocks {
		out.Blocks[i] = gf.LegendreBlock{Name: rb.name, Dim: rb.dim, Coeff: rb.mats}
	}
	return out, nil
}

func header(fields []tlv.Field) (float64, int, error) {
	f, err := tlv.Require(fields, fieldBeta, tlv.TypeF64)
	if err != nil {
		return 0, 0, err
	}
	beta, err := tlv.F64FromBytes(f.Value)
	if err != nil {
		return 0, 0, err
	}
	f, err = tlv.Require(fields, fieldCount, tlv.TypeU32)
	if err != nil {
		return 0, 0, err
	}
	count, err := tlv.U32FromBytes(f.Value)
	if err != nil {
		return 0, 0, err
	}
	return beta, int(count), nil
}

func encodeTensor(u *interaction.Tensor) ([]byte, error) {
	fields := []tlv.Field{tlv.U32(fieldBlockDim, uint32(u.N)), tlv.C128Vec(fieldBlockData, u.Data)}
	return frame.Marshal(frame.New(frame.KindTensor, tlv.EncodeFields(fields)))
}

func decodeTensor(b []byte) (*interaction.Tensor, error) {
	fields, err := payloadFields(b, frame.KindTensor)
	if err != nil {
		return nil, err
	}
	f, err := tlv.Require(fields, fieldBlockDim, tlv.TypeU32)
	if err != nil {
		return nil, err
	}
	n, err := tlv.U32FromBytes(f.Value)
	if err != nil {
		return nil, err
	}
	f, err = tlv.Require(fields, fieldBlockData, tlv.TypeC128Vec)
	if err != nil {
		return nil, err
	}
	data, err := tlv.C128VecFromBytes(f.Value)
	if err != nil {
		return nil, err
	}
	size := int(n) * int(n) * int(n) * int(n)
	if len(data) != size {
		return nil, fmt.Errorf("checkpoint: tensor has %d values, want %d", len(data), size)
	}
	return &interaction.Tensor{N: int(n), Data: data}, nil
}

// encodeMatrices stores one static matrix per named block, in names order.
func encodeMatrices(names []string, m map[string]*cmat.Dense) ([]byte, error) {
	fields := make([]tlv.Field, 0, 3*len(names))
	for _, name := range names {
		mat, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("checkpoint: missing block %q", name)
		}
		rows, _ := mat.Dims()
		fields = blockFields(fields, name, rows, []*cmat.Dense{mat})
	}
	return frame.Marshal(frame.New(frame.KindMatrices, tlv.EncodeFields(fields)))
}

func decodeMatrices(b []byte) ([]string, map[string]*cmat.Dense, error) {
	fields, err := payloadFields(b, frame.KindMatrices)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := readBlocks(fields, 1)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, len(blocks))
	out := make(map[string]*cmat.Dense, len(blocks))
	for i, rb := range blocks {
		names[i] = rb.name
		out[rb.name] = rb.mats[0]
	}
	return names, out, nil
}
