package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "up"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestScalarAndVectorFields(t *testing.T) {
	fields, err := DecodeFields(EncodeFields([]Field{
		F64(1, -0.125),
		U32(2, 7),
		C128Vec(3, []complex128{1 - 2i, 0.5i}),
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, err := Require(fields, 1, TypeF64)
	if err != nil {
		t.Fatalf("require f64: %v", err)
	}
	if v, _ := F64FromBytes(f.Value); v != -0.125 {
		t.Fatalf("unexpected f64: %v", v)
	}
	f, err = Require(fields, 2, TypeU32)
	if err != nil {
		t.Fatalf("require u32: %v", err)
	}
	if v, _ := U32FromBytes(f.Value); v != 7 {
		t.Fatalf("unexpected u32: %v", v)
	}
	f, err = Require(fields, 3, TypeC128Vec)
	if err != nil {
		t.Fatalf("require vec: %v", err)
	}
	vec, err := C128VecFromBytes(f.Value)
	if err != nil || len(vec) != 2 || vec[0] != 1-2i || vec[1] != 0.5i {
		t.Fatalf("unexpected vector %v err=%v", vec, err)
	}
	if _, err := Require(fields, 4, TypeF64); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if _, err := Require(fields, 1, TypeU32); err == nil {
		t.Fatalf("expected type mismatch")
	}
}
