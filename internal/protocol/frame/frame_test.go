package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/dmftctl/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{tlv.F64(1, 0.5)})
	in := New(KindScalar, payload)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Kind != KindScalar || out.Header.Version != Version {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameRejectsForeignMagic(t *testing.T) {
	buf := EncodeHeader(Header{Magic: 1, Version: Version, Kind: KindScalar})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadFrameDetectsCorruptPayload(t *testing.T) {
	b, err := Marshal(New(KindText, []byte("beta = 10.0")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b[len(b)-1] ^= 0xFF
	_, err = Unmarshal(b, KindText)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestUnmarshalChecksKind(t *testing.T) {
	b, err := Marshal(New(KindText, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Unmarshal(b, KindBlockGf); err == nil {
		t.Fatalf("expected kind mismatch")
	}
}

func TestWriteFrameEnforcesLimit(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, New(KindText, make([]byte, 16)), Limits{MaxPayloadBytes: 8})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
