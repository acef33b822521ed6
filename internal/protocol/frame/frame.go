package frame

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0xD3F70001
	Version        uint16 = 1
	FixedHeaderLen        = 52
)

// Payload kinds stored in the archive.
const (
	KindScalar   uint16 = 1
	KindBlockGf  uint16 = 2
	KindLegendre uint16 = 3
	KindTensor   uint16 = 4
	KindMatrices uint16 = 5
	KindText     uint16 = 6
)

var (
	ErrShortHeader      = errors.New("frame: short fixed header")
	ErrBadMagic         = errors.New("frame: bad magic")
	ErrVersion          = errors.New("frame: unsupported version")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
	ErrChecksumMismatch = errors.New("frame: payload checksum mismatch")
)

// Header is the fixed blob header.
type Header struct {
	Magic      uint32
	Version    uint16
	Kind       uint16
	Flags      uint32
	PayloadLen uint64
	Checksum   [sha256.Size]byte
}

// Frame is one archived value.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 512 * 1024 * 1024}
}

// New returns a frame of kind wrapping payload.
func New(kind uint16, payload []byte) Frame {
	return Frame{Header: Header{Magic: Magic, Version: Version, Kind: kind}, Payload: payload}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrBadMagic
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	if sha256.Sum256(payload) != h.Checksum {
		return Frame{}, ErrChecksumMismatch
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.PayloadLen = payloadLen
	h.Checksum = sha256.Sum256(f.Payload)

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Marshal writes f into a fresh buffer.
func Marshal(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f, DefaultLimits()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal reads one frame and checks that it carries kind.
func Unmarshal(b []byte, kind uint16) (Frame, error) {
	f, err := ReadFrame(bytes.NewReader(b), DefaultLimits())
	if err != nil {
		return Frame{}, err
	}
	if f.Header.Kind != kind {
		return Frame{}, fmt.Errorf("frame: kind %d, want %d", f.Header.Kind, kind)
	}
	return f, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Kind)
	binary.BigEndian.PutUint32(buf[8:12], h.Flags)
	binary.BigEndian.PutUint64(buf[12:20], h.PayloadLen)
	copy(buf[20:52], h.Checksum[:])
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != FixedHeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Kind:       binary.BigEndian.Uint16(b[6:8]),
		Flags:      binary.BigEndian.Uint32(b[8:12]),
		PayloadLen: binary.BigEndian.Uint64(b[12:20]),
	}
	copy(h.Checksum[:], b[20:52])
	return h, nil
}
