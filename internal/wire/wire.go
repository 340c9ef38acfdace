package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	version    byte = 1
	KindState  byte = 1 // save-state text
	KindTime   byte = 2 // encoded time state
	KindExport byte = 3 // export bundle
)

var (
	ErrCorrupt  = errors.New("sceneshare: corrupt record")
	ErrOverflow = errors.New("sceneshare: buffer overflow")
	magic4      = [...]byte{'N', 'C', 'S', 'V'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record frames a value kept in the session store:
//
//	magic(4) | ver(1) | kind(1) | savedAt(u64 be, unix ms) | vlen(u32 be) | payload(vlen)
func EncodeRecord(kind byte, savedAt uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], savedAt)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeRecord validates the frame and returns a zero-copy payload slice.
// kind must match; trailing bytes are corruption.
func DecodeRecord(b []byte, kind byte) (savedAt uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kind {
		return 0, nil, ErrCorrupt
	}

	off := 6
	savedAt = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return savedAt, b[off : off+vlen], nil
}

// Buffer is a fixed-capacity scratch buffer for little-endian binary blocks.
// Writes past the capacity fail with ErrOverflow instead of growing; reads
// past the written length fail with ErrCorrupt.
type Buffer struct {
	b   []byte
	off int
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, capacity)}
}

// FromBytes wraps already decoded bytes for reading.
func FromBytes(b []byte) *Buffer {
	return &Buffer{b: b}
}

func (w *Buffer) Offset() int   { return w.off }
func (w *Buffer) Len() int      { return len(w.b) }
func (w *Buffer) Raw() []byte   { return w.b }
func (w *Buffer) Bytes() []byte { return w.b[:w.off] }

// Seek moves the cursor; scene serializers hand back a new offset.
func (w *Buffer) Seek(off int) error {
	if off < 0 || off > len(w.b) {
		return ErrOverflow
	}
	w.off = off
	return nil
}

func (w *Buffer) PutUint8(v byte) error {
	if w.off+1 > len(w.b) {
		return ErrOverflow
	}
	w.b[w.off] = v
	w.off++
	return nil
}

func (w *Buffer) PutFloat32(v float32) error {
	if w.off+4 > len(w.b) {
		return ErrOverflow
	}
	binary.LittleEndian.PutUint32(w.b[w.off:], math.Float32bits(v))
	w.off += 4
	return nil
}

func (w *Buffer) PutBytes(p []byte) error {
	if w.off+len(p) > len(w.b) {
		return ErrOverflow
	}
	w.off += copy(w.b[w.off:], p)
	return nil
}

func (w *Buffer) Uint8() (byte, error) {
	if w.off+1 > len(w.b) {
		return 0, ErrCorrupt
	}
	v := w.b[w.off]
	w.off++
	return v, nil
}

func (w *Buffer) Float32() (float32, error) {
	if w.off+4 > len(w.b) {
		return 0, ErrCorrupt
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(w.b[w.off:]))
	w.off += 4
	return v, nil
}

// Rest returns the unread tail without copying.
func (w *Buffer) Rest() []byte {
	return w.b[w.off:]
}
