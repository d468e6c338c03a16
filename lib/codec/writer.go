package codec

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer serializes values into an in-memory buffer using the variable-length
// wire format. Writes never fail; the accumulated bytes are retrieved with
// Bytes() once all fields have been written.
//
// Thread-safety: a Writer must not be used concurrently.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the serialized data. The slice is owned by the Writer and
// only valid until the next write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards all written data, keeping the allocated buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// --------------------------------------------------------------------------
// Variable-Length Integers
// --------------------------------------------------------------------------

// WriteVarInt writes a 32 bit integer in LEB128 encoding: seven data bits per
// byte, least significant group first, high bit set on every byte except the
// last. Small non-negative values take a single byte; negative values always
// take the maximum five bytes.
func (w *Writer) WriteVarInt(value int32) {
	v := uint32(value)
	for v&^uint32(0x7F) != 0 {
		w.buf = append(w.buf, byte(v&0x7F|0x80))
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WriteVarLong writes a 64 bit integer in LEB128 encoding.
// Negative values always take the maximum ten bytes.
func (w *Writer) WriteVarLong(value int64) {
	v := uint64(value)
	for v&^uint64(0x7F) != 0 {
		w.buf = append(w.buf, byte(v&0x7F|0x80))
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// --------------------------------------------------------------------------
// Fixed-Width Primitives
// --------------------------------------------------------------------------

// WriteBool writes a boolean as a single byte (0 or 1).
func (w *Writer) WriteBool(value bool) {
	if value {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// WriteUint8 writes a single raw byte.
func (w *Writer) WriteUint8(value uint8) {
	w.buf = append(w.buf, value)
}

// WriteFloat32 writes a float as its IEEE-754 bit pattern, big-endian.
func (w *Writer) WriteFloat32(value float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(value))
}

// WriteFloat64 writes a double as its IEEE-754 bit pattern, big-endian.
func (w *Writer) WriteFloat64(value float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(value))
}

// --------------------------------------------------------------------------
// Strings and Byte Slices
// --------------------------------------------------------------------------

// WriteString writes a string as a varint byte count followed by the raw
// UTF-8 bytes. The empty string writes count 0. There is no separate "absent"
// representation; wrap the field in WriteOptional for that.
func (w *Writer) WriteString(s string) {
	w.WriteVarInt(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes a byte slice as a varint length followed by the raw
// bytes. A nil slice writes the sentinel length -1 and decodes back to nil,
// an empty slice writes length 0.
func (w *Writer) WriteBytes(b []byte) {
	if b == nil {
		w.WriteVarInt(-1)
		return
	}
	w.WriteVarInt(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// --------------------------------------------------------------------------
// Rich Types
// --------------------------------------------------------------------------

// WriteUUID writes a UUID as a presence boolean followed by its 16 raw bytes.
// The zero UUID (uuid.Nil) is written as absent.
func (w *Writer) WriteUUID(id uuid.UUID) {
	if id == uuid.Nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.buf = append(w.buf, id[:]...)
}

// WriteBigInt writes an arbitrary-precision integer as a presence boolean,
// a varint sign (-1, 0 or 1) and the big-endian magnitude bytes with a varint
// length prefix. A nil pointer is written as absent.
func (w *Writer) WriteBigInt(value *big.Int) {
	if value == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteVarInt(int32(value.Sign()))
	mag := value.Bytes()
	w.WriteVarInt(int32(len(mag)))
	w.buf = append(w.buf, mag...)
}

// WriteTime writes a timestamp as a presence boolean followed by varlong Unix
// seconds and varint nanoseconds. The zero time is written as absent.
func (w *Writer) WriteTime(t time.Time) {
	if t.IsZero() {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteVarLong(t.Unix())
	w.WriteVarInt(int32(t.Nanosecond()))
}
