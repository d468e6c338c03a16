package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrMalformedEncoding is reported when a variable-length integer does
	// not terminate within its maximum byte count (5 bytes for 32 bit,
	// 10 bytes for 64 bit) or when a length prefix is negative where only
	// the -1 sentinel or non-negative lengths are valid.
	ErrMalformedEncoding = errors.New("malformed variable-length encoding")

	// ErrUnexpectedEOF is reported when the input ends in the middle of a
	// value. It wraps io.ErrUnexpectedEOF.
	ErrUnexpectedEOF = fmt.Errorf("input truncated: %w", io.ErrUnexpectedEOF)
)

// Maximum encoded sizes for the variable-length integers.
const (
	maxVarIntBytes  = 5
	maxVarLongBytes = 10
)

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// Reader deserializes values from a byte slice. It carries a sticky error:
// the first failed read poisons the Reader, all subsequent reads return zero
// values without consuming input, and Err() reports the first failure. This
// lets record decoders read a fixed sequence of fields without per-field
// error checks and verify the result once at the end.
//
// The schema alone determines how to interpret the bytes. There are no type
// tags on the wire, so a Reader must consume fields in exactly the order and
// with exactly the types the corresponding Writer produced them.
//
// Thread-safety: a Reader must not be used concurrently.
type Reader struct {
	data   []byte
	pos    int
	err    error
	intern map[string]string
}

// NewReader creates a Reader over the given data. The Reader does not copy
// the slice; the caller must not modify it while reading.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered, or nil if all reads so far
// succeeded.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// fail records the first error and poisons the Reader.
func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// take consumes n bytes, or fails with ErrUnexpectedEOF.
func (r *Reader) take(n int) ([]byte, bool) {
	if r.err != nil {
		return nil, false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.fail(ErrUnexpectedEOF)
		return nil, false
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

// --------------------------------------------------------------------------
// Variable-Length Integers
// --------------------------------------------------------------------------

// ReadVarInt reads a 32 bit LEB128 integer. It fails with
// ErrMalformedEncoding if no terminating byte is found within 5 bytes.
func (r *Reader) ReadVarInt() int32 {
	var result uint32
	var shift uint
	for i := 0; i < maxVarIntBytes; i++ {
		b, ok := r.take(1)
		if !ok {
			return 0
		}
		result |= uint32(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			return int32(result)
		}
		shift += 7
	}
	r.fail(ErrMalformedEncoding)
	return 0
}

// ReadVarLong reads a 64 bit LEB128 integer. It fails with
// ErrMalformedEncoding if no terminating byte is found within 10 bytes.
func (r *Reader) ReadVarLong() int64 {
	var result uint64
	var shift uint
	for i := 0; i < maxVarLongBytes; i++ {
		b, ok := r.take(1)
		if !ok {
			return 0
		}
		result |= uint64(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			return int64(result)
		}
		shift += 7
	}
	r.fail(ErrMalformedEncoding)
	return 0
}

// --------------------------------------------------------------------------
// Fixed-Width Primitives
// --------------------------------------------------------------------------

// ReadBool reads a single-byte boolean. Any non-zero byte decodes to true.
func (r *Reader) ReadBool() bool {
	b, ok := r.take(1)
	if !ok {
		return false
	}
	return b[0] != 0
}

// ReadUint8 reads a single raw byte.
func (r *Reader) ReadUint8() uint8 {
	b, ok := r.take(1)
	if !ok {
		return 0
	}
	return b[0]
}

// ReadFloat32 reads a big-endian IEEE-754 float.
func (r *Reader) ReadFloat32() float32 {
	b, ok := r.take(4)
	if !ok {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// ReadFloat64 reads a big-endian IEEE-754 double.
func (r *Reader) ReadFloat64() float64 {
	b, ok := r.take(8)
	if !ok {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// --------------------------------------------------------------------------
// Strings and Byte Slices
// --------------------------------------------------------------------------

// ReadString reads a varint byte count followed by that many UTF-8 bytes.
// A count of 0 decodes to the empty string.
//
// Repeated identical strings within one Reader share a single backing
// allocation via a per-Reader intern table. The table dies with the Reader,
// so interning never leaks values across independent decode sessions and has
// no effect on observable values.
func (r *Reader) ReadString() string {
	n := r.ReadVarInt()
	if r.err != nil {
		return ""
	}
	if n < 0 {
		r.fail(ErrMalformedEncoding)
		return ""
	}
	if n == 0 {
		return ""
	}
	b, ok := r.take(int(n))
	if !ok {
		return ""
	}
	// the map index converts without allocating, so a repeated string costs
	// one lookup instead of one allocation
	if s, ok := r.intern[string(b)]; ok {
		return s
	}
	s := string(b)
	if r.intern == nil {
		r.intern = make(map[string]string)
	}
	r.intern[s] = s
	return s
}

// ReadBytes reads a varint length followed by that many raw bytes. The -1
// sentinel decodes to nil. The returned slice is a copy and safe to retain.
func (r *Reader) ReadBytes() []byte {
	n := r.ReadVarInt()
	if r.err != nil {
		return nil
	}
	if n == -1 {
		return nil
	}
	if n < 0 {
		r.fail(ErrMalformedEncoding)
		return nil
	}
	b, ok := r.take(int(n))
	if !ok {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// --------------------------------------------------------------------------
// Rich Types
// --------------------------------------------------------------------------

// ReadUUID reads a presence boolean followed by 16 raw bytes. An absent value
// decodes to uuid.Nil.
func (r *Reader) ReadUUID() uuid.UUID {
	if !r.ReadBool() {
		return uuid.Nil
	}
	b, ok := r.take(16)
	if !ok {
		return uuid.Nil
	}
	var id uuid.UUID
	copy(id[:], b)
	return id
}

// ReadBigInt reads a presence boolean, a varint sign and the length-prefixed
// big-endian magnitude. An absent value decodes to nil.
func (r *Reader) ReadBigInt() *big.Int {
	if !r.ReadBool() {
		return nil
	}
	sign := r.ReadVarInt()
	n := r.ReadVarInt()
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.fail(ErrMalformedEncoding)
		return nil
	}
	b, ok := r.take(int(n))
	if !ok {
		return nil
	}
	value := new(big.Int).SetBytes(b)
	if sign < 0 {
		value.Neg(value)
	}
	return value
}

// ReadTime reads a presence boolean followed by varlong Unix seconds and
// varint nanoseconds. An absent value decodes to the zero time. The decoded
// time is in UTC.
func (r *Reader) ReadTime() time.Time {
	if !r.ReadBool() {
		return time.Time{}
	}
	sec := r.ReadVarLong()
	nsec := r.ReadVarInt()
	if r.err != nil {
		return time.Time{}
	}
	return time.Unix(sec, int64(nsec)).UTC()
}
