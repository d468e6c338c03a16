// Package codec implements the compact variable-length binary encoding used
// for all persisted records. It provides deterministic, length-prefixed
// serialization of primitive and composite values without embedding any type
// information on the wire.
//
// The package focuses on:
//   - Compact integer encoding via LEB128 (one byte for small values instead
//     of four or eight)
//   - Explicit absent/present distinction for strings, sequences, mappings
//     and optional values
//   - Allocation-frugal decoding with bounds checks on every read and string
//     interning within a decode session
//   - Composability: every composite helper takes the element codec as a
//     function, so nested shapes encode the same way as flat ones
//
// Key Components:
//
//   - Writer: Append-only serializer over an in-memory buffer. Writes never
//     fail, so record encoders are straight-line field lists. The buffer is
//     handed to the framing layer via Bytes().
//
//   - Reader: Deserializer over a byte slice with a sticky error. The first
//     failed read (truncated input, malformed varint, invalid length) poisons
//     the Reader; subsequent reads return zero values and Err() reports what
//     went wrong. Decoders read their full field sequence and check once.
//
//   - Composite helpers: WriteSlice/ReadSlice, WriteMap/ReadMap and
//     WriteOptional/ReadOptional are package-level generic functions (Go
//     methods cannot be generic). Sequences and mappings use a length prefix
//     with -1 as the "absent" sentinel so that nil and empty round-trip
//     differently; optionals use a presence boolean.
//
// Wire Format:
//
//   - VarInt/VarLong: seven data bits per byte, least significant group
//     first, continuation bit 0x80. Decoding rejects values that do not
//     terminate within 5 (32 bit) or 10 (64 bit) bytes with
//     ErrMalformedEncoding.
//   - String: varint byte count + raw UTF-8. Count 0 is the empty string,
//     never an absent marker.
//   - Bytes/Slice/Map: varint length or -1 for nil, then the elements
//     (respectively key-value pairs in iteration order).
//   - Optional/UUID/BigInt/Time: presence boolean, then the payload.
//   - Bool/Uint8/Float32/Float64: fixed width, big-endian.
//
// There are no per-value type tags. The reader must know the exact field
// sequence the writer produced; that contract lives one layer up in the
// record package.
package codec
