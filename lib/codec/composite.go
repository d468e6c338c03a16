package codec

// --------------------------------------------------------------------------
// Composite Values
// --------------------------------------------------------------------------

// The composite helpers are package-level generic functions because Go
// methods cannot carry their own type parameters. Each takes the element
// codec as a function so that arbitrarily nested shapes compose, e.g.
//
//	codec.WriteSlice(w, homes, func(w *codec.Writer, h Home) { h.write(w) })

// WriteSlice writes an ordered sequence as a varint length followed by the
// serialized elements. A nil slice writes the sentinel length -1 and decodes
// back to nil; an empty slice writes length 0.
func WriteSlice[T any](w *Writer, values []T, writeFn func(*Writer, T)) {
	if values == nil {
		w.WriteVarInt(-1)
		return
	}
	w.WriteVarInt(int32(len(values)))
	for _, v := range values {
		writeFn(w, v)
	}
}

// ReadSlice reads a sequence written by WriteSlice. The length is validated
// against the remaining input before allocating, so a corrupted length
// cannot cause an oversized allocation.
func ReadSlice[T any](r *Reader, readFn func(*Reader) T) []T {
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
	// every element takes at least one byte on the wire
	if int(n) > r.Remaining() {
		r.fail(ErrUnexpectedEOF)
		return nil
	}
	out := make([]T, 0, n)
	for i := int32(0); i < n; i++ {
		if r.err != nil {
			return nil
		}
		out = append(out, readFn(r))
	}
	return out
}

// WriteMap writes a key-unique mapping as a varint size followed by the
// serialized (key, value) pairs in iteration order. Iteration order is not
// stable, so the byte output of two encodes of the same map may differ while
// decoding to equal maps. A nil map writes the sentinel -1 and decodes back
// to nil.
func WriteMap[K comparable, V any](w *Writer, m map[K]V, writeKey func(*Writer, K), writeValue func(*Writer, V)) {
	if m == nil {
		w.WriteVarInt(-1)
		return
	}
	w.WriteVarInt(int32(len(m)))
	for k, v := range m {
		writeKey(w, k)
		writeValue(w, v)
	}
}

// ReadMap reads a mapping written by WriteMap.
func ReadMap[K comparable, V any](r *Reader, readKey func(*Reader) K, readValue func(*Reader) V) map[K]V {
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
	if int(n) > r.Remaining() {
		r.fail(ErrUnexpectedEOF)
		return nil
	}
	out := make(map[K]V, n)
	for i := int32(0); i < n; i++ {
		if r.err != nil {
			return nil
		}
		k := readKey(r)
		v := readValue(r)
		out[k] = v
	}
	return out
}

// WriteOptional writes a presence boolean followed by the payload only when
// the pointer is non-nil.
func WriteOptional[T any](w *Writer, value *T, writeFn func(*Writer, T)) {
	if value == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	writeFn(w, *value)
}

// ReadOptional reads an optional written by WriteOptional. An absent value
// decodes to nil.
func ReadOptional[T any](r *Reader, readFn func(*Reader) T) *T {
	if !r.ReadBool() {
		return nil
	}
	v := readFn(r)
	if r.err != nil {
		return nil
	}
	return &v
}
