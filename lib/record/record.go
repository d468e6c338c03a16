package record

import (
	"sync/atomic"

	"github.com/ValentinKolb/varstore/lib/codec"
)

// --------------------------------------------------------------------------
// Interfaces
// --------------------------------------------------------------------------

// Record is the contract every persistable type implements. A record writes
// its fields in a fixed order and reads them back guided by the version the
// data was written with.
//
// Version is written exactly once per marshaled record, before any fields.
// Nested records share the top-level version, so a record tree is always
// written and read as one schema generation.
type Record interface {
	// Version returns the current schema version of this record type.
	// It is encoded ahead of the fields on every marshal.
	Version() int32

	// Write encodes all fields of the record to the given writer in the
	// order the current version defines.
	Write(w *codec.Writer)

	// Read decodes the record from the given reader. The version parameter
	// is the version the data was written with, which may be older than
	// Version(). Implementations must read exactly the fields that existed
	// in that version and default the rest:
	//
	//	func (u *User) Read(r *codec.Reader, version int32) {
	//		u.Name = r.ReadString()
	//		if version >= 2 {
	//			u.Karma = r.ReadVarLong()
	//		}
	//	}
	Read(r *codec.Reader, version int32)
}

// Dirtyable is implemented by records that track whether their in-memory
// state has diverged from disk. The storage layer uses it to skip writes
// for unchanged records and to re-save modified records evicted from cache.
//
// Records that do not implement Dirtyable are treated as always dirty.
type Dirtyable interface {
	// MarkDirty flags the record as modified since the last save.
	MarkDirty()

	// MarkSaved flags the record as in sync with disk. Called by the
	// storage layer after a successful save or load.
	MarkSaved()

	// IsDirty returns true if the record was modified since the last save.
	IsDirty() bool
}

// --------------------------------------------------------------------------
// Base
// --------------------------------------------------------------------------

// Base provides the Dirtyable implementation for embedding in record types:
//
//	type User struct {
//		record.Base
//		Name string
//	}
//
// The zero value is dirty, so freshly constructed records are always written
// on their first save.
type Base struct {
	// saved is inverted so the zero value reports dirty
	saved atomic.Bool
}

// MarkDirty flags the record as modified since the last save.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Base) MarkDirty() {
	b.saved.Store(false)
}

// MarkSaved flags the record as in sync with disk.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Base) MarkSaved() {
	b.saved.Store(true)
}

// IsDirty returns true if the record was modified since the last save.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Base) IsDirty() bool {
	return !b.saved.Load()
}

// --------------------------------------------------------------------------
// Marshaling
// --------------------------------------------------------------------------

// Marshal encodes a record to its binary form: the record's current version
// followed by its fields. The returned slice is freshly allocated and owned
// by the caller.
//
// Parameters:
//   - rec: the record to encode
//
// Returns:
//   - []byte: the encoded record
func Marshal(rec Record) []byte {
	w := codec.NewWriter()
	w.WriteVarInt(rec.Version())
	rec.Write(w)

	buf := make([]byte, w.Len())
	copy(buf, w.Bytes())
	return buf
}

// Unmarshal decodes binary data produced by Marshal into the given record.
// The version prefix is read first and passed to the record's Read method,
// so data written by an older schema decodes into the current type with
// newer fields left at their defaults.
//
// Parameters:
//   - data: the encoded record
//   - rec: the record to decode into
//
// Returns:
//   - error: nil on success, otherwise the first decode error encountered
func Unmarshal(data []byte, rec Record) error {
	r := codec.NewReader(data)
	version := r.ReadVarInt()
	rec.Read(r, version)
	return r.Err()
}

// --------------------------------------------------------------------------
// Nesting
// --------------------------------------------------------------------------

// WriteNested encodes a child record inside a parent's Write method. A
// presence flag is written first, so absent children decode cleanly. No
// version is written, the child shares the version of the enclosing record.
//
// Pass an untyped nil for an absent child. A nil *T stored in the interface
// is not recognized as absent and will panic in the child's Write.
func WriteNested(w *codec.Writer, rec Record) {
	if rec == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	rec.Write(w)
}

// ReadNested decodes a child record written by WriteNested. The factory is
// only invoked when the child is present.
//
// Parameters:
//   - r: the reader positioned at the presence flag
//   - version: the version of the enclosing record's data
//   - factory: constructor for an empty child record
//
// Returns:
//   - T: the decoded child, or the zero value if absent
//   - bool: true if the child was present
func ReadNested[T Record](r *codec.Reader, version int32, factory func() T) (T, bool) {
	if !r.ReadBool() {
		var zero T
		return zero, false
	}
	rec := factory()
	rec.Read(r, version)
	return rec, true
}
