// Package record defines the versioned persistence contract that sits
// between application types and the binary codec.
//
// A type becomes persistable by implementing the Record interface: it
// declares a schema version, writes its fields in a fixed order, and reads
// them back guided by the version the data was written with. Because the
// version is encoded once ahead of the fields, old files remain readable
// after a type gains fields. New fields are simply guarded behind a version
// check in Read and default to their zero values for older data.
//
// Key Components:
//
//   - Record: the Version/Write/Read contract for persistable types
//   - Dirtyable: optional change tracking consulted by the storage layer
//   - Base: embeddable Dirtyable implementation backed by an atomic flag
//   - Marshal/Unmarshal: top-level encoding with the version prefix
//   - WriteNested/ReadNested: child records sharing the parent's version
//
// The dirty flag follows the record, not the storage layer: mutate a record,
// call MarkDirty, and the next save writes it while saves of unchanged
// records complete without touching disk. Freshly constructed records start
// dirty so they always hit disk once.
package record
