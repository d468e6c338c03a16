// Package fstore implements a file-backed record storage engine with
// asynchronous writes and crash-safe on-disk updates. It provides a complete
// implementation of the storage.IStorage interface with a focus on
// durability, thread safety and predictable behavior under concurrent load.
//
// The package focuses on:
//   - One self-validating frame file per key, updated atomically so a crash
//     at any point leaves either the old or the new version on disk
//   - A previous-version backup file per key that load falls back to when
//     the primary file is corrupt
//   - An in-memory cache with recency-based eviction that re-saves modified
//     records instead of dropping them
//   - Coalescing of rapid saves for the same key into few disk writes that
//     always end with the latest state
//   - Detailed operation counters and cache statistics for monitoring
//
// Key Components:
//
//   - fstoreImpl: The central structure implementing storage.IStorage. It
//     owns the data directory, the record cache, the stripe lock table and
//     the bounded worker pool that performs all disk access. Every public
//     operation returns a future immediately, the disk work happens on a
//     background worker.
//
//   - recordCache: A concurrent map of live record instances combined with
//     a janitor goroutine that tracks recency through an event queue. The
//     janitor evicts records that exceeded the configured idle time and
//     trims the cache back to its capacity, oldest first. Records that still
//     carry unwritten state are handed back to the engine for a re-save
//     before they leave the cache.
//
//   - saveTicket: The coalescing unit. The first save for a key creates a
//     ticket and a worker, further saves for the same key attach their
//     record to the existing ticket and share its future. The worker writes,
//     then checks whether newer state was attached mid-write and if so
//     writes again before retiring the ticket. A burst of saves therefore
//     costs at most one additional disk write after the one in flight.
//
//   - StripeTable: A fixed array of read-write locks. Each key hashes to one
//     stripe, writers take the stripe exclusively for the rename sequence,
//     readers share it while decoding. Two keys on the same stripe serialize,
//     which is acceptable because disk work dominates the hold time.
//
// Internal Mechanisms:
//
//   - Write Pipeline: A save encodes the record to a frame, writes it to a
//     scratch file named key.<random-id>.tmp, syncs it to stable storage and
//     only then takes the stripe lock to rotate files: the current primary
//     is renamed to the backup slot and the scratch file is renamed to
//     primary. Renames within a directory are atomic on POSIX file systems,
//     so readers never observe a partially written primary file. Scratch
//     files never outlive the call that created them.
//
//   - Backup Rotation: Because the primary is moved aside rather than
//     overwritten, the backup file always holds the complete previous
//     version after a successful save. Load uses it automatically when the
//     primary fails validation, and Delete leaves it in place so a deleted
//     record can be recovered by hand.
//
//   - Free Space Guard: Before a save touches the disk, the available space
//     on the data volume is checked. Below the configured minimum the save
//     fails with storage.ErrDiskFull without creating or modifying any file,
//     leaving the last good version intact.
//
//   - Read Path: Load first consults the cache and returns a hit without
//     any disk access. On a miss the primary file is read and validated as
//     a whole, a file that is missing or fails validation falls back to the
//     backup, and a key that is unreadable in both completes with
//     Found=false rather than an error. Decoded records enter the cache
//     first-wins, so concurrent loads for one key all observe the same
//     instance.
//
//   - Dirty Tracking: Records implementing record.Dirtyable carry a saved
//     flag maintained by the engine. Saving a clean record completes
//     immediately without disk access, evicting a dirty record triggers a
//     re-save, and a successful write or load marks the record clean.
//
//   - Statistics: The engine maintains monotonic counters for disk writes,
//     renames, coalesced saves, cache hits and misses, backup recoveries,
//     rejected frames and disk-full aborts, plus a payload size histogram
//     and a key-to-stripe distribution estimate, all exposed via GetInfo.
//
// The fstore package is designed for applications that keep a bounded set
// of mutable records live in memory and need each of them persisted durably
// and independently, such as per-player state, session data or device
// profiles.
package fstore
