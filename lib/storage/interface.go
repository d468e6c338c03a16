package storage

import (
	"errors"
	"io"
	"time"

	"github.com/ValentinKolb/varstore/lib/record"
	"github.com/ValentinKolb/varstore/lib/storage/util"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// RecordFactory is a function type that creates an empty record for the
// decoder to fill. This is used to abstract record construction from the
// storage implementation.
type RecordFactory func() record.Record

// IStorage is the generic interface for asynchronous, per-key record
// persistence. All operations return immediately with a *Future that
// completes once the background work is done. Per-key ordering is
// guaranteed, operations on different keys proceed independently.
type IStorage interface {
	// Save schedules the record to be persisted under the given key.
	// Saves of records that implement record.Dirtyable and report clean
	// complete without touching disk. Concurrent saves for the same key
	// are coalesced into the fewest writes that still persist the latest
	// state.
	Save(key string, rec record.Record) *Future[struct{}]

	// Load retrieves the record stored under the given key. A cached
	// record is returned directly without touching disk. On a miss the
	// factory provides the record instance the file is decoded into.
	// A missing key is not an error, it completes with Found=false.
	Load(key string, factory RecordFactory) *Future[LoadResult]

	// Delete removes the key from the cache and its primary file from
	// disk. The backup file is kept so an accidental delete can be
	// recovered by hand. Deleting an absent key succeeds.
	Delete(key string) *Future[struct{}]

	// Exists reports whether the key is present in the cache or on disk.
	// The check is advisory, a concurrent Save or Delete may change the
	// answer before the caller acts on it.
	Exists(key string) *Future[bool]

	// InvalidateCache drops the cached record for the given key, if any.
	// The next Load reads from disk again.
	InvalidateCache(key string)

	// GetInfo returns statistics about the storage. It is not guaranteed
	// that all fields are exact, counters and cache sizes are sampled
	// without stopping concurrent operations.
	GetInfo() StorageInfo

	// WritePrometheus writes the operation counters in Prometheus text
	// exposition format, for embedders that scrape their process metrics.
	WritePrometheus(w io.Writer)

	// Shutdown stops accepting new operations and waits up to the given
	// timeout for queued work to drain. Pending saves that do not finish
	// in time are abandoned and their futures fail with ErrShutdown.
	Shutdown(timeout time.Duration) error
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// LoadResult carries the outcome of a Load operation. Record is only valid
// if Found is true.
type LoadResult struct {
	Record record.Record
	Found  bool
}

// Counters are monotonic operation counters maintained by a storage
// implementation since construction.
type Counters struct {
	DiskWrites       uint64 `json:"disk_writes"`
	DiskRenames      uint64 `json:"disk_renames"`
	CoalescedSaves   uint64 `json:"coalesced_saves"`
	CacheHits        uint64 `json:"cache_hits"`
	CacheMisses      uint64 `json:"cache_misses"`
	BackupRecoveries uint64 `json:"backup_recoveries"`
	CorruptFrames    uint64 `json:"corrupt_frames"`
	DiskFullAborts   uint64 `json:"disk_full_aborts"`
}

// StorageInfo describes the current state of a storage instance.
type StorageInfo struct {
	Dir               string                 `json:"dir"`
	CachedEntries     int                    `json:"cached_entries"`
	DirtyEntries      int                    `json:"dirty_entries"`
	PendingSaves      int                    `json:"pending_saves"`
	AvgPayloadSize    int                    `json:"avg_payload_size"`
	MedianPayloadSize int                    `json:"median_payload_size"`
	StripeDistr       util.DistributionStats `json:"stripe_distribution"`
	Counters          Counters               `json:"counters"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrDiskFull is returned when a save is aborted because the free
	// space on the storage volume fell below the configured minimum.
	// The record keeps its dirty flag and is written by a later save.
	ErrDiskFull = errors.New("disk full")

	// ErrShutdown is returned for operations submitted after Shutdown
	// and for pending operations abandoned by a shutdown timeout.
	ErrShutdown = errors.New("storage is shut down")

	// ErrInvalidKey is returned for keys that cannot serve as file name
	// stems, such as the empty string or keys containing path separators.
	ErrInvalidKey = errors.New("invalid key")
)

// --------------------------------------------------------------------------
// Typed Convenience
// --------------------------------------------------------------------------

// LoadTyped loads a record and returns it as its concrete type. It blocks
// until the load completes.
//
// Parameters:
//   - st: the storage to load from
//   - key: the key to load
//   - factory: constructor for the expected record type
//
// Returns:
//   - T: the loaded record, or the zero value if absent
//   - bool: true if the key was found
//   - error: nil on success, otherwise the load error
func LoadTyped[T record.Record](st IStorage, key string, factory func() T) (T, bool, error) {
	var zero T

	res, err := st.Load(key, func() record.Record { return factory() }).Wait()
	if err != nil {
		return zero, false, err
	}
	if !res.Found {
		return zero, false, nil
	}
	return res.Record.(T), true, nil
}
