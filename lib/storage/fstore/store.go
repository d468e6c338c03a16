package fstore

import (
	"fmt"
	"github.com/ValentinKolb/varstore/lib/frame"
	"github.com/ValentinKolb/varstore/lib/logging"
	"github.com/ValentinKolb/varstore/lib/record"
	"github.com/ValentinKolb/varstore/lib/storage"
	"github.com/ValentinKolb/varstore/lib/storage/fstore/internal"
	"github.com/ValentinKolb/varstore/lib/storage/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/unix"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for file naming and lock layout
const (
	stripeCount   = 128        // Number of file lock stripes
	primarySuffix = ".var"     // Current frame for a key
	backupSuffix  = ".var.bak" // Previous frame, rotated on every overwrite
	tempSuffix    = ".tmp"     // Write scratch, never read back
)

var log = logging.GetLogger("fstore")

// --------------------------------------------------------------------------
// Core storage structure
// --------------------------------------------------------------------------

// fstoreImpl implements storage.IStorage with one frame file per key
type fstoreImpl struct {
	opts    *Options
	cache   *recordCache
	stripes *internal.StripeTable
	pending *xsync.MapOf[string, *saveTicket] // one ticket per key with an in-flight save

	// background workers
	sem       chan struct{}  // counting semaphore bounding concurrent disk tasks
	wg        sync.WaitGroup // tracks all in-flight disk tasks
	accepting atomic.Bool    // set to false on shutdown

	// statistics
	met              *metrics.Set
	payloadSizes     *util.SizeHistogram
	diskWrites       *metrics.Counter
	diskRenames      *metrics.Counter
	coalescedSaves   *metrics.Counter
	cacheHits        *metrics.Counter
	cacheMisses      *metrics.Counter
	backupRecoveries *metrics.Counter
	corruptFrames    *metrics.Counter
	diskFullAborts   *metrics.Counter

	// freeSpace reports the free bytes on the volume holding the data
	// directory, swapped out in tests
	freeSpace func(dir string) (uint64, error)
}

// saveTicket tracks one in-flight save for a key. Every field mutation
// happens inside pending.Compute for that key, which serializes writers
// attaching new state with the worker snapshotting and retiring it.
type saveTicket struct {
	fut     *storage.Future[struct{}]
	resolve func(struct{}, error)
	rec     record.Record // newest record attached for this key
	redo    bool          // set when rec changed after the worker took its snapshot
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// New creates a file-backed storage rooted at opts.Dir. The directory is
// created if it does not exist.
//
// Thread-safety: This function is not thread-safe and should only be called
// once per data directory. The returned storage is safe for concurrent use.
func New(opts *Options) (storage.IStorage, error) {
	if opts == nil || opts.Dir == "" {
		return nil, fmt.Errorf("fstore: data directory is required")
	}
	opts = opts.withDefaults()

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("fstore: failed to create data directory: %w", err)
	}

	st := &fstoreImpl{
		opts:         opts,
		stripes:      internal.NewStripeTable(stripeCount, util.GenerateSeed()),
		pending:      xsync.NewMapOf[string, *saveTicket](),
		sem:          make(chan struct{}, opts.Workers),
		met:          metrics.NewSet(),
		payloadSizes: util.NewSizeHistogram(),
		freeSpace:    diskFreeSpace,
	}

	// operation counters, scoped to this instance
	st.diskWrites = st.met.GetOrCreateCounter("varstore_disk_writes_total")
	st.diskRenames = st.met.GetOrCreateCounter("varstore_disk_renames_total")
	st.coalescedSaves = st.met.GetOrCreateCounter("varstore_saves_coalesced_total")
	st.cacheHits = st.met.GetOrCreateCounter("varstore_cache_hits_total")
	st.cacheMisses = st.met.GetOrCreateCounter("varstore_cache_misses_total")
	st.backupRecoveries = st.met.GetOrCreateCounter("varstore_backup_recoveries_total")
	st.corruptFrames = st.met.GetOrCreateCounter("varstore_corrupt_frames_total")
	st.diskFullAborts = st.met.GetOrCreateCounter("varstore_disk_full_aborts_total")

	// the cache re-saves dirty records it evicts so no modified state is
	// ever dropped silently
	st.cache = newRecordCache(opts.MaxCachedRecords, opts.CacheExpiry, opts.JanitorInterval, st.handleDirtyEviction)

	st.accepting.Store(true)

	log.Debugf("Opened storage at %s", opts.Dir)
	return st, nil
}

// --------------------------------------------------------------------------
// Key and Path Helper Functions
// --------------------------------------------------------------------------

// validKey rejects keys that cannot serve as file name stems
func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	return nil
}

// primaryPath returns the path of the current frame file for a key
func (st *fstoreImpl) primaryPath(key string) string {
	return filepath.Join(st.opts.Dir, key+primarySuffix)
}

// backupPath returns the path of the previous frame file for a key
func (st *fstoreImpl) backupPath(key string) string {
	return filepath.Join(st.opts.Dir, key+backupSuffix)
}

// tempPath returns a fresh scratch path for a key. The random id guarantees
// that concurrent writers never collide on the same scratch file.
func (st *fstoreImpl) tempPath(key string) string {
	return filepath.Join(st.opts.Dir, key+"."+uuid.NewString()+tempSuffix)
}

// --------------------------------------------------------------------------
// Core IStorage Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Save schedules the record to be persisted under the given key. The record
// is placed in the cache immediately, the disk write happens on a background
// worker. If a write for the same key is already in flight, the new state is
// attached to it and the worker writes again before finishing, so rapid
// saves of the same key collapse into few disk writes that always end with
// the latest state.
//
// Records implementing record.Dirtyable that report clean complete
// immediately without touching cache or disk.
//
// Parameters:
//   - key: the key to store the record under
//   - rec: the record to persist
//
// Returns:
//   - *storage.Future[struct{}]: completes when the record is on stable storage
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (st *fstoreImpl) Save(key string, rec record.Record) *storage.Future[struct{}] {
	if err := validKey(key); err != nil {
		return storage.Failed[struct{}](err)
	}
	if !st.accepting.Load() {
		return storage.Failed[struct{}](storage.ErrShutdown)
	}

	// case clean record -> already on disk, nothing to do
	if d, ok := rec.(record.Dirtyable); ok && !d.IsDirty() {
		return storage.Completed(struct{}{})
	}

	st.cache.Put(key, rec)

	var (
		fut   *storage.Future[struct{}]
		start *saveTicket
	)
	st.pending.Compute(key, func(t *saveTicket, loaded bool) (*saveTicket, bool) {
		if loaded {
			// case coalesce -> a worker is already writing this key, hand
			// it the newer record and share its future
			t.rec = rec
			t.redo = true
			fut = t.fut
			return t, false
		}

		// case first save for this key -> create a ticket and start a worker
		f, resolve := storage.NewFuture[struct{}]()
		start = &saveTicket{fut: f, resolve: resolve, rec: rec}
		fut = f
		return start, false
	})

	if start != nil {
		st.spawn(func() { st.runSave(key, start) })
	} else {
		st.coalescedSaves.Inc()
	}

	return fut
}

// runSave is the worker loop for one save ticket. It snapshots the newest
// attached record, writes it, and retires the ticket unless newer state
// arrived mid-write, in which case it writes again.
//
// Thread-safety: Exactly one worker runs per ticket, all ticket mutations
// go through pending.Compute.
func (st *fstoreImpl) runSave(key string, t *saveTicket) {
	for {
		// snapshot the newest record and clear the redo marker
		var rec record.Record
		st.pending.Compute(key, func(cur *saveTicket, _ bool) (*saveTicket, bool) {
			cur.redo = false
			rec = cur.rec
			return cur, false
		})

		if err := st.writeRecord(key, rec); err != nil {
			// drop the ticket so the key is not wedged, the record keeps
			// its dirty flag and a later save retries the write
			st.pending.Delete(key)
			log.Errorf("Failed to save %s: %v", key, err)
			t.resolve(struct{}{}, err)
			return
		}

		// the written state is on stable storage
		if d, ok := rec.(record.Dirtyable); ok {
			d.MarkSaved()
		}

		// retire the ticket, unless a newer record was attached while the
		// write was in flight
		done := false
		st.pending.Compute(key, func(cur *saveTicket, _ bool) (*saveTicket, bool) {
			if cur.redo {
				return cur, false
			}
			done = true
			return nil, true
		})

		if done {
			t.resolve(struct{}{}, nil)
			return
		}
	}
}

// writeRecord persists one record to disk. The pipeline is: free space
// guard, encode, write to a scratch file, fsync, then rotate the scratch
// file into place under the key's stripe lock. The primary file is moved to
// the backup slot first, so after every successful write the backup holds
// the previous version.
//
// The scratch file never outlives this call, on any path it is either
// renamed away or removed.
func (st *fstoreImpl) writeRecord(key string, rec record.Record) error {
	// check free space before anything touches the disk
	free, err := st.freeSpace(st.opts.Dir)
	if err != nil {
		return fmt.Errorf("failed to check free space: %w", err)
	}
	if free < st.opts.MinFreeSpace {
		st.diskFullAborts.Inc()
		return fmt.Errorf("%w: %d bytes free, %d required", storage.ErrDiskFull, free, st.opts.MinFreeSpace)
	}

	payload := record.Marshal(rec)
	st.payloadSizes.AddSample(len(payload))
	data := frame.Encode(payload)

	tmpPath := st.tempPath(key)
	if err := writeFileSync(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write scratch file: %w", err)
	}
	st.diskWrites.Inc()

	// remove the scratch file if the rotation below did not consume it
	defer os.Remove(tmpPath)

	stripe := st.stripes.GetStripe(key)
	stripe.Lock()
	renames, err := rotateIntoPlace(tmpPath, st.primaryPath(key), st.backupPath(key))
	stripe.Unlock()

	st.diskRenames.Add(renames)

	if err != nil {
		return fmt.Errorf("failed to rotate %s into place: %w", key, err)
	}
	return nil
}

// rotateIntoPlace moves the current primary file to the backup slot and the
// scratch file to primary. Both steps are plain renames, so a concurrent
// reader holding the stripe lock sees either the old frame or the new one,
// never a mix. Returns how many renames were performed.
func rotateIntoPlace(tmpPath, primary, backup string) (int, error) {
	renames := 0
	if _, err := os.Stat(primary); err == nil {
		if err := os.Rename(primary, backup); err != nil {
			return renames, err
		}
		renames++
	}
	if err := os.Rename(tmpPath, primary); err != nil {
		return renames, err
	}
	return renames + 1, nil
}

// writeFileSync writes data to a new file at path and forces it to stable
// storage before returning
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// --------------------------------------------------------------------------
// Core IStorage Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Load retrieves the record stored under the given key. A cached record of
// the expected type is returned directly without touching disk. On a miss
// the primary file is decoded, and if it is missing or fails validation the
// backup file is tried. A key that is absent or unreadable in both files
// completes with Found=false, never with an error.
//
// Parameters:
//   - key: the key to load
//   - factory: creates the empty record instance the file is decoded into
//
// Returns:
//   - *storage.Future[storage.LoadResult]: completes with the record, if found
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Concurrent loads for the same key may decode the file more than once but
// all complete with the same cached instance.
func (st *fstoreImpl) Load(key string, factory storage.RecordFactory) *storage.Future[storage.LoadResult] {
	if err := validKey(key); err != nil {
		return storage.Failed[storage.LoadResult](err)
	}
	if !st.accepting.Load() {
		return storage.Failed[storage.LoadResult](storage.ErrShutdown)
	}

	// case cache hit -> no disk access at all
	if cached, ok := st.cache.Get(key); ok {
		if want := reflect.TypeOf(factory()); reflect.TypeOf(cached) == want {
			st.cacheHits.Inc()
			return storage.Completed(storage.LoadResult{Record: cached, Found: true})
		}

		// a record of a different type is cached under this key, drop it
		// and decode fresh from disk
		log.Warningf("Cached record for %s has type %T, expected %T, reloading from disk", key, cached, factory())
		st.cache.Remove(key)
	}
	st.cacheMisses.Inc()

	fut, resolve := storage.NewFuture[storage.LoadResult]()
	st.spawn(func() {
		resolve(st.runLoad(key, factory), nil)
	})
	return fut
}

// runLoad reads a record from disk, trying the backup file if the primary
// is missing or corrupt. The decoded record is placed in the cache, if a
// concurrent load got there first its instance wins and is returned instead.
func (st *fstoreImpl) runLoad(key string, factory storage.RecordFactory) storage.LoadResult {
	stripe := st.stripes.GetStripe(key)

	stripe.RLock()
	rec, found := st.readRecord(st.primaryPath(key), factory)
	if !found {
		if _, err := os.Stat(st.backupPath(key)); err == nil {
			log.Infof("Attempting to load backup for %s", key)
			if rec, found = st.readRecord(st.backupPath(key), factory); found {
				st.backupRecoveries.Inc()
				log.Infof("Backup restored successfully for %s", key)
			} else {
				log.Errorf("Backup for %s is also unreadable", key)
			}
		}
	}
	stripe.RUnlock()

	if !found {
		return storage.LoadResult{}
	}

	// case concurrent load -> the first decoded instance wins
	winner := st.cache.GetOrPut(key, rec)
	return storage.LoadResult{Record: winner, Found: true}
}

// readRecord decodes one frame file. A missing file reports absent, a file
// that fails frame validation or record decoding is logged, counted and also
// reported absent so the caller can fall back to the backup.
func (st *fstoreImpl) readRecord(path string, factory storage.RecordFactory) (record.Record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("Failed to read %s: %v", path, err)
		}
		return nil, false
	}

	payload, err := frame.Decode(data)
	if err != nil {
		st.corruptFrames.Inc()
		log.Warningf("Rejecting %s: %v", path, err)
		return nil, false
	}

	rec := factory()
	if err := record.Unmarshal(payload, rec); err != nil {
		st.corruptFrames.Inc()
		log.Warningf("Failed to decode record from %s: %v", path, err)
		return nil, false
	}

	// the decoded state matches the disk state
	if d, ok := rec.(record.Dirtyable); ok {
		d.MarkSaved()
	}
	return rec, true
}

// Exists reports whether the key is present in the cache or on disk. The
// disk probe is a plain stat without taking the stripe lock, the answer is
// advisory and a concurrent Save or Delete may change it at any time.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (st *fstoreImpl) Exists(key string) *storage.Future[bool] {
	if err := validKey(key); err != nil {
		return storage.Failed[bool](err)
	}
	if !st.accepting.Load() {
		return storage.Failed[bool](storage.ErrShutdown)
	}

	if _, ok := st.cache.Get(key); ok {
		return storage.Completed(true)
	}

	fut, resolve := storage.NewFuture[bool]()
	st.spawn(func() {
		_, err := os.Stat(st.primaryPath(key))
		resolve(err == nil, nil)
	})
	return fut
}

// --------------------------------------------------------------------------
// Core IStorage Interface Methods - Delete Operations
// --------------------------------------------------------------------------

// Delete removes the key from the cache and its primary file from disk,
// along with any abandoned scratch files for the key. The backup file is
// kept so an accidental delete can be recovered by hand. Deleting an absent
// key succeeds.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (st *fstoreImpl) Delete(key string) *storage.Future[struct{}] {
	if err := validKey(key); err != nil {
		return storage.Failed[struct{}](err)
	}
	if !st.accepting.Load() {
		return storage.Failed[struct{}](storage.ErrShutdown)
	}

	st.cache.Remove(key)

	fut, resolve := storage.NewFuture[struct{}]()
	st.spawn(func() {
		resolve(struct{}{}, st.runDelete(key))
	})
	return fut
}

// runDelete removes the primary file and abandoned scratch files for a key
// under the key's stripe write lock
func (st *fstoreImpl) runDelete(key string) error {
	stripe := st.stripes.GetStripe(key)
	stripe.Lock()
	defer stripe.Unlock()

	if err := os.Remove(st.primaryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	// scan for scratch files left behind by crashed writes, matched
	// strictly so a dot in another key's name can not be confused with
	// our naming scheme
	entries, err := os.ReadDir(st.opts.Dir)
	if err != nil {
		return err
	}
	prefix := key + "."
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if uuid.Validate(strings.TrimSuffix(strings.TrimPrefix(name, prefix), tempSuffix)) != nil {
			continue
		}
		if err := os.Remove(filepath.Join(st.opts.Dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// InvalidateCache drops the cached record for the given key, if any. The
// next Load decodes from disk again.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (st *fstoreImpl) InvalidateCache(key string) {
	st.cache.Remove(key)
}

// --------------------------------------------------------------------------
// Cache Eviction Hook
// --------------------------------------------------------------------------

// handleDirtyEviction is called by the cache janitor when it evicts a
// record whose state was never written. The record is re-saved through the
// normal save path, which also puts it back into the cache as most recently
// used. Once the write finishes the record is clean and the next eviction
// drops it silently.
func (st *fstoreImpl) handleDirtyEviction(key string, rec record.Record) {
	log.Debugf("Re-saving dirty record %s evicted from cache", key)
	st.Save(key, rec)
}

// --------------------------------------------------------------------------
// Background Workers
// --------------------------------------------------------------------------

// spawn runs fn on the bounded worker pool. The semaphore slot is acquired
// inside the goroutine so submitting never blocks the caller.
func (st *fstoreImpl) spawn(fn func()) {
	st.wg.Add(1)
	go func() {
		st.sem <- struct{}{}

		// When done, release the semaphore and mark the task as done
		defer func() {
			<-st.sem
			st.wg.Done()
		}()

		fn()
	}()
}

// --------------------------------------------------------------------------
// IStorage Interface Implementation - Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the storage. Cache counts are collected
// without stopping concurrent operations, so the values are estimates.
func (st *fstoreImpl) GetInfo() storage.StorageInfo {
	var (
		cached int
		dirty  int
	)
	stripeSizes := make([]float64, st.stripes.Size())

	st.cache.Range(func(key string, entry *internal.Entry) bool {
		cached++
		if d, ok := entry.Rec.(record.Dirtyable); ok && d.IsDirty() {
			dirty++
		}
		stripeSizes[st.stripes.Index(key)]++
		return true
	})

	return storage.StorageInfo{
		Dir:               st.opts.Dir,
		CachedEntries:     cached,
		DirtyEntries:      dirty,
		PendingSaves:      st.pending.Size(),
		AvgPayloadSize:    st.payloadSizes.AverageSize(),
		MedianPayloadSize: st.payloadSizes.MedianEstimate(),
		StripeDistr:       util.NewDistributionStats(stripeSizes),
		Counters: storage.Counters{
			DiskWrites:       st.diskWrites.Get(),
			DiskRenames:      st.diskRenames.Get(),
			CoalescedSaves:   st.coalescedSaves.Get(),
			CacheHits:        st.cacheHits.Get(),
			CacheMisses:      st.cacheMisses.Get(),
			BackupRecoveries: st.backupRecoveries.Get(),
			CorruptFrames:    st.corruptFrames.Get(),
			DiskFullAborts:   st.diskFullAborts.Get(),
		},
	}
}

// WritePrometheus writes the engine counters in Prometheus text exposition
// format. Embedders that expose a /metrics endpoint can call this from their
// handler.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (st *fstoreImpl) WritePrometheus(w io.Writer) {
	st.met.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Shutdown stops accepting new operations and waits up to the given timeout
// for in-flight disk tasks to drain. Saves that do not finish in time are
// abandoned and their futures fail with storage.ErrShutdown. Calling
// Shutdown again has no effect.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (st *fstoreImpl) Shutdown(timeout time.Duration) error {
	if !st.accepting.CompareAndSwap(true, false) {
		return nil
	}

	log.Infof("Shutting down storage at %s, flushing pending writes", st.opts.Dir)

	done := make(chan struct{})
	go func() {
		st.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		log.Infof("All pending writes flushed")
	case <-time.After(timeout):
		err = fmt.Errorf("shutdown timed out after %s with %d saves pending", timeout, st.pending.Size())
		log.Warningf("Timed out flushing writes after %s", timeout)
	}

	// fail whatever is still tracked, a worker that finishes later calls
	// resolve a second time which has no effect
	st.pending.Range(func(key string, t *saveTicket) bool {
		t.resolve(struct{}{}, storage.ErrShutdown)
		return true
	})

	st.cache.Close()
	return err
}

// --------------------------------------------------------------------------
// Disk Space
// --------------------------------------------------------------------------

// diskFreeSpace reports the bytes available to unprivileged processes on
// the volume holding dir
func diskFreeSpace(dir string) (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return 0, err
	}
	return uint64(fs.Bavail) * uint64(fs.Bsize), nil
}
