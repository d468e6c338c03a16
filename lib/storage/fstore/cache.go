package fstore

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/varstore/lib/record"
	"github.com/ValentinKolb/varstore/lib/storage/fstore/internal"
	"github.com/ValentinKolb/varstore/lib/storage/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Record Cache
// --------------------------------------------------------------------------

// recordCache is the bounded in-memory layer in front of the files. Reads
// and writes go through a concurrent map, access bookkeeping is streamed
// to a single janitor goroutine through a lock-free queue so the hot paths
// never wait on eviction work.
type recordCache struct {
	data       *xsync.MapOf[string, *internal.Entry]
	events     *util.MPSC[internal.Event]
	maxEntries int
	expiry     time.Duration
	interval   time.Duration

	// onEvict is called for records that are still dirty when they leave
	// the cache, after the map mutation completed. The callback must not
	// block, it runs on the janitor goroutine.
	onEvict func(key string, rec record.Record)

	janitorIsRunning atomic.Bool
}

// newRecordCache creates a cache and starts its janitor
func newRecordCache(maxEntries int, expiry, interval time.Duration, onEvict func(string, record.Record)) *recordCache {
	c := &recordCache{
		data:       xsync.NewMapOf[string, *internal.Entry](),
		events:     util.NewMPSC[internal.Event](),
		maxEntries: maxEntries,
		expiry:     expiry,
		interval:   interval,
		onEvict:    onEvict,
	}

	c.startJanitor()

	return c
}

// --------------------------------------------------------------------------
// Cache Operations
// --------------------------------------------------------------------------

// touch records an access so the janitor can keep its recency index current
func (c *recordCache) touch(key string, entry *internal.Entry) {
	now := time.Now().UnixNano()
	entry.AccessedAt.Store(now)
	c.events.Push(&internal.Event{
		Type:       internal.EventTTouch,
		Key:        key,
		AccessedAt: now,
	})
}

// Get returns the cached record for a key, if any
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) Get(key string) (record.Record, bool) {
	entry, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	c.touch(key, entry)
	return entry.Rec, true
}

// Put inserts or replaces the cached record for a key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) Put(key string, rec record.Record) {
	entry := &internal.Entry{Rec: rec}
	c.data.Store(key, entry)
	c.touch(key, entry)
}

// GetOrPut caches the record if the key is absent and returns whichever
// record is cached afterwards. Concurrent loaders for the same key all end
// up with the same instance, the first one wins.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) GetOrPut(key string, rec record.Record) record.Record {
	entry, _ := c.data.LoadOrStore(key, &internal.Entry{Rec: rec})
	c.touch(key, entry)
	return entry.Rec
}

// Remove drops a key from the cache. The evict callback is not invoked,
// removal is an explicit caller decision.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) Remove(key string) {
	if _, ok := c.data.LoadAndDelete(key); ok {
		c.events.Push(&internal.Event{
			Type: internal.EventTDrop,
			Key:  key,
		})
	}
}

// Size returns the number of cached records
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) Size() int {
	return c.data.Size()
}

// Range calls fn for every cached entry until fn returns false
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) Range(fn func(key string, entry *internal.Entry) bool) {
	c.data.Range(fn)
}

// --------------------------------------------------------------------------
// Janitor
// --------------------------------------------------------------------------

// startJanitor starts the janitor goroutine.
// If the janitor is already running, this function does nothing.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) startJanitor() {
	if c.janitorIsRunning.CompareAndSwap(false, true) {
		go c.janitor()
	}
}

// stopJanitor stops the janitor.
// The janitor can't be started again after it has been stopped!
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *recordCache) stopJanitor() {
	if c.janitorIsRunning.CompareAndSwap(true, false) {
		c.events.Close()
	}
}

// Close stops the janitor. Cached records stay readable, no further
// eviction happens.
func (c *recordCache) Close() {
	c.stopJanitor()
}

// janitor is the main eviction loop.
// WARNING: this method should never be called directly! Use startJanitor()
// and stopJanitor().
//
// Thread-safety: This function is not thread-safe!
func (c *recordCache) janitor() {

	// recency index, owned exclusively by this goroutine
	recency := util.NewAccessHeap()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		// reset timeout
		timer.Reset(c.interval)

		endLoop := false
		for !endLoop {
			select {
			// case apply a cache event to the recency index
			case event, ok := <-c.events.Recv():
				if !ok {
					return
				}

				switch event.Type {
				case internal.EventTTouch:
					recency.Touch(event.Key, event.AccessedAt)
				case internal.EventTDrop:
					recency.RemoveByKey(event.Key)
				default:
					panic(fmt.Sprintf("unknown event %s", event))
				}

			case <-timer.C:
				endLoop = true
			}
		}

		// ACTUAL EVICTION LOGIC BELOW

		/*
			Note: the timestamps are taken once per sweep so a sweep
			cannot chase a moving cutoff while entries keep arriving.
		*/
		now := time.Now().UnixNano()
		cutoff := now - c.expiry.Nanoseconds()

		// evict every record whose last access is past the expiry
		for {
			key, accessedAt, exists := recency.Peek()
			if !exists || accessedAt > cutoff {
				break
			}
			c.evict(key, cutoff, recency)
		}

		// then evict coldest-first until the cache is within capacity
		for c.data.Size() > c.maxEntries {
			key, _, exists := recency.Peek()
			if !exists {
				// index lags behind the map, the missing keys arrive as
				// events in the next cycle
				break
			}
			c.evict(key, now, recency)
		}
	}
}

// evict removes a key from the cache unless it was accessed after the
// cutoff. Dirty records are handed to the evict callback once the map no
// longer holds them.
func (c *recordCache) evict(key string, cutoff int64, recency *util.AccessHeap) {
	var evicted record.Record

	c.data.Compute(key, func(entry *internal.Entry, loaded bool) (*internal.Entry, bool) {
		if !loaded {
			return entry, true // set delete to true because else an entry would be created
		}

		/*
			Note-1: double-check against the entry itself. The key may have
			been accessed after its event was drained into the recency
			index, in that case the entry survives and the fresh access
			event re-adds it to the index in the next cycle.
		*/
		if entry.AccessedAt.Load() > cutoff {
			return entry, false
		}

		evicted = entry.Rec
		return nil, true
	})

	/*
		Note-2: the key is removed from the recency index even if the entry
		survived. Leaving it would reprocess the same key forever, and the
		access that saved the entry also queued a touch event that restores
		the index entry.
	*/
	recency.RemoveByKey(key)

	// a dirty record leaves the cache only through the callback, so its
	// latest state still reaches disk
	if evicted != nil {
		if d, ok := evicted.(record.Dirtyable); ok && d.IsDirty() {
			c.onEvict(key, evicted)
		}
	}
}
