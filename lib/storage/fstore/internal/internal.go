package internal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/varstore/lib/record"
	"github.com/ValentinKolb/varstore/lib/storage/util"
)

// --------------------------------------------------------------------------
// Event Types are used to signal cache state changes to the janitor
// --------------------------------------------------------------------------

type EventType int

const (
	EventTTouch EventType = iota
	EventTDrop
)

func (e EventType) String() string {
	switch e {
	case EventTTouch:
		return "Touch"
	case EventTDrop:
		return "Drop"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type       EventType
	Key        string
	AccessedAt int64
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Key: %s}", e.Type, e.Key)
}

// --------------------------------------------------------------------------
// Entry Type (cached record with access metadata)
// --------------------------------------------------------------------------

// Entry stores a cached record with its access metadata. Entries are
// shared by pointer, AccessedAt is updated on every cache hit and read
// by the janitor's double check before an eviction.
type Entry struct {
	Rec        record.Record
	AccessedAt atomic.Int64 // unix nanoseconds of the last access
}

// --------------------------------------------------------------------------
// Stripe Table (per-key file locks)
// --------------------------------------------------------------------------

// StripeTable maps keys to a fixed set of read-write locks. All file
// operations for a key go through its stripe, so rename pipelines for the
// same key serialize while different keys rarely contend.
type StripeTable struct {
	seed    uint64
	stripes []sync.RWMutex
}

// NewStripeTable creates a stripe table with the given number of locks
func NewStripeTable(count int, seed uint64) *StripeTable {
	return &StripeTable{
		seed:    seed,
		stripes: make([]sync.RWMutex, count),
	}
}

// Index returns the stripe index for a key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *StripeTable) Index(key string) int {
	// shift right by 7 bits to use higher-quality bits for distribution
	hash := util.HashString(key, t.seed) >> 7
	return int(hash % uint64(len(t.stripes)))
}

// GetStripe returns the lock guarding all file operations for a key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *StripeTable) GetStripe(key string) *sync.RWMutex {
	return &t.stripes[t.Index(key)]
}

// Size returns the number of stripes
func (t *StripeTable) Size() int {
	return len(t.stripes)
}
