package fstore

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	defaultMaxCachedRecords = 2000                   // cache capacity before LRU eviction
	defaultCacheExpiry      = 15 * time.Minute       // idle time before a record leaves the cache
	defaultJanitorInterval  = 100 * time.Millisecond // interval between janitor sweeps
	defaultMinFreeSpace     = 4096                   // bytes of free disk space required for saves
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a storage instance during initialization
type Options struct {
	// Dir is the directory all record files live in. It is created if
	// missing. Required.
	Dir string

	// MaxCachedRecords caps the in-memory cache. Once exceeded, the
	// janitor evicts least recently used records (0 = use default)
	MaxCachedRecords int

	// CacheExpiry is how long an untouched record stays cached
	// (0 = use default)
	CacheExpiry time.Duration

	// JanitorInterval is the time between janitor sweeps
	// (0 = use default)
	JanitorInterval time.Duration

	// Workers bounds the number of concurrently running background
	// tasks such as saves and loads (0 = number of CPUs)
	Workers int

	// MinFreeSpace is the free disk space in bytes below which saves
	// abort with ErrDiskFull (0 = use default)
	MinFreeSpace uint64
}

// DefaultOptions returns the default options for the given directory
func DefaultOptions(dir string) *Options {
	return &Options{
		Dir:              dir,
		MaxCachedRecords: defaultMaxCachedRecords,
		CacheExpiry:      defaultCacheExpiry,
		JanitorInterval:  defaultJanitorInterval,
		Workers:          runtime.NumCPU(),
		MinFreeSpace:     defaultMinFreeSpace,
	}
}

// withDefaults fills zero fields with their defaults, leaving set fields
// untouched
func (o *Options) withDefaults() *Options {
	out := *o
	if out.MaxCachedRecords <= 0 {
		out.MaxCachedRecords = defaultMaxCachedRecords
	}
	if out.CacheExpiry <= 0 {
		out.CacheExpiry = defaultCacheExpiry
	}
	if out.JanitorInterval <= 0 {
		out.JanitorInterval = defaultJanitorInterval
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.MinFreeSpace == 0 {
		out.MinFreeSpace = defaultMinFreeSpace
	}
	return &out
}

// String returns a formatted string representation of the options
func (o *Options) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Storage settings
	addSection("Storage")
	addField("Data Directory", o.Dir)
	addField("Min Free Space", fmt.Sprintf("%d bytes", o.MinFreeSpace))

	// Cache configuration
	addSection("Cache")
	addField("Max Cached Records", strconv.Itoa(o.MaxCachedRecords))
	addField("Expiry", o.CacheExpiry.String())
	addField("Janitor Interval", o.JanitorInterval.String())

	// Background workers
	addSection("Workers")
	addField("Worker Count", strconv.Itoa(o.Workers))

	return sb.String()
}
