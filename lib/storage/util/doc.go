// Package util provides utility components for
// storage implementations that satisfy the storage.IStorage interface.
//
// The package contains:
//   - statistics: A SizeHistogram for tracking payload size distribution and estimators for key-to-stripe balance
//   - functions: Hash functions and seed generation for stripe assignment
//   - accessheap: A recency index over cache keys that supports both heap ordering and key-based access
//   - eventqueue: A lock-free Multi-Producer Single-Consumer (MPSC) queue built for high throughput and low latency
//
// This package is particularly useful for:
//   - Storage developers implementing the IStorage interface
//   - Cache eviction and other least-recently-used bookkeeping
//   - Monitoring systems that need to track payload size and distribution metrics
//
// Each component is independent of the concrete storage engine, allowing
// consistent measurement and bookkeeping across different backends.
package util
