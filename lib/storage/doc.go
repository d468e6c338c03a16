// Package storage defines the asynchronous persistence interface for
// records and the future type its operations return.
//
// The package focuses on:
//
//   - A uniform async API: every operation returns a *Future that resolves
//     once the background work is done
//   - Per-key semantics: implementations order operations per key while
//     keys proceed independently
//   - Honest absence: loading a missing key resolves with Found=false
//     instead of an error, errors are reserved for real failures
//
// Key Components:
//
//   - IStorage: the storage contract implemented by concrete engines
//     such as fstore
//   - Future: a single-resolution completion handle with Wait, WaitCtx
//     and Done
//   - LoadTyped: generic helper that loads and type-asserts in one call
//   - StorageInfo: sampled statistics exposed by implementations
//
// Implementations live in subpackages. The interface deliberately says
// nothing about files, caches or locking, those are implementation
// concerns of the engine behind it.
package storage
