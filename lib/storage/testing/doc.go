// Package testing provides standardised tests and benchmarks for storage
// implementations that satisfy the storage.IStorage interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the IStorage interface contract
//   - benchmark: Performance tests for measuring throughput of common storage operations
//
// This package is particularly useful for:
//   - Applications that need to compare storage implementations based on
//     performance characteristics
//   - Storage developers implementing the IStorage interface
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(dir string) storage.IStorage {
//		st, _ := NewMyStorage(dir)
//		return st
//	}
//
//	// Running the standard test suite
//	testing.RunStorageTests(t, "MyStorage", factory)
//
//	// Running performance benchmarks
//	testing.RunStorageBenchmarks(b, "MyStorage", factory)
package testing
