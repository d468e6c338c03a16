package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/varstore/lib/storage"
)

// RunStorageBenchmarks runs all benchmarks for a storage implementation
func RunStorageBenchmarks(b *testing.B, name string, factory StorageFactory) {

	b.Run("Save", func(b *testing.B) {
		benchmarkSave(b, factory(b.TempDir()))
	})

	b.Run("SaveSameKey", func(b *testing.B) {
		benchmarkSaveSameKey(b, factory(b.TempDir()))
	})

	b.Run("SaveAsync", func(b *testing.B) {
		benchmarkSaveAsync(b, factory(b.TempDir()))
	})

	b.Run("LoadCached", func(b *testing.B) {
		benchmarkLoadCached(b, factory(b.TempDir()))
	})

	b.Run("LoadFromDisk", func(b *testing.B) {
		benchmarkLoadFromDisk(b, factory(b.TempDir()))
	})

	b.Run("Exists", func(b *testing.B) {
		benchmarkExists(b, factory(b.TempDir()))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory(b.TempDir()))
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Save with distinct keys, waiting for durability
func benchmarkSave(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d", counter)
			if _, err := st.Save(key, newPlayerStats(key)).Wait(); err != nil {
				b.Errorf("Unexpected error during Save: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for rapid saves of a single key, exercising write coalescing
func benchmarkSaveSameKey(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p := newPlayerStats("hot-key")
			if _, err := st.Save("hot-key", p).Wait(); err != nil {
				b.Errorf("Unexpected error during Save: %v", err)
			}
		}
	})
}

// Benchmark for fire-and-forget saves, waiting only at the end
func benchmarkSaveAsync(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	futures := make([]*storage.Future[struct{}], 0, b.N)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("bench-async-%d", i)
		futures = append(futures, st.Save(key, newPlayerStats(key)))
	}
	for _, fut := range futures {
		if _, err := fut.Wait(); err != nil {
			b.Errorf("Unexpected error during Save: %v", err)
		}
	}
}

// Parallel benchmarking for cached loads
func benchmarkLoadCached(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("bench-key-%d", i)
		if _, err := st.Save(key, newPlayerStats(key)).Wait(); err != nil {
			b.Fatalf("Unexpected error during Save: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d", counter%numKeys)
			if _, err := st.Load(key, statsFactory).Wait(); err != nil {
				b.Errorf("Unexpected error during Load: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for loads that decode from disk on every iteration
func benchmarkLoadFromDisk(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("bench-key-%d", i)
		if _, err := st.Save(key, newPlayerStats(key)).Wait(); err != nil {
			b.Fatalf("Unexpected error during Save: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("bench-key-%d", i%numKeys)
		st.InvalidateCache(key)
		if _, err := st.Load(key, statsFactory).Wait(); err != nil {
			b.Errorf("Unexpected error during Load: %v", err)
		}
	}
}

// Parallel benchmarking for Exists
func benchmarkExists(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("bench-key-%d", i)
		if _, err := st.Save(key, newPlayerStats(key)).Wait(); err != nil {
			b.Fatalf("Unexpected error during Save: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			// every second probe misses
			key := fmt.Sprintf("bench-key-%d", counter%(numKeys*2))
			if _, err := st.Exists(key).Wait(); err != nil {
				b.Errorf("Unexpected error during Exists: %v", err)
			}
			counter++
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, st storage.IStorage) {
	b.Cleanup(func() {
		st.Shutdown(shutdownTimeout)
	})

	// Prepare initial data
	numKeys := 1000
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("bench-key-%d", i)
		if _, err := st.Save(keys[i], newPlayerStats(keys[i])).Wait(); err != nil {
			b.Fatalf("Unexpected error during Save: %v", err)
		}
	}

	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		localCounter := 0
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			key := keys[idx]

			// 60% loads, 30% saves, 10% exists
			switch localCounter % 10 {
			case 0, 1, 2, 3, 4, 5:
				if _, err := st.Load(key, statsFactory).Wait(); err != nil {
					b.Errorf("Unexpected error during Load: %v", err)
				}
			case 6, 7, 8:
				p := newPlayerStats(key)
				p.Kills = int32(localCounter)
				if _, err := st.Save(key, p).Wait(); err != nil {
					b.Errorf("Unexpected error during Save: %v", err)
				}
			case 9:
				if _, err := st.Exists(key).Wait(); err != nil {
					b.Errorf("Unexpected error during Exists: %v", err)
				}
			}

			localCounter++
		}
	})
}
