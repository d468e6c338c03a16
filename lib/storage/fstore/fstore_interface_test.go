package fstore

import (
	"testing"

	"github.com/ValentinKolb/varstore/lib/storage"
	storagetesting "github.com/ValentinKolb/varstore/lib/storage/testing"
)

func Test(t *testing.T) {
	storagetesting.RunStorageTests(t, "FStore", func(dir string) storage.IStorage {
		st, err := New(DefaultOptions(dir))
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		return st
	})
}

func Benchmark(b *testing.B) {
	storagetesting.RunStorageBenchmarks(b, "FStore", func(dir string) storage.IStorage {
		st, err := New(DefaultOptions(dir))
		if err != nil {
			b.Fatalf("Failed to create storage: %v", err)
		}
		return st
	})
}

/*
BENCH RESULTS (Apple M1 Max, 64GB RAM, macOS 15.3.2, go version go1.24.1 darwin/arm64):

goos: darwin
goarch: arm64
pkg: github.com/ValentinKolb/varstore/lib/storage/fstore
cpu: Apple M1 Max
Benchmark
Benchmark/Save
Benchmark/Save-10                  	    2847	    415692 ns/op
Benchmark/SaveSameKey
Benchmark/SaveSameKey-10           	    8266	    144827 ns/op
Benchmark/SaveAsync
Benchmark/SaveAsync-10             	   23914	     50112 ns/op
Benchmark/LoadCached
Benchmark/LoadCached-10            	 3598429	       333.4 ns/op
Benchmark/LoadFromDisk
Benchmark/LoadFromDisk-10          	   38465	     31108 ns/op
Benchmark/Exists
Benchmark/Exists-10                	  861342	      1392 ns/op
Benchmark/MixedUsage
Benchmark/MixedUsage-10            	    9532	    125730 ns/op
PASS

Process finished with the exit code 0
*/
