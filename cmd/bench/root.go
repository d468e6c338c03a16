package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/varstore/cmd/util"
	"github.com/ValentinKolb/varstore/lib/codec"
	"github.com/ValentinKolb/varstore/lib/record"
	"github.com/ValentinKolb/varstore/lib/storage"
	"github.com/ValentinKolb/varstore/lib/storage/fstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd represents the bench command
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark the storage engine",
		Long:    "",
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchKeyPrefix   = "__bench"
	benchValueSizeKB = 1
	benchNumThreads  = 10
	benchKeySpread   = 100
	benchSkip        = make([]string, 0)

	benchStore storage.IStorage
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add the common storage engine flags
	util.SetupStorageFlags(BenchCmd)

	// add flags
	key := "skip"
	BenchCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. save,load-cached)"))
	key = "threads"
	BenchCmd.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	BenchCmd.PersistentFlags().Int(key, 1, util.WrapString("How large the payload of each record should be (in KB)"))
	key = "keys"
	BenchCmd.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the benchmarks"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

// --------------------------------------------------------------------------
// Benchmark record
// --------------------------------------------------------------------------

// benchRecord is the record type the benchmarks write and read
type benchRecord struct {
	record.Base

	Name    string
	Kills   int32
	Payload []byte
}

func (r *benchRecord) Version() int32 { return 1 }

func (r *benchRecord) Write(w *codec.Writer) {
	w.WriteString(r.Name)
	w.WriteVarInt(r.Kills)
	w.WriteBytes(r.Payload)
}

func (r *benchRecord) Read(rd *codec.Reader, _ int32) {
	r.Name = rd.ReadString()
	r.Kills = rd.ReadVarInt()
	r.Payload = rd.ReadBytes()
}

func benchFactory() record.Record { return &benchRecord{} }

// --------------------------------------------------------------------------
// Command
// --------------------------------------------------------------------------

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	util.ApplyLogLevel()

	// Read the configuration from the command line flags and environment variables
	benchValueSizeKB = viper.GetInt("value-size")
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Benchmarking tool for the varstore engine")

	opts := util.GetStorageOptions()

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(opts.String())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Println()

	st, err := fstore.New(opts)
	if err != nil {
		return err
	}
	benchStore = st
	defer func() {
		if err := benchStore.Shutdown(30 * time.Second); err != nil {
			log.Printf("error shutting down storage: %v\n", err)
		}
	}()

	// shared payload, so the benchmarks measure the engine and not the
	// allocation of test data
	payload := make([]byte, benchValueSizeKB*1024)

	fmt.Println("starting benchmarks...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	saveResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("save") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("save")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Delete(k).Wait(); err != nil {
					log.Printf("(save) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				rec := &benchRecord{Name: "save", Kills: int32(counter), Payload: payload}
				if _, err := benchStore.Save(getKey(counter), rec).Wait(); err != nil {
					log.Printf("(save) - error saving key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["save"] = saveResult
	printResult("save", saveResult)

	saveHotResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("save-hot") {
			return
		}

		// all threads hammer one key so the writes coalesce
		key := fmt.Sprintf("%s-hot", benchKeyPrefix)

		// cleanup
		b.Cleanup(func() {
			if _, err := benchStore.Delete(key).Wait(); err != nil {
				log.Printf("(save-hot) - error deleting key: %v\n", err)
			}
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				rec := &benchRecord{Name: "save-hot", Kills: int32(counter), Payload: payload}
				if _, err := benchStore.Save(key, rec).Wait(); err != nil {
					log.Printf("(save-hot) - error saving key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["save-hot"] = saveHotResult
	printResult("save-hot", saveHotResult)

	loadCachedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("load-cached") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("load-cached")

		// set keys
		iter(func(k string) {
			if _, err := benchStore.Save(k, &benchRecord{Name: k, Payload: payload}).Wait(); err != nil {
				log.Printf("(load-cached) - error saving key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Delete(k).Wait(); err != nil {
					log.Printf("(load-cached) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := benchStore.Load(getKey(counter), benchFactory).Wait(); err != nil {
					log.Printf("(load-cached) - error loading key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["load-cached"] = loadCachedResult
	printResult("load-cached", loadCachedResult)

	loadDiskResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("load-disk") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("load-disk")

		// set keys
		iter(func(k string) {
			if _, err := benchStore.Save(k, &benchRecord{Name: k, Payload: payload}).Wait(); err != nil {
				log.Printf("(load-disk) - error saving key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Delete(k).Wait(); err != nil {
					log.Printf("(load-disk) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)

				// force the load to decode from disk
				benchStore.InvalidateCache(key)
				if _, err := benchStore.Load(key, benchFactory).Wait(); err != nil {
					log.Printf("(load-disk) - error loading key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["load-disk"] = loadDiskResult
	printResult("load-disk", loadDiskResult)

	existsResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("exists") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("exists")

		// set keys
		iter(func(k string) {
			if _, err := benchStore.Save(k, &benchRecord{Name: k, Payload: payload}).Wait(); err != nil {
				log.Printf("(exists) - error saving key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Delete(k).Wait(); err != nil {
					log.Printf("(exists) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := benchStore.Exists(getKey(counter)).Wait(); err != nil {
					log.Printf("(exists) - error checking key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["exists"] = existsResult
	printResult("exists", existsResult)

	existsNotResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("exists-not") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := fmt.Sprintf("%s-exists-not-%d", benchKeyPrefix, counter%benchKeySpread)
				if _, err := benchStore.Exists(key).Wait(); err != nil {
					log.Printf("(exists-not) - error checking key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["exists-not"] = existsNotResult
	printResult("exists-not", existsNotResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("mixed")

		// set keys
		iter(func(k string) {
			if _, err := benchStore.Save(k, &benchRecord{Name: k, Payload: payload}).Wait(); err != nil {
				log.Printf("(mixed) - error saving key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Delete(k).Wait(); err != nil {
					log.Printf("(mixed) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				var err error

				// 60% loads, 30% saves, 10% existence checks
				switch {
				case counter%10 < 6:
					_, err = benchStore.Load(key, benchFactory).Wait()
				case counter%10 < 9:
					rec := &benchRecord{Name: "mixed", Kills: int32(counter), Payload: payload}
					_, err = benchStore.Save(key, rec).Wait()
				default:
					_, err = benchStore.Exists(key).Wait()
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation %d: %v\n", counter%10, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Print the engine counters accumulated over all benchmarks
	info := benchStore.GetInfo()
	fmt.Println()
	fmt.Printf("engine counters: %d writes, %d renames, %d coalesced saves, %d cache hits, %d cache misses\n",
		info.Counters.DiskWrites, info.Counters.DiskRenames, info.Counters.CoalescedSaves,
		info.Counters.CacheHits, info.Counters.CacheMisses)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%benchKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Dir", "Threads", "ValueSizeKB", "KeysCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			viper.GetString("dir"),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSizeKB),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
