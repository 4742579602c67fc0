package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avollmer/strataKV/cmd/util"
	"github.com/avollmer/strataKV/lib/store"
	"github.com/avollmer/strataKV/lib/tier"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd benchmarks the core engine operations against local tiers.
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark the storage engine against local tiers",
		Long:    "",
		RunE:    run,
		PreRunE: processBenchConfig,
	}

	benchKeyPrefix  = "__bench"
	benchValueSize  = 128
	benchNumThreads = 10
	benchKeySpread  = 100
	benchSkip       = make([]string, 0)

	engine  *store.Store
	version atomic.Uint64
)

func init() {
	// add flags
	key := "skip"
	BenchCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. commit,get)"))
	key = "threads"
	BenchCmd.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	BenchCmd.PersistentFlags().Int(key, 128, util.WrapString("Size of the values written by the benchmarks (in bytes)"))
	key = "keys"
	BenchCmd.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))

	util.SetupStoreFlags(BenchCmd)
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchValueSize = viper.GetInt("value-size")
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// nextVersion mints a strictly increasing commit version for the benchmarks
func nextVersion() tier.CommitVersion {
	return tier.CommitVersion(version.Add(1))
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Benchmark tool for the strataKV storage engine")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Warm tier:  %s\n", viper.GetString("warm-tier"))
	fmt.Printf("Cold tier:  %s\n", viper.GetString("cold-tier"))
	fmt.Printf("Threads:    %d\n", benchNumThreads)
	fmt.Printf("Keys:       %d\n", benchKeySpread)
	fmt.Printf("Value size: %d bytes\n", benchValueSize)
	fmt.Println()

	s, collector, err := util.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	engine = s
	defer func() {
		_ = engine.Close()
		collector.Close()
	}()

	fmt.Println("starting benchmarks...")

	value := make([]byte, benchValueSize)

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	commitResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("commit") {
			return
		}

		getKey, _ := getKeys("commit")

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				err := engine.Commit([]store.Delta{
					store.NewSet(getKey(counter), value),
				}, nextVersion())
				if err != nil {
					log.Printf("(commit) - error committing: %v\n", err)
				}
				counter++
			}
		})
	})

	results["commit"] = commitResult
	printResult("commit", commitResult)

	commitBatchResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("commit-batch") {
			return
		}

		getKey, _ := getKeys("commit-batch")

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				deltas := make([]store.Delta, 16)
				for i := range deltas {
					deltas[i] = store.NewSet(getKey(counter+i), value)
				}
				if err := engine.Commit(deltas, nextVersion()); err != nil {
					log.Printf("(commit-batch) - error committing: %v\n", err)
				}
				counter += len(deltas)
			}
		})
	})

	results["commit-batch"] = commitBatchResult
	printResult("commit-batch", commitBatchResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		getKey, iter := getKeys("get")
		seedKeys(b, "get", iter, value)

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				_, _, err := engine.Get(getKey(counter), tier.MaxVersion)
				if err != nil {
					log.Printf("(get) - error getting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["get"] = getResult
	printResult("get", getResult)

	containsResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("contains") {
			return
		}

		getKey, iter := getKeys("contains")
		seedKeys(b, "contains", iter, value)

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				_, err := engine.Contains(getKey(counter), tier.MaxVersion)
				if err != nil {
					log.Printf("(contains) - error checking key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["contains"] = containsResult
	printResult("contains", containsResult)

	rangeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("range") {
			return
		}

		_, iter := getKeys("range")
		seedKeys(b, "range", iter, value)
		lower := []byte(benchKeyPrefix + "-range")
		upper := append(append([]byte{}, lower...), 0xff)

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				it := engine.Range(lower, upper, tier.MaxVersion, 256)
				for it.Next() {
				}
				if err := it.Err(); err != nil {
					log.Printf("(range) - error scanning: %v\n", err)
				}
			}
		})
	})

	results["range"] = rangeResult
	printResult("range", rangeResult)

	removeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("remove") {
			return
		}

		getKey, iter := getKeys("remove")
		seedKeys(b, "remove", iter, value)

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				err := engine.Commit([]store.Delta{
					store.NewRemove(getKey(counter)),
				}, nextVersion())
				if err != nil {
					log.Printf("(remove) - error removing key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["remove"] = removeResult
	printResult("remove", removeResult)

	dropResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("drop") {
			return
		}

		getKey, iter := getKeys("drop")
		seedKeys(b, "drop", iter, value)
		keep := 2

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				err := engine.Commit([]store.Delta{
					store.NewSet(key, value),
					store.NewDrop(key, nil, &keep),
				}, nextVersion())
				if err != nil {
					log.Printf("(drop) - error dropping versions: %v\n", err)
				}
				counter++
			}
		})
	})

	results["drop"] = dropResult
	printResult("drop", dropResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		getKey, iter := getKeys("mixed")
		seedKeys(b, "mixed", iter, value)

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				var err error
				switch counter % 4 {
				case 0: // commit
					err = engine.Commit([]store.Delta{store.NewSet(key, value)}, nextVersion())
				case 1: // get
					_, _, err = engine.Get(key, tier.MaxVersion)
				case 2: // remove
					err = engine.Commit([]store.Delta{store.NewRemove(key)}, nextVersion())
				case 3: // contains
					_, err = engine.Contains(key, tier.MaxVersion)
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%4, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Print the engine totals collected during the run
	snap := collector.Snapshot()
	fmt.Println()
	fmt.Printf("Engine totals: %d commits, %d writes, %d deletes, %d drops, %d change records\n",
		snap.Commits, snap.Writes, snap.Deletes, snap.Drops, snap.CDCRecords)

	// Write results to csv is specified
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

// getKeys creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) []byte, func(func([]byte))) {
	keys := make([][]byte, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i))
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) []byte {
		return keys[i%benchKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func([]byte)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// seedKeys writes one version of every benchmark key before the timer starts
func seedKeys(b *testing.B, test string, iter func(func([]byte)), value []byte) {
	iter(func(k []byte) {
		err := engine.Commit([]store.Delta{store.NewSet(k, value)}, nextVersion())
		if err != nil {
			log.Printf("(%s) - error seeding key: %v\n", test, err)
		}
	})

	b.Cleanup(func() {
		iter(func(k []byte) {
			err := engine.Commit([]store.Delta{store.NewDrop(k, nil, nil)}, nextVersion())
			if err != nil {
				log.Printf("(%s) - error purging key: %v\n", test, err)
			}
		})
	})
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
		"WarmTier", "ColdTier",
		"Threads", "ValueSizeBytes", "KeysCount",
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
			viper.GetString("warm-tier"),
			viper.GetString("cold-tier"),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSize),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
