package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dWatch/cmd/util"
	"github.com/ValentinKolb/dWatch/rpc/client"
	"github.com/ValentinKolb/dWatch/rpc/common"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dwatch servers",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)

	// latencies of the single operations, one timer per test
	perfRegistry = metrics.NewRegistry()
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfTest is one benchmark: setup prepares the keys, op is called in parallel
type perfTest struct {
	name  string
	setup func(ctx context.Context, ref client.RangeRef, keys [][][]byte)
	op    func(ctx context.Context, ref client.RangeRef, key [][]byte, counter int) error
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ref := util.GetRangeRef()
	start := time.Now()

	fmt.Println("Performance testing tool for dwatch servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Range: %d (table %d)\n", ref.RangeID, ref.TableID)
	fmt.Println()

	fmt.Println("staring tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	putAll := func(ctx context.Context, ref client.RangeRef, keys [][][]byte) {
		for _, k := range keys {
			if _, err := rpcClient.Put(ctx, ref, k, []byte("test")); err != nil {
				log.Printf("(setup) - error putting key: %v\n", err)
			}
		}
	}

	tests := []perfTest{
		{
			name: "put",
			op: func(ctx context.Context, ref client.RangeRef, key [][]byte, _ int) error {
				_, err := rpcClient.Put(ctx, ref, key, []byte("test"))
				return err
			},
		},
		{
			name: "put-large",
			op: func(ctx context.Context, ref client.RangeRef, key [][]byte, _ int) error {
				_, err := rpcClient.Put(ctx, ref, key, largeValue)
				return err
			},
		},
		{
			name:  "get",
			setup: putAll,
			op: func(ctx context.Context, ref client.RangeRef, key [][]byte, _ int) error {
				_, err := rpcClient.Get(ctx, ref, key, client.GetOptions{})
				return err
			},
		},
		{
			name:  "get-prefix",
			setup: putAll,
			op: func(ctx context.Context, ref client.RangeRef, key [][]byte, _ int) error {
				_, err := rpcClient.Get(ctx, ref, key[:1], client.GetOptions{Prefix: true, Limit: 10})
				return err
			},
		},
		{
			// a watch from version 0 on an existing key is answered at once
			name:  "watch",
			setup: putAll,
			op: func(ctx context.Context, ref client.RangeRef, key [][]byte, _ int) error {
				_, err := rpcClient.Watch(ctx, ref, key, client.WatchOptions{LongPull: time.Second})
				return err
			},
		},
		{
			name:  "mixed",
			setup: putAll,
			op: func(ctx context.Context, ref client.RangeRef, key [][]byte, counter int) error {
				var err error
				switch counter % 3 {
				case 0: // put
					_, err = rpcClient.Put(ctx, ref, key, []byte("test"))
				case 1: // get
					_, err = rpcClient.Get(ctx, ref, key, client.GetOptions{})
				case 2: // watch
					_, err = rpcClient.Watch(ctx, ref, key, client.WatchOptions{LongPull: time.Second})
				}
				return err
			},
		},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, test := range tests {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test.name) {
				return
			}

			timer := metrics.GetOrRegisterTimer(test.name, perfRegistry)
			failures := metrics.GetOrRegisterMeter(test.name+".errors", perfRegistry)

			// prepare keys
			keys := getKeys(test.name)
			if test.setup != nil {
				test.setup(ctx, ref, keys)
			}

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					opStart := time.Now()
					err := test.op(ctx, ref, keys[counter%len(keys)], counter)
					timer.UpdateSince(opStart)
					if err != nil {
						failures.Mark(1)
						log.Printf("(%s) - error: %v\n", test.name, err)
					}
					counter++
				}
			})
		})

		results[test.name] = result
		printResult(test.name, result)
	}

	fmt.Printf("\nfinished after %s\n", elapsed(start))

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig(), ref); err != nil {
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
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the grouped test keys of one test. All keys of a test share their first part.
func getKeys(test string) [][][]byte {
	keys := make([][][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = [][]byte{
			[]byte(fmt.Sprintf("%s-%s", perfKeyPrefix, test)),
			[]byte(strconv.Itoa(i)),
		}
	}
	return keys
}

// latencies returns the p50 and p99 latency of a test, zero if the test did not run
func latencies(test string) (time.Duration, time.Duration) {
	timer, ok := perfRegistry.Get(test).(metrics.Timer)
	if !ok || timer.Count() == 0 {
		return 0, 0
	}
	ps := timer.Percentiles([]float64{0.5, 0.99})
	return time.Duration(ps[0]), time.Duration(ps[1])
}

// errorCount returns the number of failed operations of a test
func errorCount(test string) int64 {
	meter, ok := perfRegistry.Get(test + ".errors").(metrics.Meter)
	if !ok {
		return 0
	}
	return meter.Count()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p50, p99 := latencies(test)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s errors=%d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, p50, p99, errorCount(test))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig, ref client.RangeRef) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Errors", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"RangeID", "TableID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
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
		p50, p99 := latencies(test)

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			p50.String(),
			p99.String(),
			strconv.FormatInt(errorCount(test), 10),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(ref.RangeID, 10),
			strconv.FormatUint(ref.TableID, 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
