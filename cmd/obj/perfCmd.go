package obj

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

	"github.com/ValentinKolb/dOBJ/cmd/util"
	"github.com/ValentinKolb/dOBJ/lib/dobj"
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dOBJ servers",
		Long:    "Runs write and read benchmarks against a container. Without --pool a temporary pool and container are created and destroyed afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfArrayRecords     = 16
	perfSkip             = make([]string, 0)

	// perfMetrics collects the latency histograms of all benchmarks
	perfMetrics = metrics.NewSet()
)

// perfResult is the outcome of one benchmark
type perfResult struct {
	bench  testing.BenchmarkResult
	timer  gometrics.Timer
	errors int64
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. write,read)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the write-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different dkeys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "prom"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save the latency histograms in Prometheus text format"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dOBJ servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	cleanup, err := perfContainer()
	if err != nil {
		return err
	}
	defer cleanup()

	// All benchmarks share one object
	obj := dobj.NewObject(session.Cont, engine.OID{})
	if err := obj.Create(nil, engine.DefaultClass); err != nil {
		return err
	}
	closeObject(obj)
	oid := obj.OID
	fmt.Printf("benchmark object: %s\n", oid)

	fmt.Println("staring tests...")

	results := make(map[string]perfResult)
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	results["write"] = runWriteBench("write", oid, value)
	results["write-large"] = runWriteBench("write-large", oid, largeValue)

	// read benchmarks use a committed epoch with all keys written
	readEpoch, err := populate(oid, value)
	if err != nil {
		return err
	}

	results["read"] = runBench("read", oid, func(req *dobj.IORequest, i int) error {
		_, err := req.SingleFetch(dkey("read", i), []byte("a"), uint64(len(value)), readEpoch)
		return err
	})
	results["read-size"] = runBench("read-size", oid, func(req *dobj.IORequest, i int) error {
		_, err := req.SingleFetch(dkey("read", i), []byte("a"), 0, readEpoch, dobj.HintSGLNull)
		return err
	})
	results["read-array"] = runBench("read-array", oid, func(req *dobj.IORequest, i int) error {
		_, err := req.FetchArray(dkey("read", i), []byte("arr"), uint64(perfArrayRecords), uint64(len(value)), readEpoch)
		return err
	})
	results["hold-commit"] = runSequential("hold-commit", func() error {
		epochs := session.Cont.Epochs()
		epoch, err := epochs.Hold()
		if err != nil {
			return err
		}
		return epochs.Commit(epoch)
	})

	mixedEpoch, err := session.Cont.Epochs().Hold()
	if err != nil {
		return err
	}
	results["mixed"] = runBench("mixed", oid, func(req *dobj.IORequest, i int) error {
		if i%2 == 0 {
			return req.SingleInsert(dkey("mixed", i), []byte("a"), value, mixedEpoch, nil)
		}
		_, err := req.SingleFetch(dkey("read", i), []byte("a"), uint64(len(value)), readEpoch)
		return err
	})
	if err := session.Cont.Epochs().Commit(mixedEpoch); err != nil {
		log.Printf("(mixed) - error committing epoch: %v\n", err)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	// Write the histograms if specified
	if promPath := viper.GetString("prom"); promPath != "" {
		file, err := os.Create(promPath)
		if err != nil {
			return fmt.Errorf("failed to create metrics file: %v", err)
		}
		defer file.Close()
		perfMetrics.WritePrometheus(file)
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// runWriteBench writes value to all keys in one held epoch, which is committed afterwards
func runWriteBench(name string, oid engine.OID, value []byte) perfResult {
	if shouldSkip(name) {
		return skipped(name)
	}
	epochs := session.Cont.Epochs()
	epoch, err := epochs.Hold()
	if err != nil {
		log.Printf("(%s) - error holding epoch: %v\n", name, err)
		return skipped(name)
	}
	res := runBench(name, oid, func(req *dobj.IORequest, i int) error {
		return req.SingleInsert(dkey(name, i), []byte("a"), value, epoch, nil)
	})
	if err := epochs.Commit(epoch); err != nil {
		log.Printf("(%s) - error committing epoch: %v\n", name, err)
	}
	return res
}

// runBench runs op in parallel, every goroutine with its own object handle
func runBench(name string, oid engine.OID, op func(req *dobj.IORequest, i int) error) perfResult {
	if shouldSkip(name) {
		return skipped(name)
	}

	res := perfResult{timer: gometrics.NewTimer()}
	hist := perfMetrics.GetOrCreateHistogram(fmt.Sprintf(`dobj_perf_duration_seconds{bench=%q}`, name))
	var errCount atomic.Int64

	res.bench = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			obj := dobj.NewObject(session.Cont, oid)
			defer closeObject(obj)
			req, err := dobj.NewIORequest(session.Cont, obj, nil, oid.Class())
			if err != nil {
				log.Printf("(%s) - error opening object: %v\n", name, err)
				return
			}

			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := op(req, counter); err != nil {
					errCount.Add(1)
					log.Printf("(%s) - error: %v\n", name, err)
				}
				res.timer.UpdateSince(start)
				hist.UpdateDuration(start)
				counter++
			}
		})
	})

	res.errors = errCount.Load()
	printResult(name, res)
	return res
}

// runSequential runs op without parallelism
func runSequential(name string, op func() error) perfResult {
	if shouldSkip(name) {
		return skipped(name)
	}

	res := perfResult{timer: gometrics.NewTimer()}
	hist := perfMetrics.GetOrCreateHistogram(fmt.Sprintf(`dobj_perf_duration_seconds{bench=%q}`, name))

	res.bench = testing.Benchmark(func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			start := time.Now()
			if err := op(); err != nil {
				res.errors++
				log.Printf("(%s) - error: %v\n", name, err)
			}
			res.timer.UpdateSince(start)
			hist.UpdateDuration(start)
		}
	})

	printResult(name, res)
	return res
}

// populate writes a single value and an array under every read key and commits
func populate(oid engine.OID, value []byte) (engine.Epoch, error) {
	obj := dobj.NewObject(session.Cont, oid)
	defer closeObject(obj)
	req, err := dobj.NewIORequest(session.Cont, obj, nil, oid.Class())
	if err != nil {
		return 0, err
	}

	epochs := session.Cont.Epochs()
	epoch, err := epochs.Hold()
	if err != nil {
		return 0, err
	}
	records := make([][]byte, perfArrayRecords)
	for i := range records {
		records[i] = value
	}
	for i := 0; i < perfKeySpread; i++ {
		if err := req.SingleInsert(dkey("read", i), []byte("a"), value, epoch, nil); err != nil {
			return 0, err
		}
		if err := req.InsertArray(dkey("read", i), []byte("arr"), records, epoch, nil); err != nil {
			return 0, err
		}
	}
	return epoch, epochs.Commit(epoch)
}

// perfContainer opens the container given by the flags or creates a temporary one.
// The returned function removes what was created.
func perfContainer() (func(), error) {
	if viper.GetString("pool") != "" {
		return func() {}, session.OpenContainer(engine.ContOpenRW)
	}

	pool := dobj.NewPool(session.Ctx)
	if err := pool.Create(0o731, 0, 0, 1<<30, viper.GetString("group"), nil, 1, nil); err != nil {
		return nil, err
	}
	if err := pool.Connect(engine.PoolConnectRW, nil); err != nil {
		return nil, err
	}
	cont := dobj.NewContainer(session.Ctx)
	if err := cont.Create(pool.Handle, uuid.Nil, nil); err != nil {
		return nil, err
	}
	if err := cont.Open(pool.Handle, cont.UUID, engine.ContOpenRW, nil); err != nil {
		return nil, err
	}
	session.Pool, session.Cont = pool, cont
	fmt.Printf("temporary pool=%s cont=%s\n", pool.UUID, cont.UUID)

	return func() {
		if err := cont.Close(nil); err != nil {
			log.Printf("error closing container: %v\n", err)
		}
		if err := cont.Destroy(pool.Handle, cont.UUID, true, nil); err != nil {
			log.Printf("error destroying container: %v\n", err)
		}
		if err := pool.Disconnect(nil); err != nil {
			log.Printf("error disconnecting pool: %v\n", err)
		}
		if err := pool.Destroy(true, nil); err != nil {
			log.Printf("error destroying pool: %v\n", err)
		}
		session.Pool, session.Cont = nil, nil
	}, nil
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

func skipped(name string) perfResult {
	res := perfResult{timer: gometrics.NilTimer{}}
	printResult(name, res)
	return res
}

// dkey returns one of the perfKeySpread dkeys of a test (with wraparound)
func dkey(prefix string, i int) []byte {
	return []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i%perfKeySpread))
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, res perfResult) {
	if res.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(res.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := res.timer.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s\terrors=%d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, time.Duration(ps[0]), time.Duration(ps[1]), res.errors)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, res := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if res.bench.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(res.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		ps := res.timer.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(res.errors, 10),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
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
