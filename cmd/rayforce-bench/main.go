// cmd/rayforce-bench/main.go
// Micro-benchmark harness for the Rayforce query-execution core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/RayforceDB/rayforce/internal/aggregate"
	"github.com/RayforceDB/rayforce/internal/config"
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/metrics"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/pool"
	"github.com/RayforceDB/rayforce/internal/telemetry"
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	swapDir := flag.String("swap-dir", "", "heap swap directory (defaults to HEAP_SWAP env var, then cwd)")
	poolWorkers := flag.Int("pool-workers", 0, "worker-pool goroutine count (defaults to NumCPU)")
	heapStressCount := flag.Int64("heap-stress-count", 1_000_000, "objects to alloc/free in the heap-stress scenario")
	sumRows := flag.Int64("parallel-sum-rows", 500_000, "row count for the parallel-sum scenario")
	jaegerEndpoint := flag.String("jaeger-endpoint", "", "Jaeger collector endpoint (empty disables tracing)")
	flag.Parse()

	cfg := config.Default()
	if *swapDir != "" {
		cfg.HeapSwapDir = *swapDir
	}
	if *poolWorkers > 0 {
		cfg.PoolWorkers = *poolWorkers
	}
	cfg.Validate()

	fmt.Printf("Rayforce bench harness\n")
	fmt.Printf("CPUs: %d, pool workers: %d, swap dir: %s\n", runtime.NumCPU(), cfg.PoolWorkers, cfg.HeapSwapDir)

	if *jaegerEndpoint != "" {
		if err := telemetry.InitTracing(*jaegerEndpoint); err != nil {
			log.Printf("warning: failed to initialize tracing: %v", err)
		} else {
			defer telemetry.Shutdown(context.Background())
		}
	}

	collector := metrics.New()

	h := heap.New(0, cfg.HeapSwapDir)
	p := pool.New(h, cfg.PoolWorkers)

	runHeapStress(h, collector, *heapStressCount)
	runParallelSum(h, p, collector, *sumRows)

	fmt.Println()
	fmt.Print(collector.ExportPrometheus())
}

// runHeapStress implements spec §8 scenario 6: allocate and free a large
// number of random-sized objects from a single VM's heap, then run a GC
// sweep and report the bytes it reclaimed and the live bytes left after it.
func runHeapStress(h *heap.Heap, collector *metrics.Collector, count int64) {
	fmt.Printf("\n[heap-stress] allocating/freeing %d random-sized objects (0..1MiB)...\n", count)
	start := time.Now()

	rng := rand.New(rand.NewSource(1))
	blocks := make([]*heap.Block, 0, 256)

	for i := int64(0); i < count; i++ {
		size := int64(rng.Intn(1<<20)) + 1
		b, err := h.Alloc(size)
		if err != nil {
			log.Fatalf("heap-stress: alloc failed at iteration %d: %v", i, err)
		}
		blocks = append(blocks, b)

		// Free roughly every other allocation immediately, keeping a
		// fluctuating live set rather than growing it monotonically.
		if len(blocks) > 1 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(blocks))
			h.Free(blocks[idx])
			blocks[idx] = blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
		}
	}

	for _, b := range blocks {
		h.Free(b)
	}

	reclaimed := h.GC(context.Background())
	stat := h.Stat()
	collector.SetHeapBytesAllocated(uint64(stat.UsedBytes))

	elapsed := time.Since(start)
	fmt.Printf("[heap-stress] done in %s, GC reclaimed %d bytes, live after GC: %d bytes\n",
		elapsed, reclaimed, stat.UsedBytes)
}

// runParallelSum implements spec §8 scenario 4: sum a 500,000-row value
// column (value == row index) grouped by 5 uniformly-distributed keys,
// checking the total of the group sums against the closed-form
// arithmetic-progression total rows*(rows-1)/2.
func runParallelSum(h *heap.Heap, p *pool.Pool, collector *metrics.Collector, rows int64) {
	fmt.Printf("\n[parallel-sum] summing %d rows over 5 groups...\n", rows)
	start := time.Now()

	keyCol, err := object.Vector(h, object.KindI64, rows, false)
	if err != nil {
		log.Fatalf("parallel-sum: key vector: %v", err)
	}
	valCol, err := object.Vector(h, object.KindI64, rows, false)
	if err != nil {
		log.Fatalf("parallel-sum: value vector: %v", err)
	}
	keys := keyCol.I64()
	vals := valCol.I64()
	for i := int64(0); i < rows; i++ {
		keys[i] = i % 5
		vals[i] = i
	}

	res, err := aggregate.Run(h, p, aggregate.Spec{
		KeyCols:  []*object.Object{keyCol},
		ValueCol: valCol,
		Fn:       aggregate.FuncSum,
	})
	if err != nil {
		log.Fatalf("parallel-sum: aggregate.Run: %v", err)
	}
	collector.RecordQuery()
	collector.RecordAggregateGroups(int64(len(res.Keys[0].I64())))

	groupSums := res.Values.I64()
	groupKeys := res.Keys[0].I64()

	var total int64
	for _, sum := range groupSums {
		total += sum
	}

	want := rows * (rows - 1) / 2
	elapsed := time.Since(start)
	status := "OK"
	if total != want {
		status = "MISMATCH"
	}
	fmt.Printf("[parallel-sum] done in %s, groups: %d, total: %d (want %d) [%s]\n",
		elapsed, len(groupKeys), total, want, status)

	if total != want {
		os.Exit(1)
	}
}
