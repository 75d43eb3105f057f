// Executor lifecycle: CPU-topology-aware worker pool built on top of the
// MPMC queues in mpmc.go, matching spec §4.5's prepare/add_task/run
// lifecycle and SMT-sibling-grouped pinning.
package pool

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/telemetry"
)

// ShouldParallelize reports whether n elements (n >= threshold) justify
// spinning up the pool rather than running inline on the caller (spec
// §4.4/§4.6's per-component parallel thresholds all gate on a count like
// this one).
func ShouldParallelize(n int64, threshold int64) bool {
	return n >= threshold
}

// cpuTopology returns logical CPU ids ordered so that SMT siblings are
// grouped together: core0_thread0, core0_thread1, core1_thread0, ...
// (spec §4.5 "Pinning"). Falls back to a flat 0..N-1 ordering if sysfs
// topology files are unavailable (non-Linux, containers without /sys).
func cpuTopology(n int) []int {
	type group struct {
		first int
		ids   []int
	}
	seen := make(map[int]bool, n)
	var groups []group

	for cpu := 0; cpu < n; cpu++ {
		if seen[cpu] {
			continue
		}
		path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/topology/thread_siblings_list", cpu)
		raw, err := os.ReadFile(path)
		if err != nil {
			return flatTopology(n)
		}
		siblings := parseSiblingsList(strings.TrimSpace(string(raw)))
		if len(siblings) == 0 {
			siblings = []int{cpu}
		}
		sort.Ints(siblings)
		for _, s := range siblings {
			seen[s] = true
		}
		groups = append(groups, group{first: siblings[0], ids: siblings})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].first < groups[j].first })
	out := make([]int, 0, n)
	for _, g := range groups {
		out = append(out, g.ids...)
	}
	return out
}

func flatTopology(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// parseSiblingsList parses a cpulist like "0,4" or "0-1,4-5" as found in
// thread_siblings_list.
func parseSiblingsList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			lo, err1 := strconv.Atoi(part[:idx])
			hi, err2 := strconv.Atoi(part[idx+1:])
			if err1 != nil || err2 != nil {
				continue
			}
			for i := lo; i <= hi; i++ {
				out = append(out, i)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// pinCurrentThread restricts the calling OS thread's affinity to the given
// logical CPU, best-effort (spec §4.5 pinning is an optimization, not a
// correctness requirement).
func pinCurrentThread(cpuID int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	_ = unix.SchedSetaffinity(0, &set)
}

// Executor is one pool worker: its own heap (borrowed from the main pool's
// heap per batch) and a topology slot (CPU). For each batch, Batch starts
// one goroutine per background executor, which pins its current OS thread
// to CPU.
type Executor struct {
	ID  int
	CPU int

	Heap *heap.Heap

	pool *Pool
}

// Pool is the worker pool described in spec §4.5: a designated "main"
// executor (index 0, reusing the calling goroutine) plus N-1 background
// executors, a bounded task queue, and a per-batch heap borrow/merge
// against mainHeap.
type Pool struct {
	mainHeap  *heap.Heap
	executors []*Executor
	topology  []int

	mu sync.Mutex
}

// New creates a pool of n executors (including the main one) sharing
// mainHeap, pinned across CPU topology slots.
func New(mainHeap *heap.Heap, n int) *Pool {
	if n < 1 {
		n = 1
	}
	topo := cpuTopology(n)
	p := &Pool{mainHeap: mainHeap, topology: topo}

	for i := 0; i < n; i++ {
		cpu := i
		if i < len(topo) {
			cpu = topo[i]
		}
		ex := &Executor{ID: i, CPU: cpu, pool: p}
		if i > 0 {
			ex.Heap = heap.New(uint64(i), "")
		} else {
			ex.Heap = mainHeap
		}
		p.executors = append(p.executors, ex)
	}
	return p
}

// NumWorkers returns the number of executors in the pool (including main).
func (p *Pool) NumWorkers() int { return len(p.executors) }

// Batch runs fns, one per logical task, across the pool: heap-borrows into
// each worker heap, dispatches, runs the main executor's share inline, and
// heap-merges worker heaps back into mainHeap afterwards (spec §4.5
// "Lifecycle per batch"). Results are returned indexed by task id; if any
// task returns an error, the first such error is returned and the rest of
// the results are dropped, per spec's "first such error is propagated and
// the rest dropped".
func (p *Pool) Batch(ctx context.Context, fns []func(workerHeap *heap.Heap) (any, error)) ([]any, error) {
	n := len(fns)
	if n == 0 {
		return nil, nil
	}

	_, span := telemetry.StartPoolBatch(ctx, n)
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	workers := p.executors
	if len(workers) > n {
		workers = workers[:n]
	}
	for _, ex := range workers[1:] {
		p.mainHeap.Borrow(ex.Heap)
	}

	results := make([]any, n)
	errs := make([]error, n)

	// AddTask: every task index goes on one shared MPMC queue so idle
	// executors steal work from busy ones instead of running a fixed
	// static split, matching pool.c's executor_run pull loop.
	tasks := NewMPMC(int64(n))
	for i := 0; i < n; i++ {
		tasks.Push(i)
	}

	var wg sync.WaitGroup
	for _, ex := range workers[1:] {
		ex := ex
		wg.Add(1)
		go func() {
			defer wg.Done()
			pinCurrentThread(ex.CPU)
			drainTasks(tasks, fns, ex.Heap, results, errs)
		}()
	}
	// Main executor steals from the same queue on the calling goroutine
	// instead of idling while its background siblings drain it.
	drainTasks(tasks, fns, workers[0].Heap, results, errs)
	wg.Wait()

	for _, ex := range workers[1:] {
		p.mainHeap.Merge(ex.Heap)
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// drainTasks pops task indices off tasks until the queue is empty, running
// each against h and recording its result/error at its original index.
// Every index is claimed by exactly one worker, so concurrent writers never
// touch the same results/errs slot.
func drainTasks(tasks *MPMC, fns []func(*heap.Heap) (any, error), h *heap.Heap, results []any, errs []error) {
	for {
		v, ok := tasks.Pop()
		if !ok {
			return
		}
		i := v.(int)
		r, err := fns[i](h)
		results[i] = r
		errs[i] = err
	}
}

// Close releases the background executors' heaps. The main executor shares
// mainHeap and is not torn down here.
func (p *Pool) Close() {
	for _, ex := range p.executors[1:] {
		ex.Heap.GC(context.Background())
	}
}
