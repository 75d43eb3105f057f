// Package metrics provides the engine's ambient Prometheus-style counters
// (SPEC_FULL.md §1 "Tracing/metrics"). Grounded on the teacher's
// MetricsCollector in monitoring.go: atomic counter fields plus a
// Prometheus-text exporter, carried over verbatim in shape and renamed from
// the teacher's storage-operation counters (put/get/delete ops, bytes
// stored) to this engine's query-execution counters.
package metrics

import (
	"fmt"
	"sync/atomic"
)

// Collector gathers process-wide engine counters. The zero value is ready
// to use, matching the teacher's NewMetricsCollector (which only needed to
// initialize a map this struct has no equivalent of).
type Collector struct {
	QueriesTotal         atomic.Int64
	SortOpsTotal         atomic.Int64
	AggregateGroupsTotal atomic.Int64
	JoinProbesTotal      atomic.Int64
	HeapBytesAllocated   atomic.Uint64
	PoolTasksProcessed   atomic.Int64

	errorsTotal atomic.Int64
}

// New returns a ready-to-use Collector.
func New() *Collector {
	return &Collector{}
}

// RecordQuery increments the completed-select counter, the metrics
// analogue of the teacher's RecordOperation for a "PUT"/"GET".
func (c *Collector) RecordQuery() { c.QueriesTotal.Add(1) }

// RecordSortOp increments the sort-dispatch counter by one. The engine
// packages do not call it; recording is up to the caller.
func (c *Collector) RecordSortOp() { c.SortOpsTotal.Add(1) }

// RecordAggregateGroups adds n groups to the running total. aggregate.Run
// does not call it; the bench harness calls it with each result's group
// count.
func (c *Collector) RecordAggregateGroups(n int64) { c.AggregateGroupsTotal.Add(n) }

// RecordJoinProbes adds n probe attempts (one per left row) to the running
// total. join.BuildIndex does not call it.
func (c *Collector) RecordJoinProbes(n int64) { c.JoinProbesTotal.Add(n) }

// SetHeapBytesAllocated records a heap's current live-byte count, called
// after heap.Stat() on whatever cadence the caller samples at.
func (c *Collector) SetHeapBytesAllocated(n uint64) { c.HeapBytesAllocated.Store(n) }

// RecordPoolTask increments the completed-task counter by one. pool.Batch
// does not call it.
func (c *Collector) RecordPoolTask() { c.PoolTasksProcessed.Add(1) }

// RecordError increments the process-wide error counter, mirroring the
// teacher's errorCount field (used by GetErrorRate).
func (c *Collector) RecordError() { c.errorsTotal.Add(1) }

// ErrorRate returns the percentage (0-100) of queries that latched an error, the
// engine analogue of the teacher's GetErrorRate (puts+gets+deletes ->
// queries).
func (c *Collector) ErrorRate() float64 {
	total := c.QueriesTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(c.errorsTotal.Load()) / float64(total) * 100
}

// ExportPrometheus renders every counter as Prometheus exposition text, the
// direct analogue of the teacher's ExportPrometheusMetrics.
func (c *Collector) ExportPrometheus() string {
	var out string
	out += "# HELP rayforce_queries_total Total select queries executed\n"
	out += "# TYPE rayforce_queries_total counter\n"
	out += fmt.Sprintf("rayforce_queries_total %d\n", c.QueriesTotal.Load())

	out += "# HELP rayforce_sort_ops_total Total sort dispatches\n"
	out += "# TYPE rayforce_sort_ops_total counter\n"
	out += fmt.Sprintf("rayforce_sort_ops_total %d\n", c.SortOpsTotal.Load())

	out += "# HELP rayforce_aggregate_groups_total Total groups produced by hash aggregation\n"
	out += "# TYPE rayforce_aggregate_groups_total counter\n"
	out += fmt.Sprintf("rayforce_aggregate_groups_total %d\n", c.AggregateGroupsTotal.Load())

	out += "# HELP rayforce_join_probes_total Total left-join index probes\n"
	out += "# TYPE rayforce_join_probes_total counter\n"
	out += fmt.Sprintf("rayforce_join_probes_total %d\n", c.JoinProbesTotal.Load())

	out += "# HELP rayforce_heap_bytes_allocated Current live heap bytes\n"
	out += "# TYPE rayforce_heap_bytes_allocated gauge\n"
	out += fmt.Sprintf("rayforce_heap_bytes_allocated %d\n", c.HeapBytesAllocated.Load())

	out += "# HELP rayforce_pool_tasks_processed Total worker-pool tasks completed\n"
	out += "# TYPE rayforce_pool_tasks_processed counter\n"
	out += fmt.Sprintf("rayforce_pool_tasks_processed %d\n", c.PoolTasksProcessed.Load())

	out += "# HELP rayforce_error_rate Percentage of queries that latched an error\n"
	out += "# TYPE rayforce_error_rate gauge\n"
	out += fmt.Sprintf("rayforce_error_rate %.2f\n", c.ErrorRate())

	return out
}
