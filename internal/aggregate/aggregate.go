// Package aggregate implements the fused hash-aggregate group-by engine
// described in spec §4.6: sum/count/min/max/avg/first/last over a value
// column, keyed by one or more grouping columns, with a perfect-hash fast
// path for a single small-range I64/SYMBOL key and a parallel fused
// variant above a row-count threshold.
//
// Grounded on original_source/core/group.c (build_partitions/
// aggregate_partitions' split-merge shape, generalized from its per-morsel
// ht_oa tables into this package's own GroupTable so that a representative
// row's stable sequential group id survives a resize — group.c's morsels
// never need that since each morsel table is discarded after one merge
// pass) and spec §4.6's row-fingerprint/perfect-hash-fast-path text, which
// has no surviving C source in original_source (the retrieved pack filtered
// it out of aggr.c, which is an empty shell of #includes).
package aggregate

import (
	"context"
	"math"

	"github.com/RayforceDB/rayforce/internal/hashtable"
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/pool"
	"github.com/RayforceDB/rayforce/internal/rayerr"
)

// seedRowFingerprint is the row-hash accumulator seed (spec §4.6).
const seedRowFingerprint = 0xcbf29ce484222325

// Func is the closed set of supported aggregate operations.
type Func int

const (
	FuncSum Func = iota
	FuncCount
	FuncMin
	FuncMax
	FuncAvg
	FuncFirst
	FuncLast
)

// Spec describes one group-by aggregation: group by KeyCols (length >= 1),
// aggregate ValueCol (ignored for FuncCount) via Fn.
type Spec struct {
	KeyCols  []*object.Object
	ValueCol *object.Object
	Fn       Func
}

// ParallelRowThreshold is the row count at or above which the fused
// parallel path engages, given more than one pool worker (spec §4.6
// "Parallel fused aggregate").
const ParallelRowThreshold = 100_000

// MaxParallelWorkers caps fan-out regardless of pool size (spec §4.6
// "capped at 16").
const MaxParallelWorkers = 16

// Result is the materialized group-by output: one key vector per input key
// column plus the aggregated value vector, aligned by group in the order
// described by DESIGN.md's Open Question decision (perfect-hash path:
// ascending by key; serial hash path: first-seen order; parallel path:
// unspecified, documented as such).
type Result struct {
	Keys   []*object.Object
	Values *object.Object
}

// Run dispatches to the perfect-hash fast path, the parallel fused path, or
// the serial hash-aggregate path, per spec §4.6.
func Run(h *heap.Heap, p *pool.Pool, spec Spec) (*Result, error) {
	if len(spec.KeyCols) == 0 {
		return nil, rayerr.Arity(1, 0, 0)
	}
	rows := spec.KeyCols[0].Len

	if fast, ok, err := tryPerfectHash(h, spec, rows); ok || err != nil {
		return fast, err
	}

	if p != nil && rows >= ParallelRowThreshold && p.NumWorkers() > 1 {
		return runParallel(h, p, spec, rows)
	}
	return runSerial(h, spec, rows, 0, rows)
}

// --- row fingerprint and equality (spec §4.6 "Row fingerprint") ---

func scalarBits(c *object.Object, row int64) uint64 {
	switch c.Kind {
	case object.KindI64, object.KindTimestamp, object.KindSymbol:
		return uint64(c.I64()[row])
	case object.KindF64:
		return math.Float64bits(c.F64()[row])
	case object.KindI32, object.KindDate, object.KindTime:
		return uint64(uint32(c.I32()[row]))
	case object.KindI16:
		return uint64(uint16(c.I16()[row]))
	case object.KindGUID:
		g := c.GUIDs()[row]
		lo := uint64(g[0]) | uint64(g[1])<<8 | uint64(g[2])<<16 | uint64(g[3])<<24 |
			uint64(g[4])<<32 | uint64(g[5])<<40 | uint64(g[6])<<48 | uint64(g[7])<<56
		hi := uint64(g[8]) | uint64(g[9])<<8 | uint64(g[10])<<16 | uint64(g[11])<<24 |
			uint64(g[12])<<32 | uint64(g[13])<<40 | uint64(g[14])<<48 | uint64(g[15])<<56
		return hashtable.Mix64(lo, hi)
	default:
		return uint64(c.U8()[row])
	}
}

func rowFingerprint(cols []*object.Object, row int64) uint64 {
	h := uint64(seedRowFingerprint)
	for _, c := range cols {
		h = hashtable.Mix64(h, scalarBits(c, row))
	}
	return h
}

func rowEqual(cols []*object.Object, a, b int64) bool {
	for _, c := range cols {
		if c.Kind == object.KindGUID {
			if c.GUIDs()[a] != c.GUIDs()[b] {
				return false
			}
			continue
		}
		if scalarBits(c, a) != scalarBits(c, b) {
			return false
		}
	}
	return true
}

// --- GroupTable: stable sequential group ids across resize ---

type groupEntry struct {
	occupied bool
	hash     uint64
	row      int64
	id       int64
}

// groupTable is a single-threaded open-addressing table mapping a row's
// composite key to a stable, sequentially-assigned group id (spec §4.6
// "find_or_create"). Resize rehashes by hash value but preserves each
// entry's id, unlike a generic slot-indexed table.
type groupTable struct {
	entries []groupEntry
	mask    uint64
	count   int

	cols []*object.Object
}

func newGroupTable(hint int64, cols []*object.Object) *groupTable {
	cap := nextPow2(maxI64(hint*2, 8))
	return &groupTable{entries: make([]groupEntry, cap), mask: cap - 1, cols: cols}
}

func nextPow2(n int64) uint64 {
	c := uint64(1)
	for c < uint64(n) {
		c <<= 1
	}
	return c
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// findOrCreate returns (groupID, isNew) for row.
func (t *groupTable) findOrCreate(row int64) (int64, bool) {
	return t.findOrCreateWithHash(row, rowFingerprint(t.cols, row))
}

// findOrCreateWithHash is findOrCreate for a caller that already has row's
// fingerprint computed (the parallel path precomputes a whole chunk's
// hashes in bulk rather than recomputing one row at a time here).
func (t *groupTable) findOrCreateWithHash(row int64, h uint64) (int64, bool) {
	if float64(t.count+1) > 0.7*float64(len(t.entries)) {
		t.resize()
	}
	idx := h & t.mask
	for {
		e := &t.entries[idx]
		if !e.occupied {
			e.occupied = true
			e.hash = h
			e.row = row
			e.id = int64(t.count)
			t.count++
			return e.id, true
		}
		if e.hash == h && rowEqual(t.cols, e.row, row) {
			return e.id, false
		}
		idx = (idx + 1) & t.mask
	}
}

func (t *groupTable) resize() {
	old := t.entries
	newCap := uint64(len(old)) * 2
	t.entries = make([]groupEntry, newCap)
	t.mask = newCap - 1
	for _, e := range old {
		if !e.occupied {
			continue
		}
		idx := e.hash & t.mask
		for t.entries[idx].occupied {
			idx = (idx + 1) & t.mask
		}
		t.entries[idx] = e
	}
}

// representatives returns, in group-id order, the representative row index
// of each group.
func (t *groupTable) representatives() []int64 {
	reps := make([]int64, t.count)
	for _, e := range t.entries {
		if e.occupied {
			reps[e.id] = e.row
		}
	}
	return reps
}

// --- accumulators ---

type accum struct {
	sumI64       []int64
	sumF64       []float64
	count        []int64
	nonNullCount []int64
	minI64       []int64
	maxI64       []int64
	minF64       []float64
	maxF64       []float64
	firstRow     []int64
	lastRow      []int64
	hash         []uint64
}

func newAccum(capHint int64) *accum {
	return &accum{
		sumI64:       make([]int64, 0, capHint),
		sumF64:       make([]float64, 0, capHint),
		count:        make([]int64, 0, capHint),
		nonNullCount: make([]int64, 0, capHint),
		minI64:       make([]int64, 0, capHint),
		maxI64:       make([]int64, 0, capHint),
		minF64:       make([]float64, 0, capHint),
		maxF64:       make([]float64, 0, capHint),
		firstRow:     make([]int64, 0, capHint),
		lastRow:      make([]int64, 0, capHint),
		hash:         make([]uint64, 0, capHint),
	}
}

func (a *accum) grow(groupID int64, row int64, groupHash uint64) {
	if groupID < int64(len(a.count)) {
		return
	}
	a.sumI64 = append(a.sumI64, 0)
	a.sumF64 = append(a.sumF64, 0)
	a.count = append(a.count, 0)
	a.nonNullCount = append(a.nonNullCount, 0)
	a.minI64 = append(a.minI64, math.MaxInt64)
	a.maxI64 = append(a.maxI64, math.MinInt64)
	a.minF64 = append(a.minF64, math.Inf(1))
	a.maxF64 = append(a.maxF64, math.Inf(-1))
	a.firstRow = append(a.firstRow, row)
	a.lastRow = append(a.lastRow, row)
	a.hash = append(a.hash, groupHash)
}

func (a *accum) update(groupID int64, row int64, valueCol *object.Object) {
	a.count[groupID]++
	a.lastRow[groupID] = row
	if valueCol == nil {
		return
	}
	switch valueCol.Kind {
	case object.KindI64, object.KindTimestamp:
		v := valueCol.I64()[row]
		if v == object.NullI64 {
			return
		}
		a.nonNullCount[groupID]++
		a.sumI64[groupID] += v // wraps silently on overflow; see DESIGN.md
		if v < a.minI64[groupID] {
			a.minI64[groupID] = v
		}
		if v > a.maxI64[groupID] {
			a.maxI64[groupID] = v
		}
	case object.KindF64:
		v := valueCol.F64()[row]
		if object.IsNullF64(v) || v != v {
			return
		}
		a.nonNullCount[groupID]++
		a.sumF64[groupID] += v
		if v < a.minF64[groupID] {
			a.minF64[groupID] = v
		}
		if v > a.maxF64[groupID] {
			a.maxF64[groupID] = v
		}
	}
}

// mergeInto folds src's accumulator for srcID into dst's accumulator for dstID.
func mergeInto(dst *accum, dstID int64, src *accum, srcID int64) {
	dst.count[dstID] += src.count[srcID]
	dst.nonNullCount[dstID] += src.nonNullCount[srcID]
	dst.sumI64[dstID] += src.sumI64[srcID]
	dst.sumF64[dstID] += src.sumF64[srcID]
	if src.minI64[srcID] < dst.minI64[dstID] {
		dst.minI64[dstID] = src.minI64[srcID]
	}
	if src.maxI64[srcID] > dst.maxI64[dstID] {
		dst.maxI64[dstID] = src.maxI64[srcID]
	}
	if src.minF64[srcID] < dst.minF64[dstID] {
		dst.minF64[dstID] = src.minF64[srcID]
	}
	if src.maxF64[srcID] > dst.maxF64[dstID] {
		dst.maxF64[dstID] = src.maxF64[srcID]
	}
	// first_row keeps whichever worker's chunk came first; since workers
	// own disjoint contiguous row ranges, the smaller firstRow always is
	// the true first occurrence.
	if src.firstRow[srcID] < dst.firstRow[dstID] {
		dst.firstRow[dstID] = src.firstRow[srcID]
	}
	if src.lastRow[srcID] > dst.lastRow[dstID] {
		dst.lastRow[dstID] = src.lastRow[srcID]
	}
}

// --- serial hash aggregate ---

func runSerial(h *heap.Heap, spec Spec, rows int64, start, end int64) (*Result, error) {
	tab := newGroupTable(end-start, spec.KeyCols)
	acc := newAccum(64)

	for row := start; row < end; row++ {
		gid, isNew := tab.findOrCreate(row)
		if isNew {
			acc.grow(gid, row, rowFingerprint(spec.KeyCols, row))
		}
		acc.update(gid, row, spec.ValueCol)
	}

	reps := tab.representatives()
	return materialize(h, spec, reps, acc)
}

// materialize gathers the representative key values and computes the final
// aggregated value vector from the accumulators, in the given group order.
func materialize(h *heap.Heap, spec Spec, reps []int64, acc *accum) (*Result, error) {
	n := int64(len(reps))
	keys := make([]*object.Object, len(spec.KeyCols))
	for ci, col := range spec.KeyCols {
		kv, err := object.Vector(h, col.Kind, n, false)
		if err != nil {
			return nil, err
		}
		for i, row := range reps {
			atom, err := object.AtIdx(col, row)
			if err != nil {
				return nil, err
			}
			if err := object.InsObj(kv, int64(i), atom); err != nil {
				return nil, err
			}
		}
		keys[ci] = kv
	}

	values, err := materializeValues(h, spec, acc, n)
	if err != nil {
		return nil, err
	}
	return &Result{Keys: keys, Values: values}, nil
}

func materializeValues(h *heap.Heap, spec Spec, acc *accum, n int64) (*object.Object, error) {
	switch spec.Fn {
	case FuncCount:
		v, err := object.Vector(h, object.KindI64, n, false)
		if err != nil {
			return nil, err
		}
		copy(v.I64(), acc.count[:n])
		return v, nil
	case FuncSum, FuncMin, FuncMax, FuncFirst, FuncLast:
		if spec.ValueCol == nil {
			return nil, rayerr.Type("I64 or F64", "nil", 1, "value")
		}
		switch spec.ValueCol.Kind {
		case object.KindI64, object.KindTimestamp:
			v, err := object.Vector(h, spec.ValueCol.Kind, n, false)
			if err != nil {
				return nil, err
			}
			dst := v.I64()
			for i := int64(0); i < n; i++ {
				dst[i] = pickI64(spec.Fn, acc, i, spec.ValueCol)
			}
			return v, nil
		case object.KindF64:
			v, err := object.Vector(h, object.KindF64, n, false)
			if err != nil {
				return nil, err
			}
			dst := v.F64()
			for i := int64(0); i < n; i++ {
				dst[i] = pickF64(spec.Fn, acc, i, spec.ValueCol)
			}
			return v, nil
		default:
			return nil, rayerr.Type("I64 or F64", spec.ValueCol.Kind.String(), 1, "value")
		}
	case FuncAvg:
		if spec.ValueCol == nil {
			return nil, rayerr.Type("I64 or F64", "nil", 1, "value")
		}
		v, err := object.Vector(h, object.KindF64, n, false)
		if err != nil {
			return nil, err
		}
		dst := v.F64()
		for i := int64(0); i < n; i++ {
			c := acc.count[i]
			if c == 0 {
				dst[i] = object.NullF64()
				continue
			}
			switch spec.ValueCol.Kind {
			case object.KindI64, object.KindTimestamp:
				dst[i] = float64(acc.sumI64[i]) / float64(c)
			case object.KindF64:
				dst[i] = acc.sumF64[i] / float64(c)
			default:
				return nil, rayerr.Type("I64 or F64", spec.ValueCol.Kind.String(), 1, "value")
			}
		}
		return v, nil
	default:
		return nil, rayerr.Nyi(int(spec.Fn))
	}
}

func pickI64(fn Func, acc *accum, i int64, col *object.Object) int64 {
	switch fn {
	case FuncSum:
		return acc.sumI64[i]
	case FuncMin:
		if acc.nonNullCount[i] == 0 {
			return object.NullI64
		}
		return acc.minI64[i]
	case FuncMax:
		if acc.nonNullCount[i] == 0 {
			return object.NullI64
		}
		return acc.maxI64[i]
	case FuncFirst:
		return col.I64()[acc.firstRow[i]]
	case FuncLast:
		return col.I64()[acc.lastRow[i]]
	default:
		return object.NullI64
	}
}

func pickF64(fn Func, acc *accum, i int64, col *object.Object) float64 {
	switch fn {
	case FuncSum:
		return acc.sumF64[i]
	case FuncMin:
		if acc.nonNullCount[i] == 0 {
			return object.NullF64()
		}
		return acc.minF64[i]
	case FuncMax:
		if acc.nonNullCount[i] == 0 {
			return object.NullF64()
		}
		return acc.maxF64[i]
	case FuncFirst:
		return col.F64()[acc.firstRow[i]]
	case FuncLast:
		return col.F64()[acc.lastRow[i]]
	default:
		return object.NullF64()
	}
}

// --- perfect-hash fast path ---

func tryPerfectHash(h *heap.Heap, spec Spec, rows int64) (*Result, bool, error) {
	if len(spec.KeyCols) != 1 {
		return nil, false, nil
	}
	col := spec.KeyCols[0]
	if col.Kind != object.KindI64 && col.Kind != object.KindSymbol {
		return nil, false, nil
	}
	if rows == 0 {
		return nil, false, nil
	}

	vals := col.I64()
	var min, max int64
	haveNonNull := false
	for _, v := range vals {
		if v == object.NullI64 {
			// A NULL key still needs its own group; the fast path's
			// dense bucket array has no slot for it, so fall back to
			// the general hash path rather than silently drop it.
			return nil, false, nil
		}
		if !haveNonNull {
			min, max = v, v
			haveNonNull = true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !haveNonNull {
		return nil, false, nil
	}
	rng := max - min
	if rng < 0 || rng > 65536 {
		return nil, false, nil
	}

	buckets := int(rng) + 1
	acc := newAccum(int64(buckets))
	for i := 0; i < buckets; i++ {
		acc.grow(int64(i), -1, 0)
	}
	present := make([]bool, buckets)

	for row, v := range vals {
		b := int64(v - min)
		if !present[b] {
			present[b] = true
			acc.firstRow[b] = int64(row)
		}
		acc.update(b, int64(row), spec.ValueCol)
	}

	// Compact non-empty buckets in ascending key order (DESIGN.md open
	// question: perfect-hash path is deterministic ascending-by-key).
	var reps []int64
	compact := newAccum(int64(buckets))
	for b := 0; b < buckets; b++ {
		if !present[b] {
			continue
		}
		reps = append(reps, acc.firstRow[b])
		compact.sumI64 = append(compact.sumI64, acc.sumI64[b])
		compact.sumF64 = append(compact.sumF64, acc.sumF64[b])
		compact.count = append(compact.count, acc.count[b])
		compact.nonNullCount = append(compact.nonNullCount, acc.nonNullCount[b])
		compact.minI64 = append(compact.minI64, acc.minI64[b])
		compact.maxI64 = append(compact.maxI64, acc.maxI64[b])
		compact.minF64 = append(compact.minF64, acc.minF64[b])
		compact.maxF64 = append(compact.maxF64, acc.maxF64[b])
		compact.firstRow = append(compact.firstRow, acc.firstRow[b])
		compact.lastRow = append(compact.lastRow, acc.lastRow[b])
	}

	res, err := materialize(h, spec, reps, compact)
	return res, true, err
}

// --- parallel fused aggregate ---

// chunkPartial is one worker's per-chunk hash-aggregate output, produced
// entirely from that worker's own borrowed heap.
type chunkPartial struct {
	acc  *accum
	reps []int64
}

// runParallel fans out per-chunk hash-aggregation across the pool via
// pool.Batch (spec §4.5's batch lifecycle, §4.1's per-batch heap borrow/
// merge), then folds the per-chunk partials into one merged table serially.
// Each worker precomputes its chunk's row fingerprints in bulk into a
// vector allocated from its own lent heap, rather than recomputing one row
// fingerprint at a time inline, so the borrowed heap backs real per-chunk
// work rather than sitting unused.
func runParallel(h *heap.Heap, p *pool.Pool, spec Spec, rows int64) (*Result, error) {
	workers := p.NumWorkers()
	if workers > MaxParallelWorkers {
		workers = MaxParallelWorkers
	}
	chunkSize := (rows + int64(workers) - 1) / int64(workers)

	var tasks []func(workerHeap *heap.Heap) (any, error)
	for w := 0; w < workers; w++ {
		start := int64(w) * chunkSize
		end := start + chunkSize
		if end > rows {
			end = rows
		}
		if start >= end {
			continue
		}
		start, end := start, end
		tasks = append(tasks, func(workerHeap *heap.Heap) (any, error) {
			n := end - start
			hashVec, err := object.Vector(workerHeap, object.KindI64, n, false)
			if err != nil {
				return nil, err
			}
			hashBits := hashVec.I64()
			for i := int64(0); i < n; i++ {
				hashBits[i] = int64(rowFingerprint(spec.KeyCols, start+i))
			}

			tab := newGroupTable(n, spec.KeyCols)
			acc := newAccum(64)
			for i := int64(0); i < n; i++ {
				row := start + i
				rowHash := uint64(hashBits[i])
				gid, isNew := tab.findOrCreateWithHash(row, rowHash)
				if isNew {
					acc.grow(gid, row, rowHash)
				}
				acc.update(gid, row, spec.ValueCol)
			}
			return &chunkPartial{acc: acc, reps: tab.representatives()}, nil
		})
	}

	// aggregate.Run has no context of its own (spec §4.6 takes a heap and a
	// pool, not a request context); runParallel is the pool.Batch call site,
	// so it opens an unparented span here rather than threading a context
	// through every Run caller.
	results, err := p.Batch(context.Background(), tasks)
	if err != nil {
		return nil, err
	}

	// Merge: a single merged table with an initial size hint of workers * 64
	// (it grows on demand), each worker's groups looked up/inserted by stored
	// group hash (spec
	// §4.6 "initialize one N x worker_cap merged table").
	merged := newGroupTable(int64(workers)*64, spec.KeyCols)
	mergedAcc := newAccum(int64(workers) * 64)

	for _, r := range results {
		if r == nil {
			continue
		}
		part := r.(*chunkPartial)
		for srcID, row := range part.reps {
			gid, isNew := merged.findOrCreateWithHash(row, part.acc.hash[srcID])
			if isNew {
				mergedAcc.grow(gid, row, part.acc.hash[srcID])
			}
			mergeInto(mergedAcc, gid, part.acc, int64(srcID))
		}
	}

	reps := merged.representatives()
	return materialize(h, spec, reps, mergedAcc)
}
