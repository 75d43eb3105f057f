// Package sortpkg implements the adaptive sort dispatcher described in
// spec §4.4: given a vector, return a permutation of I64 indices that sorts
// it ascending or descending, picking a counting, radix, or comparison-
// based strategy by element kind and estimated key range, with a parallel
// histogram/prefix-sum/scatter variant above a size threshold.
//
// Grounded on original_source/core/sort.c: merge_sort_indices is ported
// near-verbatim for the SYMBOL comparison path (LIST reuses the same
// comparator shape against a generalized compareObjects). insertion_sort_i64's
// "asc" sign-flip trick — negating the comparison result is exactly
// equivalent to reversing a full sort — is generalized here to every
// vector kind: every vector is sorted ascending internally, and a
// descending request simply reverses the resulting permutation, which also
// satisfies "NULL last descending" for free since NULL sentinels are
// mapped to the smallest sortable key and so land first ascending / last
// once reversed. Parallel fan-out uses golang.org/x/sync/errgroup per
// spec §2 DOMAIN STACK.
package sortpkg

import (
	"sort"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/rayerr"
)

const (
	// SmallVecThreshold below which dispatch never bothers parallelizing.
	SmallVecThreshold = 128 * 1024
	// CountingMaxRange is the widest key range sortByKey sends to counting
	// sort rather than radix sort for inputs shorter than SmallVecThreshold,
	// whatever the element kind.
	CountingMaxRange = 1_000_000
	// CountingMaxRangeI32 is a counting-sort range bound for I32/DATE/TIME;
	// the dispatcher does not consult it (see maxCountingRange).
	CountingMaxRangeI32 = 512 * 1024
	// CountingMaxRangeI64 is the widest key range sortByKey sends to
	// counting sort for inputs of SmallVecThreshold elements or more,
	// whatever the element kind.
	CountingMaxRangeI64 = 512 * 1024
	// ParallelCountingThreshold is the element count at or above which
	// counting sort fans out across errgroup goroutines.
	ParallelCountingThreshold = 512 * 1024
	// ParallelRadixThreshold is the element count at or above which radix
	// sort builds its per-pass histograms on errgroup goroutines.
	ParallelRadixThreshold = 768 * 1024
)

// Sort returns the I64 index vector permuting obj into ascending (asc=true)
// or descending order, dispatching by kind per spec §4.4's table.
func Sort(h *heap.Heap, obj *object.Object, asc bool) (*object.Object, error) {
	n := int(obj.Len)

	if asc && obj.Attrs&object.AttrAsc != 0 {
		return iotaVector(h, n, false)
	}
	if !asc && obj.Attrs&object.AttrDesc != 0 {
		return iotaVector(h, n, false)
	}
	if asc && obj.Attrs&object.AttrDesc != 0 {
		return iotaVector(h, n, true)
	}
	if !asc && obj.Attrs&object.AttrAsc != 0 {
		return iotaVector(h, n, true)
	}

	var indices []int64
	var err error

	switch obj.Kind {
	case object.KindSymbol:
		indices = mergeSortIndices(n, compareSymbol(obj.I64()))
	case object.KindList:
		indices, err = mergeSortIndicesErr(n, compareList(obj))
	default:
		if !obj.Kind.IsVector() {
			return nil, rayerr.Nyi(int(obj.Kind))
		}
		indices, err = sortByKey(n, sortKeyFunc(obj))
	}
	if err != nil {
		return nil, err
	}

	if !asc {
		reverse(indices)
	}
	return indicesToVector(h, indices)
}

// SortDict sorts a DICT's values, reindexing its keys by the same
// permutation (spec §4.4 "DICT: Sort values; reindex keys").
func SortDict(h *heap.Heap, d *object.Object, asc bool) (*object.Object, error) {
	permObj, err := Sort(h, d.Values, asc)
	if err != nil {
		return nil, err
	}
	perm := permObj.I64()

	newKeys, err := gather(h, d.Keys, perm)
	if err != nil {
		return nil, err
	}
	newValues, err := gather(h, d.Values, perm)
	if err != nil {
		return nil, err
	}
	return object.Dict(newKeys, newValues)
}

// gather builds a new vector containing src reordered by perm.
func gather(h *heap.Heap, src *object.Object, perm []int64) (*object.Object, error) {
	dst, err := object.Vector(h, src.Kind, int64(len(perm)), false)
	if err != nil {
		return nil, err
	}
	for i, p := range perm {
		atom, err := object.AtIdx(src, p)
		if err != nil {
			return nil, err
		}
		if err := object.InsObj(dst, int64(i), atom); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func reverse(s []int64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func iotaVector(h *heap.Heap, n int, reversed bool) (*object.Object, error) {
	v, err := object.Vector(h, object.KindI64, int64(n), false)
	if err != nil {
		return nil, err
	}
	idx := v.I64()
	for i := 0; i < n; i++ {
		if reversed {
			idx[i] = int64(n - 1 - i)
		} else {
			idx[i] = int64(i)
		}
	}
	return v, nil
}

func indicesToVector(h *heap.Heap, indices []int64) (*object.Object, error) {
	v, err := object.Vector(h, object.KindI64, int64(len(indices)), false)
	if err != nil {
		return nil, err
	}
	copy(v.I64(), indices)
	return v, nil
}

// --- sortable key extraction (spec §4.4 "Radix details") ---

// sortKeyFunc returns a function mapping row index to a monotonic unsigned
// 64-bit key such that ascending order on the key equals the spec's
// required ascending order, with NULL sentinels mapped to 0 (sorts first).
func sortKeyFunc(obj *object.Object) func(int) uint64 {
	switch obj.Kind {
	case object.KindBool, object.KindByte, object.KindChar:
		v := obj.U8()
		return func(i int) uint64 { return uint64(v[i]) }
	case object.KindI16:
		v := obj.I16()
		return func(i int) uint64 { return flipSignBit16(v[i]) }
	case object.KindI32, object.KindDate, object.KindTime:
		v := obj.I32()
		return func(i int) uint64 { return flipSignBit32(v[i], object.NullI32) }
	case object.KindI64, object.KindTimestamp:
		v := obj.I64()
		return func(i int) uint64 { return flipSignBit64(v[i], object.NullI64) }
	case object.KindF64:
		v := obj.F64()
		return func(i int) uint64 { return sortableF64(v[i]) }
	default:
		return nil
	}
}

func flipSignBit16(v int16) uint64 {
	if v == object.NullI16 {
		return 0
	}
	return uint64(uint16(v) ^ 0x8000)
}

// flipSignBit32 maps a signed 32-bit value to a sortable key, with the
// caller's null sentinel mapped to 0 so it sorts first.
func flipSignBit32(v int32, null int32) uint64 {
	if v == null {
		return 0
	}
	u := uint32(v) ^ 0x80000000
	// Shift by one to keep 0 reserved exclusively for the NULL sentinel,
	// since MinInt32 itself maps to 0 under the XOR above.
	return uint64(u) + 1
}

func flipSignBit64(v int64, null int64) uint64 {
	if v == null {
		return 0
	}
	u := uint64(v) ^ 0x8000000000000000
	return u + 1
}

// sortableF64 maps a float64 to a sortable unsigned key per spec: "flipping
// the sign bit if positive, else inverting all bits; NaNs map to zero and
// sort first".
func sortableF64(f float64) uint64 {
	bits := *(*uint64)(unsafe.Pointer(&f))
	if f != f { // NaN (includes the reserved F64 NULL pattern)
		return 0
	}
	if bits&0x8000000000000000 != 0 {
		return (^bits) + 1
	}
	return (bits | 0x8000000000000000) + 1
}

// --- counting / radix dispatch ---

func sortByKey(n int, key func(int) uint64) ([]int64, error) {
	if key == nil {
		return nil, rayerr.Nyi(0)
	}
	if n == 0 {
		return nil, nil
	}

	keys := make([]uint64, n)
	var lo, hi uint64 = ^uint64(0), 0
	for i := 0; i < n; i++ {
		k := key(i)
		keys[i] = k
		if k < lo {
			lo = k
		}
		if k > hi {
			hi = k
		}
	}
	rng := hi - lo

	if rng <= maxCountingRange(n) {
		if n >= ParallelCountingThreshold {
			return parallelCountingSort(keys, lo, rng)
		}
		return countingSort(keys, lo, rng)
	}

	if n >= ParallelRadixThreshold {
		return parallelRadixSort(keys)
	}
	return radixSort(keys)
}

func maxCountingRange(n int) uint64 {
	if n < SmallVecThreshold {
		return CountingMaxRange
	}
	return CountingMaxRangeI64
}

// countingSort is a stable 1-pass counting sort over keys shifted by lo.
func countingSort(keys []uint64, lo, rng uint64) ([]int64, error) {
	buckets := make([]int64, rng+2)
	for _, k := range keys {
		buckets[k-lo+1]++
	}
	for i := 1; i < len(buckets); i++ {
		buckets[i] += buckets[i-1]
	}
	out := make([]int64, len(keys))
	for i, k := range keys {
		b := k - lo
		out[buckets[b]] = int64(i)
		buckets[b]++
	}
	return out, nil
}

// parallelCountingSort implements spec §4.4's three-phase parallel
// pattern: per-worker private histograms, a serial prefix-sum merge, then
// disjoint per-worker scatter.
func parallelCountingSort(keys []uint64, lo, rng uint64) ([]int64, error) {
	workers := parallelWorkers(len(keys))
	chunks := splitChunks(len(keys), workers)
	bucketCount := int(rng) + 1

	hist := make([][]int64, len(chunks))
	var g errgroup.Group
	for ci, c := range chunks {
		ci, c := ci, c
		g.Go(func() error {
			h := make([]int64, bucketCount)
			for i := c.start; i < c.end; i++ {
				h[keys[i]-lo]++
			}
			hist[ci] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Serial merge: global prefix sums, then per-worker starting offsets.
	starts := make([][]int64, len(chunks))
	for ci := range chunks {
		starts[ci] = make([]int64, bucketCount)
	}
	var running int64
	for b := 0; b < bucketCount; b++ {
		for ci := range chunks {
			starts[ci][b] = running
			running += hist[ci][b]
		}
	}

	out := make([]int64, len(keys))
	var g2 errgroup.Group
	for ci, c := range chunks {
		ci, c := ci, c
		g2.Go(func() error {
			pos := starts[ci]
			for i := c.start; i < c.end; i++ {
				b := keys[i] - lo
				out[pos[b]] = int64(i)
				pos[b]++
			}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// radixSort is an LSD 8-bit-per-pass radix sort over the sortable keys,
// stopping after the highest non-zero byte across all keys.
func radixSort(keys []uint64) ([]int64, error) {
	n := len(keys)
	indices := make([]int64, n)
	for i := range indices {
		indices[i] = int64(i)
	}
	passes := radixPasses(keys)

	src := indices
	tmp := make([]int64, n)
	for pass := 0; pass < passes; pass++ {
		shift := uint(pass * 8)
		var count [257]int64
		for _, idx := range src {
			b := (keys[idx] >> shift) & 0xff
			count[b+1]++
		}
		for i := 1; i < 257; i++ {
			count[i] += count[i-1]
		}
		for _, idx := range src {
			b := (keys[idx] >> shift) & 0xff
			tmp[count[b]] = idx
			count[b]++
		}
		src, tmp = tmp, src
	}
	return src, nil
}

func radixPasses(keys []uint64) int {
	var maxKey uint64
	for _, k := range keys {
		if k > maxKey {
			maxKey = k
		}
	}
	passes := 0
	for maxKey > 0 {
		passes++
		maxKey >>= 8
	}
	if passes == 0 {
		passes = 1
	}
	return passes
}

// parallelRadixSort runs the same LSD passes as radixSort, parallelizing
// only the per-pass histogram build (the scatter phase is inherently
// sequential within a pass since bucket order must be preserved).
func parallelRadixSort(keys []uint64) ([]int64, error) {
	n := len(keys)
	indices := make([]int64, n)
	for i := range indices {
		indices[i] = int64(i)
	}
	passes := radixPasses(keys)
	workers := parallelWorkers(n)

	src := indices
	tmp := make([]int64, n)
	for pass := 0; pass < passes; pass++ {
		shift := uint(pass * 8)
		chunks := splitChunks(n, workers)
		hist := make([][256]int64, len(chunks))

		var g errgroup.Group
		for ci, c := range chunks {
			ci, c := ci, c
			g.Go(func() error {
				for i := c.start; i < c.end; i++ {
					b := (keys[src[i]] >> shift) & 0xff
					hist[ci][b]++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var count [257]int64
		for b := 0; b < 256; b++ {
			for ci := range chunks {
				count[b+1] += hist[ci][b]
			}
		}
		for i := 1; i < 257; i++ {
			count[i] += count[i-1]
		}

		for _, idx := range src {
			b := (keys[idx] >> shift) & 0xff
			tmp[count[b]] = idx
			count[b]++
		}
		src, tmp = tmp, src
	}
	return src, nil
}

type chunk struct{ start, end int }

func splitChunks(n, workers int) []chunk {
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers
	if size == 0 {
		size = 1
	}
	var chunks []chunk
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, chunk{start, end})
	}
	return chunks
}

func parallelWorkers(n int) int {
	w := n / SmallVecThreshold
	if w < 1 {
		w = 1
	}
	if w > 16 {
		w = 16
	}
	return w
}

// --- comparison-based sort for SYMBOL and LIST ---

func compareSymbol(v []int64) func(i, j int64) int {
	return func(i, j int64) int {
		a, b := v[i], v[j]
		if a == b {
			return 0
		}
		if a == object.NullI64 {
			return -1
		}
		if b == object.NullI64 {
			return 1
		}
		if a < b {
			return -1
		}
		return 1
	}
}

func compareList(obj *object.Object) func(i, j int64) (int, error) {
	return func(i, j int64) (int, error) {
		a, b := obj.List[i], obj.List[j]
		return compareObjects(a, b)
	}
}

// compareObjects provides a total order over atoms used to compare LIST
// elements, covering the scalar kinds that appear as list members in
// practice; nested composite members are not ordered (spec §4.2 deals only
// with flat atom extraction via AT_IDX).
func compareObjects(a, b *object.Object) (int, error) {
	if a.Kind != b.Kind {
		return 0, rayerr.Type(a.Kind.String(), b.Kind.String(), 0, "")
	}
	switch a.Kind {
	case object.KindI64, object.KindTimestamp, object.KindSymbol:
		return cmpInt64(int64(a.Scalar), int64(b.Scalar), object.NullI64), nil
	case object.KindI32, object.KindDate, object.KindTime:
		return cmpInt64(int64(int32(a.Scalar)), int64(int32(b.Scalar)), object.NullI32), nil
	case object.KindI16:
		return cmpInt64(int64(int16(a.Scalar)), int64(int16(b.Scalar)), object.NullI16), nil
	case object.KindF64:
		af := *(*float64)(unsafe.Pointer(&a.Scalar))
		bf := *(*float64)(unsafe.Pointer(&b.Scalar))
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	case object.KindBool, object.KindByte, object.KindChar:
		return cmpInt64(int64(a.Scalar), int64(b.Scalar), -1), nil
	case object.KindGUID:
		return compareGUID(a.GUIDVal, b.GUIDVal), nil
	default:
		return 0, rayerr.Nyi(int(a.Kind))
	}
}

func cmpInt64(a, b, null int64) int {
	if a == b {
		return 0
	}
	if a == null {
		return -1
	}
	if b == null {
		return 1
	}
	if a < b {
		return -1
	}
	return 1
}

func compareGUID(a, b [16]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// mergeSortIndices is a direct port of merge_sort_indices for comparators
// that cannot fail.
func mergeSortIndices(n int, cmp func(i, j int64) int) []int64 {
	indices := make([]int64, n)
	for i := range indices {
		indices[i] = int64(i)
	}
	if n < 2 {
		return indices
	}
	temp := make([]int64, n)
	mergeSortRange(indices, temp, 0, n-1, cmp)
	return indices
}

func mergeSortRange(indices, temp []int64, left, right int, cmp func(i, j int64) int) {
	if left >= right {
		return
	}
	mid := left + (right-left)/2
	mergeSortRange(indices, temp, left, mid, cmp)
	mergeSortRange(indices, temp, mid+1, right, cmp)

	i, j, k := left, mid+1, left
	for i <= mid && j <= right {
		if cmp(indices[i], indices[j]) <= 0 {
			temp[k] = indices[i]
			i++
		} else {
			temp[k] = indices[j]
			j++
		}
		k++
	}
	for i <= mid {
		temp[k] = indices[i]
		i++
		k++
	}
	for j <= right {
		temp[k] = indices[j]
		j++
		k++
	}
	copy(indices[left:right+1], temp[left:right+1])
}

// mergeSortIndicesErr mirrors mergeSortIndices for comparators that can
// fail (LIST element comparison against mismatched element kinds).
func mergeSortIndicesErr(n int, cmp func(i, j int64) (int, error)) ([]int64, error) {
	indices := make([]int64, n)
	for i := range indices {
		indices[i] = int64(i)
	}
	if n < 2 {
		return indices, nil
	}

	var firstErr error
	wrapped := func(i, j int64) int {
		if firstErr != nil {
			return 0
		}
		c, err := cmp(i, j)
		if err != nil {
			firstErr = err
			return 0
		}
		return c
	}

	sort.SliceStable(indices, func(a, b int) bool {
		return wrapped(indices[a], indices[b]) < 0
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return indices, nil
}
