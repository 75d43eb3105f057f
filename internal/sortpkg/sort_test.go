package sortpkg

import (
	"math"
	"testing"

	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
)

func vecI64(t *testing.T, h *heap.Heap, vals []int64) *object.Object {
	t.Helper()
	v, err := object.Vector(h, object.KindI64, int64(len(vals)), false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.I64(), vals)
	return v
}

func applyPerm(vals []int64, perm []int64) []int64 {
	out := make([]int64, len(perm))
	for i, p := range perm {
		out[i] = vals[p]
	}
	return out
}

func TestSortAscI64(t *testing.T) {
	h := heap.New(1, t.TempDir())
	vals := []int64{5, 3, 1, 4, 2}
	v := vecI64(t, h, vals)

	perm, err := Sort(h, v, true)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := applyPerm(vals, perm.I64())
	want := []int64{1, 2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, got, want)
		}
	}
}

func TestSortDescI64(t *testing.T) {
	h := heap.New(1, t.TempDir())
	vals := []int64{5, 3, 1, 4, 2}
	v := vecI64(t, h, vals)

	perm, err := Sort(h, v, false)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := applyPerm(vals, perm.I64())
	want := []int64{5, 4, 3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, got, want)
		}
	}
}

func TestSortNullFirstAscending(t *testing.T) {
	h := heap.New(1, t.TempDir())
	vals := []int64{5, object.NullI64, 1, object.NullI64, 2}
	v := vecI64(t, h, vals)

	perm, err := Sort(h, v, true)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := applyPerm(vals, perm.I64())
	if got[0] != object.NullI64 || got[1] != object.NullI64 {
		t.Fatalf("expected NULLs first ascending, got %v", got)
	}
}

func TestSortNullLastDescending(t *testing.T) {
	h := heap.New(1, t.TempDir())
	vals := []int64{5, object.NullI64, 1, object.NullI64, 2}
	v := vecI64(t, h, vals)

	perm, err := Sort(h, v, false)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := applyPerm(vals, perm.I64())
	n := len(got)
	if got[n-1] != object.NullI64 || got[n-2] != object.NullI64 {
		t.Fatalf("expected NULLs last descending, got %v", got)
	}
}

func TestSortF64WithNaN(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, err := object.Vector(h, object.KindF64, 5, false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	vals := []float64{3.5, math.NaN(), 1.0, -2.5, 0.0}
	copy(v.F64(), vals)

	perm, err := Sort(h, v, true)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := applyPerm2F64(vals, perm.I64())
	if !math.IsNaN(got[0]) {
		t.Fatalf("expected NaN first ascending, got %v", got)
	}
	for i := 1; i < len(got)-1; i++ {
		if got[i] > got[i+1] {
			t.Fatalf("not sorted ascending: %v", got)
		}
	}
}

func applyPerm2F64(vals []float64, perm []int64) []float64 {
	out := make([]float64, len(perm))
	for i, p := range perm {
		out[i] = vals[p]
	}
	return out
}

func TestSortLargeI32ForcesRadixOrCounting(t *testing.T) {
	h := heap.New(1, t.TempDir())
	n := 2000
	v, err := object.Vector(h, object.KindI32, int64(n), false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	vals := v.I32()
	for i := 0; i < n; i++ {
		vals[i] = int32((i*2654435761 + 17) % 1000003)
	}

	perm, err := Sort(h, v, true)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	idx := perm.I64()
	if len(idx) != n {
		t.Fatalf("expected %d indices, got %d", n, len(idx))
	}
	for i := 0; i < n-1; i++ {
		if vals[idx[i]] > vals[idx[i+1]] {
			t.Fatalf("not sorted at %d: %d > %d", i, vals[idx[i]], vals[idx[i+1]])
		}
	}
}

func TestSortSymbolNullFirst(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, err := object.Vector(h, object.KindSymbol, 4, false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.I64(), []int64{3, object.NullI64, 1, 2})

	perm, err := Sort(h, v, true)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := applyPerm([]int64{3, object.NullI64, 1, 2}, perm.I64())
	if got[0] != object.NullI64 {
		t.Fatalf("expected NULL symbol first, got %v", got)
	}
}

func TestSortDictReindexesKeys(t *testing.T) {
	h := heap.New(1, t.TempDir())
	keys, _ := object.Vector(h, object.KindSymbol, 3, false)
	copy(keys.I64(), []int64{100, 200, 300})
	values, _ := object.Vector(h, object.KindI64, 3, false)
	copy(values.I64(), []int64{3, 1, 2})

	d, err := object.Dict(keys, values)
	if err != nil {
		t.Fatalf("dict: %v", err)
	}

	sorted, err := SortDict(h, d, true)
	if err != nil {
		t.Fatalf("sort_dict: %v", err)
	}
	if sorted.Values.I64()[0] != 1 || sorted.Values.I64()[1] != 2 || sorted.Values.I64()[2] != 3 {
		t.Fatalf("expected sorted values, got %v", sorted.Values.I64())
	}
	if sorted.Keys.I64()[0] != 200 || sorted.Keys.I64()[1] != 300 || sorted.Keys.I64()[2] != 100 {
		t.Fatalf("expected keys reindexed alongside values, got %v", sorted.Keys.I64())
	}
}
