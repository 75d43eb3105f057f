package join

import (
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

func vecSymbol(t *testing.T, h *heap.Heap, vals []int64) *object.Object {
	t.Helper()
	v, err := object.Vector(h, object.KindSymbol, int64(len(vals)), false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.I64(), vals)
	return v
}

func TestBuildIndexSingleKeyMatches(t *testing.T) {
	h := heap.New(1, t.TempDir())
	lkey := vecSymbol(t, h, []int64{1, 2, 3})
	rkey := vecSymbol(t, h, []int64{3, 1, 2})

	idx, err := BuildIndex(h, []*object.Object{lkey}, []*object.Object{rkey})
	if err != nil {
		t.Fatalf("build_idx: %v", err)
	}
	got := idx.I64()
	if rkey.I64()[got[0]] != 1 {
		t.Fatalf("left row 0 (key 1): got right row %d (key %d), want key 1", got[0], rkey.I64()[got[0]])
	}
	if rkey.I64()[got[1]] != 2 {
		t.Fatalf("left row 1 (key 2): got right row %d (key %d), want key 2", got[1], rkey.I64()[got[1]])
	}
	if rkey.I64()[got[2]] != 3 {
		t.Fatalf("left row 2 (key 3): got right row %d (key %d), want key 3", got[2], rkey.I64()[got[2]])
	}
}

func TestBuildIndexUnmatchedRowIsNull(t *testing.T) {
	h := heap.New(1, t.TempDir())
	lkey := vecSymbol(t, h, []int64{1, 2, 99})
	rkey := vecSymbol(t, h, []int64{1, 2})

	idx, err := BuildIndex(h, []*object.Object{lkey}, []*object.Object{rkey})
	if err != nil {
		t.Fatalf("build_idx: %v", err)
	}
	got := idx.I64()
	if got[2] != object.NullI64 {
		t.Fatalf("expected NULL for unmatched left row, got %d", got[2])
	}
}

func TestBuildIndexCompositeKey(t *testing.T) {
	h := heap.New(1, t.TempDir())
	lk1 := vecSymbol(t, h, []int64{1, 1, 2})
	lk2 := vecI64(t, h, []int64{10, 20, 10})
	rk1 := vecSymbol(t, h, []int64{1, 1, 2})
	rk2 := vecI64(t, h, []int64{20, 10, 10})

	idx, err := BuildIndex(h, []*object.Object{lk1, lk2}, []*object.Object{rk1, rk2})
	if err != nil {
		t.Fatalf("build_idx: %v", err)
	}
	got := idx.I64()
	// left row 0: (1,10) should match right row 1 (1,10)
	if got[0] != 1 {
		t.Fatalf("left row 0: got right row %d, want 1", got[0])
	}
	// left row 1: (1,20) should match right row 0 (1,20)
	if got[1] != 0 {
		t.Fatalf("left row 1: got right row %d, want 0", got[1])
	}
	// left row 2: (2,10) should match right row 2 (2,10)
	if got[2] != 2 {
		t.Fatalf("left row 2: got right row %d, want 2", got[2])
	}
}

func TestSelectColumnFallsBackToLeftWhenUnmatched(t *testing.T) {
	h := heap.New(1, t.TempDir())
	left := vecI64(t, h, []int64{100, 200, 300})
	right := vecI64(t, h, []int64{9, 8})
	ids := []int64{1, object.NullI64, 0}

	res, err := SelectColumn(h, left, right, ids)
	if err != nil {
		t.Fatalf("select_column: %v", err)
	}
	got := res.I64()
	if got[0] != 8 {
		t.Fatalf("row 0: got %d want 8 (right row 1)", got[0])
	}
	if got[1] != 200 {
		t.Fatalf("row 1 (unmatched): got %d want 200 (left fallback)", got[1])
	}
	if got[2] != 9 {
		t.Fatalf("row 2: got %d want 9 (right row 0)", got[2])
	}
}

func TestSelectColumnNilRightClonesLeft(t *testing.T) {
	h := heap.New(1, t.TempDir())
	left := vecI64(t, h, []int64{1, 2, 3})

	res, err := SelectColumn(h, left, nil, []int64{0, 1, 2})
	if err != nil {
		t.Fatalf("select_column: %v", err)
	}
	if res.Len != left.Len {
		t.Fatalf("expected clone of left, got len %d want %d", res.Len, left.Len)
	}
	for i, v := range res.I64() {
		if v != left.I64()[i] {
			t.Fatalf("clone mismatch at %d: got %d want %d", i, v, left.I64()[i])
		}
	}
}
