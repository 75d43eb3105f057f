package filter

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

func vecBool(t *testing.T, h *heap.Heap, vals []uint8) *object.Object {
	t.Helper()
	v, err := object.Vector(h, object.KindBool, int64(len(vals)), false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.U8(), vals)
	return v
}

func TestWhereReturnsTrueIndices(t *testing.T) {
	h := heap.New(1, t.TempDir())
	pred := vecBool(t, h, []uint8{0, 1, 1, 0, 1})

	idx, err := Where(h, pred)
	if err != nil {
		t.Fatalf("where: %v", err)
	}
	want := []int64{1, 2, 4}
	got := idx.I64()
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestAtIdsGathersByIndex(t *testing.T) {
	h := heap.New(1, t.TempDir())
	col := vecI64(t, h, []int64{10, 20, 30, 40})

	res, err := AtIds(h, col, []int64{3, 0, 2})
	if err != nil {
		t.Fatalf("at_ids: %v", err)
	}
	want := []int64{40, 10, 30}
	for i := range want {
		if res.I64()[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, res.I64()[i], want[i])
		}
	}
}

func TestAtIdsNegativeIdYieldsNull(t *testing.T) {
	h := heap.New(1, t.TempDir())
	col := vecI64(t, h, []int64{10, 20, 30})

	res, err := AtIds(h, col, []int64{0, -1, 2})
	if err != nil {
		t.Fatalf("at_ids: %v", err)
	}
	if res.I64()[1] != object.NullI64 {
		t.Fatalf("expected NULL at index 1, got %d", res.I64()[1])
	}
}

func TestMapTableRecursesPerColumn(t *testing.T) {
	h := heap.New(1, t.TempDir())
	names, err := object.Vector(h, object.KindSymbol, 2, false)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	copy(names.I64(), []int64{1, 2})
	c1 := vecI64(t, h, []int64{1, 2, 3})
	c2 := vecI64(t, h, []int64{4, 5, 6})
	tbl, err := object.Table(names, []*object.Object{c1, c2})
	if err != nil {
		t.Fatalf("table: %v", err)
	}

	index := vecI64(t, h, []int64{0, 2})
	mapped, err := Map(tbl, index)
	if err != nil {
		t.Fatalf("filter_map: %v", err)
	}
	if mapped.Kind != object.KindTable {
		t.Fatalf("expected table, got %v", mapped.Kind)
	}
	for _, col := range mapped.Cols {
		if col.Kind != object.KindMapFilter {
			t.Fatalf("expected each column wrapped as MAP-FILTER, got %v", col.Kind)
		}
	}
}

func TestMapNonTableProducesMapFilter(t *testing.T) {
	h := heap.New(1, t.TempDir())
	col := vecI64(t, h, []int64{1, 2, 3})
	index := vecI64(t, h, []int64{0, 1})

	mapped, err := Map(col, index)
	if err != nil {
		t.Fatalf("filter_map: %v", err)
	}
	if mapped.Kind != object.KindMapFilter {
		t.Fatalf("expected MAP-FILTER, got %v", mapped.Kind)
	}
	if len(mapped.List) != 2 {
		t.Fatalf("expected 2-element MAP-FILTER pairing, got %d", len(mapped.List))
	}
}

func TestCollectPlainIndex(t *testing.T) {
	h := heap.New(1, t.TempDir())
	col := vecI64(t, h, []int64{100, 200, 300})
	index := vecI64(t, h, []int64{2, 0})

	res, err := Collect(h, col, index)
	if err != nil {
		t.Fatalf("filter_collect: %v", err)
	}
	if res.I64()[0] != 300 || res.I64()[1] != 100 {
		t.Fatalf("got %v", res.I64())
	}
}

func takeAllIdx() *object.Object {
	return &object.Object{Kind: object.KindI64, Len: -1, Scalar: uint64(^uint64(0))} // -1 bit pattern
}

func TestCollectPartedTakesAllAndSpecificRows(t *testing.T) {
	h := heap.New(1, t.TempDir())
	part0 := vecI64(t, h, []int64{1, 2, 3})
	part1 := vecI64(t, h, []int64{10, 20, 30})

	index := &object.Object{
		Kind: object.KindParted,
		Len:  2,
		List: []*object.Object{
			takeAllIdx(),
			vecI64(t, h, []int64{1}),
		},
	}
	val := &object.Object{
		Kind: object.KindParted,
		Len:  2,
		List: []*object.Object{part0, part1},
	}

	res, err := Collect(h, val, index)
	if err != nil {
		t.Fatalf("filter_collect: %v", err)
	}
	want := []int64{1, 2, 3, 20}
	if len(res.I64()) != len(want) {
		t.Fatalf("got %v want %v", res.I64(), want)
	}
	for i := range want {
		if res.I64()[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, res.I64()[i], want[i])
		}
	}
}

func TestCollectMapCommonRepeatsPartitionValue(t *testing.T) {
	h := heap.New(1, t.TempDir())
	values := vecI64(t, h, []int64{111, 222})
	counts := vecI64(t, h, []int64{3, 2})
	val := &object.Object{
		Kind: object.KindMapCommon,
		Len:  2,
		List: []*object.Object{values, counts},
	}

	index := &object.Object{
		Kind: object.KindParted,
		Len:  2,
		List: []*object.Object{
			takeAllIdx(),
			vecI64(t, h, []int64{0}),
		},
	}

	res, err := Collect(h, val, index)
	if err != nil {
		t.Fatalf("filter_collect: %v", err)
	}
	want := []int64{111, 111, 111, 222}
	if len(res.I64()) != len(want) {
		t.Fatalf("got %v want %v", res.I64(), want)
	}
	for i := range want {
		if res.I64()[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, res.I64()[i], want[i])
		}
	}
}

func TestCollectPartedSkipsNilPartition(t *testing.T) {
	h := heap.New(1, t.TempDir())
	part0 := vecI64(t, h, []int64{1, 2})
	part1 := vecI64(t, h, []int64{10, 20})

	index := &object.Object{
		Kind: object.KindParted,
		Len:  2,
		List: []*object.Object{
			nil,
			vecI64(t, h, []int64{0}),
		},
	}
	val := &object.Object{
		Kind: object.KindParted,
		Len:  2,
		List: []*object.Object{part0, part1},
	}

	res, err := Collect(h, val, index)
	if err != nil {
		t.Fatalf("filter_collect: %v", err)
	}
	if len(res.I64()) != 1 || res.I64()[0] != 10 {
		t.Fatalf("expected only partition 1's selection, got %v", res.I64())
	}
}
