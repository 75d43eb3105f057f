package object

import (
	"testing"

	"github.com/RayforceDB/rayforce/internal/heap"
)

func TestVectorAllocAndAccess(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, err := Vector(h, KindI64, 4, false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.I64(), []int64{10, 20, 30, 40})

	atom, err := AtIdx(v, 2)
	if err != nil {
		t.Fatalf("at_idx: %v", err)
	}
	if int64(atom.Scalar) != 30 {
		t.Fatalf("expected 30, got %d", int64(atom.Scalar))
	}

	if err := InsObj(v, 2, &Object{Kind: KindI64, Len: -1, Scalar: uint64(99)}); err != nil {
		t.Fatalf("ins_obj: %v", err)
	}
	if v.I64()[2] != 99 {
		t.Fatalf("expected 99 after ins_obj, got %d", v.I64()[2])
	}
}

func TestAtIdxOutOfRange(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, _ := Vector(h, KindI64, 2, false)
	if _, err := AtIdx(v, 5); err == nil {
		t.Fatalf("expected index error")
	}
}

func TestCloneDropRefcount(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, _ := Vector(h, KindI64, 1, false)
	if v.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", v.RefCount())
	}
	Clone(v)
	if v.RefCount() != 2 {
		t.Fatalf("expected refcount 2, got %d", v.RefCount())
	}
	Drop(v)
	if v.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", v.RefCount())
	}
	Drop(v)
}

func TestCOWCopiesWhenShared(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, _ := Vector(h, KindI64, 2, false)
	copy(v.I64(), []int64{1, 2})

	shared := Clone(v)
	unique, err := COW(shared, h)
	if err != nil {
		t.Fatalf("cow: %v", err)
	}
	if unique == v {
		t.Fatalf("expected cow to allocate a new object when shared")
	}
	unique.I64()[0] = 100
	if v.I64()[0] != 1 {
		t.Fatalf("expected original vector unaffected by cow mutation, got %d", v.I64()[0])
	}
	Drop(unique)
	Drop(v)
}

func TestCOWNoopWhenUnique(t *testing.T) {
	h := heap.New(1, t.TempDir())
	v, _ := Vector(h, KindI64, 1, false)
	same, err := COW(v, h)
	if err != nil {
		t.Fatalf("cow: %v", err)
	}
	if same != v {
		t.Fatalf("expected cow to return the same object when unique")
	}
	Drop(same)
}

func TestDictLengthInvariant(t *testing.T) {
	h := heap.New(1, t.TempDir())
	keys, _ := Vector(h, KindSymbol, 2, false)
	values, _ := Vector(h, KindI64, 3, false)
	if _, err := Dict(keys, values); err == nil {
		t.Fatalf("expected length error for mismatched keys/values")
	}
}

func TestTableInvariants(t *testing.T) {
	h := heap.New(1, t.TempDir())
	names, _ := Vector(h, KindSymbol, 2, false)
	colA, _ := Vector(h, KindI64, 3, false)
	colB, _ := Vector(h, KindI64, 2, false)

	if _, err := Table(names, []*Object{colA, colB}); err == nil {
		t.Fatalf("expected length error for unequal column lengths")
	}

	colB2, _ := Vector(h, KindI64, 3, false)
	tbl, err := Table(names, []*Object{colA, colB2})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if tbl.Len != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len)
	}
}

func TestListDeepCopySharesElements(t *testing.T) {
	h := heap.New(1, t.TempDir())
	a, _ := Vector(h, KindI64, 1, false)
	a.I64()[0] = 7

	l := List(1)
	l.List = append(l.List, Clone(a))
	l.Len = 1

	cloned, err := deepCopy(l, h)
	if err != nil {
		t.Fatalf("deepCopy: %v", err)
	}
	if cloned.List[0] != a {
		t.Fatalf("expected list element to share the same underlying object via clone")
	}
	if a.RefCount() != 3 {
		t.Fatalf("expected refcount 3 (orig + l + cloned), got %d", a.RefCount())
	}

	Drop(l)
	Drop(cloned)
	Drop(a)
}
