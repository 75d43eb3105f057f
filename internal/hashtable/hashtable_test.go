package hashtable

import (
	"sync"
	"testing"
)

func TestMix64Deterministic(t *testing.T) {
	a := Mix64(SeedInit(), 42)
	b := Mix64(SeedInit(), 42)
	if a != b {
		t.Fatalf("mix64 not deterministic: %d != %d", a, b)
	}
	c := Mix64(SeedInit(), 43)
	if a == c {
		t.Fatalf("expected different keys to mix to different hashes")
	}
}

func TestMix64x4MatchesScalar(t *testing.T) {
	h := [4]uint64{1, 2, 3, 4}
	k := [4]uint64{10, 20, 30, 40}
	got := Mix64x4(h, k)
	for i := range h {
		want := Mix64(h[i], k[i])
		if got[i] != want {
			t.Fatalf("lane %d: got %d want %d", i, got[i], want)
		}
	}
}

func identityHash(rows []int64) HashFunc {
	return func(row int64, seed any) uint64 {
		return Mix64(SeedInit(), uint64(rows[row]))
	}
}

func identityCmp(rows []int64) CmpFunc {
	return func(a, b int64, seed any) bool {
		return rows[a] == rows[b]
	}
}

func TestOATableInsertAndGet(t *testing.T) {
	rows := []int64{10, 20, 30, 10, 40}
	tab := NewOATable(int64(len(rows)), identityHash(rows), identityCmp(rows), nil)

	for i := range rows {
		tab.Next(int64(i))
	}

	if tab.Count() != 4 {
		t.Fatalf("expected 4 distinct groups, got %d", tab.Count())
	}

	idx := tab.Get(3) // row 3 has key 10, same group as row 0
	if idx == -1 {
		t.Fatalf("expected row 3 to find existing group")
	}
	if tab.GroupAt(idx) != 0 {
		t.Fatalf("expected group 0 for key 10, got %d", tab.GroupAt(idx))
	}
}

func TestOATableResizeRehashesCorrectly(t *testing.T) {
	n := 200
	rows := make([]int64, n)
	for i := range rows {
		rows[i] = int64(i)
	}
	tab := NewOATable(4, identityHash(rows), identityCmp(rows), nil) // force several resizes

	for i := 0; i < n; i++ {
		tab.Next(int64(i))
	}
	if tab.Count() != n {
		t.Fatalf("expected %d groups after resize, got %d", n, tab.Count())
	}
	for i := 0; i < n; i++ {
		idx := tab.Get(int64(i))
		if idx == -1 {
			t.Fatalf("row %d missing after resize", i)
		}
	}
}

func TestBucketTableConcurrentInsert(t *testing.T) {
	hash := func(row int64, seed any) uint64 { return Mix64(SeedInit(), uint64(row)) }
	bt := NewBucketTable(16, hash, nil)

	var wg sync.WaitGroup
	const n = 1000
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			bt.Insert(i, i*2)
		}(int64(i))
	}
	wg.Wait()

	if bt.Size() != n {
		t.Fatalf("expected %d entries, got %d", n, bt.Size())
	}
	for i := int64(0); i < n; i++ {
		v, ok := bt.Lookup(i)
		if !ok || v != i*2 {
			t.Fatalf("key %d: got (%d, %v)", i, v, ok)
		}
	}
}

func TestBucketTableResizePreservesEntries(t *testing.T) {
	hash := func(row int64, seed any) uint64 { return Mix64(SeedInit(), uint64(row)) }
	bt := NewBucketTable(4, hash, nil)

	for i := int64(0); i < 100; i++ {
		bt.Insert(i, i)
	}
	bt.Resize(256)

	for i := int64(0); i < 100; i++ {
		v, ok := bt.Lookup(i)
		if !ok || v != i {
			t.Fatalf("key %d missing or wrong after resize: (%d, %v)", i, v, ok)
		}
	}
}
