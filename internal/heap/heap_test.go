package heap

import (
	"context"
	"math/rand"
	"testing"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	h := New(1, t.TempDir())

	b, err := h.Alloc(128)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if b.Size() < 128 {
		t.Fatalf("block too small: %d", b.Size())
	}
	h.Free(b)

	stat := h.Stat()
	if stat.UsedBytes != 0 {
		t.Fatalf("expected 0 used bytes after free, got %d", stat.UsedBytes)
	}
}

func TestGCReturnsFreePools(t *testing.T) {
	h := New(2, t.TempDir())

	blocks := make([]*Block, 0, 64)
	for i := 0; i < 64; i++ {
		b, err := h.Alloc(4096)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		blocks = append(blocks, b)
	}
	for _, b := range blocks {
		h.Free(b)
	}

	before := h.Stat()
	reclaimed := h.GC(context.Background())
	after := h.Stat()

	if reclaimed == 0 {
		t.Fatalf("expected GC to reclaim bytes")
	}
	if after.TotalBytes >= before.TotalBytes {
		t.Fatalf("expected pool count to shrink after GC: before=%d after=%d", before.TotalBytes, after.TotalBytes)
	}
}

// TestStress allocates and frees many random-sized objects from a single
// heap and asserts it returns to its initial (empty) state, per spec §8
// "Heap stress".
func TestStress(t *testing.T) {
	h := New(3, t.TempDir())
	rng := rand.New(rand.NewSource(42))

	live := make([]*Block, 0, 1024)
	const iterations = 20000

	for i := 0; i < iterations; i++ {
		if len(live) > 0 && (rng.Intn(2) == 0 || len(live) > 512) {
			idx := rng.Intn(len(live))
			h.Free(live[idx])
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}

		size := int64(rng.Intn(1<<16) + 1)
		b, err := h.Alloc(size)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		live = append(live, b)
	}

	for _, b := range live {
		h.Free(b)
	}

	reclaimed := h.GC(context.Background())
	stat := h.Stat()
	if stat.UsedBytes != 0 {
		t.Fatalf("expected 0 used bytes, got %d", stat.UsedBytes)
	}
	_ = reclaimed
}

func TestBorrowMerge(t *testing.T) {
	main := New(1, t.TempDir())
	worker := New(2, t.TempDir())

	// Warm up the main heap's slab cache so there is something to lend.
	var warm []*Block
	for i := 0; i < 16; i++ {
		b, _ := main.Alloc(32)
		warm = append(warm, b)
	}
	for _, b := range warm {
		main.Free(b)
	}

	main.Borrow(worker)

	b, err := worker.Alloc(32)
	if err != nil {
		t.Fatalf("worker alloc after borrow: %v", err)
	}
	worker.Free(b)

	main.Merge(worker)

	stat := main.Stat()
	if stat.UsedBytes != 0 {
		t.Fatalf("expected main heap used bytes 0 after merge, got %d", stat.UsedBytes)
	}
}
