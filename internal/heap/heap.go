// Package heap implements the per-VM buddy allocator described in spec §4.1:
// O(1) allocation for objects sized 2^minOrder..2^maxPoolOrder bytes, a small
// LIFO slab cache for the hottest small orders, file-backed overflow when
// anonymous mmap fails, and cross-heap free queues for objects that outlive
// the worker that allocated them.
//
// Grounded on original_source/core/heap.c (buddy-by-XOR, order-class
// freelists, slab freelists for the smallest sizes); the borrow/merge split
// around a parallel batch is grounded on the teacher's slab
// acquire/release pattern (abiolaogu-MinIO internal/cache/cache_engine_v3.go
// SlabPool.Acquire/Release), generalized from one size class to the full set
// of buddy order classes.
package heap

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/RayforceDB/rayforce/internal/telemetry"
)

const (
	// MinOrder is the smallest block order the buddy allocator hands out;
	// anything smaller is served from the slab cache instead.
	MinOrder = 5 // 32 bytes
	// SlabOrders is the number of order classes above MinOrder served by
	// the LIFO slab fast path (spec §4.1 "Slab fast path").
	SlabOrders = 3 // orders [5,8) -> 32,64,128 bytes
	// MaxOrder is the largest single block order handed out of a pool.
	MaxOrder = 30 // 1 GiB
	// PoolOrder is the order of a freshly mapped pool when none is available.
	PoolOrder = 21 // 2 MiB pools
	// slabCap bounds how many freed blocks each slab stack retains before
	// spilling to the buddy free list.
	slabCap = 4096
)

// Block is a handle to a live allocation. Callers hold onto it to Free or
// Realloc later; it is opaque outside this package.
type Block struct {
	order   uint8
	poolIdx int32
	offset  int64
	backed  bool // true if this pool is a file-backed overflow mapping
	heapID  uint64
	ptr     unsafe.Pointer
	size    int64
}

// Ptr returns the raw memory backing this block.
func (b *Block) Ptr() unsafe.Pointer { return b.ptr }

// Size returns the usable size in bytes (the full block, which may be
// larger than what was requested due to rounding to a power of two).
func (b *Block) Size() int64 { return b.size }

type freeNode struct {
	order   uint8
	poolIdx int32
	offset  int64
	next    *freeNode
}

type pool struct {
	mem    []byte
	backed bool
	file   *os.File
}

// MemStat reports aggregate heap occupancy, used by the §8 heap-stress
// property tests.
type MemStat struct {
	TotalPools int
	TotalBytes int64
	FreeBytes  int64
	UsedBytes  int64
}

// Heap is a single-owner (per spec §5, per-VM) buddy allocator.
type Heap struct {
	id      uint64
	swapDir string

	mu       sync.Mutex // guards the fields below; every exported method takes it
	pools    []*pool
	freelist [MaxOrder + 1]*freeNode
	avail    uint64 // bitmask: bit i set iff freelist[i] non-empty

	slab [SlabOrders]*freeNode // LIFO stacks for orders [MinOrder, MinOrder+SlabOrders)
	slabN [SlabOrders]int

	foreign []*freeNode // blocks with another heap's id freed here, reclaimed at next GC
}

// New creates a heap identified by id. swapDir backs pools with a file in
// that directory when anonymous mmap fails (spec §6 HEAP_SWAP); an empty
// swapDir defaults to the current directory.
func New(id uint64, swapDir string) *Heap {
	if swapDir == "" {
		swapDir = "."
	}
	return &Heap{id: id, swapDir: swapDir}
}

// ID returns this heap's identity, used to detect cross-heap frees.
func (h *Heap) ID() uint64 { return h.id }

func orderOf(size int64) uint8 {
	if size <= 1 {
		return 0
	}
	order := uint8(0)
	sz := int64(1)
	for sz < size {
		sz <<= 1
		order++
	}
	return order
}

func (h *Heap) mapPool(order uint8) (*pool, error) {
	size := int64(1) << order
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err == nil {
		return &pool{mem: mem}, nil
	}

	// Anonymous mapping failed; fall back to a file-backed pool under the
	// configured swap directory (spec §4.1 "Design", §6 HEAP_SWAP).
	f, ferr := os.CreateTemp(h.swapDir, "rayforce-heap-*.swap")
	if ferr != nil {
		return nil, fmt.Errorf("heap: mmap failed (%v) and swap file failed (%v)", err, ferr)
	}
	if terr := f.Truncate(size); terr != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, terr
	}
	mem, merr := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if merr != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, merr
	}
	return &pool{mem: mem, backed: true, file: f}, nil
}

func (h *Heap) addPool(order uint8) (int32, error) {
	if order > MaxOrder {
		return -1, fmt.Errorf("heap: pool order %d exceeds MaxOrder", order)
	}
	p, err := h.mapPool(order)
	if err != nil {
		return -1, err
	}
	h.pools = append(h.pools, p)
	idx := int32(len(h.pools) - 1)

	node := &freeNode{order: order, poolIdx: idx, offset: 0}
	node.next = h.freelist[order]
	h.freelist[order] = node
	h.avail |= 1 << order
	return idx, nil
}

func (h *Heap) popFreelist(order uint8) *freeNode {
	n := h.freelist[order]
	if n == nil {
		return nil
	}
	h.freelist[order] = n.next
	if h.freelist[order] == nil {
		h.avail &^= 1 << order
	}
	return n
}

func (h *Heap) pushFreelist(n *freeNode) {
	n.next = h.freelist[n.order]
	h.freelist[n.order] = n
	h.avail |= 1 << n.order
}

func buddyOffset(offset int64, order uint8) int64 {
	return offset ^ (int64(1) << order)
}

// Alloc returns a block of at least size bytes. Small sizes are served from
// the slab cache; larger sizes split a buddy-order block to fit.
func (h *Heap) Alloc(size int64) (*Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("heap: alloc size must be positive")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	order := orderOf(size)
	if order < MinOrder {
		order = MinOrder
	}

	// Slab fast path (spec §4.1 "Slab fast path").
	if si := int(order) - MinOrder; si >= 0 && si < SlabOrders {
		if node := h.popSlab(si); node != nil {
			return h.blockFromNode(node, size), nil
		}
	}

	if order > MaxOrder {
		return nil, fmt.Errorf("heap: order %d exceeds MaxOrder (ERR_LIMIT)", order)
	}

	// Find smallest available order >= requested.
	mask := (^uint64(0) << order) & h.avail
	var found uint8
	var ok bool
	for i := order; i <= MaxOrder; i++ {
		if mask&(1<<i) != 0 {
			found = i
			ok = true
			break
		}
	}

	if !ok {
		newOrder := uint8(PoolOrder)
		if order > newOrder {
			newOrder = order
		}
		if _, err := h.addPool(newOrder); err != nil {
			return nil, err
		}
		found = newOrder
	}

	node := h.popFreelist(found)

	// Split down to the requested order, pushing the unused buddies back.
	for found > order {
		found--
		buddy := &freeNode{order: found, poolIdx: node.poolIdx, offset: buddyOffset(node.offset, found)}
		h.pushFreelist(buddy)
	}
	node.order = order

	return h.blockFromNode(node, size), nil
}

func (h *Heap) blockFromNode(n *freeNode, size int64) *Block {
	p := h.pools[n.poolIdx]
	ptr := unsafe.Pointer(&p.mem[n.offset])
	return &Block{
		order:   n.order,
		poolIdx: n.poolIdx,
		offset:  n.offset,
		backed:  p.backed,
		heapID:  h.id,
		ptr:     ptr,
		size:    int64(1) << n.order,
	}
}

func (h *Heap) popSlab(si int) *freeNode {
	n := h.slab[si]
	if n == nil {
		return nil
	}
	h.slab[si] = n.next
	h.slabN[si]--
	return n
}

func (h *Heap) pushSlab(si int, n *freeNode) {
	if h.slabN[si] >= slabCap {
		// Overflow spills to the buddy free list (spec §4.1).
		h.pushFreelist(n)
		return
	}
	n.next = h.slab[si]
	h.slab[si] = n
	h.slabN[si]++
}

// Free returns a block's storage to this heap, coalescing with its buddy
// when possible. A block whose heap id is not this heap's is queued on this
// heap's own foreign list instead; GC drains that list, and Merge moves a
// worker's list onto the main heap's (spec §4.1 "Cross-heap frees").
func (h *Heap) Free(b *Block) {
	if b == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if b.heapID != h.id {
		// Should not normally happen: callers free through the owning
		// heap's Free; cross-heap frees are modeled by pushing onto the
		// owner's foreign queue directly via PushForeign.
		h.pushForeignLocked(b)
		return
	}

	h.freeLocked(b.order, b.poolIdx, b.offset)
}

func (h *Heap) freeLocked(order uint8, poolIdx int32, offset int64) {
	if si := int(order) - MinOrder; si >= 0 && si < SlabOrders {
		h.pushSlab(si, &freeNode{order: order, poolIdx: poolIdx, offset: offset})
		return
	}
	h.coalesceLocked(order, poolIdx, offset)
}

// coalesceLocked returns a block to the buddy free lists, merging it with
// its free buddy at each order up to the pool's own order.
func (h *Heap) coalesceLocked(order uint8, poolIdx int32, offset int64) {
	curOrder := order
	curOffset := offset
	for {
		// The whole pool is free at its own order: nothing above to
		// coalesce with.
		poolOrder := orderOf(int64(len(h.pools[poolIdx].mem)))
		if curOrder == poolOrder {
			h.pushFreelist(&freeNode{order: curOrder, poolIdx: poolIdx, offset: curOffset})
			return
		}

		buddy := buddyOffset(curOffset, curOrder)

		prev := (*freeNode)(nil)
		n := h.freelist[curOrder]
		found := false
		for n != nil {
			if n.poolIdx == poolIdx && n.offset == buddy {
				found = true
				break
			}
			prev = n
			n = n.next
		}

		if !found {
			h.pushFreelist(&freeNode{order: curOrder, poolIdx: poolIdx, offset: curOffset})
			return
		}

		// Remove buddy from its freelist.
		if prev == nil {
			h.freelist[curOrder] = n.next
		} else {
			prev.next = n.next
		}
		if h.freelist[curOrder] == nil {
			h.avail &^= 1 << curOrder
		}

		if buddy < curOffset {
			curOffset = buddy
		}
		curOrder++
	}
}

// PushForeign enqueues a block that was allocated by this heap but is being
// freed on a different VM's thread (spec §4.1 "Cross-heap frees"). The
// freeing thread calls this on the *owning* heap.
func (h *Heap) PushForeign(b *Block) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushForeignLocked(b)
}

func (h *Heap) pushForeignLocked(b *Block) {
	h.foreign = append(h.foreign, &freeNode{order: b.order, poolIdx: b.poolIdx, offset: b.offset})
}

// drainForeignLocked frees every block on this heap's foreign list. Called
// from GC only; Merge hands a worker's list to the main heap undrained.
func (h *Heap) drainForeignLocked() {
	for _, n := range h.foreign {
		h.freeLocked(n.order, n.poolIdx, n.offset)
	}
	h.foreign = h.foreign[:0]
}

// Realloc grows or shrinks a block in place when possible, otherwise
// allocates fresh storage and copies.
func (h *Heap) Realloc(b *Block, newSize int64) (*Block, error) {
	if b == nil {
		return h.Alloc(newSize)
	}
	if newSize <= 0 {
		h.Free(b)
		return nil, nil
	}

	curCap := int64(1) << b.order
	if newSize <= curCap && newSize > curCap/2 {
		return b, nil
	}

	nb, err := h.Alloc(newSize)
	if err != nil {
		return nil, err
	}

	copySize := b.size
	if newSize < copySize {
		copySize = newSize
	}
	src := unsafe.Slice((*byte)(b.ptr), copySize)
	dst := unsafe.Slice((*byte)(nb.ptr), copySize)
	copy(dst, src)

	h.Free(b)
	return nb, nil
}

// GC flushes the slab caches into the buddy free lists, reclaims any queued
// foreign frees, and unmaps every pool that is entirely free (spec §4.1
// "GC"). It returns the number of bytes returned to the OS.
func (h *Heap) GC(ctx context.Context) int64 {
	_, span := telemetry.StartHeapGC(ctx, h.id)
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	for si := range h.slab {
		for n := h.popSlab(si); n != nil; n = h.popSlab(si) {
			h.coalesceLocked(n.order, n.poolIdx, n.offset)
		}
	}

	h.drainForeignLocked()

	var reclaimed int64
	for order := uint8(0); order <= MaxOrder; order++ {
		var kept *freeNode
		n := h.freelist[order]
		for n != nil {
			next := n.next
			poolOrder := orderOf(int64(len(h.pools[n.poolIdx].mem)))
			if poolOrder == order {
				p := h.pools[n.poolIdx]
				size := int64(len(p.mem))
				unix.Munmap(p.mem)
				if p.file != nil {
					p.file.Close()
					os.Remove(p.file.Name())
				}
				p.mem = nil
				reclaimed += size
			} else {
				n.next = kept
				kept = n
			}
			n = next
		}
		h.freelist[order] = kept
		if h.freelist[order] == nil {
			h.avail &^= 1 << order
		}
	}

	return reclaimed
}

// Stat reports current occupancy across all pools.
func (h *Heap) Stat() MemStat {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stat MemStat
	for _, p := range h.pools {
		if p.mem != nil {
			stat.TotalPools++
			stat.TotalBytes += int64(len(p.mem))
		}
	}
	for order := uint8(0); order <= MaxOrder; order++ {
		for n := h.freelist[order]; n != nil; n = n.next {
			stat.FreeBytes += int64(1) << order
		}
	}
	for si := range h.slab {
		stat.FreeBytes += int64(h.slabN[si]) * (int64(1) << (MinOrder + si))
	}
	stat.UsedBytes = stat.TotalBytes - stat.FreeBytes
	return stat
}

// Borrow lends half of each slab class and a selection of medium/large free
// blocks from the main heap to a freshly created worker heap, ahead of a
// parallel batch (spec §4.5 "Lifecycle per batch", §4.1 "Borrow / merge").
func (h *Heap) Borrow(worker *Heap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	worker.mu.Lock()
	defer worker.mu.Unlock()

	for si := range h.slab {
		half := h.slabN[si] / 2
		for i := 0; i < half; i++ {
			n := h.popSlab(si)
			if n == nil {
				break
			}
			worker.pushSlab(si, n)
		}
	}

	// Lend a handful of medium/large blocks per order so workers rarely
	// need to mmap a fresh pool mid-batch.
	for order := uint8(MinOrder + SlabOrders); order <= MaxOrder; order++ {
		n := h.popFreelist(order)
		if n == nil {
			continue
		}
		worker.pushFreelist(n)
	}

	// Workers are created fresh per batch and share the main heap's pool
	// slice directly so that poolIdx offsets in lent blocks stay valid.
	worker.pools = h.pools
}

// Merge drains a worker heap's slab caches, free lists, and foreign queue
// back into the main heap after a parallel batch completes (spec §4.5,
// §4.1 "Borrow / merge"). Coalescing is deferred to the normal free path.
func (h *Heap) Merge(worker *Heap) {
	worker.mu.Lock()
	items := make([]*freeNode, 0, 64)
	for si := range worker.slab {
		for n := worker.popSlab(si); n != nil; n = worker.popSlab(si) {
			items = append(items, n)
		}
	}
	for order := uint8(0); order <= MaxOrder; order++ {
		for n := worker.popFreelist(order); n != nil; n = worker.popFreelist(order) {
			items = append(items, n)
		}
	}
	foreign := worker.foreign
	worker.foreign = nil
	worker.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range items {
		h.freeLocked(n.order, n.poolIdx, n.offset)
	}
	h.foreign = append(h.foreign, foreign...)
}
