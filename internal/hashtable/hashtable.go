// Package hashtable implements the 64-bit avalanche mixer and the two
// hash-table shapes used throughout the query engine: a single-threaded
// open-addressing table for serial group-by/join work, and a lock-free
// bucket table for parallel inserts (spec §4.3).
//
// Grounded on original_source/core/join.c's hashi64/hash_column/precalc_hash
// (mixer, exact constant, seeding) and group.c's ht_oa_create/ht_oa_tab_next
// (open-addressing shape, salt+group-id entries). The bucket table's
// CAS-append idiom is grounded on the teacher's LockFreeRingBuffer
// (abiolaogu-MinIO internal/cache/cache_engine_v3.go), generalized from a
// ring of slots to a chained hash bucket.
package hashtable

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"
)

// mixConst is the CityHash-style avalanche multiplier (spec §4.3).
const mixConst = 0x9ddfea08eb382d69

// seedInit is the initial accumulator value used by precalc_hash before the
// first column is folded in.
const seedInit = 0xa5b6c7d8e9f01234

// Mix64 folds k into the running hash h using the spec's avalanche mixer:
//
//	a = (h ^ k) * C; a ^= a>>47
//	b = (rotl(k,31) ^ a) * C; b ^= b>>47; b *= C
func Mix64(h, k uint64) uint64 {
	a := (h ^ k) * mixConst
	a ^= a >> 47
	b := (bits.RotateLeft64(k, 31) ^ a) * mixConst
	b ^= b >> 47
	b *= mixConst
	return b
}

// Mix64x4 applies Mix64 across four independent (h, k) lanes in one call,
// mirroring the spec's "4-wide vectorized form processes four lanes per
// call". Go has no portable SIMD intrinsic, so this is a straight-line
// unrolled loop body the compiler can still pipeline.
func Mix64x4(h, k [4]uint64) [4]uint64 {
	var out [4]uint64
	out[0] = Mix64(h[0], k[0])
	out[1] = Mix64(h[1], k[1])
	out[2] = Mix64(h[2], k[2])
	out[3] = Mix64(h[3], k[3])
	return out
}

// SeedInit returns the initial row-hash accumulator (spec's precalc_hash).
func SeedInit() uint64 { return seedInit }

// HashColumn mixes a column's raw byte elements (elemSize bytes each) into
// out, one Mix64 fold per row, matching hash_column's per-kind dispatch
// collapsed to a single byte-width switch since every scalar kind's bit
// pattern is already the hash key (GUID folds two 8-byte halves).
func HashColumn(data unsafe.Pointer, elemSize int, n int, out []uint64) {
	switch elemSize {
	case 1:
		v := unsafe.Slice((*uint8)(data), n)
		for i, b := range v {
			out[i] = Mix64(out[i], uint64(b))
		}
	case 2:
		v := unsafe.Slice((*uint16)(data), n)
		for i, b := range v {
			out[i] = Mix64(out[i], uint64(b))
		}
	case 4:
		v := unsafe.Slice((*uint32)(data), n)
		for i, b := range v {
			out[i] = Mix64(out[i], uint64(b))
		}
	case 8:
		v := unsafe.Slice((*uint64)(data), n)
		for i, b := range v {
			out[i] = Mix64(out[i], b)
		}
	case 16:
		v := unsafe.Slice((*uint64)(data), n*2)
		for i := 0; i < n; i++ {
			out[i] = Mix64(out[i], v[i*2])
			out[i] = Mix64(out[i], v[i*2+1])
		}
	}
}

// HashFunc hashes a row index into a 64-bit key, given an opaque seed
// (spec's "seed is a struct pointer to the column list and a pre-hashed row
// array").
type HashFunc func(row int64, seed any) uint64

// CmpFunc compares two row indices for key equality, returning true when
// equal (spec's cmp(i64 a, i64 b, seed)).
type CmpFunc func(a, b int64, seed any) bool

const nullGroup = -1

// OATable is the single-threaded open-addressing table (spec §4.3 "linear-
// probed table of (salt, group-id) entries"). The "key" stored per slot is a
// row index into the caller's data; salt is the top 16 bits of that row's
// hash, used to short-circuit probing without recomputing or re-comparing.
type OATable struct {
	salt  []uint16
	group []int64 // nullGroup marks an empty slot
	mask  uint64
	count int

	Hash HashFunc
	Cmp  CmpFunc
	Seed any
}

func nextPow2(n int64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

// NewOATable allocates a table sized to comfortably hold hint entries at
// the 0.7 load factor (spec §4.3 "resize at load factor 0.7").
func NewOATable(hint int64, hash HashFunc, cmp CmpFunc, seed any) *OATable {
	cap := nextPow2(maxI64(hint*2, 8))
	return &OATable{
		salt:  make([]uint16, cap),
		group: makeEmptyGroups(cap),
		mask:  cap - 1,
		Hash:  hash,
		Cmp:   cmp,
		Seed:  seed,
	}
}

func makeEmptyGroups(n uint64) []int64 {
	g := make([]int64, n)
	for i := range g {
		g[i] = nullGroup
	}
	return g
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (t *OATable) salted(h uint64) uint16 {
	return uint16(h >> 48)
}

// Next probes for row's slot, inserting it (with group = row) if absent,
// per group.c's ht_oa_tab_next: returns the slot index, present or not.
func (t *OATable) Next(row int64) int64 {
	if float64(t.count+1) > 0.7*float64(len(t.group)) {
		t.resize()
	}
	h := t.Hash(row, t.Seed)
	salt := t.salted(h)
	idx := h & t.mask

	for {
		g := t.group[idx]
		if g == nullGroup {
			t.salt[idx] = salt
			t.group[idx] = row
			t.count++
			return int64(idx)
		}
		if t.salt[idx] == salt && t.Cmp(g, row, t.Seed) {
			return int64(idx)
		}
		idx = (idx + 1) & t.mask
	}
}

// Get probes for row's existing slot without inserting, returning
// nullGroup's sentinel index (-1) when absent, per ht_oa_tab_get_with.
func (t *OATable) Get(row int64) int64 {
	h := t.Hash(row, t.Seed)
	salt := t.salted(h)
	idx := h & t.mask

	for {
		g := t.group[idx]
		if g == nullGroup {
			return -1
		}
		if t.salt[idx] == salt && t.Cmp(g, row, t.Seed) {
			return int64(idx)
		}
		idx = (idx + 1) & t.mask
	}
}

// GroupAt returns the row index stored at slot idx, or nullGroup if empty.
func (t *OATable) GroupAt(idx int64) int64 {
	return t.group[idx]
}

// resize doubles the table and reinserts every occupied slot, calling Hash
// on the slot's stored row again to place it. Per-group hashes are not
// stored, so every key's hash is recomputed on resize.
func (t *OATable) resize() {
	oldGroup := t.group
	newCap := uint64(len(oldGroup)) * 2
	t.salt = make([]uint16, newCap)
	t.group = makeEmptyGroups(newCap)
	t.mask = newCap - 1
	t.count = 0

	for _, g := range oldGroup {
		if g == nullGroup {
			continue
		}
		h := t.Hash(g, t.Seed)
		salt := t.salted(h)
		idx := h & t.mask
		for t.group[idx] != nullGroup {
			idx = (idx + 1) & t.mask
		}
		t.salt[idx] = salt
		t.group[idx] = g
		t.count++
	}
}

// Count returns the number of occupied slots.
func (t *OATable) Count() int { return t.count }

// bucketNode is a singly-linked CAS-appended chain entry (spec §4.3 "each
// bucket is a singly linked list of (key, value) nodes").
type bucketNode struct {
	key  int64
	val  int64
	next unsafe.Pointer // *bucketNode
}

// BucketTable is the lock-free open-chain table used for parallel inserts
// (spec §4.3 "Bucket table (lock-free)"). Inserts CAS-append at each
// bucket's head; lookups are wait-free reads. Resize is serialized behind
// a mutex since it touches every bucket head.
type BucketTable struct {
	mu      sync.Mutex
	buckets []unsafe.Pointer // *bucketNode, one per bucket
	mask    uint64
	size    atomic.Int64

	Hash HashFunc
	Seed any
}

// NewBucketTable allocates a lock-free bucket table with at least hint
// buckets.
func NewBucketTable(hint int64, hash HashFunc, seed any) *BucketTable {
	cap := nextPow2(maxI64(hint, 8))
	return &BucketTable{
		buckets: make([]unsafe.Pointer, cap),
		mask:    cap - 1,
		Hash:    hash,
		Seed:    seed,
	}
}

// Insert CAS-appends (key, val) to the head of its bucket's chain.
func (t *BucketTable) Insert(key, val int64) {
	h := t.Hash(key, t.Seed)
	idx := h & t.mask
	node := &bucketNode{key: key, val: val}

	for {
		head := atomic.LoadPointer(&t.buckets[idx])
		node.next = head
		if atomic.CompareAndSwapPointer(&t.buckets[idx], head, unsafe.Pointer(node)) {
			t.size.Add(1)
			return
		}
	}
}

// Lookup returns the first value chained under key's bucket, or (0, false)
// if absent. Lookups never block and never CAS (spec: "wait-free reads").
func (t *BucketTable) Lookup(key int64) (int64, bool) {
	h := t.Hash(key, t.Seed)
	idx := h & t.mask
	n := (*bucketNode)(atomic.LoadPointer(&t.buckets[idx]))
	for n != nil {
		if n.key == key {
			return n.val, true
		}
		n = (*bucketNode)(atomic.LoadPointer(&n.next))
	}
	return 0, false
}

// LookupAll appends every value chained under key's bucket to dst.
func (t *BucketTable) LookupAll(key int64, dst []int64) []int64 {
	h := t.Hash(key, t.Seed)
	idx := h & t.mask
	n := (*bucketNode)(atomic.LoadPointer(&t.buckets[idx]))
	for n != nil {
		if n.key == key {
			dst = append(dst, n.val)
		}
		n = (*bucketNode)(atomic.LoadPointer(&n.next))
	}
	return dst
}

// Size returns the number of inserted entries.
func (t *BucketTable) Size() int64 { return t.size.Load() }

// Resize grows the bucket array to newHint buckets, serialized against
// concurrent Insert/Lookup (spec §4.3 "Resize is serialized").
func (t *BucketTable) Resize(newHint int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newCap := nextPow2(maxI64(newHint, int64(len(t.buckets))))
	if newCap == uint64(len(t.buckets)) {
		return
	}
	newBuckets := make([]unsafe.Pointer, newCap)
	newMask := newCap - 1

	for _, head := range t.buckets {
		for n := (*bucketNode)(head); n != nil; {
			next := (*bucketNode)(n.next)
			h := t.Hash(n.key, t.Seed)
			idx := h & newMask
			n.next = newBuckets[idx]
			newBuckets[idx] = unsafe.Pointer(n)
			n = next
		}
	}

	t.buckets = newBuckets
	t.mask = newMask
}
