// Package object implements the tagged value model described in spec §3
// and §4.2: a closed set of scalar/temporal/identity/composite kinds, each
// vector backed by heap-allocated storage rather than the Go GC, with
// explicit per-VM reference counting, copy-on-write, and element
// access/mutation dispatch.
//
// Grounded on original_source/core/vector.c (vector/list construction,
// push/find dispatch tables) and amend.c (cow/clone/drop/set_obj naming and
// the cow-then-mutate pattern used by in-place update operators).
package object

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/rayerr"
)

func atomicAdd32(p *int32, delta int32) int32 {
	return atomic.AddInt32(p, delta)
}

func atomicLoad32(p *int32) int32 {
	return atomic.LoadInt32(p)
}

// Kind is the closed set of value types every object can hold (spec §3).
type Kind int8

const (
	KindBool Kind = iota
	KindByte
	KindChar
	KindI16
	KindI32
	KindI64
	KindF64
	KindDate
	KindTime
	KindTimestamp
	KindSymbol
	KindGUID
	KindList
	KindDict
	KindTable
	KindParted
	KindPartedMap
	KindMapCommon
	KindMapFilter
	KindMapGroup
	KindLambda
	KindBuiltin
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "BOOL"
	case KindByte:
		return "BYTE"
	case KindChar:
		return "CHAR"
	case KindI16:
		return "I16"
	case KindI32:
		return "I32"
	case KindI64:
		return "I64"
	case KindF64:
		return "F64"
	case KindDate:
		return "DATE"
	case KindTime:
		return "TIME"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindSymbol:
		return "SYMBOL"
	case KindGUID:
		return "GUID"
	case KindList:
		return "LIST"
	case KindDict:
		return "DICT"
	case KindTable:
		return "TABLE"
	case KindParted:
		return "PARTED"
	case KindPartedMap:
		return "PARTED-MAP"
	case KindMapCommon:
		return "MAP-COMMON"
	case KindMapFilter:
		return "MAP-FILTER"
	case KindMapGroup:
		return "MAP-GROUP"
	case KindLambda:
		return "LAMBDA"
	case KindBuiltin:
		return "BUILTIN"
	case KindErr:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// elemSize returns the per-element storage size for vector kinds, or 0 for
// composite/control kinds that carry no flat payload (spec §3 table).
func elemSize(k Kind) int {
	switch k {
	case KindBool, KindByte, KindChar:
		return 1
	case KindI16:
		return 2
	case KindI32, KindDate, KindTime:
		return 4
	case KindI64, KindF64, KindTimestamp, KindSymbol:
		return 8
	case KindGUID:
		return 16
	default:
		return 0
	}
}

// IsVector reports whether k is stored as a flat element array.
func (k Kind) IsVector() bool {
	return elemSize(k) > 0
}

// NULL sentinels (spec §3 "Each has a sentinel NULL").
const (
	NullI16       = math.MinInt16
	NullI32       = math.MinInt32
	NullI64       = math.MinInt64
	NullDate      = math.MinInt32
	NullTime      = math.MinInt32
	NullTimestamp = math.MinInt64
)

var nullF64 = math.Float64frombits(0x7ff00000000007a2) // NaN payload reserved as F64 NULL

// NullF64 returns the reserved NaN bit pattern used as the F64 NULL sentinel.
func NullF64() float64 { return nullF64 }

// IsNullF64 reports whether v is the reserved NULL bit pattern (distinct
// from ordinary NaNs produced by arithmetic).
func IsNullF64(v float64) bool {
	return math.Float64bits(v) == math.Float64bits(nullF64)
}

// AttrBits are advisory vector attributes (spec §3) invalidated by any
// in-place mutation.
type AttrBits uint8

const (
	AttrAsc AttrBits = 1 << iota
	AttrDesc
	AttrDistinct
	AttrParted
)

// Object is the uniform runtime representation of every value. Vector kinds
// (IsVector() == true) hold a flat heap-allocated payload; composite kinds
// hold Go-native slices of child objects, since their "payload" is a list
// of references rather than flat bytes. Atoms (Len == -1) hold their value
// inline in Scalar/GUIDVal rather than via a heap block.
type Object struct {
	Kind  Kind
	Attrs AttrBits

	refs *int32
	sync bool // mirrors the owning VM's rc_sync flag at construction time

	// Len is the element count for vectors/composites, or -1 for an atom.
	Len int64

	// Vector payload, valid when Kind.IsVector() and Len >= 0.
	block *heap.Block
	data  unsafe.Pointer
	h     *heap.Heap

	// Atom payload, valid when Len == -1.
	Scalar  uint64
	GUIDVal uuid.UUID

	// Composite payloads.
	List   []*Object // LIST
	Keys   *Object   // DICT
	Values *Object   // DICT
	Names  *Object   // TABLE: SYMBOL vector of column names
	Cols   []*Object // TABLE: column vectors, aligned with Names

	// Error payload.
	Err *rayerr.Err
}

func newRefs() *int32 {
	r := new(int32)
	*r = 1
	return r
}

// Vector allocates a new vector object of the given kind and length,
// backed by h (spec §4.2 "vector(type, len)").
func Vector(h *heap.Heap, kind Kind, length int64, sync bool) (*Object, error) {
	size := elemSize(kind)
	if size == 0 {
		return nil, rayerr.Type("vector kind", kind.String(), 0, "kind")
	}
	o := &Object{Kind: kind, Len: length, h: h, refs: newRefs(), sync: sync}
	if length == 0 {
		return o, nil
	}
	b, err := h.Alloc(int64(size) * length)
	if err != nil {
		return nil, rayerr.OSErr(err)
	}
	o.block = b
	o.data = b.Ptr()
	return o, nil
}

// List allocates an empty LIST object with capacity hint cap (spec §4.2
// "list(len)").
func List(capHint int64) *Object {
	return &Object{Kind: KindList, Len: 0, List: make([]*Object, 0, capHint), refs: newRefs()}
}

// Dict builds a DICT from an aligned keys/values pair (spec §3 "dict
// invariant: len(keys) == len(values)").
func Dict(keys, values *Object) (*Object, error) {
	if keys.Len != values.Len {
		return nil, rayerr.Length(keys.Len, values.Len, "keys", "values")
	}
	return &Object{Kind: KindDict, Len: keys.Len, Keys: keys, Values: values, refs: newRefs()}, nil
}

// Table builds a TABLE from a SYMBOL vector of column names and aligned
// column vectors, all of equal length (spec §3 "table invariant").
func Table(names *Object, cols []*Object) (*Object, error) {
	if names.Kind != KindSymbol {
		return nil, rayerr.Type("SYMBOL", names.Kind.String(), 0, "names")
	}
	if names.Len != int64(len(cols)) {
		return nil, rayerr.Length(names.Len, int64(len(cols)), "names", "cols")
	}
	var rows int64 = -1
	for i, c := range cols {
		if rows == -1 {
			rows = c.Len
		} else if c.Len != rows {
			return nil, rayerr.Length(rows, c.Len, "col0", colName(names, i))
		}
	}
	if rows == -1 {
		rows = 0
	}
	return &Object{Kind: KindTable, Len: rows, Names: names, Cols: cols, refs: newRefs()}, nil
}

func colName(names *Object, i int) string {
	if names == nil || int64(i) >= names.Len {
		return ""
	}
	return "col"
}

// Clone increments the reference count and returns the same object,
// shared between owners (spec §4.2 "clone(obj) (increment rc)").
func Clone(o *Object) *Object {
	if o == nil {
		return nil
	}
	if o.refs == nil {
		return o
	}
	if o.sync {
		atomicAdd32(o.refs, 1)
	} else {
		*o.refs++
	}
	return o
}

// Drop decrements the reference count; at zero it recursively drops
// children then returns the vector's storage to its heap (spec §4.2
// "drop(obj) ... on zero, recursively drop children then return storage").
func Drop(o *Object) {
	if o == nil || o.refs == nil {
		return
	}
	var zero bool
	if o.sync {
		zero = atomicAdd32(o.refs, -1) == 0
	} else {
		*o.refs--
		zero = *o.refs == 0
	}
	if !zero {
		return
	}

	switch o.Kind {
	case KindList:
		for _, c := range o.List {
			Drop(c)
		}
	case KindDict:
		Drop(o.Keys)
		Drop(o.Values)
	case KindTable, KindParted, KindPartedMap, KindMapCommon:
		Drop(o.Names)
		for _, c := range o.Cols {
			Drop(c)
		}
	}

	if o.block != nil && o.h != nil {
		o.h.Free(o.block)
		o.block = nil
		o.data = nil
	}
}

// COW returns an exclusively-owned copy of o suitable for in-place
// mutation: if o is shared (refcount > 1) its header and payload are
// deep-copied and the original reference is dropped; if o is already
// unique it is returned unchanged (spec §4.2 "cow(obj)").
func COW(o *Object, h *heap.Heap) (*Object, error) {
	if o == nil || o.refs == nil {
		return o, nil
	}
	shared := *o.refs > 1
	if o.sync {
		shared = atomicLoad32(o.refs) > 1
	}
	if !shared {
		o.Attrs = 0
		return o, nil
	}

	clone, err := deepCopy(o, h)
	if err != nil {
		return nil, err
	}
	Drop(o)
	return clone, nil
}

func deepCopy(o *Object, h *heap.Heap) (*Object, error) {
	switch {
	case o.Kind.IsVector():
		n, err := Vector(h, o.Kind, o.Len, o.sync)
		if err != nil {
			return nil, err
		}
		n.Attrs = 0
		if o.Len > 0 {
			copy(unsafe.Slice((*byte)(n.data), int(o.Len)*elemSize(o.Kind)),
				unsafe.Slice((*byte)(o.data), int(o.Len)*elemSize(o.Kind)))
		}
		return n, nil
	case o.Kind == KindList:
		n := List(o.Len)
		for _, c := range o.List {
			n.List = append(n.List, Clone(c))
		}
		n.Len = int64(len(n.List))
		return n, nil
	case o.Kind == KindDict:
		return Dict(Clone(o.Keys), Clone(o.Values))
	case o.Kind == KindTable, o.Kind == KindParted, o.Kind == KindPartedMap, o.Kind == KindMapCommon:
		cols := make([]*Object, len(o.Cols))
		for i, c := range o.Cols {
			cols[i] = Clone(c)
		}
		return Table(Clone(o.Names), cols)
	default:
		return nil, rayerr.Nyi(int(o.Kind))
	}
}

// AtIdx extracts the i-th element of a vector as an atom object (Len ==
// -1), per spec §4.2 "AT_IDX(obj, i) dispatches on type". For a LIST it
// returns the stored element itself, with its reference count incremented.
func AtIdx(o *Object, i int64) (*Object, error) {
	if i < 0 || i >= o.Len {
		return nil, rayerr.Index(i, o.Len, 0, "")
	}
	if o.Kind == KindList {
		return Clone(o.List[i]), nil
	}
	if !o.Kind.IsVector() {
		return nil, rayerr.Nyi(int(o.Kind))
	}
	if o.Kind == KindGUID {
		g := *(*uuid.UUID)(unsafe.Pointer(uintptr(o.data) + uintptr(i)*16))
		return &Object{Kind: KindGUID, Len: -1, GUIDVal: g}, nil
	}
	size := elemSize(o.Kind)
	var bits uint64
	p := unsafe.Pointer(uintptr(o.data) + uintptr(i)*uintptr(size))
	switch size {
	case 1:
		bits = uint64(*(*uint8)(p))
	case 2:
		bits = uint64(*(*uint16)(p))
	case 4:
		bits = uint64(*(*uint32)(p))
	case 8:
		bits = *(*uint64)(p)
	}
	return &Object{Kind: o.Kind, Len: -1, Scalar: bits}, nil
}

// InsObj writes atom into the i-th slot of a vector (spec §4.2 "INS_OBJ(&vec,
// i, atom)"). The caller is responsible for having COW'd vec first.
func InsObj(vec *Object, i int64, atom *Object) error {
	if i < 0 || i >= vec.Len {
		return rayerr.Index(i, vec.Len, 0, "")
	}
	if atom.Kind != vec.Kind {
		return rayerr.Type(vec.Kind.String(), atom.Kind.String(), 1, "")
	}
	vec.Attrs = 0
	if vec.Kind == KindGUID {
		*(*uuid.UUID)(unsafe.Pointer(uintptr(vec.data) + uintptr(i)*16)) = atom.GUIDVal
		return nil
	}
	size := elemSize(vec.Kind)
	p := unsafe.Pointer(uintptr(vec.data) + uintptr(i)*uintptr(size))
	switch size {
	case 1:
		*(*uint8)(p) = uint8(atom.Scalar)
	case 2:
		*(*uint16)(p) = uint16(atom.Scalar)
	case 4:
		*(*uint32)(p) = uint32(atom.Scalar)
	case 8:
		*(*uint64)(p) = atom.Scalar
	}
	return nil
}

// I64 returns the I64/TIMESTAMP/SYMBOL element view of a vector.
func (o *Object) I64() []int64 {
	if o.Len == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(o.data), int(o.Len))
}

// F64 returns the F64 element view of a vector.
func (o *Object) F64() []float64 {
	if o.Len == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(o.data), int(o.Len))
}

// I32 returns the I32/DATE/TIME element view of a vector.
func (o *Object) I32() []int32 {
	if o.Len == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(o.data), int(o.Len))
}

// I16 returns the I16 element view of a vector.
func (o *Object) I16() []int16 {
	if o.Len == 0 {
		return nil
	}
	return unsafe.Slice((*int16)(o.data), int(o.Len))
}

// U8 returns the BYTE/BOOL/CHAR element view of a vector.
func (o *Object) U8() []uint8 {
	if o.Len == 0 {
		return nil
	}
	return unsafe.Slice((*uint8)(o.data), int(o.Len))
}

// GUIDs returns the GUID element view of a vector.
func (o *Object) GUIDs() []uuid.UUID {
	if o.Len == 0 {
		return nil
	}
	return unsafe.Slice((*uuid.UUID)(o.data), int(o.Len))
}

// IsAtom reports whether o is a scalar (Len == -1) rather than a vector.
func (o *Object) IsAtom() bool { return o.Len == -1 }

// RefCount returns the current reference count, for diagnostics and tests.
func (o *Object) RefCount() int32 {
	if o.refs == nil {
		return 0
	}
	if o.sync {
		return atomicLoad32(o.refs)
	}
	return *o.refs
}
