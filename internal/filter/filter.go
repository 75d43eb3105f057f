// Package filter implements where/index-gather and the lazy MAP-FILTER
// materialization pipeline described in spec §4.8: `Where` turns a boolean
// predicate vector into an index vector, `AtIds` is the index-gather
// primitive every other materialization step is built from, `Map` defers
// the actual gather into a MAP-FILTER pairing (column, index), and
// `Collect` performs the gather — including the partitioned PARTED-I64 and
// MAP-COMMON special cases from spec §4.9.
//
// Grounded on original_source/core/filter.c's filter_map/filter_collect.
// at_ids itself has no surviving body in the retrieved original_source (only
// call sites) so it is built directly from spec §4.8's one-line definition
// ("at_ids(column, indices, n) — index-gather primitive") in the same
// AtIdx/InsObj idiom object.go already uses for every other per-kind
// gather/scatter.
package filter

import (
	"math"

	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/rayerr"
)

// Where returns the I64 index vector of positions where pred is true, per
// spec §4.8 "where(bool_vector) returns a vector of the indices where the
// predicate is true".
func Where(h *heap.Heap, pred *object.Object) (*object.Object, error) {
	if pred.Kind != object.KindBool {
		return nil, rayerr.Type("BOOL", pred.Kind.String(), 0, "where")
	}
	vals := pred.U8()
	idxs := make([]int64, 0, len(vals))
	for i, v := range vals {
		if v != 0 {
			idxs = append(idxs, int64(i))
		}
	}
	res, err := object.Vector(h, object.KindI64, int64(len(idxs)), false)
	if err != nil {
		return nil, err
	}
	copy(res.I64(), idxs)
	return res, nil
}

// nullAtom builds a NULL-valued atom of kind, matching the shape AtIdx
// returns for a real element (Len == -1, Scalar holds the raw bit
// pattern) so it can be fed straight into InsObj.
func nullAtom(kind object.Kind) (*object.Object, error) {
	switch kind {
	case object.KindI64, object.KindTimestamp, object.KindSymbol:
		return &object.Object{Kind: kind, Len: -1, Scalar: uint64(object.NullI64)}, nil
	case object.KindI32, object.KindDate:
		return &object.Object{Kind: kind, Len: -1, Scalar: uint64(uint32(object.NullI32))}, nil
	case object.KindTime:
		return &object.Object{Kind: kind, Len: -1, Scalar: uint64(uint32(object.NullTime))}, nil
	case object.KindI16:
		return &object.Object{Kind: kind, Len: -1, Scalar: uint64(uint16(object.NullI16))}, nil
	case object.KindF64:
		return &object.Object{Kind: kind, Len: -1, Scalar: math.Float64bits(object.NullF64())}, nil
	default:
		return nil, rayerr.Nyi(int(kind))
	}
}

// AtIds gathers col[ids[0]], col[ids[1]], ... into a fresh vector of col's
// kind, the engine's central index-gather primitive (spec §4.8's
// at_ids(column, indices, n)). A NULL (negative) id yields a NULL element
// rather than an error, so it composes with select_column's NULL-id
// convention.
func AtIds(h *heap.Heap, col *object.Object, ids []int64) (*object.Object, error) {
	res, err := object.Vector(h, col.Kind, int64(len(ids)), false)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		var v *object.Object
		if id < 0 {
			v, err = nullAtom(col.Kind)
		} else {
			v, err = object.AtIdx(col, id)
		}
		if err != nil {
			return nil, err
		}
		if err := object.InsObj(res, int64(i), v); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Map wraps val for lazy materialization against index: for a table, it
// recurses column-by-column (so a query that never downstream-collects a
// column never pays its gather cost); for any other kind it returns a
// MAP-FILTER pairing (spec §4.8 "filter_map(table, index) returns a lazy
// MAP-FILTER object").
func Map(val, index *object.Object) (*object.Object, error) {
	if val.Kind == object.KindTable {
		cols := make([]*object.Object, len(val.Cols))
		for i, c := range val.Cols {
			mapped, err := Map(c, index)
			if err != nil {
				return nil, err
			}
			cols[i] = mapped
		}
		return object.Table(object.Clone(val.Names), cols)
	}

	return &object.Object{
		Kind: object.KindMapFilter,
		Len:  2,
		List: []*object.Object{object.Clone(val), object.Clone(index)},
	}, nil
}

// isTakeAll reports whether idx is the "-1" sentinel meaning "take every
// row of this partition" (spec §4.8 "A sub-index may be -1 (take all
// rows)").
func isTakeAll(idx *object.Object) bool {
	return idx != nil && idx.IsAtom() && idx.Kind == object.KindI64 && int64(idx.Scalar) == -1
}

// Collect materializes val against index: a plain I64 index vector gathers
// directly via AtIds; a PARTED index (one sub-index per partition, spec
// §4.9) walks partitions and razes the per-partition gathers, with a
// dedicated MAP-COMMON branch that repeats each partition's constant value
// rather than gathering from a real per-row column.
func Collect(h *heap.Heap, val, index *object.Object) (*object.Object, error) {
	if index.Kind != object.KindParted {
		return AtIds(h, val, index.I64())
	}

	if val.Kind == object.KindMapCommon {
		return collectMapCommon(h, val, index)
	}
	return collectParted(h, val, index)
}

func collectMapCommon(h *heap.Heap, val, index *object.Object) (*object.Object, error) {
	values := val.List[0]
	counts := val.List[1]

	var total int64
	for i, idx := range index.List {
		if idx == nil {
			continue
		}
		if isTakeAll(idx) {
			total += counts.I64()[i]
		} else if idx.Len > 0 {
			total += idx.Len
		}
	}

	res, err := object.Vector(h, values.Kind, total, false)
	if err != nil {
		return nil, err
	}

	var n int64
	for i, idx := range index.List {
		if idx == nil {
			continue
		}
		var count int64
		if isTakeAll(idx) {
			count = counts.I64()[i]
		} else if idx.Len > 0 {
			count = idx.Len
		} else {
			continue
		}
		atomVal, err := object.AtIdx(values, int64(i))
		if err != nil {
			return nil, err
		}
		for j := int64(0); j < count; j++ {
			if err := object.InsObj(res, n+j, atomVal); err != nil {
				return nil, err
			}
		}
		n += count
	}
	return res, nil
}

func collectParted(h *heap.Heap, val, index *object.Object) (*object.Object, error) {
	var parts []*object.Object
	for i, idx := range index.List {
		if idx == nil {
			continue
		}
		partVal := val.List[i]
		if isTakeAll(idx) {
			if partVal.Len > 0 {
				parts = append(parts, object.Clone(partVal))
			}
			continue
		}
		if idx.Len == 0 {
			continue
		}
		gathered, err := AtIds(h, partVal, idx.I64())
		if err != nil {
			return nil, err
		}
		parts = append(parts, gathered)
	}
	return raze(h, parts)
}

// raze concatenates same-kind vectors end to end (spec's "razing"
// step after per-partition materialization).
func raze(h *heap.Heap, parts []*object.Object) (*object.Object, error) {
	if len(parts) == 0 {
		return object.Vector(h, object.KindI64, 0, false)
	}
	var total int64
	for _, p := range parts {
		total += p.Len
	}
	res, err := object.Vector(h, parts[0].Kind, total, false)
	if err != nil {
		return nil, err
	}
	var n int64
	for _, p := range parts {
		for i := int64(0); i < p.Len; i++ {
			v, err := object.AtIdx(p, i)
			if err != nil {
				return nil, err
			}
			if err := object.InsObj(res, n+i, v); err != nil {
				return nil, err
			}
		}
		n += p.Len
	}
	return res, nil
}
