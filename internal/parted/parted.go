// Package parted implements the partitioned table layout and the two
// partition-aware specializations of query evaluation described in spec
// §4.9: a short-circuiting `where` that can skip or fully accept a whole
// partition without touching its row data, and a fused `collect` that
// avoids materializing a full per-row index before razing.
//
// Grounded on spec §4.9's physical-layout description plus
// original_source/core/filter.c's TYPE_PARTEDI64/TYPE_MAPCOMMON branches in
// filter_collect, which internal/filter already ports; this package is the
// thin partitioned-table layer sitting on top of internal/filter rather
// than a parallel reimplementation of its gather/raze logic.
package parted

import (
	"github.com/RayforceDB/rayforce/internal/filter"
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
)

// Table is a parted (partitioned) table: names a column, that column is
// itself a list whose i-th entry is the i-th partition's vector (spec §4.9
// "a parted table is a list of columns; each column is itself a list").
type Table struct {
	Names *object.Object   // symbol vector, one entry per column
	Cols  []*object.Object // each Kind == object.KindParted, .List is per-partition vectors

	// PartitionKey is the MAP-COMMON virtual column: Kind == KindMapCommon,
	// List == [values, counts] where values[i] is partition i's key value
	// and counts[i] is its row count (spec §4.9 "Virtual column").
	PartitionKey *object.Object
}

// NumPartitions returns the partition count, read off the partition key's
// values vector.
func (t *Table) NumPartitions() int64 {
	if t.PartitionKey == nil {
		return 0
	}
	return t.PartitionKey.List[0].Len
}

// takeAll builds the "-1" sentinel meaning "take every row of this
// partition" (spec §4.8's PARTED-I64 sub-index convention, reused here).
func takeAll() *object.Object {
	return &object.Object{Kind: object.KindI64, Len: -1, Scalar: uint64(^uint64(0))}
}

// FullIndex builds a PARTED index that takes every row of every partition,
// the identity index used to materialize a parted column/table in full.
func FullIndex(numPartitions int64) *object.Object {
	list := make([]*object.Object, numPartitions)
	for i := range list {
		list[i] = takeAll()
	}
	return &object.Object{Kind: object.KindParted, Len: numPartitions, List: list}
}

// PartitionEval is supplied by the query layer: for partition i, it either
// returns a per-row boolean predicate vector to filter normally, signals
// skip=true when the predicate is statically false for the whole partition
// (e.g. it depends only on the partition key, which didn't match), or
// returns predVec=nil, skip=false to mean the predicate is statically true
// for the whole partition (take every row without evaluating one).
type PartitionEval func(partitionIdx int64) (predVec *object.Object, skip bool, err error)

// Where builds a PARTED index by evaluating eval once per partition,
// short-circuiting partitions whose predicate doesn't depend on per-row
// data (spec §4.9 "where may short-circuit by partition when the predicate
// doesn't depend on per-row data").
func Where(h *heap.Heap, numPartitions int64, eval PartitionEval) (*object.Object, error) {
	list := make([]*object.Object, numPartitions)
	for i := int64(0); i < numPartitions; i++ {
		predVec, skip, err := eval(i)
		if err != nil {
			return nil, err
		}
		switch {
		case skip:
			list[i] = nil
		case predVec == nil:
			list[i] = takeAll()
		default:
			sub, err := filter.Where(h, predVec)
			if err != nil {
				return nil, err
			}
			list[i] = sub
		}
	}
	return &object.Object{Kind: object.KindParted, Len: numPartitions, List: list}, nil
}

// Collect materializes val (a parted column or the MAP-COMMON partition
// key) against a PARTED index, fusing the per-partition at_ids with a
// razing step (spec §4.9 "collect fuses the per-partition at_ids with a
// razing step"). This delegates entirely to internal/filter.Collect, which
// already implements both the plain-parted and MAP-COMMON branches.
func Collect(h *heap.Heap, val, index *object.Object) (*object.Object, error) {
	return filter.Collect(h, val, index)
}

// ExpandPartitionKey materializes the MAP-COMMON partition key column in
// full, one row per original table row, by collecting it against the
// take-everything FullIndex.
func ExpandPartitionKey(h *heap.Heap, t *Table) (*object.Object, error) {
	return Collect(h, t.PartitionKey, FullIndex(t.NumPartitions()))
}

// CollectTable materializes every column of t against index, producing a
// flat (non-partitioned) table — the parted analogue of filter.Map+Collect
// applied to a whole table at once.
func CollectTable(h *heap.Heap, t *Table, index *object.Object) (*object.Object, error) {
	cols := make([]*object.Object, len(t.Cols))
	for i, c := range t.Cols {
		materialized, err := Collect(h, c, index)
		if err != nil {
			return nil, err
		}
		cols[i] = materialized
	}
	return object.Table(object.Clone(t.Names), cols)
}
