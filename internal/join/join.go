// Package join implements the composite-key hash-probe left-join index
// build described in spec §4.7: given k aligned left/right key columns,
// produce a per-left-row vector of matching right-row indices (or NULL),
// plus the column-selection step that stitches a joined result together
// from that index.
//
// Grounded on original_source/core/join.c's build_idx (the two-phase
// insert-R-then-lookup-L algorithm against a single hashtable.OATable) and
// select_column (null-side fallback + at_idx gather). The k==1 fast path
// build_idx delegates to (ray_find) is not ported: ray_find is a generic
// vector membership primitive that belongs to the expression evaluator,
// which this port's query layer does not implement standalone (see
// DESIGN.md) — the composite-key path below handles k==1 correctly, just
// without that op-level shortcut.
package join

import (
	"math"

	"github.com/RayforceDB/rayforce/internal/hashtable"
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/rayerr"
)

// phase distinguishes the two probe contexts sharing one OATable: rows
// inserted from rcols during the build phase, then rows looked up from
// lcols during the probe phase, per build_idx's "Right hashes" / "Left
// hashes" sections.
type phase int

const (
	phaseInsert phase = iota
	phaseProbe
)

type joinCtx struct {
	lcols, rcols []*object.Object
	phase        phase
}

func scalarBits(c *object.Object, row int64) uint64 {
	switch c.Kind {
	case object.KindI64, object.KindTimestamp, object.KindSymbol:
		return uint64(c.I64()[row])
	case object.KindF64:
		return math.Float64bits(c.F64()[row])
	case object.KindI32, object.KindDate, object.KindTime:
		return uint64(uint32(c.I32()[row]))
	case object.KindI16:
		return uint64(uint16(c.I16()[row]))
	default:
		return uint64(c.U8()[row])
	}
}

// rowFingerprint hashes row across cols using the join seed, matching
// precalc_hash's column-by-column fold.
func rowFingerprint(cols []*object.Object, row int64) uint64 {
	h := hashtable.SeedInit()
	for _, c := range cols {
		if c.Kind == object.KindGUID {
			g := c.GUIDs()[row]
			lo := uint64(g[0]) | uint64(g[1])<<8 | uint64(g[2])<<16 | uint64(g[3])<<24 |
				uint64(g[4])<<32 | uint64(g[5])<<40 | uint64(g[6])<<48 | uint64(g[7])<<56
			hi := uint64(g[8]) | uint64(g[9])<<8 | uint64(g[10])<<16 | uint64(g[11])<<24 |
				uint64(g[12])<<32 | uint64(g[13])<<40 | uint64(g[14])<<48 | uint64(g[15])<<56
			h = hashtable.Mix64(h, lo)
			h = hashtable.Mix64(h, hi)
			continue
		}
		h = hashtable.Mix64(h, scalarBits(c, row))
	}
	return h
}

func rowEqual(colsA []*object.Object, a int64, colsB []*object.Object, b int64) bool {
	for i, ca := range colsA {
		cb := colsB[i]
		if ca.Kind == object.KindGUID {
			if ca.GUIDs()[a] != cb.GUIDs()[b] {
				return false
			}
			continue
		}
		if scalarBits(ca, a) != scalarBits(cb, b) {
			return false
		}
	}
	return true
}

func joinHash(row int64, seed any) uint64 {
	ctx := seed.(*joinCtx)
	if ctx.phase == phaseProbe {
		return rowFingerprint(ctx.lcols, row)
	}
	return rowFingerprint(ctx.rcols, row)
}

func joinCmp(a, b int64, seed any) bool {
	ctx := seed.(*joinCtx)
	if ctx.phase == phaseProbe {
		// a is a stored right-table row, b is the probing left-table row.
		return rowEqual(ctx.rcols, a, ctx.lcols, b)
	}
	return rowEqual(ctx.rcols, a, ctx.rcols, b)
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// BuildIndex builds, for every left row, the index of a matching right row
// (or object.NullI64 if none), per build_idx. lcols and rcols must have the
// same length (the join key's column count) and each side's columns must
// share that side's row count.
func BuildIndex(h *heap.Heap, lcols, rcols []*object.Object) (*object.Object, error) {
	if len(lcols) == 0 || len(lcols) != len(rcols) {
		return nil, rayerr.Length(int64(len(rcols)), int64(len(lcols)), "lcols", "rcols")
	}

	ll := lcols[0].Len
	rl := rcols[0].Len

	ctx := &joinCtx{lcols: lcols, rcols: rcols, phase: phaseInsert}
	tab := hashtable.NewOATable(maxI64(ll, rl), joinHash, joinCmp, ctx)

	for i := int64(0); i < rl; i++ {
		tab.Next(i)
	}

	ctx.phase = phaseProbe
	res, err := object.Vector(h, object.KindI64, ll, false)
	if err != nil {
		return nil, err
	}
	out := res.I64()
	for i := int64(0); i < ll; i++ {
		slot := tab.Get(i)
		if slot == -1 {
			out[i] = object.NullI64
			continue
		}
		out[i] = tab.GroupAt(slot)
	}
	return res, nil
}

// SelectColumn gathers the joined output column from leftCol/rightCol given
// ids (the per-row right-row index or NULL from BuildIndex), per
// select_column: a NULL id falls back to the left table's own row (the
// unjoined case), a non-NULL id gathers from the right table.
//
// Either leftCol or rightCol may be nil, meaning "no such column on that
// side" (the union-of-columns case in a left join where a column exists in
// only one table).
func SelectColumn(h *heap.Heap, leftCol, rightCol *object.Object, ids []int64) (*object.Object, error) {
	if rightCol == nil {
		return object.Clone(leftCol), nil
	}

	kind := rightCol.Kind
	if leftCol != nil {
		kind = leftCol.Kind
	}
	if rightCol.Kind != kind {
		return nil, rayerr.Type(kind.String(), rightCol.Kind.String(), 1, "select_column")
	}

	res, err := object.Vector(h, kind, int64(len(ids)), false)
	if err != nil {
		return nil, err
	}

	for i, idx := range ids {
		var v *object.Object
		var err error
		if idx != object.NullI64 {
			v, err = object.AtIdx(rightCol, idx)
		} else {
			if leftCol == nil {
				return nil, rayerr.Domain(1, "select_column")
			}
			v, err = object.AtIdx(leftCol, int64(i))
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
