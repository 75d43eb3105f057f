// Package query implements the select driver described in spec §4.10: a
// dictionary of {from, take, where, by} plus user projection fields is
// evaluated in five phases (fetch, filter, group, project, assemble) against
// a table already resolved by the caller.
//
// Grounded on original_source/core/query.c's ray_select, get_fields,
// remap_filter, remap_group, and find_symbol_column. The Lisp reader,
// bytecode compiler, and tree-walking evaluator that produce and interpret
// expression values are explicitly out of scope (spec §1: "treated as
// external collaborators, spec only their interfaces"), so this package
// never inspects or evaluates an expression itself — every Expr is opaque
// and handed to the caller-supplied Evaluator. Symbol interning (the
// string<->int64 column-name mapping) is likewise external; this package
// identifies columns purely by the int64 symbol id already used throughout
// internal/object, and the four reserved keys are passed in by the caller
// as a ReservedKeys value rather than hardcoded, since this package has no
// way to intern "from"/"take"/"where"/"by" itself.
package query

import (
	"context"

	"github.com/RayforceDB/rayforce/internal/aggregate"
	"github.com/RayforceDB/rayforce/internal/filter"
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/rayerr"
	"github.com/RayforceDB/rayforce/internal/telemetry"
)

// Expr is an opaque expression value produced by, and only ever passed back
// into, the caller-supplied Evaluator. This package never looks inside one.
type Expr any

// SymbolRef is an optional interface an Expr value may implement to let
// find_symbol_column's equivalent recognize a bare column reference without
// this package needing its own expression representation. An Expr that
// doesn't implement it is simply never treated as a direct column reference,
// matching find_symbol_column's NULL_OBJ return for any non-symbol shape.
type SymbolRef interface {
	ColumnSymbol() (int64, bool)
}

// Evaluator evaluates an Expr against a Context, the single seam through
// which this package reaches the (out-of-scope) Lisp front end.
type Evaluator interface {
	Eval(expr Expr, ctx *Context) (*object.Object, error)
}

// Field is one dict entry of a select input: either one of the four
// reserved pipeline keys or a user-chosen projection name.
type Field struct {
	Name int64
	Expr Expr
}

// ReservedKeys names the four closed-set pipeline keys (spec §4.10 "a
// dictionary with symbol keys drawn from the closed set {from, take, where,
// by}"). The concrete int64 ids are interned by the caller; this package
// only needs to recognize them.
type ReservedKeys struct {
	From, Take, Where, By int64
}

func (rk ReservedKeys) isReserved(name int64) bool {
	return name == rk.From || name == rk.Take || name == rk.Where || name == rk.By
}

// SyntheticByName is the group-key output name used when `by`'s expression
// isn't a direct reference to one of the table's own columns (query.c's
// find_symbol_column returning NULL_OBJ, at which point ray_select falls
// back to a freshly interned "By" symbol). Since symbol interning is out
// of this package's scope, -1 stands in as the sentinel the caller must
// render back to the literal name "By".
const SyntheticByName int64 = -1

// Spec is one select's full input: the reserved keys plus every projection
// field, in original dict order.
type Spec struct {
	Fields   []Field
	Reserved ReservedKeys
}

func findField(fields []Field, name int64) (Expr, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Expr, true
		}
	}
	return nil, false
}

// ProjectionFields returns the dict keys outside the reserved set, in
// original order (query.c's get_fields, which excludes {take, by, from,
// where} via ray_except).
func ProjectionFields(fields []Field, rk ReservedKeys) []Field {
	var out []Field
	for _, f := range fields {
		if !rk.isReserved(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// Context is one query-evaluation frame: the table currently in scope (its
// columns may already be MAP-FILTER- or MAP-GROUP-wrapped by an earlier
// phase of this same select) plus a parent link so a nested select's
// Evaluator can resolve names from an enclosing scope (spec §4.10 "columns
// resolve via the context; nested selects chain contexts through a parent
// link").
type Context struct {
	Parent *Context
	Table  *object.Object

	GroupKeyName int64
	GroupKeyCols []*object.Object
}

// Lookup resolves a column by symbol id against this frame, then its parent
// chain, returning the column as currently wrapped (raw, MAP-FILTER, or
// MAP-GROUP depending on which phase of Select produced ctx.Table).
func (c *Context) Lookup(name int64) (*object.Object, bool) {
	for ctx := c; ctx != nil; ctx = ctx.Parent {
		if ctx.Table == nil {
			continue
		}
		for i, n := range ctx.Table.Names.I64() {
			if n == name {
				return ctx.Table.Cols[i], true
			}
		}
	}
	return nil, false
}

// findSymbolColumn reports whether expr is a bare reference to one of
// names' columns (query.c's find_symbol_column), without this package
// interpreting expr itself: it only asks whether expr optionally implements
// SymbolRef.
func findSymbolColumn(names []int64, expr Expr) (int64, bool) {
	ref, ok := expr.(SymbolRef)
	if !ok {
		return 0, false
	}
	sym, ok := ref.ColumnSymbol()
	if !ok {
		return 0, false
	}
	for _, n := range names {
		if n == sym {
			return sym, true
		}
	}
	return 0, false
}

// materialize resolves a lazily-wrapped value into a concrete vector:
// MAP-FILTER gathers via internal/filter.Collect, MAP-GROUP reduces via
// internal/aggregate against ctx's group keys, anything else passes through
// unchanged (query.c's per-field dispatch on TYPE_FILTERMAP/TYPE_GROUPMAP/
// TYPE_ENUM).
func materialize(h *heap.Heap, val *object.Object, ctx *Context) (*object.Object, error) {
	switch val.Kind {
	case object.KindMapFilter:
		return filter.Collect(h, val.List[0], val.List[1])
	case object.KindMapGroup:
		return aggrCollect(h, val, ctx)
	default:
		return val, nil
	}
}

// aggrCollect reduces a MAP-GROUP value (query.c's group_collect): the
// wrapped column, grouped by ctx's group-key columns, reduced with the
// aggregate function baked into the wrapper at construction time.
func aggrCollect(h *heap.Heap, val *object.Object, ctx *Context) (*object.Object, error) {
	valCol, err := materialize(h, val.List[0], ctx)
	if err != nil {
		return nil, err
	}
	fn := aggregate.Func(val.Scalar)
	res, err := aggregate.Run(h, nil, aggregate.Spec{
		KeyCols:  ctx.GroupKeyCols,
		ValueCol: valCol,
		Fn:       fn,
	})
	if err != nil {
		return nil, err
	}
	return res.Values, nil
}

// remapGroup wraps every column of tab as a MAP-GROUP with the default
// aggregate function FuncFirst (query.c's remap_group mounting the table so
// a bare column reference in a later phase behaves as "first value per
// group" unless the evaluator rebinds it to a different aggregate).
func remapGroup(tab *object.Object) (*object.Object, error) {
	cols := make([]*object.Object, len(tab.Cols))
	for i, c := range tab.Cols {
		cols[i] = &object.Object{
			Kind: object.KindMapGroup,
			Len:  2,
			List: []*object.Object{c, nil},
			// Scalar carries the aggregate.Func tag; nil List[1] is unused
			// (MAP-FILTER's second slot is an index vector, MAP-GROUP has
			// none since group membership is recomputed from ctx's group
			// keys at collect time).
			Scalar: uint64(aggregate.FuncFirst),
		}
	}
	return object.Table(object.Clone(tab.Names), cols)
}

// defaultProjection implements ray_select's two "no explicit projection
// fields" branches: with a group-by active, every original column other
// than the group key itself, each defaulting to first-per-group; without
// one, every column of the current (possibly MAP-FILTER-wrapped) table.
func defaultProjection(h *heap.Heap, ctx *Context, original *object.Object) ([]int64, []*object.Object, error) {
	var names []int64
	var cols []*object.Object

	if ctx.GroupKeyCols != nil {
		for _, n := range original.Names.I64() {
			if n == ctx.GroupKeyName {
				continue
			}
			val, ok := ctx.Lookup(n)
			if !ok {
				continue
			}
			m, err := materialize(h, val, ctx)
			if err != nil {
				return nil, nil, err
			}
			names = append(names, n)
			cols = append(cols, m)
		}
		return names, cols, nil
	}

	for i, n := range ctx.Table.Names.I64() {
		m, err := materialize(h, ctx.Table.Cols[i], ctx)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, n)
		cols = append(cols, m)
	}
	return names, cols, nil
}

// Select runs one select's full pipeline against parent (nil for a
// top-level, non-nested select), per query.c's ray_select. Each of the
// five phases opens its own telemetry span (spec §4.10) so a trace backend
// can break down per-stage latency.
func Select(ctx context.Context, h *heap.Heap, ev Evaluator, parent *Context, spec Spec) (*object.Object, error) {
	var tab *object.Object
	if err := func() error {
		_, span := telemetry.StartStage(ctx, "fetch")
		defer span.End()

		fromExpr, ok := findField(spec.Fields, spec.Reserved.From)
		if !ok {
			return rayerr.User("select: missing required 'from' key")
		}
		t, err := ev.Eval(fromExpr, parent)
		if err != nil {
			return err
		}
		if t.Kind != object.KindTable {
			return rayerr.Type("TABLE", t.Kind.String(), 0, "from")
		}
		tab = t
		return nil
	}(); err != nil {
		return nil, err
	}

	qctx := &Context{Parent: parent, Table: tab}

	// Filter phase: where -> ray_where -> remap_filter.
	if err := func() error {
		_, span := telemetry.StartStage(ctx, "filter")
		defer span.End()

		whereExpr, ok := findField(spec.Fields, spec.Reserved.Where)
		if !ok {
			return nil
		}
		pred, err := ev.Eval(whereExpr, qctx)
		if err != nil {
			return err
		}
		idx, err := filter.Where(h, pred)
		if err != nil {
			return err
		}
		mapped, err := filter.Map(tab, idx)
		if err != nil {
			return err
		}
		qctx.Table = mapped
		return nil
	}(); err != nil {
		return nil, err
	}

	// Group phase: by -> find_symbol_column -> remap_group.
	if err := func() error {
		_, span := telemetry.StartStage(ctx, "group")
		defer span.End()

		byExpr, ok := findField(spec.Fields, spec.Reserved.By)
		if !ok {
			return nil
		}
		groupVal, err := ev.Eval(byExpr, qctx)
		if err != nil {
			return err
		}
		groupKeyCol, err := materialize(h, groupVal, qctx)
		if err != nil {
			return err
		}
		qctx.GroupKeyCols = []*object.Object{groupKeyCol}

		if sym, found := findSymbolColumn(tab.Names.I64(), byExpr); found {
			qctx.GroupKeyName = sym
		} else {
			qctx.GroupKeyName = SyntheticByName
		}

		remapped, err := remapGroup(qctx.Table)
		if err != nil {
			return err
		}
		qctx.Table = remapped
		return nil
	}(); err != nil {
		return nil, err
	}

	// Project phase.
	var names []int64
	var cols []*object.Object
	if err := func() error {
		_, span := telemetry.StartStage(ctx, "project")
		defer span.End()

		fields := ProjectionFields(spec.Fields, spec.Reserved)

		if qctx.GroupKeyCols != nil {
			// One key per group, in the same group order the aggregate.Run
			// calls behind aggrCollect produce for the value columns.
			keyRes, err := aggregate.Run(h, nil, aggregate.Spec{KeyCols: qctx.GroupKeyCols, Fn: aggregate.FuncCount})
			if err != nil {
				return err
			}
			names = append(names, qctx.GroupKeyName)
			cols = append(cols, keyRes.Keys[0])
		}

		if len(fields) > 0 {
			for _, f := range fields {
				val, err := ev.Eval(f.Expr, qctx)
				if err != nil {
					return err
				}
				m, err := materialize(h, val, qctx)
				if err != nil {
					return err
				}
				names = append(names, f.Name)
				cols = append(cols, m)
			}
			return nil
		}

		defNames, defCols, err := defaultProjection(h, qctx, tab)
		if err != nil {
			return err
		}
		names = append(names, defNames...)
		cols = append(cols, defCols...)
		return nil
	}(); err != nil {
		return nil, err
	}

	// Assemble: a group-by-key column was already prepended above (query.c
	// "ray_concat(bysym, keys)" / "ray_concat(bycol, vals)").
	var result *object.Object
	if err := func() error {
		_, span := telemetry.StartStage(ctx, "assemble")
		defer span.End()

		namesVec, err := object.Vector(h, object.KindSymbol, int64(len(names)), false)
		if err != nil {
			return err
		}
		copy(namesVec.I64(), names)

		r, err := object.Table(namesVec, cols)
		if err != nil {
			return err
		}
		result = r
		return nil
	}(); err != nil {
		return nil, err
	}

	return result, nil
}
