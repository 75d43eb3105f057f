package query

import (
	"context"
	"testing"

	"github.com/RayforceDB/rayforce/internal/aggregate"
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
)

// Symbol ids used by these tests. The reserved-key ids are arbitrary
// negative values so they never collide with a real column-name id.
const (
	symFrom  int64 = -1
	symTake  int64 = -2
	symWhere int64 = -3
	symBy    int64 = -4

	colID  int64 = 1
	colQty int64 = 2
)

func testReserved() ReservedKeys {
	return ReservedKeys{From: symFrom, Take: symTake, Where: symWhere, By: symBy}
}

func vecI64(t *testing.T, h *heap.Heap, vals []int64) *object.Object {
	t.Helper()
	v, err := object.Vector(h, object.KindI64, int64(len(vals)), false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.I64(), vals)
	return v
}

func vecBool(t *testing.T, h *heap.Heap, vals []uint8) *object.Object {
	t.Helper()
	v, err := object.Vector(h, object.KindBool, int64(len(vals)), false)
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	copy(v.U8(), vals)
	return v
}

func newTestTable(t *testing.T, h *heap.Heap, ids, qty []int64) *object.Object {
	t.Helper()
	names, err := object.Vector(h, object.KindSymbol, 2, false)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	copy(names.I64(), []int64{colID, colQty})
	tbl, err := object.Table(names, []*object.Object{vecI64(t, h, ids), vecI64(t, h, qty)})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return tbl
}

// literalExpr wraps a concrete already-evaluated *object.Object as an Expr,
// standing in for the (out-of-scope) Lisp evaluator's job of producing one.
type literalExpr struct{ val *object.Object }

// colRef is an Expr that both resolves to a table column via Context.Lookup
// and, by implementing SymbolRef, can be recognized as a direct column
// reference by find_symbol_column.
type colRef struct{ sym int64 }

func (c colRef) ColumnSymbol() (int64, bool) { return c.sym, true }

// aggRef wraps a column reference with an aggregate function, standing in
// for the evaluator rebinding a MAP-GROUP column to e.g. sum(qty).
type aggRef struct {
	sym int64
	fn  aggregate.Func
}

// testEvaluator dispatches literalExpr/colRef/aggRef without needing any
// real parser, since expression evaluation is an external concern this
// package only consumes through the Evaluator interface.
type testEvaluator struct{}

func (testEvaluator) Eval(expr Expr, ctx *Context) (*object.Object, error) {
	switch e := expr.(type) {
	case literalExpr:
		return e.val, nil
	case colRef:
		val, _ := ctx.Lookup(e.sym)
		return val, nil
	case aggRef:
		val, _ := ctx.Lookup(e.sym)
		if val.Kind == object.KindMapGroup {
			return &object.Object{Kind: object.KindMapGroup, Len: 2, List: val.List, Scalar: uint64(e.fn)}, nil
		}
		return val, nil
	}
	return nil, nil
}

func TestSelectNoFilterNoGroupClonesTable(t *testing.T) {
	h := heap.New(1, t.TempDir())
	tbl := newTestTable(t, h, []int64{1, 2, 3}, []int64{10, 20, 30})

	spec := Spec{
		Reserved: testReserved(),
		Fields:   []Field{{Name: symFrom, Expr: literalExpr{tbl}}},
	}
	res, err := Select(context.Background(), h, testEvaluator{}, nil, spec)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Kind != object.KindTable || len(res.Cols) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Cols[0].I64()[1] != 2 || res.Cols[1].I64()[1] != 20 {
		t.Fatalf("unexpected values: %v %v", res.Cols[0].I64(), res.Cols[1].I64())
	}
}

func TestSelectWhereFiltersRows(t *testing.T) {
	h := heap.New(1, t.TempDir())
	tbl := newTestTable(t, h, []int64{1, 2, 3, 4}, []int64{10, 20, 30, 40})
	pred := vecBool(t, h, []uint8{0, 1, 0, 1})

	spec := Spec{
		Reserved: testReserved(),
		Fields: []Field{
			{Name: symFrom, Expr: literalExpr{tbl}},
			{Name: symWhere, Expr: literalExpr{pred}},
		},
	}
	res, err := Select(context.Background(), h, testEvaluator{}, nil, spec)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Len != 2 {
		t.Fatalf("expected 2 rows, got %d", res.Len)
	}
	want := []int64{2, 4}
	for i, w := range want {
		if res.Cols[0].I64()[i] != w {
			t.Fatalf("row %d: got %d want %d", i, res.Cols[0].I64()[i], w)
		}
	}
}

func TestSelectExplicitProjectionField(t *testing.T) {
	h := heap.New(1, t.TempDir())
	tbl := newTestTable(t, h, []int64{1, 2, 3}, []int64{10, 20, 30})

	const outName int64 = 100
	spec := Spec{
		Reserved: testReserved(),
		Fields: []Field{
			{Name: symFrom, Expr: literalExpr{tbl}},
			{Name: outName, Expr: colRef{colQty}},
		},
	}
	res, err := Select(context.Background(), h, testEvaluator{}, nil, spec)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Cols) != 1 || res.Names.I64()[0] != outName {
		t.Fatalf("expected single projected column named %d, got %+v", outName, res.Names.I64())
	}
	if res.Cols[0].I64()[2] != 30 {
		t.Fatalf("unexpected values: %v", res.Cols[0].I64())
	}
}

func TestSelectGroupByWithExplicitSumField(t *testing.T) {
	h := heap.New(1, t.TempDir())
	// two groups: id 1 -> qty {10, 30}, id 2 -> qty {20}
	tbl := newTestTable(t, h, []int64{1, 2, 1}, []int64{10, 20, 30})

	const outName int64 = 200
	spec := Spec{
		Reserved: testReserved(),
		Fields: []Field{
			{Name: symFrom, Expr: literalExpr{tbl}},
			{Name: symBy, Expr: colRef{colID}},
			{Name: outName, Expr: aggRef{sym: colQty, fn: aggregate.FuncSum}},
		},
	}
	res, err := Select(context.Background(), h, testEvaluator{}, nil, spec)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Cols) != 2 {
		t.Fatalf("expected group-key column + 1 aggregate column, got %d", len(res.Cols))
	}
	if res.Names.I64()[0] != colID {
		t.Fatalf("expected group-key output name to be the real column id %d, got %d", colID, res.Names.I64()[0])
	}
	if res.Names.I64()[1] != outName {
		t.Fatalf("expected aggregate column named %d, got %d", outName, res.Names.I64()[1])
	}

	keys := res.Cols[0].I64()
	sums := res.Cols[1].I64()
	got := map[int64]int64{}
	for i := range keys {
		got[keys[i]] = sums[i]
	}
	if got[1] != 40 || got[2] != 20 {
		t.Fatalf("unexpected group sums: %v", got)
	}
}

func TestSelectGroupByNoExplicitFieldsDefaultsToFirst(t *testing.T) {
	h := heap.New(1, t.TempDir())
	tbl := newTestTable(t, h, []int64{1, 2, 1}, []int64{10, 20, 30})

	spec := Spec{
		Reserved: testReserved(),
		Fields: []Field{
			{Name: symFrom, Expr: literalExpr{tbl}},
			{Name: symBy, Expr: colRef{colID}},
		},
	}
	res, err := Select(context.Background(), h, testEvaluator{}, nil, spec)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// group key column (named after colID) + default first-per-group qty column.
	if len(res.Cols) != 2 || res.Names.I64()[0] != colID || res.Names.I64()[1] != colQty {
		t.Fatalf("unexpected shape: names=%v cols=%d", res.Names.I64(), len(res.Cols))
	}

	keys := res.Cols[0].I64()
	firsts := res.Cols[1].I64()
	got := map[int64]int64{}
	for i := range keys {
		got[keys[i]] = firsts[i]
	}
	if got[1] != 10 || got[2] != 20 {
		t.Fatalf("unexpected first-per-group values: %v", got)
	}
}

func TestSelectGroupBySyntheticByName(t *testing.T) {
	h := heap.New(1, t.TempDir())
	tbl := newTestTable(t, h, []int64{1, 1, 2}, []int64{10, 20, 30})

	// by's value isn't a direct column reference (a literal vector, not a
	// colRef), so the group-key output name must fall back to the
	// synthetic "By" sentinel rather than any real column id.
	byVals := vecI64(t, h, []int64{0, 0, 1})
	spec := Spec{
		Reserved: testReserved(),
		Fields: []Field{
			{Name: symFrom, Expr: literalExpr{tbl}},
			{Name: symBy, Expr: literalExpr{byVals}},
		},
	}
	res, err := Select(context.Background(), h, testEvaluator{}, nil, spec)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Names.I64()[0] != SyntheticByName {
		t.Fatalf("expected synthetic by-name sentinel, got %d", res.Names.I64()[0])
	}
}

func TestMissingFromIsError(t *testing.T) {
	h := heap.New(1, t.TempDir())
	spec := Spec{Reserved: testReserved()}
	if _, err := Select(context.Background(), h, testEvaluator{}, nil, spec); err == nil {
		t.Fatalf("expected error for missing 'from'")
	}
}
