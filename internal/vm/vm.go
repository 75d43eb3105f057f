// Package vm ties together the per-thread state spec §5 requires: "Each
// thread owns one VM = (heap, error slot, current query context, query_ctx
// chain, rc_sync flag)." There is no surviving original_source file for this
// exact struct (the C core keeps this state in thread-local globals rather
// than a named type), so VM is assembled directly from that sentence,
// wiring together internal/heap, internal/rayerr, and internal/query's
// already-parent-linked Context rather than introducing a second chain
// type for the same concept.
package vm

import (
	"github.com/RayforceDB/rayforce/internal/heap"
	"github.com/RayforceDB/rayforce/internal/object"
	"github.com/RayforceDB/rayforce/internal/query"
	"github.com/RayforceDB/rayforce/internal/rayerr"
)

// VM is one executor's thread-local state. The main thread's VM is executor
// 0 (spec §5 "The main thread's VM is executor 0").
type VM struct {
	ID int64

	Heap    *heap.Heap
	ErrSlot *rayerr.Err
	Ctx     *query.Context

	// RCSync mirrors spec §5's rc_sync flag: atomic refcounting while set,
	// plain increment/decrement otherwise. Every object.Vector call made
	// while servicing this VM should be passed the current value of this
	// flag as its sync argument.
	RCSync bool
}

// New creates executor id's VM over h, with no active error and no query
// context (a top-level VM before any select runs).
func New(id int64, h *heap.Heap) *VM {
	return &VM{ID: id, Heap: h}
}

// SetErr records e as this VM's current error, the sentinel spec §4.11/§7
// says propagates through all subsequent operators until cleared.
func (v *VM) SetErr(e *rayerr.Err) { v.ErrSlot = e }

// ClearErr drops the current error, e.g. after the caller has reported it.
func (v *VM) ClearErr() { v.ErrSlot = nil }

// HasErr reports whether an error is currently latched.
func (v *VM) HasErr() bool { return v.ErrSlot != nil }

// PushCtx starts a new query-evaluation frame over tbl, parent-linked to
// the VM's current context — a nested select (spec §4.10 "nested selects
// chain contexts through a parent link").
func (v *VM) PushCtx(tbl *object.Object) *query.Context {
	v.Ctx = &query.Context{Parent: v.Ctx, Table: tbl}
	return v.Ctx
}

// PopCtx returns to the enclosing query frame after a nested select
// completes, a no-op at the top level.
func (v *VM) PopCtx() {
	if v.Ctx != nil {
		v.Ctx = v.Ctx.Parent
	}
}

// BeginSync and EndSync bracket a pool_run invocation: spec §5 "Setting
// rc_sync is done by the caller of pool_run before broadcasting and cleared
// after join."
func (v *VM) BeginSync() { v.RCSync = true }
func (v *VM) EndSync()   { v.RCSync = false }

// Vector allocates a vector on this VM's heap with its current rc_sync
// setting, so every allocation made while servicing a pool_run picks up
// atomic refcounting automatically without every call site threading
// v.RCSync through by hand.
func (v *VM) Vector(kind object.Kind, length int64) (*object.Object, error) {
	return object.Vector(v.Heap, kind, length, v.RCSync)
}
