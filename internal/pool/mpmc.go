// Package pool implements the worker pool and its bounded MPMC task queue
// described in spec §4.5: one OS goroutine per logical executor
// (including a designated "main" executor that reuses the calling
// goroutine), CPU-topology-aware pinning, and a per-batch heap borrow/merge
// around the main heap.
//
// Grounded on original_source/core/pool.c: mpmc_create/mpmc_push/mpmc_pop
// (Dmitry Vyukov's bounded MPMC ring, ported field-for-field: buf/mask/head/
// tail, per-slot sequence numbers, CAS-then-backoff) and executor_run (the
// wait-for-signal, drain-task-queue, publish-to-result-queue loop). The
// atomic idiom (sequence numbers as atomic.Int64, CAS loops) is grounded on
// the teacher's LockFreeRingBuffer (abiolaogu-MinIO
// internal/cache/cache_engine_v3.go), generalized from a single-producer
// ring to the full MPMC scheme pool.c actually implements.
package pool

import (
	"runtime"
	"sync/atomic"
)

// Task is one queued unit of work: an id (used to place its result) and a
// thunk returning a result of an arbitrary (per-instantiation) type boxed as
// `any`, mirroring pool.c's (fn, argc, argv) record collapsed into a single
// Go closure.
type Task struct {
	ID int64
	Fn func() (any, error)
}

type cell struct {
	seq  atomic.Int64
	data any
}

// MPMC is a bounded multi-producer multi-consumer ring queue using
// Vyukov's per-slot sequence number scheme (spec §4.5 "Queue").
type MPMC struct {
	buf  []cell
	mask int64
	head atomic.Int64
	tail atomic.Int64
}

// NewMPMC allocates a queue of the next power of two at least as large as
// size.
func NewMPMC(size int64) *MPMC {
	size = nextPow2(size)
	q := &MPMC{
		buf:  make([]cell, size),
		mask: size - 1,
	}
	for i := range q.buf {
		q.buf[i].seq.Store(int64(i))
	}
	return q
}

func nextPow2(n int64) int64 {
	if n < 1 {
		n = 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Push enqueues data, spinning with exponential backoff while the queue is
// momentarily full of in-flight slots, and returning false if the queue is
// genuinely full (spec: "producers CAS the tail if seq == pos ... otherwise
// exponential backoff spin").
func (q *MPMC) Push(data any) bool {
	pos := q.tail.Load()
	rounds := 0

	for {
		c := &q.buf[pos&q.mask]
		seq := c.seq.Load()
		dif := seq - pos

		switch {
		case dif == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				c.data = data
				c.seq.Store(pos + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			backoffSpin(&rounds)
			pos = q.tail.Load()
		}
	}
}

// Pop dequeues the next available item, or returns (nil, false) if the
// queue is empty.
func (q *MPMC) Pop() (any, bool) {
	pos := q.head.Load()
	rounds := 0

	for {
		c := &q.buf[pos&q.mask]
		seq := c.seq.Load()
		dif := seq - (pos + 1)

		switch {
		case dif == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				data := c.data
				c.seq.Store(pos + q.mask + 1)
				return data, true
			}
		case dif < 0:
			return nil, false
		default:
			backoffSpin(&rounds)
			pos = q.head.Load()
		}
	}
}

// Count returns the number of items currently queued.
func (q *MPMC) Count() int64 {
	return q.tail.Load() - q.head.Load()
}

// Size returns the queue's fixed capacity.
func (q *MPMC) Size() int64 { return q.mask + 1 }

// backoffSpin yields increasingly aggressively on contention, mirroring
// pool.c's backoff_spin.
func backoffSpin(rounds *int) {
	*rounds++
	if *rounds < 8 {
		for i := 0; i < 1<<*rounds; i++ {
			// busy-wait spin
		}
		return
	}
	runtime.Gosched()
}
