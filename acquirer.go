// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"sync/atomic"

	uatomic "go.uber.org/atomic"

	"github.com/coretrace/coretrace/internal/log"
)

// SpanCollection is the message shape submitted through an Acquirer, a
// tagged union of the two things a producer can hand to a collector.
type SpanCollection struct {
	// Scope is set when this collection is a single scoped span.
	Scope *RawSpan
	// Local is set when this collection is a batch of goroutine-local
	// closed spans, per the SpanSet entity.
	Local *SpanSet
}

// mpscNode is one link of the lock-free queue. The queue always keeps a
// dummy head node, the classic Michael-Scott arrangement, so push never
// has to special-case an empty queue.
type mpscNode struct {
	next atomic.Pointer[mpscNode]
	val  SpanCollection
}

// mpscQueue is a multi-producer, single-consumer unbounded queue. Push
// is lock-free via CAS on the tail pointer; pop is only ever called by
// the one goroutine that owns the Collector, so it needs no
// synchronization beyond the visibility CAS gives it. Grounded on the
// same atomic.Pointer-based linked-list pattern used for span batching
// elsewhere in the retrieved corpus.
type mpscQueue struct {
	head atomic.Pointer[mpscNode]
	tail atomic.Pointer[mpscNode]
}

func newMPSCQueue() *mpscQueue {
	dummy := &mpscNode{}
	q := &mpscQueue{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

func (q *mpscQueue) push(v SpanCollection) {
	n := &mpscNode{val: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				return
			}
		} else {
			// Another producer linked a node but hasn't advanced tail yet;
			// help it along and retry.
			q.tail.CompareAndSwap(tail, next)
		}
	}
}

// popAll drains every element currently visible in the queue, in FIFO
// order. Single-consumer only.
func (q *mpscQueue) popAll() []SpanCollection {
	var out []SpanCollection
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return out
		}
		q.head.Store(next)
		out = append(out, next.val)
	}
}

// acquirerState is the data shared between every clone of an Acquirer
// and the Collector that owns the trace.
type acquirerState struct {
	queue      *mpscQueue
	closed     uatomic.Bool
	liveClones uatomic.Int64
	notify     chan struct{}
}

func newAcquirerState() *acquirerState {
	return &acquirerState{
		queue:  newMPSCQueue(),
		notify: make(chan struct{}, 1),
	}
}

func (s *acquirerState) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Acquirer is a cloneable handle to a trace's intake: submitting a
// SpanCollection is a no-op once the trace's collector has closed it.
type Acquirer struct {
	state *acquirerState
}

func newAcquirer(state *acquirerState) *Acquirer {
	state.liveClones.Add(1)
	return &Acquirer{state: state}
}

// Clone returns a new handle to the same intake, incrementing the live
// clone count a sync Collect waits to reach zero.
func (a *Acquirer) Clone() *Acquirer {
	return newAcquirer(a.state)
}

// Release decrements the live clone count. Every Acquirer obtained via
// newAcquirer or Clone must eventually be released exactly once; scopes
// and handles do this when they finish reporting.
func (a *Acquirer) Release() {
	if a.state.liveClones.Sub(1) == 0 {
		a.state.wake()
	}
}

// IsShutdown reports whether the collector has already closed intake.
func (a *Acquirer) IsShutdown() bool {
	return a.state.closed.Load()
}

// Submit pushes a collection onto the queue, unless the collector has
// already closed intake, in which case it is silently dropped — late
// producers must never block or panic on a hot trace path.
func (a *Acquirer) Submit(sc SpanCollection) {
	if a.state.closed.Load() {
		log.Debug("submission dropped: acquirer already shut down")
		return
	}
	a.state.queue.push(sc)
	a.state.wake()
}
