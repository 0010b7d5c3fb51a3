// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

// Package tlocal is the goroutine-local span buffer: a per-thread stack of
// open spans and a flat vector of closed spans in close-order. Go has no
// native thread-local storage, so "thread-local" here means
// goroutine-local, keyed by the running goroutine's id via
// github.com/petermattis/goid — the idiomatic substitute used throughout
// the retrieved corpus for this exact need.
package tlocal

import (
	"sync"

	"github.com/petermattis/goid"

	"github.com/coretrace/coretrace/internal/clock"
	"github.com/coretrace/coretrace/internal/log"
	"github.com/coretrace/coretrace/internal/spanid"
)

// RawSpan is a span still carrying cycle-domain timestamps, before a
// clock anchor has converted it to wall-clock time. Each span carries
// its own Props rather than sharing a batch-wide property table, so a
// span keeps its properties however it ends up being emitted (directly
// as a scoped span, or folded into a local-span batch).
type RawSpan struct {
	ID, ParentID         uint32
	BeginCycle, EndCycle clock.Cycle
	Event                string
	Props                Properties
	// IsSpawn marks a Pending span recorded across a trace handle
	// suspension: the collector's reconciliation pass records it in its
	// spawn map and emits it like any other surviving span.
	IsSpawn bool
}

// Unfinished reports whether the span never had its end cycle written,
// per the "end_cycle == 0 means unfinished" invariant.
func (s RawSpan) Unfinished() bool { return s.EndCycle == 0 }

// Properties holds the parallel-array encoding from the data model: for
// each recorded property, the owning span id, the byte length, and the
// bytes themselves concatenated into one payload.
type Properties struct {
	SpanIDs []uint32
	Lengths []uint32
	Payload []byte
}

// Append adds one property's bytes under the given span id.
func (p *Properties) Append(spanID uint32, b []byte) {
	p.SpanIDs = append(p.SpanIDs, spanID)
	p.Lengths = append(p.Lengths, uint32(len(b)))
	p.Payload = append(p.Payload, b...)
}

// Buffer is the per-goroutine structure described in the data model: an
// enter-stack of open spans, a vector of closed spans, and, when
// attached, the id new stack-bottom spans should be parented under.
//
// The stack serves two kinds of caller: an explicit Scope, which always
// knows its own parent id and reports itself individually, and a plain
// local span (the span a trace handle opens when the goroutine already
// has an active trace, or the future adapter's per-resumption span),
// which has no Scope of its own and relies on the stack to both resolve
// its parent and collect into a batch. Both kinds share the same stack
// so that AppendProperty always targets whichever is innermost, and
// PopScope/PopLocal differ only in whether the
// popped span also joins the closed-span batch.
type Buffer struct {
	gen    spanid.Generator
	stack  []RawSpan
	closed []RawSpan

	attached   bool
	occupant   interface{}
	attachedID uint32
}

var registry sync.Map // int64 goid -> *Buffer

// Get returns the calling goroutine's buffer, creating it on first use.
func Get() *Buffer {
	id := goid.Get()
	if v, ok := registry.Load(id); ok {
		return v.(*Buffer)
	}
	b := &Buffer{}
	actual, _ := registry.LoadOrStore(id, b)
	return actual.(*Buffer)
}

// Forget removes the calling goroutine's buffer from the registry. Call
// this once a goroutine is known to be done tracing, so long-lived
// goroutine pools don't accumulate empty buffers forever. It is safe to
// call even if the buffer is still in use; a later Get simply recreates
// one.
func Forget() {
	registry.Delete(goid.Get())
}

// TryOccupy installs token as the buffer's attachment occupant and
// records parentID as the parent for subsequently pushed stack-bottom
// spans. It fails if a different occupant already holds the slot.
func (b *Buffer) TryOccupy(token interface{}, parentID uint32) bool {
	if b.attached {
		return false
	}
	b.attached = true
	b.occupant = token
	b.attachedID = parentID
	return true
}

// Vacate clears the attachment slot if token is the current occupant.
func (b *Buffer) Vacate(token interface{}) {
	if b.occupant == token {
		b.attached = false
		b.occupant = nil
		b.attachedID = 0
	}
}

// Occupant returns the current attachment token, or nil if unattached.
func (b *Buffer) Occupant() interface{} {
	return b.occupant
}

// ForceOccupy installs token as the occupant unconditionally, regardless
// of whether the slot was already held by someone else. Used by Attach,
// which (unlike TryAttach) never fails on a conflict.
func (b *Buffer) ForceOccupy(token interface{}, parentID uint32) {
	b.attached = true
	b.occupant = token
	b.attachedID = parentID
}

// Attached reports whether this buffer currently has an occupant, and
// the parent id spans should use when the stack is empty.
func (b *Buffer) Attached() (uint32, bool) {
	return b.attachedID, b.attached
}

// CurrentParent returns the id new auto-parented pushes should use: the
// top of the stack if non-empty, else the attached parent if any.
func (b *Buffer) CurrentParent() (uint32, bool) {
	if n := len(b.stack); n > 0 {
		return b.stack[n-1].ID, true
	}
	return b.attachedID, b.attached
}

// NextID allocates the next span id from this goroutine's generator
// without pushing anything, for callers (like Acquirer-backed Scopes)
// that need an id before they know their full parent bookkeeping.
func (b *Buffer) NextID() uint32 {
	return b.gen.Next()
}

// Push opens a new span under the given id and explicit parent, and
// makes it the current stack top.
func (b *Buffer) Push(id, parentID uint32, event string, now clock.Cycle) {
	b.stack = append(b.stack, RawSpan{
		ID:         id,
		ParentID:   parentID,
		BeginCycle: now,
		Event:      event,
	})
}

// PushAuto allocates an id and opens a new span parented under
// CurrentParent, for callers with no Scope of their own.
func (b *Buffer) PushAuto(event string, now clock.Cycle) uint32 {
	parent, _ := b.CurrentParent()
	id := b.gen.Next()
	b.Push(id, parent, event, now)
	return id
}

func (b *Buffer) popTop(id uint32, now clock.Cycle) (RawSpan, bool) {
	n := len(b.stack)
	if n == 0 {
		log.Warn("pop_span(%d) called on an empty stack", id)
		return RawSpan{}, false
	}
	top := b.stack[n-1]
	if top.ID != id {
		log.Warn("pop_span(%d) does not match stack top %d", id, top.ID)
	}
	b.stack = b.stack[:n-1]
	top.EndCycle = now
	return top, true
}

// PopScope closes the span with the given id, which must be the top of
// the stack, and returns it without adding it to the closed-span batch:
// the caller (a Scope) reports it individually instead.
func (b *Buffer) PopScope(id uint32, now clock.Cycle) (RawSpan, bool) {
	return b.popTop(id, now)
}

// PopLocal closes the span with the given id and folds it into the
// closed-span batch that the next Drain returns.
func (b *Buffer) PopLocal(id uint32, now clock.Cycle) (RawSpan, bool) {
	top, ok := b.popTop(id, now)
	if ok {
		b.closed = append(b.closed, top)
	}
	return top, ok
}

// PushClosedSpan records an already-complete span (both begin and end
// known up front) directly into the closed batch, as used for the
// Pending span emitted across a trace handle suspension. It does not
// touch the open stack.
func (b *Buffer) PushClosedSpan(s RawSpan) {
	b.closed = append(b.closed, s)
}

// AppendProperty attaches bytes to the currently open span, whichever
// kind pushed it. It is a no-op if the stack is empty, per the
// "silently dropped if no trace is active" contract.
func (b *Buffer) AppendProperty(data []byte) {
	n := len(b.stack)
	if n == 0 {
		return
	}
	b.stack[n-1].Props.Append(b.stack[n-1].ID, data)
}

// StackEmpty reports whether the open-span stack has returned to empty,
// the signal used to decide when to flush accumulated local spans.
func (b *Buffer) StackEmpty() bool {
	return len(b.stack) == 0
}

// Drain atomically removes the closed-span vector, replacing it with a
// fresh empty slice.
func (b *Buffer) Drain() []RawSpan {
	closed := b.closed
	b.closed = nil
	return closed
}
