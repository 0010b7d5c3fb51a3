// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"github.com/coretrace/coretrace/internal/clock"
	"github.com/coretrace/coretrace/internal/spanid"
	"github.com/coretrace/coretrace/internal/tlocal"
)

// scopeReport is one (span, acquirer) pair a Scope must finalize and
// submit when it closes. A Scope created by Root owns its acquirer's
// clone count; one derived via Child or Merge shares its parent's
// acquirer without affecting that count, since it cannot outlive the
// call stack that created it the way a TraceHandle can.
type scopeReport struct {
	span  *RawSpan
	acq   *Acquirer
	holds bool
}

// Scope represents an open span. While alive it is the current parent
// for further Child/Merge calls and the target for AppendProperty; Close
// finalizes and submits its span to every acquirer it was built from.
type Scope struct {
	id      uint32
	event   string
	reports []scopeReport
}

// Root starts a new trace: a fresh acquirer/collector pair and the
// scope for the trace's top-level span, parented to nothing. Like
// every Scope constructor, it does not touch the goroutine-local
// stack — only Attach/TryAttach do that, for whichever scope the
// caller chooses to install as the goroutine's active one.
func Root(event string) (*Scope, *Collector) {
	state := newAcquirerState()
	acq := newAcquirer(state)

	now := clock.System.Now()
	clock.CaptureAnchor(clock.System)

	id := tlocal.Get().NextID()
	span := &RawSpan{ID: id, ParentID: spanid.None, BeginCycle: now, Event: event}
	s := &Scope{id: id, event: event, reports: []scopeReport{{span: span, acq: acq, holds: true}}}
	return s, &Collector{state: state}
}

// Empty returns a no-op scope: it has no acquirers, so Child/Merge/Close
// on it (and anything derived from it) never submits anything.
func Empty(event string) *Scope {
	id := tlocal.Get().NextID()
	return &Scope{id: id, event: event}
}

// IsEmpty reports whether this scope has no acquirers to report to.
func (s *Scope) IsEmpty() bool { return len(s.reports) == 0 }

// Child derives a new scope nested under s. Acquirers that have already
// shut down are skipped before any span is allocated for them, so a
// scope whose whole trace has ended never pays for bookkeeping it will
// just discard.
func (s *Scope) Child(event string) *Scope {
	return mergeInto([]*Scope{s}, event)
}

// Merge derives a scope that is the child of every scope in parents at
// once: the resulting span carries one (RawSpan, Acquirer) pair per
// parent acquirer, all sharing a single scope id, which is the only way
// one logical span appears in more than one trace.
func Merge(parents []*Scope, event string) *Scope {
	return mergeInto(parents, event)
}

func mergeInto(parents []*Scope, event string) *Scope {
	now := clock.System.Now()
	id := tlocal.Get().NextID()

	var reports []scopeReport
	for _, p := range parents {
		for _, r := range p.reports {
			if r.acq.IsShutdown() {
				continue
			}
			reports = append(reports, scopeReport{
				span: &RawSpan{ID: id, ParentID: p.id, BeginCycle: now, Event: event},
				acq:  r.acq,
			})
		}
	}
	return &Scope{id: id, event: event, reports: reports}
}

// Close finalizes this scope's span(s) and submits them as ScopeSpan
// messages to every acquirer it still has. It never touches the
// goroutine-local stack: a scope that was never attached was never
// pushed onto it, and one that was attached is finalized through its
// Guard instead, which pops the stack before calling Close.
func (s *Scope) Close() {
	now := clock.System.Now()
	for _, r := range s.reports {
		r.span.EndCycle = now
		r.acq.Submit(SpanCollection{Scope: r.span})
		if r.holds {
			r.acq.Release()
		}
	}
}

// Guard is returned by Attach/TryAttach: releasing it both closes the
// underlying scope and clears the goroutine's attachment slot, flushing
// any local spans accumulated while attached.
//
// The scope itself is used as the attachment token (rather than an
// opaque marker) so that CurrentHandle can recover the acquirers of
// whatever scope is presently attached on this goroutine.
type Guard struct {
	scope *Scope
	// localOnly marks a Guard produced by StartTrace degrading to a plain
	// local span because the goroutine already had an active trace; it
	// closes via the buffer directly rather than through a Scope.
	localOnly bool
	localID   uint32
	// onClose, when set, runs after the scope is finalized. TraceHandle
	// uses it to refresh its suspend-begin cycle to the moment of this
	// Settle span's close, so the next gap is metered from here rather
	// than from when this attachment started.
	onClose func()
}

// Attach installs s as the goroutine's active scope unconditionally,
// even if another scope currently occupies the slot — callers that need
// to respect occupancy should use TryAttach instead. Only an attached
// scope is pushed onto the goroutine-local stack, per spec: an
// un-attached Child or Merge result that is dropped without Close never
// touches it, so it can never strand another scope's stack entry.
func (s *Scope) Attach() *Guard {
	buf := tlocal.Get()
	buf.Push(s.id, spanid.None, s.event, clock.System.Now())
	buf.ForceOccupy(s, s.id)
	return &Guard{scope: s}
}

// TryAttach installs s as the goroutine's active scope, failing if
// another scope already occupies the slot.
func (s *Scope) TryAttach() (*Guard, bool) {
	buf := tlocal.Get()
	if !buf.TryOccupy(s, s.id) {
		return nil, false
	}
	buf.Push(s.id, spanid.None, s.event, clock.System.Now())
	return &Guard{scope: s}, true
}

// Close finalizes the scope, vacates the attachment slot, and — if the
// goroutine's local stack has returned to empty — flushes any
// accumulated local spans as one SpanSet parented to this scope's id.
func (g *Guard) Close() {
	if g.localOnly {
		tlocal.Get().PopLocal(g.localID, clock.System.Now())
		return
	}
	buf := tlocal.Get()
	popped, _ := buf.PopScope(g.scope.id, clock.System.Now())
	for _, r := range g.scope.reports {
		r.span.Props = popped.Props
	}
	g.scope.Close()
	if g.onClose != nil {
		g.onClose()
	}
	buf.Vacate(g.scope)
	if !buf.StackEmpty() {
		return
	}
	batch := buf.Drain()
	if len(batch) == 0 {
		return
	}
	for _, r := range g.scope.reports {
		r.acq.Submit(SpanCollection{Local: &SpanSet{ParentScopeID: g.scope.id, Spans: batch}})
	}
}

// AppendProperty attaches bytes to the goroutine's current span —
// whichever scope or local span is innermost — and is silently dropped
// if nothing is currently open.
func AppendProperty(data []byte) {
	tlocal.Get().AppendProperty(data)
}

// AppendPropertyFunc is like AppendProperty but only computes the bytes
// to attach when a span is actually open, to avoid formatting overhead
// on the common path where tracing is disabled.
func AppendPropertyFunc(f func() []byte) {
	buf := tlocal.Get()
	if _, ok := buf.CurrentParent(); !ok {
		return
	}
	buf.AppendProperty(f())
}
