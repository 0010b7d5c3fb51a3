// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"github.com/coretrace/coretrace/internal/clock"
	"github.com/coretrace/coretrace/internal/tlocal"
)

type handleState int

const (
	stateSpawning handleState = iota
	stateScheduling
)

// TraceHandle is the baton that carries a trace across goroutines or
// cooperative tasks. It is move-only: once consumed by Close, or once
// captured while no trace was active (a dormant handle), further use is
// a no-op. Go has no linear types to enforce this at compile time, so it
// is enforced at runtime via the consumed flag — callers that share a
// handle across two goroutines concurrently get undefined ordering of
// which one "wins" the single attach, exactly as with any other
// single-writer value raced across goroutines without synchronization.
type TraceHandle struct {
	acqs         []*Acquirer
	parentID     uint32
	suspendBegin clock.Cycle
	pendingEvent string
	state        handleState
	consumed     bool
	dormant      bool
}

// CurrentHandle captures the trace currently attached on this goroutine
// for transfer elsewhere. If no trace is attached, it returns a dormant
// handle: StartTrace on it is always a no-op.
func CurrentHandle() *TraceHandle {
	buf := tlocal.Get()
	parentID, attached := buf.Attached()
	if !attached {
		return &TraceHandle{dormant: true}
	}
	scope, ok := buf.Occupant().(*Scope)
	if !ok || scope.IsEmpty() {
		return &TraceHandle{dormant: true}
	}
	acqs := make([]*Acquirer, 0, len(scope.reports))
	for _, r := range scope.reports {
		acqs = append(acqs, r.acq.Clone())
	}
	return &TraceHandle{
		acqs:         acqs,
		parentID:     parentID,
		suspendBegin: clock.System.Now(),
		pendingEvent: scope.event,
		state:        stateSpawning,
	}
}

// StartTrace resumes the handle's trace in the current goroutine. If
// nothing is attached here, it performs the async attach described by
// the design: emit a Pending span for the gap since the last
// suspension, open a new Settle span under it, and attach that so
// further children land under it. If this goroutine already has an
// active trace, the handle instead yields a plain local span under that
// trace's current parent, preserving nesting rather than splitting the
// trace. A consumed or dormant handle always returns (nil, false).
func (h *TraceHandle) StartTrace(event string) (*Guard, bool) {
	if h.consumed || h.dormant {
		return nil, false
	}

	buf := tlocal.Get()
	if _, attached := buf.Attached(); attached {
		now := clock.System.Now()
		id := buf.PushAuto(event, now)
		return &Guard{localOnly: true, localID: id}, true
	}

	now := clock.System.Now()
	pendingID := buf.NextID()
	buf.PushClosedSpan(RawSpan{
		ID:         pendingID,
		ParentID:   h.parentID,
		BeginCycle: h.suspendBegin,
		EndCycle:   now,
		Event:      h.pendingEvent,
		IsSpawn:    true,
	})

	settleID := buf.NextID()
	buf.Push(settleID, pendingID, event, now)

	reports := make([]scopeReport, 0, len(h.acqs))
	for _, a := range h.acqs {
		reports = append(reports, scopeReport{
			span: &RawSpan{ID: settleID, ParentID: pendingID, BeginCycle: now, Event: event},
			acq:  a,
		})
	}
	settle := &Scope{id: settleID, event: event, reports: reports}
	buf.ForceOccupy(settle, settleID)

	h.state = stateScheduling
	h.parentID = settleID
	h.pendingEvent = event
	h.suspendBegin = now

	return &Guard{scope: settle, onClose: func() {
		h.suspendBegin = clock.System.Now()
	}}, true
}

// Close consumes the handle. If it was ever attached (or captured live),
// it emits one terminal span per acquirer describing the time since the
// last suspension began, so that work abandoned mid-flight is still
// visible, then releases that acquirer's clone. Calling Close more than
// once, or on a dormant handle, is a no-op.
func (h *TraceHandle) Close() {
	if h.consumed || h.dormant {
		h.consumed = true
		return
	}
	h.consumed = true

	now := clock.System.Now()
	id := tlocal.Get().NextID()
	for _, a := range h.acqs {
		span := &RawSpan{
			ID:         id,
			ParentID:   h.parentID,
			BeginCycle: h.suspendBegin,
			EndCycle:   now,
			Event:      h.pendingEvent,
		}
		a.Submit(SpanCollection{Scope: span})
		a.Release()
	}
}
