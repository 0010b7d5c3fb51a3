// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"time"

	"github.com/coretrace/coretrace/internal/clock"
	"github.com/coretrace/coretrace/internal/spanid"
)

// Collector is the terminal consumer of a trace, owned by whoever
// created its root scope. Collect may be called exactly once.
type Collector struct {
	state     *acquirerState
	collected bool
}

// Collect drains the trace's intake, reconciles spawn/local spans, and
// returns the finalized tree.
//
// If sync is true, it blocks until every outstanding Acquirer clone
// (every TraceHandle still in flight) has been released, so all
// in-progress cross-goroutine work is represented; otherwise it drains
// only what is currently available. Once collected, the intake is
// marked closed so any later, straggling submission is silently
// dropped. If durationThreshold is non-nil and the root span's duration
// falls under it, reconciliation is skipped entirely and only the root
// span is returned. If parentIDOfRoot is non-nil, the root span's
// parent id in the output is rewritten to it, for stitching this trace
// into an outer one.
//
// Calling Collect twice on the same Collector panics.
func (c *Collector) Collect(sync bool, durationThreshold *time.Duration, parentIDOfRoot *uint32) []Span {
	if c.collected {
		panic(errAlreadyCollected)
	}
	c.collected = true

	var all []SpanCollection
	for {
		all = append(all, c.state.queue.popAll()...)
		if !sync {
			break
		}
		if c.state.liveClones.Load() == 0 {
			all = append(all, c.state.queue.popAll()...)
			break
		}
		<-c.state.notify
	}
	c.state.closed.Store(true)

	return reconcile(all, durationThreshold, parentIDOfRoot)
}

// Snapshot is the result of CollectAll: the finalized spans plus the
// conversion rate used to produce their timestamps, handy for ad hoc
// diagnostics without threading a clock anchor through by hand.
type Snapshot struct {
	Spans           []Span
	CyclesPerSecond uint64
}

// CollectAll is a convenience for the common case: a full synchronous
// drain with no threshold and no parent rewrite.
func (c *Collector) CollectAll() Snapshot {
	return Snapshot{
		Spans:           c.Collect(true, nil, nil),
		CyclesPerSecond: clock.CyclesPerSecond(),
	}
}

// reconcile implements the collector's pass: it builds a spawn-id →
// replacement-parent map from every IsSpawn span across all LocalSpans
// batches, prunes unfinished spans and their descendant subtrees, and
// resolves every surviving span's parent through the map in one hop
// before converting to the finalized Span shape. A parent id that names
// a span present in the output is never substituted; since surviving
// spawn spans are emitted themselves, the map only rewrites a parent
// that is absent from the output.
func reconcile(all []SpanCollection, durationThreshold *time.Duration, parentIDOfRoot *uint32) []Span {
	anchor := clock.CaptureAnchor(clock.System)

	if durationThreshold != nil {
		if root, ok := findRoot(all); ok {
			dur := time.Duration(clock.Elapsed(root.BeginCycle, root.EndCycle))
			if dur < *durationThreshold {
				rs := root
				if parentIDOfRoot != nil {
					rs.ParentID = *parentIDOfRoot
				}
				return []Span{buildSpan(rs, anchor)}
			}
		}
	}

	spawnParent := make(map[uint32]uint32)
	var survivors, scopeSpans []RawSpan

	for _, c := range all {
		if c.Scope != nil {
			scopeSpans = append(scopeSpans, *c.Scope)
			continue
		}
		dropped := computeDropSet(c.Local.Spans)
		for _, sp := range c.Local.Spans {
			if dropped[sp.ID] {
				continue
			}
			if sp.IsSpawn {
				// Recorded for one-hop resolution. The spawn span itself is
				// still emitted: it is the Pending span describing real
				// suspended time, so a span parented to it (a Settle span)
				// keeps that parent in the output.
				spawnParent[sp.ID] = sp.ParentID
			}
			survivors = append(survivors, sp)
		}
	}

	emitted := make(map[uint32]bool, len(survivors))
	for _, sp := range survivors {
		emitted[sp.ID] = true
	}
	resolve := func(parentID uint32) uint32 {
		if emitted[parentID] {
			return parentID
		}
		if rp, ok := spawnParent[parentID]; ok {
			return rp
		}
		return parentID
	}

	out := make([]Span, 0, len(survivors)+len(scopeSpans))
	for _, sp := range survivors {
		sp.ParentID = resolve(sp.ParentID)
		out = append(out, buildSpan(sp, anchor))
	}
	for _, sp := range scopeSpans {
		if sp.ParentID == spanid.None {
			if parentIDOfRoot != nil {
				sp.ParentID = *parentIDOfRoot
			}
		} else {
			sp.ParentID = resolve(sp.ParentID)
		}
		out = append(out, buildSpan(sp, anchor))
	}
	return out
}

func findRoot(all []SpanCollection) (RawSpan, bool) {
	for _, c := range all {
		if c.Scope != nil && c.Scope.ParentID == spanid.None {
			return *c.Scope, true
		}
	}
	return RawSpan{}, false
}

// computeDropSet returns, for a single LocalSpans batch, the set of span
// ids to discard: every span whose end cycle was never written, plus
// every one of its descendants within the same batch. The batch is in
// post-order (children appear before their parents), so a single
// forward pass cannot tell a child it will eventually be dropped; this
// instead memoizes an upward walk from each span to the nearest
// ancestor decision, which is the same result the design's streaming
// remaining-descendant-count bookkeeping produces, computed as one
// closure pass instead of inline during the drain.
func computeDropSet(spans []RawSpan) map[uint32]bool {
	parentOf := make(map[uint32]uint32, len(spans))
	unfinished := make(map[uint32]bool, len(spans))
	for _, s := range spans {
		parentOf[s.ID] = s.ParentID
		if s.Unfinished() {
			unfinished[s.ID] = true
		}
	}

	dropped := make(map[uint32]bool, len(spans))
	var resolve func(id uint32) bool
	resolve = func(id uint32) bool {
		if d, ok := dropped[id]; ok {
			return d
		}
		if unfinished[id] {
			dropped[id] = true
			return true
		}
		parent, ok := parentOf[id]
		if !ok {
			dropped[id] = false
			return false
		}
		d := resolve(parent)
		dropped[id] = d
		return d
	}
	for _, s := range spans {
		resolve(s.ID)
	}
	return dropped
}
