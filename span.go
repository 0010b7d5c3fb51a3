// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/coretrace/coretrace/internal/clock"
	"github.com/coretrace/coretrace/internal/tlocal"
)

// RawSpan is a span still carrying cycle-domain timestamps, produced on
// the hot path before any clock anchor is applied.
type RawSpan = tlocal.RawSpan

// Properties is the parallel-array encoding of the opaque bytes attached
// to spans via AppendProperty: one entry per property, naming the
// owning span id and the byte length, with all payloads concatenated.
type Properties = tlocal.Properties

// Span is the finalized, wall-clock-timestamped record returned by
// Collector.Collect. Its shape is the stable contract downstream
// encoders build on.
type Span struct {
	ID, ParentID    uint32
	BeginUnixTimeNS uint64
	DurationNS      uint64
	Event           string
	Properties      Properties
}

// buildSpan converts a RawSpan into its finalized form using the given
// clock anchor.
func buildSpan(r RawSpan, a clock.Anchor) Span {
	return Span{
		ID:              r.ID,
		ParentID:        r.ParentID,
		BeginUnixTimeNS: clock.CycleToUnixNS(r.BeginCycle, a),
		DurationNS:      clock.Elapsed(r.BeginCycle, r.EndCycle),
		Event:           r.Event,
		Properties:      r.Props,
	}
}

// SpanSet is the unit submitted by a goroutine-local buffer flush: a
// batch of closed local spans, each already carrying its own
// properties, all parented under ParentScopeID. This is the payload
// carried by a SpanCollection's Local field.
type SpanSet struct {
	ParentScopeID uint32
	Spans         []RawSpan
}

// EncodeMsg writes Properties using msgp's low-level writer API, hand
// rolled rather than generated: the span ids and lengths as two uint32
// arrays followed by the payload as one byte string, since the wire
// shape is fixed and small.
func (p Properties) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteArrayHeader(uint32(len(p.SpanIDs))); err != nil {
		return err
	}
	for _, id := range p.SpanIDs {
		if err := w.WriteUint32(id); err != nil {
			return err
		}
	}
	if err := w.WriteArrayHeader(uint32(len(p.Lengths))); err != nil {
		return err
	}
	for _, l := range p.Lengths {
		if err := w.WriteUint32(l); err != nil {
			return err
		}
	}
	return w.WriteBytes(p.Payload)
}

// DecodeMsg reads Properties written by EncodeMsg.
func (p *Properties) DecodeMsg(r *msgp.Reader) error {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return err
	}
	ids := make([]uint32, n)
	for i := range ids {
		if ids[i], err = r.ReadUint32(); err != nil {
			return err
		}
	}
	n, err = r.ReadArrayHeader()
	if err != nil {
		return err
	}
	lens := make([]uint32, n)
	for i := range lens {
		if lens[i], err = r.ReadUint32(); err != nil {
			return err
		}
	}
	payload, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	p.SpanIDs, p.Lengths, p.Payload = ids, lens, payload
	return nil
}
