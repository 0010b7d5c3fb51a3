// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"bytes"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coretrace/coretrace/internal/clock"
)

func TestBuildSpanAppliesAnchor(t *testing.T) {
	anchor := clock.Anchor{Cycle: 1_000, UnixNS: 5_000_000_000}
	r := RawSpan{
		ID:         7,
		ParentID:   3,
		BeginCycle: 1_000,
		EndCycle:   1_500,
		Event:      "work",
	}
	s := buildSpan(r, anchor)

	assert.Equal(t, uint32(7), s.ID)
	assert.Equal(t, uint32(3), s.ParentID)
	assert.Equal(t, "work", s.Event)
	assert.EqualValues(t, 5_000_000_000, s.BeginUnixTimeNS)
	assert.EqualValues(t, 500, s.DurationNS)
}

func TestPropertiesEncodeDecodeRoundTrip(t *testing.T) {
	p := Properties{
		SpanIDs: []uint32{1, 2, 3},
		Lengths: []uint32{4, 0, 5},
		Payload: []byte("hostapple"),
	}

	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	require.NoError(t, p.EncodeMsg(w))
	require.NoError(t, w.Flush())

	var got Properties
	r := msgp.NewReader(&buf)
	require.NoError(t, got.DecodeMsg(r))

	assert.Equal(t, p.SpanIDs, got.SpanIDs)
	assert.Equal(t, p.Lengths, got.Lengths)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestPropertiesEncodeDecodeEmpty(t *testing.T) {
	var p Properties

	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	require.NoError(t, p.EncodeMsg(w))
	require.NoError(t, w.Flush())

	var got Properties
	r := msgp.NewReader(&buf)
	require.NoError(t, got.DecodeMsg(r))

	assert.Empty(t, got.SpanIDs)
	assert.Empty(t, got.Lengths)
	assert.Empty(t, got.Payload)
}
