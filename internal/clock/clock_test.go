// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ c Cycle }

func (f *fakeClock) Now() Cycle { return f.c }

func TestCaptureAnchorIsCapturedOnce(t *testing.T) {
	defer resetForTest()
	resetForTest()

	fc := &fakeClock{c: 100}
	a1 := CaptureAnchor(fc)
	fc.c = 999
	a2 := CaptureAnchor(fc)

	require.Equal(t, a1, a2, "anchor must be captured exactly once per process")
}

func TestCycleToUnixNSAppliesAnchor(t *testing.T) {
	a := Anchor{Cycle: 1000, UnixNS: 5_000_000_000}

	got := CycleToUnixNS(2000, a)
	assert.Equal(t, uint64(5_000_000_000+1000), got)
}

func TestCycleToUnixNSClampsBackwardsJitter(t *testing.T) {
	a := Anchor{Cycle: 1000, UnixNS: 5_000_000_000}

	got := CycleToUnixNS(500, a)
	assert.Equal(t, a.UnixNS, got, "cycle before anchor clamps to the anchor, never underflows")
}

func TestElapsedWraps(t *testing.T) {
	var begin Cycle = ^Cycle(0) - 2 // near uint64 max
	var end Cycle = 5

	got := Elapsed(begin, end)
	assert.Equal(t, uint64(8), got, "wrapping subtraction must not panic or produce a huge value")
}

func TestSystemClockMonotonic(t *testing.T) {
	a := System.Now()
	time.Sleep(time.Millisecond)
	b := System.Now()
	assert.Greater(t, uint64(b), uint64(a))
}
