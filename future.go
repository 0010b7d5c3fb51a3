// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import (
	"github.com/coretrace/coretrace/internal/clock"
	"github.com/coretrace/coretrace/internal/tlocal"
)

// Step is one resumption of an asynchronous unit of work: it runs until
// it either finishes (done=true) or would block (done=false), the
// idiomatic Go shape for "poll once" in a library with no native
// async/await. The wrappers below instrument a Step so each resumption
// opens and closes exactly one span.
type Step func() (done bool, err error)

// InSpan wraps step so that every resumption opens a plain local span
// under whatever trace is currently attached, and closes it before
// returning — the "in-span" adapter from the design, agnostic to the
// underlying executor and allocation-free on the steady-state path
// beyond the stack push/pop.
func InSpan(event string, step Step) Step {
	return func() (bool, error) {
		buf := tlocal.Get()
		id := buf.PushAuto(event, clock.System.Now())
		done, err := step()
		buf.PopLocal(id, clock.System.Now())
		return done, err
	}
}

// WithHandle wraps step so that every resumption installs h's trace via
// StartTrace, closing the resulting guard before returning. On the
// resumption where step reports done, it also closes h, emitting the
// handle's terminal span and releasing its acquirers.
func WithHandle(h *TraceHandle, event string, step Step) Step {
	return func() (bool, error) {
		guard, _ := h.StartTrace(event)
		done, err := step()
		if guard != nil {
			guard.Close()
		}
		if done {
			h.Close()
		}
		return done, err
	}
}

// Spawn runs fn on a new goroutine with h attached for fn's entire
// lifetime, the Go equivalent of handing a future to an executor with
// trace propagation enabled. h is always closed when fn returns, even
// if fn panics.
func Spawn(h *TraceHandle, event string, fn func()) {
	go func() {
		guard, _ := h.StartTrace(event)
		defer h.Close()
		if guard != nil {
			defer guard.Close()
		}
		fn()
	}()
}
