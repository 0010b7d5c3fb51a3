// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

// Package coretrace is a low-overhead, in-process span-recording engine:
// per-goroutine span accumulation with a scope stack, a trace handle
// that threads one logical trace across goroutine and task migrations,
// and a collector that drains, reconciles, and emits a finalized span
// tree.
//
// A trace begins with Root, which returns the scope for its top-level
// span and the Collector that will eventually drain it:
//
//	scope, collector := coretrace.Root("request")
//	child := scope.Child("db-query")
//	// ... do work ...
//	child.Close()
//	scope.Close()
//	spans := collector.Collect(true, nil, nil)
//
// Crossing a goroutine boundary without losing the trace uses a
// TraceHandle, captured from whatever is currently attached and resumed
// on the other side:
//
//	h := coretrace.CurrentHandle()
//	go func() {
//	    guard, ok := h.StartTrace("worker")
//	    if ok {
//	        defer guard.Close()
//	    }
//	    defer h.Close()
//	    // ... do work ...
//	}()
//
// There is deliberately no global, ambient tracer: a trace is born from
// Root and threaded explicitly through Scope and TraceHandle values, so
// that handing a trace to another goroutine is always a visible,
// explicit transfer rather than implicit shared state.
package coretrace
