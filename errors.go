// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package coretrace

import "golang.org/x/xerrors"

// errAlreadyCollected is the one user-visible panic the core raises:
// calling Collect twice on the same Collector. Every other error kind
// described by the design (NotAttached, SlotOccupied, ShutDown,
// Unfinished) is surfaced as an absent optional rather than an error
// value, so there is exactly one sentinel here.
var errAlreadyCollected = xerrors.New("coretrace: Collect called twice on the same Collector")
