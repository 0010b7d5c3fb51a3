// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelGatesOutput(t *testing.T) {
	defer SetLevel(LevelWarn)

	SetLevel(LevelError)
	assert.False(t, enabled(LevelDebug))
	assert.False(t, enabled(LevelWarn))
	assert.True(t, enabled(LevelError))

	SetLevel(LevelDebug)
	assert.True(t, enabled(LevelDebug))
	assert.True(t, enabled(LevelWarn))
	assert.True(t, enabled(LevelError))
}
