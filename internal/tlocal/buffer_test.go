// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2024 The coretrace Authors.

package tlocal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSameBufferForCallingGoroutine(t *testing.T) {
	defer Forget()
	a := Get()
	b := Get()
	assert.Same(t, a, b)
}

func TestPushPopNesting(t *testing.T) {
	defer Forget()
	b := Get()

	root := b.PushAuto("root", 1)
	child := b.PushAuto("child", 2)
	assert.False(t, b.StackEmpty())

	got, ok := b.PopLocal(child, 5)
	require.True(t, ok)
	assert.Equal(t, child, got.ID)
	assert.Equal(t, root, got.ParentID, "child parents under the current stack top")

	_, ok = b.PopLocal(root, 9)
	require.True(t, ok)
	assert.True(t, b.StackEmpty())

	closed := b.Drain()
	require.Len(t, closed, 2)
	assert.Equal(t, child, closed[0].ID, "close order is innermost-first")
	assert.Equal(t, root, closed[1].ID)
}

func TestPopOnEmptyStackIsNoop(t *testing.T) {
	defer Forget()
	b := Get()
	_, ok := b.PopLocal(42, 1)
	assert.False(t, ok)
}

func TestAppendPropertyNoopWhenDetached(t *testing.T) {
	defer Forget()
	b := Get()
	b.AppendProperty([]byte("x"))
	closed := b.Drain()
	assert.Empty(t, closed)
}

func TestAppendPropertyAttachesToCurrentSpan(t *testing.T) {
	defer Forget()
	b := Get()
	id := b.PushAuto("s", 1)
	b.AppendProperty([]byte("host:127.0.0.1"))
	b.PopLocal(id, 2)

	closed := b.Drain()
	require.Len(t, closed, 1)
	require.Len(t, closed[0].Props.SpanIDs, 1)
	assert.Equal(t, id, closed[0].Props.SpanIDs[0])
	assert.Equal(t, "host:127.0.0.1", string(closed[0].Props.Payload))
}

func TestPopScopeDoesNotJoinClosedBatch(t *testing.T) {
	defer Forget()
	b := Get()
	id := b.PushAuto("s", 1)
	got, ok := b.PopScope(id, 2)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.Empty(t, b.Drain())
}

func TestAttachOccupancy(t *testing.T) {
	defer Forget()
	b := Get()
	tok1, tok2 := new(int), new(int)

	require.True(t, b.TryOccupy(tok1, 7))
	assert.False(t, b.TryOccupy(tok2, 9), "slot already occupied")

	parent, attached := b.Attached()
	assert.True(t, attached)
	assert.Equal(t, uint32(7), parent)

	b.Vacate(tok2) // wrong token, no effect
	_, attached = b.Attached()
	assert.True(t, attached)

	b.Vacate(tok1)
	_, attached = b.Attached()
	assert.False(t, attached)
}

func TestPushAutoUsesAttachedParentWhenStackEmpty(t *testing.T) {
	defer Forget()
	b := Get()
	tok := new(int)
	b.TryOccupy(tok, 99)

	id := b.PushAuto("leaf", 1)
	b.PopLocal(id, 2)
	closed := b.Drain()
	require.Len(t, closed, 1)
	assert.Equal(t, uint32(99), closed[0].ParentID)
}
