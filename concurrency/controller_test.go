// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package concurrency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitConflictTriggersRedo(t *testing.T) {
	c := NewController()
	// storage pre-state: 0x123 at version 0, no writers yet.
	c.addressOrCreate("0x123")

	c0 := ModifyMap{
		"0x123": {Load(0)},
		"0x124": {Store([]byte("1000"))},
	}
	c1 := ModifyMap{
		"0x123": {Load(0)},
		"0x124": {Store([]byte("3000"))},
	}
	c.PushCommit(0, c0)
	c.PushCommit(1, c1)

	require.True(t, c.Commit(0))
	require.False(t, c.Commit(1))
	require.Contains(t, c.RedoSet(), CommitID(1))

	val, ok := c.Get("0x124")
	require.True(t, ok)
	require.Equal(t, []byte("1000"), val)
}

func TestCommitRequiresHeadOfQueue(t *testing.T) {
	c := NewController()
	mm0 := ModifyMap{"addr": {Store([]byte("a"))}}
	mm1 := ModifyMap{"addr": {Store([]byte("b"))}}
	c.PushCommit(0, mm0)
	c.PushCommit(1, mm1)

	require.False(t, c.Commit(1))
	require.Contains(t, c.RedoSet(), CommitID(1))

	require.True(t, c.Commit(0))
	require.True(t, c.Commit(1))

	val, ok := c.Get("addr")
	require.True(t, ok)
	require.Equal(t, []byte("b"), val)
}

func TestCommitShadowsEarlierWritesToSameAddress(t *testing.T) {
	c := NewController()
	mm := ModifyMap{"addr": {Store([]byte("first")), Store([]byte("second")), Remove(), Store([]byte("final"))}}
	c.PushCommit(0, mm)
	require.True(t, c.Commit(0))

	val, ok := c.Get("addr")
	require.True(t, ok)
	require.Equal(t, []byte("final"), val)
}

func TestRemoveClearsPresence(t *testing.T) {
	c := NewController()
	c.PushCommit(0, ModifyMap{"addr": {Store([]byte("x"))}})
	require.True(t, c.Commit(0))

	c.PushCommit(1, ModifyMap{"addr": {Remove()}})
	require.True(t, c.Commit(1))

	_, ok := c.Get("addr")
	require.False(t, ok)
}

func TestScheduleRechecksOffersNewHead(t *testing.T) {
	c := NewController()
	c.PushCommit(0, ModifyMap{"addr": {Store([]byte("a"))}})
	c.PushCommit(1, ModifyMap{"addr": {Store([]byte("b"))}})

	require.True(t, c.Commit(0))

	select {
	case id := <-c.Retrigger():
		require.Equal(t, CommitID(1), id)
	default:
		t.Fatal("expected commit 1 to be scheduled for recheck")
	}
}
