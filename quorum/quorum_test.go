// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package quorum

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/types"
)

func TestSetFormsQuorumAtThreshold(t *testing.T) {
	s := NewSet()
	key := Key{Type: types.MessagePrepareVote, View: 1, Hash: ids.GenerateTestID()}
	require.True(t, s.Add(key, 3))
	require.Equal(t, 1, s.Len())

	signers := []types.ReplicaID{ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()}

	_, done := s.Vote(key, signers[0], []byte{1})
	require.False(t, done)
	_, done = s.Vote(key, signers[1], []byte{2})
	require.False(t, done)

	cert, done := s.Vote(key, signers[2], []byte{3})
	require.True(t, done)
	require.Equal(t, 3, cert.Len())
	require.True(t, cert.IsQuorum(3))

	require.Equal(t, 0, s.Len())
}

func TestSetIgnoresDuplicateVotes(t *testing.T) {
	s := NewSet()
	key := Key{Type: types.MessageDAGAck, View: 1, Hash: ids.GenerateTestID()}
	s.Add(key, 2)
	signer := ids.GenerateTestNodeID()

	_, done := s.Vote(key, signer, []byte{1})
	require.False(t, done)
	_, done = s.Vote(key, signer, []byte{1})
	require.False(t, done)
	require.Equal(t, 1, s.Len())
}

func TestAddRejectsDuplicateKey(t *testing.T) {
	s := NewSet()
	key := Key{Type: types.MessagePrepareVote, View: 1, Hash: ids.GenerateTestID()}
	require.True(t, s.Add(key, 3))
	require.False(t, s.Add(key, 3))
}

func TestDrop(t *testing.T) {
	s := NewSet()
	key := Key{Type: types.MessagePrepareVote, View: 1, Hash: ids.GenerateTestID()}
	s.Add(key, 3)
	s.Drop(key)
	require.Equal(t, 0, s.Len())
	_, done := s.Vote(key, ids.GenerateTestNodeID(), []byte{1})
	require.False(t, done)
}
