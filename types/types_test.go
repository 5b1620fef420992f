// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package types

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestBatchEmpty(t *testing.T) {
	b := NewBatch(ids.GenerateTestNodeID(), 1, nil)
	require.True(t, b.Empty())

	b2 := NewBatch(ids.GenerateTestNodeID(), 2, []Request{{Seq: 1}})
	require.False(t, b2.Empty())
}

func TestCertificateIsQuorum(t *testing.T) {
	signer1, signer2, signer3 := ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	c := Certificate{
		Type: MessagePrepareVote,
		View: 1,
		Signatures: []PartialSignature{
			{Signer: signer1}, {Signer: signer2},
		},
	}
	require.False(t, c.IsQuorum(3))

	c.Signatures = append(c.Signatures, PartialSignature{Signer: signer3})
	require.True(t, c.IsQuorum(3))
}

func TestCertificateIsQuorumDedupsSigners(t *testing.T) {
	signer := ids.GenerateTestNodeID()
	c := Certificate{Signatures: []PartialSignature{{Signer: signer}, {Signer: signer}}}
	require.False(t, c.IsQuorum(2))
}

func TestProposalNodeExtends(t *testing.T) {
	parent := ProposalNode{Hash: ids.GenerateTestID()}
	child := ProposalNode{ParentHash: parent.Hash}
	require.True(t, child.Extends(parent))

	other := ProposalNode{Hash: ids.GenerateTestID()}
	require.False(t, child.Extends(other))
}

func TestIsLeaderRound(t *testing.T) {
	require.True(t, IsLeaderRound(0))
	require.False(t, IsLeaderRound(1))
	require.True(t, IsLeaderRound(2))
}
