// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package codec

import (
	"bytes"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/types"
)

func testBatch() types.Batch {
	return types.NewBatch(ids.GenerateTestNodeID(), 7, []types.Request{
		{
			Type:      types.RequestTypeCommand,
			SenderID:  ids.GenerateTestNodeID(),
			Seq:       1,
			ProxyID:   ids.GenerateTestNodeID(),
			Payload:   []byte("set x 1"),
			Hash:      ids.GenerateTestID(),
			Signature: []byte{0xde, 0xad},
		},
		{
			Type:     types.RequestTypeNoOp,
			SenderID: ids.GenerateTestNodeID(),
			Seq:      2,
		},
	})
}

func TestRequestRoundTrip(t *testing.T) {
	want := testBatch().Requests[0]
	got, err := UnmarshalRequest(MarshalRequest(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBatchRoundTrip(t *testing.T) {
	want := testBatch()
	got, err := UnmarshalBatch(MarshalBatch(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCertificateRoundTrip(t *testing.T) {
	want := types.Certificate{
		Type:     types.MessagePrepareVote,
		View:     42,
		NodeHash: ids.GenerateTestID(),
		Signatures: []types.PartialSignature{
			{Signer: ids.GenerateTestNodeID(), Signature: []byte{1, 2, 3}},
			{Signer: ids.GenerateTestNodeID(), Signature: []byte{4, 5, 6}},
		},
	}
	got, err := UnmarshalCertificate(MarshalCertificate(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestProposalNodeRoundTrip(t *testing.T) {
	want := types.ProposalNode{
		View:       3,
		Hash:       ids.GenerateTestID(),
		ParentHash: ids.GenerateTestID(),
		ParentQC: types.Certificate{
			Type: types.MessagePrepareVote,
			View: 2,
			Signatures: []types.PartialSignature{
				{Signer: ids.GenerateTestNodeID(), Signature: []byte{9}},
			},
		},
		ProposerID: ids.GenerateTestNodeID(),
		Batch:      testBatch(),
	}
	got, err := UnmarshalProposalNode(MarshalProposalNode(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDAGBlockRoundTrip(t *testing.T) {
	want := types.DAGBlock{
		Round:         4,
		ProposerID:    ids.GenerateTestNodeID(),
		Hash:          ids.GenerateTestID(),
		StrongParents: []types.Hash{ids.GenerateTestID(), ids.GenerateTestID()},
		WeakParents:   []types.Hash{ids.GenerateTestID()},
		Batch:         testBatch(),
	}
	got, err := UnmarshalDAGBlock(MarshalDAGBlock(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestAppendEntriesArgsRoundTrip(t *testing.T) {
	want := types.AppendEntriesArgs{
		Term:         5,
		LeaderID:     ids.GenerateTestNodeID(),
		PrevLogIndex: 10,
		PrevLogTerm:  4,
		Entries: []types.LogEntry{
			{Term: 5, Index: 11, Batch: testBatch()},
		},
		LeaderCommit: 9,
	}
	got, err := UnmarshalAppendEntriesArgs(MarshalAppendEntriesArgs(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	want := Envelope{Type: types.MessagePrepare, Epoch: 17, Body: MarshalProposalNode(types.ProposalNode{View: 17})}
	got, err := UnmarshalEnvelope(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello resilientdb")
	require.NoError(t, WriteFrame(&buf, payload))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&bytes.Buffer{}, nil))
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
