// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package types holds the wire data model shared by every protocol engine:
// client requests and batches, BFT quorum certificates, and the
// protocol-specific envelopes (chained-HotStuff nodes, Tusk DAG blocks,
// Raft log entries/RPCs). Every type here round-trips through codec's TLV
// encoding unchanged (spec section 8, property 7).
package types

import (
	"time"

	"github.com/luxfi/ids"
)

// MessageType enumerates every message the core's protocol engines
// exchange, spanning the three families plus the client-facing batch
// protocol (spec section 4.5-4.7, section 6).
type MessageType uint16

const (
	MessageTypeUnknown MessageType = iota

	// Client <-> proxy
	MessageNewRequest
	MessageBatchResponse

	// MessageBatchForward carries a fully sealed Batch from the proxy that
	// assembled it to a replica the proxy believes is the current primary,
	// after the proxy's own SubmitBatch to its local engine failed (spec
	// section 4.4: "send to the current primary"). The batch already
	// carries the originating proxy's ReplicaID, so the recipient's normal
	// commit/response path (responseAdapter.DeliverBatch) routes the result
	// back to the proxy unchanged.
	MessageBatchForward

	// Chained-HotStuff
	MessageNewView
	MessagePrepare
	MessagePrepareVote
	MessagePrecommit
	MessagePrecommitVote
	MessageCommit
	MessageCommitVote
	MessageDecide

	// Tusk DAG
	MessageDAGPropose
	MessageDAGAck
	MessageDAGCert

	// Raft
	MessageRequestVote
	MessageRequestVoteResponse
	MessageAppendEntries
	MessageAppendEntriesResponse
)

func (t MessageType) String() string {
	switch t {
	case MessageNewRequest:
		return "NEW_REQUEST"
	case MessageBatchResponse:
		return "BATCH_RESPONSE"
	case MessageBatchForward:
		return "BATCH_FORWARD"
	case MessageNewView:
		return "NEW_VIEW"
	case MessagePrepare:
		return "PREPARE"
	case MessagePrepareVote:
		return "PREPARE_VOTE"
	case MessagePrecommit:
		return "PRECOMMIT"
	case MessagePrecommitVote:
		return "PRECOMMIT_VOTE"
	case MessageCommit:
		return "COMMIT"
	case MessageCommitVote:
		return "COMMIT_VOTE"
	case MessageDecide:
		return "DECIDE"
	case MessageDAGPropose:
		return "DAG_PROPOSE"
	case MessageDAGAck:
		return "DAG_ACK"
	case MessageDAGCert:
		return "DAG_CERT"
	case MessageRequestVote:
		return "REQUEST_VOTE"
	case MessageRequestVoteResponse:
		return "REQUEST_VOTE_RESPONSE"
	case MessageAppendEntries:
		return "APPEND_ENTRIES"
	case MessageAppendEntriesResponse:
		return "APPEND_ENTRIES_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// VoteType maps a proposal-phase message type to its corresponding vote
// message type, used by the chained-HotStuff replica algorithm ("vote back
// with VoteType(type)", spec section 4.5).
func (t MessageType) VoteType() MessageType {
	switch t {
	case MessagePrepare:
		return MessagePrepareVote
	case MessagePrecommit:
		return MessagePrecommitVote
	case MessageCommit:
		return MessageCommitVote
	default:
		return MessageTypeUnknown
	}
}

// Hash is the 32-byte digest type produced by the crypto adapter's hash()
// operation and embedded in every wire message.
type Hash = ids.ID

// ReplicaID identifies a replica or client on the wire.
type ReplicaID = ids.NodeID

// now is overridable in tests that need deterministic CreateTime values.
var now = time.Now
