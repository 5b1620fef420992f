// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package types

// ProposalNode is a chained-HotStuff tree node: one view's proposed batch,
// linked to its parent by hash and carrying the parent's quorum
// certificate. The three-chain prepareQC -> precommitQC -> commitQC that
// makes a node safe to commit is reconstructed by walking ParentHash
// through the replica's node store (spec section 4.5).
type ProposalNode struct {
	View       uint64
	Hash       Hash
	ParentHash Hash

	// ParentQC certifies ParentHash at View-1 (or earlier, after a view
	// change). A node with a nil/zero ParentQC is only valid as the
	// genesis node.
	ParentQC Certificate

	// ProposerID is the view's leader, recovered from the replica's
	// leader-rotation schedule for cross-checking; proposals from anyone
	// else are rejected outright.
	ProposerID ReplicaID

	Batch Batch
}

// Extends reports whether this node's ParentHash equals other.Hash,
// i.e. this node directly extends other in the proposal tree.
func (n ProposalNode) Extends(other ProposalNode) bool {
	return n.ParentHash == other.Hash
}

// NewViewMessage is the NEW-VIEW message a replica sends the next leader on
// view-change, carrying the highest prepareQC it has observed so the new
// leader can safely propose (spec section 4.5).
type NewViewMessage struct {
	View       uint64
	SenderID   ReplicaID
	HighQC     Certificate
	HighQCHash Hash
}
