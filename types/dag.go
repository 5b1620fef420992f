// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package types

// DAGBlock is one vertex of the Tusk DAG: a proposer's batch for a round,
// linked to the previous round by strong parents (certified vertices the
// proposer waited for) and weak parents (uncertified vertices it observed
// but did not wait for). Strong parents define the causal order the
// leader-commit BFS linearization walks; weak parents are carried only so
// no content is ever silently dropped (spec section 4.7).
type DAGBlock struct {
	Round      uint64
	ProposerID ReplicaID
	Hash       Hash

	StrongParents []Hash
	WeakParents   []Hash

	Batch Batch
}

// DAGCertificate certifies a DAGBlock: proof that at least QuorumSize
// replicas acknowledged having received and validated it. A round advances
// once a replica holds certificates for at least QuorumSize round-r
// blocks (spec section 4.7).
type DAGCertificate struct {
	Round     uint64
	BlockHash Hash
	Cert      Certificate
}

// DAGAck is one replica's acknowledgement of a DAGBlock, the vote the
// proposer collects into a DAGCertificate.
type DAGAck struct {
	Round     uint64
	BlockHash Hash
	AckerID   ReplicaID
	Signature []byte
}

// IsLeaderRound reports whether round r is a leader-commit round under the
// commit-every-2-rounds schedule (spec section 4.7).
func IsLeaderRound(r uint64) bool {
	return r%2 == 0
}
