// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package types

// PartialSignature is one replica's signature share over a certified
// message, collected by the quorum package until a Certificate can be
// formed.
type PartialSignature struct {
	Signer    ReplicaID
	Signature []byte
}

// Certificate is a quorum certificate: proof that at least QuorumSize
// replicas signed the same (Type, View, NodeHash) tuple. Chained-HotStuff
// nodes embed a Certificate for their parent (the "prepareQC"/"lockedQC" of
// spec section 4.5); a Tusk DAGCertificate embeds one for its block, while
// DAGBlock itself names its strong parents by hash only.
type Certificate struct {
	Type MessageType
	View uint64

	// NodeHash is the hash of the node/block/entry being certified.
	NodeHash Hash

	Signatures []PartialSignature
}

// Len reports the number of distinct signers in the certificate.
func (c Certificate) Len() int { return len(c.Signatures) }

// IsQuorum reports whether the certificate carries at least quorumSize
// distinct signatures. It does not itself verify any signature; that is
// the crypto package's job, invoked before a certificate is accepted into
// local state.
func (c Certificate) IsQuorum(quorumSize int) bool {
	seen := make(map[ReplicaID]struct{}, len(c.Signatures))
	for _, s := range c.Signatures {
		seen[s.Signer] = struct{}{}
	}
	return len(seen) >= quorumSize
}
