// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hotstuff

import "github.com/resilientdb/core/types"

// safeNode decides whether a replica may vote for node given its locally
// locked QC (spec section 4.5). A node is safe if either:
//
//   - the safety rule: node extends the locked node in the proposal tree
//     (walking ParentHash must reach lockedHash), or
//   - the liveness rule: node's justifying QC (ParentQC) was formed in a
//     later view than the locked QC, proving a quorum has already moved
//     past the lock.
//
// At least one of the two rules needs to hold; this is what lets the
// protocol make progress after a view change without ever voting for two
// conflicting branches at the same height.
func (e *Engine) safeNode(node types.ProposalNode) bool {
	if e.lockedQC.Len() == 0 {
		return true
	}

	if e.extendsLocked(node) {
		return true
	}

	return node.ParentQC.View > e.lockedQC.View
}

// extendsLocked reports whether node's ancestor chain reaches the locked
// node's hash.
func (e *Engine) extendsLocked(node types.ProposalNode) bool {
	if e.lockedHash == (types.Hash{}) {
		return true
	}
	chain, err := e.store.ancestors(node.ParentHash, gcWindow)
	if err != nil && len(chain) == 0 {
		return false
	}
	for _, n := range chain {
		if n.Hash == e.lockedHash {
			return true
		}
	}
	return false
}
