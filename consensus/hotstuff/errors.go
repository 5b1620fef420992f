// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hotstuff

import "errors"

var (
	// ErrNotLeader is returned when ProposeIfLeader is called by a replica
	// that is not the current view's leader.
	ErrNotLeader = errors.New("hotstuff: not the leader for this view")

	// ErrUnsafeNode rejects a PREPARE proposal that fails the safe-node
	// predicate (spec section 4.5).
	ErrUnsafeNode = errors.New("hotstuff: proposal fails safe-node predicate")

	// ErrUnknownParent is returned when a node's parent hash is not in the
	// local node store, so its chain of quorum certificates cannot be
	// verified.
	ErrUnknownParent = errors.New("hotstuff: parent node not found")

	// ErrStaleView rejects a PREPARE for a view more than viewBoundary views
	// behind the replica's current view.
	ErrStaleView = errors.New("hotstuff: message view is stale")

	// ErrInvalidCertificate rejects a certificate that does not carry
	// enough distinct signatures for the configured quorum size.
	ErrInvalidCertificate = errors.New("hotstuff: certificate does not meet quorum size")

	// ErrWrongProposer rejects a PREPARE from a replica other than the
	// view's scheduled leader.
	ErrWrongProposer = errors.New("hotstuff: proposal not from the view's leader")
)
