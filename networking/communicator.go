// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package networking adapts the core's ReplicaCommunicator capability
// (spec section 3: send_to, broadcast, inbound) to a concrete transport.
// The default transport is built on go-zeromq/zmq4's PUB/SUB and
// ROUTER/DEALER socket pairs, the same split the teacher's optional zmq
// transport uses: PUB/SUB carries broadcasts, ROUTER/DEALER carries
// point-to-point sends, so a protocol engine can fan a proposal out to
// every replica and still address a single NEW-VIEW message at the next
// leader.
package networking

import (
	"context"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/types"
)

// InboundMessage is one envelope received from a peer, tagged with the
// peer that sent it (for vote/certificate bookkeeping, not necessarily
// trusted until the crypto verifier checks the embedded signature).
type InboundMessage struct {
	From     types.ReplicaID
	Envelope codec.Envelope
}

// ReplicaCommunicator is the capability every protocol engine uses to
// exchange messages with the rest of the replica set. Implementations own
// connection lifecycle, retry/backoff, and back-pressure; callers only see
// the logical send/broadcast/receive operations.
type ReplicaCommunicator interface {
	// SendTo delivers env to a single peer. It returns once the message is
	// queued for transmission, not once the peer has processed it; replica
	// runtimes must not block their event loop on peer liveness.
	SendTo(ctx context.Context, peer types.ReplicaID, env codec.Envelope) error

	// Broadcast delivers env to every other configured replica.
	Broadcast(ctx context.Context, env codec.Envelope) error

	// Inbound returns the channel of messages received from peers. It is
	// closed when the communicator is stopped.
	Inbound() <-chan InboundMessage

	// Start begins connecting to peers and receiving messages.
	Start(ctx context.Context) error

	// Stop tears down all sockets and closes the Inbound channel.
	Stop() error
}
