// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package networking

import (
	"context"
	"sync"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/types"
)

// MemoryNetwork wires a set of in-process MemoryCommunicators together, so
// protocol engine tests can exercise a full replica set's message flow
// without binding any sockets.
type MemoryNetwork struct {
	mu    sync.RWMutex
	peers map[types.ReplicaID]*MemoryCommunicator
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[types.ReplicaID]*MemoryCommunicator)}
}

// NewCommunicator registers and returns a new communicator for id.
func (n *MemoryNetwork) NewCommunicator(id types.ReplicaID) *MemoryCommunicator {
	c := &MemoryCommunicator{self: id, net: n, inbound: make(chan InboundMessage, inboundCapacity)}
	n.mu.Lock()
	n.peers[id] = c
	n.mu.Unlock()
	return c
}

// MemoryCommunicator is a ReplicaCommunicator backed by Go channels,
// delivering every send synchronously to the target's inbound channel.
type MemoryCommunicator struct {
	self    types.ReplicaID
	net     *MemoryNetwork
	inbound chan InboundMessage
}

func (c *MemoryCommunicator) Start(ctx context.Context) error { return nil }

func (c *MemoryCommunicator) Stop() error {
	close(c.inbound)
	return nil
}

func (c *MemoryCommunicator) Inbound() <-chan InboundMessage { return c.inbound }

func (c *MemoryCommunicator) SendTo(ctx context.Context, peer types.ReplicaID, env codec.Envelope) error {
	c.net.mu.RLock()
	dst, ok := c.net.peers[peer]
	c.net.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case dst.inbound <- InboundMessage{From: c.self, Envelope: env}:
	default:
	}
	return nil
}

func (c *MemoryCommunicator) Broadcast(ctx context.Context, env codec.Envelope) error {
	c.net.mu.RLock()
	defer c.net.mu.RUnlock()
	for id, dst := range c.net.peers {
		if id == c.self {
			continue
		}
		select {
		case dst.inbound <- InboundMessage{From: c.self, Envelope: env}:
		default:
		}
	}
	return nil
}

var _ ReplicaCommunicator = (*MemoryCommunicator)(nil)
