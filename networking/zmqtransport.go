// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package networking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

// dialBackoff bounds the retry delay for a peer dealer socket that fails
// to dial; it doubles from dialMinBackoff up to dialMaxBackoff and resets
// once a dial succeeds.
const (
	dialMinBackoff = 50 * time.Millisecond
	dialMaxBackoff = 5 * time.Second
)

// inboundCapacity bounds the Inbound channel. A full channel applies
// back-pressure to receivers rather than letting memory grow unbounded
// under a slow consumer; ZMQTransport.dispatch drops the message and counts
// it rather than blocking the socket's receive loop.
const inboundCapacity = 4096

// ZMQTransport is the default ReplicaCommunicator, built on a PUB/SUB pair
// for broadcast and a ROUTER/DEALER pair for point-to-point sends.
type ZMQTransport struct {
	self    types.ReplicaID
	members *validators.Set
	logger  log.Logger
	metrics *metrics.Registry

	pub    zmq4.Socket
	sub    zmq4.Socket
	router zmq4.Socket

	mu      sync.RWMutex
	dealers map[types.ReplicaID]zmq4.Socket

	inbound chan InboundMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewZMQTransport builds a transport bound to this replica's configured
// host:port. Connections to peers are established lazily by Start.
func NewZMQTransport(self types.ReplicaID, members *validators.Set, logger log.Logger, reg *metrics.Registry) *ZMQTransport {
	return &ZMQTransport{
		self:    self,
		members: members,
		logger:  logger,
		metrics: reg,
		dealers: make(map[types.ReplicaID]zmq4.Socket),
		inbound: make(chan InboundMessage, inboundCapacity),
	}
}

func pubEndpoint(m validators.Member) string  { return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port) }
func routerEndpoint(m validators.Member) string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port+1000)
}

// Start binds this replica's PUB/ROUTER sockets and connects SUB/DEALER
// sockets to every other configured replica.
func (t *ZMQTransport) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	selfMember, ok := t.members.Member(t.self)
	if !ok {
		return fmt.Errorf("networking: self %s not in membership set", t.self)
	}

	t.pub = zmq4.NewPub(t.ctx)
	if err := t.pub.Listen(pubEndpoint(selfMember)); err != nil {
		return fmt.Errorf("networking: binding pub socket: %w", err)
	}

	t.router = zmq4.NewRouter(t.ctx)
	if err := t.router.Listen(routerEndpoint(selfMember)); err != nil {
		t.pub.Close()
		return fmt.Errorf("networking: binding router socket: %w", err)
	}

	t.sub = zmq4.NewSub(t.ctx)
	if err := t.sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		t.pub.Close()
		t.router.Close()
		return fmt.Errorf("networking: subscribing: %w", err)
	}

	for _, m := range t.members.Members() {
		if m.ID == t.self {
			continue
		}
		if err := t.sub.Dial(pubEndpoint(m)); err != nil {
			t.logger.Warn("networking: dial sub failed, will retry", log.Stringer("peer", m.ID), log.Err(err))
		}
		t.connectDealer(m)
	}

	t.wg.Add(2)
	go t.receiveBroadcasts()
	go t.receiveDirect()

	return nil
}

func (t *ZMQTransport) connectDealer(m validators.Member) {
	dealer := zmq4.NewDealer(t.ctx)
	backoff := dialMinBackoff
	go func() {
		for {
			if err := dealer.Dial(routerEndpoint(m)); err != nil {
				t.metrics.TransportFailures.Inc()
				t.logger.Warn("networking: dealer dial failed", log.Stringer("peer", m.ID), log.Err(err))
				select {
				case <-t.ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < dialMaxBackoff {
					backoff *= 2
				}
				continue
			}
			break
		}
		t.mu.Lock()
		t.dealers[m.ID] = dealer
		t.mu.Unlock()
	}()
}

// SendTo implements ReplicaCommunicator.
func (t *ZMQTransport) SendTo(ctx context.Context, peer types.ReplicaID, env codec.Envelope) error {
	t.mu.RLock()
	dealer, ok := t.dealers[peer]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("networking: no connection to peer %s", peer)
	}
	if err := dealer.Send(zmq4.NewMsgFrom(env.Marshal())); err != nil {
		t.metrics.TransportFailures.Inc()
		return fmt.Errorf("networking: send to %s: %w", peer, err)
	}
	return nil
}

// Broadcast implements ReplicaCommunicator.
func (t *ZMQTransport) Broadcast(ctx context.Context, env codec.Envelope) error {
	if err := t.pub.Send(zmq4.NewMsgFrom(env.Marshal())); err != nil {
		t.metrics.TransportFailures.Inc()
		return fmt.Errorf("networking: broadcast: %w", err)
	}
	return nil
}

// Inbound implements ReplicaCommunicator.
func (t *ZMQTransport) Inbound() <-chan InboundMessage { return t.inbound }

// Stop implements ReplicaCommunicator.
func (t *ZMQTransport) Stop() error {
	t.cancel()
	t.wg.Wait()

	t.pub.Close()
	t.sub.Close()
	t.router.Close()

	t.mu.Lock()
	for _, d := range t.dealers {
		d.Close()
	}
	t.mu.Unlock()

	close(t.inbound)
	return nil
}

func (t *ZMQTransport) receiveBroadcasts() {
	defer t.wg.Done()
	for {
		msg, err := t.sub.Recv()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if len(msg.Frames) == 0 {
			continue
		}
		t.dispatch(msg.Frames[0], types.ReplicaID{})
	}
}

func (t *ZMQTransport) receiveDirect() {
	defer t.wg.Done()
	for {
		msg, err := t.router.Recv()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		var from types.ReplicaID
		copy(from[:], msg.Frames[0])
		t.dispatch(msg.Frames[1], from)
	}
}

func (t *ZMQTransport) dispatch(data []byte, from types.ReplicaID) {
	env, err := codec.UnmarshalEnvelope(data)
	if err != nil {
		t.logger.Warn("networking: dropping malformed envelope", log.Err(err))
		return
	}
	select {
	case t.inbound <- InboundMessage{From: from, Envelope: env}:
	default:
		t.metrics.TransportFailures.Inc()
		t.logger.Warn("networking: inbound queue full, dropping message", log.Stringer("type", env.Type))
	}
}
