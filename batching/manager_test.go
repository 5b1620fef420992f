// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package batching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/crypto"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

// fakeProposer records submitted batches and echoes a BatchResponse back
// through a response manager, standing in for a protocol engine.
type fakeProposer struct {
	mu        sync.Mutex
	submitted []types.Batch
	responses *ResponseManager
	replicas  []types.ReplicaID
	fail      bool
}

func (p *fakeProposer) SubmitBatch(ctx context.Context, batch types.Batch) error {
	p.mu.Lock()
	p.submitted = append(p.submitted, batch)
	p.mu.Unlock()

	if p.fail {
		return ErrTransportFailed
	}

	results := make([][]byte, len(batch.Requests))
	for i := range batch.Requests {
		results[i] = []byte("ok")
	}
	for _, r := range p.replicas {
		p.responses.Deliver(types.BatchResponse{
			ProxyID:   batch.ProposerID,
			ReplicaID: r,
			LocalID:   batch.LocalID,
			Results:   results,
			Success:   true,
		})
	}
	return nil
}

func newTestManager(t *testing.T, needed int, fail bool) (*Manager, *fakeProposer) {
	t.Helper()
	cfg := config.Local(config.HotStuff)
	cfg.ClientBatchNum = 1
	cfg.ClientBatchWaitMs = 5
	cfg.MaxProcessTxn = 8
	cfg.ClientTimeoutMs = 2000
	cfg.MinClientReceiveNum = needed

	responses := NewResponseManager(needed)
	proposer := &fakeProposer{responses: responses, fail: fail, replicas: []types.ReplicaID{ids.GenerateTestNodeID(), ids.GenerateTestNodeID()}}

	hasher := crypto.NewHasher(crypto.HashBLAKE3)
	m := NewManager(cfg, ids.GenerateTestNodeID(), proposer, nil, nil, hasher, nil, log.NewNoOp(), nil)
	m.responses = responses
	return m, proposer
}

// recordingComm is a ReplicaCommunicator fake that records every peer a
// SendTo call addressed, used to observe Manager's primary-forwarding and
// rotation behavior without a real transport.
type recordingComm struct {
	mu   sync.Mutex
	sent []types.ReplicaID
}

func (c *recordingComm) SendTo(ctx context.Context, peer types.ReplicaID, env codec.Envelope) error {
	c.mu.Lock()
	c.sent = append(c.sent, peer)
	c.mu.Unlock()
	return nil
}

func (c *recordingComm) Broadcast(ctx context.Context, env codec.Envelope) error { return nil }
func (c *recordingComm) Inbound() <-chan networking.InboundMessage              { return nil }
func (c *recordingComm) Start(ctx context.Context) error                        { return nil }
func (c *recordingComm) Stop() error                                            { return nil }

func (c *recordingComm) peers() []types.ReplicaID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ReplicaID, len(c.sent))
	copy(out, c.sent)
	return out
}

var _ networking.ReplicaCommunicator = (*recordingComm)(nil)

func TestManagerResolvesOnQuorum(t *testing.T) {
	m, proposer := newTestManager(t, 2, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	req := types.Request{Payload: []byte("set x 1")}
	payload, success, err := m.Submit(ctx, req)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, []byte("ok"), payload)
	require.Len(t, proposer.submitted, 1)
}

func TestManagerSurfacesTransportFailure(t *testing.T) {
	m, _ := newTestManager(t, 2, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	_, _, err := m.Submit(ctx, types.Request{Payload: []byte("set x 1")})
	require.ErrorIs(t, err, ErrTransportFailed)
}

// TestManagerForwardsAndRotatesPrimaryOnTimeout exercises spec section
// 4.4's "send to the current primary, rotate primary on timeout": when the
// local proposer rejects a batch but comm/members are configured, the
// manager must forward the sealed batch to its primary guess and advance
// to a different replica if no response arrives within the rotate window,
// rather than failing the client outright.
func TestManagerForwardsAndRotatesPrimaryOnTimeout(t *testing.T) {
	cfg := config.Local(config.HotStuff)
	cfg.ClientBatchNum = 1
	cfg.ClientBatchWaitMs = 5
	cfg.MaxProcessTxn = 8
	cfg.ClientTimeoutMs = 300
	cfg.MinClientReceiveNum = 1
	cfg.TimeoutMinMs = 20
	cfg.TimeoutMaxMs = 40
	cfg.HeartbeatMs = 5
	cfg.SelfID = 1
	require.NoError(t, cfg.Valid())

	members, err := validators.NewSet(cfg)
	require.NoError(t, err)

	responses := NewResponseManager(cfg.MinClientReceiveNum)
	proposer := &fakeProposer{responses: responses, fail: true}
	comm := &recordingComm{}
	hasher := crypto.NewHasher(crypto.HashBLAKE3)

	m := NewManager(cfg, members.Self(), proposer, comm, members, hasher, nil, log.NewNoOp(), nil)
	m.responses = responses

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	resultC := make(chan requestResult, 1)
	go func() {
		payload, success, submitErr := m.Submit(ctx, types.Request{Payload: []byte("set x 1")})
		resultC <- requestResult{payload: payload, success: success, err: submitErr}
	}()

	require.Eventually(t, func() bool {
		return len(comm.peers()) >= 2
	}, time.Second, 5*time.Millisecond, "manager should keep forwarding to a rotating primary guess")

	peers := comm.peers()
	require.NotEqual(t, peers[0], peers[1], "manager should rotate to a new primary guess on timeout")

	// Resolve the still-pending batch as if the forwarded batch committed
	// elsewhere and its response routed back over the transport.
	m.Deliver(types.BatchResponse{ProxyID: members.Self(), LocalID: 0, Results: [][]byte{[]byte("ok")}, Success: true})

	res := <-resultC
	require.NoError(t, res.err)
	require.True(t, res.success)
	require.Equal(t, []byte("ok"), res.payload)
}

func TestManagerEnforcesInFlightBackpressure(t *testing.T) {
	m, _ := newTestManager(t, 2, false)
	m.cfg.MaxProcessTxn = 0

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	_, _, err := m.Submit(ctx, types.Request{Payload: []byte("set x 1")})
	require.Error(t, err)
}
