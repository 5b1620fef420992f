// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hotstuff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/crypto"
	"github.com/resilientdb/core/execution"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

type countingExecutor struct {
	mu      sync.Mutex
	applied []types.Batch
}

func (e *countingExecutor) Apply(ctx context.Context, seq uint64, batch types.Batch) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, batch)
	out := make([][]byte, len(batch.Requests))
	return out, nil
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.applied)
}

func newTestCluster(t *testing.T) ([]*Engine, []*countingExecutor) {
	t.Helper()
	cfg := config.Local(config.HotStuff)
	members, err := validators.NewSet(cfg)
	require.NoError(t, err)

	// Build one key pair per replica and a verifier set every replica
	// shares, matching a statically-provisioned deployment.
	keyPairs := make(map[types.ReplicaID]crypto.KeyPair, members.N())
	publicKeys := make(map[types.ReplicaID][]byte, members.N())
	for _, m := range members.Members() {
		kp, err := crypto.GenerateKeyPair(config.ED25519)
		require.NoError(t, err)
		keyPairs[m.ID] = kp
		publicKeys[m.ID] = kp.PublicKey
	}
	verifierSet, err := crypto.NewVerifierSet(config.ED25519, publicKeys)
	require.NoError(t, err)

	net := networking.NewMemoryNetwork()
	hasher := crypto.NewHasher(crypto.HashBLAKE3)

	engines := make([]*Engine, 0, members.N())
	executors := make([]*countingExecutor, 0, members.N())
	for _, m := range members.Members() {
		comm := net.NewCommunicator(m.ID)
		signer, err := crypto.NewSigner(keyPairs[m.ID])
		require.NoError(t, err)

		reg, err := metrics.NewRegistry(nil)
		require.NoError(t, err)

		exec := &countingExecutor{}
		pipe := execution.NewPipeline(exec, nil, log.NewNoOp(), reg)

		// members.Self() reflects cfg.SelfID for every replica's view of
		// the set; build a per-replica set so Self() differs.
		selfCfg := cfg
		selfCfg.SelfID = m.OrdinalID
		selfMembers, err := validators.NewSet(selfCfg)
		require.NoError(t, err)

		e := New(selfCfg, selfMembers, comm, hasher, signer, verifierSet, pipe, log.NewNoOp(), reg)
		engines = append(engines, e)
		executors = append(executors, exec)
	}
	return engines, executors
}

func TestChainedHotStuffCommitsOneBatch(t *testing.T) {
	engines, executors := newTestCluster(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, e := range engines {
		require.NoError(t, e.Start(ctx))
	}
	defer func() {
		for _, e := range engines {
			e.Stop()
		}
	}()

	leader := engines[0]
	batch := types.NewBatch(leader.members.Self(), 1, []types.Request{{Payload: []byte("set x 1")}})
	require.NoError(t, leader.ProposeIfLeader(ctx, batch))

	require.Eventually(t, func() bool {
		for _, exec := range executors {
			if exec.count() == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSafeNodeAcceptsGenesisExtension(t *testing.T) {
	engines, _ := newTestCluster(t)
	e := engines[0]
	node := types.ProposalNode{View: 1, ParentHash: e.highHash}
	require.True(t, e.safeNode(node))
}

// TestOnPrepareViewBoundary exercises spec section 8's view boundary
// property directly: a PREPARE trailing the current view by up to
// viewBoundary is still accepted, one view further behind is dropped as
// stale.
func TestOnPrepareViewBoundary(t *testing.T) {
	engines, _ := newTestCluster(t)
	e := engines[0]

	e.mu.Lock()
	e.view = 10
	e.mu.Unlock()

	accepted := types.ProposalNode{View: e.view - viewBoundary, ParentHash: e.highHash, Hash: types.Hash{0x01}}
	accepted.ProposerID = e.members.LeaderForView(accepted.View)
	env := codec.Envelope{Type: types.MessagePrepare, Body: codec.MarshalProposalNode(accepted)}
	require.NoError(t, e.onPrepare(context.Background(), env))

	dropped := types.ProposalNode{View: e.view - viewBoundary - 1, ParentHash: e.highHash, Hash: types.Hash{0x02}}
	dropped.ProposerID = e.members.LeaderForView(dropped.View)
	env = codec.Envelope{Type: types.MessagePrepare, Body: codec.MarshalProposalNode(dropped)}
	require.ErrorIs(t, e.onPrepare(context.Background(), env), ErrStaleView)
}
