// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tusk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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
	return make([][]byte, len(batch.Requests)), nil
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.applied)
}

func newTestCluster(t *testing.T) ([]*Engine, []*countingExecutor) {
	t.Helper()
	cfg := config.Local(config.Tusk)
	members, err := validators.NewSet(cfg)
	require.NoError(t, err)

	publicKeys := make(map[types.ReplicaID][]byte, members.N())
	keyPairs := make(map[types.ReplicaID]crypto.KeyPair, members.N())
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

func TestTuskCommitsLeaderRound(t *testing.T) {
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

	for i, e := range engines {
		batch := types.NewBatch(e.members.Self(), uint64(i+1), []types.Request{{Payload: []byte("set x 1")}})
		require.NoError(t, e.SubmitBatch(ctx, batch))
	}

	require.Eventually(t, func() bool {
		for _, exec := range executors {
			if exec.count() == 0 {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStrongParentsCoverPreviousRoundCerts(t *testing.T) {
	engines, _ := newTestCluster(t)
	e := engines[0]
	parents := e.strongParents(0)
	require.Len(t, parents, e.members.N())
}
