// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package replica

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/consensus/raft"
	"github.com/resilientdb/core/crypto"
	"github.com/resilientdb/core/execution"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

type echoExecutor struct {
	mu      sync.Mutex
	applied int
}

func (e *echoExecutor) Apply(ctx context.Context, seq uint64, batch types.Batch) ([][]byte, error) {
	e.mu.Lock()
	e.applied += len(batch.Requests)
	e.mu.Unlock()
	results := make([][]byte, len(batch.Requests))
	for i, r := range batch.Requests {
		results[i] = r.Payload
	}
	return results, nil
}

func newTestRuntimeCluster(t *testing.T) []*Runtime {
	t.Helper()
	cfg := config.LocalRaft()
	cfg.ClientBatchNum = 1
	cfg.ClientBatchWaitMs = 5
	cfg.ClientTimeoutMs = 5000

	members, err := validators.NewSet(cfg)
	require.NoError(t, err)

	net := networking.NewMemoryNetwork()
	hasher := crypto.NewHasher(crypto.HashBLAKE2B)

	runtimes := make([]*Runtime, 0, members.N())
	for _, m := range members.Members() {
		comm := net.NewCommunicator(m.ID)

		reg, err := metrics.NewRegistry(nil)
		require.NoError(t, err)

		selfCfg := cfg
		selfCfg.SelfID = m.OrdinalID
		selfMembers, err := validators.NewSet(selfCfg)
		require.NoError(t, err)

		exec := &echoExecutor{}
		rt := NewRuntime(selfCfg, selfMembers, comm, exec, hasher, nil, log.NewNoOp(), reg,
			func(pipe *execution.Pipeline) Engine {
				return raft.New(selfCfg, selfMembers, comm, pipe, log.NewNoOp(), reg)
			})
		runtimes = append(runtimes, rt)
	}
	return runtimes
}

func TestRuntimeSubmitResolvesThroughConsensus(t *testing.T) {
	runtimes := newTestRuntimeCluster(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, rt := range runtimes {
		require.NoError(t, rt.Start(ctx))
	}
	defer func() {
		for _, rt := range runtimes {
			rt.Shutdown()
		}
	}()

	hasher := crypto.NewHasher(crypto.HashBLAKE2B)

	// The leader is not known in advance, and SubmitBatch fails fast on a
	// follower, so try every replica each round until whichever is leader
	// accepts and resolves the request.
	var response []byte
	var ok bool
	var err error
	require.Eventually(t, func() bool {
		for _, rt := range runtimes {
			submitCtx, submitCancel := context.WithTimeout(ctx, 500*time.Millisecond)
			response, ok, err = rt.Submit(submitCtx, rt.members.Self(), 1, []byte("ping"), hasher)
			submitCancel()
			if err == nil {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("ping"), response)
}

func TestRuntimeHealthReportsRunning(t *testing.T) {
	runtimes := newTestRuntimeCluster(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := runtimes[0]
	require.False(t, rt.Health().Running)
	require.NoError(t, rt.Start(ctx))
	defer rt.Shutdown()

	require.True(t, rt.Health().Running)
}
