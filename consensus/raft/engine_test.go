// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/config"
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
	cfg := config.LocalRaft()
	members, err := validators.NewSet(cfg)
	require.NoError(t, err)

	net := networking.NewMemoryNetwork()

	engines := make([]*Engine, 0, members.N())
	executors := make([]*countingExecutor, 0, members.N())
	for _, m := range members.Members() {
		comm := net.NewCommunicator(m.ID)

		reg, err := metrics.NewRegistry(nil)
		require.NoError(t, err)

		exec := &countingExecutor{}
		pipe := execution.NewPipeline(exec, nil, log.NewNoOp(), reg)

		selfCfg := cfg
		selfCfg.SelfID = m.OrdinalID
		selfMembers, err := validators.NewSet(selfCfg)
		require.NoError(t, err)

		e := New(selfCfg, selfMembers, comm, pipe, log.NewNoOp(), reg)
		engines = append(engines, e)
		executors = append(executors, exec)
	}
	return engines, executors
}

func TestRaftElectsASingleLeader(t *testing.T) {
	engines, _ := newTestCluster(t)
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

	require.Eventually(t, func() bool {
		leaders := 0
		for _, e := range engines {
			e.mu.Lock()
			if e.role == Leader {
				leaders++
			}
			e.mu.Unlock()
		}
		return leaders == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRaftReplicatesAndCommitsABatch(t *testing.T) {
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

	var leader *Engine
	require.Eventually(t, func() bool {
		for _, e := range engines {
			e.mu.Lock()
			isLeader := e.role == Leader
			e.mu.Unlock()
			if isLeader {
				leader = e
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	batch := types.NewBatch(leader.members.Self(), 1, []types.Request{{Payload: []byte("set x 1")}})
	require.NoError(t, leader.SubmitBatch(ctx, batch))

	require.Eventually(t, func() bool {
		for _, exec := range executors {
			if exec.count() == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}
