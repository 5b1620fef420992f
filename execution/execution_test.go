// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/types"
)

type echoExecutor struct {
	applied []uint64
}

func (e *echoExecutor) Apply(ctx context.Context, seq uint64, batch types.Batch) ([][]byte, error) {
	e.applied = append(e.applied, seq)
	out := make([][]byte, len(batch.Requests))
	for i, r := range batch.Requests {
		out[i] = r.Payload
	}
	return out, nil
}

type recordingSink struct {
	delivered    []types.LocalID
	batchResults []bool
}

func (s *recordingSink) Deliver(ctx context.Context, localID types.LocalID, req types.Request, response []byte) {
	s.delivered = append(s.delivered, localID)
}

func (s *recordingSink) DeliverBatch(ctx context.Context, batch types.Batch, responses [][]byte, success bool) {
	s.batchResults = append(s.batchResults, success)
}

// failingExecutor fails at a single chosen seq and echoes the payload for
// every other seq, standing in for an external state machine that rejects
// one command but otherwise applies correctly.
type failingExecutor struct {
	echoExecutor
	failAt uint64
}

func (e *failingExecutor) Apply(ctx context.Context, seq uint64, batch types.Batch) ([][]byte, error) {
	if seq == e.failAt {
		e.applied = append(e.applied, seq)
		return nil, errors.New("executor: rejected")
	}
	return e.echoExecutor.Apply(ctx, seq, batch)
}

func batchWithOneRequest(localID types.LocalID) types.Batch {
	return types.NewBatch(ids.GenerateTestNodeID(), localID, []types.Request{{Payload: []byte("x")}})
}

func TestPipelineAppliesInOrder(t *testing.T) {
	exec := &echoExecutor{}
	sink := &recordingSink{}
	p := NewPipeline(exec, sink, nil, nil)

	require.NoError(t, p.Commit(context.Background(), 0, batchWithOneRequest(1)))
	require.Equal(t, []uint64{0}, exec.applied)
	require.Equal(t, uint64(1), p.NextSeq())
}

func TestPipelineBuffersOutOfOrderCommits(t *testing.T) {
	exec := &echoExecutor{}
	p := NewPipeline(exec, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, p.Commit(ctx, 2, batchWithOneRequest(3)))
	require.Empty(t, exec.applied)

	require.NoError(t, p.Commit(ctx, 1, batchWithOneRequest(2)))
	require.Empty(t, exec.applied)

	require.NoError(t, p.Commit(ctx, 0, batchWithOneRequest(1)))
	require.Equal(t, []uint64{0, 1, 2}, exec.applied)
}

// TestPipelineSurvivesExecutorError exercises spec section 7's
// ExecutorError semantics: a failing Apply must not stall the pipeline.
// The commit still advances nextSeq and consumes the pending entry, the
// client still gets a response, and later seqs keep applying.
func TestPipelineSurvivesExecutorError(t *testing.T) {
	exec := &failingExecutor{failAt: 1}
	sink := &recordingSink{}
	p := NewPipeline(exec, sink, nil, nil)
	ctx := context.Background()

	require.NoError(t, p.Commit(ctx, 0, batchWithOneRequest(1)))
	require.NoError(t, p.Commit(ctx, 1, batchWithOneRequest(2)))
	require.NoError(t, p.Commit(ctx, 2, batchWithOneRequest(3)))

	require.Equal(t, []uint64{0, 1, 2}, exec.applied)
	require.Equal(t, uint64(3), p.NextSeq(), "pipeline must advance past the failed seq")
	require.Equal(t, []types.LocalID{1, 2, 3}, sink.delivered, "client must still receive a response for the failed seq")
	require.Equal(t, []bool{true, false, true}, sink.batchResults, "seq 1's batch response must carry the failure indicator")
}

func TestPipelineIgnoresStaleCommit(t *testing.T) {
	exec := &echoExecutor{}
	p := NewPipeline(exec, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, p.Commit(ctx, 0, batchWithOneRequest(1)))
	require.NoError(t, p.Commit(ctx, 0, batchWithOneRequest(99)))
	require.Equal(t, []uint64{0}, exec.applied)
}
