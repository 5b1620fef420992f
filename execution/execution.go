// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package execution delivers committed batches to the external state
// machine in sequence order and acknowledges them back to the proxy that
// collected the client responses (spec section 3: Executor.apply(seq,
// batch); section 4.8/4.9: the execution pipeline).
package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/types"
)

// Executor is the external state machine every protocol engine commits
// into. It is supplied by the embedding application (spec section 3); the
// core never interprets Payload itself.
type Executor interface {
	// Apply executes batch at commit sequence seq and returns one
	// response per request, in request order. Apply must be
	// deterministic: every correct replica that reaches seq applies the
	// same batch and must produce the same responses.
	Apply(ctx context.Context, seq uint64, batch types.Batch) ([][]byte, error)
}

// ResponseSink delivers a committed request's response back to whichever
// proxy is holding the client connection (spec section 4.6).
type ResponseSink interface {
	Deliver(ctx context.Context, localID types.LocalID, req types.Request, response []byte)
}

// BatchResponder is an optional capability a ResponseSink may also
// implement to receive one callback per fully-applied batch, in addition
// to the per-request Deliver calls. The replica runtime uses it to
// assemble the single BatchResponse the batching layer's f+1 quorum
// tracker expects (spec section 4.6), without requiring every sink to
// carry batch-shaped bookkeeping. success is false when the batch's
// commit happened but Executor.Apply itself failed (spec section 7:
// ExecutorError), so the client sees a failure indicator even though the
// entry is durable in the ordered log.
type BatchResponder interface {
	DeliverBatch(ctx context.Context, batch types.Batch, responses [][]byte, success bool)
}

// Pipeline sequences committed batches for in-order delivery to Executor,
// tolerating protocol engines that commit out of seq order (Tusk's BFS
// linearization can finalize several rounds at once) by buffering until
// the gap closes.
type Pipeline struct {
	executor Executor
	sink     ResponseSink
	logger   log.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	nextSeq uint64
	pending map[uint64]types.Batch
}

// NewPipeline returns a Pipeline starting at seq 0.
func NewPipeline(executor Executor, sink ResponseSink, logger log.Logger, reg *metrics.Registry) *Pipeline {
	if logger == nil {
		logger = log.NewNoOp()
	}
	return &Pipeline{
		executor: executor,
		sink:     sink,
		logger:   logger,
		metrics:  reg,
		pending:  make(map[uint64]types.Batch),
	}
}

// Commit admits batch at seq. Batches are applied to Executor strictly in
// seq order; a batch that arrives ahead of nextSeq is buffered until the
// gap closes.
func (p *Pipeline) Commit(ctx context.Context, seq uint64, batch types.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq < p.nextSeq {
		return nil
	}
	p.pending[seq] = batch

	for {
		batch, ok := p.pending[p.nextSeq]
		if !ok {
			return nil
		}
		if err := p.apply(ctx, p.nextSeq, batch); err != nil {
			return fmt.Errorf("execution: applying seq %d: %w", p.nextSeq, err)
		}
		delete(p.pending, p.nextSeq)
		p.nextSeq++
	}
}

// apply hands batch to Executor and delivers its responses. Durability of
// the commit (advancing nextSeq, dropping the entry from pending) is
// independent of whether the executor accepted it: an ExecutorError still
// consumes the entry and reaches the client, tagged as a failure, rather
// than stalling every later seq behind it (spec section 7).
func (p *Pipeline) apply(ctx context.Context, seq uint64, batch types.Batch) error {
	responses, err := p.executor.Apply(ctx, seq, batch)
	success := err == nil
	if err != nil {
		p.logger.Warn("execution: executor rejected batch, committing with failure indicator",
			log.Uint64("seq", seq), log.Err(err))
		if p.metrics != nil {
			p.metrics.ExecutorErrors.Inc()
		}
		responses = make([][]byte, len(batch.Requests))
	} else if len(responses) != len(batch.Requests) {
		return fmt.Errorf("execution: executor returned %d responses for %d requests", len(responses), len(batch.Requests))
	}

	if p.metrics != nil {
		p.metrics.RequestsCommitted.Add(float64(len(batch.Requests)))
	}
	if p.sink == nil {
		return nil
	}
	for i, req := range batch.Requests {
		p.sink.Deliver(ctx, batch.LocalID, req, responses[i])
	}
	if br, ok := p.sink.(BatchResponder); ok {
		br.DeliverBatch(ctx, batch, responses, success)
	}
	return nil
}

// NextSeq returns the next sequence number the pipeline expects to apply,
// used by a replica resuming from a storage-backed checkpoint.
func (p *Pipeline) NextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextSeq
}

// SetNextSeq fast-forwards the pipeline's expectation, used once at
// startup after restoring state from storage.
func (p *Pipeline) SetNextSeq(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSeq = seq
}
