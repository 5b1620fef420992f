// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package replica

import (
	"context"
	"sync"

	"github.com/resilientdb/core/batching"
	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/types"
)

// responseAdapter implements execution.ResponseSink and the optional
// execution.BatchResponder: it is the glue between a committed batch and
// the f+1 response quorum the proxy's batching.Manager tracks. Per-request
// Deliver calls are ignored here; DeliverBatch assembles the single
// BatchResponse the manager expects (spec section 4.6).
type responseAdapter struct {
	selfID types.ReplicaID
	comm   networking.ReplicaCommunicator
	logger log.Logger

	mu      sync.RWMutex
	manager *batching.Manager
}

func newResponseAdapter(selfID types.ReplicaID, comm networking.ReplicaCommunicator, logger log.Logger) *responseAdapter {
	return &responseAdapter{selfID: selfID, comm: comm, logger: logger}
}

// setManager completes the adapter's wiring once the Manager exists; see
// NewRuntime for why this is deferred rather than passed at construction.
func (a *responseAdapter) setManager(m *batching.Manager) {
	a.mu.Lock()
	a.manager = m
	a.mu.Unlock()
}

// Deliver satisfies execution.ResponseSink. The batch-level path
// (DeliverBatch) carries the response this core reports, so per-request
// delivery is a no-op here.
func (a *responseAdapter) Deliver(ctx context.Context, localID types.LocalID, req types.Request, response []byte) {
}

// DeliverBatch reports batch's results back to whichever replica is
// holding the proxy's client connection: locally, when this replica
// assembled the batch itself, or over the transport otherwise. success is
// false when the batch committed but its executor application failed
// (spec section 7: ExecutorError), which this adapter passes through
// unchanged as the BatchResponse's failure indicator.
func (a *responseAdapter) DeliverBatch(ctx context.Context, batch types.Batch, responses [][]byte, success bool) {
	resp := types.BatchResponse{
		ProxyID:   batch.ProposerID,
		ReplicaID: a.selfID,
		LocalID:   batch.LocalID,
		Results:   responses,
		Success:   success,
	}

	if batch.ProposerID == a.selfID {
		a.mu.RLock()
		m := a.manager
		a.mu.RUnlock()
		if m != nil {
			m.Deliver(resp)
		}
		return
	}

	env := codec.Envelope{
		Type: types.MessageBatchResponse,
		Body: codec.MarshalBatchResponse(resp),
	}
	if err := a.comm.SendTo(ctx, batch.ProposerID, env); err != nil {
		a.logger.Warn("replica: sending batch response to proxy failed",
			log.Stringer("proxy", batch.ProposerID), log.Err(err))
	}
}
