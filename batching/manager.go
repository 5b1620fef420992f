// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package batching implements the client-facing side of the core: request
// admission, local_id batch assembly, flight-control back-pressure, and
// f+1 response collection (spec section 4.6). It sits between the
// transport adapter and whichever protocol engine a replica runs, talking
// to that engine only through the narrow Proposer capability so the same
// manager serves HotStuff, Tusk, and Raft replicas unchanged.
package batching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/crypto"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

// ErrBatchTimeout is returned when a client's request does not receive
// f+1 matching responses within ClientTimeoutMs.
var ErrBatchTimeout = errors.New("batching: client batch timed out")

// ErrTransportFailed is returned when the batch could not be handed to the
// protocol engine at all (spec section 8: TransportError).
var ErrTransportFailed = errors.New("batching: failed to submit batch to protocol engine")

const backPressurePoll = 100 * time.Millisecond

// Proposer is the capability a protocol engine exposes to the batching
// layer: accept a sealed batch and drive it through consensus. All three
// consensus/* engines implement this identically.
type Proposer interface {
	SubmitBatch(ctx context.Context, batch types.Batch) error
}

type pendingRequest struct {
	req    types.Request
	result chan requestResult
}

type requestResult struct {
	payload []byte
	success bool
	err     error
}

// Manager assembles client requests into batches, submits them through a
// Proposer, and resolves each caller once its batch's response quorum is
// reached.
type Manager struct {
	cfg      config.Config
	proxyID  types.ReplicaID
	proposer Proposer
	comm     networking.ReplicaCommunicator
	members  *validators.Set
	hasher   crypto.Hasher
	signer   crypto.Signer
	logger   log.Logger
	metrics  *metrics.Registry

	responses *ResponseManager

	mu         sync.Mutex
	pending    []pendingRequest
	nextID     types.LocalID
	inFlight   int
	primaryIdx int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a Manager for proxyID, a replica's client-facing
// identity. signer may be nil when the deployment does not sign client
// batches. comm and members let the manager forward a batch to the
// believed primary and rotate toward a new one when the local engine
// rejects a proposal (spec section 4.4); either may be nil, in which case
// a local proposal failure fails the batch outright instead of forwarding.
func NewManager(cfg config.Config, proxyID types.ReplicaID, proposer Proposer, comm networking.ReplicaCommunicator, members *validators.Set, hasher crypto.Hasher, signer crypto.Signer, logger log.Logger, reg *metrics.Registry) *Manager {
	return &Manager{
		cfg:       cfg,
		proxyID:   proxyID,
		proposer:  proposer,
		comm:      comm,
		members:   members,
		hasher:    hasher,
		signer:    signer,
		logger:    logger,
		metrics:   reg,
		responses: NewResponseManager(cfg.MinClientReceiveNum),
	}
}

// Start begins the batch-assembly timer loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.batchLoop()
	return nil
}

// Stop ends the batch-assembly loop. Requests still pending are not sealed;
// their Submit calls end on their own timeout or context.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) batchLoop() {
	defer m.wg.Done()
	wait := time.Duration(m.cfg.ClientBatchWaitMs) * time.Millisecond
	if wait <= 0 {
		wait = time.Millisecond
	}
	ticker := time.NewTicker(wait)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sealReady(true)
		}
	}
}

// sealReady seals the pending buffer into a batch if it has reached
// batch_num requests, or unconditionally when force is true (the
// batch_wait_ms timeout firing).
func (m *Manager) sealReady(force bool) {
	m.mu.Lock()
	if len(m.pending) == 0 || (!force && len(m.pending) < m.cfg.ClientBatchNum) {
		m.mu.Unlock()
		return
	}
	batchSize := len(m.pending)
	if batchSize > m.cfg.ClientBatchNum {
		batchSize = m.cfg.ClientBatchNum
	}
	slice := m.pending[:batchSize]
	m.pending = m.pending[batchSize:]
	localID := m.nextID
	m.nextID++
	m.inFlight++
	m.mu.Unlock()

	go m.submit(localID, slice)
}

// Submit admits req for batching and blocks until its result is resolved
// (f+1 matching responses, transport failure, or ClientTimeoutMs
// expiry), implementing the back-pressure described in spec section 4.6:
// "in_flight counter bounded by max_process_txn".
func (m *Manager) Submit(ctx context.Context, req types.Request) ([]byte, bool, error) {
	if err := m.awaitCapacity(ctx); err != nil {
		return nil, false, err
	}

	resultC := make(chan requestResult, 1)
	m.mu.Lock()
	m.pending = append(m.pending, pendingRequest{req: req, result: resultC})
	ready := len(m.pending) >= m.cfg.ClientBatchNum
	m.mu.Unlock()
	if ready {
		m.sealReady(true)
	}

	timeout := time.Duration(m.cfg.ClientTimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultC:
		return res.payload, res.success, res.err
	case <-timer.C:
		return nil, false, ErrBatchTimeout
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// awaitCapacity blocks the caller while in_flight has reached
// max_process_txn, polling every 100 ms per spec section 4.6.
func (m *Manager) awaitCapacity(ctx context.Context) error {
	ticker := time.NewTicker(backPressurePoll)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		full := m.inFlight >= m.cfg.MaxProcessTxn
		m.mu.Unlock()
		if !full {
			return nil
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// submit seals requests into a Batch keyed by localID, hands it to the
// Proposer, then waits for the f+1 quorum response and fans the per-index
// result out to each waiting caller.
func (m *Manager) submit(localID types.LocalID, requests []pendingRequest) {
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	reqs := make([]types.Request, len(requests))
	for i, p := range requests {
		reqs[i] = p.req
	}
	batch := types.NewBatch(m.proxyID, localID, reqs)
	batch.Hash = crypto.HashBatch(m.hasher, batch)

	awaitC := m.responses.Await(localID)

	ctx, cancel := context.WithTimeout(m.ctx, time.Duration(m.cfg.ClientTimeoutMs)*time.Millisecond)
	defer cancel()

	if err := m.proposer.SubmitBatch(ctx, batch); err != nil {
		if m.comm == nil || m.members == nil {
			m.responses.Cancel(localID)
			if m.metrics != nil {
				m.metrics.TransportFailures.Inc()
			}
			m.failAll(requests, fmt.Errorf("%w: %v", ErrTransportFailed, err))
			return
		}
		// The local engine rejected the proposal (e.g. this replica is not
		// the current leader/primary); forward the already-sealed batch to
		// whichever replica this manager believes is primary instead of
		// failing the client outright, rotating toward a new primary on
		// every forwarding round that draws no response (spec section 4.4).
		go m.forwardUntilResolved(ctx, batch)
	} else if m.metrics != nil {
		m.metrics.BatchesProposed.Inc()
	}

	select {
	case resp := <-awaitC:
		m.resolveAll(requests, resp)
	case <-ctx.Done():
		m.responses.Cancel(localID)
		m.failAll(requests, ErrBatchTimeout)
	}
}

// forwardRotateInterval reuses the view-change timer's minimum as the
// window a forwarded batch gets before this manager gives up on the
// current primary guess and rotates to the next replica.
func (m *Manager) forwardRotateInterval() time.Duration {
	if m.cfg.TimeoutMinMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(m.cfg.TimeoutMinMs) * time.Millisecond
}

// forwardUntilResolved sends batch to the current primary guess and keeps
// rotating and resending every forwardRotateInterval until ctx expires
// (the caller's overall ClientTimeoutMs), relying on the normal
// responses.Await(localID)/ctx.Done() select in submit to notice the
// moment any attempt succeeds.
func (m *Manager) forwardUntilResolved(ctx context.Context, batch types.Batch) {
	if m.metrics != nil {
		m.metrics.PrimaryForwards.Inc()
	}
	m.sendToPrimary(ctx, batch)

	ticker := time.NewTicker(m.forwardRotateInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rotatePrimary()
			if m.metrics != nil {
				m.metrics.PrimaryForwards.Inc()
			}
			m.sendToPrimary(ctx, batch)
		}
	}
}

// currentPrimary returns this manager's rotating guess at the replica most
// likely to be the current leader/primary.
func (m *Manager) currentPrimary() types.ReplicaID {
	members := m.members.Members()
	m.mu.Lock()
	idx := m.primaryIdx % len(members)
	m.mu.Unlock()
	return members[idx].ID
}

// rotatePrimary advances the primary guess to the next replica in
// membership order.
func (m *Manager) rotatePrimary() {
	m.mu.Lock()
	m.primaryIdx++
	m.mu.Unlock()
}

func (m *Manager) sendToPrimary(ctx context.Context, batch types.Batch) {
	peer := m.currentPrimary()
	env := codec.Envelope{Type: types.MessageBatchForward, Body: codec.MarshalBatch(batch)}
	if err := m.comm.SendTo(ctx, peer, env); err != nil {
		m.logger.Warn("batching: forwarding batch to primary failed",
			log.Stringer("primary", peer), log.Err(err))
	}
}

func (m *Manager) resolveAll(requests []pendingRequest, resp types.BatchResponse) {
	for i, p := range requests {
		var payload []byte
		if i < len(resp.Results) {
			payload = resp.Results[i]
		}
		p.result <- requestResult{payload: payload, success: resp.Success}
	}
}

func (m *Manager) failAll(requests []pendingRequest, err error) {
	for _, p := range requests {
		p.result <- requestResult{err: err}
	}
}

// Deliver forwards an incoming replica BatchResponse (received over the
// transport) to the response quorum tracker. Responses addressed to a
// different proxy are ignored; a replica may host only one Manager per
// proxy identity.
func (m *Manager) Deliver(resp types.BatchResponse) {
	if resp.ProxyID != m.proxyID {
		return
	}
	m.responses.Deliver(resp)
}

// InFlight reports the current number of un-resolved batches, exposed for
// Health().
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// SubmitForwarded accepts a batch forwarded by another replica's Manager
// (a MessageBatchForward envelope) and hands it to the local proposer
// directly, bypassing local request admission/assembly since the batch is
// already sealed and still carries the originating proxy's ReplicaID. The
// normal commit/response path delivers the result back to that proxy
// without this replica's own Manager ever tracking the batch.
func (m *Manager) SubmitForwarded(ctx context.Context, batch types.Batch) error {
	return m.proposer.SubmitBatch(ctx, batch)
}
