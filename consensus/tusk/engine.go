// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tusk implements the DAG-based ordering core: replicas propose one
// block per round referencing 2f+1 strong-parent certificates from the
// previous round, certify each other's blocks, and commit every other
// round's leader block by a BFS linearization of its causal history (spec
// section 4.6).
package tusk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/crypto"
	"github.com/resilientdb/core/execution"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/quorum"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/utils/set"
	"github.com/resilientdb/core/validators"
)

// roundPollInterval bounds how often the event loop checks whether the
// previous round has certified enough blocks to propose the next one
// (spec section 5: "DAG round readiness in Tusk, wait up to 1 ms").
const roundPollInterval = time.Millisecond

// Engine runs one replica's side of the Tusk DAG protocol.
type Engine struct {
	cfg     config.Config
	members *validators.Set
	comm    networking.ReplicaCommunicator
	hasher  crypto.Hasher
	signer  crypto.Signer
	verify  crypto.Verifier
	pipe    *execution.Pipeline
	logger  log.Logger
	metrics *metrics.Registry

	quorum *quorum.Set
	store  *dagStore

	mu                 sync.Mutex
	round              uint64
	lastCommittedRound int64
	execSeq            uint64
	pendingBatch       *types.Batch

	// clientHandler, if set, receives client-facing envelopes (new
	// requests, batch responses) that arrive on the same inbound stream as
	// DAG protocol messages.
	clientHandler func(context.Context, codec.Envelope) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetClientHandler registers fn to handle MessageNewRequest,
// MessageBatchResponse, and MessageBatchForward envelopes, wiring the
// batching layer into this engine's single inbound-dispatch loop.
func (e *Engine) SetClientHandler(fn func(context.Context, codec.Envelope) error) {
	e.clientHandler = fn
}

// New builds an Engine and seeds round 0 with a trivially-certified
// bootstrap block per replica so round-1 proposals can begin immediately.
func New(
	cfg config.Config,
	members *validators.Set,
	comm networking.ReplicaCommunicator,
	hasher crypto.Hasher,
	signer crypto.Signer,
	verify crypto.Verifier,
	pipe *execution.Pipeline,
	logger log.Logger,
	reg *metrics.Registry,
) *Engine {
	store := newDAGStore()
	for _, m := range members.Members() {
		genesis := types.DAGBlock{Round: 0, ProposerID: m.ID}
		genesis.Hash = hasher.Hash(codec.MarshalDAGBlock(genesis))
		store.putBlock(genesis)
		store.putCert(types.DAGCertificate{Round: 0, BlockHash: genesis.Hash}, m.ID)
	}

	return &Engine{
		cfg:                cfg,
		members:            members,
		comm:               comm,
		hasher:             hasher,
		signer:             signer,
		verify:             verify,
		pipe:               pipe,
		logger:             logger,
		metrics:            reg,
		quorum:             quorum.NewSet(),
		store:              store,
		round:              1,
		lastCommittedRound: -2,
	}
}

// Start begins the event loop: inbound dispatch plus the round-readiness
// poll that attempts to propose whenever the previous round certifies.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop ends the event loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(roundPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.comm.Inbound():
			if !ok {
				return
			}
			if err := e.handle(e.ctx, msg.Envelope); err != nil {
				e.logger.Warn("tusk: dropping message", log.Stringer("type", msg.Envelope.Type), log.Err(err))
			}
		case <-ticker.C:
			if err := e.tryPropose(e.ctx); err != nil && err != ErrRoundNotReady && err != ErrAlreadyProposed {
				e.logger.Warn("tusk: proposing failed", log.Err(err))
			}
		}
	}
}

// SubmitBatch hands pendingBatch to tryPropose the next time the previous
// round is ready; the batching layer calls this once per assembled batch.
func (e *Engine) SubmitBatch(ctx context.Context, batch types.Batch) error {
	e.mu.Lock()
	e.pendingBatch = &batch
	e.mu.Unlock()
	return e.tryPropose(ctx)
}

func (e *Engine) handle(ctx context.Context, env codec.Envelope) error {
	switch env.Type {
	case types.MessageDAGPropose:
		return e.onPropose(ctx, env)
	case types.MessageDAGAck:
		return e.onAck(ctx, env)
	case types.MessageDAGCert:
		return e.onCert(ctx, env)
	case types.MessageNewRequest, types.MessageBatchResponse, types.MessageBatchForward:
		if e.clientHandler != nil {
			return e.clientHandler(ctx, env)
		}
		return nil
	default:
		return fmt.Errorf("tusk: unhandled message type %s", env.Type)
	}
}

// tryPropose builds and broadcasts this replica's block for the current
// round once the previous round has at least QuorumSize certified blocks
// including this replica's own (spec section 4.6, step 1: Propose).
func (e *Engine) tryPropose(ctx context.Context) error {
	e.mu.Lock()
	round := e.round
	self := e.members.Self()
	e.mu.Unlock()

	if e.store.hasProposed(round, self) {
		return ErrAlreadyProposed
	}
	if round > 1 {
		if _, ok := e.store.certFor(round-1, self); !ok {
			return ErrRoundNotReady
		}
		if e.store.certCount(round-1) < e.members.QuorumSize() {
			return ErrRoundNotReady
		}
	}

	strong := e.strongParents(round - 1)
	weak := e.weakParents(round, strong)

	batch := e.takePendingBatch()
	blk := types.DAGBlock{
		Round:         round,
		ProposerID:    self,
		StrongParents: strong,
		WeakParents:   weak,
		Batch:         batch,
	}
	blk.Batch.Hash = crypto.HashBatch(e.hasher, blk.Batch)
	blk.Hash = e.hasher.Hash(codec.MarshalDAGBlock(blk))

	e.store.putBlock(blk)

	key := quorum.Key{Type: types.MessageDAGAck, View: round, Hash: blk.Hash}
	e.quorum.Add(key, e.members.QuorumSize())

	env := codec.Envelope{Type: types.MessageDAGPropose, Epoch: round, Body: codec.MarshalDAGBlock(blk)}
	if e.metrics != nil {
		e.metrics.BatchesProposed.Inc()
	}
	return e.comm.Broadcast(ctx, env)
}

// strongParents returns the proposer set certified at round, which must
// number at least QuorumSize once tryPropose's readiness check passes.
func (e *Engine) strongParents(round uint64) []types.Hash {
	certs := e.store.certsAt(round)
	hashes := make([]types.Hash, 0, len(certs))
	for _, c := range certs {
		hashes = append(hashes, c.BlockHash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].String() < hashes[j].String() })
	return hashes
}

// weakParents finds, for every member not represented among strong,
// the most recent certified block of theirs older than round-1 that is
// not already referenced as a strong parent elsewhere (spec: "weak
// parents from older rounds with no newer cert").
func (e *Engine) weakParents(round uint64, strong []types.Hash) []types.Hash {
	strongSet := set.Of(strong...)

	var weak []types.Hash
	for _, m := range e.members.Members() {
		if _, ok := e.store.certFor(round-1, m.ID); ok {
			continue
		}
		for r := int64(round) - 2; r >= 0; r-- {
			c, ok := e.store.certFor(uint64(r), m.ID)
			if !ok {
				continue
			}
			if !strongSet.Contains(c.BlockHash) {
				weak = append(weak, c.BlockHash)
			}
			break
		}
	}
	return weak
}

func (e *Engine) takePendingBatch() types.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingBatch == nil {
		return types.Batch{ProposerID: e.members.Self()}
	}
	b := *e.pendingBatch
	e.pendingBatch = nil
	return b
}

// onPropose validates an incoming block's strong parents against
// certificates already held, then acknowledges it (spec section 4.6,
// steps 1-2: Propose, Acknowledge).
func (e *Engine) onPropose(ctx context.Context, env codec.Envelope) error {
	blk, err := codec.UnmarshalDAGBlock(env.Body)
	if err != nil {
		return fmt.Errorf("tusk: decoding propose: %w", err)
	}
	verified := 0
	for _, parentHash := range blk.StrongParents {
		parent, ok := e.store.block(parentHash)
		if !ok {
			continue
		}
		if _, ok := e.store.certFor(parent.Round, parent.ProposerID); ok {
			verified++
		}
	}
	if blk.Round > 0 && verified < e.members.QuorumSize() {
		if e.metrics != nil {
			e.metrics.ProtocolViolations.Inc()
		}
		return ErrInvalidCertificate
	}

	e.store.putBlock(blk)

	sig, err := e.signer.Sign(blk.Hash[:])
	if err != nil {
		return fmt.Errorf("tusk: signing ack: %w", err)
	}
	ack := types.DAGAck{Round: blk.Round, BlockHash: blk.Hash, AckerID: e.members.Self(), Signature: sig}
	env2 := codec.Envelope{Type: types.MessageDAGAck, Epoch: blk.Round, Body: codec.MarshalDAGAck(ack)}
	return e.comm.SendTo(ctx, blk.ProposerID, env2)
}

// onAck collects acknowledgements for a block this replica proposed,
// certifying and broadcasting once QuorumSize distinct acks are in (spec
// section 4.6, step 3: Certify).
func (e *Engine) onAck(ctx context.Context, env codec.Envelope) error {
	ack, err := codec.UnmarshalDAGAck(env.Body)
	if err != nil {
		return fmt.Errorf("tusk: decoding ack: %w", err)
	}
	if !e.verify.Verify(ack.AckerID, ack.BlockHash[:], ack.Signature) {
		if e.metrics != nil {
			e.metrics.ProtocolViolations.Inc()
		}
		return fmt.Errorf("tusk: ack signature verification failed from %s", ack.AckerID)
	}

	key := quorum.Key{Type: types.MessageDAGAck, View: ack.Round, Hash: ack.BlockHash}
	e.quorum.Add(key, e.members.QuorumSize())
	cert, done := e.quorum.Vote(key, ack.AckerID, ack.Signature)
	if !done {
		return nil
	}

	dagCert := types.DAGCertificate{Round: ack.Round, BlockHash: ack.BlockHash, Cert: cert}
	e.store.putCert(dagCert, e.members.Self())
	if e.metrics != nil {
		e.metrics.BatchesCommitted.Inc()
	}
	env2 := codec.Envelope{Type: types.MessageDAGCert, Epoch: ack.Round, Body: codec.MarshalDAGCertificate(dagCert)}
	return e.comm.Broadcast(ctx, env2)
}

// onCert adopts a certificate for a block proposed elsewhere, bumping the
// strong-parent reference counts the commit rule reads, then checks
// whether any new round has crossed the commit threshold (spec section
// 4.6, step 4: Adopt cert).
func (e *Engine) onCert(ctx context.Context, env codec.Envelope) error {
	dagCert, err := codec.UnmarshalDAGCertificate(env.Body)
	if err != nil {
		return fmt.Errorf("tusk: decoding cert: %w", err)
	}
	if !dagCert.Cert.IsQuorum(e.members.QuorumSize()) {
		if e.metrics != nil {
			e.metrics.ProtocolViolations.Inc()
		}
		return ErrInvalidCertificate
	}

	blk, ok := e.store.block(dagCert.BlockHash)
	if !ok {
		// Parent arrives later than its certificate: tolerated per spec
		// section 4.6 ("a missing parent is tolerated").
		return nil
	}

	e.store.putCert(dagCert, blk.ProposerID)
	for _, parentHash := range blk.StrongParents {
		if parent, ok := e.store.block(parentHash); ok {
			e.store.addRef(parent.Round, parent.ProposerID)
		}
	}

	e.mu.Lock()
	if blk.Round >= e.round {
		e.round = blk.Round + 1
	}
	e.mu.Unlock()

	return e.tryCommit(ctx)
}

// tryCommit applies the Tusk commit rule: for each even round after
// lastCommittedRound+2, if leader(r)'s block has been strong-referenced by
// at least QuorumSize later blocks, commit it (spec section 4.6, "Commit
// rule").
func (e *Engine) tryCommit(ctx context.Context) error {
	e.mu.Lock()
	last := e.lastCommittedRound
	e.mu.Unlock()

	for r := uint64(last + 2); ; r += 2 {
		leader := e.members.LeaderForView(r / 2)
		if e.store.refCount(r, leader) < e.members.QuorumSize() {
			break
		}
		if err := e.commitLeader(ctx, r, leader); err != nil {
			return err
		}
		e.mu.Lock()
		e.lastCommittedRound = int64(r)
		e.mu.Unlock()
	}
	return nil
}

// commitLeader linearizes leader(r)'s causal history by BFS through
// strong-then-weak parent edges, grouping by round and ordering
// deterministically by (round, proposer_id) within each round, then
// commits each group to the execution pipeline (spec section 4.6, commit
// rule paragraph 2; scenario S3).
func (e *Engine) commitLeader(ctx context.Context, round uint64, proposer types.ReplicaID) error {
	cert, ok := e.store.certFor(round, proposer)
	if !ok {
		return nil
	}
	leaderHash := cert.BlockHash
	if e.store.isExecuted(leaderHash) {
		return nil
	}

	visited := set.NewSet[types.Hash](len(e.members.Members()) * 4)
	var order []types.DAGBlock
	queue := []types.Hash{leaderHash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if visited.Contains(h) || e.store.isExecuted(h) {
			continue
		}
		visited.Add(h)

		blk, ok := e.store.block(h)
		if !ok {
			continue
		}
		order = append(order, blk)
		queue = append(queue, blk.StrongParents...)
		queue = append(queue, blk.WeakParents...)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].Round != order[j].Round {
			return order[i].Round < order[j].Round
		}
		return order[i].ProposerID.String() < order[j].ProposerID.String()
	})

	for _, blk := range order {
		e.mu.Lock()
		seq := e.execSeq
		e.execSeq++
		e.mu.Unlock()

		if err := e.pipe.Commit(ctx, seq, blk.Batch); err != nil {
			return fmt.Errorf("tusk: committing round %d proposer %s: %w", blk.Round, blk.ProposerID, err)
		}
		e.store.markExecuted(blk.Hash)
	}
	return nil
}
