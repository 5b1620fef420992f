// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hotstuff implements chained-HotStuff: a pipelined three-phase
// (PREPARE, PRECOMMIT, COMMIT) BFT protocol (spec section 4.5). Each
// phase's quorum certificate travels in its own broadcast (PRECOMMIT,
// COMMIT, DECIDE); the next view's PREPARE is not piggybacked on them.
// Safety rests on the safe-node predicate in safety.go; liveness rests on
// round-robin leader rotation plus a view-change timer drawn at random from
// [TimeoutMinMs, TimeoutMaxMs], which does not grow on repeated failure.
package hotstuff

import (
	"context"
	"fmt"
	"math/rand"
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
	"github.com/resilientdb/core/validators"
)

// viewBoundary is how far behind the current view a PREPARE proposal may
// still trail and be accepted rather than dropped as stale (spec section
// 8's view boundary property: -5 accepted, -6 dropped).
const viewBoundary = 5

// Engine runs the chained-HotStuff replica algorithm for one replica. All
// mutable state is guarded by mu, which both the event loop goroutine
// started by Start and callers of SubmitBatch/ProposeIfLeader take.
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
	store  *nodeStore

	mu         sync.Mutex
	view       uint64
	lockedHash types.Hash
	lockedQC   types.Certificate
	highQC     types.Certificate
	highHash   types.Hash
	seq        uint64

	viewTimer      *time.Timer
	viewTimeoutMin time.Duration
	viewTimeoutMax time.Duration

	// clientHandler, if set, receives client-facing envelopes (new
	// requests, batch responses) that arrive on the same inbound stream as
	// protocol messages, so a replica needs only one inbound-dispatch task
	// (spec section 3) instead of a second reader racing this one.
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

// New builds an Engine rooted at the genesis node (view 0, zero hash).
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
	genesis := types.ProposalNode{View: 0}
	store := newNodeStore()
	store.put(genesis)

	minMs, maxMs := cfg.ElectionTimeoutRange()
	return &Engine{
		cfg:            cfg,
		members:        members,
		comm:           comm,
		hasher:         hasher,
		signer:         signer,
		verify:         verify,
		pipe:           pipe,
		logger:         logger,
		metrics:        reg,
		quorum:         quorum.NewSet(),
		store:          store,
		view:           0,
		highHash:       genesis.Hash,
		viewTimeoutMin: minMs,
		viewTimeoutMax: maxMs,
	}
}

// Start begins the engine's event loop: it reads from comm.Inbound() and
// dispatches each envelope, alongside the view-change timer.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.resetViewTimer()

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
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.comm.Inbound():
			if !ok {
				return
			}
			if err := e.handle(e.ctx, msg.Envelope); err != nil {
				e.logger.Warn("hotstuff: dropping message", log.Stringer("type", msg.Envelope.Type), log.Err(err))
			}
		case <-e.viewTimerC():
			e.onViewTimeout()
		}
	}
}

func (e *Engine) viewTimerC() <-chan time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.viewTimer == nil {
		return nil
	}
	return e.viewTimer.C
}

func (e *Engine) resetViewTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.viewTimer != nil {
		e.viewTimer.Stop()
	}
	e.viewTimer = time.NewTimer(jitteredRange(e.viewTimeoutMin, e.viewTimeoutMax))
}

// onViewTimeout advances to the next view without having committed,
// sending the new leader a NEW_VIEW carrying the highest QC observed
// (spec section 4.5, view-change).
func (e *Engine) onViewTimeout() {
	e.mu.Lock()
	e.view++
	nextLeader := e.members.LeaderForView(e.view)
	msg := types.NewViewMessage{View: e.view, SenderID: e.members.Self(), HighQC: e.highQC, HighQCHash: e.highHash}
	e.metrics.ViewChanges.Inc()
	e.mu.Unlock()

	e.resetViewTimer()

	if nextLeader == e.members.Self() {
		return
	}
	env := codec.Envelope{Type: types.MessageNewView, Epoch: e.view, Body: codec.MarshalNewView(msg)}
	if err := e.comm.SendTo(e.ctx, nextLeader, env); err != nil {
		e.logger.Warn("hotstuff: sending new-view failed", log.Err(err))
	}
}

// SubmitBatch proposes batch if this replica is the current view's leader,
// satisfying the batching.Proposer capability shared with the Tusk and
// Raft engines.
func (e *Engine) SubmitBatch(ctx context.Context, batch types.Batch) error {
	return e.ProposeIfLeader(ctx, batch)
}

// ProposeIfLeader assembles and broadcasts a PREPARE proposal extending
// the highest known QC, if and only if this replica leads the current
// view. Callers (the batching layer, via the replica runtime) should call
// this whenever a new batch becomes available.
func (e *Engine) ProposeIfLeader(ctx context.Context, batch types.Batch) error {
	e.mu.Lock()
	view := e.view
	if !e.members.IsLeaderForView(e.members.Self(), view) {
		e.mu.Unlock()
		return ErrNotLeader
	}
	parentHash := e.highHash
	parentQC := e.highQC
	e.mu.Unlock()

	batch.Hash = crypto.HashBatch(e.hasher, batch)
	node := types.ProposalNode{
		View:       view,
		ParentHash: parentHash,
		ParentQC:   parentQC,
		ProposerID: e.members.Self(),
		Batch:      batch,
	}
	node.Hash = e.hasher.Hash(codec.MarshalProposalNode(node))

	e.store.put(node)
	env := codec.Envelope{Type: types.MessagePrepare, Epoch: view, Body: codec.MarshalProposalNode(node)}
	return e.comm.Broadcast(ctx, env)
}

func (e *Engine) handle(ctx context.Context, env codec.Envelope) error {
	switch env.Type {
	case types.MessagePrepare:
		return e.onPrepare(ctx, env)
	case types.MessagePrepareVote:
		return e.onVote(ctx, env, types.MessagePrepareVote, types.MessagePrecommit)
	case types.MessagePrecommit:
		return e.onPrecommit(ctx, env)
	case types.MessagePrecommitVote:
		return e.onVote(ctx, env, types.MessagePrecommitVote, types.MessageCommit)
	case types.MessageCommit:
		return e.onCommit(ctx, env)
	case types.MessageCommitVote:
		return e.onCommitVote(ctx, env)
	case types.MessageDecide:
		qc, err := codec.UnmarshalCertificate(env.Body)
		if err != nil {
			return fmt.Errorf("hotstuff: decoding decide: %w", err)
		}
		if !qc.IsQuorum(e.members.QuorumSize()) {
			return ErrInvalidCertificate
		}
		return e.commit(ctx, qc.NodeHash, qc.View)
	case types.MessageNewView:
		return e.onNewView(ctx, env)
	case types.MessageNewRequest, types.MessageBatchResponse, types.MessageBatchForward:
		if e.clientHandler != nil {
			return e.clientHandler(ctx, env)
		}
		return nil
	default:
		return fmt.Errorf("hotstuff: unhandled message type %s", env.Type)
	}
}

func (e *Engine) onPrepare(ctx context.Context, env codec.Envelope) error {
	node, err := codec.UnmarshalProposalNode(env.Body)
	if err != nil {
		return fmt.Errorf("hotstuff: decoding prepare: %w", err)
	}
	if !e.members.IsLeaderForView(node.ProposerID, node.View) {
		return ErrWrongProposer
	}

	e.mu.Lock()
	stale := node.View+viewBoundary < e.view
	e.mu.Unlock()
	if stale {
		return ErrStaleView
	}

	if !e.safeNode(node) {
		return ErrUnsafeNode
	}
	e.store.put(node)

	digest := node.Hash
	sig, err := e.signer.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("hotstuff: signing prepare vote: %w", err)
	}

	vote := types.Certificate{Type: types.MessagePrepareVote, View: node.View, NodeHash: node.Hash,
		Signatures: []types.PartialSignature{{Signer: e.members.Self(), Signature: sig}}}
	env2 := codec.Envelope{Type: types.MessagePrepareVote, Epoch: node.View, Body: codec.MarshalCertificate(vote)}
	return e.comm.SendTo(ctx, node.ProposerID, env2)
}

// onVote handles both PREPARE_VOTE and PRECOMMIT_VOTE: collect votes for
// the node hash in the single-signature Certificate env carries, and on
// reaching quorum broadcast the next phase's message carrying the newly
// formed certificate.
func (e *Engine) onVote(ctx context.Context, env codec.Envelope, voteType, nextPhase types.MessageType) error {
	vote, err := codec.UnmarshalCertificate(env.Body)
	if err != nil || len(vote.Signatures) != 1 {
		return fmt.Errorf("hotstuff: decoding %s: invalid vote payload", voteType)
	}
	signer := vote.Signatures[0].Signer
	sig := vote.Signatures[0].Signature
	digest := vote.NodeHash
	if !e.verify.Verify(signer, digest[:], sig) {
		if e.metrics != nil {
			e.metrics.ProtocolViolations.Inc()
		}
		return fmt.Errorf("hotstuff: %s: signature verification failed for %s", voteType, signer)
	}

	key := quorum.Key{Type: voteType, View: vote.View, Hash: vote.NodeHash}
	e.quorum.Add(key, e.members.QuorumSize())
	cert, done := e.quorum.Vote(key, signer, sig)
	if !done {
		return nil
	}

	if voteType == types.MessagePrepareVote {
		e.mu.Lock()
		e.highQC = cert
		e.highHash = vote.NodeHash
		e.mu.Unlock()
	}

	env2 := codec.Envelope{Type: nextPhase, Epoch: vote.View, Body: codec.MarshalCertificate(cert)}
	return e.comm.Broadcast(ctx, env2)
}

func (e *Engine) onPrecommit(ctx context.Context, env codec.Envelope) error {
	qc, err := codec.UnmarshalCertificate(env.Body)
	if err != nil {
		return fmt.Errorf("hotstuff: decoding precommit: %w", err)
	}
	if !qc.IsQuorum(e.members.QuorumSize()) {
		return ErrInvalidCertificate
	}

	e.mu.Lock()
	e.lockedHash = qc.NodeHash
	e.lockedQC = qc
	e.mu.Unlock()

	digest := qc.NodeHash
	sig, err := e.signer.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("hotstuff: signing precommit vote: %w", err)
	}
	vote := types.Certificate{Type: types.MessagePrecommitVote, View: qc.View, NodeHash: qc.NodeHash,
		Signatures: []types.PartialSignature{{Signer: e.members.Self(), Signature: sig}}}
	node, ok := e.store.get(qc.NodeHash)
	if !ok {
		return ErrUnknownParent
	}
	env2 := codec.Envelope{Type: types.MessagePrecommitVote, Epoch: qc.View, Body: codec.MarshalCertificate(vote)}
	return e.comm.SendTo(ctx, node.ProposerID, env2)
}

func (e *Engine) onCommit(ctx context.Context, env codec.Envelope) error {
	qc, err := codec.UnmarshalCertificate(env.Body)
	if err != nil {
		return fmt.Errorf("hotstuff: decoding commit: %w", err)
	}
	if !qc.IsQuorum(e.members.QuorumSize()) {
		return ErrInvalidCertificate
	}

	digest := qc.NodeHash
	sig, err := e.signer.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("hotstuff: signing commit vote: %w", err)
	}
	vote := types.Certificate{Type: types.MessageCommitVote, View: qc.View, NodeHash: qc.NodeHash,
		Signatures: []types.PartialSignature{{Signer: e.members.Self(), Signature: sig}}}
	node, ok := e.store.get(qc.NodeHash)
	if !ok {
		return ErrUnknownParent
	}
	env2 := codec.Envelope{Type: types.MessageCommitVote, Epoch: qc.View, Body: codec.MarshalCertificate(vote)}
	if err := e.comm.SendTo(ctx, node.ProposerID, env2); err != nil {
		return err
	}
	return e.advanceView(ctx, node.View)
}

func (e *Engine) onCommitVote(ctx context.Context, env codec.Envelope) error {
	vote, err := codec.UnmarshalCertificate(env.Body)
	if err != nil || len(vote.Signatures) != 1 {
		return fmt.Errorf("hotstuff: decoding commit vote: invalid payload")
	}
	signer := vote.Signatures[0].Signer
	sig := vote.Signatures[0].Signature
	digest := vote.NodeHash
	if !e.verify.Verify(signer, digest[:], sig) {
		if e.metrics != nil {
			e.metrics.ProtocolViolations.Inc()
		}
		return fmt.Errorf("hotstuff: commit vote: signature verification failed for %s", signer)
	}

	key := quorum.Key{Type: types.MessageCommitVote, View: vote.View, Hash: vote.NodeHash}
	e.quorum.Add(key, e.members.QuorumSize())
	cert, done := e.quorum.Vote(key, signer, sig)
	if !done {
		return nil
	}

	env2 := codec.Envelope{Type: types.MessageDecide, Epoch: vote.View, Body: codec.MarshalCertificate(cert)}
	if err := e.comm.Broadcast(ctx, env2); err != nil {
		return err
	}
	return e.commit(ctx, cert.NodeHash, cert.View)
}

// commit applies the decided node's batch to the execution pipeline and
// advances to the next view.
func (e *Engine) commit(ctx context.Context, hash types.Hash, view uint64) error {
	node, ok := e.store.get(hash)
	if !ok {
		return ErrUnknownParent
	}

	e.mu.Lock()
	seq := e.seq
	e.seq++
	e.mu.Unlock()

	if e.pipe != nil {
		if err := e.pipe.Commit(ctx, seq, node.Batch); err != nil {
			return fmt.Errorf("hotstuff: committing batch: %w", err)
		}
	}
	if e.metrics != nil {
		e.metrics.BatchesCommitted.Inc()
	}
	return e.advanceView(ctx, view)
}

func (e *Engine) advanceView(ctx context.Context, committedView uint64) error {
	e.mu.Lock()
	if committedView >= e.view {
		e.view = committedView + 1
	}
	e.store.gc(e.view)
	e.mu.Unlock()
	e.resetViewTimer()
	return nil
}

func (e *Engine) onNewView(ctx context.Context, env codec.Envelope) error {
	msg, err := codec.UnmarshalNewView(env.Body)
	if err != nil {
		return fmt.Errorf("hotstuff: decoding new-view: %w", err)
	}

	e.mu.Lock()
	if msg.HighQC.Len() > 0 && msg.View >= e.highQCView() {
		e.highQC = msg.HighQC
		e.highHash = msg.HighQCHash
	}
	e.mu.Unlock()
	return nil
}

// highQCView returns the view of the currently tracked highQC; callers
// must hold mu.
func (e *Engine) highQCView() uint64 {
	return e.highQC.View
}

// jitteredRange picks a random duration in [min, max], avoiding every
// replica's view timer firing in lockstep after a leader fails.
func jitteredRange(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
