// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package raft implements the crash-fault ordering core: leader election
// by randomized timeout plus majority vote, and log replication by
// AppendEntries with leader-side next_index/match_index tracking (spec
// section 4.7). Unlike the BFT families, Raft tolerates only crashes, so
// its RPCs carry no signatures: a replica acts on whichever RequestVote or
// AppendEntries names the highest term it has seen, by construction of the
// safety argument (Election Safety + Log Matching + Leader Completeness).
package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/execution"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

// Role is a replica's current position in the Raft state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Engine runs one replica's side of Raft.
type Engine struct {
	cfg     config.Config
	members *validators.Set
	comm    networking.ReplicaCommunicator
	pipe    *execution.Pipeline
	logger  log.Logger
	metrics *metrics.Registry

	log *raftLog

	mu          sync.Mutex
	role        Role
	currentTerm uint64
	votedFor    *types.ReplicaID
	leaderID    types.ReplicaID
	commitIndex uint64
	lastApplied uint64
	votes       map[types.ReplicaID]bool
	nextIndex   map[types.ReplicaID]uint64
	matchIndex  map[types.ReplicaID]uint64

	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker
	electionMin     time.Duration
	electionMax     time.Duration
	heartbeatPeriod time.Duration

	// clientHandler, if set, receives client-facing envelopes (new
	// requests, batch responses) that arrive on the same inbound stream as
	// Raft RPCs.
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

// New builds a Follower-initialized Engine with an empty log.
func New(
	cfg config.Config,
	members *validators.Set,
	comm networking.ReplicaCommunicator,
	pipe *execution.Pipeline,
	logger log.Logger,
	reg *metrics.Registry,
) *Engine {
	minMs, maxMs := cfg.ElectionTimeoutRange()
	return &Engine{
		cfg:             cfg,
		members:         members,
		comm:            comm,
		pipe:            pipe,
		logger:          logger,
		metrics:         reg,
		log:             newRaftLog(),
		role:            Follower,
		nextIndex:       make(map[types.ReplicaID]uint64),
		matchIndex:      make(map[types.ReplicaID]uint64),
		electionMin:     minMs,
		electionMax:     maxMs,
		heartbeatPeriod: time.Duration(cfg.HeartbeatMs) * time.Millisecond,
	}
}

// Start begins the event loop: inbound RPC dispatch, the election timer,
// and (once leader) the heartbeat ticker.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.resetElectionTimer()
	e.heartbeatTicker = time.NewTicker(e.heartbeatPeriod)

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
				e.logger.Warn("raft: dropping message", log.Stringer("type", msg.Envelope.Type), log.Err(err))
			}
		case <-e.electionTimerC():
			e.onElectionTimeout()
		case <-e.heartbeatTicker.C:
			e.onHeartbeatTick()
		}
	}
}

func (e *Engine) electionTimerC() <-chan time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.electionTimer == nil {
		return nil
	}
	return e.electionTimer.C
}

func (e *Engine) resetElectionTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.electionTimer != nil {
		e.electionTimer.Stop()
	}
	timeout := e.electionMin + time.Duration(rand.Int63n(int64(e.electionMax-e.electionMin+1)))
	e.electionTimer = time.NewTimer(timeout)
}

// onElectionTimeout starts a new election: increment term, vote for self,
// broadcast RequestVote (spec section 4.7, "Election").
func (e *Engine) onElectionTimeout() {
	e.mu.Lock()
	e.currentTerm++
	e.role = Candidate
	self := e.members.Self()
	e.votedFor = &self
	e.votes = map[types.ReplicaID]bool{self: true}
	term := e.currentTerm
	lastIndex := e.log.lastIndex()
	lastTerm := e.log.lastTerm()
	e.mu.Unlock()

	e.resetElectionTimer()
	if e.metrics != nil {
		e.metrics.ViewChanges.Inc()
	}

	args := types.RequestVoteArgs{Term: term, CandidateID: self, LastLogIndex: lastIndex, LastLogTerm: lastTerm}
	env := codec.Envelope{Type: types.MessageRequestVote, Epoch: term, Body: codec.MarshalRequestVoteArgs(args)}
	if err := e.comm.Broadcast(e.ctx, env); err != nil {
		e.logger.Warn("raft: broadcasting request-vote failed", log.Err(err))
	}
}

// onHeartbeatTick replicates (or, if a follower has nothing new, sends an
// empty heartbeat) to every peer on every tick while this replica leads.
// It sends whether or not an AppendEntries already went out since the
// previous tick; other broadcasts do not reset the heartbeat timer.
func (e *Engine) onHeartbeatTick() {
	e.mu.Lock()
	isLeader := e.role == Leader
	e.mu.Unlock()
	if !isLeader {
		return
	}
	for _, m := range e.members.Members() {
		if m.ID == e.members.Self() {
			continue
		}
		if err := e.replicateTo(e.ctx, m.ID); err != nil {
			e.logger.Warn("raft: heartbeat failed", log.Err(err))
		}
	}
}

// SubmitBatch appends batch to the leader's log and immediately replicates
// it to every follower. Returns ErrNotLeader otherwise.
func (e *Engine) SubmitBatch(ctx context.Context, batch types.Batch) error {
	e.mu.Lock()
	if e.role != Leader {
		e.mu.Unlock()
		return ErrNotLeader
	}
	term := e.currentTerm
	e.mu.Unlock()

	e.log.appendAt(term, batch)
	for _, m := range e.members.Members() {
		if m.ID == e.members.Self() {
			continue
		}
		if err := e.replicateTo(ctx, m.ID); err != nil {
			return fmt.Errorf("raft: replicating to %s: %w", m.ID, err)
		}
	}
	return nil
}

func (e *Engine) replicateTo(ctx context.Context, follower types.ReplicaID) error {
	e.mu.Lock()
	term := e.currentTerm
	self := e.members.Self()
	next := e.nextIndex[follower]
	if next == 0 {
		next = e.log.lastIndex() + 1
	}
	commit := e.commitIndex
	e.mu.Unlock()

	prevIndex := next - 1
	prevTerm, _ := e.log.termAt(prevIndex)
	entries := e.log.entriesFrom(next)

	args := types.AppendEntriesArgs{
		Term:         term,
		LeaderID:     self,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: commit,
	}
	env := codec.Envelope{Type: types.MessageAppendEntries, Epoch: term, Body: codec.MarshalAppendEntriesArgs(args)}
	return e.comm.SendTo(ctx, follower, env)
}

func (e *Engine) handle(ctx context.Context, env codec.Envelope) error {
	switch env.Type {
	case types.MessageRequestVote:
		return e.onRequestVote(ctx, env)
	case types.MessageRequestVoteResponse:
		return e.onRequestVoteResponse(ctx, env)
	case types.MessageAppendEntries:
		return e.onAppendEntries(ctx, env)
	case types.MessageAppendEntriesResponse:
		return e.onAppendEntriesResponse(ctx, env)
	case types.MessageNewRequest, types.MessageBatchResponse, types.MessageBatchForward:
		if e.clientHandler != nil {
			return e.clientHandler(ctx, env)
		}
		return nil
	default:
		return fmt.Errorf("raft: unhandled message type %s", env.Type)
	}
}

// stepDown moves to Follower for a newer term, clearing the vote record
// (spec section 4.7, implicit in "term-stale ... are ignored").
func (e *Engine) stepDown(term uint64) {
	e.role = Follower
	e.currentTerm = term
	e.votedFor = nil
}

func (e *Engine) onRequestVote(ctx context.Context, env codec.Envelope) error {
	args, err := codec.UnmarshalRequestVoteArgs(env.Body)
	if err != nil {
		return fmt.Errorf("raft: decoding request-vote: %w", err)
	}

	e.mu.Lock()
	if args.Term > e.currentTerm {
		e.stepDown(args.Term)
	}
	grant := false
	if args.Term >= e.currentTerm && (e.votedFor == nil || *e.votedFor == args.CandidateID) {
		lastIndex := e.log.lastIndex()
		lastTerm := e.log.lastTerm()
		upToDate := args.LastLogTerm > lastTerm || (args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)
		if upToDate {
			grant = true
			e.votedFor = &args.CandidateID
		}
	}
	term := e.currentTerm
	self := e.members.Self()
	e.mu.Unlock()

	if grant {
		e.resetElectionTimer()
	}

	reply := types.RequestVoteReply{Term: term, VoteGranted: grant, VoterID: self}
	env2 := codec.Envelope{Type: types.MessageRequestVoteResponse, Epoch: term, Body: codec.MarshalRequestVoteReply(reply)}
	return e.comm.SendTo(ctx, args.CandidateID, env2)
}

func (e *Engine) onRequestVoteResponse(ctx context.Context, env codec.Envelope) error {
	reply, err := codec.UnmarshalRequestVoteReply(env.Body)
	if err != nil {
		return fmt.Errorf("raft: decoding request-vote response: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if reply.Term > e.currentTerm {
		e.stepDown(reply.Term)
		return nil
	}
	if e.role != Candidate || reply.Term < e.currentTerm || !reply.VoteGranted {
		return nil
	}
	e.votes[reply.VoterID] = true
	if len(e.votes) < e.members.QuorumSize() {
		return nil
	}

	e.role = Leader
	e.leaderID = e.members.Self()
	lastIndex := e.log.lastIndex()
	for _, m := range e.members.Members() {
		e.nextIndex[m.ID] = lastIndex + 1
		e.matchIndex[m.ID] = 0
	}
	if e.metrics != nil {
		e.metrics.ViewChanges.Inc()
	}
	for _, m := range e.members.Members() {
		if m.ID == e.members.Self() {
			continue
		}
		go func(id types.ReplicaID) {
			if err := e.replicateTo(ctx, id); err != nil {
				e.logger.Warn("raft: initial heartbeat failed", log.Err(err))
			}
		}(m.ID)
	}
	return nil
}

func (e *Engine) onAppendEntries(ctx context.Context, env codec.Envelope) error {
	args, err := codec.UnmarshalAppendEntriesArgs(env.Body)
	if err != nil {
		return fmt.Errorf("raft: decoding append-entries: %w", err)
	}

	e.mu.Lock()
	if args.Term < e.currentTerm {
		term := e.currentTerm
		self := e.members.Self()
		e.mu.Unlock()
		reply := types.AppendEntriesReply{Term: term, Success: false, FollowerID: self}
		env2 := codec.Envelope{Type: types.MessageAppendEntriesResponse, Epoch: term, Body: codec.MarshalAppendEntriesReply(reply)}
		return e.comm.SendTo(ctx, args.LeaderID, env2)
	}
	e.stepDown(args.Term)
	e.leaderID = args.LeaderID
	e.mu.Unlock()
	e.resetElectionTimer()

	localTerm, ok := e.log.termAt(args.PrevLogIndex)
	if !ok || localTerm != args.PrevLogTerm {
		conflictIndex, conflictTerm := e.log.conflictAt(args.PrevLogIndex)
		e.mu.Lock()
		term := e.currentTerm
		self := e.members.Self()
		e.mu.Unlock()
		reply := types.AppendEntriesReply{Term: term, Success: false, FollowerID: self, ConflictIndex: conflictIndex, ConflictTerm: conflictTerm}
		env2 := codec.Envelope{Type: types.MessageAppendEntriesResponse, Epoch: term, Body: codec.MarshalAppendEntriesReply(reply)}
		return e.comm.SendTo(ctx, args.LeaderID, env2)
	}

	e.log.reconcile(args.PrevLogIndex, args.Entries)

	if args.LeaderCommit > e.commitIndexSnapshot() {
		newCommit := args.LeaderCommit
		if lastIdx := e.log.lastIndex(); newCommit > lastIdx {
			newCommit = lastIdx
		}
		e.applyThrough(ctx, newCommit)
	}

	e.mu.Lock()
	term := e.currentTerm
	self := e.members.Self()
	matchIndex := args.PrevLogIndex + uint64(len(args.Entries))
	e.mu.Unlock()

	reply := types.AppendEntriesReply{Term: term, Success: true, FollowerID: self, ConflictIndex: matchIndex}
	env2 := codec.Envelope{Type: types.MessageAppendEntriesResponse, Epoch: term, Body: codec.MarshalAppendEntriesReply(reply)}
	return e.comm.SendTo(ctx, args.LeaderID, env2)
}

func (e *Engine) onAppendEntriesResponse(ctx context.Context, env codec.Envelope) error {
	reply, err := codec.UnmarshalAppendEntriesReply(env.Body)
	if err != nil {
		return fmt.Errorf("raft: decoding append-entries response: %w", err)
	}

	e.mu.Lock()
	if reply.Term > e.currentTerm {
		e.stepDown(reply.Term)
		e.mu.Unlock()
		return nil
	}
	if e.role != Leader {
		e.mu.Unlock()
		return nil
	}

	if !reply.Success {
		next := e.nextIndex[reply.FollowerID]
		if reply.ConflictIndex > 0 && reply.ConflictIndex < next {
			next = reply.ConflictIndex
		} else if next > 1 {
			next--
		}
		e.nextIndex[reply.FollowerID] = next
		e.mu.Unlock()
		return e.replicateTo(ctx, reply.FollowerID)
	}

	matchIndex := reply.ConflictIndex // repurposed to carry the follower's new match index on success
	e.matchIndex[reply.FollowerID] = matchIndex
	e.nextIndex[reply.FollowerID] = matchIndex + 1
	term := e.currentTerm
	e.mu.Unlock()

	return e.tryAdvanceCommit(ctx, term)
}

// tryAdvanceCommit commits the highest index N replicated to a majority
// in the leader's own term (spec section 4.7, "Replication" paragraph 2).
func (e *Engine) tryAdvanceCommit(ctx context.Context, term uint64) error {
	e.mu.Lock()
	if e.role != Leader || e.currentTerm != term {
		e.mu.Unlock()
		return nil
	}
	lastIndex := e.log.lastIndex()
	commit := e.commitIndex
	quorum := e.members.QuorumSize()
	e.mu.Unlock()

	for n := lastIndex; n > commit; n-- {
		entryTerm, ok := e.log.termAt(n)
		if !ok || entryTerm != term {
			continue
		}
		count := 1 // leader itself
		e.mu.Lock()
		for id, m := range e.matchIndex {
			if id == e.members.Self() {
				continue
			}
			if m >= n {
				count++
			}
		}
		e.mu.Unlock()
		if count >= quorum {
			e.applyThrough(ctx, n)
			break
		}
	}
	return nil
}

func (e *Engine) commitIndexSnapshot() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitIndex
}

// applyThrough advances commitIndex to through and delivers every
// newly-committed entry to the execution pipeline in order.
func (e *Engine) applyThrough(ctx context.Context, through uint64) {
	e.mu.Lock()
	if through <= e.commitIndex {
		e.mu.Unlock()
		return
	}
	from := e.lastApplied + 1
	e.commitIndex = through
	e.lastApplied = through
	e.mu.Unlock()

	for idx := from; idx <= through; idx++ {
		entry, ok := e.log.get(idx)
		if !ok {
			continue
		}
		if err := e.pipe.Commit(ctx, idx-1, entry.Batch); err != nil {
			e.logger.Warn("raft: committing entry failed", log.Uint64("index", idx), log.Err(err))
		}
		if e.metrics != nil {
			e.metrics.BatchesCommitted.Inc()
		}
	}
}
