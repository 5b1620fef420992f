// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package types

// LogEntry is one slot in a Raft replica's replicated log.
type LogEntry struct {
	Term  uint64
	Index uint64
	Batch Batch
}

// RequestVoteArgs is the candidate's vote solicitation, sent at the start
// of an election (spec section 4.8).
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  ReplicaID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply is a follower's response to RequestVoteArgs.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
	VoterID     ReplicaID
}

// AppendEntriesArgs is the leader's replication/heartbeat RPC. Entries is
// empty for a pure heartbeat.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     ReplicaID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesReply is a follower's response to AppendEntriesArgs. When
// Success is false, ConflictIndex/ConflictTerm let the leader back up
// next_index in one round trip instead of one entry at a time.
type AppendEntriesReply struct {
	Term          uint64
	Success       bool
	FollowerID    ReplicaID
	ConflictIndex uint64
	ConflictTerm  uint64
}
