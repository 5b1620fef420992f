// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package raft

import (
	"sync"

	"github.com/resilientdb/core/types"
)

// raftLog is one replica's replicated log, 1-indexed with a zero-term
// sentinel at index 0 so prevLogIndex==0 always "matches" (spec section
// 4.8: "Log is a vector log[0..lastIndex]").
type raftLog struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

func newRaftLog() *raftLog {
	return &raftLog{entries: []types.LogEntry{{Index: 0, Term: 0}}}
}

func (l *raftLog) lastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[len(l.entries)-1].Index
}

func (l *raftLog) lastTerm() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[len(l.entries)-1].Term
}

// termAt returns the term of the entry at index, or (0, false) if index is
// beyond the local log.
func (l *raftLog) termAt(index uint64) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= uint64(len(l.entries)) {
		return 0, false
	}
	return l.entries[index].Term, true
}

func (l *raftLog) get(index uint64) (types.LogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == 0 || index >= uint64(len(l.entries)) {
		return types.LogEntry{}, false
	}
	return l.entries[index], true
}

// entriesFrom returns every entry at index >= from, for AppendEntries'
// Entries field.
func (l *raftLog) entriesFrom(from uint64) []types.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]types.LogEntry, len(l.entries)-int(from))
	copy(out, l.entries[from:])
	return out
}

// appendAt appends entry at the next index, used by the leader on
// SubmitBatch (Leader Append-Only: a leader never overwrites entries).
func (l *raftLog) appendAt(term uint64, batch types.Batch) types.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := types.LogEntry{Term: term, Index: l.entries[len(l.entries)-1].Index + 1, Batch: batch}
	l.entries = append(l.entries, entry)
	return entry
}

// reconcile truncates any conflicting suffix starting at prevLogIndex+1
// and appends newEntries in its place, the follower-side half of
// AppendEntries (spec section 4.8: "Follower accepts iff
// entries[prev_log_index].term == prev_log_term").
func (l *raftLog) reconcile(prevLogIndex uint64, newEntries []types.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:prevLogIndex+1]
	for _, e := range newEntries {
		if e.Index < uint64(len(l.entries)) {
			if l.entries[e.Index].Term != e.Term {
				l.entries = l.entries[:e.Index]
				l.entries = append(l.entries, e)
			}
			continue
		}
		l.entries = append(l.entries, e)
	}
}

// conflictAt returns the first index of the term stored at index, used to
// let the leader back up next_index by a whole term in one round trip
// (spec section 4.8: ConflictIndex/ConflictTerm).
func (l *raftLog) conflictAt(index uint64) (uint64, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == 0 || index >= uint64(len(l.entries)) {
		return uint64(len(l.entries)), 0
	}
	term := l.entries[index].Term
	first := index
	for first > 0 && l.entries[first-1].Term == term {
		first--
	}
	return first, term
}
