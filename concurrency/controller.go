// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package concurrency implements the Streaming concurrency controller the
// contract executor uses to speculatively run transactions in parallel and
// validate them against serial semantics (spec section 4.8). It has no
// direct teacher analog; its mutex-guarded, per-object map layout follows
// the same fine-grained locking idiom the teacher's DAG vertex store uses,
// generalized from "per-vertex" to "per-address".
package concurrency

import (
	"sync"
)

// CommitID identifies one speculative commit, assigned by the executor in
// the order it wants serial semantics to reproduce.
type CommitID uint64

// OpKind distinguishes the three operations a commit may perform on an
// address.
type OpKind int

const (
	OpLoad OpKind = iota
	OpStore
	OpRemove
)

// Op is one access a commit makes to a single address.
type Op struct {
	Kind OpKind

	// Version is read by OpLoad: the address version the commit observed
	// when it spectulatively ran.
	Version uint64

	// Data is written by OpStore.
	Data []byte
}

// Load returns a Load op pinned to version.
func Load(version uint64) Op { return Op{Kind: OpLoad, Version: version} }

// Store returns a Store op writing data.
func Store(data []byte) Op { return Op{Kind: OpStore, Data: data} }

// Remove returns a Remove op.
func Remove() Op { return Op{Kind: OpRemove} }

// Address is the key a commit's ops read or write.
type Address = string

// ModifyMap is a commit's complete set of per-address accesses, in the
// order the commit performed them.
type ModifyMap map[Address][]Op

// retriggerWindow bounds the re-check queue: under very high contention
// late redos may be dropped rather than block a committing goroutine
// (spec section 9's stated 128-slot resource bound).
const retriggerWindow = 128

type addressState struct {
	version uint64
	value   []byte
	present bool
	queue   []CommitID
}

// Controller tracks per-address FIFOs of pending commits and validates
// each commit against the Streaming protocol (spec section 4.8).
type Controller struct {
	mu           sync.Mutex
	addresses    map[Address]*addressState
	pending      map[CommitID]ModifyMap
	redo         map[CommitID]struct{}
	lastCommitID CommitID

	retrigger chan CommitID
}

// NewController returns an empty Controller.
func NewController() *Controller {
	return &Controller{
		addresses: make(map[Address]*addressState),
		pending:   make(map[CommitID]ModifyMap),
		redo:      make(map[CommitID]struct{}),
		retrigger: make(chan CommitID, retriggerWindow),
	}
}

func (c *Controller) addressOrCreate(addr Address) *addressState {
	st, ok := c.addresses[addr]
	if !ok {
		st = &addressState{}
		c.addresses[addr] = st
	}
	return st
}

// PushCommit registers a speculatively-executed commit's access set,
// enqueuing it on the FIFO of every address it touches.
func (c *Controller) PushCommit(id CommitID, mm ModifyMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = mm
	for addr := range mm {
		st := c.addressOrCreate(addr)
		st.queue = append(st.queue, id)
	}
}

// Commit attempts to validate and apply id. It returns true once id's
// writes are durably reflected in the controller's address state; it
// returns false (adding id to the redo set) if id is not yet at the head
// of every address FIFO it touches, or if any Load it performed no longer
// matches the address's current version.
func (c *Controller) Commit(id CommitID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	mm, ok := c.pending[id]
	if !ok {
		return false
	}

	for addr := range mm {
		st := c.addresses[addr]
		if st == nil || len(st.queue) == 0 || st.queue[0] != id {
			c.redo[id] = struct{}{}
			return false
		}
	}
	for addr, ops := range mm {
		st := c.addresses[addr]
		for _, op := range ops {
			if op.Kind == OpLoad && op.Version != st.version {
				c.redo[id] = struct{}{}
				return false
			}
		}
	}

	newHeads := make(map[Address]struct{}, len(mm))
	for addr, ops := range mm {
		st := c.addresses[addr]
		applyLastWrite(st, ops)
		st.version++
		st.queue = st.queue[1:]
		newHeads[addr] = struct{}{}
	}

	delete(c.redo, id)
	delete(c.pending, id)
	if id > c.lastCommitID {
		c.lastCommitID = id
	}
	c.scheduleRechecks(newHeads)
	return true
}

// applyLastWrite applies the last Store or Remove in ops to st, per spec
// section 4.8 ("earlier ops are shadowed"); a commit with only Load ops
// leaves the address's value untouched.
func applyLastWrite(st *addressState, ops []Op) {
	var last *Op
	for i := range ops {
		switch ops[i].Kind {
		case OpStore, OpRemove:
			last = &ops[i]
		}
	}
	if last == nil {
		return
	}
	switch last.Kind {
	case OpStore:
		st.value = last.Data
		st.present = true
	case OpRemove:
		st.value = nil
		st.present = false
	}
}

// scheduleRechecks offers the new head of each address in touched onto the
// re-trigger channel, provided it is a known (pushed) commit newer than
// the last one committed; a full channel silently drops the offer, the
// documented resource bound.
func (c *Controller) scheduleRechecks(touched map[Address]struct{}) {
	scheduled := make(map[CommitID]struct{})
	for addr := range touched {
		st := c.addresses[addr]
		if len(st.queue) == 0 {
			continue
		}
		head := st.queue[0]
		if _, known := c.pending[head]; !known || head <= c.lastCommitID {
			continue
		}
		if _, already := scheduled[head]; already {
			continue
		}
		scheduled[head] = struct{}{}
		select {
		case c.retrigger <- head:
		default:
		}
	}
}

// Retrigger returns the channel of commit ids the controller believes are
// now worth re-checking with Commit, because they became the new head of
// some address's FIFO after a prior commit applied.
func (c *Controller) Retrigger() <-chan CommitID {
	return c.retrigger
}

// RedoSet returns every commit id currently recorded as needing a redo.
func (c *Controller) RedoSet() []CommitID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CommitID, 0, len(c.redo))
	for id := range c.redo {
		out = append(out, id)
	}
	return out
}

// Get returns the current committed value at addr, used by tests and by
// the executor to read back state after a batch of commits settles.
func (c *Controller) Get(addr Address) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.addresses[addr]
	if !ok || !st.present {
		return nil, false
	}
	return st.value, true
}

// Version returns the version a new speculative Load op at addr should
// pin, i.e. the version the executor observed before building its
// ModifyMap for PushCommit.
func (c *Controller) Version(addr Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.addresses[addr]
	if !ok {
		return 0
	}
	return st.version
}
