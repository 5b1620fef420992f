// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package batching

import (
	"bytes"
	"sync"

	"github.com/resilientdb/core/types"
)

// responseSlot tracks one local_id's race to f+1 matching replica
// responses. Once sealed, further votes are ignored and the slot never
// re-emits (spec section 4.6: "Duplicate/out-of-order responses").
type responseSlot struct {
	needed  int
	seen    map[types.ReplicaID]types.BatchResponse
	sealed  bool
	resultC chan types.BatchResponse
}

func newResponseSlot(needed int) *responseSlot {
	return &responseSlot{
		needed:  needed,
		seen:    make(map[types.ReplicaID]types.BatchResponse),
		resultC: make(chan types.BatchResponse, 1),
	}
}

// vote records resp from its ReplicaID and reports whether it just
// reached the f+1 matching threshold (matching means identical
// Results/Success for the slot's LocalID).
func (s *responseSlot) vote(resp types.BatchResponse) (types.BatchResponse, bool) {
	if s.sealed {
		return types.BatchResponse{}, false
	}
	if _, dup := s.seen[resp.ReplicaID]; dup {
		return types.BatchResponse{}, false
	}
	s.seen[resp.ReplicaID] = resp

	matching := 0
	for _, r := range s.seen {
		if responsesMatch(r, resp) {
			matching++
		}
	}
	if matching < s.needed {
		return types.BatchResponse{}, false
	}
	s.sealed = true
	return resp, true
}

func responsesMatch(a, b types.BatchResponse) bool {
	if a.LocalID != b.LocalID || a.Success != b.Success || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Results {
		if !bytes.Equal(a.Results[i], b.Results[i]) {
			return false
		}
	}
	return true
}

// ResponseManager collects BatchResponse messages keyed by local_id and
// surfaces the result to the waiting caller exactly once, on the f+1'th
// matching response (spec section 4.6).
type ResponseManager struct {
	mu       sync.Mutex
	needed   int
	slots    map[types.LocalID]*responseSlot
}

// NewResponseManager returns a manager that requires needed (f+1)
// matching responses per local_id before surfacing a result.
func NewResponseManager(needed int) *ResponseManager {
	return &ResponseManager{needed: needed, slots: make(map[types.LocalID]*responseSlot)}
}

// Await registers interest in id's eventual response and returns the
// channel the caller should receive on. Safe to call before any response
// has arrived.
func (m *ResponseManager) Await(id types.LocalID) <-chan types.BatchResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		slot = newResponseSlot(m.needed)
		m.slots[id] = slot
	}
	return slot.resultC
}

// Deliver records an incoming replica response. Once the slot seals, the
// result is pushed to the channel returned by Await and the slot is
// forgotten.
func (m *ResponseManager) Deliver(resp types.BatchResponse) {
	m.mu.Lock()
	slot, ok := m.slots[resp.LocalID]
	if !ok {
		slot = newResponseSlot(m.needed)
		m.slots[resp.LocalID] = slot
	}
	sealedResp, sealed := slot.vote(resp)
	if sealed {
		delete(m.slots, resp.LocalID)
	}
	m.mu.Unlock()

	if sealed {
		slot.resultC <- sealedResp
	}
}

// Cancel discards id's slot without surfacing a result, used when a
// client's batch times out (spec section 8: "client times out and may
// retry").
func (m *ResponseManager) Cancel(id types.LocalID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, id)
}

// Pending reports how many local_ids are still awaiting quorum.
func (m *ResponseManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
