// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hotstuff

import (
	"sync"

	"github.com/resilientdb/core/types"
)

// gcWindow bounds how many trailing views the node store retains. Views
// older than the current view minus gcWindow are pruned on every commit,
// since chained-HotStuff never needs to look further back than the active
// three-chain to decide safety (spec section 4.5, "view garbage-collection
// window of 128").
const gcWindow = 128

// nodeStore holds every proposal node the replica has seen but not yet
// garbage-collected, indexed by hash for parent lookups and by view for
// pruning.
type nodeStore struct {
	mu        sync.RWMutex
	byHash    map[types.Hash]types.ProposalNode
	viewOf    map[types.Hash]uint64
	hashesAt  map[uint64][]types.Hash
}

func newNodeStore() *nodeStore {
	return &nodeStore{
		byHash:   make(map[types.Hash]types.ProposalNode),
		viewOf:   make(map[types.Hash]uint64),
		hashesAt: make(map[uint64][]types.Hash),
	}
}

func (s *nodeStore) put(n types.ProposalNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[n.Hash]; exists {
		return
	}
	s.byHash[n.Hash] = n
	s.viewOf[n.Hash] = n.View
	s.hashesAt[n.View] = append(s.hashesAt[n.View], n.Hash)
}

func (s *nodeStore) get(h types.Hash) (types.ProposalNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byHash[h]
	return n, ok
}

// gc drops every node whose view is more than gcWindow behind
// currentView.
func (s *nodeStore) gc(currentView uint64) {
	if currentView <= gcWindow {
		return
	}
	cutoff := currentView - gcWindow

	s.mu.Lock()
	defer s.mu.Unlock()
	for view, hashes := range s.hashesAt {
		if view >= cutoff {
			continue
		}
		for _, h := range hashes {
			delete(s.byHash, h)
			delete(s.viewOf, h)
		}
		delete(s.hashesAt, view)
	}
}

// ancestors walks parent links from h back to the genesis node (the one
// with a zero ParentHash reached before its parent is found), returning
// the chain from h to genesis inclusive. It stops early and returns
// ErrUnknownParent if a parent link leaves the retained window.
func (s *nodeStore) ancestors(h types.Hash, depth int) ([]types.ProposalNode, error) {
	chain := make([]types.ProposalNode, 0, depth)
	cur := h
	for i := 0; i < depth; i++ {
		n, ok := s.get(cur)
		if !ok {
			return chain, ErrUnknownParent
		}
		chain = append(chain, n)
		if n.ParentHash == (types.Hash{}) {
			break
		}
		cur = n.ParentHash
	}
	return chain, nil
}
