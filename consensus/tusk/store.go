// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tusk

import (
	"sync"

	"github.com/resilientdb/core/types"
)

// roundProposer keys everything indexed by (round, proposer): cert[round][proposer]
// and ref[(round, proposer)] in spec terms.
type roundProposer struct {
	round    uint64
	proposer types.ReplicaID
}

// dagStore holds one replica's local view of the Tusk DAG: admitted
// blocks, certificates per (round, proposer), and the strong-parent
// reference counts the commit rule reads.
type dagStore struct {
	mu sync.Mutex

	blocks  map[types.Hash]types.DAGBlock
	byRound map[roundProposer]types.Hash
	certs   map[roundProposer]types.DAGCertificate
	refs    map[roundProposer]int
	executed map[types.Hash]bool
}

func newDAGStore() *dagStore {
	return &dagStore{
		blocks:   make(map[types.Hash]types.DAGBlock),
		byRound:  make(map[roundProposer]types.Hash),
		certs:    make(map[roundProposer]types.DAGCertificate),
		refs:     make(map[roundProposer]int),
		executed: make(map[types.Hash]bool),
	}
}

func (s *dagStore) putBlock(b types.DAGBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Hash] = b
	s.byRound[roundProposer{b.Round, b.ProposerID}] = b.Hash
}

func (s *dagStore) block(h types.Hash) (types.DAGBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok
}

func (s *dagStore) hasProposed(round uint64, proposer types.ReplicaID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byRound[roundProposer{round, proposer}]
	return ok
}

// certCount returns how many distinct proposers have a certified block at
// round r, the quantity tryPropose gates on (spec: |cert[r-1]| >= 2f+1).
func (s *dagStore) certCount(round uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.certs {
		if k.round == round {
			n++
		}
	}
	return n
}

func (s *dagStore) certsAt(round uint64) []types.DAGCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.DAGCertificate
	for k, c := range s.certs {
		if k.round == round {
			out = append(out, c)
		}
	}
	return out
}

func (s *dagStore) putCert(c types.DAGCertificate, proposer types.ReplicaID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[roundProposer{c.Round, proposer}] = c
}

func (s *dagStore) certFor(round uint64, proposer types.ReplicaID) (types.DAGCertificate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certs[roundProposer{round, proposer}]
	return c, ok
}

// addRef bumps ref[(parentRound, parentProposer)] each time a strong
// parent is referenced by a newly-adopted certificate (spec section 4.6,
// "Adopt cert").
func (s *dagStore) addRef(round uint64, proposer types.ReplicaID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roundProposer{round, proposer}
	s.refs[key]++
	return s.refs[key]
}

func (s *dagStore) refCount(round uint64, proposer types.ReplicaID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[roundProposer{round, proposer}]
}

func (s *dagStore) markExecuted(h types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[h] = true
}

func (s *dagStore) isExecuted(h types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed[h]
}
