// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package quorum tracks in-flight votes keyed by (message type, view,
// node hash) until enough distinct replicas have signed to form a
// Certificate. Chained-HotStuff uses it for PREPARE_VOTE/PRECOMMIT_VOTE/
// COMMIT_VOTE; Tusk uses it for DAG block acknowledgements; the quorum
// size itself (2f+1 BFT vs floor(n/2)+1 Raft) is supplied by the caller
// from validators.Set, so this package has no family-specific logic.
package quorum

import (
	"fmt"
	"sync"

	"github.com/resilientdb/core/types"
)

// Key identifies one in-flight vote round.
type Key struct {
	Type types.MessageType
	View uint64
	Hash types.Hash
}

func (k Key) String() string {
	return fmt.Sprintf("%s/view=%d/hash=%s", k.Type, k.View, k.Hash)
}

// Set tracks every open poll for one replica's protocol engine. Every
// method takes the Set's mutex, so it is safe for concurrent use.
type Set struct {
	mu    sync.Mutex
	polls map[Key]*poll
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{polls: make(map[Key]*poll)}
}

// Add opens a new poll for key requiring quorumSize distinct signers. It
// reports false if a poll for key is already open (a replica must not
// double-count its own re-sent proposal).
func (s *Set) Add(key Key, quorumSize int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.polls[key]; exists {
		return false
	}
	s.polls[key] = newPoll(key, quorumSize)
	return true
}

// Vote records signer's signature for key. It returns the formed
// Certificate and true once quorumSize distinct signers have voted; the
// poll is removed from the set at that point, so a later duplicate vote on
// the same key is silently ignored rather than double-counted.
func (s *Set) Vote(key Key, signer types.ReplicaID, sig []byte) (types.Certificate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.polls[key]
	if !exists {
		return types.Certificate{}, false
	}

	cert, done := p.vote(signer, sig)
	if done {
		delete(s.polls, key)
	}
	return cert, done
}

// Drop discards an open poll for key without forming a certificate, used
// on view-change/round-advance to abandon votes that can no longer reach
// quorum.
func (s *Set) Drop(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.polls, key)
}

// Len returns the number of open polls.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polls)
}

// poll accumulates signatures for one Key until quorumSize distinct
// signers have voted.
type poll struct {
	key        Key
	quorumSize int
	signatures map[types.ReplicaID][]byte
}

func newPoll(key Key, quorumSize int) *poll {
	return &poll{
		key:        key,
		quorumSize: quorumSize,
		signatures: make(map[types.ReplicaID][]byte),
	}
}

func (p *poll) vote(signer types.ReplicaID, sig []byte) (types.Certificate, bool) {
	if _, voted := p.signatures[signer]; voted {
		return types.Certificate{}, false
	}
	p.signatures[signer] = sig

	if len(p.signatures) < p.quorumSize {
		return types.Certificate{}, false
	}

	cert := types.Certificate{
		Type:       p.key.Type,
		View:       p.key.View,
		NodeHash:   p.key.Hash,
		Signatures: make([]types.PartialSignature, 0, len(p.signatures)),
	}
	for signer, sig := range p.signatures {
		cert.Signatures = append(cert.Signatures, types.PartialSignature{Signer: signer, Signature: sig})
	}
	return cert, true
}
