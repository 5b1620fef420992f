// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package validators holds the static replica membership the core runs
// with: the n replicas a config.Config names, each replica's transport
// address, and the leader-rotation schedule every protocol engine
// consults. Membership never changes at runtime (SPEC_FULL.md Non-goals),
// so this package builds one immutable Set at startup and hands out
// read-only views.
package validators

import (
	"fmt"
	"sort"

	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/types"
)

// Member is one replica's identity and network address.
type Member struct {
	ID      types.ReplicaID
	OrdinalID uint32
	Host    string
	Port    int
}

// Set is the static, ordered replica membership for one deployment. The
// ordering (by OrdinalID) is the leader-rotation schedule: view v's leader
// is members[v % len(members)] for chained-HotStuff, and round r's
// proposer-of-record for the Tusk leader-commit rule.
type Set struct {
	members []Member
	byID    map[types.ReplicaID]Member
	self    types.ReplicaID

	n int
	f int
	q int
}

// NewSet builds a Set from a validated config.Config.
func NewSet(cfg config.Config) (*Set, error) {
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("validators: %w", err)
	}

	members := make([]Member, len(cfg.Replicas))
	for i, r := range cfg.Replicas {
		members[i] = Member{ID: r.NodeID(), OrdinalID: r.ID, Host: r.Host, Port: r.Port}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].OrdinalID < members[j].OrdinalID })

	byID := make(map[types.ReplicaID]Member, len(members))
	var self types.ReplicaID
	found := false
	for _, m := range members {
		byID[m.ID] = m
		if m.OrdinalID == cfg.SelfID {
			self = m.ID
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("validators: self_id %d not present in replica set", cfg.SelfID)
	}

	return &Set{
		members: members,
		byID:    byID,
		self:    self,
		n:       cfg.N(),
		f:       cfg.F(),
		q:       cfg.QuorumSize(),
	}, nil
}

// Self returns this replica's own id.
func (s *Set) Self() types.ReplicaID { return s.self }

// N returns the replica count.
func (s *Set) N() int { return s.n }

// F returns the fault tolerance.
func (s *Set) F() int { return s.f }

// QuorumSize returns the number of matching votes/signatures required to
// certify a message under this set's consensus family.
func (s *Set) QuorumSize() int { return s.q }

// Members returns the ordered membership. The returned slice must not be
// mutated by callers; it is shared, not copied, to avoid an allocation on
// every leader lookup.
func (s *Set) Members() []Member { return s.members }

// Contains reports whether id names a configured replica.
func (s *Set) Contains(id types.ReplicaID) bool {
	_, ok := s.byID[id]
	return ok
}

// Member looks up a replica's address by id.
func (s *Set) Member(id types.ReplicaID) (Member, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// LeaderForView returns the chained-HotStuff leader for view v under
// round-robin rotation.
func (s *Set) LeaderForView(v uint64) types.ReplicaID {
	return s.members[int(v)%len(s.members)].ID
}

// IsLeaderForView reports whether id is the leader for view v.
func (s *Set) IsLeaderForView(id types.ReplicaID, v uint64) bool {
	return s.LeaderForView(v) == id
}
