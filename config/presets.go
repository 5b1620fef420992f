// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

// Local returns a four-replica local development preset for the given BFT
// family (n=4, f=1), matching the spec's S1/S3/S4 end-to-end scenarios.
func Local(family ConsensusFamily) Config {
	replicas := make([]ReplicaInfo, 4)
	for i := range replicas {
		replicas[i] = ReplicaInfo{ID: uint32(i + 1), Host: "127.0.0.1", Port: 9000 + i}
	}
	c := Default(family, replicas, 1)
	c.ClientBatchWaitMs = 50
	return c
}

// LocalRaft returns a five-replica local Raft preset (n=5, f=2), matching
// scenario S2.
func LocalRaft() Config {
	replicas := make([]ReplicaInfo, 5)
	for i := range replicas {
		replicas[i] = ReplicaInfo{ID: uint32(i + 1), Host: "127.0.0.1", Port: 9100 + i}
	}
	return Default(Raft, replicas, 1)
}

// Builder offers a fluent construction path for tests that need to deviate
// from the presets above.
type Builder struct {
	cfg Config
}

// NewBuilder starts from Default for the given family and an empty
// replica set.
func NewBuilder(family ConsensusFamily) *Builder {
	cfg := Default(family, nil, 0)
	return &Builder{cfg: cfg}
}

// WithReplicas sets the replica set and self id, recomputing quorum sizes.
func (b *Builder) WithReplicas(replicas []ReplicaInfo, selfID uint32) *Builder {
	b.cfg.Replicas = replicas
	b.cfg.SelfID = selfID
	f := b.cfg.FaultToleranceFor(len(replicas))
	b.cfg.MinDataReceiveNum = 2*f + 1
	b.cfg.MinClientReceiveNum = f + 1
	return b
}

// WithSignature overrides the signature scheme.
func (b *Builder) WithSignature(s SignatureScheme) *Builder {
	b.cfg.Signature = s
	return b
}

// WithBatching overrides the client-batching knobs.
func (b *Builder) WithBatching(num, waitMs, maxProcessTxn int) *Builder {
	b.cfg.ClientBatchNum = num
	b.cfg.ClientBatchWaitMs = waitMs
	b.cfg.MaxProcessTxn = maxProcessTxn
	return b
}

// WithTimeouts overrides the view-change/election timing.
func (b *Builder) WithTimeouts(minMs, maxMs, heartbeatMs int) *Builder {
	b.cfg.TimeoutMinMs = minMs
	b.cfg.TimeoutMaxMs = maxMs
	b.cfg.HeartbeatMs = heartbeatMs
	return b
}

// Build returns the assembled Config. It does not validate; call Valid()
// explicitly.
func (b *Builder) Build() Config {
	return b.cfg
}
