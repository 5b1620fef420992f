// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config defines the replica configuration surface described in
// spec section 6: the static replica set, the selected consensus family and
// signature scheme, client-batching knobs, and view-change/election timing.
// A Config is parsed once at startup and validated before anything else is
// constructed; a validation failure is a ConfigError (exit code 1).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/ids"
)

// ConsensusFamily names one of the ordering-core protocol families. The
// core implements HotStuff, Tusk, and Raft; the others are recognized for
// config compatibility with the wider deployment but are not implemented by
// this module (see SPEC_FULL.md section 1).
type ConsensusFamily string

const (
	HotStuff   ConsensusFamily = "hotstuff"
	Tusk       ConsensusFamily = "tusk"
	Raft       ConsensusFamily = "raft"
	PBFT       ConsensusFamily = "pbft"
	Tendermint ConsensusFamily = "tendermint"
	Pompe      ConsensusFamily = "pompe"
	SlotHS     ConsensusFamily = "slot_hs"
	OOOHS      ConsensusFamily = "ooohs"
)

// IsBFT reports whether the family tolerates Byzantine (not just crash)
// faults, which determines the quorum-size formula (2f+1 vs n/2+1).
func (c ConsensusFamily) IsBFT() bool {
	return c != Raft
}

// SignatureScheme names the signing primitive the crypto adapter is
// configured with. The primitives themselves are out of core scope (spec
// section 1); this only selects which SignatureVerifier variant to build.
type SignatureScheme string

const (
	RSA     SignatureScheme = "rsa"
	ED25519 SignatureScheme = "ed25519"
	CMACAES SignatureScheme = "cmac_aes"
	ECDSA   SignatureScheme = "ecdsa"
)

// ReplicaInfo is one entry in the static membership list.
type ReplicaInfo struct {
	ID        uint32 `yaml:"id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicKey []byte `yaml:"public_key"`
}

// NodeID derives the transport/consensus-layer identity for this replica
// from its configured ordinal id.
func (r ReplicaInfo) NodeID() ids.NodeID {
	var nodeID ids.NodeID
	nodeID[0] = byte(r.ID >> 24)
	nodeID[1] = byte(r.ID >> 16)
	nodeID[2] = byte(r.ID >> 8)
	nodeID[3] = byte(r.ID)
	return nodeID
}

// Config is the full replica configuration, the readable text form named in
// spec section 6.
type Config struct {
	Replicas  []ReplicaInfo   `yaml:"replicas"`
	SelfID    uint32          `yaml:"self_id"`
	Consensus ConsensusFamily `yaml:"consensus"`

	ClientBatchNum      int `yaml:"client_batch_num"`
	ClientBatchWaitMs   int `yaml:"client_batch_wait_ms"`
	MaxProcessTxn       int `yaml:"max_process_txn"`
	MinDataReceiveNum   int `yaml:"min_data_receive_num"`
	MinClientReceiveNum int `yaml:"min_client_receive_num"`
	ClientTimeoutMs     int `yaml:"client_timeout_ms"`

	Signature SignatureScheme `yaml:"signature"`

	ViewChangeEnabled bool `yaml:"view_change_enabled"`
	TimeoutMinMs      int  `yaml:"timeout_min_ms"`
	TimeoutMaxMs      int  `yaml:"timeout_max_ms"`
	HeartbeatMs       int  `yaml:"heartbeat_ms"`
}

// Default returns a Config with the spec's documented defaults
// (client_batch_num=100, client_batch_wait_ms=0, heartbeat 100ms, Raft
// election window [1200,2400]ms) for the given family and replica set. The
// two quorum sizes are recomputed from N()/F() after replicas is known.
func Default(family ConsensusFamily, replicas []ReplicaInfo, selfID uint32) Config {
	c := Config{
		Replicas:          replicas,
		SelfID:            selfID,
		Consensus:         family,
		ClientBatchNum:    100,
		ClientBatchWaitMs: 0,
		MaxProcessTxn:     1024,
		ClientTimeoutMs:   100_000,
		Signature:         ED25519,
		ViewChangeEnabled: true,
		TimeoutMinMs:      1200,
		TimeoutMaxMs:      2400,
		HeartbeatMs:       100,
	}
	n := len(replicas)
	f := c.FaultToleranceFor(n)
	c.MinDataReceiveNum = 2*f + 1
	c.MinClientReceiveNum = f + 1
	return c
}

// FaultToleranceFor computes f for n replicas under this config's family:
// floor((n-1)/3) for BFT families, floor((n-1)/2) for Raft.
func (c Config) FaultToleranceFor(n int) int {
	if n == 0 {
		return 0
	}
	if c.Consensus.IsBFT() {
		return (n - 1) / 3
	}
	return (n - 1) / 2
}

// N returns the configured replica count.
func (c Config) N() int { return len(c.Replicas) }

// F returns the fault tolerance implied by N and the consensus family.
func (c Config) F() int { return c.FaultToleranceFor(c.N()) }

// QuorumSize returns the number of matching signers/votes required to form
// a quorum certificate (BFT: 2f+1) or commit an entry (Raft: majority).
func (c Config) QuorumSize() int {
	if c.Consensus.IsBFT() {
		return 2*c.F() + 1
	}
	return c.N()/2 + 1
}

// Valid validates the configuration, returning the first violated
// invariant. It does not mutate c.
func (c Config) Valid() error {
	if len(c.Replicas) == 0 {
		return ErrNoReplicas
	}
	seen := make(map[uint32]struct{}, len(c.Replicas))
	foundSelf := false
	for _, r := range c.Replicas {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateReplicaID, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.ID == c.SelfID {
			foundSelf = true
		}
	}
	if !foundSelf {
		return ErrSelfNotInReplicas
	}

	// f is the fault tolerance the configured data quorum (2f+1) declares;
	// F() is derived from N() itself and so could never fail this check.
	n := c.N()
	f := (c.MinDataReceiveNum - 1) / 2
	minN := 3*f + 1
	if c.Consensus.IsBFT() && n < minN {
		return fmt.Errorf("%w: n=%d requires at least %d for f=%d", ErrTooFewReplicas, n, minN, f)
	}
	if !c.Consensus.IsBFT() && n < 2*f+1 {
		return fmt.Errorf("%w: n=%d requires at least %d for f=%d", ErrTooFewReplicas, n, 2*f+1, f)
	}

	switch c.Consensus {
	case HotStuff, Tusk, Raft, PBFT, Tendermint, Pompe, SlotHS, OOOHS:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidConsensus, c.Consensus)
	}

	switch c.Signature {
	case RSA, ED25519, CMACAES, ECDSA:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSignature, c.Signature)
	}

	if c.ClientBatchNum < 1 {
		return ErrInvalidBatching
	}
	if c.ClientTimeoutMs < 1 {
		return ErrInvalidTimeout
	}
	if c.MaxProcessTxn < 1 {
		return ErrInvalidMaxProcess
	}
	if c.TimeoutMinMs <= 0 || c.TimeoutMinMs > c.TimeoutMaxMs {
		return ErrInvalidViewTimeouts
	}
	if c.HeartbeatMs < 1 || c.HeartbeatMs >= c.TimeoutMinMs {
		return ErrInvalidHeartbeat
	}
	return nil
}

// ElectionTimeoutRange returns the [TimeoutMinMs, TimeoutMaxMs] bounds as
// durations; Raft election timers and BFT view-change timers sample their
// timeouts from this range.
func (c Config) ElectionTimeoutRange() (time.Duration, time.Duration) {
	return time.Duration(c.TimeoutMinMs) * time.Millisecond, time.Duration(c.TimeoutMaxMs) * time.Millisecond
}

// LoadFile parses a YAML replica configuration from path and validates it.
// A parse or validation failure is a ConfigError (spec section 6: exit code
// 1, fatal at startup).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.Valid(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}
