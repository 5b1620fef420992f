// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command replica runs a single ordering-core replica: it loads a YAML
// config, wires crypto, storage, transport, the configured protocol
// engine, and the execution pipeline, then serves client requests until
// interrupted (spec section 6, mirroring the teacher's cmd/consensus
// entrypoint shape).
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/consensus/hotstuff"
	"github.com/resilientdb/core/consensus/raft"
	"github.com/resilientdb/core/consensus/tusk"
	"github.com/resilientdb/core/crypto"
	"github.com/resilientdb/core/execution"
	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/metrics"
	"github.com/resilientdb/core/networking"
	"github.com/resilientdb/core/replica"
	"github.com/resilientdb/core/storage"
	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/validators"
)

// keyFile is the JSON-on-disk form of a crypto.KeyPair, written by
// cmd/keygen and read here.
type keyFile struct {
	Scheme     config.SignatureScheme `json:"scheme"`
	PrivateKey string                 `json:"private_key"`
	PublicKey  string                 `json:"public_key"`
}

func loadKeyPair(path string) (crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("reading key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return crypto.KeyPair{}, fmt.Errorf("parsing key file: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("decoding private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(kf.PublicKey)
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("decoding public key: %w", err)
	}
	return crypto.KeyPair{Scheme: kf.Scheme, PrivateKey: priv, PublicKey: pub}, nil
}

// buildEngineFactory returns nil for a family this core does not
// implement (spec §1 Non-goals: PBFT/Tendermint/Pompe/SlotHS/OOOHS are
// recognized for config compatibility only).
func buildEngineFactory(cfg config.Config, members *validators.Set, comm networking.ReplicaCommunicator, hasher crypto.Hasher, signer crypto.Signer, verifier crypto.Verifier, logger log.Logger, reg *metrics.Registry) func(pipe *execution.Pipeline) replica.Engine {
	switch cfg.Consensus {
	case config.HotStuff:
		return func(pipe *execution.Pipeline) replica.Engine {
			return hotstuff.New(cfg, members, comm, hasher, signer, verifier, pipe, logger, reg)
		}
	case config.Tusk:
		return func(pipe *execution.Pipeline) replica.Engine {
			return tusk.New(cfg, members, comm, hasher, signer, verifier, pipe, logger, reg)
		}
	case config.Raft:
		return func(pipe *execution.Pipeline) replica.Engine {
			return raft.New(cfg, members, comm, pipe, logger, reg)
		}
	default:
		return nil
	}
}

// buildVerifier assembles the VerifierSet from each replica's configured
// public key (spec §6: replica config carries peer public keys).
func buildVerifier(cfg config.Config) (crypto.Verifier, error) {
	pubKeys := make(map[types.ReplicaID][]byte, len(cfg.Replicas))
	for _, r := range cfg.Replicas {
		pubKeys[r.NodeID()] = r.PublicKey
	}
	set, err := crypto.NewVerifierSet(cfg.Signature, pubKeys)
	if err != nil {
		return nil, fmt.Errorf("replica: building verifier set: %w", err)
	}
	return set, nil
}

func run() error {
	configPath := flag.String("config", "", "path to the replica's YAML config file")
	keyPath := flag.String("keyfile", "", "path to this replica's key-pair file (from cmd/keygen)")
	dataDir := flag.String("data-dir", "./data", "directory for this replica's persistent storage")
	flag.Parse()

	if *configPath == "" {
		return errors.New("replica: -config is required")
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}

	members, err := validators.NewSet(*cfg)
	if err != nil {
		return fmt.Errorf("replica: building validator set: %w", err)
	}
	switch cfg.Consensus {
	case config.HotStuff, config.Tusk, config.Raft:
	default:
		return fmt.Errorf("replica: consensus family %q is not implemented by this core", cfg.Consensus)
	}

	logger := log.NewNoOp()
	reg, err := metrics.NewRegistry(nil)
	if err != nil {
		return fmt.Errorf("replica: building metrics registry: %w", err)
	}

	var signer crypto.Signer
	if *keyPath != "" {
		kp, err := loadKeyPair(*keyPath)
		if err != nil {
			return err
		}
		signer, err = crypto.NewSigner(kp)
		if err != nil {
			return fmt.Errorf("replica: building signer: %w", err)
		}
	}

	verifier, err := buildVerifier(*cfg)
	if err != nil {
		return err
	}

	kv, err := storage.OpenPebble(*dataDir, logger)
	if err != nil {
		return fmt.Errorf("replica: opening storage: %w", err)
	}
	defer kv.Close()

	comm := networking.NewZMQTransport(members.Self(), members, logger, reg)
	hasher := crypto.NewHasher(crypto.HashBLAKE3)
	engineFactory := buildEngineFactory(*cfg, members, comm, hasher, signer, verifier, logger, reg)
	executor := newKVExecutor(kv)

	rt := replica.NewRuntime(*cfg, members, comm, executor, hasher, signer, logger, reg, engineFactory)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("replica: starting runtime: %w", err)
	}
	defer rt.Shutdown()

	<-ctx.Done()
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replica: %v\n", err)
		os.Exit(1)
	}
}
