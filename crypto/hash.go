// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package crypto adapts the core's two external capabilities named in spec
// section 3 (sign/verify and hash) to concrete primitives, selected by
// config.SignatureScheme. Every protocol engine depends only on the
// Signer/Verifier/Hasher interfaces here, never on a concrete algorithm
// package, so swapping schemes never touches consensus/* or batching.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"

	"github.com/zeebo/blake3"

	"github.com/resilientdb/core/types"
)

// HashAlgorithm selects the digest primitive the Hasher uses. BLAKE3 is the
// default: it is the fastest of the three and what batch/block hashing
// uses unless a deployment needs interoperability with a SHA-256-based
// client (spec section 4, "hash()").
type HashAlgorithm string

const (
	HashBLAKE3  HashAlgorithm = "blake3"
	HashSHA256  HashAlgorithm = "sha256"
	HashBLAKE2B HashAlgorithm = "blake2b"
)

// Hasher computes the Hash embedded in every wire message.
type Hasher interface {
	Hash(data []byte) types.Hash
}

type hasher struct {
	algo HashAlgorithm
}

// NewHasher returns a Hasher for the given algorithm. An unrecognized
// algorithm falls back to BLAKE3 rather than failing, since the hash
// choice is a performance knob, not a safety one, as long as every replica
// in a deployment agrees (enforced at config-load time by config.Valid
// callers, not here).
func NewHasher(algo HashAlgorithm) Hasher {
	return &hasher{algo: algo}
}

func (h *hasher) Hash(data []byte) types.Hash {
	switch h.algo {
	case HashSHA256:
		return sha256.Sum256(data)
	case HashBLAKE2B:
		sum := blake2b.Sum256(data)
		return sum
	default:
		return blake3.Sum256(data)
	}
}

// MustHash computes a hash with the default BLAKE3 algorithm; a
// convenience for call sites (tests, cmd/* tools) that don't thread a
// Hasher through.
func MustHash(data []byte) types.Hash {
	return NewHasher(HashBLAKE3).Hash(data)
}

// HashBatch hashes the concatenation of a batch's request hashes plus its
// proposer and local id, giving every replica that receives the same
// requests in the same order an identical Batch.Hash (spec section 8,
// property 1).
func HashBatch(h Hasher, b types.Batch) types.Hash {
	buf := make([]byte, 0, 32*len(b.Requests)+28)
	for _, r := range b.Requests {
		buf = append(buf, r.Hash[:]...)
	}
	buf = append(buf, b.ProposerID[:]...)
	var localID [8]byte
	for i := 0; i < 8; i++ {
		localID[i] = byte(b.LocalID >> (56 - 8*i))
	}
	buf = append(buf, localID[:]...)
	return h.Hash(buf)
}

// HashRequest hashes a request's sender, sequence number, and payload,
// giving the proxy a stable key for duplicate suppression independent of
// signature bytes.
func HashRequest(h Hasher, r types.Request) types.Hash {
	buf := make([]byte, 0, len(r.Payload)+28)
	buf = append(buf, r.SenderID[:]...)
	var seq [8]byte
	for i := 0; i < 8; i++ {
		seq[i] = byte(r.Seq >> (56 - 8*i))
	}
	buf = append(buf, seq[:]...)
	buf = append(buf, r.Payload...)
	return h.Hash(buf)
}
