// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/types"
)

// Verifier checks a replica's signature over a digest, the capability the
// spec names "verify" in its external-interfaces section.
type Verifier interface {
	Verify(signer types.ReplicaID, digest, sig []byte) bool
}

// VerifierSet is a Verifier backed by the static per-replica public-key
// table, built once at startup from config.Config.Replicas and never
// mutated afterward (replica membership is static; see SPEC_FULL.md
// Non-goals on dynamic reconfiguration).
type VerifierSet struct {
	scheme config.SignatureScheme

	mu   sync.RWMutex
	keys map[types.ReplicaID]any
}

// NewVerifierSet builds a VerifierSet for scheme from a replica id to
// raw-public-key map (as produced by GenerateKeyPair/cmd/keygen).
func NewVerifierSet(scheme config.SignatureScheme, publicKeys map[types.ReplicaID][]byte) (*VerifierSet, error) {
	vs := &VerifierSet{scheme: scheme, keys: make(map[types.ReplicaID]any, len(publicKeys))}
	for id, raw := range publicKeys {
		key, err := parsePublicKey(scheme, raw)
		if err != nil {
			return nil, fmt.Errorf("crypto: replica %s: %w", id, err)
		}
		vs.keys[id] = key
	}
	return vs, nil
}

func parsePublicKey(scheme config.SignatureScheme, raw []byte) (any, error) {
	switch scheme {
	case config.ED25519:
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("ed25519 public key has wrong length %d", len(raw))
		}
		return ed25519.PublicKey(raw), nil
	case config.ECDSA:
		pub, err := x509.ParsePKIXPublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing ecdsa public key: %w", err)
		}
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not ecdsa")
		}
		return ecdsaPub, nil
	case config.RSA:
		pub, err := x509.ParsePKCS1PublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing rsa public key: %w", err)
		}
		return pub, nil
	case config.CMACAES:
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}

// Verify reports whether sig is a valid signature by signer over digest
// under this set's scheme. An unknown signer always fails closed.
func (vs *VerifierSet) Verify(signer types.ReplicaID, digest, sig []byte) bool {
	vs.mu.RLock()
	key, ok := vs.keys[signer]
	vs.mu.RUnlock()
	if !ok {
		return false
	}

	switch vs.scheme {
	case config.ED25519:
		pub, ok := key.(ed25519.PublicKey)
		return ok && ed25519.Verify(pub, digest, sig)
	case config.ECDSA:
		pub, ok := key.(*ecdsa.PublicKey)
		return ok && ecdsa.VerifyASN1(pub, digest, sig)
	case config.RSA:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return false
		}
		return rsa.VerifyPKCS1v15(pub, 0, padDigest(digest), sig) == nil
	case config.CMACAES:
		keyBytes, ok := key.([]byte)
		return ok && verifyCMAC(keyBytes, digest, sig)
	default:
		return false
	}
}

// Put installs or replaces a single replica's public key, used when
// cmd/keygen-rotated keys are hot-loaded into a running replica's test
// harness.
func (vs *VerifierSet) Put(id types.ReplicaID, raw []byte) error {
	key, err := parsePublicKey(vs.scheme, raw)
	if err != nil {
		return fmt.Errorf("crypto: replica %s: %w", id, err)
	}
	vs.mu.Lock()
	vs.keys[id] = key
	vs.mu.Unlock()
	return nil
}
