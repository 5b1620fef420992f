// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/resilientdb/core/config"
)

// Signer signs a replica's own outbound messages. Each replica holds
// exactly one Signer for its configured SignatureScheme.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	Scheme() config.SignatureScheme
}

// KeyPair is a generated or loaded key pair in PEM-free raw form, the
// format cmd/keygen writes and replica startup reads (spec section 6).
type KeyPair struct {
	Scheme     config.SignatureScheme
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateKeyPair creates a fresh key pair for scheme, used by cmd/keygen
// and by tests that need a throwaway identity.
func GenerateKeyPair(scheme config.SignatureScheme) (KeyPair, error) {
	switch scheme {
	case config.ED25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generating ed25519 key: %w", err)
		}
		return KeyPair{Scheme: scheme, PrivateKey: priv, PublicKey: pub}, nil

	case config.ECDSA:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generating ecdsa key: %w", err)
		}
		privBytes, err := x509.MarshalECPrivateKey(priv)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: marshaling ecdsa key: %w", err)
		}
		pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: marshaling ecdsa public key: %w", err)
		}
		return KeyPair{Scheme: scheme, PrivateKey: privBytes, PublicKey: pubBytes}, nil

	case config.RSA:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generating rsa key: %w", err)
		}
		privBytes := x509.MarshalPKCS1PrivateKey(priv)
		pubBytes := x509.MarshalPKCS1PublicKey(&priv.PublicKey)
		return KeyPair{Scheme: scheme, PrivateKey: privBytes, PublicKey: pubBytes}, nil

	case config.CMACAES:
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generating cmac-aes key: %w", err)
		}
		return KeyPair{Scheme: scheme, PrivateKey: key, PublicKey: key}, nil

	default:
		return KeyPair{}, fmt.Errorf("crypto: unknown signature scheme %q", scheme)
	}
}

// NewSigner builds a Signer from a previously generated/loaded KeyPair.
func NewSigner(kp KeyPair) (Signer, error) {
	switch kp.Scheme {
	case config.ED25519:
		if len(kp.PrivateKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("crypto: ed25519 private key has wrong length %d", len(kp.PrivateKey))
		}
		return &ed25519Signer{key: ed25519.PrivateKey(kp.PrivateKey)}, nil

	case config.ECDSA:
		priv, err := x509.ParseECPrivateKey(kp.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("crypto: parsing ecdsa private key: %w", err)
		}
		return &ecdsaSigner{key: priv}, nil

	case config.RSA:
		priv, err := x509.ParsePKCS1PrivateKey(kp.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("crypto: parsing rsa private key: %w", err)
		}
		return &rsaSigner{key: priv}, nil

	case config.CMACAES:
		return &cmacSigner{key: kp.PrivateKey}, nil

	default:
		return nil, fmt.Errorf("crypto: unknown signature scheme %q", kp.Scheme)
	}
}

type ed25519Signer struct{ key ed25519.PrivateKey }

func (s *ed25519Signer) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.key, digest), nil
}
func (s *ed25519Signer) Scheme() config.SignatureScheme { return config.ED25519 }

type ecdsaSigner struct{ key *ecdsa.PrivateKey }

func (s *ecdsaSigner) Sign(digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, s.key, digest)
}
func (s *ecdsaSigner) Scheme() config.SignatureScheme { return config.ECDSA }

type rsaSigner struct{ key *rsa.PrivateKey }

func (s *rsaSigner) Sign(digest []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, s.key, 0, padDigest(digest))
}
func (s *rsaSigner) Scheme() config.SignatureScheme { return config.RSA }

// padDigest extends/truncates an arbitrary digest to the 32 bytes
// rsa.SignPKCS1v15 expects when no hash.Hash is supplied (hash=0): the
// core signs a pre-hashed 32-byte blake3/sha256 digest, never raw
// payloads, so this is a length guard, not a cryptographic hash step.
func padDigest(digest []byte) []byte {
	out := make([]byte, 32)
	copy(out, digest)
	return out
}

type cmacSigner struct{ key []byte }

func (s *cmacSigner) Sign(digest []byte) ([]byte, error) {
	return aesCMAC(s.key, digest)
}
func (s *cmacSigner) Scheme() config.SignatureScheme { return config.CMACAES }
