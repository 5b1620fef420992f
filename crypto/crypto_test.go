// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crypto

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/types"
)

func TestHashDeterministic(t *testing.T) {
	h := NewHasher(HashBLAKE3)
	a := h.Hash([]byte("hello"))
	b := h.Hash([]byte("hello"))
	require.Equal(t, a, b)

	c := h.Hash([]byte("goodbye"))
	require.NotEqual(t, a, c)
}

func TestHashAlgorithmsDiffer(t *testing.T) {
	data := []byte("resilientdb")
	blake3 := NewHasher(HashBLAKE3).Hash(data)
	sha256 := NewHasher(HashSHA256).Hash(data)
	blake2b := NewHasher(HashBLAKE2B).Hash(data)
	require.NotEqual(t, blake3, sha256)
	require.NotEqual(t, blake3, blake2b)
}

func TestHashBatchStableUnderRequestOrder(t *testing.T) {
	h := NewHasher(HashBLAKE3)
	r1 := types.Request{SenderID: ids.GenerateTestNodeID(), Hash: ids.GenerateTestID()}
	r2 := types.Request{SenderID: ids.GenerateTestNodeID(), Hash: ids.GenerateTestID()}
	proposer := ids.GenerateTestNodeID()

	b1 := types.NewBatch(proposer, 1, []types.Request{r1, r2})
	b2 := types.NewBatch(proposer, 1, []types.Request{r2, r1})
	require.NotEqual(t, HashBatch(h, b1), HashBatch(h, b2))

	b3 := types.NewBatch(proposer, 1, []types.Request{r1, r2})
	require.Equal(t, HashBatch(h, b1), HashBatch(h, b3))
}

func testSignVerify(t *testing.T, scheme config.SignatureScheme) {
	t.Helper()
	kp, err := GenerateKeyPair(scheme)
	require.NoError(t, err)

	signer, err := NewSigner(kp)
	require.NoError(t, err)
	require.Equal(t, scheme, signer.Scheme())

	digest := MustHash([]byte("commit batch 7"))
	sig, err := signer.Sign(digest[:])
	require.NoError(t, err)

	replicaID := ids.GenerateTestNodeID()
	vs, err := NewVerifierSet(scheme, map[types.ReplicaID][]byte{replicaID: kp.PublicKey})
	require.NoError(t, err)
	require.True(t, vs.Verify(replicaID, digest[:], sig))

	otherDigest := MustHash([]byte("commit batch 8"))
	require.False(t, vs.Verify(replicaID, otherDigest[:], sig))
	require.False(t, vs.Verify(ids.GenerateTestNodeID(), digest[:], sig))
}

func TestSignVerifyEd25519(t *testing.T) { testSignVerify(t, config.ED25519) }
func TestSignVerifyECDSA(t *testing.T)   { testSignVerify(t, config.ECDSA) }
func TestSignVerifyRSA(t *testing.T)     { testSignVerify(t, config.RSA) }
func TestSignVerifyCMACAES(t *testing.T) { testSignVerify(t, config.CMACAES) }

func TestAESCMACKnownAnswer(t *testing.T) {
	// RFC 4493 test vector 1: empty message under the fixed 128-bit key.
	key := []byte{
		0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
		0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c,
	}
	want := []byte{
		0xbb, 0x1d, 0x69, 0x29, 0xe9, 0x59, 0x37, 0x28,
		0x7f, 0xa3, 0x7d, 0x12, 0x9b, 0x75, 0x67, 0x46,
	}
	got, err := aesCMAC(key, nil)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
