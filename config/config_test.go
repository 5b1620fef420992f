// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalPresetValid(t *testing.T) {
	c := Local(HotStuff)
	require.NoError(t, c.Valid())
	require.Equal(t, 4, c.N())
	require.Equal(t, 1, c.F())
	require.Equal(t, 3, c.QuorumSize())
	require.Equal(t, 2, c.MinClientReceiveNum)
}

func TestLocalRaftPreset(t *testing.T) {
	c := LocalRaft()
	require.NoError(t, c.Valid())
	require.Equal(t, 5, c.N())
	require.Equal(t, 2, c.F())
	require.Equal(t, 3, c.QuorumSize())
}

func TestValidRejectsTooFewReplicas(t *testing.T) {
	c := Local(HotStuff)
	c.Replicas = c.Replicas[:3]
	err := c.Valid()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTooFewReplicas))
}

func TestValidRejectsSelfNotInReplicas(t *testing.T) {
	c := Local(HotStuff)
	c.SelfID = 99
	require.ErrorIs(t, c.Valid(), ErrSelfNotInReplicas)
}

func TestValidRejectsBadTimeouts(t *testing.T) {
	c := Local(HotStuff)
	c.TimeoutMinMs = 0
	require.ErrorIs(t, c.Valid(), ErrInvalidViewTimeouts)
}

func TestBuilder(t *testing.T) {
	replicas := []ReplicaInfo{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	c := NewBuilder(HotStuff).
		WithReplicas(replicas, 1).
		WithSignature(ECDSA).
		WithBatching(50, 10, 512).
		Build()
	require.NoError(t, c.Valid())
	require.Equal(t, ECDSA, c.Signature)
	require.Equal(t, 50, c.ClientBatchNum)
}
