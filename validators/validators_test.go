// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package validators

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/config"
)

func TestNewSetFromLocalPreset(t *testing.T) {
	cfg := config.Local(config.HotStuff)
	s, err := NewSet(cfg)
	require.NoError(t, err)
	require.Equal(t, 4, s.N())
	require.Equal(t, 1, s.F())
	require.Equal(t, 3, s.QuorumSize())
	require.True(t, s.Contains(s.Self()))
}

func TestLeaderRotation(t *testing.T) {
	cfg := config.Local(config.HotStuff)
	s, err := NewSet(cfg)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for v := uint64(0); v < uint64(s.N()); v++ {
		leader := s.LeaderForView(v)
		seen[leader.String()] = true
		require.True(t, s.IsLeaderForView(leader, v))
	}
	require.Len(t, seen, s.N())

	require.Equal(t, s.LeaderForView(0), s.LeaderForView(uint64(s.N())))
}

func TestNewSetRejectsInvalidConfig(t *testing.T) {
	cfg := config.Local(config.HotStuff)
	cfg.Replicas = nil
	_, err := NewSet(cfg)
	require.Error(t, err)
}
