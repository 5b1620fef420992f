// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/log"
)

func runKvStorageSuite(t *testing.T, s KvStorage) {
	ctx := context.Background()

	_, err := s.Get(ctx, []byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, []byte("a/1"), []byte("one")))
	require.NoError(t, s.Put(ctx, []byte("a/2"), []byte("two")))
	require.NoError(t, s.Put(ctx, []byte("b/1"), []byte("three")))

	v, err := s.Get(ctx, []byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	all, err := s.GetAll(ctx, []byte("a/"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []byte("one"), all["a/1"])

	rng, err := s.GetRange(ctx, []byte("a/1"), []byte("b/"))
	require.NoError(t, err)
	require.Len(t, rng, 2)

	require.NoError(t, s.Delete(ctx, []byte("a/1")))
	_, err = s.Get(ctx, []byte("a/1"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Flush(ctx))
}

func TestMemoryStore(t *testing.T) {
	runKvStorageSuite(t, NewMemoryStore())
}

func TestPebbleStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replica-1")
	s, err := OpenPebble(dir, log.NewNoOp())
	require.NoError(t, err)
	defer s.Close()

	runKvStorageSuite(t, s)
}
