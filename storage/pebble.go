// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package storage

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/resilientdb/core/log"
)

// PebbleStore is the default KvStorage, one Pebble database per replica
// data directory.
type PebbleStore struct {
	db     *pebble.DB
	logger log.Logger
}

// OpenPebble opens (creating if absent) a Pebble database at dir.
func OpenPebble(dir string, logger log.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: opening pebble at %s: %w", dir, err)
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

// Put writes key/value, synced so it survives a crash immediately after
// return.
func (s *PebbleStore) Put(ctx context.Context, key, value []byte) error {
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("storage: put: %w", err)
	}
	return nil
}

// Get reads key, returning ErrNotFound if absent.
func (s *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get: %w", err)
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("storage: get: closing value: %w", err)
	}
	return out, nil
}

// GetAll returns every key/value pair whose key has the given prefix.
func (s *PebbleStore) GetAll(ctx context.Context, prefix []byte) (map[string][]byte, error) {
	iter, err := s.db.NewIterWithContext(ctx, &pebble.IterOptions{LowerBound: prefix})
	if err != nil {
		return nil, fmt.Errorf("storage: get all: %w", err)
	}
	defer iter.Close()

	out := make(map[string][]byte)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !hasPrefix(key, prefix) {
			break
		}
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out[string(key)] = value
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("storage: get all: %w", err)
	}
	return out, nil
}

// GetRange returns every key/value pair in [start, end).
func (s *PebbleStore) GetRange(ctx context.Context, start, end []byte) (map[string][]byte, error) {
	iter, err := s.db.NewIterWithContext(ctx, &pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, fmt.Errorf("storage: get range: %w", err)
	}
	defer iter.Close()

	out := make(map[string][]byte)
	for iter.First(); iter.Valid(); iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out[string(iter.Key())] = value
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("storage: get range: %w", err)
	}
	return out, nil
}

// Delete removes key.
func (s *PebbleStore) Delete(ctx context.Context, key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

// Flush forces Pebble's memtable to disk.
func (s *PebbleStore) Flush(ctx context.Context) error {
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	return nil
}

var _ KvStorage = (*PebbleStore)(nil)
