// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/resilientdb/core/concurrency"
	"github.com/resilientdb/core/storage"
	"github.com/resilientdb/core/types"
)

// kvExecutor is a reference execution.Executor: transaction executors are
// out of scope for the core itself (spec section 1), but cmd/replica needs
// one to run end to end. It interprets each request's payload as a
// space-separated "PUT key value" / "GET key" / "DELETE key" command,
// validating each access against the Streaming concurrency controller
// before applying it to the replica's durable KvStorage.
type kvExecutor struct {
	kv   storage.KvStorage
	ctrl *concurrency.Controller

	mu   sync.Mutex
	next concurrency.CommitID
}

func newKVExecutor(kv storage.KvStorage) *kvExecutor {
	return &kvExecutor{kv: kv, ctrl: concurrency.NewController()}
}

func (e *kvExecutor) Apply(ctx context.Context, seq uint64, batch types.Batch) ([][]byte, error) {
	results := make([][]byte, len(batch.Requests))
	for i, req := range batch.Requests {
		results[i] = e.applyOne(ctx, req.Payload)
	}
	return results, nil
}

func (e *kvExecutor) applyOne(ctx context.Context, payload []byte) []byte {
	fields := bytes.Fields(payload)
	if len(fields) == 0 {
		return []byte("ERR empty command")
	}
	switch string(bytes.ToUpper(fields[0])) {
	case "PUT":
		if len(fields) < 3 {
			return []byte("ERR usage: PUT key value")
		}
		key := string(fields[1])
		value := bytes.Join(fields[2:], []byte(" "))
		if err := e.commit(ctx, key, concurrency.Store(value)); err != nil {
			return []byte(fmt.Sprintf("ERR %v", err))
		}
		return []byte("OK")
	case "GET":
		if len(fields) != 2 {
			return []byte("ERR usage: GET key")
		}
		key := string(fields[1])
		if err := e.commit(ctx, key, concurrency.Load(e.ctrl.Version(key))); err != nil {
			return []byte(fmt.Sprintf("ERR %v", err))
		}
		value, err := e.kv.Get(ctx, []byte(key))
		if err == storage.ErrNotFound {
			return []byte("(nil)")
		}
		if err != nil {
			return []byte(fmt.Sprintf("ERR %v", err))
		}
		return value
	case "DELETE":
		if len(fields) != 2 {
			return []byte("ERR usage: DELETE key")
		}
		key := string(fields[1])
		if err := e.commit(ctx, key, concurrency.Remove()); err != nil {
			return []byte(fmt.Sprintf("ERR %v", err))
		}
		return []byte("OK")
	default:
		return []byte(fmt.Sprintf("ERR unknown command %q", fields[0]))
	}
}

// commit pushes a single-address access through the concurrency
// controller and, once accepted, mirrors any resulting write into durable
// storage. A single-threaded executor never contends with itself, so the
// commit always lands on its first attempt; the controller still performs
// the version check the Streaming protocol requires before the executor
// trusts its own read.
func (e *kvExecutor) commit(ctx context.Context, key string, op concurrency.Op) error {
	e.mu.Lock()
	id := e.next
	e.next++
	e.mu.Unlock()

	e.ctrl.PushCommit(id, concurrency.ModifyMap{key: {op}})
	if !e.ctrl.Commit(id) {
		return fmt.Errorf("concurrency conflict on %q", key)
	}
	if op.Kind == concurrency.OpLoad {
		return nil
	}
	if value, present := e.ctrl.Get(key); present {
		return e.kv.Put(ctx, []byte(key), value)
	}
	return e.kv.Delete(ctx, []byte(key))
}
