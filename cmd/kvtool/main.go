// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command kvtool inspects a replica's on-disk KvStorage directly,
// bypassing consensus, for operational debugging (spec section 6). It
// talks to the same storage.KvStorage capability the execution pipeline
// uses, opened read-only in spirit (this tool performs no writes except
// the explicit "put"/"delete" verbs).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/resilientdb/core/log"
	"github.com/resilientdb/core/storage"
)

func run() error {
	dataDir := flag.String("data-dir", "./data", "replica storage directory")
	verb := flag.String("verb", "get", "operation: get, put, delete, scan")
	key := flag.String("key", "", "key to operate on")
	value := flag.String("value", "", "value for put")
	flag.Parse()

	if *key == "" && *verb != "scan" {
		return fmt.Errorf("kvtool: -key is required for %s", *verb)
	}

	kv, err := storage.OpenPebble(*dataDir, log.NewNoOp())
	if err != nil {
		return fmt.Errorf("kvtool: opening %s: %w", *dataDir, err)
	}
	defer kv.Close()

	ctx := context.Background()
	switch *verb {
	case "get":
		v, err := kv.Get(ctx, []byte(*key))
		if err == storage.ErrNotFound {
			fmt.Println("(nil)")
			return nil
		}
		if err != nil {
			return fmt.Errorf("kvtool: get %s: %w", *key, err)
		}
		fmt.Println(string(v))
	case "put":
		if err := kv.Put(ctx, []byte(*key), []byte(*value)); err != nil {
			return fmt.Errorf("kvtool: put %s: %w", *key, err)
		}
		fmt.Println("OK")
	case "delete":
		if err := kv.Delete(ctx, []byte(*key)); err != nil {
			return fmt.Errorf("kvtool: delete %s: %w", *key, err)
		}
		fmt.Println("OK")
	case "scan":
		all, err := kv.GetAll(ctx, []byte(*key))
		if err != nil {
			return fmt.Errorf("kvtool: scan: %w", err)
		}
		for k, v := range all {
			fmt.Printf("%s = %s\n", k, v)
		}
	default:
		return fmt.Errorf("kvtool: unknown verb %q", *verb)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
