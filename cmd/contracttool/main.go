// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command contracttool is a stub for deploying and invoking smart
// contracts against a running replica set. Contract execution semantics
// are an executor concern and explicitly out of scope for the core (spec
// section 1); this binary only validates the -verb and -payload flags and
// prints the raw payload it would have submitted, without encoding it.
package main

import (
	"flag"
	"fmt"
	"os"
)

func run() error {
	verb := flag.String("verb", "", "deploy or invoke")
	payload := flag.String("payload", "", "raw command payload to submit")
	flag.Parse()

	switch *verb {
	case "deploy", "invoke":
	case "":
		return fmt.Errorf("contracttool: -verb is required (deploy, invoke)")
	default:
		return fmt.Errorf("contracttool: unknown verb %q", *verb)
	}
	if *payload == "" {
		return fmt.Errorf("contracttool: -payload is required")
	}

	fmt.Printf("contracttool: would submit %s payload %q (contract execution is provided by the deployment's executor, not this core)\n", *verb, *payload)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
