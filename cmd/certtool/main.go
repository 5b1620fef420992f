// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command certtool is a stub for the replica certificate/identity
// provisioning workflow named in spec section 6. Certificate issuance and
// chain-of-trust management are out of scope for the core (spec section
// 1: crypto primitives beyond a SignatureVerifier capability); real
// deployments wire this against their own PKI. This binary only validates
// arguments and reports the subcommand it would have run.
package main

import (
	"flag"
	"fmt"
	"os"
)

func run() error {
	action := flag.String("action", "", "certificate action: issue, revoke, inspect")
	subject := flag.String("subject", "", "replica identity the action applies to")
	flag.Parse()

	switch *action {
	case "issue", "revoke", "inspect":
	case "":
		return fmt.Errorf("certtool: -action is required (issue, revoke, inspect)")
	default:
		return fmt.Errorf("certtool: unknown action %q", *action)
	}
	if *subject == "" {
		return fmt.Errorf("certtool: -subject is required")
	}

	fmt.Printf("certtool: %s requested for %s (certificate issuance is provided by the deployment's PKI, not this core)\n", *action, *subject)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
