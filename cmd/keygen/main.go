// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command keygen generates a replica key pair for one of the core's four
// signature schemes and writes it to a JSON file that cmd/replica reads at
// startup (spec section 6: replica identity material is provisioned
// out-of-band, not by the core itself).
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/resilientdb/core/config"
	"github.com/resilientdb/core/crypto"
)

type keyFile struct {
	Scheme     config.SignatureScheme `json:"scheme"`
	PrivateKey string                 `json:"private_key"`
	PublicKey  string                 `json:"public_key"`
}

func schemeFlag(s string) (config.SignatureScheme, error) {
	switch config.SignatureScheme(s) {
	case config.RSA, config.ED25519, config.CMACAES, config.ECDSA:
		return config.SignatureScheme(s), nil
	default:
		return "", fmt.Errorf("keygen: unknown signature scheme %q (want rsa, ed25519, cmac_aes, or ecdsa)", s)
	}
}

func run() error {
	schemeStr := flag.String("scheme", string(config.ED25519), "signature scheme: rsa, ed25519, cmac_aes, ecdsa")
	out := flag.String("out", "replica.key.json", "path to write the generated key-pair file")
	flag.Parse()

	scheme, err := schemeFlag(*schemeStr)
	if err != nil {
		return err
	}

	kp, err := crypto.GenerateKeyPair(scheme)
	if err != nil {
		return fmt.Errorf("keygen: generating key pair: %w", err)
	}

	kf := keyFile{
		Scheme:     kp.Scheme,
		PrivateKey: base64.StdEncoding.EncodeToString(kp.PrivateKey),
		PublicKey:  base64.StdEncoding.EncodeToString(kp.PublicKey),
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("keygen: encoding key file: %w", err)
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("keygen: writing %s: %w", *out, err)
	}
	fmt.Printf("wrote %s key pair to %s (public key: %s)\n", scheme, *out, kf.PublicKey)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
