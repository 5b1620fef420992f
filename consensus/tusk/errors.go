// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tusk

import "errors"

var (
	// ErrAlreadyProposed is returned when a replica tries to propose a
	// second block for a round it has already proposed in.
	ErrAlreadyProposed = errors.New("tusk: replica already proposed for this round")
	// ErrRoundNotReady is returned when tryPropose is called before
	// this replica holds 2f+1 certificates for the previous round.
	ErrRoundNotReady = errors.New("tusk: previous round not yet certified")
	// ErrInvalidCertificate is returned when a DAGCertificate's signature
	// count falls short of quorum.
	ErrInvalidCertificate = errors.New("tusk: certificate below quorum")
	ErrUnknownBlock       = errors.New("tusk: unknown block hash")
)
