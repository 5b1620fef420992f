// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import "errors"

// Config validation errors. Any of these at startup is a ConfigError and is
// fatal: the replica exits with status 1 rather than starting in an
// undefined configuration.
var (
	ErrNoReplicas          = errors.New("config: replicas list is empty")
	ErrSelfNotInReplicas   = errors.New("config: self_id does not name a configured replica")
	ErrDuplicateReplicaID  = errors.New("config: duplicate replica id")
	ErrTooFewReplicas      = errors.New("config: fewer replicas than the consensus family tolerates faults for")
	ErrInvalidConsensus    = errors.New("config: unknown consensus family")
	ErrInvalidSignature    = errors.New("config: unknown signature scheme")
	ErrInvalidBatching     = errors.New("config: client_batch_num must be >= 1")
	ErrInvalidTimeout      = errors.New("config: client_timeout_ms must be >= 1")
	ErrInvalidMaxProcess   = errors.New("config: max_process_txn must be >= 1")
	ErrInvalidViewTimeouts = errors.New("config: timeout_min_ms must be > 0 and <= timeout_max_ms")
	ErrInvalidHeartbeat    = errors.New("config: heartbeat_ms must be >= 1 and < timeout_min_ms")
)
