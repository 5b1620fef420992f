// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package raft

import "errors"

var (
	ErrNotLeader     = errors.New("raft: not the leader for current term")
	ErrStaleTerm     = errors.New("raft: message term is stale")
	ErrLogMismatch   = errors.New("raft: previous log entry does not match")
	ErrIndexOutOfLog = errors.New("raft: requested index is beyond the local log")
)
