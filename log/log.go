// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package log re-exports the structured logger used throughout the core so
// that no package reaches for a package-level global logger. Every
// constructor in this module takes a log.Logger explicitly; NewNoOp is the
// default where a caller passes nil, and tools and tests also call it
// directly when they want logging discarded.
package log

import (
	"github.com/luxfi/log"
)

// Logger is the structured logger interface threaded through every
// component constructor.
type Logger = log.Logger

// NewNoOp returns a logger that discards everything, used as the default
// when a caller does not supply one.
func NewNoOp() Logger {
	return log.NewNoOpLogger()
}

// Stringer, Err and the other field constructors are re-exported so callers
// don't need a second import for structured fields.
var (
	Stringer = log.Stringer
	Err      = log.Err
	Uint32   = log.Uint32
	Uint64   = log.Uint64
	Int      = log.Int
	String   = log.String
	Bool     = log.Bool
	Duration = log.Duration
)
