// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package types

// RequestType distinguishes a client's command from the heartbeat/no-op
// requests the batching layer and protocol engines synthesize internally.
type RequestType uint8

const (
	RequestTypeCommand RequestType = iota
	RequestTypeNoOp
)

// Request is a single client command as it arrives at a replica, before
// batching. It is the unit the execution pipeline eventually delivers to
// the external Executor, tagged with its commit sequence number.
type Request struct {
	Type RequestType

	// SenderID identifies the client that produced the request.
	SenderID ReplicaID

	// Seq is the sender-assigned sequence number, used for duplicate
	// suppression at the proxy (spec section 4.6).
	Seq uint64

	// ProxyID is the replica the client addressed this request to; it is
	// the replica responsible for batching it and returning the response.
	ProxyID ReplicaID

	// Payload is the opaque command body handed to Executor.Apply.
	Payload []byte

	// Hash is the configured crypto.Hasher's digest of Payload (BLAKE3 by
	// default), computed once at admission and reused for
	// batch aggregation and duplicate detection.
	Hash Hash

	// Signature authenticates SenderID over Hash, verified at admission
	// under the configured SignatureScheme.
	Signature []byte
}

// LocalID is the proxy-assigned identifier a batch uses to correlate a
// committed request back to the waiting client connection (spec section
// 4.6: "local_id assignment").
type LocalID uint64

// Batch is an ordered, finite sequence of requests proposed together by one
// protocol engine round. Its Hash commits to the exact sequence of request
// hashes, so any two replicas that observe the same Hash agree on both the
// membership and the order of its requests (spec section 8, property 1).
type Batch struct {
	// LocalID identifies this batch within the proposing replica's
	// in-flight window.
	LocalID LocalID

	// ProposerID is the replica that assembled this batch.
	ProposerID ReplicaID

	// Requests is the ordered request sequence. Reconstructing Hash from
	// Requests must reproduce the wire Hash (property 1).
	Requests []Request

	// Hash commits to Requests; see NewBatch.
	Hash Hash

	// CreateTimeUnixNano is wall-clock batch-assembly time, used only for
	// client-timeout accounting, never for ordering.
	CreateTimeUnixNano int64
}

// NewBatch assembles a batch from proposer and ordered requests, stamping
// CreateTimeUnixNano. Hash must still be set by the caller via a Hasher
// (crypto package) once content is final, since types does not depend on
// crypto.
func NewBatch(proposer ReplicaID, localID LocalID, requests []Request) Batch {
	return Batch{
		LocalID:            localID,
		ProposerID:         proposer,
		Requests:           requests,
		CreateTimeUnixNano: now().UnixNano(),
	}
}

// Empty reports whether the batch carries no requests.
func (b Batch) Empty() bool {
	return len(b.Requests) == 0
}

// BatchResponse is one replica's reply to a committed batch, addressed
// back to the proxy that assembled it. A client-facing response is
// surfaced only once f+1 of these, from distinct replicas, agree on
// LocalID and Results (spec section 4.6: "f+1 response-collection").
type BatchResponse struct {
	// ProxyID is the replica that owns LocalID's client connection.
	ProxyID ReplicaID

	// ReplicaID is the replica that executed the batch and is reporting
	// this result.
	ReplicaID ReplicaID

	LocalID LocalID

	// Results holds one opaque result per request in the batch, in the
	// same order, as returned by the Executor.
	Results [][]byte

	// Success is false when the executor reported a failure; the batch
	// still committed (durability is independent of executor success).
	Success bool
}
