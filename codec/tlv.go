// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package codec

import (
	"fmt"

	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/utils/wrappers"
)

func packHash(p *wrappers.Packer, h types.Hash) {
	p.PackBytes(h[:])
}

func unpackHash(u *wrappers.Unpacker) types.Hash {
	var h types.Hash
	copy(h[:], u.UnpackBytes(len(h)))
	return h
}

func packReplicaID(p *wrappers.Packer, id types.ReplicaID) {
	p.PackBytes(id[:])
}

func unpackReplicaID(u *wrappers.Unpacker) types.ReplicaID {
	var id types.ReplicaID
	copy(id[:], u.UnpackBytes(len(id)))
	return id
}

func packBlob(p *wrappers.Packer, b []byte) {
	p.PackInt(uint32(len(b)))
	p.PackBytes(b)
}

func unpackBlob(u *wrappers.Unpacker) []byte {
	n := u.UnpackInt()
	if n == 0 {
		// packBlob writes a nil slice as length 0; decode it back to nil
		// so the value round-trips unchanged.
		return nil
	}
	return u.UnpackBytes(int(n))
}

// MarshalRequest encodes a types.Request.
func MarshalRequest(r types.Request) []byte {
	p := wrappers.NewPacker(256)
	p.PackByte(byte(r.Type))
	packReplicaID(p, r.SenderID)
	p.PackLong(r.Seq)
	packReplicaID(p, r.ProxyID)
	packBlob(p, r.Payload)
	packHash(p, r.Hash)
	packBlob(p, r.Signature)
	return p.Bytes
}

// UnmarshalRequest decodes a types.Request produced by MarshalRequest.
func UnmarshalRequest(b []byte) (types.Request, error) {
	u := wrappers.NewUnpacker(b)
	r := types.Request{
		Type:     types.RequestType(u.UnpackByte()),
		SenderID: unpackReplicaID(u),
		Seq:      u.UnpackLong(),
		ProxyID:  unpackReplicaID(u),
		Payload:  unpackBlob(u),
		Hash:     unpackHash(u),
	}
	r.Signature = unpackBlob(u)
	if u.Err != nil {
		return types.Request{}, fmt.Errorf("codec: unmarshal request: %w", u.Err)
	}
	return r, nil
}

// MarshalBatch encodes a types.Batch.
func MarshalBatch(b types.Batch) []byte {
	p := wrappers.NewPacker(512)
	p.PackLong(uint64(b.LocalID))
	packReplicaID(p, b.ProposerID)
	p.PackInt(uint32(len(b.Requests)))
	for _, r := range b.Requests {
		packBlob(p, MarshalRequest(r))
	}
	packHash(p, b.Hash)
	p.PackLong(uint64(b.CreateTimeUnixNano))
	return p.Bytes
}

// UnmarshalBatch decodes a types.Batch produced by MarshalBatch.
func UnmarshalBatch(b []byte) (types.Batch, error) {
	u := wrappers.NewUnpacker(b)
	out := types.Batch{
		LocalID:    types.LocalID(u.UnpackLong()),
		ProposerID: unpackReplicaID(u),
	}
	n := u.UnpackInt()
	out.Requests = make([]types.Request, 0, n)
	for i := uint32(0); i < n && u.Err == nil; i++ {
		reqBytes := unpackBlob(u)
		req, err := UnmarshalRequest(reqBytes)
		if err != nil {
			return types.Batch{}, fmt.Errorf("codec: unmarshal batch: request %d: %w", i, err)
		}
		out.Requests = append(out.Requests, req)
	}
	out.Hash = unpackHash(u)
	out.CreateTimeUnixNano = int64(u.UnpackLong())
	if u.Err != nil {
		return types.Batch{}, fmt.Errorf("codec: unmarshal batch: %w", u.Err)
	}
	return out, nil
}

// MarshalCertificate encodes a types.Certificate.
func MarshalCertificate(c types.Certificate) []byte {
	p := wrappers.NewPacker(128)
	p.PackShort(uint16(c.Type))
	p.PackLong(c.View)
	packHash(p, c.NodeHash)
	p.PackInt(uint32(len(c.Signatures)))
	for _, s := range c.Signatures {
		packReplicaID(p, s.Signer)
		packBlob(p, s.Signature)
	}
	return p.Bytes
}

// UnmarshalCertificate decodes a types.Certificate produced by
// MarshalCertificate.
func UnmarshalCertificate(b []byte) (types.Certificate, error) {
	u := wrappers.NewUnpacker(b)
	c := types.Certificate{
		Type:     types.MessageType(u.UnpackShort()),
		View:     u.UnpackLong(),
		NodeHash: unpackHash(u),
	}
	n := u.UnpackInt()
	c.Signatures = make([]types.PartialSignature, 0, n)
	for i := uint32(0); i < n && u.Err == nil; i++ {
		signer := unpackReplicaID(u)
		sig := unpackBlob(u)
		c.Signatures = append(c.Signatures, types.PartialSignature{Signer: signer, Signature: sig})
	}
	if u.Err != nil {
		return types.Certificate{}, fmt.Errorf("codec: unmarshal certificate: %w", u.Err)
	}
	return c, nil
}

// MarshalProposalNode encodes a chained-HotStuff types.ProposalNode.
func MarshalProposalNode(n types.ProposalNode) []byte {
	p := wrappers.NewPacker(512)
	p.PackLong(n.View)
	packHash(p, n.Hash)
	packHash(p, n.ParentHash)
	packBlob(p, MarshalCertificate(n.ParentQC))
	packReplicaID(p, n.ProposerID)
	packBlob(p, MarshalBatch(n.Batch))
	return p.Bytes
}

// UnmarshalProposalNode decodes a types.ProposalNode produced by
// MarshalProposalNode.
func UnmarshalProposalNode(b []byte) (types.ProposalNode, error) {
	u := wrappers.NewUnpacker(b)
	n := types.ProposalNode{
		View:       u.UnpackLong(),
		Hash:       unpackHash(u),
		ParentHash: unpackHash(u),
	}
	qcBytes := unpackBlob(u)
	if u.Err != nil {
		return types.ProposalNode{}, fmt.Errorf("codec: unmarshal proposal node: %w", u.Err)
	}
	qc, err := UnmarshalCertificate(qcBytes)
	if err != nil {
		return types.ProposalNode{}, fmt.Errorf("codec: unmarshal proposal node: parent qc: %w", err)
	}
	n.ParentQC = qc
	n.ProposerID = unpackReplicaID(u)
	batchBytes := unpackBlob(u)
	if u.Err != nil {
		return types.ProposalNode{}, fmt.Errorf("codec: unmarshal proposal node: %w", u.Err)
	}
	batch, err := UnmarshalBatch(batchBytes)
	if err != nil {
		return types.ProposalNode{}, fmt.Errorf("codec: unmarshal proposal node: batch: %w", err)
	}
	n.Batch = batch
	return n, nil
}

// MarshalNewView encodes a types.NewViewMessage.
func MarshalNewView(m types.NewViewMessage) []byte {
	p := wrappers.NewPacker(128)
	p.PackLong(m.View)
	packReplicaID(p, m.SenderID)
	packBlob(p, MarshalCertificate(m.HighQC))
	packHash(p, m.HighQCHash)
	return p.Bytes
}

// UnmarshalNewView decodes a types.NewViewMessage produced by
// MarshalNewView.
func UnmarshalNewView(b []byte) (types.NewViewMessage, error) {
	u := wrappers.NewUnpacker(b)
	m := types.NewViewMessage{
		View:     u.UnpackLong(),
		SenderID: unpackReplicaID(u),
	}
	qcBytes := unpackBlob(u)
	if u.Err != nil {
		return types.NewViewMessage{}, fmt.Errorf("codec: unmarshal new-view: %w", u.Err)
	}
	qc, err := UnmarshalCertificate(qcBytes)
	if err != nil {
		return types.NewViewMessage{}, fmt.Errorf("codec: unmarshal new-view: high qc: %w", err)
	}
	m.HighQC = qc
	m.HighQCHash = unpackHash(u)
	if u.Err != nil {
		return types.NewViewMessage{}, fmt.Errorf("codec: unmarshal new-view: %w", u.Err)
	}
	return m, nil
}

// MarshalDAGBlock encodes a Tusk types.DAGBlock.
func MarshalDAGBlock(blk types.DAGBlock) []byte {
	p := wrappers.NewPacker(512)
	p.PackLong(blk.Round)
	packReplicaID(p, blk.ProposerID)
	packHash(p, blk.Hash)
	p.PackInt(uint32(len(blk.StrongParents)))
	for _, h := range blk.StrongParents {
		packHash(p, h)
	}
	p.PackInt(uint32(len(blk.WeakParents)))
	for _, h := range blk.WeakParents {
		packHash(p, h)
	}
	packBlob(p, MarshalBatch(blk.Batch))
	return p.Bytes
}

// UnmarshalDAGBlock decodes a types.DAGBlock produced by MarshalDAGBlock.
func UnmarshalDAGBlock(b []byte) (types.DAGBlock, error) {
	u := wrappers.NewUnpacker(b)
	blk := types.DAGBlock{
		Round:      u.UnpackLong(),
		ProposerID: unpackReplicaID(u),
		Hash:       unpackHash(u),
	}
	nStrong := u.UnpackInt()
	blk.StrongParents = make([]types.Hash, 0, nStrong)
	for i := uint32(0); i < nStrong && u.Err == nil; i++ {
		blk.StrongParents = append(blk.StrongParents, unpackHash(u))
	}
	nWeak := u.UnpackInt()
	blk.WeakParents = make([]types.Hash, 0, nWeak)
	for i := uint32(0); i < nWeak && u.Err == nil; i++ {
		blk.WeakParents = append(blk.WeakParents, unpackHash(u))
	}
	batchBytes := unpackBlob(u)
	if u.Err != nil {
		return types.DAGBlock{}, fmt.Errorf("codec: unmarshal dag block: %w", u.Err)
	}
	batch, err := UnmarshalBatch(batchBytes)
	if err != nil {
		return types.DAGBlock{}, fmt.Errorf("codec: unmarshal dag block: batch: %w", err)
	}
	blk.Batch = batch
	return blk, nil
}

// MarshalDAGAck encodes a types.DAGAck.
func MarshalDAGAck(a types.DAGAck) []byte {
	p := wrappers.NewPacker(96)
	p.PackLong(a.Round)
	packHash(p, a.BlockHash)
	packReplicaID(p, a.AckerID)
	packBlob(p, a.Signature)
	return p.Bytes
}

// UnmarshalDAGAck decodes a types.DAGAck produced by MarshalDAGAck.
func UnmarshalDAGAck(b []byte) (types.DAGAck, error) {
	u := wrappers.NewUnpacker(b)
	a := types.DAGAck{
		Round:     u.UnpackLong(),
		BlockHash: unpackHash(u),
		AckerID:   unpackReplicaID(u),
	}
	a.Signature = unpackBlob(u)
	if u.Err != nil {
		return types.DAGAck{}, fmt.Errorf("codec: unmarshal dag ack: %w", u.Err)
	}
	return a, nil
}

// MarshalDAGCertificate encodes a types.DAGCertificate.
func MarshalDAGCertificate(c types.DAGCertificate) []byte {
	p := wrappers.NewPacker(128)
	p.PackLong(c.Round)
	packHash(p, c.BlockHash)
	packBlob(p, MarshalCertificate(c.Cert))
	return p.Bytes
}

// UnmarshalDAGCertificate decodes a types.DAGCertificate produced by
// MarshalDAGCertificate.
func UnmarshalDAGCertificate(b []byte) (types.DAGCertificate, error) {
	u := wrappers.NewUnpacker(b)
	c := types.DAGCertificate{
		Round:     u.UnpackLong(),
		BlockHash: unpackHash(u),
	}
	certBytes := unpackBlob(u)
	if u.Err != nil {
		return types.DAGCertificate{}, fmt.Errorf("codec: unmarshal dag certificate: %w", u.Err)
	}
	cert, err := UnmarshalCertificate(certBytes)
	if err != nil {
		return types.DAGCertificate{}, fmt.Errorf("codec: unmarshal dag certificate: %w", err)
	}
	c.Cert = cert
	return c, nil
}

// MarshalRequestVoteArgs encodes a types.RequestVoteArgs.
func MarshalRequestVoteArgs(a types.RequestVoteArgs) []byte {
	p := wrappers.NewPacker(64)
	p.PackLong(a.Term)
	packReplicaID(p, a.CandidateID)
	p.PackLong(a.LastLogIndex)
	p.PackLong(a.LastLogTerm)
	return p.Bytes
}

// UnmarshalRequestVoteArgs decodes a types.RequestVoteArgs.
func UnmarshalRequestVoteArgs(b []byte) (types.RequestVoteArgs, error) {
	u := wrappers.NewUnpacker(b)
	a := types.RequestVoteArgs{
		Term:         u.UnpackLong(),
		CandidateID:  unpackReplicaID(u),
		LastLogIndex: u.UnpackLong(),
		LastLogTerm:  u.UnpackLong(),
	}
	if u.Err != nil {
		return types.RequestVoteArgs{}, fmt.Errorf("codec: unmarshal request-vote args: %w", u.Err)
	}
	return a, nil
}

// MarshalRequestVoteReply encodes a types.RequestVoteReply.
func MarshalRequestVoteReply(r types.RequestVoteReply) []byte {
	p := wrappers.NewPacker(48)
	p.PackLong(r.Term)
	if r.VoteGranted {
		p.PackByte(1)
	} else {
		p.PackByte(0)
	}
	packReplicaID(p, r.VoterID)
	return p.Bytes
}

// UnmarshalRequestVoteReply decodes a types.RequestVoteReply.
func UnmarshalRequestVoteReply(b []byte) (types.RequestVoteReply, error) {
	u := wrappers.NewUnpacker(b)
	r := types.RequestVoteReply{
		Term:        u.UnpackLong(),
		VoteGranted: u.UnpackByte() != 0,
		VoterID:     unpackReplicaID(u),
	}
	if u.Err != nil {
		return types.RequestVoteReply{}, fmt.Errorf("codec: unmarshal request-vote reply: %w", u.Err)
	}
	return r, nil
}

// MarshalAppendEntriesArgs encodes a types.AppendEntriesArgs.
func MarshalAppendEntriesArgs(a types.AppendEntriesArgs) []byte {
	p := wrappers.NewPacker(256)
	p.PackLong(a.Term)
	packReplicaID(p, a.LeaderID)
	p.PackLong(a.PrevLogIndex)
	p.PackLong(a.PrevLogTerm)
	p.PackInt(uint32(len(a.Entries)))
	for _, e := range a.Entries {
		p.PackLong(e.Term)
		p.PackLong(e.Index)
		packBlob(p, MarshalBatch(e.Batch))
	}
	p.PackLong(a.LeaderCommit)
	return p.Bytes
}

// UnmarshalAppendEntriesArgs decodes a types.AppendEntriesArgs.
func UnmarshalAppendEntriesArgs(b []byte) (types.AppendEntriesArgs, error) {
	u := wrappers.NewUnpacker(b)
	a := types.AppendEntriesArgs{
		Term:         u.UnpackLong(),
		LeaderID:     unpackReplicaID(u),
		PrevLogIndex: u.UnpackLong(),
		PrevLogTerm:  u.UnpackLong(),
	}
	n := u.UnpackInt()
	a.Entries = make([]types.LogEntry, 0, n)
	for i := uint32(0); i < n && u.Err == nil; i++ {
		entry := types.LogEntry{Term: u.UnpackLong(), Index: u.UnpackLong()}
		batchBytes := unpackBlob(u)
		if u.Err != nil {
			break
		}
		batch, err := UnmarshalBatch(batchBytes)
		if err != nil {
			return types.AppendEntriesArgs{}, fmt.Errorf("codec: unmarshal append-entries: entry %d: %w", i, err)
		}
		entry.Batch = batch
		a.Entries = append(a.Entries, entry)
	}
	a.LeaderCommit = u.UnpackLong()
	if u.Err != nil {
		return types.AppendEntriesArgs{}, fmt.Errorf("codec: unmarshal append-entries args: %w", u.Err)
	}
	return a, nil
}

// MarshalAppendEntriesReply encodes a types.AppendEntriesReply.
func MarshalAppendEntriesReply(r types.AppendEntriesReply) []byte {
	p := wrappers.NewPacker(64)
	p.PackLong(r.Term)
	if r.Success {
		p.PackByte(1)
	} else {
		p.PackByte(0)
	}
	packReplicaID(p, r.FollowerID)
	p.PackLong(r.ConflictIndex)
	p.PackLong(r.ConflictTerm)
	return p.Bytes
}

// UnmarshalAppendEntriesReply decodes a types.AppendEntriesReply.
func UnmarshalAppendEntriesReply(b []byte) (types.AppendEntriesReply, error) {
	u := wrappers.NewUnpacker(b)
	r := types.AppendEntriesReply{
		Term:          u.UnpackLong(),
		Success:       u.UnpackByte() != 0,
		FollowerID:    unpackReplicaID(u),
		ConflictIndex: u.UnpackLong(),
		ConflictTerm:  u.UnpackLong(),
	}
	if u.Err != nil {
		return types.AppendEntriesReply{}, fmt.Errorf("codec: unmarshal append-entries reply: %w", u.Err)
	}
	return r, nil
}

// MarshalBatchResponse encodes a types.BatchResponse.
func MarshalBatchResponse(r types.BatchResponse) []byte {
	p := wrappers.NewPacker(128)
	packReplicaID(p, r.ProxyID)
	packReplicaID(p, r.ReplicaID)
	p.PackLong(uint64(r.LocalID))
	p.PackInt(uint32(len(r.Results)))
	for _, res := range r.Results {
		packBlob(p, res)
	}
	if r.Success {
		p.PackByte(1)
	} else {
		p.PackByte(0)
	}
	return p.Bytes
}

// UnmarshalBatchResponse decodes a types.BatchResponse produced by
// MarshalBatchResponse.
func UnmarshalBatchResponse(b []byte) (types.BatchResponse, error) {
	u := wrappers.NewUnpacker(b)
	out := types.BatchResponse{
		ProxyID:   unpackReplicaID(u),
		ReplicaID: unpackReplicaID(u),
		LocalID:   types.LocalID(u.UnpackLong()),
	}
	n := u.UnpackInt()
	out.Results = make([][]byte, 0, n)
	for i := uint32(0); i < n && u.Err == nil; i++ {
		out.Results = append(out.Results, unpackBlob(u))
	}
	out.Success = u.UnpackByte() != 0
	if u.Err != nil {
		return types.BatchResponse{}, fmt.Errorf("codec: unmarshal batch response: %w", u.Err)
	}
	return out, nil
}
