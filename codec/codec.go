// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package codec implements the core's wire encoding: a tag-length-value
// envelope around every protocol message, framed on the transport with a
// 4-byte big-endian length prefix (spec section 6, section 8 property 7:
// "decode(encode(m)) == m for every message type"). Encoding is entirely
// big-endian fixed-width fields via utils/wrappers, matching the teacher's
// packer/unpacker convention; there is no variable-length varint layer.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/resilientdb/core/types"
	"github.com/resilientdb/core/utils/wrappers"
)

// maxFrameBytes bounds a single framed message, guarding WriteFrame/
// ReadFrame against a corrupt or adversarial length prefix causing an
// unbounded allocation.
const maxFrameBytes = 64 << 20

// ErrFrameTooLarge is returned by ReadFrame when a peer's declared frame
// length exceeds maxFrameBytes.
var ErrFrameTooLarge = fmt.Errorf("codec: frame exceeds %d bytes", maxFrameBytes)

// Envelope is the outermost wire wrapper around every message: its
// MessageType tag, the view/round/term it was produced under (interpreted
// per-family; 0 where not meaningful), and the TLV-encoded message body.
type Envelope struct {
	Type  types.MessageType
	Epoch uint64
	Body  []byte
}

// Marshal encodes an Envelope as [2B type][8B epoch][4B body len][body].
func (e Envelope) Marshal() []byte {
	p := wrappers.NewPacker(2 + 8 + 4 + len(e.Body))
	p.PackShort(uint16(e.Type))
	p.PackLong(e.Epoch)
	p.PackInt(uint32(len(e.Body)))
	p.PackBytes(e.Body)
	return p.Bytes
}

// UnmarshalEnvelope decodes an Envelope previously produced by Marshal.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	u := wrappers.NewUnpacker(b)
	e := Envelope{
		Type:  types.MessageType(u.UnpackShort()),
		Epoch: u.UnpackLong(),
	}
	n := u.UnpackInt()
	e.Body = u.UnpackBytes(int(n))
	if u.Err != nil {
		return Envelope{}, fmt.Errorf("codec: unmarshal envelope: %w", u.Err)
	}
	return e, nil
}

// WriteFrame writes a length-prefixed frame: [4B big-endian length][data].
// This is the framing the zeromq4-backed transport uses so a stream
// socket's partial reads can be reassembled into whole envelopes.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameBytes {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("codec: writing frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("codec: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("codec: reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("codec: reading frame body: %w", err)
	}
	return data, nil
}
