// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrappers

import "errors"

// ErrUnpackTruncated is returned when an Unpacker read runs past the end of
// its backing buffer.
var ErrUnpackTruncated = errors.New("wrappers: buffer too short to unpack")

// Unpacker reads fields out of a byte slice in the same big-endian,
// fixed-width encoding Packer writes them in. It is the read-side
// counterpart used by the wire codec to decode TLV fields.
type Unpacker struct {
	Bytes  []byte
	Offset int
	Err    error
}

// NewUnpacker returns an Unpacker reading from b.
func NewUnpacker(b []byte) *Unpacker {
	return &Unpacker{Bytes: b}
}

func (u *Unpacker) require(n int) bool {
	if u.Err != nil {
		return false
	}
	if u.Offset+n > len(u.Bytes) {
		u.Err = ErrUnpackTruncated
		return false
	}
	return true
}

// UnpackByte reads a single byte.
func (u *Unpacker) UnpackByte() byte {
	if !u.require(1) {
		return 0
	}
	b := u.Bytes[u.Offset]
	u.Offset++
	return b
}

// UnpackBytes reads n raw bytes.
func (u *Unpacker) UnpackBytes(n int) []byte {
	if !u.require(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, u.Bytes[u.Offset:u.Offset+n])
	u.Offset += n
	return b
}

// UnpackInt reads a big-endian uint32.
func (u *Unpacker) UnpackInt() uint32 {
	if !u.require(4) {
		return 0
	}
	b := u.Bytes[u.Offset : u.Offset+4]
	u.Offset += 4
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// UnpackLong reads a big-endian uint64.
func (u *Unpacker) UnpackLong() uint64 {
	if !u.require(8) {
		return 0
	}
	b := u.Bytes[u.Offset : u.Offset+8]
	u.Offset += 8
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// PackShort packs a uint16 as 2 big-endian bytes.
func (p *Packer) PackShort(s uint16) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, byte(s>>8), byte(s))
}

// UnpackShort reads a big-endian uint16.
func (u *Unpacker) UnpackShort() uint16 {
	if !u.require(2) {
		return 0
	}
	b := u.Bytes[u.Offset : u.Offset+2]
	u.Offset += 2
	return uint16(b[0])<<8 | uint16(b[1])
}

// Remaining reports whether there is unconsumed input left.
func (u *Unpacker) Remaining() bool {
	return u.Err == nil && u.Offset < len(u.Bytes)
}
