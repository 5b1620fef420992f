// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"crypto/subtle"
	"fmt"
)

// aesCMAC implements AES-CMAC (RFC 4493) over a 16-byte-block cipher. The
// pack carries no third-party CMAC implementation, and RFC 4493 is a thin
// ~40-line wrapper over crypto/aes, so it is built directly on the
// standard library rather than pulling in a dependency for one primitive.
func aesCMAC(key, message []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cmac: %w", err)
	}
	k1, k2 := cmacSubkeys(block)

	n := (len(message) + aes.BlockSize - 1) / aes.BlockSize
	var lastBlock []byte
	var complete bool
	if n == 0 {
		n = 1
		complete = false
	} else {
		complete = len(message)%aes.BlockSize == 0
	}

	if complete {
		lastBlock = xorBytes(message[(n-1)*aes.BlockSize:], k1)
	} else {
		tail := message[(n-1)*aes.BlockSize:]
		if n == 1 && len(message) == 0 {
			tail = nil
		}
		padded := cmacPad(tail)
		lastBlock = xorBytes(padded, k2)
	}

	mac := make([]byte, aes.BlockSize)
	for i := 0; i < n-1; i++ {
		block.Encrypt(mac, xorBytes(mac, message[i*aes.BlockSize:(i+1)*aes.BlockSize]))
	}
	block.Encrypt(mac, xorBytes(mac, lastBlock))
	return mac, nil
}

// verifyCMAC reports whether sig is the valid AES-CMAC of message under
// key, using a constant-time comparison.
func verifyCMAC(key, message, sig []byte) bool {
	want, err := aesCMAC(key, message)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, sig) == 1
}

func cmacSubkeys(block cmacCipher) (k1, k2 []byte) {
	zero := make([]byte, aes.BlockSize)
	l := make([]byte, aes.BlockSize)
	block.Encrypt(l, zero)
	k1 = cmacDouble(l)
	k2 = cmacDouble(k1)
	return k1, k2
}

// cmacCipher is the subset of cipher.Block aesCMAC needs; kept narrow so
// tests can stub it if ever needed.
type cmacCipher interface {
	Encrypt(dst, src []byte)
}

const cmacRb = 0x87

func cmacDouble(in []byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = (in[i] << 1) | carry
		carry = in[i] >> 7
	}
	if in[0]&0x80 != 0 {
		out[len(out)-1] ^= cmacRb
	}
	return out
}

func cmacPad(in []byte) []byte {
	out := make([]byte, aes.BlockSize)
	copy(out, in)
	out[len(in)] = 0x80
	return out
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, a)
	for i := range out {
		out[i] ^= b[i]
	}
	return out
}
