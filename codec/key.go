// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package codec implements the pure key/value encodings shared by every
// column family (spec.md §4.1). Encoding is stable per family; there is
// no self-describing header, so callers must know which codec applies
// to the table they are reading or writing.
package codec

import "encoding/binary"

// KeyWidth selects the fixed width used for integer keys.
type KeyWidth int

const (
	Key32 KeyWidth = 4
	Key64 KeyWidth = 8
)

// EncodeLocalID32 serializes a LocalID as a fixed-width little-endian
// 32-bit key, the default width used by every column family in §3.
func EncodeLocalID32(id uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, id)
	return b
}

// DecodeLocalID32 is the dual of EncodeLocalID32.
func DecodeLocalID32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// EncodeLocalID64 serializes a 64-bit variant of the integer key, for
// families configured with the 64-bit width option (spec.md §4.1).
func EncodeLocalID64(id uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, id)
	return b
}

// DecodeLocalID64 is the dual of EncodeLocalID64.
func DecodeLocalID64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// EncodeTextKey encodes a textual key as UTF-8, truncated to maxBytes.
// Truncation is a deterministic byte-length cut, not a unicode-aware
// cut; a truncated key may end mid-rune, matching the store-imposed
// hard maximum described in spec.md §4.1 and the boundary behavior in
// §8 ("Values whose UTF-8 key exceeds max_key_bytes are truncated
// deterministically to that byte length").
func EncodeTextKey(key string, maxBytes int) []byte {
	b := []byte(key)
	if len(b) > maxBytes {
		b = b[:maxBytes]
	}
	return b
}
