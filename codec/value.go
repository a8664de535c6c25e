// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding identifies which of the four value encodings (spec.md §4.1)
// applies to a column family. It is never persisted alongside the value;
// the caller must already know it from the table being read or written.
type Encoding int

const (
	OBJ Encoding = iota
	IntNumpy
	IntBitmap
	Plain
)

var (
	zstdEncoder  *zstd.Encoder
	zstdDecoder  *zstd.Decoder
	zstdInitOnce sync.Once
	zstdInitErr  error
)

func initZstd() {
	zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdInitErr != nil {
		return
	}
	zstdDecoder, zstdInitErr = zstd.NewReader(nil)
}

// compressBlock wraps data in the fast block-compression frame used by
// the OBJ codec when the caller asks for compression.
func compressBlock(data []byte) ([]byte, error) {
	zstdInitOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, zstdInitErr
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func decompressBlock(data []byte) ([]byte, error) {
	zstdInitOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, zstdInitErr
	}
	return zstdDecoder.DecodeAll(data, nil)
}

// StringSet is a set of strings that msgpack-encodes as a sorted list,
// per spec.md §4.1 ("sets are serialized as sorted lists") and §9
// ("aliases lose language→set ordering on encode").
type StringSet map[string]struct{}

func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s StringSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (s StringSet) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(s.Slice())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (s *StringSet) DecodeMsgpack(dec *msgpack.Decoder) error {
	var items []string
	if err := dec.Decode(&items); err != nil {
		return err
	}
	set := make(StringSet, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	*s = set
	return nil
}

// EncodeOBJ serializes an arbitrary tree (maps, slices, StringSet,
// scalars) with msgpack, optionally wrapping the result in a zstd block.
func EncodeOBJ(v interface{}, compress bool) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: msgpack encode: %w", err)
	}
	if !compress {
		return data, nil
	}
	return compressBlock(data)
}

// DecodeOBJ is the dual of EncodeOBJ.
func DecodeOBJ(data []byte, compress bool, out interface{}) error {
	if compress {
		raw, err := decompressBlock(data)
		if err != nil {
			return fmt.Errorf("codec: zstd decode: %w", err)
		}
		data = raw
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: msgpack decode: %w", err)
	}
	return nil
}

// EncodeIntNumpy packs a sorted-unique slice of uint32 into a little
// endian byte array, mirroring the source's `np.array(..., dtype=uint32).tobytes()`.
func EncodeIntNumpy(values []uint32) []byte {
	sorted := uniqueSortedUint32(values)
	out := make([]byte, 4*len(sorted))
	for i, v := range sorted {
		out[i*4] = byte(v)
		out[i*4+1] = byte(v >> 8)
		out[i*4+2] = byte(v >> 16)
		out[i*4+3] = byte(v >> 24)
	}
	return out
}

// DecodeIntNumpy is the dual of EncodeIntNumpy.
func DecodeIntNumpy(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("codec: INT_NUMPY value has length %d, not a multiple of 4", len(data))
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
	}
	return out, nil
}

func uniqueSortedUint32(values []uint32) []uint32 {
	sorted := make([]uint32, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:0]
	var prev uint32
	for i, v := range sorted {
		if i == 0 || v != prev {
			out = append(out, v)
		}
		prev = v
	}
	return out
}

// EncodeBitmap serializes a set of LocalIDs as a compressed Roaring
// bitmap, used for inverted-index postings (spec.md §4.1 INT_BITMAP).
func EncodeBitmap(values []uint32) ([]byte, error) {
	bm := roaring.New()
	bm.AddMany(values)
	bm.RunOptimize()
	return bm.ToBytes()
}

// DecodeBitmap is the dual of EncodeBitmap, returning a live *roaring.Bitmap
// so callers can perform AND/OR/NOT without decoding to a slice first.
func DecodeBitmap(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if _, err := bm.FromBuffer(data); err != nil {
		return nil, fmt.Errorf("codec: roaring decode: %w", err)
	}
	return bm, nil
}

// ValueSize reports the byte length a value would occupy on disk without
// requiring the caller to fully materialize it — used by the query
// planner's posting-length estimate (spec.md §4.5 step 1). For the codecs
// used here, the stored length equals len(data), so this is a thin
// wrapper kept for call-site clarity at the kv.Engine boundary.
func ValueSize(data []byte) int {
	return len(data)
}
