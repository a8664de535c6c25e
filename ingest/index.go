// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/wikidb-go/wikidb/kv"
)

// BuildInvertedIndex implements Stage C (spec.md §4.4): it scans every
// head entity's wikibase-entityid claims and accumulates bitmaps of
// head LocalIDs keyed by "{tail_local}|{prop_local}" plus a union
// bitmap per tail under the bare "{tail_local}" key. heads
// supplies each head's already-decoded wikibase-entityid bucket
// ({prop -> [uint32 tail LocalIDs, unresolved strings skipped]}) so
// this function has no dependency on the OBJ codec directly.
//
// The returned pairs are sorted so that a tail-only posting is
// immediately followed by all of its tail+prop postings, maximizing
// on-disk locality for range scans over one tail (spec.md §4.4 Stage C,
// §3 "Write in contiguous runs").
func BuildInvertedIndex(heads func(yield func(head uint32, byProp map[uint32][]uint32) bool)) ([]kv.KV, error) {
	postings := make(map[uint32]map[uint32]*roaring.Bitmap) // tail -> prop -> heads
	tailUnion := make(map[uint32]*roaring.Bitmap)

	heads(func(head uint32, byProp map[uint32][]uint32) bool {
		for prop, tails := range byProp {
			for _, tail := range tails {
				if postings[tail] == nil {
					postings[tail] = make(map[uint32]*roaring.Bitmap)
				}
				if postings[tail][prop] == nil {
					postings[tail][prop] = roaring.New()
				}
				postings[tail][prop].Add(head)

				if tailUnion[tail] == nil {
					tailUnion[tail] = roaring.New()
				}
				tailUnion[tail].Add(head)
			}
		}
		return true
	})

	tails := make([]uint32, 0, len(postings))
	for tail := range postings {
		tails = append(tails, tail)
	}
	sort.Slice(tails, func(i, j int) bool { return tails[i] < tails[j] })

	var out []kv.KV
	for _, tail := range tails {
		unionBytes, err := unionToBytes(tailUnion[tail])
		if err != nil {
			return nil, err
		}
		out = append(out, kv.KV{Key: []byte(fmt.Sprintf("%d", tail)), Value: unionBytes})

		props := make([]uint32, 0, len(postings[tail]))
		for prop := range postings[tail] {
			props = append(props, prop)
		}
		sort.Slice(props, func(i, j int) bool { return props[i] < props[j] })
		for _, prop := range props {
			postings[tail][prop].RunOptimize()
			data, err := postings[tail][prop].ToBytes()
			if err != nil {
				return nil, err
			}
			out = append(out, kv.KV{
				Key:   []byte(fmt.Sprintf("%d|%d", tail, prop)),
				Value: data,
			})
		}
	}
	return out, nil
}

func unionToBytes(bm *roaring.Bitmap) ([]byte, error) {
	bm.RunOptimize()
	return bm.ToBytes()
}
