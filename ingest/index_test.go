// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func TestBuildInvertedIndexContiguousRuns(t *testing.T) {
	// Two heads (10, 11) both claim P31=5; head 10 also claims P279=5.
	data := map[uint32]map[uint32][]uint32{
		10: {31: {5}, 279: {5}},
		11: {31: {5}},
	}

	pairs, err := BuildInvertedIndex(func(yield func(uint32, map[uint32][]uint32) bool) {
		for head, byProp := range data {
			if !yield(head, byProp) {
				return
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	// tail-only posting for "5" must come first, followed by its
	// tail+prop postings, per spec.md §4.4's contiguous-run requirement.
	if len(pairs) != 3 {
		t.Fatalf("got %d postings, want 3", len(pairs))
	}
	if string(pairs[0].Key) != "5" {
		t.Errorf("first key = %q, want tail-only \"5\"", pairs[0].Key)
	}
	for _, p := range pairs[1:] {
		if len(p.Key) < 2 || p.Key[0] != '5' || p.Key[1] != '|' {
			t.Errorf("key %q does not start with tail prefix \"5|\"", p.Key)
		}
	}

	bm := roaring.New()
	if _, err := bm.FromBuffer(pairs[0].Value); err != nil {
		t.Fatal(err)
	}
	if !bm.Contains(10) || !bm.Contains(11) || bm.GetCardinality() != 2 {
		t.Errorf("tail-only union = %v, want {10, 11}", bm.ToArray())
	}
}
