// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package kv

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(Options{
		Path:         filepath.Join(dir, "test.kv"),
		MaxTables:    11,
		MapSizeBytes: 64 * SizeMBForTest,
		Tables:       []string{"label", "redirect_of"},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// SizeMBForTest avoids importing the config package from a leaf package.
const SizeMBForTest = 1 << 20

func TestEngineGetPutRoundTrip(t *testing.T) {
	e := openTestEngine(t)

	n, err := e.WriteBulk("label", []KV{
		{Key: []byte("Q31"), Value: []byte("Belgium")},
		{Key: []byte("Q64"), Value: []byte("Berlin")},
	}, true)
	if err != nil {
		t.Fatalf("WriteBulk: %v", err)
	}
	if n != 2 {
		t.Errorf("wrote %d pairs, want 2", n)
	}

	v, found, err := e.Get("label", []byte("Q31"))
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(v) != "Belgium" {
		t.Errorf("got (%q, %v), want (Belgium, true)", v, found)
	}

	_, found, err = e.Get("label", []byte("Q999999"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected unknown key to be absent")
	}
}

func TestEnginePrefixIteration(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.WriteBulk("label", []KV{
		{Key: []byte("5|1"), Value: []byte("a")},
		{Key: []byte("5|2"), Value: []byte("b")},
		{Key: []byte("5"), Value: []byte("c")},
		{Key: []byte("6|1"), Value: []byte("d")},
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = e.Prefix("label", []byte("5"), func(kv KV) error {
		got = append(got, string(kv.Key))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// "5" sorts before "5|1"/"5|2" since '|' > any ASCII digit that could
	// follow, matching the posting-list ordering invariant in spec.md §3.
	want := []string{"5", "5|1", "5|2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestEngineCountAndHead(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.WriteBulk("label", []KV{
		{Key: []byte("Q1"), Value: []byte("a")},
		{Key: []byte("Q2"), Value: []byte("b")},
		{Key: []byte("Q3"), Value: []byte("c")},
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	count, err := e.Count("label")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	head, err := e.Head("label", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(head) != 2 {
		t.Errorf("Head returned %d records, want 2", len(head))
	}
}

func TestWriteBulkBuffered(t *testing.T) {
	e := openTestEngine(t)

	stream := make(chan KV, 4)
	go func() {
		defer close(stream)
		for i := 0; i < 50; i++ {
			stream <- KV{Key: []byte(fmt.Sprintf("Q%d", i)), Value: []byte("v")}
		}
	}()

	// A small budget forces several flushes instead of one transaction.
	n, err := e.WriteBulkBuffered("label", stream, Budget(32))
	if err != nil {
		t.Fatalf("WriteBulkBuffered: %v", err)
	}
	if n != 50 {
		t.Errorf("wrote %d pairs, want 50", n)
	}

	count, err := e.Count("label")
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 {
		t.Errorf("Count = %d, want 50", count)
	}
}

func uint32SliceCodec() (decode func([]byte) ([]uint32, error), encode func([]uint32) ([]byte, error)) {
	decode = func(stored []byte) ([]uint32, error) {
		out := make([]uint32, len(stored)/4)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(stored[i*4:])
		}
		return out, nil
	}
	encode = func(values []uint32) ([]byte, error) {
		buf := make([]byte, len(values)*4)
		for i, v := range values {
			binary.LittleEndian.PutUint32(buf[i*4:], v)
		}
		return buf, nil
	}
	return decode, encode
}

func TestUpdateBulkBufferedMergeSet(t *testing.T) {
	e := openTestEngine(t)
	decode, encode := uint32SliceCodec()

	skipped, updated, created, err := e.UpdateBulkBuffered("redirect_of", []Update{
		{Key: []byte("Q1"), Decode: decode, Encode: encode, Incoming: []uint32{10, 11}},
	}, MergeSet, Budget(1<<20))
	if err != nil {
		t.Fatalf("UpdateBulkBuffered: %v", err)
	}
	if created != 1 || updated != 0 || skipped != 0 {
		t.Errorf("got (skipped=%d updated=%d created=%d), want (0,0,1)", skipped, updated, created)
	}

	_, updated, _, err = e.UpdateBulkBuffered("redirect_of", []Update{
		{Key: []byte("Q1"), Decode: decode, Encode: encode, Incoming: []uint32{12}},
	}, MergeSet, Budget(1<<20))
	if err != nil {
		t.Fatalf("UpdateBulkBuffered: %v", err)
	}
	if updated != 1 {
		t.Errorf("got updated=%d, want 1", updated)
	}

	stored, found, err := e.Get("redirect_of", []byte("Q1"))
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected Q1 to be present")
	}
	got, err := decode(stored)
	if err != nil {
		t.Fatal(err)
	}
	want := map[uint32]bool{10: true, 11: true, 12: true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want values %v", got, want)
	}
	for _, v := range got {
		if !want[v] {
			t.Errorf("unexpected value %d in %v", v, got)
		}
	}

	// Re-running with an incoming set that's already fully covered must be
	// a no-op, the idempotent-re-run guarantee UpdateBulkBuffered exists for.
	skipped, _, _, err = e.UpdateBulkBuffered("redirect_of", []Update{
		{Key: []byte("Q1"), Decode: decode, Encode: encode, Incoming: []uint32{10}},
	}, MergeSet, Budget(1<<20))
	if err != nil {
		t.Fatalf("UpdateBulkBuffered: %v", err)
	}
	if skipped != 1 {
		t.Errorf("got skipped=%d, want 1", skipped)
	}
}

func TestIsSubsetAndUnion(t *testing.T) {
	if !isSubset([]uint32{1, 2}, []uint32{1, 2, 3}) {
		t.Error("expected subset")
	}
	if isSubset([]uint32{1, 4}, []uint32{1, 2, 3}) {
		t.Error("expected non-subset")
	}
	union := unionUint32([]uint32{1, 2}, []uint32{2, 3})
	seen := map[uint32]bool{}
	for _, v := range union {
		seen[v] = true
	}
	for _, v := range []uint32{1, 2, 3} {
		if !seen[v] {
			t.Errorf("union missing %d", v)
		}
	}
	if len(union) != 3 {
		t.Errorf("got len %d, want 3", len(union))
	}
}
