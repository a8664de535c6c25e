// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package dict implements the static identifier dictionary (spec.md §3,
// §4.3): a bijective, immutable mapping between entity/property ID
// strings ("Q31", "P279", ...) and dense 32-bit LocalIDs.
//
// The dictionary is a sorted array of strings with an offsets table,
// persisted as a single file and loaded back via memory mapping
// (github.com/edsrzf/mmap-go, the same memory-mapping library erigon
// uses for its own flat files). Lookup is binary search over the sorted
// blob rather than a true minimal-perfect-hash trie: the retrieved
// corpus carries no FST/MPH/succinct-trie library, so this leaf is one
// of the few built on top of nothing but the standard library plus
// mmap-go for the load path; see DESIGN.md.
package dict

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
)

const fileMagic = "WKQD" // "wikidb qid dict"
const fileVersion = 1

// Dict is immutable after construction or load. The zero value is not
// usable; call Build or Open.
type Dict struct {
	// blob holds the concatenated UTF-8 bytes of every string, in
	// sorted order. offsets[i]..offsets[i+1] delimits entry i, whose
	// LocalID is i.
	blob    []byte
	offsets []uint32

	mapping mmap.MMap // non-nil only when loaded from a memory-mapped file
	file    *os.File
}

// Build constructs a Dict from a multiset of entity-ID strings.
// Construction is deterministic: duplicates are removed and the result
// is sorted, so the same input multiset always yields the same
// LocalID assignment (spec.md §4.3 invariant), though LocalIDs are not
// stable across separate builds with different inputs.
func Build(ids []string) *Dict {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for id := range unique {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return fromSorted(sorted)
}

func fromSorted(sorted []string) *Dict {
	offsets := make([]uint32, len(sorted)+1)
	var size uint32
	for i, s := range sorted {
		offsets[i] = size
		size += uint32(len(s))
	}
	offsets[len(sorted)] = size

	blob := make([]byte, size)
	var pos uint32
	for _, s := range sorted {
		copy(blob[pos:], s)
		pos += uint32(len(s))
	}

	return &Dict{blob: blob, offsets: offsets}
}

// Len returns the total number of entities in the dictionary.
func (d *Dict) Len() int {
	if len(d.offsets) == 0 {
		return 0
	}
	return len(d.offsets) - 1
}

// LocalOf returns the LocalID for s and true, or (0, false) if s is not
// in the dictionary.
func (d *Dict) LocalOf(s string) (uint32, bool) {
	n := d.Len()
	b := []byte(s)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(d.entry(i), b) >= 0
	})
	if i < n && bytes.Equal(d.entry(i), b) {
		return uint32(i), true
	}
	return 0, false
}

// StringOf returns the string for a LocalID and true, or ("", false) if
// the LocalID is out of range.
func (d *Dict) StringOf(id uint32) (string, bool) {
	if int(id) >= d.Len() {
		return "", false
	}
	return string(d.entry(int(id))), true
}

func (d *Dict) entry(i int) []byte {
	return d.blob[d.offsets[i]:d.offsets[i+1]]
}

// IterStrings calls fn for every string in the dictionary, in sorted
// (LocalID) order. It stops early if fn returns false.
func (d *Dict) IterStrings(fn func(id uint32, s string) bool) {
	n := d.Len()
	for i := 0; i < n; i++ {
		if !fn(uint32(i), string(d.entry(i))) {
			return
		}
	}
}

// Save persists the dictionary to a single file: magic, version, entry
// count, the offsets table, then the string blob.
func (d *Dict) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dict: create %s: %w", path, err)
	}
	defer f.Close()

	var header [12]byte
	copy(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], fileVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(d.Len()))
	if _, err := f.Write(header[:]); err != nil {
		return err
	}

	offBuf := make([]byte, 4*len(d.offsets))
	for i, o := range d.offsets {
		binary.LittleEndian.PutUint32(offBuf[i*4:], o)
	}
	if _, err := f.Write(offBuf); err != nil {
		return err
	}
	if _, err := f.Write(d.blob); err != nil {
		return err
	}
	return f.Sync()
}

// Open loads a dictionary file via memory mapping. The returned Dict
// borrows the mapping for its lifetime; call Close when done.
func Open(path string) (*Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dict: open %s: %w", path, err)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dict: mmap %s: %w", path, err)
	}

	if len(m) < 12 || string(m[0:4]) != fileMagic {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("dict: %s is not a wikidb dictionary file", path)
	}
	version := binary.LittleEndian.Uint32(m[4:8])
	if version != fileVersion {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("dict: %s has unsupported version %d", path, version)
	}
	n := binary.LittleEndian.Uint32(m[8:12])

	offStart := 12
	offEnd := offStart + 4*(int(n)+1)
	if len(m) < offEnd {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("dict: %s is truncated", path)
	}
	offsets := make([]uint32, n+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(m[offStart+i*4:])
	}

	return &Dict{
		blob:    m[offEnd:],
		offsets: offsets,
		mapping: m,
		file:    f,
	}, nil
}

// Close unmaps and closes the backing file, if this Dict was loaded via
// Open. It is a no-op for a Dict built in-memory with Build.
func (d *Dict) Close() error {
	if d.mapping == nil {
		return nil
	}
	if err := d.mapping.Unmap(); err != nil {
		return err
	}
	return d.file.Close()
}
