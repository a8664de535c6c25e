// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/wikidb-go/wikidb/codec"
)

// BoolOp is the operator joining one clause of a has_statements query
// into the running accumulator (spec.md §4.5).
type BoolOp int

const (
	OpAND BoolOp = iota
	OpOR
	OpNOT
)

// Clause is one boolean statement-search term: "entities whose claims
// include (property?, tail)", joined to the rest of the query by Op.
// Property is optional; an empty string means "any property".
type Clause struct {
	Op       BoolOp
	Property string
	Tail     string
}

// HasStatements evaluates an ordered list of clauses against the
// inverted index (spec.md §4.5): resolves each clause to a posting key,
// estimates selectivity via ValueSize without materializing, sorts
// clauses most-selective-first, then folds AND/OR/NOT left to right
// with AND short-circuiting once the accumulator is empty.
func (s *Store) HasStatements(clauses []Clause, rawLocalIDs bool) ([]interface{}, error) {
	type resolved struct {
		clause Clause
		key    []byte
		size   int
	}

	var live []resolved
	for _, c := range clauses {
		tailLocal, ok := s.resolve(c.Tail)
		if !ok {
			// Unresolvable tail: an AND clause can never be satisfied, so
			// the whole query is empty (spec.md §9 "mix of present and
			// absent clauses under AND yields an empty list"). OR/NOT
			// clauses simply contribute nothing and are skipped.
			if c.Op == OpAND {
				return nil, nil
			}
			continue
		}
		var key []byte
		if c.Property != "" {
			propLocal, ok := s.resolve(c.Property)
			if !ok {
				if c.Op == OpAND {
					return nil, nil
				}
				continue
			}
			key = []byte(fmt.Sprintf("%d|%d", tailLocal, propLocal))
		} else {
			key = []byte(fmt.Sprintf("%d", tailLocal))
		}
		size, found, err := s.engine.ValueSize(TableClaimEntInv, key)
		if err != nil {
			return nil, err
		}
		if !found {
			if c.Op == OpAND {
				return nil, nil
			}
			continue // absent posting treated as empty
		}
		live = append(live, resolved{clause: c, key: key, size: size})
	}
	if len(live) == 0 {
		return nil, nil
	}

	sort.SliceStable(live, func(i, j int) bool { return live[i].size < live[j].size })

	acc, err := s.loadPosting(live[0].key)
	if err != nil {
		return nil, err
	}
	// The first clause always seeds the accumulator regardless of its
	// operator; NOT as the very first clause would otherwise have
	// nothing to subtract from.
	if live[0].clause.Op == OpNOT {
		acc = roaring.New() // NOT with no prior accumulator excludes everything
	}

	for _, r := range live[1:] {
		if r.clause.Op == OpAND && acc.IsEmpty() {
			break
		}
		posting, err := s.loadPosting(r.key)
		if err != nil {
			return nil, err
		}
		switch r.clause.Op {
		case OpAND:
			acc.And(posting)
		case OpOR:
			acc.Or(posting)
		case OpNOT:
			acc.AndNot(posting)
		}
	}

	out := make([]interface{}, 0, acc.GetCardinality())
	it := acc.Iterator()
	for it.HasNext() {
		local := it.Next()
		if rawLocalIDs {
			out = append(out, local)
			continue
		}
		if id, ok := s.dict.StringOf(local); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) loadPosting(key []byte) (*roaring.Bitmap, error) {
	data, found, err := s.engine.Get(TableClaimEntInv, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return roaring.New(), nil
	}
	return codec.DecodeBitmap(data)
}
