// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package store

import (
	"path/filepath"
	"testing"

	"github.com/wikidb-go/wikidb/codec"
	"github.com/wikidb-go/wikidb/config"
	"github.com/wikidb-go/wikidb/dict"
	"github.com/wikidb-go/wikidb/kv"
)

func openQueryTestStore(t *testing.T) *Store {
	t.Helper()
	ids := []string{"Q5", "Q6581097", "Q10", "Q11", "Q12", "P31", "P21"}
	d := dict.Build(ids)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.MapSizeBytes = 64 * config.SizeMB

	if err := d.Save(filepath.Join(dir, "wikidb.dict")); err != nil {
		t.Fatal(err)
	}

	e, err := kv.Open(kv.Options{
		Path:         cfg.KVFilePath(),
		MaxTables:    cfg.MaxTables,
		MapSizeBytes: cfg.MapSizeBytes,
		Tables:       AllTables,
	})
	if err != nil {
		t.Fatal(err)
	}

	local := func(id string) uint32 {
		v, _ := d.LocalOf(id)
		return v
	}

	// Q10, Q11 are instances of Q5 (human); Q11 is additionally male (P21=Q6581097).
	p31 := local("P31")
	p21 := local("P21")
	q5 := local("Q5")
	q6581097 := local("Q6581097")

	p31Postings, err := codec.EncodeBitmap([]uint32{local("Q10"), local("Q11")})
	if err != nil {
		t.Fatal(err)
	}
	p21Postings, err := codec.EncodeBitmap([]uint32{local("Q11")})
	if err != nil {
		t.Fatal(err)
	}
	tailUnionQ5, err := codec.EncodeBitmap([]uint32{local("Q10"), local("Q11")})
	if err != nil {
		t.Fatal(err)
	}
	tailUnionQ6581097, err := codec.EncodeBitmap([]uint32{local("Q11")})
	if err != nil {
		t.Fatal(err)
	}

	pairs := []kv.KV{
		{Key: []byte(itoa(q5)), Value: tailUnionQ5},
		{Key: []byte(itoa(q5) + "|" + itoa(p31)), Value: p31Postings},
		{Key: []byte(itoa(q6581097)), Value: tailUnionQ6581097},
		{Key: []byte(itoa(q6581097) + "|" + itoa(p21)), Value: p21Postings},
	}
	if _, err := e.WriteBulk(TableClaimEntInv, pairs, true); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	d.Close()

	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestHasStatementsAND(t *testing.T) {
	s := openQueryTestStore(t)

	got, err := s.HasStatements([]Clause{
		{Op: OpAND, Property: "P31", Tail: "Q5"},
		{Op: OpAND, Property: "P21", Tail: "Q6581097"},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "Q11" {
		t.Errorf("got %v, want [Q11]", got)
	}
}

func TestHasStatementsTailOnly(t *testing.T) {
	s := openQueryTestStore(t)

	got, err := s.HasStatements([]Clause{
		{Op: OpAND, Tail: "Q5"},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want 2 entities instance-of Q5", got)
	}
}

// A mix of present and absent clauses under AND must yield an empty list,
// not the present clause's own posting (spec.md §9).
func TestHasStatementsANDWithAbsentClause(t *testing.T) {
	s := openQueryTestStore(t)

	got, err := s.HasStatements([]Clause{
		{Op: OpAND, Property: "P31", Tail: "Q5"},
		{Op: OpAND, Property: "P999", Tail: "Qnonexistent"},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}
