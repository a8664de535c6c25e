// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package store

import (
	"path/filepath"
	"testing"

	"github.com/wikidb-go/wikidb/codec"
	"github.com/wikidb-go/wikidb/config"
	"github.com/wikidb-go/wikidb/dict"
	"github.com/wikidb-go/wikidb/ingest"
	"github.com/wikidb-go/wikidb/kv"
)

// openTestStore builds a tiny on-disk store with one human (Q5-instance)
// entity, a label, sitelinks, claims and a redirect, for exercising the
// read API end to end.
func openTestStore(t *testing.T) (*Store, map[string]uint32) {
	t.Helper()

	ids := []string{"Q1", "Q5", "Q64", "Q90", "P31", "P279", "P1082"}
	d := dict.Build(ids)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.MapSizeBytes = 64 * config.SizeMB

	dictPath := filepath.Join(dir, "wikidb.dict")
	if err := d.Save(dictPath); err != nil {
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
	q1 := local("Q1")

	labelData := []byte("Berlin")
	if _, err := e.WriteBulk(TableLabel, []kv.KV{{Key: codec.EncodeLocalID32(q1), Value: labelData}}, true); err != nil {
		t.Fatal(err)
	}

	sitelinks, err := codec.EncodeOBJ(map[string]string{"enwiki": "Berlin"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.WriteBulk(TableSitelinks, []kv.KV{{Key: codec.EncodeLocalID32(q1), Value: sitelinks}}, true); err != nil {
		t.Fatal(err)
	}

	claims := ingest.ClaimMap{
		"wikibase-entityid": {
			"P31": []ingest.Statement{{Value: "Q5"}},
		},
	}
	claimsData, err := ingest.EncodeClaims(d, claims)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.WriteBulk(TableClaims, []kv.KV{{Key: codec.EncodeLocalID32(q1), Value: claimsData}}, true); err != nil {
		t.Fatal(err)
	}

	q90 := local("Q90")
	if _, err := e.WriteBulk(TableRedirect, []kv.KV{{Key: codec.EncodeLocalID32(q90), Value: codec.EncodeLocalID32(q1)}}, true); err != nil {
		t.Fatal(err)
	}
	redirectOf := codec.EncodeIntNumpy([]uint32{q90})
	if _, err := e.WriteBulk(TableRedirectOf, []kv.KV{{Key: codec.EncodeLocalID32(q1), Value: redirectOf}}, true); err != nil {
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

	locals := make(map[string]uint32, len(ids))
	for _, id := range ids {
		v, _ := s.dict.LocalOf(id)
		locals[id] = v
	}
	return s, locals
}

func TestStoreLabelAndSitelinks(t *testing.T) {
	s, _ := openTestStore(t)

	label, ok := s.Label("Q1")
	if !ok || label != "Berlin" {
		t.Errorf("Label(Q1) = (%q, %v), want (Berlin, true)", label, ok)
	}

	title, ok := s.WikipediaTitle("en", "Q1")
	if !ok || title != "Berlin" {
		t.Errorf("WikipediaTitle(en, Q1) = (%q, %v), want (Berlin, true)", title, ok)
	}

	if _, ok := s.Label("Q999999999"); ok {
		t.Error("expected unknown entity ID to yield a null label")
	}
}

func TestStoreInstanceOf(t *testing.T) {
	s, _ := openTestStore(t)

	got := s.InstanceOf("Q1")
	if len(got) != 1 || got[0] != "Q5" {
		t.Errorf("InstanceOf(Q1) = %v, want [Q5]", got)
	}
}

func TestStoreRedirect(t *testing.T) {
	s, _ := openTestStore(t)

	target, ok := s.Redirect("Q90")
	if !ok || target != "Q1" {
		t.Errorf("Redirect(Q90) = (%q, %v), want (Q1, true)", target, ok)
	}

	sources := s.RedirectOf("Q1")
	if len(sources) != 1 || sources[0] != "Q90" {
		t.Errorf("RedirectOf(Q1) = %v, want [Q90]", sources)
	}

	resolved, ok := s.ResolveRedirect("Q90")
	if !ok || resolved != "Q1" {
		t.Errorf("ResolveRedirect(Q90) = (%q, %v), want (Q1, true)", resolved, ok)
	}
}

func TestStoreLen(t *testing.T) {
	s, _ := openTestStore(t)

	n, err := s.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestStoreGetItem(t *testing.T) {
	s, _ := openTestStore(t)

	item, ok := s.GetItem("Q1")
	if !ok {
		t.Fatal("GetItem(Q1) = false, want true")
	}
	if item.Label != "Berlin" {
		t.Errorf("item.Label = %q, want Berlin", item.Label)
	}
	if item.Sitelinks["enwiki"] != "Berlin" {
		t.Errorf("item.Sitelinks[enwiki] = %q, want Berlin", item.Sitelinks["enwiki"])
	}
}
