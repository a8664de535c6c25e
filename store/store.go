// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package store implements the public read API (spec.md §4.5): point
// reads, the composite Item read, redirect resolution, type navigation,
// sitelink formatting, and boolean statement search over an already
// built dictionary and KV engine.
package store

import (
	"fmt"

	"github.com/wikidb-go/wikidb/codec"
	"github.com/wikidb-go/wikidb/config"
	"github.com/wikidb-go/wikidb/dict"
	"github.com/wikidb-go/wikidb/kv"
	"github.com/wikidb-go/wikidb/text"
)

// Table names for the nine column families (spec.md §3).
const (
	TableLabel        = "label"
	TableLabels       = "labels"
	TableDescriptions = "descriptions"
	TableAliases      = "aliases"
	TableSitelinks    = "sitelinks"
	TableClaims       = "claims"
	TableRedirect     = "redirect"
	TableRedirectOf   = "redirect_of"
	TableClaimEntInv  = "claim_ent_inv"
)

// AllTables lists every table the KV engine must open (spec.md §3's
// column-family table).
var AllTables = []string{
	TableLabel, TableLabels, TableDescriptions, TableAliases,
	TableSitelinks, TableClaims, TableRedirect, TableRedirectOf,
	TableClaimEntInv,
}

// Store bundles the dictionary and KV engine for one open database and
// owns both for its lifetime. Values read from the KV engine are
// returned as copies (see kv.Engine.Get), not as borrowed slices of the
// mapped file.
type Store struct {
	dict   *dict.Dict
	engine *kv.Engine
	cfg    *config.Config
}

// Open loads an already-built store's dictionary and KV file. Use
// ingest.BuildDictionary/ingest's other Stage A/B/C helpers, driven by
// cmd/wikidb-build, to construct these files first.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := dict.Open(cfg.DictPath())
	if err != nil {
		return nil, fmt.Errorf("store: opening dictionary: %w", err)
	}
	e, err := kv.Open(kv.Options{
		Path:         cfg.KVFilePath(),
		MaxTables:    cfg.MaxTables,
		MapSizeBytes: cfg.MapSizeBytes,
		Tables:       AllTables,
		ReadOnly:     cfg.ReadOnly,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("store: opening kv engine: %w", err)
	}
	return &Store{dict: d, engine: e, cfg: cfg}, nil
}

// Close releases the dictionary mapping and the KV engine.
func (s *Store) Close() error {
	engineErr := s.engine.Close()
	dictErr := s.dict.Close()
	if engineErr != nil {
		return engineErr
	}
	return dictErr
}

// LocalOf resolves an entity ID string to its LocalID; implements the
// ingest.Resolver interface so Store can be used to encode claims too.
func (s *Store) LocalOf(id string) (uint32, bool) {
	return s.dict.LocalOf(id)
}

// resolve accepts either an entity-ID string or LocalID and returns the
// LocalID, or false if the string is not in the dictionary (spec.md
// §4.5: "String inputs are resolved through the dictionary first;
// missing IDs yield a null result").
func (s *Store) resolve(idOrLocal interface{}) (uint32, bool) {
	switch v := idOrLocal.(type) {
	case uint32:
		return v, true
	case string:
		return s.dict.LocalOf(v)
	default:
		return 0, false
	}
}

// Label returns the entity's English (or fallback) display label.
func (s *Store) Label(idOrLocal interface{}) (string, bool) {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return "", false
	}
	data, found, err := s.engine.Get(TableLabel, codec.EncodeLocalID32(local))
	if err != nil || !found {
		return "", false
	}
	return string(data), true
}

// Labels returns the entity's language -> label map.
func (s *Store) Labels(idOrLocal interface{}) (map[string]string, bool) {
	var out map[string]string
	if !s.getOBJ(TableLabels, idOrLocal, &out) {
		return nil, false
	}
	return out, true
}

// LabelIn returns the single label for lang, or (\"\", false) if absent.
func (s *Store) LabelIn(idOrLocal interface{}, lang string) (string, bool) {
	labels, ok := s.Labels(idOrLocal)
	if !ok {
		return "", false
	}
	v, ok := labels[lang]
	return v, ok
}

// Descriptions returns the entity's language -> description map.
func (s *Store) Descriptions(idOrLocal interface{}) (map[string]string, bool) {
	var out map[string]string
	if !s.getOBJ(TableDescriptions, idOrLocal, &out) {
		return nil, false
	}
	return out, true
}

// DescriptionIn returns the single description for lang.
func (s *Store) DescriptionIn(idOrLocal interface{}, lang string) (string, bool) {
	d, ok := s.Descriptions(idOrLocal)
	if !ok {
		return "", false
	}
	v, ok := d[lang]
	return v, ok
}

// Aliases returns the entity's language -> alias-set map.
func (s *Store) Aliases(idOrLocal interface{}) (map[string]codec.StringSet, bool) {
	var out map[string]codec.StringSet
	if !s.getOBJ(TableAliases, idOrLocal, &out) {
		return nil, false
	}
	return out, true
}

// Sitelinks returns the entity's site-key -> page-title map.
func (s *Store) Sitelinks(idOrLocal interface{}) (map[string]string, bool) {
	var out map[string]string
	if !s.getOBJ(TableSitelinks, idOrLocal, &out) {
		return nil, false
	}
	return out, true
}

// WikipediaTitle looks up key "{lang}wiki" in the entity's sitelinks
// (spec.md §4.5).
func (s *Store) WikipediaTitle(lang string, idOrLocal interface{}) (string, bool) {
	sitelinks, ok := s.Sitelinks(idOrLocal)
	if !ok {
		return "", false
	}
	title, ok := sitelinks[lang+"wiki"]
	return title, ok
}

// WikipediaLink returns the canonical article URL for idOrLocal's
// lang.wikipedia.org sitelink, or ("", false) if absent.
func (s *Store) WikipediaLink(lang string, idOrLocal interface{}) (string, bool) {
	title, ok := s.WikipediaTitle(lang, idOrLocal)
	if !ok {
		return "", false
	}
	return text.WikipediaURL(lang, text.CanonicalizeTitle(lang+"wiki", title)), true
}

func (s *Store) getOBJ(table string, idOrLocal interface{}, out interface{}) bool {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return false
	}
	data, found, err := s.engine.Get(table, codec.EncodeLocalID32(local))
	if err != nil || !found {
		return false
	}
	if err := codec.DecodeOBJ(data, true, out); err != nil {
		return false
	}
	return true
}

// Len returns the number of entities carrying attribute data (spec.md
// §12 "DBWikidata.size"): every such entity has a label row, so the
// label table's entry count is authoritative.
func (s *Store) Len() (uint64, error) {
	return s.engine.Count(TableLabel)
}

// Item bundles the six point reads (spec.md §4.5 "Composite read"),
// omitting missing fields.
type Item struct {
	ID           string
	Label        string
	Labels       map[string]string
	Descriptions map[string]string
	Aliases      map[string]codec.StringSet
	Sitelinks    map[string]string
	Claims       map[string]map[string][]DecodedStatement
}

// GetItem bundles label/labels/descriptions/aliases/sitelinks/claims
// into one Item, or returns (nil, false) if idOrLocal is unknown.
func (s *Store) GetItem(idOrLocal interface{}) (*Item, bool) {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return nil, false
	}
	id, _ := s.dict.StringOf(local)
	item := &Item{ID: id}
	if v, ok := s.Label(local); ok {
		item.Label = v
	}
	if v, ok := s.Labels(local); ok {
		item.Labels = v
	}
	if v, ok := s.Descriptions(local); ok {
		item.Descriptions = v
	}
	if v, ok := s.Aliases(local); ok {
		item.Aliases = v
	}
	if v, ok := s.Sitelinks(local); ok {
		item.Sitelinks = v
	}
	if v, ok := s.Claims(local); ok {
		item.Claims = v
	}
	return item, true
}
