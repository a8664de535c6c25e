// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package config holds the explicit configuration struct threaded through
// store construction and ingestion. There is no module-level global state;
// every component that needs configuration receives it as a parameter.
package config

import (
	"fmt"
	"path/filepath"
)

// Size constants, named the way the source's config.py names them.
const (
	SizeMB = 1 << 20
	SizeGB = 1 << 30
)

// Config is the caller-provided configuration for opening or building
// a Store (spec.md §6 "Configuration").
type Config struct {
	// DataDir is the root directory holding the persisted KV file,
	// the dictionary file, and the optional sidecar page file.
	DataDir string

	// JSONDumpPath is the path to the entity JSON-lines dump. Stage B
	// reads it as bzip2 only; gzip-compressed or uncompressed dumps are
	// not supported.
	JSONDumpPath string

	// PageSQLPath and RedirectSQLPath are the gzipped MySQL dump files
	// for the `page` and `redirect` tables, used in Stage A.
	PageSQLPath     string
	RedirectSQLPath string

	// MaxTables is the number of named sub-stores the KV engine must
	// reserve room for. Must be >= 11 (spec.md §6): redirect,
	// redirect_of, label, labels, descriptions, aliases, sitelinks,
	// claims, claim_ent_inv, plus headroom for future tables.
	MaxTables int

	// MapSizeBytes is the virtual address window reserved for the
	// memory-mapped KV file. Default ~100 GiB.
	MapSizeBytes int64

	// WriteBufferBytes bounds how many pending bytes a bulk writer
	// accumulates before flushing. Default sets 1 GiB without looking at
	// the machine's RAM; WriteBufferDefault computes min(RAM/10, 1 GiB)
	// for a caller that supplies the RAM size.
	WriteBufferBytes int64

	// MaxKeyBytes is the byte limit for textual keys (see
	// codec.EncodeTextKey). Default 511, matching the LMDB-derived default
	// key-size limit of the source. Only Validate reads it; no writer
	// truncates keys with it.
	MaxKeyBytes int

	// WorkerCount bounds the ingestion Stage B worker pool. Default 6.
	WorkerCount int

	// StructuralClassIDs is the set of entity IDs ("Q4167410", ...)
	// whose instances are stripped of attribute data during ingestion
	// (spec.md §3 "Entity lifecycle", §4.4 step 5).
	StructuralClassIDs map[string]struct{}

	// ReadOnly opens the KV file read-only. store.Open never builds
	// missing files, whatever this is set to; a missing dictionary file
	// is an error.
	ReadOnly bool
}

// DefaultStructuralClassIDs is the fixed set named in spec.md §6,
// taken unchanged from the source's cf.WIKIDATA_IDENTIFIERS.
func DefaultStructuralClassIDs() map[string]struct{} {
	ids := []string{
		"Q4167410",  // disambiguation page
		"Q4167836",  // category
		"Q24046192", // category stub
		"Q20010800", // user category
		"Q11266439", // template
		"Q11753321", // navigational template
		"Q19842659", // user template
		"Q21528878", // redirect page
		"Q17362920", // duplicated page
		"Q14204246", // project page
		"Q21025364", // project page
		"Q17442446", // internal item
		"Q26267864", // KML file
		"Q4663903",  // portal
		"Q15184295", // module
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Default returns a Config with every field at its spec-mandated default,
// except DataDir and the dump paths, which the caller must set.
func Default() *Config {
	return &Config{
		MaxTables:          11,
		MapSizeBytes:       100 * SizeGB,
		WriteBufferBytes:   SizeGB, // capped at 1 GiB; see WriteBufferDefault
		MaxKeyBytes:        511,
		WorkerCount:        6,
		StructuralClassIDs: DefaultStructuralClassIDs(),
	}
}

// Validate checks the invariants the rest of the package relies on.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if c.MaxTables < 11 {
		return fmt.Errorf("config: MaxTables must be >= 11, got %d", c.MaxTables)
	}
	if c.MapSizeBytes <= 0 {
		return fmt.Errorf("config: MapSizeBytes must be positive")
	}
	if c.MaxKeyBytes <= 0 {
		return fmt.Errorf("config: MaxKeyBytes must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("config: WorkerCount must be positive")
	}
	return nil
}

// KVFilePath returns the path of the main memory-mapped KV file.
func (c *Config) KVFilePath() string {
	return filepath.Join(c.DataDir, "wikidb.kv")
}

// DictPath returns the path of the persisted identifier dictionary.
func (c *Config) DictPath() string {
	return filepath.Join(c.DataDir, "wikidb.dict")
}

// PageFilePath returns the path of the optional sidecar page file
// reserved for future extensions (spec.md §6).
func (c *Config) PageFilePath() string {
	return filepath.Join(c.DataDir, "wikidb.page")
}

// WriteBufferDefault computes min(ramBytes/10, 1 GiB), the default
// write_bulk_buffered flush threshold from spec.md §4.2. The caller
// supplies the detected RAM size; wikidb does not probe the OS itself,
// keeping Config free of hidden environment reads (spec.md §9
// "Global state").
func WriteBufferDefault(ramBytes int64) int64 {
	tenth := ramBytes / 10
	if tenth > SizeGB {
		return SizeGB
	}
	return tenth
}
