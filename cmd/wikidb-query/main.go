// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Command wikidb-query opens an already-built store read-only and
// prints one entity's label, types and claims as JSON, for manual
// inspection of a wikidb-build output (spec.md §4.5, §12).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wikidb-go/wikidb/config"
	"github.com/wikidb-go/wikidb/store"
)

func main() {
	dataDir := flag.String("data-dir", "", "directory holding wikidb.dict/wikidb.kv (required)")
	entityID := flag.String("id", "", "entity ID to look up, e.g. Q42 (required)")
	lang := flag.String("lang", "en", "language for -wikipedia-link")
	wikipediaLink := flag.Bool("wikipedia-link", false, "also print the Wikipedia article URL for -lang")
	allTypes := flag.Bool("all-types", false, "also print the transitive instance-of/subclass-of closure")
	flag.Parse()

	logger := log.New(os.Stderr, "wikidb-query: ", 0)

	if *dataDir == "" || *entityID == "" {
		logger.Fatal("-data-dir and -id are required")
	}

	cfg := config.Default()
	cfg.DataDir = *dataDir
	cfg.ReadOnly = true
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	s, err := store.Open(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	defer s.Close()

	item, ok := s.GetItem(*entityID)
	if !ok {
		logger.Fatalf("unknown entity ID %q", *entityID)
	}

	out := struct {
		*store.Item
		WikipediaLink string   `json:"wikipediaLink,omitempty"`
		AllTypes      []string `json:"allTypes,omitempty"`
	}{Item: item}

	if *wikipediaLink {
		if link, ok := s.WikipediaLink(*lang, *entityID); ok {
			out.WikipediaLink = link
		}
	}
	if *allTypes {
		out.AllTypes = s.AllTypes(*entityID)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal(err)
	}
	fmt.Fprintln(os.Stderr)
}
