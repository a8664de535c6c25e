// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"os"
	"regexp"
	"runtime"

	"github.com/lanrat/extsort"

	"github.com/wikidb-go/wikidb/dict"
)

// entityIDPattern matches the entity-ID shape accepted anywhere in the
// graph (spec.md §3: "Identified externally by an opaque string
// matching ^[PQ][0-9]+$").
var entityIDPattern = regexp.MustCompile(`^[PQ][0-9]+$`)

// Redirect is one resolved `from_local -> to_local` mapping, built from
// the MediaWiki redirect SQL dump (spec.md §4.4 Stage A step 3).
type Redirect struct {
	From uint32
	To   uint32
}

// BuildDictionary implements Stage A steps 1-2: it streams the page SQL
// dump, collects every item (namespace 0) or property (namespace 120)
// row whose title matches the entity-ID shape, and builds the ordered
// dictionary from the deduplicated, externally sorted set of IDs. The
// IDs are sorted with lanrat/extsort, but the sorted result and the
// page-ID map are both held in memory in full.
func BuildDictionary(pageSQLPath string) (*dict.Dict, map[int64]string, error) {
	f, err := os.Open(pageSQLPath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r, err := maybeGunzip(f)
	if err != nil {
		return nil, nil, err
	}

	reader, err := NewSQLReader(r)
	if err != nil {
		return nil, nil, err
	}
	cols := columnIndex(reader.Columns())
	idIdx, idOK := cols["page_id"]
	titleIdx, titleOK := cols["page_title"]
	nsIdx, nsOK := cols["page_namespace"]
	if !idOK || !titleOK || !nsOK {
		return nil, nil, errSQLParse
	}

	pageToEntity := make(map[int64]string)
	idsCh := make(chan string, 4096)
	sortCfg := extsort.DefaultConfig()
	sortCfg.NumWorkers = runtime.NumCPU()
	sorter, sortedCh, errCh := extsort.Strings(idsCh, sortCfg)

	go func() {
		defer close(idsCh)
		for {
			row, err := reader.Read()
			if err != nil || row == nil {
				break
			}
			if ns := row[nsIdx]; ns != "0" && ns != "120" {
				continue
			}
			title := row[titleIdx]
			if !entityIDPattern.MatchString(title) {
				continue
			}
			pageID := parseInt64(row[idIdx])
			pageToEntity[pageID] = title
			idsCh <- title
		}
	}()

	sorter.Sort(context.Background())
	var sorted []string
	for id := range sortedCh {
		sorted = append(sorted, id)
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}

	return dict.Build(sorted), pageToEntity, nil
}

// BuildRedirects implements Stage A step 3: it streams the redirect SQL
// dump and resolves every row whose target is in namespace 0 or 120,
// whose source page ID is in pageToEntity and whose target entity
// string is in d to a LocalID pair.
func BuildRedirects(redirectSQLPath string, d *dict.Dict, pageToEntity map[int64]string) ([]Redirect, error) {
	f, err := os.Open(redirectSQLPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := maybeGunzip(f)
	if err != nil {
		return nil, err
	}

	reader, err := NewSQLReader(r)
	if err != nil {
		return nil, err
	}
	cols := columnIndex(reader.Columns())
	fromIdx, fromOK := cols["rd_from"]
	titleIdx, titleOK := cols["rd_title"]
	nsIdx, nsOK := cols["rd_namespace"]
	if !fromOK || !titleOK || !nsOK {
		return nil, errSQLParse
	}

	var redirects []Redirect
	for {
		row, err := reader.Read()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		if ns := row[nsIdx]; ns != "0" && ns != "120" {
			continue
		}
		fromPage := parseInt64(row[fromIdx])
		fromEntity, ok := pageToEntity[fromPage]
		if !ok {
			continue
		}
		fromLocal, ok := d.LocalOf(fromEntity)
		if !ok {
			continue
		}
		toLocal, ok := d.LocalOf(row[titleIdx])
		if !ok {
			continue
		}
		redirects = append(redirects, Redirect{From: fromLocal, To: toLocal})
	}
	return redirects, nil
}

func maybeGunzip(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

func columnIndex(cols []string) map[string]int {
	out := make(map[string]int, len(cols))
	for i, c := range cols {
		out[c] = i
	}
	return out
}

func parseInt64(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
