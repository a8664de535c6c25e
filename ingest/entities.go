// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dsnet/compress/bzip2"

	"github.com/wikidb-go/wikidb/codec"
)

// dumpSplit is one parallel work unit for Stage B: a byte offset that
// begins a bzip2 compression block, and the ID of the first entity
// appearing at or after the NEXT split (or "*" for the last split).
type dumpSplit struct {
	Start int64
	Limit string
}

// SplitWikidataDump partitions a Wikidata JSON dump (r, of byte length
// size) into numSplits contiguous byte ranges, each one aligned to a
// bzip2 compression-block boundary so every range can be decompressed
// independently, enabling Stage B's worker-pool parallelism (spec.md
// §5 Stage B).
func SplitWikidataDump(r io.ReaderAt, size int64, numSplits int) ([]dumpSplit, error) {
	type point struct {
		Start  int64
		Entity string
	}
	points := make([]point, 0, numSplits)
	for i := 0; i < numSplits; i++ {
		off := int64(i) * size / int64(numSplits)
		start, entity, err := findEntitySplit(r, off)
		if err != nil {
			return nil, err
		}
		points = append(points, point{start, entity})
	}
	out := make([]dumpSplit, len(points))
	for i, p := range points {
		out[i].Start = p.Start
		if i < len(points)-1 {
			out[i].Limit = points[i+1].Entity
		} else {
			out[i].Limit = "*"
		}
	}
	return out, nil
}

// findEntitySplit scans forward from off for the bzip2 block magic,
// speculatively decompresses from there, and returns the block start
// together with the ID of the first whole entity found there. A false
// match (the magic bytes occurring inside a block, not at a boundary)
// is detected via a decompression error and the scan continues.
func findEntitySplit(r io.ReaderAt, off int64) (int64, string, error) {
	chunk := make([]byte, 6+32*1024)
	chunkLen := len(chunk)
	for {
		if _, err := r.ReadAt(chunk[6:chunkLen], off); err != nil {
			return 0, "", err
		}
		magic := []byte{0x31, 0x41, 0x59, 0x26, 0x53, 0x59}
		pos := bytes.Index(chunk, magic)
		if pos < 0 {
			copy(chunk[0:6], chunk[chunkLen-6:chunkLen])
			off += int64(chunkLen - 6)
			continue
		}

		off += int64(pos)
		blockStart := off - 6
		reader, err := NewBzip2ReaderAt(r, blockStart, 1*1024*1024)
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(reader)
		maxLineSize := 8 * 1024 * 1024
		scanner.Buffer(make([]byte, maxLineSize), maxLineSize)
		scanner.Scan()
		scanner.Scan()
		err = scanner.Err()
		if err != nil && strings.HasPrefix(err.Error(), "bzip2: corrupted input") {
			continue
		}
		if err != nil {
			return 0, "", err
		}

		line := scanner.Text()
		if strings.HasPrefix(line, `{"type":"item","id":"`) {
			if p := strings.IndexByte(line[22:], '"'); p > 0 {
				return blockStart, line[21 : 22+p], nil
			}
		}
	}
}

// NewBzip2ReaderAt decompresses a bzip2 stream starting at byte offset
// off, re-synthesizing the 4-byte "BZh9" file header that the block
// boundary itself does not carry.
func NewBzip2ReaderAt(r io.ReaderAt, off int64, size int64) (io.Reader, error) {
	header := strings.NewReader("BZh9")
	stream := io.NewSectionReader(r, off, size)
	cat := io.MultiReader(header, stream)
	return bzip2.NewReader(cat, &bzip2.ReaderConfig{})
}

// ReadEntities drives Stage B: it partitions path's compressed JSON
// dump into four ranges per worker, decodes the ranges' entities on
// workerCount parallel workers, and sends every non-structural item or
// property entity to out. The
// caller is responsible for resolving entity.Claims through a Resolver
// (see EncodeClaims) and writing the result to the kv engine.
func ReadEntities(ctx context.Context, path string, r io.ReaderAt, size int64, workerCount int, structuralIDs map[string]struct{}, resolver Resolver, out chan<- *Entity, stats *Stats) error {
	defer close(out)

	if workerCount < 1 {
		workerCount = 1
	}
	numSplits := workerCount * 4
	splits, err := SplitWikidataDump(r, size, numSplits)
	if err != nil {
		return err
	}

	work := make(chan dumpSplit, len(splits))
	for _, s := range splits {
		work <- s
	}
	close(work)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for task := range work {
				reader, err := NewBzip2ReaderAt(r, task.Start, size-task.Start)
				if err != nil {
					return err
				}
				if err := readSplit(ctx, reader, task.Limit, structuralIDs, resolver, out, stats); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func readSplit(ctx context.Context, r io.Reader, limitID string, structuralIDs map[string]struct{}, resolver Resolver, out chan<- *Entity, stats *Stats) error {
	scanner := bufio.NewScanner(r)
	maxLineSize := 8 * 1024 * 1024
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)
	for scanner.Scan() {
		buf := scanner.Bytes()
		if len(buf) == 1 && (buf[0] == '[' || buf[0] == ']') {
			continue
		}
		if buf[len(buf)-1] == ',' {
			buf = buf[:len(buf)-1]
		}

		entity, id, err := parseEntityLine(buf, structuralIDs, resolver)
		if err != nil {
			if stats != nil {
				stats.EntitiesMalformed.Inc()
			}
			continue // malformed line; Wikidata dumps occasionally carry these
		}
		if id == limitID {
			return nil
		}
		if entity == nil {
			if stats != nil && len(buf) > 0 {
				stats.EntitiesStructural.Inc()
			}
			continue
		}
		if stats != nil {
			stats.EntitiesRead.Inc()
		}
		select {
		case out <- entity:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// dumpEntity mirrors the subset of the Wikidata JSON entity schema this
// pipeline consumes (spec.md §3).
type dumpEntity struct {
	Type         string                  `json:"type"`
	ID           string                  `json:"id"`
	Labels       map[string]dumpTerm     `json:"labels"`
	Descriptions map[string]dumpTerm     `json:"descriptions"`
	Aliases      map[string][]dumpTerm   `json:"aliases"`
	Sitelinks    map[string]dumpSitelink `json:"sitelinks"`
	Claims       map[string][]dumpClaim  `json:"claims"`
}

type dumpTerm struct {
	Value string `json:"value"`
}

type dumpSitelink struct {
	Site  string `json:"site"`
	Title string `json:"title"`
}

type dumpClaim struct {
	Mainsnak   dumpSnak        `json:"mainsnak"`
	References []dumpReference `json:"references"`
}

type dumpSnak struct {
	Datavalue *dumpDatavalue `json:"datavalue"`
}

type dumpReference struct {
	Snaks map[string][]dumpSnak `json:"snaks"`
}

type dumpDatavalue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func parseEntityLine(line []byte, structuralIDs map[string]struct{}, resolver Resolver) (*Entity, string, error) {
	var d dumpEntity
	if err := json.Unmarshal(line, &d); err != nil {
		return nil, "", err
	}
	if d.Type != "item" && d.Type != "property" {
		return nil, d.ID, nil
	}

	local, ok := resolver.LocalOf(d.ID)
	if !ok {
		return nil, d.ID, nil
	}

	claims := pivotClaims(d.Claims)
	if IsStructural(claims, structuralIDs) {
		return nil, d.ID, nil
	}

	labels := flattenTerms(d.Labels)
	label, ok := labels["en"]
	if !ok {
		label = d.ID
	}

	return &Entity{
		Local:        local,
		Label:        label,
		Labels:       labels,
		Descriptions: flattenTerms(d.Descriptions),
		Aliases:      flattenAliases(d.Aliases),
		Sitelinks:    flattenSitelinks(d.Sitelinks),
		Claims:       claims,
	}, d.ID, nil
}

func flattenTerms(terms map[string]dumpTerm) map[string]string {
	out := make(map[string]string, len(terms))
	for lang, t := range terms {
		out[lang] = t.Value
	}
	return out
}

func flattenAliases(aliases map[string][]dumpTerm) map[string]codec.StringSet {
	out := make(map[string]codec.StringSet, len(aliases))
	for lang, terms := range aliases {
		values := make([]string, len(terms))
		for i, t := range terms {
			values[i] = t.Value
		}
		out[lang] = codec.NewStringSet(values...)
	}
	return out
}

func flattenSitelinks(sitelinks map[string]dumpSitelink) map[string]string {
	out := make(map[string]string, len(sitelinks))
	for key, sl := range sitelinks {
		out[key] = sl.Title
	}
	return out
}

// pivotClaims walks {prop -> [claim, ...]} and re-pivots into
// {value_type -> {prop -> [StatementValue]}}, normalizing each claim's
// value and references exactly once (spec.md §3 step 4). Property keys
// and entity-id/quantity values are resolved to LocalIDs later, by
// EncodeClaims, so this function only has to agree on the raw shapes.
func pivotClaims(byProp map[string][]dumpClaim) ClaimMap {
	out := make(ClaimMap)
	for prop, claims := range byProp {
		for _, c := range claims {
			if c.Mainsnak.Datavalue == nil {
				continue
			}
			valueType := c.Mainsnak.Datavalue.Type
			value, err := decodeDatavalue(valueType, c.Mainsnak.Datavalue.Value)
			if err != nil {
				continue
			}
			refs := pivotReferences(c.References)
			if out[valueType] == nil {
				out[valueType] = make(map[string][]Statement)
			}
			out[valueType][prop] = append(out[valueType][prop], Statement{
				Value:      value,
				References: refs,
			})
		}
	}
	return out
}

func pivotReferences(refs []dumpReference) []ReferenceNode {
	if len(refs) == 0 {
		return nil
	}
	out := make([]ReferenceNode, 0, len(refs))
	for _, ref := range refs {
		if len(ref.Snaks) == 0 {
			continue
		}
		node := make(ReferenceNode)
		for prop, snaks := range ref.Snaks {
			for _, snak := range snaks {
				if snak.Datavalue == nil {
					continue
				}
				valueType := snak.Datavalue.Type
				value, err := decodeDatavalue(valueType, snak.Datavalue.Value)
				if err != nil {
					continue
				}
				if node[valueType] == nil {
					node[valueType] = make(map[string][]interface{})
				}
				node[valueType][prop] = append(node[valueType][prop], value)
			}
		}
		if len(node) > 0 {
			out = append(out, node)
		}
	}
	return out
}

// decodeDatavalue normalizes a raw JSON datavalue into the shapes
// ClaimMap/Statement carry before LocalID resolution: a plain string
// for wikibase-entityid/time/monolingualtext/string, or a rawQuantity
// for quantity. Other datavalue types (globecoordinate, ...) pass
// through as a generic map, per spec.md §3's "catch-all" guidance.
func decodeDatavalue(valueType string, raw json.RawMessage) (interface{}, error) {
	switch valueType {
	case "wikibase-entityid":
		var v struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v.ID, nil
	case "time":
		var v struct {
			Time string `json:"time"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return normalizeTime(v.Time), nil
	case "monolingualtext":
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v.Text, nil
	case "quantity":
		var v struct {
			Amount string `json:"amount"`
			Unit   string `json:"unit"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return rawQuantity{Amount: trimPlus(v.Amount), Unit: strings.TrimPrefix(v.Unit, wikidataEntityPrefix)}, nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		return generic, nil
	}
}

const wikidataEntityPrefix = "http://www.wikidata.org/entity/"

func normalizeTime(t string) string {
	t = strings.TrimSuffix(t, "T00:00:00Z")
	return trimPlus(t)
}

func trimPlus(s string) string {
	if strings.HasPrefix(s, "+") {
		return s[1:]
	}
	return s
}
