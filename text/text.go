// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package text canonicalizes sitelink page titles into Wikipedia URLs,
// mirroring MediaWiki's own title normalization (spec.md §4.4 Stage B
// step 3, §4.5 "WikipediaTitle"/"WikipediaLink"): Unicode NFC
// normalization plus space-to-underscore substitution. This deliberately
// does NOT casefold (see DESIGN.md): a sitelink title is a real,
// case-sensitive MediaWiki page name, and folding it (e.g. "Belgium" ->
// "belgium") would produce a URL that no longer resolves to the article.
package text

import (
	"bytes"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalizeTitle normalizes a sitelink page title for use as the
// last path segment of a Wikipedia URL: NFC-normalizes it and turns
// every space into an underscore (spec.md §4.5 "replaces spaces with
// _"). siteKey is accepted for signature symmetry with SplitSiteKey
// but is otherwise unused here; title casing is always preserved
// verbatim.
func CanonicalizeTitle(siteKey, title string) string {
	var buf bytes.Buffer
	var it norm.Iter
	it.InitString(norm.NFC, title)
	for !it.Done() {
		c := it.Next()
		if c[0] > 0x20 {
			buf.Write(c)
		} else {
			buf.WriteByte('_')
		}
	}
	return buf.String()
}

// WikipediaURL builds the canonical article URL for a sitelink, e.g.
// CanonicalizeTitle("enwiki", "Foo Bar") -> "Foo_Bar", combined with
// the site's language subdomain to form
// "https://en.wikipedia.org/wiki/Foo_Bar".
func WikipediaURL(lang, title string) string {
	var buf strings.Builder
	buf.WriteString("https://")
	buf.WriteString(lang)
	buf.WriteString(".wikipedia.org/wiki/")
	buf.WriteString(title)
	return buf.String()
}

// SplitSiteKey splits a sitelink site key such as "enwiki" or
// "commonswiki" into its language prefix and project suffix ("en",
// "wiki"); the suffix "wiki" denotes ordinary Wikipedia, matching
// MediaWiki's own sitelink naming convention.
func SplitSiteKey(siteKey string) (lang, project string) {
	idx := strings.Index(siteKey, "wiki")
	if idx < 0 {
		return siteKey, ""
	}
	return siteKey[:idx], siteKey[idx:]
}
