// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package text

import "testing"

func TestCanonicalizeTitleReplacesSpaces(t *testing.T) {
	got := CanonicalizeTitle("enwiki", "Foo Bar")
	if got != "Foo_Bar" {
		t.Errorf("got %q, want %q", got, "Foo_Bar")
	}
}

func TestCanonicalizeTitlePreservesCase(t *testing.T) {
	// A sitelink title is a real, case-sensitive MediaWiki page name;
	// canonicalization must never casefold it, or the resulting URL
	// would no longer resolve to the article.
	got := CanonicalizeTitle("enwiki", "İZMİR")
	if got != "İZMİR" {
		t.Errorf("got %q, want %q (case must be preserved)", got, "İZMİR")
	}
}

func TestSplitSiteKey(t *testing.T) {
	lang, project := SplitSiteKey("enwiki")
	if lang != "en" || project != "wiki" {
		t.Errorf("got (%q, %q), want (en, wiki)", lang, project)
	}
	lang, project = SplitSiteKey("commonswiki")
	if lang != "commons" || project != "wiki" {
		t.Errorf("got (%q, %q), want (commons, wiki)", lang, project)
	}
}

func TestWikipediaURL(t *testing.T) {
	got := WikipediaURL("en", "Belgium")
	want := "https://en.wikipedia.org/wiki/Belgium"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
