// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package dict

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildRoundTrip(t *testing.T) {
	ids := []string{"Q64", "Q31", "Q31", "P279", "P31"}
	d := Build(ids)

	if got, want := d.Len(), 4; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	seen := make(map[string]bool)
	d.IterStrings(func(id uint32, s string) bool {
		got, ok := d.StringOf(id)
		if !ok || got != s {
			t.Errorf("StringOf(%d) = (%q, %v), want (%q, true)", id, got, ok, s)
		}
		local, ok := d.LocalOf(s)
		if !ok || local != id {
			t.Errorf("LocalOf(%q) = (%d, %v), want (%d, true)", s, local, ok, id)
		}
		seen[s] = true
		return true
	})
	for _, s := range []string{"Q64", "Q31", "P279", "P31"} {
		if !seen[s] {
			t.Errorf("dictionary missing %q", s)
		}
	}
}

func TestLocalOfUnknown(t *testing.T) {
	d := Build([]string{"Q1", "Q2", "Q3"})
	if _, ok := d.LocalOf("Q999999"); ok {
		t.Error("expected unknown string to be absent")
	}
	if _, ok := d.LocalOf("P1"); ok {
		t.Error("expected unknown prefix to be absent")
	}
}

func TestStringOfOutOfRange(t *testing.T) {
	d := Build([]string{"Q1", "Q2"})
	if _, ok := d.StringOf(2); ok {
		t.Error("expected out-of-range LocalID to be absent")
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	ids := []string{"Q31", "Q64", "Q42", "P279", "P31", "P625"}
	d := Build(ids)

	path := filepath.Join(t.TempDir(), "test.dict")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer loaded.Close()

	if loaded.Len() != d.Len() {
		t.Fatalf("Len() = %d, want %d", loaded.Len(), d.Len())
	}
	for _, s := range ids {
		wantID, ok := d.LocalOf(s)
		if !ok {
			t.Fatalf("in-memory dict missing %q", s)
		}
		gotID, ok := loaded.LocalOf(s)
		if !ok || gotID != wantID {
			t.Errorf("loaded.LocalOf(%q) = (%d, %v), want (%d, true)", s, gotID, ok, wantID)
		}
		gotStr, ok := loaded.StringOf(gotID)
		if !ok || gotStr != s {
			t.Errorf("loaded.StringOf(%d) = (%q, %v), want (%q, true)", gotID, gotStr, ok, s)
		}
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dict")
	if err := os.WriteFile(path, []byte("not a dictionary file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected error opening a non-dictionary file")
	}
}
