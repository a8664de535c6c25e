// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"testing"

	"github.com/wikidb-go/wikidb/codec"
	"github.com/wikidb-go/wikidb/dict"
)

func TestResolveQuantitySentinel(t *testing.T) {
	d := dict.Build([]string{"Q11573"}) // metre

	q := resolveQuantity(d, "5", "1")
	if q.Unit != int32(-1) {
		t.Errorf("unit = %v, want -1 for dimensionless quantity", q.Unit)
	}

	q = resolveQuantity(d, "5", "Q11573")
	local, _ := d.LocalOf("Q11573")
	if q.Unit != local {
		t.Errorf("unit = %v, want LocalID %d", q.Unit, local)
	}

	q = resolveQuantity(d, "5", "Q999999")
	if q.Unit != "Q999999" {
		t.Errorf("unit = %v, want raw string for unresolved unit", q.Unit)
	}
}

func TestIsStructural(t *testing.T) {
	structural := map[string]struct{}{"Q4167410": {}} // disambiguation page

	claims := ClaimMap{
		"wikibase-entityid": {
			"P31": []Statement{{Value: "Q4167410"}},
		},
	}
	if !IsStructural(claims, structural) {
		t.Error("expected entity with structural P31 to be flagged")
	}

	claims = ClaimMap{
		"wikibase-entityid": {
			"P31": []Statement{{Value: "Q5"}}, // human
		},
	}
	if IsStructural(claims, structural) {
		t.Error("did not expect ordinary P31 value to be flagged structural")
	}
}

func TestEncodeClaimsRoundTrip(t *testing.T) {
	d := dict.Build([]string{"Q5", "P31", "P21", "Q6581097"})
	claims := ClaimMap{
		"wikibase-entityid": {
			"P31": []Statement{{Value: "Q5"}},
			"P21": []Statement{{Value: "Q6581097"}},
		},
	}

	data, err := EncodeClaims(d, claims)
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]map[uint32][]encodedStatement
	if err := codec.DecodeOBJ(data, true, &out); err != nil {
		t.Fatal(err)
	}

	p31, _ := d.LocalOf("P31")
	q5, _ := d.LocalOf("Q5")
	statements, ok := out["wikibase-entityid"][p31]
	if !ok || len(statements) != 1 {
		t.Fatalf("missing P31 statements in decoded claims: %v", out)
	}
	got, ok := statements[0].Value.(uint32)
	if !ok {
		// msgpack round-trips unsigned ints through a generic decoder
		// as int64/uint64 depending on magnitude; accept either.
		if asInt, isInt := statements[0].Value.(int64); isInt {
			got = uint32(asInt)
		} else if asUint, isUint := statements[0].Value.(uint64); isUint {
			got = uint32(asUint)
		} else {
			t.Fatalf("unexpected value type %T", statements[0].Value)
		}
	}
	if got != q5 {
		t.Errorf("got %d, want %d", got, q5)
	}
}
