// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import "github.com/wikidb-go/wikidb/codec"

// Entity is the canonical, dictionary-resolved projection of one
// Wikidata JSON entity (spec.md §3, step 3): the six attributes kept
// in the columnar value tables.
type Entity struct {
	Local        uint32
	Label        string
	Labels       map[string]string
	Descriptions map[string]string
	Aliases      map[string]codec.StringSet
	Sitelinks    map[string]string
	Claims       ClaimMap
}

// ClaimMap is the nested statement map keyed by Wikidata datavalue type
// ("wikibase-entityid", "quantity", "time", "monolingualtext", "string",
// ...), then by property ID string, as pivoted in spec.md §3 step 4.
// Property keys stay as strings during collection; EncodeClaims resolves
// them (and "wikibase-entityid" values) to LocalIDs just before encoding.
type ClaimMap map[string]map[string][]Statement

// Statement is one claim value together with its (possibly empty)
// references, mirroring the "StatementValue" shape from spec.md §3.
type Statement struct {
	Value      interface{}
	References []ReferenceNode
}

// ReferenceNode is one reference's snaks, normalized the same way as
// claim values and pivoted into {value_type -> {prop -> [values]}}.
type ReferenceNode map[string]map[string][]interface{}

// quantityValue is the normalized shape of a "quantity" datavalue: an
// amount string and a unit. Unit is either a LocalID (uint32) of a unit
// entity, the sentinel int32(-1) for the dimensionless unit "1", or a
// raw unit string if the unit entity is unknown to the dictionary.
type quantityValue struct {
	Amount string
	Unit   interface{}
}

// Resolver resolves an entity-ID string to its LocalID, used to turn
// "wikibase-entityid" values and quantity units into dense integers.
type Resolver interface {
	LocalOf(id string) (uint32, bool)
}

// resolveEntityIDValue maps a wikibase-entityid value to its LocalID if
// known, else passes the raw string through unchanged (spec.md §3: "LocalID
// if resolvable, else raw string").
func resolveEntityIDValue(r Resolver, id string) interface{} {
	if local, ok := r.LocalOf(id); ok {
		return local
	}
	return id
}

// resolveQuantity applies the -1/"1" sentinel rule (spec.md §9): unit
// string "1" encodes to int32(-1); every other unit resolves through
// the dictionary, falling back to the raw string.
func resolveQuantity(r Resolver, amount, unit string) quantityValue {
	if unit == "1" {
		return quantityValue{Amount: amount, Unit: int32(-1)}
	}
	return quantityValue{Amount: amount, Unit: resolveEntityIDValue(r, unit)}
}

// decodeQuantity is the read-time dual of resolveQuantity: it restores
// the sentinel -1 back to the string "1" (spec.md §9) and resolves any
// other unit LocalID back to its entity-ID string.
func decodeQuantity(strOf func(uint32) (string, bool), q quantityValue) (string, string) {
	switch u := q.Unit.(type) {
	case int32:
		if u == -1 {
			return q.Amount, "1"
		}
	case uint32:
		if s, ok := strOf(u); ok {
			return q.Amount, s
		}
	case int64:
		if u == -1 {
			return q.Amount, "1"
		}
	case string:
		return q.Amount, u
	}
	return q.Amount, ""
}

// EncodeClaims resolves property keys and wikibase-entityid/quantity
// values to LocalIDs and serializes the result with the OBJ codec
// (msgpack, zstd-compressed), per spec.md §3/§4.1.
func EncodeClaims(r Resolver, claims ClaimMap) ([]byte, error) {
	resolved := make(map[string]map[uint32][]encodedStatement, len(claims))
	for valueType, byProp := range claims {
		propMap := make(map[uint32][]encodedStatement, len(byProp))
		for prop, statements := range byProp {
			propLocal := resolveEntityIDValueAsLocal(r, prop)
			out := make([]encodedStatement, 0, len(statements))
			for _, st := range statements {
				out = append(out, encodedStatement{
					Value:      normalizeValue(r, valueType, st.Value),
					References: encodeReferences(r, st.References),
				})
			}
			propMap[propLocal] = out
		}
		resolved[valueType] = propMap
	}
	return codec.EncodeOBJ(resolved, true)
}

// resolveEntityIDValueAsLocal resolves a property ID to its LocalID.
// Properties are always known by the time claims are ingested (they
// come from the same dump), but fall back to 0 defensively; callers
// never observe a collision because property 0 never occurs in the
// P-namespace universe built during Stage A.
func resolveEntityIDValueAsLocal(r Resolver, prop string) uint32 {
	if local, ok := r.LocalOf(prop); ok {
		return local
	}
	return 0
}

type encodedStatement struct {
	Value      interface{}
	References []map[string]map[uint32][]interface{} `msgpack:",omitempty"`
}

func normalizeValue(r Resolver, valueType string, value interface{}) interface{} {
	switch valueType {
	case "wikibase-entityid":
		if s, ok := value.(string); ok {
			return resolveEntityIDValue(r, s)
		}
	case "quantity":
		if q, ok := value.(rawQuantity); ok {
			return resolveQuantity(r, q.Amount, q.Unit)
		}
	}
	return value
}

// rawQuantity is the shape a JSON quantity datavalue is collected into
// before LocalID resolution.
type rawQuantity struct {
	Amount string
	Unit   string
}

func encodeReferences(r Resolver, refs []ReferenceNode) []map[string]map[uint32][]interface{} {
	if len(refs) == 0 {
		return nil
	}
	out := make([]map[string]map[uint32][]interface{}, 0, len(refs))
	for _, ref := range refs {
		node := make(map[string]map[uint32][]interface{}, len(ref))
		for valueType, byProp := range ref {
			propMap := make(map[uint32][]interface{}, len(byProp))
			for prop, values := range byProp {
				propLocal := resolveEntityIDValueAsLocal(r, prop)
				normalized := make([]interface{}, 0, len(values))
				for _, v := range values {
					normalized = append(normalized, normalizeValue(r, valueType, v))
				}
				propMap[propLocal] = normalized
			}
			node[valueType] = propMap
		}
		out = append(out, node)
	}
	return out
}

// IsStructural reports whether claims contains a P31 or P279
// wikibase-entityid statement whose value is a member of structuralIDs
// (spec.md §3 step 5, §9). Structural entities ("disambiguation page",
// "Wikimedia category", ...) are filtered out of the value tables but
// keep their dictionary entry and redirects.
func IsStructural(claims ClaimMap, structuralIDs map[string]struct{}) bool {
	entityIDClaims, ok := claims["wikibase-entityid"]
	if !ok {
		return false
	}
	for _, prop := range []string{"P31", "P279"} {
		for _, st := range entityIDClaims[prop] {
			if id, ok := st.Value.(string); ok {
				if _, structural := structuralIDs[id]; structural {
					return true
				}
			}
		}
	}
	return false
}
