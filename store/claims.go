// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package store

import (
	"github.com/wikidb-go/wikidb/codec"
)

// DecodedStatement mirrors ingest.Statement but with LocalIDs restored
// to entity-ID strings (spec.md §4.5 "Decoding of claims").
type DecodedStatement struct {
	Value      interface{}
	References []map[string]map[string][]interface{}
}

// wireStatement is the on-disk shape produced by ingest.EncodeClaims,
// decoded generically via msgpack before LocalID restoration.
type wireStatement struct {
	Value      interface{}
	References []map[string]map[uint32][]interface{} `msgpack:",omitempty"`
}

// Claims returns the entity's decoded claim map:
// {value_type -> {prop_id -> []DecodedStatement}}. LocalIDs embedded in
// values are resolved back to entity-ID strings; unknown LocalIDs pass
// through unchanged; the quantity unit sentinel -1 is mapped back to
// "1" (spec.md §4.5, §9).
func (s *Store) Claims(idOrLocal interface{}) (map[string]map[string][]DecodedStatement, bool) {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return nil, false
	}
	data, found, err := s.engine.Get(TableClaims, codec.EncodeLocalID32(local))
	if err != nil || !found {
		return nil, false
	}

	var wire map[string]map[uint32][]wireStatement
	if err := codec.DecodeOBJ(data, true, &wire); err != nil {
		return nil, false
	}

	out := make(map[string]map[string][]DecodedStatement, len(wire))
	for valueType, byProp := range wire {
		propMap := make(map[string][]DecodedStatement, len(byProp))
		for propLocal, statements := range byProp {
			propID, ok := s.dict.StringOf(propLocal)
			if !ok {
				continue
			}
			decoded := make([]DecodedStatement, 0, len(statements))
			for _, st := range statements {
				decoded = append(decoded, DecodedStatement{
					Value:      s.decodeValue(valueType, st.Value),
					References: s.decodeReferences(st.References),
				})
			}
			propMap[propID] = decoded
		}
		out[valueType] = propMap
	}
	return out, true
}

func (s *Store) decodeReferences(refs []map[string]map[uint32][]interface{}) []map[string]map[string][]interface{} {
	if len(refs) == 0 {
		return nil
	}
	out := make([]map[string]map[string][]interface{}, 0, len(refs))
	for _, ref := range refs {
		node := make(map[string]map[string][]interface{}, len(ref))
		for valueType, byProp := range ref {
			propMap := make(map[string][]interface{}, len(byProp))
			for propLocal, values := range byProp {
				propID, ok := s.dict.StringOf(propLocal)
				if !ok {
					continue
				}
				decoded := make([]interface{}, len(values))
				for i, v := range values {
					decoded[i] = s.decodeValue(valueType, v)
				}
				propMap[propID] = decoded
			}
			node[valueType] = propMap
		}
		out = append(out, node)
	}
	return out
}

// decodeValue restores a wikibase-entityid LocalID or quantity unit
// LocalID back to its entity-ID string, passing through everything
// else unchanged (spec.md §3, §9).
func (s *Store) decodeValue(valueType string, value interface{}) interface{} {
	switch valueType {
	case "wikibase-entityid":
		return s.localToString(value)
	case "quantity":
		if m, ok := asQuantityTuple(value); ok {
			return [2]interface{}{m[0], s.decodeUnit(m[1])}
		}
	}
	return value
}

func (s *Store) localToString(value interface{}) interface{} {
	local, ok := asUint32(value)
	if !ok {
		return value
	}
	if id, ok := s.dict.StringOf(local); ok {
		return id
	}
	return value
}

func (s *Store) decodeUnit(unit interface{}) interface{} {
	switch u := unit.(type) {
	case int32:
		if u == -1 {
			return "1"
		}
	case int64:
		if u == -1 {
			return "1"
		}
	case int8:
		if u == -1 {
			return "1"
		}
	}
	return s.localToString(unit)
}

func asQuantityTuple(value interface{}) ([2]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		if len(v) == 2 {
			return [2]interface{}{v[0], v[1]}, true
		}
	case map[string]interface{}:
		amount, hasAmount := v["Amount"]
		unit, hasUnit := v["Unit"]
		if hasAmount && hasUnit {
			return [2]interface{}{amount, unit}, true
		}
	}
	return [2]interface{}{}, false
}

// asUint32 only switches on the width-typed int kinds msgpack.Marshal's
// default flags actually emit (uint32/uint64/int64/int8, per the
// round-trip this decodes in claims_test.go); it relies on
// UseCompactInts never being turned on for this codec, which would
// also produce int16/uint16 etc.
func asUint32(value interface{}) (uint32, bool) {
	switch v := value.(type) {
	case uint32:
		return v, true
	case uint64:
		return uint32(v), true
	case int64:
		if v >= 0 {
			return uint32(v), true
		}
	case int8:
		if v >= 0 {
			return uint32(v), true
		}
	}
	return 0, false
}

// InstanceOf returns the entity-ID string values of claims["wikibase-
// entityid"]["P31"] (spec.md §4.5).
func (s *Store) InstanceOf(idOrLocal interface{}) []string {
	return s.entityIDClaimValues(idOrLocal, "P31")
}

// SubclassOf returns the entity-ID string values of claims["wikibase-
// entityid"]["P279"] (spec.md §4.5).
func (s *Store) SubclassOf(idOrLocal interface{}) []string {
	return s.entityIDClaimValues(idOrLocal, "P279")
}

func (s *Store) entityIDClaimValues(idOrLocal interface{}, prop string) []string {
	claims, ok := s.Claims(idOrLocal)
	if !ok {
		return nil
	}
	statements := claims["wikibase-entityid"][prop]
	out := make([]string, 0, len(statements))
	for _, st := range statements {
		if id, ok := st.Value.(string); ok {
			out = append(out, id)
		}
	}
	return out
}

// AllTypes computes the transitive closure of InstanceOf then
// SubclassOf*, as a worklist over a visited set (spec.md §4.5
// "all_types"): visits each class at most once, returns an unordered
// list.
func (s *Store) AllTypes(idOrLocal interface{}) []string {
	visited := make(map[string]struct{})
	var result []string

	worklist := s.InstanceOf(idOrLocal)
	for len(worklist) > 0 {
		class := worklist[0]
		worklist = worklist[1:]
		if _, seen := visited[class]; seen {
			continue
		}
		visited[class] = struct{}{}
		result = append(result, class)
		worklist = append(worklist, s.SubclassOf(class)...)
	}
	return result
}
