// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package store

import (
	"github.com/wikidb-go/wikidb/codec"
)

// Redirect returns the single canonical target of idOrLocal, or
// ("", false) if it is not a redirect (spec.md §4.5).
func (s *Store) Redirect(idOrLocal interface{}) (string, bool) {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return "", false
	}
	data, found, err := s.engine.Get(TableRedirect, codec.EncodeLocalID32(local))
	if err != nil || !found {
		return "", false
	}
	toLocal := codec.DecodeLocalID32(data)
	return s.dict.StringOf(toLocal)
}

// RedirectOf returns the list of entity IDs that redirect to
// idOrLocal (spec.md §4.5).
func (s *Store) RedirectOf(idOrLocal interface{}) []string {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return nil
	}
	data, found, err := s.engine.Get(TableRedirectOf, codec.EncodeLocalID32(local))
	if err != nil || !found {
		return nil
	}
	locals, err := codec.DecodeIntNumpy(data)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(locals))
	for _, l := range locals {
		if id, ok := s.dict.StringOf(l); ok {
			out = append(out, id)
		}
	}
	return out
}

// ResolveRedirect chases Redirect hops until reaching a non-redirect
// entity, guarding against redirect cycles (spec.md §12 "ResolveRedirect").
// Returns the original ID if idOrLocal is not a redirect.
func (s *Store) ResolveRedirect(idOrLocal interface{}) (string, bool) {
	local, ok := s.resolve(idOrLocal)
	if !ok {
		return "", false
	}
	id, ok := s.dict.StringOf(local)
	if !ok {
		return "", false
	}

	visited := map[string]struct{}{id: {}}
	current := id
	for {
		next, isRedirect := s.Redirect(current)
		if !isRedirect {
			return current, true
		}
		if _, cycle := visited[next]; cycle {
			return current, true
		}
		visited[next] = struct{}{}
		current = next
	}
}
