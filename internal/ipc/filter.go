package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/rrf-io/sbcd/internal/model"
)

// RawFilter is the wire shape of one filter path segment (spec.md §3
// "Subscription": "each an ordered sequence of either a key string or
// an {array-name, index} node"), decoded from whichever JSON shape the
// client sent: a bare string, the literal "**", or {"Name":...,
// "Index":...}.
type RawFilter struct {
	Wildcard bool
	Key      string
	IsArray  bool
	Index    int
	Pinned   bool
}

func (f *RawFilter) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "**" {
			*f = RawFilter{Wildcard: true}
			return nil
		}
		*f = RawFilter{Key: s}
		return nil
	}

	var node struct {
		Name  string `json:"Name"`
		Index *int   `json:"Index"`
	}
	if err := json.Unmarshal(b, &node); err != nil {
		return fmt.Errorf("ipc: invalid filter segment: %w", err)
	}
	seg := RawFilter{Key: node.Name, IsArray: true}
	if node.Index != nil {
		seg.Index = *node.Index
		seg.Pinned = true
	}
	*f = seg
	return nil
}

// Filter is a parsed subscription filter path.
type Filter []RawFilter

// Matches reports whether change path p satisfies filter f (spec.md
// §4.6 "Filter matching"): `**` matches any suffix, a plain string
// matches exactly, an array-node segment matches if the change's
// corresponding node has the same array name (index ignored unless the
// filter pins it). An empty path (root replacement) matches every
// filter. An empty filter list matches everything (spec.md §4.6
// "whole object model ... or the union of filtered subtrees").
func Matches(f Filter, p model.Path) bool {
	if len(p) == 0 {
		return true
	}
	for i, seg := range f {
		if seg.Wildcard {
			return true
		}
		if i >= len(p) {
			return false
		}
		node := p[i]
		if seg.IsArray != node.IsArray || seg.Key != node.Key {
			return false
		}
		if seg.IsArray && seg.Pinned && seg.Index != node.Index {
			return false
		}
	}
	return true
}

// MatchesAny reports whether p matches at least one filter, or there
// are no filters at all.
func MatchesAny(filters []Filter, p model.Path) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if Matches(f, p) {
			return true
		}
	}
	return false
}
