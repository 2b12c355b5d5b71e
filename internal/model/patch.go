package model

import "fmt"

// apply mutates the store's live tree in place for one Set call. It
// shares its path-walking logic with ApplyPatch (spec.md §4.5 "Patch
// construction") since both need to materialize intermediate maps and
// lists, sized from each segment's reported ListSize.
func apply(tree map[string]interface{}, kind ChangeKind, path Path, value interface{}) error {
	if len(path) == 0 {
		return fmt.Errorf("model: empty change path")
	}
	cur := tree
	for _, seg := range path[:len(path)-1] {
		cur = descend(cur, seg)
	}
	leaf := path[len(path)-1]
	if kind == GrowingCollection {
		return appendLeaf(cur, leaf, value)
	}
	setLeaf(cur, leaf, value)
	return nil
}

// ApplyPatch folds one Change into dst, a nested map a patch subscriber
// is accumulating (spec.md §4.5 "Patch construction"). The store emits
// raw Change records; this is the shared transform internal/ipc's
// Subscribe-mode processors call to turn them into the structural diff
// a Subscribe-mode client actually receives.
func ApplyPatch(dst map[string]interface{}, c Change) error {
	return apply(dst, c.Kind, c.Path, c.Value)
}

// descend returns the child map named by seg, materializing it (and,
// for an array segment, the list and its element map) if absent.
func descend(cur map[string]interface{}, seg PathSegment) map[string]interface{} {
	if !seg.IsArray {
		child, ok := cur[seg.Key].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			cur[seg.Key] = child
		}
		return child
	}

	list := ensureList(cur, seg.Key, listSize(seg))
	item, ok := list[seg.Index].(map[string]interface{})
	if !ok {
		item = map[string]interface{}{}
		list[seg.Index] = item
	}
	return item
}

// setLeaf assigns value at the final path segment. A nil value means
// "clear" (spec.md §4.5): the key is set to null, or the array slot is
// nulled, rather than removed.
func setLeaf(cur map[string]interface{}, seg PathSegment, value interface{}) {
	if !seg.IsArray {
		cur[seg.Key] = value
		return
	}
	list := ensureList(cur, seg.Key, listSize(seg))
	list[seg.Index] = value
	cur[seg.Key] = list
}

// appendLeaf appends a GrowingCollection's newly reported items to the
// list at seg, creating it if absent. A nil value clears the
// collection entirely rather than appending.
func appendLeaf(cur map[string]interface{}, seg PathSegment, value interface{}) error {
	if value == nil {
		cur[seg.Key] = nil
		return nil
	}
	items, ok := value.([]interface{})
	if !ok {
		return fmt.Errorf("model: growing-collection value must be []interface{}, got %T", value)
	}
	existing, _ := cur[seg.Key].([]interface{})
	cur[seg.Key] = append(existing, items...)
	return nil
}

// ensureList fetches (or creates) the list at key, resizing it to size
// by truncation or nil-append (spec.md §4.5 "shrinking lists by
// truncation, growing by appending nulls").
func ensureList(cur map[string]interface{}, key string, size int) []interface{} {
	list, _ := cur[key].([]interface{})
	switch {
	case size < 0:
		// Caller didn't report a size; grow lazily as indices demand it.
	case len(list) > size:
		list = list[:size]
	case len(list) < size:
		grown := make([]interface{}, size)
		copy(grown, list)
		list = grown
	}
	cur[key] = list
	return list
}

// listSize reports the authoritative size a segment carries, growing
// it to at least cover Index so a direct out-of-band Set still lands.
func listSize(seg PathSegment) int {
	if seg.ListSize > seg.Index {
		return seg.ListSize
	}
	return seg.Index + 1
}
