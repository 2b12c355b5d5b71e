// Package model implements the read/write-locked object-model store
// (spec.md §4.5): a single opaque JSON-serializable tree, committed
// mutations that fire change-path notifications, and the shared
// ApplyPatch helper internal/ipc accumulates subscriber diffs with.
package model

// ChangeKind classifies a committed mutation (spec.md §4.5).
type ChangeKind int

const (
	Property ChangeKind = iota
	ObjectCollection
	GrowingCollection
)

func (k ChangeKind) String() string {
	switch k {
	case Property:
		return "Property"
	case ObjectCollection:
		return "ObjectCollection"
	default:
		return "GrowingCollection"
	}
}

// PathSegment is one step of a change path: either a plain object key
// or an array-collection reference (spec.md §3 "Subscription" filter
// paths use the same shape).
type PathSegment struct {
	Key string

	IsArray  bool
	Index    int
	ListSize int // authoritative size of the array at commit time
}

// Key builds a plain object-key segment.
func Key(name string) PathSegment { return PathSegment{Key: name} }

// Array builds an array-collection segment.
func Array(name string, index, listSize int) PathSegment {
	return PathSegment{Key: name, IsArray: true, Index: index, ListSize: listSize}
}

// Path is an ordered sequence of segments from the tree root.
type Path []PathSegment

// Change is one committed mutation (spec.md §4.5 "change-path
// notification"). For GrowingCollection, Value holds only the
// appended items, never a full rewrite; a nil Value means "clear".
type Change struct {
	Kind  ChangeKind
	Path  Path
	Value interface{}
}
