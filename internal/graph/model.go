// Package graph provides the storage core of the Graphflow engine.
//
// It defines the typed, directed property graph that match queries run
// against: interned vertex/edge types and property keys, typed property
// values, per-vertex sorted adjacency lists, and the two-generation
// (permanent + diff) Graph that owns them.
package graph

import (
	"context"
	"fmt"
	"math"
)

const (
	// AnyType is the edge/vertex type sentinel meaning "no type filtering".
	AnyType int16 = -1

	// UnknownID is never assigned by a TypeStore. Queries that name an
	// unknown type or property key use it so they match nothing.
	UnknownID int16 = math.MaxInt16
)

// Direction selects outgoing (Forward) or incoming (Backward) adjacency.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// String returns "forward" or "backward".
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// Version selects which generation of adjacency lists a lookup reads.
type Version uint8

const (
	// VersionPermanent is the committed, stable graph.
	VersionPermanent Version = iota

	// VersionDiff holds edges added since the last commit.
	VersionDiff

	// VersionDiffMinus holds permanent edges deleted since the last commit.
	VersionDiffMinus

	// VersionMerged is the view a commit would produce:
	// permanent minus pending deletions plus pending additions.
	VersionMerged
)

// storedVersions is the number of versions backed by their own lists.
// VersionMerged is computed on demand.
const storedVersions = 3

// String returns the lower-case version name.
func (v Version) String() string {
	switch v {
	case VersionPermanent:
		return "permanent"
	case VersionDiff:
		return "diff"
	case VersionDiffMinus:
		return "diff_minus"
	case VersionMerged:
		return "merged"
	default:
		return fmt.Sprintf("version(%d)", uint8(v))
	}
}

// ParseVersion converts a version name to a Version. The empty string maps
// to VersionPermanent.
func ParseVersion(s string) (Version, error) {
	switch s {
	case "", "permanent":
		return VersionPermanent, nil
	case "diff":
		return VersionDiff, nil
	case "diff_minus":
		return VersionDiffMinus, nil
	case "merged", "any":
		return VersionMerged, nil
	default:
		return 0, fmt.Errorf("%w: unknown graph version %q", ErrInvalidArgument, s)
	}
}

// PropertyStore maps an entity id to its typed properties. Vertex and edge
// properties use separate stores that share this contract.
//
// Implementations must be safe for concurrent use.
type PropertyStore interface {
	// Set replaces all properties of the entity.
	Set(ctx context.Context, id int64, props map[int16]Value) error

	// Get returns one property value.
	Get(id int64, key int16) (Value, bool)

	// Properties returns a copy of all properties of the entity, or nil.
	Properties(id int64) map[int16]Value

	// Delete drops the entity's properties. Deleting a missing entity is a no-op.
	Delete(ctx context.Context, id int64) error

	// Len returns the number of entities with properties.
	Len() int

	// Close releases resources held by the store.
	Close() error
}

// PropertyFilter requires each listed property key to equal the given value.
// A nil or empty filter matches everything.
type PropertyFilter map[int16]Value

// Matches reports whether the entity's properties in store satisfy the filter.
// A non-empty filter never matches when store is nil.
func (f PropertyFilter) Matches(store PropertyStore, id int64) bool {
	if len(f) == 0 {
		return true
	}
	if store == nil {
		return false
	}
	for key, want := range f {
		got, ok := store.Get(id, key)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}
