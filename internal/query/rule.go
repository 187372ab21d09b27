// Package query implements subgraph pattern matching over a graph.Graph
// with the Generic Join algorithm.
//
// A Plan lists, for every vertex position after the first, the
// intersection rules that produce its candidates from the already bound
// prefix. The Executor runs a plan depth-first behind a pull-based Cursor.
// Compile builds plans from a QueryGraph or a StructuredQuery document.
package query

import (
	"fmt"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// Rule extends a partial match by one vertex. It reads the adjacency list
// of the prefix vertex at PrefixIndex in Direction and Version, restricted
// to EdgeType and to edges whose properties pass EdgeFilter.
type Rule struct {
	PrefixIndex int
	Direction   graph.Direction
	Version     graph.Version
	EdgeType    int16
	EdgeFilter  graph.PropertyFilter
}

// NewRule returns a rule over the permanent graph with no type filtering.
func NewRule(prefixIndex int, dir graph.Direction) Rule {
	return Rule{
		PrefixIndex: prefixIndex,
		Direction:   dir,
		Version:     graph.VersionPermanent,
		EdgeType:    graph.AnyType,
	}
}

// WithVersion returns a copy of r reading version v.
func (r Rule) WithVersion(v graph.Version) Rule {
	r.Version = v
	return r
}

// WithEdgeType returns a copy of r restricted to edgeType.
func (r Rule) WithEdgeType(edgeType int16) Rule {
	r.EdgeType = edgeType
	return r
}

// WithEdgeFilter returns a copy of r that only follows edges passing filter.
func (r Rule) WithEdgeFilter(filter graph.PropertyFilter) Rule {
	r.EdgeFilter = filter
	return r
}

func (r Rule) String() string {
	s := fmt.Sprintf("prefix[%d] %s %s", r.PrefixIndex, r.Direction, r.Version)
	if r.EdgeType != graph.AnyType {
		s += fmt.Sprintf(" type=%d", r.EdgeType)
	}
	if len(r.EdgeFilter) > 0 {
		s += fmt.Sprintf(" filter=%d", len(r.EdgeFilter))
	}
	return s
}
