package query

import (
	"fmt"
	"sort"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// QueryEdge is one directed edge of a query pattern.
type QueryEdge struct {
	From string
	To   string

	// Type is an edge type name; empty matches any type.
	Type string

	// Variable optionally names the edge so predicates can reference it.
	Variable string

	// Filter requires edge properties to equal the given values.
	Filter graph.PropertyFilter
}

// queryRelation is a QueryEdge seen from one of its endpoints.
type queryRelation struct {
	edge QueryEdge
	dir  graph.Direction
}

// QueryGraph is a query pattern: variables connected by directed, typed
// edges. Every edge is stored under both endpoints, forward from its
// source and backward from its target.
type QueryGraph struct {
	vars      []string
	relations map[string]map[string][]queryRelation
	edgeVars  map[string]bool
	numEdges  int
}

// NewQueryGraph creates an empty pattern.
func NewQueryGraph() *QueryGraph {
	return &QueryGraph{
		relations: make(map[string]map[string][]queryRelation),
		edgeVars:  make(map[string]bool),
	}
}

// AddVariable registers a vertex variable without edges.
func (q *QueryGraph) AddVariable(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty variable name", graph.ErrInvalidArgument)
	}
	if q.edgeVars[name] {
		return fmt.Errorf("%w: %q is already an edge variable", graph.ErrInvalidArgument, name)
	}
	if _, ok := q.relations[name]; !ok {
		q.relations[name] = make(map[string][]queryRelation)
		q.vars = append(q.vars, name)
	}
	return nil
}

// AddEdge adds a directed edge between two variables.
func (q *QueryGraph) AddEdge(e QueryEdge) error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("%w: edge needs both endpoints", graph.ErrInvalidArgument)
	}
	if e.Variable != "" {
		if q.edgeVars[e.Variable] {
			return fmt.Errorf("%w: duplicate edge variable %q", graph.ErrInvalidArgument, e.Variable)
		}
		if _, ok := q.relations[e.Variable]; ok {
			return fmt.Errorf("%w: %q is already a vertex variable", graph.ErrInvalidArgument, e.Variable)
		}
	}
	for _, v := range []string{e.From, e.To} {
		if err := q.AddVariable(v); err != nil {
			return err
		}
	}
	if e.Variable != "" {
		q.edgeVars[e.Variable] = true
	}
	q.relations[e.From][e.To] = append(q.relations[e.From][e.To], queryRelation{edge: e, dir: graph.Forward})
	if e.From != e.To {
		q.relations[e.To][e.From] = append(q.relations[e.To][e.From], queryRelation{edge: e, dir: graph.Backward})
	}
	q.numEdges++
	return nil
}

// Variables returns the vertex variables in insertion order.
func (q *QueryGraph) Variables() []string {
	return append([]string(nil), q.vars...)
}

// Neighbours returns the variables connected to v, sorted by name.
func (q *QueryGraph) Neighbours(v string) []string {
	out := make([]string, 0, len(q.relations[v]))
	for u := range q.relations[v] {
		if u != v {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Edges returns the query edges between u and v in either direction, as
// seen from u.
func (q *QueryGraph) Edges(u, v string) []QueryEdge {
	rels := q.relations[u][v]
	out := make([]QueryEdge, len(rels))
	for i, r := range rels {
		out[i] = r.edge
	}
	return out
}

// NumEdges returns the number of query edges.
func (q *QueryGraph) NumEdges() int { return q.numEdges }

// degree returns the number of query edges incident to v.
func (q *QueryGraph) degree(v string) int {
	n := 0
	for _, rels := range q.relations[v] {
		n += len(rels)
	}
	return n
}

// StartVertex pins a variable to one data vertex.
type StartVertex struct {
	Variable string
	Vertex   int32
}

// CompileOptions tune the plan produced by Compile.
type CompileOptions struct {
	// Order fixes the variable order. Empty selects a greedy order.
	Order []string

	// VertexTypes restricts variables to vertex type names.
	VertexTypes map[string]string

	// Start seeds the plan from a single vertex; its variable goes first.
	Start *StartVertex

	// Version is the graph version every rule reads.
	Version graph.Version

	Predicates []PredicateSpec
	Mode       OutputMode
	Limit      int
}

// Compile turns a query pattern into a Generic Join plan.
//
// Without an explicit order the variable of highest degree goes first,
// then repeatedly the variable with most edges into the ordered set,
// breaking ties by name. Every later variable gets one rule per query
// edge connecting it to an earlier variable. Type names unknown to types
// compile to graph.UnknownID, so they match nothing.
func Compile(q *QueryGraph, types *graph.TypeStore, opts CompileOptions) (*Plan, error) {
	if q == nil || len(q.vars) == 0 {
		return nil, fmt.Errorf("%w: empty query", graph.ErrInvalidArgument)
	}
	for _, v := range q.vars {
		if len(q.relations[v][v]) > 0 {
			return nil, fmt.Errorf("%w: self loop on %q: query edges must join two distinct variables", graph.ErrInvalidArgument, v)
		}
	}

	order, err := q.order(opts)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Stages:      make([][]Rule, 0, len(order)-1),
		VertexIndex: make(map[string]int, len(order)),
		EdgeIndex:   make(map[string]int),
		Predicates:  opts.Predicates,
		Mode:        opts.Mode,
		Limit:       opts.Limit,
	}
	for i, v := range order {
		plan.VertexIndex[v] = i
	}

	slot := 0
	for i, v := range order[1:] {
		var stage []Rule
		// Rules follow the order of earlier variables so plans are deterministic.
		for _, u := range order[:i+1] {
			for _, rel := range q.relations[u][v] {
				r := NewRule(plan.VertexIndex[u], rel.dir).
					WithVersion(opts.Version).
					WithEdgeType(lookupEdgeType(types, rel.edge.Type)).
					WithEdgeFilter(rel.edge.Filter)
				stage = append(stage, r)
				if rel.edge.Variable != "" {
					plan.EdgeIndex[rel.edge.Variable] = slot
				}
				slot++
			}
		}
		if len(stage) == 0 {
			return nil, fmt.Errorf("%w: variable %q is not connected to %v", graph.ErrInvalidArgument, v, order[:i+1])
		}
		plan.Stages = append(plan.Stages, stage)
	}

	if len(opts.VertexTypes) > 0 {
		plan.VertexTypes = make([]int16, len(order))
		for i, v := range order {
			plan.VertexTypes[i] = graph.AnyType
			name, ok := opts.VertexTypes[v]
			if !ok || name == "" {
				continue
			}
			plan.VertexTypes[i] = lookupVertexType(types, name)
		}
		for v := range opts.VertexTypes {
			if _, ok := plan.VertexIndex[v]; !ok {
				return nil, fmt.Errorf("vertex type for variable %q: %w", v, graph.ErrNotFound)
			}
		}
	}

	if opts.Start != nil {
		plan.Seed = Seed{Kind: SeedVertex, Vertex: opts.Start.Vertex}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// order returns the variable order for opts.
func (q *QueryGraph) order(opts CompileOptions) ([]string, error) {
	if opts.Start != nil {
		if _, ok := q.relations[opts.Start.Variable]; !ok {
			return nil, fmt.Errorf("start variable %q: %w", opts.Start.Variable, graph.ErrNotFound)
		}
	}

	if len(opts.Order) > 0 {
		if len(opts.Order) != len(q.vars) {
			return nil, fmt.Errorf("%w: order names %d of %d variables", graph.ErrInvalidArgument, len(opts.Order), len(q.vars))
		}
		seen := make(map[string]bool, len(opts.Order))
		for _, v := range opts.Order {
			if _, ok := q.relations[v]; !ok || seen[v] {
				return nil, fmt.Errorf("%w: order entry %q", graph.ErrInvalidArgument, v)
			}
			seen[v] = true
		}
		if opts.Start != nil && opts.Order[0] != opts.Start.Variable {
			return nil, fmt.Errorf("%w: start variable %q must come first in the order", graph.ErrInvalidArgument, opts.Start.Variable)
		}
		return append([]string(nil), opts.Order...), nil
	}

	remaining := make(map[string]bool, len(q.vars))
	for _, v := range q.vars {
		remaining[v] = true
	}

	var first string
	if opts.Start != nil {
		first = opts.Start.Variable
	} else {
		for _, v := range q.vars {
			if first == "" || q.degree(v) > q.degree(first) || (q.degree(v) == q.degree(first) && v < first) {
				first = v
			}
		}
	}
	order := []string{first}
	delete(remaining, first)

	for len(remaining) > 0 {
		best, bestLinks := "", 0
		for v := range remaining {
			links := 0
			for _, u := range order {
				links += len(q.relations[u][v])
			}
			if links > bestLinks || (links == bestLinks && links > 0 && v < best) {
				best, bestLinks = v, links
			}
		}
		if bestLinks == 0 {
			return nil, fmt.Errorf("%w: query pattern is disconnected", graph.ErrInvalidArgument)
		}
		order = append(order, best)
		delete(remaining, best)
	}
	return order, nil
}

func lookupEdgeType(types *graph.TypeStore, name string) int16 {
	if name == "" {
		return graph.AnyType
	}
	if types == nil {
		return graph.UnknownID
	}
	if id, ok := types.LookupEdgeType(name); ok {
		return id
	}
	return graph.UnknownID
}

func lookupVertexType(types *graph.TypeStore, name string) int16 {
	if types == nil {
		return graph.UnknownID
	}
	if id, ok := types.LookupVertexType(name); ok {
		return id
	}
	return graph.UnknownID
}
