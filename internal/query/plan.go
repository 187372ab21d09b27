package query

import (
	"fmt"
	"strings"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// SeedKind selects how the first vertex position is populated.
type SeedKind uint8

const (
	// SeedFullScan starts from every vertex, in ascending id order.
	SeedFullScan SeedKind = iota

	// SeedVertex starts from a single vertex.
	SeedVertex
)

// Seed populates the first vertex position.
type Seed struct {
	Kind   SeedKind
	Vertex int32
}

// OutputMode selects whether matches are returned or only counted.
type OutputMode uint8

const (
	ModeMatch OutputMode = iota
	ModeCount
)

// String returns "match" or "count".
func (m OutputMode) String() string {
	if m == ModeCount {
		return "count"
	}
	return "match"
}

// ParseOutputMode converts a mode name to an OutputMode. The empty string
// maps to ModeMatch.
func ParseOutputMode(s string) (OutputMode, error) {
	switch s {
	case "", "match":
		return ModeMatch, nil
	case "count":
		return ModeCount, nil
	default:
		return 0, fmt.Errorf("%w: unknown output mode %q", graph.ErrInvalidArgument, s)
	}
}

// Plan is an ordered list of extension stages.
//
// Stage i extends prefixes of length i+1 to length i+2. Its rules are
// applied in order: the first yields candidates, each later one narrows
// them by intersection. Edge slots are numbered by flattening the stages,
// so the edge bound by rule j of stage i has slot sum(len(Stages[:i]))+j.
type Plan struct {
	Stages [][]Rule
	Seed   Seed

	// VertexTypes restricts each position to one vertex type. A nil slice
	// or an AnyType entry means no restriction.
	VertexTypes []int16

	// VertexIndex and EdgeIndex map query variable names to tuple
	// positions and edge slots.
	VertexIndex map[string]int
	EdgeIndex   map[string]int

	Predicates []PredicateSpec
	Mode       OutputMode

	// Limit caps the number of emitted matches; 0 means no limit.
	Limit int
}

// NumVertices returns the length of a complete match.
func (p *Plan) NumVertices() int {
	return len(p.Stages) + 1
}

// NumEdges returns the number of edge slots.
func (p *Plan) NumEdges() int {
	n := 0
	for _, stage := range p.Stages {
		n += len(stage)
	}
	return n
}

// EdgeSlot returns the slot of rule j in stage i.
func (p *Plan) EdgeSlot(stage, rule int) int {
	slot := rule
	for _, s := range p.Stages[:stage] {
		slot += len(s)
	}
	return slot
}

// VertexType returns the type restriction for position i.
func (p *Plan) VertexType(i int) int16 {
	if i < len(p.VertexTypes) {
		return p.VertexTypes[i]
	}
	return graph.AnyType
}

// Validate checks the structural invariants every executor relies on.
// Violations are reported as ErrInvariantViolation.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil plan", graph.ErrInvariantViolation)
	}
	for i, stage := range p.Stages {
		if len(stage) == 0 {
			return fmt.Errorf("%w: stage %d has no rules", graph.ErrInvariantViolation, i)
		}
		for j, r := range stage {
			if r.PrefixIndex < 0 || r.PrefixIndex > i {
				return fmt.Errorf("%w: stage %d rule %d reads prefix position %d of a length-%d prefix",
					graph.ErrInvariantViolation, i, j, r.PrefixIndex, i+1)
			}
			if r.Direction > graph.Backward {
				return fmt.Errorf("%w: stage %d rule %d has direction %d", graph.ErrInvariantViolation, i, j, r.Direction)
			}
			if r.Version > graph.VersionMerged {
				return fmt.Errorf("%w: stage %d rule %d has version %d", graph.ErrInvariantViolation, i, j, r.Version)
			}
		}
	}
	if len(p.VertexTypes) > p.NumVertices() {
		return fmt.Errorf("%w: %d vertex types for %d positions", graph.ErrInvariantViolation, len(p.VertexTypes), p.NumVertices())
	}
	for name, pos := range p.VertexIndex {
		if pos < 0 || pos >= p.NumVertices() {
			return fmt.Errorf("%w: variable %q at position %d", graph.ErrInvariantViolation, name, pos)
		}
	}
	for name, slot := range p.EdgeIndex {
		if slot < 0 || slot >= p.NumEdges() {
			return fmt.Errorf("%w: edge variable %q at slot %d", graph.ErrInvariantViolation, name, slot)
		}
	}
	if p.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", graph.ErrInvalidArgument, p.Limit)
	}
	return nil
}

// String renders the plan one stage per line.
func (p *Plan) String() string {
	var b strings.Builder
	if p.Seed.Kind == SeedVertex {
		fmt.Fprintf(&b, "seed: vertex %d\n", p.Seed.Vertex)
	} else {
		b.WriteString("seed: full scan\n")
	}
	for i, stage := range p.Stages {
		rules := make([]string, len(stage))
		for j, r := range stage {
			rules[j] = r.String()
		}
		fmt.Fprintf(&b, "stage %d: %s\n", i, strings.Join(rules, " ∩ "))
	}
	return b.String()
}
