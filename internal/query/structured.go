package query

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// StructuredQuery is a pattern match request as a YAML or JSON document:
//
//	match:
//	  - {from: a, to: b, type: FOLLOWS, var: e1}
//	  - {from: b, to: c, type: FOLLOWS}
//	vertexTypes: {a: Person}
//	start: {variable: a, vertex: 0}
//	version: permanent
//	where:
//	  - {left: {var: a, key: age}, op: ">", right: {value: 30}}
//	mode: count
//	limit: 100
type StructuredQuery struct {
	Match       []MatchEdge       `yaml:"match" json:"match"`
	VertexTypes map[string]string `yaml:"vertexTypes,omitempty" json:"vertexTypes,omitempty"`
	Order       []string          `yaml:"order,omitempty" json:"order,omitempty"`
	Start       *StartSpec        `yaml:"start,omitempty" json:"start,omitempty"`
	Version     string            `yaml:"version,omitempty" json:"version,omitempty"`
	Where       []WhereSpec       `yaml:"where,omitempty" json:"where,omitempty"`
	Mode        string            `yaml:"mode,omitempty" json:"mode,omitempty"`
	Limit       int               `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// MatchEdge is one edge of a structured query.
type MatchEdge struct {
	From       string         `yaml:"from" json:"from"`
	To         string         `yaml:"to" json:"to"`
	Type       string         `yaml:"type,omitempty" json:"type,omitempty"`
	Var        string         `yaml:"var,omitempty" json:"var,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// StartSpec pins a variable to a vertex id.
type StartSpec struct {
	Variable string `yaml:"variable" json:"variable"`
	Vertex   int32  `yaml:"vertex" json:"vertex"`
}

// WhereSpec is one comparison of a structured query.
type WhereSpec struct {
	Left  OperandSpec `yaml:"left" json:"left"`
	Op    string      `yaml:"op" json:"op"`
	Right OperandSpec `yaml:"right" json:"right"`
}

// OperandSpec is either {var, key} or {value}.
type OperandSpec struct {
	Var   string `yaml:"var,omitempty" json:"var,omitempty"`
	Key   string `yaml:"key,omitempty" json:"key,omitempty"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// ParseStructuredQuery decodes a YAML or JSON query document.
func ParseStructuredQuery(data []byte) (*StructuredQuery, error) {
	var q StructuredQuery
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("%w: parsing query: %v", graph.ErrInvalidArgument, err)
	}
	return &q, nil
}

// Compile resolves names against types and builds a plan.
func (q *StructuredQuery) Compile(types *graph.TypeStore) (*Plan, error) {
	if types == nil {
		return nil, fmt.Errorf("%w: nil type store", graph.ErrInvalidArgument)
	}
	if len(q.Match) == 0 && len(q.VertexTypes) != 1 {
		return nil, fmt.Errorf("%w: query has no match edges", graph.ErrInvalidArgument)
	}

	qg := NewQueryGraph()
	for i, m := range q.Match {
		filter, err := propertyFilter(types, m.Properties)
		if err != nil {
			return nil, fmt.Errorf("match edge %d: %w", i, err)
		}
		if err := qg.AddEdge(QueryEdge{From: m.From, To: m.To, Type: m.Type, Variable: m.Var, Filter: filter}); err != nil {
			return nil, fmt.Errorf("match edge %d: %w", i, err)
		}
	}
	if len(q.Match) == 0 {
		for v := range q.VertexTypes {
			if err := qg.AddVariable(v); err != nil {
				return nil, err
			}
		}
	}

	version, err := graph.ParseVersion(q.Version)
	if err != nil {
		return nil, err
	}
	mode, err := ParseOutputMode(q.Mode)
	if err != nil {
		return nil, err
	}
	opts := CompileOptions{
		Order:       q.Order,
		VertexTypes: q.VertexTypes,
		Version:     version,
		Mode:        mode,
		Limit:       q.Limit,
	}
	if q.Start != nil {
		opts.Start = &StartVertex{Variable: q.Start.Variable, Vertex: q.Start.Vertex}
	}
	for i, w := range q.Where {
		spec, err := w.resolve(types)
		if err != nil {
			return nil, fmt.Errorf("where %d: %w", i, err)
		}
		opts.Predicates = append(opts.Predicates, spec)
	}
	return Compile(qg, types, opts)
}

func (w WhereSpec) resolve(types *graph.TypeStore) (PredicateSpec, error) {
	op, err := graph.ParseOperator(strings.TrimSpace(w.Op))
	if err != nil {
		return PredicateSpec{}, err
	}
	left, err := w.Left.resolve(types)
	if err != nil {
		return PredicateSpec{}, err
	}
	right, err := w.Right.resolve(types)
	if err != nil {
		return PredicateSpec{}, err
	}
	return PredicateSpec{Left: left, Op: op, Right: right}, nil
}

func (o OperandSpec) resolve(types *graph.TypeStore) (Operand, error) {
	if o.Var == "" {
		if o.Value == nil {
			return Operand{}, fmt.Errorf("%w: operand needs var or value", graph.ErrInvalidArgument)
		}
		v, err := graph.CoerceValue(o.Value)
		if err != nil {
			return Operand{}, err
		}
		return ConstOperand(v), nil
	}
	if o.Key == "" {
		return Operand{}, fmt.Errorf("%w: operand %q has no property key", graph.ErrInvalidArgument, o.Var)
	}
	key, _, ok := types.LookupPropertyKey(o.Key)
	if !ok {
		return Operand{}, fmt.Errorf("property key %q: %w", o.Key, graph.ErrNotFound)
	}
	return VarOperand(o.Var, key), nil
}

// propertyFilter resolves an equality filter. Unknown keys resolve to
// graph.UnknownID, which no edge carries. Numbers are converted to the
// key's type, since JSON decodes every number as a float.
func propertyFilter(types *graph.TypeStore, props map[string]any) (graph.PropertyFilter, error) {
	if len(props) == 0 {
		return nil, nil
	}
	filter := make(graph.PropertyFilter, len(props))
	for name, raw := range props {
		v, err := graph.CoerceValue(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		key := graph.UnknownID
		if id, dt, ok := types.LookupPropertyKey(name); ok {
			key, v = id, graph.ConvertNumber(v, dt)
		}
		filter[key] = v
	}
	return filter, nil
}
