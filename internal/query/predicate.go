package query

import (
	"fmt"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// Operand is one side of a comparison: a property of a query variable, or
// a constant.
type Operand struct {
	// Variable names a vertex or edge variable of the plan.
	Variable string

	// Key is the interned property key read from Variable.
	Key int16

	// Constant, when set, makes the operand a literal.
	Constant *graph.Value
}

// VarOperand returns an operand reading property key of variable.
func VarOperand(variable string, key int16) Operand {
	return Operand{Variable: variable, Key: key}
}

// ConstOperand returns a literal operand.
func ConstOperand(v graph.Value) Operand {
	return Operand{Constant: &v}
}

// IsConstant reports whether o is a literal.
func (o Operand) IsConstant() bool { return o.Constant != nil }

// PredicateSpec is an unresolved comparison "Left Op Right".
type PredicateSpec struct {
	Left  Operand
	Op    graph.ComparisonOperator
	Right Operand
}

// Shape classifies a predicate by what its operands read.
type Shape uint8

const (
	ShapeTwoVertex Shape = iota + 1
	ShapeTwoEdge
	ShapeVertexAndEdge
	ShapeVertexAndConstant
	ShapeEdgeAndConstant
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeTwoVertex:
		return "two_vertex"
	case ShapeTwoEdge:
		return "two_edge"
	case ShapeVertexAndEdge:
		return "vertex_and_edge"
	case ShapeVertexAndConstant:
		return "vertex_and_constant"
	case ShapeEdgeAndConstant:
		return "edge_and_constant"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

// operandRef is a resolved operand: a tuple position or edge slot plus a
// property key.
type operandRef struct {
	edge bool
	pos  int
	key  int16
}

// Predicate is a resolved comparison evaluated against a partial match.
// It only reads the two property stores, so one Predicate may be shared
// by concurrent cursors.
type Predicate struct {
	shape    Shape
	op       graph.ComparisonOperator
	left     operandRef
	right    operandRef
	constant graph.Value

	// ReadyAt is the shortest prefix length that binds every operand.
	ReadyAt int

	vertexProps graph.PropertyStore
	edgeProps   graph.PropertyStore
}

// Shape returns the predicate shape.
func (p *Predicate) Shape() Shape { return p.shape }

// FilterPredicateFactory resolves PredicateSpecs against a plan.
type FilterPredicateFactory struct {
	vertexProps graph.PropertyStore
	edgeProps   graph.PropertyStore
}

// NewFilterPredicateFactory creates a factory whose predicates read the
// given property stores.
func NewFilterPredicateFactory(vertexProps, edgeProps graph.PropertyStore) *FilterPredicateFactory {
	return &FilterPredicateFactory{vertexProps: vertexProps, edgeProps: edgeProps}
}

// Build resolves spec against the variables of plan.
//
// The variable operand is always put on the left: an edge compared with a
// vertex, or a constant compared with a variable, is swapped and its
// operator mirrored. Unknown variables fail with ErrNotFound.
func (f *FilterPredicateFactory) Build(spec PredicateSpec, plan *Plan) (*Predicate, error) {
	if spec.Op < graph.OpEqual || spec.Op > graph.OpGreaterOrEqual {
		return nil, fmt.Errorf("%w: unknown comparison operator %d", graph.ErrInvalidArgument, spec.Op)
	}
	left, right, op := spec.Left, spec.Right, spec.Op
	if left.IsConstant() && right.IsConstant() {
		return nil, fmt.Errorf("%w: predicate compares two constants", graph.ErrInvalidArgument)
	}
	if left.IsConstant() {
		left, right, op = right, left, mirror(op)
	}

	p := &Predicate{op: op, vertexProps: f.vertexProps, edgeProps: f.edgeProps}
	l, err := resolveOperand(left, plan)
	if err != nil {
		return nil, err
	}

	if right.IsConstant() {
		if !right.Constant.IsValid() {
			return nil, fmt.Errorf("%w: empty constant operand", graph.ErrInvalidArgument)
		}
		p.left = l
		p.constant = *right.Constant
		p.shape = ShapeVertexAndConstant
		if l.edge {
			p.shape = ShapeEdgeAndConstant
		}
		p.ReadyAt = readyAt(plan, l)
		return p, nil
	}

	r, err := resolveOperand(right, plan)
	if err != nil {
		return nil, err
	}
	switch {
	case !l.edge && !r.edge:
		p.shape = ShapeTwoVertex
	case l.edge && r.edge:
		p.shape = ShapeTwoEdge
	case l.edge:
		l, r, p.op = r, l, mirror(p.op)
		p.shape = ShapeVertexAndEdge
	default:
		p.shape = ShapeVertexAndEdge
	}
	p.left, p.right = l, r
	p.ReadyAt = max(readyAt(plan, l), readyAt(plan, r))
	return p, nil
}

// BuildAll resolves every predicate of plan.
func (f *FilterPredicateFactory) BuildAll(plan *Plan) ([]*Predicate, error) {
	preds := make([]*Predicate, 0, len(plan.Predicates))
	for i, spec := range plan.Predicates {
		p, err := f.Build(spec, plan)
		if err != nil {
			return nil, fmt.Errorf("predicate %d: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func resolveOperand(o Operand, plan *Plan) (operandRef, error) {
	if pos, ok := plan.VertexIndex[o.Variable]; ok {
		return operandRef{pos: pos, key: o.Key}, nil
	}
	if slot, ok := plan.EdgeIndex[o.Variable]; ok {
		return operandRef{edge: true, pos: slot, key: o.Key}, nil
	}
	return operandRef{}, fmt.Errorf("variable %q: %w", o.Variable, graph.ErrNotFound)
}

// readyAt returns the prefix length at which ref is bound.
func readyAt(plan *Plan, ref operandRef) int {
	if !ref.edge {
		return ref.pos + 1
	}
	slot := ref.pos
	for stage, rules := range plan.Stages {
		if slot < len(rules) {
			return stage + 2
		}
		slot -= len(rules)
	}
	return plan.NumVertices()
}

// mirror returns the operator that gives the same result with operands swapped.
func mirror(op graph.ComparisonOperator) graph.ComparisonOperator {
	switch op {
	case graph.OpLess:
		return graph.OpGreater
	case graph.OpLessOrEqual:
		return graph.OpGreaterOrEqual
	case graph.OpGreater:
		return graph.OpLess
	case graph.OpGreaterOrEqual:
		return graph.OpLessOrEqual
	default:
		return op
	}
}

// Eval evaluates the predicate against t, whose first ReadyAt positions
// must be bound. A missing property makes the predicate false.
// Incomparable values fail with ErrTypeMismatch.
func (p *Predicate) Eval(t *Tuple) (bool, error) {
	a, ok := p.value(t, p.left)
	if !ok {
		return false, nil
	}
	b := p.constant
	if p.shape != ShapeVertexAndConstant && p.shape != ShapeEdgeAndConstant {
		if b, ok = p.value(t, p.right); !ok {
			return false, nil
		}
	}
	return graph.Compare(a, b, p.op)
}

func (p *Predicate) value(t *Tuple, ref operandRef) (graph.Value, bool) {
	if ref.edge {
		if p.edgeProps == nil || ref.pos >= len(t.Edges) {
			return graph.Value{}, false
		}
		return p.edgeProps.Get(t.Edges[ref.pos], ref.key)
	}
	if p.vertexProps == nil || ref.pos >= len(t.Vertices) {
		return graph.Value{}, false
	}
	return p.vertexProps.Get(int64(t.Vertices[ref.pos]), ref.key)
}
