package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/graphflow-go/internal/graph"
	"github.com/Benny93/graphflow-go/internal/storage"
)

const triangleDoc = `
match:
  - {from: a, to: b, type: FOLLOWS, var: e1}
  - {from: b, to: c, type: FOLLOWS}
  - {from: c, to: a, type: FOLLOWS}
vertexTypes: {a: Person}
version: merged
where:
  - {left: {var: a, key: age}, op: ">", right: {value: 30}}
  - {left: {value: 1.5}, op: "<=", right: {var: e1, key: weight}}
mode: count
limit: 10
`

func TestParseStructuredQuery(t *testing.T) {
	t.Parallel()

	q, err := ParseStructuredQuery([]byte(triangleDoc))
	require.NoError(t, err)
	require.Len(t, q.Match, 3)
	assert.Equal(t, MatchEdge{From: "a", To: "b", Type: "FOLLOWS", Var: "e1"}, q.Match[0])
	assert.Equal(t, map[string]string{"a": "Person"}, q.VertexTypes)
	assert.Equal(t, "merged", q.Version)
	assert.Equal(t, "count", q.Mode)
	assert.Equal(t, 10, q.Limit)
	require.Len(t, q.Where, 2)
	assert.Equal(t, ">", q.Where[0].Op)
	assert.Equal(t, 30, q.Where[0].Right.Value)

	// JSON is a subset of YAML.
	q, err = ParseStructuredQuery([]byte(`{"match": [{"from": "x", "to": "y"}], "start": {"variable": "x", "vertex": 3}}`))
	require.NoError(t, err)
	assert.Equal(t, &StartSpec{Variable: "x", Vertex: 3}, q.Start)

	_, err = ParseStructuredQuery([]byte("match: [unclosed"))
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestStructuredQuery_Compile(t *testing.T) {
	t.Parallel()
	types := newTypes(t)
	age, err := types.PropertyKey("age", graph.TypeInt)
	require.NoError(t, err)
	weight, err := types.PropertyKey("weight", graph.TypeFloat)
	require.NoError(t, err)

	q, err := ParseStructuredQuery([]byte(triangleDoc))
	require.NoError(t, err)
	plan, err := q.Compile(types)
	require.NoError(t, err)

	assert.Equal(t, ModeCount, plan.Mode)
	assert.Equal(t, 10, plan.Limit)
	assert.Equal(t, graph.VersionMerged, plan.Stages[0][0].Version)
	assert.Equal(t, []int16{0, graph.AnyType, graph.AnyType}, plan.VertexTypes)
	assert.Equal(t, map[string]int{"e1": 0}, plan.EdgeIndex)
	require.Len(t, plan.Predicates, 2)
	assert.Equal(t, VarOperand("a", age), plan.Predicates[0].Left)
	assert.Equal(t, graph.OpGreater, plan.Predicates[0].Op)
	assert.Equal(t, ConstOperand(graph.IntValue(30)), plan.Predicates[0].Right)
	assert.Equal(t, ConstOperand(graph.FloatValue(1.5)), plan.Predicates[1].Left)
	assert.Equal(t, VarOperand("e1", weight), plan.Predicates[1].Right)
}

func TestStructuredQuery_CompileErrors(t *testing.T) {
	t.Parallel()
	types := newTypes(t)
	_, err := types.PropertyKey("age", graph.TypeInt)
	require.NoError(t, err)

	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{name: "NoEdges", doc: `match: []`, wantErr: graph.ErrInvalidArgument},
		{name: "BadVersion", doc: `{match: [{from: a, to: b}], version: future}`, wantErr: graph.ErrInvalidArgument},
		{name: "BadMode", doc: `{match: [{from: a, to: b}], mode: explain}`, wantErr: graph.ErrInvalidArgument},
		{name: "BadOperator", doc: `{match: [{from: a, to: b}], where: [{left: {var: a, key: age}, op: "~", right: {value: 1}}]}`, wantErr: graph.ErrInvalidArgument},
		{name: "UnknownKey", doc: `{match: [{from: a, to: b}], where: [{left: {var: a, key: height}, op: "=", right: {value: 1}}]}`, wantErr: graph.ErrNotFound},
		{name: "MissingKey", doc: `{match: [{from: a, to: b}], where: [{left: {var: a}, op: "=", right: {value: 1}}]}`, wantErr: graph.ErrInvalidArgument},
		{name: "EmptyOperand", doc: `{match: [{from: a, to: b}], where: [{left: {var: a, key: age}, op: "=", right: {}}]}`, wantErr: graph.ErrInvalidArgument},
		{name: "UnknownVariable", doc: `{match: [{from: a, to: b}], where: [{left: {var: z, key: age}, op: "=", right: {value: 1}}]}`, wantErr: graph.ErrNotFound},
		{name: "Disconnected", doc: `{match: [{from: a, to: b}, {from: c, to: d}]}`, wantErr: graph.ErrInvalidArgument},
		{name: "BadPropertyValue", doc: `{match: [{from: a, to: b, properties: {w: [1, 2]}}]}`, wantErr: graph.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, err := ParseStructuredQuery([]byte(tt.doc))
			require.NoError(t, err)
			plan, err := q.Compile(types)
			if err == nil {
				// Unknown variables surface when the executor resolves predicates.
				_, err = NewFilterPredicateFactory(nil, nil).BuildAll(plan)
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	var q StructuredQuery
	_, err = q.Compile(nil)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestStructuredQuery_SingleVariable(t *testing.T) {
	t.Parallel()
	types := newTypes(t)

	q, err := ParseStructuredQuery([]byte(`vertexTypes: {p: Post}`))
	require.NoError(t, err)
	plan, err := q.Compile(types)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.NumVertices())

	g := graph.New()
	for v := int32(0); v < 5; v++ {
		require.NoError(t, g.AddVertex(v, int16(v%2)))
	}
	n, err := NewExecutor(g, nil, nil).Count(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStructuredQuery_EdgeProperties(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	types := newTypes(t)
	follows, _ := types.LookupEdgeType("FOLLOWS")
	since, err := types.PropertyKey("since", graph.TypeInt)
	require.NoError(t, err)

	g := graph.New()
	for v := int32(0); v < 3; v++ {
		require.NoError(t, g.AddVertex(v, 0))
	}
	ep := storage.NewMemoryBackend()
	for i, to := range []int32{1, 2} {
		id, err := g.AddEdge(0, to, follows)
		require.NoError(t, err)
		require.NoError(t, ep.Set(ctx, id, map[int16]graph.Value{since: graph.IntValue(int32(2020 + i))}))
	}
	g.Commit()

	// JSON numbers decode as floats and are converted to the key's type.
	q, err := ParseStructuredQuery([]byte(`{"match": [{"from": "a", "to": "b", "type": "FOLLOWS", "properties": {"since": 2021.0}}]}`))
	require.NoError(t, err)
	plan, err := q.Compile(types)
	require.NoError(t, err)

	tuples, err := NewExecutor(g, nil, ep).Execute(ctx, plan)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, []int32{0, 2}, tuples[0].Vertices)

	// An unknown property key matches nothing.
	q.Match[0].Properties = map[string]any{"until": 1}
	plan, err = q.Compile(types)
	require.NoError(t, err)
	n, err := NewExecutor(g, nil, ep).Count(ctx, plan)
	require.NoError(t, err)
	assert.Zero(t, n)
}
