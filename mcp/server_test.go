package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Benny93/graphflow-go/internal/graph"
	"github.com/Benny93/graphflow-go/internal/ingestion"
	"github.com/Benny93/graphflow-go/internal/query"
)

const testDataset = `
vertices:
  - {id: 0, type: Person, properties: {name: ann, age: 31}}
  - {id: 1, type: Person, properties: {name: bob, age: 25}}
  - {id: 2, type: Person, properties: {name: cid, age: 40}}
  - {id: 3, type: Post}
edges:
  - {from: 0, to: 1, type: FOLLOWS}
  - {from: 1, to: 2, type: FOLLOWS}
  - {from: 2, to: 0, type: FOLLOWS}
  - {from: 0, to: 3, type: WROTE}
`

const triangleQuery = `
match:
  - {from: a, to: b, type: FOLLOWS}
  - {from: b, to: c, type: FOLLOWS}
  - {from: c, to: a, type: FOLLOWS}
`

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	ctx := context.Background()
	store := ingestion.NewMemoryStore()
	ds, err := ingestion.ParseDataset([]byte(testDataset))
	require.NoError(t, err)
	_, err = store.Apply(ctx, ingestion.DiffDatasets(nil, ds))
	require.NoError(t, err)
	_, err = store.Commit(ctx)
	require.NoError(t, err)

	opts.Logger = zaptest.NewLogger(t)
	return NewServer(store, opts)
}

func TestServer_Match(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	ctx := context.Background()

	res, err := s.Match(ctx, MatchInput{Query: triangleQuery})
	require.NoError(t, err)
	assert.Equal(t, "match", res.Mode)
	assert.Equal(t, int64(3), res.Count)
	assert.NotEmpty(t, res.QueryID)
	for _, m := range res.Matches {
		assert.Len(t, m.Vertices, 3)
	}

	res, err = s.Match(ctx, MatchInput{Query: triangleQuery, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)
	assert.True(t, res.Limited)

	res, err = s.Match(ctx, MatchInput{Query: `
match: [{from: a, to: b, type: FOLLOWS}]
where: [{left: {var: a, key: age}, op: ">", right: {value: 30}}]
`})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)
}

func TestServer_DefaultLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{DefaultLimit: 2})

	res, err := s.Match(context.Background(), MatchInput{Query: triangleQuery})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)

	// A limit in the query wins over the default.
	res, err = s.Match(context.Background(), MatchInput{Query: triangleQuery + "limit: 3\n"})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 3)
}

func TestServer_Count(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{Workers: 2})
	ctx := context.Background()

	res, err := s.Count(ctx, CountInput{Query: triangleQuery})
	require.NoError(t, err)
	assert.Equal(t, "count", res.Mode)
	assert.Equal(t, int64(3), res.Count)
	assert.Empty(t, res.Matches)

	res, err = s.Count(ctx, CountInput{Query: "match: [{from: a, to: b}]", Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Count)
}

func TestServer_QueryErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	ctx := context.Background()

	_, err := s.Match(ctx, MatchInput{Query: "  "})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	_, err = s.Match(ctx, MatchInput{Query: "match: ["})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	_, err = s.Count(ctx, CountInput{Query: "match: [{from: a, to: b}]\nversion: yesterday\n"})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	_, err = s.Match(ctx, MatchInput{Query: "match: [{from: a, to: b}]\nstart: {variable: a, vertex: 99}\n"})
	assert.ErrorIs(t, err, graph.ErrNotFound)

	// Unknown types compile and match nothing.
	res, err := s.Match(ctx, MatchInput{Query: "match: [{from: a, to: b, type: BLOCKS}]"})
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	st := s.Stats()
	assert.NotEmpty(t, st.RequestID)
	assert.Equal(t, 4, st.Vertices)
	assert.Equal(t, int64(4), st.PermanentEdges)
	assert.Zero(t, st.PendingAdds)
	assert.Equal(t, 2, st.VertexTypes)
	assert.Equal(t, 2, st.EdgeTypes)
	assert.Equal(t, 2, st.PropertyKeys)
	assert.Equal(t, 3, st.VertexProps)
}

func TestServer_CallTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	ctx := context.Background()

	out, err := s.CallTool(ctx, ToolCount, map[string]any{"query": triangleQuery, "workers": 2})
	require.NoError(t, err)
	var res query.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(3), res.Count)

	out, err = s.CallTool(ctx, ToolStats, nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"vertices":4`)

	_, err = s.CallTool(ctx, ToolMatch, map[string]any{"query": 7})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	_, err = s.CallTool(ctx, "graphflow_delete", nil)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestServer_ReadResource(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Options{})
	ctx := context.Background()

	overview, err := s.ReadResource(ctx, ResourceOverview)
	require.NoError(t, err)
	assert.Contains(t, overview, "Vertices:         4")
	assert.Contains(t, overview, "Permanent edges:  4")

	schema, err := s.ReadResource(ctx, ResourceSchema)
	require.NoError(t, err)
	assert.Contains(t, schema, "Person")
	assert.Contains(t, schema, "FOLLOWS")
	assert.Contains(t, schema, "age (int)")

	_, err = s.ReadResource(ctx, "graphflow://nothing")
	assert.Error(t, err)
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "graphflow-test", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestServer_Protocol(t *testing.T) {
	t.Parallel()
	cs := connect(t, newTestServer(t, Options{}))
	ctx := context.Background()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolMatch, ToolCount, ToolStats}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolCount,
		Arguments: map[string]any{"query": triangleQuery},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	var out query.Result
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	assert.Equal(t, int64(3), out.Count)

	// Query errors are tool errors, not protocol errors.
	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolMatch,
		Arguments: map[string]any{"query": "match: ["},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: ResourceSchema})
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	assert.Contains(t, read.Contents[0].Text, "WROTE")
}
