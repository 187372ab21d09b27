// Package mcp provides the MCP (Model Context Protocol) server for graphflow.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/graphflow-go/internal/graph"
	"github.com/Benny93/graphflow-go/internal/ingestion"
	"github.com/Benny93/graphflow-go/internal/query"
)

// Tool names.
const (
	ToolMatch = "graphflow_match"
	ToolCount = "graphflow_count"
	ToolStats = "graphflow_stats"
)

// Resource URIs.
const (
	ResourceOverview = "graphflow://overview"
	ResourceSchema   = "graphflow://schema"
)

// Server answers subgraph queries against one store.
type Server struct {
	store  *ingestion.Store
	exec   *query.Executor
	opts   Options
	logger *zap.Logger
	server *mcp.Server
}

// Options configure a Server.
type Options struct {
	// Workers bounds parallel counting. Zero means GOMAXPROCS.
	Workers int

	// DefaultLimit caps matches when a query sets no limit. Zero means
	// unlimited.
	DefaultLimit int

	// Version is read when a query names none.
	Version graph.Version

	Logger *zap.Logger
}

// MatchInput is the argument of graphflow_match.
type MatchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// CountInput is the argument of graphflow_count.
type CountInput struct {
	Query   string `json:"query"`
	Workers int    `json:"workers,omitempty"`
}

// StatsInput is the empty argument of graphflow_stats.
type StatsInput struct{}

// StatsOutput describes the loaded graph.
type StatsOutput struct {
	RequestID      string `json:"request_id"`
	Vertices       int    `json:"vertices"`
	PermanentEdges int64  `json:"permanent_edges"`
	PendingAdds    int64  `json:"pending_adds"`
	PendingDeletes int64  `json:"pending_deletes"`
	VertexTypes    int    `json:"vertex_types"`
	EdgeTypes      int    `json:"edge_types"`
	PropertyKeys   int    `json:"property_keys"`
	VertexProps    int    `json:"vertex_properties"`
	EdgeProps      int    `json:"edge_properties"`
}

const queryDescription = "Structured query as YAML or JSON: " +
	"{match: [{from, to, type, var, properties}], vertexTypes: {var: type}, " +
	"start: {variable, vertex}, where: [{left: {var, key}, op, right: {value}}], version, limit}"

// NewServer creates a new MCP server over store.
func NewServer(store *ingestion.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	s := &Server{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		exec: query.NewExecutor(store.Graph, store.VertexProps, store.EdgeProps,
			query.WithLogger(opts.Logger)),
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "graphflow-go",
		Version: "0.1.0",
	}, nil)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.server }

// Run serves MCP over t until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("mcp server starting")
	return s.server.Run(ctx, t)
}

// RunStdio serves MCP over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolMatch,
		Description: "Find every embedding of a query pattern in the graph. Returns variable bindings per match.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: queryDescription},
				"limit": {Type: "integer", Description: "Maximum number of matches"},
			},
			Required: []string{"query"},
		},
	}, s.handleMatch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolCount,
		Description: "Count the embeddings of a query pattern without returning them.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query":   {Type: "string", Description: queryDescription},
				"workers": {Type: "integer", Description: "Parallel workers for the count"},
			},
			Required: []string{"query"},
		},
	}, s.handleCount)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolStats,
		Description: "Report vertex, edge, type and property counts of the loaded graph.",
	}, s.handleStats)
}

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         ResourceOverview,
		Name:        "Graph Overview",
		Description: "Vertex, edge and property counts of the loaded graph",
		MIMEType:    "text/plain",
	}, s.readResource)
	s.server.AddResource(&mcp.Resource{
		URI:         ResourceSchema,
		Name:        "Graph Schema",
		Description: "Registered vertex types, edge types and property keys",
		MIMEType:    "text/plain",
	}, s.readResource)
}

func (s *Server) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	text, err := s.ReadResource(ctx, req.Params.URI)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}, nil
}

func (s *Server) handleMatch(ctx context.Context, _ *mcp.CallToolRequest, in MatchInput) (*mcp.CallToolResult, query.Result, error) {
	res, err := s.Match(ctx, in)
	if err != nil {
		return nil, query.Result{}, err
	}
	return nil, *res, nil
}

func (s *Server) handleCount(ctx context.Context, _ *mcp.CallToolRequest, in CountInput) (*mcp.CallToolResult, query.Result, error) {
	res, err := s.Count(ctx, in)
	if err != nil {
		return nil, query.Result{}, err
	}
	return nil, *res, nil
}

func (s *Server) handleStats(_ context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	return nil, s.Stats(), nil
}

// Match runs a structured query in match mode.
func (s *Server) Match(ctx context.Context, in MatchInput) (*query.Result, error) {
	q, err := s.parse(in.Query)
	if err != nil {
		return nil, err
	}
	q.Mode = query.ModeMatch.String()
	switch {
	case in.Limit > 0:
		q.Limit = in.Limit
	case q.Limit == 0:
		q.Limit = s.opts.DefaultLimit
	}
	return s.run(ctx, q, 1)
}

// Count runs a structured query in count mode.
func (s *Server) Count(ctx context.Context, in CountInput) (*query.Result, error) {
	q, err := s.parse(in.Query)
	if err != nil {
		return nil, err
	}
	q.Mode = query.ModeCount.String()
	workers := in.Workers
	if workers <= 0 {
		workers = s.opts.Workers
	}
	return s.run(ctx, q, workers)
}

func (s *Server) parse(text string) (*query.StructuredQuery, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", graph.ErrInvalidArgument)
	}
	q, err := query.ParseStructuredQuery([]byte(text))
	if err != nil {
		return nil, err
	}
	if q.Version == "" {
		q.Version = s.opts.Version.String()
	}
	return q, nil
}

func (s *Server) run(ctx context.Context, q *query.StructuredQuery, workers int) (*query.Result, error) {
	plan, err := q.Compile(s.store.Types)
	if err != nil {
		return nil, fmt.Errorf("compiling query: %w", err)
	}
	res, err := s.exec.Run(ctx, plan, workers)
	if err != nil {
		s.logger.Warn("query failed", zap.String("mode", q.Mode), zap.Error(err))
		return nil, err
	}
	s.logger.Info("query served",
		zap.String("query_id", res.QueryID),
		zap.String("mode", res.Mode),
		zap.Int64("count", res.Count),
		zap.Float64("duration_secs", res.DurationSecs))
	return res, nil
}

// Stats returns the current store counts.
func (s *Server) Stats() StatsOutput {
	st := s.store.Stats()
	return StatsOutput{
		RequestID:      uuid.NewString(),
		Vertices:       st.Graph.Vertices,
		PermanentEdges: st.Graph.PermanentEdges,
		PendingAdds:    st.Graph.DiffEdges,
		PendingDeletes: st.Graph.DiffMinusEdges,
		VertexTypes:    st.VertexTypes,
		EdgeTypes:      st.EdgeTypes,
		PropertyKeys:   st.PropertyKeys,
		VertexProps:    st.VertexProps,
		EdgeProps:      st.EdgeProps,
	}
}

// CallTool executes a tool in-process with JSON-style arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var out any
	var err error
	switch name {
	case ToolMatch:
		var in MatchInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		out, err = s.Match(ctx, in)
	case ToolCount:
		var in CountInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		out, err = s.Count(ctx, in)
	case ToolStats:
		out = s.Stats()
	default:
		return "", fmt.Errorf("%w: unknown tool %s", graph.ErrNotFound, name)
	}
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding %s result: %w", name, err)
	}
	return string(data), nil
}

func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: arguments: %v", graph.ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: arguments: %v", graph.ErrInvalidArgument, err)
	}
	return nil
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(_ context.Context, uri string) (string, error) {
	switch uri {
	case ResourceOverview:
		return s.overview(), nil
	case ResourceSchema:
		return s.schema(), nil
	default:
		return "", mcp.ResourceNotFoundError(uri)
	}
}

func (s *Server) overview() string {
	st := s.Stats()
	var sb strings.Builder
	sb.WriteString("Graph overview\n\n")
	fmt.Fprintf(&sb, "Vertices:         %s\n", humanize.Comma(int64(st.Vertices)))
	fmt.Fprintf(&sb, "Permanent edges:  %s\n", humanize.Comma(st.PermanentEdges))
	fmt.Fprintf(&sb, "Pending adds:     %s\n", humanize.Comma(st.PendingAdds))
	fmt.Fprintf(&sb, "Pending deletes:  %s\n", humanize.Comma(st.PendingDeletes))
	fmt.Fprintf(&sb, "Vertex types:     %d\n", st.VertexTypes)
	fmt.Fprintf(&sb, "Edge types:       %d\n", st.EdgeTypes)
	fmt.Fprintf(&sb, "Property keys:    %d\n", st.PropertyKeys)
	return sb.String()
}

func (s *Server) schema() string {
	types := s.store.Types
	vt, et, keys := types.Counts()

	var sb strings.Builder
	sb.WriteString("Vertex types:\n")
	for id := 0; id < vt; id++ {
		name, _ := types.VertexTypeName(int16(id))
		fmt.Fprintf(&sb, "  %d  %s\n", id, name)
	}
	sb.WriteString("\nEdge types:\n")
	for id := 0; id < et; id++ {
		name, _ := types.EdgeTypeName(int16(id))
		fmt.Fprintf(&sb, "  %d  %s\n", id, name)
	}
	sb.WriteString("\nProperty keys:\n")
	for id := 0; id < keys; id++ {
		name, _ := types.PropertyKeyName(int16(id))
		_, dt, _ := types.LookupPropertyKey(name)
		fmt.Fprintf(&sb, "  %d  %s (%s)\n", id, name, dt)
	}
	return sb.String()
}
