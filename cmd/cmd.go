// Package cmd provides CLI command implementations for graphflow.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/Benny93/graphflow-go/internal/config"
	"github.com/Benny93/graphflow-go/internal/ingestion"
	"github.com/Benny93/graphflow-go/internal/query"
	"github.com/Benny93/graphflow-go/internal/storage"
	"github.com/Benny93/graphflow-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config  string `short:"c" default:"graphflow.yaml" help:"Configuration file"`
	Verbose bool   `short:"v" help:"Enable debug logging"`
	Quiet   bool   `short:"q" help:"Suppress progress output"`

	// Out receives command output. Nil means stdout.
	Out io.Writer `kong:"-"`
}

func (g *Globals) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// env is the runtime a command works in.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *ingestion.Store
	loader *ingestion.Loader
}

func (e *env) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	_ = e.logger.Sync()
}

// open loads the configuration, builds the logger and property stores, and
// loads the dataset at path.
func (g *Globals) open(ctx context.Context, path string) (*env, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	e := &env{cfg: cfg, logger: logger}

	vertexPath, edgePath := propertyPaths(cfg.Properties.Path)
	vp, err := storage.New(cfg.Properties.Backend, vertexPath, logger)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("vertex properties: %w", err)
	}
	ep, err := storage.New(cfg.Properties.Backend, edgePath, logger)
	if err != nil {
		_ = vp.Close()
		e.close()
		return nil, fmt.Errorf("edge properties: %w", err)
	}
	e.store = ingestion.NewStore(vp, ep, ingestion.WithLogger(logger))
	e.loader = ingestion.NewLoader(e.store, path)

	var progress ingestion.ProgressCallback
	if !g.Quiet {
		progress = func(phase string, pct float64) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}
	res, err := e.loader.Load(ctx, progress)
	if progress != nil {
		fmt.Fprintln(os.Stderr) // Newline after progress
	}
	if err != nil {
		e.close()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	logger.Debug("dataset ready",
		zap.Int("files", res.Files),
		zap.Int("vertices", res.Vertices),
		zap.Int("edges", res.EdgesAdded))
	return e, nil
}

// propertyPaths returns separate badger directories for vertex and edge
// properties under dir. An empty dir keeps both in memory.
func propertyPaths(dir string) (string, string) {
	if dir == "" {
		return "", ""
	}
	return filepath.Join(dir, "vertex-props"), filepath.Join(dir, "edge-props")
}

func (e *env) server() *mcp.Server {
	return mcp.NewServer(e.store, mcp.Options{
		Workers:      e.cfg.Query.Workers,
		DefaultLimit: e.cfg.Query.DefaultLimit,
		Version:      e.cfg.GraphVersion(),
		Logger:       e.logger,
	})
}

// readQuery returns the query text from a file, from stdin for "-", or the
// argument itself when it names no file.
func readQuery(arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading query from stdin: %w", err)
		}
		return string(data), nil
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("reading query: %w", err)
		}
		return string(data), nil
	}
	return arg, nil
}

// MatchCmd lists the embeddings of a query pattern.
type MatchCmd struct {
	Dataset string `arg:"" help:"Dataset file or directory"`
	Query   string `arg:"" help:"Query file, '-' for stdin, or inline YAML/JSON"`
	Limit   int    `short:"n" help:"Maximum matches (0 uses the configured default)"`
	JSON    bool   `help:"Print the result as JSON"`
}

// Run executes the match command.
func (c *MatchCmd) Run(g *Globals) error {
	ctx := context.Background()
	text, err := readQuery(c.Query)
	if err != nil {
		return err
	}
	e, err := g.open(ctx, c.Dataset)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.server().Match(ctx, mcp.MatchInput{Query: text, Limit: c.Limit})
	if err != nil {
		return fmt.Errorf("matching: %w", err)
	}

	w := g.out()
	if c.JSON {
		return writeJSON(w, res)
	}
	if res.Count == 0 {
		fmt.Fprintln(w, "No matches found")
		return nil
	}
	for i, m := range res.Matches {
		fmt.Fprintf(w, "%d. %s\n", i+1, formatBinding(m))
	}
	fmt.Fprintln(w)
	summary := fmt.Sprintf("%s matches in %.3fs (query %s)", humanize.Comma(res.Count), res.DurationSecs, res.QueryID)
	if res.Limited {
		summary += ", limit reached"
	}
	color.New(color.FgGreen).Fprintln(w, summary)
	return nil
}

// formatBinding prints vertex variables, then edge variables, by name.
func formatBinding(b query.Binding) string {
	parts := make([]string, 0, len(b.Vertices)+len(b.Edges))
	for _, name := range sortedKeys(b.Vertices) {
		parts = append(parts, fmt.Sprintf("%s=%d", name, b.Vertices[name]))
	}
	for _, name := range sortedKeys(b.Edges) {
		parts = append(parts, fmt.Sprintf("%s=#%d", name, b.Edges[name]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CountCmd counts the embeddings of a query pattern.
type CountCmd struct {
	Dataset string `arg:"" help:"Dataset file or directory"`
	Query   string `arg:"" help:"Query file, '-' for stdin, or inline YAML/JSON"`
	Workers int    `short:"w" help:"Parallel workers (0 uses the configured default)"`
	JSON    bool   `help:"Print the result as JSON"`
}

// Run executes the count command.
func (c *CountCmd) Run(g *Globals) error {
	ctx := context.Background()
	text, err := readQuery(c.Query)
	if err != nil {
		return err
	}
	e, err := g.open(ctx, c.Dataset)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.server().Count(ctx, mcp.CountInput{Query: text, Workers: c.Workers})
	if err != nil {
		return fmt.Errorf("counting: %w", err)
	}

	w := g.out()
	if c.JSON {
		return writeJSON(w, res)
	}
	fmt.Fprintln(w, humanize.Comma(res.Count))
	if !g.Quiet {
		fmt.Fprintf(os.Stderr, "counted in %.3fs (query %s)\n", res.DurationSecs, res.QueryID)
	}
	return nil
}

// StatsCmd shows the size of a loaded dataset.
type StatsCmd struct {
	Dataset string `arg:"" help:"Dataset file or directory"`
	JSON    bool   `help:"Print the stats as JSON"`
}

// Run executes the stats command.
func (c *StatsCmd) Run(g *Globals) error {
	e, err := g.open(context.Background(), c.Dataset)
	if err != nil {
		return err
	}
	defer e.close()

	st := e.server().Stats()
	w := g.out()
	if c.JSON {
		return writeJSON(w, st)
	}

	color.New(color.FgCyan, color.Bold).Fprintf(w, "Graph: %s\n\n", c.Dataset)
	fmt.Fprintf(w, "  Vertices:         %s\n", humanize.Comma(int64(st.Vertices)))
	fmt.Fprintf(w, "  Edges:            %s\n", humanize.Comma(st.PermanentEdges))
	fmt.Fprintf(w, "  Vertex types:     %d\n", st.VertexTypes)
	fmt.Fprintf(w, "  Edge types:       %d\n", st.EdgeTypes)
	fmt.Fprintf(w, "  Property keys:    %d\n", st.PropertyKeys)
	fmt.Fprintf(w, "  Vertex props:     %s\n", humanize.Comma(int64(st.VertexProps)))
	fmt.Fprintf(w, "  Edge props:       %s\n", humanize.Comma(int64(st.EdgeProps)))
	fmt.Fprintf(w, "  Property backend: %s\n", e.cfg.Properties.Backend)
	return nil
}

// ServeCmd starts the MCP server with optional watch mode.
type ServeCmd struct {
	Dataset string `arg:"" help:"Dataset file or directory"`
	Watch   bool   `short:"w" help:"Reload the dataset when it changes"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-osSignalChannel()
		cancel()
	}()

	// stdout carries JSON-RPC only; everything else goes to stderr.
	e, err := g.open(ctx, c.Dataset)
	if err != nil {
		return err
	}
	defer e.close()

	if c.Watch {
		go func() {
			err := e.loader.Watch(ctx, ingestion.WatchOptions{
				Debounce: e.cfg.Watch.Debounce,
				OnReload: func(res *ingestion.LoadResult, err error) {
					if err != nil || res.Unchanged {
						return
					}
					e.logger.Info("dataset reloaded",
						zap.Int("vertices", res.Vertices),
						zap.Int("edges_added", res.EdgesAdded),
						zap.Int("edges_removed", res.EdgesRemoved))
				},
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("watch stopped", zap.Error(err))
			}
		}()
		fmt.Fprintln(os.Stderr, "Starting MCP server with watch mode...")
	} else {
		fmt.Fprintln(os.Stderr, "Starting MCP server...")
	}

	err = e.server().RunStdio(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Helper functions

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toJSON(v any) string {
	bytes, _ := json.Marshal(v)
	return string(bytes)
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals `embed:""`

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Match MatchCmd `cmd:"" help:"List the matches of a query pattern"`
	Count CountCmd `cmd:"" help:"Count the matches of a query pattern"`
	Stats StatsCmd `cmd:"" help:"Show graph statistics for a dataset"`
	Serve ServeCmd `cmd:"" help:"Start MCP server (stdio transport) with optional watch mode"`
	Setup SetupCmd `cmd:"" help:"Configure MCP for Claude Code / Cursor / Qwen"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("graphflow"),
		kong.Description("In-memory graph database with worst-case optimal subgraph matching"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}
	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}
