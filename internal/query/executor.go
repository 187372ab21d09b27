package query

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// Tuple is one match. Vertices[i] is the vertex bound to position i;
// Edges[s] is the id of the edge traversed by the rule with slot s.
type Tuple struct {
	Vertices []int32
	Edges    []int64
}

// Clone returns a deep copy of t.
func (t Tuple) Clone() Tuple {
	return Tuple{
		Vertices: append([]int32(nil), t.Vertices...),
		Edges:    append([]int64(nil), t.Edges...),
	}
}

// Executor runs plans against a graph and its property stores.
//
// An Executor holds no per-query state; any number of queries may run on
// it concurrently.
type Executor struct {
	graph       *graph.Graph
	vertexProps graph.PropertyStore
	edgeProps   graph.PropertyStore
	predicates  *FilterPredicateFactory
	logger      *zap.Logger
	tracer      trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger for per-query debug output.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for query spans.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewExecutor creates an executor. The property stores may be nil when no
// plan uses predicates or edge filters.
func NewExecutor(g *graph.Graph, vertexProps, edgeProps graph.PropertyStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graph:       g,
		vertexProps: vertexProps,
		edgeProps:   edgeProps,
		predicates:  NewFilterPredicateFactory(vertexProps, edgeProps),
		logger:      zap.NewNop(),
		tracer:      defaultTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cursor starts a streaming query. The caller must Close the cursor.
func (e *Executor) Cursor(ctx context.Context, plan *Plan) (*Cursor, error) {
	return e.open(ctx, plan, "query.Cursor", ModeMatch, nil)
}

// Execute runs plan and returns every match, up to plan.Limit.
func (e *Executor) Execute(ctx context.Context, plan *Plan) ([]Tuple, error) {
	c, err := e.open(ctx, plan, "query.Execute", ModeMatch, nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var out []Tuple
	for c.Next() {
		out = append(out, c.Tuple())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count runs plan and returns the number of matches, up to plan.Limit,
// without materializing them.
func (e *Executor) Count(ctx context.Context, plan *Plan) (int64, error) {
	c, err := e.open(ctx, plan, "query.Count", ModeCount, nil)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	for c.advance() {
	}
	if err := c.Err(); err != nil {
		return 0, err
	}
	return c.emitted, nil
}

// CountParallel counts matches of a full-scan plan by splitting the seed
// vertices across workers. Workers share only the read-only graph and
// property stores. Single-vertex plans and workers <= 1 run sequentially.
//
// With a limit, workers draw from one shared match budget and all of them
// stop once it is spent.
func (e *Executor) CountParallel(ctx context.Context, plan *Plan, workers int) (int64, error) {
	if workers <= 1 || plan == nil || plan.Seed.Kind == SeedVertex {
		return e.Count(ctx, plan)
	}
	if err := plan.Validate(); err != nil {
		return 0, err
	}

	ctx, span := e.tracer.Start(ctx, "query.CountParallel",
		trace.WithAttributes(
			attribute.Int("query.stages", len(plan.Stages)),
			attribute.Int("query.workers", workers),
		))
	defer span.End()

	seeds := e.graph.VertexIDs(plan.VertexType(0))
	parts := make([][]int32, workers)
	for i, v := range seeds {
		parts[i%workers] = append(parts[i%workers], v)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	budget := &matchBudget{limit: int64(plan.Limit), stop: stop}
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		g.Go(func() error {
			return e.countPartition(gctx, plan, part, budget)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	n := budget.total.Load()
	if budget.limit > 0 && n > budget.limit {
		n = budget.limit
	}
	span.SetAttributes(attribute.Int64("query.matches", n))
	return n, nil
}

// matchBudget is the match count shared by the partitions of one
// parallel count. With a limit, the partition that spends the last match
// cancels the others.
type matchBudget struct {
	limit int64
	total atomic.Int64
	stop  context.CancelFunc
}

func (b *matchBudget) spent() bool { return b.limit > 0 && b.total.Load() >= b.limit }

func (b *matchBudget) take() {
	if b.total.Add(1) >= b.limit && b.stop != nil {
		b.stop()
	}
}

// countPartition counts the matches rooted at the seeds of part into b.
// A partition cancelled because the budget ran out is not an error.
func (e *Executor) countPartition(ctx context.Context, plan *Plan, part []int32, b *matchBudget) error {
	c, err := e.open(ctx, plan, "query.CountPartition", ModeCount, part)
	if err != nil {
		return err
	}
	defer c.Close()

	if b.limit == 0 {
		for c.advance() {
		}
		b.total.Add(c.emitted)
		return c.Err()
	}
	for !b.spent() && c.advance() {
		b.take()
	}
	if err := c.Err(); err != nil && !(b.spent() && errors.Is(err, context.Canceled)) {
		return err
	}
	return nil
}

// open validates plan, resolves its predicates and seeds, and starts a
// cursor. A non-nil seeds slice overrides the plan's seed.
func (e *Executor) open(ctx context.Context, plan *Plan, spanName string, mode OutputMode, seeds []int32) (*Cursor, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	preds, err := e.predicates.BuildAll(plan)
	if err != nil {
		return nil, fmt.Errorf("resolving predicates: %w", err)
	}
	if seeds == nil {
		if seeds, err = e.seeds(plan); err != nil {
			return nil, err
		}
	}

	n := plan.NumVertices()
	c := &Cursor{
		exec:      e,
		plan:      plan,
		id:        uuid.NewString(),
		mode:      mode,
		seeds:     seeds,
		ready:     make([][]*Predicate, n+1),
		edgeReady: make([][]*Predicate, n+1),
		levels:    make([]level, len(plan.Stages)),
		slotOf:    make([]int, len(plan.Stages)),
		limit:     int64(plan.Limit),
		started:   time.Now(),
		work: Tuple{
			Vertices: make([]int32, n),
			Edges:    make([]int64, plan.NumEdges()),
		},
	}
	c.needEdges = mode == ModeMatch
	for _, p := range preds {
		k := max(p.ReadyAt, 1)
		if p.left.edge || p.right.edge {
			c.edgeReady[k] = append(c.edgeReady[k], p)
			c.lastEdgeCheck = max(c.lastEdgeCheck, k)
			continue
		}
		c.ready[k] = append(c.ready[k], p)
	}
	if c.lastEdgeCheck > 0 {
		c.needEdges = true
		c.root = make([]int64, plan.NumEdges())
		for i, rules := range plan.Stages {
			c.levels[i].options = make([][]int64, len(rules))
			c.levels[i].odometer = make([]int, len(rules))
		}
	}
	for i := 1; i < len(plan.Stages); i++ {
		c.slotOf[i] = c.slotOf[i-1] + len(plan.Stages[i-1])
	}

	c.ctx, c.span = e.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("query.id", c.id),
			attribute.Int("query.stages", len(plan.Stages)),
			attribute.Int("query.seeds", len(seeds)),
			attribute.String("query.mode", mode.String()),
		))
	e.logger.Debug("query started",
		zap.String("query_id", c.id),
		zap.String("mode", mode.String()),
		zap.Int("stages", len(plan.Stages)),
		zap.Int("predicates", len(preds)),
		zap.Int("seeds", len(seeds)))
	return c, nil
}

func (e *Executor) seeds(plan *Plan) ([]int32, error) {
	if plan.Seed.Kind != SeedVertex {
		return e.graph.VertexIDs(plan.VertexType(0)), nil
	}
	v := plan.Seed.Vertex
	vt, ok := e.graph.VertexType(v)
	if !ok {
		return nil, fmt.Errorf("seed vertex %d: %w", v, graph.ErrNotFound)
	}
	if want := plan.VertexType(0); want != graph.AnyType && want != vt {
		return []int32{}, nil
	}
	return []int32{v}, nil
}

// level holds the candidates for one vertex position of the current prefix.
type level struct {
	candidates []int32
	pos        int

	// Edge search state, used when predicates read edges: the parallel
	// edges of each rule for the current candidate, the combination being
	// tried, and the surviving edge assignments (stride len(Tuple.Edges)).
	options  [][]int64
	odometer []int
	assigns  []int64
}

// Cursor streams the matches of one plan.
//
// It runs Generic Join depth-first: each level keeps the candidate list of
// one prefix, and Next extends only as far as the next complete match, so
// abandoning a cursor early performs no further intersections.
// A Cursor is not safe for concurrent use.
type Cursor struct {
	ctx  context.Context
	span trace.Span
	exec *Executor
	plan *Plan
	id   string
	mode OutputMode

	seeds    []int32
	nextSeed int
	ready    [][]*Predicate
	levels   []level
	depth    int
	slotOf   []int

	// edgeReady holds the predicates that read an edge slot, by ReadyAt.
	// lastEdgeCheck is the largest such ReadyAt, zero when there are none.
	edgeReady     [][]*Predicate
	lastEdgeCheck int
	root          []int64

	needEdges     bool
	work          Tuple
	current       Tuple
	emitted       int64
	limit         int64
	intersections [graph.VersionMerged + 1]int64

	started time.Time
	err     error
	done    bool
}

// ID returns the query id used in logs and spans.
func (c *Cursor) ID() string { return c.id }

// Next advances to the next match. It returns false when the matches are
// exhausted, the limit is reached, or an error occurred.
func (c *Cursor) Next() bool {
	if !c.advance() {
		return false
	}
	c.current = c.work.Clone()
	return true
}

// Tuple returns the match produced by the last successful Next.
func (c *Cursor) Tuple() Tuple { return c.current }

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// Close stops the cursor and releases its candidate lists. It is safe to
// call more than once.
func (c *Cursor) Close() {
	c.finish(nil)
}

// advance moves the working tuple to the next complete match.
func (c *Cursor) advance() bool {
	if c.done {
		return false
	}
	if c.limit > 0 && c.emitted >= c.limit {
		c.finish(nil)
		return false
	}

	last := len(c.plan.Stages)
	for {
		if c.depth == 0 {
			if err := c.ctx.Err(); err != nil {
				c.finish(err)
				return false
			}
			if c.nextSeed >= len(c.seeds) {
				c.finish(nil)
				return false
			}
			c.work.Vertices[0] = c.seeds[c.nextSeed]
			c.nextSeed++

			ok, err := c.evalReady(1)
			if err != nil {
				c.finish(err)
				return false
			}
			if !ok {
				continue
			}
			if last == 0 {
				c.emitted++
				return true
			}
			if err := c.push(0); err != nil {
				c.finish(err)
				return false
			}
			continue
		}

		lvl := &c.levels[c.depth-1]
		if lvl.pos >= len(lvl.candidates) {
			lvl.candidates = nil
			c.depth--
			continue
		}
		v := lvl.candidates[lvl.pos]
		lvl.pos++

		stage := c.depth - 1
		c.work.Vertices[c.depth] = v
		if c.needEdges {
			ok, err := c.bindEdges(stage, v)
			if err != nil {
				c.finish(err)
				return false
			}
			if !ok {
				continue
			}
		}
		ok, err := c.evalReady(c.depth + 1)
		if err != nil {
			c.finish(err)
			return false
		}
		if !ok {
			continue
		}
		if c.depth == last {
			c.emitted++
			return true
		}

		if err := c.ctx.Err(); err != nil {
			c.finish(err)
			return false
		}
		if err := c.push(c.depth); err != nil {
			c.finish(err)
			return false
		}
	}
}

// push computes the candidates of stage for the current prefix and makes
// them the top level.
func (c *Cursor) push(stage int) error {
	cands, err := c.extend(stage)
	if err != nil {
		return err
	}
	lvl := &c.levels[stage]
	lvl.candidates, lvl.pos = cands, 0
	c.depth = stage + 1
	return nil
}

// extend applies the rules of stage to the bound prefix: the first rule
// yields the candidate list and every later rule narrows it.
func (c *Cursor) extend(stage int) ([]int32, error) {
	g := c.exec.graph
	var cands []int32
	for j, r := range c.plan.Stages[stage] {
		v := c.work.Vertices[r.PrefixIndex]
		var err error
		if j == 0 {
			cands, err = g.Neighbours(v, r.Direction, r.Version, r.EdgeType, r.EdgeFilter, c.exec.edgeProps)
		} else {
			cands, err = g.Intersect(v, r.Direction, r.Version, r.EdgeType, r.EdgeFilter, c.exec.edgeProps, cands)
		}
		c.intersections[r.Version]++
		if err != nil {
			return nil, fmt.Errorf("stage %d rule %d: %w", stage, j, err)
		}
		if len(cands) == 0 {
			return nil, nil
		}
	}

	if vt := c.plan.VertexType(stage + 1); vt != graph.AnyType {
		kept := cands[:0]
		for _, v := range cands {
			if t, ok := g.VertexType(v); ok && t == vt {
				kept = append(kept, v)
			}
		}
		cands = kept
	}
	return cands, nil
}

// bindEdges records, for every rule of stage, the edge that connects the
// prefix to v. It reports false when an edge vanished after the candidates
// were computed.
//
// Without edge predicates each rule binds its lowest-index edge. With them,
// every combination of parallel edges is tried against each edge
// assignment that survived the earlier stages, and v is kept when at least
// one assignment passes the edge predicates ready at this depth. The
// working tuple is left holding the first surviving assignment.
func (c *Cursor) bindEdges(stage int, v int32) (bool, error) {
	g := c.exec.graph
	rules := c.plan.Stages[stage]
	base := c.slotOf[stage]
	if c.lastEdgeCheck == 0 {
		for j, r := range rules {
			id, ok := g.EdgeID(c.work.Vertices[r.PrefixIndex], r.Direction, r.Version, v, r.EdgeType, r.EdgeFilter, c.exec.edgeProps)
			if !ok {
				return false, nil
			}
			c.work.Edges[base+j] = id
		}
		return true, nil
	}

	lvl := &c.levels[stage]
	for j, r := range rules {
		lvl.options[j] = g.EdgeIDs(c.work.Vertices[r.PrefixIndex], r.Direction, r.Version, v, r.EdgeType, r.EdgeFilter, c.exec.edgeProps, lvl.options[j][:0])
		if len(lvl.options[j]) == 0 {
			return false, nil
		}
	}

	parents := c.root
	if stage > 0 {
		parents = c.levels[stage-1].assigns
	}
	stride := len(c.work.Edges)
	checks := c.edgeReady[stage+2]
	// Past the last edge predicate one assignment is enough.
	firstOnly := stage+2 >= c.lastEdgeCheck
	lvl.assigns = lvl.assigns[:0]
search:
	for p := 0; p < len(parents); p += stride {
		clear(lvl.odometer)
		for {
			copy(c.work.Edges, parents[p:p+stride])
			for j := range rules {
				c.work.Edges[base+j] = lvl.options[j][lvl.odometer[j]]
			}
			ok, err := evalAll(checks, &c.work)
			if err != nil {
				return false, err
			}
			if ok {
				lvl.assigns = append(lvl.assigns, c.work.Edges...)
				if firstOnly {
					break search
				}
			}
			if !nextCombination(lvl.odometer, lvl.options) {
				break
			}
		}
	}
	if len(lvl.assigns) == 0 {
		return false, nil
	}
	copy(c.work.Edges, lvl.assigns[:stride])
	return true, nil
}

// nextCombination advances odometer over the option lists, last rule
// fastest. It reports false after the final combination.
func nextCombination(odometer []int, options [][]int64) bool {
	for j := len(odometer) - 1; j >= 0; j-- {
		odometer[j]++
		if odometer[j] < len(options[j]) {
			return true
		}
		odometer[j] = 0
	}
	return false
}

// evalReady evaluates the vertex predicates whose operands become bound at
// prefix length k.
func (c *Cursor) evalReady(k int) (bool, error) {
	return evalAll(c.ready[k], &c.work)
}

func evalAll(preds []*Predicate, t *Tuple) (bool, error) {
	for _, p := range preds {
		ok, err := p.Eval(t)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// finish stops the cursor once, recording metrics, span status and logs.
func (c *Cursor) finish(err error) {
	if c.done {
		return
	}
	c.done = true
	c.err = err
	c.levels = nil

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "cancelled"
		}
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	elapsed := time.Since(c.started)

	for version, n := range c.intersections {
		if n > 0 {
			intersectionsTotal.WithLabelValues(graph.Version(version).String()).Add(float64(n))
		}
	}
	matchesTotal.WithLabelValues(c.mode.String()).Add(float64(c.emitted))
	queryDuration.WithLabelValues(c.mode.String(), status).Observe(elapsed.Seconds())

	c.span.SetAttributes(attribute.Int64("query.matches", c.emitted))
	c.span.End()
	c.exec.logger.Debug("query finished",
		zap.String("query_id", c.id),
		zap.String("status", status),
		zap.Int64("matches", c.emitted),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
}
