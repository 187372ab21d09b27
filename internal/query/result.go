package query

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Binding is one match keyed by query variable name.
type Binding struct {
	Vertices map[string]int32 `json:"vertices"`
	Edges    map[string]int64 `json:"edges,omitempty"`
}

// Result is the outcome of Run.
type Result struct {
	QueryID string `json:"query_id"`
	Mode    string `json:"mode"`
	Count   int64  `json:"count"`

	// Matches is empty in count mode.
	Matches []Binding `json:"matches,omitempty"`

	// Limited is set when the plan limit stopped the search.
	Limited bool `json:"limited,omitempty"`

	DurationSecs float64 `json:"duration_secs"`
}

// Bind names the positions and edge slots of t after the plan's variables.
func (p *Plan) Bind(t Tuple) Binding {
	b := Binding{Vertices: make(map[string]int32, len(p.VertexIndex))}
	for name, i := range p.VertexIndex {
		if i < len(t.Vertices) {
			b.Vertices[name] = t.Vertices[i]
		}
	}
	for name, s := range p.EdgeIndex {
		if s < len(t.Edges) {
			if b.Edges == nil {
				b.Edges = make(map[string]int64, len(p.EdgeIndex))
			}
			b.Edges[name] = t.Edges[s]
		}
	}
	return b
}

// Variables returns the vertex variable names in position order.
func (p *Plan) Variables() []string {
	names := make([]string, 0, len(p.VertexIndex))
	for name := range p.VertexIndex {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return p.VertexIndex[names[i]] < p.VertexIndex[names[j]] })
	return names
}

// Run executes plan in its own output mode. Count plans use up to workers
// goroutines.
func (e *Executor) Run(ctx context.Context, plan *Plan, workers int) (*Result, error) {
	start := time.Now()
	if plan != nil && plan.Mode == ModeCount {
		n, err := e.CountParallel(ctx, plan, workers)
		if err != nil {
			return nil, err
		}
		return &Result{
			QueryID:      uuid.NewString(),
			Mode:         ModeCount.String(),
			Count:        n,
			Limited:      plan.Limit > 0 && n >= int64(plan.Limit),
			DurationSecs: time.Since(start).Seconds(),
		}, nil
	}

	c, err := e.Cursor(ctx, plan)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	res := &Result{QueryID: c.ID(), Mode: ModeMatch.String()}
	for c.Next() {
		res.Matches = append(res.Matches, plan.Bind(c.Tuple()))
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	res.Count = int64(len(res.Matches))
	res.Limited = plan.Limit > 0 && res.Count >= int64(plan.Limit)
	res.DurationSecs = time.Since(start).Seconds()
	return res, nil
}
