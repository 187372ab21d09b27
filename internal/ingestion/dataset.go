package ingestion

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// Dataset is a YAML or JSON graph document:
//
//	vertices:
//	  - {id: 0, type: Person, properties: {name: ann, age: 31}}
//	  - {id: 1, type: Person}
//	edges:
//	  - {from: 0, to: 1, type: FOLLOWS, properties: {since: 2020}}
type Dataset struct {
	Vertices []VertexEvent `yaml:"vertices" json:"vertices"`
	Edges    []EdgeEvent   `yaml:"edges" json:"edges"`
}

// edgeKey identifies an edge of a dataset.
type edgeKey struct {
	from, to int32
	typ      string
}

func (e EdgeEvent) key() edgeKey { return edgeKey{e.From, e.To, e.Type} }

// ParseDataset decodes and validates one dataset document.
func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("%w: parsing dataset: %v", graph.ErrInvalidArgument, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ReadDataset reads the dataset at path. A directory is read as the union
// of its dataset files.
func ReadDataset(path string) (*Dataset, []DatasetFile, error) {
	files, err := WalkDatasets(path)
	if err != nil {
		return nil, nil, err
	}
	ds := &Dataset{}
	for _, f := range files {
		var part Dataset
		if err := yaml.Unmarshal(f.Content, &part); err != nil {
			return nil, nil, fmt.Errorf("%w: parsing %s: %v", graph.ErrInvalidArgument, f.RelPath, err)
		}
		ds.Vertices = append(ds.Vertices, part.Vertices...)
		ds.Edges = append(ds.Edges, part.Edges...)
	}
	if err := ds.Validate(); err != nil {
		return nil, nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, files, nil
}

// Validate checks that vertex ids are unique and non-negative, that every
// vertex and edge is typed, that edges join declared vertices, and that no
// (from, to, type) edge appears twice.
func (d *Dataset) Validate() error {
	ids := make(map[int32]bool, len(d.Vertices))
	for i, v := range d.Vertices {
		switch {
		case v.ID < 0:
			return fmt.Errorf("%w: vertex %d has negative id %d", graph.ErrInvalidArgument, i, v.ID)
		case v.Type == "":
			return fmt.Errorf("%w: vertex %d has no type", graph.ErrInvalidArgument, v.ID)
		case ids[v.ID]:
			return fmt.Errorf("%w: vertex %d declared twice", graph.ErrInvalidArgument, v.ID)
		}
		ids[v.ID] = true
	}

	edges := make(map[edgeKey]bool, len(d.Edges))
	for i, e := range d.Edges {
		if e.Type == "" {
			return fmt.Errorf("%w: edge %d (%d->%d) has no type", graph.ErrInvalidArgument, i, e.From, e.To)
		}
		if !ids[e.From] || !ids[e.To] {
			return fmt.Errorf("edge %d (%d->%d): vertex: %w", i, e.From, e.To, graph.ErrNotFound)
		}
		if edges[e.key()] {
			return fmt.Errorf("edge %d (%d->%d %s): %w", i, e.From, e.To, e.Type, graph.ErrDuplicateEdge)
		}
		edges[e.key()] = true
	}
	return nil
}

// Changes is the difference between two datasets.
type Changes struct {
	// Vertices are the new or modified vertices.
	Vertices []VertexEvent

	AddedEdges   []EdgeEvent
	UpdatedEdges []EdgeEvent
	RemovedEdges []EdgeEvent

	// RemovedVertices lists vertices that disappeared. The graph keeps
	// them, since it has no vertex deletion; their edges are removed.
	RemovedVertices []int32
}

// Empty reports whether there is nothing to apply.
func (c Changes) Empty() bool {
	return len(c.Vertices) == 0 && len(c.AddedEdges) == 0 && len(c.UpdatedEdges) == 0 &&
		len(c.RemovedEdges) == 0 && len(c.RemovedVertices) == 0
}

// DiffDatasets returns the changes that turn prev into next. A nil prev is
// an empty dataset. Edges are listed in (from, to, type) order.
func DiffDatasets(prev, next *Dataset) Changes {
	if prev == nil {
		prev = &Dataset{}
	}
	var c Changes

	oldVertices := make(map[int32]VertexEvent, len(prev.Vertices))
	for _, v := range prev.Vertices {
		oldVertices[v.ID] = v
	}
	newVertices := make(map[int32]bool, len(next.Vertices))
	for _, v := range next.Vertices {
		newVertices[v.ID] = true
		if old, ok := oldVertices[v.ID]; !ok || !sameVertex(old, v) {
			c.Vertices = append(c.Vertices, v)
		}
	}
	for _, v := range prev.Vertices {
		if !newVertices[v.ID] {
			c.RemovedVertices = append(c.RemovedVertices, v.ID)
		}
	}

	oldEdges := make(map[edgeKey]EdgeEvent, len(prev.Edges))
	for _, e := range prev.Edges {
		oldEdges[e.key()] = e
	}
	newEdges := make(map[edgeKey]bool, len(next.Edges))
	for _, e := range next.Edges {
		newEdges[e.key()] = true
		old, ok := oldEdges[e.key()]
		switch {
		case !ok:
			c.AddedEdges = append(c.AddedEdges, e)
		case !samePropertyValues(old.Properties, e.Properties):
			c.UpdatedEdges = append(c.UpdatedEdges, e)
		}
	}
	for _, e := range prev.Edges {
		if !newEdges[e.key()] {
			c.RemovedEdges = append(c.RemovedEdges, e)
		}
	}

	for _, edges := range [][]EdgeEvent{c.AddedEdges, c.UpdatedEdges, c.RemovedEdges} {
		sortEdges(edges)
	}
	sort.Slice(c.Vertices, func(i, j int) bool { return c.Vertices[i].ID < c.Vertices[j].ID })
	sort.Slice(c.RemovedVertices, func(i, j int) bool { return c.RemovedVertices[i] < c.RemovedVertices[j] })
	return c
}

func sameVertex(a, b VertexEvent) bool {
	return a.Type == b.Type && samePropertyValues(a.Properties, b.Properties)
}

func samePropertyValues(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func sortEdges(edges []EdgeEvent) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Type < b.Type
	})
}

// ApplyResult counts what Apply changed.
type ApplyResult struct {
	Vertices     int
	EdgesAdded   int
	EdgesUpdated int
	EdgesRemoved int
}

// Apply writes c to the store's Diff versions without committing.
// Removals run before additions.
//
// Apply is idempotent: adding an edge that is already live updates its
// properties and removing a missing edge is a no-op, so a failed Apply
// can be retried with the same changes.
func (s *Store) Apply(ctx context.Context, c Changes) (ApplyResult, error) {
	var res ApplyResult
	updates := append([]EdgeEvent(nil), c.UpdatedEdges...)

	for _, e := range c.RemovedEdges {
		_, err := s.DeleteEdge(ctx, e.From, e.To, e.Type)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			s.logger.Debug("edge already removed", zap.Int32("from", e.From), zap.Int32("to", e.To), zap.String("type", e.Type))
		case err != nil:
			return res, fmt.Errorf("removing edge %d->%d %s: %w", e.From, e.To, e.Type, err)
		default:
			res.EdgesRemoved++
		}
	}
	for _, v := range c.RemovedVertices {
		if err := s.VertexProps.Delete(ctx, int64(v)); err != nil {
			return res, fmt.Errorf("removing vertex %d: %w", v, err)
		}
	}

	if len(c.Vertices) > 0 {
		if err := s.AddVertices(ctx, c.Vertices); err != nil {
			return res, err
		}
		res.Vertices = len(c.Vertices)
	}
	for _, e := range c.AddedEdges {
		_, err := s.AddEdge(ctx, e)
		if errors.Is(err, graph.ErrDuplicateEdge) {
			updates = append(updates, e)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("adding edge %d->%d %s: %w", e.From, e.To, e.Type, err)
		}
		res.EdgesAdded++
	}
	for _, e := range updates {
		if _, err := s.UpdateEdge(ctx, e); err != nil {
			return res, fmt.Errorf("updating edge %d->%d %s: %w", e.From, e.To, e.Type, err)
		}
		res.EdgesUpdated++
	}
	return res, nil
}

// LoadResult summarizes one load or reload.
type LoadResult struct {
	Files int
	ApplyResult

	// Unchanged is set when no file content changed since the last load.
	Unchanged bool

	Commit       graph.CommitStats
	DurationSecs float64
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// Loader keeps a store in sync with a dataset path. Each Load reads the
// path, applies the difference to the last loaded dataset, and commits.
type Loader struct {
	store  *Store
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	current *Dataset
	digest  string
}

// NewLoader creates a loader for the dataset file or directory at path.
func NewLoader(store *Store, path string) *Loader {
	return &Loader{store: store, path: path, logger: store.logger}
}

// Path returns the dataset path.
func (l *Loader) Path() string { return l.path }

// Load brings the store up to date with the dataset on disk. Whatever was
// applied is committed even when applying fails part way; the next Load
// then retries the same changes.
func (l *Loader) Load(ctx context.Context, progress ProgressCallback) (*LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	report := func(phase string, p float64) {
		if progress != nil {
			progress(phase, p)
		}
	}

	report("Reading dataset", 0.0)
	next, files, err := ReadDataset(l.path)
	if err != nil {
		return nil, err
	}
	res := &LoadResult{Files: len(files)}
	report("Reading dataset", 1.0)

	digest := datasetDigest(files)
	if l.current != nil && digest == l.digest {
		res.Unchanged = true
		res.DurationSecs = time.Since(start).Seconds()
		return res, nil
	}

	report("Applying changes", 0.0)
	changes := DiffDatasets(l.current, next)
	applied, applyErr := l.store.Apply(ctx, changes)
	res.ApplyResult = applied
	report("Applying changes", 1.0)

	report("Committing", 0.0)
	// The commit must not be skipped on a cancelled context.
	stats, commitErr := l.store.Commit(context.WithoutCancel(ctx))
	res.Commit = stats
	report("Committing", 1.0)

	if err := errors.Join(applyErr, commitErr); err != nil {
		return res, err
	}
	l.current, l.digest = next, digest
	res.DurationSecs = time.Since(start).Seconds()

	l.logger.Info("dataset loaded",
		zap.String("path", l.path),
		zap.Int("files", res.Files),
		zap.Int("vertices", res.Vertices),
		zap.Int("edges_added", res.EdgesAdded),
		zap.Int("edges_updated", res.EdgesUpdated),
		zap.Int("edges_removed", res.EdgesRemoved),
		zap.Float64("duration_secs", res.DurationSecs))
	return res, nil
}

func datasetDigest(files []DatasetFile) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f.RelPath)
		b.WriteByte(0)
		b.WriteString(f.SHA256)
		b.WriteByte(0)
	}
	return b.String()
}

// LoadDataset loads the dataset at path into store and commits it.
func LoadDataset(ctx context.Context, path string, store *Store) (*LoadResult, error) {
	return NewLoader(store, path).Load(ctx, nil)
}
