// Package ingestion loads vertices and edges into a graph and its property
// stores, from creation events, dataset files, or a watched dataset path.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Benny93/graphflow-go/internal/graph"
	"github.com/Benny93/graphflow-go/internal/storage"
)

// VertexEvent creates or updates a vertex.
type VertexEvent struct {
	ID         int32          `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// EdgeEvent creates an edge.
type EdgeEvent struct {
	From       int32          `yaml:"from" json:"from"`
	To         int32          `yaml:"to" json:"to"`
	Type       string         `yaml:"type" json:"type"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Store bundles the components of one graph database: the type registry,
// the adjacency lists, and the vertex and edge property stores.
//
// Mutations go to the graph's Diff versions and become visible to
// permanent-version queries on Commit.
type Store struct {
	Types       *graph.TypeStore
	Graph       *graph.Graph
	VertexProps storage.Backend
	EdgeProps   storage.Backend

	logger *zap.Logger

	// mu guards pendingDeletes.
	mu sync.Mutex

	// pendingDeletes are edges whose properties are dropped on Commit.
	pendingDeletes []int64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for the store and its graph.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store with an empty graph and type registry over the
// given property backends.
func NewStore(vertexProps, edgeProps storage.Backend, opts ...StoreOption) *Store {
	s := &Store{
		Types:       graph.NewTypeStore(),
		VertexProps: vertexProps,
		EdgeProps:   edgeProps,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Graph = graph.New(graph.WithLogger(s.logger))
	return s
}

// NewMemoryStore creates a store backed by in-memory property maps.
func NewMemoryStore(opts ...StoreOption) *Store {
	return NewStore(storage.NewMemoryBackend(), storage.NewMemoryBackend(), opts...)
}

// AddVertex creates the vertex or replaces its type and properties.
func (s *Store) AddVertex(ctx context.Context, ev VertexEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	typ, props, err := s.resolveVertex(ev)
	if err != nil {
		return err
	}
	if err := s.Graph.AddVertex(ev.ID, typ); err != nil {
		return err
	}
	return s.writeProperties(ctx, s.VertexProps, int64(ev.ID), props)
}

// AddVertices adds a batch of vertices, writing their properties in one
// batch. Every event is resolved before the graph changes.
func (s *Store) AddVertices(ctx context.Context, evs []VertexEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	types := make([]int16, len(evs))
	batch := make(map[int64]map[int16]graph.Value, len(evs))
	for i, ev := range evs {
		typ, props, err := s.resolveVertex(ev)
		if err != nil {
			return fmt.Errorf("vertex %d: %w", ev.ID, err)
		}
		types[i] = typ
		batch[int64(ev.ID)] = props
	}

	// Ascending ids let a batch extend the id space step by step; a step
	// past the vertex id gap fails the batch before the graph changes.
	order := make([]int, len(evs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return evs[order[a]].ID < evs[order[b]].ID })
	next := int64(s.Graph.NextVertexID())
	for _, i := range order {
		id := int64(evs[i].ID)
		if id >= next+graph.MaxVertexIDGap {
			return fmt.Errorf("vertex %d: %w: more than %d past the highest id", id, graph.ErrInvalidArgument, graph.MaxVertexIDGap)
		}
		next = max(next, id+1)
	}
	for _, i := range order {
		if err := s.Graph.AddVertex(evs[i].ID, types[i]); err != nil {
			return fmt.Errorf("vertex %d: %w", evs[i].ID, err)
		}
	}

	// Vertices without properties drop any they had before.
	for id, props := range batch {
		if len(props) == 0 {
			if err := s.VertexProps.Delete(ctx, id); err != nil {
				return fmt.Errorf("clearing properties of vertex %d: %w", id, err)
			}
			delete(batch, id)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.VertexProps.SetMany(ctx, batch); err != nil {
		return fmt.Errorf("writing vertex properties: %w", err)
	}
	return nil
}

func (s *Store) resolveVertex(ev VertexEvent) (int16, map[int16]graph.Value, error) {
	typ, err := s.Types.VertexType(ev.Type)
	if err != nil {
		return 0, nil, err
	}
	props, err := s.properties(ev.Properties)
	if err != nil {
		return 0, nil, err
	}
	return typ, props, nil
}

// AddEdge inserts the edge into the graph's Diff and returns its id. The
// edge properties are written only after the insert succeeds; if writing
// them fails the insert is undone.
func (s *Store) AddEdge(ctx context.Context, ev EdgeEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	typ, err := s.Types.EdgeType(ev.Type)
	if err != nil {
		return 0, err
	}
	props, err := s.properties(ev.Properties)
	if err != nil {
		return 0, fmt.Errorf("edge %d->%d: %w", ev.From, ev.To, err)
	}

	id, err := s.Graph.AddEdge(ev.From, ev.To, typ)
	if err != nil {
		return 0, err
	}
	if len(props) > 0 {
		if err := s.EdgeProps.Set(ctx, id, props); err != nil {
			if _, rbErr := s.Graph.DeleteEdge(ev.From, ev.To, typ); rbErr != nil {
				s.logger.Error("rolling back edge insert", zap.Int64("edge_id", id), zap.Error(rbErr))
			}
			return 0, fmt.Errorf("writing properties of edge %d: %w", id, err)
		}
	}
	return id, nil
}

// UpdateEdge replaces the properties of the live edge matching ev.
func (s *Store) UpdateEdge(ctx context.Context, ev EdgeEvent) (int64, error) {
	typ, ok := s.Types.LookupEdgeType(ev.Type)
	if !ok {
		return 0, fmt.Errorf("edge type %q: %w", ev.Type, graph.ErrNotFound)
	}
	id, ok := s.Graph.EdgeID(ev.From, graph.Forward, graph.VersionMerged, ev.To, typ, nil, nil)
	if !ok {
		return 0, fmt.Errorf("edge %d->%d of type %q: %w", ev.From, ev.To, ev.Type, graph.ErrNotFound)
	}
	props, err := s.properties(ev.Properties)
	if err != nil {
		return 0, fmt.Errorf("edge %d: %w", id, err)
	}
	return id, s.writeProperties(ctx, s.EdgeProps, id, props)
}

// DeleteEdge removes the edge from the merged view. Its properties are
// dropped on the next Commit, so queries over the permanent version can
// still read them until then.
func (s *Store) DeleteEdge(ctx context.Context, from, to int32, edgeType string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	typ, ok := s.Types.LookupEdgeType(edgeType)
	if !ok {
		return 0, fmt.Errorf("edge type %q: %w", edgeType, graph.ErrNotFound)
	}
	id, err := s.Graph.DeleteEdge(from, to, typ)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.pendingDeletes = append(s.pendingDeletes, id)
	s.mu.Unlock()
	return id, nil
}

// Commit merges the graph diffs into the permanent version and drops the
// properties of deleted edges.
func (s *Store) Commit(ctx context.Context) (graph.CommitStats, error) {
	stats := s.Graph.Commit()

	s.mu.Lock()
	deletes := s.pendingDeletes
	s.pendingDeletes = nil
	s.mu.Unlock()

	var errs []error
	for _, id := range deletes {
		if err := s.EdgeProps.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("dropping properties of edge %d: %w", id, err))
		}
	}
	return stats, errors.Join(errs...)
}

// StoreStats summarizes the store contents.
type StoreStats struct {
	Graph        graph.Stats
	VertexTypes  int
	EdgeTypes    int
	PropertyKeys int
	VertexProps  int
	EdgeProps    int
}

// Stats returns a snapshot of the store size.
func (s *Store) Stats() StoreStats {
	vt, et, keys := s.Types.Counts()
	return StoreStats{
		Graph:        s.Graph.Stats(),
		VertexTypes:  vt,
		EdgeTypes:    et,
		PropertyKeys: keys,
		VertexProps:  s.VertexProps.Len(),
		EdgeProps:    s.EdgeProps.Len(),
	}
}

// Close closes both property stores.
func (s *Store) Close() error {
	return errors.Join(s.VertexProps.Close(), s.EdgeProps.Close())
}

// properties interns the keys of raw. A new key takes the type of its first
// value; numbers are converted to the type of an existing key, and any
// other mismatch fails with ErrTypeMismatch.
func (s *Store) properties(raw map[string]any) (map[int16]graph.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	// Sorted so key ids do not depend on map order.
	sort.Strings(names)

	props := make(map[int16]graph.Value, len(raw))
	for _, name := range names {
		v, err := graph.CoerceValue(raw[name])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		if _, dt, ok := s.Types.LookupPropertyKey(name); ok {
			v = graph.ConvertNumber(v, dt)
		}
		key, err := s.Types.PropertyKey(name, v.Kind())
		if err != nil {
			return nil, err
		}
		props[key] = v
	}
	return props, nil
}

func (s *Store) writeProperties(ctx context.Context, store storage.Backend, id int64, props map[int16]graph.Value) error {
	if len(props) == 0 {
		return store.Delete(ctx, id)
	}
	return store.Set(ctx, id, props)
}
