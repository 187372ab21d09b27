package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "graphflow",
		Subsystem: "graph",
		Name:      "commits_total",
		Help:      "Total number of diff checkpoints merged into the permanent graph",
	})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "graphflow",
		Subsystem: "graph",
		Name:      "commit_duration_seconds",
		Help:      "Time spent merging the diff into the permanent graph",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

// Graph is an in-memory directed graph of typed vertices and typed edges.
//
// For every vertex and direction it keeps three adjacency lists: the
// committed Permanent edges, the Diff of edges added since the last
// commit, and the DiffMinus of permanent edges deleted since the last
// commit. Commit folds the two diffs into Permanent.
//
// Mutations take the write lock. Reads take the read lock for the
// duration of a single lookup or intersection, so a query sees each
// adjacency list in a consistent state but may observe a commit between
// two extension steps.
type Graph struct {
	mu     sync.RWMutex
	logger *zap.Logger

	vertexTypes []int16
	present     []bool
	vertexCount int

	// lists[version][direction][vertex]; nil entries are empty lists.
	lists      [storedVersions][2][]*SortedAdjacencyList
	edgeCounts [storedVersions]int64
	nextEdgeID int64
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for commit and mutation diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CommitStats describes one checkpoint.
type CommitStats struct {
	// Added is the number of diff edges merged into the permanent graph.
	Added int64

	// Deleted is the number of permanent edges removed.
	Deleted int64

	// Duration is the time the write lock was held.
	Duration time.Duration
}

// Stats is a snapshot of the graph size.
type Stats struct {
	Vertices       int
	PermanentEdges int64
	DiffEdges      int64
	DiffMinusEdges int64
}

// MaxVertexIDGap bounds how far past the current id space a new vertex id
// may lie. The per-vertex arrays grow to the largest id, so a sparse id
// would otherwise allocate storage for every id below it.
const MaxVertexIDGap = 1 << 20

// AddVertex registers a vertex id with its type. Re-adding an existing id
// updates its type. Vertex ids are expected to be dense: an id at or beyond
// NextVertexID()+MaxVertexIDGap fails with ErrInvalidArgument.
func (g *Graph) AddVertex(id int32, vertexType int16) error {
	if id < 0 {
		return fmt.Errorf("%w: negative vertex id %d", ErrInvalidArgument, id)
	}
	if vertexType < 0 {
		return fmt.Errorf("%w: vertex %d has negative type %d", ErrInvalidArgument, id, vertexType)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if int64(id) >= int64(len(g.present))+MaxVertexIDGap {
		return fmt.Errorf("%w: vertex id %d is more than %d past the highest id %d",
			ErrInvalidArgument, id, MaxVertexIDGap, len(g.present)-1)
	}
	g.ensureVertexLocked(id)
	if !g.present[id] {
		g.present[id] = true
		g.vertexCount++
	}
	g.vertexTypes[id] = vertexType
	return nil
}

func (g *Graph) ensureVertexLocked(id int32) {
	n := int(id) + 1
	if n <= len(g.present) {
		return
	}
	g.present = append(g.present, make([]bool, n-len(g.present))...)
	g.vertexTypes = append(g.vertexTypes, make([]int16, n-len(g.vertexTypes))...)
	for v := range g.lists {
		for d := range g.lists[v] {
			lists := g.lists[v][d]
			g.lists[v][d] = append(lists, make([]*SortedAdjacencyList, n-len(lists))...)
		}
	}
}

// NextVertexID returns the smallest id above every registered vertex.
func (g *Graph) NextVertexID() int32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int32(len(g.present))
}

// HasVertex reports whether id is a registered vertex.
func (g *Graph) HasVertex(id int32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasVertexLocked(id)
}

func (g *Graph) hasVertexLocked(id int32) bool {
	return id >= 0 && int(id) < len(g.present) && g.present[id]
}

// VertexType returns the type of a vertex.
func (g *Graph) VertexType(id int32) (int16, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hasVertexLocked(id) {
		return 0, false
	}
	return g.vertexTypes[id], true
}

// VertexCount returns the number of registered vertices.
func (g *Graph) VertexCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.vertexCount
}

// VertexIDs returns the ids of every vertex of the given type in ascending
// order. AnyType returns all vertices.
func (g *Graph) VertexIDs(vertexType int16) []int32 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]int32, 0, g.vertexCount)
	for id, ok := range g.present {
		if ok && (vertexType == AnyType || g.vertexTypes[id] == vertexType) {
			out = append(out, int32(id))
		}
	}
	return out
}

// AddEdge inserts a pending edge into the Diff version and returns its
// newly assigned edge id.
func (g *Graph) AddEdge(from, to int32, edgeType int16) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(from, to, edgeType, g.nextEdgeID)
}

// AddEdgeWithID inserts a pending edge with a caller-owned edge id.
func (g *Graph) AddEdgeWithID(from, to int32, edgeType int16, edgeID int64) error {
	if edgeID < 0 {
		return fmt.Errorf("%w: negative edge id %d", ErrInvalidArgument, edgeID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.addEdgeLocked(from, to, edgeType, edgeID)
	return err
}

func (g *Graph) addEdgeLocked(from, to int32, edgeType int16, edgeID int64) (int64, error) {
	if edgeType < 0 {
		return 0, fmt.Errorf("%w: edge type %d", ErrInvalidArgument, edgeType)
	}
	if !g.hasVertexLocked(from) {
		return 0, fmt.Errorf("adding edge %d->%d: source vertex: %w", from, to, ErrNotFound)
	}
	if !g.hasVertexLocked(to) {
		return 0, fmt.Errorf("adding edge %d->%d: target vertex: %w", from, to, ErrNotFound)
	}
	if g.liveLocked(from, to, edgeType) {
		return 0, fmt.Errorf("adding edge %d->%d of type %d: %w", from, to, edgeType, ErrDuplicateEdge)
	}

	fwd := g.listForWrite(VersionDiff, Forward, from)
	if err := fwd.Add(to, edgeType, edgeID); err != nil {
		return 0, fmt.Errorf("adding edge %d->%d: %w", from, to, err)
	}
	bwd := g.listForWrite(VersionDiff, Backward, to)
	if err := bwd.Add(from, edgeType, edgeID); err != nil {
		fwd.RemoveNeighbour(to, edgeType)
		return 0, fmt.Errorf("adding edge %d->%d: %w", from, to, err)
	}

	g.edgeCounts[VersionDiff]++
	if edgeID >= g.nextEdgeID {
		g.nextEdgeID = edgeID + 1
	}
	return edgeID, nil
}

// liveLocked reports whether (from, to, type) is present in the merged view.
func (g *Graph) liveLocked(from, to int32, edgeType int16) bool {
	if g.listLocked(VersionDiff, Forward, from).Search(to, edgeType) >= 0 {
		return true
	}
	return g.listLocked(VersionPermanent, Forward, from).Search(to, edgeType) >= 0 &&
		g.listLocked(VersionDiffMinus, Forward, from).Search(to, edgeType) < 0
}

// DeleteEdge removes the edge (from, to, edgeType) from the merged view and
// returns its id. A pending Diff edge is dropped outright; a permanent edge
// is recorded in DiffMinus until the next commit.
func (g *Graph) DeleteEdge(from, to int32, edgeType int16) (int64, error) {
	if edgeType < 0 {
		return 0, fmt.Errorf("%w: edge type %d", ErrInvalidArgument, edgeType)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasVertexLocked(from) || !g.hasVertexLocked(to) {
		return 0, fmt.Errorf("deleting edge %d->%d: vertex: %w", from, to, ErrNotFound)
	}

	if id, ok := g.listLocked(VersionDiff, Forward, from).EdgeID(to, edgeType); ok {
		g.lists[VersionDiff][Forward][from].RemoveNeighbour(to, edgeType)
		g.lists[VersionDiff][Backward][to].RemoveNeighbour(from, edgeType)
		g.edgeCounts[VersionDiff]--
		return id, nil
	}

	id, ok := g.listLocked(VersionPermanent, Forward, from).EdgeID(to, edgeType)
	if !ok || g.listLocked(VersionDiffMinus, Forward, from).Search(to, edgeType) >= 0 {
		return 0, fmt.Errorf("deleting edge %d->%d of type %d: %w", from, to, edgeType, ErrNotFound)
	}
	fwd := g.listForWrite(VersionDiffMinus, Forward, from)
	if err := fwd.Add(to, edgeType, id); err != nil {
		return 0, fmt.Errorf("deleting edge %d->%d: %w", from, to, err)
	}
	if err := g.listForWrite(VersionDiffMinus, Backward, to).Add(from, edgeType, id); err != nil {
		fwd.RemoveNeighbour(to, edgeType)
		return 0, fmt.Errorf("deleting edge %d->%d: %w", from, to, err)
	}
	g.edgeCounts[VersionDiffMinus]++
	return id, nil
}

// Commit merges the pending diffs into the permanent graph:
// Permanent := Permanent - DiffMinus + Diff. Both diffs are cleared.
// It holds the write lock, so no query step runs during a commit.
func (g *Graph) Commit() CommitStats {
	g.mu.Lock()
	start := time.Now()

	stats := CommitStats{
		Added:   g.edgeCounts[VersionDiff],
		Deleted: g.edgeCounts[VersionDiffMinus],
	}
	for d := range g.lists[VersionPermanent] {
		perm := g.lists[VersionPermanent][d]
		for v := range perm {
			diff := g.lists[VersionDiff][d][v]
			minus := g.lists[VersionDiffMinus][d][v]
			if diff.Len() == 0 && minus.Len() == 0 {
				continue
			}
			perm[v] = mergedList(perm[v], diff, minus)
			g.lists[VersionDiff][d][v] = nil
			g.lists[VersionDiffMinus][d][v] = nil
		}
	}
	g.edgeCounts[VersionPermanent] += stats.Added - stats.Deleted
	g.edgeCounts[VersionDiff] = 0
	g.edgeCounts[VersionDiffMinus] = 0
	stats.Duration = time.Since(start)
	g.mu.Unlock()

	commitsTotal.Inc()
	commitDuration.Observe(stats.Duration.Seconds())
	g.logger.Debug("committed graph diff",
		zap.Int64("added", stats.Added),
		zap.Int64("deleted", stats.Deleted),
		zap.Duration("duration", stats.Duration))
	return stats
}

// mergedList returns perm - minus + diff, reusing perm when both diffs are empty.
func mergedList(perm, diff, minus *SortedAdjacencyList) *SortedAdjacencyList {
	if diff.Len() == 0 && minus.Len() == 0 {
		return perm
	}
	out := perm
	if minus.Len() > 0 {
		out = out.Subtract(minus)
	}
	if diff.Len() > 0 {
		out = out.Merge(diff)
	}
	return out
}

// listLocked returns the adjacency list of v for a stored or merged
// version. The result may be nil (empty) and must not be mutated.
func (g *Graph) listLocked(version Version, dir Direction, v int32) *SortedAdjacencyList {
	if v < 0 || int(v) >= len(g.present) {
		return nil
	}
	if version == VersionMerged {
		return mergedList(
			g.lists[VersionPermanent][dir][v],
			g.lists[VersionDiff][dir][v],
			g.lists[VersionDiffMinus][dir][v],
		)
	}
	return g.lists[version][dir][v]
}

func (g *Graph) listForWrite(version Version, dir Direction, v int32) *SortedAdjacencyList {
	l := g.lists[version][dir][v]
	if l == nil {
		l = NewSortedAdjacencyList()
		g.lists[version][dir][v] = l
	}
	return l
}

func (g *Graph) checkLookup(v int32, dir Direction, version Version) error {
	if dir > Backward {
		return fmt.Errorf("%w: direction %d", ErrInvalidArgument, dir)
	}
	if version > VersionMerged {
		return fmt.Errorf("%w: version %d", ErrInvalidArgument, version)
	}
	if !g.hasVertexLocked(v) {
		return fmt.Errorf("vertex %d: %w", v, ErrNotFound)
	}
	return nil
}

// Neighbours returns the distinct neighbours of v, ascending, reachable in
// dir through an edge of edgeType whose properties pass filter.
func (g *Graph) Neighbours(v int32, dir Direction, version Version, edgeType int16, filter PropertyFilter, edges PropertyStore) ([]int32, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkLookup(v, dir, version); err != nil {
		return nil, err
	}
	return g.listLocked(version, dir, v).FilteredNeighbourIDs(edgeType, filter, edges), nil
}

// Intersect narrows the sorted candidates to those that are neighbours of v
// in dir through an edge of edgeType whose properties pass filter.
func (g *Graph) Intersect(v int32, dir Direction, version Version, edgeType int16, filter PropertyFilter, edges PropertyStore, candidates []int32) ([]int32, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkLookup(v, dir, version); err != nil {
		return nil, err
	}
	return g.listLocked(version, dir, v).Intersection(candidates, edgeType, filter, edges), nil
}

// EdgeID returns the id of the lowest-index edge from v to neighbour in dir
// that matches edgeType and filter.
func (g *Graph) EdgeID(v int32, dir Direction, version Version, neighbour int32, edgeType int16, filter PropertyFilter, edges PropertyStore) (int64, bool) {
	var buf [4]int64
	ids := g.EdgeIDs(v, dir, version, neighbour, edgeType, filter, edges, buf[:0])
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// EdgeIDs appends to dst the ids of every edge from v to neighbour in dir
// that matches edgeType and filter, ordered by edge type. The merged view
// is read entry by entry from the stored lists and is never materialized.
func (g *Graph) EdgeIDs(v int32, dir Direction, version Version, neighbour int32, edgeType int16, filter PropertyFilter, edges PropertyStore, dst []int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.checkLookup(v, dir, version) != nil {
		return dst
	}
	return g.edgeIDsLocked(v, dir, version, neighbour, edgeType, filter, edges, dst)
}

func (g *Graph) edgeIDsLocked(v int32, dir Direction, version Version, neighbour int32, edgeType int16, filter PropertyFilter, edges PropertyStore, dst []int64) []int64 {
	if version != VersionMerged {
		return g.lists[version][dir][v].FindEdges(neighbour, edgeType, filter, edges, dst)
	}

	perm := g.lists[VersionPermanent][dir][v]
	diff := g.lists[VersionDiff][dir][v]
	minus := g.lists[VersionDiffMinus][dir][v]
	i, iEnd := perm.neighbourRange(neighbour)
	j, jEnd := diff.neighbourRange(neighbour)
	for i < iEnd || j < jEnd {
		if i < iEnd && minus.Search(neighbour, perm.edgeTypes[i]) >= 0 {
			i++
			continue
		}
		var l *SortedAdjacencyList
		var k int
		if j == jEnd || (i < iEnd && perm.edgeTypes[i] <= diff.edgeTypes[j]) {
			// A permanent entry shadows a diff entry of the same type.
			if j < jEnd && perm.edgeTypes[i] == diff.edgeTypes[j] {
				j++
			}
			l, k = perm, i
			i++
		} else {
			l, k = diff, j
			j++
		}
		if l.accepts(k, edgeType, filter, edges) {
			dst = append(dst, l.edgeIDs[k])
		}
	}
	return dst
}

// HasEdge reports whether the edge (from, to, edgeType) exists in version.
func (g *Graph) HasEdge(from, to int32, edgeType int16, version Version) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.checkLookup(from, Forward, version) != nil {
		return false
	}
	var buf [4]int64
	return len(g.edgeIDsLocked(from, Forward, version, to, edgeType, nil, nil, buf[:0])) > 0
}

// Degree returns the number of adjacency entries of v in dir and version.
func (g *Graph) Degree(v int32, dir Direction, version Version) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.checkLookup(v, dir, version) != nil {
		return 0
	}
	return g.listLocked(version, dir, v).Len()
}

// EdgeCount returns the number of edges in version.
func (g *Graph) EdgeCount(version Version) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if version == VersionMerged {
		return g.edgeCounts[VersionPermanent] - g.edgeCounts[VersionDiffMinus] + g.edgeCounts[VersionDiff]
	}
	if version > VersionMerged {
		return 0
	}
	return g.edgeCounts[version]
}

// Stats returns vertex and per-version edge counts.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Vertices:       g.vertexCount,
		PermanentEdges: g.edgeCounts[VersionPermanent],
		DiffEdges:      g.edgeCounts[VersionDiff],
		DiffMinusEdges: g.edgeCounts[VersionDiffMinus],
	}
}

// CheckInvariants verifies every stored adjacency list.
func (g *Graph) CheckInvariants() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for version := range g.lists {
		for dir := range g.lists[version] {
			for v, l := range g.lists[version][dir] {
				if err := l.CheckInvariant(); err != nil {
					return fmt.Errorf("vertex %d %s %s: %w", v, Direction(dir), Version(version), err)
				}
			}
		}
	}
	return nil
}
