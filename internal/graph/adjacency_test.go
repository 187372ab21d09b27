package graph

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is a minimal PropertyStore for tests inside this package.
type mapStore struct {
	mu    sync.RWMutex
	props map[int64]map[int16]Value
}

func newMapStore() *mapStore {
	return &mapStore{props: make(map[int64]map[int16]Value)}
}

func (s *mapStore) Set(_ context.Context, id int64, props map[int16]Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[id] = props
	return nil
}

func (s *mapStore) Get(id int64, key int16) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.props[id][key]
	return v, ok
}

func (s *mapStore) Properties(id int64) map[int16]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props[id]
}

func (s *mapStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, id)
	return nil
}

func (s *mapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.props)
}

func (s *mapStore) Close() error { return nil }

func buildList(t *testing.T, ids []int32, types []int16) *SortedAdjacencyList {
	t.Helper()
	require.Len(t, types, len(ids))
	l := NewSortedAdjacencyList()
	for i := range ids {
		require.NoError(t, l.Add(ids[i], types[i], int64(i)))
	}
	return l
}

func dump(l *SortedAdjacencyList) (ids []int32, types []int16, edges []int64) {
	for i := 0; i < l.Len(); i++ {
		id, typ, edge := l.At(i)
		ids = append(ids, id)
		types = append(types, typ)
		edges = append(edges, edge)
	}
	return ids, types, edges
}

func TestSortedAdjacencyList_AddSorts(t *testing.T) {
	t.Parallel()

	t.Run("EightEntries", func(t *testing.T) {
		t.Parallel()
		l := buildList(t,
			[]int32{1, 32, 54, 34, 34, 12, 89, 0},
			[]int16{4, 3, 3, 1, 9, 0, 10, 5})

		ids, types, edges := dump(l)
		assert.Equal(t, []int32{0, 1, 12, 32, 34, 34, 54, 89}, ids)
		assert.Equal(t, []int16{5, 4, 0, 3, 1, 9, 3, 10}, types)
		assert.Equal(t, []int64{7, 0, 5, 1, 3, 4, 2, 6}, edges)
		assert.Equal(t, 8, l.Len())
		assert.Equal(t, 8, l.Cap())
		assert.NoError(t, l.CheckInvariant())
	})

	t.Run("ElevenEntries", func(t *testing.T) {
		t.Parallel()
		l := buildList(t,
			[]int32{1, 32, 54, 34, 34, 34, 12, 89, 0, 14, 7},
			[]int16{4, 3, 3, 1, 9, 4, 0, 10, 5, 3, 0})

		ids, types, edges := dump(l)
		assert.Equal(t, []int32{0, 1, 7, 12, 14, 32, 34, 34, 34, 54, 89}, ids)
		assert.Equal(t, []int16{5, 4, 0, 0, 3, 3, 1, 4, 9, 3, 10}, types)
		assert.Equal(t, []int64{8, 0, 10, 6, 9, 1, 3, 5, 4, 2, 7}, edges)
		assert.Equal(t, 16, l.Cap())
		assert.NoError(t, l.CheckInvariant())
	})
}

func TestSortedAdjacencyList_CapacityDoubles(t *testing.T) {
	t.Parallel()

	l := NewSortedAdjacencyList()
	assert.Equal(t, 2, l.Cap())

	for i := int32(0); i < 5; i++ {
		require.NoError(t, l.Add(i, 0, int64(i)))
	}
	assert.Equal(t, 5, l.Len())
	assert.Equal(t, 8, l.Cap())
}

func TestSortedAdjacencyList_AddRejects(t *testing.T) {
	t.Parallel()

	t.Run("Duplicate", func(t *testing.T) {
		t.Parallel()
		l := buildList(t, []int32{3, 1}, []int16{1, 1})

		err := l.Add(3, 1, 99)
		require.ErrorIs(t, err, ErrDuplicateEdge)
		assert.ErrorIs(t, err, ErrInvariantViolation)

		ids, _, edges := dump(l)
		assert.Equal(t, []int32{1, 3}, ids)
		assert.Equal(t, []int64{1, 0}, edges)
	})

	t.Run("SameNeighbourOtherType", func(t *testing.T) {
		t.Parallel()
		l := buildList(t, []int32{3}, []int16{1})
		require.NoError(t, l.Add(3, 2, 1))
		assert.Equal(t, 2, l.Len())
	})

	t.Run("InvalidInput", func(t *testing.T) {
		t.Parallel()
		l := NewSortedAdjacencyList()
		assert.ErrorIs(t, l.Add(-1, 0, 0), ErrInvalidArgument)
		assert.ErrorIs(t, l.Add(1, AnyType, 0), ErrInvalidArgument)
		assert.ErrorIs(t, l.Add(1, 0, -5), ErrInvalidArgument)
		assert.Equal(t, 0, l.Len())
	})
}

func TestSortedAdjacencyList_Search(t *testing.T) {
	t.Parallel()

	l := buildList(t,
		[]int32{1, 32, 54, 34, 34, 34, 12, 89, 0, 14, 7},
		[]int16{4, 3, 3, 1, 9, 4, 0, 10, 5, 3, 0})

	assert.Equal(t, 7, l.Search(34, 4))
	assert.Equal(t, 2, l.Search(7, AnyType))
	assert.Equal(t, 6, l.Search(34, AnyType))
	assert.Equal(t, -1, l.Search(7, 10))
	assert.Equal(t, -1, l.Search(70, 10))
	assert.Equal(t, -1, l.Search(70, AnyType))
	assert.Equal(t, -1, NewSortedAdjacencyList().Search(1, AnyType))

	id, ok := l.EdgeID(34, AnyType)
	require.True(t, ok)
	assert.Equal(t, int64(3), id)

	_, ok = l.EdgeID(34, 7)
	assert.False(t, ok)
}

func TestSortedAdjacencyList_RemoveNeighbour(t *testing.T) {
	t.Parallel()

	t.Run("SmallList", func(t *testing.T) {
		t.Parallel()
		l := buildList(t, []int32{1, 3}, []int16{1, 3})
		assert.Equal(t, 0, l.Search(1, 1))

		assert.True(t, l.RemoveNeighbour(1, 1))
		assert.Equal(t, 1, l.Len())
		assert.Equal(t, []int32{3}, l.NeighbourIDs())
		assert.Equal(t, -1, l.Search(1, 1))
	})

	t.Run("Absent", func(t *testing.T) {
		t.Parallel()
		l := buildList(t, []int32{1, 3}, []int16{1, 3})
		assert.False(t, l.RemoveNeighbour(1, 3))
		assert.False(t, l.RemoveNeighbour(9, AnyType))
		assert.Equal(t, 2, l.Len())
	})

	t.Run("Middle", func(t *testing.T) {
		t.Parallel()
		l := buildList(t, []int32{5, 2, 9, 7}, []int16{0, 0, 0, 0})
		require.True(t, l.RemoveNeighbour(5, 0))

		ids, _, edges := dump(l)
		assert.Equal(t, []int32{2, 7, 9}, ids)
		assert.Equal(t, []int64{1, 3, 2}, edges)
		assert.NoError(t, l.CheckInvariant())
	})
}

func TestSortedAdjacencyList_Intersection(t *testing.T) {
	t.Parallel()

	l := buildList(t,
		[]int32{1, 32, 54, 34, 34, 34, 12, 89, 0, 14, 7},
		[]int16{4, 3, 3, 1, 9, 3, 0, 10, 5, 3, 0})
	candidates := []int32{1, 9, 14, 23, 34, 54, 89}

	assert.Equal(t, []int32{14, 34, 54}, l.Intersection(candidates, 3, nil, nil))
	assert.Equal(t, []int32{1, 14, 34, 54, 89}, l.Intersection(candidates, AnyType, nil, nil))
	assert.Empty(t, l.Intersection(candidates, 42, nil, nil))
	assert.Empty(t, l.Intersection(nil, AnyType, nil, nil))
	assert.Empty(t, NewSortedAdjacencyList().Intersection(candidates, AnyType, nil, nil))
}

func TestSortedAdjacencyList_FilteredNeighbourIDs(t *testing.T) {
	t.Parallel()

	l := buildList(t,
		[]int32{1, 9, 14, 23, 34, 54, 89},
		[]int16{1, 1, 2, 3, 2, 1, 1})

	edges := newMapStore()
	for i := int64(0); i < 7; i++ {
		require.NoError(t, edges.Set(context.Background(), i, map[int16]Value{0: StringValue(strconv.FormatInt(i, 10))}))
	}

	t.Run("NoFilter", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []int32{1, 9, 54, 89}, l.FilteredNeighbourIDs(1, nil, nil))
		assert.Equal(t, []int32{1, 9, 14, 23, 34, 54, 89}, l.FilteredNeighbourIDs(AnyType, nil, nil))
	})

	t.Run("PropertyFilter", func(t *testing.T) {
		t.Parallel()
		filter := PropertyFilter{0: StringValue("6")}
		assert.Equal(t, []int32{89}, l.FilteredNeighbourIDs(AnyType, filter, edges))
		assert.Equal(t, []int32{89}, l.FilteredNeighbourIDs(1, filter, edges))
		assert.Empty(t, l.FilteredNeighbourIDs(2, filter, edges))
	})

	t.Run("FilterOnIntersection", func(t *testing.T) {
		t.Parallel()
		filter := PropertyFilter{0: StringValue("2")}
		assert.Equal(t, []int32{14}, l.Intersection([]int32{9, 14, 89}, AnyType, filter, edges))
	})

	t.Run("FilterWithoutStore", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, l.FilteredNeighbourIDs(AnyType, PropertyFilter{0: StringValue("6")}, nil))
	})
}

func TestSortedAdjacencyList_DistinctNeighbours(t *testing.T) {
	t.Parallel()

	l := buildList(t, []int32{4, 4, 4, 2}, []int16{1, 2, 3, 1})
	assert.Equal(t, []int32{2, 4}, l.FilteredNeighbourIDs(AnyType, nil, nil))
	assert.Equal(t, []int32{4}, l.Intersection([]int32{4}, AnyType, nil, nil))
	assert.Equal(t, []int32{2, 4, 4, 4}, l.NeighbourIDs())
}

func TestSortedAdjacencyList_MergeAndSubtract(t *testing.T) {
	t.Parallel()

	a := buildList(t, []int32{1, 3, 5}, []int16{0, 0, 0})
	b := NewSortedAdjacencyList()
	require.NoError(t, b.Add(2, 0, 10))
	require.NoError(t, b.Add(3, 0, 11))
	require.NoError(t, b.Add(3, 1, 12))

	merged := a.Merge(b)
	ids, types, edges := dump(merged)
	assert.Equal(t, []int32{1, 2, 3, 3, 5}, ids)
	assert.Equal(t, []int16{0, 0, 0, 1, 0}, types)
	assert.Equal(t, []int64{0, 10, 1, 12, 2}, edges)
	assert.NoError(t, merged.CheckInvariant())

	rest := merged.Subtract(b)
	ids, _, _ = dump(rest)
	assert.Equal(t, []int32{1, 5}, ids)

	// Inputs are untouched.
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 3, b.Len())

	var empty *SortedAdjacencyList
	assert.Equal(t, 3, empty.Merge(a).Len())
	assert.Equal(t, 0, empty.Subtract(a).Len())
}

func TestSortedAdjacencyList_Clone(t *testing.T) {
	t.Parallel()

	l := buildList(t, []int32{2, 1}, []int16{0, 0})
	c := l.Clone()
	require.NoError(t, c.Add(3, 0, 9))

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 3, c.Len())
}

func TestSortedAdjacencyList_FindEdge(t *testing.T) {
	t.Parallel()

	l := buildList(t, []int32{4, 4, 4}, []int16{1, 2, 3})
	edges := newMapStore()
	require.NoError(t, edges.Set(context.Background(), 2, map[int16]Value{0: IntValue(7)}))

	id, ok := l.FindEdge(4, AnyType, nil, nil)
	require.True(t, ok)
	assert.Equal(t, int64(0), id)

	id, ok = l.FindEdge(4, AnyType, PropertyFilter{0: IntValue(7)}, edges)
	require.True(t, ok)
	assert.Equal(t, int64(2), id)

	_, ok = l.FindEdge(4, 1, PropertyFilter{0: IntValue(7)}, edges)
	assert.False(t, ok)
}

func TestSortedAdjacencyList_FindEdges(t *testing.T) {
	t.Parallel()

	l := buildList(t, []int32{3, 4, 4, 4, 5}, []int16{0, 1, 2, 3, 0})
	edges := newMapStore()
	for _, id := range []int64{1, 3} {
		require.NoError(t, edges.Set(context.Background(), id, map[int16]Value{0: IntValue(7)}))
	}

	assert.Equal(t, []int64{1, 2, 3}, l.FindEdges(4, AnyType, nil, nil, nil))
	assert.Equal(t, []int64{1, 3}, l.FindEdges(4, AnyType, PropertyFilter{0: IntValue(7)}, edges, nil))
	assert.Equal(t, []int64{9, 2}, l.FindEdges(4, 2, nil, nil, []int64{9}))
	assert.Empty(t, l.FindEdges(6, AnyType, nil, nil, nil))

	var empty *SortedAdjacencyList
	assert.Empty(t, empty.FindEdges(4, AnyType, nil, nil, nil))
}
