package graph

import "fmt"

const initialAdjacencyCapacity = 2

// SortedAdjacencyList stores the neighbours of one vertex in one direction.
//
// Entries live in three parallel arrays sorted by (neighbour id, edge type).
// The arrays share one explicit size and grow by doubling; the slots past
// size are scratch space.
//
// A SortedAdjacencyList is not safe for concurrent mutation. The Graph that
// owns it serializes writers.
type SortedAdjacencyList struct {
	neighbourIDs []int32
	edgeTypes    []int16
	edgeIDs      []int64
	size         int
}

// NewSortedAdjacencyList creates an empty list with the initial capacity.
func NewSortedAdjacencyList() *SortedAdjacencyList {
	return newAdjacencyListWithCap(initialAdjacencyCapacity)
}

func newAdjacencyListWithCap(capacity int) *SortedAdjacencyList {
	if capacity < initialAdjacencyCapacity {
		capacity = initialAdjacencyCapacity
	}
	return &SortedAdjacencyList{
		neighbourIDs: make([]int32, capacity),
		edgeTypes:    make([]int16, capacity),
		edgeIDs:      make([]int64, capacity),
	}
}

// Len returns the number of entries.
func (l *SortedAdjacencyList) Len() int {
	if l == nil {
		return 0
	}
	return l.size
}

// Cap returns the current capacity of the backing arrays.
func (l *SortedAdjacencyList) Cap() int {
	if l == nil {
		return 0
	}
	return len(l.neighbourIDs)
}

// At returns the entry at position i.
func (l *SortedAdjacencyList) At(i int) (neighbourID int32, edgeType int16, edgeID int64) {
	return l.neighbourIDs[i], l.edgeTypes[i], l.edgeIDs[i]
}

// Add inserts an entry keeping the list sorted.
//
// The new entry is placed at the end and shifted left until order holds.
// An existing (neighbourID, edgeType) pair fails with ErrDuplicateEdge and
// leaves the list unchanged.
//
// Complexity: O(n) worst case, amortized O(1) for appends in key order.
func (l *SortedAdjacencyList) Add(neighbourID int32, edgeType int16, edgeID int64) error {
	if neighbourID < 0 || edgeType < 0 || edgeID < 0 {
		return fmt.Errorf("%w: adjacency entry (%d, %d, %d)", ErrInvalidArgument, neighbourID, edgeType, edgeID)
	}
	if l.Search(neighbourID, edgeType) >= 0 {
		return fmt.Errorf("%w: neighbour %d with edge type %d", ErrDuplicateEdge, neighbourID, edgeType)
	}
	if l.size == len(l.neighbourIDs) {
		l.grow()
	}

	i := l.size
	for i > 0 && less(neighbourID, edgeType, l.neighbourIDs[i-1], l.edgeTypes[i-1]) {
		l.neighbourIDs[i] = l.neighbourIDs[i-1]
		l.edgeTypes[i] = l.edgeTypes[i-1]
		l.edgeIDs[i] = l.edgeIDs[i-1]
		i--
	}
	l.neighbourIDs[i] = neighbourID
	l.edgeTypes[i] = edgeType
	l.edgeIDs[i] = edgeID
	l.size++
	return nil
}

// grow doubles the capacity of the three arrays.
func (l *SortedAdjacencyList) grow() {
	capacity := 2 * len(l.neighbourIDs)
	if capacity < initialAdjacencyCapacity {
		capacity = initialAdjacencyCapacity
	}
	ids := make([]int32, capacity)
	types := make([]int16, capacity)
	edges := make([]int64, capacity)
	copy(ids, l.neighbourIDs[:l.size])
	copy(types, l.edgeTypes[:l.size])
	copy(edges, l.edgeIDs[:l.size])
	l.neighbourIDs, l.edgeTypes, l.edgeIDs = ids, types, edges
}

// Search returns the index of the entry (neighbourID, edgeType), or -1.
// With AnyType it returns the lowest index holding neighbourID.
//
// Complexity: O(log n).
func (l *SortedAdjacencyList) Search(neighbourID int32, edgeType int16) int {
	if l == nil || l.size == 0 {
		return -1
	}
	// Lower bound of (neighbourID, edgeType); AnyType sorts below every real type.
	lo, hi := 0, l.size
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if less(l.neighbourIDs[mid], l.edgeTypes[mid], neighbourID, edgeType) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == l.size || l.neighbourIDs[lo] != neighbourID {
		return -1
	}
	if edgeType != AnyType && l.edgeTypes[lo] != edgeType {
		return -1
	}
	return lo
}

// RemoveNeighbour deletes the entry (neighbourID, edgeType) and compacts
// the arrays. With AnyType the lowest entry for neighbourID is removed.
// It reports whether an entry was removed.
func (l *SortedAdjacencyList) RemoveNeighbour(neighbourID int32, edgeType int16) bool {
	i := l.Search(neighbourID, edgeType)
	if i < 0 {
		return false
	}
	copy(l.neighbourIDs[i:], l.neighbourIDs[i+1:l.size])
	copy(l.edgeTypes[i:], l.edgeTypes[i+1:l.size])
	copy(l.edgeIDs[i:], l.edgeIDs[i+1:l.size])
	l.size--
	return true
}

// EdgeID returns the edge id of the entry (neighbourID, edgeType).
// With AnyType the lowest-index entry for neighbourID is used.
func (l *SortedAdjacencyList) EdgeID(neighbourID int32, edgeType int16) (int64, bool) {
	i := l.Search(neighbourID, edgeType)
	if i < 0 {
		return 0, false
	}
	return l.edgeIDs[i], true
}

// FindEdge returns the edge id of the lowest-index entry for neighbourID
// whose type matches edgeType and whose edge passes filter.
func (l *SortedAdjacencyList) FindEdge(neighbourID int32, edgeType int16, filter PropertyFilter, edges PropertyStore) (int64, bool) {
	lo, hi := l.neighbourRange(neighbourID)
	for i := lo; i < hi; i++ {
		if l.accepts(i, edgeType, filter, edges) {
			return l.edgeIDs[i], true
		}
	}
	return 0, false
}

// FindEdges appends to dst the edge ids of every entry for neighbourID
// whose type matches edgeType and whose edge passes filter, in list order.
func (l *SortedAdjacencyList) FindEdges(neighbourID int32, edgeType int16, filter PropertyFilter, edges PropertyStore, dst []int64) []int64 {
	lo, hi := l.neighbourRange(neighbourID)
	for i := lo; i < hi; i++ {
		if l.accepts(i, edgeType, filter, edges) {
			dst = append(dst, l.edgeIDs[i])
		}
	}
	return dst
}

// neighbourRange returns the half-open index range of the entries for
// neighbourID. It is empty when the id is absent.
func (l *SortedAdjacencyList) neighbourRange(neighbourID int32) (int, int) {
	lo := l.Search(neighbourID, AnyType)
	if lo < 0 {
		return 0, 0
	}
	hi := lo + 1
	for hi < l.size && l.neighbourIDs[hi] == neighbourID {
		hi++
	}
	return lo, hi
}

// NeighbourIDs returns a copy of the neighbour ids in list order.
// An id appears once per edge type.
func (l *SortedAdjacencyList) NeighbourIDs() []int32 {
	if l == nil {
		return nil
	}
	out := make([]int32, l.size)
	copy(out, l.neighbourIDs[:l.size])
	return out
}

// FilteredNeighbourIDs returns the distinct neighbour ids, ascending, that
// have at least one entry of edgeType (any type for AnyType) whose edge
// passes filter.
//
// Complexity: O(n) plus one property lookup per entry when filter is set.
func (l *SortedAdjacencyList) FilteredNeighbourIDs(edgeType int16, filter PropertyFilter, edges PropertyStore) []int32 {
	if l == nil {
		return nil
	}
	out := make([]int32, 0, l.size)
	for i := 0; i < l.size; i++ {
		id := l.neighbourIDs[i]
		if len(out) > 0 && out[len(out)-1] == id {
			continue
		}
		if l.accepts(i, edgeType, filter, edges) {
			out = append(out, id)
		}
	}
	return out
}

// Intersection returns the ids of candidates, which must be sorted
// ascending, that are neighbours in this list through an entry of edgeType
// (any type for AnyType) whose edge passes filter. Each id is reported once.
//
// Complexity: O(n + m) merge of the two sorted sequences.
func (l *SortedAdjacencyList) Intersection(candidates []int32, edgeType int16, filter PropertyFilter, edges PropertyStore) []int32 {
	if l == nil || l.size == 0 || len(candidates) == 0 {
		return nil
	}
	out := make([]int32, 0, min(len(candidates), l.size))
	i, j := 0, 0
	for i < l.size && j < len(candidates) {
		id, c := l.neighbourIDs[i], candidates[j]
		switch {
		case id < c:
			i++
		case id > c:
			j++
		default:
			matched := false
			for ; i < l.size && l.neighbourIDs[i] == c; i++ {
				if !matched && l.accepts(i, edgeType, filter, edges) {
					matched = true
				}
			}
			if matched && (len(out) == 0 || out[len(out)-1] != c) {
				out = append(out, c)
			}
			j++
		}
	}
	return out
}

func (l *SortedAdjacencyList) accepts(i int, edgeType int16, filter PropertyFilter, edges PropertyStore) bool {
	if edgeType != AnyType && l.edgeTypes[i] != edgeType {
		return false
	}
	return filter.Matches(edges, l.edgeIDs[i])
}

// Clone returns a deep copy with capacity for the current entries.
func (l *SortedAdjacencyList) Clone() *SortedAdjacencyList {
	if l == nil {
		return NewSortedAdjacencyList()
	}
	c := newAdjacencyListWithCap(l.size)
	copy(c.neighbourIDs, l.neighbourIDs[:l.size])
	copy(c.edgeTypes, l.edgeTypes[:l.size])
	copy(c.edgeIDs, l.edgeIDs[:l.size])
	c.size = l.size
	return c
}

// Merge returns a new list holding the sorted union of l and other.
// When both hold the same (neighbour, type) the entry of l wins.
func (l *SortedAdjacencyList) Merge(other *SortedAdjacencyList) *SortedAdjacencyList {
	out := newAdjacencyListWithCap(l.Len() + other.Len())
	i, j := 0, 0
	for i < l.Len() || j < other.Len() {
		switch {
		case j == other.Len():
			out.appendFrom(l, i)
			i++
		case i == l.Len():
			out.appendFrom(other, j)
			j++
		case less(l.neighbourIDs[i], l.edgeTypes[i], other.neighbourIDs[j], other.edgeTypes[j]):
			out.appendFrom(l, i)
			i++
		case less(other.neighbourIDs[j], other.edgeTypes[j], l.neighbourIDs[i], l.edgeTypes[i]):
			out.appendFrom(other, j)
			j++
		default:
			out.appendFrom(l, i)
			i++
			j++
		}
	}
	return out
}

// Subtract returns a new list holding the entries of l whose
// (neighbour, type) pair is absent from other.
func (l *SortedAdjacencyList) Subtract(other *SortedAdjacencyList) *SortedAdjacencyList {
	out := newAdjacencyListWithCap(l.Len())
	j := 0
	for i := 0; i < l.Len(); i++ {
		for j < other.Len() && less(other.neighbourIDs[j], other.edgeTypes[j], l.neighbourIDs[i], l.edgeTypes[i]) {
			j++
		}
		if j < other.Len() && other.neighbourIDs[j] == l.neighbourIDs[i] && other.edgeTypes[j] == l.edgeTypes[i] {
			continue
		}
		out.appendFrom(l, i)
	}
	return out
}

// appendFrom copies entry i of src to the end of l. The caller guarantees
// capacity and ordering.
func (l *SortedAdjacencyList) appendFrom(src *SortedAdjacencyList, i int) {
	l.neighbourIDs[l.size] = src.neighbourIDs[i]
	l.edgeTypes[l.size] = src.edgeTypes[i]
	l.edgeIDs[l.size] = src.edgeIDs[i]
	l.size++
}

// CheckInvariant verifies that the entries are strictly increasing by
// (neighbour id, edge type) and that size fits the arrays.
func (l *SortedAdjacencyList) CheckInvariant() error {
	if l == nil {
		return nil
	}
	if l.size < 0 || l.size > len(l.neighbourIDs) ||
		len(l.neighbourIDs) != len(l.edgeTypes) || len(l.edgeTypes) != len(l.edgeIDs) {
		return fmt.Errorf("%w: adjacency list size %d with capacity %d/%d/%d",
			ErrInvariantViolation, l.size, len(l.neighbourIDs), len(l.edgeTypes), len(l.edgeIDs))
	}
	for i := 1; i < l.size; i++ {
		if !less(l.neighbourIDs[i-1], l.edgeTypes[i-1], l.neighbourIDs[i], l.edgeTypes[i]) {
			return fmt.Errorf("%w: adjacency list out of order at index %d", ErrInvariantViolation, i)
		}
	}
	return nil
}

// less orders entries by neighbour id, then edge type.
func less(aID int32, aType int16, bID int32, bType int16) bool {
	if aID != bID {
		return aID < bID
	}
	return aType < bType
}
