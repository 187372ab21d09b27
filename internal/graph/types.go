package graph

import (
	"fmt"
	"sync"
)

// TypeStore interns vertex type names, edge type names and property keys
// to small integer ids. The three namespaces are independent.
//
// A TypeStore is constructed explicitly and is safe for concurrent use.
type TypeStore struct {
	mu sync.RWMutex

	vertexTypes *registry
	edgeTypes   *registry
	keys        *registry
	keyTypes    []DataType
}

// NewTypeStore creates an empty TypeStore.
func NewTypeStore() *TypeStore {
	return &TypeStore{
		vertexTypes: newRegistry(),
		edgeTypes:   newRegistry(),
		keys:        newRegistry(),
	}
}

// VertexType returns the id for a vertex type name, creating it if needed.
func (s *TypeStore) VertexType(name string) (int16, error) {
	return s.intern(s.vertexTypes, name, "vertex type")
}

// EdgeType returns the id for an edge type name, creating it if needed.
func (s *TypeStore) EdgeType(name string) (int16, error) {
	return s.intern(s.edgeTypes, name, "edge type")
}

// LookupVertexType returns the id of an existing vertex type.
func (s *TypeStore) LookupVertexType(name string) (int16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.vertexTypes.ids[name]
	return id, ok
}

// LookupEdgeType returns the id of an existing edge type.
func (s *TypeStore) LookupEdgeType(name string) (int16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.edgeTypes.ids[name]
	return id, ok
}

// VertexTypeName returns the name of a vertex type id.
func (s *TypeStore) VertexTypeName(id int16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vertexTypes.name(id)
}

// EdgeTypeName returns the name of an edge type id.
func (s *TypeStore) EdgeTypeName(id int16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgeTypes.name(id)
}

// PropertyKey returns the id for a property key, creating it with the given
// data type if needed. A key keeps the data type of its first registration;
// asking for it with a different type fails with ErrTypeMismatch.
func (s *TypeStore) PropertyKey(name string, dt DataType) (int16, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty property key", ErrInvalidArgument)
	}
	if dt < TypeBool || dt > TypeFloat {
		return 0, fmt.Errorf("%w: property key %q: unknown data type %d", ErrInvalidArgument, name, dt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.keys.ids[name]; ok {
		if have := s.keyTypes[id]; have != dt {
			return 0, fmt.Errorf("%w: property key %q is %s, not %s", ErrTypeMismatch, name, have, dt)
		}
		return id, nil
	}
	id, err := s.keys.add(name)
	if err != nil {
		return 0, fmt.Errorf("registering property key: %w", err)
	}
	s.keyTypes = append(s.keyTypes, dt)
	return id, nil
}

// LookupPropertyKey returns the id and data type of an existing property key.
func (s *TypeStore) LookupPropertyKey(name string) (int16, DataType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys.ids[name]
	if !ok {
		return 0, 0, false
	}
	return id, s.keyTypes[id], true
}

// PropertyKeyName returns the name of a property key id.
func (s *TypeStore) PropertyKeyName(id int16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.name(id)
}

// Counts returns the number of vertex types, edge types and property keys.
func (s *TypeStore) Counts() (vertexTypes, edgeTypes, keys int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vertexTypes.names), len(s.edgeTypes.names), len(s.keys.names)
}

func (s *TypeStore) intern(r *registry, name, what string) (int16, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty %s name", ErrInvalidArgument, what)
	}

	s.mu.RLock()
	id, ok := r.ids[name]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := r.ids[name]; ok {
		return id, nil
	}
	id, err := r.add(name)
	if err != nil {
		return 0, fmt.Errorf("registering %s: %w", what, err)
	}
	return id, nil
}

// registry is a bidirectional name <-> id table. Callers hold the lock.
type registry struct {
	ids   map[string]int16
	names []string
}

func newRegistry() *registry {
	return &registry{ids: make(map[string]int16)}
}

func (r *registry) add(name string) (int16, error) {
	if len(r.names) >= int(UnknownID) {
		return 0, fmt.Errorf("%w: more than %d entries", ErrInvalidArgument, UnknownID)
	}
	id := int16(len(r.names))
	r.ids[name] = id
	r.names = append(r.names, name)
	return id, nil
}

func (r *registry) name(id int16) (string, bool) {
	if id < 0 || int(id) >= len(r.names) {
		return "", false
	}
	return r.names[id], true
}
