package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph and query operations. Callers wrap them with
// fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrNotFound is returned when a vertex, variable or neighbour that the
	// caller assumed to exist is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation marks an internal fault: a rule that references an
	// unpopulated prefix position, or a sorted list found out of order. It is
	// fatal to the current query but never to the process.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrTypeMismatch is returned when two property values cannot be compared,
	// or a property key is reused with a different data type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidArgument is returned for negative ids, empty names and other
	// inputs outside the accepted domain.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateEdge is returned when a (neighbour, edge type) pair already
	// exists in an adjacency list. errors.Is(err, ErrInvariantViolation) holds.
	ErrDuplicateEdge = fmt.Errorf("duplicate edge: %w", ErrInvariantViolation)
)
