// Package storage provides property store backends for Graphflow.
//
// It defines the Backend contract that every vertex and edge property store
// implements, along with the codec shared by the serialized backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/Benny93/graphflow-go/internal/graph"
)

// Kind names a backend implementation.
type Kind string

const (
	// KindMemory keeps properties in Go maps.
	KindMemory Kind = "memory"

	// KindBadger keeps properties in a non-durable BadgerDB instance.
	KindBadger Kind = "badger"
)

// Backend is a property store with a lifecycle.
//
// Implementations must be thread-safe and support concurrent access.
// Entries are written while loading and are read-only during queries.
type Backend interface {
	graph.PropertyStore

	// Initialize prepares the backend. An empty path selects a purely
	// in-memory instance where the backend supports it.
	Initialize(path string) error

	// SetMany replaces the properties of many entities in one batch.
	SetMany(ctx context.Context, entries map[int64]map[int16]graph.Value) error
}

// New creates and initializes a backend of the given kind.
func New(kind Kind, path string, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var b Backend
	switch kind {
	case KindMemory, "":
		b = NewMemoryBackend()
	case KindBadger:
		b = NewBadgerBackend(logger)
	default:
		return nil, fmt.Errorf("%w: unknown property backend %q", graph.ErrInvalidArgument, kind)
	}
	if err := b.Initialize(path); err != nil {
		return nil, fmt.Errorf("initializing %s backend: %w", kind, err)
	}
	logger.Debug("property store ready", zap.String("backend", string(kind)), zap.String("path", path))
	return b, nil
}

// storedProperty is the serialized form of one property value.
type storedProperty struct {
	Key  int16  `json:"key"`
	Kind string `json:"kind"`
	Raw  string `json:"raw"`
}

// encodeProperties serializes props ordered by key.
func encodeProperties(props map[int16]graph.Value) ([]byte, error) {
	out := make([]storedProperty, 0, len(props))
	for key, v := range props {
		if !v.IsValid() {
			return nil, fmt.Errorf("%w: property %d has no value", graph.ErrInvalidArgument, key)
		}
		out = append(out, storedProperty{Key: key, Kind: v.Kind().String(), Raw: v.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return json.Marshal(out)
}

// decodeProperties is the inverse of encodeProperties.
func decodeProperties(data []byte) (map[int16]graph.Value, error) {
	var stored []storedProperty
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshaling properties: %w", err)
	}
	props := make(map[int16]graph.Value, len(stored))
	for _, p := range stored {
		v, err := decodeValue(p)
		if err != nil {
			return nil, err
		}
		props[p.Key] = v
	}
	return props, nil
}

func decodeValue(p storedProperty) (graph.Value, error) {
	dt, err := graph.ParseDataType(p.Kind)
	if err != nil {
		return graph.Value{}, fmt.Errorf("decoding property %d: %w", p.Key, err)
	}
	switch dt {
	case graph.TypeBool:
		b, err := strconv.ParseBool(p.Raw)
		if err != nil {
			return graph.Value{}, fmt.Errorf("decoding property %d: %w", p.Key, err)
		}
		return graph.BoolValue(b), nil
	case graph.TypeInt:
		n, err := strconv.ParseInt(p.Raw, 10, 32)
		if err != nil {
			return graph.Value{}, fmt.Errorf("decoding property %d: %w", p.Key, err)
		}
		return graph.IntValue(int32(n)), nil
	case graph.TypeFloat:
		f, err := strconv.ParseFloat(p.Raw, 64)
		if err != nil {
			return graph.Value{}, fmt.Errorf("decoding property %d: %w", p.Key, err)
		}
		return graph.FloatValue(f), nil
	default:
		return graph.StringValue(p.Raw), nil
	}
}

func copyProperties(props map[int16]graph.Value) map[int16]graph.Value {
	if props == nil {
		return nil
	}
	out := make(map[int16]graph.Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
