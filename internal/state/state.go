// Package state holds the per-run shared state passed to node bodies.
//
// A graph selects one Shape at registration time:
//
//   - Untyped: a string-keyed Map, created empty for every run
//   - Typed[T]: a fresh *T for every run
//   - Instance(v): the same concrete value reused by every run
//
// Concurrency: Map is internally locked so concurrent listeners can never
// corrupt it, but read-modify-write sequences across Get and Set are not
// atomic (use Update). Typed values carry no synchronization guarantee at
// all; listeners in the same wave that mutate a typed value race unless the
// engine serializes node execution.
package state

import (
	"fmt"
	"reflect"
	"sync"
)

// Mode identifies which variant a State holds.
type Mode int

const (
	// ModeUntyped holds a string-keyed Map.
	ModeUntyped Mode = iota
	// ModeTyped holds a value with a fixed schema.
	ModeTyped
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeUntyped:
		return "untyped"
	case ModeTyped:
		return "typed"
	default:
		return "unknown"
	}
}

// Shape describes how a run's State is constructed.
type Shape struct {
	mode     Mode
	typeName string
	factory  func() any
}

// Untyped returns the default shape: an empty Map per run.
func Untyped() Shape {
	return Shape{mode: ModeUntyped}
}

// Typed returns a shape that allocates a zero *T for every run.
func Typed[T any]() Shape {
	var zero T
	return Shape{
		mode:     ModeTyped,
		typeName: reflect.TypeOf(&zero).String(),
		factory:  func() any { return new(T) },
	}
}

// Instance returns a shape that hands the same value to every run. v should
// be a pointer if node bodies are expected to mutate it.
func Instance(v any) Shape {
	if v == nil {
		return Untyped()
	}
	return Shape{
		mode:     ModeTyped,
		typeName: fmt.Sprintf("%T", v),
		factory:  func() any { return v },
	}
}

// Mode returns the variant this shape produces.
func (s Shape) Mode() Mode { return s.mode }

// TypeName returns the Go type of typed state, or "map" for untyped.
func (s Shape) TypeName() string {
	if s.mode == ModeUntyped {
		return "map"
	}
	return s.typeName
}

// New creates the State for one run.
func (s Shape) New() *State {
	if s.mode == ModeTyped && s.factory != nil {
		return &State{mode: ModeTyped, value: s.factory()}
	}
	return &State{mode: ModeUntyped, m: NewMap()}
}

// State is the shared state of one run.
type State struct {
	mode  Mode
	value any
	m     *Map
}

// Mode returns the variant held.
func (s *State) Mode() Mode { return s.mode }

// Map returns the untyped map, or nil in typed mode.
func (s *State) Map() *Map { return s.m }

// Value returns the typed value, or the Map itself in untyped mode.
func (s *State) Value() any {
	if s.mode == ModeUntyped {
		return s.m
	}
	return s.value
}

// As returns the typed state as *T.
func As[T any](s *State) (*T, bool) {
	if s == nil || s.mode != ModeTyped {
		return nil, false
	}
	v, ok := s.value.(*T)
	return v, ok
}

// Map is a string-keyed map safe for concurrent use.
type Map struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set stores value under key.
func (m *Map) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Delete removes key.
func (m *Map) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Update atomically replaces the value under key with fn(old, exists).
func (m *Map) Update(key string, fn func(old any, ok bool) any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.values[key]
	m.values[key] = fn(old, ok)
}

// Len returns the number of keys.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Snapshot returns a shallow copy of the map.
func (m *Map) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
