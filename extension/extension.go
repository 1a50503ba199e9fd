// Package extension lets integrations attach custom data to conversations
// without the core ever interpreting it. Entries are keyed by a type name the
// integration chooses; the core stores and returns them verbatim.
package extension

import (
	"github.com/agentweft/weft/internal/registry"
)

// Registry holds extension values of type T keyed by type name. It is safe
// for concurrent use.
type Registry[T any] struct {
	entries registry.Registry[T]
}

// NewRegistry creates an empty extension registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: registry.New[T]()}
}

// Register stores value under the given type name, replacing any previous
// entry.
func (r *Registry[T]) Register(typeName string, value T) {
	r.entries.Add(typeName, value)
}

// Lookup returns the value registered under the type name.
func (r *Registry[T]) Lookup(typeName string) (T, bool) {
	return r.entries.Get(typeName)
}

// Remove deletes the entry for the type name, if any.
func (r *Registry[T]) Remove(typeName string) {
	r.entries.Del(typeName)
}

// Keys lists the registered type names.
func (r *Registry[T]) Keys() []string {
	return r.entries.Keys()
}
