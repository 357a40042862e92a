package adapt

import (
	"fmt"
	"sort"

	"github.com/cryguy/sqlbridge/internal/value"
)

// Registry is an immutable method table for one receiver type. Lookups
// take no lock.
type Registry struct {
	methods map[string]Method
	names   []string
}

type registryBuilder struct {
	methods map[string]Method
	errors  []error
}

// Option configures a Registry under construction.
type Option func(*registryBuilder)

// NewRegistry builds a Registry. It fails on the first binding error or
// duplicate name.
func NewRegistry(opts ...Option) (*Registry, error) {
	b := &registryBuilder{methods: make(map[string]Method)}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	names := make([]string, 0, len(b.methods))
	for name := range b.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{methods: b.methods, names: names}, nil
}

func (b *registryBuilder) add(m Method) {
	if m.Name == "" {
		b.errors = append(b.errors, fmt.Errorf("method name cannot be empty"))
		return
	}
	if _, exists := b.methods[m.Name]; exists {
		b.errors = append(b.errors, fmt.Errorf("duplicate method name: %q", m.Name))
		return
	}
	b.methods[m.Name] = m
}

// WithMethod registers an already bound method.
func WithMethod(m Method) Option {
	return func(b *registryBuilder) { b.add(m) }
}

// With binds fn for receiver type T and registers it.
func With[T any](name string, shape Shape, fn any) Option {
	return func(b *registryBuilder) {
		m, err := Bind[T](name, shape, fn)
		if err != nil {
			b.errors = append(b.errors, err)
			return
		}
		b.add(m)
	}
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// Names returns the sorted method names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// UnknownMethodError is returned by Call for a name that is not registered.
type UnknownMethodError struct {
	Name string
}

func (e *UnknownMethodError) Error() string { return fmt.Sprintf("unknown method %q", e.Name) }

// Call dispatches name on recv.
func (r *Registry) Call(h Host, name string, recv any, args Args) (value.Value, error) {
	m, ok := r.methods[name]
	if !ok {
		return value.Nil(), &UnknownMethodError{Name: name}
	}
	return m.Call(h, recv, args)
}
