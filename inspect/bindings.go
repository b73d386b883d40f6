// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package inspect

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/creachadair/rdb"
)

// Bindings is a set of named values published for inspection. A zero
// Bindings is empty and ready for use. It is safe for concurrent use.
type Bindings struct {
	μ    sync.Mutex
	vals map[string]any
}

// Set binds name to v, replacing any previous value.
func (b *Bindings) Set(name string, v any) {
	b.μ.Lock()
	defer b.μ.Unlock()
	if b.vals == nil {
		b.vals = make(map[string]any)
	}
	b.vals[name] = v
}

// Get reports the value bound to name, and whether it was found.
func (b *Bindings) Get(name string) (any, bool) {
	b.μ.Lock()
	defer b.μ.Unlock()
	v, ok := b.vals[name]
	return v, ok
}

// Delete removes the binding for name, and reports whether it was present.
func (b *Bindings) Delete(name string) bool {
	b.μ.Lock()
	defer b.μ.Unlock()
	_, ok := b.vals[name]
	delete(b.vals, name)
	return ok
}

// Values returns a copy of the bound values, keyed by name.
func (b *Bindings) Values() map[string]any {
	b.μ.Lock()
	defer b.μ.Unlock()
	return maps.Clone(b.vals)
}

// Len reports the number of bindings.
func (b *Bindings) Len() int {
	b.μ.Lock()
	defer b.μ.Unlock()
	return len(b.vals)
}

// List renders the bindings in order by name.
func (b *Bindings) List() []rdb.Binding {
	b.μ.Lock()
	defer b.μ.Unlock()
	out := make([]rdb.Binding, 0, len(b.vals))
	for _, name := range slices.Sorted(maps.Keys(b.vals)) {
		out = append(out, rdb.Binding{Name: name, Value: Render(b.vals[name])})
	}
	return out
}

// A Literal is a value that renders as its own text.
type Literal string

// Render returns the display form of v: Go syntax for most values, the text
// itself for a Literal, and the result of the String method for a
// fmt.Stringer.
func Render(v any) string {
	switch t := v.(type) {
	case Literal:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%#v", v)
	}
}
