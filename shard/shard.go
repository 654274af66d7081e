// Package shard holds the ordered set of shard bindings of a client and
// resolves signal paths to the binding that owns them.
//
// Resolution is a linear scan in registration order; the first binding whose
// prefix matches wins, even when a later binding has a more specific prefix.
// Bindings are append-only: they are never removed, replaced or deduplicated.
package shard

import (
	"fmt"
	"strings"
	"sync"

	"vshadow.io/vss/shadow"
)

// MatchMode selects how a binding prefix is compared against a path.
type MatchMode int

const (
	// MatchPrefix is literal string-prefix matching. It is not segment aware:
	// prefix "Body" owns "Body1.X".
	MatchPrefix MatchMode = iota
	// MatchSegment requires the prefix to end on a segment boundary:
	// prefix "Body" (or "Body.") owns "Body" and "Body.X" but not "Body1.X".
	MatchSegment
)

func (m MatchMode) String() string {
	switch m {
	case MatchPrefix:
		return "prefix"
	case MatchSegment:
		return "segment"
	default:
		return fmt.Sprintf("MatchMode(%d)", int(m))
	}
}

// ParseMatchMode parses "prefix" or "segment". The empty string is MatchPrefix.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "prefix":
		return MatchPrefix, nil
	case "segment":
		return MatchSegment, nil
	default:
		return 0, fmt.Errorf("shard: invalid match mode %q", s)
	}
}

// Matches reports whether prefix owns path under mode.
func Matches(mode MatchMode, prefix, path shadow.Path) bool {
	p, s := string(prefix), string(path)
	if mode != MatchSegment {
		return strings.HasPrefix(s, p)
	}
	p = strings.TrimSuffix(p, shadow.Separator)
	if p == "" {
		return true
	}
	if !strings.HasPrefix(s, p) {
		return false
	}
	return len(s) == len(p) || strings.HasPrefix(s[len(p):], shadow.Separator)
}

// Binding associates a path prefix with the connection of the shard that owns it.
type Binding[C any] struct {
	// Index is the registration position of the binding.
	Index  int
	Prefix shadow.Path
	// Addr is the address the connection was dialed with, for logs and metrics.
	Addr string
	Conn C
}

// Registry is an append-only ordered list of bindings. It is safe for
// concurrent use.
type Registry[C any] struct {
	mode MatchMode

	mu       sync.RWMutex
	bindings []Binding[C]
}

func NewRegistry[C any](mode MatchMode) *Registry[C] {
	return &Registry[C]{mode: mode}
}

func (r *Registry[C]) Mode() MatchMode { return r.mode }

// Add appends a binding. There is no overlap or duplicate check: a second
// binding with an already registered prefix is kept but never resolved.
func (r *Registry[C]) Add(prefix shadow.Path, addr string, conn C) Binding[C] {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := Binding[C]{Index: len(r.bindings), Prefix: prefix, Addr: addr, Conn: conn}
	r.bindings = append(r.bindings, b)
	return b
}

// Resolve returns the first binding, in registration order, whose prefix
// owns path.
func (r *Registry[C]) Resolve(path shadow.Path) (Binding[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bindings {
		if Matches(r.mode, b.Prefix, path) {
			return b, true
		}
	}
	var zero Binding[C]
	return zero, false
}

// Bindings returns a copy of all bindings in registration order.
func (r *Registry[C]) Bindings() []Binding[C] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Binding[C](nil), r.bindings...)
}

func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Overlap describes a binding whose namespace is at least partly claimed by an
// earlier binding.
type Overlap struct {
	Earlier, Later int
	// Shadowed is true when every path the later binding could own is resolved
	// to the earlier one, i.e. the later binding is unreachable.
	Shadowed bool
}

// Overlaps lists binding pairs whose prefixes can claim the same path.
// It is diagnostic only; Resolve ignores it.
func (r *Registry[C]) Overlaps() []Overlap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Overlap
	for j := range r.bindings {
		for i := 0; i < j; i++ {
			pi, pj := r.bindings[i].Prefix, r.bindings[j].Prefix
			switch {
			case Matches(r.mode, pi, pj):
				out = append(out, Overlap{Earlier: i, Later: j, Shadowed: true})
			case Matches(r.mode, pj, pi):
				out = append(out, Overlap{Earlier: i, Later: j})
			}
		}
	}
	return out
}
