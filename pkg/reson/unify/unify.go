package unify

import (
	"sort"
	"strings"

	"github.com/cognicore/reson/pkg/reson/term"
)

// Unifier is a variable renaming from one query's variable space into
// another's. Variables without a mapping pass through unchanged, so
// the zero value is the identity unifier.
type Unifier struct {
	mapping map[term.Var]term.Var
}

// Identity returns the identity unifier.
func Identity() Unifier {
	return Unifier{}
}

// New builds a unifier from the given variable mapping. The map is
// copied.
func New(mapping map[term.Var]term.Var) Unifier {
	if len(mapping) == 0 {
		return Unifier{}
	}
	m := make(map[term.Var]term.Var, len(mapping))
	for from, to := range mapping {
		m[from] = to
	}
	return Unifier{mapping: m}
}

// IsIdentity reports whether the unifier renames nothing.
func (u Unifier) IsIdentity() bool {
	for from, to := range u.mapping {
		if from != to {
			return false
		}
	}
	return true
}

// Get returns the image of v under the unifier and whether an explicit
// mapping exists.
func (u Unifier) Get(v term.Var) (term.Var, bool) {
	to, ok := u.mapping[v]
	return to, ok
}

// Keys returns the explicitly mapped source variables in sorted order.
func (u Unifier) Keys() []term.Var {
	keys := make([]term.Var, 0, len(u.mapping))
	for v := range u.mapping {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Apply renames the keys of a substitution into the target variable
// space. If two source variables collapse onto the same target with
// different concepts the binding is inconsistent and the empty
// substitution is returned. The explanation is carried over.
func (u Unifier) Apply(s term.Substitution) term.Substitution {
	if s.IsEmpty() || len(u.mapping) == 0 {
		return s
	}
	renamed := make(map[term.Var]term.Concept, s.Len())
	for v, c := range s.Bindings() {
		target := v
		if to, ok := u.mapping[v]; ok {
			target = to
		}
		if existing, ok := renamed[target]; ok && existing.ID != c.ID {
			return term.Empty()
		}
		renamed[target] = c
	}
	out := term.NewSubstitution(renamed)
	if e := s.Explanation(); e != nil {
		out = out.WithExplanation(*e)
	}
	return out
}

// Inverse returns a unifier mapping targets back to sources. When the
// unifier is not injective an arbitrary but deterministic preimage
// (the smallest source variable) wins.
func (u Unifier) Inverse() Unifier {
	if len(u.mapping) == 0 {
		return Unifier{}
	}
	inv := make(map[term.Var]term.Var, len(u.mapping))
	for _, from := range u.Keys() {
		to := u.mapping[from]
		if _, ok := inv[to]; !ok {
			inv[to] = from
		}
	}
	return Unifier{mapping: inv}
}

// Compose returns a unifier equivalent to applying u first, then v.
func (u Unifier) Compose(v Unifier) Unifier {
	if len(u.mapping) == 0 {
		return v
	}
	if len(v.mapping) == 0 {
		return u
	}
	composed := make(map[term.Var]term.Var, len(u.mapping)+len(v.mapping))
	for from, mid := range u.mapping {
		if to, ok := v.mapping[mid]; ok {
			composed[from] = to
		} else {
			composed[from] = mid
		}
	}
	for from, to := range v.mapping {
		if _, ok := u.mapping[from]; !ok {
			composed[from] = to
		}
	}
	return Unifier{mapping: composed}
}

// Key returns a deterministic string form of the mapping.
func (u Unifier) Key() string {
	parts := make([]string, 0, len(u.mapping))
	for _, from := range u.Keys() {
		parts = append(parts, string(from)+">"+string(u.mapping[from]))
	}
	return strings.Join(parts, ";")
}

// MultiUnifier is a set of alternative unifiers between the same query
// pair. A pair of queries may unify in more than one way when roles or
// argument positions are interchangeable.
type MultiUnifier struct {
	unifiers []Unifier
}

// NewMulti builds a MultiUnifier from the given alternatives.
func NewMulti(unifiers ...Unifier) MultiUnifier {
	return MultiUnifier{unifiers: unifiers}
}

// IsEmpty reports whether no unifier exists.
func (m MultiUnifier) IsEmpty() bool {
	return len(m.unifiers) == 0
}

// Unifiers returns the alternatives.
func (m MultiUnifier) Unifiers() []Unifier {
	return m.unifiers
}

// First returns the first alternative, or the identity unifier when
// none exists.
func (m MultiUnifier) First() Unifier {
	if len(m.unifiers) == 0 {
		return Identity()
	}
	return m.unifiers[0]
}
