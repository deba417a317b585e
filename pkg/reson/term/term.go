package term

import (
	"fmt"
	"sort"
	"strings"
)

// Var is a query variable name.
type Var string

// Concept references a node in the knowledge graph.
// Two concepts are the same iff their IDs are equal.
type Concept struct {
	ID    string
	Label string
}

// NewConcept creates a concept whose label equals its ID.
func NewConcept(id string) Concept {
	return Concept{ID: id, Label: id}
}

// Explanation kinds.
const (
	ExplLookup = "lookup"
	ExplRule   = "rule"
)

// Explanation records the provenance of an answer: which rule derived
// it (if any) and the pattern it answers.
type Explanation struct {
	Kind    string
	RuleID  string
	Pattern string
}

// Substitution is an immutable partial binding from variables to
// concepts. The zero value is the empty substitution.
//
// An empty substitution doubles as the "no valid binding" signal:
// merge conflicts and failed derivations all collapse to it, and
// callers treat it as a dead branch rather than an error.
type Substitution struct {
	bindings map[Var]Concept
	expl     *Explanation
}

// Empty returns the empty substitution.
func Empty() Substitution {
	return Substitution{}
}

// NewSubstitution builds a substitution from the given bindings.
// The map is copied; later mutation of the argument has no effect.
func NewSubstitution(bindings map[Var]Concept) Substitution {
	if len(bindings) == 0 {
		return Substitution{}
	}
	b := make(map[Var]Concept, len(bindings))
	for v, c := range bindings {
		b[v] = c
	}
	return Substitution{bindings: b}
}

// IsEmpty reports whether the substitution binds no variables.
func (s Substitution) IsEmpty() bool {
	return len(s.bindings) == 0
}

// Len returns the number of bound variables.
func (s Substitution) Len() int {
	return len(s.bindings)
}

// Get returns the binding for v, if any.
func (s Substitution) Get(v Var) (Concept, bool) {
	c, ok := s.bindings[v]
	return c, ok
}

// Vars returns the bound variables in sorted order.
func (s Substitution) Vars() []Var {
	vars := make([]Var, 0, len(s.bindings))
	for v := range s.bindings {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	return vars
}

// Bindings returns a copy of the underlying binding map.
func (s Substitution) Bindings() map[Var]Concept {
	out := make(map[Var]Concept, len(s.bindings))
	for v, c := range s.bindings {
		out[v] = c
	}
	return out
}

// Explanation returns the provenance attached to this substitution,
// or nil if none.
func (s Substitution) Explanation() *Explanation {
	return s.expl
}

// WithExplanation returns a copy of s carrying the given provenance.
func (s Substitution) WithExplanation(e Explanation) Substitution {
	out := s
	out.expl = &e
	return out
}

// Merge combines two substitutions. Bindings of disjoint variables are
// unioned; identical bindings of the same variable are kept once. A
// conflict (same variable bound to different concepts) yields the
// empty substitution: an inconsistent binding is a dead branch, not an
// error.
//
// The result inherits a's explanation when set, else b's.
func Merge(a, b Substitution) Substitution {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}
	merged := make(map[Var]Concept, len(a.bindings)+len(b.bindings))
	for v, c := range a.bindings {
		merged[v] = c
	}
	for v, c := range b.bindings {
		if existing, ok := merged[v]; ok {
			if existing.ID != c.ID {
				return Substitution{}
			}
			continue
		}
		merged[v] = c
	}
	out := Substitution{bindings: merged}
	if a.expl != nil {
		out.expl = a.expl
	} else {
		out.expl = b.expl
	}
	return out
}

// Project drops all bindings outside vars. The explanation is kept.
func (s Substitution) Project(vars []Var) Substitution {
	if s.IsEmpty() {
		return s
	}
	keep := make(map[Var]struct{}, len(vars))
	for _, v := range vars {
		keep[v] = struct{}{}
	}
	projected := make(map[Var]Concept)
	for v, c := range s.bindings {
		if _, ok := keep[v]; ok {
			projected[v] = c
		}
	}
	if len(projected) == 0 {
		return Substitution{expl: s.expl}
	}
	return Substitution{bindings: projected, expl: s.expl}
}

// Equal reports whether two substitutions carry the same bindings.
// Explanations are provenance, not identity, and are ignored.
func (s Substitution) Equal(o Substitution) bool {
	if len(s.bindings) != len(o.bindings) {
		return false
	}
	for v, c := range s.bindings {
		oc, ok := o.bindings[v]
		if !ok || oc.ID != c.ID {
			return false
		}
	}
	return true
}

// Key returns a deterministic string form of the bindings, suitable
// as a map key for answer indexing.
func (s Substitution) Key() string {
	if s.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, len(s.bindings))
	for _, v := range s.Vars() {
		parts = append(parts, string(v)+"="+s.bindings[v].ID)
	}
	return strings.Join(parts, ";")
}

// String renders the substitution for logs and error messages.
func (s Substitution) String() string {
	if s.IsEmpty() {
		return "{}"
	}
	parts := make([]string, 0, len(s.bindings))
	for _, v := range s.Vars() {
		parts = append(parts, fmt.Sprintf("%s=%s", v, s.bindings[v].Label))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
