package rule

import (
	"fmt"

	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/term"
)

// Rule is an inference rule: when every body atom holds, the head atom
// holds. HeadBindings fixes head variables that the body does not
// constrain (e.g. a fixed role player contributed by the rule itself).
//
// Materialise controls the answer policy: a materialising rule must
// persist the derived head as a fact in the store, a virtual rule
// produces its answer purely by substitution.
type Rule struct {
	ID           string
	Head         query.Atom
	Body         []query.Atom
	HeadBindings term.Substitution
	Materialise  bool
}

// New builds a rule and validates its shape.
func New(id string, head query.Atom, body ...query.Atom) (*Rule, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: rule without id", internalerr.ErrInvalidInput)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: rule %q has no body", internalerr.ErrInvalidInput, id)
	}
	if len(head.Args) == 0 {
		return nil, fmt.Errorf("%w: rule %q has no head arguments", internalerr.ErrInvalidInput, id)
	}
	return &Rule{ID: id, Head: head, Body: body}, nil
}

// BodyVars returns the variables appearing in the rule body, in
// first-occurrence order.
func (r *Rule) BodyVars() []term.Var {
	seen := make(map[term.Var]struct{})
	var vars []term.Var
	for _, atom := range r.Body {
		for _, v := range atom.Vars() {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				vars = append(vars, v)
			}
		}
	}
	return vars
}

// RoleSubstitution returns the fixed bindings the head carries beyond
// what the body derives.
func (r *Rule) RoleSubstitution() term.Substitution {
	return r.HeadBindings
}

// RequiresMaterialisation reports whether applying this rule to the
// given atom must persist a new fact rather than produce a virtual
// answer. This holds when the rule is flagged as materialising, or
// when the head introduces variables the body and head bindings leave
// free: such an answer names a fresh instance that has to exist in the
// store.
func (r *Rule) RequiresMaterialisation(atom query.Atom) bool {
	if r.Materialise {
		return true
	}
	bound := make(map[term.Var]struct{})
	for _, v := range r.BodyVars() {
		bound[v] = struct{}{}
	}
	for _, v := range r.HeadBindings.Vars() {
		bound[v] = struct{}{}
	}
	for _, v := range r.Head.Vars() {
		if _, ok := bound[v]; !ok {
			return true
		}
	}
	return false
}

// String renders the rule as "head :- body1, body2".
func (r *Rule) String() string {
	s := r.Head.String() + " :- "
	for i, atom := range r.Body {
		if i > 0 {
			s += ", "
		}
		s += atom.String()
	}
	return s
}

// Match pairs a rule with the ways its head unifies onto a queried
// atom.
type Match struct {
	Rule         *Rule
	Unifications []query.AtomUnification
}

// Index holds rules grouped by head predicate for applicability
// lookups.
type Index struct {
	byPredicate map[string][]*Rule
}

// NewIndex builds an index over the given rules.
func NewIndex(rules ...*Rule) *Index {
	ix := &Index{byPredicate: make(map[string][]*Rule)}
	for _, r := range rules {
		ix.Add(r)
	}
	return ix
}

// Add registers a rule.
func (ix *Index) Add(r *Rule) {
	ix.byPredicate[r.Head.Predicate] = append(ix.byPredicate[r.Head.Predicate], r)
}

// Rules returns all indexed rules.
func (ix *Index) Rules() []*Rule {
	var out []*Rule
	for _, rules := range ix.byPredicate {
		out = append(out, rules...)
	}
	return out
}

// ApplicableTo returns the rules whose head unifies with the atom,
// together with every head-to-atom unification.
func (ix *Index) ApplicableTo(atom query.Atom) []Match {
	var matches []Match
	for _, r := range ix.byPredicate[atom.Predicate] {
		if us := query.UnifyAtoms(r.Head, atom); len(us) > 0 {
			matches = append(matches, Match{Rule: r, Unifications: us})
		}
	}
	return matches
}
