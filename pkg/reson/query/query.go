package query

import (
	"github.com/cognicore/reson/pkg/reson/term"
	"github.com/cognicore/reson/pkg/reson/unify"
)

// Atomic is an irreducible query unit: an atom pattern plus an
// optional partial binding of its variables. Atomic queries are
// immutable; the equivalence-class key is computed at construction.
type Atomic struct {
	atom Atom
	sub  term.Substitution
	key  string
}

// NewAtomic builds an atomic query. The substitution is projected onto
// the atom's variables; bindings of foreign variables are irrelevant
// to this query's identity.
func NewAtomic(atom Atom, sub term.Substitution) *Atomic {
	sub = sub.Project(atom.Vars())
	return &Atomic{
		atom: atom,
		sub:  sub,
		key:  atom.Apply(sub).canonicalKey(),
	}
}

// WithSubstitution returns the query narrowed by an additional partial
// binding. A binding conflict collapses to the unsubstituted query's
// dead-branch form (empty substitution).
func (q *Atomic) WithSubstitution(sub term.Substitution) *Atomic {
	if sub.IsEmpty() {
		return q
	}
	return NewAtomic(q.atom, term.Merge(q.sub, sub))
}

// Atom returns the original (unsubstituted) pattern.
func (q *Atomic) Atom() Atom {
	return q.atom
}

// Pattern returns the effective pattern with the query's substitution
// applied.
func (q *Atomic) Pattern() Atom {
	return q.atom.Apply(q.sub)
}

// Substitution returns the query's partial binding.
func (q *Atomic) Substitution() term.Substitution {
	return q.sub
}

// Vars returns the variables of the original pattern.
func (q *Atomic) Vars() []term.Var {
	return q.atom.Vars()
}

// UnboundVars returns the pattern variables not fixed by the query's
// substitution.
func (q *Atomic) UnboundVars() []term.Var {
	var out []term.Var
	for _, v := range q.atom.Vars() {
		if _, ok := q.sub.Get(v); !ok {
			out = append(out, v)
		}
	}
	return out
}

// Key returns the equivalence-class key: the canonical form of the
// effective pattern, identical for all queries that are structurally
// the same up to variable renaming and implied substitution.
func (q *Atomic) Key() string {
	return q.key
}

// EquivalentTo reports whether two queries fall into the same
// equivalence class. The relation is reflexive, symmetric and
// transitive by construction (key equality).
func (q *Atomic) EquivalentTo(o *Atomic) bool {
	return q.key == o.key
}

// String renders the effective pattern.
func (q *Atomic) String() string {
	return q.Pattern().String()
}

// AtomUnification is one way of unifying a source atom onto a target
// atom. Unifier renames source variables into the target's space;
// Bindings fixes source variables that fall onto target constants;
// TargetBindings fixes target variables that fall onto source
// constants.
type AtomUnification struct {
	Unifier        unify.Unifier
	Bindings       term.Substitution
	TargetBindings term.Substitution
}

// UnifyAtoms computes every way to unify atom a onto atom b.
// Positional arguments match by position; role-qualified arguments
// match as a bijection compatible with role labels, so atoms with
// interchangeable roles may unify in more than one way. Returns nil
// when the atoms cannot be unified.
func UnifyAtoms(a, b Atom) []AtomUnification {
	if a.Predicate != b.Predicate || len(a.Args) != len(b.Args) {
		return nil
	}
	var aPos, bPos, aQual, bQual []Arg
	for _, arg := range a.Args {
		if arg.HasRole() {
			aQual = append(aQual, arg)
		} else {
			aPos = append(aPos, arg)
		}
	}
	for _, arg := range b.Args {
		if arg.HasRole() {
			bQual = append(bQual, arg)
		} else {
			bPos = append(bPos, arg)
		}
	}
	if len(aPos) != len(bPos) || len(aQual) != len(bQual) {
		return nil
	}

	base := newUnifyState()
	for i := range aPos {
		var ok bool
		base, ok = base.matchPlayers(aPos[i], bPos[i])
		if !ok {
			return nil
		}
	}

	var results []AtomUnification
	seen := make(map[string]struct{})
	used := make([]bool, len(bQual))

	var assign func(i int, st unifyState)
	assign = func(i int, st unifyState) {
		if i == len(aQual) {
			u := st.unification()
			k := u.Unifier.Key() + "|" + u.Bindings.Key() + "|" + u.TargetBindings.Key()
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				results = append(results, u)
			}
			return
		}
		for j := range bQual {
			if used[j] {
				continue
			}
			next, ok := st.matchRoles(aQual[i], bQual[j])
			if !ok {
				continue
			}
			next, ok = next.matchPlayers(aQual[i], bQual[j])
			if !ok {
				continue
			}
			used[j] = true
			assign(i+1, next)
			used[j] = false
		}
	}
	assign(0, base)
	return results
}

// EquivalenceUnifiers returns the pure variable renamings between two
// atoms of the same equivalence class: unifications with no constant
// bindings in either direction and an injective variable mapping.
func EquivalenceUnifiers(a, b Atom) unify.MultiUnifier {
	var pure []unify.Unifier
	for _, u := range UnifyAtoms(a, b) {
		if !u.Bindings.IsEmpty() || !u.TargetBindings.IsEmpty() {
			continue
		}
		if !injective(u.Unifier) {
			continue
		}
		pure = append(pure, u.Unifier)
	}
	return unify.NewMulti(pure...)
}

// EquivalentUnifiers returns the variable renamings between two
// equivalent queries, mapping a's variables onto b's. Variables fixed
// by a query's substitution participate in the mapping as
// constant-constrained slots, so answers over them translate across
// the class as well.
func EquivalentUnifiers(a, b *Atomic) unify.MultiUnifier {
	return EquivalenceUnifiers(a.annotated(), b.annotated())
}

// annotated renders the query's atom with substitution-bound variables
// kept as variables constrained to their concept (Var and Value both
// set). Used only for unifier computation, never for class keys.
func (q *Atomic) annotated() Atom {
	if q.sub.IsEmpty() {
		return q.atom
	}
	args := make([]Arg, len(q.atom.Args))
	for i, arg := range q.atom.Args {
		out := arg
		if arg.Var != "" {
			if c, ok := q.sub.Get(arg.Var); ok {
				out.Value = c
			}
		}
		if arg.RoleVar != "" {
			if c, ok := q.sub.Get(arg.RoleVar); ok {
				out.RoleVar = ""
				out.Role = c.Label
			}
		}
		args[i] = out
	}
	return Atom{Predicate: q.atom.Predicate, Args: args}
}

func injective(u unify.Unifier) bool {
	seen := make(map[term.Var]struct{})
	for _, from := range u.Keys() {
		to, _ := u.Get(from)
		if _, dup := seen[to]; dup {
			return false
		}
		seen[to] = struct{}{}
	}
	return true
}

// unifyState is an immutable accumulator for the backtracking match;
// every extension copies, so sibling branches never interfere.
type unifyState struct {
	mapping  map[term.Var]term.Var
	bindings map[term.Var]term.Concept
	target   map[term.Var]term.Concept
}

func newUnifyState() unifyState {
	return unifyState{
		mapping:  map[term.Var]term.Var{},
		bindings: map[term.Var]term.Concept{},
		target:   map[term.Var]term.Concept{},
	}
}

func (st unifyState) clone() unifyState {
	out := newUnifyState()
	for k, v := range st.mapping {
		out.mapping[k] = v
	}
	for k, v := range st.bindings {
		out.bindings[k] = v
	}
	for k, v := range st.target {
		out.target[k] = v
	}
	return out
}

func (st unifyState) mapVar(from, to term.Var) (unifyState, bool) {
	if existing, ok := st.mapping[from]; ok {
		return st, existing == to
	}
	if _, ok := st.bindings[from]; ok {
		return st, false
	}
	next := st.clone()
	next.mapping[from] = to
	return next, true
}

func (st unifyState) bindVar(v term.Var, c term.Concept) (unifyState, bool) {
	if existing, ok := st.bindings[v]; ok {
		return st, existing.ID == c.ID
	}
	if _, ok := st.mapping[v]; ok {
		return st, false
	}
	next := st.clone()
	next.bindings[v] = c
	return next, true
}

func (st unifyState) bindTarget(v term.Var, c term.Concept) (unifyState, bool) {
	if existing, ok := st.target[v]; ok {
		return st, existing.ID == c.ID
	}
	next := st.clone()
	next.target[v] = c
	return next, true
}

// constrained reports whether the argument is a variable fixed to a
// concept (annotated form used for equivalence unifiers).
func constrained(a Arg) bool {
	return a.Var != "" && a.Value.ID != ""
}

func (st unifyState) matchPlayers(a, b Arg) (unifyState, bool) {
	switch {
	case constrained(a) && constrained(b):
		if a.Value.ID != b.Value.ID {
			return st, false
		}
		return st.mapVar(a.Var, b.Var)
	case constrained(a) && !b.IsVar():
		return st, a.Value.ID == b.Value.ID
	case constrained(b) && !a.IsVar():
		return st, a.Value.ID == b.Value.ID
	case constrained(a) || constrained(b):
		// A fixed variable never renames onto a free one.
		return st, false
	case a.IsVar() && b.IsVar():
		return st.mapVar(a.Var, b.Var)
	case a.IsVar():
		return st.bindVar(a.Var, b.Value)
	case b.IsVar():
		return st.bindTarget(b.Var, a.Value)
	default:
		return st, a.Value.ID == b.Value.ID
	}
}

func (st unifyState) matchRoles(a, b Arg) (unifyState, bool) {
	switch {
	case a.RoleVar != "" && b.RoleVar != "":
		return st.mapVar(a.RoleVar, b.RoleVar)
	case a.RoleVar != "":
		return st.bindVar(a.RoleVar, term.NewConcept(b.Role))
	case b.RoleVar != "":
		return st.bindTarget(b.RoleVar, term.NewConcept(a.Role))
	default:
		return st, a.Role == b.Role
	}
}

func (st unifyState) unification() AtomUnification {
	return AtomUnification{
		Unifier:        unify.New(st.mapping),
		Bindings:       term.NewSubstitution(st.bindings),
		TargetBindings: term.NewSubstitution(st.target),
	}
}
