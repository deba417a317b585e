package resolve

import (
	"context"
	"fmt"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/rule"
	"github.com/cognicore/reson/pkg/reson/term"
	"github.com/cognicore/reson/pkg/reson/unify"
)

// Resolver walks the resolution tree for atomic queries: base facts
// are streamed from the store, applicable rules are applied with their
// bodies evaluated left to right, and every candidate answer is pumped
// through the owning AtomicState so it gets finalized and cached.
//
// Join-order optimization across body atoms is deliberately absent;
// bodies evaluate in declaration order.
type Resolver struct {
	session *Session
	fresh   int
}

// NewResolver creates a resolver over the session.
func NewResolver(session *Session) *Resolver {
	return &Resolver{session: session}
}

// Session returns the resolver's session.
func (r *Resolver) Session() *Session { return r.session }

// Resolve returns every answer to the atomic query, deduplicated, in
// the query's variable frame.
func (r *Resolver) Resolve(ctx context.Context, q *query.Atomic) ([]term.Substitution, error) {
	return r.resolveAtomic(ctx, q.Atom(), q.Substitution())
}

// collector is the root continuation of one atomic resolution: it
// gathers the answers bubbled out of the state machine.
type collector struct {
	q       *query.Atomic
	answers []term.Substitution
}

func (c *collector) ConsumeAnswer(ctx context.Context, ans *AnswerState) (term.Substitution, error) {
	if !ans.Substitution().IsEmpty() {
		c.answers = append(c.answers, ans.Substitution())
	}
	return ans.Substitution(), nil
}

func (c *collector) Query() *query.Atomic { return c.q }

func (r *Resolver) resolveAtomic(ctx context.Context, atom query.Atom, sub term.Substitution) ([]term.Substitution, error) {
	q := query.NewAtomic(atom, sub)
	key := q.Key()
	if !r.session.Guard.Begin(key) {
		// The query is already being resolved above us. Recursing
		// would loop forever on cyclic rules; reuse what is already
		// known instead.
		known, err := r.session.Cache.KnownAnswers(q)
		if err != nil {
			return nil, err
		}
		base, err := r.session.Store.Lookup(ctx, atom, sub)
		if err != nil {
			return nil, err
		}
		return dedup(append(known, base...)), nil
	}

	answers, err := r.resolveGuarded(ctx, q, atom, sub)
	// The query leaves the in-flight set only once its answers are
	// exhausted, which for this eager driver is right here.
	if endErr := r.session.Guard.End(key); endErr != nil && err == nil {
		err = endErr
	}
	if err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *Resolver) resolveGuarded(ctx context.Context, q *query.Atomic, atom query.Atom, sub term.Substitution) ([]term.Substitution, error) {
	col := &collector{q: q}

	// Base facts: answers the store holds directly, no rule involved.
	st := NewAtomicState(query.NewAtomic(atom, term.Empty()), sub, unify.Identity(), col, r.session)
	base, err := r.session.Store.Lookup(ctx, atom, sub)
	if err != nil {
		return nil, err
	}
	for _, b := range base {
		if err := r.pump(ctx, st, NewAnswerState(b, unify.Identity(), st)); err != nil {
			return nil, err
		}
	}

	// Rule applications: one state per (rule, unification) so that
	// target-side constants narrow the query they answer.
	for _, m := range r.session.Rules.ApplicableTo(st.Query().Pattern()) {
		for _, alt := range m.Unifications {
			narrowed := term.Merge(sub, alt.TargetBindings)
			if narrowed.IsEmpty() && !(sub.IsEmpty() && alt.TargetBindings.IsEmpty()) {
				continue
			}
			rw, u, seed := r.rewrite(m.Rule, alt)
			bodySeed := term.Merge(seed, rw.HeadBindings)
			if bodySeed.IsEmpty() && !(seed.IsEmpty() && rw.HeadBindings.IsEmpty()) {
				continue
			}

			bodySubs, err := r.resolveConjunction(ctx, rw.Body, bodySeed)
			if err != nil {
				return nil, err
			}

			rst := NewAtomicState(query.NewAtomic(atom, term.Empty()), narrowed, unify.Identity(), col, r.session)
			headVars := rw.Head.Vars()
			for _, bs := range bodySubs {
				cand := NewRuleAnswerState(bs.Project(headVars), rw, u, rst)
				if err := r.pump(ctx, rst, cand); err != nil {
					return nil, err
				}
			}
		}
	}

	return dedup(col.answers), nil
}

// pump runs one candidate answer through the state's consume/propagate
// cycle, including role expansion when the atom calls for it.
func (r *Resolver) pump(ctx context.Context, st *AtomicState, cand *AnswerState) error {
	final, err := st.ConsumeAnswer(ctx, cand)
	if err != nil {
		return err
	}
	if final.IsEmpty() {
		return nil
	}
	next := st.PropagateAnswer(NewRuleAnswerState(final, cand.Rule(), cand.Unifier(), st))
	if next == nil {
		return nil
	}
	switch n := next.(type) {
	case *RoleExpansionState:
		expanded, err := n.Expand(ctx, r.session.Store)
		if err != nil {
			return err
		}
		for _, e := range expanded {
			widened, err := st.ConsumeAnswer(ctx, e)
			if err != nil {
				return err
			}
			if widened.IsEmpty() {
				continue
			}
			if up, ok := st.PropagateAnswer(NewAnswerState(widened, unify.Identity(), st)).(*AnswerState); ok {
				if _, err := up.Parent().ConsumeAnswer(ctx, up); err != nil {
					return err
				}
			}
		}
		return nil
	case *AnswerState:
		_, err := n.Parent().ConsumeAnswer(ctx, n)
		return err
	default:
		return nil
	}
}

// resolveConjunction evaluates body atoms left to right, threading the
// accumulated substitution through each.
func (r *Resolver) resolveConjunction(ctx context.Context, atoms []query.Atom, seed term.Substitution) ([]term.Substitution, error) {
	if len(atoms) == 0 {
		return []term.Substitution{seed}, nil
	}
	first := atoms[0]
	if first.IsGround() {
		// A variable-free atom binds nothing, so an empty lookup
		// result here means "holds", not "dead branch". Check it
		// directly and thread the seed through untouched.
		holds, err := r.groundHolds(ctx, first)
		if err != nil {
			return nil, err
		}
		if !holds {
			return nil, nil
		}
		return r.resolveConjunction(ctx, atoms[1:], seed)
	}
	answers, err := r.resolveAtomic(ctx, first, seed.Project(first.Vars()))
	if err != nil {
		return nil, err
	}
	var out []term.Substitution
	for _, a := range answers {
		merged := term.Merge(seed, a)
		if merged.IsEmpty() && !seed.IsEmpty() {
			continue
		}
		rest, err := r.resolveConjunction(ctx, atoms[1:], merged)
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}
	return dedup(out), nil
}

// groundHolds reports whether a variable-free atom is derivable from
// facts or rules. One player is widened to a probe variable so
// resolution has a frame to answer in, the same way ground top-level
// queries are asked.
func (r *Resolver) groundHolds(ctx context.Context, atom query.Atom) (bool, error) {
	general, probe, want := query.Generalize(atom)
	answers, err := r.resolveAtomic(ctx, general, term.Empty())
	if err != nil {
		return false, err
	}
	for _, a := range answers {
		if c, ok := a.Get(probe); ok && c.ID == want.ID {
			return true, nil
		}
	}
	return false, nil
}

// rewrite renames a rule into the query's variable frame for one
// head-to-query unification: head variables mapped by the unification
// take the query's names, everything else gets a fresh suffix so rule
// variables never collide with query variables. Returns the rewritten
// rule, the unifier over the now-shared head variables, and the seed
// binding head variables fixed by query constants.
func (r *Resolver) rewrite(rl *rule.Rule, alt query.AtomUnification) (*rule.Rule, unify.Unifier, term.Substitution) {
	r.fresh++
	suffix := fmt.Sprintf("_r%d", r.fresh)

	rename := make(map[term.Var]term.Var)
	shared := make(map[term.Var]term.Var)
	for _, v := range rl.Head.Vars() {
		if to, ok := alt.Unifier.Get(v); ok {
			rename[v] = to
			shared[to] = to
		}
	}
	freshen := func(v term.Var) {
		if _, ok := rename[v]; !ok {
			rename[v] = term.Var(string(v) + suffix)
		}
	}
	for _, v := range rl.Head.Vars() {
		freshen(v)
	}
	for _, atom := range rl.Body {
		for _, v := range atom.Vars() {
			freshen(v)
		}
	}
	for _, v := range rl.HeadBindings.Vars() {
		freshen(v)
	}

	ren := unify.New(rename)
	body := make([]query.Atom, len(rl.Body))
	for i := range rl.Body {
		body[i] = rl.Body[i].Rename(rename)
	}
	rw := &rule.Rule{
		ID:           rl.ID,
		Head:         rl.Head.Rename(rename),
		Body:         body,
		HeadBindings: ren.Apply(rl.HeadBindings),
		Materialise:  rl.Materialise,
	}
	return rw, unify.New(shared), ren.Apply(alt.Bindings)
}

func dedup(subs []term.Substitution) []term.Substitution {
	seen := make(map[string]struct{}, len(subs))
	var out []term.Substitution
	for _, s := range subs {
		if s.IsEmpty() {
			continue
		}
		if _, dup := seen[s.Key()]; dup {
			continue
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
	}
	return out
}
