package resolve

import (
	"context"

	"github.com/cognicore/reson/pkg/reson/cache"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/rule"
	"github.com/cognicore/reson/pkg/reson/term"
	"github.com/cognicore/reson/pkg/reson/unify"
)

// AtomicState resolves one atomic query: it decides whether an
// incoming answer needs further processing and folds child answers
// into a cached, deduplicated result before handing it to the parent.
type AtomicState struct {
	query   *query.Atomic
	sub     term.Substitution
	unifier unify.Unifier
	parent  AnswerConsumer
	session *Session

	// Both derived lazily, once per state lifetime. The query's
	// equivalence class never changes, so neither does either value.
	cacheUnifier *unify.MultiUnifier
	cacheEntry   *cache.Entry
}

// NewAtomicState creates a state resolving q narrowed by sub,
// reporting to parent through the given unifier.
func NewAtomicState(q *query.Atomic, sub term.Substitution, u unify.Unifier, parent AnswerConsumer, session *Session) *AtomicState {
	return &AtomicState{
		query:   q.WithSubstitution(sub),
		sub:     sub,
		unifier: u,
		parent:  parent,
		session: session,
	}
}

// Query returns the query being resolved (with its narrowing applied).
func (s *AtomicState) Query() *query.Atomic { return s.query }

// Substitution returns the narrowing this state was created with.
func (s *AtomicState) Substitution() term.Substitution { return s.sub }

// Unifier returns the unifier into the parent's frame.
func (s *AtomicState) Unifier() unify.Unifier { return s.unifier }

// Parent returns the parent state.
func (s *AtomicState) Parent() AnswerConsumer { return s.parent }

// PropagateAnswer decides what happens to a finalized answer: nothing
// (empty answers are dead ends), role expansion (rule-produced answers
// on atoms that bind relation roles through variables), or bubbling to
// the parent. Pure transition, no side effects.
func (s *AtomicState) PropagateAnswer(ans *AnswerState) ResolutionState {
	if ans.Substitution().IsEmpty() {
		return nil
	}
	if ans.Rule() != nil && s.query.Atom().RequiresRoleExpansion() {
		// The expansion state reports back to this state, not to our
		// parent: expanded answers must still pass through
		// ConsumeAnswer here or they would bypass the cache.
		return NewRoleExpansionState(ans.Substitution(), s.unifier, s.query.Atom().RoleExpansionVars(), s)
	}
	return NewAnswerState(ans.Substitution(), s.unifier, s.parent)
}

// ConsumeAnswer finalizes a child answer for this query: a direct
// merge for base facts, a virtual or materialised derivation for rule
// answers. Non-empty results are recorded in the cache; empty results
// never touch it.
func (s *AtomicState) ConsumeAnswer(ctx context.Context, ans *AnswerState) (term.Substitution, error) {
	base := ans.Substitution()
	r := ans.Rule()
	u := ans.Unifier()

	var answer term.Substitution
	switch {
	case r == nil:
		if base.IsEmpty() {
			return term.Empty(), nil
		}
		answer = term.Merge(base, s.query.Substitution()).Project(s.query.Vars())
		if !answer.IsEmpty() && answer.Explanation() == nil {
			answer = answer.WithExplanation(term.Explanation{
				Kind:    term.ExplLookup,
				Pattern: s.query.Pattern().String(),
			})
		}
	case r.RequiresMaterialisation(s.query.Atom()):
		var err error
		answer, err = s.materialisedAnswer(ctx, base, r, u)
		if err != nil {
			return term.Empty(), err
		}
	default:
		answer = s.ruleAnswer(base, r, u)
	}
	return s.recordAnswer(answer)
}

// ruleAnswer synthesizes a virtual rule answer purely from
// substitutions: no store write happens. An empty base is legitimate
// when the rule head binds no body variables (a ground head); only a
// conflict collapsing a non-empty input kills the branch, since the
// query's own narrowing may still carry the answer's bindings.
func (s *AtomicState) ruleAnswer(base term.Substitution, r *rule.Rule, u unify.Unifier) term.Substitution {
	merged := term.Merge(base, r.RoleSubstitution())
	if merged.IsEmpty() && !base.IsEmpty() {
		return term.Empty()
	}
	applied := u.Apply(merged)
	if applied.IsEmpty() && !merged.IsEmpty() {
		return term.Empty()
	}
	answer := term.Merge(applied, s.query.Substitution()).Project(s.query.Vars())
	if answer.IsEmpty() {
		return answer
	}
	return answer.WithExplanation(term.Explanation{
		Kind:    term.ExplRule,
		RuleID:  r.ID,
		Pattern: s.query.Pattern().String(),
	})
}

// materialisedAnswer constructs a durable derived fact while ensuring
// that the same derivation is never written twice: the cache (and,
// through it, the store) is probed under both the rule head and the
// query before anything is persisted.
func (s *AtomicState) materialisedAnswer(ctx context.Context, base term.Substitution, r *rule.Rule, u unify.Unifier) (term.Substitution, error) {
	q := s.query
	qc := s.session.Cache

	headSub := term.Merge(base, r.RoleSubstitution())
	subbed := q.WithSubstitution(base)
	head := query.NewAtomic(r.Head, headSub)

	// The smaller frame is authoritative when the query has fewer
	// variables than the head.
	var frame []term.Var
	if len(q.Vars()) < len(head.Vars()) {
		frame = u.Keys()
	} else {
		frame = head.Vars()
	}

	headEquiv := subbed.EquivalentTo(head)

	// Probe 1: is the specific answer to the rule head already known?
	found, err := qc.FindAnswer(ctx, head, headSub)
	if err != nil {
		return term.Empty(), err
	}
	headAnswer := u.Apply(found.Project(frame))

	// Probe 2: if not, and the subbed query is the same class as the
	// head, the answer may be known under the query itself.
	queryAnswer := term.Empty()
	if headAnswer.IsEmpty() && headEquiv {
		queryAnswer, err = qc.FindAnswer(ctx, q, base)
		if err != nil {
			return term.Empty(), err
		}
	}

	expl := term.Explanation{Kind: term.ExplRule, RuleID: r.ID, Pattern: q.Pattern().String()}

	var answer term.Substitution
	if headAnswer.IsEmpty() && queryAnswer.IsEmpty() {
		// Nothing covers this derivation: materialise exactly once.
		materialised, ok, err := s.session.Store.Materialise(ctx, r.Head, headSub)
		if err != nil {
			return term.Empty(), err
		}
		if ok {
			if !headEquiv {
				// Key an explained copy under the head too, so a
				// future query matching the head directly finds it.
				if _, err := qc.Record(head, materialised.WithExplanation(expl), nil, nil); err != nil {
					return term.Empty(), err
				}
			}
			answer = u.Apply(materialised.Project(frame))
		}
	} else if headAnswer.IsEmpty() {
		answer = queryAnswer
	} else {
		answer = headAnswer
	}

	if answer.IsEmpty() {
		return answer, nil
	}
	return term.Merge(answer, q.Substitution()).WithExplanation(expl), nil
}

// getCacheUnifier memoizes the unifier translating answers between
// this query and its equivalence class representative.
func (s *AtomicState) getCacheUnifier() (unify.MultiUnifier, error) {
	if s.cacheUnifier == nil {
		mu, err := s.session.Cache.CacheUnifier(s.query)
		if err != nil {
			return unify.MultiUnifier{}, err
		}
		s.cacheUnifier = &mu
	}
	return *s.cacheUnifier, nil
}

// recordAnswer records a non-empty answer in the cache, binding and
// reusing this state's cache entry. Empty answers are never recorded.
func (s *AtomicState) recordAnswer(answer term.Substitution) (term.Substitution, error) {
	if answer.IsEmpty() {
		return answer, nil
	}
	if s.cacheEntry == nil {
		entry, err := s.session.Cache.Record(s.query, answer, nil, nil)
		if err != nil {
			return term.Empty(), err
		}
		s.cacheEntry = entry
		return answer, nil
	}
	mu, err := s.getCacheUnifier()
	if err != nil {
		return term.Empty(), err
	}
	if _, err := s.session.Cache.Record(s.query, answer, s.cacheEntry, &mu); err != nil {
		return term.Empty(), err
	}
	return answer, nil
}
