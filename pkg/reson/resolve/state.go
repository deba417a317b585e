// Package resolve implements the atomic resolution state machine: the
// states a single atomic query moves through while its answers are
// derived, deduplicated, cached and propagated up the resolution tree.
package resolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/cognicore/reson/pkg/reson/cache"
	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/rule"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
	"github.com/cognicore/reson/pkg/reson/unify"
)

// ResolutionState is a node in the resolution tree. States are created
// per resolution attempt and discarded after their single
// answer-producing pass; only the cache outlives them.
type ResolutionState interface {
	Parent() AnswerConsumer
}

// AnswerConsumer finalizes child answers for its own query: merging,
// deriving, materialising and caching before the answer moves on.
type AnswerConsumer interface {
	ConsumeAnswer(ctx context.Context, ans *AnswerState) (term.Substitution, error)
	Query() *query.Atomic
}

// AnswerState is the terminal carrier of one resolved answer: the
// substitution itself, the rule that produced it (nil for base facts),
// the unifier into the target frame, and the parent it reports to.
type AnswerState struct {
	sub     term.Substitution
	rule    *rule.Rule
	unifier unify.Unifier
	parent  AnswerConsumer
}

// NewAnswerState wraps a base-fact answer (no rule).
func NewAnswerState(sub term.Substitution, u unify.Unifier, parent AnswerConsumer) *AnswerState {
	return &AnswerState{sub: sub, unifier: u, parent: parent}
}

// NewRuleAnswerState wraps an answer produced by a rule application.
func NewRuleAnswerState(sub term.Substitution, r *rule.Rule, u unify.Unifier, parent AnswerConsumer) *AnswerState {
	return &AnswerState{sub: sub, rule: r, unifier: u, parent: parent}
}

// Substitution returns the carried answer.
func (s *AnswerState) Substitution() term.Substitution { return s.sub }

// Rule returns the rule that produced the answer, or nil.
func (s *AnswerState) Rule() *rule.Rule { return s.rule }

// Unifier returns the unifier into the target frame.
func (s *AnswerState) Unifier() unify.Unifier { return s.unifier }

// Parent returns the state this answer targets.
func (s *AnswerState) Parent() AnswerConsumer { return s.parent }

// Guard is the shared set of query keys currently being resolved,
// preventing infinite recursion through cyclic rule definitions. One
// guard is shared by reference across a whole resolution tree.
//
// Obligations: whoever begins resolving a query must end it, and only
// after all of its answers have been exhausted.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// Begin marks a query as in flight. Returns false when the query is
// already being resolved (a cycle).
func (g *Guard) Begin(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[key]; ok {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

// End removes a query from the in-flight set. Ending a query that was
// never begun is an internal-logic fault.
func (g *Guard) End(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[key]; !ok {
		return fmt.Errorf("%w: end of %q which is not in flight", internalerr.ErrGuardViolation, key)
	}
	delete(g.inflight, key)
	return nil
}

// Active reports whether a query is currently being resolved.
func (g *Guard) Active(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[key]
	return ok
}

// Session bundles the collaborators shared by every state of one
// resolution tree: the semantic cache, the fact store, the rule index
// and the cycle guard. All states of a tree hold the same session.
type Session struct {
	Cache *cache.SemanticCache
	Store store.Store
	Rules *rule.Index
	Guard *Guard
}

// NewSession creates a session with a fresh cycle guard.
func NewSession(c *cache.SemanticCache, st store.Store, rules *rule.Index) *Session {
	return &Session{Cache: c, Store: st, Rules: rules, Guard: NewGuard()}
}
