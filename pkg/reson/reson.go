// Package reson exposes the deductive query engine facade: assert
// ground facts, register derivation rules, and ask atomic queries that
// are answered from facts, rules and the semantic answer cache.
package reson

import (
	"context"
	"fmt"

	"github.com/cognicore/reson/pkg/reson/cache"
	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/resolve"
	"github.com/cognicore/reson/pkg/reson/rule"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
)

// Engine is the main query engine facade. The semantic cache lives as
// long as the engine, so answers derived for one query are reused by
// later equivalent or more specific queries.
type Engine struct {
	store store.Store
	cache *cache.SemanticCache
	rules *rule.Index
}

// Options configures an Engine instance.
type Options struct {
	Store store.Store
	Rules []*rule.Rule

	// UnifierCacheSize bounds the memoized query-to-representative
	// unifiers. Zero selects the default.
	UnifierCacheSize int
}

// New creates an Engine with the given dependencies.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", internalerr.ErrInvalidConfig)
	}
	size := opts.UnifierCacheSize
	if size <= 0 {
		size = cache.DefaultUnifierCacheSize
	}
	idx := rule.NewIndex()
	for _, r := range opts.Rules {
		idx.Add(r)
	}
	return &Engine{
		store: opts.Store,
		cache: cache.New(opts.Store, size),
		rules: idx,
	}, nil
}

// Close cleanly shuts down the engine.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the underlying fact store.
func (e *Engine) Store() store.Store { return e.store }

// AddRule registers an additional derivation rule. Answers already
// cached are unaffected; new derivations apply from the next query.
func (e *Engine) AddRule(r *rule.Rule) {
	e.rules.Add(r)
}

// Assert parses and persists a ground fact, e.g.
// "parent(alice, bob)". Returns the stored fact and whether it was new.
func (e *Engine) Assert(ctx context.Context, pattern string) (store.Fact, bool, error) {
	atom, err := query.ParseAtom(pattern)
	if err != nil {
		return store.Fact{}, false, err
	}
	fact, err := store.FromAtom(atom)
	if err != nil {
		return store.Fact{}, false, err
	}
	return e.store.Assert(ctx, fact)
}

// Answer is one resolved binding of a query's variables, along with
// how it was obtained.
type Answer struct {
	Bindings    map[term.Var]term.Concept
	Explanation *term.Explanation
}

// Query resolves a textual atomic query and returns every answer. A
// ground query returns a single binding-free answer when it holds and
// no answers when it does not.
func (e *Engine) Query(ctx context.Context, pattern string) ([]Answer, error) {
	atom, err := query.ParseAtom(pattern)
	if err != nil {
		return nil, err
	}
	return e.QueryAtom(ctx, atom)
}

// QueryAtom is Query over an already-parsed atom.
func (e *Engine) QueryAtom(ctx context.Context, atom query.Atom) ([]Answer, error) {
	// Ground atoms carry no variables for answers to bind; generalize
	// one argument so resolution has a frame to work in, then check
	// that the generalized position resolves back to the constant.
	if atom.IsGround() {
		return e.queryGround(ctx, atom)
	}

	session := resolve.NewSession(e.cache, e.store, e.rules)
	resolver := resolve.NewResolver(session)
	subs, err := resolver.Resolve(ctx, query.NewAtomic(atom, term.Empty()))
	if err != nil {
		return nil, err
	}

	answers := make([]Answer, 0, len(subs))
	for _, s := range subs {
		answers = append(answers, Answer{
			Bindings:    s.Project(atom.Vars()).Bindings(),
			Explanation: s.Explanation(),
		})
	}
	return answers, nil
}

func (e *Engine) queryGround(ctx context.Context, atom query.Atom) ([]Answer, error) {
	general, probe, want := query.Generalize(atom)

	session := resolve.NewSession(e.cache, e.store, e.rules)
	resolver := resolve.NewResolver(session)
	subs, err := resolver.Resolve(ctx, query.NewAtomic(general, term.Empty()))
	if err != nil {
		return nil, err
	}

	for _, s := range subs {
		if c, ok := s.Get(probe); ok && c.ID == want.ID {
			return []Answer{{Explanation: s.Explanation()}}, nil
		}
	}
	return nil, nil
}
