package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
)

// Store is an in-memory implementation of store.Store for tests and
// examples.
type Store struct {
	mu          sync.RWMutex
	ids         *store.IDSource
	facts       map[string]store.Fact // fact key -> fact
	byPredicate map[string][]string   // predicate -> fact keys, insertion order
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		ids:         store.NewIDSource(),
		facts:       make(map[string]store.Fact),
		byPredicate: make(map[string][]string),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Assert persists a fact, keyed on its canonical form.
func (s *Store) Assert(ctx context.Context, f store.Fact) (store.Fact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := f.Key()
	if existing, ok := s.facts[key]; ok {
		return existing, false, nil
	}
	if f.ID == "" {
		f.ID = s.ids.New()
	}
	s.facts[key] = f
	s.byPredicate[f.Predicate] = append(s.byPredicate[f.Predicate], key)
	return f, true, nil
}

// Lookup returns every binding of the atom's variables for which a
// matching fact exists.
func (s *Store) Lookup(ctx context.Context, atom query.Atom, sub term.Substitution) ([]term.Substitution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := atom.Apply(sub)
	var out []term.Substitution
	seen := make(map[string]struct{})
	for _, key := range s.byPredicate[atom.Predicate] {
		for _, m := range store.MatchAtom(pattern, s.facts[key]) {
			answer := term.Merge(m, sub).Project(atom.Vars())
			if answer.IsEmpty() {
				continue
			}
			if _, dup := seen[answer.Key()]; dup {
				continue
			}
			seen[answer.Key()] = struct{}{}
			out = append(out, answer)
		}
	}
	return out, nil
}

// Materialise produces the first concrete fact for the atom under the
// substitution, inserting it when it does not exist yet.
func (s *Store) Materialise(ctx context.Context, atom query.Atom, sub term.Substitution) (term.Substitution, bool, error) {
	pattern := atom.Apply(sub)
	if pattern.RequiresRoleExpansion() {
		// An unresolved variable role cannot name a concrete fact.
		return term.Empty(), false, nil
	}

	// Reuse an existing fact before minting anything new.
	existing, err := s.Lookup(ctx, atom, sub)
	if err != nil {
		return term.Empty(), false, err
	}
	if len(existing) > 0 {
		return term.Merge(existing[0], sub).Project(atom.Vars()), true, nil
	}

	full := sub
	if !pattern.IsGround() {
		minted := make(map[term.Var]term.Concept)
		for _, v := range pattern.Vars() {
			minted[v] = term.NewConcept(s.newID())
		}
		full = term.Merge(sub, term.NewSubstitution(minted))
	}
	fact, err := store.FromAtom(atom.Apply(full))
	if err != nil {
		return term.Empty(), false, err
	}
	fact.Derived = true
	if _, _, err := s.Assert(ctx, fact); err != nil {
		return term.Empty(), false, err
	}
	return full.Project(atom.Vars()), true, nil
}

// Roles returns the role labels attested for a predicate.
func (s *Store) Roles(ctx context.Context, predicate string) ([]term.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, key := range s.byPredicate[predicate] {
		for _, arg := range s.facts[key].Args {
			if arg.Role != "" {
				seen[arg.Role] = struct{}{}
			}
		}
	}
	labels := make([]string, 0, len(seen))
	for role := range seen {
		labels = append(labels, role)
	}
	sort.Strings(labels)
	out := make([]term.Concept, len(labels))
	for i, label := range labels {
		out[i] = term.NewConcept(label)
	}
	return out, nil
}

// Contains reports whether the fact exists.
func (s *Store) Contains(ctx context.Context, f store.Fact) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.facts[f.Key()]
	return ok, nil
}

// CountFacts returns the number of persisted facts.
func (s *Store) CountFacts(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.facts)), nil
}

func (s *Store) newID() string {
	return s.ids.New()
}
