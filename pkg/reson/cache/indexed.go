package cache

import (
	"sort"

	"github.com/cognicore/reson/pkg/reson/term"
)

// IndexedAnswerSet is the per-equivalence-class set of known answers,
// indexed per variable binding so that compatibility and subsumption
// checks do not scan the whole set.
type IndexedAnswerSet struct {
	answers map[string]term.Substitution
	// index: variable -> concept ID -> answer keys binding it
	index map[term.Var]map[string]map[string]struct{}
}

// NewIndexedAnswerSet creates an empty answer set.
func NewIndexedAnswerSet() *IndexedAnswerSet {
	return &IndexedAnswerSet{
		answers: make(map[string]term.Substitution),
		index:   make(map[term.Var]map[string]map[string]struct{}),
	}
}

// Len returns the number of stored answers.
func (s *IndexedAnswerSet) Len() int {
	return len(s.answers)
}

// Insert adds an answer unless an equal or subsuming answer already
// exists. Returns whether the answer was actually stored. This is the
// deduplication point every record operation funnels through.
func (s *IndexedAnswerSet) Insert(a term.Substitution) bool {
	if a.IsEmpty() {
		return false
	}
	key := a.Key()
	if _, ok := s.answers[key]; ok {
		return false
	}
	if s.subsumed(a) {
		return false
	}
	s.answers[key] = a
	for v, c := range a.Bindings() {
		byConcept := s.index[v]
		if byConcept == nil {
			byConcept = make(map[string]map[string]struct{})
			s.index[v] = byConcept
		}
		keys := byConcept[c.ID]
		if keys == nil {
			keys = make(map[string]struct{})
			byConcept[c.ID] = keys
		}
		keys[key] = struct{}{}
	}
	return true
}

// subsumed reports whether an existing answer carries all of the
// candidate's bindings (and possibly more).
func (s *IndexedAnswerSet) subsumed(a term.Substitution) bool {
	vars := a.Vars()
	first, ok := a.Get(vars[0])
	if !ok {
		return false
	}
	candidates := s.index[vars[0]][first.ID]
	for key := range candidates {
		existing := s.answers[key]
		if covers(existing, a) {
			return true
		}
	}
	return false
}

// covers reports whether answer a binds every variable of b to the
// same concept.
func covers(a, b term.Substitution) bool {
	for v, c := range b.Bindings() {
		ac, ok := a.Get(v)
		if !ok || ac.ID != c.ID {
			return false
		}
	}
	return true
}

// FindCompatible returns a stored answer that agrees with the given
// partial binding on every variable they share, preferring answers
// that bind all of the partial's variables. Deterministic: the
// smallest answer key wins.
func (s *IndexedAnswerSet) FindCompatible(partial term.Substitution) (term.Substitution, bool) {
	if len(s.answers) == 0 {
		return term.Empty(), false
	}
	if partial.IsEmpty() {
		keys := s.sortedKeys()
		return s.answers[keys[0]], true
	}
	vars := partial.Vars()
	c, _ := partial.Get(vars[0])
	candidates := s.index[vars[0]][c.ID]
	keys := make([]string, 0, len(candidates))
	for key := range candidates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if covers(s.answers[key], partial) {
			return s.answers[key], true
		}
	}
	return term.Empty(), false
}

// All returns the stored answers in deterministic order.
func (s *IndexedAnswerSet) All() []term.Substitution {
	keys := s.sortedKeys()
	out := make([]term.Substitution, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.answers[key])
	}
	return out
}

func (s *IndexedAnswerSet) sortedKeys() []string {
	keys := make([]string, 0, len(s.answers))
	for key := range s.answers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
