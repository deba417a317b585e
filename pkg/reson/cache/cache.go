package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
	"github.com/cognicore/reson/pkg/reson/unify"
)

// DefaultUnifierCacheSize bounds the memo of computed cache unifiers.
const DefaultUnifierCacheSize = 512

// Entry binds one query-equivalence-class to its answer set. Entries
// outlive individual resolution passes; a class never changes once
// created, so a state may hold its entry for its whole lifetime.
type Entry struct {
	key       string
	canonical *query.Atomic
	answers   *IndexedAnswerSet

	// mu serializes the probe-then-insert sequence per class, so
	// concurrent writers cannot both miss the dedup check.
	mu sync.Mutex
}

// Key returns the equivalence-class key.
func (e *Entry) Key() string {
	return e.key
}

// Canonical returns the class representative: the first query recorded
// under this class, whose variable frame all stored answers use.
func (e *Entry) Canonical() *query.Atomic {
	return e.canonical
}

// Answers returns the class's answer set.
func (e *Entry) Answers() *IndexedAnswerSet {
	return e.answers
}

// SemanticCache stores known answers per query-equivalence-class and
// translates them between equivalent queries. Reads fall through to
// the persistent store; writes never do (materialisation goes through
// the store directly).
type SemanticCache struct {
	mu      sync.RWMutex
	classes map[string]*Entry

	store    store.Store
	unifiers *lru.Cache[string, unify.MultiUnifier]
}

// New creates a semantic cache over the given store. unifierCacheSize
// bounds the unifier memo; values below 1 fall back to the default.
func New(st store.Store, unifierCacheSize int) *SemanticCache {
	if unifierCacheSize < 1 {
		unifierCacheSize = DefaultUnifierCacheSize
	}
	memo, _ := lru.New[string, unify.MultiUnifier](unifierCacheSize)
	return &SemanticCache{
		classes:  make(map[string]*Entry),
		store:    st,
		unifiers: memo,
	}
}

// entryFor returns the class entry for q, creating it with q as the
// class representative on first use.
func (c *SemanticCache) entryFor(q *query.Atomic) *Entry {
	c.mu.RLock()
	e, ok := c.classes[q.Key()]
	c.mu.RUnlock()
	if ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.classes[q.Key()]; ok {
		return e
	}
	e = &Entry{key: q.Key(), canonical: q, answers: NewIndexedAnswerSet()}
	c.classes[q.Key()] = e
	return e
}

// peek returns the class entry for key without creating one.
func (c *SemanticCache) peek(key string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classes[key]
}

// CacheUnifier returns the unifier(s) mapping q into its class
// representative's variable frame. The result is deterministic for a
// fixed class membership and memoized, since computing it enumerates
// argument alignments.
//
// A query that is equivalent to its representative but admits no
// mapping indicates a broken equivalence classification and is a hard
// failure.
func (c *SemanticCache) CacheUnifier(q *query.Atomic) (unify.MultiUnifier, error) {
	e := c.entryFor(q)
	memoKey := q.String() + "->" + e.canonical.String()
	if mu, ok := c.unifiers.Get(memoKey); ok {
		return mu, nil
	}
	mu := query.EquivalentUnifiers(q, e.canonical)
	if mu.IsEmpty() {
		return mu, fmt.Errorf("%w: %s vs %s", internalerr.ErrNoUnifier, q, e.canonical)
	}
	c.unifiers.Add(memoKey, mu)
	return mu, nil
}

// Record stores a non-empty answer for q, deduplicating inside the
// class's answer set.
//
// With a nil entry the query is classified first (finding or creating
// its class) and the entry is returned for reuse. With an entry and a
// unifier supplied, the answer is translated through the unifier into
// the class's canonical frame before insertion.
func (c *SemanticCache) Record(q *query.Atomic, answer term.Substitution, entry *Entry, mu *unify.MultiUnifier) (*Entry, error) {
	if answer.IsEmpty() {
		return entry, fmt.Errorf("%w: refusing to record empty answer for %s", internalerr.ErrInvalidInput, q)
	}
	if entry == nil {
		e := c.entryFor(q)
		cu, err := c.CacheUnifier(q)
		if err != nil {
			return nil, err
		}
		translated := cu.First().Apply(answer)
		e.mu.Lock()
		e.answers.Insert(translated.Project(e.canonical.Vars()))
		e.mu.Unlock()
		return e, nil
	}
	translated := answer
	if mu != nil {
		translated = mu.First().Apply(answer)
	}
	entry.mu.Lock()
	entry.answers.Insert(translated.Project(entry.canonical.Vars()))
	entry.mu.Unlock()
	return entry, nil
}

// FindAnswer looks up an existing answer to q consistent with the
// given partial binding, first in the class's answer set (translated
// across equivalent queries), then in the persistent store. Returns
// the empty substitution when nothing is known. Read-only: it never
// writes to the store.
func (c *SemanticCache) FindAnswer(ctx context.Context, q *query.Atomic, sub term.Substitution) (term.Substitution, error) {
	partial := sub.Project(q.Vars())
	if e := c.peek(q.Key()); e != nil {
		cu, err := c.CacheUnifier(q)
		if err != nil {
			return term.Empty(), err
		}
		u := cu.First()
		e.mu.Lock()
		found, ok := e.answers.FindCompatible(u.Apply(partial))
		e.mu.Unlock()
		if ok {
			return u.Inverse().Apply(found), nil
		}
	}

	combined := term.Merge(q.Substitution(), partial)
	if combined.IsEmpty() && !(q.Substitution().IsEmpty() && partial.IsEmpty()) {
		// Conflicting bindings: dead branch.
		return term.Empty(), nil
	}
	answers, err := c.store.Lookup(ctx, q.Atom(), combined)
	if err != nil {
		// Store trouble degrades to a failed branch, not a failed
		// resolution pass.
		return term.Empty(), nil
	}
	if len(answers) == 0 {
		return term.Empty(), nil
	}
	return answers[0], nil
}

// KnownAnswers returns the cached answers for q's class translated
// into q's variable frame and consistent with q's own substitution.
// Used when a query is already in flight and recursing is not allowed.
func (c *SemanticCache) KnownAnswers(q *query.Atomic) ([]term.Substitution, error) {
	e := c.peek(q.Key())
	if e == nil {
		return nil, nil
	}
	cu, err := c.CacheUnifier(q)
	if err != nil {
		return nil, err
	}
	inv := cu.First().Inverse()
	e.mu.Lock()
	stored := e.answers.All()
	e.mu.Unlock()
	var out []term.Substitution
	for _, a := range stored {
		translated := inv.Apply(a)
		merged := term.Merge(translated, q.Substitution())
		if merged.IsEmpty() && !translated.IsEmpty() {
			continue
		}
		out = append(out, merged.Project(q.Vars()))
	}
	return out, nil
}
