package cache

import (
	"context"
	"testing"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/store/memstore"
	"github.com/cognicore/reson/pkg/reson/term"
)

func newCache(t *testing.T) (*SemanticCache, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { st.Close() })
	return New(st, 0), st
}

func seed(t *testing.T, st *memstore.Store, facts ...string) {
	t.Helper()
	for _, text := range facts {
		f, err := store.FromAtom(query.MustParseAtom(text))
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := st.Assert(context.Background(), f); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRecordThenFindAnswer(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	q := query.NewAtomic(query.MustParseAtom("ancestor(alice, X)"), term.Empty())
	answer := sub("X", "carol")

	entry, err := c.Record(q, answer, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("First record should return the class entry")
	}

	found, err := c.FindAnswer(ctx, q, term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if c2, _ := found.Get("X"); c2.ID != "carol" {
		t.Errorf("Recorded answer should be found, got %s", found)
	}

	// A compatible partial binding narrows the search.
	found, _ = c.FindAnswer(ctx, q, sub("X", "carol"))
	if found.IsEmpty() {
		t.Error("Agreeing partial should still find the answer")
	}
	found, _ = c.FindAnswer(ctx, q, sub("X", "zoe"))
	if !found.IsEmpty() {
		t.Error("Disagreeing partial should find nothing")
	}
}

func TestRecordRejectsEmpty(t *testing.T) {
	c, _ := newCache(t)
	q := query.NewAtomic(query.MustParseAtom("p(X)"), term.Empty())
	if _, err := c.Record(q, term.Empty(), nil, nil); err == nil {
		t.Error("Recording an empty answer should fail")
	}
}

func TestRecordDeduplicatesWithinClass(t *testing.T) {
	c, _ := newCache(t)
	q := query.NewAtomic(query.MustParseAtom("p(X)"), term.Empty())

	entry, err := c.Record(q, sub("X", "alice"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mu, err := c.CacheUnifier(q)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Record(q, sub("X", "alice"), entry, &mu); err != nil {
		t.Fatal(err)
	}
	if entry.Answers().Len() != 1 {
		t.Errorf("Duplicate record should not grow the answer set, got %d", entry.Answers().Len())
	}
}

func TestAnswersTranslateAcrossEquivalentQueries(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	// Record under one variable naming.
	q1 := query.NewAtomic(query.MustParseAtom("ancestor(alice, X)"), term.Empty())
	if _, err := c.Record(q1, sub("X", "carol"), nil, nil); err != nil {
		t.Fatal(err)
	}

	// Read back under a renamed but equivalent query.
	q2 := query.NewAtomic(query.MustParseAtom("ancestor(alice, Who)"), term.Empty())
	if !q1.EquivalentTo(q2) {
		t.Fatal("Queries should share an equivalence class")
	}
	found, err := c.FindAnswer(ctx, q2, term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if c2, _ := found.Get("Who"); c2.ID != "carol" {
		t.Errorf("Answer should translate into the reader's frame, got %s", found)
	}
}

func TestAnswersTranslateThroughBoundVariables(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	// The class representative fixes its first argument by binding.
	q1 := query.NewAtomic(query.MustParseAtom("ancestor(P, X)"), sub("P", "alice"))
	if _, err := c.Record(q1, sub("P", "alice", "X", "carol"), nil, nil); err != nil {
		t.Fatal(err)
	}

	// The reader fixes it by constant.
	q2 := query.NewAtomic(query.MustParseAtom("ancestor(alice, Who)"), term.Empty())
	found, err := c.FindAnswer(ctx, q2, term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if c2, _ := found.Get("Who"); c2.ID != "carol" {
		t.Errorf("Answer should translate across binding styles, got %s", found)
	}
}

func TestFindAnswerFallsThroughToStore(t *testing.T) {
	c, st := newCache(t)
	ctx := context.Background()
	seed(t, st, "parent(alice, bob)")

	// Nothing recorded in the cache; the store has the fact.
	q := query.NewAtomic(query.MustParseAtom("parent(alice, X)"), term.Empty())
	found, err := c.FindAnswer(ctx, q, term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if c2, _ := found.Get("X"); c2.ID != "bob" {
		t.Errorf("Store answer should be found, got %s", found)
	}

	// Unknown fact: empty result, not an error.
	q2 := query.NewAtomic(query.MustParseAtom("parent(zoe, X)"), term.Empty())
	found, err = c.FindAnswer(ctx, q2, term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if !found.IsEmpty() {
		t.Errorf("Unknown query should find nothing, got %s", found)
	}
}

func TestKnownAnswers(t *testing.T) {
	c, _ := newCache(t)

	q1 := query.NewAtomic(query.MustParseAtom("ancestor(alice, X)"), term.Empty())
	if _, err := c.Record(q1, sub("X", "bob"), nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Record(q1, sub("X", "carol"), nil, nil); err != nil {
		t.Fatal(err)
	}

	// All answers, translated into the reader's frame.
	q2 := query.NewAtomic(query.MustParseAtom("ancestor(alice, Who)"), term.Empty())
	known, err := c.KnownAnswers(q2)
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 2 {
		t.Fatalf("Should know 2 answers, got %d", len(known))
	}
	for _, a := range known {
		if _, ok := a.Get("Who"); !ok {
			t.Errorf("Answer should bind Who, got %s", a)
		}
	}

	// Unknown class: nothing known.
	q3 := query.NewAtomic(query.MustParseAtom("parent(alice, X)"), term.Empty())
	known, err = c.KnownAnswers(q3)
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 0 {
		t.Errorf("Unknown class should have no known answers, got %d", len(known))
	}
}
