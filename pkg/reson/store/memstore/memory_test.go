package memstore

import (
	"context"
	"testing"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
)

func assertAtom(t *testing.T, s *Store, text string) store.Fact {
	t.Helper()
	fact, err := store.FromAtom(query.MustParseAtom(text))
	if err != nil {
		t.Fatalf("FromAtom(%q): %v", text, err)
	}
	stored, _, err := s.Assert(context.Background(), fact)
	if err != nil {
		t.Fatalf("Assert(%q): %v", text, err)
	}
	return stored
}

func TestAssertIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := assertAtom(t, s, "parent(alice, bob)")
	if first.ID == "" {
		t.Error("Assert should mint an ID")
	}

	fact, _ := store.FromAtom(query.MustParseAtom("parent(alice, bob)"))
	second, inserted, err := s.Assert(ctx, fact)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("Second assert of the same fact should not insert")
	}
	if second.ID != first.ID {
		t.Error("Second assert should return the existing fact")
	}

	n, _ := s.CountFacts(ctx)
	if n != 1 {
		t.Errorf("Should hold 1 fact, got %d", n)
	}
}

func TestAssertRoleOrderIrrelevant(t *testing.T) {
	s := New()
	assertAtom(t, s, "emp(employer: acme, employee: bob)")
	assertAtom(t, s, "emp(employee: bob, employer: acme)")

	n, _ := s.CountFacts(context.Background())
	if n != 1 {
		t.Errorf("Role order should not duplicate facts, got %d", n)
	}
}

func TestLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	assertAtom(t, s, "parent(alice, bob)")
	assertAtom(t, s, "parent(alice, carol)")
	assertAtom(t, s, "parent(bob, dave)")

	answers, err := s.Lookup(ctx, query.MustParseAtom("parent(alice, X)"), term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 {
		t.Fatalf("alice has 2 children, got %d answers", len(answers))
	}

	// Narrowing by substitution.
	narrow := term.NewSubstitution(map[term.Var]term.Concept{"X": term.NewConcept("bob")})
	answers, err = s.Lookup(ctx, query.MustParseAtom("parent(alice, X)"), narrow)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 1 {
		t.Fatalf("Narrowed lookup should have 1 answer, got %d", len(answers))
	}
	if c, _ := answers[0].Get("X"); c.ID != "bob" {
		t.Errorf("X should be bob, got %s", c.ID)
	}

	answers, _ = s.Lookup(ctx, query.MustParseAtom("parent(zoe, X)"), term.Empty())
	if len(answers) != 0 {
		t.Errorf("Unknown parent should have no answers, got %d", len(answers))
	}
}

func TestMaterialiseReusesExisting(t *testing.T) {
	s := New()
	ctx := context.Background()
	assertAtom(t, s, "parent(alice, bob)")

	sub := term.NewSubstitution(map[term.Var]term.Concept{
		"X": term.NewConcept("alice"),
		"Y": term.NewConcept("bob"),
	})
	got, ok, err := s.Materialise(ctx, query.MustParseAtom("parent(X, Y)"), sub)
	if err != nil || !ok {
		t.Fatalf("Materialise should succeed: ok=%v err=%v", ok, err)
	}
	if c, _ := got.Get("Y"); c.ID != "bob" {
		t.Errorf("Should return the binding, got %s", got)
	}

	n, _ := s.CountFacts(ctx)
	if n != 1 {
		t.Errorf("Existing fact should be reused, got %d facts", n)
	}
}

func TestMaterialiseInsertsNew(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub := term.NewSubstitution(map[term.Var]term.Concept{
		"X": term.NewConcept("alice"),
		"Y": term.NewConcept("bob"),
	})
	if _, ok, err := s.Materialise(ctx, query.MustParseAtom("parent(X, Y)"), sub); err != nil || !ok {
		t.Fatalf("Materialise should insert: ok=%v err=%v", ok, err)
	}

	fact, _ := store.FromAtom(query.MustParseAtom("parent(alice, bob)"))
	exists, _ := s.Contains(ctx, fact)
	if !exists {
		t.Error("Materialised fact should be in the store")
	}
}

func TestMaterialiseMintsUnboundVars(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub := term.NewSubstitution(map[term.Var]term.Concept{"X": term.NewConcept("alice")})
	got, ok, err := s.Materialise(ctx, query.MustParseAtom("household(X, H)"), sub)
	if err != nil || !ok {
		t.Fatalf("Materialise should mint: ok=%v err=%v", ok, err)
	}
	h, bound := got.Get("H")
	if !bound || h.ID == "" {
		t.Fatalf("H should be minted, got %s", got)
	}

	// Materialising the same pattern again reuses the minted instance.
	again, ok, err := s.Materialise(ctx, query.MustParseAtom("household(X, H)"), sub)
	if err != nil || !ok {
		t.Fatal("Second materialise should succeed")
	}
	h2, _ := again.Get("H")
	if h2.ID != h.ID {
		t.Errorf("Second materialise should reuse %s, got %s", h.ID, h2.ID)
	}

	n, _ := s.CountFacts(ctx)
	if n != 1 {
		t.Errorf("Should hold exactly 1 materialised fact, got %d", n)
	}
}

func TestMaterialiseUnresolvedRoleVar(t *testing.T) {
	s := New()
	_, ok, err := s.Materialise(context.Background(), query.MustParseAtom("emp(R: X)"), term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Unresolved variable role should not materialise")
	}
}

func TestRoles(t *testing.T) {
	s := New()
	ctx := context.Background()
	assertAtom(t, s, "emp(employer: acme, employee: bob)")
	assertAtom(t, s, "emp(employer: globex, employee: carol)")

	roles, err := s.Roles(ctx, "emp")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 2 {
		t.Fatalf("Should have 2 distinct roles, got %d", len(roles))
	}
	if roles[0].Label != "employee" || roles[1].Label != "employer" {
		t.Errorf("Roles should be sorted, got %v", roles)
	}

	roles, _ = s.Roles(ctx, "parent")
	if len(roles) != 0 {
		t.Errorf("Predicate without role facts should have no roles, got %v", roles)
	}
}
