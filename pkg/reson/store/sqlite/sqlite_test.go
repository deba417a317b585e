package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func assertAtom(t *testing.T, s store.Store, text string) store.Fact {
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

func TestAssertAndContains(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stored := assertAtom(t, s, "parent(alice, bob)")
	if stored.ID == "" {
		t.Error("Assert should mint an ID")
	}

	fact, _ := store.FromAtom(query.MustParseAtom("parent(alice, bob)"))
	exists, err := s.Contains(ctx, fact)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("Asserted fact should be contained")
	}

	other, _ := store.FromAtom(query.MustParseAtom("parent(alice, carol)"))
	exists, _ = s.Contains(ctx, other)
	if exists {
		t.Error("Unasserted fact should not be contained")
	}
}

func TestAssertIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := assertAtom(t, s, "emp(employer: acme, employee: bob)")

	// Same fact with the role arguments swapped.
	fact, _ := store.FromAtom(query.MustParseAtom("emp(employee: bob, employer: acme)"))
	second, inserted, err := s.Assert(ctx, fact)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("Role order should not create a second fact")
	}
	if second.ID != first.ID {
		t.Errorf("Should return the existing fact %s, got %s", first.ID, second.ID)
	}

	n, _ := s.CountFacts(ctx)
	if n != 1 {
		t.Errorf("Should hold 1 fact, got %d", n)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	assertAtom(t, s, "parent(alice, bob)")
	assertAtom(t, s, "parent(alice, carol)")

	answers, err := s.Lookup(ctx, query.MustParseAtom("parent(alice, X)"), term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 {
		t.Fatalf("alice has 2 children, got %d answers", len(answers))
	}

	got := map[string]bool{}
	for _, a := range answers {
		c, _ := a.Get("X")
		got[c.ID] = true
	}
	if !got["bob"] || !got["carol"] {
		t.Errorf("Answers should bind bob and carol, got %v", got)
	}
}

func TestLookupWithRoles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	assertAtom(t, s, "emp(employer: acme, employee: bob)")

	answers, err := s.Lookup(ctx,
		query.MustParseAtom("emp(employee: X, employer: Y)"), term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 1 {
		t.Fatalf("Should find 1 answer, got %d", len(answers))
	}
	if c, _ := answers[0].Get("X"); c.ID != "bob" {
		t.Errorf("employee X should be bob, got %s", c.ID)
	}
	if c, _ := answers[0].Get("Y"); c.ID != "acme" {
		t.Errorf("employer Y should be acme, got %s", c.ID)
	}
}

func TestMaterialise(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := term.NewSubstitution(map[term.Var]term.Concept{
		"X": term.NewConcept("alice"),
	})
	got, ok, err := s.Materialise(ctx, query.MustParseAtom("household(X, H)"), sub)
	if err != nil || !ok {
		t.Fatalf("Materialise should succeed: ok=%v err=%v", ok, err)
	}
	h, bound := got.Get("H")
	if !bound {
		t.Fatalf("H should be minted, got %s", got)
	}

	// A second materialisation of the same pattern reuses the fact.
	again, ok, err := s.Materialise(ctx, query.MustParseAtom("household(X, H)"), sub)
	if err != nil || !ok {
		t.Fatal("Second materialise should succeed")
	}
	if h2, _ := again.Get("H"); h2.ID != h.ID {
		t.Errorf("Second materialise should reuse %s, got %s", h.ID, h2.ID)
	}

	n, _ := s.CountFacts(ctx)
	if n != 1 {
		t.Errorf("Should hold 1 fact, got %d", n)
	}
}

func TestRoles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	assertAtom(t, s, "emp(employer: acme, employee: bob)")
	assertAtom(t, s, "emp(employer: globex, employee: carol)")
	assertAtom(t, s, "parent(alice, bob)")

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

	// Positional facts carry no roles.
	roles, _ = s.Roles(ctx, "parent")
	if len(roles) != 0 {
		t.Errorf("Positional predicate should have no roles, got %v", roles)
	}
}

func TestDerivedFactSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "facts.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	fact, _ := store.FromAtom(query.MustParseAtom("ancestor(alice, carol)"))
	fact.Derived = true
	fact.RuleID = "ancestor-step"
	if _, _, err := s.Assert(ctx, fact); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	answers, err := s.Lookup(ctx, query.MustParseAtom("ancestor(alice, X)"), term.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 1 {
		t.Fatalf("Derived fact should persist across reopen, got %d answers", len(answers))
	}
	if c, _ := answers[0].Get("X"); c.ID != "carol" {
		t.Errorf("X should be carol, got %s", c.ID)
	}
}
