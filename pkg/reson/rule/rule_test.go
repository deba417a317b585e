package rule

import (
	"testing"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/term"
)

func TestNewValidation(t *testing.T) {
	head := query.MustParseAtom("ancestor(X, Y)")
	body := query.MustParseAtom("parent(X, Y)")

	if _, err := New("", head, body); err == nil {
		t.Error("Should reject a rule without id")
	}
	if _, err := New("r1", head); err == nil {
		t.Error("Should reject a rule without body")
	}
	if _, err := New("r1", query.Atom{Predicate: "p"}, body); err == nil {
		t.Error("Should reject a head without arguments")
	}
	if _, err := New("r1", head, body); err != nil {
		t.Errorf("Valid rule should build: %v", err)
	}
}

func TestBodyVars(t *testing.T) {
	r, _ := New("r1",
		query.MustParseAtom("ancestor(X, Z)"),
		query.MustParseAtom("parent(X, Y)"),
		query.MustParseAtom("ancestor(Y, Z)"),
	)
	vars := r.BodyVars()
	want := []term.Var{"X", "Y", "Z"}
	if len(vars) != len(want) {
		t.Fatalf("Should have %d body vars, got %v", len(want), vars)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Fatalf("Body vars should be %v, got %v", want, vars)
		}
	}
}

func TestRequiresMaterialisation(t *testing.T) {
	atom := query.MustParseAtom("ancestor(A, B)")

	// Head fully covered by the body: virtual answers suffice.
	covered, _ := New("r1",
		query.MustParseAtom("ancestor(X, Y)"),
		query.MustParseAtom("parent(X, Y)"),
	)
	if covered.RequiresMaterialisation(atom) {
		t.Error("Body-covered head should not require materialisation")
	}

	// Head introduces a fresh variable: the derived instance must exist.
	fresh, _ := New("r2",
		query.MustParseAtom("household(X, H)"),
		query.MustParseAtom("resident(X)"),
	)
	if !fresh.RequiresMaterialisation(query.MustParseAtom("household(A, B)")) {
		t.Error("Head with an unconstrained variable should require materialisation")
	}

	// Head bindings cover the gap.
	fresh.HeadBindings = term.NewSubstitution(map[term.Var]term.Concept{
		"H": term.NewConcept("main-house"),
	})
	if fresh.RequiresMaterialisation(query.MustParseAtom("household(A, B)")) {
		t.Error("Head bindings should count as constrained")
	}

	// The explicit flag always wins.
	covered.Materialise = true
	if !covered.RequiresMaterialisation(atom) {
		t.Error("Materialise flag should force materialisation")
	}
}

func TestIndexApplicableTo(t *testing.T) {
	r1, _ := New("r1",
		query.MustParseAtom("ancestor(X, Y)"),
		query.MustParseAtom("parent(X, Y)"),
	)
	r2, _ := New("r2",
		query.MustParseAtom("sibling(X, Y)"),
		query.MustParseAtom("parent(P, X)"),
		query.MustParseAtom("parent(P, Y)"),
	)
	ix := NewIndex(r1, r2)

	matches := ix.ApplicableTo(query.MustParseAtom("ancestor(alice, Z)"))
	if len(matches) != 1 {
		t.Fatalf("One rule should apply, got %d", len(matches))
	}
	if matches[0].Rule.ID != "r1" {
		t.Errorf("r1 should apply, got %s", matches[0].Rule.ID)
	}
	if len(matches[0].Unifications) == 0 {
		t.Error("Applicable rule should carry its unifications")
	}
	// The head variable falling onto the query constant is recorded.
	if c, _ := matches[0].Unifications[0].Bindings.Get("X"); c.ID != "alice" {
		t.Errorf("Head var X should bind to alice, got %+v", c)
	}

	if got := ix.ApplicableTo(query.MustParseAtom("unknown(A)")); got != nil {
		t.Error("No rule should apply to an unknown predicate")
	}

	if len(ix.Rules()) != 2 {
		t.Errorf("Index should hold 2 rules, got %d", len(ix.Rules()))
	}
}
