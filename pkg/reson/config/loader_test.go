package config

import (
	"testing"

	"github.com/cognicore/reson/pkg/reson/term"
)

func TestLoaderEmptyPath(t *testing.T) {
	loader := Loader{}
	comp, err := loader.Load()
	if err != nil {
		t.Fatalf("Empty loader should succeed: %v", err)
	}
	if len(comp.Facts) != 0 || len(comp.Rules) != 0 {
		t.Error("Empty loader should produce no components")
	}
}

func TestLoaderParsesComponents(t *testing.T) {
	path := writeKB(t, `
facts:
  - parent(alice, bob)
  - "employment(employer: acme, employee: bob)"
rules:
  - name: ancestor-base
    when:
      - parent(X, Y)
    then: ancestor(X, Y)
  - name: contact-card
    when:
      - person(X)
    then: contact(X, C)
    bindings:
      C: main-card
`)
	loader := Loader{KnowledgeBasePath: path}
	comp, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(comp.Facts) != 2 {
		t.Fatalf("Should parse 2 facts, got %d", len(comp.Facts))
	}
	if comp.Facts[1].Args[0].Role != "employer" {
		t.Errorf("Role facts should parse, got %+v", comp.Facts[1])
	}

	if len(comp.Rules) != 2 {
		t.Fatalf("Should parse 2 rules, got %d", len(comp.Rules))
	}
	if comp.Rules[0].ID != "ancestor-base" {
		t.Errorf("Rule name should become the ID, got %q", comp.Rules[0].ID)
	}
	if len(comp.Rules[0].Body) != 1 {
		t.Errorf("Rule body should have 1 atom, got %d", len(comp.Rules[0].Body))
	}
	c, ok := comp.Rules[1].HeadBindings.Get(term.Var("C"))
	if !ok || c.ID != "main-card" {
		t.Errorf("Head bindings should be parsed, got %s", comp.Rules[1].HeadBindings)
	}
}

func TestLoaderRejectsNonGroundFact(t *testing.T) {
	path := writeKB(t, "facts:\n  - parent(alice, X)\n")
	loader := Loader{KnowledgeBasePath: path}
	if _, err := loader.Load(); err == nil {
		t.Error("Facts with variables should be rejected")
	}
}

func TestLoaderRejectsMalformedRule(t *testing.T) {
	path := writeKB(t, `
rules:
  - name: broken
    when:
      - parent(X
    then: ancestor(X, Y)
`)
	loader := Loader{KnowledgeBasePath: path}
	if _, err := loader.Load(); err == nil {
		t.Error("Malformed rule atoms should be rejected")
	}
}

func TestLoaderNonExistentPath(t *testing.T) {
	loader := Loader{KnowledgeBasePath: "/nonexistent/kb.yaml"}
	if _, err := loader.Load(); err == nil {
		t.Error("Should error on nonexistent knowledge base")
	}
}
