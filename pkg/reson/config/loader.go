package config

import (
	"fmt"

	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/rule"
	"github.com/cognicore/reson/pkg/reson/term"
)

// Loader loads a knowledge-base file and constructs engine components.
type Loader struct {
	KnowledgeBasePath string
}

// Components holds the parsed knowledge base ready for the engine.
type Components struct {
	Facts []query.Atom
	Rules []*rule.Rule
}

// Load reads the knowledge-base file and parses facts and rules.
func (l *Loader) Load() (*Components, error) {
	comp := &Components{}
	if l.KnowledgeBasePath == "" {
		return comp, nil
	}

	kb, err := LoadKnowledgeBase(l.KnowledgeBasePath)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}

	for _, text := range kb.Facts {
		atom, err := query.ParseAtom(text)
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", text, err)
		}
		if !atom.IsGround() {
			return nil, fmt.Errorf("%w: fact %q contains variables", internalerr.ErrInvalidConfig, text)
		}
		comp.Facts = append(comp.Facts, atom)
	}

	for _, spec := range kb.Rules {
		r, err := buildRule(spec)
		if err != nil {
			return nil, err
		}
		comp.Rules = append(comp.Rules, r)
	}

	return comp, nil
}

func buildRule(spec RuleSpec) (*rule.Rule, error) {
	head, err := query.ParseAtom(spec.Then)
	if err != nil {
		return nil, fmt.Errorf("rule %q head: %w", spec.Name, err)
	}
	body := make([]query.Atom, 0, len(spec.When))
	for _, text := range spec.When {
		atom, err := query.ParseAtom(text)
		if err != nil {
			return nil, fmt.Errorf("rule %q body %q: %w", spec.Name, text, err)
		}
		body = append(body, atom)
	}

	r, err := rule.New(spec.Name, head, body...)
	if err != nil {
		return nil, err
	}
	r.Materialise = spec.Materialise

	if len(spec.Bindings) > 0 {
		bindings := make(map[term.Var]term.Concept, len(spec.Bindings))
		for name, id := range spec.Bindings {
			bindings[term.Var(name)] = term.NewConcept(id)
		}
		r.HeadBindings = term.NewSubstitution(bindings)
	}
	return r, nil
}
