// Package config loads knowledge-base definitions from YAML: the
// ground facts to assert and the derivation rules to register.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// KnowledgeBase is the YAML shape of a knowledge-base file.
type KnowledgeBase struct {
	Facts []string   `yaml:"facts"`
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is the YAML shape of one derivation rule.
type RuleSpec struct {
	Name string   `yaml:"name"`
	When []string `yaml:"when"`
	Then string   `yaml:"then"`

	// Bindings fixes head variables the body leaves free, mapping a
	// variable name to a concept identifier.
	Bindings map[string]string `yaml:"bindings"`

	// Materialise forces persisted derivation even when the head
	// introduces no fresh variables.
	Materialise bool `yaml:"materialise"`
}

// LoadKnowledgeBase loads a knowledge base from a YAML file.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var kb KnowledgeBase
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, err
	}

	return &kb, nil
}
