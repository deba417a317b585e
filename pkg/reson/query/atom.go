package query

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/term"
)

// Arg is one argument position of an atom: a player that is either a
// variable or a constant concept, optionally qualified by a role. The
// role itself may be a variable, which marks the atom as needing role
// expansion before its answers are final.
type Arg struct {
	Role    string   // fixed role label, empty for positional args
	RoleVar term.Var // variable role, mutually exclusive with Role
	Var     term.Var // variable player, empty when Value is set
	Value   term.Concept
}

// IsVar reports whether the player is a variable.
func (a Arg) IsVar() bool {
	return a.Var != ""
}

// HasRole reports whether the argument carries a role qualifier.
func (a Arg) HasRole() bool {
	return a.Role != "" || a.RoleVar != ""
}

// Atom is a single relational pattern: a predicate applied to
// arguments. Atoms are value types and never mutated after parsing.
type Atom struct {
	Predicate string
	Args      []Arg
}

// Vars returns the atom's variables (players and variable roles) in
// first-occurrence order.
func (a Atom) Vars() []term.Var {
	seen := make(map[term.Var]struct{})
	var vars []term.Var
	add := func(v term.Var) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			vars = append(vars, v)
		}
	}
	for _, arg := range a.Args {
		add(arg.RoleVar)
		add(arg.Var)
	}
	return vars
}

// RequiresRoleExpansion reports whether any argument binds its role
// through a variable. Such answers must be re-checked against the
// roles attested in the store before they are accepted.
func (a Atom) RequiresRoleExpansion() bool {
	for _, arg := range a.Args {
		if arg.RoleVar != "" {
			return true
		}
	}
	return false
}

// RoleExpansionVars returns the variable roles of the atom.
func (a Atom) RoleExpansionVars() []term.Var {
	var vars []term.Var
	for _, arg := range a.Args {
		if arg.RoleVar != "" {
			vars = append(vars, arg.RoleVar)
		}
	}
	return vars
}

// IsGround reports whether the atom contains no variables.
func (a Atom) IsGround() bool {
	return len(a.Vars()) == 0
}

// Apply substitutes bound variables by their concepts, for players and
// roles alike. A role variable bound to a concept becomes a fixed role
// carrying the concept's label.
func (a Atom) Apply(s term.Substitution) Atom {
	if s.IsEmpty() {
		return a
	}
	args := make([]Arg, len(a.Args))
	for i, arg := range a.Args {
		out := arg
		if arg.Var != "" {
			if c, ok := s.Get(arg.Var); ok {
				out.Var = ""
				out.Value = c
			}
		}
		if arg.RoleVar != "" {
			if c, ok := s.Get(arg.RoleVar); ok {
				out.RoleVar = ""
				out.Role = c.Label
			}
		}
		args[i] = out
	}
	return Atom{Predicate: a.Predicate, Args: args}
}

// Rename replaces variables (players and roles) according to the
// mapping. Variables absent from the mapping are kept.
func (a Atom) Rename(mapping map[term.Var]term.Var) Atom {
	if len(mapping) == 0 {
		return a
	}
	args := make([]Arg, len(a.Args))
	for i, arg := range a.Args {
		out := arg
		if arg.Var != "" {
			if to, ok := mapping[arg.Var]; ok {
				out.Var = to
			}
		}
		if arg.RoleVar != "" {
			if to, ok := mapping[arg.RoleVar]; ok {
				out.RoleVar = to
			}
		}
		args[i] = out
	}
	return Atom{Predicate: a.Predicate, Args: args}
}

// Generalize replaces the last constant player of a ground atom with a
// probe variable, returning the widened atom, the probe, and the
// constant the probe must resolve back to. A ground atom binds no
// variables, so resolution needs the widened frame to answer in; the
// caller checks that the probe resolves back to the constant.
func Generalize(atom Atom) (Atom, term.Var, term.Concept) {
	const probe = term.Var("Q0")
	out := Atom{Predicate: atom.Predicate, Args: make([]Arg, len(atom.Args))}
	copy(out.Args, atom.Args)
	for i := len(out.Args) - 1; i >= 0; i-- {
		if !out.Args[i].IsVar() {
			want := out.Args[i].Value
			out.Args[i].Var = probe
			out.Args[i].Value = term.Concept{}
			return out, probe, want
		}
	}
	return atom, probe, term.Concept{}
}

// String renders the atom in its textual form, e.g.
// "employment(employer: acme, employee: X)".
func (a Atom) String() string {
	parts := make([]string, len(a.Args))
	for i, arg := range a.Args {
		var b strings.Builder
		if arg.RoleVar != "" {
			b.WriteString(string(arg.RoleVar))
			b.WriteString(": ")
		} else if arg.Role != "" {
			b.WriteString(arg.Role)
			b.WriteString(": ")
		}
		if arg.IsVar() {
			b.WriteString(string(arg.Var))
		} else {
			b.WriteString(arg.Value.Label)
		}
		parts[i] = b.String()
	}
	return a.Predicate + "(" + strings.Join(parts, ", ") + ")"
}

// canonicalKey renders the atom with variables renamed by first
// occurrence, so that two atoms identical up to variable renaming
// produce the same key. Role-qualified arguments are normalized by
// role label; positional arguments keep their position.
func (a Atom) canonicalKey() string {
	type slot struct {
		role string
		arg  Arg
	}
	var positional []Arg
	var qualified []slot
	for _, arg := range a.Args {
		switch {
		case arg.RoleVar != "":
			qualified = append(qualified, slot{role: "?", arg: arg})
		case arg.Role != "":
			qualified = append(qualified, slot{role: arg.Role, arg: arg})
		default:
			positional = append(positional, arg)
		}
	}
	// Within a role group constants sort by ID and variables come
	// last, so the key does not depend on textual argument order.
	sort.SliceStable(qualified, func(i, j int) bool {
		if qualified[i].role != qualified[j].role {
			return qualified[i].role < qualified[j].role
		}
		ci, cj := qualified[i].arg, qualified[j].arg
		if ci.IsVar() != cj.IsVar() {
			return !ci.IsVar()
		}
		return ci.Value.ID < cj.Value.ID
	})

	names := make(map[term.Var]string)
	next := 0
	render := func(v term.Var) string {
		if name, ok := names[v]; ok {
			return name
		}
		name := fmt.Sprintf("_%d", next)
		next++
		names[v] = name
		return name
	}

	parts := make([]string, 0, len(a.Args))
	for _, arg := range positional {
		if arg.IsVar() {
			parts = append(parts, render(arg.Var))
		} else {
			parts = append(parts, "c:"+arg.Value.ID)
		}
	}
	for _, s := range qualified {
		var b strings.Builder
		if s.arg.RoleVar != "" {
			b.WriteString(render(s.arg.RoleVar))
		} else {
			b.WriteString(s.role)
		}
		b.WriteString(":")
		if s.arg.IsVar() {
			b.WriteString(render(s.arg.Var))
		} else {
			b.WriteString("c:" + s.arg.Value.ID)
		}
		parts = append(parts, b.String())
	}
	return a.Predicate + "(" + strings.Join(parts, ",") + ")"
}

// ParseAtom parses the textual atom form:
//
//	parent(alice, X)
//	employment(employer: acme, employee: X)
//	employment(R: X, employee: Y)
//
// Identifiers starting with an uppercase letter are variables; this
// applies to roles as well, so "R: X" declares a variable role.
func ParseAtom(text string) (Atom, error) {
	open := strings.Index(text, "(")
	if open == -1 {
		return Atom{}, fmt.Errorf("%w: missing '(' in %q", internalerr.ErrInvalidInput, text)
	}
	if !strings.HasSuffix(strings.TrimSpace(text), ")") {
		return Atom{}, fmt.Errorf("%w: missing ')' in %q", internalerr.ErrInvalidInput, text)
	}
	predicate := strings.TrimSpace(text[:open])
	if predicate == "" {
		return Atom{}, fmt.Errorf("%w: empty predicate in %q", internalerr.ErrInvalidInput, text)
	}
	body := strings.TrimSpace(text)
	body = body[open+1 : len(body)-1]

	atom := Atom{Predicate: predicate}
	if strings.TrimSpace(body) == "" {
		return Atom{}, fmt.Errorf("%w: atom %q has no arguments", internalerr.ErrInvalidInput, text)
	}
	for _, raw := range strings.Split(body, ",") {
		field := strings.TrimSpace(raw)
		if field == "" {
			return Atom{}, fmt.Errorf("%w: empty argument in %q", internalerr.ErrInvalidInput, text)
		}
		var arg Arg
		if colon := strings.Index(field, ":"); colon != -1 {
			role := strings.TrimSpace(field[:colon])
			field = strings.TrimSpace(field[colon+1:])
			if role == "" || field == "" {
				return Atom{}, fmt.Errorf("%w: malformed role argument in %q", internalerr.ErrInvalidInput, text)
			}
			if isVariable(role) {
				arg.RoleVar = term.Var(role)
			} else {
				arg.Role = role
			}
		}
		if isVariable(field) {
			arg.Var = term.Var(field)
		} else {
			arg.Value = term.NewConcept(field)
		}
		atom.Args = append(atom.Args, arg)
	}
	return atom, nil
}

// MustParseAtom is ParseAtom for statically known patterns; it panics
// on malformed input.
func MustParseAtom(text string) Atom {
	atom, err := ParseAtom(text)
	if err != nil {
		panic(err)
	}
	return atom
}

func isVariable(ident string) bool {
	for _, r := range ident {
		return unicode.IsUpper(r)
	}
	return false
}
