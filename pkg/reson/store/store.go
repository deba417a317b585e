package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/reson/pkg/reson/internalerr"
	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/term"
)

// Store is the persistence interface of the knowledge base: base facts
// plus facts materialised during rule application.
type Store interface {
	Close() error

	// Assert persists a fact, idempotently keyed on its canonical
	// form. Returns the stored fact (with its ID) and whether a new
	// row was inserted.
	Assert(ctx context.Context, f Fact) (Fact, bool, error)

	// Lookup returns every binding of the atom's variables, under the
	// given partial substitution, for which a matching fact exists.
	Lookup(ctx context.Context, atom query.Atom, sub term.Substitution) ([]term.Substitution, error)

	// Materialise produces the first concrete fact for the atom under
	// the substitution, inserting it if it does not exist yet.
	// Unbound player variables are minted as fresh concepts. Returns
	// the full binding over the atom's variables, or ok=false when no
	// fact can be produced (e.g. an unresolved variable role).
	Materialise(ctx context.Context, atom query.Atom, sub term.Substitution) (term.Substitution, bool, error)

	// Roles returns the role labels attested for a predicate.
	Roles(ctx context.Context, predicate string) ([]term.Concept, error)

	// Contains reports whether a fact with the same canonical key
	// exists.
	Contains(ctx context.Context, f Fact) (bool, error)

	// CountFacts returns the number of persisted facts.
	CountFacts(ctx context.Context) (int64, error)
}

// FactArg is one argument of a stored fact.
type FactArg struct {
	Role    string // empty for positional arguments
	Concept term.Concept
}

// Fact is a ground assertion in the knowledge base.
type Fact struct {
	ID        string
	Predicate string
	Args      []FactArg
	Derived   bool
	RuleID    string
}

// Key returns the canonical identity of the fact: predicate plus
// arguments, with role-qualified arguments sorted by role so that the
// textual argument order does not matter. Two facts with the same key
// are the same fact.
func (f Fact) Key() string {
	var positional []string
	var qualified []string
	for _, a := range f.Args {
		if a.Role == "" {
			positional = append(positional, a.Concept.ID)
		} else {
			qualified = append(qualified, a.Role+":"+a.Concept.ID)
		}
	}
	sort.Strings(qualified)
	parts := append(positional, qualified...)
	return f.Predicate + "(" + strings.Join(parts, ",") + ")"
}

// Atom renders the fact as a ground atom pattern.
func (f Fact) Atom() query.Atom {
	atom := query.Atom{Predicate: f.Predicate}
	for _, a := range f.Args {
		atom.Args = append(atom.Args, query.Arg{Role: a.Role, Value: a.Concept})
	}
	return atom
}

// String renders the fact in atom form.
func (f Fact) String() string {
	return f.Atom().String()
}

// FromAtom converts a ground atom into a fact.
func FromAtom(atom query.Atom) (Fact, error) {
	if !atom.IsGround() {
		return Fact{}, fmt.Errorf("%w: atom %s is not ground", internalerr.ErrInvalidInput, atom)
	}
	f := Fact{Predicate: atom.Predicate}
	for _, a := range atom.Args {
		f.Args = append(f.Args, FactArg{Role: a.Role, Concept: a.Value})
	}
	return f, nil
}

// MatchAtom matches a (possibly non-ground) atom against a ground
// fact, returning one binding of the atom's variables per way the
// fact's arguments can be aligned with the pattern.
func MatchAtom(atom query.Atom, f Fact) []term.Substitution {
	var out []term.Substitution
	for _, u := range query.UnifyAtoms(atom, f.Atom()) {
		// A ground fact admits no variable mapping, only bindings.
		out = append(out, u.Bindings)
	}
	return out
}

// IDSource mints ULIDs for facts and for concepts created during
// materialisation.
type IDSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDSource creates an ID source with monotonic entropy.
func NewIDSource() *IDSource {
	return &IDSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a fresh ULID string.
func (s *IDSource) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}
