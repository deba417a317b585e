package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cognicore/reson/pkg/reson/query"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db  *sql.DB
	ids *store.IDSource
}

// OpenSQLite opens a SQLite-backed fact store with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db, ids: store.NewIDSource()}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	predicate TEXT NOT NULL,
	arity INTEGER NOT NULL,
	fact_key TEXT UNIQUE NOT NULL,
	derived INTEGER NOT NULL DEFAULT 0,
	rule_id TEXT
);

CREATE TABLE IF NOT EXISTS fact_args (
	fact_id TEXT NOT NULL,
	pos INTEGER NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	concept_id TEXT NOT NULL,
	concept_label TEXT NOT NULL,
	PRIMARY KEY(fact_id, pos),
	FOREIGN KEY(fact_id) REFERENCES facts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_facts_predicate ON facts(predicate, arity);
CREATE INDEX IF NOT EXISTS idx_fact_args_concept ON fact_args(concept_id);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// Assert persists a fact, idempotently keyed on its canonical form.
// The UNIQUE constraint on fact_key makes the insert safe against
// concurrent writers of the same fact.
func (s *sqliteStore) Assert(ctx context.Context, f store.Fact) (store.Fact, bool, error) {
	if existing, ok, err := s.byKey(ctx, f.Key()); err != nil {
		return store.Fact{}, false, err
	} else if ok {
		return existing, false, nil
	}

	if f.ID == "" {
		f.ID = s.ids.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Fact{}, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO facts (id, predicate, arity, fact_key, derived, rule_id)
VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Predicate, len(f.Args), f.Key(), boolToInt(f.Derived), f.RuleID,
	)
	if err != nil {
		return store.Fact{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return store.Fact{}, false, err
	}
	if inserted == 0 {
		// Lost the race to another writer; return the winner.
		tx.Rollback()
		existing, _, err := s.byKey(ctx, f.Key())
		return existing, false, err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO fact_args (fact_id, pos, role, concept_id, concept_label)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return store.Fact{}, false, err
	}
	defer stmt.Close()
	for pos, arg := range f.Args {
		if _, err := stmt.ExecContext(ctx, f.ID, pos, arg.Role, arg.Concept.ID, arg.Concept.Label); err != nil {
			return store.Fact{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Fact{}, false, err
	}
	return f, true, nil
}

// Lookup returns every binding of the atom's variables for which a
// matching fact exists. Candidate facts are narrowed by predicate and
// arity in SQL; argument alignment happens in Go.
func (s *sqliteStore) Lookup(ctx context.Context, atom query.Atom, sub term.Substitution) ([]term.Substitution, error) {
	pattern := atom.Apply(sub)
	facts, err := s.byPredicate(ctx, atom.Predicate, len(atom.Args))
	if err != nil {
		return nil, err
	}
	var out []term.Substitution
	seen := make(map[string]struct{})
	for _, f := range facts {
		for _, m := range store.MatchAtom(pattern, f) {
			answer := term.Merge(m, sub).Project(atom.Vars())
			if answer.IsEmpty() {
				continue
			}
			if _, dup := seen[answer.Key()]; dup {
				continue
			}
			seen[answer.Key()] = struct{}{}
			out = append(out, answer)
		}
	}
	return out, nil
}

// Materialise produces the first concrete fact for the atom under the
// substitution, inserting it when it does not exist yet.
func (s *sqliteStore) Materialise(ctx context.Context, atom query.Atom, sub term.Substitution) (term.Substitution, bool, error) {
	pattern := atom.Apply(sub)
	if pattern.RequiresRoleExpansion() {
		return term.Empty(), false, nil
	}

	existing, err := s.Lookup(ctx, atom, sub)
	if err != nil {
		return term.Empty(), false, err
	}
	if len(existing) > 0 {
		return term.Merge(existing[0], sub).Project(atom.Vars()), true, nil
	}

	full := sub
	if !pattern.IsGround() {
		minted := make(map[term.Var]term.Concept)
		for _, v := range pattern.Vars() {
			minted[v] = term.NewConcept(s.ids.New())
		}
		full = term.Merge(sub, term.NewSubstitution(minted))
	}
	fact, err := store.FromAtom(atom.Apply(full))
	if err != nil {
		return term.Empty(), false, err
	}
	fact.Derived = true
	if _, _, err := s.Assert(ctx, fact); err != nil {
		return term.Empty(), false, err
	}
	return full.Project(atom.Vars()), true, nil
}

// Roles returns the role labels attested for a predicate.
func (s *sqliteStore) Roles(ctx context.Context, predicate string) ([]term.Concept, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT a.role
FROM fact_args a JOIN facts f ON f.id = a.fact_id
WHERE f.predicate = ? AND a.role != ''
ORDER BY a.role`, predicate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []term.Concept
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, term.NewConcept(role))
	}
	return out, rows.Err()
}

// Contains reports whether a fact with the same canonical key exists.
func (s *sqliteStore) Contains(ctx context.Context, f store.Fact) (bool, error) {
	_, ok, err := s.byKey(ctx, f.Key())
	return ok, err
}

// CountFacts returns the number of persisted facts.
func (s *sqliteStore) CountFacts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n)
	return n, err
}

func (s *sqliteStore) byKey(ctx context.Context, key string) (store.Fact, bool, error) {
	var f store.Fact
	err := s.db.QueryRowContext(ctx, `
SELECT id, predicate, derived, rule_id FROM facts WHERE fact_key = ?`, key).
		Scan(&f.ID, &f.Predicate, &intBool{&f.Derived}, &nullString{&f.RuleID})
	if err == sql.ErrNoRows {
		return store.Fact{}, false, nil
	}
	if err != nil {
		return store.Fact{}, false, err
	}
	args, err := s.argsFor(ctx, f.ID)
	if err != nil {
		return store.Fact{}, false, err
	}
	f.Args = args
	return f, true, nil
}

func (s *sqliteStore) byPredicate(ctx context.Context, predicate string, arity int) ([]store.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT f.id, f.predicate, f.derived, f.rule_id, a.pos, a.role, a.concept_id, a.concept_label
FROM facts f JOIN fact_args a ON a.fact_id = f.id
WHERE f.predicate = ? AND f.arity = ?
ORDER BY f.rowid, a.pos`, predicate, arity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []store.Fact
	var current *store.Fact
	for rows.Next() {
		var (
			id, pred, conceptID, conceptLabel, role string
			ruleID                                  sql.NullString
			derived, pos                            int
		)
		if err := rows.Scan(&id, &pred, &derived, &ruleID, &pos, &role, &conceptID, &conceptLabel); err != nil {
			return nil, err
		}
		if current == nil || current.ID != id {
			facts = append(facts, store.Fact{
				ID:        id,
				Predicate: pred,
				Derived:   derived != 0,
				RuleID:    ruleID.String,
			})
			current = &facts[len(facts)-1]
		}
		current.Args = append(current.Args, store.FactArg{
			Role:    role,
			Concept: term.Concept{ID: conceptID, Label: conceptLabel},
		})
	}
	return facts, rows.Err()
}

func (s *sqliteStore) argsFor(ctx context.Context, factID string) ([]store.FactArg, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT role, concept_id, concept_label FROM fact_args WHERE fact_id = ? ORDER BY pos`, factID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var args []store.FactArg
	for rows.Next() {
		var role, id, label string
		if err := rows.Scan(&role, &id, &label); err != nil {
			return nil, err
		}
		args = append(args, store.FactArg{Role: role, Concept: term.Concept{ID: id, Label: label}})
	}
	return args, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// intBool scans a SQLite integer into a bool.
type intBool struct{ dst *bool }

func (b *intBool) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*b.dst = v != 0
		return nil
	case bool:
		*b.dst = v
		return nil
	default:
		return fmt.Errorf("cannot scan %T into bool", src)
	}
}

// nullString scans a nullable TEXT column into a plain string.
type nullString struct{ dst *string }

func (n *nullString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.dst = ""
	case string:
		*n.dst = v
	case []byte:
		*n.dst = string(v)
	default:
		return fmt.Errorf("cannot scan %T into string", src)
	}
	return nil
}
