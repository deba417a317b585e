package resolve

import (
	"context"

	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/term"
	"github.com/cognicore/reson/pkg/reson/unify"
)

// RoleExpansionState post-processes a rule-produced answer whose atom
// binds relation roles through variables: unbound role variables are
// widened over the roles attested for the predicate, bound ones are
// validated. Its parent is always the originating AtomicState, so the
// expanded answers re-enter ConsumeAnswer and get cached there.
type RoleExpansionState struct {
	sub      term.Substitution
	unifier  unify.Unifier
	roleVars []term.Var
	parent   AnswerConsumer
}

// NewRoleExpansionState wraps an answer pending role expansion.
func NewRoleExpansionState(sub term.Substitution, u unify.Unifier, roleVars []term.Var, parent AnswerConsumer) *RoleExpansionState {
	return &RoleExpansionState{sub: sub, unifier: u, roleVars: roleVars, parent: parent}
}

// Substitution returns the answer pending expansion.
func (s *RoleExpansionState) Substitution() term.Substitution { return s.sub }

// Unifier returns the unifier carried from the originating state.
func (s *RoleExpansionState) Unifier() unify.Unifier { return s.unifier }

// RoleVars returns the role-bearing variables to expand.
func (s *RoleExpansionState) RoleVars() []term.Var { return s.roleVars }

// Parent returns the originating AtomicState.
func (s *RoleExpansionState) Parent() AnswerConsumer { return s.parent }

// Expand widens every unbound role variable over the roles attested in
// the store for the queried predicate and validates bound ones. Each
// expanded answer re-enters the parent's ConsumeAnswer like any other
// child answer; an atom whose predicate has no attested roles expands
// to nothing (dead branch).
func (s *RoleExpansionState) Expand(ctx context.Context, st store.Store) ([]*AnswerState, error) {
	predicate := s.parent.Query().Atom().Predicate
	var roles []term.Concept

	outs := []term.Substitution{s.sub}
	for _, rv := range s.roleVars {
		if _, bound := s.sub.Get(rv); bound {
			continue
		}
		if roles == nil {
			var err error
			roles, err = st.Roles(ctx, predicate)
			if err != nil {
				return nil, err
			}
		}
		var widened []term.Substitution
		for _, out := range outs {
			for _, role := range roles {
				merged := term.Merge(out, term.NewSubstitution(map[term.Var]term.Concept{rv: role}))
				if !merged.IsEmpty() {
					widened = append(widened, merged)
				}
			}
		}
		outs = widened
	}

	states := make([]*AnswerState, 0, len(outs))
	for _, out := range outs {
		states = append(states, NewAnswerState(out, unify.Identity(), s.parent))
	}
	return states, nil
}
