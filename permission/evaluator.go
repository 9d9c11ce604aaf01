// Package permission derives a role and a permission set from a credential's
// scope claim. Every query fails closed: a missing or undecodable credential
// grants nothing.
package permission

import (
	"strings"

	"github.com/layer-3/sessionkit/core"
)

// Evaluator answers permission queries against a fixed vocabulary.
type Evaluator struct {
	known map[Permission]struct{}
}

// NewEvaluator creates an evaluator. Without arguments it uses
// DefaultVocabulary.
func NewEvaluator(vocabulary ...Permission) *Evaluator {
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}
	known := make(map[Permission]struct{}, len(vocabulary))
	for _, p := range vocabulary {
		known[p] = struct{}{}
	}
	return &Evaluator{known: known}
}

// Default evaluates against DefaultVocabulary.
var Default = NewEvaluator()

// Vocabulary returns the permissions the evaluator recognizes, sorted.
func (e *Evaluator) Vocabulary() []Permission {
	return Set(e.known).Slice()
}

// RoleOf returns the strongest recognized role marker in the scope, or
// DefaultRole.
func (e *Evaluator) RoleOf(claims *core.Claims) core.Role {
	if claims == nil {
		return DefaultRole
	}

	markers := make(map[string]struct{})
	for _, tok := range claims.ScopeTokens() {
		if strings.HasPrefix(tok, RolePrefix) {
			markers[tok] = struct{}{}
		}
	}
	for _, role := range rolePrecedence {
		if _, ok := markers[Marker(role)]; ok {
			return role
		}
	}
	return DefaultRole
}

// PermissionsOf returns the known permissions named in the scope. Role
// markers and unknown tokens are dropped.
func (e *Evaluator) PermissionsOf(claims *core.Claims) Set {
	set := make(Set)
	if claims == nil {
		return set
	}
	for _, tok := range claims.ScopeTokens() {
		if strings.HasPrefix(tok, RolePrefix) {
			continue
		}
		p := Permission(tok)
		if _, ok := e.known[p]; ok {
			set[p] = struct{}{}
		}
	}
	return set
}

func (e *Evaluator) permissions(c core.Credential) (Set, bool) {
	if c.IsZero() {
		return nil, false
	}
	claims, ok := c.Claims()
	if !ok {
		return nil, false
	}
	return e.PermissionsOf(claims), true
}

// HasPermission reports whether c grants p.
func (e *Evaluator) HasPermission(c core.Credential, p Permission) bool {
	set, ok := e.permissions(c)
	return ok && set.Has(p)
}

// HasAny reports whether c grants at least one of ps.
func (e *Evaluator) HasAny(c core.Credential, ps ...Permission) bool {
	set, ok := e.permissions(c)
	if !ok {
		return false
	}
	for _, p := range ps {
		if set.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether c grants every one of ps.
func (e *Evaluator) HasAll(c core.Credential, ps ...Permission) bool {
	set, ok := e.permissions(c)
	if !ok {
		return false
	}
	for _, p := range ps {
		if !set.Has(p) {
			return false
		}
	}
	return true
}

// Role returns the role carried by c, or DefaultRole.
func (e *Evaluator) Role(c core.Credential) core.Role {
	claims, _ := c.Claims()
	return e.RoleOf(claims)
}
