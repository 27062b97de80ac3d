// Package access applies the role-based visibility predicate at
// retrieval time: after fusion, before the returned cut. It is never
// consulted during indexing — every write is indexed regardless of who
// will later be allowed to see it.
package access

import (
	"crypto/subtle"

	"github.com/scrypster/memorycore/pkg/types"
)

// Role is the caller's access level.
type Role string

const (
	RoleReadOnly   Role = "read_only"
	RoleReadWrite  Role = "read_write"
	RolePrivileged Role = "privileged"
)

// IsValid reports whether r is one of the three recognized roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleReadOnly, RoleReadWrite, RolePrivileged:
		return true
	default:
		return false
	}
}

// Caller identifies who is making a request: its role, the namespace it is
// natively scoped to, and (for the privileged role) a credential checked
// against the configured policy's expected token.
type Caller struct {
	Role            Role
	HomeNamespace   types.Namespace
	Credential      string
}

// Policy decides which memories a Caller may see and whether a Caller may
// expand scope across a project boundary. The default implementation
// (DefaultPolicy) lets all roles read all namespaces in scope; only
// privileged roles cross project boundaries by expansion.
type Policy interface {
	// Visible reports whether caller may see m at all. Called once per
	// fused candidate, after scoring, before the final cut.
	Visible(caller Caller, m *types.MemoryNote) bool

	// CanExpandAcrossProjects reports whether caller's scope-widening
	// (priority-widening past its own project, e.g. from Session/Project
	// into Global or into a different project) is permitted.
	CanExpandAcrossProjects(caller Caller) bool
}

// DefaultPolicy is the built-in role-based policy: privileged callers
// carry an expected credential checked in constant time.
type DefaultPolicy struct {
	// PrivilegedCredential is the expected credential for RolePrivileged
	// callers. Empty means no privileged caller can ever authenticate
	// (fail closed).
	PrivilegedCredential string
}

var _ Policy = (*DefaultPolicy)(nil)

// Visible reports whether caller may see m. All roles see every namespace
// already admitted into the candidate set by scope expansion: this policy
// governs *whether expansion was allowed to reach m's namespace* via
// CanExpandAcrossProjects, not a second per-memory namespace check, so
// Visible itself only enforces the role being well-formed and, for
// privileged-only content (none currently modeled at the memory level),
// would gate here.
func (p *DefaultPolicy) Visible(caller Caller, m *types.MemoryNote) bool {
	return caller.Role.IsValid()
}

// CanExpandAcrossProjects reports whether caller may widen scope past its
// own project boundary. Only an authenticated privileged caller may;
// read-only and read-write callers are confined to their own
// namespace-priority chain (Session -> Project, or Project -> Global if
// access.role_policy opts Global in).
func (p *DefaultPolicy) CanExpandAcrossProjects(caller Caller) bool {
	if caller.Role != RolePrivileged {
		return false
	}
	if p.PrivilegedCredential == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(caller.Credential), []byte(p.PrivilegedCredential)) == 1
}

// Filter applies policy to candidates for caller, preserving order.
func Filter(policy Policy, caller Caller, candidates []*types.MemoryNote) []*types.MemoryNote {
	out := make([]*types.MemoryNote, 0, len(candidates))
	for _, m := range candidates {
		if policy.Visible(caller, m) {
			out = append(out, m)
		}
	}
	return out
}

// FilterScored applies policy to any slice whose elements carry a
// *types.MemoryNote reachable via get, preserving order. It lets callers
// like the hybrid retriever filter their own scored-result type without
// this package knowing its shape.
func FilterScored[T any](policy Policy, caller Caller, items []T, get func(T) *types.MemoryNote) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if policy.Visible(caller, get(it)) {
			out = append(out, it)
		}
	}
	return out
}
