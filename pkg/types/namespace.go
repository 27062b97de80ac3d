package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NamespaceKind is the tag of the Namespace sum type.
type NamespaceKind string

const (
	NamespaceGlobal  NamespaceKind = "global"
	NamespaceProject NamespaceKind = "project"
	NamespaceSession NamespaceKind = "session"
)

// Priority returns the scoping priority of the kind: Session > Project > Global.
func (k NamespaceKind) Priority() int {
	switch k {
	case NamespaceSession:
		return 3
	case NamespaceProject:
		return 2
	default:
		return 1
	}
}

// Namespace is a tagged union identifying the scope a memory belongs to.
// Two namespaces are equal iff they carry the same kind and the same fields.
type Namespace struct {
	Kind      NamespaceKind `json:"kind"`
	Project   string        `json:"project,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

// Global is the namespace with no project or session scoping.
func Global() Namespace {
	return Namespace{Kind: NamespaceGlobal}
}

// ProjectNamespace scopes a namespace to a single project.
func ProjectNamespace(project string) Namespace {
	return Namespace{Kind: NamespaceProject, Project: project}
}

// SessionNamespace scopes a namespace to a single session within a project.
func SessionNamespace(project, sessionID string) Namespace {
	return Namespace{Kind: NamespaceSession, Project: project, SessionID: sessionID}
}

// Priority returns the namespace's scoping priority (Session=3, Project=2, Global=1).
func (n Namespace) Priority() int {
	return n.Kind.Priority()
}

// Equal reports whether two namespaces carry the same kind and fields.
func (n Namespace) Equal(o Namespace) bool {
	return n.Kind == o.Kind && n.Project == o.Project && n.SessionID == o.SessionID
}

// Parent returns the namespace one priority level up (Session->Project->Global),
// and false when n is already Global (expansion is a fixed point at Global).
func (n Namespace) Parent() (Namespace, bool) {
	switch n.Kind {
	case NamespaceSession:
		return ProjectNamespace(n.Project), true
	case NamespaceProject:
		return Global(), true
	default:
		return Namespace{}, false
	}
}

// String renders the canonical text form: "global", "project:<n>",
// "session:<project>:<id>".
func (n Namespace) String() string {
	switch n.Kind {
	case NamespaceProject:
		return fmt.Sprintf("project:%s", n.Project)
	case NamespaceSession:
		return fmt.Sprintf("session:%s:%s", n.Project, n.SessionID)
	default:
		return "global"
	}
}

// ParseNamespace parses the canonical text form produced by String.
func ParseNamespace(s string) (Namespace, error) {
	switch {
	case s == "global":
		return Global(), nil
	case strings.HasPrefix(s, "project:"):
		name := strings.TrimPrefix(s, "project:")
		if name == "" {
			return Namespace{}, fmt.Errorf("types: empty project name in namespace %q", s)
		}
		return ProjectNamespace(name), nil
	case strings.HasPrefix(s, "session:"):
		rest := strings.TrimPrefix(s, "session:")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Namespace{}, fmt.Errorf("types: malformed session namespace %q", s)
		}
		return SessionNamespace(parts[0], parts[1]), nil
	default:
		return Namespace{}, fmt.Errorf("types: unknown namespace tag in %q", s)
	}
}

// namespaceWire is the tagged-object wire format; unknown tags are rejected
// on unmarshal rather than silently defaulting, per the forward-compatibility
// rule for sum types.
type namespaceWire struct {
	Kind      NamespaceKind `json:"kind"`
	Project   string        `json:"project,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

// MarshalJSON encodes Namespace as a tagged object.
func (n Namespace) MarshalJSON() ([]byte, error) {
	return json.Marshal(namespaceWire{Kind: n.Kind, Project: n.Project, SessionID: n.SessionID})
}

// UnmarshalJSON decodes a tagged object, rejecting unrecognized kind tags.
func (n *Namespace) UnmarshalJSON(data []byte) error {
	var w namespaceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case NamespaceGlobal, NamespaceProject, NamespaceSession:
	default:
		return fmt.Errorf("types: unknown namespace kind %q", w.Kind)
	}
	n.Kind = w.Kind
	n.Project = w.Project
	n.SessionID = w.SessionID
	return nil
}
