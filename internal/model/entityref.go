package model

import (
	"errors"
	"strings"
)

// DefaultNamespace is assumed when a ref omits its namespace.
const DefaultNamespace = "default"

// ErrInvalidEntityRef is returned for refs without a kind or name.
var ErrInvalidEntityRef = errors.New("invalid entity ref")

// EntityRef is the parsed form of "kind:namespace/name".
type EntityRef struct {
	Kind      string
	Namespace string
	Name      string
}

// ParseEntityRef parses "kind:namespace/name" or "kind:name".
func ParseEntityRef(raw string) (EntityRef, error) {
	kind, rest, ok := strings.Cut(raw, ":")
	if !ok || kind == "" || rest == "" || strings.Contains(rest, ":") {
		return EntityRef{}, ErrInvalidEntityRef
	}

	ref := EntityRef{Kind: kind, Namespace: DefaultNamespace, Name: rest}
	if ns, name, found := strings.Cut(rest, "/"); found {
		if ns == "" || name == "" || strings.Contains(name, "/") {
			return EntityRef{}, ErrInvalidEntityRef
		}
		ref.Namespace = ns
		ref.Name = name
	}
	return ref, nil
}

// String renders the canonical form with a lower-case kind.
func (r EntityRef) String() string {
	ns := r.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return strings.ToLower(r.Kind) + ":" + ns + "/" + r.Name
}

// NormalizeEntityRef returns the canonical form of raw.
// Refs that cannot be parsed are returned unchanged so they still compare verbatim.
func NormalizeEntityRef(raw string) string {
	ref, err := ParseEntityRef(raw)
	if err != nil {
		return raw
	}
	return ref.String()
}
