// Package policy decides who may act on which upstream account.
// Every function is pure: no I/O and no mutable state.
package policy

import "github.com/llmportal/orchestrator/internal/model"

// Policy holds the group refs that grant access.
type Policy struct {
	AdminGroupRef   string
	AllowedGroupRef string
}

// New creates a Policy.
func New(adminGroupRef, allowedGroupRef string) Policy {
	return Policy{
		AdminGroupRef:   adminGroupRef,
		AllowedGroupRef: allowedGroupRef,
	}
}

// IsAdmin reports whether the identity belongs to the admin group.
func (p Policy) IsAdmin(id model.Identity) bool {
	return id.HasGroup(p.AdminGroupRef)
}

// IsSelf reports whether the identity is the owner of targetID.
func (p Policy) IsSelf(id model.Identity, targetID string) bool {
	return id.EntityRef != "" && id.EntityRef == targetID
}

// IsInAllowedGroup reports whether the identity belongs to the allowed group.
func (p Policy) IsInAllowedGroup(id model.Identity) bool {
	return id.HasGroup(p.AllowedGroupRef)
}

// CanActOn is the self-or-admin gate used before touching an account or its keys.
func (p Policy) CanActOn(id model.Identity, targetID string) bool {
	return p.IsSelf(id, targetID) || p.IsAdmin(id)
}

// CanUsePlugin is the allowed-group-or-admin gate for any access at all.
func (p Policy) CanUsePlugin(id model.Identity) bool {
	return p.IsInAllowedGroup(id) || p.IsAdmin(id)
}
