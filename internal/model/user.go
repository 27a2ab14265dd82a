// Package model defines domain entities for the application.
package model

import "time"

// Identity is the caller as asserted by the portal for a single request.
// It is never persisted.
type Identity struct {
	EntityRef string   `json:"entity_ref"`
	GroupRefs []string `json:"group_refs"`
}

// HasGroup reports whether ref is one of the identity's ownership refs.
func (i Identity) HasGroup(ref string) bool {
	if ref == "" {
		return false
	}
	for _, g := range i.GroupRefs {
		if g == ref {
			return true
		}
	}
	return false
}

// Account is the upstream gateway's budget record for one identity.
// AccountID always equals the owner's entity ref.
type Account struct {
	AccountID      string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
	MaxBudget      float64   `json:"maxBudget"`
	BudgetDuration string    `json:"budgetDuration"`
	Spend          float64   `json:"spend"`
}

// AccountOverrides are optional budget settings supplied on explicit creation.
// Only admins may set them.
type AccountOverrides struct {
	MaxBudget      *float64
	BudgetDuration *string
}

// IsEmpty returns true if no override field is set.
func (o AccountOverrides) IsEmpty() bool {
	return o.MaxBudget == nil && o.BudgetDuration == nil
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	UserID         string   `json:"userId"`
	MaxBudget      *float64 `json:"maxBudget,omitempty"`
	BudgetDuration *string  `json:"budgetDuration,omitempty"`
}
