package model

// APIKey is returned exactly once, when the upstream gateway issues a key.
// KeySecret must never be logged or stored.
type APIKey struct {
	OwnerAccountID string `json:"userId"`
	KeyID          string `json:"keyId"`
	KeySecret      string `json:"keySecret"`
}

// KeyView is the listable form of a key. The upstream returns a loosely
// shaped object per key, so unknown fields are passed through as-is.
type KeyView map[string]any

// Token returns the key identifier of the view, if present.
func (k KeyView) Token() string {
	if v, ok := k["token"].(string); ok {
		return v
	}
	return ""
}

// KeyPage is a single page of an upstream key listing.
// Pagination fields are nil when the upstream omits them.
type KeyPage struct {
	Items       []KeyView
	CurrentPage *int
	TotalPages  *int
}

// HasMore returns true if the upstream reported a further page.
// Missing pagination metadata means the listing is a single page.
func (p KeyPage) HasMore() bool {
	if p.CurrentPage == nil || p.TotalPages == nil {
		return false
	}
	return *p.CurrentPage < *p.TotalPages
}

// KeyList is the response body of GET /users/{userId}/keys.
type KeyList struct {
	Keys []KeyView `json:"keys"`
}
