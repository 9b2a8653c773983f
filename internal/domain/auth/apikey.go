package auth

import "context"

// Scopes understood by the API surface.
const (
	// ScopeOrdersWrite allows placing orders and reading one's own orders.
	ScopeOrdersWrite = "orders:write"
	// ScopeStaff allows the privileged operations: status and shipment
	// updates, order listing, inventory adjustments and history.
	ScopeStaff = "staff"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries the given scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
