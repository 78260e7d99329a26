package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Scopes understood by the API surface.
const (
	ScopeOrders = "orders"
	ScopeAdmin  = "admin"
)

// ErrUnauthorized is returned for missing, unknown, or inactive API keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo holds the identity and permission data for a validated API key.
// The key ID doubles as the caller's user identity for order ownership.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries the given scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
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
