package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/olamide-dev/orderflow/internal/domain/auth"
)

// keyInfoKey is the context key for the authenticated API key.
type keyInfoKey struct{}

// callerFromContext returns the authenticated key info, or nil.
func callerFromContext(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(keyInfoKey{}).(*auth.APIKeyInfo)
	return info
}

// security authenticates requests via HMAC-SHA256 hashed API keys.
type security struct {
	apikeys auth.Repository
	pepper  []byte
}

func newSecurity(apikeys auth.Repository, pepper []byte) *security {
	return &security{apikeys: apikeys, pepper: pepper}
}

// authenticate resolves the caller's API key from the Authorization bearer
// header (or the legacy api_key header), hashes it with the pepper, and
// performs a constant-time comparison against the stored hash to prevent
// timing side-channels.
func (s *security) authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := bearerToken(r)
	if key == "" {
		key = r.Header.Get("api_key")
	}
	if key == "" {
		return nil, auth.ErrUnauthorized
	}

	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		return nil, auth.ErrUnauthorized
	}

	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, auth.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}

// secure wraps a handler with authentication and a scope requirement. Admin
// keys implicitly satisfy the orders scope.
func (h *Handler) secure(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := h.security.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !info.HasScope(scope) && !(scope == auth.ScopeOrders && info.HasScope(auth.ScopeAdmin)) {
			writeError(w, http.StatusForbidden, "insufficient scope")
			return
		}
		ctx := context.WithValue(r.Context(), keyInfoKey{}, info)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
