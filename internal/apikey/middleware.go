package apikey

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/RankForge/server/internal/errors"
)

// Role is the privilege an API key grants.
type Role string

const (
	RoleAnonymous Role = "anonymous" // No key or an unknown key
	RoleInternal  Role = "internal"  // Service-to-service callers (notification ingest)
	RoleAdmin     Role = "admin"     // Dashboard operators; also passes internal checks
)

// HeaderName carries the key.
const HeaderName = "X-API-Key"

type contextKey string

const contextKeyRole contextKey = "api_key_role"

// Config lists the configured keys per role.
type Config struct {
	AdminKeys    []string
	InternalKeys []string
}

// Keyring resolves keys to roles.
type Keyring struct {
	admin    [][]byte
	internal [][]byte
}

// NewKeyring drops blank keys.
func NewKeyring(cfg Config) *Keyring {
	return &Keyring{admin: normalize(cfg.AdminKeys), internal: normalize(cfg.InternalKeys)}
}

func normalize(keys []string) [][]byte {
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, []byte(k))
		}
	}
	return out
}

// Enabled reports whether any key is configured.
func (k *Keyring) Enabled() bool {
	return k != nil && len(k.admin)+len(k.internal) > 0
}

// Role returns the role of key, RoleAnonymous when unknown.
func (k *Keyring) Role(key string) Role {
	key = strings.TrimSpace(key)
	if k == nil || key == "" {
		return RoleAnonymous
	}
	if matchAny(k.admin, key) {
		return RoleAdmin
	}
	if matchAny(k.internal, key) {
		return RoleInternal
	}
	return RoleAnonymous
}

// IsAdminKey reports whether key is an admin key.
func (k *Keyring) IsAdminKey(key string) bool {
	return k.Role(key) == RoleAdmin
}

// matchAny compares in constant time against every candidate.
func matchAny(candidates [][]byte, key string) bool {
	found := 0
	for _, c := range candidates {
		found |= subtle.ConstantTimeCompare(c, []byte(key))
	}
	return found == 1
}

// Middleware resolves the X-API-Key header and stores the role in the request
// context. Unknown keys proceed as anonymous; Require enforces access.
func Middleware(k *Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := k.Role(r.Header.Get(HeaderName))
			ctx := context.WithValue(r.Context(), contextKeyRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRole extracts the role from request context.
func GetRole(r *http.Request) Role {
	if role, ok := r.Context().Value(contextKeyRole).(Role); ok {
		return role
	}
	return RoleAnonymous
}

// Require rejects requests whose role is not allowed. Admin keys satisfy any
// requirement. With no keys configured at all every request passes, which is
// meant for local development only.
func Require(k *Keyring, roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !k.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			role := GetRole(r)
			if role == RoleAnonymous {
				// Middleware may not have run on this route.
				role = k.Role(r.Header.Get(HeaderName))
			}
			if role == RoleAnonymous {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "missing or invalid API key")
				return
			}
			if role != RoleAdmin && !allowed(roles, role) {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "API key not permitted for this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowed(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsExemptFromRateLimits reports whether the caller holds a known key.
// Internal and admin callers are not limited per IP or per user.
func IsExemptFromRateLimits(r *http.Request) bool {
	return GetRole(r) != RoleAnonymous
}
