package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	// ErrUnauthenticated is returned when a connection presents no usable credential.
	ErrUnauthenticated = errors.New("realtime: unauthenticated")
	// ErrInvalidToken is returned for a user token that fails verification.
	ErrInvalidToken = errors.New("realtime: invalid user token")
)

// Identity is who a connection belongs to.
type Identity struct {
	Role   string
	UserID string
}

// Groups lists the broadcast groups the identity joins.
func (i Identity) Groups() []string {
	if i.Role == RoleAdmin {
		return []string{GroupAdmin}
	}
	return []string{UserGroup(i.UserID)}
}

// Authenticator resolves connection credentials. Admins present an admin API
// key; users present an HS256 token issued by the web front end.
type Authenticator struct {
	IsAdminKey func(key string) bool
	UserSecret []byte
	Now        func() time.Time
}

// Authenticate inspects the X-API-Key header, the Authorization bearer token
// and the api_key / token query parameters. Browsers cannot set headers on a
// WebSocket upgrade, hence the query fallbacks.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	key := firstNonBlank(r.Header.Get("X-API-Key"), r.URL.Query().Get("api_key"))
	if key != "" && a.IsAdminKey != nil && a.IsAdminKey(key) {
		return Identity{Role: RoleAdmin}, nil
	}

	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); token == "" && auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	userID, err := a.VerifyUserToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Role: RoleUser, UserID: userID}, nil
}

// VerifyUserToken validates token and returns its subject.
func (a *Authenticator) VerifyUserToken(token string) (string, error) {
	if len(a.UserSecret) == 0 {
		return "", fmt.Errorf("%w: user tokens not configured", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(a.Now))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.UserSecret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// IssueUserToken signs a token for userID valid for ttl.
func IssueUserToken(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
