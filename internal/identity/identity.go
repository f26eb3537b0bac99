// Package identity authenticates connection credentials into user identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenCookieName = "chat_token"
	TokenQueryParam = "token"

	// DefaultTokenTTL matches the one day lifetime of issued login tokens.
	DefaultTokenTTL = 24 * time.Hour
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("unknown user")
)

// Authenticator resolves a connection-time credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

// UserLookup is the subset of the repository used to resolve display fields.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Claims carries the user ID in "id"; tokens that only set "sub" are accepted too.
type Claims struct {
	jwt.RegisteredClaims
	UID string `json:"id,omitempty"`
}

// UserID returns the authenticated user ID carried by the claims.
func (c *Claims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	users  UserLookup
}

// NewJWTAuthenticator creates an authenticator that resolves users through users.
func NewJWTAuthenticator(secret string, users UserLookup) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), users: users}
}

// Issue signs a token for userID valid for ttl.
func (a *JWTAuthenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID: userID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Parse validates token and returns its claims.
func (a *JWTAuthenticator) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate validates token and resolves the user's display fields.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := a.Parse(token)
	if err != nil {
		return domain.Identity{}, err
	}

	userID := claims.UserID()
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return domain.Identity{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	return domain.Identity{
		UserID:      user.UserID,
		DisplayName: user.Username,
		Avatar:      user.Avatar,
	}, nil
}

// TokenFromRequest extracts a credential from the query string, the
// Authorization header or the token cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(TokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity stored by Middleware.
func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// Middleware rejects requests without a valid credential and stores the
// resolved identity in the request context.
func Middleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r.Context(), TokenFromRequest(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
