package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Claims carried by platform-issued access tokens
type Claims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

type cachedProfile struct {
	identity  types.Identity
	expiresAt time.Time
}

// Authenticator verifies HS256 bearer tokens and resolves the user profile.
// Profiles are cached for ttl so each socket frame does not hit the store.
type Authenticator struct {
	secret []byte
	users  interfaces.UserDirectory
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[uint64]cachedProfile
}

// NewAuthenticator creates an authenticator. A zero ttl disables caching.
func NewAuthenticator(secret string, users interfaces.UserDirectory, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		users:  users,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[uint64]cachedProfile),
	}
}

// ParseToken verifies the signature and expiry and returns the user ID
func (a *Authenticator) ParseToken(token string) (uint64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: token required", types.ErrAuthentication)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("%w: invalid token", types.ErrAuthentication)
	}
	if claims.UserID == 0 {
		return 0, fmt.Errorf("%w: token has no user", types.ErrAuthentication)
	}
	return claims.UserID, nil
}

// Authenticate resolves a token to the identity of an existing user
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*types.Identity, error) {
	userID, err := a.ParseToken(token)
	if err != nil {
		return nil, err
	}

	if identity, ok := a.cached(userID); ok {
		return &identity, nil
	}

	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", types.ErrAuthentication)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	identity := types.Identity{
		UserID: user.ID,
		Name:   user.DisplayName(),
		Avatar: user.AvatarURL,
		Role:   user.Role,
	}
	a.store(identity)
	return &identity, nil
}

func (a *Authenticator) cached(userID uint64) (types.Identity, bool) {
	if a.ttl <= 0 {
		return types.Identity{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	entry, ok := a.cache[userID]
	if !ok || !a.now().Before(entry.expiresAt) {
		return types.Identity{}, false
	}
	return entry.identity, true
}

func (a *Authenticator) store(identity types.Identity) {
	if a.ttl <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[identity.UserID] = cachedProfile{identity: identity, expiresAt: a.now().Add(a.ttl)}
}

// Invalidate drops a cached profile, e.g. after a role change
func (a *Authenticator) Invalidate(userID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, userID)
}

// Cleanup evicts expired profiles
func (a *Authenticator) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	evicted := 0
	for userID, entry := range a.cache {
		if !now.Before(entry.expiresAt) {
			delete(a.cache, userID)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("Evicted %d cached profiles", evicted)
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively; anything else yields "".
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// SignToken issues an HS256 token for userID. The chat server only
// verifies tokens; this exists for local tooling and tests.
func SignToken(secret string, userID uint64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
