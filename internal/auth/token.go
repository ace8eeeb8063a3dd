package auth

import (
	"errors"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Scope names a capability granted to a service token.
type Scope string

const (
	ScopeManagementRead Scope = "management:read"
	ScopeDispatch       Scope = "messages:dispatch"
)

// TokenManager issues and validates service-to-service JWTs.
type TokenManager struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	subject string
	now     func() time.Time

	mu        sync.Mutex
	cached    string
	refreshAt time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret, issuer, subject string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{
		secret:  []byte(secret),
		ttl:     time.Duration(ttlMinutes) * time.Minute,
		issuer:  issuer,
		subject: subject,
		now:     time.Now,
	}
}

// Claims describes JWT payload.
type Claims struct {
	Service string  `json:"svc"`
	Scopes  []Scope `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GenerateToken builds and signs a JWT for subject with the given scopes.
func (tm *TokenManager) GenerateToken(subject string, scopes ...Scope) (string, time.Time, error) {
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.ttl)
	claims := &Claims{
		Service: subject,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ServiceToken returns this service's bearer token for outbound calls,
// re-signing once most of the previous token's lifetime has passed.
func (tm *TokenManager) ServiceToken() (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.now()
	if tm.cached != "" && now.Before(tm.refreshAt) {
		return tm.cached, nil
	}
	token, expiresAt, err := tm.GenerateToken(tm.subject, ScopeManagementRead)
	if err != nil {
		return "", err
	}
	tm.cached = token
	tm.refreshAt = now.Add(expiresAt.Sub(now) * 4 / 5)
	return token, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
