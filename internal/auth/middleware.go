package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/pondem87/thuso-monorepo-sub000/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated calling service.
type Principal struct {
	Service string
	Claims  *Claims
}

// AuthMiddleware validates bearer tokens on internal endpoints.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{Service: claims.Service, Claims: claims})
	return c.Next()
}

// RequireScope ensures the principal's token grants scope.
func RequireScope(scope Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.Claims.HasScope(scope) {
			return apperrors.NewForbidden("insufficient scope")
		}
		return c.Next()
	}
}

// PrincipalFromContext retrieves the authenticated service.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
