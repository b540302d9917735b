package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// identityContextKey is the echo context key holding the caller identity.
const identityContextKey = "identity"

// Identity is an externally-issued, already-verified caller identity. This
// service does not manage credentials; it only decodes what the auth system
// put in the token.
type Identity struct {
	UserID string
	Role   string
}

// OptionalIdentity decodes a Bearer token when one is present and valid,
// otherwise lets the request through anonymously. Used on endpoints that
// tolerate anonymous callers.
func OptionalIdentity(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if identity, err := identityFromRequest(c, secret); err == nil {
				c.Set(identityContextKey, identity)
			}
			return next(c)
		}
	}
}

// RequireIdentity rejects requests without a valid Bearer token.
func RequireIdentity(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := identityFromRequest(c, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or missing token")
			}
			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}

// CallerIdentity returns the identity attached by the middleware, if any.
func CallerIdentity(c echo.Context) (*Identity, bool) {
	identity, ok := c.Get(identityContextKey).(*Identity)
	return identity, ok
}

func identityFromRequest(c echo.Context, secret string) (*Identity, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected token claims")
	}

	identity := &Identity{}
	if id, ok := claims["id"].(string); ok {
		identity.UserID = id
	}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("token carries no user id")
	}

	return identity, nil
}
