package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Header names set by the upstream authentication proxy. The portal never
// authenticates users itself; it trusts the identity the proxy injects.
const (
	HeaderAuthUser  = "X-Auth-User"
	HeaderAuthRoles = "X-Auth-Roles"
)

// IdentityConfig configures the identity middleware.
type IdentityConfig struct {
	// DevMode allows unauthenticated requests with a default operator
	// identity so the portal runs without the auth proxy in development.
	DevMode bool
}

// Identity returns middleware that reads the operator identity injected by
// the upstream auth proxy and places it on the request context. Requests
// without an identity are rejected outside development.
func Identity(cfg IdentityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get(HeaderAuthUser)

			if userID == "" {
				if !cfg.DevMode {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing authenticated identity")
				}
				userID = "dev-user"
			}

			roles := parseRoles(c.Request().Header.Get(HeaderAuthRoles))
			if len(roles) == 0 && cfg.DevMode {
				roles = []string{"admin"}
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, userID)
			ctx = context.WithValue(ctx, UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// parseRoles splits a comma-separated role header into a slice.
func parseRoles(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if r := strings.TrimSpace(p); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
