package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SessionIDKey is the request context key for the browsing-session id.
const SessionIDKey contextKey = "session_id"

// DefaultSessionCookie is the cookie name carrying the signed session token.
const DefaultSessionCookie = "portal_session"

// DefaultSessionTTL bounds how long an operator session cookie stays valid.
const DefaultSessionTTL = 12 * time.Hour

// SessionClaims is the JWT payload of the session cookie. The session id is
// opaque; all sale state tied to it lives server side.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// SessionConfig configures the session middleware.
type SessionConfig struct {
	SigningKey []byte
	CookieName string
	TTL        time.Duration
	// Secure marks the cookie as HTTPS-only. Leave false in development.
	Secure bool
}

// NewSessionConfig builds a SessionConfig from the configured signing key.
// An empty key yields a random ephemeral key, which means sessions do not
// survive a restart; acceptable in development only.
func NewSessionConfig(signingKey string, secure bool) (SessionConfig, error) {
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return SessionConfig{}, fmt.Errorf("generate ephemeral session key: %w", err)
		}
	}
	return SessionConfig{
		SigningKey: key,
		CookieName: DefaultSessionCookie,
		TTL:        DefaultSessionTTL,
		Secure:     secure,
	}, nil
}

// Session returns middleware that establishes a browsing session for every
// request. A valid session cookie is parsed and its id placed on the request
// context; a missing, expired or tampered cookie is replaced with a fresh
// session. Handlers read the id through SessionIDFromContext.
func Session(cfg SessionConfig) echo.MiddlewareFunc {
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := ""
			if cookie, err := c.Cookie(cookieName); err == nil {
				sid = parseSessionToken(cookie.Value, cfg.SigningKey)
			}

			if sid == "" {
				sid = uuid.NewString()
				token, err := mintSessionToken(sid, cfg.SigningKey, ttl)
				if err != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "failed to establish session")
				}
				c.SetCookie(&http.Cookie{
					Name:     cookieName,
					Value:    token,
					Path:     "/",
					MaxAge:   int(ttl.Seconds()),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			c.Set("session_id", sid)
			ctx := context.WithValue(c.Request().Context(), SessionIDKey, sid)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// mintSessionToken signs a new HS256 session token carrying the session id.
func mintSessionToken(sessionID string, key []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// parseSessionToken verifies a session token and returns its session id, or
// an empty string when the token is invalid or expired.
func parseSessionToken(tokenStr string, key []byte) string {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return ""
	}
	return claims.SessionID
}

// SessionIDFromContext returns the browsing-session id established by the
// Session middleware, or an empty string when none exists.
func SessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SessionIDKey).(string)
	return sid
}
