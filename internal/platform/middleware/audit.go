package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/portal/internal/platform/auth"
)

// AuditEntry represents a billing audit log entry produced by the middleware.
// It captures who touched the sales workflow, the action, when, from where,
// and the outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	SessionID  string
	Action     string // start_sale, view_cart, add_line, update_line, remove_line, checkout, payment, list_events
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder is the interface the audit middleware uses to persist audit
// entries, decoupled from the concrete store so tests can provide a mock.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns echo middleware that intercepts requests to the sales routes,
// classifies the billing action from the method and path, and emits a
// structured audit log line. Money moves through these endpoints, so every
// touch is recorded with the operator identity and response status.
//
// If an AuditRecorder is provided the entry is also persisted through it.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			// Execute the handler first so we capture the response status
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Action:     classifySalesAction(req.Method, path),
			}

			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)

			if sid, ok := c.Get("session_id").(string); ok {
				entry.SessionID = sid
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "billing_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("session_id", entry.SessionID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("sales_access")

			return err
		}
	}
}

// isAuditablePath returns true for the sales workflow routes.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/sales")
}

// classifySalesAction maps a method and path to a billing action name.
func classifySalesAction(method, path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/sales")
	rest = strings.TrimPrefix(rest, "/")

	switch {
	case strings.HasPrefix(rest, "cart/lines"):
		switch method {
		case http.MethodPost:
			return "add_line"
		case http.MethodPatch, http.MethodPut:
			return "update_line"
		case http.MethodDelete:
			return "remove_line"
		}
	case strings.HasPrefix(rest, "cart"):
		if method == http.MethodPost {
			return "start_sale"
		}
		return "view_cart"
	case strings.HasPrefix(rest, "checkout"):
		return "checkout"
	case strings.HasPrefix(rest, "payment"):
		return "payment"
	case strings.HasPrefix(rest, "events"):
		return "list_events"
	}
	return "unknown"
}
