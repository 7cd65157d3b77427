package auth

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestIdentity_ReadsProxyHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAuthUser, "u-42")
	req.Header.Set(HeaderAuthRoles, "cashier, pharmacist")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := UserIDFromContext(ctx); got != "u-42" {
			t.Errorf("expected user u-42, got %s", got)
		}
		want := []string{"cashier", "pharmacist"}
		if got := RolesFromContext(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("expected roles %v, got %v", want, got)
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := Identity(IdentityConfig{})
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIdentity_RejectsMissingIdentity(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Identity(IdentityConfig{DevMode: false})
	err := mw(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestIdentity_DevModeDefaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := UserIDFromContext(ctx); got != "dev-user" {
			t.Errorf("expected dev-user, got %s", got)
		}
		if got := RolesFromContext(ctx); len(got) != 1 || got[0] != "admin" {
			t.Errorf("expected [admin], got %v", got)
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := Identity(IdentityConfig{DevMode: true})
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRoles(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"cashier", []string{"cashier"}},
		{"cashier,pharmacist", []string{"cashier", "pharmacist"}},
		{" cashier , , pharmacist ", []string{"cashier", "pharmacist"}},
	}

	for _, tt := range tests {
		got := parseRoles(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseRoles(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
