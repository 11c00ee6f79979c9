package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	userID := uuid.New()

	token, err := issuer.Issue(userID, RoleDoctor, "Dr. Chen")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != userID.String() {
		t.Errorf("expected subject %s, got %s", userID, claims.Subject)
	}
	if claims.Role != RoleDoctor {
		t.Errorf("expected role doctor, got %s", claims.Role)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, -time.Minute)
	token, err := issuer.Issue(uuid.New(), RolePatient, "")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer(testSecret, time.Hour).Issue(uuid.New(), RolePatient, "")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	other := NewTokenIssuer("another-secret-that-is-long-enough", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func doRequest(t *testing.T, mw echo.MiddlewareFunc, authz string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return rec, h(c)
}

func TestMiddlewareSetsPrincipal(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	userID := uuid.New()
	token, _ := issuer.Issue(userID, RoleDoctor, "Dr. Chen")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(issuer)(func(c echo.Context) error {
		p, ok := PrincipalFromContext(c.Request().Context())
		if !ok {
			t.Fatal("expected principal on context")
		}
		if p.UserID != userID || p.Role != RoleDoctor {
			t.Errorf("unexpected principal: %+v", p)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	_, err := doRequest(t, Middleware(issuer), "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	_, err := doRequest(t, Middleware(issuer), "Token abc")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func requireRoleAs(t *testing.T, role string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithPrincipal(req.Context(), Principal{UserID: uuid.New(), Role: role})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := RequireRole(required...)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return h(c)
}

func TestRequireRoleAllowsMatch(t *testing.T) {
	if err := requireRoleAs(t, RoleDoctor, RoleDoctor); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRequireRoleSuperadminOverride(t *testing.T) {
	if err := requireRoleAs(t, RoleSuperadmin, RoleDoctor); err != nil {
		t.Errorf("expected superadmin to pass doctor check, got %v", err)
	}
}

func TestRequireRoleForbidsMismatch(t *testing.T) {
	err := requireRoleAs(t, RolePatient, RoleDoctor)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}
