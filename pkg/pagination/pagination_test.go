package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContextCapsLimit(t *testing.T) {
	p := paramsFor(t, "limit=5000")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContextExplicit(t *testing.T) {
	p := paramsFor(t, "limit=25&offset=50")
	if p.Limit != 25 || p.Offset != 50 {
		t.Errorf("unexpected params: %+v", p)
	}
}

func TestHasNext(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if !p.HasNext(100) {
		t.Error("expected more pages at offset 40 of 100")
	}
	if p.HasNext(60) {
		t.Error("expected no more pages at offset 40 of 60")
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, 20, 0)
	if !resp.HasMore {
		t.Error("expected has_more true for first page of 50")
	}
	resp = NewResponse(nil, 10, 20, 0)
	if resp.HasMore {
		t.Error("expected has_more false when total fits one page")
	}
}
