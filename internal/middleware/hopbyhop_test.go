package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestStripHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(StripHopByHop())

	var got http.Header
	e.GET("/test", func(c echo.Context) error {
		got = c.Request().Header.Clone()
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Connection", "keep-alive, X-Session-Hint")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("X-Session-Hint", "drop-me")
	req.Header.Set("Authorization", "Bearer keep")
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	for _, name := range []string{"Connection", "Keep-Alive", "Proxy-Authorization", "Upgrade", "X-Session-Hint"} {
		if v := got.Get(name); v != "" {
			t.Errorf("%s = %q, want stripped", name, v)
		}
	}
	for _, name := range []string{"Authorization", "Origin"} {
		if got.Get(name) == "" {
			t.Errorf("%s should be kept", name)
		}
	}
}

func TestStripHopByHop_LeavesResponseAlone(t *testing.T) {
	e := echo.New()
	e.Use(StripHopByHop())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Header().Get("X-Frame-Options"); v != "" {
		t.Errorf("X-Frame-Options = %q, want unset", v)
	}
	if v := rec.Header().Get("X-Content-Type-Options"); v != "" {
		t.Errorf("X-Content-Type-Options = %q, want unset", v)
	}
}
