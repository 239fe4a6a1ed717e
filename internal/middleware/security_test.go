package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// applySecurityHeaders runs a GET / through SecurityHeadersMiddleware and returns
// the response recorder so callers can inspect headers.
func applySecurityHeaders(cfg SecurityHeadersConfig, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/", handler)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func ok(c *gin.Context) { c.Status(http.StatusOK) }

func TestSecurityHeadersMiddleware_Defaults(t *testing.T) {
	w := applySecurityHeaders(DefaultSecurityHeadersConfig(), ok)

	want := map[string]string{
		"Strict-Transport-Security":    "max-age=31536000; includeSubDomains",
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-origin",
		"Cache-Control":                "no-store",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestSecurityHeadersMiddleware_HSTSDisabled(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersConfig{EnableHSTS: false}, ok)

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want empty", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff even without HSTS", got)
	}
}

func TestSecurityHeadersMiddleware_HSTSWithoutSubdomains(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 600}, ok)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=600" {
		t.Errorf("Strict-Transport-Security = %q, want max-age=600", got)
	}
}

func TestSecurityHeadersMiddleware_OnAbortedResponses(t *testing.T) {
	w := applySecurityHeaders(DefaultSecurityHeadersConfig(), func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	})

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q on denial, want no-store", got)
	}
}
