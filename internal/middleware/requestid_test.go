package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/gin-gonic/gin"
)

// newRequestContextRouter builds a minimal Gin engine with RequestContextMiddleware and a
// handler that echoes the stored request id back as a response header.
func newRequestContextRouter(handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestContextMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Header("X-Context-Request-ID", RequestID(c))
		if handler != nil {
			handler(c)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestContextMiddleware_GeneratesUUIDWhenAbsent(t *testing.T) {
	r := newRequestContextRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(RequestIDHeader)
	if len(id) != 36 || id[8] != '-' || id[13] != '-' || id[18] != '-' || id[23] != '-' {
		t.Errorf("expected UUID-format request ID, got %q", id)
	}
	if got := w.Header().Get("X-Context-Request-ID"); got != id {
		t.Errorf("context request id = %q, response header = %q", got, id)
	}
}

func TestRequestContextMiddleware_PropagatesIncomingID(t *testing.T) {
	const upstreamID = "upstream-provided-request-id-001"
	r := newRequestContextRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, upstreamID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != upstreamID {
		t.Errorf("expected response X-Request-ID %q, got %q", upstreamID, got)
	}
}

func TestRequestContextMiddleware_DifferentIDsPerRequest(t *testing.T) {
	r := newRequestContextRouter(nil)

	ids := make(map[string]struct{}, 10)
	for i := range 10 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(RequestIDHeader)
		if _, seen := ids[id]; seen {
			t.Errorf("duplicate request ID %q on iteration %d", id, i)
		}
		ids[id] = struct{}{}
	}
}

func TestRequestContextMiddleware_LoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := newRequestContextRouter(func(c *gin.Context) {
		Logger(c).Info("handled")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=req-abc") {
		t.Errorf("log output missing request_id: %q", buf.String())
	}
}

func TestLogger_FallsBackToDefault(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if Logger(c) != slog.Default() {
		t.Error("expected slog.Default() outside RequestContextMiddleware")
	}
}

type countingGrants struct {
	calls int
}

func (g *countingGrants) ScanGrants(_ context.Context, _, _ string, visit func(string) bool) (bool, error) {
	g.calls++
	visit(string(auth.PermViewUsers))
	return true, nil
}

func TestRequestContextMiddleware_InstallsPermissionMemo(t *testing.T) {
	grants := &countingGrants{}
	resolver := auth.NewResolver(grants)

	r := newRequestContextRouter(func(c *gin.Context) {
		ctx := c.Request.Context()
		for range 3 {
			if _, err := resolver.Resolve(ctx, "t1", "u1"); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if grants.calls != 1 {
		t.Errorf("grant store scanned %d times within one request, want 1", grants.calls)
	}
}
