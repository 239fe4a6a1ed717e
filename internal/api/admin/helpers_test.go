package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/middleware"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testActor = &auth.Actor{UserID: "alice", TenantID: "t1", Email: "alice@acme.com", Source: "header"}

// newTestRouter returns an engine that injects actor (when non-nil) the way
// IdentityMiddleware does.
func newTestRouter(actor *auth.Actor) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestContextMiddleware())
	r.Use(func(c *gin.Context) {
		if actor != nil {
			c.Set(middleware.ActorKey, actor)
		}
		c.Next()
	})
	return r
}

func doJSON(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}
