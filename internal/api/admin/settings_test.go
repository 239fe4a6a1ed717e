package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/services"
	"github.com/gin-gonic/gin"
)

type stubPolicy struct {
	enabled bool
	actor   services.Actor
	sets    int
	err     error
}

func (s *stubPolicy) GrantRequiresPossession(context.Context) (bool, error) {
	return s.enabled, s.err
}

func (s *stubPolicy) SetGrantRequiresPossession(_ context.Context, actor services.Actor, enabled bool) error {
	if s.err != nil {
		return s.err
	}
	s.sets++
	s.actor = actor
	s.enabled = enabled
	return nil
}

func settingsRouter(p *stubPolicy) *gin.Engine {
	h := NewSettingsHandlers(p)
	r := newTestRouter(testActor)
	r.GET("/api/v1/settings/grant-requires-possession", h.GetGrantPolicyHandler())
	r.PUT("/api/v1/settings/grant-requires-possession", h.SetGrantPolicyHandler())
	return r
}

func TestGrantPolicyHandlers_Toggle(t *testing.T) {
	p := &stubPolicy{}
	r := settingsRouter(p)

	w, body := doJSON(r, http.MethodPut, "/api/v1/settings/grant-requires-possession", `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["enabled"] != true || !p.enabled {
		t.Errorf("switch not enabled: body %v", body)
	}
	if p.actor.UserID != "alice" {
		t.Errorf("actor = %+v", p.actor)
	}

	w, body = doJSON(r, http.MethodGet, "/api/v1/settings/grant-requires-possession", "")
	if w.Code != http.StatusOK || body["enabled"] != true {
		t.Errorf("GET = %d %v", w.Code, body)
	}
}

func TestSetGrantPolicyHandler_FalseIsExplicit(t *testing.T) {
	p := &stubPolicy{enabled: true}
	r := settingsRouter(p)

	w, _ := doJSON(r, http.MethodPut, "/api/v1/settings/grant-requires-possession", `{"enabled":false}`)
	if w.Code != http.StatusOK || p.enabled {
		t.Errorf("status = %d, enabled = %v", w.Code, p.enabled)
	}
}

func TestSetGrantPolicyHandler_MissingField(t *testing.T) {
	p := &stubPolicy{}
	r := settingsRouter(p)

	w, _ := doJSON(r, http.MethodPut, "/api/v1/settings/grant-requires-possession", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if p.sets != 0 {
		t.Error("switch changed on invalid body")
	}
}

func TestGrantPolicyHandlers_StoreFailure(t *testing.T) {
	r := settingsRouter(&stubPolicy{err: errors.New("db down")})

	w, _ := doJSON(r, http.MethodGet, "/api/v1/settings/grant-requires-possession", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("GET status = %d, want 500", w.Code)
	}
	w, _ = doJSON(r, http.MethodPut, "/api/v1/settings/grant-requires-possession", `{"enabled":true}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("PUT status = %d, want 500", w.Code)
	}
}
