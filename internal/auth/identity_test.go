package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

const (
	aliceID  = "6f1c2f9e-3c43-4d5e-9a57-3b1b0c5d7e01"
	tenantID = "0b7e4a52-1d8a-4e6b-8d0e-2f9a7c3e5b10"
)

type stubSource struct {
	name  string
	actor *Actor
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Identify(*http.Request) (*Actor, error) {
	s.calls++
	return s.actor, s.err
}

func TestActorResolver_FirstMatchWins(t *testing.T) {
	first := &stubSource{name: "first"}
	second := &stubSource{name: "second", actor: &Actor{UserID: aliceID, TenantID: tenantID}}
	third := &stubSource{name: "third", actor: &Actor{UserID: "other"}}

	r := NewActorResolver(first, second, third)
	actor, err := r.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if actor.UserID != aliceID || actor.Source != "second" {
		t.Errorf("Resolve() = %+v", actor)
	}
	if third.calls != 0 {
		t.Error("sources after a match should not be consulted")
	}
	if got := r.Sources(); !reflect.DeepEqual(got, []string{"first", "second", "third"}) {
		t.Errorf("Sources() = %v", got)
	}
}

func TestActorResolver_RejectionStopsSearch(t *testing.T) {
	bad := &stubSource{name: "jwt", err: ErrUnauthorized}
	fallback := &stubSource{name: "header", actor: &Actor{UserID: aliceID, TenantID: tenantID}}

	_, err := NewActorResolver(bad, fallback).Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if fallback.calls != 0 {
		t.Error("a rejected credential must not fall through to a weaker source")
	}
}

func TestActorResolver_InfrastructureErrorPassesThrough(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewActorResolver(&stubSource{name: "oidc", err: boom}).Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, boom) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want the source error unchanged", err)
	}
}

func TestActorResolver_NothingPresented(t *testing.T) {
	_, err := NewActorResolver(&stubSource{name: "a"}).Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def", "abc.def"},
		{"bearer   abc ", "abc"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(req); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// HeaderSource
// ---------------------------------------------------------------------------

func TestHeaderSource(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		tenant   string
		wantNil  bool
		wantErr  bool
		wantUser string
	}{
		{name: "both present", user: aliceID, tenant: tenantID, wantUser: aliceID},
		{name: "both absent", wantNil: true},
		{name: "tenant missing", user: aliceID, wantErr: true},
		{name: "user missing", tenant: tenantID, wantErr: true},
		{name: "malformed user", user: "alice", tenant: tenantID, wantErr: true},
		{name: "malformed tenant", user: aliceID, tenant: "acme", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != "" {
				req.Header.Set(HeaderActorUserID, tt.user)
			}
			if tt.tenant != "" {
				req.Header.Set(HeaderTenantID, tt.tenant)
			}

			actor, err := HeaderSource{}.Identify(req)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("err = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Identify() error: %v", err)
			}
			if tt.wantNil {
				if actor != nil {
					t.Errorf("Identify() = %+v, want nil", actor)
				}
				return
			}
			if actor.UserID != tt.wantUser || actor.TenantID != tt.tenant {
				t.Errorf("Identify() = %+v", actor)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// JWTSource
// ---------------------------------------------------------------------------

func TestJWTSource(t *testing.T) {
	resetSessionKey()
	src := NewJWTSource("")

	bearer := func(token string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	t.Run("valid session token", func(t *testing.T) {
		token, err := IssueSessionToken(aliceID, tenantID, "alice@acme.test", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		actor, err := src.Identify(bearer(token))
		if err != nil {
			t.Fatalf("Identify() error: %v", err)
		}
		if actor.UserID != aliceID || actor.TenantID != tenantID || actor.Email != "alice@acme.test" {
			t.Errorf("Identify() = %+v", actor)
		}
	})

	t.Run("no bearer token", func(t *testing.T) {
		actor, err := src.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
		if actor != nil || err != nil {
			t.Errorf("Identify() = %v, %v; want nil, nil", actor, err)
		}
	})

	t.Run("foreign issuer is skipped", func(t *testing.T) {
		token, err := IssueSessionToken(aliceID, tenantID, "", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		actor, err := NewJWTSource("https://idp.example.com/realms/acme").Identify(bearer(token))
		if actor != nil || err != nil {
			t.Errorf("Identify() = %v, %v; want nil, nil", actor, err)
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token, err := IssueSessionToken(aliceID, tenantID, "", -time.Minute)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		if _, err := src.Identify(bearer(token)); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("non-uuid claims rejected", func(t *testing.T) {
		token, err := IssueSessionToken("alice", tenantID, "", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken() error: %v", err)
		}
		if _, err := src.Identify(bearer(token)); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		if _, err := src.Identify(bearer("garbage")); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})
}
