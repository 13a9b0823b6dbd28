package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func TestMiddleware_Unauthorized(t *testing.T) {
	authn := &testAuthenticator{err: ErrUnauthenticated}
	called := false
	h := Middleware{
		Authenticator: authn,
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/jobs", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("error=%v, want unauthorized", body["error"])
	}
	if body["request_id"] != "rid-1" {
		t.Fatalf("request_id=%v, want rid-1", body["request_id"])
	}
}

func TestMiddleware_InvalidTokenIsAudited(t *testing.T) {
	authn := &testAuthenticator{err: errors.New("bad token")}
	var denied []DenyEvent
	h := Middleware{
		Authenticator: authn,
		Audit: func(ctx context.Context, event DenyEvent) error {
			denied = append(denied, event)
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "http://example.test/jobs/j1/transform", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if len(denied) != 1 || denied[0].Reason != "invalid_token" || denied[0].Path != "/jobs/j1/transform" {
		t.Fatalf("unexpected deny events %+v", denied)
	}
}

func TestMiddleware_SkipsExactPaths(t *testing.T) {
	authn := &testAuthenticator{err: ErrUnauthenticated}
	h := Middleware{
		Authenticator: authn,
		SkipPaths:     []string{"/healthz"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || authn.calls != 0 {
		t.Fatalf("expected skip, status=%d calls=%d", rec.Code, authn.calls)
	}
}

func TestMiddleware_SetsIdentity(t *testing.T) {
	authn := &testAuthenticator{identity: Identity{Subject: "u1"}}
	var got Identity
	h := Middleware{Authenticator: authn}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if got.Subject != "u1" {
		t.Fatalf("subject=%q, want u1", got.Subject)
	}
}

func TestAgentKeyAuthenticator(t *testing.T) {
	cfg := Config{AgentKeys: map[string]string{HashAgentKey("sk_live_abc"): "u1"}}
	fallback := &testAuthenticator{identity: Identity{Subject: "human"}}
	a := NewAgentKeyAuthenticator(cfg, fallback)

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.Header.Set(HeaderAgentKey, "sk_live_abc")
	identity, err := a.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.Subject != "u1" || !identity.Agent {
		t.Fatalf("unexpected identity %+v", identity)
	}

	req.Header.Set(HeaderAgentKey, "sk_live_wrong")
	if _, err := a.Authenticate(context.Background(), req); !errors.Is(err, ErrInvalidAgentKey) {
		t.Fatalf("expected ErrInvalidAgentKey, got %v", err)
	}

	req.Header.Del(HeaderAgentKey)
	identity, err = a.Authenticate(context.Background(), req)
	if err != nil || identity.Subject != "human" || fallback.calls != 1 {
		t.Fatalf("expected fallback, got %+v %v", identity, err)
	}
}

func TestParseAgentKeys(t *testing.T) {
	digest := HashAgentKey("k")
	keys, err := parseAgentKeys("u1:" + digest + ", ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if keys[digest] != "u1" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if _, err := parseAgentKeys("u1:short"); err == nil {
		t.Fatalf("expected error for short digest")
	}
}

func TestIdentityFromClaims(t *testing.T) {
	cfg := Config{SubjectClaim: "sub", EmailClaim: "email"}
	identity, err := identityFromClaims(map[string]any{"sub": "u1", "email": "a@b.c"}, cfg)
	if err != nil || identity.Subject != "u1" || identity.Email != "a@b.c" {
		t.Fatalf("unexpected identity %+v %v", identity, err)
	}
	if _, err := identityFromClaims(map[string]any{}, cfg); err == nil {
		t.Fatalf("expected error without subject")
	}
}
