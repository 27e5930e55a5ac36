package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/havosec/authcore"
	"github.com/havosec/authcore/store/memstore"
	"github.com/sirupsen/logrus/hooks/test"
)

func newEngine(t *testing.T) *authcore.Engine {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.Session.AdminSecret = []byte("admin-secret-0123456789abcdef")
	cfg.Session.ClientSecret = []byte("client-secret-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	logger, _ := test.NewNullLogger()
	engine, err := authcore.New().WithConfig(cfg).WithStore(memstore.New()).WithLogger(logger).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func clientToken(t *testing.T, engine *authcore.Engine) (string, string) {
	t.Helper()
	res, err := engine.Register(context.Background(), authcore.RegisterRequest{
		Email: "mw@example.com", Password: "correct-horse", FirstName: "M", LastName: "W", Company: "Co",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res.Session.Token, res.Profile.ID
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardInjectsClaims(t *testing.T) {
	engine := newEngine(t)
	token, uid := clientToken(t, engine)

	var seen string
	h := RequireClient(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("claims missing from context")
			return
		}
		seen = claims.UID
	}))

	if rec := serve(h, "Bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != uid {
		t.Fatalf("expected uid %q, got %q", uid, seen)
	}
}

func TestGuardRejects(t *testing.T) {
	engine := newEngine(t)
	token, _ := clientToken(t, engine)
	ok := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	})

	cases := []struct {
		name  string
		h     http.Handler
		authz string
	}{
		{"missing header", RequireClient(engine)(ok), ""},
		{"wrong scheme", RequireClient(engine)(ok), "Basic abc"},
		{"garbage token", RequireClient(engine)(ok), "Bearer nope"},
		{"client token on admin route", RequireAdmin(engine)(ok), "Bearer " + token},
		{"nil engine", Guard(nil, "")(ok), "Bearer " + token},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := serve(tc.h, tc.authz); rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestClientContext(t *testing.T) {
	var ip string
	h := ClientContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = r.RemoteAddr
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if ip != "198.51.100.4:5555" {
		t.Fatalf("request must be passed through, got %q", ip)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := bearerToken("bearer abc"); !ok || tok != "abc" {
		t.Fatalf("expected case-insensitive scheme, got %q %v", tok, ok)
	}
	if _, ok := bearerToken("Bearer "); ok {
		t.Fatal("empty token accepted")
	}
}
