package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/shared"
	_ "github.com/meridian-sms/meridian-sms/testing"
)

func resolveIdentity(t *testing.T, mw identity.Middleware, mutate func(*http.Request)) (identity.Identity, string) {
	t.Helper()
	var (
		resolved identity.Identity
		inst     string
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			t.Fatalf("identity missing from context")
		}
		resolved = id
		inst = shared.InstitutionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	res := httptest.NewRecorder()
	mw.Resolve(next).ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	return resolved, inst
}

func TestMiddlewareResolvesAnonymous(t *testing.T) {
	mw := identity.Middleware{Resolver: identity.NewResolver(&stubAccounts{}, &stubValidator{}, &stubValidator{}, nil)}

	id, _ := resolveIdentity(t, mw, nil)
	if id.Kind != identity.KindAnonymous {
		t.Fatalf("expected anonymous, got %s", id.Kind)
	}
}

func TestMiddlewareReadsOTPCookieAndHeader(t *testing.T) {
	mw := identity.Middleware{Resolver: identity.NewResolver(&stubAccounts{}, validSession(), &stubValidator{}, nil)}

	id, _ := resolveIdentity(t, mw, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: identity.ParentSessionCookie, Value: "tok-cookie"})
	})
	if id.Kind != identity.KindParentSession || id.Token != "tok-cookie" {
		t.Fatalf("expected parent session from cookie, got %s token %q", id.Kind, id.Token)
	}

	id, _ = resolveIdentity(t, mw, func(r *http.Request) {
		r.Header.Set(identity.ParentSessionHeader, "tok-header")
	})
	if id.Token != "tok-header" {
		t.Fatalf("expected header token fallback, got %q", id.Token)
	}
}

func TestMiddlewareScopesSessionInstitution(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)

	accounts := &stubAccounts{account: &identity.Account{ID: "u1"}}
	mw := identity.Middleware{Resolver: identity.NewResolver(accounts, &stubValidator{}, &stubValidator{}, nil)}

	id, inst := resolveIdentity(t, mw, func(r *http.Request) {
		sess, err := sessions.Load(r.Context(), r)
		if err != nil {
			t.Fatalf("load session: %v", err)
		}
		sess.SetUser("u1")
		sess.Set(shared.SessionInstitutionKey, "inst-1")
		*r = *r.WithContext(shared.ContextWithSession(r.Context(), sess))
	})
	if id.Kind != identity.KindPrimaryAccount {
		t.Fatalf("expected primary account, got %s", id.Kind)
	}
	if inst != "inst-1" {
		t.Fatalf("expected institution inst-1, got %q", inst)
	}
}
