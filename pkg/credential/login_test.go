package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func callback(t *testing.T, c *Client, callbackURL string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, callbackURL, nil)
	rec := httptest.NewRecorder()
	c.HandleAuthorizationCode().ServeHTTP(rec, req)
	return rec
}

func TestLogin_CallbackAuthenticatesAndReturns(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	store := NewMemoryStore()
	c := newTestClient(t, Options{Store: store})
	c.Initialize(context.Background(), providerConfig(idp))

	loginURL, err := c.LoginURL("/products/7/history")
	if err != nil {
		t.Fatalf("failed to build login url: %v", err)
	}
	if !strings.Contains(loginURL, "code_challenge_method=S256") {
		t.Fatalf("expected a PKCE challenge in %s", loginURL)
	}

	callbackURL, err := idp.CompleteLogin(loginURL, testUser, testPassword)
	if err != nil {
		t.Fatalf("failed to sign in: %v", err)
	}

	rec := callback(t, c, callbackURL)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/products/7/history" {
		t.Fatalf("expected redirect to original path, got %s", loc)
	}
	if !c.Authenticated() {
		t.Fatal("expected authenticated after callback")
	}
	if got := c.Subject(); got != testUser {
		t.Fatalf("expected subject %q, got %q", testUser, got)
	}
	if stored, _ := store.LoadSession(context.Background()); stored == nil {
		t.Fatal("expected session to be persisted")
	}
}

func TestLogin_WrongPasswordIsRejected(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	c := newTestClient(t, Options{})
	c.Initialize(context.Background(), providerConfig(idp))

	loginURL, err := c.LoginURL("/")
	if err != nil {
		t.Fatalf("failed to build login url: %v", err)
	}
	if _, err := idp.CompleteLogin(loginURL, testUser, "nope"); err == nil {
		t.Fatal("expected sign in to fail")
	}
}

func TestLogin_StateIsSingleUse(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	c := newTestClient(t, Options{FailureRedirect: "/auth/error"})
	c.Initialize(context.Background(), providerConfig(idp))
	loginURL, _ := c.LoginURL("/dashboard")
	callbackURL, err := idp.CompleteLogin(loginURL, testUser, testPassword)
	if err != nil {
		t.Fatalf("failed to sign in: %v", err)
	}

	if rec := callback(t, c, callbackURL); rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("expected first callback to succeed, got %s", rec.Header().Get("Location"))
	}
	if rec := callback(t, c, callbackURL); rec.Header().Get("Location") != "/auth/error" {
		t.Fatalf("expected replayed callback to fail, got %s", rec.Header().Get("Location"))
	}
}

func TestLogin_CallbackFailures(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	c := newTestClient(t, Options{FailureRedirect: "/auth/error"})
	c.Initialize(context.Background(), providerConfig(idp))

	cases := map[string]string{
		"provider error": testCallback + "?error=access_denied&state=x",
		"missing code":   testCallback + "?state=x",
		"unknown state":  testCallback + "?code=abc&state=unknown",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rec := callback(t, c, target)
			if rec.Code != http.StatusSeeOther {
				t.Fatalf("expected 303, got %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != "/auth/error" {
				t.Fatalf("expected failure redirect, got %s", loc)
			}
		})
	}
	if c.Authenticated() {
		t.Fatal("failed callbacks authenticated the client")
	}
}

func TestPendingLogins_Expire(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pending := newPendingLogins(10 * time.Minute)
	pending.put("fresh", pendingLogin{returnPath: "/a", created: now})
	pending.put("stale", pendingLogin{returnPath: "/b", created: now.Add(-11 * time.Minute)})

	if _, ok := pending.take("stale", now); ok {
		t.Fatal("expected stale login to be rejected")
	}
	login, ok := pending.take("fresh", now)
	if !ok || login.returnPath != "/a" {
		t.Fatal("expected fresh login to be found")
	}
}

func TestPendingLogins_Bounded(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pending := newPendingLogins(10 * time.Minute)
	for i := 0; i < maxPendingLogins+10; i++ {
		pending.put(fmt.Sprintf("state-%d", i), pendingLogin{
			returnPath: "/products",
			created:    now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	if n := len(pending.byState); n != maxPendingLogins {
		t.Fatalf("expected %d pending logins, got %d", maxPendingLogins, n)
	}
	if _, ok := pending.take("state-0", now); ok {
		t.Fatal("expected the oldest login to be evicted")
	}
	if _, ok := pending.take(fmt.Sprintf("state-%d", maxPendingLogins+9), now); !ok {
		t.Fatal("expected the newest login to be kept")
	}
}

func TestLogout_ClearsSessionAndEndsProviderSession(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	store := NewMemoryStore()
	c := newTestClient(t, Options{
		Store:         store,
		PostLogoutURL: "http://inventory.test/",
	})
	c.Initialize(context.Background(), providerConfig(idp))
	c.adopt(context.Background(), issueSession(t, idp, 5*time.Minute))

	rec := httptest.NewRecorder()
	c.HandleLogout().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect: %v", err)
	}
	if !strings.HasSuffix(loc.Path, "/protocol/openid-connect/logout") {
		t.Fatalf("expected provider logout, got %s", loc)
	}
	if got := loc.Query().Get("post_logout_redirect_uri"); got != "http://inventory.test/" {
		t.Fatalf("expected post logout redirect, got %q", got)
	}
	if c.Authenticated() {
		t.Fatal("expected signed out")
	}
	if _, ok := c.CurrentToken(); ok {
		t.Fatal("expected no token after logout")
	}
	if c.Phase() != PhaseReady {
		t.Fatalf("logout must not regress the phase, got %s", c.Phase())
	}
	if stored, _ := store.LoadSession(context.Background()); stored != nil {
		t.Fatal("expected stored session to be cleared")
	}
}
