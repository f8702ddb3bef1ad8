// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/inventory/internal/database"
	"git.sr.ht/~jakintosh/inventory/internal/resources"
	"git.sr.ht/~jakintosh/inventory/internal/routing"
	"git.sr.ht/~jakintosh/inventory/internal/sealed"
	"git.sr.ht/~jakintosh/inventory/internal/views"
	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"git.sr.ht/~jakintosh/inventory/pkg/gateway"
	"git.sr.ht/~jakintosh/inventory/pkg/guard"
	"git.sr.ht/~jakintosh/inventory/pkg/idptest"
	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"golang.org/x/net/publicsuffix"
)

const (
	TestUser     = "alice"
	TestPassword = "wonderland"
)

// EnvOptions tunes SetupTestEnv. Zero values give a fail-open guard with
// a short ready timeout and a started credential client.
type EnvOptions struct {
	Policy       guard.Policy
	ReadyTimeout time.Duration

	// Deferred leaves the credential client uninitialized; call
	// env.Credentials.Start(env.IdPConfig()) to begin the handshake.
	Deferred bool
}

// TestEnv is a complete inventory front-end wired to an in-process
// identity provider, a fake product API and an in-memory session store.
type TestEnv struct {
	IdP         *idptest.Provider
	API         *ProductAPI
	DB          *database.SQLiteStore
	Credentials *credential.Client
	Guard       *guard.Guard
	Router      http.Handler

	// Server serves Router at URL, the public origin.
	Server *httptest.Server
	URL    string
}

// SetupTestEnv creates an isolated test environment with in-memory SQLite
func SetupTestEnv(
	t *testing.T,
	opts EnvOptions,
) *TestEnv {
	t.Helper()
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 2 * time.Second
	}

	env := &TestEnv{}
	env.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.Router.ServeHTTP(w, r)
	}))
	env.URL = env.Server.URL
	t.Cleanup(env.Server.Close)

	env.IdP = idptest.Start(t, idptest.Options{
		Users: []idptest.User{{Username: TestUser, Password: TestPassword}},
	})
	env.API = StartProductAPI(t, env.IdP.Verify)

	sealer, err := sealed.Generate()
	if err != nil {
		t.Fatalf("failed to generate session key: %v", err)
	}
	env.DB, err = database.NewSQLiteStore(":memory:", sealer)
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	t.Cleanup(func() { _ = env.DB.Close() })

	env.Credentials = credential.New(credential.Options{
		CallbackURL:   env.URL + "/auth/callback",
		PostLogoutURL: env.URL + "/",
		Store:         env.DB,
	})
	t.Cleanup(func() { _ = env.Credentials.Close() })

	gw, err := gateway.New(env.Credentials, gateway.Options{BaseURL: env.API.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	tmpl, err := resources.NewTemplates("", nil)
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	env.Guard = guard.New(env.Credentials, guard.Options{
		Policy:       opts.Policy,
		ReadyTimeout: opts.ReadyTimeout,
	})
	router, err := routing.BuildRouter(routing.Options{
		Auth:  env.Credentials,
		Guard: env.Guard,
		Views: views.New(views.Options{
			Products:  products.New(gw),
			Session:   env.Credentials,
			Templates: tmpl,
		}),
		Store:  env.DB,
		Origin: env.URL,
	})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	env.Router = router

	if !opts.Deferred {
		env.Credentials.Start(env.IdPConfig())
	}
	return env
}

func (env *TestEnv) IdPConfig() credential.Config {
	return credential.Config{
		ProviderURL: env.IdP.URL,
		Realm:       env.IdP.Realm,
		ClientID:    env.IdP.ClientID,
	}
}

// WaitReady blocks until the credential client has concluded
// initialization.
func (env *TestEnv) WaitReady(t *testing.T) {
	t.Helper()
	select {
	case <-env.Credentials.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("credential client never became ready")
	}
}

// Browser returns a client that keeps cookies and follows redirects,
// like a browser tab.
func (env *TestEnv) Browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

// Login signs the operator in through the identity provider by visiting
// path, which must be protected. It returns the response of the page the
// browser lands on afterwards.
func (env *TestEnv) Login(
	t *testing.T,
	browser *http.Client,
	path string,
) *http.Response {
	t.Helper()

	res, err := browser.Get(env.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Request.URL.Host == mustHost(t, env.URL) {
		t.Fatalf("expected the identity provider's login form, got %d at %s", res.StatusCode, res.Request.URL)
	}

	callback, err := env.IdP.CompleteLogin(res.Request.URL.String(), TestUser, TestPassword)
	if err != nil {
		t.Fatalf("failed to complete login: %v", err)
	}
	res, err = browser.Get(callback)
	if err != nil {
		t.Fatalf("GET callback failed: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

// SeedSession stores a fresh session for TestUser as if a previous run
// had signed in.
func (env *TestEnv) SeedSession(t *testing.T, lifetime time.Duration) {
	t.Helper()
	tokens, err := env.IdP.IssueTokens(TestUser, lifetime)
	if err != nil {
		t.Fatalf("failed to issue tokens: %v", err)
	}
	err = env.DB.SaveSession(context.Background(), &credential.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Expiry:       tokens.Expiry(time.Now()),
	})
	if err != nil {
		t.Fatalf("failed to store session: %v", err)
	}
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, raw, nil)
	if err != nil {
		t.Fatalf("bad url %q: %v", raw, err)
	}
	return req.URL.Host
}
