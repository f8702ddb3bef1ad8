package credential

import (
	"testing"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/idptest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testUser     = "alice"
	testPassword = "wonderland"
	testCallback = "http://inventory.test/auth/callback"
)

func startProvider(t *testing.T) *idptest.Provider {
	t.Helper()
	return idptest.Start(t, idptest.Options{
		Users: []idptest.User{{Username: testUser, Password: testPassword}},
	})
}

func providerConfig(p *idptest.Provider) Config {
	return Config{
		ProviderURL: p.URL,
		Realm:       p.Realm,
		ClientID:    p.ClientID,
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.CallbackURL == "" {
		opts.CallbackURL = testCallback
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

func issueSession(t *testing.T, p *idptest.Provider, lifetime time.Duration) *Session {
	t.Helper()
	tokens, err := p.IssueTokens(testUser, lifetime)
	if err != nil {
		t.Fatalf("failed to issue tokens: %v", err)
	}
	return &Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Expiry:       tokens.Expiry(time.Now()),
	}
}
