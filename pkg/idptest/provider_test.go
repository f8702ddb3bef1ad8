package idptest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New("http://idp.test", Options{
		Users: []User{{Username: "alice", Password: "wonderland"}},
	})
	require.NoError(t, err)
	return p
}

func serve(p *Provider, method string, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func loginURL(p *Provider, challenge string) string {
	q := url.Values{}
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", "http://app.test/auth/callback")
	q.Set("response_type", "code")
	q.Set("state", "xyz")
	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	return p.endpoint("auth") + "?" + q.Encode()
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	rec := serve(p, http.MethodGet, "/realms/project/.well-known/openid-configuration", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc discoveryDocument
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, "http://idp.test/realms/project", doc.Issuer)
	assert.Equal(t, "http://idp.test/realms/project/protocol/openid-connect/token", doc.TokenEndpoint)
	assert.Equal(t, []string{"S256"}, doc.CodeChallengeMethods)
	assert.Equal(t, int64(1), p.DiscoveryCount())
}

func TestDiscovery_UnknownRealm(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	rec := serve(p, http.MethodGet, "/realms/other/.well-known/openid-configuration", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscovery_RequestedFailure(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	p.FailDiscovery(true)
	rec := serve(p, http.MethodGet, "/realms/project/.well-known/openid-configuration", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCompleteLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	_, err := p.CompleteLogin(loginURL(p, ""), "alice", "nope")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestLoginSubmit_WrongPasswordShowsForm(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	u, err := url.Parse(loginURL(p, ""))
	require.NoError(t, err)
	form := u.Query()
	form.Set("username", "alice")
	form.Set("password", "nope")

	rec := serve(p, http.MethodPost, u.Path, form)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password.")
}

func TestCodeExchange_WithPKCE(t *testing.T) {
	t.Parallel()

	// setup env
	p := newProvider(t)
	verifier := "a-verifier-that-is-long-enough-for-the-test-0123456789"
	callback, err := p.CompleteLogin(loginURL(p, s256(verifier)), "alice", "wonderland")
	require.NoError(t, err)
	u, err := url.Parse(callback)
	require.NoError(t, err)
	assert.Equal(t, "xyz", u.Query().Get("state"))

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", p.ClientID)
	form.Set("code", u.Query().Get("code"))
	form.Set("redirect_uri", "http://app.test/auth/callback")
	form.Set("code_verifier", verifier)
	rec := serve(p, http.MethodPost, "/realms/project/protocol/openid-connect/token", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens IssuedTokens
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tokens))
	username, err := p.Verify(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	// codes are single use
	rec = serve(p, http.MethodPost, "/realms/project/protocol/openid-connect/token", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCodeExchange_BadVerifier(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	callback, err := p.CompleteLogin(loginURL(p, s256("right")), "alice", "wonderland")
	require.NoError(t, err)
	u, err := url.Parse(callback)
	require.NoError(t, err)

	_, err = p.exchangeCode(u.Query().Get("code"), "http://app.test/auth/callback", "wrong")
	assert.True(t, errors.Is(err, ErrInvalidGrant))
}

func TestRefresh_RotatesToken(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	tokens, err := p.IssueTokens("alice", time.Minute)
	require.NoError(t, err)

	next, err := p.exchangeRefresh(tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

	_, err = p.exchangeRefresh(tokens.RefreshToken)
	assert.True(t, errors.Is(err, ErrInvalidGrant), "a used refresh token is revoked")

	p.FailRefresh(true)
	_, err = p.exchangeRefresh(next.RefreshToken)
	assert.Error(t, err)
}

func TestVerify_RejectsIDTokenAndExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	p, err := New("http://idp.test", Options{Now: func() time.Time { return now }})
	require.NoError(t, err)

	tokens, err := p.IssueTokens("alice", time.Minute)
	require.NoError(t, err)

	_, err = p.Verify(tokens.IDToken)
	assert.Error(t, err)

	now = now.Add(2 * time.Minute)
	_, err = p.Verify(tokens.AccessToken)
	assert.Error(t, err)
}

func TestLogout_RedirectsBack(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	target := "/realms/project/protocol/openid-connect/logout?post_logout_redirect_uri=" + url.QueryEscape("http://app.test/")
	rec := serve(p, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://app.test/", rec.Header().Get("Location"))
}

func TestHoldDiscovery(t *testing.T) {
	t.Parallel()

	p := newProvider(t)
	release := p.HoldDiscovery()

	done := make(chan int, 1)
	go func() {
		rec := serve(p, http.MethodGet, "/realms/project/.well-known/openid-configuration", nil)
		done <- rec.Code
	}()

	select {
	case <-done:
		t.Fatal("discovery answered while held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	release()

	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("discovery never answered after release")
	}
}
