package idptest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidClient      = errors.New("invalid client")
	ErrInvalidGrant       = errors.New("invalid grant")
	ErrInvalidRequest     = errors.New("invalid request")
)

const (
	DefaultRealm           = "project"
	DefaultClientID        = "vue"
	DefaultAccessLifetime  = 5 * time.Minute
	DefaultRefreshLifetime = 30 * time.Minute
	codeLifetime           = time.Minute
)

// User holds test user credentials.
type User struct {
	Username string
	Password string
}

// Options configures a Provider. Zero values take the defaults.
type Options struct {
	Realm           string
	ClientID        string
	Users           []User
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

type authCode struct {
	username    string
	redirectURI string
	challenge   string
	expires     time.Time
}

type refreshGrant struct {
	username string
	expires  time.Time
}

// Provider is an in-process OpenID identity provider laid out like a
// Keycloak realm. It issues ES256-signed tokens and supports the
// authorization code (with PKCE) and refresh token grants.
type Provider struct {
	URL      string
	Realm    string
	ClientID string

	opts       Options
	logger     *zap.Logger
	router     *mux.Router
	signingKey *ecdsa.PrivateKey

	mu      sync.Mutex
	users   map[string][]byte
	codes   map[string]authCode
	refresh map[string]refreshGrant
	gate    chan struct{}

	discoveryCount atomic.Int64
	refreshCount   atomic.Int64
	exchangeCount  atomic.Int64
	failRefresh    atomic.Bool
	failDiscovery  atomic.Bool
}

// New builds a Provider that believes it is served at baseURL.
func New(baseURL string, opts Options) (*Provider, error) {
	if opts.Realm == "" {
		opts.Realm = DefaultRealm
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.AccessLifetime == 0 {
		opts.AccessLifetime = DefaultAccessLifetime
	}
	if opts.RefreshLifetime == 0 {
		opts.RefreshLifetime = DefaultRefreshLifetime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	p := &Provider{
		URL:        baseURL,
		Realm:      opts.Realm,
		ClientID:   opts.ClientID,
		opts:       opts,
		logger:     logger.Named("idp"),
		signingKey: key,
		users:      make(map[string][]byte),
		codes:      make(map[string]authCode),
		refresh:    make(map[string]refreshGrant),
	}
	for _, user := range opts.Users {
		if err := p.AddUser(user.Username, user.Password); err != nil {
			return nil, err
		}
	}
	p.router = p.buildRouter()
	return p, nil
}

// Start serves a new Provider from an httptest server that is closed when
// the test ends.
func Start(t testing.TB, opts Options) *Provider {
	t.Helper()

	var provider *Provider
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	provider, err := New(server.URL, opts)
	if err != nil {
		t.Fatalf("failed to create identity provider: %v", err)
	}
	return provider
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

// AddUser registers a user. Passwords are hashed at bcrypt.MinCost to keep
// tests fast.
func (p *Provider) AddUser(username string, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", username, err)
	}
	p.mu.Lock()
	p.users[username] = hash
	p.mu.Unlock()
	return nil
}

// Issuer is the iss claim of every token.
func (p *Provider) Issuer() string {
	issuer, _ := url.JoinPath(p.URL, "realms", p.Realm)
	return issuer
}

func (p *Provider) endpoint(name string) string {
	endpoint, _ := url.JoinPath(p.Issuer(), "protocol", "openid-connect", name)
	return endpoint
}

func (p *Provider) DiscoveryCount() int64 { return p.discoveryCount.Load() }
func (p *Provider) RefreshCount() int64   { return p.refreshCount.Load() }
func (p *Provider) ExchangeCount() int64  { return p.exchangeCount.Load() }

// FailRefresh makes every refresh grant fail while set.
func (p *Provider) FailRefresh(fail bool) { p.failRefresh.Store(fail) }

// FailDiscovery makes the discovery document return 503 while set.
func (p *Provider) FailDiscovery(fail bool) { p.failDiscovery.Store(fail) }

// HoldDiscovery blocks discovery requests until release is called.
func (p *Provider) HoldDiscovery() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			p.mu.Unlock()
			close(gate)
		})
	}
}

func (p *Provider) authenticate(username string, password string) error {
	p.mu.Lock()
	hash, ok := p.users[username]
	p.mu.Unlock()
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// authorizationRequest is the query the client sends to the auth endpoint.
type authorizationRequest struct {
	ClientID      string
	RedirectURI   string
	State         string
	Challenge     string
	ChallengeMode string
}

func parseAuthorizationRequest(values url.Values) (authorizationRequest, error) {
	req := authorizationRequest{
		ClientID:      values.Get("client_id"),
		RedirectURI:   values.Get("redirect_uri"),
		State:         values.Get("state"),
		Challenge:     values.Get("code_challenge"),
		ChallengeMode: values.Get("code_challenge_method"),
	}
	if values.Get("response_type") != "" && values.Get("response_type") != "code" {
		return req, fmt.Errorf("%w: unsupported response_type", ErrInvalidRequest)
	}
	if req.RedirectURI == "" {
		return req, fmt.Errorf("%w: missing redirect_uri", ErrInvalidRequest)
	}
	if req.ChallengeMode != "" && req.ChallengeMode != "S256" {
		return req, fmt.Errorf("%w: unsupported code_challenge_method", ErrInvalidRequest)
	}
	return req, nil
}

// authorize checks credentials and returns the redirect back to the client
// carrying a fresh authorization code.
func (p *Provider) authorize(req authorizationRequest, username string, password string) (*url.URL, error) {
	if req.ClientID != p.ClientID {
		return nil, ErrInvalidClient
	}
	if err := p.authenticate(username, password); err != nil {
		return nil, err
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: bad redirect_uri", ErrInvalidRequest)
	}

	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = authCode{
		username:    username,
		redirectURI: req.RedirectURI,
		challenge:   req.Challenge,
		expires:     p.opts.Now().Add(codeLifetime),
	}
	p.mu.Unlock()

	q := redirect.Query()
	q.Set("code", code)
	q.Set("state", req.State)
	q.Set("session_state", uuid.NewString())
	redirect.RawQuery = q.Encode()
	return redirect, nil
}

// CompleteLogin plays the browser's part of a login: given the
// authorization URL a client produced, it signs in as username and returns
// the callback URL the provider would redirect to.
func (p *Provider) CompleteLogin(loginURL string, username string, password string) (string, error) {
	u, err := url.Parse(loginURL)
	if err != nil {
		return "", err
	}
	req, err := parseAuthorizationRequest(u.Query())
	if err != nil {
		return "", err
	}
	redirect, err := p.authorize(req, username, password)
	if err != nil {
		return "", err
	}
	return redirect.String(), nil
}

// IssuedTokens is what the token endpoint returns.
type IssuedTokens struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	IDToken          string `json:"id_token,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

// Expiry is the absolute access token expiry relative to now.
func (t *IssuedTokens) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// IssueTokens mints a session for username directly, as if a login had
// just completed.
func (p *Provider) IssueTokens(username string, accessLifetime time.Duration) (*IssuedTokens, error) {
	if accessLifetime == 0 {
		accessLifetime = p.opts.AccessLifetime
	}
	now := p.opts.Now()

	access, err := p.sign(jwt.MapClaims{
		"iss":                p.Issuer(),
		"sub":                subjectID(username),
		"preferred_username": username,
		"aud":                "account",
		"azp":                p.ClientID,
		"typ":                "Bearer",
		"jti":                uuid.NewString(),
		"iat":                now.Unix(),
		"exp":                now.Add(accessLifetime).Unix(),
	})
	if err != nil {
		return nil, err
	}
	id, err := p.sign(jwt.MapClaims{
		"iss":                p.Issuer(),
		"sub":                subjectID(username),
		"preferred_username": username,
		"aud":                p.ClientID,
		"typ":                "ID",
		"iat":                now.Unix(),
		"exp":                now.Add(accessLifetime).Unix(),
	})
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	p.mu.Lock()
	p.refresh[refresh] = refreshGrant{
		username: username,
		expires:  now.Add(p.opts.RefreshLifetime),
	}
	p.mu.Unlock()

	return &IssuedTokens{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresIn:        int64(accessLifetime / time.Second),
		RefreshToken:     refresh,
		RefreshExpiresIn: int64(p.opts.RefreshLifetime / time.Second),
		IDToken:          id,
		Scope:            "openid profile email",
	}, nil
}

func (p *Provider) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = p.keyID()
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks an access token the way a resource server would and
// returns the preferred username.
func (p *Provider) Verify(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims,
		func(*jwt.Token) (any, error) { return &p.signingKey.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(p.Issuer()),
		jwt.WithTimeFunc(p.opts.Now),
	)
	if err != nil {
		return "", err
	}
	if typ, _ := claims["typ"].(string); typ != "Bearer" {
		return "", fmt.Errorf("not an access token")
	}
	username, _ := claims["preferred_username"].(string)
	return username, nil
}

func (p *Provider) keyID() string {
	return "idptest-" + p.Realm
}

func subjectID(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("idptest:"+username)).String()
}
