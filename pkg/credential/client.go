package credential

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	ErrNotReady       = errors.New("credential client not ready")
	ErrInitialization = errors.New("identity provider initialization failed")
	ErrRefresh        = errors.New("token refresh failed")
	ErrUnknownState   = errors.New("unknown or expired login state")
	ErrCodeExchange   = errors.New("authorization code exchange failed")
)

const (
	DefaultRefreshInterval = 60 * time.Second
	DefaultMinValidity     = 70 * time.Second
	DefaultInitTimeout     = 10 * time.Second
	DefaultLoginTTL        = 10 * time.Minute
)

var DefaultScopes = []string{"openid", "profile", "email"}

// Options tunes a Client. Zero values take the defaults above.
type Options struct {
	// CallbackURL is where the provider sends the browser back with an
	// authorization code. It must route to HandleAuthorizationCode.
	CallbackURL string

	// PostLogoutURL is where the provider sends the browser after logout.
	PostLogoutURL string

	// FailureRedirect receives the browser when a callback cannot be
	// completed.
	FailureRedirect string

	Scopes          []string
	Store           SessionStore
	HTTPClient      *http.Client
	Logger          *zap.Logger
	RefreshInterval time.Duration
	MinValidity     time.Duration
	InitTimeout     time.Duration
	LoginTTL        time.Duration
	Now             func() time.Time
}

// Client is the single source of truth for whether the operator is
// authenticated and with which token. Only its own methods write its
// state; everything else reads snapshots.
type Client struct {
	opts       Options
	logger     *zap.Logger
	httpClient *http.Client
	pending    *pendingLogins

	startOnce sync.Once
	ready     chan struct{}

	mu            sync.RWMutex
	cfg           Config
	phase         Phase
	initErr       error
	authenticated bool
	session       *Session
	provider      *providerMetadata
	oauth         *oauth2.Config

	loopMu   sync.Mutex
	loopStop context.CancelFunc
	loopDone chan struct{}
	closed   bool
}

func New(opts Options) *Client {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.MinValidity <= 0 {
		opts.MinValidity = DefaultMinValidity
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = DefaultLoginTTL
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = DefaultScopes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FailureRedirect == "" {
		opts.FailureRedirect = "/"
	}
	if opts.PostLogoutURL == "" {
		opts.PostLogoutURL = "/"
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.InitTimeout}
	}

	return &Client{
		opts:       opts,
		logger:     logger.Named("credential"),
		httpClient: httpClient,
		pending:    newPendingLogins(opts.LoginTTL),
		ready:      make(chan struct{}),
		phase:      PhaseUninitialized,
	}
}

// Start begins the identity provider handshake. Only the first call has
// any effect; it returns immediately.
func (c *Client) Start(cfg Config) {
	c.start(context.Background(), cfg)
}

// Initialize starts the handshake if nobody has yet and waits for it to
// conclude. Every caller observes the same outcome. If ctx ends first the
// current, still-initializing state is returned.
func (c *Client) Initialize(ctx context.Context, cfg Config) State {
	c.start(ctx, cfg)
	select {
	case <-c.ready:
	case <-ctx.Done():
	}
	return c.State()
}

func (c *Client) start(ctx context.Context, cfg Config) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.cfg = cfg
		c.phase = PhaseInitializing
		c.mu.Unlock()

		// a cancelled first caller must not poison the session
		go c.initialize(context.WithoutCancel(ctx), cfg)
	})
}

func (c *Client) initialize(ctx context.Context, cfg Config) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()

	c.logger.Info("initializing",
		zap.String("provider", cfg.ProviderURL),
		zap.String("realm", cfg.Realm),
		zap.String("client_id", cfg.ClientID))

	meta, err := discover(ctx, c.httpClient, cfg)
	if err != nil {
		c.fail(err)
		return
	}
	oauth := meta.oauthConfig(cfg.ClientID, c.opts.CallbackURL, c.opts.Scopes)
	session := c.restore(ctx, oauth)

	c.mu.Lock()
	c.provider = meta
	c.oauth = oauth
	c.session = session
	c.authenticated = session != nil
	c.phase = PhaseReady
	c.mu.Unlock()
	close(c.ready)

	if session != nil {
		c.logger.Info("ready", zap.Bool("authenticated", true), zap.String("subject", subjectOf(session.AccessToken)))
		c.startRefreshLoop()
	} else {
		c.logger.Info("ready", zap.Bool("authenticated", false))
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.phase = PhaseFailed
	c.initErr = err
	c.mu.Unlock()
	close(c.ready)

	c.logger.Error("initialization failed", zap.Error(err))
}

// restore adopts a persisted session when it is still usable, refreshing
// it if needed. Any problem leaves the operator signed out.
func (c *Client) restore(ctx context.Context, oauth *oauth2.Config) *Session {
	if c.opts.Store == nil {
		return nil
	}
	session, err := c.opts.Store.LoadSession(ctx)
	if err != nil {
		c.logger.Warn("couldn't load stored session", zap.Error(err))
		return nil
	}
	if session == nil || session.AccessToken == "" {
		return nil
	}
	if session.remaining(c.opts.Now()) >= c.opts.MinValidity {
		return session
	}
	if session.RefreshToken == "" {
		c.clearStored(ctx)
		return nil
	}

	refreshed, err := c.exchangeRefresh(ctx, oauth, session)
	if err != nil {
		c.logger.Info("stored session could not be refreshed", zap.Error(err))
		c.clearStored(ctx)
		return nil
	}
	c.persist(ctx, refreshed)
	return refreshed
}

// Ready is closed once initialization concludes, successfully or not.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// IsReady reports whether initialization has concluded. It says nothing
// about authentication.
func (c *Client) IsReady() bool {
	return c.Phase().Concluded()
}

func (c *Client) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Err returns the initialization failure, if any.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initErr
}

func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase == PhaseReady && c.authenticated
}

// CurrentToken returns the access token, or false when no credential is
// available. Absence is not an error.
func (c *Client) CurrentToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.phase != PhaseReady || !c.authenticated || c.session == nil || c.session.AccessToken == "" {
		return "", false
	}
	return c.session.AccessToken, true
}

// Subject names the signed-in operator, or "" when signed out.
func (c *Client) Subject() string {
	token, ok := c.CurrentToken()
	if !ok {
		return ""
	}
	return subjectOf(token)
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := State{Phase: c.phase}
	if c.phase == PhaseReady && c.authenticated && c.session != nil {
		state.Authenticated = true
		state.Token = c.session.AccessToken
		state.Expiry = c.session.Expiry
		state.Subject = subjectOf(c.session.AccessToken)
	}
	return state
}

// Close stops the refresh loop and waits for it to exit.
func (c *Client) Close() error {
	c.loopMu.Lock()
	c.closed = true
	c.loopMu.Unlock()
	c.stopRefreshLoop()
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) persist(ctx context.Context, session *Session) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.SaveSession(ctx, session); err != nil {
		c.logger.Warn("couldn't persist session", zap.Error(err))
	}
}

func (c *Client) clearStored(ctx context.Context) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.ClearSession(ctx); err != nil {
		c.logger.Warn("couldn't clear stored session", zap.Error(err))
	}
}

func sessionFromToken(token *oauth2.Token, previous *Session) *Session {
	session := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		session.IDToken = idToken
	}
	if previous != nil {
		if session.RefreshToken == "" {
			session.RefreshToken = previous.RefreshToken
		}
		if session.IDToken == "" {
			session.IDToken = previous.IDToken
		}
	}
	if session.Expiry.IsZero() {
		session.Expiry = expiryOf(session.AccessToken)
	}
	return session
}
