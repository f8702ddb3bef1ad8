package credential

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// maxPendingLogins bounds logins started but never completed.
const maxPendingLogins = 256

type pendingLogin struct {
	verifier   string
	returnPath string
	created    time.Time
}

// pendingLogins maps the opaque state sent to the provider back to the
// PKCE verifier and the path the operator was heading to.
type pendingLogins struct {
	mu      sync.Mutex
	ttl     time.Duration
	byState map[string]pendingLogin
}

func newPendingLogins(ttl time.Duration) *pendingLogins {
	return &pendingLogins{
		ttl:     ttl,
		byState: make(map[string]pendingLogin),
	}
}

func (p *pendingLogins) put(state string, login pendingLogin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, existing := range p.byState {
		if login.created.Sub(existing.created) > p.ttl {
			delete(p.byState, key)
		}
	}
	for len(p.byState) >= maxPendingLogins {
		p.evictOldest()
	}
	p.byState[state] = login
}

func (p *pendingLogins) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for key, existing := range p.byState {
		if oldest == "" || existing.created.Before(oldestAt) {
			oldest, oldestAt = key, existing.created
		}
	}
	delete(p.byState, oldest)
}

func (p *pendingLogins) take(state string, now time.Time) (pendingLogin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	login, ok := p.byState[state]
	if !ok {
		return pendingLogin{}, false
	}
	delete(p.byState, state)
	if now.Sub(login.created) > p.ttl {
		return pendingLogin{}, false
	}
	return login, true
}

// LoginURL returns the provider authorization URL for a login that will
// resume at returnPath.
func (c *Client) LoginURL(returnPath string) (string, error) {
	c.mu.RLock()
	oauth := c.oauth
	phase := c.phase
	c.mu.RUnlock()

	if phase != PhaseReady || oauth == nil {
		return "", ErrNotReady
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	c.pending.put(state, pendingLogin{
		verifier:   verifier,
		returnPath: returnPath,
		created:    c.opts.Now(),
	})

	return oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Login sends the browser to the provider. The current request is over
// once this returns nil.
func (c *Client) Login(w http.ResponseWriter, r *http.Request, returnPath string) error {
	loginURL, err := c.LoginURL(returnPath)
	if err != nil {
		return err
	}
	http.Redirect(w, r, loginURL, http.StatusSeeOther)
	return nil
}

/*
HandleAuthorizationCode completes the login the provider redirected back
from: it exchanges the code, stores the session and sends the browser on
to the path it was originally heading to. Register it at the route given
as Options.CallbackURL.
*/
func (c *Client) HandleAuthorizationCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logErr := func(msg string, fields ...zap.Field) {
			c.logger.Error("authorization callback: "+msg, fields...)
			http.Redirect(w, r, c.opts.FailureRedirect, http.StatusSeeOther)
		}

		query := r.URL.Query()
		if providerErr := query.Get("error"); providerErr != "" {
			logErr("provider returned error",
				zap.String("error", providerErr),
				zap.String("description", query.Get("error_description")))
			return
		}

		code := query.Get("code")
		state := query.Get("state")
		if code == "" || state == "" {
			logErr("missing required 'code' or 'state' query param")
			return
		}

		login, ok := c.pending.take(state, c.opts.Now())
		if !ok {
			logErr(ErrUnknownState.Error())
			return
		}

		session, err := c.exchangeCode(r.Context(), code, login.verifier)
		if err != nil {
			logErr("code exchange failed", zap.Error(err))
			return
		}
		c.adopt(r.Context(), session)

		http.Redirect(w, r, login.returnPath, http.StatusSeeOther)
	}
}

func (c *Client) exchangeCode(
	ctx context.Context,
	code string,
	verifier string,
) (
	*Session,
	error,
) {
	c.mu.RLock()
	oauth := c.oauth
	c.mu.RUnlock()
	if oauth == nil {
		return nil, ErrNotReady
	}

	token, err := oauth.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeExchange, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrCodeExchange)
	}
	return sessionFromToken(token, nil), nil
}

// adopt installs a freshly issued session. The phase is already ready;
// only authentication moves forward here.
func (c *Client) adopt(ctx context.Context, session *Session) {
	c.mu.Lock()
	c.session = session
	c.authenticated = true
	c.mu.Unlock()

	c.persist(ctx, session)
	c.startRefreshLoop()
	c.logger.Info("signed in", zap.String("subject", subjectOf(session.AccessToken)))
}

// HandleLogout signs the operator out locally and at the provider.
func (c *Client) HandleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		session := c.session
		provider := c.provider
		clientID := c.cfg.ClientID
		c.session = nil
		c.authenticated = false
		c.mu.Unlock()

		c.stopRefreshLoop()
		c.clearStored(r.Context())

		target := c.opts.PostLogoutURL
		idToken := ""
		if session != nil {
			idToken = session.IDToken
		}
		if endSession := provider.endSessionURL(clientID, idToken, c.opts.PostLogoutURL); endSession != "" {
			target = endSession
		}

		c.logger.Info("signed out")
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}
