package credential

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func (c *Client) startRefreshLoop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.closed || c.loopDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopStop = cancel
	c.loopDone = done
	go c.refreshLoop(ctx, done)
}

func (c *Client) stopRefreshLoop() {
	c.loopMu.Lock()
	stop, done := c.loopStop, c.loopDone
	c.loopStop, c.loopDone = nil, nil
	c.loopMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

// refreshLoop runs one tick at a time; the next interval starts only once
// the previous tick has an outcome.
func (c *Client) refreshLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(c.opts.RefreshInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_, _ = c.tick(ctx)
			timer.Reset(c.opts.RefreshInterval)
		}
	}
}

// tick refreshes the access token when it has less than MinValidity left.
// A failed refresh keeps the current token; the next tick tries again.
func (c *Client) tick(ctx context.Context) (bool, error) {
	c.mu.RLock()
	session := c.session
	authenticated := c.authenticated
	oauth := c.oauth
	c.mu.RUnlock()

	if !authenticated || session == nil || oauth == nil {
		return false, nil
	}
	remaining := session.remaining(c.opts.Now())
	if remaining >= c.opts.MinValidity {
		return false, nil
	}

	refreshed, err := c.exchangeRefresh(ctx, oauth, session)
	if err != nil {
		c.logger.Warn("keeping current token",
			zap.Error(err),
			zap.Duration("remaining", remaining))
		return false, err
	}

	c.mu.Lock()
	if !c.authenticated || c.session != session {
		// signed out or replaced by a new login while refreshing
		c.mu.Unlock()
		return false, nil
	}
	c.session = refreshed
	c.mu.Unlock()

	c.persist(ctx, refreshed)
	c.logger.Debug("token refreshed", zap.Time("expiry", refreshed.Expiry))
	return true, nil
}

func (c *Client) exchangeRefresh(
	ctx context.Context,
	oauth *oauth2.Config,
	session *Session,
) (
	*Session,
	error,
) {
	if session.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefresh)
	}

	// an empty access token is never valid, so the source always refreshes
	source := oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: session.RefreshToken,
	})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefresh, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrRefresh)
	}
	return sessionFromToken(token, session), nil
}
