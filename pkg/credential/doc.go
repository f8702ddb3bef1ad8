// Package credential owns the operator's identity-provider session for the
// inventory front-end.
//
// A Client is created once per process. It performs the OpenID discovery
// handshake with the provider exactly once, restores any persisted
// session, and then keeps the access token fresh in the background. The
// route guard reads whether the client is ready and authenticated; the
// HTTP gateway reads the current token for every outgoing request. Nothing
// outside the Client writes its state.
//
// # Quick Start
//
//	creds := credential.New(credential.Options{
//	    CallbackURL:   "https://inventory.example.com/auth/callback",
//	    PostLogoutURL: "https://inventory.example.com/",
//	    Store:         store,   // any credential.SessionStore
//	    Logger:        logger,
//	})
//	defer creds.Close()
//
//	creds.Start(credential.Config{
//	    ProviderURL: "http://localhost:7080",
//	    Realm:       "project",
//	    ClientID:    "vue",
//	})
//
//	r.Handle("/auth/callback", creds.HandleAuthorizationCode())
//	r.Handle("/auth/logout", creds.HandleLogout()).Methods(http.MethodPost)
//
// # Lifecycle
//
// The phase moves uninitialized -> initializing -> ready | failed, and
// never moves back. Ready() returns a channel that is closed at that
// moment, so any number of waiters can select on it:
//
//	select {
//	case <-creds.Ready():
//	case <-ctx.Done():
//	}
//
// A failed handshake is terminal for the process. A ready client may or
// may not be authenticated; CurrentToken reports which:
//
//	if token, ok := creds.CurrentToken(); ok {
//	    req.Header.Set("Authorization", "Bearer "+token)
//	}
//
// # Refresh
//
// While authenticated, a single goroutine wakes every RefreshInterval
// (60s by default) and refreshes the token when less than MinValidity
// (70s by default) remains. Failed refreshes are logged and the current
// token is kept; the next tick tries again. Close stops the goroutine.
//
// # Login
//
// LoginURL and Login send the browser to the provider with PKCE and a
// one-time state that remembers where the operator was going. The
// provider returns to HandleAuthorizationCode, which exchanges the code,
// persists the session and redirects to that remembered path.
package credential
