package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInitialize_ConcurrentCallersShareOneHandshake(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	release := idp.HoldDiscovery()
	c := newTestClient(t, Options{})
	cfg := providerConfig(idp)

	c.Start(cfg)
	if got := c.Phase(); got != PhaseInitializing {
		t.Fatalf("expected phase initializing, got %s", got)
	}

	const callers = 16
	states := make([]State, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			states[i] = c.Initialize(context.Background(), cfg)
		}()
	}

	select {
	case <-c.Ready():
		t.Fatal("ready closed before discovery completed")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	wg.Wait()

	for i, state := range states {
		if state.Phase != PhaseReady {
			t.Fatalf("caller %d: expected ready, got %s", i, state.Phase)
		}
	}
	if n := idp.DiscoveryCount(); n != 1 {
		t.Fatalf("expected 1 discovery request, got %d", n)
	}
}

func TestInitialize_DiscoveryFailureIsTerminal(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	idp.FailDiscovery(true)
	c := newTestClient(t, Options{})

	state := c.Initialize(context.Background(), providerConfig(idp))
	if state.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %s", state.Phase)
	}
	if !errors.Is(c.Err(), ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", c.Err())
	}
	if _, ok := c.CurrentToken(); ok {
		t.Fatal("failed client reported a token")
	}

	// later callers see the same outcome without a new handshake
	idp.FailDiscovery(false)
	state = c.Initialize(context.Background(), providerConfig(idp))
	if state.Phase != PhaseFailed {
		t.Fatalf("expected failed to stick, got %s", state.Phase)
	}
	if n := idp.DiscoveryCount(); n != 1 {
		t.Fatalf("expected 1 discovery request, got %d", n)
	}
}

func TestInitialize_UnreachableProvider(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Options{InitTimeout: time.Second})
	state := c.Initialize(context.Background(), Config{
		ProviderURL: "http://127.0.0.1:1",
		Realm:       "project",
		ClientID:    "vue",
	})
	if state.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %s", state.Phase)
	}
}

func TestInitialize_InvalidConfig(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Options{})
	state := c.Initialize(context.Background(), Config{ProviderURL: "http://localhost:7080", ClientID: "vue"})
	if state.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %s", state.Phase)
	}
	if !errors.Is(c.Err(), ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", c.Err())
	}
}

func TestInitialize_CancelledCallerDoesNotAbortHandshake(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	release := idp.HoldDiscovery()
	c := newTestClient(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := c.Initialize(ctx, providerConfig(idp))
	if state.Phase != PhaseInitializing {
		t.Fatalf("expected initializing, got %s", state.Phase)
	}

	release()
	select {
	case <-c.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("initialization never concluded")
	}
	if got := c.Phase(); got != PhaseReady {
		t.Fatalf("expected ready, got %s", got)
	}
}

func TestInitialize_WithoutSessionIsUnauthenticated(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	c := newTestClient(t, Options{Store: NewMemoryStore()})

	state := c.Initialize(context.Background(), providerConfig(idp))
	if state.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", state.Phase)
	}
	if state.Authenticated || c.Authenticated() {
		t.Fatal("expected unauthenticated")
	}
	if token, ok := c.CurrentToken(); ok || token != "" {
		t.Fatalf("expected no token, got %q", token)
	}
	if c.Subject() != "" {
		t.Fatalf("expected no subject, got %q", c.Subject())
	}
}

func TestInitialize_RestoresStoredSession(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	store := NewMemoryStore()
	session := issueSession(t, idp, 5*time.Minute)
	if err := store.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	c := newTestClient(t, Options{Store: store})

	state := c.Initialize(context.Background(), providerConfig(idp))
	if !state.Authenticated {
		t.Fatal("expected restored session to authenticate")
	}
	if state.Token != session.AccessToken {
		t.Fatal("expected stored access token")
	}
	if state.Subject != testUser {
		t.Fatalf("expected subject %q, got %q", testUser, state.Subject)
	}
	if n := idp.RefreshCount(); n != 0 {
		t.Fatalf("expected no refresh for a valid session, got %d", n)
	}
}

func TestInitialize_RefreshesNearlyExpiredSession(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	store := NewMemoryStore()
	session := issueSession(t, idp, 30*time.Second)
	if err := store.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	c := newTestClient(t, Options{Store: store})

	state := c.Initialize(context.Background(), providerConfig(idp))
	if !state.Authenticated {
		t.Fatal("expected refreshed session to authenticate")
	}
	if state.Token == session.AccessToken {
		t.Fatal("expected a new access token")
	}
	if n := idp.RefreshCount(); n != 1 {
		t.Fatalf("expected 1 refresh, got %d", n)
	}

	stored, _ := store.LoadSession(context.Background())
	if stored == nil || stored.AccessToken != state.Token {
		t.Fatal("expected refreshed session to be persisted")
	}
}

func TestInitialize_DropsUnrefreshableSession(t *testing.T) {
	t.Parallel()

	// setup env
	idp := startProvider(t)
	idp.FailRefresh(true)
	store := NewMemoryStore()
	if err := store.SaveSession(context.Background(), issueSession(t, idp, 30*time.Second)); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	c := newTestClient(t, Options{Store: store})

	state := c.Initialize(context.Background(), providerConfig(idp))
	if state.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", state.Phase)
	}
	if state.Authenticated {
		t.Fatal("expected unauthenticated")
	}
	if stored, _ := store.LoadSession(context.Background()); stored != nil {
		t.Fatal("expected stored session to be cleared")
	}
}

func TestState_TokenOnlyWhenReadyAndAuthenticated(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Options{})
	state := c.State()
	if state.Phase != PhaseUninitialized || state.Authenticated || state.Token != "" {
		t.Fatalf("unexpected initial state %+v", state)
	}
	if c.IsReady() {
		t.Fatal("uninitialized client reported ready")
	}
	if _, err := c.LoginURL("/products"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}
