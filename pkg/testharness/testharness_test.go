package testharness

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"github.com/google/go-cmp/cmp"
)

func requireBinary(t *testing.T) {
	t.Helper()
	if findBinary("") == "" {
		t.Skipf("idp-testserver not found; build cmd/idp-testserver and set %s", BinaryEnvVar)
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	args := buildArgs(Config{
		Realm:          "staging",
		AccessLifetime: 90 * time.Second,
		Quiet:          true,
		Users: []User{
			{Username: "alice", Password: "password123"},
			{Username: "bob", Password: "secret456"},
		},
	})
	want := []string{
		"--realm", "staging",
		"--access-lifetime", "1m30s",
		"--quiet",
		"--user", "alice:password123",
		"--user", "bob:secret456",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestStart(t *testing.T) {
	requireBinary(t)

	h := Start(t, Config{
		Realm: "inventory",
		Users: []User{
			{Username: "alice", Password: "password123"},
			{Username: "bob", Password: "secret456"},
		},
		Quiet: true,
	})

	if h.BaseURL == "" {
		t.Error("BaseURL is empty")
	}
	if h.Realm != "inventory" {
		t.Errorf("expected Realm 'inventory', got %s", h.Realm)
	}
	if h.ClientID != "vue" {
		t.Errorf("expected default ClientID 'vue', got %s", h.ClientID)
	}
	if len(h.Users) != 2 || h.Users[1].Username != "bob" {
		t.Errorf("unexpected users: %+v", h.Users)
	}

	resp, err := http.Get(h.DiscoveryURL)
	if err != nil {
		t.Fatalf("failed to fetch discovery document: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode discovery document: %v", err)
	}
	if doc["issuer"] != h.Issuer {
		t.Errorf("expected issuer %s, got %v", h.Issuer, doc["issuer"])
	}
}

func TestStartWithDefaults(t *testing.T) {
	requireBinary(t)

	h := Start(t, Config{Quiet: true})

	if h.Realm != "project" {
		t.Errorf("expected default Realm 'project', got %s", h.Realm)
	}
	if len(h.Users) != 1 || h.Users[0].Username != "test" || h.Users[0].Password != "test" {
		t.Errorf("default user credentials don't match 'test:test': %+v", h.Users)
	}
}

func TestIntegrationWithCredentialClient(t *testing.T) {
	requireBinary(t)

	h := Start(t, Config{Quiet: true})

	// setup env
	client := credential.New(credential.Options{
		CallbackURL: "http://127.0.0.1:1/auth/callback",
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	state := client.Initialize(ctx, h.CredentialConfig())

	if state.Phase != credential.PhaseReady {
		t.Fatalf("expected ready, got %s", state.Phase)
	}
	if state.Authenticated {
		t.Error("expected unauthenticated without a stored session")
	}
	if _, err := client.LoginURL("/products"); err != nil {
		t.Errorf("LoginURL failed: %v", err)
	}
}
