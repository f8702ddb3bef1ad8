// Package testharness runs an idp-testserver process for integration
// tests that need a real identity provider on the network.
package testharness

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/credential"
)

// BinaryEnvVar names the idp-testserver binary when it isn't on PATH.
const BinaryEnvVar = "INVENTORY_IDP_TESTSERVER_BIN"

// Config holds configuration for starting the test harness.
type Config struct {
	Realm           string
	ClientID        string
	Users           []User
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	ListenAddr      string
	BinaryPath      string
	Quiet           bool
}

// User holds test user credentials.
type User struct {
	Username string
	Password string
}

// Harness represents a running idp-testserver instance.
type Harness struct {
	BaseURL      string
	Issuer       string
	DiscoveryURL string
	Realm        string
	ClientID     string
	Users        []User

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// outputContract matches the JSON structure from idp-testserver
type outputContract struct {
	BaseURL      string       `json:"base_url"`
	Issuer       string       `json:"issuer"`
	DiscoveryURL string       `json:"discovery_url"`
	Realm        string       `json:"realm"`
	ClientID     string       `json:"client_id"`
	Users        []outputUser `json:"users"`
}

type outputUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Start spawns an idp-testserver and returns a handle to it.
// It registers cleanup with t.Cleanup().
func Start(t *testing.T, cfg Config) *Harness {
	t.Helper()

	binaryPath := findBinary(cfg.BinaryPath)
	if binaryPath == "" {
		t.Fatalf("idp-testserver binary not found (check PATH or set Config.BinaryPath or %s)", BinaryEnvVar)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binaryPath, buildArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stderr pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("failed to start idp-testserver: %v", err)
	}

	// the first stdout line is the JSON contract
	scanner := bufio.NewScanner(stdout)
	if !scanner.Scan() {
		cancel()
		cmd.Wait()
		t.Fatal("failed to read JSON contract from idp-testserver")
	}
	var contract outputContract
	if err := json.Unmarshal(scanner.Bytes(), &contract); err != nil {
		cancel()
		cmd.Wait()
		t.Fatalf("failed to parse JSON contract: %v", err)
	}

	if !cfg.Quiet {
		go func() {
			errScanner := bufio.NewScanner(stderr)
			for errScanner.Scan() {
				t.Logf("[idp-testserver] %s", errScanner.Text())
			}
		}()
	}

	harness := &Harness{
		BaseURL:      contract.BaseURL,
		Issuer:       contract.Issuer,
		DiscoveryURL: contract.DiscoveryURL,
		Realm:        contract.Realm,
		ClientID:     contract.ClientID,
		Users:        make([]User, len(contract.Users)),
		cmd:          cmd,
		cancel:       cancel,
	}
	for i, user := range contract.Users {
		harness.Users[i] = User{Username: user.Username, Password: user.Password}
	}

	t.Cleanup(func() {
		if err := harness.Close(); err != nil {
			t.Logf("warning: harness cleanup failed: %v", err)
		}
	})
	return harness
}

// CredentialConfig is the handshake configuration for this provider.
func (h *Harness) CredentialConfig() credential.Config {
	return credential.Config{
		ProviderURL: h.BaseURL,
		Realm:       h.Realm,
		ClientID:    h.ClientID,
	}
}

// Close terminates the idp-testserver process.
func (h *Harness) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case <-done:
		// killed by the cancelled context; the exit status is expected
		return nil
	case <-time.After(5 * time.Second):
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("force kill: %w", err)
		}
		return fmt.Errorf("timeout waiting for shutdown, process killed")
	}
}

func findBinary(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}
	if envPath := os.Getenv(BinaryEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	if pathBinary, err := exec.LookPath("idp-testserver"); err == nil {
		return pathBinary
	}
	return ""
}

func buildArgs(cfg Config) []string {
	var args []string
	if cfg.Realm != "" {
		args = append(args, "--realm", cfg.Realm)
	}
	if cfg.ClientID != "" {
		args = append(args, "--client-id", cfg.ClientID)
	}
	if cfg.AccessLifetime > 0 {
		args = append(args, "--access-lifetime", cfg.AccessLifetime.String())
	}
	if cfg.RefreshLifetime > 0 {
		args = append(args, "--refresh-lifetime", cfg.RefreshLifetime.String())
	}
	if cfg.ListenAddr != "" {
		args = append(args, "--listen", cfg.ListenAddr)
	}
	if cfg.Quiet {
		args = append(args, "--quiet")
	}
	for _, user := range cfg.Users {
		args = append(args, "--user", fmt.Sprintf("%s:%s", user.Username, user.Password))
	}
	return args
}
