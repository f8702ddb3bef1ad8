package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/inventory/internal/logging"
	"git.sr.ht/~jakintosh/inventory/pkg/idptest"
	"go.uber.org/zap"
)

// Config holds all command-line configuration
type Config struct {
	ListenAddr      string
	Realm           string
	ClientID        string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	Users           []idptest.User
	Quiet           bool
}

// OutputContract is the JSON structure emitted on stdout
type OutputContract struct {
	BaseURL      string       `json:"base_url"`
	Issuer       string       `json:"issuer"`
	DiscoveryURL string       `json:"discovery_url"`
	Realm        string       `json:"realm"`
	ClientID     string       `json:"client_id"`
	Users        []OutputUser `json:"users"`
}

type OutputUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserFlag is a custom flag type for repeatable --user flags
type UserFlag []idptest.User

func (u *UserFlag) String() string {
	return fmt.Sprintf("%v", *u)
}

func (u *UserFlag) Set(value string) error {
	username, password, ok := strings.Cut(value, ":")
	if !ok || username == "" {
		return fmt.Errorf("user must be in format 'username:password'")
	}
	*u = append(*u, idptest.User{Username: username, Password: password})
	return nil
}

func main() {
	cfg := parseFlags()

	logger := zap.NewNop()
	if !cfg.Quiet {
		var err error
		if logger, err = logging.New("info", true); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	// ephemeral port unless told otherwise
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	baseURL := fmt.Sprintf("http://%s:%d", addr.IP, addr.Port)

	provider, err := idptest.New(baseURL, idptest.Options{
		Realm:           cfg.Realm,
		ClientID:        cfg.ClientID,
		Users:           cfg.Users,
		AccessLifetime:  cfg.AccessLifetime,
		RefreshLifetime: cfg.RefreshLifetime,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("failed to create identity provider", zap.Error(err))
	}

	contract := OutputContract{
		BaseURL:      baseURL,
		Issuer:       provider.Issuer(),
		DiscoveryURL: provider.Issuer() + "/.well-known/openid-configuration",
		Realm:        provider.Realm,
		ClientID:     provider.ClientID,
		Users:        make([]OutputUser, len(cfg.Users)),
	}
	for i, user := range cfg.Users {
		contract.Users[i] = OutputUser{Username: user.Username, Password: user.Password}
	}
	if err := json.NewEncoder(os.Stdout).Encode(contract); err != nil {
		logger.Fatal("failed to encode JSON contract", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- http.Serve(listener, provider)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	}
}

func parseFlags() Config {
	var cfg Config
	var users UserFlag

	flag.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:0", "Listen address (default uses ephemeral port)")
	flag.StringVar(&cfg.Realm, "realm", idptest.DefaultRealm, "Realm name")
	flag.StringVar(&cfg.ClientID, "client-id", idptest.DefaultClientID, "Public client id")
	flag.DurationVar(&cfg.AccessLifetime, "access-lifetime", idptest.DefaultAccessLifetime, "Access token lifetime")
	flag.DurationVar(&cfg.RefreshLifetime, "refresh-lifetime", idptest.DefaultRefreshLifetime, "Refresh token lifetime")
	flag.Var(&users, "user", "User credentials in format 'username:password' (repeatable)")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "Suppress log output")

	flag.Parse()

	if len(users) == 0 {
		cfg.Users = []idptest.User{{Username: "test", Password: "test"}}
	} else {
		cfg.Users = users
	}
	return cfg
}
