package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/inventory/internal/config"
	"git.sr.ht/~jakintosh/inventory/internal/database"
	"git.sr.ht/~jakintosh/inventory/internal/resources"
	"git.sr.ht/~jakintosh/inventory/internal/routing"
	"git.sr.ht/~jakintosh/inventory/internal/sealed"
	"git.sr.ht/~jakintosh/inventory/internal/views"
	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"git.sr.ht/~jakintosh/inventory/pkg/gateway"
	"git.sr.ht/~jakintosh/inventory/pkg/guard"
	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the inventory front-end",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", "", "listen address")
	f.String("public-url", "", "public origin of this front-end")
	f.String("api-url", "", "product API base URL")
	f.Duration("api-timeout", 0, "product API request timeout")
	f.String("idp-url", "", "identity provider base URL")
	f.String("realm", "", "identity provider realm")
	f.String("client-id", "", "identity provider client id")
	f.String("db", "", "session database path")
	f.String("key-file", "", "session sealing key file")
	f.String("templates", "", "directory of template overrides")
	f.String("policy", "", "guard failure policy (fail-open or fail-closed)")
	f.Duration("ready-timeout", 0, "how long navigation waits for the identity provider")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"listen":     &cfg.Listen,
		"public-url": &cfg.PublicURL,
		"api-url":    &cfg.API.URL,
		"idp-url":    &cfg.IdP.ProviderURL,
		"realm":      &cfg.IdP.Realm,
		"client-id":  &cfg.IdP.ClientID,
		"db":         &cfg.Session.DBPath,
		"key-file":   &cfg.Session.KeyFile,
		"templates":  &cfg.TemplatesDir,
	}
	for name, dst := range strs {
		if f.Lookup(name) == nil || !f.Changed(name) {
			continue
		}
		v, err := f.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	durations := map[string]*time.Duration{
		"api-timeout":   &cfg.API.Timeout,
		"ready-timeout": &cfg.Guard.ReadyTimeout,
	}
	for name, dst := range durations {
		if f.Lookup(name) == nil || !f.Changed(name) {
			continue
		}
		v, err := f.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if f.Lookup("policy") != nil && f.Changed("policy") {
		raw, _ := f.GetString("policy")
		policy, err := guard.ParsePolicy(raw)
		if err != nil {
			return err
		}
		cfg.Guard.Policy = policy
	}
	return nil
}

func openSealer(cfg config.Config) (*sealed.Sealer, error) {
	if cfg.Session.Key != "" {
		return sealed.Parse(cfg.Session.Key)
	}
	return sealed.LoadOrCreate(cfg.Session.KeyFile)
}

func serve(ctx context.Context, cfg config.Config) error {
	sealer, err := openSealer(cfg)
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}
	db, err := database.NewSQLiteStore(cfg.Session.DBPath, sealer)
	if err != nil {
		return err
	}
	defer db.Close()

	credentials := credential.New(credential.Options{
		CallbackURL:     cfg.CallbackURL(),
		PostLogoutURL:   cfg.HomeURL(),
		FailureRedirect: guard.DefaultErrorPath,
		Store:           db,
		Logger:          logger,
		RefreshInterval: cfg.Session.RefreshInterval,
		MinValidity:     cfg.Session.MinValidity,
	})
	defer credentials.Close()
	credentials.Start(cfg.IdP)

	gw, err := gateway.New(credentials, gateway.Options{
		BaseURL: cfg.API.URL,
		Timeout: cfg.API.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	templates, err := resources.NewTemplates(cfg.TemplatesDir, logger)
	if err != nil {
		return err
	}

	g := guard.New(credentials, guard.Options{
		Policy:       cfg.Guard.Policy,
		ReadyTimeout: cfg.Guard.ReadyTimeout,
		Logger:       logger,
	})
	router, err := routing.BuildRouter(routing.Options{
		Auth:  credentials,
		Guard: g,
		Views: views.New(views.Options{
			Products:  products.New(gw),
			Session:   credentials,
			Templates: templates,
			Logger:    logger,
		}),
		Store:        db,
		Origin:       cfg.PublicURL,
		SecureCookie: strings.HasPrefix(cfg.PublicURL, "https://"),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("serving",
			zap.String("listen", listener.Addr().String()),
			zap.String("public_url", cfg.PublicURL),
			zap.String("api", cfg.API.URL),
			zap.String("idp", cfg.IdP.ProviderURL),
			zap.Stringer("policy", cfg.Guard.Policy))
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return templates.Watch(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
